package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router exposes /healthz, /metrics and /run. A /run request performs one report
// run synchronously and answers with its outcome.
func (a *Agent) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/run", a.handleRun).Methods(http.MethodGet, http.MethodPost)
	return r
}

func (a *Agent) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.health.Snapshot())
}

func (a *Agent) handleRun(w http.ResponseWriter, r *http.Request) {
	out, err := a.RunOnce(r.Context())
	if err != nil {
		a.logger.Warn("triggered run failed", "run_id", out.RunID, "error", err)
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool      `json:"success"`
		Time    time.Time `json:"time"`
	}{out.Success, out.Time})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (a *Agent) runProbeListener(ctx context.Context) error {
	addr := strings.TrimSpace(a.cfg.ProbeListenAddr)
	if addr == "" {
		return fmt.Errorf("empty probe listen address")
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	a.logger.Info("probe endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve probe endpoint %s: %w", addr, err)
	}
	return nil
}
