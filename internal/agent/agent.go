package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"cloudsql-report-agent/internal/auth"
	"cloudsql-report-agent/internal/collector"
	"cloudsql-report-agent/internal/config"
	"cloudsql-report-agent/internal/model"
	"cloudsql-report-agent/internal/monitoring"
	"cloudsql-report-agent/internal/notify"
	"cloudsql-report-agent/internal/report"
	"cloudsql-report-agent/internal/stream"
)

var (
	ErrAuth        = errors.New("authentication failed")
	ErrNoInstances = errors.New("no instances discovered")
	ErrNoSummaries = errors.New("no instance summaries produced")
)

type Discoverer interface {
	Discover(ctx context.Context, token string) []string
}

type SummaryBuilder interface {
	Window() monitoring.Window
	BuildWindow(ctx context.Context, token string, instances []string, w monitoring.Window) []model.InstanceSummary
}

type ReportDispatcher interface {
	Dispatch(ctx context.Context, r notify.Report) notify.Result
}

// Deps are the collaborators of one Agent. New wires the production set.
type Deps struct {
	Tokens     auth.TokenSource
	Discovery  Discoverer
	Builder    SummaryBuilder
	Dispatcher ReportDispatcher
	Sink       stream.Sink
	Registry   *prometheus.Registry
}

type Agent struct {
	cfg        config.Config
	logger     *slog.Logger
	tokens     auth.TokenSource
	discovery  Discoverer
	builder    SummaryBuilder
	dispatcher ReportDispatcher
	sink       stream.Sink
	health     *HealthStatus
	metrics    *Metrics
	registry   *prometheus.Registry

	runMu    sync.Mutex
	now      func() time.Time
	newRunID func() string
}

// RunOutcome is the externally visible status of one run.
type RunOutcome struct {
	Success   bool            `json:"success"`
	Time      time.Time       `json:"time"`
	RunID     string          `json:"run_id"`
	Instances int             `json:"instances"`
	Error     string          `json:"error,omitempty"`
	Result    model.RunResult `json:"-"`
	Dispatch  notify.Result   `json:"-"`
}

func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	tokens, err := auth.NewServiceAccountTokenSource(auth.ServiceAccount{
		ProjectID:    cfg.ProjectID,
		Email:        cfg.ServiceAccountEmail,
		PrivateKey:   cfg.PrivateKey,
		PrivateKeyID: cfg.PrivateKeyID,
		ClientID:     cfg.ClientID,
		TokenURL:     cfg.TokenURL,
	}, httpClient, config.MonitoringReadScope)
	if err != nil {
		return nil, fmt.Errorf("token source: %w", err)
	}

	tlsCfg, err := cfg.StreamTLSConfig()
	if err != nil {
		return nil, fmt.Errorf("stream tls config: %w", err)
	}
	sink, err := stream.NewSinkFromConfig(cfg, tlsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("stream sink: %w", err)
	}

	client := monitoring.NewClient(cfg.MonitoringAPIURL, cfg.ProjectID, httpClient, logger)
	mailer := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTPServer,
		Port:     cfg.SMTPPort,
		From:     cfg.EmailFrom,
		To:       cfg.EmailTo,
		Password: cfg.EmailPassword,
	})
	var chat notify.Poster
	if cfg.ChatEnabled() {
		chat = notify.NewWebhookPoster(cfg.TeamsWebhookURL, httpClient)
	}

	return NewWithDeps(cfg, logger, Deps{
		Tokens:     tokens,
		Discovery:  monitoring.NewDiscovery(client, cfg.DiscoveryWindow, logger),
		Builder:    collector.NewBuilder(monitoring.NewFetcher(client, logger), collector.DefaultRegistry(), cfg.ReportWindow, logger),
		Dispatcher: notify.NewDispatcher(mailer, chat, logger),
		Sink:       sink,
	}), nil
}

// NewWithDeps attaches metrics observers to the builder and dispatcher when they support it.
func NewWithDeps(cfg config.Config, logger *slog.Logger, deps Deps) *Agent {
	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := NewMetrics(reg)
	if b, ok := deps.Builder.(*collector.Builder); ok {
		b.WithObserver(metrics)
	}
	if d, ok := deps.Dispatcher.(*notify.Dispatcher); ok {
		d.WithObserver(metrics)
	}
	sink := deps.Sink
	if sink == nil {
		sink = stream.NopSink{}
	}
	health := NewHealthStatus()
	return &Agent{
		cfg:        cfg,
		logger:     logger,
		tokens:     deps.Tokens,
		discovery:  deps.Discovery,
		builder:    deps.Builder,
		dispatcher: deps.Dispatcher,
		sink:       &healthSink{sink: sink, health: health},
		health:     health,
		metrics:    metrics,
		registry:   reg,
		now:        time.Now,
		newRunID:   uuid.NewString,
	}
}

// RunOnce executes discovery, summary building, rendering and dispatch. Only token,
// discovery and summary failures make the run unsuccessful; dispatch outcomes never do.
func (a *Agent) RunOnce(ctx context.Context) (out RunOutcome, err error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	started := a.now()
	out = RunOutcome{RunID: a.newRunID(), Time: started.UTC()}
	logger := a.logger.With("run_id", out.RunID)
	defer func() {
		out.Success = err == nil
		if err != nil {
			out.Error = err.Error()
		}
		a.record(out, a.now().Sub(started))
	}()

	token, err := a.tokens.Token(ctx)
	if err != nil {
		logger.Error("token acquisition failed", "error", err)
		return out, fmt.Errorf("%w: %w", ErrAuth, err)
	}

	instances := a.discovery.Discover(ctx, token)
	if len(instances) == 0 {
		logger.Warn("no instances reported in discovery window")
		return out, ErrNoInstances
	}
	out.Instances = len(instances)

	w := a.builder.Window()
	summaries := a.builder.BuildWindow(ctx, token, instances, w)
	if len(summaries) == 0 {
		logger.Warn("no metric data found for any instance")
		return out, ErrNoSummaries
	}

	peakID, peak := collector.SelectPeak(summaries)
	result := model.RunResult{
		RunID:          out.RunID,
		ProjectID:      a.cfg.ProjectID,
		GeneratedAt:    started.UTC(),
		WindowStart:    w.Start,
		WindowEnd:      w.End,
		Summaries:      summaries,
		PeakInstanceID: peakID,
		PeakCPU:        peak,
	}
	out.Result = result
	logger.Info("report assembled", "instances", len(summaries), "peak_instance", peakID, "peak_cpu", peak)

	out.Dispatch = a.dispatcher.Dispatch(ctx, notify.Report{
		Email: report.RenderEmail(result, a.cfg.EmailSubject),
		Card:  report.RenderCard(result),
	})

	if err := a.sink.SendRunResult(ctx, result); err != nil {
		logger.Warn("report stream publish failed", "error", err)
	}
	return out, nil
}

func (a *Agent) record(out RunOutcome, took time.Duration) {
	a.health.MarkRun(out.Time, out.Success, out.Instances)
	a.metrics.ObserveRun(out, took)
	if out.Success {
		a.logger.Info("report run finished", "run_id", out.RunID, "took", took, "email_ok", out.Dispatch.EmailOK, "chat_ok", out.Dispatch.ChatOK, "chat_skipped", out.Dispatch.ChatSkipped)
	} else {
		a.logger.Error("report run failed", "run_id", out.RunID, "took", took, "error", out.Error)
	}
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}

// healthSink records whether the last stream publish succeeded.
type healthSink struct {
	sink   stream.Sink
	health *HealthStatus
}

func (s *healthSink) SendRunResult(ctx context.Context, r model.RunResult) error {
	err := s.sink.SendRunResult(ctx, r)
	s.health.SetStreamConnected(err == nil)
	return err
}

func (s *healthSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
