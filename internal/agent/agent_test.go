package agent

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"cloudsql-report-agent/internal/auth"
	"cloudsql-report-agent/internal/collector"
	"cloudsql-report-agent/internal/config"
	"cloudsql-report-agent/internal/model"
	"cloudsql-report-agent/internal/monitoring"
	"cloudsql-report-agent/internal/notify"
	"cloudsql-report-agent/internal/report"
)

type failingTokens struct{}

func (failingTokens) Token(context.Context) (string, error) {
	return "", errors.New("invalid_grant")
}

type staticDiscovery []string

func (d staticDiscovery) Discover(context.Context, string) []string { return d }

type cpuFetcher map[string][]float64

func (f cpuFetcher) Fetch(_ context.Context, _ string, def model.MetricDefinition, instanceID string, _ monitoring.Window) []float64 {
	if def.ID != collector.MetricCPU {
		return nil
	}
	return f[instanceID]
}

type emptyBuilder struct{}

func (emptyBuilder) Window() monitoring.Window { return monitoring.Window{} }
func (emptyBuilder) BuildWindow(context.Context, string, []string, monitoring.Window) []model.InstanceSummary {
	return nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []report.Email
	err  error
}

func (m *recordingMailer) Send(_ context.Context, e report.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, e)
	return m.err
}

type recordingPoster struct {
	posted []any
	err    error
}

func (p *recordingPoster) Post(_ context.Context, payload any) error {
	p.posted = append(p.posted, payload)
	return p.err
}

type recordingSink struct {
	results []model.RunResult
	err     error
	closed  bool
}

func (s *recordingSink) SendRunResult(_ context.Context, r model.RunResult) error {
	s.results = append(s.results, r)
	return s.err
}

func (s *recordingSink) Close(context.Context) error {
	s.closed = true
	return nil
}

var _ = Describe("Agent", func() {
	var (
		cfg      config.Config
		logger   *slog.Logger
		mailer   *recordingMailer
		poster   *recordingPoster
		sink     *recordingSink
		registry *prometheus.Registry
		deps     Deps
	)

	BeforeEach(func() {
		cfg = config.Config{
			ProjectID:       "proj",
			EmailSubject:    "CLOUD SQL Multi-Metric Monitoring Report",
			ReportWindow:    24 * time.Hour,
			ShutdownTimeout: time.Second,
		}
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		mailer = &recordingMailer{}
		poster = &recordingPoster{}
		sink = &recordingSink{}
		registry = prometheus.NewRegistry()
		deps = Deps{
			Tokens:    auth.StaticTokenSource("tok"),
			Discovery: staticDiscovery{"db1", "db2"},
			Builder: collector.NewBuilder(cpuFetcher{"db1": {0.723, 0.723, 0.723}},
				collector.DefaultRegistry(), cfg.ReportWindow, logger),
			Dispatcher: notify.NewDispatcher(mailer, poster, logger),
			Sink:       sink,
			Registry:   registry,
		}
	})

	newAgent := func() *Agent {
		a := NewWithDeps(cfg, logger, deps)
		a.newRunID = func() string { return "run-1" }
		return a
	}

	Describe("RunOnce", func() {
		It("reports the measured and defaulted instances and names the peak", func() {
			a := newAgent()

			out, err := a.RunOnce(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Success).To(BeTrue())
			Expect(out.RunID).To(Equal("run-1"))
			Expect(out.Instances).To(Equal(2))

			Expect(out.Result.Summaries).To(HaveLen(2))
			Expect(out.Result.PeakInstanceID).To(Equal("db1"))
			Expect(out.Result.PeakCPU).To(BeNumerically("~", 72.3, 1e-9))
			Expect(out.Result.Summaries[1].CPU()).To(Equal(25.0))

			Expect(mailer.sent).To(HaveLen(1))
			Expect(mailer.sent[0].Subject).To(Equal(cfg.EmailSubject))
			Expect(mailer.sent[0].Body).To(ContainSubstring("Highest P99 CPU overall: db1 = 72.3%"))
			Expect(poster.posted).To(HaveLen(1))
			Expect(out.Dispatch.EmailOK).To(BeTrue())
			Expect(out.Dispatch.ChatOK).To(BeTrue())

			Expect(sink.results).To(HaveLen(1))
			Expect(sink.results[0].RunID).To(Equal("run-1"))

			Expect(testutil.ToFloat64(a.metrics.runs.WithLabelValues("success"))).To(Equal(1.0))
			Expect(testutil.ToFloat64(a.metrics.peakCPU)).To(BeNumerically("~", 72.3, 1e-9))
			Expect(testutil.ToFloat64(a.metrics.samples.WithLabelValues(collector.MetricCPU))).To(Equal(3.0))
			Expect(testutil.ToFloat64(a.metrics.dispatched.WithLabelValues(notify.ChannelEmail, notify.OutcomeOK))).To(Equal(1.0))
			Expect(a.health.Snapshot()).To(HaveKeyWithValue("last_run_success", true))
		})

		It("fails with ErrAuth before any monitoring call when the token cannot be obtained", func() {
			deps.Tokens = failingTokens{}
			a := newAgent()

			out, err := a.RunOnce(context.Background())
			Expect(err).To(MatchError(ErrAuth))
			Expect(err.Error()).To(ContainSubstring("invalid_grant"))
			Expect(out.Success).To(BeFalse())
			Expect(mailer.sent).To(BeEmpty())
			Expect(poster.posted).To(BeEmpty())
			Expect(testutil.ToFloat64(a.metrics.runs.WithLabelValues("failure"))).To(Equal(1.0))
		})

		It("fails with ErrNoInstances and sends nothing when discovery is empty", func() {
			deps.Discovery = staticDiscovery{}
			a := newAgent()

			out, err := a.RunOnce(context.Background())
			Expect(err).To(MatchError(ErrNoInstances))
			Expect(out.Success).To(BeFalse())
			Expect(mailer.sent).To(BeEmpty())
			Expect(sink.results).To(BeEmpty())
		})

		It("fails with ErrNoSummaries when no summary is produced", func() {
			deps.Builder = emptyBuilder{}
			a := newAgent()

			_, err := a.RunOnce(context.Background())
			Expect(err).To(MatchError(ErrNoSummaries))
			Expect(mailer.sent).To(BeEmpty())
		})

		It("stays successful when every delivery channel fails", func() {
			mailer.err = errors.New("535 auth failed")
			poster.err = errors.New("webhook returned 500")
			sink.err = errors.New("stream down")
			a := newAgent()

			out, err := a.RunOnce(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Success).To(BeTrue())
			Expect(out.Dispatch.EmailOK).To(BeFalse())
			Expect(out.Dispatch.ChatOK).To(BeFalse())
			Expect(poster.posted).To(HaveLen(1))
			Expect(a.health.Snapshot()).To(HaveKeyWithValue("stream_connected", false))
		})

		It("skips chat silently when no webhook is configured", func() {
			deps.Dispatcher = notify.NewDispatcher(mailer, nil, logger)
			a := newAgent()

			out, err := a.RunOnce(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Dispatch.ChatSkipped).To(BeTrue())
			Expect(out.Dispatch.EmailOK).To(BeTrue())
		})
	})

	Describe("Router", func() {
		var srv *httptest.Server

		AfterEach(func() {
			if srv != nil {
				srv.Close()
			}
		})

		It("runs a report on /run and answers with success and time", func() {
			srv = httptest.NewServer(newAgent().Router())

			resp, err := http.Post(srv.URL+"/run", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("success", true))
			Expect(body).To(HaveKey("time"))
			Expect(mailer.sent).To(HaveLen(1))
		})

		It("reports failure on /run without sending", func() {
			deps.Discovery = staticDiscovery{}
			srv = httptest.NewServer(newAgent().Router())

			resp, err := http.Get(srv.URL + "/run")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			var body map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("success", false))
			Expect(mailer.sent).To(BeEmpty())
		})

		It("serves health and prometheus metrics", func() {
			a := newAgent()
			_, _ = a.RunOnce(context.Background())
			srv = httptest.NewServer(a.Router())

			resp, err := http.Get(srv.URL + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			var health map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&health)).To(Succeed())
			resp.Body.Close()
			Expect(health).To(HaveKeyWithValue("last_run_success", true))
			Expect(health).To(HaveKeyWithValue("last_instance_count", 2.0))

			resp, err = http.Get(srv.URL + "/metrics")
			Expect(err).NotTo(HaveOccurred())
			raw, err := io.ReadAll(resp.Body)
			resp.Body.Close()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(ContainSubstring(`cloudsql_report_runs_total{result="success"} 1`))
		})
	})

	It("closes the stream on shutdown", func() {
		a := newAgent()
		a.Shutdown(context.Background())
		Expect(sink.closed).To(BeTrue())
	})
})
