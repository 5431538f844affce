package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type StreamMode string

const (
	StreamModeNone      StreamMode = "none"
	StreamModeGRPC      StreamMode = "grpc"
	StreamModeWebSocket StreamMode = "websocket"
	HardcodedVersion    string     = "v7.1"
)

const (
	DefaultMonitoringAPIURL = "https://monitoring.googleapis.com/v3"
	DefaultTokenURL         = "https://oauth2.googleapis.com/token"
	MonitoringReadScope     = "https://www.googleapis.com/auth/monitoring.read"
)

// ErrMissing wraps every validation failure caused by an unset required setting.
var ErrMissing = errors.New("missing required configuration")

type Config struct {
	ProjectID string

	EmailTo       string
	EmailFrom     string
	EmailPassword string
	SMTPServer    string
	SMTPPort      int
	EmailSubject  string

	TeamsWebhookURL string

	ServiceAccountEmail string
	PrivateKey          string
	PrivateKeyID        string
	ClientID            string
	TokenURL            string

	MonitoringAPIURL string
	ReportWindow     time.Duration
	DiscoveryWindow  time.Duration
	HTTPTimeout      time.Duration

	ReportInterval  time.Duration
	RunErrorBackoff time.Duration
	ProbeListenAddr string
	ShutdownTimeout time.Duration

	StreamMode          StreamMode
	StreamGRPCAddr      string
	StreamGRPCMethod    string
	StreamWSURL         string
	StreamToken         string
	StreamWriteTimeout  time.Duration
	StreamPingInterval  time.Duration
	StreamTLSEnabled    bool
	StreamTLSSkipVerify bool
	StreamTLSCAPath     string

	LogJSON      bool
	LogLevel     string
	AgentVersion string
}

// requiredKeys are checked before any network call is made.
var requiredKeys = []string{
	"PROJECT_ID",
	"EMAIL_TO",
	"EMAIL_FROM",
	"EMAIL_PASSWORD",
	"GOOGLE_SERVICE_ACCOUNT_EMAIL",
	"GOOGLE_PRIVATE_KEY",
	"GOOGLE_PRIVATE_KEY_ID",
	"GOOGLE_CLIENT_ID",
}

// Load resolves configuration with priority: defaults < config file < .env < environment.
// configFile may be empty, in which case REPORT_CONFIG_FILE is consulted.
func Load(configFile string) (Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		// godotenv never overrides variables already present in the environment.
		if err := godotenv.Load(".env"); err != nil {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}

	if configFile == "" {
		configFile = strings.TrimSpace(os.Getenv("REPORT_CONFIG_FILE"))
	}
	file := map[string]string{}
	if configFile != "" {
		var err error
		file, err = readFile(configFile)
		if err != nil {
			return Config{}, err
		}
	}

	src := source{lookup: os.LookupEnv, file: file}
	cfg := src.build()
	if err := cfg.Validate(src.missing()); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type source struct {
	lookup func(string) (string, bool)
	file   map[string]string
}

func (s source) build() Config {
	return Config{
		ProjectID:           s.env("PROJECT_ID", ""),
		EmailTo:             s.env("EMAIL_TO", ""),
		EmailFrom:           s.env("EMAIL_FROM", ""),
		EmailPassword:       s.env("EMAIL_PASSWORD", ""),
		SMTPServer:          s.env("SMTP_SERVER", "smtp.gmail.com"),
		SMTPPort:            s.envInt("SMTP_PORT", 587),
		EmailSubject:        s.env("EMAIL_SUBJECT", "CLOUD SQL Multi-Metric Monitoring Report"),
		TeamsWebhookURL:     s.env("TEAMS_WEBHOOK_URL", ""),
		ServiceAccountEmail: s.env("GOOGLE_SERVICE_ACCOUNT_EMAIL", ""),
		PrivateKey:          NormalizePrivateKey(s.env("GOOGLE_PRIVATE_KEY", "")),
		PrivateKeyID:        s.env("GOOGLE_PRIVATE_KEY_ID", ""),
		ClientID:            s.env("GOOGLE_CLIENT_ID", ""),
		TokenURL:            s.env("GOOGLE_TOKEN_URL", DefaultTokenURL),
		MonitoringAPIURL:    strings.TrimRight(s.env("MONITORING_API_URL", DefaultMonitoringAPIURL), "/"),
		ReportWindow:        s.envDuration("REPORT_WINDOW", 24*time.Hour),
		DiscoveryWindow:     s.envDuration("DISCOVERY_WINDOW", time.Hour),
		HTTPTimeout:         s.envDuration("HTTP_TIMEOUT", 30*time.Second),
		ReportInterval:      s.envDuration("REPORT_INTERVAL", 24*time.Hour),
		RunErrorBackoff:     s.envDuration("RUN_ERROR_BACKOFF", time.Minute),
		ProbeListenAddr:     s.env("PROBE_LISTEN_ADDR", "0.0.0.0:8080"),
		ShutdownTimeout:     s.envDuration("SHUTDOWN_TIMEOUT", 20*time.Second),
		StreamMode:          StreamMode(strings.ToLower(s.env("REPORT_STREAM_MODE", string(StreamModeNone)))),
		StreamGRPCAddr:      s.env("REPORT_STREAM_GRPC_ADDR", "127.0.0.1:3001"),
		StreamGRPCMethod:    s.env("REPORT_STREAM_GRPC_METHOD", "/cloudsql.report.v1.ReportService/StreamRunResults"),
		StreamWSURL:         s.env("REPORT_STREAM_WS_URL", "ws://127.0.0.1:3001/ws/reports"),
		StreamToken:         s.env("REPORT_STREAM_TOKEN", ""),
		StreamWriteTimeout:  s.envDuration("REPORT_STREAM_WRITE_TIMEOUT", 5*time.Second),
		StreamPingInterval:  s.envDuration("REPORT_STREAM_PING_INTERVAL", 10*time.Second),
		StreamTLSEnabled:    s.envBool("REPORT_STREAM_TLS_ENABLED", false),
		StreamTLSSkipVerify: s.envBool("REPORT_STREAM_TLS_SKIP_VERIFY", false),
		StreamTLSCAPath:     s.env("REPORT_STREAM_TLS_CA_PATH", ""),
		LogJSON:             s.envBool("LOG_JSON", false),
		LogLevel:            strings.ToLower(s.env("LOG_LEVEL", "info")),
		AgentVersion:        HardcodedVersion,
	}
}

func (s source) missing() []string {
	var out []string
	for _, key := range requiredKeys {
		if s.env(key, "") == "" {
			out = append(out, key)
		}
	}
	return out
}

// Validate reports missing required keys first, all in one error, then range checks.
func (c Config) Validate(missing []string) error {
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("SMTP_PORT out of range: %d", c.SMTPPort)
	}
	if c.ReportWindow <= 0 || c.DiscoveryWindow <= 0 {
		return errors.New("REPORT_WINDOW and DISCOVERY_WINDOW must be > 0")
	}
	if c.DiscoveryWindow > time.Hour {
		return errors.New("DISCOVERY_WINDOW must not exceed 1h")
	}
	if c.HTTPTimeout <= 0 {
		return errors.New("HTTP_TIMEOUT must be > 0")
	}
	if c.ReportInterval <= 0 {
		return errors.New("REPORT_INTERVAL must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be > 0")
	}
	switch c.StreamMode {
	case StreamModeNone:
	case StreamModeGRPC:
		if strings.TrimSpace(c.StreamGRPCAddr) == "" || strings.TrimSpace(c.StreamGRPCMethod) == "" {
			return errors.New("REPORT_STREAM_GRPC_ADDR and REPORT_STREAM_GRPC_METHOD are required for grpc mode")
		}
	case StreamModeWebSocket:
		if strings.TrimSpace(c.StreamWSURL) == "" {
			return errors.New("REPORT_STREAM_WS_URL is required for websocket mode")
		}
	default:
		return fmt.Errorf("unsupported stream mode %q", c.StreamMode)
	}
	return nil
}

// ChatEnabled reports whether the Teams webhook channel is configured.
func (c Config) ChatEnabled() bool {
	return strings.TrimSpace(c.TeamsWebhookURL) != ""
}

func (c Config) StreamTLSConfig() (*tls.Config, error) {
	if !c.StreamTLSEnabled {
		return nil, nil
	}
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.StreamTLSSkipVerify}
	if c.StreamTLSCAPath != "" {
		caBytes, err := os.ReadFile(c.StreamTLSCAPath)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("append CA cert failed")
		}
		tlsCfg.RootCAs = pool
	}
	return tlsCfg, nil
}

// NormalizePrivateKey turns literal "\n" escapes (as stored in env files) into newlines.
func NormalizePrivateKey(key string) string {
	return strings.ReplaceAll(key, `\n`, "\n")
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func (s source) env(key, fallback string) string {
	if v, ok := s.lookup(key); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	if v := strings.TrimSpace(s.file[key]); v != "" {
		return v
	}
	return fallback
}

func (s source) envInt(key string, fallback int) int {
	v := s.env(key, "")
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func (s source) envBool(key string, fallback bool) bool {
	v := strings.ToLower(s.env(key, ""))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func (s source) envDuration(key string, fallback time.Duration) time.Duration {
	v := s.env(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
