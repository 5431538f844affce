package stream

import (
	"crypto/tls"
	"fmt"
	"log/slog"

	"cloudsql-report-agent/internal/config"
)

func NewSinkFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) (Sink, error) {
	switch cfg.StreamMode {
	case config.StreamModeNone, "":
		return NopSink{}, nil
	case config.StreamModeGRPC:
		return NewGRPCClient(cfg.StreamGRPCAddr, tlsCfg, cfg.StreamToken, cfg.StreamGRPCMethod, logger), nil
	case config.StreamModeWebSocket:
		return NewWebSocketClient(cfg.StreamWSURL, cfg.StreamToken, tlsCfg, cfg.StreamWriteTimeout, cfg.StreamPingInterval, logger), nil
	default:
		return nil, fmt.Errorf("unsupported stream mode %q", cfg.StreamMode)
	}
}
