package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"

	flags "github.com/jessevdk/go-flags"

	"cloudsql-report-agent/internal/agent"
	"cloudsql-report-agent/internal/config"
)

var opts struct {
	Once     bool   `long:"once" description:"Run a single report and exit (default)"`
	Serve    bool   `long:"serve" description:"Report on REPORT_INTERVAL and serve /healthz, /metrics and /run"`
	Config   string `short:"c" long:"config" description:"YAML config file, overrides REPORT_CONFIG_FILE"`
	LogLevel string `long:"log-level" description:"Override LOG_LEVEL" choice:"debug" choice:"info" choice:"warn" choice:"error"`
	LogJSON  bool   `long:"log-json" description:"Emit JSON logs"`
}

func main() {
	if _, err := flags.Parse(&opts); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if opts.Once && opts.Serve {
		log.Fatal("--once and --serve are mutually exclusive")
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.LogJSON {
		cfg.LogJSON = true
	}

	logger := agent.BuildLogger(cfg)
	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("agent initialization failed", "error", err)
		os.Exit(1)
	}

	if opts.Serve {
		if err := a.Run(context.Background()); err != nil {
			logger.Error("agent runtime failed", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx := context.Background()
	out, runErr := a.RunOnce(ctx)
	a.Shutdown(ctx)

	_ = json.NewEncoder(os.Stdout).Encode(struct {
		Success bool   `json:"success"`
		Time    string `json:"time"`
	}{out.Success, out.Time.Format("2006-01-02T15:04:05.000Z07:00")})
	if runErr != nil {
		os.Exit(1)
	}
}
