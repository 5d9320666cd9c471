package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"modelgate/internal/admission"
	"modelgate/internal/config"
	"modelgate/internal/engine/remote"
	"modelgate/internal/gateway"
	"modelgate/internal/metrics"
	"modelgate/internal/server"
)

const serveUsage = `Usage:
  modelgate serve [--config <path>] [--port <port>] [--concurrency <n>]

Flags:
  --config      string   Path to YAML configuration file (optional)
  --port        int      Override server port (default from config, env API_PORT)
  --concurrency int      Override the admission limit (default from config, env MAX_CONCURRENT)`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	var overrideConcurrency int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")
	fs.IntVar(&overrideConcurrency, "concurrency", 0, "override admission limit")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}
	if overrideConcurrency != 0 {
		if overrideConcurrency < 1 {
			return fmt.Errorf("concurrency override %d must be at least 1", overrideConcurrency)
		}
		cfg.Server.Concurrency = overrideConcurrency
	}

	eng, err := remote.New(cfg.Engine, &http.Client{Timeout: cfg.Engine.Timeout})
	if err != nil {
		return err
	}

	controller, err := admission.New(cfg.Server.Concurrency)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	gw, err := gateway.New(gateway.Config{
		Engine:    eng,
		Admission: controller,
		Metrics:   m,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, gw, m, registry)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}
