// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/direktiv/direktiv-sub000/cmd/direktivctl/config"
	"github.com/direktiv/direktiv-sub000/pkg/cache"
	"github.com/direktiv/direktiv-sub000/pkg/cache/badgerstore"
	"github.com/direktiv/direktiv-sub000/pkg/direktiv"
	"github.com/direktiv/direktiv-sub000/pkg/logging"
	"github.com/direktiv/direktiv-sub000/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// app carries the state shared by all commands of one invocation.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	v          *viper.Viper
	configPath string
	assumeYes  bool

	cfg     config.Config
	token   *config.Token
	logger  *logging.Logger
	metrics *observability.Metrics
	client  *direktiv.Client
	out     *printer

	closers []func(context.Context) error
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		v:      config.New(),
		logger: logging.Discard(),
		out:    newPrinter(stdout, "table"),
	}
}

// setup loads the configuration and builds the client. It runs before
// every command.
func (a *app) setup(ctx context.Context) error {
	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return usageError(err)
	}
	a.cfg = cfg
	a.token = config.SealToken(cfg.Token)
	a.cfg.Token = ""
	a.out = newPrinter(a.stdout, cfg.Output)

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return usageError(err)
	}
	a.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.LogDir,
		Service: "direktivctl",
		Output:  a.stderr,
	})
	a.closers = append(a.closers, func(context.Context) error { return a.logger.Close() })
	logger := a.logger.Slog()

	registry := prometheus.NewRegistry()
	a.metrics = observability.NewMetrics(registry)
	if cfg.MetricsAddr != "" {
		if err := a.serveMetrics(cfg.MetricsAddr, registry); err != nil {
			return err
		}
	}

	shutdown, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "direktivctl",
		Insecure:    true,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)

	c, err := a.openCache(logger)
	if err != nil {
		return err
	}

	transport := otelhttp.NewTransport(http.DefaultTransport)
	a.client, err = direktiv.NewClient(direktiv.Options{
		BaseURL:      cfg.APIURL,
		Token:        a.token.Reveal,
		HTTPClient:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		StreamClient: &http.Client{Transport: transport},
		Cache:        c,
		Logger:       logger,
		Metrics:      a.metrics,
		UserAgent:    "direktivctl/" + version,
	})
	if err != nil {
		return usageError(err)
	}

	logger.Debug("configured", "api_url", cfg.APIURL, "namespace", cfg.Namespace, "token", a.token.Set())
	return nil
}

// openCache returns the query cache, persisted under cache_dir when set.
func (a *app) openCache(logger *slog.Logger) (*cache.Cache, error) {
	opts := []cache.Option{cache.WithLogger(logger), cache.WithMetrics(a.metrics)}
	if a.cfg.CacheDir == "" {
		return cache.New(opts...), nil
	}

	storeCfg := badgerstore.DefaultConfig(a.cfg.CacheDir)
	storeCfg.Logger = logger
	store, err := badgerstore.Open(storeCfg)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	return cache.New(append(opts, cache.WithStore(store))...), nil
}

// serveMetrics exposes the client metrics for the lifetime of the
// command.
func (a *app) serveMetrics(addr string, registry *prometheus.Registry) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen for metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	a.closers = append(a.closers, srv.Shutdown)
	return nil
}

// close releases everything setup opened, newest first.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			fmt.Fprintf(a.stderr, "warning: %v\n", err)
		}
	}
	a.closers = nil
}

// namespace returns the --namespace value or the configured default.
func (a *app) namespace() string {
	return a.cfg.Namespace
}

// interactive reports whether stdin is a terminal.
func (a *app) interactive() bool {
	f, ok := a.stdin.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (a *app) printError(err *CommandError) {
	fmt.Fprintln(a.stderr, a.out.styles.err.Render("Error:"), err.Error())
	if err.Hint != "" {
		fmt.Fprintln(a.stderr, a.out.styles.muted.Render("Hint: "+err.Hint))
	}
}

// =============================================================================
// Root command
// =============================================================================

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "direktivctl",
		Short:         "Manage a Direktiv server",
		Long:          `direktivctl talks to the Direktiv API: namespaces, files, workflows, services, secrets, events, instances and logs.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.direktiv/config.yaml)")
	flags.String("api-url", "", "Direktiv server URL")
	flags.String("token", "", "API token")
	flags.StringP("namespace", "n", "", "namespace")
	flags.StringP("output", "o", "", "output format: table or json")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("cache-dir", "", "persist the query cache in this directory")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address while running")
	flags.String("otlp-endpoint", "", "export traces to this OTLP gRPC collector")
	flags.Duration("timeout", 0, "request timeout")
	flags.BoolVarP(&a.assumeYes, "yes", "y", false, "do not ask for confirmation")

	for _, key := range config.Keys {
		if f := flags.Lookup(flagName(key)); f != nil {
			_ = a.v.BindPFlag(key, f)
		}
	}

	root.AddCommand(
		newNamespacesCmd(a),
		newFilesCmd(a),
		newServicesCmd(a),
		newSecretsCmd(a),
		newRegistriesCmd(a),
		newVariablesCmd(a),
		newEventsCmd(a),
		newInstancesCmd(a),
		newLogsCmd(a),
		newMirrorCmd(a),
	)
	return root
}

// flagName maps a config key to its flag, e.g. api_url to api-url.
func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}
