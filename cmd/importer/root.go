package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rpattn/shopwindow/internal/batch"
	"github.com/rpattn/shopwindow/internal/config"
	"github.com/rpattn/shopwindow/internal/db"
	"github.com/rpattn/shopwindow/internal/ingestion"
	"github.com/rpattn/shopwindow/internal/mapping"
	"github.com/rpattn/shopwindow/internal/metrics"
	"github.com/rpattn/shopwindow/internal/middleware"
	"github.com/rpattn/shopwindow/internal/property"
	"github.com/rpattn/shopwindow/internal/quality"
	"github.com/rpattn/shopwindow/internal/repository"
	"github.com/rpattn/shopwindow/internal/repository/memory"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type rootOptions struct {
	configPath string
	v          *viper.Viper
	cfg        config.Config
	logger     *slog.Logger
	out        io.Writer
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.New(), out: os.Stdout}

	cmd := &cobra.Command{
		Use:           "importer",
		Short:         "Import shopping center data and review its quality",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.v, opts.configPath)
			if err != nil {
				return withCode(exitUsage, err)
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return withCode(exitUsage, err)
			}
			opts.cfg, opts.logger = cfg, logger
			slog.SetDefault(logger)
			opts.out = cmd.OutOrStdout()
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Directory or file holding config.yaml (default: working directory)")
	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("metrics-addr", "", "Serve prometheus metrics on this address while the command runs")
	_ = opts.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = opts.v.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))

	cmd.AddCommand(
		newMigrateCmd(opts),
		newImportCmd(opts),
		newPreviewCmd(opts),
		newStatsCmd(opts),
		newFlagsCmd(opts),
		newMappingCmd(opts),
		newBatchCmd(opts),
	)
	return cmd
}

// newLogger builds the JSON logger written to stderr; stdout carries command output.
func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}

// app holds the services one command runs against.
type app struct {
	cfg          config.Config
	logger       *slog.Logger
	recorder     *metrics.Recorder
	store        repository.Store
	conn         *db.Connection
	batches      *batch.Service
	flags        *quality.Service
	entities     *property.Service
	mappings     *mapping.Service
	orchestrator *ingestion.Orchestrator
	metricsSrv   *http.Server
}

// openApp connects to Postgres, or builds an in-memory store when dryRun is set.
func (o *rootOptions) openApp(ctx context.Context, dryRun bool) (*app, error) {
	a := &app{cfg: o.cfg, logger: o.logger, recorder: metrics.NewRecorder()}

	if dryRun {
		a.store = memory.NewStore()
		a.logger.Info("dry run: using in-memory store")
	} else {
		conn, err := db.NewConnection(ctx, o.cfg.Database)
		if err != nil {
			return nil, err
		}
		a.conn = conn
		a.store = repository.NewStore(conn.Pool)
	}

	a.batches = batch.NewService(a.store, a.logger, a.recorder)
	a.flags = quality.NewService(a.store, a.logger, a.recorder, o.cfg.Importer.FlagWorkers)
	a.entities = property.NewService(a.store, a.geocoder(), a.logger)
	a.mappings = mapping.NewService(a.store, a.logger)
	a.orchestrator = ingestion.NewOrchestrator(a.batches, a.flags, a.entities, a.logger)

	if addr := o.cfg.Metrics.Addr; addr != "" {
		a.serveMetrics(addr)
	}
	return a, nil
}

func (a *app) geocoder() property.Geocoder {
	g := a.cfg.Geocoder
	if g.Endpoint == "" {
		return nil
	}
	timeout := time.Duration(g.TimeoutSecs) * time.Second
	return property.NewRateLimitedGeocoder(property.NewHTTPGeocoder(g.Endpoint, g.UserAgent, timeout), g.RatePerSecond, g.Burst)
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.recorder.Handler())
	a.metricsSrv = &http.Server{
		Addr:              addr,
		Handler:           middleware.Logging(a.logger)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("serving metrics", slog.String("addr", addr))
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
}

func (a *app) Close() {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to stop metrics server", slog.String("error", err.Error()))
		}
	}
	if a.conn != nil {
		a.conn.Close()
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
