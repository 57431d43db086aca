package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tensord/internal/common/fsutil"
	"tensord/internal/config"
	"tensord/internal/httpapi"
	"tensord/internal/manager"
	"tensord/internal/repository"
	"tensord/internal/stats"
)

const shutdownTimeout = 5 * time.Second

type serveOptions struct {
	configPath string
	cors       string
	cfg        config.Config
}

func newServeCmd(g *globalOptions) *cobra.Command {
	o := &serveOptions{cfg: config.Config{
		Addr:       envStr("TENSORD_ADDR", ":8000"),
		Repository: envStr("TENSORD_REPOSITORY", "~/models"),
		StatsDB:    os.Getenv("TENSORD_STATS_DB"),
	}}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the model repository over HTTP",
		Example: "  tensord serve --repository ./models --load proj\n" +
			"  tensord serve --config tensord.yaml --engine onnx --onnx-lib /usr/lib/libonnxruntime.so",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.resolve(g, cmd.Flags().Changed)
			if err != nil {
				return err
			}
			log, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.configPath, "config", os.Getenv("TENSORD_CONFIG"), "Config file (.yaml, .yml, .json, .toml); flags override its values")
	f.StringVar(&o.cfg.Addr, "addr", o.cfg.Addr, "HTTP listen address, e.g. :8000")
	f.StringVar(&o.cfg.Repository, "repository", o.cfg.Repository, "Model repository root")
	f.StringVar(&o.cfg.StatsDB, "stats-db", o.cfg.StatsDB, "sqlite file for execution history (empty disables)")
	f.StringSliceVar(&o.cfg.Load, "load", nil, "Models to load at startup (repeatable or comma-separated)")
	f.IntVar(&o.cfg.MaxQueueDepth, "max-queue-depth", 0, "Requests queued per model before 429 (0 = default)")
	f.IntVar(&o.cfg.MaxWaitMS, "max-wait-ms", 0, "How long a request may wait for a queue slot (0 = default)")
	f.IntVar(&o.cfg.MaxLoaded, "max-loaded", 0, "Maximum loaded models; least recently used idle models are unloaded (0 = no cap)")
	f.IntVar(&o.cfg.DrainTimeoutMS, "drain-timeout-ms", 0, "How long unload waits for queued work (0 = default)")
	f.Int64Var(&o.cfg.MaxBodyBytes, "max-body-bytes", 0, "Maximum infer request body in bytes (0 = 64 MiB)")
	f.Int64Var(&o.cfg.InferTimeoutSec, "infer-timeout", 0, "Per-request inference timeout in seconds (0 = none)")
	f.StringVar(&o.cors, "cors-origins", os.Getenv("TENSORD_CORS_ORIGINS"), "Comma-separated allowed CORS origins; enables CORS when set")
	return cmd
}

// resolve merges the config file under the flags: a flag set on the command
// line wins, otherwise a non-zero file value replaces the flag default.
func (o *serveOptions) resolve(g *globalOptions, changed func(string) bool) (config.Config, error) {
	cfg := o.cfg
	cfg.Engine, cfg.ONNXLibrary = g.engine, g.onnxLib
	cfg.LogLevel, cfg.LogFormat = g.logLevel, g.logFormat
	if origins := splitCSV(o.cors); len(origins) > 0 {
		cfg.CORSEnabled, cfg.CORSAllowOrigins = true, origins
	}
	if o.configPath == "" {
		return cfg, nil
	}
	file, err := config.Load(o.configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	pickStr := func(flag string, dst *string, v string) {
		if !changed(flag) && v != "" {
			*dst = v
		}
	}
	pickInt := func(flag string, dst *int, v int) {
		if !changed(flag) && v != 0 {
			*dst = v
		}
	}
	pickInt64 := func(flag string, dst *int64, v int64) {
		if !changed(flag) && v != 0 {
			*dst = v
		}
	}
	pickStr("addr", &cfg.Addr, file.Addr)
	pickStr("repository", &cfg.Repository, file.Repository)
	pickStr("engine", &cfg.Engine, file.Engine)
	pickStr("onnx-lib", &cfg.ONNXLibrary, file.ONNXLibrary)
	pickStr("stats-db", &cfg.StatsDB, file.StatsDB)
	pickStr("log-level", &cfg.LogLevel, file.LogLevel)
	pickStr("log-format", &cfg.LogFormat, file.LogFormat)
	pickInt("max-queue-depth", &cfg.MaxQueueDepth, file.MaxQueueDepth)
	pickInt("max-wait-ms", &cfg.MaxWaitMS, file.MaxWaitMS)
	pickInt("max-loaded", &cfg.MaxLoaded, file.MaxLoaded)
	pickInt("drain-timeout-ms", &cfg.DrainTimeoutMS, file.DrainTimeoutMS)
	pickInt64("max-body-bytes", &cfg.MaxBodyBytes, file.MaxBodyBytes)
	pickInt64("infer-timeout", &cfg.InferTimeoutSec, file.InferTimeoutSec)
	if !changed("load") && len(file.Load) > 0 {
		cfg.Load = file.Load
	}
	if !changed("cors-origins") && file.CORSEnabled {
		cfg.CORSEnabled, cfg.CORSAllowOrigins = true, file.CORSAllowOrigins
	}
	return cfg, nil
}

// newManager wires the repository, engine, statistics store and event
// publishers into a Manager. The returned Bus feeds /v2/events.
func newManager(cfg config.Config, log zerolog.Logger) (*manager.Manager, *manager.Bus, *stats.Store, error) {
	newCore, engineName, err := coreFactory(cfg.Engine, cfg.ONNXLibrary)
	if err != nil {
		return nil, nil, nil, err
	}
	root, err := fsutil.ExpandHome(cfg.Repository)
	if err != nil {
		return nil, nil, nil, err
	}
	if !fsutil.PathExists(root) {
		return nil, nil, nil, fmt.Errorf("model repository %s does not exist", root)
	}
	models, err := repository.Scan(root)
	if err != nil {
		// Broken models stay out of the index; the rest are served.
		log.Warn().Err(err).Msg("repository scan reported errors")
	}

	var store *stats.Store
	if cfg.StatsDB != "" {
		p, err := fsutil.ExpandHome(cfg.StatsDB)
		if err != nil {
			return nil, nil, nil, err
		}
		if store, err = stats.OpenStore(p, log); err != nil {
			return nil, nil, nil, fmt.Errorf("open stats db: %w", err)
		}
	}

	bus := manager.NewBus()
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Models:        models,
		Repository:    root,
		Engine:        engineName,
		NewCore:       newCore,
		Store:         store,
		MaxQueueDepth: cfg.MaxQueueDepth,
		MaxWait:       time.Duration(cfg.MaxWaitMS) * time.Millisecond,
		DrainTimeout:  time.Duration(cfg.DrainTimeoutMS) * time.Millisecond,
		MaxLoaded:     cfg.MaxLoaded,
		Publisher:     manager.MultiPublisher{bus, manager.LogPublisher{Logger: log, Level: zerolog.InfoLevel}},
		Logger:        log,
	})
	return mgr, bus, store, nil
}

func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	mgr, bus, store, err := newManager(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if store != nil {
			_ = store.Close()
		}
	}()

	report := mgr.SanityCheck()
	log.Info().
		Str("engine", report.Engine).
		Bool("engine_available", report.EngineAvailable).
		Str("repository", report.Repository).
		Int("models", report.Models).
		Interface("device", report.Device).
		Msg("sanity check")
	if !report.EngineAvailable {
		return fmt.Errorf("engine %s unavailable: %s", report.Engine, report.Error)
	}

	for _, name := range cfg.Load {
		if err := mgr.Load(ctx, name); err != nil {
			log.Error().Err(err).Str("model", name).Msg("startup load failed")
		}
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	httpapi.SetLogger(log)
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetMaxBodyBytes(cfg.MaxBodyBytes)
	httpapi.SetInferTimeoutSeconds(cfg.InferTimeoutSec)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSAllowOrigins,
		[]string{http.MethodGet, http.MethodPost, http.MethodOptions},
		[]string{"Content-Type", "X-Request-Id", "X-Log-Level"})
	httpapi.SetEventSource(bus)
	if log.GetLevel() <= zerolog.InfoLevel {
		httpapi.SetDefaultLogLevel("info")
	} else {
		httpapi.SetDefaultLogLevel("error")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(mgr),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("repository", report.Repository).Str("engine", report.Engine).Msg("tensord listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			_ = mgr.Close()
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	// Graceful shutdown (Ctrl+C / SIGTERM)
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	cancelBase()
	if err := mgr.Close(); err != nil {
		log.Warn().Err(err).Msg("unload on shutdown")
	}
	st := mgr.Status()
	log.Info().
		Int64("uptime_seconds", st.UptimeSeconds).
		Uint64("executions", st.ExecutionsTotal).
		Msg("stopped")
	return nil
}
