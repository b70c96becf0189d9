package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"datalogger/internal/config"
	"datalogger/internal/httpserver"
	"datalogger/internal/logging"
	"datalogger/internal/metrics"
	"datalogger/internal/settings"
	"datalogger/internal/storage"
	"datalogger/internal/telemetry"
)

const shutdownTimeout = 5 * time.Second

type serveFlags struct {
	config    string
	addr      string
	root      string
	state     string
	logLevel  string
	logFormat string
}

func serveCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sampler and the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&f.config, "config", "", "path to config json (optional)")
	cmd.Flags().StringVar(&f.addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&f.root, "root", "", "storage root (required if the config does not set one)")
	cmd.Flags().StringVar(&f.state, "state", "", "state dir for settings and thumbnails (default: <root>/.datalogger)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error")
	cmd.Flags().StringVar(&f.logFormat, "log-format", "", "text or json")
	return cmd
}

// loadConfig layers defaults, the config file and then any flag the user
// actually set.
func loadConfig(cmd *cobra.Command, f serveFlags) (config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return cfg, err
	}
	set := cmd.Flags().Changed
	if set("addr") {
		cfg.Addr = f.addr
	}
	if set("root") {
		cfg.Root = f.root
	}
	if set("state") {
		cfg.StateDir = f.state
	}
	if set("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if set("log-format") {
		cfg.Log.Format = f.logFormat
	}
	if err := cfg.Finalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	log := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)

	dir, err := storage.New(cfg.Root)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := dir.Reserve(cfg.StateDir); err != nil {
		return err
	}
	store, err := settings.Open(ctx, cfg.StateDir, log)
	if err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	state := telemetry.NewState()
	state.SetLogging(store.LogOnBoot())
	m := metrics.New()

	srv, err := httpserver.New(httpserver.Options{
		Config:   cfg,
		Dir:      dir,
		State:    state,
		Settings: store,
		Metrics:  m,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if cfg.Telemetry.Synthetic {
		rec := telemetry.NewRecorder(telemetry.RecorderConfig{
			Interval: cfg.Telemetry.Interval.Duration,
		}, telemetry.NewSyntheticSource(0), store, state, dir, m, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rec.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error(runCtx, "recorder stopped", "err", err)
			}
		}()
	} else {
		log.Warn(ctx, "no channel source configured, sampler disabled")
	}

	hs := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return runCtx },
	}

	errc := make(chan error, 1)
	go func() {
		log.Info(ctx, "datalogger listening", "addr", cfg.Addr, "root", cfg.Root)
		if cfg.WebDAV {
			log.Info(ctx, "webdav endpoint enabled", "path", "/dav/", "auth", cfg.HasAuth())
		}
		errc <- hs.ListenAndServe()
	}()

	select {
	case err = <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	case <-ctx.Done():
		log.Info(context.Background(), "shutting down")
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err = hs.Shutdown(sctx)
		scancel()
	}
	cancel()
	wg.Wait()
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}
