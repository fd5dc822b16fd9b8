package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowpbx/callcore/internal/api"
	"github.com/flowpbx/callcore/internal/api/middleware"
	"github.com/flowpbx/callcore/internal/audio"
	"github.com/flowpbx/callcore/internal/call"
	"github.com/flowpbx/callcore/internal/config"
	"github.com/flowpbx/callcore/internal/database"
	"github.com/flowpbx/callcore/internal/database/pgstore"
	"github.com/flowpbx/callcore/internal/incall"
	"github.com/flowpbx/callcore/internal/metrics"
	"github.com/flowpbx/callcore/internal/platform"
	"github.com/flowpbx/callcore/internal/recording"
	"github.com/flowpbx/callcore/internal/redial"
)

// store is the recording index and settings backend chosen by db-driver.
type store struct {
	recordings database.RecordingRepository
	settings   database.SettingsRepository
	close      func() error
}

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting callcore",
		"http_port", cfg.HTTPPort,
		"data_dir", cfg.DataDir,
		"db_driver", cfg.DBDriver,
		"recording_enabled", cfg.RecordingEnabled,
	)

	if err := run(cfg, logger, startTime); err != nil {
		slog.Error("callcore exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("callcore stopped")
}

func run(cfg *config.Config, logger *slog.Logger, startTime time.Time) error {
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	st, err := openStore(appCtx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	secret, err := cfg.APISecretBytes()
	if err != nil {
		return err
	}
	if secret == nil {
		slog.Warn("no api secret configured, control api is unauthenticated")
	}

	client := platform.NewClient(cfg.PlatformURL, secret, logger)
	if !client.Configured() {
		slog.Warn("no platform url configured, route changes and dials will fail")
	}

	format, err := recording.ParseFormat(cfg.RecordingFormat)
	if err != nil {
		return err
	}
	mode, err := recording.ParseSaveLocation(cfg.SaveLocation)
	if err != nil {
		return err
	}
	rule, err := incall.ParseAutoRecordRule(cfg.AutoRecord)
	if err != nil {
		return err
	}

	var contacts incall.ContactDirectory
	if cfg.ContactsFile != "" {
		set, err := incall.LoadContacts(cfg.ContactsFile)
		if err != nil {
			return err
		}
		slog.Info("contact directory loaded", "numbers", set.Len())
		contacts = set
	}

	var notifier incall.StatusNotifier
	if client.Configured() {
		notifier = client
	}

	registry := call.NewRegistry(logger)
	routing := audio.NewController(registry, client, logger)
	redials := redial.New(redial.Config{
		Enabled:    cfg.AutoRedial,
		MaxRetries: cfg.RedialMaxRetries,
		Delay:      cfg.RedialDelay,
	}, client, logger)

	svc := incall.NewService(incall.Config{
		RecordingEnabled: cfg.RecordingEnabled,
		AutoRecord:       rule,
		Location: recording.Location{
			DataDir:    cfg.DataDir,
			Mode:       mode,
			CustomPath: cfg.RecordingPath,
			Template:   cfg.FilenameTemplate,
			Format:     format,
		},
		SampleRate:       cfg.SampleRate,
		KeepCallsSpeaker: cfg.KeepCallsSpeaker,
	}, incall.Deps{
		Registry: registry,
		Audio:    routing,
		Redial:   redials,
		Opener:   recording.PCMSource{Path: cfg.CaptureSource},
		Contacts: contacts,
		Index:    st.recordings,
		Notifier: notifier,
	}, logger)
	defer svc.Shutdown()

	routing.Subscribe(func(r audio.Route) {
		slog.Debug("audio route applied", "route", r.String())
	})

	recording.StartCleanupTicker(appCtx, st.recordings, cfg.RecordingMaxDays, time.Hour)

	limiter := middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig())
	defer limiter.Stop()

	collector := metrics.NewCollector(registry, svc, redials, st.recordings, startTime)

	handler := api.NewServer(api.Deps{
		Registry:   registry,
		Audio:      routing,
		Redial:     redials,
		InCall:     svc,
		Recordings: st.recordings,
		Settings:   st.settings,
		Metrics:    metrics.Handler(collector),
		Limiter:    limiter,
	}, api.Options{
		Secret:      secret,
		CORSOrigins: middleware.ParseCORSOrigins(cfg.CORSOrigins),
	}, logger)
	if err := handler.RestoreSettings(appCtx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case serveErr = <-errCh:
		slog.Error("http server error", "error", serveErr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	redials.Cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return serveErr
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	if cfg.DBDriver == "postgres" {
		pg, err := pgstore.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres index: %w", err)
		}
		return &store{recordings: pg, settings: pg, close: pg.Close}, nil
	}

	db, err := database.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	settings, err := database.NewSettingsRepository(ctx, db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	return &store{
		recordings: database.NewRecordingRepository(db),
		settings:   settings,
		close:      db.Close,
	}, nil
}
