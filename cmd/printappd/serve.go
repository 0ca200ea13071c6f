package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/orrn/printapp/internal/api"
	"github.com/orrn/printapp/internal/api/middleware"
	"github.com/orrn/printapp/internal/archive"
	"github.com/orrn/printapp/internal/config"
	"github.com/orrn/printapp/internal/core"
	"github.com/orrn/printapp/internal/db"
	"github.com/orrn/printapp/internal/driver"
	"github.com/orrn/printapp/internal/events"
	"github.com/orrn/printapp/internal/logging"
	"github.com/orrn/printapp/internal/webhook"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the print server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	log := logging.New(cfg.Logging, os.Stderr)
	slog.SetDefault(log)

	if err := os.MkdirAll(cfg.Spool.Directory, 0o700); err != nil {
		return fmt.Errorf("failed to create spool directory: %w", err)
	}

	if err := db.Init(db.Config{Path: cfg.Database.Path}); err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broker := events.NewBroker(0, log)

	var static []webhook.Target
	if cfg.Webhooks.URL != "" {
		static = append(static, webhook.Target{URL: cfg.Webhooks.URL, Secret: cfg.Webhooks.Secret, Events: cfg.Webhooks.Events})
	}
	sender := webhook.NewWebhookSender(db.Webhooks, webhook.WebhookConfig{
		RetryCount:  cfg.Webhooks.MaxRetries,
		WorkerCount: cfg.Webhooks.Workers,
		Static:      static,
	}, log)
	sender.Start()
	defer sender.Stop()

	sys := core.NewSystem(
		core.WithLogger(log),
		core.WithHost(cfg.Server.Host, cfg.Server.Port),
		core.WithRetention(cfg.Jobs.RetentionWindow),
		core.WithCleanupInterval(cfg.Jobs.CleanupInterval),
		core.WithCancelPollInterval(cfg.Jobs.CancelPollInterval),
		core.WithWorkerLimit(cfg.Jobs.WorkerLimit),
		core.WithProcessor(driver.New(
			driver.WithTimeout(cfg.Printers.ConnectionTimeout),
			driver.WithLogger(log),
		)),
		core.WithNotifier(broker),
		core.WithNotifier(sender),
		core.WithHistory(db.History),
	)

	if err := loadPrinters(ctx, sys, cfg.Printers.Devices, log); err != nil {
		return err
	}

	go sys.Run(ctx)

	archiver := archive.NewArchiver(archive.Config{HistoryDays: cfg.Database.HistoryDays, Logger: log})
	if err := archiver.LoadSettings(ctx); err != nil {
		return err
	}
	archiver.Start()
	defer archiver.Stop()

	var auth *middleware.AuthMiddleware
	if cfg.Server.AuthEnabled {
		a, err := middleware.NewAuthMiddleware(ctx)
		if err != nil {
			return err
		}
		auth = a
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.Deps{
		System:   sys,
		Broker:   broker,
		Archiver: archiver,
		SpoolDir: cfg.Spool.Directory,
		Logger:   log,
		Auth:     auth,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", addr, "auth", cfg.Server.AuthEnabled)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", "error", err)
	}
	if err := sys.Shutdown(shutdownCtx); err != nil {
		log.Error("job engine shutdown error", "error", err)
	}

	log.Info("server stopped")
	return nil
}

// loadPrinters registers the printers stored in the database, restoring
// their stopped state, then adds any configured printer not seen yet.
func loadPrinters(ctx context.Context, sys *core.System, seeds []config.PrinterSeed, log *slog.Logger) error {
	rows, err := db.Printers.ListPrinters(ctx)
	if err != nil {
		return err
	}

	for _, row := range rows {
		p, err := sys.CreatePrinter(row.Name, row.DeviceURI)
		if err != nil {
			return fmt.Errorf("failed to load printer %q: %w", row.Name, err)
		}
		if row.Stopped {
			p.Stop()
		}
	}

	for _, seed := range seeds {
		if _, err := db.Printers.GetPrinterByName(ctx, seed.Name); err == nil {
			continue
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if _, err := sys.CreatePrinter(seed.Name, seed.DeviceURI); err != nil {
			return fmt.Errorf("failed to create printer %q: %w", seed.Name, err)
		}
		if err := db.Printers.CreatePrinter(ctx, &db.Printer{Name: seed.Name, DeviceURI: seed.DeviceURI}); err != nil {
			return err
		}
		log.Info("printer added from config", "printer", seed.Name)
	}
	return nil
}
