package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"ledger/internal/auth"
	"ledger/internal/cache"
	"ledger/internal/cli"
	"ledger/internal/config"
	"ledger/internal/grpcserver"
	apphttp "ledger/internal/http"
	"ledger/internal/ledger"
	"ledger/internal/log"
	"ledger/internal/services"
	"ledger/internal/settings"
	"ledger/internal/sheets/google"
	"ledger/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		cli.Fatal(log.Default(log.ComponentApp), "Invalid configuration", err)
	}
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogJSON, log.ComponentApp)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		cli.Fatal(logger, "Server exited with error", err)
	}
	logger.InfoContext(context.Background(), "Server stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	be, err := cli.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.ErrorContext(context.Background(), "Backend cleanup failed", log.FieldError, err)
		}
	}()

	issuer, err := auth.NewIssuer(jwtSecret(ctx, cfg, logger), cfg.JWTTTL)
	if err != nil {
		return err
	}

	var sheets store.Exporter
	if cfg.SheetsEnabled() {
		client, err := google.New(ctx, google.Config{
			SpreadsheetID:   cfg.GoogleSpreadsheetID,
			SheetName:       cfg.GoogleSheetName,
			ExportSheetName: cfg.GoogleExportSheetName,
			CredentialsJSON: cfg.GoogleServiceAccountJSON,
			CredentialsFile: cfg.GoogleServiceAccountFile,
		})
		if err != nil {
			logger.WarnContext(ctx, "Google Sheets export disabled", log.FieldError, err)
		} else {
			sheets = client
		}
	}

	hub := apphttp.NewHub(logger.WithComponent(log.ComponentHTTP))
	registry := ledger.NewRegistry(be.Store, ledger.Options{
		Notifier: store.Notifiers{be.Notifier(), hub},
		Pending:  be.Local,
		Logger:   logger.WithComponent(log.ComponentLedger),
	}, cfg.LedgerCacheSize, cfg.LedgerCacheTTL)

	caches := cache.NewManager()
	caches.Register(registry)
	caches.StartCleanup(cfg.LedgerCacheTTL)
	defer caches.Stop()

	var ready []apphttp.ReadinessCheck
	var probes []grpcserver.Probe
	for _, c := range be.Checks {
		ready = append(ready, apphttp.ReadinessCheck{Name: c.Name, Check: c.Ping})
		probes = append(probes, grpcserver.Probe{Name: c.Name, Check: c.Ping})
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Ledgers:            registry,
		Settings:           settings.NewService(be.Local),
		Auth:               issuer,
		Hub:                hub,
		Sheets:             sheets,
		Ready:              ready,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		TrustedProxies:     cfg.TrustedProxies,
		Logger:             logger.WithComponent(log.ComponentHTTP),
	})
	grpcSrv := grpcserver.New(cfg.GRPCAddr, logger.WithComponent(log.ComponentGRPC))

	reconciler := services.NewReconciler(be.Local, be.Store, services.ReconcilerConfig{
		PollInterval: cfg.SyncInterval,
		BatchSize:    cfg.SyncBatchSize,
		MaxRetries:   cfg.SyncMaxRetries,
		RetryBackoff: cfg.SyncInterval,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(gctx, "Starting ledger server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"amqp_enabled", be.Publisher != nil,
			"sheets_enabled", sheets != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(grpcSrv.Start)
	g.Go(func() error {
		grpcSrv.Monitor(gctx, 15*time.Second, probes)
		return nil
	})
	g.Go(func() error {
		if err := reconciler.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, stop := cli.ShutdownContext(shutdownTimeout)
		defer stop()
		return ignoreCanceled(reconciler.Stop(stopCtx))
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, stop := cli.ShutdownContext(shutdownTimeout)
		defer stop()

		grpcSrv.Stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.ErrorContext(shutdownCtx, "Server shutdown error", log.FieldError, err)
		}
		return nil
	})

	err = g.Wait()
	return ignoreCanceled(err)
}

// jwtSecret falls back to a random per-process secret so a bare local run
// still starts; tokens then only work until restart.
func jwtSecret(ctx context.Context, cfg *config.Config, logger *log.Logger) string {
	if cfg.JWTSecret != "" {
		return cfg.JWTSecret
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	logger.WarnContext(ctx, "JWT_SECRET not set, using an ephemeral secret")
	return hex.EncodeToString(b)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
