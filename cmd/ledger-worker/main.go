package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger/internal/amqp"
	"ledger/internal/cli"
	"ledger/internal/config"
	"ledger/internal/log"
	"ledger/internal/sheets/google"
	"ledger/internal/worker"
)

// reconnectDelay is how long to wait before consuming again after the
// broker dropped the channel.
const reconnectDelay = 5 * time.Second

func main() {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		cli.Fatal(log.Default(log.ComponentWorker), "Invalid configuration", err)
	}
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogJSON, log.ComponentWorker)

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		cli.Fatal(logger, "Worker exited with error", err)
	}
	logger.InfoContext(context.Background(), "Worker stopped gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required for the worker")
	}
	if !cfg.SheetsEnabled() {
		return errors.New("GOOGLE_SPREADSHEET_ID is required for the worker")
	}

	mirror, err := google.New(ctx, google.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		ExportSheetName: cfg.GoogleExportSheetName,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	})
	if err != nil {
		return fmt.Errorf("initialize Google Sheets client: %w", err)
	}

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		return fmt.Errorf("initialize AMQP client: %w", err)
	}
	defer client.Close()

	w := worker.NewMirrorWorker(mirror, logger)
	logger.InfoContext(ctx, "Starting ledger worker",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue,
		"spreadsheet_id", cfg.GoogleSpreadsheetID)

	defer func() {
		st := w.Stats()
		logger.InfoContext(context.Background(), "Worker totals",
			"upserted", st.Upserted,
			"deleted", st.Deleted,
			"failed", st.Failed)
	}()

	for {
		err := client.ConsumeEvents(ctx, w.HandleEvent)
		if ctx.Err() != nil {
			return nil
		}
		logger.WarnContext(ctx, "Event consumption interrupted, retrying",
			log.FieldError, err,
			"delay", reconnectDelay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}
