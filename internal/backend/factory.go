package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger/internal/amqp"
	"ledger/internal/log"
	"ledger/internal/storage"
	"ledger/internal/store"
	"ledger/internal/store/memory"
	"ledger/internal/store/mongo"
	"ledger/internal/store/postgres"
)

const connectTimeout = 15 * time.Second

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Default(log.ComponentStorage)
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend opens the local database, the selected transaction store
// and, when configured, the AMQP publisher. On error everything opened so
// far is closed again.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var closers []func() error
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	local, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	closers = append(closers, local.Close)

	result := &BackendResult{
		Local:  local,
		Checks: []Check{{Name: "sqlite", Ping: local.Ping}},
	}

	remote, checks, closeRemote, err := f.createStore(ctx, config, local)
	if err != nil {
		cleanup()
		return nil, err
	}
	if closeRemote != nil {
		closers = append(closers, closeRemote)
	}
	result.Store = remote
	result.Checks = append(result.Checks, checks...)

	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events",
				log.FieldError, err)
		} else {
			closers = append(closers, client.Close)
			result.Publisher = amqp.NewPublisher(client)
			f.logger.InfoContext(ctx, "Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	result.Cleanup = cleanup
	f.logger.InfoContext(ctx, "Initialized backend",
		"type", config.Type,
		"db_path", config.SQLiteDBPath,
		"amqp_enabled", result.Publisher != nil)
	return result, nil
}

func (f *DefaultFactory) createStore(ctx context.Context, config Config, local *storage.SQLiteRepository) (store.TransactionStore, []Check, func() error, error) {
	switch config.Type {
	case MemoryBackend:
		if config.MemorySeedFile == "" {
			return memory.New(), nil, nil, nil
		}
		st, err := memory.NewFromFile(config.MemorySeedFile)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize memory backend: %w", err)
		}
		f.logger.InfoContext(ctx, "Seeded memory backend", "file", config.MemorySeedFile)
		return st, nil, nil, nil

	case SQLiteBackend:
		return local, nil, nil, nil

	case MongoBackend:
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		st, err := mongo.Connect(cctx, config.MongoURI, config.MongoDatabase, config.MongoCollection)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize mongo backend: %w", err)
		}
		f.logger.InfoContext(ctx, "Connected to MongoDB",
			"database", config.MongoDatabase,
			"collection", config.MongoCollection)
		return st, []Check{{Name: "mongo", Ping: st.Ping}}, st.Close, nil

	case PostgresBackend:
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		st, err := postgres.Connect(cctx, config.PostgresURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize postgres backend: %w", err)
		}
		f.logger.InfoContext(ctx, "Connected to Postgres")
		return st, []Check{{Name: "postgres", Ping: st.Ping}}, st.Close, nil
	}
	return nil, nil, nil, fmt.Errorf("unsupported backend type: %s", config.Type)
}
