package backend

import (
	"context"

	"ledger/internal/amqp"
	"ledger/internal/storage"
	"ledger/internal/store"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// Check is a named liveness probe of one backing service.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// BackendResult bundles everything a process needs to build ledgers.
type BackendResult struct {
	// Store is the remote transaction store selected by Type.
	Store store.TransactionStore
	// Local holds settings and the retry queue, whatever Type is.
	Local *storage.SQLiteRepository
	// Publisher is nil when AMQP is not configured or unreachable.
	Publisher *amqp.Publisher
	Checks    []Check
	Cleanup   CleanupFunc
}

// Notifier returns the publisher as a change notifier, or nil.
func (r *BackendResult) Notifier() store.ChangeNotifier {
	if r.Publisher == nil {
		return nil
	}
	return r.Publisher
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath   string
	MemorySeedFile string

	MongoURI        string
	MongoDatabase   string
	MongoCollection string

	PostgresURL string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend   BackendType = "memory"
	SQLiteBackend   BackendType = "sqlite"
	MongoBackend    BackendType = "mongo"
	PostgresBackend BackendType = "postgres"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, MongoBackend, PostgresBackend:
		return true
	default:
		return false
	}
}
