package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"ledger/internal/config"
	"ledger/internal/core"
	"ledger/internal/storage"
	"ledger/internal/store/memory"
)

func TestBackendType_IsValid(t *testing.T) {
	tests := []struct {
		bt   BackendType
		want bool
	}{
		{MemoryBackend, true},
		{SQLiteBackend, true},
		{MongoBackend, true},
		{PostgresBackend, true},
		{"sheets", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := tt.bt.IsValid(); got != tt.want {
			t.Errorf("%q.IsValid() = %v, want %v", tt.bt, got, tt.want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	base := Config{Type: SQLiteBackend, SQLiteDBPath: "x.db"}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"sqlite ok", func(c *Config) {}, false},
		{"memory ok", func(c *Config) { c.Type = MemoryBackend }, false},
		{"bad type", func(c *Config) { c.Type = "csv" }, true},
		{"no sqlite path", func(c *Config) { c.SQLiteDBPath = "" }, true},
		{"mongo without uri", func(c *Config) { c.Type = MongoBackend }, true},
		{"mongo complete", func(c *Config) {
			c.Type = MongoBackend
			c.MongoURI = "mongodb://localhost"
			c.MongoDatabase = "ledger"
			c.MongoCollection = "transactions"
		}, false},
		{"postgres without url", func(c *Config) { c.Type = PostgresBackend }, true},
		{"amqp without queue", func(c *Config) {
			c.AMQPURL = "amqp://localhost"
			c.AMQPExchange = "ledger"
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
	if _, err := FromAppConfig(&config.Config{DataBackend: "sheets"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}

	cfg, err := FromAppConfig(&config.Config{
		DataBackend:  "postgres",
		SQLiteDBPath: "data/ledger.db",
		PostgresURL:  "postgres://localhost/ledger",
		AMQPURL:      "amqp://localhost",
		AMQPExchange: "ledger",
		AMQPQueue:    "ledger_events",
	})
	if err != nil {
		t.Fatalf("FromAppConfig: %v", err)
	}
	if cfg.Type != PostgresBackend || cfg.PostgresURL == "" || cfg.AMQPQueue != "ledger_events" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestCreateBackend_Memory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	seed := filepath.Join(dir, "seed.json")
	data := `[{"id":"s1","userId":"u1","amount":-12.50,"category":"Food","description":"lunch","date":"2025-06-01T12:00:00Z"}]`
	if err := os.WriteFile(seed, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	res, err := NewFactory(nil).CreateBackend(ctx, Config{
		Type:           MemoryBackend,
		SQLiteDBPath:   filepath.Join(dir, "local.db"),
		MemorySeedFile: seed,
	})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}
	defer res.Cleanup()

	if _, ok := res.Store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", res.Store)
	}
	txs, err := res.Store.ListByUser(ctx, "u1")
	if err != nil || len(txs) != 1 {
		t.Fatalf("seeded store: %v, %d records", err, len(txs))
	}
	if res.Local == nil {
		t.Fatal("local repository must always be opened")
	}
	if res.Publisher != nil || res.Notifier() != nil {
		t.Error("publisher must be nil without AMQP")
	}
	if len(res.Checks) != 1 || res.Checks[0].Name != "sqlite" {
		t.Errorf("unexpected checks %+v", res.Checks)
	}
	for _, c := range res.Checks {
		if err := c.Ping(ctx); err != nil {
			t.Errorf("check %s: %v", c.Name, err)
		}
	}
}

func TestCreateBackend_SQLiteSharesLocal(t *testing.T) {
	ctx := context.Background()
	res, err := NewFactory(nil).CreateBackend(ctx, Config{
		Type:         SQLiteBackend,
		SQLiteDBPath: filepath.Join(t.TempDir(), "nested", "ledger.db"),
	})
	if err != nil {
		t.Fatalf("CreateBackend: %v", err)
	}

	repo, ok := res.Store.(*storage.SQLiteRepository)
	if !ok || repo != res.Local {
		t.Fatalf("sqlite backend should reuse the local repository, got %T", res.Store)
	}

	id, err := res.Store.Create(ctx, core.Transaction{UserID: "u1", Amount: core.Cents(-100), Category: core.Food, Description: "tea"})
	if err != nil || id == "" {
		t.Fatalf("Create: %q, %v", id, err)
	}
	if err := res.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
}

func TestCreateBackend_BadSeedFails(t *testing.T) {
	seed := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(seed, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewFactory(nil).CreateBackend(context.Background(), Config{
		Type:           MemoryBackend,
		SQLiteDBPath:   filepath.Join(t.TempDir(), "local.db"),
		MemorySeedFile: seed,
	})
	if err == nil {
		t.Fatal("expected error for malformed seed file")
	}
}
