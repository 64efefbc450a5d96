// Package postgres is a TransactionStore on PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledger/internal/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrateURL rewrites a postgres:// URL to the scheme the pgx/v5 migrate driver registers.
func migrateURL(dbURL string) string {
	for _, prefix := range []string{"postgresql://", "postgres://"} {
		if strings.HasPrefix(dbURL, prefix) {
			return "pgx5://" + strings.TrimPrefix(dbURL, prefix)
		}
	}
	return dbURL
}

func RunMigrations(dbURL string) error {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", d, migrateURL(dbURL))
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool, checks it and applies migrations.
func Connect(ctx context.Context, dbURL string) (*Store, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("postgres url not set")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := RunMigrations(dbURL); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Create(ctx context.Context, tx core.Transaction) (string, error) {
	tx = tx.Normalize()
	id := uuid.New()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO transactions (id, user_id, amount_cents, category, description, type, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, tx.UserID, tx.Amount.Cents, string(tx.Category), tx.Description, string(tx.Type), tx.Date)
	if err != nil {
		return "", fmt.Errorf("insert transaction: %w", err)
	}
	return id.String(), nil
}

func (s *Store) ListByUser(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, amount_cents, category, description, type, occurred_at
		 FROM transactions WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	txs, err := pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return nil, fmt.Errorf("scan transactions: %w", err)
	}
	return txs, nil
}

func scanTransaction(row pgx.CollectableRow) (core.Transaction, error) {
	var (
		tx       core.Transaction
		id       uuid.UUID
		cents    int64
		category string
		typ      string
	)
	if err := row.Scan(&id, &tx.UserID, &cents, &category, &tx.Description, &typ, &tx.Date); err != nil {
		return tx, err
	}
	tx.ID = id.String()
	tx.Amount = core.Cents(cents)
	tx.Category = core.Category(category)
	tx.Type = core.TransactionType(typ)
	return tx.Normalize(), nil
}

// updateStatement builds the SET clause for p; the owner and id are always
// the last two parameters.
func updateStatement(p core.TransactionPatch) (string, []any) {
	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if p.Amount != nil {
		add("amount_cents", p.Amount.Cents)
		add("type", string(core.TypeOf(*p.Amount)))
	}
	if p.Description != nil {
		add("description", *p.Description)
	}
	if p.Category != nil {
		add("category", string(*p.Category))
	}
	q := fmt.Sprintf("UPDATE transactions SET %s WHERE user_id = $%d AND id = $%d",
		strings.Join(sets, ", "), len(args)+1, len(args)+2)
	return q, args
}

func (s *Store) Update(ctx context.Context, userID, id string, patch core.TransactionPatch) error {
	if patch.IsEmpty() {
		return core.ErrEmptyPatch
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return core.ErrNotFound
	}
	q, args := updateStatement(patch)
	tag, err := s.pool.Exec(ctx, q, append(args, userID, uid)...)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return core.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM transactions WHERE user_id = $1 AND id = $2`, userID, uid)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
