// Package localstore is the on-device persistence adapter: a persistent
// string-keyed dictionary holding one JSON-encoded collection per entity
// family, plus the retry queue for remote writes that could not be applied.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"financeflow/internal/core"

	_ "modernc.org/sqlite"
)

// Keys for the persisted collections. Each value is the full serialized
// collection; there is no partial or delta format.
const (
	KeyTransactions = "financeflow_transactions"
	KeyDivisions    = "financeflow_divisions"
	KeySpreadsheets = "financeflow_spreadsheets"
)

// ErrMalformedData marks persisted content that failed to parse. Callers
// discard it and fall back to defaults.
var ErrMalformedData = errors.New("malformed persisted data")

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the raw blob stored under key, or nil when the key is absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv_store WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Set overwrites the blob stored under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv_store (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) SaveTransactions(ctx context.Context, transactions []core.Transaction) error {
	return saveCollection(ctx, s, KeyTransactions, transactions)
}

// LoadTransactions returns the persisted transactions. A missing key yields
// an empty collection; a malformed blob is discarded with a warning.
func (s *Store) LoadTransactions(ctx context.Context) ([]core.Transaction, error) {
	return loadCollection[core.Transaction](ctx, s, KeyTransactions)
}

func (s *Store) SaveDivisions(ctx context.Context, divisions []core.CapitalDivision) error {
	return saveCollection(ctx, s, KeyDivisions, divisions)
}

func (s *Store) LoadDivisions(ctx context.Context) ([]core.CapitalDivision, error) {
	return loadCollection[core.CapitalDivision](ctx, s, KeyDivisions)
}

func (s *Store) SaveSpreadsheets(ctx context.Context, sheets []core.Spreadsheet) error {
	return saveCollection(ctx, s, KeySpreadsheets, sheets)
}

func (s *Store) LoadSpreadsheets(ctx context.Context) ([]core.Spreadsheet, error) {
	return loadCollection[core.Spreadsheet](ctx, s, KeySpreadsheets)
}

func saveCollection[T any](ctx context.Context, s *Store, key string, items []T) error {
	if items == nil {
		items = []T{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

func loadCollection[T any](ctx context.Context, s *Store, key string) ([]T, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		slog.WarnContext(ctx, "Discarding malformed persisted collection",
			"key", key, "error", err)
		return nil, fmt.Errorf("%w: %s", ErrMalformedData, key)
	}
	return items, nil
}
