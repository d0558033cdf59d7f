// Package remote is the typed gateway to the relational backend. It is a
// translation layer: every operation is scoped to the signed-in user and all
// errors propagate to the caller, which owns the catch-and-fallback policy.
package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"financeflow/internal/session"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// ErrNotAuthenticated is returned by mutating operations when no user
// identifier is resolvable. Fetches return an empty collection instead so an
// unauthenticated load degrades quietly.
var ErrNotAuthenticated = errors.New("not authenticated")

type Gateway struct {
	db      *sql.DB
	session *session.State
}

// Config configures the backend connection.
type Config struct {
	// URL is the Postgres connection string.
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Connect opens the backend connection and verifies it.
func Connect(ctx context.Context, cfg Config, state *session.State) (*Gateway, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewGateway(db, state), nil
}

// NewGateway wraps an existing connection. Used by tests and Connect.
func NewGateway(db *sql.DB, state *session.State) *Gateway {
	return &Gateway{db: db, session: state}
}

func (g *Gateway) Close() error {
	if g.db != nil {
		return g.db.Close()
	}
	return nil
}

// userID resolves the current user or fails the call. This is the
// access-control boundary: no query ever runs unscoped.
func (g *Gateway) userID() (string, error) {
	id, ok := g.session.UserID()
	if !ok {
		return "", ErrNotAuthenticated
	}
	return id, nil
}

// isCanonicalID reports whether id has the backend's identifier shape. A
// non-canonical id on an upsert means "create new" and the backend assigns
// a fresh one.
func isCanonicalID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// NewID returns a fresh canonical identifier.
func NewID() string {
	return uuid.NewString()
}
