package services

import (
	"context"

	"financeflow/internal/core"
	"financeflow/internal/localstore"
)

// Ports for the controller's outbound dependencies.
type (
	// LocalStore is the on-device persistence adapter. Every collection
	// mutation writes through to it regardless of auth state.
	LocalStore interface {
		SaveTransactions(ctx context.Context, transactions []core.Transaction) error
		LoadTransactions(ctx context.Context) ([]core.Transaction, error)
		SaveDivisions(ctx context.Context, divisions []core.CapitalDivision) error
		LoadDivisions(ctx context.Context) ([]core.CapitalDivision, error)
		SaveSpreadsheets(ctx context.Context, sheets []core.Spreadsheet) error
		LoadSpreadsheets(ctx context.Context) ([]core.Spreadsheet, error)
		Enqueue(ctx context.Context, operation string, payload []byte, maxPending int64) (int64, error)
	}

	// RemoteGateway is the typed interface to the relational backend.
	// All of its errors propagate; the controller owns the fallback.
	RemoteGateway interface {
		FetchDivisions(ctx context.Context) ([]core.CapitalDivision, error)
		UpsertDivisions(ctx context.Context, divisions []core.CapitalDivision) error
		FetchTransactions(ctx context.Context) ([]core.Transaction, error)
		AddTransaction(ctx context.Context, t core.Transaction) error
		FetchSpreadsheets(ctx context.Context) ([]core.Spreadsheet, error)
	}

	// RetryQueue feeds the retry processor with pending remote writes.
	RetryQueue interface {
		DequeueBatch(ctx context.Context, limit int64) ([]localstore.RetryItem, error)
		MarkDone(ctx context.Context, id int64) error
		IncrementAttempt(ctx context.Context, id int64, lastError string) error
		Drop(ctx context.Context, id int64) error
	}
)
