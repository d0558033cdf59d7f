package localstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"financeflow/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "financeflow.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadMissingKeys(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	transactions, err := store.LoadTransactions(ctx)
	if err != nil {
		t.Fatalf("load transactions: %v", err)
	}
	if len(transactions) != 0 {
		t.Fatalf("expected empty collection, got %d", len(transactions))
	}

	divisions, err := store.LoadDivisions(ctx)
	if err != nil {
		t.Fatalf("load divisions: %v", err)
	}
	if len(divisions) != 0 {
		t.Fatalf("expected empty collection, got %d", len(divisions))
	}
}

func TestTransactionsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	in := []core.Transaction{
		{ID: "t1", Kind: core.Income, Amount: 1000, Description: "salary", Date: core.NewDate(2025, 6, 1)},
		{ID: "t2", Kind: core.Expense, Amount: 59.90, Category: "Food", Date: core.NewDate(2025, 6, 3),
			DueDate: core.NewDate(2025, 6, 10), Status: core.StatusPending},
	}
	if err := store.SaveTransactions(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := store.LoadTransactions(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(out))
	}
	if out[0].ID != "t1" || out[1].Status != core.StatusPending {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if !out[1].DueDate.Equal(in[1].DueDate.Time) {
		t.Fatalf("due date mismatch: %v != %v", out[1].DueDate, in[1].DueDate)
	}
}

func TestSpreadsheetsRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	in := []core.Spreadsheet{{
		ID:      "s1",
		Name:    "Investments",
		Type:    core.SheetInvestments,
		Columns: core.DefaultColumns(core.SheetInvestments),
		Rows: []core.SpreadsheetRow{
			{ID: "r1", Values: map[string]string{"asset": "ETF", "quantity": "10"}},
		},
	}}
	if err := store.SaveSpreadsheets(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := store.LoadSpreadsheets(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 1 || len(out[0].Columns) != 5 {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if out[0].Rows[0].Values["asset"] != "ETF" {
		t.Fatalf("row values lost: %+v", out[0].Rows[0])
	}
}

func TestSaveReplacesWholeCollection(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := []core.CapitalDivision{{ID: "1", Name: "Savings", Percentage: 100}}
	if err := store.SaveDivisions(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	second := core.DefaultDivisions()
	if err := store.SaveDivisions(ctx, second); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, err := store.LoadDivisions(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("expected full replacement, got %d entries", len(out))
	}
}

func TestMalformedBlobIsDiscarded(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, KeyDivisions, []byte("{not json")); err != nil {
		t.Fatalf("set: %v", err)
	}

	out, err := store.LoadDivisions(ctx)
	if !errors.Is(err, ErrMalformedData) {
		t.Fatalf("expected ErrMalformedData, got %v", err)
	}
	if out != nil {
		t.Fatalf("expected nil collection, got %+v", out)
	}
}

func TestRetryQueue(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, OpAddTransaction, []byte(`{"id":"t1"}`), 10)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	items, err := store.DequeueBatch(ctx, 5)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if len(items) != 1 || items[0].ID != id || items[0].Operation != OpAddTransaction {
		t.Fatalf("unexpected batch: %+v", items)
	}

	if err := store.IncrementAttempt(ctx, id, "connection refused"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	items, _ = store.DequeueBatch(ctx, 5)
	if items[0].Attempts != 1 || items[0].LastError != "connection refused" {
		t.Fatalf("attempt not recorded: %+v", items[0])
	}

	if err := store.MarkDone(ctx, id); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Pending != 0 {
		t.Fatalf("expected empty queue, got %d pending", stats.Pending)
	}
}

func TestRetryQueueBounded(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.Enqueue(ctx, OpUpsertDivisions, []byte(`[]`), 3); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if _, err := store.Enqueue(ctx, OpUpsertDivisions, []byte(`[]`), 3); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}
