// Package services hosts the synchronization controller, the stateful owner
// of the in-memory entity collections, and the retry processor that replays
// remote writes that failed.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"financeflow/internal/core"
	"financeflow/internal/events"
	"financeflow/internal/localstore"
	applog "financeflow/internal/log"
	"financeflow/internal/session"

	"golang.org/x/sync/errgroup"
)

// SyncResult tells a caller whether a mutation reached the remote store or
// only the optimistic local state. Remote failures never surface as errors;
// they degrade the result instead.
type SyncResult string

const (
	Synced    SyncResult = "synced"
	LocalOnly SyncResult = "local_only"
)

// ControllerConfig tunes the controller.
type ControllerConfig struct {
	// MaxPendingRetries bounds the retry queue; 0 means unbounded.
	MaxPendingRetries int64

	// MonthsBack is the span of the monthly series (default: 6).
	MonthsBack int

	// LegacyDivisionsURL, when set, receives a best-effort POST of the
	// divisions collection on unauthenticated updates.
	LegacyDivisionsURL string

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Controller owns the three in-memory collections and reconciles them with
// local and remote persistence. Reads and writes may come from any
// goroutine, so the collections sit behind a mutex.
type Controller struct {
	local   LocalStore
	remote  RemoteGateway
	session *session.State
	events  *events.Client
	config  ControllerConfig

	httpClient *http.Client

	mu           sync.RWMutex
	transactions []core.Transaction
	divisions    []core.CapitalDivision
	spreadsheets []core.Spreadsheet
}

// NewController creates the controller. remote may be nil for a purely
// local deployment; eventsClient may be nil when no broker is configured.
func NewController(local LocalStore, remote RemoteGateway, state *session.State, eventsClient *events.Client, config ControllerConfig) *Controller {
	if config.MonthsBack <= 0 {
		config.MonthsBack = 6
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &Controller{
		local:      local,
		remote:     remote,
		session:    state,
		events:     eventsClient,
		config:     config,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// WatchSession reloads the collections on every auth transition. Returns an
// unsubscribe function.
func (c *Controller) WatchSession(ctx context.Context) func() {
	return c.session.Subscribe(func(authenticated bool) {
		slog.InfoContext(ctx, "Auth state changed, reloading collections",
			"authenticated", authenticated)
		if err := c.Load(ctx); err != nil {
			slog.ErrorContext(ctx, "Reload after auth change failed", "error", err)
		}
	})
}

// Load populates the collections. Authenticated: all three remote fetches
// run concurrently and any failure falls back entirely to the local read
// path, never partial state. Unauthenticated: local reads, seeding the
// default divisions when none are saved.
func (c *Controller) Load(ctx context.Context) error {
	if !c.session.Authenticated() || c.remote == nil {
		return c.loadLocal(ctx)
	}

	var (
		divisions    []core.CapitalDivision
		transactions []core.Transaction
		spreadsheets []core.Spreadsheet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		divisions, err = c.remote.FetchDivisions(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		transactions, err = c.remote.FetchTransactions(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		spreadsheets, err = c.remote.FetchSpreadsheets(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		slog.WarnContext(ctx, "Remote load failed, falling back to local state", "error", err)
		return c.loadLocal(ctx)
	}

	c.mu.Lock()
	c.divisions = divisions
	c.transactions = transactions
	c.spreadsheets = spreadsheets
	c.mu.Unlock()

	// Keep the durable cache current with the authoritative remote copy.
	c.persistAll(ctx)

	slog.InfoContext(ctx, "Loaded collections from remote store",
		"divisions", len(divisions),
		"transactions", len(transactions),
		"spreadsheets", len(spreadsheets))
	return nil
}

func (c *Controller) loadLocal(ctx context.Context) error {
	transactions, err := c.local.LoadTransactions(ctx)
	if err != nil {
		transactions = nil // malformed content is discarded
	}
	spreadsheets, err := c.local.LoadSpreadsheets(ctx)
	if err != nil {
		spreadsheets = nil
	}
	divisions, err := c.local.LoadDivisions(ctx)
	if err != nil {
		divisions = nil
	}
	seeded := false
	if len(divisions) == 0 {
		divisions = core.DefaultDivisions()
		seeded = true
	}

	c.mu.Lock()
	c.transactions = transactions
	c.divisions = divisions
	c.spreadsheets = spreadsheets
	c.mu.Unlock()

	if seeded {
		if err := c.local.SaveDivisions(ctx, divisions); err != nil {
			slog.WarnContext(ctx, "Failed to persist seeded divisions", "error", err)
		}
	}

	slog.InfoContext(ctx, "Loaded collections from local store",
		"transactions", len(transactions),
		"spreadsheets", len(spreadsheets),
		"divisions_seeded", seeded)
	return nil
}

func (c *Controller) persistAll(ctx context.Context) {
	c.mu.RLock()
	transactions := c.transactions
	divisions := c.divisions
	spreadsheets := c.spreadsheets
	c.mu.RUnlock()

	if err := c.local.SaveTransactions(ctx, transactions); err != nil {
		slog.WarnContext(ctx, "Failed to persist transactions locally", "error", err)
	}
	if err := c.local.SaveDivisions(ctx, divisions); err != nil {
		slog.WarnContext(ctx, "Failed to persist divisions locally", "error", err)
	}
	if err := c.local.SaveSpreadsheets(ctx, spreadsheets); err != nil {
		slog.WarnContext(ctx, "Failed to persist spreadsheets locally", "error", err)
	}
}

// AddTransaction assigns a local identifier, prepends the transaction
// optimistically and writes through to local storage. When authenticated it
// also inserts remotely and replaces the collection with a fresh remote
// fetch; a remote failure keeps the optimistic state and queues a retry.
func (c *Controller) AddTransaction(ctx context.Context, draft core.Transaction) (core.Transaction, SyncResult, error) {
	draft.ID = strconv.FormatInt(c.config.Clock().UnixMilli(), 10)
	if err := draft.Validate(); err != nil {
		return core.Transaction{}, LocalOnly, fmt.Errorf("validate transaction: %w", err)
	}

	c.mu.Lock()
	c.transactions = append([]core.Transaction{draft}, c.transactions...)
	transactions := c.transactions
	c.mu.Unlock()

	if err := c.local.SaveTransactions(ctx, transactions); err != nil {
		slog.WarnContext(ctx, "Failed to persist transactions locally", "error", err)
	}

	if !c.session.Authenticated() || c.remote == nil {
		return draft, LocalOnly, nil
	}

	if err := c.remote.AddTransaction(ctx, draft); err != nil {
		slog.WarnContext(ctx, "Remote transaction insert failed, keeping optimistic state",
			"id", draft.ID,
			applog.FieldSyncResult, string(LocalOnly),
			applog.FieldError, err)
		c.enqueueRetry(ctx, localstore.OpAddTransaction, draft)
		c.publishEvent(ctx, events.EventTransactionCreated, draft.ID, false)
		return draft, LocalOnly, nil
	}

	// Refetch so server-assigned identifiers and ordering win.
	fresh, err := c.remote.FetchTransactions(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Post-insert refetch failed, keeping optimistic state", "error", err)
		c.publishEvent(ctx, events.EventTransactionCreated, draft.ID, true)
		return draft, LocalOnly, nil
	}

	c.mu.Lock()
	c.transactions = fresh
	c.mu.Unlock()
	if err := c.local.SaveTransactions(ctx, fresh); err != nil {
		slog.WarnContext(ctx, "Failed to persist transactions locally", "error", err)
	}

	c.publishEvent(ctx, events.EventTransactionCreated, draft.ID, true)
	slog.DebugContext(ctx, "Transaction added", "id", draft.ID, applog.FieldSyncResult, string(Synced))
	return draft, Synced, nil
}

// UpdateDivisions replaces the division set optimistically and writes
// through to local storage. Authenticated updates upsert remotely and
// replace the in-memory set with the authoritative remote copy;
// unauthenticated updates additionally post to the legacy local endpoint,
// best effort.
func (c *Controller) UpdateDivisions(ctx context.Context, divisions []core.CapitalDivision) (SyncResult, error) {
	for i, d := range divisions {
		if err := d.Validate(); err != nil {
			return LocalOnly, fmt.Errorf("validate division %d: %w", i, err)
		}
	}
	if sum := core.DivisionPercentageSum(divisions); len(divisions) > 0 && sum != 100 {
		// Display-layer concern only; never rejected.
		slog.InfoContext(ctx, "Division percentages do not sum to 100", "sum", sum)
	}

	c.mu.Lock()
	c.divisions = divisions
	c.mu.Unlock()

	if err := c.local.SaveDivisions(ctx, divisions); err != nil {
		slog.WarnContext(ctx, "Failed to persist divisions locally", "error", err)
	}

	if !c.session.Authenticated() || c.remote == nil {
		if len(divisions) > 0 {
			c.postLegacyDivisions(ctx, divisions)
		}
		return LocalOnly, nil
	}

	if err := c.remote.UpsertDivisions(ctx, divisions); err != nil {
		slog.WarnContext(ctx, "Remote divisions upsert failed, keeping optimistic state",
			applog.FieldSyncResult, string(LocalOnly),
			applog.FieldError, err)
		c.enqueueRetry(ctx, localstore.OpUpsertDivisions, divisions)
		c.publishEvent(ctx, events.EventDivisionsUpdated, "", false)
		return LocalOnly, nil
	}

	fresh, err := c.remote.FetchDivisions(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Post-upsert refetch failed, keeping optimistic state", "error", err)
		c.publishEvent(ctx, events.EventDivisionsUpdated, "", true)
		return LocalOnly, nil
	}

	c.mu.Lock()
	c.divisions = fresh
	c.mu.Unlock()
	if err := c.local.SaveDivisions(ctx, fresh); err != nil {
		slog.WarnContext(ctx, "Failed to persist divisions locally", "error", err)
	}

	c.publishEvent(ctx, events.EventDivisionsUpdated, "", true)
	slog.DebugContext(ctx, "Divisions updated", applog.FieldSyncResult, string(Synced))
	return Synced, nil
}

// UpdateSpreadsheets replaces the spreadsheet collection and persists it
// locally. Remote spreadsheet mutations happen at finer grain through the
// gateway, not at whole-collection granularity.
func (c *Controller) UpdateSpreadsheets(ctx context.Context, sheets []core.Spreadsheet) error {
	for i, s := range sheets {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("validate spreadsheet %d: %w", i, err)
		}
	}

	c.mu.Lock()
	c.spreadsheets = sheets
	c.mu.Unlock()

	if err := c.local.SaveSpreadsheets(ctx, sheets); err != nil {
		slog.WarnContext(ctx, "Failed to persist spreadsheets locally", "error", err)
	}
	return nil
}

func (c *Controller) enqueueRetry(ctx context.Context, operation string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to encode retry payload",
			"operation", operation, "error", err)
		return
	}
	if _, err := c.local.Enqueue(ctx, operation, data, c.config.MaxPendingRetries); err != nil {
		slog.WarnContext(ctx, "Failed to queue remote write for retry",
			"operation", operation, "error", err)
		return
	}
	c.publishEvent(ctx, events.EventSyncDegraded, "", false)
}

func (c *Controller) publishEvent(ctx context.Context, name, entityID string, synced bool) {
	if err := c.events.Publish(ctx, events.NewMutationEvent(name, entityID, synced)); err != nil {
		slog.WarnContext(ctx, "Failed to publish mutation event", "name", name, "error", err)
	}
}

// postLegacyDivisions mirrors the division set to the legacy local endpoint.
// Failures are ignored.
func (c *Controller) postLegacyDivisions(ctx context.Context, divisions []core.CapitalDivision) {
	if c.config.LegacyDivisionsURL == "" {
		return
	}
	type legacyDivision struct {
		ID         string  `json:"id"`
		Name       string  `json:"name"`
		Percentage float64 `json:"percentage"`
		Color      string  `json:"color"`
	}
	payload := struct {
		Divisions []legacyDivision `json:"divisions"`
	}{Divisions: make([]legacyDivision, len(divisions))}
	for i, d := range divisions {
		payload.Divisions[i] = legacyDivision{ID: d.ID, Name: d.Name, Percentage: d.Percentage, Color: d.Color}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.LegacyDivisionsURL, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.DebugContext(ctx, "Legacy divisions post failed", "error", err)
		return
	}
	resp.Body.Close()
}

// Transactions returns a copy of the current transaction collection.
func (c *Controller) Transactions() []core.Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Transaction, len(c.transactions))
	copy(out, c.transactions)
	return out
}

// Divisions returns the current divisions with display amounts derived from
// the dashboard's total income.
func (c *Controller) Divisions() []core.CapitalDivision {
	data := c.Dashboard()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return core.AllocateDivisions(c.divisions, data.TotalIncome)
}

// Spreadsheets returns a copy of the current spreadsheet collection.
func (c *Controller) Spreadsheets() []core.Spreadsheet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]core.Spreadsheet, len(c.spreadsheets))
	copy(out, c.spreadsheets)
	return out
}

// Dashboard computes the dashboard summary over the current collections.
func (c *Controller) Dashboard() core.DashboardData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return core.Dashboard(c.transactions, c.spreadsheets, c.config.Clock())
}

// MonthlySeries computes the trailing monthly income/expense series.
func (c *Controller) MonthlySeries() []core.MonthPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return core.MonthlySeries(c.transactions, c.config.MonthsBack, c.config.Clock())
}

// SpreadsheetTotals computes the lifetime spreadsheet-derived totals.
func (c *Controller) SpreadsheetTotals() core.SheetTotals {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return core.SpreadsheetTotals(c.spreadsheets)
}

// IncomeTransactions returns the income partition of the collection.
func (c *Controller) IncomeTransactions() []core.Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return core.FilterByKind(c.transactions, core.Income)
}

// ExpenseTransactions returns the expense partition of the collection.
func (c *Controller) ExpenseTransactions() []core.Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return core.FilterByKind(c.transactions, core.Expense)
}

// RecentActivity returns up to limit transactions, newest first. Same-day
// entries keep their collection order.
func (c *Controller) RecentActivity(limit int) []core.Transaction {
	c.mu.RLock()
	sorted := core.SortByDateDesc(c.transactions)
	c.mu.RUnlock()
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}
