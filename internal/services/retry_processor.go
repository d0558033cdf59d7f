package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"financeflow/internal/core"
	"financeflow/internal/localstore"
	applog "financeflow/internal/log"
	"financeflow/internal/session"
)

// RetryProcessorConfig holds configuration for the retry processor.
type RetryProcessorConfig struct {
	// PollInterval is how often to check for pending items (default: 30s)
	PollInterval time.Duration

	// BatchSize is the max number of items to replay per poll cycle (default: 10)
	BatchSize int

	// MaxAttempts is the attempt budget before an item is dropped (default: 5)
	MaxAttempts int
}

// DefaultRetryProcessorConfig returns sensible defaults.
func DefaultRetryProcessorConfig() RetryProcessorConfig {
	return RetryProcessorConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    10,
		MaxAttempts:  5,
	}
}

// Refresher lets the processor replace in-memory state with the remote copy
// after a successful replay. The controller satisfies it.
type Refresher interface {
	Load(ctx context.Context) error
}

// RetryProcessor drains the bounded queue of remote writes that failed
// during optimistic mutations and replays them against the gateway. Items
// wait while unauthenticated and are dropped once their attempt budget is
// spent.
type RetryProcessor struct {
	queue     RetryQueue
	gateway   RemoteGateway
	session   *session.State
	refresher Refresher
	config    RetryProcessorConfig

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRetryProcessor creates a retry processor. refresher may be nil.
func NewRetryProcessor(queue RetryQueue, gateway RemoteGateway, state *session.State, refresher Refresher, config RetryProcessorConfig) *RetryProcessor {
	return &RetryProcessor{
		queue:     queue,
		gateway:   gateway,
		session:   state,
		refresher: refresher,
		config:    config,
	}
}

// Start begins the replay loop. Returns an error if already running.
func (p *RetryProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("retry processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Retry processor started",
		"poll_interval", p.config.PollInterval,
		"batch_size", p.config.BatchSize)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *RetryProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Retry processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Retry processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running.
func (p *RetryProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *RetryProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// Replay immediately on startup
	p.ProcessBatch(ctx)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch replays one batch of queued writes. Exposed so callers can
// force a drain (for example right after signing in).
func (p *RetryProcessor) ProcessBatch(ctx context.Context) {
	// Queued writes need a signed-in user; they keep waiting otherwise.
	if !p.session.Authenticated() {
		return
	}

	items, err := p.queue.DequeueBatch(ctx, int64(p.config.BatchSize))
	if err != nil {
		slog.ErrorContext(ctx, "Failed to dequeue retry batch", applog.FieldError, err)
		return
	}
	if len(items) == 0 {
		return
	}

	slog.DebugContext(ctx, "Replaying queued remote writes", "count", len(items))

	replayed := 0
	for _, item := range items {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := p.replayItem(ctx, item); err != nil {
			p.handleFailure(ctx, item, err)
			continue
		}
		if err := p.queue.MarkDone(ctx, item.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to mark retry item done",
				"id", item.ID, applog.FieldError, err)
			continue
		}
		replayed++
	}

	if replayed > 0 && p.refresher != nil {
		// Pick up server-assigned identifiers and ordering.
		if err := p.refresher.Load(ctx); err != nil {
			slog.WarnContext(ctx, "Post-replay refresh failed", applog.FieldError, err)
		}
	}
}

func (p *RetryProcessor) replayItem(ctx context.Context, item localstore.RetryItem) error {
	switch item.Operation {
	case localstore.OpAddTransaction:
		var t core.Transaction
		if err := json.Unmarshal(item.Payload, &t); err != nil {
			return fmt.Errorf("decode queued transaction: %w", err)
		}
		if err := p.gateway.AddTransaction(ctx, t); err != nil {
			return fmt.Errorf("replay transaction insert: %w", err)
		}
		return nil
	case localstore.OpUpsertDivisions:
		var divisions []core.CapitalDivision
		if err := json.Unmarshal(item.Payload, &divisions); err != nil {
			return fmt.Errorf("decode queued divisions: %w", err)
		}
		if err := p.gateway.UpsertDivisions(ctx, divisions); err != nil {
			return fmt.Errorf("replay divisions upsert: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown operation: %s", item.Operation)
	}
}

func (p *RetryProcessor) handleFailure(ctx context.Context, item localstore.RetryItem, replayErr error) {
	slog.WarnContext(ctx, "Retry replay failed",
		"id", item.ID,
		applog.FieldOperation, item.Operation,
		applog.FieldAttempts, item.Attempts+1,
		applog.FieldError, replayErr)

	if item.Attempts+1 >= int64(p.config.MaxAttempts) {
		if err := p.queue.Drop(ctx, item.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to drop exhausted retry item",
				"id", item.ID, applog.FieldError, err)
			return
		}
		slog.ErrorContext(ctx, "Dropped remote write after max attempts; local state remains authoritative",
			"id", item.ID,
			applog.FieldOperation, item.Operation,
			applog.FieldAttempts, item.Attempts+1)
		return
	}

	if err := p.queue.IncrementAttempt(ctx, item.ID, replayErr.Error()); err != nil {
		slog.ErrorContext(ctx, "Failed to increment retry attempt",
			"id", item.ID, applog.FieldError, err)
	}
}
