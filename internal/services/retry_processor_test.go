package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"financeflow/internal/core"
	"financeflow/internal/localstore"
	"financeflow/internal/session"
)

type countingRefresher struct {
	calls int
}

func (r *countingRefresher) Load(context.Context) error {
	r.calls++
	return nil
}

func enqueueTransaction(t *testing.T, store *fakeStore, tx core.Transaction) {
	t.Helper()
	payload, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := store.Enqueue(context.Background(), localstore.OpAddTransaction, payload, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func TestProcessBatchReplaysQueuedWrites(t *testing.T) {
	store := &fakeStore{}
	gateway := &fakeGateway{}
	state := session.NewState()
	state.SignIn("user-1")
	refresher := &countingRefresher{}

	enqueueTransaction(t, store, draftTransaction())

	p := NewRetryProcessor(store, gateway, state, refresher, DefaultRetryProcessorConfig())
	p.ProcessBatch(context.Background())

	if gateway.insertCalls != 1 {
		t.Fatalf("insert calls = %d, want 1", gateway.insertCalls)
	}
	if len(store.queue) != 0 {
		t.Fatalf("queue should be drained, %d left", len(store.queue))
	}
	if refresher.calls != 1 {
		t.Fatalf("refresher calls = %d, want 1", refresher.calls)
	}
}

func TestProcessBatchWaitsWhileSignedOut(t *testing.T) {
	store := &fakeStore{}
	gateway := &fakeGateway{}

	enqueueTransaction(t, store, draftTransaction())

	p := NewRetryProcessor(store, gateway, session.NewState(), nil, DefaultRetryProcessorConfig())
	p.ProcessBatch(context.Background())

	if gateway.insertCalls != 0 {
		t.Fatalf("no replay expected while signed out, got %d", gateway.insertCalls)
	}
	if len(store.queue) != 1 {
		t.Fatalf("item must stay queued, %d left", len(store.queue))
	}
}

func TestProcessBatchIncrementsAttemptOnFailure(t *testing.T) {
	store := &fakeStore{}
	gateway := &fakeGateway{failInsert: true}
	state := session.NewState()
	state.SignIn("user-1")

	enqueueTransaction(t, store, draftTransaction())

	p := NewRetryProcessor(store, gateway, state, nil, DefaultRetryProcessorConfig())
	p.ProcessBatch(context.Background())

	if len(store.queue) != 1 {
		t.Fatalf("item must stay queued, %d left", len(store.queue))
	}
	if store.queue[0].Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", store.queue[0].Attempts)
	}
	if store.queue[0].LastError == "" {
		t.Fatal("last error should be recorded")
	}
}

func TestProcessBatchDropsAfterMaxAttempts(t *testing.T) {
	store := &fakeStore{}
	gateway := &fakeGateway{failInsert: true}
	state := session.NewState()
	state.SignIn("user-1")

	enqueueTransaction(t, store, draftTransaction())

	config := DefaultRetryProcessorConfig()
	config.MaxAttempts = 2
	p := NewRetryProcessor(store, gateway, state, nil, config)

	ctx := context.Background()
	p.ProcessBatch(ctx) // attempt 1
	if len(store.queue) != 1 {
		t.Fatalf("item must survive attempt 1, %d left", len(store.queue))
	}
	p.ProcessBatch(ctx) // attempt 2, budget spent
	if len(store.queue) != 0 {
		t.Fatalf("item must be dropped after max attempts, %d left", len(store.queue))
	}
}

func TestProcessBatchSkipsUnknownOperation(t *testing.T) {
	store := &fakeStore{}
	gateway := &fakeGateway{}
	state := session.NewState()
	state.SignIn("user-1")

	if _, err := store.Enqueue(context.Background(), "bogus_op", []byte(`{}`), 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	config := DefaultRetryProcessorConfig()
	config.MaxAttempts = 1
	p := NewRetryProcessor(store, gateway, state, nil, config)
	p.ProcessBatch(context.Background())

	if gateway.insertCalls != 0 || gateway.upsertCalls != 0 {
		t.Fatal("unknown operation must not reach the gateway")
	}
	if len(store.queue) != 0 {
		t.Fatal("unknown operation should exhaust its budget and be dropped")
	}
}

func TestProcessBatchReplaysDivisions(t *testing.T) {
	store := &fakeStore{}
	gateway := &fakeGateway{}
	state := session.NewState()
	state.SignIn("user-1")

	payload, err := json.Marshal([]core.CapitalDivision{{ID: "1", Name: "Everything", Percentage: 100}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := store.Enqueue(context.Background(), localstore.OpUpsertDivisions, payload, 0); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	p := NewRetryProcessor(store, gateway, state, nil, DefaultRetryProcessorConfig())
	p.ProcessBatch(context.Background())

	if gateway.upsertCalls != 1 {
		t.Fatalf("upsert calls = %d, want 1", gateway.upsertCalls)
	}
	if len(gateway.divisions) != 1 {
		t.Fatalf("divisions not replayed: %+v", gateway.divisions)
	}
}

func TestRetryProcessorStartStop(t *testing.T) {
	store := &fakeStore{}
	gateway := &fakeGateway{}
	state := session.NewState()

	config := DefaultRetryProcessorConfig()
	config.PollInterval = 10 * time.Millisecond
	p := NewRetryProcessor(store, gateway, state, nil, config)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !p.IsRunning() {
		t.Fatal("processor should report running")
	}
	if err := p.Start(ctx); err == nil {
		t.Fatal("second start must fail")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.IsRunning() {
		t.Fatal("processor should report stopped")
	}
}
