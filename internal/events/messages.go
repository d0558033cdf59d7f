package events

import (
	"encoding/json"
	"time"
)

// Mutation event names published to the broker.
const (
	EventTransactionCreated = "transaction.created"
	EventDivisionsUpdated   = "divisions.updated"
	EventSyncDegraded       = "sync.degraded"
)

// MutationEvent announces a controller mutation to external consumers.
// Synced reports whether the remote write went through; a degraded event
// means the mutation is local-only and queued for retry.
type MutationEvent struct {
	Name      string    `json:"name"`
	EntityID  string    `json:"entity_id,omitempty"`
	Synced    bool      `json:"synced"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMutationEvent(name, entityID string, synced bool) *MutationEvent {
	return &MutationEvent{
		Name:      name,
		EntityID:  entityID,
		Synced:    synced,
		Timestamp: time.Now(),
	}
}

func (m *MutationEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func MutationEventFromJSON(data []byte) (*MutationEvent, error) {
	var msg MutationEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
