// ABOUTME: Message persistence contract and the partial-result persister.
// ABOUTME: Every terminal generation path funnels through PersistPartial; writes are last-write-wins per message.

package store

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// ToolCallRecord is the persisted form of one tool invocation request.
type ToolCallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResultRecord is the persisted form of one tool invocation outcome.
type ToolResultRecord struct {
	ToolCallID string         `json:"tool_call_id"`
	Name       string         `json:"name"`
	State      string         `json:"state"`
	Success    bool           `json:"success"`
	Summary    string         `json:"summary,omitempty"`
	Fields     map[string]any `json:"fields,omitempty"`
}

// MessageRecord is the durable state of one assistant message.
type MessageRecord struct {
	ConversationID string             `json:"conversation_id"`
	Role           string             `json:"role"`
	Thinking       string             `json:"thinking,omitempty"`
	Content        string             `json:"content"`
	ToolCalls      []ToolCallRecord   `json:"tool_calls,omitempty"`
	ToolResults    []ToolResultRecord `json:"tool_results,omitempty"`
}

// MessageStore writes and reads message records. The sqlite implementation
// is the production store; tests use in-memory fakes.
type MessageStore interface {
	Persist(ctx context.Context, messageID string, rec MessageRecord) error
	GetMessage(ctx context.Context, messageID string) (MessageRecord, bool, error)
	ListMessages(ctx context.Context, conversationID string) ([]StoredMessage, error)
}

// StoredMessage pairs a record with its id and update time for list queries.
type StoredMessage struct {
	MessageID string
	UpdatedAt time.Time
	MessageRecord
}

// Persister is the single entry point for recording assembled content on
// terminal paths (complete, abort, error). Writes are idempotent and
// last-write-wins per message id, with a guard that a write never replaces
// strictly longer persisted content with a shorter one, so an abort racing
// a completion cannot truncate the record.
type Persister struct {
	store MessageStore
	mu    sync.Mutex
}

// NewPersister creates a Persister over the given store.
func NewPersister(store MessageStore) *Persister {
	return &Persister{store: store}
}

// PersistPartial writes the currently assembled message state.
func (p *Persister) PersistPartial(ctx context.Context, messageID string, rec MessageRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	existing, found, err := p.store.GetMessage(ctx, messageID)
	if err != nil {
		log.Printf("component=store action=read_before_persist message=%s err=%v", messageID, err)
	}
	if found && len(existing.Thinking)+len(existing.Content) > len(rec.Thinking)+len(rec.Content) {
		return nil
	}

	return p.store.Persist(ctx, messageID, rec)
}
