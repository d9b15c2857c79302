// ABOUTME: Resumable task registry tracking full versus delivered generation state per message.
// ABOUTME: Supports pause/resume, unsent-suffix replay, and background eviction with split retention.

package task

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Status is the lifecycle state of a generation task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// GenerationTask is the durable record of one message's generation state.
// Sent fields are always a prefix of the corresponding Full fields.
type GenerationTask struct {
	MessageID      string
	ConversationID string
	UserID         string
	Status         Status
	SentThinking   string
	SentContent    string
	FullThinking   string
	FullContent    string
	UpdatedAt      time.Time
}

// Registry tracks in-flight and recently finished generation tasks. It is
// the single serialization point for a message id: all reads and writes of
// one task go through the registry mutex, so no two rounds for the same
// message observe interleaved state.
type Registry struct {
	mu           sync.Mutex
	tasks        map[string]*GenerationTask
	completedTTL time.Duration
	pausedTTL    time.Duration
}

// NewRegistry creates a Registry. completedTTL bounds retention of
// completed and errored tasks; pausedTTL, which should be much longer,
// bounds paused ones (a long-paused task is an abandoned client).
func NewRegistry(completedTTL, pausedTTL time.Duration) *Registry {
	return &Registry{
		tasks:        make(map[string]*GenerationTask),
		completedTTL: completedTTL,
		pausedTTL:    pausedTTL,
	}
}

// Create registers a new running task for the message, replacing any
// previous record for the same id.
func (r *Registry) Create(messageID, conversationID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[messageID] = &GenerationTask{
		MessageID:      messageID,
		ConversationID: conversationID,
		UserID:         userID,
		Status:         StatusRunning,
		UpdatedAt:      time.Now(),
	}
}

// Get returns a snapshot of the task.
func (r *Registry) Get(messageID string) (GenerationTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[messageID]
	if !ok {
		return GenerationTask{}, false
	}
	return *t, true
}

// AppendFull records newly generated content before it is offered to the
// client. channel selects the thinking or answer buffer.
func (r *Registry) AppendFull(messageID string, thinking, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[messageID]
	if !ok {
		return
	}
	t.FullThinking += thinking
	t.FullContent += content
	t.UpdatedAt = time.Now()
}

// AdvanceSent records that a delta has been delivered to the client. The
// sent buffers are clamped to remain prefixes of the full buffers.
func (r *Registry) AdvanceSent(messageID string, thinking, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[messageID]
	if !ok {
		return
	}
	t.SentThinking = clampPrefix(t.SentThinking+thinking, t.FullThinking)
	t.SentContent = clampPrefix(t.SentContent+content, t.FullContent)
	t.UpdatedAt = time.Now()
}

// clampPrefix returns sent if it is a prefix of full, otherwise the longest
// prefix of full that sent agrees with.
func clampPrefix(sent, full string) string {
	if strings.HasPrefix(full, sent) {
		return sent
	}
	if len(sent) > len(full) {
		sent = sent[:len(full)]
	}
	i := 0
	for i < len(sent) && sent[i] == full[i] {
		i++
	}
	return full[:i]
}

// GetUnsent returns the suffix of the full buffers beyond what has been
// sent, for both channels. This is the exact payload replayed to a
// reconnecting client.
func (r *Registry) GetUnsent(messageID string) (thinking, content string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, found := r.tasks[messageID]
	if !found {
		return "", "", false
	}
	return t.FullThinking[len(t.SentThinking):], t.FullContent[len(t.SentContent):], true
}

// MarkAllSent advances both sent buffers to the full buffers, used after a
// successful replay.
func (r *Registry) MarkAllSent(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[messageID]; ok {
		t.SentThinking = t.FullThinking
		t.SentContent = t.FullContent
		t.UpdatedAt = time.Now()
	}
}

// PauseTask transitions a running task to paused. Both buffers survive.
func (r *Registry) PauseTask(messageID string) error {
	return r.transition(messageID, StatusRunning, StatusPaused)
}

// ResumeTask transitions a paused task back to running.
func (r *Registry) ResumeTask(messageID string) error {
	return r.transition(messageID, StatusPaused, StatusRunning)
}

// Complete marks the task finished.
func (r *Registry) Complete(messageID string) {
	r.setStatus(messageID, StatusCompleted)
}

// Fail marks the task errored.
func (r *Registry) Fail(messageID string) {
	r.setStatus(messageID, StatusError)
}

func (r *Registry) transition(messageID string, from, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[messageID]
	if !ok {
		return fmt.Errorf("no task for message %s", messageID)
	}
	if t.Status != from {
		return fmt.Errorf("task %s is %s, not %s", messageID, t.Status, from)
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	return nil
}

func (r *Registry) setStatus(messageID string, status Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[messageID]; ok {
		t.Status = status
		t.UpdatedAt = time.Now()
	}
}

// Sweep evicts expired tasks relative to now and returns how many were
// removed. Running tasks are never evicted.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, t := range r.tasks {
		var ttl time.Duration
		switch t.Status {
		case StatusCompleted, StatusError:
			ttl = r.completedTTL
		case StatusPaused:
			ttl = r.pausedTTL
		default:
			continue
		}
		if now.Sub(t.UpdatedAt) > ttl {
			delete(r.tasks, id)
			removed++
		}
	}
	return removed
}

// Run sweeps on the given interval until the context is cancelled. The
// process lifecycle owns this goroutine; there is no package-level timer.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				log.Printf("component=task action=sweep evicted=%d", n)
			}
		}
	}
}

// Len returns the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
