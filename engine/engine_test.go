// ABOUTME: End-to-end tests for the generation engine against scripted provider streams.
// ABOUTME: Covers the single-round answer, tool round-trips, the round budget, and user abort.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fluxchat/fluxchat/llm"
	"github.com/fluxchat/fluxchat/store"
	"github.com/fluxchat/fluxchat/task"
	"github.com/fluxchat/fluxchat/tools"
)

// memStore is an in-memory MessageStore.
type memStore struct {
	mu   sync.Mutex
	recs map[string]store.MessageRecord
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]store.MessageRecord)}
}

func (m *memStore) Persist(ctx context.Context, messageID string, rec store.MessageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[messageID] = rec
	return nil
}

func (m *memStore) GetMessage(ctx context.Context, messageID string) (store.MessageRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[messageID]
	return rec, ok, nil
}

func (m *memStore) ListMessages(ctx context.Context, conversationID string) ([]store.StoredMessage, error) {
	return nil, nil
}

// scriptClient serves one scripted stream body per round.
type scriptClient struct {
	mu       sync.Mutex
	streamFn func(call int, ctx context.Context, req llm.Request) (io.ReadCloser, error)
	calls    int
	requests []llm.Request
}

func (c *scriptClient) Stream(ctx context.Context, req llm.Request) (*llm.Stream, error) {
	c.mu.Lock()
	call := c.calls
	c.calls++
	c.requests = append(c.requests, req)
	fn := c.streamFn
	c.mu.Unlock()

	body, err := fn(call, ctx, req)
	if err != nil {
		return nil, err
	}
	return llm.NewStream(body), nil
}

func (c *scriptClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *scriptClient) request(i int) llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[i]
}

func sseBody(frames ...string) io.ReadCloser {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString("data: ")
		b.WriteString(f)
		b.WriteString("\n\n")
	}
	b.WriteString("data: [DONE]\n\n")
	return io.NopCloser(strings.NewReader(b.String()))
}

func answerFrame(text string) string {
	data, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]any{"content": text}}},
	})
	return string(data)
}

func thinkingFrame(text string) string {
	data, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"delta": map[string]any{"reasoning_content": text}}},
	})
	return string(data)
}

const finishStop = `{"choices":[{"delta":{},"finish_reason":"stop"}]}`

func toolCallFrames(id, name, args string) []string {
	half := len(args) / 2
	return []string{
		fmt.Sprintf(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":%q,"function":{"name":%q,"arguments":%q}}]}}]}`, id, name, args[:half]),
		fmt.Sprintf(`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":%q}}]}}]}`, args[half:]),
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	}
}

func newTestEngine(client llm.ChatCompletionClient, reg *tools.Registry) (*Engine, *task.Registry, *memStore) {
	tasks := task.NewRegistry(5*time.Minute, time.Hour)
	st := newMemStore()
	eng := New(client, reg, tasks, store.NewPersister(st), Config{Model: "test-model"})
	return eng, tasks, st
}

func TestEngineSingleRoundAnswer(t *testing.T) {
	client := &scriptClient{streamFn: func(call int, ctx context.Context, req llm.Request) (io.ReadCloser, error) {
		return sseBody(
			thinkingFrame("The user asks about France. "),
			answerFrame("Paris is "),
			answerFrame("the capital."),
			finishStop,
		), nil
	}}
	eng, tasks, st := newTestEngine(client, tools.NewRegistry())
	sink := &recordSink{}

	err := eng.Run(context.Background(), RunParams{
		MessageID:      "m1",
		ConversationID: "c1",
		Messages:       []llm.Message{llm.UserMessage("What is the capital of France?")},
	}, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := sink.byKind("thinking"); len(got) != 1 {
		t.Errorf("expected 1 thinking event, got %d", len(got))
	}
	answers := sink.byKind("answer")
	if len(answers) != 2 || answers[0].content != "Paris is " {
		t.Errorf("unexpected answer events: %+v", answers)
	}
	if len(sink.byKind("complete")) != 1 {
		t.Error("expected a complete event")
	}

	tk, ok := tasks.Get("m1")
	if !ok || tk.Status != task.StatusCompleted {
		t.Errorf("expected completed task, got %+v", tk)
	}
	if tk.FullContent != "Paris is the capital." || tk.SentContent != tk.FullContent {
		t.Errorf("unexpected task buffers: %+v", tk)
	}

	rec, ok, _ := st.GetMessage(context.Background(), "m1")
	if !ok || rec.Content != "Paris is the capital." || rec.Role != "assistant" {
		t.Errorf("unexpected persisted record: %+v", rec)
	}
}

func TestEngineToolRoundTrip(t *testing.T) {
	client := &scriptClient{streamFn: func(call int, ctx context.Context, req llm.Request) (io.ReadCloser, error) {
		if call == 0 {
			frames := append([]string{answerFrame("Let me check.")},
				toolCallFrames("call_1", "web_search", `{"query":"capital of France"}`)...)
			return sseBody(frames...), nil
		}
		return sseBody(answerFrame("Paris, according to 3 sources."), finishStop), nil
	}}

	reg := tools.NewRegistry()
	reg.Register(&fastTool{name: "web_search", summary: "- [One](u1)\n- [Two](u2)\n- [Three](u3)"})
	eng, tasks, st := newTestEngine(client, reg)
	sink := &recordSink{}

	err := eng.Run(context.Background(), RunParams{
		MessageID:      "m1",
		ConversationID: "c1",
		Messages:       []llm.Message{llm.UserMessage("What is the capital of France?")},
	}, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := client.callCount(); got != 2 {
		t.Fatalf("expected 2 provider rounds, got %d", got)
	}

	calls := sink.byKind("tool_call")
	if len(calls) != 1 || calls[0].name != "web_search" {
		t.Fatalf("unexpected tool_call events: %+v", calls)
	}
	if calls[0].payload["query"] != "capital of France" {
		t.Errorf("expected query echo, got %+v", calls[0].payload)
	}
	results := sink.byKind("tool_result")
	if len(results) != 1 || !results[0].success {
		t.Errorf("unexpected tool_result events: %+v", results)
	}

	// The second request must carry the assistant tool-call turn and the
	// tool result message.
	second := client.request(1)
	n := len(second.Messages)
	if n < 3 {
		t.Fatalf("expected extended conversation, got %d messages", n)
	}
	assistant := second.Messages[n-2]
	if assistant.Role != llm.RoleAssistant || len(assistant.ToolCalls()) != 1 {
		t.Errorf("expected assistant tool-call turn, got %+v", assistant)
	}
	toolMsg := second.Messages[n-1]
	if toolMsg.Role != llm.RoleTool {
		t.Errorf("expected trailing tool message, got %+v", toolMsg)
	}

	// Persisted content is the final round's answer; the tool round is
	// recorded alongside it.
	rec, _, _ := st.GetMessage(context.Background(), "m1")
	if rec.Content != "Paris, according to 3 sources." {
		t.Errorf("unexpected persisted content: %q", rec.Content)
	}
	if len(rec.ToolCalls) != 1 || rec.ToolCalls[0].Name != "web_search" {
		t.Errorf("expected persisted tool call, got %+v", rec.ToolCalls)
	}
	if len(rec.ToolResults) != 1 || !rec.ToolResults[0].Success {
		t.Errorf("expected persisted tool result, got %+v", rec.ToolResults)
	}

	if tk, _ := tasks.Get("m1"); tk.Status != task.StatusCompleted {
		t.Errorf("expected completed task, got %+v", tk)
	}
}

func TestEngineRoundBudget(t *testing.T) {
	client := &scriptClient{streamFn: func(call int, ctx context.Context, req llm.Request) (io.ReadCloser, error) {
		frames := append([]string{answerFrame(fmt.Sprintf("round %d. ", call))},
			toolCallFrames(fmt.Sprintf("call_%d", call), "loop", `{"query":"again"}`)...)
		return sseBody(frames...), nil
	}}

	reg := tools.NewRegistry()
	reg.Register(&fastTool{name: "loop", summary: "again"})
	eng, tasks, _ := newTestEngine(client, reg)
	sink := &recordSink{}

	err := eng.Run(context.Background(), RunParams{
		MessageID: "m1", ConversationID: "c1",
		Messages: []llm.Message{llm.UserMessage("go")},
	}, sink)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := client.callCount(); got != MaxRounds {
		t.Errorf("expected exactly %d provider rounds, got %d", MaxRounds, got)
	}
	if got := sink.byKind("tool_call"); len(got) != MaxRounds {
		t.Errorf("expected %d tool calls, got %d", MaxRounds, len(got))
	}
	// Budget exhaustion is a normal completion, not an error.
	if len(sink.byKind("complete")) != 1 {
		t.Error("expected a complete event after budget exhaustion")
	}
	if tk, _ := tasks.Get("m1"); tk.Status != task.StatusCompleted {
		t.Errorf("expected completed task, got %+v", tk)
	}
}

func TestEngineProviderFailure(t *testing.T) {
	client := &scriptClient{streamFn: func(call int, ctx context.Context, req llm.Request) (io.ReadCloser, error) {
		return nil, &llm.APIError{StatusCode: 401, Message: "bad key"}
	}}
	eng, tasks, _ := newTestEngine(client, tools.NewRegistry())
	sink := &recordSink{}

	err := eng.Run(context.Background(), RunParams{
		MessageID: "m1", ConversationID: "c1",
		Messages: []llm.Message{llm.UserMessage("hi")},
	}, sink)
	if err == nil {
		t.Fatal("expected error")
	}

	if got := sink.byKind("error"); len(got) != 1 {
		t.Fatalf("expected an error event, got %+v", sink.events)
	}
	if len(sink.byKind("complete")) != 0 {
		t.Error("error path must not emit complete")
	}
	if tk, _ := tasks.Get("m1"); tk.Status != task.StatusError {
		t.Errorf("expected errored task, got %+v", tk)
	}
}

func TestEngineRejectsConcurrentGeneration(t *testing.T) {
	client := &scriptClient{streamFn: func(call int, ctx context.Context, req llm.Request) (io.ReadCloser, error) {
		return io.NopCloser(&blockingReader{ctx: ctx, release: make(chan struct{})}), nil
	}}
	eng, tasks, _ := newTestEngine(client, tools.NewRegistry())

	done := make(chan error, 1)
	go func() {
		done <- eng.Run(context.Background(), RunParams{
			MessageID: "m1", ConversationID: "c1",
			Messages: []llm.Message{llm.UserMessage("hi")},
		}, &recordSink{})
	}()

	// Wait for the first run to register before racing it.
	deadline := time.After(time.Second)
	for {
		if _, ok := tasks.Get("m1"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first generation never became active")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	err := eng.Run(context.Background(), RunParams{
		MessageID: "m1", ConversationID: "c1",
		Messages: []llm.Message{llm.UserMessage("hi again")},
	}, &recordSink{})
	if !errors.Is(err, ErrGenerationActive) {
		t.Fatalf("expected ErrGenerationActive, got %v", err)
	}

	if !eng.Stop("m1") {
		t.Fatal("expected the first generation to stop")
	}
	if err := <-done; err != nil {
		t.Fatalf("stopped run must return nil, got %v", err)
	}
}

// blockingReader emits its data then blocks until the context is cancelled.
type blockingReader struct {
	ctx     context.Context
	release chan struct{}
	data    strings.Reader
	served  bool
}

func (b *blockingReader) Read(p []byte) (int, error) {
	if !b.served && b.data.Len() > 0 {
		n, _ := b.data.Read(p)
		if b.data.Len() == 0 {
			b.served = true
		}
		return n, nil
	}
	select {
	case <-b.ctx.Done():
		return 0, b.ctx.Err()
	case <-b.release:
		return 0, io.EOF
	}
}

// laggySink simulates a client that stopped consuming after limit answer
// deltas: Terminal reports true once the limit is crossed, so AdvanceSent
// stalls while the full buffers keep growing.
type laggySink struct {
	recordSink
	limit int
}

func (s *laggySink) Terminal() bool {
	if s.recordSink.Terminal() {
		return true
	}
	return len(s.byKind("answer")) > s.limit
}

func TestEngineAbortPausesWithPartialBuffers(t *testing.T) {
	var frames strings.Builder
	for i := 0; i < 100; i++ {
		frames.WriteString("data: ")
		frames.WriteString(answerFrame("x"))
		frames.WriteString("\n\n")
	}

	client := &scriptClient{streamFn: func(call int, ctx context.Context, req llm.Request) (io.ReadCloser, error) {
		r := &blockingReader{ctx: ctx, release: make(chan struct{})}
		r.data.Reset(frames.String())
		return io.NopCloser(r), nil
	}}

	eng, tasks, st := newTestEngine(client, tools.NewRegistry())
	sink := &laggySink{limit: 40}

	done := make(chan error, 1)
	go func() {
		done <- eng.Run(context.Background(), RunParams{
			MessageID: "m1", ConversationID: "c1",
			Messages: []llm.Message{llm.UserMessage("write a long poem")},
		}, sink)
	}()

	// Wait until every delta has been generated, then abort.
	deadline := time.After(2 * time.Second)
	for {
		if tk, ok := tasks.Get("m1"); ok && len(tk.FullContent) == 100 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("generation never produced the full content")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if !eng.Stop("m1") {
		t.Fatal("expected an active generation to stop")
	}
	if err := <-done; err != nil {
		t.Fatalf("abort is a normal path, got %v", err)
	}

	tk, _ := tasks.Get("m1")
	if tk.Status != task.StatusPaused {
		t.Errorf("expected paused task, got %s", tk.Status)
	}
	if len(tk.FullContent) != 100 || len(tk.SentContent) != 40 {
		t.Errorf("expected 40/100 sent/full, got %d/%d", len(tk.SentContent), len(tk.FullContent))
	}
	_, unsent, _ := tasks.GetUnsent("m1")
	if len(unsent) != 60 {
		t.Errorf("expected 60-char unsent suffix, got %d", len(unsent))
	}

	// No complete or error event: the stream just closes.
	if len(sink.byKind("complete")) != 0 || len(sink.byKind("error")) != 0 {
		t.Errorf("abort must not emit terminal events: %+v", sink.events)
	}

	// The partial result is persisted in full.
	rec, ok, _ := st.GetMessage(context.Background(), "m1")
	if !ok || len(rec.Content) != 100 {
		t.Errorf("expected 100-char persisted partial, got %+v", rec)
	}
}
