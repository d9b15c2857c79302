// ABOUTME: Round-loop controller that drives provider streams across tool rounds for one message.
// ABOUTME: Owns terminal-path semantics: every exit persists partial results exactly once and resolves the task.

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/fluxchat/fluxchat/llm"
	"github.com/fluxchat/fluxchat/store"
	"github.com/fluxchat/fluxchat/task"
	"github.com/fluxchat/fluxchat/tools"
)

// MaxRounds bounds provider requests per message. A model that keeps
// requesting tools is cut off with the last round's partial answer.
const MaxRounds = 5

// ErrGenerationActive is returned when a message already has a running
// generation; rounds for one message never run concurrently.
var ErrGenerationActive = errors.New("generation already active for message")

// EventSink receives protocol events from the engine. protocol.Writer is
// the production implementation.
type EventSink interface {
	SendThinking(content string)
	SendAnswer(content string)
	SendToolCall(toolCallID, name string, extra map[string]any)
	SendToolProgress(toolCallID string, progress int)
	SendToolResult(toolCallID, name string, success bool, fields map[string]any)
	SendComplete()
	Error(message string)
	Close()
	Terminal() bool
}

// Config holds the generation parameters shared by all requests.
type Config struct {
	Model          string
	EnableThinking bool
	ThinkingBudget int
}

// Engine runs generations. One Engine serves all requests; each message
// gets its own generation context and orchestrator.
type Engine struct {
	client    llm.ChatCompletionClient
	registry  *tools.Registry
	tasks     *task.Registry
	persister *store.Persister
	config    Config

	mu     sync.Mutex
	active map[string]*activeGeneration
}

type activeGeneration struct {
	cancel context.CancelFunc
	orch   *Orchestrator
}

// New creates an Engine.
func New(client llm.ChatCompletionClient, registry *tools.Registry, tasks *task.Registry, persister *store.Persister, config Config) *Engine {
	return &Engine{
		client:    client,
		registry:  registry,
		tasks:     tasks,
		persister: persister,
		config:    config,
		active:    make(map[string]*activeGeneration),
	}
}

// RunParams identifies one generation and carries its conversation context.
type RunParams struct {
	MessageID      string
	ConversationID string
	UserID         string
	Messages       []llm.Message
}

// Stop cancels the active generation for a message: the in-flight provider
// read and every running tool. Returns false when nothing is active.
func (e *Engine) Stop(messageID string) bool {
	e.mu.Lock()
	gen, ok := e.active[messageID]
	e.mu.Unlock()
	if ok {
		gen.cancel()
	}
	return ok
}

// CancelTool cancels one in-flight tool call of a message's generation
// without stopping the generation or its sibling tools.
func (e *Engine) CancelTool(messageID, toolCallID string) bool {
	e.mu.Lock()
	gen, ok := e.active[messageID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	return gen.orch.CancelTool(toolCallID)
}

// Run drives the full round loop for one message and blocks until a
// terminal state. Cancellation of ctx is the user-stop path: a normal
// termination that pauses the task rather than failing it.
func (e *Engine) Run(ctx context.Context, params RunParams, sink EventSink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	orch := NewOrchestrator(e.registry)
	e.mu.Lock()
	if _, exists := e.active[params.MessageID]; exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrGenerationActive, params.MessageID)
	}
	e.active[params.MessageID] = &activeGeneration{cancel: cancel, orch: orch}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.active, params.MessageID)
		e.mu.Unlock()
	}()

	e.tasks.Create(params.MessageID, params.ConversationID, params.UserID)

	gen := &generation{
		engine: e,
		orch:   orch,
		params: params,
		sink:   sink,
	}
	return gen.run(ctx)
}

// generation is the per-message run state.
type generation struct {
	engine *Engine
	orch   *Orchestrator
	params RunParams
	sink   EventSink

	// Last round's assembled channels. Each tool round starts a fresh
	// provider response, so the final persisted text is the last round's.
	thinking string
	content  string

	invocations []ToolInvocation
}

func (g *generation) run(ctx context.Context) error {
	conversation := append([]llm.Message(nil), g.params.Messages...)

	for round := 0; round < MaxRounds; round++ {
		calls, err := g.streamRound(ctx, conversation)
		if err != nil {
			return g.finishError(ctx, err)
		}

		if len(calls) == 0 {
			return g.finishComplete(ctx)
		}

		dispatch := g.orch.NewDispatch(ctx, g.sink)
		for _, call := range calls {
			dispatch.Launch(call)
		}
		results := dispatch.Wait()
		g.invocations = append(g.invocations, results...)

		if ctx.Err() != nil {
			return g.finishError(ctx, ctx.Err())
		}

		conversation = appendToolRound(conversation, g.content, calls, results)
	}

	// Round budget exhausted with tools still pending: not an error, the
	// last round's partial answer is final.
	log.Printf("component=engine action=round_budget_exhausted message=%s rounds=%d", g.params.MessageID, MaxRounds)
	return g.finishComplete(ctx)
}

// streamRound consumes one provider stream, forwarding deltas as they
// arrive and returning the round's tool calls in the order their arguments
// first became complete.
func (g *generation) streamRound(ctx context.Context, conversation []llm.Message) ([]llm.ToolCallData, error) {
	cfg := g.engine.config
	stream, err := g.engine.client.Stream(ctx, llm.Request{
		Model:          cfg.Model,
		Messages:       conversation,
		Tools:          g.engine.registry.Definitions(),
		EnableThinking: cfg.EnableThinking,
		ThinkingBudget: cfg.ThinkingBudget,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	g.thinking = ""
	g.content = ""
	acc := llm.NewAccumulator()
	var calls []llm.ToolCallData

	for {
		inc, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("provider stream: %w", err)
		}

		switch inc.Kind {
		case llm.IncrementThinking:
			g.thinking += inc.Delta
			g.engine.tasks.AppendFull(g.params.MessageID, inc.Delta, "")
			g.sink.SendThinking(inc.Delta)
			if !g.sink.Terminal() {
				g.engine.tasks.AdvanceSent(g.params.MessageID, inc.Delta, "")
			}

		case llm.IncrementAnswer:
			g.content += inc.Delta
			g.engine.tasks.AppendFull(g.params.MessageID, "", inc.Delta)
			g.sink.SendAnswer(inc.Delta)
			if !g.sink.Terminal() {
				g.engine.tasks.AdvanceSent(g.params.MessageID, "", inc.Delta)
			}

		case llm.IncrementToolCall:
			if call, ready := acc.Add(inc.Fragment); ready {
				calls = append(calls, call)
			}

		case llm.IncrementFinish:
			// The sentinel ends the stream; the finish reason itself
			// carries nothing the loop needs.
		}
	}

	// Some providers close the argument JSON only in the very last token
	// before end-of-stream; flush whatever accumulated but never validated.
	calls = append(calls, acc.FlushPending()...)
	return calls, nil
}

// finishComplete is the normal termination path.
func (g *generation) finishComplete(ctx context.Context) error {
	g.persist(ctx)
	g.sink.SendComplete()
	g.engine.tasks.Complete(g.params.MessageID)
	return nil
}

// finishError handles both cancellation (a normal path that pauses the
// task) and provider failure (fatal, reported as a terminal error event).
func (g *generation) finishError(ctx context.Context, err error) error {
	g.persist(ctx)

	if errors.Is(err, context.Canceled) {
		g.sink.Close()
		if perr := g.engine.tasks.PauseTask(g.params.MessageID); perr != nil {
			log.Printf("component=engine action=pause_failed message=%s err=%v", g.params.MessageID, perr)
		}
		log.Printf("component=engine action=generation_stopped message=%s", g.params.MessageID)
		return nil
	}

	g.sink.Error(err.Error())
	g.engine.tasks.Fail(g.params.MessageID)
	log.Printf("component=engine action=generation_failed message=%s err=%v", g.params.MessageID, err)
	return err
}

// persist writes the assembled state through the partial-result persister.
// Persistence must survive the caller's cancelled context.
func (g *generation) persist(ctx context.Context) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	rec := store.MessageRecord{
		ConversationID: g.params.ConversationID,
		Role:           "assistant",
		Thinking:       g.thinking,
		Content:        g.content,
	}
	for _, inv := range g.invocations {
		rec.ToolCalls = append(rec.ToolCalls, store.ToolCallRecord{
			ID:        inv.ID,
			Name:      inv.Name,
			Arguments: inv.Arguments,
		})
		result := store.ToolResultRecord{
			ToolCallID: inv.ID,
			Name:       inv.Name,
			State:      string(inv.State),
			Success:    inv.State == InvocationCompleted,
		}
		if inv.Result != nil {
			result.Summary = inv.Result.Summary
			result.Fields = inv.Result.Fields
		} else {
			result.Summary = inv.Reason
		}
		rec.ToolResults = append(rec.ToolResults, result)
	}

	if err := g.engine.persister.PersistPartial(ctx, g.params.MessageID, rec); err != nil {
		log.Printf("component=engine action=persist_failed message=%s err=%v", g.params.MessageID, err)
	}
}

// appendToolRound extends the conversation with the assistant turn that
// requested the tools and one tool-result message per invocation.
func appendToolRound(conversation []llm.Message, content string, calls []llm.ToolCallData, results []ToolInvocation) []llm.Message {
	var parts []llm.ContentPart
	if content != "" {
		parts = append(parts, llm.TextPart(content))
	}
	for _, call := range calls {
		parts = append(parts, llm.ToolCallPart(call.ID, call.Name, call.Arguments))
	}
	conversation = append(conversation, llm.Message{Role: llm.RoleAssistant, Content: parts})

	for _, inv := range results {
		content := inv.Reason
		isError := inv.State != InvocationCompleted
		if inv.Result != nil {
			content = inv.Result.Summary
		}
		if content == "" {
			content = string(inv.State)
		}
		conversation = append(conversation, llm.ToolResultMessage(inv.ID, content, isError))
	}
	return conversation
}
