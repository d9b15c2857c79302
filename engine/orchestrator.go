// ABOUTME: Tool execution orchestrator: fans out ready calls, streams progress, isolates failures.
// ABOUTME: Slow tools run under per-call cancellation so one call can be stopped without touching siblings.

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"github.com/fluxchat/fluxchat/llm"
	"github.com/fluxchat/fluxchat/tools"
)

// InvocationState is the lifecycle state of one tool invocation.
type InvocationState string

const (
	InvocationRunning   InvocationState = "running"
	InvocationCompleted InvocationState = "completed"
	InvocationFailed    InvocationState = "failed"
	InvocationCancelled InvocationState = "cancelled"
)

// ToolInvocation is the record of one model-initiated tool call.
type ToolInvocation struct {
	ID        string
	Name      string
	Arguments json.RawMessage
	State     InvocationState
	Result    *tools.Result
	Reason    string
}

// Orchestrator runs tool calls for a generation. It keeps the per-call
// cancel functions so a specific in-flight call can be cancelled by id
// without aborting sibling calls or the generation itself.
type Orchestrator struct {
	registry *tools.Registry

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewOrchestrator creates an Orchestrator over the given registry.
func NewOrchestrator(registry *tools.Registry) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// CancelTool cancels one in-flight call by id. Returns false when no such
// call is running.
func (o *Orchestrator) CancelTool(toolCallID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[toolCallID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (o *Orchestrator) trackCancel(toolCallID string, cancel context.CancelFunc) {
	o.mu.Lock()
	o.cancels[toolCallID] = cancel
	o.mu.Unlock()
}

func (o *Orchestrator) untrackCancel(toolCallID string) {
	o.mu.Lock()
	delete(o.cancels, toolCallID)
	o.mu.Unlock()
}

// Dispatch is one round's in-flight tool set. Calls are launched as their
// arguments become complete; the round waits on the whole set before
// building the next provider request.
type Dispatch struct {
	orch *Orchestrator
	ctx  context.Context
	sink EventSink

	wg          sync.WaitGroup
	mu          sync.Mutex
	invocations []*ToolInvocation
}

// NewDispatch starts an empty dispatch for one round. ctx is the
// generation's context; cancelling it stops every launched call.
func (o *Orchestrator) NewDispatch(ctx context.Context, sink EventSink) *Dispatch {
	return &Dispatch{orch: o, ctx: ctx, sink: sink}
}

// Launch emits the tool_call start event immediately and runs the call in
// its own goroutine. Start emission and execution are decoupled from the
// completion of sibling calls.
func (d *Dispatch) Launch(call llm.ToolCallData) {
	inv := &ToolInvocation{
		ID:        call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
		State:     InvocationRunning,
	}
	d.mu.Lock()
	d.invocations = append(d.invocations, inv)
	d.mu.Unlock()

	d.sink.SendToolCall(call.ID, call.Name, argumentEcho(call))

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(inv, call)
	}()
}

// Wait blocks until every launched call has finished and returns the
// invocations in dispatch order.
func (d *Dispatch) Wait() []ToolInvocation {
	d.wg.Wait()
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ToolInvocation, len(d.invocations))
	for i, inv := range d.invocations {
		out[i] = *inv
	}
	return out
}

// run executes one call. Failures are converted into failed invocation
// results rather than propagated; one failing tool never aborts the round.
func (d *Dispatch) run(inv *ToolInvocation, call llm.ToolCallData) {
	tool := d.orch.registry.Get(call.Name)
	if tool == nil {
		d.finish(inv, tools.Result{}, errors.New("unknown tool: "+call.Name))
		return
	}

	var result tools.Result
	var err error
	if slow, ok := tool.(tools.ProgressReporter); ok {
		callCtx, cancel := context.WithCancel(d.ctx)
		d.orch.trackCancel(call.ID, cancel)
		defer func() {
			d.orch.untrackCancel(call.ID)
			cancel()
		}()

		result, err = slow.ExecuteWithProgress(callCtx, call.Arguments, func(percent int) {
			d.sink.SendToolProgress(call.ID, percent)
		})
		if err == nil && callCtx.Err() != nil {
			err = callCtx.Err()
		}
	} else {
		result, err = tool.Execute(d.ctx, call.Arguments)
	}

	d.finish(inv, result, err)
}

// finish records the outcome and emits the tool_result event.
func (d *Dispatch) finish(inv *ToolInvocation, result tools.Result, err error) {
	d.mu.Lock()
	switch {
	case err == nil:
		inv.State = InvocationCompleted
		inv.Result = &result
	case errors.Is(err, context.Canceled):
		inv.State = InvocationCancelled
		inv.Reason = "cancelled"
	default:
		inv.State = InvocationFailed
		inv.Reason = err.Error()
	}
	d.mu.Unlock()

	if err != nil {
		log.Printf("component=engine action=tool_failed call=%s tool=%s state=%s err=%v", inv.ID, inv.Name, inv.State, err)
		d.sink.SendToolResult(inv.ID, inv.Name, false, map[string]any{"error": inv.Reason})
		return
	}
	d.sink.SendToolResult(inv.ID, inv.Name, true, result.Fields)
}

// argumentEcho extracts the client-facing argument echo from a call: the
// query for searches, the prompt for image generation.
func argumentEcho(call llm.ToolCallData) map[string]any {
	args, err := call.ArgumentsMap()
	if err != nil {
		return nil
	}
	echo := make(map[string]any)
	for _, key := range []string{"query", "prompt"} {
		if v, ok := args[key].(string); ok && v != "" {
			echo[key] = v
		}
	}
	if len(echo) == 0 {
		return nil
	}
	return echo
}
