// ABOUTME: Tool-call accumulator that reassembles fragmented argument strings across frames.
// ABOUTME: Emits each call exactly once, on the first frame where its arguments form valid JSON.

package llm

import (
	"encoding/json"

	"github.com/google/uuid"
)

// callEntry is the accumulation state for one provider call index.
type callEntry struct {
	id      string
	name    string
	args    string
	emitted bool
}

// Accumulator merges tool-call fragments in arrival order, keyed by the
// provider's call index. The call name is set once by the introducing
// fragment; argument fragments are string-concatenated. A call becomes
// ready on the first fragment after which its accumulated argument string
// is a syntactically complete JSON value, and is never emitted twice.
type Accumulator struct {
	entries map[int]*callEntry
	// order records call indexes by first-seen fragment, so the
	// end-of-stream flush dispatches in arrival order.
	order []int
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{entries: make(map[int]*callEntry)}
}

// Add merges one fragment. If the fragment completes a call's arguments for
// the first time, the assembled call is returned with ready == true.
func (a *Accumulator) Add(frag ToolCallFragment) (call ToolCallData, ready bool) {
	entry, ok := a.entries[frag.Index]
	if !ok {
		entry = &callEntry{}
		a.entries[frag.Index] = entry
		a.order = append(a.order, frag.Index)
	}

	if entry.id == "" && frag.ID != "" {
		entry.id = frag.ID
	}
	if entry.name == "" && frag.Name != "" {
		entry.name = frag.Name
	}
	entry.args += frag.Arguments

	if entry.emitted {
		return ToolCallData{}, false
	}
	if entry.args == "" || !json.Valid([]byte(entry.args)) {
		return ToolCallData{}, false
	}

	entry.emitted = true
	return a.assemble(entry), true
}

// FlushPending returns calls that accumulated a non-empty argument buffer
// but were never marked complete. Some providers only close the argument
// JSON object as the very last token before end-of-stream, so the round
// loop calls this once after the decoder is exhausted. Each flushed call is
// marked emitted so a second flush returns nothing.
func (a *Accumulator) FlushPending() []ToolCallData {
	var calls []ToolCallData
	for _, index := range a.order {
		entry := a.entries[index]
		if entry.emitted || entry.args == "" {
			continue
		}
		entry.emitted = true
		calls = append(calls, a.assemble(entry))
	}
	return calls
}

// assemble builds the outgoing ToolCallData, generating a fallback call ID
// when the provider never supplied one.
func (a *Accumulator) assemble(entry *callEntry) ToolCallData {
	id := entry.id
	if id == "" {
		id = "call_" + uuid.New().String()
	}
	return ToolCallData{
		ID:        id,
		Name:      entry.name,
		Arguments: json.RawMessage(entry.args),
	}
}
