// ABOUTME: Tests for the frame decoder: chunk parsing, multi-increment frames, and malformed input.
// ABOUTME: Verifies increment ordering within a frame and end-of-stream behavior.
package llm

import (
	"io"
	"strings"
	"testing"
)

func decodeAll(t *testing.T, input string) []Increment {
	t.Helper()
	d := NewDecoder(strings.NewReader(input))
	var incs []Increment
	for {
		inc, err := d.Next()
		if err == io.EOF {
			return incs
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		incs = append(incs, inc)
	}
}

func TestDecoderAnswerDeltas(t *testing.T) {
	input := `data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
		"data: [DONE]\n\n"

	incs := decodeAll(t, input)
	if len(incs) != 3 {
		t.Fatalf("expected 3 increments, got %d", len(incs))
	}
	if incs[0].Kind != IncrementAnswer || incs[0].Delta != "Hel" {
		t.Errorf("unexpected first increment: %+v", incs[0])
	}
	if incs[1].Kind != IncrementAnswer || incs[1].Delta != "lo" {
		t.Errorf("unexpected second increment: %+v", incs[1])
	}
	if incs[2].Kind != IncrementFinish || incs[2].FinishReason != "stop" {
		t.Errorf("unexpected finish increment: %+v", incs[2])
	}
}

func TestDecoderThinkingBeforeAnswerWithinFrame(t *testing.T) {
	input := `data: {"choices":[{"delta":{"content":"answer","reasoning_content":"thinking"}}]}` + "\n\n" +
		"data: [DONE]\n\n"

	incs := decodeAll(t, input)
	if len(incs) != 2 {
		t.Fatalf("expected 2 increments, got %d", len(incs))
	}
	if incs[0].Kind != IncrementThinking || incs[0].Delta != "thinking" {
		t.Errorf("expected thinking first, got %+v", incs[0])
	}
	if incs[1].Kind != IncrementAnswer || incs[1].Delta != "answer" {
		t.Errorf("expected answer second, got %+v", incs[1])
	}
}

func TestDecoderToolCallFragments(t *testing.T) {
	input := `data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"web_search","arguments":"{\"qu"}}]}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ery\":\"go\"}"}}]}}]}` + "\n\n" +
		"data: [DONE]\n\n"

	incs := decodeAll(t, input)
	if len(incs) != 2 {
		t.Fatalf("expected 2 increments, got %d", len(incs))
	}
	first := incs[0]
	if first.Kind != IncrementToolCall || first.Fragment.ID != "call_1" || first.Fragment.Name != "web_search" {
		t.Errorf("unexpected introducing fragment: %+v", first)
	}
	second := incs[1]
	if second.Fragment.Index != 0 || second.Fragment.Arguments != `ery":"go"}` {
		t.Errorf("unexpected continuation fragment: %+v", second)
	}
}

func TestDecoderDropsMalformedFrames(t *testing.T) {
	input := "data: not json\n\n" +
		`data: {"choices":[]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"ok"}}]}` + "\n\n" +
		"data: [DONE]\n\n"

	incs := decodeAll(t, input)
	if len(incs) != 1 || incs[0].Delta != "ok" {
		t.Fatalf("expected only the valid frame to decode, got %+v", incs)
	}
}
