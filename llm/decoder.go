// ABOUTME: Frame decoder that turns a raw provider byte stream into typed increments.
// ABOUTME: Parses chat-completion chunk frames defensively; malformed frames are dropped, never fatal.

package llm

import (
	"encoding/json"
	"io"

	"github.com/fluxchat/fluxchat/llm/sse"
)

// chunkFrame mirrors the provider's streaming chunk shape. Only the fields
// the decoder extracts are declared; everything else is ignored.
type chunkFrame struct {
	Choices []struct {
		Delta struct {
			Content          string          `json:"content"`
			ReasoningContent string          `json:"reasoning_content"`
			ToolCalls        []chunkToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type chunkToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// Decoder reads provider frames and produces a lazy, finite, non-restartable
// sequence of typed increments. One frame can expand into several increments
// (a thinking delta, an answer delta, and tool-call fragments may share a
// frame); Next returns them one at a time in frame order.
type Decoder struct {
	scanner *sse.Scanner
	pending []Increment
}

// NewDecoder creates a Decoder over the given raw frame stream.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{scanner: sse.NewScanner(r)}
}

// Next returns the next increment. It returns io.EOF when the stream has
// signalled completion; any other error is a transport failure.
func (d *Decoder) Next() (Increment, error) {
	for len(d.pending) == 0 {
		payload, err := d.scanner.Next()
		if err != nil {
			return Increment{}, err
		}
		d.pending = decodeFrame(payload)
	}

	inc := d.pending[0]
	d.pending = d.pending[1:]
	return inc, nil
}

// decodeFrame parses one frame payload into zero or more increments.
// Parse failures return nil: providers interleave keep-alive noise and
// vendor-specific frames that must never kill the stream.
func decodeFrame(payload string) []Increment {
	var frame chunkFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return nil
	}
	if len(frame.Choices) == 0 {
		return nil
	}

	choice := frame.Choices[0]
	var incs []Increment

	if choice.Delta.ReasoningContent != "" {
		incs = append(incs, Increment{Kind: IncrementThinking, Delta: choice.Delta.ReasoningContent})
	}
	if choice.Delta.Content != "" {
		incs = append(incs, Increment{Kind: IncrementAnswer, Delta: choice.Delta.Content})
	}
	for _, tc := range choice.Delta.ToolCalls {
		incs = append(incs, Increment{
			Kind: IncrementToolCall,
			Fragment: ToolCallFragment{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	if choice.FinishReason != "" {
		incs = append(incs, Increment{Kind: IncrementFinish, FinishReason: choice.FinishReason})
	}

	return incs
}
