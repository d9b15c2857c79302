// ABOUTME: Reader that decodes the server's protocol event stream on the client side.
// ABOUTME: Distinguishes an orderly stream end (sentinel seen) from transport truncation.

package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fluxchat/fluxchat/llm/sse"
	"github.com/fluxchat/fluxchat/protocol"
)

// ErrTruncated is returned when the stream ends without the complete
// sentinel: the transport dropped mid-generation.
var ErrTruncated = errors.New("event stream truncated before completion sentinel")

// EventReader decodes protocol events from a server response body.
type EventReader struct {
	scanner *sse.Scanner
}

// NewEventReader creates an EventReader over r.
func NewEventReader(r io.Reader) *EventReader {
	return &EventReader{scanner: sse.NewScanner(r)}
}

// Next returns the next protocol event. It returns io.EOF after the
// sentinel and ErrTruncated when the underlying stream ends without one.
func (er *EventReader) Next() (protocol.Event, error) {
	for {
		payload, err := er.scanner.Next()
		if err == io.EOF {
			if er.scanner.SawSentinel() {
				return protocol.Event{}, io.EOF
			}
			return protocol.Event{}, ErrTruncated
		}
		if err != nil {
			return protocol.Event{}, fmt.Errorf("read event stream: %w", err)
		}

		var ev protocol.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			// Skip unknown noise the same way the server-side decoder does.
			continue
		}
		if err := ev.Validate(); err != nil {
			continue
		}
		return ev, nil
	}
}
