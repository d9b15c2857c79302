// ABOUTME: Tests for the client-side protocol event reader.
// ABOUTME: Covers orderly sentinel termination, truncation, and noise skipping.
package client

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/fluxchat/fluxchat/protocol"
)

func TestEventReaderReadsUntilSentinel(t *testing.T) {
	body := "data: {\"type\":\"thinking\",\"sessionId\":\"s1\",\"content\":\"hmm\"}\n\n" +
		"data: {\"type\":\"answer\",\"sessionId\":\"s1\",\"content\":\"Paris\"}\n\n" +
		"data: {\"type\":\"complete\",\"sessionId\":\"s1\"}\n\n" +
		"data: [DONE]\n\n"
	r := NewEventReader(strings.NewReader(body))

	var types []protocol.EventType
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		types = append(types, ev.Type)
	}

	want := []protocol.EventType{protocol.EventThinking, protocol.EventAnswer, protocol.EventComplete}
	if len(types) != len(want) {
		t.Fatalf("got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, types[i], want[i])
		}
	}
}

func TestEventReaderTruncation(t *testing.T) {
	body := "data: {\"type\":\"answer\",\"sessionId\":\"s1\",\"content\":\"par\"}\n\n"
	r := NewEventReader(strings.NewReader(body))

	if _, err := r.Next(); err != nil {
		t.Fatalf("next: %v", err)
	}
	_, err := r.Next()
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestEventReaderSkipsInvalidEvents(t *testing.T) {
	body := "data: {not json\n\n" +
		"data: {\"type\":\"bogus\"}\n\n" +
		"data: {\"type\":\"answer\",\"content\":\"missing session\"}\n\n" +
		"data: {\"type\":\"answer\",\"sessionId\":\"s1\",\"content\":\"kept\"}\n\n" +
		"data: [DONE]\n\n"
	r := NewEventReader(strings.NewReader(body))

	ev, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.Content != "kept" {
		t.Errorf("expected only the valid event, got %+v", ev)
	}
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("expected io.EOF after sentinel, got %v", err)
	}
}
