// ABOUTME: Tests for the protocol writer: framing, terminal sealing, and invalid-event drops.
// ABOUTME: Verifies the completion sentinel and that sends after a terminal event are no-ops.
package protocol

import (
	"bytes"
	"strings"
	"testing"
)

func frames(buf *bytes.Buffer) []string {
	raw := strings.Split(buf.String(), "\n\n")
	var out []string
	for _, f := range raw {
		if f == "" {
			continue
		}
		out = append(out, strings.TrimPrefix(f, "data: "))
	}
	return out
}

func TestWriterStreamsEvents(t *testing.T) {
	var buf bytes.Buffer
	wr := NewWriter(&buf, "sess-1")

	wr.SendThinking("hmm")
	wr.SendAnswer("Paris")
	wr.SendComplete()

	got := frames(&buf)
	if len(got) != 4 {
		t.Fatalf("expected 4 frames, got %d: %v", len(got), got)
	}
	if !strings.Contains(got[0], `"thinking"`) || !strings.Contains(got[0], `"sess-1"`) {
		t.Errorf("unexpected thinking frame: %s", got[0])
	}
	if !strings.Contains(got[1], `"answer"`) {
		t.Errorf("unexpected answer frame: %s", got[1])
	}
	if !strings.Contains(got[2], `"complete"`) {
		t.Errorf("unexpected complete frame: %s", got[2])
	}
	if got[3] != "[DONE]" {
		t.Errorf("expected sentinel last, got %s", got[3])
	}
}

func TestWriterSealsAfterComplete(t *testing.T) {
	var buf bytes.Buffer
	wr := NewWriter(&buf, "s")

	wr.SendComplete()
	before := buf.Len()

	wr.SendAnswer("late")
	wr.SendComplete()
	wr.Error("late error")

	if buf.Len() != before {
		t.Errorf("terminal writer must drop further events, wrote %q", buf.String()[before:])
	}
	if !wr.Terminal() {
		t.Error("expected writer to report terminal")
	}
}

func TestWriterErrorIsTerminal(t *testing.T) {
	var buf bytes.Buffer
	wr := NewWriter(&buf, "s")

	wr.Error("provider exploded")
	wr.SendComplete()

	out := buf.String()
	if !strings.Contains(out, `"error"`) || !strings.Contains(out, "provider exploded") {
		t.Errorf("expected error frame, got %s", out)
	}
	if strings.Contains(out, "[DONE]") {
		t.Error("error path must not emit the completion sentinel")
	}
}

func TestWriterCloseSilences(t *testing.T) {
	var buf bytes.Buffer
	wr := NewWriter(&buf, "s")

	wr.SendAnswer("partial")
	wr.Close()
	wr.SendAnswer("after close")
	wr.SendComplete()

	out := buf.String()
	if !strings.Contains(out, "partial") {
		t.Error("expected pre-close event on the wire")
	}
	if strings.Contains(out, "after close") || strings.Contains(out, "[DONE]") {
		t.Errorf("close must silence all further writes, got %s", out)
	}
}

func TestWriterDropsInvalidEvents(t *testing.T) {
	var buf bytes.Buffer
	wr := NewWriter(&buf, "s")

	// Missing tool call id: logged and dropped, stream stays usable.
	wr.SendToolProgress("", 50)
	if buf.Len() != 0 {
		t.Errorf("invalid event must not reach the wire, got %q", buf.String())
	}

	wr.SendAnswer("still fine")
	if !strings.Contains(buf.String(), "still fine") {
		t.Error("writer must remain usable after dropping an invalid event")
	}
}
