// ABOUTME: Line-oriented scanner for provider event streams in the text/event-stream framing.
// ABOUTME: Yields raw data payloads, skips keep-alive comments, and detects the [DONE] sentinel.

package sse

import (
	"bufio"
	"io"
	"strings"
)

// DoneSentinel is the distinguished payload a provider sends as the final
// data frame to mark the end of a stream.
const DoneSentinel = "[DONE]"

// Scanner reads data frames from a provider event stream. Each frame is a
// line of the form "data: <payload>"; frames are separated by blank lines.
// Partial lines are buffered across reads, so a frame split over multiple
// network chunks is reassembled before it is returned.
type Scanner struct {
	reader   *bufio.Reader
	done     bool
	sentinel bool
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{reader: bufio.NewReaderSize(r, 4096)}
}

// Next returns the payload of the next data frame. It returns io.EOF when
// the underlying stream ends or after the [DONE] sentinel has been seen.
// Blank separator lines, comment lines (leading ':'), and fields other than
// "data" are skipped; providers use these for keep-alive noise.
func (s *Scanner) Next() (string, error) {
	if s.done {
		return "", io.EOF
	}

	for {
		line, err := s.readLine()
		if err != nil {
			s.done = true
			return "", err
		}

		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		payload, ok := dataPayload(line)
		if !ok {
			continue
		}

		if payload == DoneSentinel {
			s.done = true
			s.sentinel = true
			return "", io.EOF
		}
		return payload, nil
	}
}

// SawSentinel reports whether the stream ended with the [DONE] sentinel,
// distinguishing an orderly close from a transport-level truncation.
func (s *Scanner) SawSentinel() bool {
	return s.sentinel
}

// dataPayload extracts the payload from a "data:" line. A single leading
// space after the colon is stripped per the event-stream format.
func dataPayload(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	if len(rest) > 0 && rest[0] == ' ' {
		rest = rest[1:]
	}
	return rest, true
}

// readLine reads one line, treating CR, LF, and CRLF as terminators.
// bufio.Scanner only splits on LF and CRLF, and a provider proxying through
// older infrastructure may emit bare CR line endings.
func (s *Scanner) readLine() (string, error) {
	var line strings.Builder
	for {
		b, err := s.reader.ReadByte()
		if err != nil {
			if err == io.EOF && line.Len() > 0 {
				return line.String(), nil
			}
			return "", err
		}

		if b == '\n' {
			return line.String(), nil
		}

		if b == '\r' {
			next, err := s.reader.ReadByte()
			if err == nil && next != '\n' {
				_ = s.reader.UnreadByte()
			}
			return line.String(), nil
		}

		line.WriteByte(b)
	}
}
