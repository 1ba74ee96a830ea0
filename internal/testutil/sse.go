package testutil

import (
	"bufio"
	"io"
	"strings"
	"testing"
)

// SSEEvent is one parsed server-sent event data frame.
type SSEEvent struct {
	Data string
}

// ParseSSE reads an SSE stream and returns the data payload of each event
// in order. Comment lines and blank separators are skipped; multi-line data
// fields are joined with newlines per the SSE wire format.
func ParseSSE(t *testing.T, r io.Reader) []SSEEvent {
	t.Helper()

	var events []SSEEvent
	var dataLines []string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(dataLines) > 0 {
				events = append(events, SSEEvent{Data: strings.Join(dataLines, "\n")})
				dataLines = nil
			}
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanning SSE stream: %v", err)
	}
	if len(dataLines) > 0 {
		events = append(events, SSEEvent{Data: strings.Join(dataLines, "\n")})
	}

	return events
}
