// Package sse parses Server-Sent Events streams.
package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"strings"
)

// Event represents a single SSE event.
type Event struct {
	ID    string `json:"id,omitempty"`
	Type  string `json:"type,omitempty"`
	Data  any    `json:"data"`
	Retry int    `json:"retry,omitempty"`
}

// Parse reads events from r until EOF or until maxEvents have been read.
// A maxEvents of zero reads everything. Data that is valid JSON is decoded;
// anything else stays a string.
func Parse(r io.Reader, maxEvents int) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	events := make([]Event, 0)
	var current Event
	var dataLines []string

	flush := func() bool {
		if len(dataLines) == 0 {
			current = Event{}
			return false
		}
		current.Data = decodeData(strings.Join(dataLines, "\n"))
		events = append(events, current)
		current = Event{}
		dataLines = nil
		return maxEvents > 0 && len(events) >= maxEvents
	}

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if flush() {
				return events, nil
			}
			continue
		}

		// comment
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			current.Type = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			current.ID = value
		case "retry":
			if n, err := strconv.Atoi(value); err == nil {
				current.Retry = n
			}
		}
	}

	flush()
	return events, scanner.Err()
}

func decodeData(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}
