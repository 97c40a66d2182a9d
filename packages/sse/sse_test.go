package sse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_BasicEvents(t *testing.T) {
	events, err := Parse(strings.NewReader("event: message\ndata: hello\n\nevent: message\ndata: world\n\n"), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, Event{Type: "message", Data: "hello"}, events[0])
	assert.Equal(t, "world", events[1].Data)
}

func TestParse_MultiLineData(t *testing.T) {
	events, err := Parse(strings.NewReader("data: line1\ndata: line2\ndata: line3\n\n"), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "line1\nline2\nline3", events[0].Data)
}

func TestParse_FieldsAndComments(t *testing.T) {
	stream := ": keepalive\nid: 7\nretry: 1500\nevent: update\ndata: {\"n\": 1}\n\n"
	events, err := Parse(strings.NewReader(stream), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "7", events[0].ID)
	assert.Equal(t, 1500, events[0].Retry)
	assert.Equal(t, "update", events[0].Type)
	assert.Equal(t, map[string]any{"n": 1.0}, events[0].Data)
}

func TestParse_MaxEvents(t *testing.T) {
	events, err := Parse(strings.NewReader("data: a\n\ndata: b\n\ndata: c\n\n"), 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestParse_TrailingEventWithoutBlankLine(t *testing.T) {
	events, err := Parse(strings.NewReader("data: a\n\nid: 2\ndata: b"), 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "2", events[1].ID)
}

func TestParse_EventWithoutDataIsDropped(t *testing.T) {
	events, err := Parse(strings.NewReader("event: ping\n\ndata: x\n\n"), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Type, "fields of a dropped event do not leak into the next")
}
