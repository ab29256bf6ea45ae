package stream

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// The streaming backend fronts an external workflow-automation system whose
// event encoding has changed over time, so a single semantic event can arrive
// in any of several shapes. The decoder checks a fixed, ordered list of known
// shapes; content extraction always wins over control-signal classification.

// EventKind classifies a decoded stream payload.
type EventKind int

const (
	// KindIgnore marks a valid JSON payload matching no known shape. Dropped
	// silently for forward compatibility with unknown event types.
	KindIgnore EventKind = iota
	KindContent
	KindBegin
	KindEnd
	KindError
	KindToolCallStart
	KindToolCallEnd
	KindNodeExecuteBefore
	KindNodeExecuteAfter
)

// NodePhase distinguishes the two node-execute observer calls.
type NodePhase string

const (
	NodeBefore NodePhase = "before"
	NodeAfter  NodePhase = "after"
)

// ToolCallInfo describes a tool invocation announced by the backend.
type ToolCallInfo struct {
	Name        string
	Description string
	NodeType    string
}

// Event is the canonical decoded form of one inbound stream payload.
type Event struct {
	Kind     EventKind
	Content  string       // KindContent
	Message  string       // KindError: backend-declared reason
	Tool     ToolCallInfo // tool-call kinds
	NodeName string       // node-execute kinds
}

// ErrMalformedFrame indicates a payload that is not parseable JSON. Broken
// framing means a broken transport, so this is terminal for the stream.
var ErrMalformedFrame = errors.New("failed to parse streaming response")

type contentShape struct {
	name    string
	extract func(m map[string]any) (string, bool)
}

// contentShapes is checked in order; first match wins. A match requires the
// field to be present and string-typed, not non-empty: an explicit "" chunk
// still counts as received content.
var contentShapes = []contentShape{
	{"nested-envelope", func(m map[string]any) (string, bool) {
		ev, ok := m["event"].(map[string]any)
		if !ok || ev["type"] != "text_message_content" {
			return "", false
		}
		data, ok := ev["data"].(map[string]any)
		if !ok {
			return "", false
		}
		s, ok := data["content"].(string)
		return s, ok
	}},
	{"item", func(m map[string]any) (string, bool) {
		if m["type"] != "item" {
			return "", false
		}
		s, ok := m["content"].(string)
		return s, ok
	}},
	{"chunk-data", func(m map[string]any) (string, bool) {
		if m["type"] != "chunk" && m["type"] != "data" {
			return "", false
		}
		switch data := m["data"].(type) {
		case string:
			return data, true
		case map[string]any:
			s, ok := data["content"].(string)
			return s, ok
		}
		return "", false
	}},
	{"message", func(m map[string]any) (string, bool) {
		// An error frame carries its human-readable reason in "message";
		// treating it as content would corrupt the transcript.
		if m["type"] == "error" {
			return "", false
		}
		s, ok := m["message"].(string)
		return s, ok
	}},
	{"text", func(m map[string]any) (string, bool) {
		s, ok := m["text"].(string)
		return s, ok
	}},
	{"output", func(m map[string]any) (string, bool) {
		s, ok := m["output"].(string)
		return s, ok
	}},
	{"content", func(m map[string]any) (string, bool) {
		s, ok := m["content"].(string)
		return s, ok
	}},
}

var controlKinds = map[string]EventKind{
	"begin":               KindBegin,
	"end":                 KindEnd,
	"error":               KindError,
	"tool-call-start":     KindToolCallStart,
	"tool-call-end":       KindToolCallEnd,
	"node-execute-before": KindNodeExecuteBefore,
	"node-execute-after":  KindNodeExecuteAfter,
}

// Decode classifies one raw inbound payload. It returns ErrMalformedFrame
// (wrapped) when the payload is not valid JSON; any other payload decodes to
// exactly one Event, possibly KindIgnore.
func Decode(payload []byte) (Event, error) {
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		return Event{}, errors.Wrap(ErrMalformedFrame, err.Error())
	}

	for _, shape := range contentShapes {
		if content, ok := shape.extract(m); ok {
			return Event{Kind: KindContent, Content: content}, nil
		}
	}

	kind, ok := controlKinds[signalType(m)]
	if !ok {
		return Event{Kind: KindIgnore}, nil
	}

	ev := Event{Kind: kind}
	switch kind {
	case KindError:
		ev.Message = firstString("Streaming error", flat(m, "message"), nested(m, "message"))
	case KindToolCallStart, KindToolCallEnd:
		ev.Tool = ToolCallInfo{
			Name:        firstString("Tool", flat(m, "name"), nested(m, "name")),
			Description: firstString("", flat(m, "description"), nested(m, "description")),
			NodeType:    firstString("", flat(m, "nodeType"), nested(m, "nodeType")),
		}
	case KindNodeExecuteBefore, KindNodeExecuteAfter:
		ev.NodeName = firstString("Node", flat(m, "nodeName"), nested(m, "nodeName"))
	}
	return ev, nil
}

// signalType returns the control type from either the flat "type" field or
// the nested "event.type" location.
func signalType(m map[string]any) string {
	if t, ok := m["type"].(string); ok {
		if _, known := controlKinds[t]; known {
			return t
		}
	}
	if ev, ok := m["event"].(map[string]any); ok {
		if t, ok := ev["type"].(string); ok {
			return t
		}
	}
	t, _ := m["type"].(string)
	return t
}

// flat reads a top-level string field.
func flat(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// nested reads a string field from event.data.
func nested(m map[string]any, key string) string {
	ev, ok := m["event"].(map[string]any)
	if !ok {
		return ""
	}
	data, ok := ev["data"].(map[string]any)
	if !ok {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

func firstString(fallback string, candidates ...string) string {
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return fallback
}
