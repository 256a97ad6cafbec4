// Package events defines the event model shared by the ingestion
// pipeline and the detection engines, and the source that produces
// events from an external observer process or an in-process push.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Event type tags as emitted by the observer.
const (
	TypeMCP     = "MCP"
	TypeFile    = "File"
	TypeProcess = "Process"
	TypeOther   = "Other"
)

// Producer tags.
const (
	ProducerLocal   = "local"
	ProducerRemote  = "remote"
	ProducerUnknown = "unknown"
)

// Direction tags carried in data.task.
const (
	TaskSend = "SEND"
	TaskRecv = "RECV"
)

// Event is one observed message. Immutable once dispatched to the hub;
// RawEventID is assigned by persistence before engine fan-out.
type Event struct {
	EventType string         `json:"eventType"`
	Producer  string         `json:"producer,omitempty"`
	TS        int64          `json:"ts,omitempty"`
	McpTag    string         `json:"mcpTag,omitempty"`
	Data      map[string]any `json:"data,omitempty"`

	// RawEventID is the persistence identifier attached after insert.
	RawEventID string `json:"raw_event_id,omitempty"`
}

// Parse decodes one line of observer output. The payload must be a
// JSON object carrying an eventType field; anything else is rejected.
func Parse(line []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil, fmt.Errorf("malformed event JSON: %w", err)
	}
	if ev.EventType == "" {
		return nil, fmt.Errorf("event missing eventType field")
	}
	return &ev, nil
}

// IsMCP reports whether the event carries MCP JSON-RPC traffic. The
// observer has emitted several spellings over time.
func (e *Event) IsMCP() bool {
	switch strings.ToLower(e.EventType) {
	case "mcp", "rpc", "jsonrpc":
		return true
	}
	return false
}

// IsFile reports whether the event is a file I/O observation.
func (e *Event) IsFile() bool {
	switch strings.ToLower(e.EventType) {
	case "file", "fileio":
		return true
	}
	return false
}

// IsProcess reports whether the event is a process observation.
func (e *Event) IsProcess() bool {
	return strings.EqualFold(e.EventType, TypeProcess)
}

// Task returns data.task (SEND/RECV) or "".
func (e *Event) Task() string {
	s, _ := e.Data["task"].(string)
	return s
}

// Message returns the JSON-RPC message under data, or nil.
func (e *Event) Message() map[string]any {
	m, _ := e.Data["message"].(map[string]any)
	return m
}

// Method returns the JSON-RPC method of the message, or "".
func (e *Event) Method() string {
	m := e.Message()
	if m == nil {
		return ""
	}
	s, _ := m["method"].(string)
	return s
}

// Params returns message.params as a map, or nil.
func (e *Event) Params() map[string]any {
	m := e.Message()
	if m == nil {
		return nil
	}
	p, _ := m["params"].(map[string]any)
	return p
}

// Result returns message.result, or nil. The result shape is
// tool-defined, so callers get the untyped value.
func (e *Event) Result() any {
	m := e.Message()
	if m == nil {
		return nil
	}
	return m["result"]
}

// ResultMap returns message.result as a map when it is one.
func (e *Event) ResultMap() map[string]any {
	r, _ := e.Result().(map[string]any)
	return r
}

// ResolvedMcpTag returns the identifier of the originating MCP server.
// Local producers carry the tag at top level, remote producers nest it
// under data.
func (e *Event) ResolvedMcpTag() string {
	topLevel := e.McpTag
	nested := ""
	if e.Data != nil {
		nested, _ = e.Data["mcpTag"].(string)
	}

	switch e.Producer {
	case ProducerLocal:
		if topLevel != "" {
			return topLevel
		}
	case ProducerRemote:
		if nested != "" {
			return nested
		}
	default:
		if topLevel != "" {
			return topLevel
		}
		if nested != "" {
			return nested
		}
	}
	if topLevel != "" {
		return topLevel
	}
	if nested != "" {
		return nested
	}
	return ProducerUnknown
}

// Reference returns the event reference used in result envelopes.
func (e *Event) Reference() string {
	if e.RawEventID != "" {
		return e.RawEventID
	}
	return fmt.Sprintf("id-%d", e.TS)
}
