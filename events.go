package mcp

import "time"

// EventType classifies session events.
type EventType string

const (
	// EventState reports a session state change.
	EventState EventType = "state"
	// EventCatalog reports a new tool catalog.
	EventCatalog EventType = "catalog"
	// EventCall reports a resolved tool call.
	EventCall EventType = "call"
)

// Event is a notable change in a session, delivered to an EventListener from the
// goroutine running Tick.
type Event struct {
	Type    EventType `json:"type"`
	Session string    `json:"session"`
	State   State     `json:"state,omitempty"`
	Tool    string    `json:"tool,omitempty"`
	CallID  int64     `json:"callId,omitempty"`
	Text    string    `json:"text,omitempty"`
	Err     string    `json:"error,omitempty"`
	Tools   int       `json:"tools,omitempty"`
	Time    time.Time `json:"time"`
}
