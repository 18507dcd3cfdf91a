package mcp

import "time"

// ToolCaller is the surface collaborators use to reach a tool server: read the catalog
// and invoke tools. Both methods return immediately.
type ToolCaller interface {
	// ListTools returns the current catalog, or an empty list while the session is not
	// Ready.
	ListTools() []Tool

	// CallTool invokes a tool by name. The returned Call resolves on a later tick with the
	// first text content block of the result, or a *ToolError.
	CallTool(name string, args map[string]any, timeout time.Duration) *Call
}

// Connector is the lifecycle surface of a session: start it, watch it become Ready or
// fail, and stop it.
type Connector interface {
	Connect() error
	State() State
	Err() error
	Disconnect()
}

// EventListener receives session events. Implementations run on the goroutine calling
// Tick and must return quickly.
type EventListener interface {
	OnSessionEvent(Event)
}

// EventListenerFunc adapts a function to EventListener.
type EventListenerFunc func(Event)

// OnSessionEvent calls f(ev).
func (f EventListenerFunc) OnSessionEvent(ev Event) { f(ev) }

var (
	_ ToolCaller    = (*Client)(nil)
	_ Connector     = (*Client)(nil)
	_ EventListener = (*EventFeed)(nil)
	_ peer          = (*Supervisor)(nil)
)
