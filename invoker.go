package mcp

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Call is a tool invocation in flight. It resolves exactly once, on the goroutine
// running Tick, with either the extracted text or a *ToolError.
type Call struct {
	tool string
	done chan struct{}

	mu     sync.Mutex
	id     int64
	text   string
	err    error
	onDone func(string, error)
}

// ListTools returns a copy of the tool catalog in the order the peer listed it. Before
// the session is Ready, or after it ended, the list is empty. It never blocks.
func (c *Client) ListTools() []Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return []Tool{}
	}
	return slices.Clone(c.tools)
}

// FindTool returns the catalog entry with the given name.
func (c *Client) FindTool(name string) (Tool, bool) {
	for _, t := range c.ListTools() {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// CallTool invokes the named tool with args and returns at once. The returned Call
// resolves on a later tick; a timeout of zero or less uses the client's call timeout.
// When the session is not Ready the Call is already resolved with ErrNotConnected.
func (c *Client) CallTool(name string, args map[string]any, timeout time.Duration) *Call {
	return c.CallToolFunc(name, args, timeout, nil)
}

// CallToolFunc is CallTool with a completion callback, run once when the call resolves.
func (c *Client) CallToolFunc(name string, args map[string]any, timeout time.Duration, fn func(string, error)) *Call {
	call := &Call{
		tool:   name,
		done:   make(chan struct{}),
		onDone: fn,
	}
	if timeout <= 0 {
		timeout = c.callTimeout
	}
	if args == nil {
		args = map[string]any{}
	}

	if c.State() != StateReady {
		call.resolve(0, "", &ToolError{Tool: name, Err: ErrNotConnected})
		return call
	}

	params := CallToolParams{Name: name, Arguments: args}
	id, err := c.request(MethodToolsCall, params, timeout, func(resp response) {
		text, err := extractText(resp)
		ev := Event{Type: EventCall, Tool: name, CallID: resp.id, Text: text}
		if err != nil {
			err = &ToolError{Tool: name, ID: resp.id, Err: err}
			ev.Err = err.Error()
			c.logger.Debug("tool call failed", "tool", name, "id", resp.id, "err", err)
		}
		c.emit(ev)
		call.resolve(resp.id, text, err)
	})
	if err != nil {
		call.resolve(id, "", &ToolError{Tool: name, ID: id, Err: err})
		return call
	}
	call.setID(id)

	return call
}

// Tool returns the name of the invoked tool.
func (c *Call) Tool() string {
	return c.tool
}

// ID returns the request id of the call, or 0 if it was never sent.
func (c *Call) ID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Done returns a channel closed when the call resolves.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome of the call, or ErrCallPending before it resolved.
func (c *Call) Result() (string, error) {
	select {
	case <-c.done:
	default:
		return "", ErrCallPending
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text, c.err
}

func (c *Call) setID(id int64) {
	c.mu.Lock()
	if c.id == 0 {
		c.id = id
	}
	c.mu.Unlock()
}

func (c *Call) resolve(id int64, text string, err error) {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return
	default:
	}
	if c.id == 0 {
		c.id = id
	}
	c.text, c.err = text, err
	close(c.done)
	fn := c.onDone
	c.mu.Unlock()

	if fn != nil {
		fn(text, err)
	}
}

// extractText returns the first text content block of a tools/call result. A block
// counts when it carries a string text and its type is absent or "text". Results
// flagged isError fail with ErrToolFailed.
func extractText(resp response) (string, error) {
	if resp.err != nil {
		return "", resp.err
	}
	result, ok := asObject(resp.result)
	if !ok {
		return "", ErrEmptyResult
	}

	isError, _ := result["isError"].(bool)
	blocks, _ := result["content"].([]any)
	for _, b := range blocks {
		block, ok := asObject(b)
		if !ok {
			continue
		}
		if typ, present := block["type"]; present {
			if s, _ := asString(typ); s != string(ContentTypeText) {
				continue
			}
		}
		text, ok := asString(block["text"])
		if !ok {
			continue
		}
		if isError {
			return "", fmt.Errorf("%w: %s", ErrToolFailed, text)
		}
		return text, nil
	}

	if isError {
		return "", ErrToolFailed
	}
	return "", ErrEmptyResult
}
