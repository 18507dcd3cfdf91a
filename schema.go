package mcp

import (
	"fmt"
)

// JSONRPCVersion is the only protocol version carried in the "jsonrpc" member.
const JSONRPCVersion = "2.0"

const (
	protocolVersion = "2024-11-05"

	// MethodInitialize opens the session and exchanges capabilities.
	MethodInitialize = "initialize"
	// MethodToolsList retrieves the tool catalog, possibly paginated.
	MethodToolsList = "tools/list"
	// MethodToolsCall invokes a single tool.
	MethodToolsCall = "tools/call"

	methodPing                     = "ping"
	methodNotificationsInitialized = "notifications/initialized"

	jsonRPCMethodNotFoundCode = -32601
)

// Info contains metadata about a server or client instance including its name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// JSONRPCError represents an error object returned by the peer in place of a result.
// It implements error so it can be returned directly and matched with errors.As.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	Code int64 `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error. The value is unstructured
	// and may be nil.
	Data any `json:"data,omitempty"`
}

// Tool describes one invokable operation advertised by the peer. Descriptors are
// immutable once received; a catalog refresh replaces the whole list.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// InputSchema is the JSON schema of the tool arguments, kept as a decoded value tree.
	InputSchema any `json:"inputSchema,omitempty"`
}

// CallToolParams contains parameters for executing a specific tool.
type CallToolParams struct {
	// Name is the unique identifier of the tool to execute.
	Name string `json:"name"`

	// Arguments is a map of argument name-value pairs. The value tree is encoded as is.
	Arguments map[string]any `json:"arguments"`
}

// ListToolsParams contains parameters for listing available tools.
type ListToolsParams struct {
	// Cursor is a pagination cursor from a previous tools/list response.
	Cursor string `json:"cursor,omitempty"`
}

// ContentType represents the type of content blocks in tool results.
type ContentType string

// ContentType represents the type of content blocks in tool results.
const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeResource ContentType = "resource"
)

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      Info           `json:"clientInfo"`
}

func (j *JSONRPCError) Error() string {
	if j.Data != nil {
		return fmt.Sprintf("remote error %d: %s (%v)", j.Code, j.Message, j.Data)
	}
	return fmt.Sprintf("remote error %d: %s", j.Code, j.Message)
}

// parseJSONRPCError converts the "error" member of a response. Missing or mistyped
// members degrade to a generic error rather than dropping the response.
func parseJSONRPCError(v any) *JSONRPCError {
	obj, ok := asObject(v)
	if !ok {
		return &JSONRPCError{Code: 0, Message: fmt.Sprintf("malformed error object: %v", v)}
	}
	code, _ := asInt(obj["code"])
	msg, _ := asString(obj["message"])
	return &JSONRPCError{Code: code, Message: msg, Data: obj["data"]}
}

// parseInfo reads serverInfo/clientInfo objects leniently.
func parseInfo(v any) Info {
	obj, ok := asObject(v)
	if !ok {
		return Info{}
	}
	name, _ := asString(obj["name"])
	version, _ := asString(obj["version"])
	return Info{Name: name, Version: version}
}

// parseToolsPage reads one tools/list result. A result without a tools member is an
// empty page; a tools member that is not an array, or an entry without a string name,
// makes the page malformed.
func parseToolsPage(result any) ([]Tool, string, error) {
	obj, ok := asObject(result)
	if !ok {
		return nil, "", fmt.Errorf("tools/list result is %T, want object", result)
	}

	cursor, _ := asString(obj["nextCursor"])

	raw, present := obj["tools"]
	if !present || raw == nil {
		return []Tool{}, cursor, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, "", fmt.Errorf("tools member is %T, want array", raw)
	}

	tools := make([]Tool, 0, len(entries))
	for i, entry := range entries {
		t, ok := asObject(entry)
		if !ok {
			return nil, "", fmt.Errorf("tool %d is %T, want object", i, entry)
		}
		name, ok := asString(t["name"])
		if !ok || name == "" {
			return nil, "", fmt.Errorf("tool %d has no name", i)
		}
		desc, _ := asString(t["description"])
		tools = append(tools, Tool{
			Name:        name,
			Description: desc,
			InputSchema: t["inputSchema"],
		})
	}

	return tools, cursor, nil
}
