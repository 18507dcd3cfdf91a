// Package scene implements a small MCP tool server over stdio that edits an in-memory 3D
// scene. It exists to exercise tool-server clients: besides the scene tools it offers
// diagnostics tools that delay, corrupt or abort the stream.
package scene

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"github.com/sourcegraph/jsonrpc2"

	mcp "github.com/TangGee/mcp-toolhost"
)

const protocolVersion = "2024-11-05"

// Options configures a Server.
type Options struct {
	// Info is reported as serverInfo. Defaults to scene/0.1.0.
	Info mcp.Info

	// Tools restricts and orders the advertised tools. Empty means all of them.
	Tools []string

	// PageSize splits tools/list into pages of this many tools. Zero means one page.
	PageSize int

	// InitializeError, when set, makes initialize fail with this message.
	InitializeError string

	// StartupFailure, when set, is written to Stderr and the server exits with code 2
	// before reading anything.
	StartupFailure string

	// SceneFile persists the scene as JSON. Empty keeps it in memory.
	SceneFile string

	Stderr io.Writer
	Exit   func(code int)
	Logger *slog.Logger
}

// Server answers MCP requests for one client.
type Server struct {
	opts   Options
	tools  []toolEntry
	store  *store
	logger *slog.Logger
	out    io.Writer
}

// NewServer creates a server. It fails when the tool list names an unknown tool or the
// scene file cannot be read.
func NewServer(opts Options) (*Server, error) {
	if opts.Info.Name == "" {
		opts.Info = mcp.Info{Name: "scene", Version: "0.1.0"}
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Exit == nil {
		opts.Exit = os.Exit
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	tools, err := selectTools(opts.Tools)
	if err != nil {
		return nil, err
	}
	st, err := newStore(opts.SceneFile)
	if err != nil {
		return nil, err
	}

	return &Server{
		opts:   opts,
		tools:  tools,
		store:  st,
		logger: opts.Logger,
	}, nil
}

// Serve reads requests from r and writes responses to w until r reaches EOF or ctx is
// done. Requests are handled concurrently, so replies may be written out of order.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	if s.opts.StartupFailure != "" {
		fmt.Fprintln(s.opts.Stderr, s.opts.StartupFailure)
		s.opts.Exit(2)
		return errors.New(s.opts.StartupFailure)
	}

	rwc := &stdio{r: r, w: w}
	s.out = rwc

	stream := jsonrpc2.NewBufferedStream(rwc, lineCodec{})
	conn := jsonrpc2.NewConn(ctx, stream, jsonrpc2.AsyncHandler(jsonrpc2.HandlerWithError(s.handle)))
	defer conn.Close()

	s.logger.Info("scene server started", "tools", len(s.tools))

	select {
	case <-conn.DisconnectNotify():
		s.logger.Info("client disconnected")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handle(ctx context.Context, _ *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	if req.Notif {
		s.logger.Debug("notification received", "method", req.Method)
		return nil, nil
	}

	switch req.Method {
	case mcp.MethodInitialize:
		return s.initialize()
	case mcp.MethodToolsList:
		return s.listTools(req.Params)
	case mcp.MethodToolsCall:
		return s.callTool(ctx, req.Params)
	case "ping":
		return map[string]any{}, nil
	default:
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func (s *Server) initialize() (any, error) {
	if s.opts.InitializeError != "" {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInternalError, Message: s.opts.InitializeError}
	}
	return map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo":      s.opts.Info,
	}, nil
}

func (s *Server) listTools(params *json.RawMessage) (any, error) {
	var p mcp.ListToolsParams
	if params != nil {
		if err := json.Unmarshal(*params, &p); err != nil {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
		}
	}

	start := 0
	if p.Cursor != "" {
		n, err := strconv.Atoi(p.Cursor)
		if err != nil || n < 0 || n > len(s.tools) {
			return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "invalid cursor " + p.Cursor}
		}
		start = n
	}
	end := len(s.tools)
	if s.opts.PageSize > 0 {
		end = min(start+s.opts.PageSize, len(s.tools))
	}

	tools := make([]mcp.Tool, 0, end-start)
	for _, e := range s.tools[start:end] {
		tools = append(tools, e.tool)
	}
	result := map[string]any{"tools": tools}
	if end < len(s.tools) {
		result["nextCursor"] = strconv.Itoa(end)
	}
	return result, nil
}

func (s *Server) callTool(ctx context.Context, params *json.RawMessage) (any, error) {
	var p struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if params == nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(*params, &p); err != nil {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}

	i := slices.IndexFunc(s.tools, func(e toolEntry) bool { return e.tool.Name == p.Name })
	if i < 0 {
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "tool not found: " + p.Name}
	}

	result, err := s.tools[i].handler(ctx, s, p.Arguments)
	if err != nil {
		s.logger.Warn("tool failed", "tool", p.Name, "err", err)
		return nil, &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return result, nil
}

func selectTools(names []string) ([]toolEntry, error) {
	if len(names) == 0 {
		return slices.Clone(toolTable), nil
	}
	tools := make([]toolEntry, 0, len(names))
	for _, name := range names {
		i := slices.IndexFunc(toolTable, func(e toolEntry) bool { return e.tool.Name == name })
		if i < 0 {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		tools = append(tools, toolTable[i])
	}
	return tools, nil
}
