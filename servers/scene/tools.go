package scene

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/sergi/go-diff/diffmatchpatch"

	mcp "github.com/TangGee/mcp-toolhost"
)

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) (callToolResult, error)

type toolEntry struct {
	tool    mcp.Tool
	handler toolHandler
}

type content struct {
	Type mcp.ContentType `json:"type"`
	Text string          `json:"text"`
}

type callToolResult struct {
	Content []content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

type moveObjectArgs struct {
	Name     string    `json:"name"`
	Position []float64 `json:"position"`
}

type deleteObjectArgs struct {
	Name string `json:"name"`
}

type spawnObjectArgs struct {
	Name     string    `json:"name"`
	Kind     string    `json:"kind"`
	Position []float64 `json:"position,omitempty"`
}

type listObjectsArgs struct {
	Pattern string `json:"pattern,omitempty"`
}

type echoArgs struct {
	Text    string `json:"text"`
	DelayMS int    `json:"delay_ms,omitempty"`
}

type crashArgs struct {
	Code int `json:"code"`
}

var toolTable = []toolEntry{
	{
		tool: mcp.Tool{
			Name:        "move_object",
			Description: "Move a scene object to an absolute position.",
			InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "position": {"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 3}
  },
  "required": ["name", "position"]
}`),
		},
		handler: moveObject,
	},
	{
		tool: mcp.Tool{
			Name:        "delete_object",
			Description: "Delete a scene object by name.",
			InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {"name": {"type": "string"}},
  "required": ["name"]
}`),
		},
		handler: deleteObject,
	},
	{
		tool: mcp.Tool{
			Name:        "spawn_object",
			Description: "Add a new object to the scene. Returns the id of the object.",
			InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "kind": {"type": "string", "enum": ["mesh", "light", "camera", "empty"]},
    "position": {"type": "array", "items": {"type": "number"}, "minItems": 3, "maxItems": 3}
  },
  "required": ["name", "kind"]
}`),
		},
		handler: spawnObject,
	},
	{
		tool: mcp.Tool{
			Name:        "list_objects",
			Description: "List scene objects, optionally filtered by a glob pattern on the name.",
			InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {"pattern": {"type": "string"}}
}`),
		},
		handler: listObjects,
	},
	{
		tool: mcp.Tool{
			Name:        "diff_scene",
			Description: "Show the changes made to the scene since it was loaded, as a patch.",
			InputSchema: json.RawMessage(`{"type": "object", "properties": {}}`),
		},
		handler: diffScene,
	},
	{
		tool: mcp.Tool{
			Name:        "echo",
			Description: "Return the given text, optionally after a delay.",
			InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "text": {"type": "string"},
    "delay_ms": {"type": "integer", "minimum": 0}
  },
  "required": ["text"]
}`),
		},
		handler: echo,
	},
	{
		tool: mcp.Tool{
			Name:        "noise",
			Description: "Write a line that is not JSON to stdout, then return the given text.",
			InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {"text": {"type": "string"}}
}`),
		},
		handler: noise,
	},
	{
		tool: mcp.Tool{
			Name:        "crash",
			Description: "Exit the server immediately with the given code.",
			InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {"code": {"type": "integer"}}
}`),
		},
		handler: crash,
	},
}

func moveObject(_ context.Context, s *Server, raw json.RawMessage) (callToolResult, error) {
	var args moveObjectArgs
	if err := decodeArgs(raw, &args); err != nil {
		return callToolResult{}, err
	}
	pos, err := position(args.Position)
	if err != nil {
		return callToolResult{}, err
	}

	obj, err := s.store.move(args.Name, pos)
	if errors.Is(err, errObjectNotFound) {
		return toolFailure(err.Error()), nil
	}
	if err != nil {
		return callToolResult{}, err
	}
	return textResult(fmt.Sprintf("moved %s to %s", obj.Name, formatPosition(obj.Position))), nil
}

func deleteObject(_ context.Context, s *Server, raw json.RawMessage) (callToolResult, error) {
	var args deleteObjectArgs
	if err := decodeArgs(raw, &args); err != nil {
		return callToolResult{}, err
	}

	err := s.store.remove(args.Name)
	if errors.Is(err, errObjectNotFound) {
		return toolFailure(err.Error()), nil
	}
	if err != nil {
		return callToolResult{}, err
	}
	return textResult("deleted " + args.Name), nil
}

func spawnObject(_ context.Context, s *Server, raw json.RawMessage) (callToolResult, error) {
	var args spawnObjectArgs
	if err := decodeArgs(raw, &args); err != nil {
		return callToolResult{}, err
	}
	if args.Name == "" || args.Kind == "" {
		return callToolResult{}, errors.New("name and kind are required")
	}
	var pos [3]float64
	if args.Position != nil {
		p, err := position(args.Position)
		if err != nil {
			return callToolResult{}, err
		}
		pos = p
	}

	obj, err := s.store.spawn(args.Name, args.Kind, pos)
	if err != nil {
		return toolFailure(err.Error()), nil
	}
	return textResult(fmt.Sprintf("spawned %s %s with id %s", obj.Kind, obj.Name, obj.ID)), nil
}

func listObjects(_ context.Context, s *Server, raw json.RawMessage) (callToolResult, error) {
	var args listObjectsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return callToolResult{}, err
	}

	var matcher glob.Glob
	if args.Pattern != "" {
		g, err := glob.Compile(args.Pattern)
		if err != nil {
			return callToolResult{}, fmt.Errorf("invalid pattern %q: %w", args.Pattern, err)
		}
		matcher = g
	}

	objects := []object{}
	for _, o := range s.store.list() {
		if matcher == nil || matcher.Match(o.Name) {
			objects = append(objects, o)
		}
	}

	bs, err := json.Marshal(objects)
	if err != nil {
		return callToolResult{}, err
	}
	return textResult(string(bs)), nil
}

func diffScene(_ context.Context, s *Server, _ json.RawMessage) (callToolResult, error) {
	before, after := s.store.snapshot()
	if before == after {
		return textResult("no changes"), nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, true)
	patches := dmp.PatchMake(diffs)

	var diff strings.Builder
	diff.WriteString("--- scene (loaded)\n")
	diff.WriteString("+++ scene (current)\n")
	for _, patch := range patches {
		diff.WriteString(dmp.PatchToText([]diffmatchpatch.Patch{patch}))
	}
	return textResult(diff.String()), nil
}

func echo(ctx context.Context, _ *Server, raw json.RawMessage) (callToolResult, error) {
	var args echoArgs
	if err := decodeArgs(raw, &args); err != nil {
		return callToolResult{}, err
	}
	if args.DelayMS > 0 {
		timer := time.NewTimer(time.Duration(args.DelayMS) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return callToolResult{}, ctx.Err()
		case <-timer.C:
		}
	}
	return textResult(args.Text), nil
}

func noise(_ context.Context, s *Server, raw json.RawMessage) (callToolResult, error) {
	var args echoArgs
	if err := decodeArgs(raw, &args); err != nil {
		return callToolResult{}, err
	}
	if _, err := s.out.Write([]byte("scene: this line is not json\n")); err != nil {
		return callToolResult{}, err
	}
	return textResult(args.Text), nil
}

func crash(_ context.Context, s *Server, raw json.RawMessage) (callToolResult, error) {
	var args crashArgs
	if err := decodeArgs(raw, &args); err != nil {
		return callToolResult{}, err
	}
	s.logger.Warn("crashing on request", "code", args.Code)
	s.opts.Exit(args.Code)
	return callToolResult{}, errors.New("exit returned")
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	return nil
}

func position(v []float64) ([3]float64, error) {
	if len(v) != 3 {
		return [3]float64{}, fmt.Errorf("position needs 3 coordinates, got %d", len(v))
	}
	return [3]float64{v[0], v[1], v[2]}, nil
}

func textResult(text string) callToolResult {
	return callToolResult{Content: []content{{Type: mcp.ContentTypeText, Text: text}}}
}

func toolFailure(text string) callToolResult {
	return callToolResult{Content: []content{{Type: mcp.ContentTypeText, Text: text}}, IsError: true}
}
