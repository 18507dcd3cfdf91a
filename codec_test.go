package mcp_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	mcp "github.com/TangGee/mcp-toolhost"
)

func TestEncodeRequest(t *testing.T) {
	id := int64(7)
	line, err := mcp.EncodeRequest(mcp.Request{
		ID:     &id,
		Method: mcp.MethodToolsCall,
		Params: mcp.CallToolParams{
			Name:      "echo",
			Arguments: map[string]any{"text": "a\nb \"quoted\" <tag>"},
		},
	})
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}
	if bytes.ContainsAny(line, "\n\r") {
		t.Fatalf("EncodeRequest() produced a line with a raw newline: %q", line)
	}

	var got map[string]any
	if err := json.Unmarshal(line, &got); err != nil {
		t.Fatalf("EncodeRequest() produced invalid JSON: %v", err)
	}
	if got["jsonrpc"] != "2.0" {
		t.Errorf("jsonrpc = %v, want 2.0", got["jsonrpc"])
	}
	if got["id"] != float64(7) {
		t.Errorf("id = %v, want 7", got["id"])
	}
	args := got["params"].(map[string]any)["arguments"].(map[string]any)
	if args["text"] != "a\nb \"quoted\" <tag>" {
		t.Errorf("text = %q, want the original string", args["text"])
	}
	if !bytes.Contains(line, []byte("<tag>")) {
		t.Errorf("EncodeRequest() escaped HTML characters: %s", line)
	}
}

func TestEncodeNotification(t *testing.T) {
	line, err := mcp.EncodeNotification("notifications/initialized", nil)
	if err != nil {
		t.Fatalf("EncodeNotification() error = %v", err)
	}
	want := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	if string(line) != want {
		t.Errorf("EncodeNotification() = %s, want %s", line, want)
	}
}

func TestDecodeLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want any
	}{
		{
			name: "integer and float",
			line: `{"a":3,"b":3.5,"c":1e2,"d":-4}`,
			want: map[string]any{"a": int64(3), "b": 3.5, "c": float64(100), "d": int64(-4)},
		},
		{
			name: "nested values",
			line: `{"list":[1,"two",true,null],"obj":{"x":0.25}}`,
			want: map[string]any{
				"list": []any{int64(1), "two", true, nil},
				"obj":  map[string]any{"x": 0.25},
			},
		},
		{
			name: "escaped string",
			line: `"line\nbreak é \"q\""`,
			want: "line\nbreak é \"q\"",
		},
		{
			name: "integer out of int64 range",
			line: `18446744073709551616`,
			want: float64(18446744073709551616),
		},
		{
			name: "surrounding whitespace",
			line: "  {\"id\":1}\r\n",
			want: map[string]any{"id": int64(1)},
		},
		{
			name: "blank line",
			line: "   \n",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mcp.DecodeLine([]byte(tt.line))
			if err != nil {
				t.Fatalf("DecodeLine() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeLine() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeLineErrors(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "log noise", line: "server starting on stdio"},
		{name: "truncated object", line: `{"id":1,"result":`},
		{name: "trailing data", line: `{"id":1} {"id":2}`},
		{name: "trailing garbage", line: `{"id":1}x`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mcp.DecodeLine([]byte(tt.line))
			var decErr *mcp.DecodeError
			if !errors.As(err, &decErr) {
				t.Fatalf("DecodeLine() error = %v, want *DecodeError", err)
			}
			if got != nil {
				t.Errorf("DecodeLine() = %v, want nil", got)
			}
			if decErr.Line == "" {
				t.Error("DecodeError.Line is empty")
			}
		})
	}
}

func TestCodecRoundTrip(t *testing.T) {
	id := int64(42)
	params := map[string]any{
		"name":      "move_object",
		"arguments": map[string]any{"name": "Cube", "position": []any{int64(5), int64(0), 1.5}},
	}
	line, err := mcp.EncodeRequest(mcp.Request{ID: &id, Method: mcp.MethodToolsCall, Params: params})
	if err != nil {
		t.Fatalf("EncodeRequest() error = %v", err)
	}

	got, err := mcp.DecodeLine(line)
	if err != nil {
		t.Fatalf("DecodeLine() error = %v", err)
	}
	want := map[string]any{
		"jsonrpc": "2.0",
		"id":      int64(42),
		"method":  "tools/call",
		"params":  params,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip = %#v, want %#v", got, want)
	}
}

func TestCodecRoundTripValues(t *testing.T) {
	tests := []struct {
		name  string
		value any
	}{
		{name: "escapes", value: "quote \" backslash \\ newline \n return \r tab \t backspace \b formfeed \f"},
		{name: "unicode", value: "héllo ✓ <b>&</b>"},
		{name: "true", value: true},
		{name: "false", value: false},
		{name: "null", value: nil},
		{name: "integer", value: int64(-7)},
		{name: "float", value: 2.25},
		{name: "empty object", value: map[string]any{}},
		{name: "empty array", value: []any{}},
		{name: "nested", value: map[string]any{
			"flags": []any{true, false, nil},
			"inner": map[string]any{"path": "C:\\scenes\\a\tb", "depth": int64(3)},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := int64(1)
			params := map[string]any{"value": tt.value}
			line, err := mcp.EncodeRequest(mcp.Request{ID: &id, Method: mcp.MethodToolsCall, Params: params})
			if err != nil {
				t.Fatalf("EncodeRequest() error = %v", err)
			}
			if strings.ContainsAny(string(line), "\n\r\t\b\f") {
				t.Errorf("encoded line carries a raw control character: %q", line)
			}

			got, err := mcp.DecodeLine(line)
			if err != nil {
				t.Fatalf("DecodeLine() error = %v", err)
			}
			gotParams := got.(map[string]any)["params"]
			if !reflect.DeepEqual(gotParams, params) {
				t.Errorf("round trip = %#v, want %#v", gotParams, params)
			}
		})
	}
}
