package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Request is an outbound JSON-RPC 2.0 message. A nil ID encodes a notification.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// DecodeError reports a line read from the peer that is not a single JSON document.
// The session logs and skips such lines; they never affect other requests.
type DecodeError struct {
	Line string
	Err  error
}

var errTrailingData = errors.New("trailing data after JSON value")

// EncodeRequest serializes req into one JSON line without the terminating newline.
// The JSON encoder escapes control characters inside strings, so the result never
// contains a raw newline.
func EncodeRequest(req Request) ([]byte, error) {
	if req.JSONRPC == "" {
		req.JSONRPC = JSONRPCVersion
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", req.Method, err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// EncodeNotification serializes a request without an id.
func EncodeNotification(method string, params any) ([]byte, error) {
	return EncodeRequest(Request{JSONRPC: JSONRPCVersion, Method: method, Params: params})
}

// DecodeLine parses one line received from the peer into a generic value tree made of
// map[string]any, []any, string, bool, nil, int64 and float64. Numbers without a
// fractional part or exponent decode as int64 when they fit, every other number as
// float64.
//
// Blank lines decode to (nil, nil) and should be skipped by the caller. Anything that
// is not exactly one JSON value yields a *DecodeError.
func DecodeLine(line []byte) (any, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &DecodeError{Line: string(trimmed), Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &DecodeError{Line: string(trimmed), Err: errTrailingData}
	}

	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		s := v.String()
		if !strings.ContainsAny(s, ".eE") {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return i
			}
		}
		// ParseFloat only fails on range errors here and still returns +-Inf.
		f, _ := strconv.ParseFloat(s, 64)
		return f
	case map[string]any:
		for k, item := range v {
			v[k] = normalizeNumbers(item)
		}
		return v
	case []any:
		for i, item := range v {
			v[i] = normalizeNumbers(item)
		}
		return v
	default:
		return v
	}
}

func asObject(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asInt accepts int64 and integral float64 values, peers sometimes echo ids as 1.0.
func asInt(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

func (e *DecodeError) Error() string {
	line := e.Line
	if len(line) > 80 {
		line = line[:77] + "..."
	}
	return fmt.Sprintf("failed to decode line %q: %v", line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// reply is a response sent back to a request the peer originated.
type reply struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

func encodeReply(id any, result any, rpcErr *JSONRPCError) ([]byte, error) {
	bs, err := json.Marshal(reply{JSONRPC: JSONRPCVersion, ID: id, Result: result, Error: rpcErr})
	if err != nil {
		return nil, fmt.Errorf("failed to encode reply: %w", err)
	}
	return bs, nil
}
