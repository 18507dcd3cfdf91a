package mcp

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout is returned when a request's deadline elapses before the peer answers.
	ErrTimeout = errors.New("request timed out")
	// ErrNotConnected is returned by calls issued while the client is not Ready.
	ErrNotConnected = errors.New("client not ready")
	// ErrEmptyResult is returned when a tool result carries no text content block.
	ErrEmptyResult = errors.New("tool result has no text content")
	// ErrTransportClosed is returned when the peer process exited or its output closed.
	ErrTransportClosed = errors.New("transport closed")
	// ErrToolFailed wraps the text of a tool result flagged with isError.
	ErrToolFailed = errors.New("tool reported an error")
	// ErrWriteQueueFull is returned when outbound lines are produced faster than the
	// peer consumes them.
	ErrWriteQueueFull = errors.New("write queue full")
	// ErrCallPending is returned by Call.Result before the call has resolved.
	ErrCallPending = errors.New("call still pending")
	// ErrAlreadyConnected is returned when Connect is called twice on one client.
	ErrAlreadyConnected = errors.New("client already connected")
)

// SpawnError reports a peer that could not be started: the executable is missing, or the
// process exited during the start grace interval. Stderr holds whatever the peer wrote
// before exiting.
type SpawnError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

// PeerExitError reports a peer that went away after it had started. It matches
// ErrTransportClosed with errors.Is.
type PeerExitError struct {
	ExitCode int
	Stderr   string
	Reason   string
}

// HandshakeError reports a failed initialize or tools/list exchange. Stage names the
// method that failed.
type HandshakeError struct {
	Stage string
	Err   error
}

// ToolError is the error returned by a tool call. Err is one of ErrTimeout,
// ErrNotConnected, ErrEmptyResult, ErrToolFailed, a transport error matching
// ErrTransportClosed, or a *JSONRPCError reported by the peer.
type ToolError struct {
	Tool string
	ID   int64
	Err  error
}

func (e *SpawnError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed to start tool server %q", e.Command)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, "; stderr: %s", e.Stderr)
	}
	b.WriteString("; check that the tool server is installed and its command is configured")
	return b.String()
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *PeerExitError) Error() string {
	var b strings.Builder
	b.WriteString("tool server ")
	if e.Reason != "" {
		b.WriteString(e.Reason)
	} else {
		b.WriteString("exited")
	}
	if e.ExitCode >= 0 {
		fmt.Fprintf(&b, " (exit code %d)", e.ExitCode)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, "; stderr: %s", e.Stderr)
	}
	return b.String()
}

// Is reports whether target is ErrTransportClosed.
func (e *PeerExitError) Is(target error) bool { return target == ErrTransportClosed }

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("%s handshake failed: %v", e.Stage, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

func (e *ToolError) Error() string {
	if e.ID > 0 {
		return fmt.Sprintf("tool %q (request %d): %v", e.Tool, e.ID, e.Err)
	}
	return fmt.Sprintf("tool %q: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }
