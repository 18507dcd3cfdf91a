package mcp_test

import (
	"errors"
	"strings"
	"testing"

	mcp "github.com/TangGee/mcp-toolhost"
)

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{
			name: "spawn error with stderr",
			err: &mcp.SpawnError{
				Command:  "scene --tools echo",
				ExitCode: 2,
				Stderr:   "license missing",
				Err:      errors.New("exited during startup"),
			},
			want: []string{`"scene --tools echo"`, "exit code 2", "stderr: license missing", "check that the tool server is installed"},
		},
		{
			name: "peer exit",
			err:  &mcp.PeerExitError{ExitCode: 3, Reason: "exited"},
			want: []string{"tool server exited", "exit code 3"},
		},
		{
			name: "closed output",
			err:  &mcp.PeerExitError{ExitCode: -1, Reason: "closed its output"},
			want: []string{"tool server closed its output"},
		},
		{
			name: "handshake",
			err:  &mcp.HandshakeError{Stage: mcp.MethodToolsList, Err: mcp.ErrTimeout},
			want: []string{"tools/list handshake failed", "request timed out"},
		},
		{
			name: "tool error with id",
			err:  &mcp.ToolError{Tool: "move_object", ID: 4, Err: mcp.ErrEmptyResult},
			want: []string{`tool "move_object" (request 4)`, "no text content"},
		},
		{
			name: "remote error with data",
			err:  &mcp.JSONRPCError{Code: -32602, Message: "invalid params", Data: "position"},
			want: []string{"remote error -32602: invalid params (position)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() = %q, want it to contain %q", msg, want)
				}
			}
		})
	}
}

func TestErrorMatching(t *testing.T) {
	exit := &mcp.PeerExitError{ExitCode: 1}
	if !errors.Is(exit, mcp.ErrTransportClosed) {
		t.Error("PeerExitError does not match ErrTransportClosed")
	}

	toolErr := &mcp.ToolError{Tool: "echo", Err: &mcp.HandshakeError{Stage: mcp.MethodInitialize, Err: exit}}
	var got *mcp.PeerExitError
	if !errors.As(toolErr, &got) || got != exit {
		t.Error("errors.As did not find the PeerExitError through the chain")
	}
	if errors.Is(&mcp.ToolError{Err: mcp.ErrTimeout}, mcp.ErrTransportClosed) {
		t.Error("timeout matches ErrTransportClosed")
	}
}
