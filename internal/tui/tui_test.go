package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcp "github.com/TangGee/mcp-toolhost"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    command
		wantErr bool
	}{
		{name: "tools", input: "/tools", want: command{kind: commandTools}},
		{name: "refresh", input: " /refresh ", want: command{kind: commandRefresh}},
		{name: "quit", input: "/q", want: command{kind: commandQuit}},
		{name: "unknown command", input: "/teleport", wantErr: true},
		{name: "empty", input: "  ", wantErr: true},
		{
			name:  "call without args",
			input: "list_objects",
			want:  command{kind: commandCall, tool: "list_objects", args: map[string]any{}},
		},
		{
			name:  "call with args",
			input: `move_object {"name":"Cube","position":[5,0,0.5]}`,
			want: command{kind: commandCall, tool: "move_object", args: map[string]any{
				"name":     "Cube",
				"position": []any{int64(5), int64(0), 0.5},
			}},
		},
		{name: "args not an object", input: "echo [1,2]", wantErr: true},
		{name: "args not json", input: "echo {text:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseInput(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type fakeSession struct {
	state   mcp.State
	tools   []mcp.Tool
	calls   []string
	refresh int
}

func (f *fakeSession) ListTools() []mcp.Tool { return f.tools }
func (f *fakeSession) State() mcp.State      { return f.state }
func (f *fakeSession) Err() error            { return nil }
func (f *fakeSession) RefreshTools() error   { f.refresh++; return nil }
func (f *fakeSession) PendingCount() int     { return 0 }
func (f *fakeSession) ServerInfo() mcp.Info  { return mcp.Info{Name: "scene", Version: "0.1.0"} }

func (f *fakeSession) CallTool(name string, args map[string]any, timeout time.Duration) *mcp.Call {
	f.calls = append(f.calls, name)
	// A client that never connected resolves the call immediately.
	return mcp.NewClient(mcp.Info{}, mcp.Command{}).CallTool(name, args, timeout)
}

type countingTicker struct{ ticks int }

func (c *countingTicker) Tick() { c.ticks++ }

func typeLine(t *testing.T, m tea.Model, line string) tea.Model {
	t.Helper()
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(line)})
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return m
}

func TestModelTicksAndReportsState(t *testing.T) {
	session := &fakeSession{state: mcp.StateStarting}
	ticker := &countingTicker{}

	var m tea.Model = NewModel(session, ticker, time.Second)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})

	session.state = mcp.StateReady
	session.tools = []mcp.Tool{{Name: "move_object", Description: "Move"}}
	m, cmd := m.Update(frameMsg(time.Now()))
	require.NotNil(t, cmd)
	assert.Equal(t, 1, ticker.ticks)

	model := m.(Model)
	assert.Equal(t, mcp.StateReady, model.state)
	assert.Contains(t, strings.Join(*model.log, "\n"), "connected to scene 0.1.0, 1 tools")
}

func TestModelSubmitsCommands(t *testing.T) {
	session := &fakeSession{state: mcp.StateReady, tools: []mcp.Tool{{Name: "echo"}}}
	ticker := &countingTicker{}

	var m tea.Model = NewModel(session, ticker, time.Second)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})

	m = typeLine(t, m, "/refresh")
	assert.Equal(t, 1, session.refresh)

	m = typeLine(t, m, `echo {"text":"hi"}`)
	assert.Equal(t, []string{"echo"}, session.calls)
	require.Len(t, *m.(Model).calls, 1)

	m, _ = m.Update(frameMsg(time.Now()))
	model := m.(Model)
	assert.Empty(t, *model.calls)
	assert.Contains(t, strings.Join(*model.log, "\n"), "client not ready")
}
