// Package tui hosts a tool server session in a terminal UI. The Bubble Tea frame loop is
// the cooperative host: every frame ticks the session pump once.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	mcp "github.com/TangGee/mcp-toolhost"
)

const frameInterval = time.Second / 60

// Session is the part of a client the UI drives.
type Session interface {
	mcp.ToolCaller
	State() mcp.State
	Err() error
	RefreshTools() error
	PendingCount() int
	ServerInfo() mcp.Info
}

// Ticker advances a session by one cooperative step.
type Ticker interface {
	Tick()
}

// Run shows the UI until the user quits or ctx is done. The session must already be
// connecting.
func Run(ctx context.Context, session Session, ticker Ticker, timeout time.Duration) error {
	program := tea.NewProgram(
		NewModel(session, ticker, timeout),
		tea.WithContext(ctx),
		tea.WithAltScreen(),
	)
	_, err := program.Run()
	return err
}

// Model implements tea.Model.
type Model struct {
	session Session
	ticker  Ticker
	timeout time.Duration

	feed    viewport.Model
	input   textinput.Model
	spinner spinner.Model

	log   *[]string
	calls *[]*mcp.Call
	state mcp.State

	width  int
	height int
	ready  bool
}

type frameMsg time.Time

// NewModel creates the UI model for session.
func NewModel(session Session, ticker Ticker, timeout time.Duration) Model {
	input := textinput.New()
	input.Placeholder = `move_object {"name":"Cube","position":[1,0,0]}`
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = pendingStyle

	return Model{
		session: session,
		ticker:  ticker,
		timeout: timeout,
		input:   input,
		spinner: sp,
		log:     &[]string{},
		calls:   &[]*mcp.Call{},
		state:   session.State(),
	}
}

func frame() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg { return frameMsg(t) })
}

// Init fulfills the Bubble Tea Model interface.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, frame())
}

// Update applies incoming Bubble Tea messages to the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleResize(msg), nil
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+d":
			return m, tea.Quit
		case "enter":
			return m.submit()
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	case frameMsg:
		m = m.advance()
		return m, frame()
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// advance ticks the session once and reports what changed.
func (m Model) advance() Model {
	m.ticker.Tick()

	if state := m.session.State(); state != m.state {
		m.state = state
		switch state {
		case mcp.StateReady:
			info := m.session.ServerInfo()
			m.appendLog(resultStyle.Render(fmt.Sprintf("connected to %s %s, %d tools", info.Name, info.Version, len(m.session.ListTools()))))
		case mcp.StateFailed:
			m.appendLog(errorStyle.Render(fmt.Sprintf("session failed: %v", m.session.Err())))
		default:
			m.appendLog(dimStyle.Render("session " + state.String()))
		}
	}

	remaining := (*m.calls)[:0]
	for _, call := range *m.calls {
		select {
		case <-call.Done():
			text, err := call.Result()
			if err != nil {
				m.appendLog(errorStyle.Render(fmt.Sprintf("#%d %s: %v", call.ID(), call.Tool(), err)))
			} else {
				m.appendLog(resultStyle.Render(fmt.Sprintf("#%d %s:", call.ID(), call.Tool())) + " " + text)
			}
		default:
			remaining = append(remaining, call)
		}
	}
	*m.calls = remaining

	return m
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	m.input.Reset()
	if strings.TrimSpace(line) == "" {
		return m, nil
	}
	m.appendLog(headerStyle.Render("> ") + line)

	cmd, err := parseInput(line)
	if err != nil {
		m.appendLog(errorStyle.Render(err.Error()))
		return m, nil
	}

	switch cmd.kind {
	case commandQuit:
		return m, tea.Quit
	case commandHelp:
		m.appendLog(dimStyle.Render("tool {json args} | /tools | /refresh | /quit"))
	case commandTools:
		tools := m.session.ListTools()
		if len(tools) == 0 {
			m.appendLog(dimStyle.Render("no tools available (session " + m.session.State().String() + ")"))
		}
		for _, t := range tools {
			m.appendLog(headerStyle.Render(t.Name) + " " + dimStyle.Render(t.Description))
		}
	case commandRefresh:
		if err := m.session.RefreshTools(); err != nil {
			m.appendLog(errorStyle.Render(err.Error()))
		}
	case commandCall:
		*m.calls = append(*m.calls, m.session.CallTool(cmd.tool, cmd.args, m.timeout))
	}
	return m, nil
}

func (m Model) handleResize(msg tea.WindowSizeMsg) Model {
	m.width = msg.Width
	m.height = msg.Height

	statusBarHeight := 1
	promptBarHeight := 1
	feedHeight := max(1, msg.Height-statusBarHeight-promptBarHeight)

	if !m.ready {
		m.feed = viewport.New(msg.Width, feedHeight)
		m.ready = true
	} else {
		m.feed.Width = msg.Width
		m.feed.Height = feedHeight
	}
	m.feed.SetContent(strings.Join(*m.log, "\n"))
	m.feed.GotoBottom()
	m.input.Width = max(10, msg.Width-4)
	return m
}

func (m *Model) appendLog(line string) {
	*m.log = append(*m.log, line)
	if m.ready {
		m.feed.SetContent(strings.Join(*m.log, "\n"))
		m.feed.GotoBottom()
	}
}

// View composes the feed, prompt bar and status bar.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	status := fmt.Sprintf("%s | %d pending", m.state, m.session.PendingCount())
	if len(*m.calls) > 0 || m.state == mcp.StateStarting || m.state == mcp.StateAwaitingHandshake || m.state == mcp.StateListingTools {
		status = m.spinner.View() + " " + status
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.feed.View(),
		"> "+m.input.View(),
		statusBarStyle.Width(m.width).Render(status),
	)
}
