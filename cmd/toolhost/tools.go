package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	mcp "github.com/TangGee/mcp-toolhost"
)

var (
	toolNameStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	toolDescStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
)

func newToolsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the tools offered by the tool server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := opts.openSession(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.pump.AwaitReady(cmd.Context()); err != nil {
				return err
			}
			printTools(cmd.OutOrStdout(), s.client.ListTools(), outputWidth(cmd.OutOrStdout()))
			return nil
		},
	}
}

func printTools(w io.Writer, tools []mcp.Tool, width int) {
	nameWidth := 0
	for _, t := range tools {
		nameWidth = max(nameWidth, lipgloss.Width(t.Name))
	}

	for _, t := range tools {
		desc := strings.Join(strings.Fields(t.Description), " ")
		if width > 0 {
			if room, runes := width-nameWidth-2, []rune(desc); room > 3 && len(runes) > room {
				desc = string(runes[:room-3]) + "..."
			}
		}
		name := toolNameStyle.Width(nameWidth).Render(t.Name)
		fmt.Fprintln(w, lipgloss.JoinHorizontal(lipgloss.Top, name, "  ", toolDescStyle.Render(desc)))
	}
}

// outputWidth returns the terminal width of w, or 0 when w is not a terminal.
func outputWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
