package tui

import (
	"errors"
	"fmt"
	"strings"

	mcp "github.com/TangGee/mcp-toolhost"
)

type commandKind int

const (
	commandCall commandKind = iota
	commandTools
	commandRefresh
	commandQuit
	commandHelp
)

type command struct {
	kind commandKind
	tool string
	args map[string]any
}

// parseInput reads one prompt line: a slash command, or a tool name optionally followed
// by a JSON object of arguments.
func parseInput(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, errors.New("empty input")
	}

	if strings.HasPrefix(line, "/") {
		switch strings.ToLower(line) {
		case "/tools":
			return command{kind: commandTools}, nil
		case "/refresh":
			return command{kind: commandRefresh}, nil
		case "/quit", "/q":
			return command{kind: commandQuit}, nil
		case "/help":
			return command{kind: commandHelp}, nil
		default:
			return command{}, fmt.Errorf("unknown command %s", line)
		}
	}

	name, rest, _ := strings.Cut(line, " ")
	cmd := command{kind: commandCall, tool: name, args: map[string]any{}}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return cmd, nil
	}

	v, err := mcp.DecodeLine([]byte(rest))
	if err != nil {
		return command{}, fmt.Errorf("arguments: %w", err)
	}
	args, ok := v.(map[string]any)
	if !ok {
		return command{}, fmt.Errorf("arguments must be a JSON object, got %T", v)
	}
	cmd.args = args
	return cmd, nil
}
