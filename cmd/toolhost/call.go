package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	mcp "github.com/TangGee/mcp-toolhost"
)

func newCallCmd(opts *rootOptions) *cobra.Command {
	var rawArgs string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Call one tool and print its text result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseArgs(rawArgs)
			if err != nil {
				return err
			}

			s, err := opts.openSession(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.pump.AwaitReady(cmd.Context()); err != nil {
				return err
			}
			if _, ok := s.client.FindTool(args[0]); !ok {
				s.logger.Warn("tool not in catalog, calling anyway", "tool", args[0])
			}

			call := s.client.CallTool(args[0], toolArgs, timeout)
			text, err := s.pump.Await(cmd.Context(), call)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
	cmd.Flags().StringVarP(&rawArgs, "args", "a", "{}", "Tool arguments as a JSON object")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Call timeout (default from profile)")
	return cmd
}

func parseArgs(raw string) (map[string]any, error) {
	v, err := mcp.DecodeLine([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("--args: %w", err)
	}
	if v == nil {
		return map[string]any{}, nil
	}
	args, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("--args must be a JSON object, got %T", v)
	}
	return args, nil
}
