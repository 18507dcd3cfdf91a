package main

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/TangGee/mcp-toolhost/internal/tui"
)

func newTUICmd(opts *rootOptions) *cobra.Command {
	var logFile string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Drive the tool server from an interactive terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// The UI owns the terminal, so logs go to a file or nowhere.
			var logOutput io.Writer = io.Discard
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
				if err != nil {
					return err
				}
				defer f.Close()
				logOutput = f
			}

			s, err := opts.openSession(logOutput)
			if err != nil {
				return err
			}
			defer s.Close()

			return tui.Run(cmd.Context(), s.client, s.pump, time.Duration(s.profile.CallTimeout))
		},
	}
	cmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file")
	return cmd
}
