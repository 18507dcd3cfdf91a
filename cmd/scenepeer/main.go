// Command scenepeer runs the scene tool server on stdin and stdout. Logs go to stderr.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TangGee/mcp-toolhost/internal/logging"
	"github.com/TangGee/mcp-toolhost/servers/scene"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		opts      scene.Options
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:           "scenepeer",
		Short:         "MCP tool server editing a 3D scene over stdio",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := logging.New(logLevel, logFormat, os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			opts.Logger = logger

			srv, err := scene.NewServer(opts)
			if err != nil {
				return err
			}
			return srv.Serve(cmd.Context(), os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Tools, "tools", nil, "Tools to advertise, in order (default all)")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "Split tools/list into pages of this size")
	cmd.Flags().StringVar(&opts.InitializeError, "fail-initialize", "", "Fail initialize with this message")
	cmd.Flags().StringVar(&opts.StartupFailure, "fail-on-start", "", "Print this message to stderr and exit with code 2")
	cmd.Flags().StringVar(&opts.SceneFile, "scene-file", "", "Persist the scene to this JSON file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	return cmd
}
