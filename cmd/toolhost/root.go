package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	mcp "github.com/TangGee/mcp-toolhost"
	"github.com/TangGee/mcp-toolhost/internal/config"
	"github.com/TangGee/mcp-toolhost/internal/logging"
)

type rootOptions struct {
	configPath  string
	command     string
	args        []string
	logLevel    string
	logFormat   string
	eventsAddr  string
	callTimeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "toolhost",
		Short:         "Host an MCP tool server over stdio",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Tool server profile (.toml or .yaml)")
	root.PersistentFlags().StringVar(&opts.command, "command", "", "Tool server command line, overrides the profile")
	root.PersistentFlags().StringArrayVar(&opts.args, "arg", nil, "Extra argument for the tool server (repeatable)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "auto", "Log format (text, json, auto)")
	root.PersistentFlags().StringVar(&opts.eventsAddr, "events", "", "Serve session events as SSE on this address")
	root.PersistentFlags().DurationVar(&opts.callTimeout, "call-timeout", 0, "Default tool call timeout")

	root.AddCommand(
		newToolsCmd(opts),
		newCallCmd(opts),
		newTUICmd(opts),
	)
	return root
}

// profile merges the profile file, the environment and the flags, in that order.
func (o *rootOptions) profile() (*config.Profile, error) {
	p := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return nil, err
		}
		p = loaded
	}
	if err := p.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if fields := strings.Fields(o.command); len(fields) > 0 {
		p.Command, p.Args = fields[0], fields[1:]
	}
	p.Args = append(p.Args, o.args...)
	if o.eventsAddr != "" {
		p.EventsAddr = o.eventsAddr
	}
	if o.callTimeout > 0 {
		p.CallTimeout = config.Duration(o.callTimeout)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

type session struct {
	client  *mcp.Client
	pump    *mcp.Pump
	profile *config.Profile
	logger  *slog.Logger

	feed   *mcp.EventFeed
	server *http.Server
}

// openSession connects to the tool server described by the options. Close must be
// called once the session is no longer needed.
func (o *rootOptions) openSession(logOutput io.Writer) (*session, error) {
	p, err := o.profile()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(o.logLevel, o.logFormat, logOutput)
	if err != nil {
		return nil, err
	}

	s := &session{profile: p, logger: logger}
	options := append(p.ClientOptions(), mcp.WithClientLogger(logger))

	if p.EventsAddr != "" {
		s.feed = mcp.NewEventFeed(mcp.WithEventFeedLogger(logger))
		if err := s.serveEvents(p.EventsAddr); err != nil {
			return nil, err
		}
		options = append(options, mcp.WithEventListener(s.feed))
	}

	s.client = mcp.NewClient(p.ClientInfo(), p.MCPCommand(), options...)
	s.pump = mcp.NewPump(s.client)

	if err := s.client.Connect(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) serveEvents(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for events: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /events", s.feed)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("event server stopped", "err", err)
		}
	}()
	s.logger.Info("serving session events", "addr", ln.Addr().String())
	return nil
}

func (s *session) Close() {
	if s.client != nil {
		s.client.Disconnect()
		<-s.client.Stopped()
	}
	if s.feed != nil {
		s.feed.Close()
	}
	if s.server != nil {
		_ = s.server.Close()
	}
}
