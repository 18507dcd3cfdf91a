// Package config loads tool server profiles for the toolhost command.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	mcp "github.com/TangGee/mcp-toolhost"
)

// Profile describes one tool server and how to talk to it. It is read from a TOML or
// YAML file; field names are the same in both.
type Profile struct {
	Command string            `toml:"command" yaml:"command"`
	Args    []string          `toml:"args" yaml:"args"`
	Dir     string            `toml:"dir" yaml:"dir"`
	Env     map[string]string `toml:"env" yaml:"env"`

	Client ClientConfig `toml:"client" yaml:"client"`

	HandshakeTimeout Duration `toml:"handshake_timeout" yaml:"handshake_timeout"`
	CallTimeout      Duration `toml:"call_timeout" yaml:"call_timeout"`
	StartGrace       Duration `toml:"start_grace" yaml:"start_grace"`
	StopGrace        Duration `toml:"stop_grace" yaml:"stop_grace"`
	QueueSize        int      `toml:"queue_size" yaml:"queue_size"`

	// EventsAddr, when set, serves the session event stream over HTTP.
	EventsAddr string `toml:"events_addr" yaml:"events_addr"`
}

// ClientConfig is the identity sent during the handshake.
type ClientConfig struct {
	Name    string `toml:"name" yaml:"name"`
	Version string `toml:"version" yaml:"version"`
}

// Duration is a time.Duration written as a string such as "5s".
type Duration time.Duration

// Default returns a profile with the client identity and timeouts filled in and no
// command.
func Default() *Profile {
	return &Profile{
		Client:           ClientConfig{Name: "toolhost", Version: "0.1.0"},
		HandshakeTimeout: Duration(10 * time.Second),
		CallTimeout:      Duration(10 * time.Second),
	}
}

// Load reads the profile at path on top of Default. The format follows the extension:
// .toml, .yaml or .yml.
func Load(path string) (*Profile, error) {
	p := Default()

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		md, err := toml.DecodeFile(path, p)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parsing %s: unknown keys %v", path, undecoded)
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(p); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported profile format %q", ext)
	}

	return p, nil
}

// ApplyEnv overrides the command and call timeout from TOOLHOST_COMMAND and
// TOOLHOST_CALL_TIMEOUT.
func (p *Profile) ApplyEnv(getenv func(string) string) error {
	if command := getenv("TOOLHOST_COMMAND"); command != "" {
		fields := strings.Fields(command)
		p.Command, p.Args = fields[0], fields[1:]
	}
	if raw := getenv("TOOLHOST_CALL_TIMEOUT"); raw != "" {
		d, err := parseDuration(raw)
		if err != nil {
			return fmt.Errorf("TOOLHOST_CALL_TIMEOUT: %w", err)
		}
		p.CallTimeout = Duration(d)
	}
	return nil
}

// Validate reports the first problem that would keep the profile from starting a session.
func (p *Profile) Validate() error {
	if p.Command == "" {
		return errors.New("no tool server command configured")
	}
	if p.HandshakeTimeout < 0 || p.CallTimeout < 0 || p.StartGrace < 0 || p.StopGrace < 0 {
		return errors.New("timeouts must not be negative")
	}
	if p.QueueSize < 0 {
		return errors.New("queue_size must not be negative")
	}
	return nil
}

// MCPCommand returns the launch description of the tool server.
func (p *Profile) MCPCommand() mcp.Command {
	keys := make([]string, 0, len(p.Env))
	for k := range p.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+p.Env[k])
	}

	return mcp.Command{
		Path: p.Command,
		Args: slices.Clone(p.Args),
		Dir:  p.Dir,
		Env:  env,
	}
}

// ClientInfo returns the identity sent during the handshake.
func (p *Profile) ClientInfo() mcp.Info {
	return mcp.Info{Name: p.Client.Name, Version: p.Client.Version}
}

// ClientOptions converts the timeouts and sizes of the profile into client options.
func (p *Profile) ClientOptions() []mcp.ClientOption {
	return []mcp.ClientOption{
		mcp.WithHandshakeTimeout(time.Duration(p.HandshakeTimeout)),
		mcp.WithCallTimeout(time.Duration(p.CallTimeout)),
		mcp.WithClientStartGrace(time.Duration(p.StartGrace)),
		mcp.WithClientStopGrace(time.Duration(p.StopGrace)),
		mcp.WithQueueSize(p.QueueSize),
	}
}

// UnmarshalText implements encoding.TextUnmarshaler, used by the TOML decoder.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	return d.UnmarshalText([]byte(node.Value))
}

// parseDuration accepts Go duration strings and plain integers as milliseconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
