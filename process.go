package mcp

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

var (
	defaultStartGrace = 500 * time.Millisecond
	defaultStopGrace  = 2 * time.Second

	// Time allowed after the peer exits for its last stdout lines to be read.
	exitDrainGrace = 200 * time.Millisecond
	// Time allowed for stderr to reach EOF before a startup failure is reported.
	stderrSettle = 100 * time.Millisecond
)

// Command describes how to launch the peer process.
type Command struct {
	// Path is the executable, resolved through PATH when it has no separator.
	Path string
	Args []string
	// Dir is the working directory; empty means the host's current directory.
	Dir string
	// Env entries (KEY=VALUE) are appended to the host environment.
	Env []string
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// Supervisor owns the peer process and its three standard streams. The streams are
// plain OS pipes created by the supervisor, so the peer never shares the host console
// and every handle can be force-closed during shutdown.
//
// A Supervisor launches at most one process. Stop is idempotent and safe to call from
// several goroutines; all callers return once teardown completed.
type Supervisor struct {
	logger     *slog.Logger
	startGrace time.Duration
	stopGrace  time.Duration
	readQueue  int
	writeQueue int
	clock      func() time.Time

	wake    chan struct{}
	stopped chan struct{}

	mu         sync.Mutex
	command    Command
	cmd        *exec.Cmd
	launchedAt time.Time
	writer     *lineWriter
	reader     *lineReader
	stderr     *stderrDrain
	exited     chan struct{}
	exitedAt   time.Time
	exitCode   int
	exitErr    error

	outputClosedAt time.Time

	stopOnce sync.Once
}

// WithSupervisorLogger sets the logger used for process lifecycle and stderr lines.
func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithStartGrace sets how long a freshly launched peer must stay alive to count as started.
func WithStartGrace(grace time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.startGrace = grace
	}
}

// WithStopGrace sets how long Stop waits for the peer to exit after stdin is closed
// before killing it.
func WithStopGrace(grace time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		s.stopGrace = grace
	}
}

// WithSupervisorClock replaces time.Now for the launch and exit stamps that Confirm and
// Lost compare against. It must be the clock the caller passes to those methods.
func WithSupervisorClock(now func() time.Time) SupervisorOption {
	return func(s *Supervisor) {
		s.clock = now
	}
}

// WithReadQueueSize bounds the number of decoded lines buffered between the reader
// goroutine and the host.
func WithReadQueueSize(size int) SupervisorOption {
	return func(s *Supervisor) {
		s.readQueue = size
	}
}

// WithWriteQueueSize bounds the number of outbound lines waiting for the peer's stdin.
func WithWriteQueueSize(size int) SupervisorOption {
	return func(s *Supervisor) {
		s.writeQueue = size
	}
}

// NewSupervisor creates a supervisor that has not launched anything yet.
func NewSupervisor(options ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		logger:   slog.Default(),
		clock:    time.Now,
		wake:     make(chan struct{}, 1),
		stopped:  make(chan struct{}),
		exitCode: -1,
	}
	for _, opt := range options {
		opt(s)
	}
	if s.startGrace <= 0 {
		s.startGrace = defaultStartGrace
	}
	if s.stopGrace <= 0 {
		s.stopGrace = defaultStopGrace
	}
	return s
}

// Start launches the peer and blocks for the start grace interval. It returns a
// *SpawnError when the executable cannot be started or the process exits within the
// grace interval; the error carries the exit code and captured stderr.
func (s *Supervisor) Start(command Command) error {
	if err := s.Launch(command); err != nil {
		return err
	}

	timer := time.NewTimer(s.startGrace)
	defer timer.Stop()

	select {
	case <-s.exited:
		select {
		case <-s.stderr.done:
		case <-time.After(stderrSettle):
		}
		return s.spawnFailure()
	case <-timer.C:
		return nil
	}
}

// Launch starts the peer without waiting for the grace interval. Only a missing or
// non-executable binary fails here; use Confirm to observe an early exit.
func (s *Supervisor) Launch(command Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return errors.New("supervisor already launched a process")
	}
	if command.Path == "" {
		return &SpawnError{ExitCode: -1, Err: errors.New("empty command")}
	}

	path, err := exec.LookPath(command.Path)
	if err != nil {
		return &SpawnError{Command: command.String(), ExitCode: -1, Err: err}
	}

	cmd := exec.Command(path, command.Args...)
	cmd.Dir = command.Dir
	if len(command.Env) > 0 {
		cmd.Env = append(os.Environ(), command.Env...)
	}
	configureProcess(cmd)

	var parentEnds, childEnds []*os.File
	pipe := func() (*os.File, *os.File, error) {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create pipe: %w", err)
		}
		return r, w, nil
	}
	fail := func(err error) error {
		closeFiles(parentEnds...)
		closeFiles(childEnds...)
		return &SpawnError{Command: command.String(), ExitCode: -1, Err: err}
	}

	stdinR, stdinW, err := pipe()
	if err != nil {
		return fail(err)
	}
	parentEnds, childEnds = append(parentEnds, stdinW), append(childEnds, stdinR)
	stdoutR, stdoutW, err := pipe()
	if err != nil {
		return fail(err)
	}
	parentEnds, childEnds = append(parentEnds, stdoutR), append(childEnds, stdoutW)
	stderrR, stderrW, err := pipe()
	if err != nil {
		return fail(err)
	}
	parentEnds, childEnds = append(parentEnds, stderrR), append(childEnds, stderrW)

	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		return fail(err)
	}
	// The child holds its own copies; keeping ours open would hide EOF.
	closeFiles(childEnds...)

	logger := s.logger.With("peer", command.Path, "pid", cmd.Process.Pid)
	s.command = command
	s.cmd = cmd
	s.launchedAt = s.clock()
	s.exited = make(chan struct{})
	s.writer = newLineWriter(stdinW, s.writeQueue, logger)
	s.reader = newLineReader(stdoutR, s.readQueue, s.wake, logger)
	s.stderr = newStderrDrain(stderrR, logger)

	go s.wait(cmd, s.exited, logger)

	logger.Info("peer launched", "args", command.Args)
	return nil
}

// Confirm reports whether the peer survived the start grace interval as of now. It never
// blocks: (false, nil) means the grace interval is still running, an error means the peer
// exited during it. The error is held back briefly after the exit so stderr written just
// before it can still reach the report.
func (s *Supervisor) Confirm(now time.Time) (bool, error) {
	s.mu.Lock()
	exited, launchedAt, drain := s.exited, s.launchedAt, s.stderr
	s.mu.Unlock()

	if exited == nil {
		return false, &SpawnError{Command: s.command.String(), ExitCode: -1, Err: errors.New("not launched")}
	}
	select {
	case <-exited:
		s.mu.Lock()
		exitedAt := s.exitedAt
		s.mu.Unlock()
		select {
		case <-drain.done:
		default:
			if now.Sub(exitedAt) < stderrSettle {
				return false, nil
			}
		}
		return false, s.spawnFailure()
	default:
	}
	return now.Sub(launchedAt) >= s.startGrace, nil
}

// IsAlive reports whether the peer process is running. It never panics; a supervisor
// that never launched, or whose handles are gone, is not alive.
func (s *Supervisor) IsAlive() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()

	if exited == nil {
		return false
	}
	select {
	case <-exited:
		return false
	default:
		return true
	}
}

// ExitCode returns the peer's exit code, or -1 while it runs or when it was killed by a
// signal.
func (s *Supervisor) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// Stderr returns the last lines the peer wrote to stderr.
func (s *Supervisor) Stderr() string {
	s.mu.Lock()
	drain := s.stderr
	s.mu.Unlock()
	if drain == nil {
		return ""
	}
	return drain.Tail()
}

// Send queues one encoded line for the peer's stdin without blocking.
func (s *Supervisor) Send(line []byte) error {
	s.mu.Lock()
	writer := s.writer
	s.mu.Unlock()
	if writer == nil {
		return ErrTransportClosed
	}
	return writer.enqueue(line)
}

// Drain appends all lines decoded so far to dst without blocking.
func (s *Supervisor) Drain(dst []incoming) []incoming {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()
	if reader == nil {
		return dst
	}
	return reader.drain(dst)
}

// Lost returns a non-nil error once the transport can no longer deliver responses: the
// peer's stdout reached EOF, or the peer exited and the short drain interval for its last
// lines has passed.
func (s *Supervisor) Lost(now time.Time) error {
	s.mu.Lock()
	reader, exited, exitedAt, code := s.reader, s.exited, s.exitedAt, s.exitCode
	s.mu.Unlock()

	if reader == nil || exited == nil {
		return ErrTransportClosed
	}

	processGone := false
	select {
	case <-exited:
		processGone = true
	default:
	}

	switch {
	case processGone && (reader.finished() || now.Sub(exitedAt) >= exitDrainGrace):
		return &PeerExitError{ExitCode: code, Stderr: s.Stderr(), Reason: "exited"}
	case !processGone && reader.finished():
		// stdout usually reaches EOF just before the exit is reaped; wait briefly so the
		// exit code can be reported.
		s.mu.Lock()
		if s.outputClosedAt.IsZero() {
			s.outputClosedAt = now
		}
		closedAt := s.outputClosedAt
		s.mu.Unlock()
		if now.Sub(closedAt) >= exitDrainGrace {
			return &PeerExitError{ExitCode: -1, Stderr: s.Stderr(), Reason: "closed its output"}
		}
	}
	return nil
}

// Wake returns a channel signalled whenever a line is queued, stdout closes or the peer
// exits. Blocking wrappers wait on it instead of sleeping.
func (s *Supervisor) Wake() <-chan struct{} {
	return s.wake
}

// Stop shuts the peer down: stdin is closed first, the peer gets the stop grace interval
// to exit on its own, then it is killed. Finally the stdout and stderr readers are
// force-closed and joined. Calling Stop more than once, or before Launch, is a no-op.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(s.stop)
}

// Done returns a channel closed once Stop has finished tearing the peer down.
func (s *Supervisor) Done() <-chan struct{} {
	return s.stopped
}

func (s *Supervisor) stop() {
	defer close(s.stopped)

	s.mu.Lock()
	cmd, writer, reader, drain, exited := s.cmd, s.writer, s.reader, s.stderr, s.exited
	s.mu.Unlock()

	if cmd == nil {
		return
	}

	writer.close()

	timer := time.NewTimer(s.stopGrace)
	defer timer.Stop()

	select {
	case <-exited:
	case <-timer.C:
		s.logger.Warn("peer ignored stdin close, killing", "peer", s.command.Path, "pid", cmd.Process.Pid)
		if err := killProcess(cmd); err != nil {
			s.logger.Error("failed to kill peer", "err", err)
		}
		timer.Reset(s.stopGrace)
		select {
		case <-exited:
		case <-timer.C:
			s.logger.Error("peer still running after kill", "pid", cmd.Process.Pid)
		}
	}

	reader.close()
	drain.close()
}

func (s *Supervisor) wait(cmd *exec.Cmd, exited chan struct{}, logger *slog.Logger) {
	err := cmd.Wait()

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	s.mu.Lock()
	s.exitCode = code
	s.exitErr = err
	s.exitedAt = s.clock()
	s.mu.Unlock()

	close(exited)
	notifyWake(s.wake)

	logger.Info("peer exited", "code", code, "err", err)
}

func (s *Supervisor) spawnFailure() error {
	s.mu.Lock()
	drain, code, exitErr := s.stderr, s.exitCode, s.exitErr
	s.mu.Unlock()

	err := exitErr
	if err == nil {
		err = errors.New("exited during startup")
	}
	return &SpawnError{
		Command:  s.command.String(),
		ExitCode: code,
		Stderr:   drain.Tail(),
		Err:      err,
	}
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Path
	}
	return c.Path + " " + strings.Join(c.Args, " ")
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}
