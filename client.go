package mcp

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ClientOption is a function that configures a client.
type ClientOption func(*Client)

// State is the lifecycle state of a Client.
type State int

const (
	// StateNotStarted is the state of a client before Connect.
	StateNotStarted State = iota
	// StateStarting means the peer was launched and is inside its start grace interval.
	StateStarting
	// StateAwaitingHandshake means initialize was sent and the reply is pending.
	StateAwaitingHandshake
	// StateListingTools means the tool catalog is being retrieved.
	StateListingTools
	// StateReady means tools can be called.
	StateReady
	// StateFailed is terminal; Err reports the cause.
	StateFailed
	// StateStopped is terminal and follows Disconnect.
	StateStopped
)

var stateNames = map[State]string{
	StateNotStarted:        "not_started",
	StateStarting:          "starting",
	StateAwaitingHandshake: "awaiting_handshake",
	StateListingTools:      "listing_tools",
	StateReady:             "ready",
	StateFailed:            "failed",
	StateStopped:           "stopped",
}

// Client is a session with one tool server process speaking MCP over stdio.
//
// Nothing on a Client blocks on process I/O. Connect launches the peer and returns;
// the handshake, the tool catalog and every tool call then progress on calls to
// Pump.Tick, which the host issues from its own loop. Responses are matched to
// requests by id only, so the peer may answer in any order.
//
// A Client is used for a single session. Once it reaches StateFailed or StateStopped
// a new Client is required.
type Client struct {
	id      string
	info    Info
	command Command
	peer    peer
	logger  *slog.Logger
	now     func() time.Time

	listener         EventListener
	handshakeTimeout time.Duration
	callTimeout      time.Duration
	startGrace       time.Duration
	stopGrace        time.Duration
	queueSize        int

	mu         sync.Mutex
	state      State
	err        error
	nextID     int64
	pending    map[int64]*pendingRequest
	tools      []Tool
	serverInfo Info
	refreshing bool

	// pollMu keeps poll single-entry; a Tick issued from inside a callback is skipped.
	pollMu sync.Mutex
	inbox  []incoming
}

// peer is the transport side of a session. *Supervisor implements it.
type peer interface {
	Launch(Command) error
	Confirm(now time.Time) (bool, error)
	Send(line []byte) error
	Drain(dst []incoming) []incoming
	Lost(now time.Time) error
	Wake() <-chan struct{}
	Stop()
	Done() <-chan struct{}
}

type pendingRequest struct {
	id         int64
	method     string
	issuedAt   time.Time
	deadline   time.Time
	onComplete func(response)
}

type response struct {
	id     int64
	result any
	err    error
}

var (
	defaultHandshakeTimeout = 10 * time.Second
	defaultCallTimeout      = 10 * time.Second

	// Bound on tools/list pages followed through nextCursor.
	maxCatalogPages = 64
)

// WithClientLogger sets the logger for the client and the supervisor it creates.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHandshakeTimeout sets the deadline of the initialize and tools/list requests.
func WithHandshakeTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.handshakeTimeout = timeout
	}
}

// WithCallTimeout sets the default deadline of tool calls issued without one.
func WithCallTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.callTimeout = timeout
	}
}

// WithClientStartGrace sets how long the peer must stay alive before the handshake starts.
func WithClientStartGrace(grace time.Duration) ClientOption {
	return func(c *Client) {
		c.startGrace = grace
	}
}

// WithClientStopGrace sets how long the peer may take to exit after stdin is closed.
func WithClientStopGrace(grace time.Duration) ClientOption {
	return func(c *Client) {
		c.stopGrace = grace
	}
}

// WithQueueSize bounds the queue of lines read from the peer but not yet polled.
func WithQueueSize(size int) ClientOption {
	return func(c *Client) {
		c.queueSize = size
	}
}

// WithEventListener registers a listener for state changes, catalog updates and call
// completions. The listener runs on the goroutine calling Tick and must not block.
func WithEventListener(listener EventListener) ClientOption {
	return func(c *Client) {
		c.listener = listener
	}
}

// WithClock replaces time.Now for deadlines and grace checks.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

func withPeer(p peer) ClientOption {
	return func(c *Client) {
		c.peer = p
	}
}

// NewClient creates a client for the tool server started by command. The info parameter
// is sent as clientInfo during the handshake. The peer is not launched until Connect.
func NewClient(info Info, command Command, options ...ClientOption) *Client {
	c := &Client{
		id:      uuid.New().String(),
		info:    info,
		command: command,
		logger:  slog.Default(),
		now:     time.Now,
		pending: make(map[int64]*pendingRequest),
		tools:   []Tool{},
	}
	for _, opt := range options {
		opt(c)
	}

	if c.handshakeTimeout <= 0 {
		c.handshakeTimeout = defaultHandshakeTimeout
	}
	if c.callTimeout <= 0 {
		c.callTimeout = defaultCallTimeout
	}
	c.logger = c.logger.With("session", c.id)

	if c.peer == nil {
		c.peer = NewSupervisor(
			WithSupervisorLogger(c.logger),
			WithStartGrace(c.startGrace),
			WithStopGrace(c.stopGrace),
			WithReadQueueSize(c.queueSize),
			WithSupervisorClock(c.now),
		)
	}

	return c
}

// Connect launches the peer process and returns without waiting for it. A missing
// executable is reported here as a *SpawnError and leaves the client Failed. Otherwise
// the client is Starting and the handshake proceeds on subsequent ticks; observe State
// or use Pump.AwaitReady.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state != StateNotStarted {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateStarting
	c.mu.Unlock()

	c.logger.Info("connecting to tool server", "command", c.command.String())
	c.emit(Event{Type: EventState, State: StateStarting})

	if err := c.peer.Launch(c.command); err != nil {
		c.fail(err)
		return err
	}
	return nil
}

// Disconnect stops the session and the peer process. Pending requests resolve with
// ErrTransportClosed. A failed session stays Failed; its peer is still stopped. The peer
// is shut down in the background; wait on Stopped to know when it is gone.
func (c *Client) Disconnect() {
	c.mu.Lock()
	var pending []*pendingRequest
	changed := !c.state.Terminal()
	if changed {
		c.state = StateStopped
		pending = c.takePending()
	}
	c.mu.Unlock()

	if changed {
		c.logger.Info("disconnecting from tool server", "pending", len(pending))
		c.resolveAll(pending, ErrTransportClosed)
		c.emit(Event{Type: EventState, State: StateStopped})
	}
	go c.peer.Stop()
}

// Stopped returns a channel closed once the peer process has exited or was killed after
// Disconnect or a failure.
func (c *Client) Stopped() <-chan struct{} {
	return c.peer.Done()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the cause of a failed session, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// PendingCount returns the number of requests awaiting a response.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// ID returns the session identifier carried in logs and events.
func (c *Client) ID() string {
	return c.id
}

// ServerInfo returns the serverInfo reported by the peer during the handshake.
func (c *Client) ServerInfo() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// RefreshTools re-lists the tool catalog. It returns at once; the new catalog replaces
// the current one when the last page arrives. On failure the current catalog is kept.
func (c *Client) RefreshTools() error {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.refreshing {
		c.mu.Unlock()
		return nil
	}
	c.refreshing = true
	c.mu.Unlock()

	c.fetchCatalog(func(tools []Tool, err error) {
		c.mu.Lock()
		c.refreshing = false
		if err == nil && c.state == StateReady {
			c.tools = tools
		}
		c.mu.Unlock()

		if err != nil {
			c.logger.Warn("failed to refresh tool catalog", "err", err)
			return
		}
		c.logger.Info("tool catalog refreshed", "tools", len(tools))
		c.emit(Event{Type: EventCatalog, Tools: len(tools)})
	})
	return nil
}

// poll runs one cooperative step: confirm start, drain queued lines and resolve their
// requests, sweep deadlines, and fail the session if the transport is gone.
func (c *Client) poll() {
	if !c.pollMu.TryLock() {
		return
	}
	defer c.pollMu.Unlock()

	now := c.now()
	state := c.State()
	if state == StateNotStarted || state.Terminal() {
		return
	}

	if state == StateStarting {
		started, err := c.peer.Confirm(now)
		if err != nil {
			c.fail(err)
			return
		}
		if !started {
			return
		}
		c.beginHandshake()
	}

	// Checked before draining so lines written just before the peer exited are still
	// dispatched.
	lost := c.peer.Lost(now)

	c.inbox = c.peer.Drain(c.inbox[:0])
	for _, in := range c.inbox {
		c.dispatch(in)
	}
	clear(c.inbox)

	c.sweep(now)

	if lost != nil {
		c.fail(lost)
	}
}

func (c *Client) beginHandshake() {
	if !c.advance(StateStarting, StateAwaitingHandshake) {
		return
	}

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      c.info,
	}
	if _, err := c.request(MethodInitialize, params, c.handshakeTimeout, c.handleInitialize); err != nil {
		c.fail(&HandshakeError{Stage: MethodInitialize, Err: err})
	}
}

func (c *Client) handleInitialize(resp response) {
	if resp.err != nil {
		c.fail(&HandshakeError{Stage: MethodInitialize, Err: resp.err})
		return
	}
	result, ok := asObject(resp.result)
	if !ok {
		c.fail(&HandshakeError{
			Stage: MethodInitialize,
			Err:   fmt.Errorf("result is %T, want object", resp.result),
		})
		return
	}

	if version, _ := asString(result["protocolVersion"]); version != "" && version != protocolVersion {
		c.logger.Warn("server uses a different protocol version", "server", version, "client", protocolVersion)
	}
	info := parseInfo(result["serverInfo"])

	c.mu.Lock()
	c.serverInfo = info
	c.mu.Unlock()

	if !c.advance(StateAwaitingHandshake, StateListingTools) {
		return
	}
	c.logger.Info("initialized", "server", info.Name, "version", info.Version)

	line, err := EncodeNotification(methodNotificationsInitialized, nil)
	if err == nil {
		err = c.peer.Send(line)
	}
	if err != nil {
		c.fail(&HandshakeError{Stage: MethodInitialize, Err: err})
		return
	}

	c.fetchCatalog(func(tools []Tool, err error) {
		if err != nil {
			c.fail(&HandshakeError{Stage: MethodToolsList, Err: err})
			return
		}

		c.mu.Lock()
		if c.state != StateListingTools {
			c.mu.Unlock()
			return
		}
		c.tools = tools
		c.state = StateReady
		c.mu.Unlock()

		c.logger.Info("session ready", "tools", len(tools))
		c.emit(Event{Type: EventCatalog, Tools: len(tools)})
		c.emit(Event{Type: EventState, State: StateReady})
	})
}

// fetchCatalog retrieves every tools/list page and reports the concatenated catalog.
// Pages are staged until the last one arrives, so callers never see a partial list.
func (c *Client) fetchCatalog(done func([]Tool, error)) {
	staged := []Tool{}
	pages := 0

	var next func(cursor string)
	next = func(cursor string) {
		pages++
		var params any
		if cursor != "" {
			params = ListToolsParams{Cursor: cursor}
		}

		_, err := c.request(MethodToolsList, params, c.handshakeTimeout, func(resp response) {
			if resp.err != nil {
				done(nil, resp.err)
				return
			}
			tools, nextCursor, err := parseToolsPage(resp.result)
			if err != nil {
				done(nil, err)
				return
			}
			staged = append(staged, tools...)
			if nextCursor == "" {
				done(staged, nil)
				return
			}
			if pages >= maxCatalogPages {
				done(nil, fmt.Errorf("tool catalog exceeds %d pages", maxCatalogPages))
				return
			}
			next(nextCursor)
		})
		if err != nil {
			done(nil, err)
		}
	}
	next("")
}

// request registers a pending entry and then queues the line, so a reply can never
// arrive for an id the table does not know yet.
func (c *Client) request(method string, params any, timeout time.Duration, onComplete func(response)) (int64, error) {
	c.mu.Lock()
	if !c.state.active() {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}
	c.nextID++
	id := c.nextID

	line, err := EncodeRequest(Request{ID: &id, Method: method, Params: params})
	if err != nil {
		c.mu.Unlock()
		return id, err
	}

	now := c.now()
	c.pending[id] = &pendingRequest{
		id:         id,
		method:     method,
		issuedAt:   now,
		deadline:   now.Add(timeout),
		onComplete: onComplete,
	}
	c.mu.Unlock()

	if err := c.peer.Send(line); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return id, err
	}

	c.logger.Debug("request sent", "method", method, "id", id)
	return id, nil
}

func (c *Client) dispatch(in incoming) {
	if in.err != nil {
		c.logger.Warn("skipping undecodable line from peer", "err", in.err)
		return
	}
	msg, ok := asObject(in.value)
	if !ok {
		c.logger.Warn("skipping non-object message from peer", "type", fmt.Sprintf("%T", in.value))
		return
	}

	rawID, hasID := msg["id"]
	method, hasMethod := asString(msg["method"])
	switch {
	case hasMethod && (!hasID || rawID == nil):
		c.logger.Debug("ignoring notification from peer", "method", method)
	case hasMethod:
		c.answerPeerRequest(rawID, method)
	case hasID:
		c.handleResponse(rawID, msg)
	default:
		c.logger.Warn("skipping message without id or method")
	}
}

func (c *Client) handleResponse(rawID any, msg map[string]any) {
	id, ok := asInt(rawID)
	if !ok {
		c.logger.Warn("dropping response with unexpected id", "id", rawID)
		return
	}

	c.mu.Lock()
	p, found := c.pending[id]
	if found {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !found {
		c.logger.Warn("dropping response for unknown request", "id", id)
		return
	}

	resp := response{id: id, result: msg["result"]}
	if rawErr, ok := msg["error"]; ok && rawErr != nil {
		resp.err = parseJSONRPCError(rawErr)
	}
	c.logger.Debug("response received", "method", p.method, "id", id, "elapsed", c.now().Sub(p.issuedAt))
	c.complete(p, resp)
}

// answerPeerRequest replies to requests the peer sends us. Only ping is supported.
func (c *Client) answerPeerRequest(id any, method string) {
	var line []byte
	var err error
	if method == methodPing {
		line, err = encodeReply(id, map[string]any{}, nil)
	} else {
		c.logger.Warn("rejecting request from peer", "method", method)
		line, err = encodeReply(id, nil, &JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: fmt.Sprintf("method %q not supported by client", method),
		})
	}
	if err == nil {
		err = c.peer.Send(line)
	}
	if err != nil {
		c.logger.Error("failed to answer peer request", "method", method, "err", err)
	}
}

func (c *Client) sweep(now time.Time) {
	c.mu.Lock()
	var expired []*pendingRequest
	for id, p := range c.pending {
		if !now.Before(p.deadline) {
			expired = append(expired, p)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	slices.SortFunc(expired, func(a, b *pendingRequest) int { return cmp.Compare(a.id, b.id) })
	for _, p := range expired {
		c.logger.Warn("request timed out", "method", p.method, "id", p.id, "after", p.deadline.Sub(p.issuedAt))
		c.complete(p, response{id: p.id, err: ErrTimeout})
	}
}

// fail moves the session to Failed, resolves everything pending and stops the peer in
// the background. It is a no-op on a terminal session.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.state.Terminal() {
		c.mu.Unlock()
		return
	}
	from := c.state
	c.state = StateFailed
	c.err = err
	pending := c.takePending()
	c.mu.Unlock()

	c.logger.Error("session failed", "state", from, "pending", len(pending), "err", err)

	closed := err
	if !errors.Is(err, ErrTransportClosed) {
		closed = fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}
	c.resolveAll(pending, closed)
	c.emit(Event{Type: EventState, State: StateFailed, Err: err.Error()})

	go c.peer.Stop()
}

// takePending empties the table. c.mu must be held.
func (c *Client) takePending() []*pendingRequest {
	pending := make([]*pendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		pending = append(pending, p)
	}
	clear(c.pending)
	slices.SortFunc(pending, func(a, b *pendingRequest) int { return cmp.Compare(a.id, b.id) })
	return pending
}

func (c *Client) resolveAll(pending []*pendingRequest, err error) {
	for _, p := range pending {
		c.complete(p, response{id: p.id, err: err})
	}
}

func (c *Client) complete(p *pendingRequest, resp response) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("request callback panicked", "method", p.method, "id", p.id, "panic", r)
		}
	}()
	p.onComplete(resp)
}

func (c *Client) advance(from, to State) bool {
	c.mu.Lock()
	if c.state != from {
		c.mu.Unlock()
		return false
	}
	c.state = to
	c.mu.Unlock()

	c.logger.Debug("session state changed", "from", from, "to", to)
	c.emit(Event{Type: EventState, State: to})
	return true
}

// nextWakeup returns how long a blocking wrapper may wait before the next tick has work:
// the nearest deadline, capped at limit.
func (c *Client) nextWakeup(limit time.Duration) time.Duration {
	now := c.now()
	wait := limit

	c.mu.Lock()
	for _, p := range c.pending {
		if d := p.deadline.Sub(now); d < wait {
			wait = d
		}
	}
	c.mu.Unlock()

	return max(wait, time.Millisecond)
}

func (c *Client) emit(ev Event) {
	if c.listener == nil {
		return
	}
	ev.Session = c.id
	if ev.Time.IsZero() {
		ev.Time = c.now()
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event listener panicked", "type", ev.Type, "panic", r)
		}
	}()
	c.listener.OnSessionEvent(ev)
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateFailed || s == StateStopped
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// active reports whether requests may be sent in this state.
func (s State) active() bool {
	return s == StateAwaitingHandshake || s == StateListingTools || s == StateReady
}
