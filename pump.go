package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Longest a blocking wrapper waits between ticks. Start and exit grace checks have no
// wake signal of their own, so this bounds how late they are noticed.
const maxIdleWait = 100 * time.Millisecond

// Pump drives a Client from a host loop. Tick is the non-blocking step the host calls
// once per frame; AwaitReady, Await and Run are blocking conveniences built on top of it
// for hosts that have no frame loop.
type Pump struct {
	client *Client
	logger *slog.Logger
}

// NewPump creates a pump for c.
func NewPump(c *Client) *Pump {
	return &Pump{
		client: c,
		logger: c.logger,
	}
}

// Tick drains responses, resolves their requests, expires overdue requests and detects
// a dead peer. It never blocks on the peer and never panics: a panic raised by a
// callback is logged and swallowed here.
func (p *Pump) Tick() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("recovered panic in tick", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	p.client.poll()
}

// Run ticks every interval until ctx is done.
func (p *Pump) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.Tick()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// AwaitReady ticks until the session is Ready and returns nil, or returns the error
// that ended it.
func (p *Pump) AwaitReady(ctx context.Context) error {
	for {
		p.Tick()
		switch state := p.client.State(); state {
		case StateReady:
			return nil
		case StateFailed:
			return p.client.Err()
		case StateStopped:
			return ErrTransportClosed
		case StateNotStarted:
			return fmt.Errorf("await ready: %w", ErrNotConnected)
		}
		if err := p.wait(ctx); err != nil {
			return err
		}
	}
}

// Await ticks until call resolves and returns its result.
func (p *Pump) Await(ctx context.Context, call *Call) (string, error) {
	for {
		select {
		case <-call.Done():
			return call.Result()
		default:
		}
		p.Tick()
		select {
		case <-call.Done():
			return call.Result()
		default:
		}
		if err := p.wait(ctx); err != nil {
			return "", err
		}
	}
}

// wait blocks until the reader queued a line, the nearest deadline is due, or
// maxIdleWait passed.
func (p *Pump) wait(ctx context.Context) error {
	timer := time.NewTimer(p.client.nextWakeup(maxIdleWait))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.client.peer.Wake():
	case <-timer.C:
	}
	return nil
}
