package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// EventFeed is an EventListener that streams session events to HTTP clients as
// Server-Sent Events. Each event is sent with the SSE event type set to the Event's
// Type and its JSON encoding as data.
//
// Publishing never blocks the tick: every subscriber has a bounded buffer and events
// are dropped for subscribers that fall behind.
type EventFeed struct {
	logger     *slog.Logger
	bufferSize int

	mu          sync.Mutex
	subscribers map[string]chan Event
	closed      bool
	done        chan struct{}
}

// EventFeedOption configures an EventFeed.
type EventFeedOption func(*EventFeed)

// WithEventFeedLogger sets the logger of the feed.
func WithEventFeedLogger(logger *slog.Logger) EventFeedOption {
	return func(f *EventFeed) {
		f.logger = logger
	}
}

// WithEventFeedBuffer sets how many events a slow subscriber may lag behind.
func WithEventFeedBuffer(size int) EventFeedOption {
	return func(f *EventFeed) {
		f.bufferSize = size
	}
}

// NewEventFeed creates a feed without subscribers. Close it to end all streams.
func NewEventFeed(options ...EventFeedOption) *EventFeed {
	f := &EventFeed{
		logger:      slog.Default(),
		bufferSize:  32,
		subscribers: make(map[string]chan Event),
		done:        make(chan struct{}),
	}
	for _, opt := range options {
		opt(f)
	}
	return f
}

// OnSessionEvent publishes ev to every subscriber.
func (f *EventFeed) OnSessionEvent(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for id, ch := range f.subscribers {
		select {
		case ch <- ev:
		default:
			f.logger.Warn("dropping event for slow subscriber", "subscriber", id, "type", ev.Type)
		}
	}
}

// Subscribers returns the number of connected streams.
func (f *EventFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

// ServeHTTP upgrades the request to an event stream and forwards events until the
// client goes away or the feed is closed.
func (f *EventFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		nErr := fmt.Errorf("failed to upgrade session: %w", err)
		f.logger.Error("failed to upgrade session", "err", nErr)
		http.Error(w, nErr.Error(), http.StatusInternalServerError)
		return
	}

	id, events, ok := f.subscribe()
	if !ok {
		http.Error(w, "event feed closed", http.StatusServiceUnavailable)
		return
	}
	defer f.unsubscribe(id)

	// Flush the headers so the client sees the stream open before the first event.
	if err := sess.Flush(); err != nil {
		f.logger.Warn("failed to flush SSE", "subscriber", id, "err", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-f.done:
			return
		case ev := <-events:
			bs, err := json.Marshal(ev)
			if err != nil {
				f.logger.Error("failed to marshal event", "err", err)
				continue
			}
			msg := &sse.Message{Type: sse.Type(string(ev.Type))}
			msg.AppendData(string(bs))
			if err := sess.Send(msg); err != nil {
				f.logger.Warn("failed to send event", "subscriber", id, "err", err)
				return
			}
			if err := sess.Flush(); err != nil {
				f.logger.Warn("failed to flush event", "subscriber", id, "err", err)
				return
			}
		}
	}
}

// Close ends every open stream. Later events are discarded.
func (f *EventFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
}

func (f *EventFeed) subscribe() (string, chan Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return "", nil, false
	}
	id := uuid.New().String()
	ch := make(chan Event, f.bufferSize)
	f.subscribers[id] = ch
	return id, ch, true
}

func (f *EventFeed) unsubscribe(id string) {
	f.mu.Lock()
	delete(f.subscribers, id)
	f.mu.Unlock()
}

// ReadEvents decodes an event stream written by EventFeed. Iteration stops at the end
// of the stream or at the first read error, which is yielded.
func ReadEvents(r io.Reader) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for ev, err := range sse.Read(r, nil) {
			if err != nil {
				yield(Event{}, fmt.Errorf("failed to read event stream: %w", err))
				return
			}
			var e Event
			if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
				if !yield(Event{}, fmt.Errorf("failed to decode %s event: %w", ev.Type, err)) {
					return
				}
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}
