package mcp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const (
	defaultReadQueueSize  = 256
	defaultWriteQueueSize = 64
	stderrTailLines       = 32
)

// incoming is one line read from the peer's stdout, already decoded. Exactly one of
// value and err is meaningful.
type incoming struct {
	value any
	err   error
}

// lineReader owns the only blocking read in the client: it reads the peer's stdout line
// by line on its own goroutine and hands decoded lines to the host through a bounded
// channel. Closing the underlying file unblocks a pending read.
type lineReader struct {
	src    io.ReadCloser
	queue  chan incoming
	wake   chan<- struct{}
	logger *slog.Logger

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// stderrDrain copies the peer's stderr into the log and keeps the last lines so they can
// be attached to startup and exit errors. Nothing on stderr is treated as protocol data.
type stderrDrain struct {
	src    io.ReadCloser
	logger *slog.Logger

	mu   sync.Mutex
	tail []string

	done      chan struct{}
	closeOnce sync.Once
}

// lineWriter serializes writes to the peer's stdin on a dedicated goroutine, so queuing a
// request never blocks the host even when the pipe buffer is full.
type lineWriter struct {
	dst    io.WriteCloser
	lines  chan []byte
	logger *slog.Logger

	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newLineReader(src io.ReadCloser, size int, wake chan<- struct{}, logger *slog.Logger) *lineReader {
	if size <= 0 {
		size = defaultReadQueueSize
	}
	r := &lineReader{
		src:    src,
		queue:  make(chan incoming, size),
		wake:   wake,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *lineReader) run() {
	defer func() {
		close(r.done)
		notifyWake(r.wake)
	}()

	// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
	reader := bufio.NewReader(r.src)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			value, decErr := DecodeLine(line)
			select {
			case r.queue <- incoming{value: value, err: decErr}:
				notifyWake(r.wake)
			case <-r.stop:
				return
			}
		}
		if err != nil {
			select {
			case <-r.stop:
			default:
				if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
					r.logger.Warn("failed to read from peer stdout", "err", err)
				}
			}
			return
		}
	}
}

// drain appends every queued line to dst without blocking.
func (r *lineReader) drain(dst []incoming) []incoming {
	for {
		select {
		case in := <-r.queue:
			dst = append(dst, in)
		default:
			return dst
		}
	}
}

func (r *lineReader) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// close force-closes the stream and waits for the read goroutine to exit.
func (r *lineReader) close() {
	r.stopOnce.Do(func() {
		close(r.stop)
		_ = r.src.Close()
	})
	<-r.done
}

func newStderrDrain(src io.ReadCloser, logger *slog.Logger) *stderrDrain {
	d := &stderrDrain{
		src:    src,
		logger: logger,
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *stderrDrain) run() {
	defer close(d.done)

	reader := bufio.NewReader(d.src)
	for {
		line, err := reader.ReadString('\n')
		if text := strings.TrimRight(line, "\r\n"); strings.TrimSpace(text) != "" {
			d.logger.Info("peer stderr", "line", text)
			d.mu.Lock()
			d.tail = append(d.tail, text)
			if len(d.tail) > stderrTailLines {
				d.tail = d.tail[len(d.tail)-stderrTailLines:]
			}
			d.mu.Unlock()
		}
		if err != nil {
			return
		}
	}
}

// Tail returns the most recent stderr lines joined by newlines.
func (d *stderrDrain) Tail() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return strings.Join(d.tail, "\n")
}

func (d *stderrDrain) close() {
	d.closeOnce.Do(func() {
		_ = d.src.Close()
	})
	<-d.done
}

func newLineWriter(dst io.WriteCloser, size int, logger *slog.Logger) *lineWriter {
	if size <= 0 {
		size = defaultWriteQueueSize
	}
	w := &lineWriter{
		dst:    dst,
		lines:  make(chan []byte, size),
		logger: logger,
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go w.processWriteMessages()
	return w
}

// enqueue queues one line; the newline terminator is added here.
func (w *lineWriter) enqueue(line []byte) error {
	msg := make([]byte, len(line)+1)
	copy(msg, line)
	msg[len(line)] = '\n'

	select {
	case <-w.done:
		return ErrTransportClosed
	default:
	}

	select {
	case w.lines <- msg:
		return nil
	default:
		return ErrWriteQueueFull
	}
}

func (w *lineWriter) processWriteMessages() {
	defer close(w.closed)

	for {
		// Process writing the message queue until the writer is closed.
		var msg []byte
		select {
		case <-w.done:
			return
		case msg = <-w.lines:
		}

		if _, err := w.dst.Write(msg); err != nil {
			select {
			case <-w.done:
			default:
				w.logger.Warn("failed to write to peer stdin", "err", err)
			}
		}
	}
}

// close drops queued lines, closes stdin and waits for the writer goroutine. Closing
// the file also unblocks a write stuck on a full pipe.
func (w *lineWriter) close() {
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.dst.Close()
	})
	<-w.closed
}

func notifyWake(ch chan<- struct{}) {
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}
