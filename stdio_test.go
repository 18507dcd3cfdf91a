package mcp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLineReader(t *testing.T) {
	pr, pw := io.Pipe()
	wake := make(chan struct{}, 1)
	r := newLineReader(pr, 0, wake, discard())
	defer r.close()

	go func() {
		fmt.Fprint(pw, `{"id":1,"result":{}}`+"\n")
		fmt.Fprint(pw, "\n   \n")
		fmt.Fprint(pw, "booting tool server\n")
		// A final line without a newline is still delivered at EOF.
		fmt.Fprint(pw, `{"id":2,"result":{}}`)
		pw.Close()
	}()

	select {
	case <-wake:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not signal wake")
	}

	var got []incoming
	waitFor(t, "reader to finish", func() bool {
		got = r.drain(got)
		return r.finished()
	})
	got = r.drain(got)

	if len(got) != 3 {
		t.Fatalf("drained %d lines, want 3: %+v", len(got), got)
	}
	if got[0].err != nil || got[0].value.(map[string]any)["id"] != int64(1) {
		t.Errorf("first line = %+v", got[0])
	}
	var decErr *DecodeError
	if !errors.As(got[1].err, &decErr) || decErr.Line != "booting tool server" {
		t.Errorf("noise line = %+v, want a DecodeError", got[1])
	}
	if got[2].err != nil || got[2].value.(map[string]any)["id"] != int64(2) {
		t.Errorf("last line = %+v", got[2])
	}
}

func TestLineReaderLargeLine(t *testing.T) {
	pr, pw := io.Pipe()
	r := newLineReader(pr, 1, nil, discard())
	defer r.close()

	text := strings.Repeat("x", 1<<20)
	go func() {
		fmt.Fprintf(pw, `{"id":1,"result":{"text":%q}}`+"\n", text)
		pw.Close()
	}()

	var got []incoming
	waitFor(t, "large line", func() bool {
		got = r.drain(got)
		return len(got) == 1
	})
	result := got[0].value.(map[string]any)["result"].(map[string]any)
	if result["text"] != text {
		t.Error("large line was not decoded intact")
	}
}

func TestLineReaderCloseUnblocks(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	r := newLineReader(pr, 1, nil, discard())

	// Fill the queue so the goroutine blocks on delivery, then on the next read.
	go func() {
		fmt.Fprint(pw, "{}\n{}\n{}\n")
	}()

	done := make(chan struct{})
	go func() {
		r.close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not unblock the reader")
	}
	if !r.finished() {
		t.Error("finished() = false after close")
	}
}

type recordingWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	block  chan struct{}
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed && w.block != nil {
		close(w.block)
	}
	w.closed = true
	return nil
}

func (w *recordingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func TestLineWriter(t *testing.T) {
	dst := &recordingWriter{}
	w := newLineWriter(dst, 0, discard())

	for _, line := range []string{`{"id":1}`, `{"id":2}`} {
		if err := w.enqueue([]byte(line)); err != nil {
			t.Fatalf("enqueue() error = %v", err)
		}
	}
	waitFor(t, "writes", func() bool {
		return dst.String() == "{\"id\":1}\n{\"id\":2}\n"
	})

	w.close()
	if !dst.closed {
		t.Error("close() did not close the destination")
	}
	if err := w.enqueue([]byte(`{}`)); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("enqueue() after close = %v, want ErrTransportClosed", err)
	}
	w.close()
}

func TestLineWriterQueueFull(t *testing.T) {
	dst := &recordingWriter{block: make(chan struct{})}
	w := newLineWriter(dst, 1, discard())

	// The first line is taken by the writer goroutine, which then blocks in Write.
	if err := w.enqueue([]byte(`{"id":1}`)); err != nil {
		t.Fatalf("enqueue() error = %v", err)
	}
	var err error
	waitFor(t, "queue to fill", func() bool {
		err = w.enqueue([]byte(`{"id":2}`))
		return errors.Is(err, ErrWriteQueueFull)
	})

	done := make(chan struct{})
	go func() {
		w.close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not unblock a stuck write")
	}
}

func TestStderrDrainTail(t *testing.T) {
	pr, pw := io.Pipe()
	d := newStderrDrain(pr, discard())

	go func() {
		for i := range stderrTailLines + 8 {
			fmt.Fprintf(pw, "line %d\n", i)
		}
		fmt.Fprint(pw, "   \n")
		pw.Close()
	}()
	<-d.done

	lines := strings.Split(d.Tail(), "\n")
	if len(lines) != stderrTailLines {
		t.Fatalf("Tail() has %d lines, want %d", len(lines), stderrTailLines)
	}
	if lines[0] != "line 8" || lines[len(lines)-1] != fmt.Sprintf("line %d", stderrTailLines+7) {
		t.Errorf("Tail() = %q ... %q", lines[0], lines[len(lines)-1])
	}
	d.close()
}
