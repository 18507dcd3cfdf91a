package scene

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"
)

// lineCodec frames JSON-RPC messages as one JSON document per line, which is the MCP
// stdio framing. Blank lines between messages are skipped.
type lineCodec struct{}

func (lineCodec) WriteObject(stream io.Writer, obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = stream.Write(data)
	return err
}

func (lineCodec) ReadObject(stream *bufio.Reader, v any) error {
	for {
		line, err := stream.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			return json.Unmarshal(line, v)
		}
		if err != nil {
			return err
		}
	}
}

// stdio joins the peer's stdin and stdout into the stream jsonrpc2 expects. Writes are
// serialized so diagnostic lines never split a message.
type stdio struct {
	r io.Reader

	mu sync.Mutex
	w  io.Writer
}

func (s *stdio) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *stdio) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *stdio) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
