package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gofiber/contrib/websocket"
)

// eventWriter is the client-facing side of the stream: one event per line,
// a marker followed by a JSON payload. Both transports (chunked HTTP body
// and WebSocket) implement it.
type eventWriter interface {
	WriteEvent(marker string, payload interface{}) error
}

type streamEventWriter struct {
	w      *bufio.Writer
	cancel func()
	failed bool
}

func newStreamEventWriter(w *bufio.Writer, cancel func()) *streamEventWriter {
	return &streamEventWriter{w: w, cancel: cancel}
}

func (s *streamEventWriter) WriteEvent(marker string, payload interface{}) error {
	if s.failed {
		return fmt.Errorf("stream already closed")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "%s%s\n", marker, data); err != nil {
		s.fail()
		return err
	}
	if err := s.w.Flush(); err != nil {
		// A flush failure means the client is gone; abort the request.
		s.fail()
		return err
	}
	return nil
}

func (s *streamEventWriter) fail() {
	s.failed = true
	if s.cancel != nil {
		s.cancel()
	}
}

type wsEventWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSEventWriter(conn *websocket.Conn) *wsEventWriter {
	return &wsEventWriter{conn: conn}
}

func (s *wsEventWriter) WriteEvent(marker string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(marker+string(data)))
}
