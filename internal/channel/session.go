package channel

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/JakeFAU/anttp-gateway/internal/metrics"
	"github.com/JakeFAU/anttp-gateway/internal/scheduler"
)

// ErrSessionClosed is returned by Deliver after the connection has gone away.
var ErrSessionClosed = errors.New("session closed")

// Session is one WebSocket connection. All writes, including control-frame
// responses, go through mu so frames never interleave.
type Session struct {
	id           string
	conn         net.Conn
	writeTimeout time.Duration
	onDrop       func(*Session, scheduler.Reply)

	mu     sync.Mutex
	closed bool
}

var _ scheduler.Conn = (*Session)(nil)

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Deliver writes reply as a binary message (data) or a text message (error).
// Replies for a closed session are discarded and reported as ErrSessionClosed.
func (s *Session) Deliver(reply scheduler.Reply) error {
	op, payload := ws.OpBinary, reply.Data
	if reply.Kind == scheduler.ReplyError {
		op, payload = ws.OpText, []byte(reply.Text)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.dropped(reply)
		return ErrSessionClosed
	}
	err := s.writeLocked(func(w io.Writer) error {
		return wsutil.WriteServerMessage(w, op, payload)
	})
	if err != nil {
		s.closeLocked()
	}
	s.mu.Unlock()

	if err != nil {
		s.dropped(reply)
		return fmt.Errorf("write %s reply: %w", reply.Kind, err)
	}
	return nil
}

// handleControl answers ping and close frames. The response is rendered into a
// buffer first so it reaches the wire as one locked write.
func (s *Session) handleControl(hdr ws.Header, r io.Reader) error {
	var buf bytes.Buffer
	err := wsutil.ControlFrameHandler(&buf, ws.StateServerSide)(hdr, r)
	if buf.Len() > 0 {
		if werr := s.writeRaw(buf.Bytes()); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// closeWith sends a close frame with code and closes the connection.
func (s *Session) closeWith(code ws.StatusCode, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason))
	_ = s.writeLocked(func(w io.Writer) error {
		return ws.WriteFrame(w, frame)
	})
	s.closeLocked()
}

// close marks the session closed without a close handshake.
func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) writeRaw(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.writeLocked(func(w io.Writer) error {
		_, err := w.Write(p)
		return err
	})
}

func (s *Session) writeLocked(write func(io.Writer) error) error {
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	return write(s.conn)
}

func (s *Session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.Close()
}

func (s *Session) dropped(reply scheduler.Reply) {
	metrics.ObserveDroppedDelivery()
	if s.onDrop != nil {
		s.onDrop(s, reply)
	}
}

func sessionFields(s *Session) []zap.Field {
	return []zap.Field{zap.String("session_id", s.id)}
}
