// Package channel serves the persistent WebSocket channel. Each text or binary
// message carries one content address; replies arrive as one binary frame on
// success or one text message on failure, in completion order.
package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/anttp-gateway/internal/metrics"
	"github.com/JakeFAU/anttp-gateway/internal/scheduler"
)

const (
	defaultWriteTimeout    = 30 * time.Second
	defaultMaxMessageBytes = 4096
	dropLogInterval        = 5 * time.Second
)

// Submitter accepts addresses on behalf of a connection. scheduler.Scheduler
// satisfies it.
type Submitter interface {
	Submit(conn scheduler.Conn, raw string) error
}

// IDGenerator yields session identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Config tunes channel sessions.
type Config struct {
	WriteTimeout    time.Duration
	MaxMessageBytes int64
}

// Handler upgrades requests and runs one read loop per session.
type Handler struct {
	cfg     Config
	sched   Submitter
	ids     IDGenerator
	logger  *zap.Logger
	dropLog *rate.Limiter

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
	wg       sync.WaitGroup
	seq      uint64
}

// NewHandler builds a Handler. ids and logger may be nil.
func NewHandler(cfg Config, sched Submitter, ids IDGenerator, logger *zap.Logger) *Handler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:      cfg,
		sched:    sched,
		ids:      ids,
		logger:   logger,
		dropLog:  rate.NewLimiter(rate.Every(dropLogInterval), 1),
		sessions: make(map[string]*Session),
	}
}

// IsUpgrade reports whether r asks for a WebSocket upgrade.
func IsUpgrade(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, v := range r.Header.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}

// ServeHTTP upgrades the connection and blocks until the session ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "gateway shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	conn, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	sess := &Session{
		id:           h.newID(),
		conn:         conn,
		writeTimeout: h.cfg.WriteTimeout,
		onDrop:       h.logDrop,
	}
	if !h.register(sess) {
		sess.closeWith(ws.StatusGoingAway, "gateway shutting down")
		return
	}
	defer h.unregister(sess)

	logger := h.logger.With(sessionFields(sess)...)
	logger.Debug("channel session opened", zap.String("remote_addr", r.RemoteAddr))

	err = h.readLoop(sess, source(conn, rw))
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		logger.Debug("channel session closed")
	case isClosed(err):
		logger.Debug("channel session closed by peer", zap.Error(err))
	default:
		logger.Info("channel session ended", zap.Error(err))
	}
	sess.close()
}

// readLoop reads messages until the peer closes or an error occurs. Each data
// message is submitted to the scheduler.
func (h *Handler) readLoop(sess *Session, src io.Reader) error {
	rd := &wsutil.Reader{
		Source:         src,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   h.cfg.MaxMessageBytes,
		OnIntermediate: sess.handleControl,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			if errors.Is(err, wsutil.ErrFrameTooLarge) {
				drain(sess.conn, src, hdr.Length)
				sess.closeWith(ws.StatusMessageTooBig, "message too big")
			}
			return fmt.Errorf("next frame: %w", err)
		}
		if hdr.OpCode.IsControl() {
			if err := sess.handleControl(hdr, rd); err != nil {
				return err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return fmt.Errorf("discard frame: %w", err)
			}
			continue
		}

		payload, err := io.ReadAll(io.LimitReader(rd, h.cfg.MaxMessageBytes+1))
		if err != nil {
			if errors.Is(err, wsutil.ErrInvalidUTF8) {
				sess.closeWith(ws.StatusInvalidFramePayloadData, "invalid utf-8")
			}
			return fmt.Errorf("read message: %w", err)
		}
		if int64(len(payload)) > h.cfg.MaxMessageBytes {
			sess.closeWith(ws.StatusMessageTooBig, "message too big")
			return fmt.Errorf("message exceeds %d bytes", h.cfg.MaxMessageBytes)
		}
		// Rejections and shutdown are answered on the session by the scheduler.
		_ = h.sched.Submit(sess, string(payload))
	}
}

// Sessions returns the number of open sessions.
func (h *Handler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close sends a going-away close frame to every session, refuses new upgrades
// and waits for the read loops to exit or for ctx.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	open := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		open = append(open, s)
	}
	h.mu.Unlock()

	for _, s := range open {
		s.closeWith(ws.StatusGoingAway, "gateway shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("channel close wait: %w", ctx.Err())
	}
}

func (h *Handler) register(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[s.id] = s
	metrics.IncSessions()
	return true
}

func (h *Handler) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s.id]; ok {
		delete(h.sessions, s.id)
		metrics.DecSessions()
	}
}

func (h *Handler) newID() string {
	if h.ids != nil {
		if id, err := h.ids.NewID(); err == nil {
			return id
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	return fmt.Sprintf("session-%d", h.seq)
}

func (h *Handler) logDrop(s *Session, reply scheduler.Reply) {
	if h.dropLog.Allow() {
		h.logger.Warn("reply dropped for closed session",
			zap.String("session_id", s.id),
			zap.Stringer("kind", reply.Kind))
	}
}

// source returns a reader that first yields bytes already buffered during the
// HTTP handshake.
func source(conn net.Conn, rw *bufio.ReadWriter) io.Reader {
	if rw == nil || rw.Reader == nil || rw.Reader.Buffered() == 0 {
		return conn
	}
	return io.MultiReader(io.LimitReader(rw.Reader, int64(rw.Reader.Buffered())), conn)
}

const drainTimeout = time.Second

// drain discards the unread payload of a rejected frame so closing the socket
// does not reset the close frame in flight.
func drain(conn net.Conn, src io.Reader, n int64) {
	if err := conn.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
		return
	}
	_, _ = io.CopyN(io.Discard, src, n)
}

func isClosed(err error) bool {
	var closedErr wsutil.ClosedError
	return errors.As(err, &closedErr)
}
