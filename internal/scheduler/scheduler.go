// Package scheduler serializes channel submissions into a bounded number of
// concurrent backend fetches. Jobs are dispatched in FIFO order; every accepted
// job produces exactly one Reply on its connection.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/anttp-gateway/internal/address"
	"github.com/JakeFAU/anttp-gateway/internal/backend"
	"github.com/JakeFAU/anttp-gateway/internal/frame"
	"github.com/JakeFAU/anttp-gateway/internal/metrics"
	"github.com/JakeFAU/anttp-gateway/internal/progress"
)

// Fetcher retrieves content for an address. backend.Client satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, address string) (backend.Response, error)
}

// IDGenerator yields job identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Config tunes the scheduler.
type Config struct {
	// MaxConcurrent caps in-flight fetches across all connections. Must be >= 1.
	MaxConcurrent int
}

// Job is a validated submission waiting for, or holding, a dispatch slot.
type Job struct {
	ID         string
	Address    string
	Conn       Conn
	EnqueuedAt time.Time
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Queued        int
	Active        int
	MaxConcurrent int
}

// Scheduler owns the job queue and the active counter. Both are guarded by mu.
type Scheduler struct {
	maxConcurrent int
	fetcher       Fetcher
	emitter       progress.Emitter
	ids           IDGenerator
	clock         Clock
	logger        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	seq    atomic.Uint64

	mu     sync.Mutex
	queue  []Job
	active int
	closed bool
}

// New builds a Scheduler. emitter, ids, clock and logger may be nil.
func New(
	cfg Config,
	fetcher Fetcher,
	emitter progress.Emitter,
	ids IDGenerator,
	clock Clock,
	logger *zap.Logger,
) (*Scheduler, error) {
	if cfg.MaxConcurrent < 1 {
		return nil, fmt.Errorf("max concurrent must be >= 1, got %d", cfg.MaxConcurrent)
	}
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = wallClock{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		maxConcurrent: cfg.MaxConcurrent,
		fetcher:       fetcher,
		emitter:       emitter,
		ids:           ids,
		clock:         clock,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Submit validates raw and enqueues a job for conn. An invalid address is
// answered immediately with "invalid address format" and never enqueued.
func (s *Scheduler) Submit(conn Conn, raw string) error {
	addr := strings.TrimSpace(raw)
	if err := address.Check(addr); err != nil {
		metrics.ObserveRejected()
		s.emit(progress.Event{
			SessionID: conn.ID(),
			TS:        s.clock.Now(),
			Stage:     progress.StageJobRejected,
			Address:   truncate(addr),
			Note:      err.Error(),
		})
		s.deliver(conn, "", ErrorReply(err.Error()))
		return err
	}

	job := Job{
		ID:         s.nextID(),
		Address:    addr,
		Conn:       conn,
		EnqueuedAt: s.clock.Now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.deliver(conn, job.ID, ErrorReply(errorText(errShuttingDown.Error())))
		return ErrClosed
	}
	s.queue = append(s.queue, job)
	s.emit(progress.Event{
		JobID:     job.ID,
		SessionID: conn.ID(),
		TS:        job.EnqueuedAt,
		Stage:     progress.StageJobQueued,
		Address:   job.Address,
	})
	s.admitLocked()
	s.mu.Unlock()
	return nil
}

// Stats reports queue depth and in-flight count.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Queued:        len(s.queue),
		Active:        s.active,
		MaxConcurrent: s.maxConcurrent,
	}
}

// Close stops admission, fails every queued job, cancels in-flight fetches and
// waits for their replies or for ctx.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	var pending []Job
	if !s.closed {
		s.closed = true
		pending = s.queue
		s.queue = nil
		metrics.SetSchedulerState(0, s.active)
	}
	s.mu.Unlock()

	s.cancel()
	for _, job := range pending {
		s.finish(job, job.EnqueuedAt, backend.Response{}, errShuttingDown)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler close wait: %w", ctx.Err())
	}
}

// admitLocked dispatches queued jobs while capacity allows. Callers hold mu.
func (s *Scheduler) admitLocked() {
	for !s.closed && s.active < s.maxConcurrent && len(s.queue) > 0 {
		job := s.queue[0]
		s.queue[0] = Job{}
		s.queue = s.queue[1:]
		s.active++
		s.wg.Add(1)

		now := s.clock.Now()
		wait := now.Sub(job.EnqueuedAt)
		metrics.ObserveQueueWait(wait)
		s.emit(progress.Event{
			JobID:     job.ID,
			SessionID: job.Conn.ID(),
			TS:        now,
			Stage:     progress.StageJobDispatched,
			Address:   job.Address,
			Dur:       nonNegative(wait),
		})
		go s.run(job, now)
	}
	if len(s.queue) == 0 {
		s.queue = nil
	}
	metrics.SetSchedulerState(len(s.queue), s.active)
}

func (s *Scheduler) run(job Job, dispatchedAt time.Time) {
	defer s.wg.Done()

	resp, err := s.fetcher.Fetch(s.ctx, job.Address)

	// The slot is handed on before the reply is written, so a slow reader
	// never holds the window.
	s.mu.Lock()
	s.active--
	s.admitLocked()
	s.mu.Unlock()

	s.finish(job, dispatchedAt, resp, err)
}

// finish builds and delivers the terminal reply for job and records its outcome.
func (s *Scheduler) finish(job Job, startedAt time.Time, resp backend.Response, err error) {
	var reply Reply
	if err == nil {
		msg, encErr := frame.Encode(frame.Metadata{MimeType: resp.ContentType, XorName: job.Address}, resp.Body)
		if encErr != nil {
			err = &InternalError{Err: encErr}
		} else {
			reply = DataReply(msg)
		}
	}
	if err != nil {
		reply = ErrorReply(errorText(rootMessage(err)))
	}

	outcome, status := classify(err)
	if err == nil {
		status = resp.StatusCode
	}
	dur := nonNegative(s.clock.Now().Sub(startedAt))
	metrics.ObserveJob(outcome, dur, len(resp.Body))

	evt := progress.Event{
		JobID:      job.ID,
		SessionID:  job.Conn.ID(),
		TS:         s.clock.Now(),
		Stage:      progress.StageJobDone,
		Address:    job.Address,
		Outcome:    outcome,
		StatusCode: status,
		Dur:        dur,
	}
	if err != nil {
		evt.Stage = progress.StageJobError
		evt.Note = reply.Text
		s.logger.Debug("job failed",
			zap.String("job_id", job.ID),
			zap.String("session_id", job.Conn.ID()),
			zap.String("outcome", outcome),
			zap.Error(err))
	} else {
		evt.MimeType = resp.ContentType
		evt.Bytes = int64(len(resp.Body))
	}
	s.emit(evt)
	s.deliver(job.Conn, job.ID, reply)
}

func (s *Scheduler) deliver(conn Conn, jobID string, reply Reply) {
	if err := conn.Deliver(reply); err != nil {
		s.logger.Debug("reply not delivered",
			zap.String("job_id", jobID),
			zap.String("session_id", conn.ID()),
			zap.Stringer("kind", reply.Kind),
			zap.Error(err))
	}
}

func (s *Scheduler) emit(evt progress.Event) {
	if s.emitter != nil {
		s.emitter.Emit(evt)
	}
}

func (s *Scheduler) nextID() string {
	if s.ids != nil {
		id, err := s.ids.NewID()
		if err == nil {
			return id
		}
		s.logger.Warn("job id generation failed", zap.Error(err))
	}
	return "job-" + strconv.FormatUint(s.seq.Add(1), 10)
}

// rootMessage strips the scheduler's own wrapping so the wire text carries
// only the backend's message, e.g. "http 404".
func rootMessage(err error) string {
	var (
		timeoutErr   *backend.TimeoutError
		statusErr    *backend.StatusError
		transportErr *backend.TransportError
		internalErr  *InternalError
	)
	switch {
	case errors.As(err, &timeoutErr):
		return timeoutErr.Error()
	case errors.As(err, &statusErr):
		return statusErr.Error()
	case errors.As(err, &transportErr):
		return transportErr.Error()
	case errors.As(err, &internalErr):
		return internalErr.Error()
	default:
		return err.Error()
	}
}

const maxLoggedAddress = 256

func truncate(s string) string {
	if len(s) > maxLoggedAddress {
		return s[:maxLoggedAddress]
	}
	return s
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
