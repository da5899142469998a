package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the lifecycle milestone represented by an Event.
type Stage string

// Supported lifecycle stages.
const (
	StageJobQueued     Stage = "JOB_QUEUED"
	StageJobDispatched Stage = "JOB_DISPATCHED"
	StageJobDone       Stage = "JOB_DONE"
	StageJobError      Stage = "JOB_ERROR"
	StageJobRejected   Stage = "JOB_REJECTED"
)

// Terminal reports whether the stage ends a job.
func (s Stage) Terminal() bool {
	return s == StageJobDone || s == StageJobError
}

// Event captures a single job lifecycle transition.
type Event struct {
	// JobID identifies the job; empty only for rejected submissions.
	JobID string
	// SessionID identifies the channel connection that submitted the job.
	SessionID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Address is the submitted content address.
	Address  string
	MimeType string
	Bytes    int64
	// Outcome is a coarse result label for terminal events (succeeded, timeout, ...).
	Outcome    string
	StatusCode int
	// Dur is the time spent in the stage that just ended: queue wait for
	// dispatch events, fetch time for terminal events.
	Dur  time.Duration
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobRejected:
	case StageJobQueued, StageJobDispatched:
		if e.JobID == "" {
			return errors.New("job id is required")
		}
	case StageJobDone, StageJobError:
		if e.JobID == "" {
			return errors.New("job id is required")
		}
		if e.Outcome == "" {
			return errors.New("terminal events require an outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
