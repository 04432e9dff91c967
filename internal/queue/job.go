// Package queue schedules sweep jobs by priority and runs them one at a time
// with bounded retries, exponential backoff and a hard timeout.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Kind selects the sweep variant.
type Kind string

const (
	KindActiveSweep Kind = "active_sweep"
	KindFullSweep   Kind = "full_sweep"
)

// State is a job's lifecycle position.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// Lower ranks are dequeued first.
const (
	PriorityActiveSweep = 1
	PriorityFullSweep   = 2
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoff     = 2 * time.Second
	DefaultTimeout     = 15 * time.Minute
)

var (
	// ErrUnknownJobKind is returned for jobs with an unrecognised kind.
	ErrUnknownJobKind = errors.New("queue: unknown job kind")
	// ErrPostpone tells the worker to put the job back without spending an attempt.
	ErrPostpone = errors.New("queue: postpone job")
	// ErrJobNotFound is returned by backends for unknown ids.
	ErrJobNotFound = errors.New("queue: job not found")
)

// ActiveSweepParams parameterise a poll of the tracked active-id set.
type ActiveSweepParams struct {
	Status      string `json:"status,omitempty"`
	Concurrency int    `json:"concurrency,omitempty"`
}

// FullSweepParams parameterise a poll of a contiguous page range.
type FullSweepParams struct {
	StartPage         int    `json:"start_page"`
	EndPage           int    `json:"end_page"`
	Concurrency       int    `json:"concurrency,omitempty"`
	SortByPerformance bool   `json:"sort_by_performance"`
	Status            string `json:"status,omitempty"`
}

// Payload carries the parameters of exactly one variant.
type Payload struct {
	Active *ActiveSweepParams `json:"active,omitempty"`
	Full   *FullSweepParams   `json:"full,omitempty"`
}

// Result is reported by a completed job.
type Result struct {
	OffersFetched    int   `json:"offers_fetched"`
	OffersProcessed  int   `json:"offers_processed"`
	SnapshotsWritten int   `json:"snapshots_written"`
	AlertsSent       int   `json:"alerts_sent"`
	FailedUnits      int   `json:"failed_units"`
	ElapsedMs        int64 `json:"elapsed_ms"`
}

// Job is one unit of scheduled work.
type Job struct {
	ID          string
	Kind        Kind
	Payload     Payload
	Priority    int
	State       State
	Attempts    int
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
	Result      *Result
	Error       string
	AvailableAt time.Time
	LockedBy    string
	LockedUntil *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinishedAt  *time.Time
}

// NewActiveSweep builds an active-sweep job.
func NewActiveSweep(p ActiveSweepParams) Job {
	return Job{Kind: KindActiveSweep, Payload: Payload{Active: &p}}
}

// NewFullSweep builds a full-sweep job for one page range.
func NewFullSweep(p FullSweepParams) Job {
	return Job{Kind: KindFullSweep, Payload: Payload{Full: &p}}
}

// PriorityFor returns the rank assigned to kind.
func PriorityFor(kind Kind) int {
	if kind == KindActiveSweep {
		return PriorityActiveSweep
	}
	return PriorityFullSweep
}

// Validate checks that the payload matches the kind.
func (j Job) Validate() error {
	switch j.Kind {
	case KindActiveSweep:
		if j.Payload.Active == nil {
			return errors.New("active sweep job without parameters")
		}
	case KindFullSweep:
		p := j.Payload.Full
		if p == nil {
			return errors.New("full sweep job without parameters")
		}
		if p.StartPage < 1 || p.EndPage < p.StartPage {
			return fmt.Errorf("invalid page range %d-%d", p.StartPage, p.EndPage)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJobKind, j.Kind)
	}
	return nil
}

// BackoffFor returns the wait before the next attempt after attempts failures.
func (j Job) BackoffFor(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(float64(j.Backoff) * math.Pow(2, float64(attempts-1)))
}

// Counts is the queue depth per state.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int64 `json:"delayed"`
}

// Pending is waiting+active+delayed.
func (c Counts) Pending() int64 { return c.Waiting + c.Active + c.Delayed }

// Backend persists jobs.
type Backend interface {
	EnqueueJob(ctx context.Context, job Job) (Job, error)
	// ClaimJob leases the highest ranked runnable job to workerID and
	// increments its attempt counter. It returns nil when nothing is runnable.
	// Active jobs whose lease has lapsed are runnable again.
	ClaimJob(ctx context.Context, workerID string, lease time.Duration) (*Job, error)
	CompleteJob(ctx context.Context, id string, res Result) error
	RetryJob(ctx context.Context, id, errMsg string, availableAt time.Time) error
	FailJob(ctx context.Context, id, errMsg string) error
	PostponeJob(ctx context.Context, id string, availableAt time.Time) error
	CountJobs(ctx context.Context) (Counts, error)
}

// Defaults fill unset job options at enqueue time.
type Defaults struct {
	MaxAttempts int
	Backoff     time.Duration
	Timeout     time.Duration
}

// Queue is the enqueue/status boundary exposed to schedulers.
type Queue struct {
	backend  Backend
	defaults Defaults
}

// New wraps backend.
func New(backend Backend, defaults Defaults) *Queue {
	if defaults.MaxAttempts <= 0 {
		defaults.MaxAttempts = DefaultMaxAttempts
	}
	if defaults.Backoff <= 0 {
		defaults.Backoff = DefaultBackoff
	}
	if defaults.Timeout <= 0 {
		defaults.Timeout = DefaultTimeout
	}
	return &Queue{backend: backend, defaults: defaults}
}

// Backend exposes the underlying store, mainly for workers.
func (q *Queue) Backend() Backend { return q.backend }

// Enqueue validates job, assigns id, priority and defaults, and stores it.
func (q *Queue) Enqueue(ctx context.Context, job Job) (Job, error) {
	if err := job.Validate(); err != nil {
		return Job{}, err
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Priority = PriorityFor(job.Kind)
	job.State = StateWaiting
	job.Attempts = 0
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.defaults.MaxAttempts
	}
	if job.Backoff <= 0 {
		job.Backoff = q.defaults.Backoff
	}
	if job.Timeout <= 0 {
		job.Timeout = q.defaults.Timeout
	}
	return q.backend.EnqueueJob(ctx, job)
}

// Status reports queue depth by state.
func (q *Queue) Status(ctx context.Context) (Counts, error) {
	return q.backend.CountJobs(ctx)
}
