package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Backend.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*Job
	seq  map[string]int64
	next int64
	now  func() time.Time
}

// NewMemory returns an empty backend.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*Job), seq: make(map[string]int64), now: time.Now}
}

// WithClock replaces the time source.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// EnqueueJob implements Backend.
func (m *Memory) EnqueueJob(_ context.Context, job Job) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.AvailableAt.IsZero() {
		job.AvailableAt = now
	}
	stored := job
	m.jobs[job.ID] = &stored
	m.next++
	m.seq[job.ID] = m.next
	return job, nil
}

// ClaimJob implements Backend.
func (m *Memory) ClaimJob(_ context.Context, workerID string, lease time.Duration) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	candidates := make([]*Job, 0)
	for _, j := range m.jobs {
		switch j.State {
		case StateWaiting, StateDelayed:
			if !j.AvailableAt.After(now) {
				candidates = append(candidates, j)
			}
		case StateActive:
			if j.LockedUntil != nil && !j.LockedUntil.After(now) {
				if j.Attempts >= j.MaxAttempts {
					m.finish(j, StateFailed, "lease expired after final attempt", now)
					continue
				}
				candidates = append(candidates, j)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].Priority != candidates[b].Priority {
			return candidates[a].Priority < candidates[b].Priority
		}
		return m.seq[candidates[a].ID] < m.seq[candidates[b].ID]
	})

	j := candidates[0]
	until := now.Add(lease)
	j.State = StateActive
	j.Attempts++
	j.LockedBy = workerID
	j.LockedUntil = &until
	j.UpdatedAt = now

	out := *j
	return &out, nil
}

// CompleteJob implements Backend.
func (m *Memory) CompleteJob(_ context.Context, id string, res Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	r := res
	j.Result = &r
	m.finish(j, StateCompleted, "", m.now())
	return nil
}

// RetryJob implements Backend.
func (m *Memory) RetryJob(_ context.Context, id, errMsg string, availableAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.State = StateDelayed
	j.Error = errMsg
	j.AvailableAt = availableAt
	j.LockedBy = ""
	j.LockedUntil = nil
	j.UpdatedAt = m.now()
	return nil
}

// FailJob implements Backend.
func (m *Memory) FailJob(_ context.Context, id, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	m.finish(j, StateFailed, errMsg, m.now())
	return nil
}

// PostponeJob implements Backend.
func (m *Memory) PostponeJob(_ context.Context, id string, availableAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if j.Attempts > 0 {
		j.Attempts--
	}
	j.State = StateDelayed
	j.AvailableAt = availableAt
	j.LockedBy = ""
	j.LockedUntil = nil
	j.UpdatedAt = m.now()
	return nil
}

// CountJobs implements Backend.
func (m *Memory) CountJobs(_ context.Context) (Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var c Counts
	for _, j := range m.jobs {
		switch j.State {
		case StateWaiting:
			c.Waiting++
		case StateActive:
			c.Active++
		case StateCompleted:
			c.Completed++
		case StateFailed:
			c.Failed++
		case StateDelayed:
			c.Delayed++
		}
	}
	return c, nil
}

// Get returns a copy of the job with id.
func (m *Memory) Get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *j, true
}

func (m *Memory) finish(j *Job, state State, errMsg string, now time.Time) {
	j.State = state
	j.Error = errMsg
	j.LockedBy = ""
	j.LockedUntil = nil
	j.UpdatedAt = now
	j.FinishedAt = &now
}

var _ Backend = (*Memory)(nil)
