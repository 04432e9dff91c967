package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"offer-sync-alerts/internal/lock"
	"offer-sync-alerts/internal/queue"
	"offer-sync-alerts/internal/scheduler"
)

// ErrBusy is returned when another enqueue holds the enqueue guard.
var ErrBusy = errors.New("app: another enqueue is in progress")

// enqueueGuardTTL bounds how long a crashed enqueue can block the next one.
const enqueueGuardTTL = time.Minute

// EnqueueOptions select which jobs to add.
type EnqueueOptions struct {
	Full bool
	// StartPage and MaxPages bound a full sweep. MaxPages <= 0 means the rest
	// of the catalog.
	StartPage   int
	MaxPages    int
	Concurrency int
}

// Enqueue adds sweep jobs to the shared queue and prints their ids.
func (a *App) Enqueue(ctx context.Context, opts EnqueueOptions) error {
	b, err := a.openPersistent(ctx, "enqueue jobs")
	if err != nil {
		return err
	}
	defer b.close()

	guard := lock.New(b.locks, a.Config.Lock.Key+":enqueue", enqueueGuardTTL)
	jobs, err := a.enqueue(ctx, a.newQueue(b), guard, opts)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		fmt.Fprintf(a.Out, "%s\t%s\t%s\n", job.ID, job.Kind, describePayload(job))
	}
	return nil
}

func (a *App) enqueue(ctx context.Context, q *queue.Queue, guard *lock.Mutex, opts EnqueueOptions) ([]queue.Job, error) {
	token := lock.NewToken()
	acquired, err := guard.Acquire(ctx, token)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrBusy
	}
	defer func() {
		if _, err := guard.Release(context.WithoutCancel(ctx), token); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to release enqueue guard")
		}
	}()

	if !opts.Full {
		job, err := q.Enqueue(ctx, queue.NewActiveSweep(queue.ActiveSweepParams{Concurrency: opts.Concurrency}))
		if err != nil {
			return nil, err
		}
		return []queue.Job{job}, nil
	}

	chunks := scheduler.Chunks(opts.StartPage, opts.MaxPages, a.Config.Queue.ChunkSize, a.catalogPages())
	if len(chunks) == 0 {
		return nil, fmt.Errorf("start page %d is past the last catalog page %d", opts.StartPage, a.catalogPages())
	}

	jobs := make([]queue.Job, 0, len(chunks))
	for _, chunk := range chunks {
		job, err := q.Enqueue(ctx, queue.NewFullSweep(queue.FullSweepParams{
			StartPage:         chunk.Start,
			EndPage:           chunk.End,
			Concurrency:       opts.Concurrency,
			SortByPerformance: a.Config.Upstream.SortByPerformance,
		}))
		if err != nil {
			return jobs, fmt.Errorf("enqueue pages %d-%d: %w", chunk.Start, chunk.End, err)
		}
		jobs = append(jobs, job)
	}

	a.Logger.Info().Int("jobs", len(jobs)).Int("start_page", chunks[0].Start).Int("end_page", chunks[len(chunks)-1].End).Msg("full sweep enqueued")
	return jobs, nil
}

func describePayload(job queue.Job) string {
	switch {
	case job.Payload.Full != nil:
		return fmt.Sprintf("pages %d-%d", job.Payload.Full.StartPage, job.Payload.Full.EndPage)
	case job.Payload.Active != nil:
		return "priority set"
	default:
		return ""
	}
}

// Status prints queue counts.
func (a *App) Status(ctx context.Context) error {
	b, err := a.openPersistent(ctx, "read queue status")
	if err != nil {
		return err
	}
	defer b.close()

	counts, err := a.newQueue(b).Status(ctx)
	if err != nil {
		return err
	}
	return a.printCounts(counts)
}

func (a *App) printCounts(c queue.Counts) error {
	w := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "Waiting\tActive\tDelayed\tCompleted\tFailed\tTotal")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\n", c.Waiting, c.Active, c.Delayed, c.Completed, c.Failed, c.Pending())
	return w.Flush()
}
