package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Handler executes one job.
type Handler func(ctx context.Context, job Job) (Result, error)

// WorkerOptions tune the worker loop.
type WorkerOptions struct {
	ID           string
	PollInterval time.Duration
	// BusyDelay is how long a postponed job waits before it is runnable again.
	BusyDelay time.Duration
	// Lease is how long a claimed job stays reserved before another worker
	// may pick it up again. It should exceed the longest job timeout.
	Lease time.Duration
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Worker processes at most one job at a time.
type Worker struct {
	backend Backend
	handler Handler
	opts    WorkerOptions
	logger  zerolog.Logger
	wakeup  chan struct{}
}

// NewWorker constructs a worker around handler.
func NewWorker(backend Backend, handler Handler, opts WorkerOptions, logger zerolog.Logger) *Worker {
	if opts.ID == "" {
		opts.ID = "worker-" + uuid.NewString()[:8]
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BusyDelay <= 0 {
		opts.BusyDelay = 30 * time.Second
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultTimeout + time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Worker{
		backend: backend,
		handler: handler,
		opts:    opts,
		logger:  logger.With().Str("component", "queue_worker").Str("worker_id", opts.ID).Logger(),
		wakeup:  make(chan struct{}, 1),
	}
}

// Wake asks the worker to poll immediately.
func (w *Worker) Wake() {
	select {
	case w.wakeup <- struct{}{}:
	default:
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	w.logger.Info().Dur("poll_interval", w.opts.PollInterval).Msg("worker started")
	for {
		for {
			processed, err := w.ProcessNext(ctx)
			if err != nil {
				w.logger.Error().Err(err).Msg("queue poll failed")
				break
			}
			if !processed || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker stopping")
			return ctx.Err()
		case <-ticker.C:
		case <-w.wakeup:
		}
	}
}

// ProcessNext claims and runs one job. It reports whether a job was found.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	job, err := w.backend.ClaimJob(ctx, w.opts.ID, w.opts.Lease)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	log := w.logger.With().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Int("attempt", job.Attempts).
		Int("max_attempts", job.MaxAttempts).
		Logger()
	log.Info().Msg("processing job")

	start := time.Now()
	res, execErr := w.execute(ctx, *job)
	elapsed := time.Since(start)

	// Outcome bookkeeping must survive a cancelled run context.
	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	switch {
	case execErr == nil:
		if res.ElapsedMs == 0 {
			res.ElapsedMs = elapsed.Milliseconds()
		}
		if err := w.backend.CompleteJob(bookCtx, job.ID, res); err != nil {
			return true, fmt.Errorf("complete job %s: %w", job.ID, err)
		}
		log.Info().
			Int("offers_fetched", res.OffersFetched).
			Int("offers_processed", res.OffersProcessed).
			Int("snapshots", res.SnapshotsWritten).
			Int("alerts", res.AlertsSent).
			Int64("elapsed_ms", res.ElapsedMs).
			Msg("job completed")

	case errors.Is(execErr, ErrPostpone):
		at := w.opts.Now().Add(w.opts.BusyDelay)
		if err := w.backend.PostponeJob(bookCtx, job.ID, at); err != nil {
			return true, fmt.Errorf("postpone job %s: %w", job.ID, err)
		}
		log.Warn().Err(execErr).Time("available_at", at).Msg("job postponed")

	case job.Attempts < job.MaxAttempts:
		at := w.opts.Now().Add(job.BackoffFor(job.Attempts))
		if err := w.backend.RetryJob(bookCtx, job.ID, execErr.Error(), at); err != nil {
			return true, fmt.Errorf("retry job %s: %w", job.ID, err)
		}
		log.Warn().Err(execErr).Dur("elapsed", elapsed).Time("available_at", at).Msg("job attempt failed, will retry")

	default:
		if err := w.backend.FailJob(bookCtx, job.ID, execErr.Error()); err != nil {
			return true, fmt.Errorf("fail job %s: %w", job.ID, err)
		}
		log.Error().Err(execErr).Dur("elapsed", elapsed).Msg("job failed after final attempt")
	}
	return true, nil
}

// execute runs the handler under the job timeout. A handler that overruns is
// abandoned; its eventual result is discarded.
func (w *Worker) execute(ctx context.Context, job Job) (res Result, err error) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("job panicked: %v", r)}
			}
		}()
		r, e := w.handler(jobCtx, job)
		done <- outcome{res: r, err: e}
	}()

	select {
	case <-jobCtx.Done():
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("job timed out after %s", timeout)
	case out := <-done:
		return out.res, out.err
	}
}
