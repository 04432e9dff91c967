// Package service runs the offer sync pipeline: fetch, diff against the last
// snapshot, persist, alert, and maintain the priority set.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"offer-sync-alerts/internal/alerting"
	"offer-sync-alerts/internal/crawler"
	"offer-sync-alerts/internal/detector"
	"offer-sync-alerts/internal/fetcher"
	"offer-sync-alerts/internal/lock"
	"offer-sync-alerts/internal/queue"
	"offer-sync-alerts/internal/storage"
)

var (
	// ErrSyncInProgress is returned when another run holds the sync lock. The
	// queue worker treats it as a postponement, not a failed attempt.
	ErrSyncInProgress = fmt.Errorf("service: sync already in progress: %w", queue.ErrPostpone)
	// ErrLeaseLost is returned when the sync lock expired mid-run.
	ErrLeaseLost = errors.New("service: sync lock lost during run")
)

// Options tune the pipeline.
type Options struct {
	// Filter carries the upstream filters applied to every sweep.
	Filter        fetcher.Query
	Thresholds    detector.Thresholds
	AlertsEnabled bool
	DedupWindow   time.Duration
	// LockRefresh is how often the sync lock is extended during a run.
	LockRefresh time.Duration
	Now         func() time.Time
}

// Service orchestrates fetching, persistence, and alerting.
type Service struct {
	crawler    *crawler.Crawler
	store      storage.SyncStore
	dispatcher *alerting.Dispatcher
	mutex      *lock.Mutex
	opts       Options
	logger     zerolog.Logger
}

// New constructs the pipeline. mutex may be nil, in which case runs are not
// guarded.
func New(cr *crawler.Crawler, store storage.SyncStore, dispatcher *alerting.Dispatcher, mutex *lock.Mutex, opts Options, logger zerolog.Logger) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = 24 * time.Hour
	}
	if opts.Thresholds == (detector.Thresholds{}) {
		opts.Thresholds = detector.DefaultThresholds()
	}
	if dispatcher == nil {
		dispatcher = alerting.NewDispatcher(nil, 0, logger)
	}
	return &Service{
		crawler:    cr,
		store:      store,
		dispatcher: dispatcher,
		mutex:      mutex,
		opts:       opts,
		logger:     logger.With().Str("component", "service").Logger(),
	}
}

// Execute is the queue handler for both sweep kinds.
func (s *Service) Execute(ctx context.Context, job queue.Job) (queue.Result, error) {
	switch job.Kind {
	case queue.KindActiveSweep:
		if job.Payload.Active == nil {
			return queue.Result{}, errors.New("active sweep job without parameters")
		}
		return s.RunActiveSweep(ctx, *job.Payload.Active)
	case queue.KindFullSweep:
		if job.Payload.Full == nil {
			return queue.Result{}, errors.New("full sweep job without parameters")
		}
		return s.RunFullSweep(ctx, *job.Payload.Full)
	default:
		return queue.Result{}, fmt.Errorf("%w: %q", queue.ErrUnknownJobKind, job.Kind)
	}
}

// RunActiveSweep re-polls the tracked priority set and prunes members whose
// activity is no longer recent or that the upstream stopped returning.
func (s *Service) RunActiveSweep(ctx context.Context, p queue.ActiveSweepParams) (queue.Result, error) {
	return s.guarded(ctx, func(ctx context.Context) (queue.Result, error) {
		start := time.Now()
		ids, err := s.store.ListPriorityMembers(ctx)
		if err != nil {
			return queue.Result{}, fmt.Errorf("list priority members: %w", err)
		}
		if len(ids) == 0 {
			s.logger.Info().Msg("priority set empty; nothing to poll")
			return queue.Result{ElapsedMs: time.Since(start).Milliseconds()}, nil
		}

		crawl := s.crawler.WithConcurrency(p.Concurrency).CrawlIDs(ctx, s.filter(p.Status, false), ids)
		out, err := s.process(ctx, crawl.Offers)
		if err != nil {
			return queue.Result{}, err
		}

		missing := missingMembers(ids, crawl)
		pruned := slices.Concat(out.stale, missing)
		if err := s.store.RemovePriorityMembers(ctx, pruned); err != nil {
			return queue.Result{}, fmt.Errorf("prune priority members: %w", err)
		}

		res := out.result(crawl)
		res.ElapsedMs = time.Since(start).Milliseconds()
		s.logger.Info().
			Int("tracked", len(ids)).
			Int("pruned", len(pruned)).
			Int("missing", len(missing)).
			Int("offers", res.OffersProcessed).
			Int("snapshots", res.SnapshotsWritten).
			Int("alerts", res.AlertsSent).
			Msg("active sweep finished")
		return res, nil
	})
}

// RunFullSweep polls a page range of the catalog. A clean sweep of the whole
// catalog replaces the priority set; anything less updates it incrementally.
func (s *Service) RunFullSweep(ctx context.Context, p queue.FullSweepParams) (queue.Result, error) {
	return s.guarded(ctx, func(ctx context.Context) (queue.Result, error) {
		start := time.Now()
		filter := s.filter(p.Status, p.SortByPerformance)
		crawl := s.crawler.WithConcurrency(p.Concurrency).CrawlPages(ctx, filter, p.StartPage, p.EndPage)

		out, err := s.process(ctx, crawl.Offers)
		if err != nil {
			return queue.Result{}, err
		}

		wholeCatalog := p.StartPage <= 1 && p.EndPage >= s.crawler.MaxPages() && crawl.FailedUnits == 0
		if wholeCatalog {
			if err := s.store.ReplacePriorityMembers(ctx, out.recent); err != nil {
				return queue.Result{}, fmt.Errorf("replace priority members: %w", err)
			}
		} else {
			if err := s.store.AddPriorityMembers(ctx, out.recent); err != nil {
				return queue.Result{}, fmt.Errorf("add priority members: %w", err)
			}
			if err := s.store.RemovePriorityMembers(ctx, out.stale); err != nil {
				return queue.Result{}, fmt.Errorf("prune priority members: %w", err)
			}
		}

		res := out.result(crawl)
		res.ElapsedMs = time.Since(start).Milliseconds()
		s.logger.Info().
			Int("start_page", p.StartPage).
			Int("end_page", p.EndPage).
			Bool("replaced_priority_set", wholeCatalog).
			Int("recent", len(out.recent)).
			Int("offers", res.OffersProcessed).
			Int("snapshots", res.SnapshotsWritten).
			Int("alerts", res.AlertsSent).
			Msg("full sweep finished")
		return res, nil
	})
}

// missingMembers lists polled ids the upstream did not return. Ids whose
// batch failed are left out, their absence says nothing.
func missingMembers(polled []string, crawl crawler.Result) []string {
	seen := make(map[string]struct{}, len(crawl.Offers)+len(crawl.FailedIDs))
	for _, o := range crawl.Offers {
		seen[strings.TrimSpace(o.ID)] = struct{}{}
	}
	for _, id := range crawl.FailedIDs {
		seen[id] = struct{}{}
	}
	out := make([]string, 0)
	for _, id := range polled {
		if _, ok := seen[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func (s *Service) filter(status string, sortByPerformance bool) fetcher.Query {
	q := s.opts.Filter
	if status != "" {
		q.Status = status
	}
	q.SortByPerform = sortByPerformance
	return q
}

// guarded runs fn while holding the sync lock and keeps the lease alive.
func (s *Service) guarded(ctx context.Context, fn func(ctx context.Context) (queue.Result, error)) (queue.Result, error) {
	if s.mutex == nil {
		return fn(ctx)
	}

	token := lock.NewToken()
	acquired, err := s.mutex.Acquire(ctx, token)
	if err != nil {
		return queue.Result{}, err
	}
	if !acquired {
		s.logger.Info().Str("lock", s.mutex.Key()).Msg("sync lock held elsewhere; skipping run")
		return queue.Result{}, ErrSyncInProgress
	}

	runCtx, cancel := context.WithCancel(ctx)
	var lost atomic.Bool
	go s.mutex.KeepAlive(runCtx, token, s.opts.LockRefresh, s.logger, func() {
		lost.Store(true)
		cancel()
	})

	defer func() {
		cancel()
		releaseCtx, done := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer done()
		if _, err := s.mutex.Release(releaseCtx, token); err != nil {
			s.logger.Warn().Err(err).Str("lock", s.mutex.Key()).Msg("failed to release sync lock")
		}
	}()

	res, err := fn(runCtx)
	if lost.Load() {
		return res, ErrLeaseLost
	}
	return res, err
}
