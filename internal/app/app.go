package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"offer-sync-alerts/internal/alerting"
	"offer-sync-alerts/internal/config"
	"offer-sync-alerts/internal/crawler"
	"offer-sync-alerts/internal/detector"
	"offer-sync-alerts/internal/fetcher"
	"offer-sync-alerts/internal/lock"
	"offer-sync-alerts/internal/queue"
	"offer-sync-alerts/internal/retry"
	"offer-sync-alerts/internal/scheduler"
	"offer-sync-alerts/internal/service"
	"offer-sync-alerts/internal/storage"
	"offer-sync-alerts/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	notifier alerting.Notifier
	lister   fetcher.OfferLister
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// backends are the stores one command works against. Without a DSN they are
// in-memory and vanish with the process.
type backends struct {
	store storage.SyncStore
	locks lock.Backend
	jobs  queue.Backend
	close func()
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openBackends(ctx context.Context) (*backends, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; using in-memory state")
		return &backends{
			store: storage.NewMemory(),
			locks: lock.NewMemory(),
			jobs:  queue.NewMemory(),
			close: func() {},
		}, nil
	}
	return &backends{store: store, locks: store, jobs: store, close: closeStore}, nil
}

// openPersistent is openBackends for commands that are pointless without a
// shared database.
func (a *App) openPersistent(ctx context.Context, what string) (*backends, error) {
	if a.Config.Database.DSN == "" {
		return nil, fmt.Errorf("database not configured; cannot %s", what)
	}
	return a.openBackends(ctx)
}

func (a *App) catalogPages() int {
	return min(a.Config.Upstream.MaxPages, crawler.MaxCatalogPages)
}

func (a *App) newLister() fetcher.OfferLister {
	if a.lister != nil {
		return a.lister
	}
	ua := a.Config.Upstream.UserAgent
	if ua == "" {
		ua = version.UserAgent()
	}
	return fetcher.NewClient(fetcher.ClientOptions{
		BaseURL:   a.Config.Upstream.BaseURL,
		Token:     a.Config.Upstream.Token,
		Timeout:   a.Config.Upstream.RequestTimeout,
		UserAgent: ua,
	}, a.Logger)
}

func (a *App) newCrawler() *crawler.Crawler {
	cfg := a.Config.Crawler
	policy := retry.Policy{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.BaseDelay,
		Multiplier: cfg.BackoffMultiplier,
		Retryable:  fetcher.IsRateLimited,
	}
	return crawler.New(a.newLister(), crawler.Options{
		Concurrency: cfg.Concurrency,
		BatchSize:   a.Config.Upstream.BatchSize,
		PageSize:    a.Config.Upstream.PageSize,
		MaxPages:    a.catalogPages(),
		Retry:       policy,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.notifier != nil {
		return a.notifier
	}
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(alerting.TelegramOptions{
			BotToken:    cfg.BotToken,
			ChatID:      cfg.ChatID,
			APIEndpoint: cfg.APIEndpoint,
			Timeout:     cfg.Timeout,
		}, a.Logger)
	}
	return nil
}

func (a *App) newDispatcher() *alerting.Dispatcher {
	return alerting.NewDispatcher(a.newNotifier(), a.Config.Alerting.MaxConcurrentSends, a.Logger)
}

func (a *App) thresholds() detector.Thresholds {
	cfg := a.Config.Alerting
	return detector.Thresholds{
		AlertMinutes:   cfg.ThresholdMinutes,
		Multiple:       cfg.MultipleThreshold,
		DisappearBelow: cfg.DisappearBelowMinutes,
		SurgeBelow:     cfg.SurgeBelowMinutes,
	}
}

func (a *App) newService(b *backends) *service.Service {
	up := a.Config.Upstream
	mutex := lock.New(b.locks, a.Config.Lock.Key, a.Config.Lock.TTL)
	return service.New(a.newCrawler(), b.store, a.newDispatcher(), mutex, service.Options{
		Filter: fetcher.Query{
			Status:        up.Status,
			Country:       up.Country,
			Verticals:     up.Verticals,
			Flows:         up.Flows,
			SortByPerform: up.SortByPerformance,
		},
		Thresholds:    a.thresholds(),
		AlertsEnabled: a.Config.Alerting.Enabled,
		DedupWindow:   a.Config.Alerting.DedupWindow,
		LockRefresh:   a.Config.Lock.RefreshInterval,
	}, a.Logger)
}

func (a *App) newQueue(b *backends) *queue.Queue {
	return queue.New(b.jobs, queue.Defaults{
		MaxAttempts: a.Config.Queue.MaxAttempts,
		Backoff:     a.Config.Queue.Backoff,
		Timeout:     a.Config.Queue.Timeout,
	})
}

func (a *App) newWorker(b *backends, svc *service.Service) *queue.Worker {
	return queue.NewWorker(b.jobs, svc.Execute, queue.WorkerOptions{
		PollInterval: a.Config.Queue.PollInterval,
		BusyDelay:    a.Config.Queue.BusyDelay,
		Lease:        a.Config.Queue.Timeout + time.Minute,
	}, a.Logger)
}

// Run executes the long-running service: a queue worker plus the scheduler
// that feeds it.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := a.openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	q := a.newQueue(b)
	worker := a.newWorker(b, a.newService(b))
	sched := scheduler.New(scheduler.Options{
		Interval:       a.Config.Scheduler.Interval,
		AlignToStart:   a.Config.Scheduler.AlignToBucket,
		StartupDelay:   a.Config.Scheduler.StartupDelay,
		RunImmediately: true,
	}, a.Logger)
	cursor := scheduler.NewCursor(a.Config.Queue.ChunkSize, a.catalogPages())

	a.Logger.Info().Msg("starting offer sync service")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		return sched.Run(gctx, func(ctx context.Context, _ time.Time) error {
			if _, err := a.enqueueTick(ctx, q, cursor); err != nil {
				return err
			}
			worker.Wake()
			return nil
		})
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("offer sync service stopped")
	return nil
}

// Worker runs only the queue consumer; jobs come from `enqueue` or another
// process running the scheduler.
func (a *App) Worker(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := a.openPersistent(ctx, "run a standalone worker")
	if err != nil {
		return err
	}
	defer b.close()

	err = a.newWorker(b, a.newService(b)).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// enqueueTick adds one active sweep and, when enabled, the next full-sweep
// chunk of the rotation.
func (a *App) enqueueTick(ctx context.Context, q *queue.Queue, cursor *scheduler.Cursor) ([]queue.Job, error) {
	jobs := make([]queue.Job, 0, 2)

	active, err := q.Enqueue(ctx, queue.NewActiveSweep(queue.ActiveSweepParams{}))
	if err != nil {
		return jobs, fmt.Errorf("enqueue active sweep: %w", err)
	}
	jobs = append(jobs, active)

	if a.Config.Scheduler.EnqueueFull {
		chunk := cursor.Next()
		full, err := q.Enqueue(ctx, queue.NewFullSweep(queue.FullSweepParams{
			StartPage:         chunk.Start,
			EndPage:           chunk.End,
			SortByPerformance: a.Config.Upstream.SortByPerformance,
		}))
		if err != nil {
			return jobs, fmt.Errorf("enqueue full sweep %d-%d: %w", chunk.Start, chunk.End, err)
		}
		jobs = append(jobs, full)
	}

	a.Logger.Debug().Int("jobs", len(jobs)).Int("next_page", cursor.Position()).Msg("scheduled sweep jobs")
	return jobs, nil
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Alerts   bool
	Priority string
	Limit    int
}

// ExportOptions hold parameters for exporting an offer's snapshot history.
type ExportOptions struct {
	OfferID   string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// SyncOptions configure an in-process sweep.
type SyncOptions struct {
	Full        bool
	StartPage   int
	EndPage     int
	Concurrency int
}
