// Package crawler fans listing requests out over a bounded worker pool and
// gathers the offers they return.
package crawler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"offer-sync-alerts/internal/fetcher"
	"offer-sync-alerts/internal/retry"
)

const (
	// MaxCatalogPages is the upstream's hard page ceiling.
	MaxCatalogPages = 120
	// DefaultBatchSize is the upstream's limit on ids per request.
	DefaultBatchSize   = 50
	defaultPageSize    = 100
	defaultConcurrency = 10
)

// Options tune the crawler.
type Options struct {
	Concurrency int
	BatchSize   int
	PageSize    int
	MaxPages    int
	Retry       retry.Policy
}

// Result aggregates one crawl.
type Result struct {
	Offers      []fetcher.Offer
	Units       int
	FailedUnits int
	// FailedIDs are the ids requested by failed id-batch units.
	FailedIDs []string
}

// Crawler issues page or id-batch requests with at most Concurrency in flight.
type Crawler struct {
	lister fetcher.OfferLister
	opts   Options
	logger zerolog.Logger
}

// New constructs a Crawler. The retry policy classifier defaults to
// fetcher.IsRateLimited.
func New(lister fetcher.OfferLister, opts Options, logger zerolog.Logger) *Crawler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.BatchSize <= 0 || opts.BatchSize > DefaultBatchSize {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.MaxPages <= 0 || opts.MaxPages > MaxCatalogPages {
		opts.MaxPages = MaxCatalogPages
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = fetcher.IsRateLimited
	}
	return &Crawler{
		lister: lister,
		opts:   opts,
		logger: logger.With().Str("component", "crawler").Logger(),
	}
}

// WithConcurrency returns a copy of c limited to n requests in flight. A
// non-positive n returns c unchanged.
func (c *Crawler) WithConcurrency(n int) *Crawler {
	if n <= 0 || n == c.opts.Concurrency {
		return c
	}
	cp := *c
	cp.opts.Concurrency = n
	return &cp
}

// MaxPages is the effective catalog page bound.
func (c *Crawler) MaxPages() int { return c.opts.MaxPages }

// CrawlPages fetches pages startPage..endPage inclusive, clamped to the
// catalog bounds. base supplies the filters and sort hint.
func (c *Crawler) CrawlPages(ctx context.Context, base fetcher.Query, startPage, endPage int) Result {
	if startPage < 1 {
		startPage = 1
	}
	if endPage > c.opts.MaxPages {
		endPage = c.opts.MaxPages
	}

	units := make([]fetcher.Query, 0, max(endPage-startPage+1, 0))
	for page := startPage; page <= endPage; page++ {
		q := base
		q.OfferIDs = nil
		q.Page = page
		q.Limit = c.opts.PageSize
		units = append(units, q)
	}
	return c.run(ctx, units)
}

// CrawlIDs fetches the given offer ids in fixed size batches.
func (c *Crawler) CrawlIDs(ctx context.Context, base fetcher.Query, ids []string) Result {
	batches := Batches(ids, c.opts.BatchSize)
	units := make([]fetcher.Query, 0, len(batches))
	for _, batch := range batches {
		q := base
		q.Page = 0
		q.Limit = 0
		q.SortByPerform = false
		q.OfferIDs = batch
		units = append(units, q)
	}
	return c.run(ctx, units)
}

func (c *Crawler) run(ctx context.Context, units []fetcher.Query) Result {
	start := time.Now()
	parts := make([][]fetcher.Offer, len(units))
	failed := make([]bool, len(units))

	policy := c.opts.Retry
	var g errgroup.Group
	g.SetLimit(c.opts.Concurrency)

	for i, unit := range units {
		g.Go(func() error {
			if ctx.Err() != nil {
				failed[i] = true
				return nil
			}
			p := policy
			p.OnRetry = func(attempt int, delay time.Duration, err error) {
				c.logger.Warn().Err(err).
					Int("unit", i).
					Int("attempt", attempt).
					Dur("delay", delay).
					Msg("rate limited, backing off")
			}
			offers, err := retry.Do(ctx, p, func(ctx context.Context) ([]fetcher.Offer, error) {
				return c.lister.FetchOffers(ctx, unit)
			})
			if err != nil {
				failed[i] = true
				c.logger.Error().Err(err).
					Int("page", unit.Page).
					Int("ids", len(unit.OfferIDs)).
					Msg("work unit failed, contributing no offers")
				return nil
			}
			parts[i] = offers
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Units: len(units)}
	for i, part := range parts {
		if failed[i] {
			res.FailedUnits++
			res.FailedIDs = append(res.FailedIDs, units[i].OfferIDs...)
		}
		res.Offers = append(res.Offers, part...)
	}

	c.logger.Info().
		Int("units", res.Units).
		Int("failed_units", res.FailedUnits).
		Int("offers", len(res.Offers)).
		Dur("elapsed", time.Since(start)).
		Msg("crawl finished")
	return res
}

// Batches splits ids into consecutive chunks of at most size.
func Batches(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultBatchSize
	}
	out := make([][]string, 0, (len(ids)+size-1)/size)
	for i := 0; i < len(ids); i += size {
		end := min(i+size, len(ids))
		out = append(out, ids[i:end])
	}
	return out
}
