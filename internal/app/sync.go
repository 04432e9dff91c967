package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"offer-sync-alerts/internal/queue"
)

// Sync runs one sweep in-process, bypassing the queue. It still takes the
// sync lock, so it cannot overlap a worker.
func (a *App) Sync(ctx context.Context, opts SyncOptions) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b, err := a.openBackends(ctx)
	if err != nil {
		return err
	}
	defer b.close()

	svc := a.newService(b)

	var res queue.Result
	if opts.Full {
		start := max(opts.StartPage, 1)
		end := opts.EndPage
		if end <= 0 || end > a.catalogPages() {
			end = a.catalogPages()
		}
		if start > end {
			return fmt.Errorf("--start-page %d is after --end-page %d", start, end)
		}
		res, err = svc.RunFullSweep(ctx, queue.FullSweepParams{
			StartPage:         start,
			EndPage:           end,
			Concurrency:       opts.Concurrency,
			SortByPerformance: a.Config.Upstream.SortByPerformance,
		})
	} else {
		res, err = svc.RunActiveSweep(ctx, queue.ActiveSweepParams{Concurrency: opts.Concurrency})
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Out, "fetched=%d processed=%d snapshots=%d alerts=%d failed_units=%d elapsed_ms=%d\n",
		res.OffersFetched, res.OffersProcessed, res.SnapshotsWritten, res.AlertsSent, res.FailedUnits, res.ElapsedMs)
	if res.FailedUnits > 0 {
		a.Logger.Warn().Int("failed_units", res.FailedUnits).Msg("sweep finished with failed requests")
	}
	return nil
}
