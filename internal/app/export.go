package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"offer-sync-alerts/internal/storage"
)

// ErrNotEnoughData is returned when a chart would have no line to draw.
var ErrNotEnoughData = errors.New("not enough snapshots to chart")

// Export renders one offer's snapshot history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.OfferID == "" {
		return errors.New("--offer is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	b, err := a.openPersistent(ctx, "export snapshots")
	if err != nil {
		return err
	}
	defer b.close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	snapshots, err := b.store.ListSnapshots(ctx, opts.OfferID, from, to, 0)
	if err != nil {
		return err
	}
	if len(snapshots) == 0 {
		a.Logger.Info().Str("offer_id", opts.OfferID).Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsample(snapshots, opts.MaxPoints)
	a.Logger.Info().Str("offer_id", opts.OfferID).Int("total", len(snapshots)).Int("exported", len(downsampled)).Msg("exporting snapshots")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return writeSnapshotsCSV(w, downsampled) }); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return writeSnapshotsPNG(w, opts.OfferID, downsampled) }); err != nil {
			return err
		}
	}

	return nil
}

func downsample[T any](items []T, max int) []T {
	if max <= 0 || len(items) <= max {
		return items
	}
	if max == 1 {
		return items[len(items)-1:]
	}

	result := make([]T, 0, max)
	step := float64(len(items)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(items) {
			idx = len(items) - 1
		}
		result = append(result, items[idx])
	}
	return result
}

func writeSnapshotsCSV(w io.Writer, snapshots []storage.Snapshot) error {
	writer := csv.NewWriter(w)

	header := []string{"created_at", "activity_raw", "activity_minutes", "activity_at", "filled_cap", "payout", "status"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, snap := range snapshots {
		record := []string{
			snap.CreatedAt.UTC().Format(time.RFC3339),
			optString(snap.ActivityRaw),
			optFloat(snap.ActivityMinutes),
			optTime(snap.ActivityAt),
			optInt(snap.FilledCap),
			snap.Payout.String(),
			snap.Status,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSnapshotsPNG(w io.Writer, offerID string, snapshots []storage.Snapshot) error {
	var minutesX, capX []time.Time
	var minutes, filled []float64
	for _, snap := range snapshots {
		if snap.ActivityMinutes != nil {
			minutesX = append(minutesX, snap.CreatedAt)
			minutes = append(minutes, *snap.ActivityMinutes)
		}
		if snap.FilledCap != nil {
			capX = append(capX, snap.CreatedAt)
			filled = append(filled, float64(*snap.FilledCap))
		}
	}
	if len(minutes) < 2 {
		return fmt.Errorf("offer %s: %w", offerID, ErrNotEnoughData)
	}

	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Minutes since last conversion",
			XValues: minutesX,
			YValues: minutes,
		},
	}
	if len(filled) >= 2 {
		series = append(series, chart.TimeSeries{
			Name:    "Filled cap",
			XValues: capX,
			YValues: filled,
			YAxis:   chart.YAxisSecondary,
		})
	}

	graph := chart.Chart{
		Title:  "Offer " + offerID,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Minutes",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.1f")
			},
		},
		YAxisSecondary: chart.YAxis{
			Name: "Filled cap",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.0f")
			},
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, w)
}

func writeFile(path string, render func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := render(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func optString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func optTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func optInt(n *int64) string {
	if n == nil {
		return ""
	}
	return strconv.FormatInt(*n, 10)
}
