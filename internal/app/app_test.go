package app

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"offer-sync-alerts/internal/alerting"
	"offer-sync-alerts/internal/config"
	"offer-sync-alerts/internal/detector"
	"offer-sync-alerts/internal/fetcher"
	"offer-sync-alerts/internal/lock"
	"offer-sync-alerts/internal/queue"
	"offer-sync-alerts/internal/scheduler"
	"offer-sync-alerts/internal/storage"
)

func testConfig() *config.Config {
	return &config.Config{
		Upstream: config.UpstreamConfig{
			PageSize:          100,
			MaxPages:          120,
			BatchSize:         50,
			Status:            "Active",
			SortByPerformance: true,
		},
		Crawler: config.CrawlerConfig{Concurrency: 4, BackoffMultiplier: 2},
		Alerting: config.AlertingConfig{
			Enabled:               true,
			ThresholdMinutes:      10,
			MultipleThreshold:     5,
			DisappearBelowMinutes: 30,
			SurgeBelowMinutes:     1,
			DedupWindow:           24 * time.Hour,
			MaxConcurrentSends:    5,
		},
		Lock:      config.LockConfig{Key: "offer-sync", TTL: time.Minute, RefreshInterval: 10 * time.Second},
		Queue:     config.QueueConfig{MaxAttempts: 3, Backoff: 2 * time.Second, Timeout: time.Minute, PollInterval: time.Second, ChunkSize: 10},
		Scheduler: config.SchedulerConfig{Interval: 2 * time.Minute, EnqueueFull: true},
		Export:    config.ExportConfig{MaxDataPoints: 100},
	}
}

func newTestApp() (*App, *bytes.Buffer) {
	var out bytes.Buffer
	a := NewApp(testConfig(), zerolog.Nop())
	a.Out = &out
	return a, &out
}

func pages(jobs []queue.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = describePayload(j)
	}
	return out
}

func TestEnqueueFullChunksWholeCatalog(t *testing.T) {
	a, _ := newTestApp()
	q := queue.New(queue.NewMemory(), queue.Defaults{})
	guard := lock.New(lock.NewMemory(), "offer-sync:enqueue", time.Minute)

	jobs, err := a.enqueue(context.Background(), q, guard, EnqueueOptions{Full: true, StartPage: 1})
	require.NoError(t, err)
	require.Len(t, jobs, 12)

	assert.Equal(t, "pages 1-10", describePayload(jobs[0]))
	assert.Equal(t, "pages 111-120", describePayload(jobs[11]))
	for _, j := range jobs {
		assert.Equal(t, queue.KindFullSweep, j.Kind)
		assert.True(t, j.Payload.Full.SortByPerformance)
	}

	counts, err := q.Status(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 12, counts.Waiting)
}

func TestEnqueueFullClampsToCatalog(t *testing.T) {
	a, _ := newTestApp()
	q := queue.New(queue.NewMemory(), queue.Defaults{})
	guard := lock.New(lock.NewMemory(), "offer-sync:enqueue", time.Minute)

	jobs, err := a.enqueue(context.Background(), q, guard, EnqueueOptions{Full: true, StartPage: 105, MaxPages: 50})
	require.NoError(t, err)
	assert.Equal(t, []string{"pages 105-114", "pages 115-120"}, pages(jobs))

	_, err = a.enqueue(context.Background(), q, guard, EnqueueOptions{Full: true, StartPage: 121})
	assert.Error(t, err)
}

func TestEnqueueActive(t *testing.T) {
	a, _ := newTestApp()
	q := queue.New(queue.NewMemory(), queue.Defaults{})
	guard := lock.New(lock.NewMemory(), "offer-sync:enqueue", time.Minute)

	jobs, err := a.enqueue(context.Background(), q, guard, EnqueueOptions{Concurrency: 3})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.KindActiveSweep, jobs[0].Kind)
	assert.Equal(t, 3, jobs[0].Payload.Active.Concurrency)
}

func TestEnqueueGuardBusy(t *testing.T) {
	a, _ := newTestApp()
	q := queue.New(queue.NewMemory(), queue.Defaults{})
	guard := lock.New(lock.NewMemory(), "offer-sync:enqueue", time.Minute)

	ok, err := guard.Acquire(context.Background(), "someone-else")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = a.enqueue(context.Background(), q, guard, EnqueueOptions{Full: true})
	assert.ErrorIs(t, err, ErrBusy)

	counts, err := q.Status(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Pending())
}

func TestEnqueueReleasesGuard(t *testing.T) {
	a, _ := newTestApp()
	q := queue.New(queue.NewMemory(), queue.Defaults{})
	guard := lock.New(lock.NewMemory(), "offer-sync:enqueue", time.Minute)

	_, err := a.enqueue(context.Background(), q, guard, EnqueueOptions{})
	require.NoError(t, err)

	ok, err := guard.Acquire(context.Background(), "next")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnqueueTickRotatesCursor(t *testing.T) {
	a, _ := newTestApp()
	q := queue.New(queue.NewMemory(), queue.Defaults{})
	cursor := scheduler.NewCursor(10, 120)

	first, err := a.enqueueTick(context.Background(), q, cursor)
	require.NoError(t, err)
	second, err := a.enqueueTick(context.Background(), q, cursor)
	require.NoError(t, err)

	assert.Equal(t, []string{"priority set", "pages 1-10"}, pages(first))
	assert.Equal(t, []string{"priority set", "pages 11-20"}, pages(second))
}

func TestEnqueueTickActiveOnly(t *testing.T) {
	a, _ := newTestApp()
	a.Config.Scheduler.EnqueueFull = false
	q := queue.New(queue.NewMemory(), queue.Defaults{})
	cursor := scheduler.NewCursor(10, 120)

	jobs, err := a.enqueueTick(context.Background(), q, cursor)
	require.NoError(t, err)
	assert.Equal(t, []string{"priority set"}, pages(jobs))
	assert.Equal(t, 1, cursor.Position())
}

func TestPrintCounts(t *testing.T) {
	a, out := newTestApp()
	require.NoError(t, a.printCounts(queue.Counts{Waiting: 2, Active: 1, Delayed: 3, Completed: 7, Failed: 1}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, []string{"2", "1", "3", "7", "1", "6"}, strings.Fields(lines[1]))
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	return m.Called(ctx, note).Error(0)
}

func TestSimulateAlertSends(t *testing.T) {
	a, out := newTestApp()
	n := new(mockNotifier)
	n.On("Notify", mock.Anything, mock.MatchedBy(func(note alerting.Notification) bool {
		return note.Kind == detector.KindSurge && note.OfferID == "42"
	})).Return(nil).Once()
	a.notifier = n

	err := a.SimulateAlert(context.Background(), SimulateOptions{
		OfferID:          "42",
		OfferName:        "Test offer",
		PreviousActivity: "< 1m",
		PreviousStatus:   "Active",
		CurrentActivity:  "45min",
		CurrentStatus:    "Active",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), string(detector.KindSurge))
	n.AssertExpectations(t)
}

func TestSimulateAlertNoRule(t *testing.T) {
	a, out := newTestApp()
	n := new(mockNotifier)
	a.notifier = n

	err := a.SimulateAlert(context.Background(), SimulateOptions{
		OfferID:          "42",
		PreviousActivity: "5min",
		PreviousStatus:   "Active",
		CurrentActivity:  "6min",
		CurrentStatus:    "Active",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "no rule fired")
	n.AssertNotCalled(t, "Notify", mock.Anything, mock.Anything)
}

func TestSimulateAlertWithoutChannel(t *testing.T) {
	a, _ := newTestApp()
	err := a.SimulateAlert(context.Background(), SimulateOptions{OfferID: "1", PreviousStatus: "Active", CurrentStatus: "Paused"})
	assert.ErrorIs(t, err, alerting.ErrNotConfigured)
}

type staticLister struct {
	pages map[int][]fetcher.Offer
}

func (s *staticLister) FetchOffers(_ context.Context, q fetcher.Query) ([]fetcher.Offer, error) {
	return s.pages[q.Page], nil
}

func TestSyncFullInMemory(t *testing.T) {
	a, out := newTestApp()
	a.Config.Upstream.MaxPages = 2
	activity := "3min"
	a.lister = &staticLister{pages: map[int][]fetcher.Offer{
		1: {
			{ID: "1", Name: "one", Status: "Active", Payout: "0.40", LastActivity: &activity},
			{ID: "2", Name: "two", Status: "Active", Payout: "0.10"},
		},
		2: {{ID: "2", Name: "two", Status: "Active", Payout: "0.10"}},
	}}

	require.NoError(t, a.Sync(context.Background(), SyncOptions{Full: true}))
	assert.Contains(t, out.String(), "fetched=3 processed=2 snapshots=2 alerts=0 failed_units=0")
}

func TestSyncRejectsInvertedRange(t *testing.T) {
	a, _ := newTestApp()
	a.lister = &staticLister{}
	err := a.Sync(context.Background(), SyncOptions{Full: true, StartPage: 50, EndPage: 10})
	assert.Error(t, err)
}

func TestCommandsNeedingDatabase(t *testing.T) {
	a, _ := newTestApp()
	ctx := context.Background()

	assert.ErrorContains(t, a.Enqueue(ctx, EnqueueOptions{}), "database not configured")
	assert.ErrorContains(t, a.Status(ctx), "database not configured")
	assert.ErrorContains(t, a.Show(ctx, ShowOptions{Limit: 5}), "database not configured")
	assert.ErrorContains(t, a.Migrate(ctx, ""), "database not configured")
	assert.ErrorContains(t, a.Export(ctx, ExportOptions{OfferID: "1", CSVPath: "x.csv"}), "database not configured")
}

func TestDownsample(t *testing.T) {
	in := make([]int, 100)
	for i := range in {
		in[i] = i
	}
	got := downsample(in, 5)
	assert.Equal(t, []int{0, 25, 50, 74, 99}, got)
	assert.Equal(t, in, downsample(in, 0))
	assert.Equal(t, []int{99}, downsample(in, 1))
}

func TestWriteSnapshotsCSV(t *testing.T) {
	raw := "15min"
	minutes := 15.0
	filled := int64(12)
	at := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	snaps := []storage.Snapshot{
		{OfferID: "1", ActivityRaw: &raw, ActivityMinutes: &minutes, FilledCap: &filled, Payout: decimal.RequireFromString("0.42"), Status: "Active", CreatedAt: at},
		{OfferID: "1", Payout: decimal.Zero, Status: "Paused", CreatedAt: at.Add(time.Hour)},
	}

	var buf bytes.Buffer
	require.NoError(t, writeSnapshotsCSV(&buf, snaps))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "created_at,activity_raw,activity_minutes,activity_at,filled_cap,payout,status", lines[0])
	assert.Equal(t, "2026-04-01T09:00:00Z,15min,15,,12,0.42,Active", lines[1])
	assert.Equal(t, "2026-04-01T10:00:00Z,,,,,0,Paused", lines[2])
}

func TestWriteSnapshotsPNGNeedsTwoPoints(t *testing.T) {
	minutes := 3.0
	snaps := []storage.Snapshot{{OfferID: "1", ActivityMinutes: &minutes, CreatedAt: time.Now()}}
	err := writeSnapshotsPNG(&bytes.Buffer{}, "1", snaps)
	assert.ErrorIs(t, err, ErrNotEnoughData)
}

func TestWriteSnapshotsPNG(t *testing.T) {
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	snaps := make([]storage.Snapshot, 0, 6)
	for i := 0; i < 6; i++ {
		m := float64(i * 3)
		c := int64(i * 10)
		snaps = append(snaps, storage.Snapshot{OfferID: "1", ActivityMinutes: &m, FilledCap: &c, CreatedAt: base.Add(time.Duration(i) * time.Hour), Status: "Active"})
	}

	var buf bytes.Buffer
	require.NoError(t, writeSnapshotsPNG(&buf, "1", snaps))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")), "png signature")
}

func TestFormatHelpers(t *testing.T) {
	m := 0.5
	assert.Equal(t, "0.5", formatMinutes(&m))
	assert.Equal(t, "-", formatMinutes(nil))
	assert.Equal(t, "a b", sanitizeInline("a\nb"))
	assert.Equal(t, strconv.Itoa(7), optInt(func() *int64 { v := int64(7); return &v }()))
}
