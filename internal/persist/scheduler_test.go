package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/clock"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/ingest"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/lastvalue"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/queue"
)

type recordingWriter struct {
	mu      sync.Mutex
	batches [][]domain.PanelReading
	err     error
	stored  map[string]domain.PanelReading
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{stored: map[string]domain.PanelReading{}}
}

// InsertReadings mimics ON CONFLICT DO NOTHING on (panel_id, reading_time).
func (w *recordingWriter) InsertReadings(_ context.Context, readings []domain.PanelReading) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, append([]domain.PanelReading(nil), readings...))
	if w.err != nil {
		return w.err
	}
	for _, r := range readings {
		key := fmt.Sprintf("%d@%d", r.PanelID, r.ReadingTime.UnixNano())
		if _, ok := w.stored[key]; !ok {
			w.stored[key] = r
		}
	}
	return nil
}

func (w *recordingWriter) batchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

type recordingArchiver struct {
	calls int
}

func (a *recordingArchiver) ArchiveReadings(context.Context, time.Time, []domain.PanelReading) error {
	a.calls++
	return nil
}

func TestUntilNextMinute(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Minute, UntilNextMinute(base))
	assert.Equal(t, 45*time.Second, UntilNextMinute(base.Add(15*time.Second)))
	assert.Equal(t, 500*time.Millisecond, UntilNextMinute(base.Add(59*time.Second+500*time.Millisecond)))
}

func TestFlushOnce_WritesOnlyFreshReadings(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC)
	tbl := lastvalue.New()
	tbl.Upsert(domain.PanelReading{PanelID: 1, ReadingTime: now.Add(-10 * time.Second), Value: 1})
	tbl.Upsert(domain.PanelReading{PanelID: 2, ReadingTime: now.Add(-95 * time.Second), Value: 2})

	w := newRecordingWriter()
	s := New(tbl, w, Options{Clock: clock.NewFakeClock(now)}, zerolog.Nop())

	n, err := s.FlushOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, w.batches, 1)
	assert.Equal(t, int64(1), w.batches[0][0].PanelID)

	_, ok := tbl.Get(2)
	assert.False(t, ok, "stale reading should be evicted")
}

func TestFlushOnce_NothingFreshSkipsWrite(t *testing.T) {
	w := newRecordingWriter()
	s := New(lastvalue.New(), w, Options{Clock: clock.NewFakeClock(time.Now())}, zerolog.Nop())

	n, err := s.FlushOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, w.batchCount())
}

func TestFlushOnce_RepeatedFlushesStoreOneRowPerReading(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC)
	fc := clock.NewFakeClock(now)
	tbl := lastvalue.New()
	tbl.Upsert(domain.PanelReading{PanelID: 1, ReadingTime: now.Add(-time.Second), Value: 1})

	w := newRecordingWriter()
	s := New(tbl, w, Options{Clock: fc}, zerolog.Nop())

	_, err := s.FlushOnce(context.Background())
	require.NoError(t, err)
	fc.Advance(time.Minute)
	_, err = s.FlushOnce(context.Background())
	require.NoError(t, err)

	assert.Len(t, w.batches, 2)
	assert.Len(t, w.stored, 1)
}

func TestFlushOnce_DuplicateKeyIsSuccess(t *testing.T) {
	now := time.Now()
	tbl := lastvalue.New()
	tbl.Upsert(domain.PanelReading{PanelID: 1, ReadingTime: now, Value: 1})

	w := newRecordingWriter()
	w.err = fmt.Errorf("insert readings: %w", &pgconn.PgError{Code: "23505"})
	archiver := &recordingArchiver{}
	s := New(tbl, w, Options{Clock: clock.NewFakeClock(now), Archiver: archiver}, zerolog.Nop())

	n, err := s.FlushOnce(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, archiver.calls)
}

func TestFlushOnce_StorageFailureIsReturnedAndRetainsReadings(t *testing.T) {
	now := time.Now()
	tbl := lastvalue.New()
	tbl.Upsert(domain.PanelReading{PanelID: 1, ReadingTime: now, Value: 1})

	w := newRecordingWriter()
	w.err = errors.New("connection refused")
	mirror := newRecordingWriter()
	s := New(tbl, w, Options{Clock: clock.NewFakeClock(now), Mirrors: []ReadingWriter{mirror}}, zerolog.Nop())

	_, err := s.FlushOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, tbl.Len())
	assert.Zero(t, mirror.batchCount())

	w.err = nil
	n, err := s.FlushOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, mirror.batchCount())
}

func TestRun_TicksAndFlushesOnShutdown(t *testing.T) {
	now := time.Now()
	tbl := lastvalue.New()
	w := newRecordingWriter()
	s := New(tbl, w, Options{Interval: 10 * time.Millisecond, Clock: clock.NewFakeClock(now)}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	tbl.Upsert(domain.PanelReading{PanelID: 1, ReadingTime: now, Value: 1})
	require.Eventually(t, func() bool { return w.batchCount() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	before := w.batchCount()
	assert.GreaterOrEqual(t, before, 2, "final flush should write the still-fresh reading again")
}

func TestRun_FinalFlushWhenCancelledDuringAlignment(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 1, 0, time.UTC)
	tbl := lastvalue.New()
	tbl.Upsert(domain.PanelReading{PanelID: 1, ReadingTime: now, Value: 1})
	w := newRecordingWriter()
	s := New(tbl, w, Options{AlignToMinute: true, Clock: clock.NewFakeClock(now)}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 1, w.batchCount())
}

type slowResolver struct{ delay time.Duration }

func (r slowResolver) Resolve(gatewayID string, _ int) (domain.Panel, bool) {
	time.Sleep(r.delay)
	var id int64
	_, _ = fmt.Sscanf(gatewayID, "GW%d", &id)
	return domain.Panel{ID: id}, true
}

func TestRun_FinalFlushWaitsForQueuedReports(t *testing.T) {
	q := queue.New[domain.GatewayReport]()
	now := time.Now()
	for i := 1; i <= 50; i++ {
		q.Push(domain.GatewayReport{
			GatewayID: fmt.Sprintf("GW%d", i),
			Timestamp: now,
			Sensors:   []domain.SensorSample{{Value: float64(i), Active: true}},
		})
	}

	tbl := lastvalue.New()
	w := newRecordingWriter()
	worker := ingest.NewWorker(q, slowResolver{delay: 5 * time.Millisecond}, tbl, nil, zerolog.Nop())
	drained := make(chan struct{})
	s := New(tbl, w, Options{Interval: time.Hour, Drained: drained}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(drained)
		_ = worker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		_ = s.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Len(t, w.stored, 50)
}

func TestRun_FinalFlushGivesUpWaitingAtDeadline(t *testing.T) {
	now := time.Now()
	tbl := lastvalue.New()
	tbl.Upsert(domain.PanelReading{PanelID: 1, ReadingTime: now, Value: 1})
	w := newRecordingWriter()
	never := make(chan struct{})
	s := New(tbl, w, Options{Interval: time.Hour, FinalFlushTimeout: 20 * time.Millisecond, Drained: never}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Run(ctx))
	assert.GreaterOrEqual(t, w.batchCount(), 1)
}

type hangingArchiver struct{ err error }

func (a *hangingArchiver) ArchiveReadings(ctx context.Context, _ time.Time, _ []domain.PanelReading) error {
	<-ctx.Done()
	a.err = ctx.Err()
	return a.err
}

func TestFlushOnce_BoundsArchiverCall(t *testing.T) {
	now := time.Now()
	tbl := lastvalue.New()
	tbl.Upsert(domain.PanelReading{PanelID: 1, ReadingTime: now, Value: 1})
	archiver := &hangingArchiver{}
	s := New(tbl, newRecordingWriter(), Options{
		Clock:            clock.NewFakeClock(now),
		Archiver:         archiver,
		SideWriteTimeout: 10 * time.Millisecond,
	}, zerolog.Nop())

	start := time.Now()
	n, err := s.FlushOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, archiver.err, context.DeadlineExceeded)
}
