package persist

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/clock"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/metrics"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/repository"
)

// ReadingSource is the buffer the scheduler drains. Fresh must also evict
// what it does not return.
type ReadingSource interface {
	Fresh(now time.Time, horizon time.Duration) ([]domain.PanelReading, int)
}

type ReadingWriter interface {
	InsertReadings(ctx context.Context, readings []domain.PanelReading) error
}

// Archiver keeps a copy of every flushed batch outside the primary store.
type Archiver interface {
	ArchiveReadings(ctx context.Context, flushedAt time.Time, readings []domain.PanelReading) error
}

type Options struct {
	Interval          time.Duration
	Horizon           time.Duration
	FinalFlushTimeout time.Duration
	AlignToMinute     bool
	Clock             clock.Clock
	Mirrors           []ReadingWriter
	Archiver          Archiver
	// SideWriteTimeout bounds each mirror and archiver call.
	SideWriteTimeout  time.Duration
	// Drained, when set, is closed once the producer has folded its last
	// reading into the source. The final flush waits for it.
	Drained           <-chan struct{}
}

type Scheduler struct {
	source ReadingSource
	writer ReadingWriter
	opts   Options
	log    zerolog.Logger
}

func New(source ReadingSource, writer ReadingWriter, opts Options, log zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Horizon <= 0 {
		opts.Horizon = 90 * time.Second
	}
	if opts.FinalFlushTimeout <= 0 {
		opts.FinalFlushTimeout = 10 * time.Second
	}
	if opts.SideWriteTimeout <= 0 {
		opts.SideWriteTimeout = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	return &Scheduler{source: source, writer: writer, opts: opts, log: log}
}

// UntilNextMinute is the wait from now to the next whole wall-clock minute.
func UntilNextMinute(now time.Time) time.Duration {
	next := now.Truncate(time.Minute).Add(time.Minute)
	return next.Sub(now)
}

// Run flushes on every tick until ctx is cancelled, then flushes once more
// with a bounded timeout.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.opts.AlignToMinute {
		wait := UntilNextMinute(s.opts.Clock.Now())
		s.log.Info().Dur("wait", wait).Msg("persistence scheduler aligning to minute boundary")
		select {
		case <-ctx.Done():
			s.finalFlush(ctx)
			return nil
		case <-time.After(wait):
		}
	}

	s.log.Info().Dur("interval", s.opts.Interval).Dur("horizon", s.opts.Horizon).Msg("persistence scheduler started")
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		s.FlushOnce(ctx)
		select {
		case <-ctx.Done():
			s.finalFlush(ctx)
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) finalFlush(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.opts.FinalFlushTimeout)
	defer cancel()
	if s.opts.Drained != nil {
		select {
		case <-s.opts.Drained:
		case <-ctx.Done():
			s.log.Warn().Msg("producer still draining at final flush deadline")
		}
	}
	n, err := s.FlushOnce(ctx)
	s.log.Info().Int("readings", n).AnErr("error", err).Msg("final flush done")
}

// FlushOnce writes every fresh buffered reading in one bulk operation and
// returns how many were selected. Duplicate-key conflicts count as success.
// Other errors are logged and returned; the next tick resubmits whatever is
// still fresh.
func (s *Scheduler) FlushOnce(ctx context.Context) (int, error) {
	now := s.opts.Clock.Now()
	readings, evicted := s.source.Fresh(now, s.opts.Horizon)
	if evicted > 0 {
		metrics.StaleEvicted.Add(float64(evicted))
		s.log.Debug().Int("evicted", evicted).Msg("stale readings evicted")
	}
	if len(readings) == 0 {
		return 0, nil
	}
	metrics.FlushBatchSize.Observe(float64(len(readings)))

	if err := s.writer.InsertReadings(ctx, readings); err != nil {
		if !repository.IsDuplicateKey(err) {
			metrics.FlushFailures.Inc()
			s.log.Error().Err(err).Int("readings", len(readings)).Msg("failed to persist panel readings")
			return len(readings), err
		}
		metrics.DuplicatesAbsorbed.Inc()
		s.log.Debug().Int("readings", len(readings)).Msg("duplicate readings absorbed")
	}

	for _, m := range s.opts.Mirrors {
		mctx, cancel := context.WithTimeout(ctx, s.opts.SideWriteTimeout)
		err := m.InsertReadings(mctx, readings)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Msg("reading mirror write failed")
		}
	}
	if s.opts.Archiver != nil {
		actx, cancel := context.WithTimeout(ctx, s.opts.SideWriteTimeout)
		err := s.opts.Archiver.ArchiveReadings(actx, now, readings)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Msg("reading archive failed")
		}
	}

	s.log.Debug().Int("readings", len(readings)).Msg("panel readings persisted")
	return len(readings), nil
}
