package ingest

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/metrics"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/queue"
)

type Resolver interface {
	Resolve(gatewayID string, position int) (domain.Panel, bool)
}

type ReadingBuffer interface {
	Upsert(r domain.PanelReading)
}

// Broadcaster pushes decoded reports to interested connections. It may be
// the in-process router or a relay publisher.
type Broadcaster interface {
	BroadcastSensorData(report domain.GatewayReport)
}

// Worker is the single consumer of the ingestion queue.
type Worker struct {
	queue       *queue.Queue[domain.GatewayReport]
	resolver    Resolver
	buffer      ReadingBuffer
	broadcaster Broadcaster
	log         zerolog.Logger
}

func NewWorker(q *queue.Queue[domain.GatewayReport], resolver Resolver, buffer ReadingBuffer, broadcaster Broadcaster, log zerolog.Logger) *Worker {
	return &Worker{queue: q, resolver: resolver, buffer: buffer, broadcaster: broadcaster, log: log}
}

// Run drains the queue until it is closed or ctx is cancelled. On
// cancellation whatever is already queued is still processed.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("ingest worker started")
	for {
		report, err := w.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				w.log.Info().Msg("ingest queue closed; worker stopping")
				return nil
			}
			w.drain()
			w.log.Info().Msg("ingest worker stopped")
			return nil
		}
		metrics.QueueDepth.Set(float64(w.queue.Len()))
		w.handle(report)
	}
}

func (w *Worker) drain() {
	n := 0
	for {
		report, ok := w.queue.TryPop()
		if !ok {
			break
		}
		w.handle(report)
		n++
	}
	if n > 0 {
		w.log.Info().Int("reports", n).Msg("drained queued reports on shutdown")
	}
	metrics.QueueDepth.Set(0)
}

func (w *Worker) handle(report domain.GatewayReport) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error().Interface("panic", r).Str("gateway_id", report.GatewayID).Msg("report processing panicked")
		}
	}()

	w.Process(report)
	if w.broadcaster != nil {
		w.broadcaster.BroadcastSensorData(report)
	}
}

// Process folds every resolvable sensor of report into the buffer and
// returns how many readings it produced. Unresolved sensors are skipped.
func (w *Worker) Process(report domain.GatewayReport) int {
	produced := 0
	for i, sensor := range report.Sensors {
		panel, ok := w.resolver.Resolve(report.GatewayID, i)
		if !ok {
			metrics.ReadingsUnresolved.Inc()
			w.log.Debug().Str("gateway_id", report.GatewayID).Int("position", i).Msg("panel not found")
			continue
		}
		w.buffer.Upsert(domain.PanelReading{
			PanelID:     panel.ID,
			ReadingTime: report.Timestamp,
			Value:       sensor.Value,
		})
		produced++
	}
	metrics.ReadingsResolved.Add(float64(produced))
	return produced
}
