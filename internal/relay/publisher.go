package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/metrics"
)

const (
	fieldType = "type"
	fieldData = "data"

	defaultMaxLen  = 10000
	defaultBuffer  = 1024
	publishTimeout = 2 * time.Second
)

type Streams struct {
	SensorData  string
	PanelChange string
}

func (s Streams) withDefaults() Streams {
	if s.SensorData == "" {
		s.SensorData = "telemetry:sensor-data"
	}
	if s.PanelChange == "" {
		s.PanelChange = "telemetry:panel-change"
	}
	return s
}

// Publisher forwards pipeline events to Redis streams so another process
// can fan them out. It satisfies the batcher's Broadcaster; sensor data is
// handed to Run through a bounded buffer and dropped when that is full.
type Publisher struct {
	client  redis.UniversalClient
	streams Streams
	maxLen  int64
	pending chan domain.GatewayReport
	log     zerolog.Logger
}

func NewPublisher(client redis.UniversalClient, streams Streams, log zerolog.Logger) *Publisher {
	return &Publisher{
		client:  client,
		streams: streams.withDefaults(),
		maxLen:  defaultMaxLen,
		pending: make(chan domain.GatewayReport, defaultBuffer),
		log:     log,
	}
}

func (p *Publisher) publish(ctx context.Context, stream string, ev domain.Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("relay: encode %s: %w", ev.Type, err)
	}
	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{fieldType: ev.Type, fieldData: string(data)},
	}).Err()
	if err != nil {
		return fmt.Errorf("relay: xadd %s: %w", stream, err)
	}
	return nil
}

// BroadcastSensorData queues the report for Run. It never blocks.
func (p *Publisher) BroadcastSensorData(report domain.GatewayReport) {
	select {
	case p.pending <- report:
	default:
		metrics.BroadcastFailed.WithLabelValues(domain.EventSensorData).Inc()
		p.log.Debug().Str("gateway_id", report.GatewayID).Msg("relay buffer full, sensor data dropped")
	}
}

// Run writes queued sensor data to the stream until ctx is done. Reports
// still queued at that point are dropped.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case report := <-p.pending:
			p.send(ctx, report)
		}
	}
}

func (p *Publisher) send(parent context.Context, report domain.GatewayReport) {
	ctx, cancel := context.WithTimeout(parent, publishTimeout)
	defer cancel()
	ev := domain.SensorDataEvent(report)
	if err := p.publish(ctx, p.streams.SensorData, ev); err != nil {
		metrics.BroadcastFailed.WithLabelValues(ev.Type).Inc()
		p.log.Warn().Err(err).Str("gateway_id", report.GatewayID).Msg("sensor data relay failed")
		return
	}
	metrics.BroadcastDelivered.WithLabelValues(ev.Type).Inc()
}

func (p *Publisher) PublishPanelChange(ctx context.Context, change domain.PanelChange) error {
	return p.publish(ctx, p.streams.PanelChange, domain.PanelChangeEvent(change))
}
