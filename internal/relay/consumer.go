package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
)

type Handlers struct {
	SensorData  func(domain.GatewayReport)
	PanelChange func(domain.PanelChange)
}

type ConsumerOptions struct {
	Streams    Streams
	Block      time.Duration
	Count      int64
	RetryDelay time.Duration
}

// Consumer tails the relay streams from the moment Run starts. Every
// consumer sees every entry; there is no consumer group.
type Consumer struct {
	client   redis.UniversalClient
	opts     ConsumerOptions
	handlers Handlers
	log      zerolog.Logger
}

func NewConsumer(client redis.UniversalClient, opts ConsumerOptions, handlers Handlers, log zerolog.Logger) *Consumer {
	opts.Streams = opts.Streams.withDefaults()
	if opts.Block <= 0 {
		opts.Block = time.Second
	}
	if opts.Count <= 0 {
		opts.Count = 100
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Consumer{client: client, opts: opts, handlers: handlers, log: log}
}

func (c *Consumer) streams() []string {
	var out []string
	if c.handlers.SensorData != nil {
		out = append(out, c.opts.Streams.SensorData)
	}
	if c.handlers.PanelChange != nil {
		out = append(out, c.opts.Streams.PanelChange)
	}
	return out
}

// Run reads until ctx is cancelled. Read errors are logged and retried.
func (c *Consumer) Run(ctx context.Context) error {
	streams := c.streams()
	if len(streams) == 0 {
		return nil
	}
	start := strconv.FormatInt(time.Now().UnixMilli()-1, 10) + "-0"
	last := make(map[string]string, len(streams))
	for _, s := range streams {
		last[s] = start
	}
	c.log.Info().Strs("streams", streams).Msg("relay consumer started")

	for ctx.Err() == nil {
		args := make([]string, 0, len(streams)*2)
		args = append(args, streams...)
		for _, s := range streams {
			args = append(args, last[s])
		}

		res, err := c.client.XRead(ctx, &redis.XReadArgs{
			Streams: args,
			Count:   c.opts.Count,
			Block:   c.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				break
			}
			c.log.Warn().Err(err).Msg("relay read failed")
			select {
			case <-ctx.Done():
			case <-time.After(c.opts.RetryDelay):
			}
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				last[stream.Stream] = msg.ID
				if err := c.dispatch(stream.Stream, msg); err != nil {
					c.log.Error().Err(err).Str("stream", stream.Stream).Str("id", msg.ID).Msg("relay message dropped")
				}
			}
		}
	}
	c.log.Info().Msg("relay consumer stopped")
	return nil
}

func (c *Consumer) dispatch(stream string, msg redis.XMessage) error {
	raw, ok := msg.Values[fieldData].(string)
	if !ok {
		return fmt.Errorf("relay: entry without %q field", fieldData)
	}

	switch stream {
	case c.opts.Streams.SensorData:
		var report domain.GatewayReport
		if err := json.Unmarshal([]byte(raw), &report); err != nil {
			return fmt.Errorf("relay: decode sensor data: %w", err)
		}
		c.handlers.SensorData(report)
	case c.opts.Streams.PanelChange:
		var change domain.PanelChange
		if err := json.Unmarshal([]byte(raw), &change); err != nil {
			return fmt.Errorf("relay: decode panel change: %w", err)
		}
		c.handlers.PanelChange(change)
	default:
		return fmt.Errorf("relay: unexpected stream %q", stream)
	}
	return nil
}
