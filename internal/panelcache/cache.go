package panelcache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/metrics"
)

// PanelSource lists panel metadata from the CRUD store.
type PanelSource interface {
	ListPanels(ctx context.Context) ([]domain.Panel, error)
}

// Alerter is notified when population gives up.
type Alerter interface {
	SendAlert(subject, message string) error
}

type Options struct {
	Attempts   uint
	RetryDelay time.Duration
	Alerter    Alerter
}

// Cache maps gatewayId-positionIndex to panel metadata. Readers never take
// a lock; writers build a new map and swap it in.
type Cache struct {
	source  PanelSource
	opts    Options
	log     zerolog.Logger
	panels  atomic.Pointer[map[string]domain.Panel]
	writeMu sync.Mutex
	loaded  atomic.Bool
}

func New(source PanelSource, opts Options, log zerolog.Logger) *Cache {
	if opts.Attempts == 0 {
		opts.Attempts = 10
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 3 * time.Second
	}
	c := &Cache{source: source, opts: opts, log: log}
	empty := map[string]domain.Panel{}
	c.panels.Store(&empty)
	return c
}

func Key(gatewayID, index string) string {
	return gatewayID + "-" + index
}

// Resolve looks up the panel reporting at position within gatewayID.
func (c *Cache) Resolve(gatewayID string, position int) (domain.Panel, bool) {
	p, ok := (*c.panels.Load())[Key(gatewayID, strconv.Itoa(position))]
	return p, ok
}

func (c *Cache) Len() int { return len(*c.panels.Load()) }

// Loaded reports whether at least one population succeeded.
func (c *Cache) Loaded() bool { return c.loaded.Load() }

// Populate loads every panel, retrying at a fixed interval. When all
// attempts fail the cache stays as it was and the failure is reported.
func (c *Cache) Populate(ctx context.Context) error {
	attempt := 0
	panels, err := backoff.Retry(ctx, func() ([]domain.Panel, error) {
		attempt++
		return c.source.ListPanels(ctx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.opts.RetryDelay)),
		backoff.WithMaxTries(c.opts.Attempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", next).Msg("panel cache load failed")
		}),
	)
	if err != nil {
		c.log.Error().Err(err).Int("attempts", attempt).
			Msg("panel cache unavailable; sensor readings will be dropped until it is refreshed")
		if c.opts.Alerter != nil {
			msg := fmt.Sprintf("Panel resolution cache could not be loaded after %d attempts: %v", attempt, err)
			if aerr := c.opts.Alerter.SendAlert("Panel cache load failed", msg); aerr != nil {
				c.log.Warn().Err(aerr).Msg("panel cache alert not sent")
			}
		}
		return fmt.Errorf("populate panel cache: %w", err)
	}

	c.replace(panels)
	c.log.Info().Int("panels", len(panels)).Msg("panel cache loaded")
	return nil
}

// Refresh reloads the cache with a single attempt.
func (c *Cache) Refresh(ctx context.Context) error {
	panels, err := c.source.ListPanels(ctx)
	if err != nil {
		return fmt.Errorf("refresh panel cache: %w", err)
	}
	c.replace(panels)
	return nil
}

func (c *Cache) replace(panels []domain.Panel) {
	next := make(map[string]domain.Panel, len(panels))
	for _, p := range panels {
		next[Key(p.GatewayID, p.Index)] = p
	}

	c.writeMu.Lock()
	c.panels.Store(&next)
	c.writeMu.Unlock()

	c.loaded.Store(true)
	metrics.PanelCacheSize.Set(float64(len(next)))
}

// Apply folds a single panel change into the cache.
func (c *Cache) Apply(change domain.PanelChange) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	cur := *c.panels.Load()
	next := make(map[string]domain.Panel, len(cur)+1)
	for k, p := range cur {
		if p.ID == change.Panel.ID {
			continue
		}
		next[k] = p
	}
	if change.Action != domain.PanelDeleted {
		next[Key(change.Panel.GatewayID, change.Panel.Index)] = change.Panel
	}
	c.panels.Store(&next)
	metrics.PanelCacheSize.Set(float64(len(next)))
}
