package broadcast

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/metrics"
)

var ErrConnectionClosed = errors.New("broadcast: connection closed")

// EventSink delivers an event to one client connection. Send must not block.
type EventSink interface {
	Send(connID string, ev domain.Event) error
}

// connState is the forward index for one connection. Every change to the
// reverse indices that concerns this connection happens while mu is held.
type connState struct {
	mu       sync.Mutex
	id       string
	userID   int64
	panels   map[int64]string // panel id -> gateway id
	gateways map[string]int   // gateway id -> subscribed panel count
	closed   bool
}

type connShard struct {
	mu    sync.Mutex
	conns map[string]*connState
}

// Registry tracks which connections listen to which gateways and panels and
// routes events to them.
type Registry struct {
	sink     EventSink
	log      zerolog.Logger
	conns    [shardCount]*connShard
	gateways *index[string]
	panels   *index[int64]
}

func NewRegistry(sink EventSink, log zerolog.Logger) *Registry {
	r := &Registry{
		sink:     sink,
		log:      log,
		gateways: newGatewayIndex(),
		panels:   newPanelIndex(),
	}
	for i := range r.conns {
		r.conns[i] = &connShard{conns: make(map[string]*connState)}
	}
	return r
}

func (r *Registry) connShard(connID string) *connShard {
	return r.conns[shardOf(connID)]
}

// acquire returns the live state for connID, creating it if needed, with
// its lock held.
func (r *Registry) acquire(connID string, userID int64) *connState {
	for {
		s := r.connShard(connID)
		s.mu.Lock()
		cs, ok := s.conns[connID]
		if !ok {
			cs = &connState{
				id:       connID,
				userID:   userID,
				panels:   make(map[int64]string),
				gateways: make(map[string]int),
			}
			s.conns[connID] = cs
			metrics.ActiveConnections.Inc()
		}
		s.mu.Unlock()

		cs.mu.Lock()
		if !cs.closed {
			return cs
		}
		// removed between lookup and lock; start over with a fresh state
		cs.mu.Unlock()
	}
}

func (r *Registry) subscribeLocked(cs *connState, panelID int64, gatewayID string) {
	if prev, ok := cs.panels[panelID]; ok {
		if prev == gatewayID {
			return
		}
		r.unsubscribeLocked(cs, panelID)
	}
	cs.panels[panelID] = gatewayID
	r.panels.add(panelID, cs)
	cs.gateways[gatewayID]++
	if cs.gateways[gatewayID] == 1 {
		r.gateways.add(gatewayID, cs)
	}
}

func (r *Registry) unsubscribeLocked(cs *connState, panelID int64) {
	gatewayID, ok := cs.panels[panelID]
	if !ok {
		return
	}
	delete(cs.panels, panelID)
	r.panels.remove(panelID, cs)
	cs.gateways[gatewayID]--
	if cs.gateways[gatewayID] <= 0 {
		delete(cs.gateways, gatewayID)
		r.gateways.remove(gatewayID, cs)
	}
}

func (r *Registry) clearLocked(cs *connState) {
	for panelID := range cs.panels {
		r.panels.remove(panelID, cs)
	}
	for gatewayID := range cs.gateways {
		r.gateways.remove(gatewayID, cs)
	}
	cs.panels = make(map[int64]string)
	cs.gateways = make(map[string]int)
}

// SetConnectionSubscriptions replaces everything connID is subscribed to.
func (r *Registry) SetConnectionSubscriptions(connID string, userID int64, subs []domain.PanelSubscription) {
	cs := r.acquire(connID, userID)
	defer cs.mu.Unlock()

	cs.userID = userID
	r.clearLocked(cs)
	for _, sub := range subs {
		r.subscribeLocked(cs, sub.PanelID, sub.GatewayID)
	}
	r.log.Debug().Str("conn_id", connID).Int64("user_id", userID).
		Int("panels", len(cs.panels)).Int("gateways", len(cs.gateways)).Msg("subscriptions set")
}

// SubscribeToPanel adds a single panel to connID's subscriptions.
func (r *Registry) SubscribeToPanel(connID string, userID int64, panelID int64, gatewayID string) {
	cs := r.acquire(connID, userID)
	defer cs.mu.Unlock()
	r.subscribeLocked(cs, panelID, gatewayID)
}

// UnsubscribeFromPanel drops one panel. The gateway subscription goes away
// with the connection's last panel on that gateway.
func (r *Registry) UnsubscribeFromPanel(connID string, panelID int64) {
	s := r.connShard(connID)
	s.mu.Lock()
	cs, ok := s.conns[connID]
	s.mu.Unlock()
	if !ok {
		return
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.closed {
		r.unsubscribeLocked(cs, panelID)
	}
}

// RemoveConnection tears down every subscription of connID. Calling it for
// an unknown connection is a no-op.
func (r *Registry) RemoveConnection(connID string) {
	s := r.connShard(connID)
	s.mu.Lock()
	cs, ok := s.conns[connID]
	if ok {
		delete(s.conns, connID)
		metrics.ActiveConnections.Dec()
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	cs.mu.Lock()
	cs.closed = true
	r.clearLocked(cs)
	cs.mu.Unlock()
	r.log.Debug().Str("conn_id", connID).Msg("connection removed")
}

// BroadcastSensorData sends the report to every connection subscribed to
// its gateway.
func (r *Registry) BroadcastSensorData(report domain.GatewayReport) {
	targets := r.gateways.lookup(report.GatewayID)
	if len(targets) == 0 {
		return
	}
	ev := domain.SensorDataEvent(report)
	r.deliver(targets, ev, func(cs *connState) bool {
		return cs.gateways[report.GatewayID] > 0
	})
}

// BroadcastPanelChange sends the change to every connection subscribed to
// the panel.
func (r *Registry) BroadcastPanelChange(change domain.PanelChange) {
	targets := r.panels.lookup(change.Panel.ID)
	if len(targets) == 0 {
		return
	}
	ev := domain.PanelChangeEvent(change)
	r.deliver(targets, ev, func(cs *connState) bool {
		_, ok := cs.panels[change.Panel.ID]
		return ok
	})
}

// deliver sends ev to each target still subscribed at send time. The check
// and the send happen under the connection's lock.
func (r *Registry) deliver(targets []*connState, ev domain.Event, stillSubscribed func(*connState) bool) {
	for _, cs := range targets {
		cs.mu.Lock()
		if cs.closed || !stillSubscribed(cs) {
			cs.mu.Unlock()
			continue
		}
		err := r.sink.Send(cs.id, ev)
		cs.mu.Unlock()

		if err != nil {
			metrics.BroadcastFailed.WithLabelValues(ev.Type).Inc()
			r.log.Warn().Err(err).Str("conn_id", cs.id).Str("event", ev.Type).Msg("broadcast to connection failed")
			continue
		}
		metrics.BroadcastDelivered.WithLabelValues(ev.Type).Inc()
	}
}

// Connections returns how many connections hold registry state.
func (r *Registry) Connections() int {
	n := 0
	for _, s := range r.conns {
		s.mu.Lock()
		n += len(s.conns)
		s.mu.Unlock()
	}
	return n
}

// Subscriptions copies connID's current panel subscriptions.
func (r *Registry) Subscriptions(connID string) []domain.PanelSubscription {
	s := r.connShard(connID)
	s.mu.Lock()
	cs, ok := s.conns[connID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]domain.PanelSubscription, 0, len(cs.panels))
	for pid, gw := range cs.panels {
		out = append(out, domain.PanelSubscription{PanelID: pid, GatewayID: gw})
	}
	return out
}
