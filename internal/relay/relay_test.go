package relay

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

type collected struct {
	mu      sync.Mutex
	reports []domain.GatewayReport
	changes []domain.PanelChange
}

func (c *collected) handlers() Handlers {
	return Handlers{
		SensorData: func(r domain.GatewayReport) {
			c.mu.Lock()
			c.reports = append(c.reports, r)
			c.mu.Unlock()
		},
		PanelChange: func(ch domain.PanelChange) {
			c.mu.Lock()
			c.changes = append(c.changes, ch)
			c.mu.Unlock()
		},
	}
}

func (c *collected) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports), len(c.changes)
}

func startPublisher(t *testing.T, client redis.UniversalClient, streams Streams) *Publisher {
	t.Helper()
	p := NewPublisher(client, streams, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func TestPublisher_WritesEnvelopeToStream(t *testing.T) {
	_, client := setupTestRedis(t)
	p := startPublisher(t, client, Streams{})

	ts := time.Unix(1700000000, 0).UTC()
	p.BroadcastSensorData(domain.GatewayReport{GatewayID: "GW1", Timestamp: ts, Sensors: []domain.SensorSample{{Value: 21.5, Active: true}}})

	var msgs []redis.XMessage
	require.Eventually(t, func() bool {
		var err error
		msgs, err = client.XRange(context.Background(), "telemetry:sensor-data", "-", "+").Result()
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.EventSensorData, msgs[0].Values[fieldType])

	var report domain.GatewayReport
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values[fieldData].(string)), &report))
	assert.Equal(t, "GW1", report.GatewayID)
	assert.True(t, report.Timestamp.Equal(ts))
}

func TestPublisher_PanelChange(t *testing.T) {
	_, client := setupTestRedis(t)
	p := NewPublisher(client, Streams{PanelChange: "changes"}, zerolog.Nop())

	require.NoError(t, p.PublishPanelChange(context.Background(), domain.PanelChange{Action: domain.PanelDeleted, Panel: domain.Panel{ID: 3}}))
	n, err := client.XLen(context.Background(), "changes").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestConsumer_DeliversPublishedEvents(t *testing.T) {
	_, client := setupTestRedis(t)
	p := startPublisher(t, client, Streams{})
	got := &collected{}
	c := NewConsumer(client, ConsumerOptions{Block: 20 * time.Millisecond}, got.handlers(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		p.BroadcastSensorData(domain.GatewayReport{GatewayID: "GW1"})
		_ = p.PublishPanelChange(context.Background(), domain.PanelChange{Action: domain.PanelUpdated, Panel: domain.Panel{ID: 8}})
		reports, changes := got.counts()
		return reports > 0 && changes > 0
	}, 2*time.Second, 30*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}

	got.mu.Lock()
	defer got.mu.Unlock()
	assert.Equal(t, "GW1", got.reports[0].GatewayID)
	assert.Equal(t, int64(8), got.changes[0].Panel.ID)
}

func TestConsumer_SkipsEntriesWrittenBeforeStart(t *testing.T) {
	mr, client := setupTestRedis(t)
	_, err := mr.XAdd("telemetry:sensor-data", "1000-0", []string{fieldType, domain.EventSensorData, fieldData, `{"gatewayId":"OLD"}`})
	require.NoError(t, err)

	got := &collected{}
	c := NewConsumer(client, ConsumerOptions{Block: 20 * time.Millisecond}, Handlers{SensorData: got.handlers().SensorData}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))

	reports, _ := got.counts()
	assert.Zero(t, reports)
}

func TestConsumer_DispatchRejectsBadEntries(t *testing.T) {
	got := &collected{}
	c := NewConsumer(nil, ConsumerOptions{}, got.handlers(), zerolog.Nop())

	assert.Error(t, c.dispatch("telemetry:sensor-data", redis.XMessage{Values: map[string]interface{}{}}))
	assert.Error(t, c.dispatch("telemetry:sensor-data", redis.XMessage{Values: map[string]interface{}{fieldData: "{"}}))
	assert.Error(t, c.dispatch("elsewhere", redis.XMessage{Values: map[string]interface{}{fieldData: "{}"}}))
	require.NoError(t, c.dispatch("telemetry:panel-change", redis.XMessage{Values: map[string]interface{}{fieldData: `{"action":"create","panel":{"id":4}}`}}))

	_, changes := got.counts()
	assert.Equal(t, 1, changes)
}

func TestConsumer_NoHandlersReturnsImmediately(t *testing.T) {
	c := NewConsumer(nil, ConsumerOptions{}, Handlers{}, zerolog.Nop())
	assert.NoError(t, c.Run(context.Background()))
}

// unresponsiveRedis accepts connections and never answers.
func unresponsiveRedis(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})
	return ln.Addr().String()
}

func TestPublisher_UnresponsiveRedisDoesNotBlockCaller(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: unresponsiveRedis(t), ContextTimeoutEnabled: true})
	t.Cleanup(func() { client.Close() })
	p := startPublisher(t, client, Streams{})

	start := time.Now()
	for i := 0; i < defaultBuffer+10; i++ {
		p.BroadcastSensorData(domain.GatewayReport{GatewayID: "GW1"})
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPublisher_DropsWhenBufferFull(t *testing.T) {
	_, client := setupTestRedis(t)
	p := NewPublisher(client, Streams{}, zerolog.Nop())
	p.pending = make(chan domain.GatewayReport, 1)

	p.BroadcastSensorData(domain.GatewayReport{GatewayID: "GW1"})
	p.BroadcastSensorData(domain.GatewayReport{GatewayID: "GW2"})
	assert.Len(t, p.pending, 1)
	assert.Equal(t, "GW1", (<-p.pending).GatewayID)
}
