package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/metrics"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/queue"
)

const disconnectQuiesce = 250

var ErrNotConnected = errors.New("mqtt: not connected")

// ReportSource produces gateway reports until ctx is cancelled.
type ReportSource interface {
	Run(ctx context.Context) error
}

// ClientFactory builds the underlying paho client. Tests swap it out.
type ClientFactory func(opts *paho.ClientOptions) paho.Client

type Options struct {
	Broker            string
	ClientID          string
	Username          string
	Password          string
	ReportTopic       string
	QoS               byte
	ReconnectInterval time.Duration
	Location          *time.Location
	NewClient         ClientFactory
}

// Adapter owns the single broker connection and feeds decoded reports into
// the ingestion queue. Reconnection is driven by Run at a fixed interval.
type Adapter struct {
	opts   Options
	queue  *queue.Queue[domain.GatewayReport]
	log    zerolog.Logger
	client paho.Client

	mu     sync.Mutex
	topics map[string]struct{}
}

var _ ReportSource = (*Adapter)(nil)

func NewAdapter(opts Options, q *queue.Queue[domain.GatewayReport], log zerolog.Logger) *Adapter {
	if opts.ReportTopic == "" {
		opts.ReportTopic = "iocloud/response/#"
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 5 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.NewClient == nil {
		opts.NewClient = paho.NewClient
	}

	a := &Adapter{
		opts:   opts,
		queue:  q,
		log:    log,
		topics: map[string]struct{}{opts.ReportTopic: {}},
	}

	co := paho.NewClientOptions().AddBroker(opts.Broker)
	co.SetClientID(opts.ClientID)
	if opts.Username != "" {
		co.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		co.SetPassword(opts.Password)
	}
	co.SetCleanSession(true)
	co.SetAutoReconnect(false)
	co.SetConnectRetry(false)
	co.SetConnectTimeout(opts.ReconnectInterval)
	co.SetOnConnectHandler(a.onConnect)
	co.SetConnectionLostHandler(a.onConnectionLost)

	a.client = opts.NewClient(co)
	return a
}

// Run connects, then checks the connection every ReconnectInterval and
// reconnects when it is down. It returns after ctx is cancelled and the
// client has disconnected.
func (a *Adapter) Run(ctx context.Context) error {
	a.log.Info().Str("broker", a.opts.Broker).Str("topic", a.opts.ReportTopic).Msg("mqtt adapter starting")
	a.connect()

	ticker := time.NewTicker(a.opts.ReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if a.client.IsConnected() {
				a.client.Disconnect(disconnectQuiesce)
			}
			metrics.MQTTConnected.Set(0)
			a.log.Info().Msg("mqtt adapter stopped")
			return nil
		case <-ticker.C:
			if !a.client.IsConnected() {
				a.log.Warn().Msg("mqtt client disconnected; attempting to reconnect")
				a.connect()
			}
		}
	}
}

func (a *Adapter) connect() {
	metrics.MQTTReconnects.Inc()
	token := a.client.Connect()
	if !token.WaitTimeout(a.opts.ReconnectInterval) {
		a.log.Error().Msg("mqtt connect timed out")
		return
	}
	if err := token.Error(); err != nil {
		a.log.Error().Err(err).Msg("error connecting to mqtt broker")
	}
}

// onConnect restores every tracked subscription after a (re)connect.
func (a *Adapter) onConnect(c paho.Client) {
	metrics.MQTTConnected.Set(1)
	topics := a.Topics()
	a.log.Info().Strs("topics", topics).Msg("mqtt connected")
	for _, topic := range topics {
		if err := a.subscribe(c, topic); err != nil {
			a.log.Error().Err(err).Str("topic", topic).Msg("resubscribe failed")
		}
	}
}

func (a *Adapter) onConnectionLost(_ paho.Client, err error) {
	metrics.MQTTConnected.Set(0)
	a.log.Warn().Err(err).Msg("mqtt connection lost")
}

func (a *Adapter) subscribe(c paho.Client, topic string) error {
	token := c.Subscribe(topic, a.opts.QoS, a.handleMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}

func (a *Adapter) handleMessage(_ paho.Client, msg paho.Message) {
	metrics.MessagesReceived.Inc()
	a.HandleMessage(msg.Topic(), msg.Payload())
}

// HandleMessage decodes one transport message and enqueues it. It never
// blocks; anything malformed is logged and dropped.
func (a *Adapter) HandleMessage(topic string, payload []byte) {
	report, err := DecodeReport(topic, payload, a.opts.Location)
	switch {
	case errors.Is(err, ErrInvalidTopic):
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonBadTopic).Inc()
		a.log.Warn().Str("topic", topic).Msg("invalid topic format")
		return
	case errors.Is(err, ErrUnknownCommand):
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonUnknownCommand).Inc()
		a.log.Warn().Str("topic", topic).Msg("unknown command")
		return
	case err != nil:
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonBadPayload).Inc()
		a.log.Error().Err(err).Str("topic", topic).Bytes("payload", payload).Msg("invalid gateway data")
		return
	}

	if !a.queue.Push(report) {
		metrics.MessagesDropped.WithLabelValues(metrics.ReasonQueueClosed).Inc()
		a.log.Warn().Str("gateway_id", report.GatewayID).Msg("ingestion queue closed; report dropped")
		return
	}
	metrics.QueueDepth.Set(float64(a.queue.Len()))
}

// Subscribe tracks topic so it survives reconnects and subscribes now if
// the connection is up.
func (a *Adapter) Subscribe(topic string) error {
	a.mu.Lock()
	a.topics[topic] = struct{}{}
	a.mu.Unlock()

	if !a.client.IsConnected() {
		return nil
	}
	return a.subscribe(a.client, topic)
}

func (a *Adapter) Unsubscribe(topic string) error {
	a.mu.Lock()
	delete(a.topics, topic)
	a.mu.Unlock()

	if !a.client.IsConnected() {
		return nil
	}
	token := a.client.Unsubscribe(topic)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", topic, err)
	}
	return nil
}

func (a *Adapter) Publish(topic string, payload []byte, retain bool) error {
	if !a.client.IsConnected() {
		return ErrNotConnected
	}
	token := a.client.Publish(topic, a.opts.QoS, retain, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (a *Adapter) IsConnected() bool { return a.client.IsConnected() }

// Topics lists the tracked subscriptions in a stable order.
func (a *Adapter) Topics() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.topics))
	for t := range a.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
