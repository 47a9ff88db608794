package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
)

const (
	minTopicSegments = 5
	gatewaySegment   = 2
	commandSegment   = 4

	CommandReport = "report"
)

var (
	ErrInvalidTopic   = errors.New("mqtt: invalid topic format")
	ErrUnknownCommand = errors.New("mqtt: unknown command")
	ErrInvalidPayload = errors.New("mqtt: invalid gateway payload")
)

type reportPayload struct {
	Timestamp *float64              `json:"timestamp"`
	Sensors   []domain.SensorSample `json:"sensors"`
}

// ParseTopic extracts the gateway id and command from a topic of the form
// <prefix>/<kind>/<gatewayId>/<channel>/<command>[/...].
func ParseTopic(topic string) (gatewayID, command string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) < minTopicSegments {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	return parts[gatewaySegment], parts[commandSegment], nil
}

// DecodeReport builds a GatewayReport from a report topic and payload.
// The payload timestamp is fractional unix seconds; it is converted to loc.
func DecodeReport(topic string, payload []byte, loc *time.Location) (domain.GatewayReport, error) {
	gatewayID, command, err := ParseTopic(topic)
	if err != nil {
		return domain.GatewayReport{}, err
	}
	if command != CommandReport {
		return domain.GatewayReport{}, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	var p reportPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.GatewayReport{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Timestamp == nil {
		return domain.GatewayReport{}, fmt.Errorf("%w: missing timestamp", ErrInvalidPayload)
	}
	ts := *p.Timestamp
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return domain.GatewayReport{}, fmt.Errorf("%w: timestamp %v", ErrInvalidPayload, ts)
	}
	if loc == nil {
		loc = time.Local
	}

	return domain.GatewayReport{
		Topic:     topic,
		GatewayID: gatewayID,
		Timestamp: unixSeconds(ts).In(loc),
		Sensors:   p.Sensors,
	}, nil
}

// EncodeReport is the inverse of DecodeReport's payload handling.
func EncodeReport(ts time.Time, sensors []domain.SensorSample) ([]byte, error) {
	secs := float64(ts.UnixNano()) / float64(time.Second)
	return json.Marshal(reportPayload{Timestamp: &secs, Sensors: sensors})
}

// ReportTopic is the topic a gateway publishes its reports on.
func ReportTopic(gatewayID string) string {
	return "iocloud/response/" + gatewayID + "/data/" + CommandReport
}

func unixSeconds(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC()
}
