package domain

import "time"

type PanelType int

const (
	PanelTemperature PanelType = iota
	PanelPressure
	PanelFlow
	PanelPower
	PanelCurrent
	PanelVoltage
	PanelFrequency
	PanelPowerFactor
)

// Panel is the logical representation of one sensor channel on a gateway.
// Index is the sensor's position in the gateway report, string-encoded.
type Panel struct {
	ID         int64     `db:"id" json:"id"`
	Name       string    `db:"name" json:"name"`
	GatewayID  string    `db:"gateway_id" json:"gatewayId"`
	GroupID    int64     `db:"group_id" json:"groupId"`
	Index      string    `db:"position_index" json:"index"`
	Gain       float64   `db:"gain" json:"gain"`
	Offset     float64   `db:"offset_value" json:"offset"`
	Multiplier int       `db:"multiplier" json:"multiplier"`
	Type       PanelType `db:"panel_type" json:"type"`
}

type PanelReading struct {
	PanelID     int64     `db:"panel_id" json:"panelId"`
	ReadingTime time.Time `db:"reading_time" json:"readingTime"`
	Value       float64   `db:"value" json:"value"`
}

type SensorSample struct {
	Value  float64 `json:"value"`
	Active bool    `json:"active"`
}

// GatewayReport is one decoded "report" message. The position of a sample
// in Sensors is its identity within the gateway.
type GatewayReport struct {
	Topic     string         `json:"topic"`
	GatewayID string         `json:"gatewayId"`
	Timestamp time.Time      `json:"timestamp"`
	Sensors   []SensorSample `json:"sensors"`
}

type FlowConsumption struct {
	PanelID              int64          `json:"panelId"`
	LastUpdated          time.Time      `json:"lastUpdated"`
	DayConsumption       float64        `json:"dayConsumption"`
	WeekConsumption      float64        `json:"weekConsumption"`
	MonthConsumption     float64        `json:"monthConsumption"`
	LastMonthConsumption float64        `json:"lastMonthConsumption"`
	ReadingsLastHour     []PanelReading `json:"readingsLastHour"`
}

type PanelChangeAction string

const (
	PanelCreated PanelChangeAction = "create"
	PanelUpdated PanelChangeAction = "update"
	PanelDeleted PanelChangeAction = "delete"
)

type PanelChange struct {
	Action PanelChangeAction `json:"action"`
	Panel  Panel             `json:"panel"`
}

// PanelSubscription pairs a panel with the gateway that reports it.
type PanelSubscription struct {
	PanelID   int64  `db:"panel_id" json:"panelId"`
	GatewayID string `db:"gateway_id" json:"gatewayId"`
}
