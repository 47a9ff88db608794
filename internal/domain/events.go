package domain

const (
	EventConnected      = "Connected"
	EventSensorData     = "SensorDataReceived"
	EventPanelChange    = "PanelChangeReceived"
	EventError          = "Error"
	EventScopeConfirmed = "ScopeSet"
)

// Event is the envelope pushed to client connections.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

func SensorDataEvent(r GatewayReport) Event {
	return Event{Type: EventSensorData, Data: r}
}

func PanelChangeEvent(c PanelChange) Event {
	return Event{Type: EventPanelChange, Data: c}
}
