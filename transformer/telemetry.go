package transformer

import "time"

// Wire keys shared by telemetry and command payloads.
const (
	KeyID          = "id"
	KeyTemperature = "dato_temp"
	KeyHumidity    = "dato_hum"
	KeyButton      = "dato_button"
)

// TelemetryRecord is one device reading as persisted by the store.
type TelemetryRecord struct {
	ID           string    `json:"id"`          // reporting device or role
	Temperature  float64   `json:"dato_temp"`   // °C
	Humidity     float64   `json:"dato_hum"`    // %
	Button       int       `json:"dato_button"` // 0 or 1
	RegisteredAt time.Time `json:"registered_at,omitempty"`
}

// CommandMessage is sent to devices; it only exists on the wire.
type CommandMessage struct {
	ID     string `json:"id"`
	Button int    `json:"dato_button"`
}

// NewCommand builds a command from sender with the button directive set from on.
func NewCommand(sender string, on bool) CommandMessage {
	cmd := CommandMessage{ID: sender}
	if on {
		cmd.Button = 1
	}
	return cmd
}
