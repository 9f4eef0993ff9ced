// Package control is the boundary used by operator-facing front ends (chat
// bots, consoles) to read the latest telemetry and switch device LEDs.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/eddielth/telemetry-bridge/config"
	"github.com/eddielth/telemetry-bridge/mqtt"
	"github.com/eddielth/telemetry-bridge/transformer"
	"github.com/eddielth/telemetry-bridge/validator"
)

var (
	// ErrNoData means nothing has been received yet. It is also what a caller
	// sees while the broker is down and no message was ever cached.
	ErrNoData = errors.New("no data received yet")
	// ErrNotSensor means the cached message was sent by someone other than the sensor.
	ErrNotSensor = errors.New("cached message is not sensor data")
)

// Surface is what the panel needs from the bridge.
type Surface interface {
	LastMessage() (mqtt.LastMessage, bool)
	Publish(payload interface{}, topic string) error
	Status() mqtt.Status
}

var _ Surface = (*mqtt.Bridge)(nil)

// Target names an LED on the device.
type Target string

const (
	SensorLED Target = "sensor"
	StatusLED Target = "status"
)

// Reading is a decoded sensor message together with its cache metadata.
type Reading struct {
	transformer.TelemetryRecord
	Message mqtt.LastMessage
}

// Panel turns operator actions into bridge calls.
type Panel struct {
	surface Surface
	cfg     config.ControlConfig
}

// NewPanel returns a panel that reads from and publishes through surface.
func NewPanel(surface Surface, cfg config.ControlConfig) *Panel {
	return &Panel{surface: surface, cfg: cfg}
}

// SensorReading returns the cached message if it is a complete sensor reading.
func (p *Panel) SensorReading() (Reading, error) {
	msg, ok := p.surface.LastMessage()
	if !ok {
		return Reading{}, ErrNoData
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(msg.Text), &data); err != nil {
		return Reading{}, fmt.Errorf("%w: %v", validator.ErrSchema, err)
	}

	if id, _ := data[transformer.KeyID].(string); id != p.cfg.SensorID {
		return Reading{}, ErrNotSensor
	}

	rec, err := validator.ParseTelemetry(data)
	if err != nil {
		return Reading{}, err
	}

	rec.RegisteredAt = msg.ReceivedAt
	return Reading{TelemetryRecord: rec, Message: msg}, nil
}

// SetLED publishes an on/off command for target.
func (p *Panel) SetLED(target Target, on bool) error {
	topic, err := p.topic(target)
	if err != nil {
		return err
	}
	return p.surface.Publish(transformer.NewCommand(p.cfg.Sender, on), topic)
}

func (p *Panel) topic(target Target) (string, error) {
	switch Target(strings.ToLower(string(target))) {
	case SensorLED:
		return p.cfg.SensorLEDTopic, nil
	case StatusLED:
		return p.cfg.StatusLEDTopic, nil
	default:
		return "", fmt.Errorf("unknown LED target %q", target)
	}
}

// Format renders a reading for display.
func (r Reading) Format() string {
	state := "OFF"
	if r.Button == 1 {
		state = "ON"
	}
	return fmt.Sprintf("ID: %s\nTemp: %g °C\nHumidity: %g %%\nButton: %s", r.ID, r.Temperature, r.Humidity, state)
}
