package validator

import (
	"encoding/json"
	"testing"

	"github.com/eddielth/telemetry-bridge/transformer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestParseTelemetry(t *testing.T) {
	rec, err := ParseTelemetry(decode(t, `{"id":"Sensor_ESP","dato_temp":21.5,"dato_hum":40.0,"dato_button":1}`))
	require.NoError(t, err)
	assert.Equal(t, transformer.TelemetryRecord{ID: "Sensor_ESP", Temperature: 21.5, Humidity: 40, Button: 1}, rec)
}

func TestParseTelemetryRejects(t *testing.T) {
	cases := map[string]string{
		"missing id":       `{"dato_temp":21.5,"dato_hum":40,"dato_button":1}`,
		"missing temp":     `{"id":"Sensor_ESP","dato_hum":40,"dato_button":1}`,
		"missing hum":      `{"id":"Sensor_ESP","dato_temp":21.5,"dato_button":1}`,
		"missing button":   `{"id":"Sensor_ESP","dato_temp":21.5,"dato_hum":40}`,
		"command message":  `{"id":"control-surface","dato_button":1}`,
		"numeric id":       `{"id":7,"dato_temp":21.5,"dato_hum":40,"dato_button":1}`,
		"empty id":         `{"id":"","dato_temp":21.5,"dato_hum":40,"dato_button":1}`,
		"string temp":      `{"id":"Sensor_ESP","dato_temp":"21.5","dato_hum":40,"dato_button":1}`,
		"bool button":      `{"id":"Sensor_ESP","dato_temp":21.5,"dato_hum":40,"dato_button":true}`,
		"button out of 01": `{"id":"Sensor_ESP","dato_temp":21.5,"dato_hum":40,"dato_button":2}`,
		"fractional btn":   `{"id":"Sensor_ESP","dato_temp":21.5,"dato_hum":40,"dato_button":0.5}`,
		"null humidity":    `{"id":"Sensor_ESP","dato_temp":21.5,"dato_hum":null,"dato_button":0}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseTelemetry(decode(t, payload))
			assert.ErrorIs(t, err, ErrSchema)
		})
	}
}

func TestParseTelemetryScriptTypes(t *testing.T) {
	// goja exports integers as int64
	rec, err := ParseTelemetry(map[string]interface{}{
		"id":          "Sensor_ESP",
		"dato_temp":   int64(20),
		"dato_hum":    json.Number("33.5"),
		"dato_button": int64(0),
	})
	require.NoError(t, err)
	assert.Equal(t, 20.0, rec.Temperature)
	assert.Equal(t, 33.5, rec.Humidity)
	assert.Equal(t, 0, rec.Button)
}

func TestRangeValidator(t *testing.T) {
	rec := transformer.TelemetryRecord{ID: "Sensor_ESP", Temperature: 21.5, Humidity: 140}

	assert.NoError(t, (&RangeValidator{Field: "Temperature", Min: -40, Max: 85}).Validate(rec))
	assert.ErrorIs(t, (&RangeValidator{Field: "Humidity", Min: 0, Max: 100}).Validate(&rec), ErrSchema)
	assert.ErrorIs(t, (&RangeValidator{Field: "Pressure", Min: 0, Max: 1}).Validate(rec), ErrSchema)
	assert.ErrorIs(t, (&RangeValidator{Field: "ID", Min: 0, Max: 1}).Validate(rec), ErrSchema)
	assert.ErrorIs(t, (&RangeValidator{Field: "Temperature"}).Validate(42), ErrSchema)

	err := Chain(rec,
		&RangeValidator{Field: "Temperature", Min: -40, Max: 85},
		&RangeValidator{Field: "Humidity", Min: 0, Max: 100},
	)
	assert.ErrorIs(t, err, ErrSchema)
}
