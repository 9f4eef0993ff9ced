package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/eddielth/telemetry-bridge/transformer"
)

// ErrSchema marks a payload that is not a well-formed telemetry message.
var ErrSchema = errors.New("schema error")

// Validator checks a parsed telemetry record.
type Validator interface {
	Validate(data interface{}) error
}

// ParseTelemetry builds a record from a decoded JSON object. All four data
// keys must be present and correctly typed.
func ParseTelemetry(data map[string]interface{}) (transformer.TelemetryRecord, error) {
	var rec transformer.TelemetryRecord

	id, ok := data[transformer.KeyID]
	if !ok {
		return rec, missing(transformer.KeyID)
	}
	s, ok := id.(string)
	if !ok || s == "" {
		return rec, fmt.Errorf("%w: key %q must be a non-empty string, got %T", ErrSchema, transformer.KeyID, id)
	}
	rec.ID = s

	var err error
	if rec.Temperature, err = number(data, transformer.KeyTemperature); err != nil {
		return rec, err
	}
	if rec.Humidity, err = number(data, transformer.KeyHumidity); err != nil {
		return rec, err
	}

	button, err := number(data, transformer.KeyButton)
	if err != nil {
		return rec, err
	}
	if button != 0 && button != 1 {
		return rec, fmt.Errorf("%w: key %q must be 0 or 1, got %v", ErrSchema, transformer.KeyButton, button)
	}
	rec.Button = int(button)

	return rec, nil
}

// Chain runs every validator and returns the first failure.
func Chain(rec transformer.TelemetryRecord, validators ...Validator) error {
	for _, v := range validators {
		if err := v.Validate(rec); err != nil {
			return err
		}
	}
	return nil
}

func missing(key string) error {
	return fmt.Errorf("%w: missing key %q", ErrSchema, key)
}

func number(data map[string]interface{}, key string) (float64, error) {
	raw, ok := data[key]
	if !ok {
		return 0, missing(key)
	}

	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: key %q is not a number: %v", ErrSchema, key, err)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: key %q must be a number, got %T", ErrSchema, key, raw)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: key %q is not finite", ErrSchema, key)
	}
	return f, nil
}

// RangeValidator checks that a numeric struct field lies in [Min, Max].
type RangeValidator struct {
	Field string
	Min   float64
	Max   float64
}

// Validate checks the named field of a struct (or pointer to struct).
func (rv *RangeValidator) Validate(data interface{}) error {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return fmt.Errorf("%w: data must be a struct", ErrSchema)
	}

	field := v.FieldByName(rv.Field)
	if !field.IsValid() {
		return fmt.Errorf("%w: field %s does not exist", ErrSchema, rv.Field)
	}

	var value float64
	switch field.Kind() {
	case reflect.Float32, reflect.Float64:
		value = field.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		value = float64(field.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		value = float64(field.Uint())
	default:
		return fmt.Errorf("%w: field %s is not numeric", ErrSchema, rv.Field)
	}

	if value < rv.Min || value > rv.Max {
		return fmt.Errorf("%w: field %s value %g is outside [%g, %g]", ErrSchema, rv.Field, value, rv.Min, rv.Max)
	}

	return nil
}
