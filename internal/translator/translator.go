// Package translator validates ingest records, resolves or creates the
// target device, and applies the resulting measurement set, per
// spec.md §4.8. It is grounded on the original's
// BacPropagator._handle_sensor_data: a bad or missing sensorId drops the
// whole record before any field is touched; non-numeric fields are logged
// and dropped individually; everything else is handed to
// device.SetValues.
package translator

import (
	"go.uber.org/zap"

	"github.com/freshollie/bacprop/internal/ingest"
	"github.com/freshollie/bacprop/internal/logger"
	"github.com/freshollie/bacprop/internal/sensor"
)

// sensorIDKey is the required key naming the target device, per spec.md §3.
const sensorIDKey = "sensorId"

// Translator reads Records from the ingest channel and applies them to the
// sensor registry. It runs single-threaded, which is what gives BacProp
// its single-writer discipline over device state (spec.md §5).
type Translator struct {
	registry *sensor.Registry
	log      *zap.Logger
}

// New builds a Translator bound to the given registry.
func New(registry *sensor.Registry) *Translator {
	return &Translator{registry: registry, log: logger.Get()}
}

// Run drains records until the channel is closed (ingest shutdown) or it
// receives a value on done, whichever comes first.
func (t *Translator) Run(records <-chan ingest.Record, done <-chan struct{}) {
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return
			}
			t.apply(rec)
		case <-done:
			return
		}
	}
}

// apply implements spec.md §4.8's translation: extract and validate
// sensorId, partition the remaining fields, resolve/create the device, and
// write the numeric fields through to it.
func (t *Translator) apply(rec ingest.Record) {
	log := logger.WithIngest(rec.CorrelationID)

	rawID, present := rec.Fields[sensorIDKey]
	if !present {
		log.Warn("dropping record with no sensorId", zap.Any("fields", rec.Fields))
		return
	}

	sensorID, ok := coerceSensorID(rawID)
	if !ok {
		log.Warn("dropping record with non-integer sensorId", zap.Any("sensorId", rawID))
		return
	}
	if sensorID < 0 {
		log.Warn("dropping record with negative sensorId", zap.Int("sensor_id", sensorID))
		return
	}

	values := make(map[string]float32)
	for key, raw := range rec.Fields {
		if key == sensorIDKey {
			continue
		}
		v, ok := coerceNumber(raw)
		if !ok {
			log.Warn("dropping non-numeric measurement",
				zap.Int("sensor_id", sensorID), zap.String("field", key), zap.Any("value", raw))
			continue
		}
		values[key] = v
	}

	dev := t.registry.GetOrCreate(sensorID)
	wasFault := dev.HasFault()

	dev.SetValues(values)

	if wasFault {
		log.Info("sensor now has new data, marking as ok", zap.Int("sensor_id", sensorID))
	}
}

// coerceSensorID accepts only an integral number for sensorId — a JSON
// float like 1.0 decodes to float64(1) and is accepted since it round-trips
// exactly to an integer; 1.5 is rejected, matching the original's
// int(data[SENSOR_ID_KEY]) raising ValueError on anything non-integral.
func coerceSensorID(raw interface{}) (int, bool) {
	f, ok := raw.(float64)
	if !ok {
		return 0, false
	}
	if f != float64(int64(f)) {
		return 0, false
	}
	return int(f), true
}

// coerceNumber accepts any JSON number; JSON has no separate int/float
// wire type, so every numeric field decodes as float64 here regardless of
// whether the publisher wrote an integer or a float literal.
func coerceNumber(raw interface{}) (float32, bool) {
	f, ok := raw.(float64)
	if !ok {
		return 0, false
	}
	return float32(f), true
}
