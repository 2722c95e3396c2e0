// Package telemetry mirrors gauge status to an MQTT broker.
package telemetry

import (
	"encoding/json"
	"time"

	"github.com/itohio/gobfg/pkg/message"
)

// Publisher publishes status payloads.
type Publisher interface {
	// Publish sends a payload. Errors are reported, never fatal.
	Publish(payload []byte) error
	// Close disconnects from the broker.
	Close() error
}

var (
	_ Publisher = (*RealPublisher)(nil)
	_ Publisher = (*FakePublisher)(nil)
)

// Payload is the JSON document published for every notifier cycle.
type Payload struct {
	Timestamp string  `json:"timestamp"`
	Battery   Battery `json:"battery"`
	BoostMV   *int32  `json:"boost_mv"` // null when the channel failed
	LDOMV     *int32  `json:"ldo_mv"`
}

// Battery is the fuel gauge part of Payload.
type Battery struct {
	SoC         float32 `json:"soc"`
	Voltage     float32 `json:"voltage"`
	Temperature float32 `json:"temperature"`
}

// FormatPayload creates the JSON payload for one sample/report pair.
func FormatPayload(ts time.Time, s message.VoltageSample, r message.FuelGaugeReport) ([]byte, error) {
	return json.Marshal(Payload{
		Timestamp: ts.UTC().Format(time.RFC3339),
		Battery: Battery{
			SoC:         r.SoC,
			Voltage:     r.Voltage,
			Temperature: r.Temperature,
		},
		BoostMV: millivolts(s.Boost),
		LDOMV:   millivolts(s.LDO),
	})
}

func millivolts(r message.Reading) *int32 {
	if !r.Valid() {
		return nil
	}
	mv, _ := r.Value()
	return &mv
}
