// Package message defines the values exchanged between the monitor's workers
// and the bounded queues that carry them.
package message

import (
	"context"
	"errors"
	"fmt"
)

// ErrOutOfRange is returned for regulator requests outside
// [MinRegulatorMillivolts, MaxRegulatorMillivolts].
var ErrOutOfRange = errors.New("regulator voltage out of range")

const (
	// DefaultQueueCapacity is the number of messages each queue can hold.
	DefaultQueueCapacity = 8

	// MinRegulatorMillivolts and MaxRegulatorMillivolts bound a regulator request (inclusive).
	MinRegulatorMillivolts = 800
	MaxRegulatorMillivolts = 3000

	// failedMillivolts is the wire value for a channel that could not be read.
	failedMillivolts int32 = -1
)

// Reading is a single channel voltage: either a valid millivolt value or failed.
type Reading struct {
	mv int32
	ok bool
}

// Millivolts returns a valid reading.
func Millivolts(mv int32) Reading {
	return Reading{mv: mv, ok: true}
}

// Failed returns a reading for a channel whose read or conversion failed.
func Failed() Reading {
	return Reading{}
}

// Value returns the millivolt value and whether the reading is valid.
func (r Reading) Value() (int32, bool) {
	return r.mv, r.ok
}

// Valid reports whether the reading carries a measured value.
func (r Reading) Valid() bool {
	return r.ok
}

// Wire returns the value sent to wireless clients: millivolts, or -1 when failed.
func (r Reading) Wire() int32 {
	if !r.Valid() {
		return failedMillivolts
	}
	return r.mv
}

func (r Reading) String() string {
	if !r.Valid() {
		return "failed"
	}
	return fmt.Sprintf("%dmV", r.mv)
}

// VoltageSample is one sampling tick of both regulator outputs.
type VoltageSample struct {
	Boost Reading // channel 0, boost output
	LDO   Reading // channel 1, low-side LDO output
}

// FuelGaugeReport is one estimation tick.
type FuelGaugeReport struct {
	Voltage     float32 // battery voltage (V)
	Temperature float32 // die temperature (C)
	SoC         float32 // state of charge (%)
}

// RegulatorSetRequest asks the regulator controller to change the LDO output.
type RegulatorSetRequest struct {
	Millivolts int32
}

// InRange reports whether the requested voltage is within the regulator limits.
func (r RegulatorSetRequest) InRange() bool {
	return r.Millivolts >= MinRegulatorMillivolts && r.Millivolts <= MaxRegulatorMillivolts
}

// Microvolts returns the request in the regulator driver's native unit.
func (r RegulatorSetRequest) Microvolts() int32 {
	return r.Millivolts * 1000
}

// Queues holds the three inter-worker queues. Each queue has exactly one
// writer and one reader:
//
//	Samples:   sampler   -> notifier
//	Reports:   estimator -> notifier
//	Setpoints: BLE write -> regulator controller
type Queues struct {
	Samples   chan VoltageSample
	Reports   chan FuelGaugeReport
	Setpoints chan RegulatorSetRequest
}

// NewQueues creates the queues with the given capacity.
func NewQueues(capacity int) *Queues {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queues{
		Samples:   make(chan VoltageSample, capacity),
		Reports:   make(chan FuelGaugeReport, capacity),
		Setpoints: make(chan RegulatorSetRequest, capacity),
	}
}

// Offer enqueues v without waiting. It returns false when the queue is full.
func Offer[T any](q chan<- T, v T) bool {
	select {
	case q <- v:
		return true
	default:
		return false
	}
}

// Put enqueues v, waiting for as long as the queue is full or until ctx is done.
func Put[T any](ctx context.Context, q chan<- T, v T) error {
	select {
	case q <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Take dequeues the next value, waiting until one arrives or ctx is done.
func Take[T any](ctx context.Context, q <-chan T) (T, error) {
	select {
	case v := <-q:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
