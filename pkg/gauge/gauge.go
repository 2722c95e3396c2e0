// Package gauge estimates the state of charge of primary (non-rechargeable)
// cells from voltage, temperature and an assumed average current.
package gauge

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
)

// Version identifies the model implementation.
const Version = "primary-ocv 1.0.0"

const (
	referenceTempC      = 25
	minCapacityFraction = 0.1

	// filterTau is the time constant (s) for pulling the coulomb-counted
	// estimate towards the voltage-derived one.
	filterTau = 600
)

var (
	ErrUnknownBattery = errors.New("unknown battery type")
	ErrInvalidVoltage = errors.New("invalid battery voltage")
	ErrNotInitialized = errors.New("fuel gauge not initialized")
)

// InitParams are the starting conditions of the model.
type InitParams struct {
	Battery BatteryType
	V0      float32 // initial voltage (V)
	T0      float32 // initial temperature (C)
	I0      float32 // initial current (A)
}

// Model is a fuel-gauge numerical model.
type Model interface {
	// Init resets the model from the starting conditions.
	Init(p InitParams) error
	// Process advances the model by dt seconds and returns the state of charge (%).
	Process(voltage, current, temp, dt float32) (float32, error)
}

var _ Model = (*Primary)(nil)

// Primary is a Model for primary cells: an open-circuit-voltage lookup with
// series-resistance compensation, blended with coulomb counting.
type Primary struct {
	params      Params
	soc         float32
	initialized bool
}

// NewPrimary creates an uninitialised model.
func NewPrimary() *Primary {
	return &Primary{}
}

// Init implements Model.
func (m *Primary) Init(p InitParams) error {
	params, err := p.Battery.Params()
	if err != nil {
		return err
	}
	if !(p.V0 > 0) || math32.IsInf(p.V0, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidVoltage, p.V0)
	}

	m.params = params
	m.soc = lookupSoC(params.OCV, p.V0+p.I0*params.SeriesResistance)
	m.initialized = true
	return nil
}

// Process implements Model.
func (m *Primary) Process(voltage, current, temp, dt float32) (float32, error) {
	if !m.initialized {
		return 0, ErrNotInitialized
	}
	if !(voltage > 0) || math32.IsInf(voltage, 0) {
		return m.soc, fmt.Errorf("%w: %v", ErrInvalidVoltage, voltage)
	}
	if dt < 0 || math32.IsNaN(dt) {
		dt = 0
	}

	capacityAs := m.capacityAt(temp) * 3600
	counted := m.soc - current*dt/capacityAs*100
	measured := lookupSoC(m.params.OCV, voltage+current*m.params.SeriesResistance)

	alpha := 1 - math32.Exp(-dt/filterTau)
	m.soc = clamp(counted+alpha*(measured-counted), 0, 100)
	return m.soc, nil
}

// capacityAt returns the usable capacity (Ah) at temp, derated below 25C.
func (m *Primary) capacityAt(temp float32) float32 {
	loss := m.params.TempDerating * math32.Max(0, referenceTempC-temp)
	return m.params.CapacityAh * math32.Max(minCapacityFraction, 1-loss)
}

// lookupSoC interpolates the state of charge for v on a descending OCV curve.
func lookupSoC(curve []OCVPoint, v float32) float32 {
	if len(curve) == 0 {
		return 0
	}
	if v >= curve[0].Volts {
		return curve[0].SoC
	}
	for i := 1; i < len(curve); i++ {
		hi, lo := curve[i-1], curve[i]
		if v >= lo.Volts {
			frac := (v - lo.Volts) / (hi.Volts - lo.Volts)
			return lo.SoC + frac*(hi.SoC-lo.SoC)
		}
	}
	return curve[len(curve)-1].SoC
}

func clamp(v, lo, hi float32) float32 {
	return math32.Min(hi, math32.Max(lo, v))
}
