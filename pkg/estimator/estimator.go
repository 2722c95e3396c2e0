// Package estimator runs the fuel-gauge model over periodic battery sensor
// readings and publishes FuelGaugeReports.
package estimator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/itohio/gobfg/pkg/config"
	"github.com/itohio/gobfg/pkg/gauge"
	"github.com/itohio/gobfg/pkg/message"
	"github.com/itohio/gobfg/pkg/pmic"
)

// DefaultInterval is the estimation period used when none is configured.
const DefaultInterval = time.Second

// Estimator owns the fuel-gauge model state.
type Estimator struct {
	sensor   pmic.Sensor
	model    gauge.Model
	battery  gauge.BatteryType
	out      chan<- message.FuelGaugeReport
	interval time.Duration
	logger   *log.Logger

	// now must return times carrying a monotonic reading.
	now func() time.Time

	initialized bool
	ref         time.Time
}

// New creates an estimator for the given battery chemistry.
func New(sensor pmic.Sensor, model gauge.Model, battery gauge.BatteryType, out chan<- message.FuelGaugeReport, cfg *config.EstimatorConfig) *Estimator {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Estimator{
		sensor:   sensor,
		model:    model,
		battery:  battery,
		out:      out,
		interval: interval,
		logger:   log.Default(),
		now:      time.Now,
	}
}

// SetLogger replaces the default logger.
func (e *Estimator) SetLogger(l *log.Logger) {
	e.logger = l
}

// Run estimates until ctx is done. A failed model initialisation ends the
// estimator with an error; sensor failures only skip a tick.
func (e *Estimator) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		if !e.initialized {
			if err := e.Init(); err != nil {
				return err
			}
		}

		if err := e.Update(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Init initialises the model from the current sensor reading and records
// the reference time.
func (e *Estimator) Init() error {
	b, err := e.sensor.ReadBattery()
	if err != nil {
		return fmt.Errorf("estimator: initial sensor read: %w", err)
	}

	e.logger.Printf("estimator: fuel gauge version: %s", gauge.Version)
	err = e.model.Init(gauge.InitParams{
		Battery: e.battery,
		V0:      b.Voltage,
		T0:      b.Temperature,
	})
	if err != nil {
		return fmt.Errorf("estimator: model init: %w", err)
	}

	e.ref = e.now()
	e.initialized = true
	e.logger.Printf("estimator: fuel gauge initialised for %s battery", e.battery)
	return nil
}

// Update advances the model by the time elapsed since the previous update
// and publishes a report. On a sensor or model error nothing is published
// and the reference time is left unchanged.
func (e *Estimator) Update(ctx context.Context) error {
	if !e.initialized {
		return gauge.ErrNotInitialized
	}

	b, err := e.sensor.ReadBattery()
	if err != nil {
		e.logger.Printf("estimator: could not read battery sensor: %v", err)
		return err
	}

	now := e.now()
	dt := float32(now.Sub(e.ref).Seconds())

	soc, err := e.model.Process(b.Voltage, e.battery.Current(), b.Temperature, dt)
	if err != nil {
		e.logger.Printf("estimator: model update failed: %v", err)
		return err
	}
	e.ref = now

	e.logger.Printf("estimator: V: %.3f, T: %.2f, SoC: %.2f", b.Voltage, b.Temperature, soc)
	return message.Put(ctx, e.out, message.FuelGaugeReport{
		Voltage:     b.Voltage,
		Temperature: b.Temperature,
		SoC:         soc,
	})
}
