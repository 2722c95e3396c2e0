package main

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/itohio/gobfg/pkg/config"
	"github.com/itohio/gobfg/pkg/estimator"
	"github.com/itohio/gobfg/pkg/gauge"
	"github.com/itohio/gobfg/pkg/indicator"
	"github.com/itohio/gobfg/pkg/link"
	"github.com/itohio/gobfg/pkg/message"
	"github.com/itohio/gobfg/pkg/notifier"
	"github.com/itohio/gobfg/pkg/pmic"
	"github.com/itohio/gobfg/pkg/regulator"
	"github.com/itohio/gobfg/pkg/sampler"
	"github.com/itohio/gobfg/pkg/telemetry"
)

// app holds initialized hardware and runs the workers on it.
type app struct {
	cfg       *config.Config
	device    pmic.Device
	stack     link.Stack
	statusLED indicator.LED
	connLED   indicator.LED
	publisher telemetry.Publisher // nil disables the MQTT mirror
	logger    *log.Logger
}

type worker struct {
	name string
	run  func(context.Context) error
}

// run starts every worker, signals hardware-ready and waits until all
// workers returned. A worker that fails is logged; the others keep going.
func (a *app) run(ctx context.Context) error {
	battery, err := a.cfg.BatteryType()
	if err != nil {
		return err
	}

	q := message.NewQueues(a.cfg.Queues.Capacity)
	ready := make(chan struct{})

	smp := sampler.New(a.device, q.Samples, &a.cfg.Sampler)
	smp.SetLogger(a.logger)
	est := estimator.New(a.device, gauge.NewPrimary(), battery, q.Reports, &a.cfg.Estimator)
	est.SetLogger(a.logger)
	reg := regulator.New(a.device, q.Setpoints)
	reg.SetLogger(a.logger)
	ntf := notifier.New(a.stack, a.connLED, q, ready, &a.cfg.BLE)
	ntf.SetLogger(a.logger)

	workers := []worker{
		{"sampler", smp.Run},
		{"estimator", est.Run},
		{"regulator", reg.Run},
		{"notifier", ntf.Run},
		{"indicator", func(ctx context.Context) error {
			return indicator.Blink(ctx, a.statusLED, a.cfg.Indicator.BlinkInterval)
		}},
	}

	if a.publisher != nil {
		mirror := telemetry.NewMirror(a.publisher, a.cfg.Telemetry.Buffer)
		mirror.SetLogger(a.logger)
		ntf.SetMirror(mirror)
		workers = append(workers, worker{"telemetry", mirror.Run})
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Printf("%s stopped: %v", w.name, err)
			}
		}()
	}

	close(ready)
	a.logger.Printf("started: battery=%s notify=%v", battery.Key(), a.cfg.BLE.NotifyInterval)

	wg.Wait()
	return nil
}
