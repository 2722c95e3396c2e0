// Package sampler periodically converts the regulator outputs and publishes
// one VoltageSample per tick.
package sampler

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/itohio/gobfg/pkg/config"
	"github.com/itohio/gobfg/pkg/message"
	"github.com/itohio/gobfg/pkg/pmic"
)

// DefaultInterval is the sampling period used when none is configured.
const DefaultInterval = time.Second

// Sampler reads the boost and LDO channels and feeds the sample queue.
type Sampler struct {
	adc        pmic.ADC
	out        chan<- message.VoltageSample
	interval   time.Duration
	oversample int
	logger     *log.Logger
}

// New creates a sampler publishing into out.
func New(adc pmic.ADC, out chan<- message.VoltageSample, cfg *config.SamplerConfig) *Sampler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	oversample := cfg.Oversample
	if oversample <= 0 {
		oversample = 1
	}

	return &Sampler{
		adc:        adc,
		out:        out,
		interval:   interval,
		oversample: oversample,
		logger:     log.Default(),
	}
}

// SetLogger replaces the default logger.
func (s *Sampler) SetLogger(l *log.Logger) {
	s.logger = l
}

// Run sets up the ADC and samples until ctx is done. A setup failure ends
// the sampler with an error; per-channel failures are published as failed
// readings.
func (s *Sampler) Run(ctx context.Context) error {
	if err := s.adc.Setup(); err != nil {
		return fmt.Errorf("sampler: adc setup: %w", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		sample := s.Sample()
		if err := message.Put(ctx, s.out, sample); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sample converts both channels once.
func (s *Sampler) Sample() message.VoltageSample {
	return message.VoltageSample{
		Boost: s.read(pmic.ChannelBoost),
		LDO:   s.read(pmic.ChannelLDO),
	}
}

func (s *Sampler) read(ch pmic.Channel) message.Reading {
	values := make([]int32, 0, s.oversample)
	for i := 0; i < s.oversample; i++ {
		mv, err := s.adc.ReadMillivolts(ch)
		if err != nil {
			s.logger.Printf("sampler: %s channel read failed: %v", ch, err)
			return message.Failed()
		}
		values = append(values, mv)
	}
	return message.Millivolts(averageMillivolts(values))
}

// averageMillivolts returns the rounded mean of values.
func averageMillivolts(values []int32) int32 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += int64(v)
	}
	return int32(math.Round(float64(sum) / float64(len(values))))
}
