// Package indicator drives the status and connection LEDs.
// The real implementation uses the Linux GPIO character device.
package indicator

import (
	"context"
	"fmt"
	"time"

	"github.com/itohio/gobfg/pkg/config"
)

// LED is a single on/off indicator.
type LED interface {
	Set(on bool) error
	Close() error
}

var (
	_ LED = Nop{}
	_ LED = (*GPIO)(nil)
	_ LED = (*Fake)(nil)
)

// Nop is an LED that is not wired.
type Nop struct{}

func (Nop) Set(bool) error { return nil }
func (Nop) Close() error   { return nil }

// Open returns the LED on pin of the configured chip, or Nop for a negative pin.
func Open(cfg *config.IndicatorConfig, pin int) (LED, error) {
	if pin < 0 {
		return Nop{}, nil
	}
	led, err := NewGPIO(cfg.Chip, pin)
	if err != nil {
		return nil, fmt.Errorf("indicator pin %d: %w", pin, err)
	}
	return led, nil
}

// Blink toggles led every interval until ctx is done and leaves it off.
func Blink(ctx context.Context, led LED, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	on := false
	for {
		on = !on
		if err := led.Set(on); err != nil {
			return fmt.Errorf("blink: %w", err)
		}

		select {
		case <-ctx.Done():
			if err := led.Set(false); err != nil {
				return fmt.Errorf("blink: %w", err)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
