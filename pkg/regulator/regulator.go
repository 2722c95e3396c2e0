// Package regulator applies remote LDO setpoints to the PMIC.
package regulator

import (
	"context"
	"fmt"
	"log"

	"github.com/itohio/gobfg/pkg/message"
	"github.com/itohio/gobfg/pkg/pmic"
)

// Controller is the single consumer of the setpoint queue.
type Controller struct {
	regulator pmic.Regulator
	in        <-chan message.RegulatorSetRequest
	logger    *log.Logger
}

// New creates a controller reading setpoints from in.
func New(regulator pmic.Regulator, in <-chan message.RegulatorSetRequest) *Controller {
	return &Controller{
		regulator: regulator,
		in:        in,
		logger:    log.Default(),
	}
}

// SetLogger replaces the default logger.
func (c *Controller) SetLogger(l *log.Logger) {
	c.logger = l
}

// Run applies setpoints until ctx is done. Failures to apply are logged and
// never end the loop.
func (c *Controller) Run(ctx context.Context) error {
	for {
		req, err := message.Take(ctx, c.in)
		if err != nil {
			return err
		}
		if err := c.Apply(ctx, req); err != nil {
			c.logger.Printf("regulator: %v", err)
		}
	}
}

// Apply sets the LDO output to the requested voltage.
func (c *Controller) Apply(ctx context.Context, req message.RegulatorSetRequest) error {
	if !req.InRange() {
		return fmt.Errorf("%w: %d mV", message.ErrOutOfRange, req.Millivolts)
	}

	uv := req.Microvolts()
	if err := c.regulator.SetVoltage(ctx, uv); err != nil {
		return fmt.Errorf("failed to set LDO voltage to %d uV: %w", uv, err)
	}
	c.logger.Printf("regulator: LDO voltage set to %d uV", uv)
	return nil
}
