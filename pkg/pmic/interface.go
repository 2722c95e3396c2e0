package pmic

import "context"

// Channel selects an analog input of the PMIC board.
type Channel int

const (
	ChannelBoost Channel = 0 // boost regulator output
	ChannelLDO   Channel = 1 // low-side LDO output
)

// NumChannels is the number of sampled regulator outputs.
const NumChannels = 2

func (c Channel) String() string {
	switch c {
	case ChannelBoost:
		return "boost"
	case ChannelLDO:
		return "ldo"
	}
	return "unknown"
}

// Battery is one reading of the battery sensor.
type Battery struct {
	Voltage     float32 // V
	Temperature float32 // C
}

// ADC samples the regulator outputs.
type ADC interface {
	// Setup prepares the analog channels. An error means no sampling is possible.
	Setup() error
	// ReadMillivolts performs a blocking conversion of one channel.
	ReadMillivolts(ch Channel) (int32, error)
}

// Sensor reads the battery voltage and die temperature.
type Sensor interface {
	ReadBattery() (Battery, error)
}

// Regulator drives the LDO output voltage.
type Regulator interface {
	// SetVoltage blocks until the regulator accepted or rejected the new output.
	SetVoltage(ctx context.Context, microvolts int32) error
}

// Device is a PMIC board (real or mocked).
type Device interface {
	ADC
	Sensor
	Regulator
	Connect() error
	Close() error
	IsConnected() bool
}

var _ Device = (*Serial)(nil)

var _ Device = (*Mock)(nil)
