package pmic

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/itohio/gobfg/pkg/config"
)

// Mock simulates a PMIC board for testing and development.
// The battery drains linearly over time and the LDO follows SetVoltage.
type Mock struct {
	cfg *config.MockConfig
	now func() time.Time

	mu        sync.Mutex
	connected bool
	startTime time.Time
	ldoMV     int32
	setpoints []int32

	// Fault injection
	failSetup     error
	failChannel   [NumChannels]error
	failSensor    error
	failRegulator error
}

// NewMock creates a new mocked PMIC board.
func NewMock(cfg *config.MockConfig) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}
	return &Mock{
		cfg:   cfg,
		now:   time.Now,
		ldoMV: cfg.LDOMV,
	}
}

// Connect simulates connecting to the board.
func (m *Mock) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}

	m.connected = true
	m.startTime = m.now()
	return nil
}

// Close simulates disconnecting from the board.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected returns whether the board is currently connected.
func (m *Mock) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Setup implements ADC.
func (m *Mock) Setup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	return m.failSetup
}

// ReadMillivolts implements ADC.
func (m *Mock) ReadMillivolts(ch Channel) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return 0, ErrNotConnected
	}
	if ch < 0 || ch >= NumChannels {
		return 0, fmt.Errorf("pmic: no channel %d", ch)
	}
	if err := m.failChannel[ch]; err != nil {
		return 0, err
	}

	base := m.cfg.BoostMV
	if ch == ChannelLDO {
		base = m.ldoMV
	}
	return base + int32(math.Round(m.noise(float64(ch)))), nil
}

// ReadBattery implements Sensor.
func (m *Mock) ReadBattery() (Battery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return Battery{}, ErrNotConnected
	}
	if m.failSensor != nil {
		return Battery{}, m.failSensor
	}

	hours := m.now().Sub(m.startTime).Hours()
	v := math.Max(m.cfg.BatteryVoltage-m.cfg.DrainPerHour*hours, 0)
	return Battery{
		Voltage:     float32(v),
		Temperature: float32(m.cfg.Temperature),
	}, nil
}

// SetVoltage implements Regulator.
func (m *Mock) SetVoltage(ctx context.Context, microvolts int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		return ErrNotConnected
	}
	m.setpoints = append(m.setpoints, microvolts)
	if m.failRegulator != nil {
		return m.failRegulator
	}
	m.ldoMV = microvolts / 1000
	return nil
}

// Setpoints returns every microvolt value passed to SetVoltage, in order.
func (m *Mock) Setpoints() []int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int32(nil), m.setpoints...)
}

// FailSetup makes Setup return err. A nil err clears the fault.
func (m *Mock) FailSetup(err error) {
	m.mu.Lock()
	m.failSetup = err
	m.mu.Unlock()
}

// FailChannel makes conversions of ch return err.
func (m *Mock) FailChannel(ch Channel, err error) {
	m.mu.Lock()
	m.failChannel[ch] = err
	m.mu.Unlock()
}

// FailSensor makes ReadBattery return err.
func (m *Mock) FailSensor(err error) {
	m.mu.Lock()
	m.failSensor = err
	m.mu.Unlock()
}

// FailRegulator makes SetVoltage return err.
func (m *Mock) FailRegulator(err error) {
	m.mu.Lock()
	m.failRegulator = err
	m.mu.Unlock()
}

func (m *Mock) noise(phase float64) float64 {
	if m.cfg.NoiseMV == 0 {
		return 0
	}
	t := float64(m.now().Sub(m.startTime).Nanoseconds())
	return (math.Sin(t*0.001+phase) + math.Cos(t*0.0013+phase)) * m.cfg.NoiseMV * 0.5
}
