package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/itohio/gobfg/pkg/gauge"
)

const (
	// MinNotifyInterval and MaxNotifyInterval bound the BLE throttle interval.
	MinNotifyInterval = 500 * time.Millisecond
	MaxNotifyInterval = 1000 * time.Millisecond
)

// Config represents the application configuration.
type Config struct {
	PMIC      PMICConfig      `yaml:"pmic"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Estimator EstimatorConfig `yaml:"estimator"`
	BLE       BLEConfig       `yaml:"ble"`
	Queues    QueueConfig     `yaml:"queues"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Mock      MockConfig      `yaml:"mock"`
}

// PMICConfig contains the serial bridge configuration for the PMIC board.
type PMICConfig struct {
	Port     string               `yaml:"port"`
	BaudRate int                  `yaml:"baud_rate"`
	Timeout  time.Duration        `yaml:"timeout"` // per request
	Channels []ChannelCalibration `yaml:"channels"`
}

// ChannelCalibration converts raw ADC codes of one channel to millivolts:
// mv = raw * ReferenceMV * Gain / 2^Resolution.
type ChannelCalibration struct {
	Name        string  `yaml:"name"`
	ReferenceMV float64 `yaml:"reference_mv"`
	Resolution  int     `yaml:"resolution"` // bits
	Gain        float64 `yaml:"gain"`       // input divider / PGA gain compensation
}

// SamplerConfig contains regulator output sampling parameters.
type SamplerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	Oversample int           `yaml:"oversample"` // conversions averaged per tick (1 = none)
}

// EstimatorConfig contains fuel gauge parameters.
type EstimatorConfig struct {
	Interval time.Duration `yaml:"interval"`
	Battery  string        `yaml:"battery"` // alkaline_aa, alkaline_aaa, alkaline_2saa, alkaline_2saaa, alkaline_lr44, lithium_cr2032
}

// BLEConfig contains the wireless peripheral parameters.
type BLEConfig struct {
	DeviceName          string        `yaml:"device_name"`
	NotifyInterval      time.Duration `yaml:"notify_interval"`
	NegotiationDelay    time.Duration `yaml:"negotiation_delay"` // pause between PHY and data length updates
	MaxPayload          int           `yaml:"max_payload"`       // status string buffer when no MTU was negotiated
	DataLength          int           `yaml:"data_length"`       // requested link-layer TX octets
	AdvertisingInterval time.Duration `yaml:"advertising_interval"`
}

// QueueConfig contains inter-worker queue sizing.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
}

// IndicatorConfig contains status LED wiring. Negative pins disable an LED.
type IndicatorConfig struct {
	Chip          string        `yaml:"chip"`
	StatusPin     int           `yaml:"status_pin"`
	ConnectionPin int           `yaml:"connection_pin"`
	BlinkInterval time.Duration `yaml:"blink_interval"`
}

// TelemetryConfig contains the optional MQTT mirror. An empty broker disables it.
type TelemetryConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"-"` // from the environment only
	Buffer   int    `yaml:"buffer"`
}

// MockConfig contains simulated PMIC parameters.
type MockConfig struct {
	BatteryVoltage float64 `yaml:"battery_voltage"` // initial battery voltage (V)
	DrainPerHour   float64 `yaml:"drain_per_hour"`  // battery voltage drop (V/h)
	Temperature    float64 `yaml:"temperature"`     // die temperature (C)
	BoostMV        int32   `yaml:"boost_mv"`
	LDOMV          int32   `yaml:"ldo_mv"`
	NoiseMV        float64 `yaml:"noise_mv"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		PMIC: PMICConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 115200,
			Timeout:  500 * time.Millisecond,
			Channels: []ChannelCalibration{
				{Name: "boost", ReferenceMV: 900, Resolution: 14, Gain: 4},
				{Name: "ldo", ReferenceMV: 900, Resolution: 14, Gain: 4},
			},
		},
		Sampler: SamplerConfig{
			Interval:   time.Second,
			Oversample: 1,
		},
		Estimator: EstimatorConfig{
			Interval: time.Second,
			Battery:  "alkaline_2saa",
		},
		BLE: BLEConfig{
			DeviceName:          "BFG",
			NotifyInterval:      time.Second,
			NegotiationDelay:    time.Second,
			MaxPayload:          247, // 251 octet data length minus L2CAP/ATT overhead
			DataLength:          251,
			AdvertisingInterval: 500 * time.Millisecond,
		},
		Queues: QueueConfig{
			Capacity: 8,
		},
		Indicator: IndicatorConfig{
			Chip:          "gpiochip0",
			StatusPin:     -1,
			ConnectionPin: -1,
			BlinkInterval: 2 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Topic:    "bfg/status",
			ClientID: "bfg-monitor",
			Buffer:   8,
		},
		Mock: MockConfig{
			BatteryVoltage: 3.1,
			DrainPerHour:   0.01,
			Temperature:    23.5,
			BoostMV:        2500,
			LDOMV:          1800,
			NoiseMV:        5,
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks values that have no sensible default substitute.
func (c *Config) Validate() error {
	if _, err := c.BatteryType(); err != nil {
		return err
	}
	if c.BLE.NotifyInterval < MinNotifyInterval || c.BLE.NotifyInterval > MaxNotifyInterval {
		return fmt.Errorf("ble notify_interval %v outside [%v, %v]", c.BLE.NotifyInterval, MinNotifyInterval, MaxNotifyInterval)
	}
	if len(c.PMIC.Channels) != 2 {
		return fmt.Errorf("pmic: expected 2 channel calibrations, got %d", len(c.PMIC.Channels))
	}
	for i, ch := range c.PMIC.Channels {
		if ch.Resolution <= 0 || ch.Resolution > 24 {
			return fmt.Errorf("pmic channel %d: invalid resolution %d", i, ch.Resolution)
		}
	}
	return nil
}

// BatteryType returns the configured battery chemistry.
func (c *Config) BatteryType() (gauge.BatteryType, error) {
	b, err := gauge.ParseBatteryType(c.Estimator.Battery)
	if err != nil {
		return 0, fmt.Errorf("estimator battery: %w", err)
	}
	return b, nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.PMIC.Port == "" {
		c.PMIC.Port = def.PMIC.Port
	}
	if c.PMIC.BaudRate == 0 {
		c.PMIC.BaudRate = def.PMIC.BaudRate
	}
	if c.PMIC.Timeout == 0 {
		c.PMIC.Timeout = def.PMIC.Timeout
	}
	if len(c.PMIC.Channels) == 0 {
		c.PMIC.Channels = def.PMIC.Channels
	}
	for i := range c.PMIC.Channels {
		if c.PMIC.Channels[i].Gain == 0 {
			c.PMIC.Channels[i].Gain = 1
		}
	}

	if c.Sampler.Interval == 0 {
		c.Sampler.Interval = def.Sampler.Interval
	}
	if c.Sampler.Oversample <= 0 {
		c.Sampler.Oversample = def.Sampler.Oversample
	}

	if c.Estimator.Interval == 0 {
		c.Estimator.Interval = def.Estimator.Interval
	}
	if c.Estimator.Battery == "" {
		c.Estimator.Battery = def.Estimator.Battery
	}

	if c.BLE.DeviceName == "" {
		c.BLE.DeviceName = def.BLE.DeviceName
	}
	if c.BLE.NotifyInterval == 0 {
		c.BLE.NotifyInterval = def.BLE.NotifyInterval
	}
	if c.BLE.MaxPayload == 0 {
		c.BLE.MaxPayload = def.BLE.MaxPayload
	}
	if c.BLE.DataLength == 0 {
		c.BLE.DataLength = def.BLE.DataLength
	}
	if c.BLE.AdvertisingInterval == 0 {
		c.BLE.AdvertisingInterval = def.BLE.AdvertisingInterval
	}

	if c.Queues.Capacity <= 0 {
		c.Queues.Capacity = def.Queues.Capacity
	}

	if c.Indicator.Chip == "" {
		c.Indicator.Chip = def.Indicator.Chip
	}
	if c.Indicator.BlinkInterval == 0 {
		c.Indicator.BlinkInterval = def.Indicator.BlinkInterval
	}

	if c.Telemetry.Topic == "" {
		c.Telemetry.Topic = def.Telemetry.Topic
	}
	if c.Telemetry.ClientID == "" {
		c.Telemetry.ClientID = def.Telemetry.ClientID
	}
	if c.Telemetry.Buffer <= 0 {
		c.Telemetry.Buffer = def.Telemetry.Buffer
	}
}
