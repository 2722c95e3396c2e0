package pmic

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/itohio/gobfg/pkg/config"
)

const (
	// DefaultBaudRate is the bridge firmware's UART speed.
	DefaultBaudRate = 115200
	// DefaultTimeout bounds a single request/response exchange.
	DefaultTimeout = 500 * time.Millisecond

	readPoll = 20 * time.Millisecond
)

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Serial talks to the PMIC bridge board over a serial port.
type Serial struct {
	port     string
	baudRate int
	timeout  time.Duration
	channels []config.ChannelCalibration

	mu        sync.Mutex
	conn      serial.Port
	pending   []byte
	connected bool
}

// New creates a new Serial device from the PMIC configuration.
func New(cfg *config.PMICConfig) *Serial {
	baudRate := cfg.BaudRate
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Serial{
		port:     cfg.Port,
		baudRate: baudRate,
		timeout:  timeout,
		channels: cfg.Channels,
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

// Connect opens the serial port.
func (d *Serial) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}
	if err := port.SetReadTimeout(readPoll); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout on %s: %w", d.port, err)
	}

	d.conn = port
	d.connected = true
	return nil
}

// Close closes the serial port.
func (d *Serial) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil
	}
	d.connected = false

	err := d.conn.Close()
	d.conn = nil
	d.pending = nil
	if err != nil {
		return fmt.Errorf("failed to close serial port %s: %w", d.port, err)
	}
	return nil
}

// IsConnected returns whether the port is open.
func (d *Serial) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Setup asks the bridge to configure its ADC channels.
func (d *Serial) Setup() error {
	if len(d.channels) < NumChannels {
		return fmt.Errorf("pmic: %d channel calibrations configured, need %d", len(d.channels), NumChannels)
	}
	line, err := d.request(context.Background(), string(rune(cmdSetup)))
	if err != nil {
		return err
	}
	return parseAck(line, cmdSetup)
}

// ReadMillivolts implements ADC.
func (d *Serial) ReadMillivolts(ch Channel) (int32, error) {
	if ch < 0 || int(ch) >= len(d.channels) {
		return 0, fmt.Errorf("pmic: no calibration for channel %d", ch)
	}
	line, err := d.request(context.Background(), formatADCRequest(ch))
	if err != nil {
		return 0, err
	}
	raw, err := parseADCLine(line, ch)
	if err != nil {
		return 0, err
	}
	return RawToMillivolts(raw, d.channels[ch])
}

// ReadBattery implements Sensor.
func (d *Serial) ReadBattery() (Battery, error) {
	line, err := d.request(context.Background(), string(rune(cmdBattery)))
	if err != nil {
		return Battery{}, err
	}
	return parseBatteryLine(line)
}

// SetVoltage implements Regulator.
func (d *Serial) SetVoltage(ctx context.Context, microvolts int32) error {
	line, err := d.request(ctx, formatVoltageRequest(microvolts))
	if err != nil {
		return err
	}
	return parseAck(line, cmdVoltage)
}

// request sends one command line and waits for the response line.
// Requests are serialized; stale input is discarded before each request.
func (d *Serial) request(ctx context.Context, cmd string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return "", ErrNotConnected
	}

	deadline := time.Now().Add(d.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	d.pending = d.pending[:0]
	if err := d.conn.ResetInputBuffer(); err != nil {
		return "", fmt.Errorf("failed to reset input buffer: %w", err)
	}
	if _, err := d.conn.Write([]byte(cmd + "\n")); err != nil {
		return "", fmt.Errorf("failed to send %q: %w", cmd, err)
	}

	return d.readLine(ctx, deadline)
}

func (d *Serial) readLine(ctx context.Context, deadline time.Time) (string, error) {
	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(d.pending, '\n'); i >= 0 {
			line := strings.TrimSpace(string(d.pending[:i]))
			d.pending = d.pending[i+1:]
			if line == "" {
				continue
			}
			return line, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "", ErrTimeout
		}

		n, err := d.conn.Read(buf)
		if err != nil {
			return "", fmt.Errorf("failed to read from serial port: %w", err)
		}
		d.pending = append(d.pending, buf[:n]...)
	}
}
