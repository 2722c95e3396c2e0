package pmic

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/itohio/gobfg/pkg/config"
)

var (
	ErrNotConnected = errors.New("pmic: not connected")
	ErrTimeout      = errors.New("pmic: timeout waiting for response")
	ErrDevice       = errors.New("pmic: device reported error")
	ErrProtocol     = errors.New("pmic: malformed response")
	ErrConversion   = errors.New("pmic: raw value cannot be converted")
)

// Bridge line protocol. Every request is one line; every response is one
// line starting with the request letter:
//
//	S          -> S,OK | S,ERR,<reason>
//	A,<ch>     -> A,<ch>,<raw> | A,<ch>,ERR
//	B          -> B,<volts>,<celsius> | B,ERR
//	V,<uV>     -> V,OK | V,ERR,<code>
const (
	cmdSetup   = 'S'
	cmdADC     = 'A'
	cmdBattery = 'B'
	cmdVoltage = 'V'
)

func formatADCRequest(ch Channel) string {
	return fmt.Sprintf("%c,%d", cmdADC, int(ch))
}

func formatVoltageRequest(uv int32) string {
	return fmt.Sprintf("%c,%d", cmdVoltage, uv)
}

// parseAck parses the response to S and V requests.
func parseAck(line string, cmd byte) error {
	parts := strings.Split(line, ",")
	if len(parts) < 2 || len(parts[0]) != 1 || parts[0][0] != cmd {
		return fmt.Errorf("%w: %q", ErrProtocol, line)
	}
	switch parts[1] {
	case "OK":
		if len(parts) != 2 {
			return fmt.Errorf("%w: %q", ErrProtocol, line)
		}
		return nil
	case "ERR":
		return fmt.Errorf("%w: %s", ErrDevice, strings.Join(parts[2:], ","))
	}
	return fmt.Errorf("%w: %q", ErrProtocol, line)
}

// parseADCLine parses A,<ch>,<raw> and returns the raw conversion code.
func parseADCLine(line string, ch Channel) (int32, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 || parts[0] != string(rune(cmdADC)) {
		return 0, fmt.Errorf("%w: %q", ErrProtocol, line)
	}
	got, err := strconv.Atoi(parts[1])
	if err != nil || Channel(got) != ch {
		return 0, fmt.Errorf("%w: channel mismatch in %q", ErrProtocol, line)
	}
	if parts[2] == "ERR" {
		return 0, fmt.Errorf("%w: channel %s read failed", ErrDevice, ch)
	}
	raw, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid raw value: %v", ErrProtocol, err)
	}
	return int32(raw), nil
}

// parseBatteryLine parses B,<volts>,<celsius>.
func parseBatteryLine(line string) (Battery, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 2 || parts[0] != string(rune(cmdBattery)) {
		return Battery{}, fmt.Errorf("%w: %q", ErrProtocol, line)
	}
	if parts[1] == "ERR" {
		return Battery{}, fmt.Errorf("%w: battery sensor fetch failed", ErrDevice)
	}
	if len(parts) != 3 {
		return Battery{}, fmt.Errorf("%w: %q", ErrProtocol, line)
	}
	v, err := strconv.ParseFloat(parts[1], 32)
	if err != nil {
		return Battery{}, fmt.Errorf("%w: invalid voltage: %v", ErrProtocol, err)
	}
	t, err := strconv.ParseFloat(parts[2], 32)
	if err != nil {
		return Battery{}, fmt.Errorf("%w: invalid temperature: %v", ErrProtocol, err)
	}
	return Battery{Voltage: float32(v), Temperature: float32(t)}, nil
}

// RawToMillivolts converts a raw conversion code using the channel calibration.
func RawToMillivolts(raw int32, cal config.ChannelCalibration) (int32, error) {
	if cal.Resolution <= 0 || cal.Resolution > 24 || cal.ReferenceMV <= 0 {
		return 0, fmt.Errorf("%w: invalid calibration for %s", ErrConversion, cal.Name)
	}
	full := int32(1) << cal.Resolution
	if raw < -full || raw >= full {
		return 0, fmt.Errorf("%w: %d outside %d-bit range", ErrConversion, raw, cal.Resolution)
	}
	gain := cal.Gain
	if gain == 0 {
		gain = 1
	}
	mv := float64(raw) * cal.ReferenceMV * gain / float64(full)
	return int32(math.Round(mv)), nil
}
