package notifier

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/itohio/gobfg/pkg/message"
)

var (
	ErrStatusTooLarge   = errors.New("status does not fit the notification payload")
	ErrMalformedPayload = errors.New("malformed voltage payload")
)

const statusFormat = "BATT: %.2f%% , BATTV: %.2fV , TEMP: %.2fC  | LDO: %dmV , BOOST: %dmV"

// FormatStatus renders the human readable summary into a buffer of limit
// bytes. A summary longer than limit is an ErrStatusTooLarge carrying the
// required length; it is never truncated.
func FormatStatus(limit int, s message.VoltageSample, r message.FuelGaugeReport) ([]byte, error) {
	buf := make([]byte, 0, limit)
	buf = fmt.Appendf(buf, statusFormat, r.SoC, r.Voltage, r.Temperature, s.LDO.Wire(), s.Boost.Wire())
	if len(buf) > limit {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrStatusTooLarge, len(buf), limit)
	}
	return buf, nil
}

// encodeMillivolts encodes a reading as int32 little endian, -1 when failed.
func encodeMillivolts(r message.Reading) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(r.Wire()))
	return b
}

// encodeSoC encodes the state of charge as a truncated uint32 little endian.
func encodeSoC(soc float32) []byte {
	if !(soc > 0) {
		soc = 0
	}
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(soc))
	return b
}

// DecodeVoltage decodes a voltage-set write: byte 0 holds the hundreds and
// thousands digits and byte 1 the tens and units, one BCD digit per nibble.
// Bytes beyond the second are ignored.
func DecodeVoltage(data []byte) (message.RegulatorSetRequest, error) {
	if len(data) < 2 {
		return message.RegulatorSetRequest{}, fmt.Errorf("%w: %d bytes", ErrMalformedPayload, len(data))
	}

	hi, ok := bcd(data[0])
	if !ok {
		return message.RegulatorSetRequest{}, fmt.Errorf("%w: invalid BCD byte 0x%02X", ErrMalformedPayload, data[0])
	}
	lo, ok := bcd(data[1])
	if !ok {
		return message.RegulatorSetRequest{}, fmt.Errorf("%w: invalid BCD byte 0x%02X", ErrMalformedPayload, data[1])
	}

	req := message.RegulatorSetRequest{Millivolts: int32(hi)*100 + int32(lo)}
	if !req.InRange() {
		return req, fmt.Errorf("%w: %d mV", message.ErrOutOfRange, req.Millivolts)
	}
	return req, nil
}

func bcd(b byte) (int, bool) {
	hi, lo := b>>4, b&0x0F
	if hi > 9 || lo > 9 {
		return 0, false
	}
	return int(hi)*10 + int(lo), true
}
