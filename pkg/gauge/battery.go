package gauge

import (
	"fmt"
	"strings"
)

// BatteryType selects the battery chemistry the gauge is modelling.
type BatteryType int

const (
	// AlkalineAA is a cylindrical non-rechargeable alkaline AA cell.
	AlkalineAA BatteryType = iota
	// AlkalineAAA is a cylindrical non-rechargeable alkaline AAA cell.
	AlkalineAAA
	// Alkaline2SAA is two alkaline AA cells in series.
	Alkaline2SAA
	// Alkaline2SAAA is two alkaline AAA cells in series.
	Alkaline2SAAA
	// AlkalineLR44 is an alkaline LR44 coin cell.
	AlkalineLR44
	// LithiumCR2032 is a lithium-manganese dioxide CR2032 coin cell.
	LithiumCR2032
)

var batteryNames = [...]string{
	AlkalineAA:    "Alkaline AA",
	AlkalineAAA:   "Alkaline AAA",
	Alkaline2SAA:  "Alkaline 2SAA",
	Alkaline2SAAA: "Alkaline 2SAAA",
	AlkalineLR44:  "Alkaline LR44",
	LithiumCR2032: "Lithium CR2032",
}

// batteryKeys are the names accepted in configuration files.
var batteryKeys = map[string]BatteryType{
	"alkaline_aa":    AlkalineAA,
	"alkaline_aaa":   AlkalineAAA,
	"alkaline_2saa":  Alkaline2SAA,
	"alkaline_2saaa": Alkaline2SAAA,
	"alkaline_lr44":  AlkalineLR44,
	"lithium_cr2032": LithiumCR2032,
}

// Average battery current assumed by the model (A). A non-zero value improves
// accuracy even when it is not exact.
var batteryCurrent = [...]float32{
	AlkalineAA:    5e-3,
	AlkalineAAA:   5e-3,
	Alkaline2SAA:  5e-3,
	Alkaline2SAAA: 5e-3,
	AlkalineLR44:  1.5e-3,
	LithiumCR2032: 1.5e-3,
}

// ParseBatteryType parses a configuration key such as "alkaline_aa".
func ParseBatteryType(s string) (BatteryType, error) {
	b, ok := batteryKeys[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownBattery, s)
	}
	return b, nil
}

// Valid reports whether b is one of the supported chemistries.
func (b BatteryType) Valid() bool {
	return b >= AlkalineAA && b <= LithiumCR2032
}

func (b BatteryType) String() string {
	if !b.Valid() {
		return fmt.Sprintf("BatteryType(%d)", int(b))
	}
	return batteryNames[b]
}

// Key returns the configuration name of b.
func (b BatteryType) Key() string {
	for k, v := range batteryKeys {
		if v == b {
			return k
		}
	}
	return ""
}

// Current returns the assumed average discharge current in amperes.
func (b BatteryType) Current() float32 {
	if !b.Valid() {
		return 0
	}
	return batteryCurrent[b]
}

// Params returns the fixed model parameters for b.
func (b BatteryType) Params() (Params, error) {
	if !b.Valid() {
		return Params{}, fmt.Errorf("%w: %d", ErrUnknownBattery, int(b))
	}
	return batteryParams[b], nil
}
