package gauge

// OCVPoint is one point of an open-circuit-voltage curve.
type OCVPoint struct {
	Volts float32
	SoC   float32 // %
}

// Params is the fixed parameter table for one chemistry.
type Params struct {
	CapacityAh       float32    // nominal capacity at 25C
	SeriesResistance float32    // internal resistance (ohm)
	TempDerating     float32    // fractional capacity loss per degree below 25C
	OCV              []OCVPoint // sorted by descending voltage
}

var alkalineCell = []OCVPoint{
	{1.58, 100},
	{1.45, 90},
	{1.40, 80},
	{1.35, 70},
	{1.31, 60},
	{1.27, 50},
	{1.23, 40},
	{1.19, 30},
	{1.15, 20},
	{1.10, 10},
	{0.90, 0},
}

var lithiumCoin = []OCVPoint{
	{3.00, 100},
	{2.95, 90},
	{2.92, 80},
	{2.88, 60},
	{2.85, 40},
	{2.78, 20},
	{2.65, 10},
	{2.00, 0},
}

var batteryParams = [...]Params{
	AlkalineAA:    {CapacityAh: 2.5, SeriesResistance: 0.15, TempDerating: 0.012, OCV: alkalineCell},
	AlkalineAAA:   {CapacityAh: 1.1, SeriesResistance: 0.25, TempDerating: 0.012, OCV: alkalineCell},
	Alkaline2SAA:  {CapacityAh: 2.5, SeriesResistance: 0.30, TempDerating: 0.012, OCV: series(alkalineCell, 2)},
	Alkaline2SAAA: {CapacityAh: 1.1, SeriesResistance: 0.50, TempDerating: 0.012, OCV: series(alkalineCell, 2)},
	AlkalineLR44:  {CapacityAh: 0.15, SeriesResistance: 5, TempDerating: 0.015, OCV: []OCVPoint{
		{1.55, 100},
		{1.42, 90},
		{1.37, 80},
		{1.32, 60},
		{1.26, 40},
		{1.18, 20},
		{1.10, 10},
		{0.90, 0},
	}},
	LithiumCR2032: {CapacityAh: 0.225, SeriesResistance: 15, TempDerating: 0.008, OCV: lithiumCoin},
}

// series scales a single-cell curve to n cells in series.
func series(cell []OCVPoint, n float32) []OCVPoint {
	out := make([]OCVPoint, len(cell))
	for i, p := range cell {
		out[i] = OCVPoint{Volts: p.Volts * n, SoC: p.SoC}
	}
	return out
}
