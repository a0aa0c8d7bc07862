package logic

// Scale converts counter ticks into centimetres.
// It stores ticks per centimetre in thousandths of a tick so common
// datasheet factors such as 58.8 stay exact.
type Scale struct {
	milliTicks uint64
}

// DefaultScale is the HC-SR04 datasheet factor for a 1 MHz counter:
// 58.8 µs of echo per centimetre of range.
var DefaultScale = NewScale(58800)

// NewScale returns a Scale of milliTicks/1000 ticks per centimetre.
// A zero argument yields DefaultScale's factor.
func NewScale(milliTicks uint64) Scale {
	if milliTicks == 0 {
		milliTicks = 58800
	}
	return Scale{milliTicks: milliTicks}
}

// ScaleFromRates derives a Scale from the counter frequency in µHz and the
// speed of sound in nm/s. The echo covers the distance twice, so one
// centimetre of range takes 2 cm / speed seconds.
func ScaleFromRates(tickMicroHertz, speedNanoMetresPerSecond uint64) Scale {
	if tickMicroHertz == 0 || speedNanoMetresPerSecond == 0 {
		return DefaultScale
	}
	// ticks/cm = 2 * f[Hz] / (v[m/s] * 100) = 2e4 * f[µHz] / v[nm/s] / 1000
	milli := (20000*tickMicroHertz + speedNanoMetresPerSecond/2) / speedNanoMetresPerSecond
	return NewScale(milli)
}

// MilliTicks returns thousandths of a tick per centimetre.
func (s Scale) MilliTicks() uint64 {
	return s.milliTicks
}

// TicksPerCentimetre returns the factor as a float for display.
func (s Scale) TicksPerCentimetre() float64 {
	return float64(s.milliTicks) / 1000
}

// Centimetres converts a tick count to whole centimetres, truncating.
func (s Scale) Centimetres(ticks uint16) uint16 {
	if s.milliTicks == 0 {
		return 0
	}
	return uint16(uint64(ticks) * 1000 / s.milliTicks)
}
