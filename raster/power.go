package raster

import "math"

// PowerMap converts a sample intensity (0 black .. 255 white) into an
// S value in [1, max]. The mapping is a product choice, so it is a
// pluggable strategy rather than a fixed formula.
type PowerMap func(intensity uint8, max int) int

func clampPower(s, max int) int {
	if s < 1 {
		return 1
	}
	if s > max {
		return max
	}
	return s
}

// LinearPower maps intensity linearly: black gets full power, the
// threshold edge approaches zero.
func LinearPower(intensity uint8, max int) int {
	s := int(float64(max) * (1 - float64(intensity)/255.0))
	return clampPower(s, max)
}

// GammaPower returns a gamma-corrected mapping; gamma > 1 darkens
// midtones (more power), gamma < 1 lightens them.
func GammaPower(gamma float64) PowerMap {
	return func(intensity uint8, max int) int {
		frac := 1 - float64(intensity)/255.0
		s := int(float64(max) * math.Pow(frac, gamma))
		return clampPower(s, max)
	}
}

// FixedPower engraves every dark sample at the same S value (binary
// mode).
func FixedPower(s int) PowerMap {
	return func(_ uint8, max int) int {
		return clampPower(s, max)
	}
}
