package util

import (
	"github.com/fogleman/ease"
)

// ToUnitRange maps a value from the signed normalized range [-1, 1] into
// [0, 1], clamping anything outside.
func ToUnitRange(v float32) float32 {
	v = (v + 1) * 0.5
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	case v != v: // NaN
		return 0
	}
	return v
}

// GenerateLut builds a symmetric ease-in-out ramp: 0 at both ends, 1 in the middle.
func GenerateLut(length int) []float64 {
	if length < 2 {
		return make([]float64, length)
	}
	increment := 1.0 / float64(length/2)
	lut := make([]float64, length)
	for i, j := 0, length-1; i < length/2; i, j = i+1, j-1 {
		value := float64(i) * increment
		lut[i] = ease.InOutQuad(value)
		lut[j] = ease.InOutQuad(value)
	}
	if length%2 == 1 {
		lut[length/2] = 1
	}
	return lut
}
