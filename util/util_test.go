package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToUnitRange(t *testing.T) {
	assert.Equal(t, float32(0), ToUnitRange(-1))
	assert.Equal(t, float32(0.5), ToUnitRange(0))
	assert.Equal(t, float32(1), ToUnitRange(1))
	assert.Equal(t, float32(0), ToUnitRange(-7))
	assert.Equal(t, float32(1), ToUnitRange(3))
	assert.Equal(t, float32(0), ToUnitRange(float32(math.NaN())))
	assert.Equal(t, float32(1), ToUnitRange(float32(math.Inf(1))))
}

func TestGenerateLut(t *testing.T) {
	lut := GenerateLut(6)
	assert.Len(t, lut, 6)
	assert.Equal(t, lut[0], lut[5])
	assert.Equal(t, lut[1], lut[4])
	assert.Equal(t, lut[2], lut[3])
	assert.Zero(t, lut[0])
	assert.Less(t, lut[1], lut[2])

	odd := GenerateLut(5)
	assert.Equal(t, 1.0, odd[2])

	assert.Empty(t, GenerateLut(0))
	assert.Equal(t, []float64{0}, GenerateLut(1))
}
