package raster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinearPower(t *testing.T) {
	assert.Equal(t, 1000, LinearPower(0, 1000))
	assert.Equal(t, 498, LinearPower(128, 1000))
	// never emits S0: off is an explicit M5, not a zero-power engrave
	assert.Equal(t, 1, LinearPower(255, 1000))
}

func TestGammaPower(t *testing.T) {
	p := GammaPower(2)
	assert.Equal(t, 1000, p(0, 1000))
	assert.Equal(t, 248, p(128, 1000))
	assert.Equal(t, 1, p(255, 1000))

	// gamma 1 is the linear mapping
	p = GammaPower(1)
	assert.Equal(t, LinearPower(64, 1000), p(64, 1000))
}

func TestFixedPower(t *testing.T) {
	p := FixedPower(300)
	assert.Equal(t, 300, p(0, 1000))
	assert.Equal(t, 300, p(254, 1000))

	assert.Equal(t, 1000, FixedPower(5000)(0, 1000))
	assert.Equal(t, 1, FixedPower(0)(0, 1000))
}
