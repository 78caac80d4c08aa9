package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZScore(t *testing.T) {
	assert.Equal(t, 0.0, ZScore(1, 0))
	assert.Equal(t, 2.0, ZScore(1, 0.5))
}

func TestEWMA(t *testing.T) {
	assert.Equal(t, 0.0, EWMA(nil, 0.5))
	assert.Equal(t, 3.0, EWMA([]float64{3}, 0.5))
	assert.InDelta(t, 2.75, EWMA([]float64{1, 2, 4}, 0.5), 1e-12)
}

func TestPopStdDev(t *testing.T) {
	assert.Equal(t, 0.0, PopStdDev(nil))
	assert.Equal(t, 0.0, PopStdDev([]float64{5}))
	assert.InDelta(t, 2.0, PopStdDev([]float64{2, 4, 4, 4, 5, 5, 7, 9}), 1e-12)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 1.0, Clamp(3, -1, 1))
	assert.Equal(t, -1.0, Clamp(-3, -1, 1))
	assert.Equal(t, 0.5, Clamp(0.5, -1, 1))
}
