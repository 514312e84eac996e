package scorenorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_Defaults(t *testing.T) {
	assert.Equal(t, 500, NormalizeDefault(500))
	assert.Equal(t, 0, NormalizeDefault(-1000))
	assert.Equal(t, 1000, NormalizeDefault(1000000))
}

func TestNormalize_HighAmountScenario(t *testing.T) {
	// raw 100 sits well below the x0=500 midpoint, so the sigmoid maps it
	// to a low canonical score: 1000/(1+exp(4)) ≈ 18.
	got := NormalizeDefault(100)
	assert.InDelta(t, 18, got, 1)
}

func TestNormalize_Monotone(t *testing.T) {
	prev := -1
	for raw := -2000; raw <= 2000; raw += 17 {
		got := NormalizeDefault(raw)
		assert.GreaterOrEqual(t, got, prev)
		prev = got
	}
}

func TestNormalize_ClampedRange(t *testing.T) {
	for raw := -5000; raw <= 5000; raw += 123 {
		got := NormalizeDefault(raw)
		assert.GreaterOrEqual(t, got, 0)
		assert.LessOrEqual(t, got, 1000)
	}
}

func TestNormalize_SaturatesAtExtremes(t *testing.T) {
	// Raw scores far below and far above the x0 midpoint saturate at the
	// 0 and 1000 bounds.
	assert.Equal(t, 0, NormalizeDefault(0-100000))
	assert.Equal(t, 1000, NormalizeDefault(100000))
}
