// Package scorenorm maps a raw signed rule score to the canonical 0..1000
// scale via a logistic curve, grounded on the reference runtime's scoring
// module (corint-runtime/src/result.rs normalizes the same way).
package scorenorm

import "math"

// Config holds the sigmoid's midpoint (x0) and steepness (k). Both are
// operator-tunable; the spec's defaults are x0=500, k=0.01.
type Config struct {
	X0 float64
	K  float64
}

// DefaultConfig matches spec.md §4.11.
var DefaultConfig = Config{X0: 500, K: 0.01}

// Normalize maps raw to the canonical 0..1000 range via
// canonical = round(1000 / (1 + exp(-k*(raw-x0)))), clamped to [0,1000].
// Monotone non-decreasing in raw; negative raw always maps to 0 (clamped
// explicitly: with the defaults the logistic alone gives 7 for raw -1).
func Normalize(raw int, cfg Config) int {
	if raw < 0 {
		return 0
	}
	x := float64(raw)
	canonical := 1000.0 / (1.0 + math.Exp(-cfg.K*(x-cfg.X0)))
	rounded := int(math.Round(canonical))
	if rounded < 0 {
		return 0
	}
	if rounded > 1000 {
		return 1000
	}
	return rounded
}

// NormalizeDefault normalizes with DefaultConfig.
func NormalizeDefault(raw int) int {
	return Normalize(raw, DefaultConfig)
}
