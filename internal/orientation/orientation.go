package orientation

import (
	"math"
)

// Attitude is the accelerometer-only tilt estimate published for each IMU.
type Attitude struct {
	Lean float64 `json:"lean_angle"` // degrees, rotation about the forward axis
	Bank float64 `json:"bank_angle"` // degrees, rotation about the lateral axis
}

// Angles computes lean and bank from filtered accelerations in g.
//
// Uses simple tilt formulas:
//
//	lean = atan2(ay, sqrt(ax² + az²))
//	bank = atan2(ax, |az|)
//
// ok is false when all three inputs are exactly zero, which only happens
// before the filters have seen their first sample.
func Angles(ax, ay, az float64) (a Attitude, ok bool) {
	if ax == 0 && ay == 0 && az == 0 {
		return Attitude{}, false
	}

	leanRad := math.Atan2(ay, math.Sqrt(ax*ax+az*az))
	bankRad := math.Atan2(ax, math.Abs(az))

	return Attitude{
		Lean: leanRad * 180.0 / math.Pi,
		Bank: bankRad * 180.0 / math.Pi,
	}, true
}
