// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package orientation

import "math"

// Gravity approximates the gravity vector as the normalized observed
// acceleration. A zero vector yields zero gravity.
func Gravity(ax, ay, az float64) (gx, gy, gz float64) {
	m := math.Sqrt(ax*ax + ay*ay + az*az)
	s := 0.0
	if m != 0 {
		s = 1 / m
	}
	return ax * s, ay * s, az * s
}

// LinearAccel removes the estimated gravity from the X and Y axes.
//
// When keepZ is set the Z axis is returned untouched, so it reports total
// vertical load instead of a linear residual. Downstream consumers expect
// that, so callers default to keepZ = true.
func LinearAccel(ax, ay, az float64, keepZ bool) (lx, ly, lz float64) {
	gx, gy, gz := Gravity(ax, ay, az)
	lz = az
	if !keepZ {
		lz = az - gz
	}
	return ax - gx, ay - gy, lz
}
