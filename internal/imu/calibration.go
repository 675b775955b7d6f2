// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

import "errors"

// ErrNoSamples is returned when a calibration is computed from nothing.
var ErrNoSamples = errors.New("imu: no calibration samples")

// Calibration holds per-axis zero offsets in raw counts.
//
// The Z accelerometer offset has 1 g worth of counts subtracted, so a level
// sensor at rest reports only gravity on Z after bias removal.
type Calibration struct {
	Accel [3]int32 `json:"accel_offsets"`
	Gyro  [3]int32 `json:"gyro_offsets"`
}

// NewCalibration averages the samples column-wise (integer mean, truncated
// toward zero) and removes oneG from the Z accelerometer offset.
func NewCalibration(samples []Raw, oneG int32) (Calibration, error) {
	if len(samples) == 0 {
		return Calibration{}, ErrNoSamples
	}

	var accelSums, gyroSums [3]int32
	for _, s := range samples {
		a, g := s.Accel(), s.Gyro()
		for i := 0; i < 3; i++ {
			accelSums[i] += int32(a[i])
			gyroSums[i] += int32(g[i])
		}
	}

	n := int32(len(samples))
	var c Calibration
	for i := 0; i < 3; i++ {
		c.Accel[i] = accelSums[i] / n
		c.Gyro[i] = gyroSums[i] / n
	}
	c.Accel[2] -= oneG
	return c, nil
}

// AccelG converts a raw accelerometer count on axis i into g.
func (c Calibration) AccelG(i int, raw int16, lsbPerG float64) float64 {
	return float64(int32(raw)-c.Accel[i]) / lsbPerG
}

// GyroDPS converts a raw gyroscope count on axis i into °/s.
func (c Calibration) GyroDPS(i int, raw int16, lsbPerDPS float64) float64 {
	return float64(int32(raw)-c.Gyro[i]) / lsbPerDPS
}
