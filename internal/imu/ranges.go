// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package imu

// AccelRange describes one accelerometer full-scale setting.
type AccelRange struct {
	G         int     // ±g
	ConfigReg byte    // value for ACCEL_CONFIG (0x1C)
	LSBPerG   float64 // counts per g
	OneG      int32   // raw counts of 1 g, removed from the Z offset at calibration
}

// GyroRange describes one gyroscope full-scale setting.
type GyroRange struct {
	DPS       int     // ±°/s
	ConfigReg byte    // value for GYRO_CONFIG (0x1B)
	LSBPerDPS float64 // counts per °/s
}

var accelRanges = []AccelRange{
	{G: 2, ConfigReg: 0x00, LSBPerG: 16384, OneG: 16384},
	{G: 4, ConfigReg: 0x08, LSBPerG: 8192, OneG: 8192},
	{G: 8, ConfigReg: 0x10, LSBPerG: 4096, OneG: 4096},
	{G: 16, ConfigReg: 0x18, LSBPerG: 2048, OneG: 2048},
}

var gyroRanges = []GyroRange{
	{DPS: 250, ConfigReg: 0x00, LSBPerDPS: 131.2},
	{DPS: 500, ConfigReg: 0x08, LSBPerDPS: 65.6},
	{DPS: 1000, ConfigReg: 0x10, LSBPerDPS: 32.8},
	{DPS: 2000, ConfigReg: 0x18, LSBPerDPS: 16.4},
}

// LookupAccelRange returns the setting for ±g. Unknown values fall back to
// ±16 g and ok is false.
func LookupAccelRange(g int) (r AccelRange, ok bool) {
	for _, r := range accelRanges {
		if r.G == g {
			return r, true
		}
	}
	return accelRanges[len(accelRanges)-1], false
}

// LookupGyroRange returns the setting for ±°/s. Unknown values fall back to
// ±2000 °/s and ok is false.
func LookupGyroRange(dps int) (r GyroRange, ok bool) {
	for _, r := range gyroRanges {
		if r.DPS == dps {
			return r, true
		}
	}
	return gyroRanges[len(gyroRanges)-1], false
}
