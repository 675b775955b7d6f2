// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package filter implements the scalar recursive estimator used on every
// sensor axis.
package filter

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid filter config")

// Config holds the tuning of one filter group as it appears in device settings.
type Config struct {
	ProcessNoise     float64 `yaml:"process_noise" json:"process_noise"`
	MeasurementNoise float64 `yaml:"measurement_noise" json:"measurement_noise"`
	DeadZone         float64 `yaml:"dead_zone" json:"dead_zone"`
}

// Validate checks q >= 0, r > 0 and dead zone >= 0.
func (c Config) Validate() error {
	switch {
	case math.IsNaN(c.ProcessNoise) || c.ProcessNoise < 0:
		return fmt.Errorf("%w: process_noise must be >= 0, got %v", ErrInvalidConfig, c.ProcessNoise)
	case math.IsNaN(c.MeasurementNoise) || c.MeasurementNoise <= 0:
		return fmt.Errorf("%w: measurement_noise must be > 0, got %v", ErrInvalidConfig, c.MeasurementNoise)
	case math.IsNaN(c.DeadZone) || c.DeadZone < 0:
		return fmt.Errorf("%w: dead_zone must be >= 0, got %v", ErrInvalidConfig, c.DeadZone)
	}
	return nil
}

// ZAxis returns the tighter tuning used on the vertical accelerometer axis:
// half the process noise, 0.7 of the measurement noise and half the dead zone.
func (c Config) ZAxis() Config {
	return Config{
		ProcessNoise:     c.ProcessNoise * 0.5,
		MeasurementNoise: c.MeasurementNoise * 0.7,
		DeadZone:         c.DeadZone * 0.5,
	}
}

// New builds a filter from the config.
func (c Config) New() *Kalman1D {
	return New(c.ProcessNoise, c.MeasurementNoise, c.DeadZone)
}

// Kalman1D is a one-dimensional Kalman estimator with an adaptive gain and a
// dead-zone output hold. It is not safe for concurrent use.
type Kalman1D struct {
	q float64 // process noise
	r float64 // measurement noise
	p float64 // error covariance
	x float64 // estimate
	k float64 // last gain

	initialized bool
	deadZone    float64
	lastOutput  float64
}

// New returns an uninitialized filter. The covariance starts at r.
func New(q, r, deadZone float64) *Kalman1D {
	return &Kalman1D{
		q:        q,
		r:        r,
		p:        r,
		deadZone: deadZone,
	}
}

// Update feeds one measurement and returns the gated output.
func (f *Kalman1D) Update(measurement float64) float64 {
	if !f.initialized {
		f.x = measurement
		f.lastOutput = measurement
		f.initialized = true
		return measurement
	}

	f.p += f.q
	f.k = f.p / (f.p + f.r)

	// large steps are tracked faster, small jitter is smoothed harder
	alpha := f.k * 0.8
	if math.Abs(measurement-f.x) > 1.0 {
		alpha = f.k * 1.5
	}
	f.x += alpha * (measurement - f.x)

	f.p *= 1.0 - f.k
	f.p = clamp(f.p, f.r*0.1, f.r*10.0)

	if math.Abs(f.x-f.lastOutput) < f.deadZone {
		return f.lastOutput
	}
	f.lastOutput = f.x
	return f.x
}

// Reset returns the filter to its freshly constructed state.
func (f *Kalman1D) Reset() {
	f.x = 0
	f.lastOutput = 0
	f.p = f.r
	f.k = 0
	f.initialized = false
}

// Estimate returns the internal state estimate, which may differ from the
// last output while it sits inside the dead zone.
func (f *Kalman1D) Estimate() float64 { return f.x }

// Initialized reports whether a measurement has been seen since the last
// Reset.
func (f *Kalman1D) Initialized() bool { return f.initialized }

// Covariance returns the current error covariance.
func (f *Kalman1D) Covariance() float64 { return f.p }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
