// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors holds the I²C device drivers, the bus container that owns
// them and the driver registry.
package sensors

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/relabs-tech/sensors_to_mqtt/internal/config"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
)

var (
	// ErrBringUp wraps I²C open, register write and calibration failures.
	ErrBringUp = errors.New("sensor bring-up failed")
	// ErrRead wraps per-tick read failures.
	ErrRead = errors.New("sensor read failed")
	// ErrUnsupportedDriver is reported for driver names nobody registered.
	ErrUnsupportedDriver = errors.New("unsupported driver")
	// ErrUnknownSensor is returned when a command names no configured device.
	ErrUnknownSensor = errors.New("unknown sensor")
)

// Sample is one reading of one device.
type Sample struct {
	Timestamp  time.Time          `json:"timestamp"`
	Device     string             `json:"device"`
	SampleRate int                `json:"sample_rate"`
	Values     map[string]float64 `json:"values"`
}

// Keys returns the value keys in sorted order.
func (s Sample) Keys() []string {
	keys := make([]string, 0, len(s.Values))
	for k := range s.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Info is the identification and configuration metadata of a device.
type Info struct {
	Device     string             `json:"device"`
	Driver     string             `json:"driver"`
	Address    uint16             `json:"address"`
	SampleRate int                `json:"sample_rate"`
	AccelRange int                `json:"accel_range,omitempty"`
	GyroRange  int                `json:"gyro_range,omitempty"`
	FilterInfo map[string]float64 `json:"filter_info,omitempty"`
	Summary    string             `json:"summary"`
}

// Status pairs the metadata of a device with its enabled flag.
type Status struct {
	Info
	Enabled bool `json:"enabled"`
}

// Sensor is the capability set every driver variant provides.
//
// Init, Read, Recalibrate and Close touch the hardware and are only called
// from the acquisition goroutine. Name, Enabled, SetEnabled and Describe are
// safe from any goroutine.
type Sensor interface {
	Name() string
	Init() error
	Read() (Sample, error)
	Enabled() bool
	SetEnabled(enabled bool)
	Recalibrate() error
	Describe() Info
	Close() error
}

// Constructor builds a driver on its own bus handle. The driver owns bus from
// then on and closes it in Close.
type Constructor func(bus i2c.BusCloser, dev config.DeviceConfig, log logrus.FieldLogger) (Sensor, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register makes a driver available under name. It panics on duplicates,
// which can only happen through a programming error in an init function.
func Register(driver string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[driver]; dup {
		panic(fmt.Sprintf("sensors: driver %q registered twice", driver))
	}
	registry[driver] = ctor
}

func lookup(driver string) (Constructor, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ctor, ok := registry[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	return ctor, nil
}

// Drivers lists the registered driver names.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
