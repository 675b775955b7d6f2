// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/sensors_to_mqtt/internal/config"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Opener opens one handle on the named I²C bus.
type Opener func(name string) (i2c.BusCloser, error)

var (
	hostOnce    sync.Once
	hostInitErr error
)

// OpenI2C is the default Opener. "sim" yields a simulated MPU-6500 that rests
// for the calibration period and then sways; anything else goes through the
// periph host drivers.
func OpenI2C(name string) (i2c.BusCloser, error) {
	if name == SimBusName {
		return NewSimIMU(calibrationSamples*calibrationInterval + time.Second), nil
	}

	hostOnce.Do(func() {
		if _, err := host.Init(); err != nil {
			hostInitErr = fmt.Errorf("periph host init: %w", err)
		}
	})
	if hostInitErr != nil {
		return nil, hostInitErr
	}
	return i2creg.Open(name)
}

// Bus owns the devices declared on one I²C channel, in declared order.
type Bus struct {
	name    string
	devices []Sensor
}

// NewBus constructs, brings up and calibrates every device of cfg in order.
// Unknown drivers are skipped with a warning. Any other failure closes the
// devices built so far and aborts.
func NewBus(cfg config.BusConfig, open Opener, log logrus.FieldLogger) (*Bus, error) {
	if open == nil {
		open = OpenI2C
	}
	log = log.WithField("bus", cfg.Bus)
	b := &Bus{name: cfg.Bus}

	for _, dc := range cfg.Devices {
		ctor, err := lookup(dc.Driver)
		if err != nil {
			log.WithField("device", dc.Name).Warnf("skipping device: %v", err)
			continue
		}

		s, err := b.bringUp(ctor, dc, open, log)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.devices = append(b.devices, s)
		log.WithField("device", dc.Name).Infof("%s ready (enabled=%t)", s.Describe().Summary, s.Enabled())
	}
	return b, nil
}

func (b *Bus) bringUp(ctor Constructor, dc config.DeviceConfig, open Opener, log logrus.FieldLogger) (Sensor, error) {
	handle, err := open(b.name)
	if err != nil {
		return nil, fmt.Errorf("%s: open %s: %w: %w", dc.Name, b.name, ErrBringUp, err)
	}
	s, err := ctor(handle, dc, log)
	if err != nil {
		handle.Close()
		return nil, err
	}
	if err := s.Init(); err != nil {
		s.Close()
		return nil, err
	}
	s.SetEnabled(dc.IsEnabled())
	return s, nil
}

// Name returns the channel identifier.
func (b *Bus) Name() string { return b.name }

// Devices returns the devices in declared order.
func (b *Bus) Devices() []Sensor { return b.devices }

// Close closes every device handle.
func (b *Bus) Close() error {
	var errs []error
	for _, d := range b.devices {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		}
	}
	b.devices = nil
	return errors.Join(errs...)
}

// OpenBuses builds every configured bus in order. On failure the buses
// already built are closed.
func OpenBuses(cfgs []config.BusConfig, open Opener, log logrus.FieldLogger) ([]*Bus, error) {
	var buses []*Bus
	for _, cfg := range cfgs {
		b, err := NewBus(cfg, open, log)
		if err != nil {
			CloseBuses(buses)
			return nil, err
		}
		buses = append(buses, b)
	}
	return buses, nil
}

// CloseBuses closes all buses and joins their errors.
func CloseBuses(buses []*Bus) error {
	var errs []error
	for _, b := range buses {
		errs = append(errs, b.Close())
	}
	return errors.Join(errs...)
}
