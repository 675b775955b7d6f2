// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package app wires buses, sinks and the acquisition loop together.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/sensors_to_mqtt/internal/metrics"
	"github.com/relabs-tech/sensors_to_mqtt/internal/publisher"
	"github.com/relabs-tech/sensors_to_mqtt/internal/sensors"
	"github.com/sirupsen/logrus"
)

// Options tunes a Service.
type Options struct {
	// Interval is the target tick period; zero runs ticks back to back.
	Interval time.Duration

	// ReconnectDelay gates sink reconnects; zero retries every tick.
	ReconnectDelay time.Duration

	Metrics *metrics.Metrics

	// Now and Sleep replace the wall clock in tests.
	Now   func() time.Time
	Sleep func(time.Duration)
}

type command struct {
	name  string
	apply func(sensors.Sensor) error
	done  chan error
}

// Service is the acquisition loop. Devices are only touched from the
// goroutine running Run; other goroutines reach them through the command
// queue, which is drained at tick boundaries.
type Service struct {
	buses []*sensors.Bus
	pub   publisher.Publisher
	log   logrus.FieldLogger

	interval       time.Duration
	reconnectDelay time.Duration
	metrics        *metrics.Metrics
	now            func() time.Time
	sleep          func(time.Duration)

	byName      map[string]sensors.Sensor
	order       []string
	commands    chan command
	lastAttempt time.Time
}

// NewService builds the loop over already opened buses.
func NewService(buses []*sensors.Bus, pub publisher.Publisher, log logrus.FieldLogger, opts Options) *Service {
	if opts.Interval < 0 {
		opts.Interval = 0
	}
	if opts.ReconnectDelay < 0 {
		opts.ReconnectDelay = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}

	s := &Service{
		buses:          buses,
		pub:            pub,
		log:            log.WithField("component", "service"),
		interval:       opts.Interval,
		reconnectDelay: opts.ReconnectDelay,
		metrics:        opts.Metrics,
		now:            opts.Now,
		sleep:          opts.Sleep,
		byName:         make(map[string]sensors.Sensor),
		commands:       make(chan command, 16),
	}
	for _, b := range buses {
		for _, d := range b.Devices() {
			s.byName[d.Name()] = d
			s.order = append(s.order, d.Name())
			s.metrics.Enabled(d.Name(), d.Enabled())
		}
	}
	return s
}

// Run ticks until stop is set. The flag is only looked at between ticks, so
// a tick in progress always completes.
func (s *Service) Run(stop *atomic.Bool) error {
	s.log.Infof("Starting acquisition loop (%d sensors, interval %s)", len(s.order), s.interval)
	s.lastAttempt = s.now()

	for !stop.Load() {
		start := s.now()
		s.Tick()
		elapsed := s.now().Sub(start)
		s.metrics.Tick(elapsed)

		if wait := s.interval - elapsed; wait > 0 {
			s.sleep(wait)
		}
	}

	s.log.Info("Acquisition loop stopped")
	return nil
}

// Tick runs one iteration: reconnect policy, queued commands, then one read
// and one publish per enabled device in bus and declared order.
func (s *Service) Tick() {
	s.maybeReconnect()
	s.drainCommands()

	for _, b := range s.buses {
		for _, d := range b.Devices() {
			if !d.Enabled() {
				continue
			}
			name := d.Name()
			sample, err := d.Read()
			if err != nil {
				s.log.WithField("device", name).Errorf("read failed: %v", err)
				s.metrics.ReadError(name)
				continue
			}
			s.metrics.Sample(name, sample.Values)
			if err := s.pub.Publish(name, sample); err != nil {
				s.log.WithField("device", name).Errorf("publish failed: %v", err)
				s.metrics.PublishError(name)
			}
		}
	}
}

func (s *Service) maybeReconnect() {
	connected := s.pub.IsConnected()
	s.metrics.Connected(connected)
	if connected {
		return
	}

	now := s.now()
	if now.Sub(s.lastAttempt) < s.reconnectDelay {
		return
	}
	s.lastAttempt = now

	s.log.Warn("Publisher disconnected, attempting to reconnect")
	err := s.pub.Reconnect()
	s.metrics.Reconnect(err)
	if err != nil {
		s.log.Errorf("Reconnect failed: %v", err)
		return
	}
	s.metrics.Connected(true)
	s.log.Info("Reconnected")
}

func (s *Service) drainCommands() {
	for {
		select {
		case c := <-s.commands:
			c.done <- c.apply(s.byName[c.name])
		default:
			return
		}
	}
}

// submit queues fn for the named sensor and waits until the loop ran it.
func (s *Service) submit(ctx context.Context, name string, fn func(sensors.Sensor) error) error {
	if _, ok := s.byName[name]; !ok {
		return fmt.Errorf("%w: %q", sensors.ErrUnknownSensor, name)
	}
	c := command{name: name, apply: fn, done: make(chan error, 1)}
	select {
	case s.commands <- c:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetEnabled switches a sensor on or off at the next tick boundary.
func (s *Service) SetEnabled(ctx context.Context, name string, enabled bool) error {
	return s.submit(ctx, name, func(d sensors.Sensor) error {
		d.SetEnabled(enabled)
		s.metrics.Enabled(name, enabled)
		s.log.WithField("device", name).Infof("enabled=%t", enabled)
		return nil
	})
}

// Recalibrate recalibrates a sensor at the next tick boundary and returns
// the outcome.
func (s *Service) Recalibrate(ctx context.Context, name string) error {
	return s.submit(ctx, name, func(d sensors.Sensor) error {
		err := d.Recalibrate()
		s.metrics.Calibration(name, err)
		if err != nil {
			s.log.WithField("device", name).Errorf("recalibration failed: %v", err)
		}
		return err
	})
}

// SensorNames lists the sensors in acquisition order.
func (s *Service) SensorNames() []string {
	return append([]string(nil), s.order...)
}

// Describe returns the metadata of the named sensor.
func (s *Service) Describe(name string) (sensors.Info, bool) {
	d, ok := s.byName[name]
	if !ok {
		return sensors.Info{}, false
	}
	return d.Describe(), true
}

// Sensors lists every sensor with its metadata and enabled flag.
func (s *Service) Sensors() []sensors.Status {
	out := make([]sensors.Status, 0, len(s.order))
	for _, name := range s.order {
		d := s.byName[name]
		out = append(out, sensors.Status{Info: d.Describe(), Enabled: d.Enabled()})
	}
	return out
}

// Describer looks sensors up by name across buses, for sinks built before
// the Service exists.
func Describer(buses []*sensors.Bus) publisher.InfoFunc {
	byName := make(map[string]sensors.Sensor)
	for _, b := range buses {
		for _, d := range b.Devices() {
			byName[d.Name()] = d
		}
	}
	return func(name string) (sensors.Info, bool) {
		d, ok := byName[name]
		if !ok {
			return sensors.Info{}, false
		}
		return d.Describe(), true
	}
}
