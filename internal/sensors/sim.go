// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/sensors_to_mqtt/internal/imu"
	"periph.io/x/conn/v3/physic"
)

// SimBusName is the bus name that opens a simulated MPU-6500 instead of a
// Linux I²C adapter.
const SimBusName = "sim"

// ErrSimClosed is returned by a simulated bus after Close.
var ErrSimClosed = errors.New("sim: bus closed")

// RawFunc produces the six raw axis counts for elapsed time t. accelLSB and
// gyroLSB reflect the ranges currently written to the config registers.
type RawFunc func(t time.Duration, accelLSB, gyroLSB float64) imu.Raw

// SimIMU emulates the register file of an MPU-6500 behind an i2c.BusCloser.
// Writes land in the register file; a read starting at ACCEL_XOUT_H refreshes
// the output registers from the source.
type SimIMU struct {
	mu     sync.Mutex
	regs   [128]byte
	source RawFunc
	start  time.Time
	err    error
	closed bool
}

// NewSimIMU returns a simulated chip that rests level for the first
// still period (long enough for calibration) and then sways the same way
// the old mock pose source did: lean 20·sin(t), bank 15·cos(0.7t) and a
// steady 30 °/s yaw.
func NewSimIMU(still time.Duration) *SimIMU {
	s := &SimIMU{source: swayMotion}
	s.start = time.Now().Add(still)
	s.regs[regPwrMgmt1] = 0x01
	s.regs[regWhoAmI] = 0x70
	return s
}

// NewStaticSimIMU returns a simulated chip that always reports raw.
func NewStaticSimIMU(raw imu.Raw) *SimIMU {
	s := NewSimIMU(0)
	s.source = func(time.Duration, float64, float64) imu.Raw { return raw }
	return s
}

// SetError makes every following transaction fail with err; nil heals it.
func (s *SimIMU) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Register returns the current content of one register.
func (s *SimIMU) Register(reg byte) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[reg&0x7F]
}

// Closed reports whether Close was called.
func (s *SimIMU) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *SimIMU) String() string { return "sim-mpu6500" }

// SetSpeed implements i2c.Bus.
func (s *SimIMU) SetSpeed(f physic.Frequency) error { return nil }

// Tx implements i2c.Bus. The address is ignored: every handle carries one chip.
func (s *SimIMU) Tx(addr uint16, w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSimClosed
	}
	if s.err != nil {
		return s.err
	}
	if len(w) == 0 {
		return fmt.Errorf("sim: transaction without register address")
	}

	reg := int(w[0])
	for i, b := range w[1:] {
		if reg+i >= len(s.regs) {
			return fmt.Errorf("sim: write past register 0x%02X", len(s.regs)-1)
		}
		s.regs[reg+i] = b
	}
	if len(r) == 0 {
		return nil
	}
	if reg == regAccelXOutH {
		s.refresh()
	}
	for i := range r {
		if reg+i >= len(s.regs) {
			return fmt.Errorf("sim: read past register 0x%02X", len(s.regs)-1)
		}
		r[i] = s.regs[reg+i]
	}
	return nil
}

// Close implements io.Closer.
func (s *SimIMU) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *SimIMU) refresh() {
	accelLSB := 16384.0 / float64(int(1)<<((s.regs[regAccelConfig]>>3)&0x03))
	gyroLSB := 131.2 / float64(int(1)<<((s.regs[regGyroConfig]>>3)&0x03))

	t := time.Since(s.start)
	if t < 0 {
		t = 0
	}
	raw := s.source(t, accelLSB, gyroLSB)
	put := func(reg byte, v int16) {
		binary.BigEndian.PutUint16(s.regs[reg:reg+2], uint16(v))
	}
	put(regAccelXOutH, raw.Ax)
	put(regAccelYOutH, raw.Ay)
	put(regAccelZOutH, raw.Az)
	put(regGyroXOutH, raw.Gx)
	put(regGyroYOutH, raw.Gy)
	put(regGyroZOutH, raw.Gz)
}

func swayMotion(t time.Duration, accelLSB, gyroLSB float64) imu.Raw {
	sec := t.Seconds()
	deg := math.Pi / 180

	lean := 20 * math.Sin(sec) * deg
	bank := 15 * math.Cos(sec*0.7) * deg
	leanRate := 20 * math.Cos(sec)
	bankRate := -15 * 0.7 * math.Sin(sec*0.7)
	yawRate := 30.0
	if t == 0 {
		lean, bank, leanRate, bankRate, yawRate = 0, 0, 0, 0, 0
	}

	// gravity seen by a body leaning about Y-forward and banking about X
	ax := math.Cos(lean) * math.Sin(bank)
	ay := math.Sin(lean)
	az := math.Cos(lean) * math.Cos(bank)

	return imu.Raw{
		Ax: clampCount(ax * accelLSB),
		Ay: clampCount(ay * accelLSB),
		Az: clampCount(az * accelLSB),
		Gx: clampCount(leanRate * gyroLSB),
		Gy: clampCount(bankRate * gyroLSB),
		Gz: clampCount(yawRate * gyroLSB),
	}
}

func clampCount(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(v))
}
