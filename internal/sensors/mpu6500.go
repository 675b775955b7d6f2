// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/sensors_to_mqtt/internal/config"
	"github.com/relabs-tech/sensors_to_mqtt/internal/filter"
	"github.com/relabs-tech/sensors_to_mqtt/internal/imu"
	"github.com/relabs-tech/sensors_to_mqtt/internal/orientation"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
)

// MPU-6500 registers used by the driver.
const (
	regSmplrtDiv   = 0x19
	regGyroConfig  = 0x1B
	regAccelConfig = 0x1C
	regAccelXOutH  = 0x3B
	regAccelYOutH  = 0x3D
	regAccelZOutH  = 0x3F
	regGyroXOutH   = 0x43
	regGyroYOutH   = 0x45
	regGyroZOutH   = 0x47
	regPwrMgmt1    = 0x6B
	regWhoAmI      = 0x75
)

const (
	// DefaultMPU6500Addr is the address with AD0 low.
	DefaultMPU6500Addr = 0x68

	calibrationSamples  = 300
	calibrationInterval = 10 * time.Millisecond
)

var axes = [3]string{"x", "y", "z"}

// axis registers in X/Y/Z accel then X/Y/Z gyro order
var axisRegs = [6]byte{regAccelXOutH, regAccelYOutH, regAccelZOutH, regGyroXOutH, regGyroYOutH, regGyroZOutH}

// sleep is swapped in tests to skip the calibration spacing.
var sleep = time.Sleep

func init() {
	Register("mpu6500", NewMPU6500)
}

// FilterSettings tunes the three filter groups of an MPU-6500.
type FilterSettings struct {
	Accel  filter.Config  `yaml:"accel"`
	AccelZ *filter.Config `yaml:"accel_z"` // derived from Accel when absent
	Gyro   filter.Config  `yaml:"gyro"`
}

// MPU6500Settings is the driver specific settings block.
type MPU6500Settings struct {
	AccelRange   int            `yaml:"accel_range"`
	GyroRange    int            `yaml:"gyro_range"`
	SampleRate   int            `yaml:"sample_rate"`
	SamplesAvg   int            `yaml:"samples_avg"` // accepted, not used
	KeepGravityZ bool           `yaml:"keep_gravity_z"`
	Filters      FilterSettings `yaml:"filters"`
}

// DefaultMPU6500Settings returns the settings used for absent keys.
func DefaultMPU6500Settings() MPU6500Settings {
	return MPU6500Settings{
		AccelRange:   16,
		GyroRange:    2000,
		SampleRate:   100,
		SamplesAvg:   1,
		KeepGravityZ: true,
		Filters: FilterSettings{
			Accel: filter.Config{ProcessNoise: 0.0001, MeasurementNoise: 0.0025, DeadZone: 0.01},
			Gyro:  filter.Config{ProcessNoise: 0.0001, MeasurementNoise: 0.003, DeadZone: 0.01},
		},
	}
}

// Divider returns the SMPLRT_DIV value for the configured rate.
func (s MPU6500Settings) Divider() byte {
	return byte(1000/s.SampleRate - 1)
}

// accelZ returns the filter config of the vertical accel axis.
func (s MPU6500Settings) accelZ() filter.Config {
	if s.Filters.AccelZ != nil {
		return *s.Filters.AccelZ
	}
	return s.Filters.Accel.ZAxis()
}

func (s MPU6500Settings) validate() error {
	if s.SampleRate < 1 || s.SampleRate > 1000 {
		return fmt.Errorf("%w: sample_rate %d outside 1..1000 Hz", config.ErrInvalid, s.SampleRate)
	}
	for name, fc := range map[string]filter.Config{"accel": s.Filters.Accel, "accel_z": s.accelZ(), "gyro": s.Filters.Gyro} {
		if err := fc.Validate(); err != nil {
			return fmt.Errorf("%w: filters.%s: %v", config.ErrInvalid, name, err)
		}
	}
	return nil
}

// MPU6500 drives one MPU-6500 class IMU over I²C.
type MPU6500 struct {
	name     string
	addr     uint16
	bus      i2c.BusCloser
	dev      *i2c.Dev
	log      logrus.FieldLogger
	settings MPU6500Settings

	accelRange imu.AccelRange
	gyroRange  imu.GyroRange
	cal        imu.Calibration

	// rawAccel feeds the angles, linAccel the G-force keys.
	rawAccel [3]*filter.Kalman1D
	linAccel [3]*filter.Kalman1D
	gyro     [3]*filter.Kalman1D

	enabled atomic.Bool
	now     func() time.Time
}

var _ imu.RawSource = (*MPU6500)(nil)

// NewMPU6500 decodes the settings and prepares the filters. It does not
// touch the chip; Init does.
func NewMPU6500(bus i2c.BusCloser, dev config.DeviceConfig, log logrus.FieldLogger) (Sensor, error) {
	settings := DefaultMPU6500Settings()
	if err := dev.DecodeSettings(&settings); err != nil {
		return nil, err
	}
	if err := settings.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", dev.Name, err)
	}

	addr := dev.Address
	if addr == 0 {
		addr = DefaultMPU6500Addr
	}

	m := &MPU6500{
		name:     dev.Name,
		addr:     addr,
		bus:      bus,
		dev:      &i2c.Dev{Bus: bus, Addr: addr},
		log:      log.WithField("device", dev.Name),
		settings: settings,
		now:      time.Now,
	}

	var ok bool
	if m.accelRange, ok = imu.LookupAccelRange(settings.AccelRange); !ok {
		m.log.Warnf("unknown accel_range %d, using ±%dg", settings.AccelRange, m.accelRange.G)
	}
	if m.gyroRange, ok = imu.LookupGyroRange(settings.GyroRange); !ok {
		m.log.Warnf("unknown gyro_range %d, using ±%d°/s", settings.GyroRange, m.gyroRange.DPS)
	}

	az := settings.accelZ()
	for i := 0; i < 3; i++ {
		fc := settings.Filters.Accel
		if i == 2 {
			fc = az
		}
		m.rawAccel[i] = fc.New()
		m.linAccel[i] = fc.New()
		m.gyro[i] = settings.Filters.Gyro.New()
	}
	m.enabled.Store(true)
	return m, nil
}

// Name implements Sensor.
func (m *MPU6500) Name() string { return m.name }

// Enabled implements Sensor.
func (m *MPU6500) Enabled() bool { return m.enabled.Load() }

// SetEnabled implements Sensor.
func (m *MPU6500) SetEnabled(enabled bool) { m.enabled.Store(enabled) }

// Settings returns the decoded settings.
func (m *MPU6500) Settings() MPU6500Settings { return m.settings }

// Calibration returns the current zero offsets.
func (m *MPU6500) Calibration() imu.Calibration { return m.cal }

// Init wakes the chip, writes the rate and range registers and calibrates.
func (m *MPU6500) Init() error {
	writes := []struct {
		reg, val byte
		what     string
	}{
		{regPwrMgmt1, 0x00, "wake"},
		{regSmplrtDiv, m.settings.Divider(), "sample rate divider"},
		{regAccelConfig, m.accelRange.ConfigReg, "accel range"},
		{regGyroConfig, m.gyroRange.ConfigReg, "gyro range"},
	}
	for _, w := range writes {
		if err := m.writeReg(w.reg, w.val); err != nil {
			return fmt.Errorf("%s: %s: %w: %w", m.name, w.what, ErrBringUp, err)
		}
	}
	m.log.Debugf("configured: divider=%d accel=±%dg gyro=±%d°/s",
		m.settings.Divider(), m.accelRange.G, m.gyroRange.DPS)

	return m.Calibrate()
}

// Calibrate collects samples while the sensor is held still and stores the
// zero offsets.
func (m *MPU6500) Calibrate() error {
	m.log.Info("Calibrating MPU6500... Keep the sensor still")

	samples := make([]imu.Raw, 0, calibrationSamples)
	for i := 0; i < calibrationSamples; i++ {
		raw, err := m.ReadRaw()
		if err != nil {
			return fmt.Errorf("%s: calibration sample %d: %w: %w", m.name, i, ErrBringUp, err)
		}
		samples = append(samples, raw)
		sleep(calibrationInterval)
	}

	cal, err := imu.NewCalibration(samples, m.accelRange.OneG)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", m.name, ErrBringUp, err)
	}
	m.cal = cal
	m.log.WithFields(logrus.Fields{
		"accel_offsets": cal.Accel,
		"gyro_offsets":  cal.Gyro,
	}).Info("Calibration complete")
	return nil
}

// Recalibrate forgets all filter state and calibrates again.
func (m *MPU6500) Recalibrate() error {
	for i := 0; i < 3; i++ {
		m.rawAccel[i].Reset()
		m.linAccel[i].Reset()
		m.gyro[i].Reset()
	}
	return m.Calibrate()
}

// ReadRaw reads the six axes, each as its own two byte transaction.
func (m *MPU6500) ReadRaw() (imu.Raw, error) {
	var v [6]int16
	for i, reg := range axisRegs {
		val, err := m.readAxis(reg)
		if err != nil {
			return imu.Raw{}, fmt.Errorf("register 0x%02X: %w", reg, err)
		}
		v[i] = val
	}
	return imu.Raw{Ax: v[0], Ay: v[1], Az: v[2], Gx: v[3], Gy: v[4], Gz: v[5]}, nil
}

// Read takes one raw reading and runs it through calibration, the filters
// and the derived quantities.
func (m *MPU6500) Read() (Sample, error) {
	raw, err := m.ReadRaw()
	if err != nil {
		return Sample{}, fmt.Errorf("%s: %w: %w", m.name, ErrRead, err)
	}

	values := make(map[string]float64, 17)

	var a [3]float64
	for i, r := range raw.Accel() {
		a[i] = m.cal.AccelG(i, r, m.accelRange.LSBPerG)
	}
	lx, ly, lz := orientation.LinearAccel(a[0], a[1], a[2], m.settings.KeepGravityZ)
	lin := [3]float64{lx, ly, lz}

	var fr [3]float64
	for i, axis := range axes {
		fr[i] = m.rawAccel[i].Update(a[i])
		values["accel_raw_"+axis] = fr[i]

		fl := m.linAccel[i].Update(lin[i])
		values["accel_"+axis] = fl
		values["g_force_"+axis] = fl
	}

	rates := [3]string{"roll_rate", "pitch_rate", "yaw_rate"}
	for i, r := range raw.Gyro() {
		g := m.gyro[i].Update(m.cal.GyroDPS(i, r, m.gyroRange.LSBPerDPS))
		values["gyro_"+axes[i]] = g
		values[rates[i]] = g
	}

	if att, ok := orientation.Angles(fr[0], fr[1], fr[2]); ok {
		values["lean_angle"] = att.Lean
		values["bank_angle"] = att.Bank
	}

	return Sample{
		Timestamp:  m.now(),
		Device:     m.name,
		SampleRate: m.settings.SampleRate,
		Values:     values,
	}, nil
}

// Describe implements Sensor.
func (m *MPU6500) Describe() Info {
	az := m.settings.accelZ()
	return Info{
		Device:     m.name,
		Driver:     "mpu6500",
		Address:    m.addr,
		SampleRate: m.settings.SampleRate,
		AccelRange: m.accelRange.G,
		GyroRange:  m.gyroRange.DPS,
		FilterInfo: map[string]float64{
			"accel_process_noise":       m.settings.Filters.Accel.ProcessNoise,
			"accel_measurement_noise":   m.settings.Filters.Accel.MeasurementNoise,
			"accel_dead_zone":           m.settings.Filters.Accel.DeadZone,
			"accel_z_process_noise":     az.ProcessNoise,
			"accel_z_measurement_noise": az.MeasurementNoise,
			"accel_z_dead_zone":         az.DeadZone,
			"gyro_process_noise":        m.settings.Filters.Gyro.ProcessNoise,
			"gyro_measurement_noise":    m.settings.Filters.Gyro.MeasurementNoise,
			"gyro_dead_zone":            m.settings.Filters.Gyro.DeadZone,
		},
		Summary: fmt.Sprintf("%s MPU6500 IMU (addr: 0x%02X) - Accel: ±%dg, Gyro: ±%d°/s",
			m.name, m.addr, m.accelRange.G, m.gyroRange.DPS),
	}
}

// Close releases the bus handle.
func (m *MPU6500) Close() error {
	return m.bus.Close()
}

func (m *MPU6500) writeReg(reg, val byte) error {
	return m.dev.Tx([]byte{reg, val}, nil)
}

func (m *MPU6500) readAxis(reg byte) (int16, error) {
	var buf [2]byte
	if err := m.dev.Tx([]byte{reg}, buf[:]); err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(buf[:])), nil
}
