package sensors

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/sensors_to_mqtt/internal/config"
	"github.com/relabs-tech/sensors_to_mqtt/internal/filter"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/bmxx80"
)

// DefaultBMX280Addr is the address with SDO low.
const DefaultBMX280Addr = 0x76

func init() {
	Register("bmx280", NewBMX280)
}

// BMX280Settings is the settings block of the environmental sensor.
type BMX280Settings struct {
	SeaLevelHPa float64 `yaml:"sea_level_hpa"`
	SampleRate  int     `yaml:"sample_rate"`
	// Altitude smooths the pressure altitude; nil leaves it raw.
	Altitude *filter.Config `yaml:"altitude_filter"`
}

// BMX280 reads a BMP280 or BME280 through the periph bmxx80 driver.
type BMX280 struct {
	name     string
	addr     uint16
	bus      i2c.BusCloser
	dev      *bmxx80.Dev
	humidity bool
	log      logrus.FieldLogger
	settings BMX280Settings
	altitude *filter.Kalman1D

	enabled atomic.Bool
	now     func() time.Time
}

// NewBMX280 decodes the settings; the chip is probed in Init.
func NewBMX280(bus i2c.BusCloser, dev config.DeviceConfig, log logrus.FieldLogger) (Sensor, error) {
	settings := BMX280Settings{SeaLevelHPa: 1013.25, SampleRate: 10}
	if err := dev.DecodeSettings(&settings); err != nil {
		return nil, err
	}
	if settings.SeaLevelHPa <= 0 {
		return nil, fmt.Errorf("%s: %w: sea_level_hpa must be > 0", dev.Name, config.ErrInvalid)
	}

	addr := dev.Address
	if addr == 0 {
		addr = DefaultBMX280Addr
	}
	b := &BMX280{
		name:     dev.Name,
		addr:     addr,
		bus:      bus,
		log:      log.WithField("device", dev.Name),
		settings: settings,
		now:      time.Now,
	}
	if settings.Altitude != nil {
		if err := settings.Altitude.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w: altitude_filter: %v", dev.Name, config.ErrInvalid, err)
		}
		b.altitude = settings.Altitude.New()
	}
	b.enabled.Store(true)
	return b, nil
}

// Name implements Sensor.
func (b *BMX280) Name() string { return b.name }

// Enabled implements Sensor.
func (b *BMX280) Enabled() bool { return b.enabled.Load() }

// SetEnabled implements Sensor.
func (b *BMX280) SetEnabled(enabled bool) { b.enabled.Store(enabled) }

// Init probes the chip and starts continuous measurement.
func (b *BMX280) Init() error {
	dev, err := bmxx80.NewI2C(b.bus, b.addr, &bmxx80.DefaultOpts)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", b.name, ErrBringUp, err)
	}
	b.dev = dev
	b.humidity = strings.HasPrefix(dev.String(), "BME280")
	b.log.Infof("%s initialized", dev)
	return nil
}

// Read implements Sensor.
func (b *BMX280) Read() (Sample, error) {
	var e physic.Env
	if err := b.dev.Sense(&e); err != nil {
		return Sample{}, fmt.Errorf("%s: %w: %w", b.name, ErrRead, err)
	}

	hpa := float64(e.Pressure) / float64(physic.Pascal) / 100.0 // 1 hPa = 100 Pa
	alt := PressureAltitude(hpa, b.settings.SeaLevelHPa)
	if b.altitude != nil {
		alt = b.altitude.Update(alt)
	}

	values := map[string]float64{
		"temperature_c": e.Temperature.Celsius(),
		"pressure_hpa":  hpa,
		"altitude_m":    alt,
	}
	if b.humidity {
		values["humidity_pct"] = float64(e.Humidity) / float64(physic.PercentRH)
	}
	return Sample{
		Timestamp:  b.now(),
		Device:     b.name,
		SampleRate: b.settings.SampleRate,
		Values:     values,
	}, nil
}

// Recalibrate restarts the altitude filter; the chip carries its own
// factory trimming.
func (b *BMX280) Recalibrate() error {
	if b.altitude != nil {
		b.altitude.Reset()
	}
	return nil
}

// Describe implements Sensor.
func (b *BMX280) Describe() Info {
	chip := "BMP280"
	if b.humidity {
		chip = "BME280"
	}
	info := Info{
		Device:     b.name,
		Driver:     "bmx280",
		Address:    b.addr,
		SampleRate: b.settings.SampleRate,
		Summary:    fmt.Sprintf("%s %s environment (addr: 0x%02X)", b.name, chip, b.addr),
	}
	if b.settings.Altitude != nil {
		info.FilterInfo = map[string]float64{
			"altitude_process_noise":     b.settings.Altitude.ProcessNoise,
			"altitude_measurement_noise": b.settings.Altitude.MeasurementNoise,
			"altitude_dead_zone":         b.settings.Altitude.DeadZone,
		}
	}
	return info
}

// Close halts the chip and releases the bus handle.
func (b *BMX280) Close() error {
	if b.dev != nil {
		if err := b.dev.Halt(); err != nil {
			b.log.Warnf("halt: %v", err)
		}
	}
	return b.bus.Close()
}

// PressureAltitude converts station pressure to altitude in meters with the
// international barometric formula.
func PressureAltitude(hpa, seaLevelHPa float64) float64 {
	return 44330.0 * (1.0 - math.Pow(hpa/seaLevelHPa, 1.0/5.255))
}
