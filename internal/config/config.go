package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned when the configuration cannot be parsed or holds
// out-of-range values.
var ErrInvalid = errors.New("invalid configuration")

// DefaultPath is the config file read when no -config flag is given.
const DefaultPath = "config.yaml"

// Config holds all application configuration values.
type Config struct {
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Service ServiceConfig `yaml:"service"`
	Sensors []BusConfig   `yaml:"sensors"`
	Display DisplayConfig `yaml:"display"`
	Web     WebConfig     `yaml:"web"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// MQTTConfig describes the broker connection and topic layout.
type MQTTConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	BaseTopic        string `yaml:"base_topic"`
	ClientID         string `yaml:"client_id"`
	KeepAliveS       int    `yaml:"keep_alive_s"`
	QoS              byte   `yaml:"qos"`
	Retain           bool   `yaml:"retain"`
	ConnectTimeoutMS int    `yaml:"connect_timeout_ms"`
}

// Broker returns the paho broker URL.
func (m MQTTConfig) Broker() string {
	return fmt.Sprintf("tcp://%s:%d", m.Host, m.Port)
}

// ServiceConfig controls the acquisition loop timing. Both fields are
// filled in before decoding, so an explicit 0 is kept: update_interval_ms: 0
// runs ticks back to back and reconnect_delay_ms: 0 retries every tick.
type ServiceConfig struct {
	UpdateIntervalMS int `yaml:"update_interval_ms"`
	ReconnectDelayMS int `yaml:"reconnect_delay_ms"`
}

// BusConfig is one entry of the sensors list: a channel and its devices in
// declared order.
type BusConfig struct {
	Type    string         `yaml:"type"`
	Bus     string         `yaml:"bus"`
	Devices []DeviceConfig `yaml:"devices"`
}

// DeviceConfig describes one chip on a bus. Settings are driver specific and
// decoded by the driver itself.
type DeviceConfig struct {
	Name     string    `yaml:"name"`
	Address  uint16    `yaml:"address"`
	Driver   string    `yaml:"driver"`
	Enabled  *bool     `yaml:"enabled"`
	Settings yaml.Node `yaml:"settings"`
}

// IsEnabled reports the initial enabled state; devices are enabled unless
// the file says otherwise.
func (d DeviceConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// DecodeSettings decodes the driver settings into out. An absent settings
// block leaves out untouched.
func (d DeviceConfig) DecodeSettings(out interface{}) error {
	if d.Settings.Kind == 0 {
		return nil
	}
	if err := d.Settings.Decode(out); err != nil {
		return fmt.Errorf("%w: device %q settings: %v", ErrInvalid, d.Name, err)
	}
	return nil
}

// DisplayConfig selects the OLED sink.
type DisplayConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Bus       string `yaml:"bus"`
	Address   uint16 `yaml:"address"`
	Device    string `yaml:"content_device"` // sensor whose sample is rendered
	RefreshMS int    `yaml:"refresh_ms"`
}

// WebConfig selects the websocket/REST sink.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// MetricsConfig selects the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Overrides carries command line values that win over the file. Zero values
// mean "not given".
type Overrides struct {
	UpdateIntervalMS int
	MQTTHost         string
	MQTTPort         int
}

// Package-level singleton, set once by InitGlobal and read through Get.
var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// Default returns a configuration with every default applied and no sensors.
func Default() *Config {
	cfg := newConfig()
	cfg.applyDefaults()
	return cfg
}

// Load reads the configuration file and returns a Config struct.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", configPath, err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := newConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newConfig presets the fields whose zero value is meaningful.
func newConfig() *Config {
	return &Config{Service: ServiceConfig{UpdateIntervalMS: 100, ReconnectDelayMS: 5000}}
}

// applyDefaults fills the fields left empty; zero means absent for them.
func (c *Config) applyDefaults() {
	if c.MQTT.Host == "" {
		c.MQTT.Host = "localhost"
	}
	if c.MQTT.Port == 0 {
		c.MQTT.Port = 1883
	}
	if c.MQTT.BaseTopic == "" {
		c.MQTT.BaseTopic = "sensors"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "sensors-to-mqtt"
	}
	if c.MQTT.KeepAliveS == 0 {
		c.MQTT.KeepAliveS = 20
	}
	if c.MQTT.ConnectTimeoutMS == 0 {
		c.MQTT.ConnectTimeoutMS = 5000
	}
	for i := range c.Sensors {
		if c.Sensors[i].Type == "" {
			c.Sensors[i].Type = "i2c"
		}
	}
	if c.Display.Bus == "" {
		c.Display.Bus = "/dev/i2c-1"
	}
	if c.Display.Address == 0 {
		c.Display.Address = 0x3C
	}
	if c.Display.RefreshMS == 0 {
		c.Display.RefreshMS = 200
	}
	if c.Web.Listen == "" {
		c.Web.Listen = ":8080"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = ":9100"
	}
}

// validate checks ranges and required fields.
func (c *Config) validate() error {
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		return fmt.Errorf("%w: mqtt.port %d out of range", ErrInvalid, c.MQTT.Port)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt.qos %d out of range", ErrInvalid, c.MQTT.QoS)
	}
	if c.MQTT.KeepAliveS < 0 || c.MQTT.ConnectTimeoutMS < 0 {
		return fmt.Errorf("%w: mqtt timings must not be negative", ErrInvalid)
	}
	if c.Service.UpdateIntervalMS < 0 {
		return fmt.Errorf("%w: service.update_interval_ms must not be negative", ErrInvalid)
	}
	if c.Service.ReconnectDelayMS < 0 {
		return fmt.Errorf("%w: service.reconnect_delay_ms must not be negative", ErrInvalid)
	}

	names := make(map[string]bool)
	for i, b := range c.Sensors {
		if b.Type != "i2c" {
			return fmt.Errorf("%w: sensors[%d]: unsupported bus type %q", ErrInvalid, i, b.Type)
		}
		if b.Bus == "" {
			return fmt.Errorf("%w: sensors[%d]: bus is required", ErrInvalid, i)
		}
		for j, d := range b.Devices {
			if d.Name == "" {
				return fmt.Errorf("%w: sensors[%d].devices[%d]: name is required", ErrInvalid, i, j)
			}
			if names[d.Name] {
				return fmt.Errorf("%w: duplicate device name %q", ErrInvalid, d.Name)
			}
			names[d.Name] = true
			if d.Address > 0x7F {
				return fmt.Errorf("%w: device %q: address 0x%X is not a 7-bit I2C address", ErrInvalid, d.Name, d.Address)
			}
			if d.Driver == "" {
				return fmt.Errorf("%w: device %q: driver is required", ErrInvalid, d.Name)
			}
		}
	}
	if c.Display.Enabled && c.Display.Device == "" {
		return fmt.Errorf("%w: display.content_device is required", ErrInvalid)
	}
	if c.Display.Address > 0x7F || c.Display.RefreshMS < 0 {
		return fmt.Errorf("%w: display address or refresh out of range", ErrInvalid)
	}
	return nil
}

// ApplyOverrides replaces file values with the non-zero command line values.
func (c *Config) ApplyOverrides(o Overrides) error {
	if o.UpdateIntervalMS < 0 {
		return fmt.Errorf("%w: interval must not be negative", ErrInvalid)
	}
	if o.UpdateIntervalMS > 0 {
		c.Service.UpdateIntervalMS = o.UpdateIntervalMS
	}
	if o.MQTTHost != "" {
		c.MQTT.Host = o.MQTTHost
	}
	if o.MQTTPort != 0 {
		c.MQTT.Port = o.MQTTPort
	}
	return c.validate()
}

// Device finds a device by name across all buses.
func (c *Config) Device(name string) (DeviceConfig, bool) {
	for _, b := range c.Sensors {
		for _, d := range b.Devices {
			if d.Name == name {
				return d, true
			}
		}
	}
	return DeviceConfig{}, false
}

// InitGlobal initializes the global configuration from file.
// Uses sync.Once so only the first call loads; later calls return nil.
func InitGlobal(configPath string) error {
	var err error
	configOnce.Do(func() {
		configMu.Lock()
		defer configMu.Unlock()
		globalConfig, err = Load(configPath)
	})
	return err
}

// Get returns the global configuration instance.
// InitGlobal must be called first, or this will return nil.
func Get() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}
