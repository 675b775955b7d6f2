// Package publisher holds the sinks the acquisition loop hands samples to.
package publisher

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relabs-tech/sensors_to_mqtt/internal/sensors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrPublish wraps every failed emission.
	ErrPublish = errors.New("publish failed")
	// ErrNotConnected is returned while the sink has no connection.
	ErrNotConnected = errors.New("publisher not connected")
)

// Topic kinds under <base>/IMU/<name>/.
const (
	KindInfo     = "INFO"
	KindFiltered = "FILTERED"
	KindDerived  = "DERIVED"
)

// Publisher is the sink of the acquisition loop. Publish is called once per
// sample and never retried.
type Publisher interface {
	Publish(name string, s sensors.Sample) error
	IsConnected() bool
	Reconnect() error
}

// InfoFunc looks up the metadata of a sensor by name.
type InfoFunc func(name string) (sensors.Info, bool)

// Topic returns <base>/IMU/<name>/<kind>.
func Topic(base, name, kind string) string {
	return fmt.Sprintf("%s/IMU/%s/%s", base, name, kind)
}

// ParseTopic splits <base>/IMU/<name>/<kind>. The base may itself contain
// slashes.
func ParseTopic(topic string) (base, name, kind string, ok bool) {
	parts := strings.Split(topic, "/")
	n := len(parts)
	if n < 4 || parts[n-3] != "IMU" {
		return "", "", "", false
	}
	return strings.Join(parts[:n-3], "/"), parts[n-2], parts[n-1], true
}

// derivedMarkers select the DERIVED subset of the sample keys.
var derivedMarkers = []string{"angle", "g_force", "rate"}

// IsDerivedKey reports whether key belongs on the DERIVED topic.
func IsDerivedKey(key string) bool {
	for _, m := range derivedMarkers {
		if strings.Contains(key, m) {
			return true
		}
	}
	return false
}

func timestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// FilteredPayload is every sample value plus the timestamp.
func FilteredPayload(s sensors.Sample) map[string]interface{} {
	p := make(map[string]interface{}, len(s.Values)+1)
	for k, v := range s.Values {
		p[k] = v
	}
	p["timestamp"] = timestamp(s.Timestamp)
	return p
}

// DerivedPayload is the angle, G-force and rate subset plus the timestamp.
func DerivedPayload(s sensors.Sample) map[string]interface{} {
	p := map[string]interface{}{"timestamp": timestamp(s.Timestamp)}
	for k, v := range s.Values {
		if IsDerivedKey(k) {
			p[k] = v
		}
	}
	return p
}

// InfoPayload identifies the sensor and its configuration. Without metadata
// it falls back to what the sample itself carries.
func InfoPayload(s sensors.Sample, info sensors.Info, ok bool) map[string]interface{} {
	p := map[string]interface{}{
		"timestamp":   timestamp(s.Timestamp),
		"device":      s.Device,
		"sample_rate": s.SampleRate,
	}
	if !ok {
		return p
	}
	p["driver"] = info.Driver
	p["address"] = fmt.Sprintf("0x%02X", info.Address)
	p["summary"] = info.Summary
	if info.AccelRange != 0 {
		p["accel_range"] = info.AccelRange
	}
	if info.GyroRange != 0 {
		p["gyro_range"] = info.GyroRange
	}
	if len(info.FilterInfo) > 0 {
		p["filter_info"] = info.FilterInfo
	}
	return p
}

// NoOp drops everything and is always connected.
type NoOp struct{}

func (NoOp) Publish(string, sensors.Sample) error { return nil }
func (NoOp) IsConnected() bool                    { return true }
func (NoOp) Reconnect() error                     { return nil }

// Logging writes samples to the logger instead of a broker: a debug line per
// sample and a trace line per value.
type Logging struct {
	Log logrus.FieldLogger
}

// Publish implements Publisher.
func (l Logging) Publish(name string, s sensors.Sample) error {
	entry := l.Log.WithField("device", name)
	entry.Debugf("%d values", len(s.Values))
	for _, k := range s.Keys() {
		entry.Tracef("  %s: %v", k, s.Values[k])
	}
	return nil
}

func (Logging) IsConnected() bool { return true }
func (Logging) Reconnect() error  { return nil }
