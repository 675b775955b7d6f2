package publisher

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/relabs-tech/sensors_to_mqtt/internal/sensors"
)

// Console prints a block per sample: G-forces next to turn rates and the
// angles when present.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole writes to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// Publish implements Publisher.
func (c *Console) Publish(name string, s sensors.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.w, FormatSample(name, s)); err != nil {
		return fmt.Errorf("%s: %w: %w", name, ErrPublish, err)
	}
	return nil
}

func (c *Console) IsConnected() bool { return true }
func (c *Console) Reconnect() error  { return nil }

// FormatSample renders one sample for a terminal. Samples without IMU keys
// are listed key by key.
func FormatSample(name string, s sensors.Sample) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Device: %s @ %s\n", name, s.Timestamp.Format("15:04:05.000"))

	v := s.Values
	if _, imu := v["accel_x"]; !imu {
		for _, k := range s.Keys() {
			fmt.Fprintf(&sb, "  %-14s %10.3f\n", k, v[k])
		}
		return sb.String()
	}

	sb.WriteString("G-Forces          │ Turn Rates\n")
	sb.WriteString("──────────────────┼───────────────────\n")
	fmt.Fprintf(&sb, "Lateral: %6.3f G  │ Roll:  %7.2f°/s\n", v["accel_x"], v["gyro_x"])
	fmt.Fprintf(&sb, "Forward: %6.3f G  │ Pitch: %7.2f°/s\n", v["accel_y"], v["gyro_y"])
	fmt.Fprintf(&sb, "Vertical:%6.3f G  │ Yaw:   %7.2f°/s\n", v["accel_z"], v["gyro_z"])

	lean, okL := v["lean_angle"]
	bank, okB := v["bank_angle"]
	if okL && okB {
		sb.WriteString("──────────────────┴───────────────────\n")
		fmt.Fprintf(&sb, "Lean Angle: %6.2f°  Bank Angle: %6.2f°\n", lean, bank)
	}
	return sb.String()
}

// Multi fans every sample out to all sinks. It is connected only when all
// sinks are.
type Multi []Publisher

// Publish hands the sample to every sink, even after a failure, and joins
// the errors.
func (m Multi) Publish(name string, s sensors.Sample) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(name, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsConnected implements Publisher.
func (m Multi) IsConnected() bool {
	for _, p := range m {
		if !p.IsConnected() {
			return false
		}
	}
	return true
}

// Reconnect retries the disconnected sinks only.
func (m Multi) Reconnect() error {
	var errs []error
	for _, p := range m {
		if p.IsConnected() {
			continue
		}
		if err := p.Reconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
