// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package display renders the attitude of one sensor on an SSD1306 OLED.
package display

import (
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/relabs-tech/sensors_to_mqtt/internal/config"
	"github.com/relabs-tech/sensors_to_mqtt/internal/publisher"
	"github.com/relabs-tech/sensors_to_mqtt/internal/sensors"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
)

const (
	width  = 128
	height = 64
)

var _ publisher.Publisher = (*Display)(nil)

// Screen is the part of *ssd1306.Dev the sink draws on.
type Screen interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Halt() error
}

// Display is a publisher.Publisher that redraws the screen with the latest
// sample of one device, at most once per refresh period.
type Display struct {
	mu       sync.Mutex
	screen   Screen
	bus      io.Closer
	device   string
	refresh  time.Duration
	lastDraw time.Time
	now      func() time.Time
	log      logrus.FieldLogger
}

// New wraps an already initialized screen. bus may be nil.
func New(screen Screen, bus io.Closer, device string, refresh time.Duration, log logrus.FieldLogger) *Display {
	return &Display{
		screen:  screen,
		bus:     bus,
		device:  device,
		refresh: refresh,
		now:     time.Now,
		log:     log.WithField("component", "display"),
	}
}

// Open brings up the OLED described by cfg on its own bus handle and shows
// the splash screen.
func Open(cfg config.DisplayConfig, open sensors.Opener, log logrus.FieldLogger) (*Display, error) {
	if open == nil {
		open = sensors.OpenI2C
	}
	bus, err := open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("display: open %s: %w", cfg.Bus, err)
	}
	dev, err := ssd1306.NewI2C(bus, cfg.Address, &ssd1306.DefaultOpts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("display: init at 0x%02X: %w", cfg.Address, err)
	}
	log.WithField("component", "display").Infof("display initialized at 0x%02X showing %s", cfg.Address, cfg.Device)

	d := New(dev, bus, cfg.Device, time.Duration(cfg.RefreshMS)*time.Millisecond, log)
	if err := d.draw(Splash(cfg.Device)); err != nil {
		d.log.Errorf("error showing splash: %v", err)
	}
	return d, nil
}

// Publish implements publisher.Publisher. Samples of other devices and
// samples arriving within the refresh period are ignored.
func (d *Display) Publish(name string, s sensors.Sample) error {
	if name != d.device {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if !d.lastDraw.IsZero() && now.Sub(d.lastDraw) < d.refresh {
		return nil
	}
	d.lastDraw = now
	if err := d.screen.Draw(d.screen.Bounds(), Render(name, s), image.Point{}); err != nil {
		return fmt.Errorf("display: draw: %w", err)
	}
	return nil
}

// IsConnected implements publisher.Publisher.
func (d *Display) IsConnected() bool { return true }

// Reconnect implements publisher.Publisher.
func (d *Display) Reconnect() error { return nil }

// Close blanks the screen and releases the bus.
func (d *Display) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	err := d.screen.Halt()
	if d.bus != nil {
		if cerr := d.bus.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (d *Display) draw(img image.Image) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.screen.Draw(d.screen.Bounds(), img, image.Point{})
}

func newCanvas() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, width, height))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

func line(d *font.Drawer, x, row int, text string) {
	d.Dot = fixed.P(x, 12*(row+1))
	d.DrawString(text)
}

// Render draws lean, bank, lateral G and yaw rate of an IMU sample, or a
// waiting screen while the attitude is still unknown.
func Render(name string, s sensors.Sample) *image1bit.VerticalLSB {
	img, d := newCanvas()

	lean, okL := s.Values["lean_angle"]
	bank, okB := s.Values["bank_angle"]
	if !okL || !okB {
		line(d, 0, 1, name)
		line(d, 0, 2, "Waiting...")
		return img
	}

	line(d, 0, 0, name)
	line(d, 0, 1, fmt.Sprintf("Lean: %6.1f", lean))
	line(d, 0, 2, fmt.Sprintf("Bank: %6.1f", bank))
	line(d, 0, 3, fmt.Sprintf("G: %5.2f %5.2f", s.Values["g_force_x"], s.Values["g_force_y"]))
	if yaw, ok := s.Values["yaw_rate"]; ok {
		line(d, 0, 4, fmt.Sprintf("Yaw: %5.0f/s", yaw))
	}
	return img
}

// Splash is shown until the first sample arrives.
func Splash(device string) *image1bit.VerticalLSB {
	img, d := newCanvas()
	line(d, 10, 1, "sensors_to_mqtt")
	line(d, 5, 3, device)
	return img
}
