// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/relabs-tech/sensors_to_mqtt/internal/config"
	"github.com/relabs-tech/sensors_to_mqtt/internal/display"
	"github.com/relabs-tech/sensors_to_mqtt/internal/metrics"
	"github.com/relabs-tech/sensors_to_mqtt/internal/publisher"
	"github.com/relabs-tech/sensors_to_mqtt/internal/sensors"
	"github.com/relabs-tech/sensors_to_mqtt/internal/web"
	"github.com/sirupsen/logrus"
)

// Run modes.
const (
	ModeDaemon  = "daemon"
	ModeConsole = "console"
)

// RunOptions are the command line choices that are not part of the config
// file.
type RunOptions struct {
	Mode   string
	NoMQTT bool

	// Open and Console default to the real I²C buses and stdout.
	Open    sensors.Opener
	Console io.Writer
}

// Run brings up every configured bus and sink, then runs the acquisition
// loop until stop is set. Everything opened is closed on return.
func Run(cfg *config.Config, opts RunOptions, stop *atomic.Bool, log *logrus.Logger) error {
	switch opts.Mode {
	case "":
		opts.Mode = ModeDaemon
	case ModeDaemon, ModeConsole:
	default:
		return fmt.Errorf("%w: unknown mode %q", config.ErrInvalid, opts.Mode)
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		go func() {
			log.Infof("metrics listening on %s", cfg.Metrics.Listen)
			if err := m.Serve(cfg.Metrics.Listen); err != nil {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	buses, err := sensors.OpenBuses(cfg.Sensors, opts.Open, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := sensors.CloseBuses(buses); err != nil {
			log.Errorf("closing buses: %v", err)
		}
	}()
	if len(buses) == 0 {
		log.Warn("no sensors configured")
	}

	var sinks publisher.Multi
	if opts.NoMQTT {
		log.Info("MQTT disabled, samples are not published")
		sinks = append(sinks, publisher.NoOp{})
	} else {
		mq := publisher.DialMQTT(cfg.MQTT, Describer(buses), log)
		defer mq.Close()
		sinks = append(sinks, mq)
	}
	if log.IsLevelEnabled(logrus.DebugLevel) {
		sinks = append(sinks, publisher.Logging{Log: log})
	}
	if opts.Mode == ModeConsole {
		sinks = append(sinks, publisher.NewConsole(opts.Console))
	}

	if cfg.Display.Enabled {
		if _, ok := cfg.Device(cfg.Display.Device); !ok {
			log.Warnf("display shows %q, which is not a configured sensor", cfg.Display.Device)
		}
		d, err := display.Open(cfg.Display, opts.Open, log)
		if err != nil {
			log.Errorf("display disabled: %v", err)
		} else {
			defer d.Close()
			sinks = append(sinks, d)
		}
	}

	var hub *web.Hub
	if cfg.Web.Enabled {
		hub = web.NewHub(log)
		sinks = append(sinks, hub)
	}

	svc := NewService(buses, sinks, log, Options{
		Interval:       time.Duration(cfg.Service.UpdateIntervalMS) * time.Millisecond,
		ReconnectDelay: time.Duration(cfg.Service.ReconnectDelayMS) * time.Millisecond,
		Metrics:        m,
	})

	if hub != nil {
		srv := web.NewServer(cfg.Web.Listen, svc, hub, log)
		srv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Errorf("web shutdown: %v", err)
			}
		}()
		// Shutdown does not see hijacked websocket connections.
		defer hub.Close()
	}

	return svc.Run(stop)
}
