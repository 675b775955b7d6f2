// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/relabs-tech/sensors_to_mqtt/internal/app"
	"github.com/relabs-tech/sensors_to_mqtt/internal/config"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to configuration file")
	mode := flag.String("mode", app.ModeDaemon, "run mode: daemon or console")
	logLevel := flag.String("log-level", "info", "log level: trace, debug, info, warn, error")
	interval := flag.Int("interval", 0, "update interval in ms (overrides config)")
	noMQTT := flag.Bool("no-mqtt", false, "do not publish to MQTT")
	mqttHost := flag.String("mqtt-host", "", "MQTT broker host (overrides config)")
	mqttPort := flag.Int("mqtt-port", 0, "MQTT broker port (overrides config)")
	flag.Parse()

	log, err := app.NewLogger(*logLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level: %v\n", err)
		os.Exit(2)
	}

	log.Infof("starting sensors_to_mqtt (%s mode)", *mode)

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	if err := cfg.ApplyOverrides(config.Overrides{
		UpdateIntervalMS: *interval,
		MQTTHost:         *mqttHost,
		MQTTPort:         *mqttPort,
	}); err != nil {
		log.Fatalf("invalid command line: %v", err)
	}

	stop, _ := app.StopOnSignal(log)
	if err := app.Run(cfg, app.RunOptions{Mode: *mode, NoMQTT: *noMQTT}, stop, log); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	log.Info("stopped")
}
