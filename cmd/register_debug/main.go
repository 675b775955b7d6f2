// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/relabs-tech/sensors_to_mqtt/internal/app"
	"github.com/relabs-tech/sensors_to_mqtt/internal/config"
	"github.com/relabs-tech/sensors_to_mqtt/internal/sensors"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to configuration file")
	device := flag.String("device", "", "configured device to dump (default: first mpu6500)")
	busName := flag.String("bus", "", "I2C bus, bypasses the config file")
	addr := flag.Uint("addr", sensors.DefaultMPU6500Addr, "device address when -bus is given")
	asJSON := flag.Bool("json", false, "print JSON instead of text")
	flag.Parse()

	log, _ := app.NewLogger("info", os.Stderr)

	bus, address := *busName, uint16(*addr)
	if bus == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		var ok bool
		if bus, address, ok = pick(cfg, *device); !ok {
			log.Fatalf("no mpu6500 device %q in %s", *device, *configPath)
		}
	}

	handle, err := sensors.OpenI2C(bus)
	if err != nil {
		log.Fatalf("open %s: %v", bus, err)
	}
	defer handle.Close()

	log.Infof("dumping MPU6500 registers at 0x%02X on %s", address, bus)
	regs, err := sensors.DumpRegisters(handle, address)
	if err != nil {
		log.Errorf("register dump incomplete: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(regs); err != nil {
			log.Fatalf("json encode error: %v", err)
		}
		return
	}
	for _, r := range regs {
		fmt.Println(r)
	}
}

// pick finds the bus and address of the named device, or of the first
// mpu6500 when name is empty.
func pick(cfg *config.Config, name string) (string, uint16, bool) {
	for _, b := range cfg.Sensors {
		for _, d := range b.Devices {
			if d.Driver != "mpu6500" || (name != "" && d.Name != name) {
				continue
			}
			addr := d.Address
			if addr == 0 {
				addr = sensors.DefaultMPU6500Addr
			}
			return b.Bus, addr, true
		}
	}
	return "", 0, false
}
