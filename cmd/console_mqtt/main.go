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
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	log, err := app.NewLogger(*logLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level: %v\n", err)
		os.Exit(2)
	}
	log.Info("starting sensors_to_mqtt console (MQTT subscriber)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	_, done := app.StopOnSignal(log)
	if err := app.RunConsoleMQTT(config.Get().MQTT, os.Stdout, done, log); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
