package app

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/relabs-tech/sensors_to_mqtt/internal/config"
	"github.com/relabs-tech/sensors_to_mqtt/internal/publisher"
	"github.com/sirupsen/logrus"
)

// RunConsoleMQTT subscribes to the DERIVED topic of every sensor under the
// configured base and prints one line per message until done is closed.
func RunConsoleMQTT(cfg config.MQTTConfig, w io.Writer, done <-chan struct{}, log logrus.FieldLogger) error {
	log = log.WithField("component", "console")
	cfg.ClientID += "-console"
	opts := publisher.NewClientOptions(cfg, log).SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect %s: %w", cfg.Broker(), token.Error())
	}
	defer client.Disconnect(250)

	topic := publisher.Topic(cfg.BaseTopic, "+", publisher.KindDerived)
	token := client.Subscribe(topic, cfg.QoS, DerivedHandler(w, log))
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", topic, token.Error())
	}
	log.Infof("subscribed to %s", topic)

	<-done
	log.Info("shutting down")
	return nil
}

// DerivedHandler prints DERIVED payloads.
func DerivedHandler(w io.Writer, log logrus.FieldLogger) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		_, name, _, ok := publisher.ParseTopic(msg.Topic())
		if !ok {
			log.Warnf("unexpected topic %s", msg.Topic())
			return
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
			log.Errorf("%s: payload unmarshal error: %v", name, err)
			return
		}
		fmt.Fprintln(w, FormatDerived(name, payload))
	}
}

// FormatDerived renders a DERIVED payload on one line: angles first, then
// the remaining keys in name order.
func FormatDerived(name string, payload map[string]interface{}) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s]", name)
	if ts, ok := payload["timestamp"].(string); ok {
		fmt.Fprintf(&sb, " %s", ts)
	}

	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k != "timestamp" {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		ai, aj := strings.HasSuffix(keys[i], "_angle"), strings.HasSuffix(keys[j], "_angle")
		if ai != aj {
			return ai
		}
		return keys[i] < keys[j]
	})

	for _, k := range keys {
		if v, ok := payload[k].(float64); ok {
			fmt.Fprintf(&sb, "  %s=%7.2f", k, v)
		}
	}
	return sb.String()
}
