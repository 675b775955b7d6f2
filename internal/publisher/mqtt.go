package publisher

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/relabs-tech/sensors_to_mqtt/internal/config"
	"github.com/relabs-tech/sensors_to_mqtt/internal/sensors"
	"github.com/sirupsen/logrus"
)

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Connect() mqtt.Token
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTT publishes every sample as three JSON messages:
// <base>/IMU/<name>/INFO, FILTERED and DERIVED.
type MQTT struct {
	client  Client
	base    string
	qos     byte
	retain  bool
	timeout time.Duration
	info    InfoFunc
	log     logrus.FieldLogger
}

// NewClientOptions builds the paho options for cfg. Reconnects are driven by
// the acquisition loop, so paho's own auto reconnect is off.
func NewClientOptions(cfg config.MQTTConfig, log logrus.FieldLogger) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(cfg.Broker()).
		SetClientID(cfg.ClientID).
		SetKeepAlive(time.Duration(cfg.KeepAliveS) * time.Second).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectTimeout(time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond).
		SetOnConnectHandler(func(mqtt.Client) {
			log.Infof("connected to MQTT broker at %s", cfg.Broker())
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warnf("MQTT connection lost: %v", err)
		})
}

// NewMQTT wraps client. info supplies the INFO payload metadata and may be nil.
func NewMQTT(client Client, cfg config.MQTTConfig, info InfoFunc, log logrus.FieldLogger) *MQTT {
	return &MQTT{
		client:  client,
		base:    cfg.BaseTopic,
		qos:     cfg.QoS,
		retain:  cfg.Retain,
		timeout: time.Duration(cfg.ConnectTimeoutMS) * time.Millisecond,
		info:    info,
		log:     log.WithField("component", "mqtt"),
	}
}

// DialMQTT builds a paho client for cfg and makes a first connection attempt.
// A failed attempt is logged and left to the reconnect policy.
func DialMQTT(cfg config.MQTTConfig, info InfoFunc, log logrus.FieldLogger) *MQTT {
	client := mqtt.NewClient(NewClientOptions(cfg, log))
	p := NewMQTT(client, cfg, info, log)
	if err := p.Reconnect(); err != nil {
		p.log.Warnf("initial connection failed: %v", err)
	}
	return p
}

// Publish implements Publisher.
func (p *MQTT) Publish(name string, s sensors.Sample) error {
	if !p.client.IsConnectionOpen() {
		return fmt.Errorf("%s: %w: %w", name, ErrPublish, ErrNotConnected)
	}

	var info sensors.Info
	var ok bool
	if p.info != nil {
		info, ok = p.info(name)
	}

	msgs := []struct {
		kind    string
		payload map[string]interface{}
	}{
		{KindInfo, InfoPayload(s, info, ok)},
		{KindFiltered, FilteredPayload(s)},
		{KindDerived, DerivedPayload(s)},
	}
	for _, m := range msgs {
		if err := p.send(Topic(p.base, name, m.kind), m.payload); err != nil {
			return fmt.Errorf("%s: %w: %w", name, ErrPublish, err)
		}
	}
	return nil
}

func (p *MQTT) send(topic string, payload map[string]interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("json marshal %s: %w", topic, err)
	}
	token := p.client.Publish(topic, p.qos, p.retain, data)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("%s: timed out after %s", topic, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", topic, err)
	}
	return nil
}

// IsConnected implements Publisher.
func (p *MQTT) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Reconnect makes one connection attempt bounded by the connect timeout.
func (p *MQTT) Reconnect() error {
	token := p.client.Connect()
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("%w: connect timed out after %s", ErrNotConnected, p.timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// Close disconnects, giving in-flight messages 250 ms.
func (p *MQTT) Close() {
	p.client.Disconnect(250)
}
