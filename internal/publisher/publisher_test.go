package publisher

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/relabs-tech/sensors_to_mqtt/internal/config"
	"github.com/relabs-tech/sensors_to_mqtt/internal/sensors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// token is a completed mqtt.Token.
type token struct {
	err      error
	timedOut bool
}

func (t *token) Wait() bool                     { return !t.timedOut }
func (t *token) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *token) Error() error                   { return t.err }
func (t *token) Done() <-chan struct{}          { c := make(chan struct{}); close(c); return c }

type message struct {
	topic    string
	qos      byte
	retained bool
	payload  map[string]interface{}
}

type fakeClient struct {
	mu         sync.Mutex
	open       bool
	connectErr error
	publishErr error
	connects   int
	sent       []message
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr != nil {
		return &token{err: c.connectErr}
	}
	c.open = true
	return &token{}
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return &token{err: c.publishErr}
	}
	var p map[string]interface{}
	if err := json.Unmarshal(payload.([]byte), &p); err != nil {
		return &token{err: err}
	}
	c.sent = append(c.sent, message{topic, qos, retained, p})
	return &token{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
}

func quietLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

var when = time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

func imuSample() sensors.Sample {
	return sensors.Sample{
		Timestamp:  when,
		Device:     "front",
		SampleRate: 100,
		Values: map[string]float64{
			"accel_raw_x": 0.01, "accel_raw_y": -0.02, "accel_raw_z": 1.0,
			"accel_x": 0.1, "accel_y": 0.2, "accel_z": 1.1,
			"g_force_x": 0.1, "g_force_y": 0.2, "g_force_z": 1.1,
			"gyro_x": 1, "gyro_y": 2, "gyro_z": 3,
			"roll_rate": 1, "pitch_rate": 2, "yaw_rate": 3,
			"lean_angle": 5, "bank_angle": -3,
		},
	}
}

func mqttConfig() config.MQTTConfig {
	cfg := config.Default().MQTT
	cfg.BaseTopic = "bike"
	cfg.QoS = 1
	return cfg
}

func frontInfo(name string) (sensors.Info, bool) {
	if name != "front" {
		return sensors.Info{}, false
	}
	return sensors.Info{
		Device: "front", Driver: "mpu6500", Address: 0x68, SampleRate: 100,
		AccelRange: 16, GyroRange: 2000,
		FilterInfo: map[string]float64{"accel_process_noise": 0.0001},
		Summary:    "front MPU6500 IMU (addr: 0x68) - Accel: ±16g, Gyro: ±2000°/s",
	}, true
}

func TestTopic(t *testing.T) {
	if got := Topic("bike", "front", KindDerived); got != "bike/IMU/front/DERIVED" {
		t.Errorf("Topic = %q", got)
	}

	tests := []struct {
		topic            string
		base, name, kind string
		ok               bool
	}{
		{"bike/IMU/front/DERIVED", "bike", "front", "DERIVED", true},
		{"home/garage/IMU/rear/INFO", "home/garage", "rear", "INFO", true},
		{"bike/front/DERIVED", "", "", "", false},
		{"bike/ENV/front/DERIVED", "", "", "", false},
	}
	for _, tc := range tests {
		base, name, kind, ok := ParseTopic(tc.topic)
		if base != tc.base || name != tc.name || kind != tc.kind || ok != tc.ok {
			t.Errorf("ParseTopic(%q) = %q %q %q %t", tc.topic, base, name, kind, ok)
		}
	}
}

func TestMQTTPublish(t *testing.T) {
	c := &fakeClient{open: true}
	p := NewMQTT(c, mqttConfig(), frontInfo, quietLogger())
	if err := p.Publish("front", imuSample()); err != nil {
		t.Fatal(err)
	}
	if len(c.sent) != 3 {
		t.Fatalf("sent %d messages, want 3", len(c.sent))
	}

	topics := []string{"bike/IMU/front/INFO", "bike/IMU/front/FILTERED", "bike/IMU/front/DERIVED"}
	for i, m := range c.sent {
		if m.topic != topics[i] || m.qos != 1 || m.retained {
			t.Errorf("message %d = %s qos=%d retained=%v", i, m.topic, m.qos, m.retained)
		}
		if m.payload["timestamp"] != when.Format(time.RFC3339Nano) {
			t.Errorf("%s timestamp = %v", m.topic, m.payload["timestamp"])
		}
	}

	info := c.sent[0].payload
	if info["device"] != "front" || info["sample_rate"] != 100.0 || info["accel_range"] != 16.0 || info["gyro_range"] != 2000.0 {
		t.Errorf("INFO = %v", info)
	}
	if fi, ok := info["filter_info"].(map[string]interface{}); !ok || fi["accel_process_noise"] != 0.0001 {
		t.Errorf("INFO filter_info = %v", info["filter_info"])
	}

	filtered := c.sent[1].payload
	if len(filtered) != 18 || filtered["accel_raw_z"] != 1.0 {
		t.Errorf("FILTERED = %v", filtered)
	}

	derived := c.sent[2].payload
	want := []string{"bank_angle", "g_force_x", "g_force_y", "g_force_z", "lean_angle", "pitch_rate", "roll_rate", "timestamp", "yaw_rate"}
	if len(derived) != len(want) {
		t.Errorf("DERIVED keys = %v", derived)
	}
	for _, k := range want {
		if _, ok := derived[k]; !ok {
			t.Errorf("DERIVED misses %s", k)
		}
	}
}

func TestInfoWithoutMetadata(t *testing.T) {
	p := InfoPayload(imuSample(), sensors.Info{}, false)
	if len(p) != 3 || p["device"] != "front" || p["sample_rate"] != 100 {
		t.Errorf("INFO = %v", p)
	}
}

func TestMQTTNotConnected(t *testing.T) {
	c := &fakeClient{}
	p := NewMQTT(c, mqttConfig(), nil, quietLogger())
	err := p.Publish("front", imuSample())
	if !errors.Is(err, ErrPublish) || !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v", err)
	}
	if len(c.sent) != 0 {
		t.Errorf("sent %d messages while disconnected", len(c.sent))
	}
}

func TestMQTTPublishError(t *testing.T) {
	c := &fakeClient{open: true, publishErr: errors.New("broker said no")}
	p := NewMQTT(c, mqttConfig(), nil, quietLogger())
	if err := p.Publish("front", imuSample()); !errors.Is(err, ErrPublish) {
		t.Errorf("err = %v, want ErrPublish", err)
	}
}

func TestMQTTReconnect(t *testing.T) {
	c := &fakeClient{connectErr: errors.New("connection refused")}
	p := NewMQTT(c, mqttConfig(), nil, quietLogger())
	if err := p.Reconnect(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
	if p.IsConnected() {
		t.Error("connected after failed attempt")
	}

	c.connectErr = nil
	if err := p.Reconnect(); err != nil {
		t.Fatal(err)
	}
	if !p.IsConnected() || c.connects != 2 {
		t.Errorf("connected=%v connects=%d", p.IsConnected(), c.connects)
	}
	p.Close()
	if p.IsConnected() {
		t.Error("connected after Close")
	}
}

func TestClientOptions(t *testing.T) {
	opts := NewClientOptions(mqttConfig(), quietLogger())
	if opts.ClientID != "sensors-to-mqtt" || !opts.CleanSession || opts.AutoReconnect {
		t.Errorf("options = id %q clean %v auto %v", opts.ClientID, opts.CleanSession, opts.AutoReconnect)
	}
	if opts.KeepAlive != 20 {
		t.Errorf("keep alive = %d s", opts.KeepAlive)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://localhost:1883" {
		t.Errorf("servers = %v", opts.Servers)
	}
}

func TestLoggingPublisher(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.TraceLevel)
	p := Logging{Log: log}
	if err := p.Publish("front", imuSample()); err != nil {
		t.Fatal(err)
	}
	if n := len(hook.AllEntries()); n != 1+17 {
		t.Errorf("log entries = %d, want 18", n)
	}
	if !p.IsConnected() || p.Reconnect() != nil {
		t.Error("logging publisher should always be connected")
	}
}

func TestConsolePublisher(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)
	if err := c.Publish("front", imuSample()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Device: front @ 15:09:26.000", "Lateral:  0.100 G", "Yaw:      3.00°/s", "Lean Angle:   5.00°"} {
		if !strings.Contains(out, want) {
			t.Errorf("console output misses %q:\n%s", want, out)
		}
	}

	buf.Reset()
	env := sensors.Sample{Timestamp: when, Values: map[string]float64{"temperature_c": 21.5}}
	if err := c.Publish("cabin", env); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "temperature_c") {
		t.Errorf("env output = %q", buf.String())
	}
}

// flaky is a sink with scripted state.
type flaky struct {
	connected  bool
	publishErr error
	published  int
	reconnects int
}

func (f *flaky) Publish(string, sensors.Sample) error { f.published++; return f.publishErr }
func (f *flaky) IsConnected() bool                    { return f.connected }
func (f *flaky) Reconnect() error                     { f.reconnects++; f.connected = true; return nil }

func TestMulti(t *testing.T) {
	a := &flaky{connected: true, publishErr: errors.New("a failed")}
	b := &flaky{connected: false}
	m := Multi{a, b, NoOp{}}

	if err := m.Publish("front", imuSample()); err == nil || !strings.Contains(err.Error(), "a failed") {
		t.Errorf("err = %v", err)
	}
	if a.published != 1 || b.published != 1 {
		t.Errorf("published = %d/%d, want every sink once", a.published, b.published)
	}
	if m.IsConnected() {
		t.Error("Multi connected with a disconnected sink")
	}
	if err := m.Reconnect(); err != nil {
		t.Fatal(err)
	}
	if a.reconnects != 0 || b.reconnects != 1 || !m.IsConnected() {
		t.Errorf("reconnects = %d/%d", a.reconnects, b.reconnects)
	}
}
