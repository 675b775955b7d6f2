// Package metrics exposes the acquisition loop counters to Prometheus.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sensors_to_mqtt"

// Metrics holds the collectors on their own registry. A nil *Metrics
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	ticks         prometheus.Counter
	tickDuration  prometheus.Histogram
	samples       *prometheus.CounterVec
	readErrors    *prometheus.CounterVec
	publishErrors *prometheus.CounterVec
	reconnects    *prometheus.CounterVec
	connected     prometheus.Gauge
	sensorValue   *prometheus.GaugeVec
	sensorEnabled *prometheus.GaugeVec
	calibrations  *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Acquisition loop iterations.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Time spent reading and publishing within one tick.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Samples handed to the publisher.",
		}, []string{"device"}),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_errors_total",
			Help:      "Dropped samples because the device read failed.",
		}, []string{"device"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Samples the publisher failed to emit.",
		}, []string{"device"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Publisher reconnect attempts by result.",
		}, []string{"result"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "publisher_connected",
			Help:      "1 when the publisher reports a connection.",
		}),
		sensorValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_value",
			Help:      "Last published value per device and key.",
		}, []string{"device", "key"}),
		sensorEnabled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_enabled",
			Help:      "1 when the device is read each tick.",
		}, []string{"device"}),
		calibrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibrations_total",
			Help:      "Recalibrations by device and result.",
		}, []string{"device", "result"}),
	}
	m.Registry.MustRegister(
		m.ticks, m.tickDuration, m.samples, m.readErrors, m.publishErrors,
		m.reconnects, m.connected, m.sensorValue, m.sensorEnabled, m.calibrations,
	)
	return m
}

// Tick records one loop iteration that took d.
func (m *Metrics) Tick(d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

// Sample records a sample handed to the publisher and its values.
func (m *Metrics) Sample(device string, values map[string]float64) {
	if m == nil {
		return
	}
	m.samples.WithLabelValues(device).Inc()
	for k, v := range values {
		m.sensorValue.WithLabelValues(device, k).Set(v)
	}
}

// ReadError records a dropped sample.
func (m *Metrics) ReadError(device string) {
	if m == nil {
		return
	}
	m.readErrors.WithLabelValues(device).Inc()
}

// PublishError records a failed emission.
func (m *Metrics) PublishError(device string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(device).Inc()
}

// Reconnect records one attempt.
func (m *Metrics) Reconnect(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.reconnects.WithLabelValues(result).Inc()
}

// Connected mirrors the publisher state.
func (m *Metrics) Connected(ok bool) {
	if m == nil {
		return
	}
	m.connected.Set(boolValue(ok))
}

// Enabled mirrors a device's enabled flag.
func (m *Metrics) Enabled(device string, ok bool) {
	if m == nil {
		return
	}
	m.sensorEnabled.WithLabelValues(device).Set(boolValue(ok))
}

// Calibration records one recalibration.
func (m *Metrics) Calibration(device string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.calibrations.WithLabelValues(device, result).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on listen until the server fails.
func (m *Metrics) Serve(listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	err := http.ListenAndServe(listen, mux)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func boolValue(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
