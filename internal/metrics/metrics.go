// Package metrics exposes Prometheus counters for the gateway peripheral.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	stateChanges     *prometheus.CounterVec
	advertisingStart *prometheus.CounterVec
	advertisingStops prometheus.Counter
	serviceRegisters *prometheus.CounterVec
	reads            prometheus.Counter
	writes           prometheus.Counter
	writeBytes       prometheus.Counter
	connects         prometheus.Counter
	disconnects      prometheus.Counter
	subscribed       prometheus.Gauge
}

// New creates the gateway collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		stateChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ble_gateway_radio_state_changes_total",
			Help: "radio state change events by reported state",
		},
			[]string{"state"},
		),
		advertisingStart: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ble_gateway_advertising_starts_total",
			Help: "advertisement start attempts by result",
		},
			[]string{"result"},
		),
		advertisingStops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ble_gateway_advertising_stops_total",
			Help: "advertisement stopped events",
		}),
		serviceRegisters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ble_gateway_service_registrations_total",
			Help: "GATT service registrations by result",
		},
			[]string{"result"},
		),
		reads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ble_gateway_characteristic_reads_total",
			Help: "read requests routed to the gateway handler; stacks that answer reads from the stored value, such as tinygo, never report them",
		}),
		writes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ble_gateway_characteristic_writes_total",
			Help: "write requests received on the gateway characteristic",
		}),
		writeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ble_gateway_characteristic_write_bytes_total",
			Help: "bytes received through characteristic writes",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ble_gateway_connects_total",
			Help: "central connect events",
		}),
		disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ble_gateway_disconnects_total",
			Help: "central disconnect events",
		}),
		subscribed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ble_gateway_subscribed",
			Help: "1 while a central is subscribed to the gateway characteristic",
		}),
	}

	m.registry.MustRegister(m.stateChanges)
	m.registry.MustRegister(m.advertisingStart)
	m.registry.MustRegister(m.advertisingStops)
	m.registry.MustRegister(m.serviceRegisters)
	m.registry.MustRegister(m.reads)
	m.registry.MustRegister(m.writes)
	m.registry.MustRegister(m.writeBytes)
	m.registry.MustRegister(m.connects)
	m.registry.MustRegister(m.disconnects)
	m.registry.MustRegister(m.subscribed)
	return m
}

// Registry returns the registry holding the gateway collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the registry on addr at path until ctx is cancelled, then
// shuts the server down. A bind failure is returned immediately.
func (m *Metrics) Serve(ctx context.Context, addr, path string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics: listen %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	slog.Info("metrics listening", "addr", ln.Addr().String(), "path", path)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics: shutdown: %w", err)
	}
	return nil
}

func (m *Metrics) StateChange(state string) {
	if m == nil {
		return
	}
	m.stateChanges.WithLabelValues(state).Inc()
}

// AdvertisingStart counts an advertisement start attempt.
func (m *Metrics) AdvertisingStart(err error) {
	if m == nil {
		return
	}
	m.advertisingStart.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) AdvertisingStop() {
	if m == nil {
		return
	}
	m.advertisingStops.Inc()
}

// ServiceRegistration counts a SetServices call.
func (m *Metrics) ServiceRegistration(err error) {
	if m == nil {
		return
	}
	m.serviceRegisters.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) Read() {
	if m == nil {
		return
	}
	m.reads.Inc()
}

// Write counts one characteristic write of n bytes.
func (m *Metrics) Write(n int) {
	if m == nil {
		return
	}
	m.writes.Inc()
	m.writeBytes.Add(float64(n))
}

func (m *Metrics) Connect() {
	if m == nil {
		return
	}
	m.connects.Inc()
}

func (m *Metrics) Disconnect() {
	if m == nil {
		return
	}
	m.disconnects.Inc()
}

// Subscribed sets the subscription gauge.
func (m *Metrics) Subscribed(on bool) {
	if m == nil {
		return
	}
	if on {
		m.subscribed.Set(1)
	} else {
		m.subscribed.Set(0)
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
