package ble

import (
	"sync"
	"testing"
)

// mockRadio records every request the peripheral makes of the host stack.
type mockRadio struct {
	mu          sync.Mutex
	starts      []Advertisement
	stops       int
	serviceSets [][]Service

	startErr error
	stopErr  error
	setErr   error
}

func (r *mockRadio) StartAdvertising(adv Advertisement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, adv)
	return r.startErr
}

func (r *mockRadio) StopAdvertising() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return r.stopErr
}

func (r *mockRadio) SetServices(services []Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serviceSets = append(r.serviceSets, services)
	return r.setErr
}

func (r *mockRadio) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts)
}

func (r *mockRadio) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

func (r *mockRadio) setCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.serviceSets)
}

// recordingHandler captures EventHandler calls in order.
type recordingHandler struct {
	mu     sync.Mutex
	events []string
}

func (h *recordingHandler) record(ev string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) OnStateChange(state RadioState) { h.record("state:" + state.String()) }
func (h *recordingHandler) OnAdvertisingStart(err error) {
	if err != nil {
		h.record("advstart:error")
		return
	}
	h.record("advstart:ok")
}
func (h *recordingHandler) OnAdvertisingStartError(err error) { h.record("advstarterror") }
func (h *recordingHandler) OnAdvertisingStop() { h.record("advstop") }
func (h *recordingHandler) OnConnect(addr string) { h.record("connect:" + addr) }
func (h *recordingHandler) OnDisconnect(addr string) { h.record("disconnect:" + addr) }

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.events))
	copy(out, h.events)
	return out
}

func TestMockRadioImplementsInterface(t *testing.T) {
	var _ Radio = (*mockRadio)(nil)
}

func TestRecordingHandlerImplementsInterface(t *testing.T) {
	var _ EventHandler = (*recordingHandler)(nil)
}
