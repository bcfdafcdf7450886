package ble

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/http-gateway/internal/metrics"
)

func newTestTinyGoRadio(h EventHandler) *TinyGoRadio {
	return &TinyGoRadio{events: newEventQueue(), handler: h}
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		props Property
		want  bluetooth.CharacteristicPermissions
	}{
		{PropRead, bluetooth.CharacteristicReadPermission},
		{PropWrite, bluetooth.CharacteristicWritePermission},
		{PropWriteWithoutResponse, bluetooth.CharacteristicWriteWithoutResponsePermission},
		{PropNotify, bluetooth.CharacteristicNotifyPermission},
		{
			GatewayProperties,
			bluetooth.CharacteristicReadPermission |
				bluetooth.CharacteristicWritePermission |
				bluetooth.CharacteristicWriteWithoutResponsePermission,
		},
	}
	for _, tt := range tests {
		if got := permissions(tt.props); got != tt.want {
			t.Errorf("permissions(%v) = %v, want %v", tt.props, got, tt.want)
		}
	}
}

func TestToBluetoothUUID(t *testing.T) {
	u := uuid.MustParse(DefaultServiceUUID)
	bu, err := toBluetoothUUID(u)
	if err != nil {
		t.Fatalf("toBluetoothUUID() error = %v", err)
	}
	if bu.String() != DefaultServiceUUID {
		t.Errorf("String() = %q, want %q", bu.String(), DefaultServiceUUID)
	}
}

func TestEmitBeforeRunIsDropped(t *testing.T) {
	r := &TinyGoRadio{events: newEventQueue()}
	r.emit(func(h EventHandler) { h.OnAdvertisingStop() })
	if r.events.size() != 0 {
		t.Errorf("queued events = %d, want 0", r.events.size())
	}
}

func TestEmitIsSerialized(t *testing.T) {
	h := &recordingHandler{}
	r := newTestTinyGoRadio(h)

	r.emit(func(h EventHandler) { h.OnStateChange(RadioUnknown) })
	r.emit(func(h EventHandler) { h.OnStateChange(RadioPoweredOn) })
	r.emit(func(h EventHandler) { h.OnAdvertisingStart(errors.New("x")) })

	if got := h.snapshot(); len(got) != 0 {
		t.Fatalf("events ran before drain: %v", got)
	}
	r.events.runPending()

	want := []string{"state:unknown", "state:poweredOn", "advstart:error"}
	if got := h.snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestStopAdvertisingWhenIdle(t *testing.T) {
	h := &recordingHandler{}
	r := newTestTinyGoRadio(h)

	if err := r.StopAdvertising(); err != nil {
		t.Fatalf("StopAdvertising() error = %v", err)
	}
	r.events.runPending()
	if got := h.snapshot(); len(got) != 0 {
		t.Errorf("events = %v, want none", got)
	}
}

func TestCharacteristicConfig(t *testing.T) {
	h := &recordingHandler{}
	r := newTestTinyGoRadio(h)
	p := newTestPeripheral(t, &mockRadio{})

	cfg, err := r.characteristicConfig(p.Services()[0].Characteristics[0])
	if err != nil {
		t.Fatalf("characteristicConfig() error = %v", err)
	}
	if cfg.UUID.String() != DefaultCharacteristicUUID {
		t.Errorf("UUID = %s, want %s", cfg.UUID.String(), DefaultCharacteristicUUID)
	}
	if string(cfg.Value) != "abc" {
		t.Errorf("Value = %q, want %q", cfg.Value, "abc")
	}
	if cfg.Flags != permissions(GatewayProperties) {
		t.Errorf("Flags = %v, want %v", cfg.Flags, permissions(GatewayProperties))
	}
	if cfg.Handle == nil {
		t.Error("Handle should be allocated")
	}
	if cfg.WriteEvent == nil {
		t.Fatal("WriteEvent should be set for a writable characteristic")
	}
}

func TestRegistrationDoesNotCountRead(t *testing.T) {
	m := metrics.New()
	opts := DefaultPeripheralOptions()
	opts.Metrics = m
	p, err := NewPeripheral(&mockRadio{}, opts)
	if err != nil {
		t.Fatalf("NewPeripheral() error = %v", err)
	}

	r := newTestTinyGoRadio(p)
	cfg, err := r.characteristicConfig(p.Services()[0].Characteristics[0])
	if err != nil {
		t.Fatalf("characteristicConfig() error = %v", err)
	}
	if string(cfg.Value) != DefaultReadValue {
		t.Errorf("Value = %q, want %q", cfg.Value, DefaultReadValue)
	}
	if got := counterValue(t, m.Registry(), "ble_gateway_characteristic_reads_total"); got != 0 {
		t.Errorf("reads = %v, want 0 after registration", got)
	}
}

func TestHandlerWithoutValueLeavesValueEmpty(t *testing.T) {
	r := newTestTinyGoRadio(&recordingHandler{})

	cfg, err := r.characteristicConfig(Characteristic{
		UUID:       uuid.MustParse(DefaultCharacteristicUUID),
		Properties: PropRead,
		Handler:    &writeCapture{},
	})
	if err != nil {
		t.Fatalf("characteristicConfig() error = %v", err)
	}
	if cfg.Value != nil {
		t.Errorf("Value = %q, want nil", cfg.Value)
	}
}

// writeCapture is a CharacteristicHandler that records writes.
type writeCapture struct {
	writes          [][]byte
	withoutResponse []bool
}

func (w *writeCapture) OnRead(int) (Result, []byte) { return ResultSuccess, nil }
func (w *writeCapture) OnSubscribe(int, NotifyFunc) {}
func (w *writeCapture) OnUnsubscribe() {}
func (w *writeCapture) OnWrite(data []byte, _ int, withoutResponse bool) Result {
	w.writes = append(w.writes, data)
	w.withoutResponse = append(w.withoutResponse, withoutResponse)
	return ResultSuccess
}

func TestWriteEventIsQueuedAndCopied(t *testing.T) {
	r := newTestTinyGoRadio(&recordingHandler{})
	capture := &writeCapture{}

	cfg, err := r.characteristicConfig(Characteristic{
		UUID:       uuid.MustParse(DefaultCharacteristicUUID),
		Properties: PropWrite,
		Handler:    capture,
	})
	if err != nil {
		t.Fatalf("characteristicConfig() error = %v", err)
	}

	buf := []byte("hello")
	var client bluetooth.Connection
	cfg.WriteEvent(client, 0, buf)
	buf[0] = 'j'

	if len(capture.writes) != 0 {
		t.Fatal("write delivered before the queue was drained")
	}
	r.events.runPending()

	if len(capture.writes) != 1 || string(capture.writes[0]) != "hello" {
		t.Errorf("writes = %q, want [hello]", capture.writes)
	}
}

func TestReadOnlyCharacteristicHasNoWriteEvent(t *testing.T) {
	r := newTestTinyGoRadio(&recordingHandler{})

	cfg, err := r.characteristicConfig(Characteristic{
		UUID:       uuid.MustParse(DefaultCharacteristicUUID),
		Properties: PropRead,
		Handler:    &writeCapture{},
	})
	if err != nil {
		t.Fatalf("characteristicConfig() error = %v", err)
	}
	if cfg.WriteEvent != nil {
		t.Error("WriteEvent should be nil for a read-only characteristic")
	}
}

func TestWriteProcedureReported(t *testing.T) {
	tests := []struct {
		name  string
		props Property
		want  bool
	}{
		{"write only", PropWrite, false},
		{"write without response only", PropWriteWithoutResponse, true},
		// Both procedures allowed: the stack cannot tell them apart.
		{"gateway", GatewayProperties, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestTinyGoRadio(&recordingHandler{})
			capture := &writeCapture{}
			cfg, err := r.characteristicConfig(Characteristic{
				UUID:       uuid.MustParse(DefaultCharacteristicUUID),
				Properties: tt.props,
				Handler:    capture,
			})
			if err != nil {
				t.Fatalf("characteristicConfig() error = %v", err)
			}

			var client bluetooth.Connection
			cfg.WriteEvent(client, 0, []byte("x"))
			r.events.runPending()

			if len(capture.withoutResponse) != 1 || capture.withoutResponse[0] != tt.want {
				t.Errorf("withoutResponse = %v, want [%v]", capture.withoutResponse, tt.want)
			}
		})
	}
}
