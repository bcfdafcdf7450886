package ble

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/chaz8081/http-gateway/internal/metrics"
)

// ErrNilRadio is returned by NewPeripheral when no radio is supplied.
var ErrNilRadio = errors.New("ble: radio must not be nil")

// State is the peripheral's advertisement lifecycle.
type State int

const (
	StateIdle State = iota
	StateAdvertising
	StateServing
)

func (s State) String() string {
	switch s {
	case StateAdvertising:
		return "advertising"
	case StateServing:
		return "serving"
	default:
		return "idle"
	}
}

// GatewayProperties are the capabilities of the gateway characteristic.
const GatewayProperties = PropRead | PropWrite | PropWriteWithoutResponse

// PeripheralOptions configures the gateway peripheral.
type PeripheralOptions struct {
	DeviceName          string
	ServiceUUID         uuid.UUID
	CharacteristicUUID  uuid.UUID
	AdvertisingInterval time.Duration
	ReadValue           []byte
	Metrics             *metrics.Metrics // optional
}

// DefaultPeripheralOptions returns the http-gateway identity.
func DefaultPeripheralOptions() PeripheralOptions {
	return PeripheralOptions{
		DeviceName:          DefaultDeviceName,
		ServiceUUID:         uuid.MustParse(DefaultServiceUUID),
		CharacteristicUUID:  uuid.MustParse(DefaultCharacteristicUUID),
		AdvertisingInterval: DefaultAdvertisingInterval,
		ReadValue:           []byte(DefaultReadValue),
	}
}

// Peripheral bridges radio lifecycle events to advertisement and service
// registration, and serves the gateway characteristic. It implements both
// EventHandler and CharacteristicHandler.
type Peripheral struct {
	radio Radio
	opts  PeripheralOptions

	// mu protects state, notify and maxValueSize. Radio calls are made
	// without holding it.
	mu           sync.Mutex
	state        State
	notify       NotifyFunc
	maxValueSize int
}

var (
	_ EventHandler          = (*Peripheral)(nil)
	_ CharacteristicHandler = (*Peripheral)(nil)
	_ ValueProvider         = (*Peripheral)(nil)
)

// NewPeripheral creates the gateway peripheral on top of radio.
func NewPeripheral(radio Radio, opts PeripheralOptions) (*Peripheral, error) {
	if radio == nil {
		return nil, ErrNilRadio
	}
	if opts.DeviceName == "" {
		return nil, fmt.Errorf("ble: device name must not be empty")
	}
	if opts.ServiceUUID == uuid.Nil {
		return nil, fmt.Errorf("ble: service UUID must not be nil")
	}
	if opts.CharacteristicUUID == uuid.Nil {
		return nil, fmt.Errorf("ble: characteristic UUID must not be nil")
	}
	if opts.AdvertisingInterval <= 0 {
		opts.AdvertisingInterval = DefaultAdvertisingInterval
	}
	if opts.ReadValue == nil {
		opts.ReadValue = []byte(DefaultReadValue)
	}
	return &Peripheral{radio: radio, opts: opts}, nil
}

// State returns the current advertisement lifecycle state.
func (p *Peripheral) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peripheral) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Advertisement returns what the peripheral asks the radio to broadcast.
func (p *Peripheral) Advertisement() Advertisement {
	return Advertisement{
		LocalName:    p.opts.DeviceName,
		ServiceUUIDs: []uuid.UUID{p.opts.ServiceUUID},
		Interval:     p.opts.AdvertisingInterval,
	}
}

// Services returns the service descriptor registered after advertising starts.
func (p *Peripheral) Services() []Service {
	return []Service{{
		UUID: p.opts.ServiceUUID,
		Characteristics: []Characteristic{{
			UUID:       p.opts.CharacteristicUUID,
			Properties: GatewayProperties,
			Handler:    p,
		}},
	}}
}

func (p *Peripheral) OnStateChange(state RadioState) {
	slog.Debug("[BLE] state change", "state", state)
	p.opts.Metrics.StateChange(state.String())

	if state != RadioPoweredOn {
		if err := p.radio.StopAdvertising(); err != nil {
			slog.Error("[BLE] could not stop advertising", "error", err)
		}
		p.setState(StateIdle)
		return
	}

	adv := p.Advertisement()
	if err := p.radio.StartAdvertising(adv); err != nil {
		slog.Error("[BLE] could not start advertising", "name", adv.LocalName, "error", err)
		return
	}
	p.setState(StateAdvertising)
}

func (p *Peripheral) OnAdvertisingStart(err error) {
	p.opts.Metrics.AdvertisingStart(err)
	if err != nil {
		slog.Debug("[BLE] advertising start", "result", "error", "error", err)
		p.setState(StateIdle)
		return
	}
	slog.Debug("[BLE] advertising start", "result", "success")

	slog.Info("[BLE] setup services", "service", p.opts.ServiceUUID, "characteristic", p.opts.CharacteristicUUID)
	err = p.radio.SetServices(p.Services())
	p.opts.Metrics.ServiceRegistration(err)
	if err != nil {
		slog.Error("[BLE] error creating services", "error", err)
		return
	}
	p.setState(StateServing)
}

func (p *Peripheral) OnAdvertisingStartError(err error) {
	slog.Debug("[BLE] advertising start error", "error", err)
}

func (p *Peripheral) OnAdvertisingStop() {
	p.opts.Metrics.AdvertisingStop()
	slog.Debug("[BLE] advertising stopped")
}

func (p *Peripheral) OnConnect(addr string) {
	p.opts.Metrics.Connect()
	slog.Debug("[BLE] connect", "addr", addr)
}

func (p *Peripheral) OnDisconnect(addr string) {
	p.opts.Metrics.Disconnect()
	slog.Debug("[BLE] disconnect", "addr", addr)
}

// OnRead always succeeds with the placeholder value, whatever the offset.
func (p *Peripheral) OnRead(offset int) (Result, []byte) {
	p.opts.Metrics.Read()
	if offset == 0 {
		slog.Debug("[BLE] read characteristic")
	}
	return ResultSuccess, p.Value()
}

// Value returns a copy of the placeholder read value without counting a read.
func (p *Peripheral) Value() []byte {
	value := make([]byte, len(p.opts.ReadValue))
	copy(value, p.opts.ReadValue)
	return value
}

// OnWrite logs the payload as text and always succeeds. Nothing is retained.
func (p *Peripheral) OnWrite(data []byte, offset int, withoutResponse bool) Result {
	p.opts.Metrics.Write(len(data))
	slog.Debug("[BLE] got write", "offset", offset, "without_response", withoutResponse, "raw", hex.EncodeToString(data))

	msg := string(data)
	if !utf8.ValidString(msg) {
		slog.Warn("[BLE] write is not valid UTF-8", "bytes", len(data))
	}
	slog.Info("[BLE] write", "bytes", len(data), "text", msg)
	return ResultSuccess
}

func (p *Peripheral) OnSubscribe(maxValueSize int, notify NotifyFunc) {
	slog.Debug("[BLE] subscribe characteristic", "max_value_size", maxValueSize)
	p.mu.Lock()
	p.notify = notify
	p.maxValueSize = maxValueSize
	p.mu.Unlock()
	p.opts.Metrics.Subscribed(notify != nil)
}

func (p *Peripheral) OnUnsubscribe() {
	slog.Debug("[BLE] unsubscribe characteristic")
	p.mu.Lock()
	p.notify = nil
	p.maxValueSize = 0
	p.mu.Unlock()
	p.opts.Metrics.Subscribed(false)
}

// NotifyCallback returns the callback stored by the last subscribe, or nil
// when no central is subscribed.
func (p *Peripheral) NotifyCallback() NotifyFunc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notify
}

// Subscribed reports whether a central is subscribed, and the maximum value
// size it negotiated.
func (p *Peripheral) Subscribed() (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.notify != nil, p.maxValueSize
}
