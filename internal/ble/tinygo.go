package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// TinyGoRadio wraps tinygo-org/bluetooth as the host stack for the
// peripheral. Every EventHandler and CharacteristicHandler call is funnelled
// through one queue drained by Run, so handlers never run concurrently and
// never re-enter the radio from inside a radio call.
//
// tinygo/bluetooth serves reads from the stored characteristic value and
// does not report subscriptions for characteristics without notify, so the
// read value is taken once at registration through ValueProvider, OnRead is
// never called and OnSubscribe is never sent.
type TinyGoRadio struct {
	adapter *bluetooth.Adapter
	events  *eventQueue

	// mu protects handler and adv.
	mu      sync.Mutex
	handler EventHandler
	adv     *bluetooth.Advertisement
}

// Compile-time check that TinyGoRadio implements Radio.
var _ Radio = (*TinyGoRadio)(nil)

// NewTinyGoRadio creates a radio backed by the default system adapter.
func NewTinyGoRadio() *TinyGoRadio {
	return &TinyGoRadio{
		adapter: bluetooth.DefaultAdapter,
		events:  newEventQueue(),
	}
}

// Run enables the adapter and delivers events to h until ctx is cancelled.
// On cancellation h sees a final poweredOff so advertising is stopped.
func (r *TinyGoRadio) Run(ctx context.Context, h EventHandler) error {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()

	r.emit(func(h EventHandler) { h.OnStateChange(RadioUnknown) })

	if err := r.adapter.Enable(); err != nil {
		r.emit(func(h EventHandler) { h.OnStateChange(RadioUnsupported) })
		r.events.runPending()
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addr := device.Address.String()
		r.emit(func(h EventHandler) {
			if connected {
				h.OnConnect(addr)
			} else {
				h.OnDisconnect(addr)
			}
		})
	})

	r.emit(func(h EventHandler) { h.OnStateChange(RadioPoweredOn) })
	r.events.run(ctx)

	r.emit(func(h EventHandler) { h.OnStateChange(RadioPoweredOff) })
	r.events.runPending()
	return nil
}

// emit queues fn for the registered handler. Events before Run are dropped.
func (r *TinyGoRadio) emit(fn func(EventHandler)) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h == nil {
		return
	}
	r.events.post(func() { fn(h) })
}

func (r *TinyGoRadio) StartAdvertising(adv Advertisement) error {
	serviceUUIDs := make([]bluetooth.UUID, 0, len(adv.ServiceUUIDs))
	for _, u := range adv.ServiceUUIDs {
		bu, err := toBluetoothUUID(u)
		if err != nil {
			return err
		}
		serviceUUIDs = append(serviceUUIDs, bu)
	}

	a := r.adapter.DefaultAdvertisement()
	err := a.Configure(bluetooth.AdvertisementOptions{
		LocalName:    adv.LocalName,
		ServiceUUIDs: serviceUUIDs,
		Interval:     bluetooth.NewDuration(adv.Interval),
	})
	if err == nil {
		err = a.Start()
	}
	if err != nil {
		err = fmt.Errorf("ble: start advertising: %w", err)
		r.emit(func(h EventHandler) { h.OnAdvertisingStartError(err) })
		r.emit(func(h EventHandler) { h.OnAdvertisingStart(err) })
		return err
	}

	r.mu.Lock()
	r.adv = a
	r.mu.Unlock()

	slog.Info("[BLE] advertising", "name", adv.LocalName, "interval", adv.Interval)
	r.emit(func(h EventHandler) { h.OnAdvertisingStart(nil) })
	return nil
}

// StopAdvertising is a no-op when nothing is being advertised.
func (r *TinyGoRadio) StopAdvertising() error {
	r.mu.Lock()
	a := r.adv
	r.adv = nil
	r.mu.Unlock()

	if a == nil {
		return nil
	}
	if err := a.Stop(); err != nil {
		return fmt.Errorf("ble: stop advertising: %w", err)
	}
	r.emit(func(h EventHandler) { h.OnAdvertisingStop() })
	return nil
}

func (r *TinyGoRadio) SetServices(services []Service) error {
	for _, svc := range services {
		svcUUID, err := toBluetoothUUID(svc.UUID)
		if err != nil {
			return err
		}

		chars := make([]bluetooth.CharacteristicConfig, 0, len(svc.Characteristics))
		for _, c := range svc.Characteristics {
			cfg, err := r.characteristicConfig(c)
			if err != nil {
				return err
			}
			chars = append(chars, cfg)
		}

		if err := r.adapter.AddService(&bluetooth.Service{
			UUID:            svcUUID,
			Characteristics: chars,
		}); err != nil {
			return fmt.Errorf("ble: add service %s: %w", svc.UUID, err)
		}
	}
	return nil
}

func (r *TinyGoRadio) characteristicConfig(c Characteristic) (bluetooth.CharacteristicConfig, error) {
	charUUID, err := toBluetoothUUID(c.UUID)
	if err != nil {
		return bluetooth.CharacteristicConfig{}, err
	}

	cfg := bluetooth.CharacteristicConfig{
		Handle: new(bluetooth.Characteristic),
		UUID:   charUUID,
		Flags:  permissions(c.Properties),
	}

	h := c.Handler
	if h == nil {
		return cfg, nil
	}

	if vp, ok := h.(ValueProvider); ok && c.Properties.Has(PropRead) {
		cfg.Value = vp.Value()
	}

	if c.Properties&(PropWrite|PropWriteWithoutResponse) != 0 {
		// The stack does not say which write procedure the central used, so a
		// characteristic accepting both is reported as write-with-response.
		withoutResponse := !c.Properties.Has(PropWrite)
		cfg.WriteEvent = func(_ bluetooth.Connection, offset int, value []byte) {
			data := make([]byte, len(value))
			copy(data, value)
			r.events.post(func() {
				if res := h.OnWrite(data, offset, withoutResponse); res != ResultSuccess {
					slog.Debug("[BLE] write rejected", "result", res)
				}
			})
		}
	}
	return cfg, nil
}

func permissions(p Property) bluetooth.CharacteristicPermissions {
	var flags bluetooth.CharacteristicPermissions
	if p.Has(PropRead) {
		flags |= bluetooth.CharacteristicReadPermission
	}
	if p.Has(PropWrite) {
		flags |= bluetooth.CharacteristicWritePermission
	}
	if p.Has(PropWriteWithoutResponse) {
		flags |= bluetooth.CharacteristicWriteWithoutResponsePermission
	}
	if p.Has(PropNotify) {
		flags |= bluetooth.CharacteristicNotifyPermission
	}
	return flags
}

func toBluetoothUUID(u uuid.UUID) (bluetooth.UUID, error) {
	bu, err := bluetooth.ParseUUID(u.String())
	if err != nil {
		return bluetooth.UUID{}, fmt.Errorf("ble: parse UUID %s: %w", u, err)
	}
	return bu, nil
}
