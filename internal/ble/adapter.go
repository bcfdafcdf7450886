// Package ble provides the BLE peripheral side of the http-gateway. It
// advertises a single GATT service, echoes whatever a central writes to the
// gateway characteristic, and drives advertisement from radio state events.
package ble

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Default http-gateway identity.
const (
	DefaultDeviceName          = "http-gateway"
	DefaultServiceUUID         = "16ba0001-cf44-461e-b889-4f9a90f6b330"
	DefaultCharacteristicUUID  = "16ba0002-cf44-461e-b889-4f9a90f6b330"
	DefaultAdvertisingInterval = time.Second
	DefaultReadValue           = "abc"
)

// RadioState is the power state reported by the host BLE radio.
type RadioState int

const (
	RadioUnknown RadioState = iota
	RadioResetting
	RadioUnsupported
	RadioUnauthorized
	RadioPoweredOff
	RadioPoweredOn
)

func (s RadioState) String() string {
	switch s {
	case RadioResetting:
		return "resetting"
	case RadioUnsupported:
		return "unsupported"
	case RadioUnauthorized:
		return "unauthorized"
	case RadioPoweredOff:
		return "poweredOff"
	case RadioPoweredOn:
		return "poweredOn"
	default:
		return "unknown"
	}
}

// Property is a bitmask of GATT characteristic capabilities.
type Property uint8

const (
	PropRead Property = 1 << iota
	PropWrite
	PropWriteWithoutResponse
	PropNotify
)

// Has reports whether all bits of q are set in p.
func (p Property) Has(q Property) bool { return p&q == q }

func (p Property) String() string {
	var names []string
	if p.Has(PropRead) {
		names = append(names, "read")
	}
	if p.Has(PropWrite) {
		names = append(names, "write")
	}
	if p.Has(PropWriteWithoutResponse) {
		names = append(names, "writeWithoutResponse")
	}
	if p.Has(PropNotify) {
		names = append(names, "notify")
	}
	return strings.Join(names, "|")
}

// Result is an ATT status code returned to the central for reads and writes.
type Result uint8

const (
	ResultSuccess                Result = 0x00
	ResultInvalidOffset          Result = 0x07
	ResultAttrNotLong            Result = 0x0b
	ResultInvalidAttributeLength Result = 0x0d
	ResultUnlikelyError          Result = 0x0e
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultInvalidOffset:
		return "invalid offset"
	case ResultAttrNotLong:
		return "attribute not long"
	case ResultInvalidAttributeLength:
		return "invalid attribute length"
	case ResultUnlikelyError:
		return "unlikely error"
	default:
		return fmt.Sprintf("att error 0x%02x", uint8(r))
	}
}

// NotifyFunc pushes a value update to a subscribed central.
type NotifyFunc func(data []byte) error

// CharacteristicHandler serves requests against a single characteristic.
type CharacteristicHandler interface {
	// OnRead returns the status and value for a read at offset.
	OnRead(offset int) (Result, []byte)
	// OnWrite handles a write and returns the status sent back to the central.
	OnWrite(data []byte, offset int, withoutResponse bool) Result
	// OnSubscribe is called when a central enables notifications.
	OnSubscribe(maxValueSize int, notify NotifyFunc)
	// OnUnsubscribe is called when a central disables notifications.
	OnUnsubscribe()
}

// ValueProvider is implemented by handlers whose read value can be taken
// without serving a read. Stacks that answer reads from a stored value use it
// at registration.
type ValueProvider interface {
	Value() []byte
}

// Characteristic describes one GATT characteristic to register.
type Characteristic struct {
	UUID       uuid.UUID
	Properties Property
	Handler    CharacteristicHandler
}

// Service describes one primary GATT service to register.
type Service struct {
	UUID            uuid.UUID
	Characteristics []Characteristic
}

// Advertisement is what the radio broadcasts while advertising.
type Advertisement struct {
	LocalName    string
	ServiceUUIDs []uuid.UUID
	Interval     time.Duration
}

// EventHandler receives lifecycle events from the host BLE stack. The host
// invokes these one at a time.
type EventHandler interface {
	OnStateChange(state RadioState)
	OnAdvertisingStart(err error)
	OnAdvertisingStartError(err error)
	OnAdvertisingStop()
	OnConnect(addr string)
	OnDisconnect(addr string)
}

// Radio abstracts the host BLE stack for testing. Completion of
// StartAdvertising and StopAdvertising is reported back through EventHandler.
type Radio interface {
	// StartAdvertising requests the radio to begin advertising adv.
	StartAdvertising(adv Advertisement) error
	// StopAdvertising requests the radio to stop advertising.
	StopAdvertising() error
	// SetServices registers the GATT services exposed to centrals.
	SetServices(services []Service) error
}
