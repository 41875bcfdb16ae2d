package gatt

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Handle identifies one physical connection issued by a Radio. Zero means "none".
// A reconnect on the same handle keeps its value; a fresh Connect issues a new one.
type Handle uint64

// Status is the completion code carried by radio events.
type Status int

const (
	StatusSuccess                Status = 0x00
	StatusReadNotPermitted       Status = 0x02
	StatusWriteNotPermitted      Status = 0x03
	StatusInsufficientAuth       Status = 0x05
	StatusRequestNotSupported    Status = 0x06
	StatusInvalidOffset          Status = 0x07
	StatusConnectionTimeout      Status = 0x08
	StatusInvalidAttributeLength Status = 0x0d
	StatusInsufficientEncryption Status = 0x0f
	StatusRemoteTerminated       Status = 0x13
	StatusLocalHostTerminated    Status = 0x16
	StatusError                  Status = 0x85
	StatusConnectionCongested    Status = 0x8f
	StatusFailure                Status = 0x101
)

var statusNames = map[Status]string{
	StatusSuccess:                "success",
	StatusReadNotPermitted:       "read not permitted",
	StatusWriteNotPermitted:      "write not permitted",
	StatusInsufficientAuth:       "insufficient authentication",
	StatusRequestNotSupported:    "request not supported",
	StatusInvalidOffset:          "invalid offset",
	StatusConnectionTimeout:      "connection timeout",
	StatusInvalidAttributeLength: "invalid attribute length",
	StatusInsufficientEncryption: "insufficient encryption",
	StatusRemoteTerminated:       "terminated by peer",
	StatusLocalHostTerminated:    "terminated by local host",
	StatusError:                  "gatt error",
	StatusConnectionCongested:    "connection congested",
	StatusFailure:                "failure",
}

func (s Status) OK() bool { return s == StatusSuccess }

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("status 0x%02x", int(s))
}

// Property is the characteristic property bit set as advertised by the peripheral.
type Property uint8

const (
	PropBroadcast       Property = 0x01
	PropRead            Property = 0x02
	PropWriteNoResponse Property = 0x04
	PropWrite           Property = 0x08
	PropNotify          Property = 0x10
	PropIndicate        Property = 0x20
)

func (p Property) Has(flag Property) bool { return p&flag != 0 }

func (p Property) String() string {
	var parts []string
	for _, f := range []struct {
		flag Property
		name string
	}{
		{PropBroadcast, "broadcast"},
		{PropRead, "read"},
		{PropWriteNoResponse, "write-without-response"},
		{PropWrite, "write"},
		{PropNotify, "notify"},
		{PropIndicate, "indicate"},
	} {
		if p.Has(f.flag) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, ",")
}

// Characteristic is a live handle to a discovered characteristic.
// Native carries the backend's own object and is opaque to the session.
type Characteristic struct {
	UUID        uuid.UUID
	Service     uuid.UUID
	Properties  Property
	Descriptors []uuid.UUID
	Native      any
}

func (c *Characteristic) HasDescriptor(u uuid.UUID) bool {
	for _, d := range c.Descriptors {
		if d == u {
			return true
		}
	}
	return false
}

func (c *Characteristic) String() string {
	if c == nil {
		return "<nil>"
	}
	return Describe(c.UUID)
}

// Service groups the characteristics discovered under one service UUID.
type Service struct {
	UUID            uuid.UUID
	Characteristics []*Characteristic
}

// LinkState is the physical link state reported by connection events.
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
	LinkDisconnecting
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("LinkState(%d)", int(s))
	}
}

// Radio is the hardware collaborator. Request methods only report whether the
// request was accepted; outcomes arrive later on Events, tagged with the
// originating handle. Implementations must never block a request on event delivery.
type Radio interface {
	// Connect requests a new connection and returns its handle immediately.
	Connect(ctx context.Context, address string) (Handle, error)
	// Reconnect asks the radio to re-establish a dropped link on an existing handle.
	Reconnect(h Handle) error
	// Disconnect releases the handle. No further events are delivered for it.
	Disconnect(h Handle) error
	DiscoverServices(h Handle) error
	ReadCharacteristic(h Handle, c *Characteristic) error
	WriteCharacteristic(h Handle, c *Characteristic, value []byte) error
	// SetNotify toggles local delivery of value changes. It completes synchronously,
	// and succeeds without a transfer when c has no configuration descriptor.
	SetNotify(h Handle, c *Characteristic, enable bool) error
	WriteDescriptor(h Handle, c *Characteristic, descriptor uuid.UUID, value []byte) error
	Events() <-chan Event
	Close() error
}
