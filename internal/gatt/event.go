package gatt

import (
	"fmt"

	"github.com/google/uuid"
)

// EventKind tags the Event union.
type EventKind int

const (
	EventConnectionStateChanged EventKind = iota + 1
	EventServicesDiscovered
	EventCharacteristicWrite
	EventCharacteristicRead
	EventCharacteristicChanged
	EventDescriptorWrite
)

func (k EventKind) String() string {
	switch k {
	case EventConnectionStateChanged:
		return "connection-state-changed"
	case EventServicesDiscovered:
		return "services-discovered"
	case EventCharacteristicWrite:
		return "characteristic-write"
	case EventCharacteristicRead:
		return "characteristic-read"
	case EventCharacteristicChanged:
		return "characteristic-changed"
	case EventDescriptorWrite:
		return "descriptor-write"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a single notification from the radio. Which payload fields are
// meaningful depends on Kind:
//
//	ConnectionStateChanged  Link
//	ServicesDiscovered      Services
//	CharacteristicWrite     Characteristic
//	CharacteristicRead      Characteristic, Value
//	CharacteristicChanged   Characteristic, Value
//	DescriptorWrite         Characteristic, Descriptor
type Event struct {
	Kind           EventKind
	Handle         Handle
	Status         Status
	Link           LinkState
	Services       []*Service
	Characteristic uuid.UUID
	Descriptor     uuid.UUID
	Value          []byte
}

func (e Event) String() string {
	switch e.Kind {
	case EventConnectionStateChanged:
		return fmt.Sprintf("%s(handle=%d, %s, %s)", e.Kind, e.Handle, e.Link, e.Status)
	case EventServicesDiscovered:
		return fmt.Sprintf("%s(handle=%d, %d services, %s)", e.Kind, e.Handle, len(e.Services), e.Status)
	case EventDescriptorWrite:
		return fmt.Sprintf("%s(handle=%d, %s/%s, %s)", e.Kind, e.Handle, Describe(e.Characteristic), ShortString(e.Descriptor), e.Status)
	default:
		return fmt.Sprintf("%s(handle=%d, %s, %d bytes, %s)", e.Kind, e.Handle, Describe(e.Characteristic), len(e.Value), e.Status)
	}
}

func ConnectionStateChanged(h Handle, status Status, link LinkState) Event {
	return Event{Kind: EventConnectionStateChanged, Handle: h, Status: status, Link: link}
}

func ServicesDiscovered(h Handle, status Status, services []*Service) Event {
	return Event{Kind: EventServicesDiscovered, Handle: h, Status: status, Services: services}
}

func CharacteristicWritten(h Handle, status Status, char uuid.UUID) Event {
	return Event{Kind: EventCharacteristicWrite, Handle: h, Status: status, Characteristic: char}
}

func CharacteristicRead(h Handle, status Status, char uuid.UUID, value []byte) Event {
	return Event{Kind: EventCharacteristicRead, Handle: h, Status: status, Characteristic: char, Value: value}
}

func CharacteristicChanged(h Handle, char uuid.UUID, value []byte) Event {
	return Event{Kind: EventCharacteristicChanged, Handle: h, Status: StatusSuccess, Characteristic: char, Value: value}
}

func DescriptorWritten(h Handle, status Status, char, descriptor uuid.UUID) Event {
	return Event{Kind: EventDescriptorWrite, Handle: h, Status: status, Characteristic: char, Descriptor: descriptor}
}
