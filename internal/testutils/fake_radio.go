package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/google/uuid"
)

// Radio operation names recorded by FakeRadio.
const (
	OpConnect         = "connect"
	OpReconnect       = "reconnect"
	OpDisconnect      = "disconnect"
	OpDiscover        = "discover"
	OpRead            = "read"
	OpWrite           = "write"
	OpSetNotify       = "set-notify"
	OpWriteDescriptor = "write-descriptor"
)

// RadioCall is one request received by FakeRadio.
type RadioCall struct {
	Op             string
	Handle         gatt.Handle
	Characteristic uuid.UUID
	Descriptor     uuid.UUID
	Value          []byte
	Enable         bool
}

func (c RadioCall) String() string {
	switch c.Op {
	case OpRead:
		return fmt.Sprintf("%s %s", c.Op, gatt.ShortString(c.Characteristic))
	case OpWrite, OpWriteDescriptor:
		return fmt.Sprintf("%s %s % x", c.Op, gatt.ShortString(c.Characteristic), c.Value)
	case OpSetNotify:
		return fmt.Sprintf("%s %s %t", c.Op, gatt.ShortString(c.Characteristic), c.Enable)
	default:
		return c.Op
	}
}

// WriteScript lets a test answer a characteristic write the way the band would.
type WriteScript func(r *FakeRadio, h gatt.Handle, char uuid.UUID, value []byte)

// FakeRadio is a scripted gatt.Radio. By default it connects, discovers the
// configured services and acknowledges every request with success.
// Events are buffered so requests never block on delivery.
type FakeRadio struct {
	mu           sync.Mutex
	events       chan gatt.Event
	services     []*gatt.Service
	nextHandle   gatt.Handle
	calls        []RadioCall
	autoConnect  bool
	autoDiscover bool
	autoAck      bool
	readValues   map[uuid.UUID][]byte
	writeScripts []WriteScript
	failures     map[string]error
	ackStatus    map[uuid.UUID]gatt.Status
}

func NewFakeRadio(services ...*gatt.Service) *FakeRadio {
	return &FakeRadio{
		events:       make(chan gatt.Event, 1024),
		services:     services,
		autoConnect:  true,
		autoDiscover: true,
		autoAck:      true,
		readValues:   make(map[uuid.UUID][]byte),
		failures:     make(map[string]error),
		ackStatus:    make(map[uuid.UUID]gatt.Status),
	}
}

// SetAutoAck switches automatic completion events for reads and writes.
func (r *FakeRadio) SetAutoAck(on bool) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoAck = on
	return r
}

// SetAutoConnect switches automatic connected events after Connect and Reconnect.
func (r *FakeRadio) SetAutoConnect(on bool) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoConnect = on
	return r
}

// SetReadValue sets the value returned by reads of char.
func (r *FakeRadio) SetReadValue(char uuid.UUID, value []byte) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readValues[char] = value
	return r
}

// SetAckStatus makes completions for char carry status.
func (r *FakeRadio) SetAckStatus(char uuid.UUID, status gatt.Status) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ackStatus[char] = status
	return r
}

// Fail makes every request of the given operation return err.
func (r *FakeRadio) Fail(op string, err error) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = err
	return r
}

// OnWrite adds a script run after each characteristic write is acknowledged.
func (r *FakeRadio) OnWrite(script WriteScript) *FakeRadio {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeScripts = append(r.writeScripts, script)
	return r
}

// Emit delivers an event as if the radio raised it.
func (r *FakeRadio) Emit(ev gatt.Event) {
	r.events <- ev
}

// Notify emits a value change on the current handle.
func (r *FakeRadio) Notify(char uuid.UUID, value []byte) {
	r.Emit(gatt.CharacteristicChanged(r.Handle(), char, value))
}

// Drop emits an unsolicited disconnect on the current handle.
func (r *FakeRadio) Drop(status gatt.Status) {
	r.Emit(gatt.ConnectionStateChanged(r.Handle(), status, gatt.LinkDisconnected))
}

// Handle returns the last issued handle.
func (r *FakeRadio) Handle() gatt.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextHandle
}

// Calls returns a copy of every request received so far.
func (r *FakeRadio) Calls() []RadioCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RadioCall(nil), r.calls...)
}

// CallsOf returns the requests of one operation, in order.
func (r *FakeRadio) CallsOf(op string) []RadioCall {
	var out []RadioCall
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Writes returns the values written to char, in order.
func (r *FakeRadio) Writes(char uuid.UUID) [][]byte {
	var out [][]byte
	for _, c := range r.CallsOf(OpWrite) {
		if c.Characteristic == char {
			out = append(out, c.Value)
		}
	}
	return out
}

func (r *FakeRadio) record(call RadioCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return r.failures[call.Op]
}

func (r *FakeRadio) status(char uuid.UUID) gatt.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.ackStatus[char]; ok {
		return s
	}
	return gatt.StatusSuccess
}

func (r *FakeRadio) flag(get func() bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return get()
}

func (r *FakeRadio) Connect(_ context.Context, address string) (gatt.Handle, error) {
	r.mu.Lock()
	r.nextHandle++
	h := r.nextHandle
	r.mu.Unlock()

	if err := r.record(RadioCall{Op: OpConnect, Handle: h}); err != nil {
		return 0, err
	}
	if r.flag(func() bool { return r.autoConnect }) {
		r.Emit(gatt.ConnectionStateChanged(h, gatt.StatusSuccess, gatt.LinkConnected))
	}
	return h, nil
}

func (r *FakeRadio) Reconnect(h gatt.Handle) error {
	if err := r.record(RadioCall{Op: OpReconnect, Handle: h}); err != nil {
		return err
	}
	if r.flag(func() bool { return r.autoConnect }) {
		r.Emit(gatt.ConnectionStateChanged(h, gatt.StatusSuccess, gatt.LinkConnected))
	}
	return nil
}

func (r *FakeRadio) Disconnect(h gatt.Handle) error {
	return r.record(RadioCall{Op: OpDisconnect, Handle: h})
}

func (r *FakeRadio) DiscoverServices(h gatt.Handle) error {
	if err := r.record(RadioCall{Op: OpDiscover, Handle: h}); err != nil {
		return err
	}
	if r.flag(func() bool { return r.autoDiscover }) {
		r.Emit(gatt.ServicesDiscovered(h, gatt.StatusSuccess, r.services))
	}
	return nil
}

func (r *FakeRadio) ReadCharacteristic(h gatt.Handle, c *gatt.Characteristic) error {
	if err := r.record(RadioCall{Op: OpRead, Handle: h, Characteristic: c.UUID}); err != nil {
		return err
	}
	if r.flag(func() bool { return r.autoAck }) {
		r.mu.Lock()
		value := r.readValues[c.UUID]
		r.mu.Unlock()
		r.Emit(gatt.CharacteristicRead(h, r.status(c.UUID), c.UUID, value))
	}
	return nil
}

func (r *FakeRadio) WriteCharacteristic(h gatt.Handle, c *gatt.Characteristic, value []byte) error {
	value = append([]byte(nil), value...)
	if err := r.record(RadioCall{Op: OpWrite, Handle: h, Characteristic: c.UUID, Value: value}); err != nil {
		return err
	}
	if r.flag(func() bool { return r.autoAck }) {
		r.Emit(gatt.CharacteristicWritten(h, r.status(c.UUID), c.UUID))
	}

	r.mu.Lock()
	scripts := append([]WriteScript(nil), r.writeScripts...)
	r.mu.Unlock()
	for _, script := range scripts {
		script(r, h, c.UUID, value)
	}
	return nil
}

// SetNotify records the toggle. Like the go-ble radio it accepts characteristics
// without a configuration descriptor.
func (r *FakeRadio) SetNotify(h gatt.Handle, c *gatt.Characteristic, enable bool) error {
	return r.record(RadioCall{Op: OpSetNotify, Handle: h, Characteristic: c.UUID, Enable: enable})
}

func (r *FakeRadio) WriteDescriptor(h gatt.Handle, c *gatt.Characteristic, descriptor uuid.UUID, value []byte) error {
	call := RadioCall{Op: OpWriteDescriptor, Handle: h, Characteristic: c.UUID, Descriptor: descriptor, Value: append([]byte(nil), value...)}
	if err := r.record(call); err != nil {
		return err
	}
	if r.flag(func() bool { return r.autoAck }) {
		r.Emit(gatt.DescriptorWritten(h, r.status(c.UUID), c.UUID, descriptor))
	}
	return nil
}

func (r *FakeRadio) Events() <-chan gatt.Event { return r.events }

func (r *FakeRadio) Close() error { return nil }
