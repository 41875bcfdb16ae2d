package btle

import (
	"fmt"
	"sync"
	"time"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/gatt"
)

// Conn is the connection an action runs against.
type Conn struct {
	Radio  gatt.Radio
	Handle gatt.Handle
}

// Action is one unit of radio work.
//
// Run reports whether the request was accepted: a non-nil error rejects it
// and ends the transaction. ExpectsResult is consulted only after a
// successful Run and tells the dispatcher to block until the router reports
// a completion for Characteristic.
type Action interface {
	Run(conn Conn) error
	ExpectsResult() bool
	// Characteristic is the awaited target, nil for local actions.
	Characteristic() *gatt.Characteristic
	String() string
}

// ListenerAction is an action that installs session handlers before it runs.
// The last one run in a transaction stays installed after the transaction completes.
type ListenerAction interface {
	Action
	Handlers() *Handlers
}

func rejected(a Action, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", device.ErrActionRejected, a, fmt.Sprintf(format, args...))
}

// ReadAction reads a characteristic value. The value arrives with the read completion.
type ReadAction struct {
	char *gatt.Characteristic
}

func NewReadAction(c *gatt.Characteristic) *ReadAction {
	return &ReadAction{char: c}
}

func (a *ReadAction) Run(conn Conn) error {
	if !a.char.Properties.Has(gatt.PropRead) {
		return rejected(a, "characteristic is not readable (%s)", a.char.Properties)
	}
	if err := conn.Radio.ReadCharacteristic(conn.Handle, a.char); err != nil {
		return rejected(a, "%v", device.NormalizeError(err))
	}
	return nil
}

func (a *ReadAction) ExpectsResult() bool { return true }
func (a *ReadAction) Characteristic() *gatt.Characteristic { return a.char }
func (a *ReadAction) String() string { return "read " + a.char.String() }

// WriteAction writes a value, with or without response as the characteristic allows.
type WriteAction struct {
	char  *gatt.Characteristic
	value []byte
}

func NewWriteAction(c *gatt.Characteristic, value []byte) *WriteAction {
	return &WriteAction{char: c, value: append([]byte(nil), value...)}
}

func (a *WriteAction) Run(conn Conn) error {
	if !a.char.Properties.Has(gatt.PropWrite) && !a.char.Properties.Has(gatt.PropWriteNoResponse) {
		return rejected(a, "characteristic is not writable (%s)", a.char.Properties)
	}
	if err := conn.Radio.WriteCharacteristic(conn.Handle, a.char, a.value); err != nil {
		return rejected(a, "%v", device.NormalizeError(err))
	}
	return nil
}

func (a *WriteAction) Value() []byte { return append([]byte(nil), a.value...) }
func (a *WriteAction) ExpectsResult() bool { return true }
func (a *WriteAction) Characteristic() *gatt.Characteristic { return a.char }
func (a *WriteAction) String() string {
	return fmt.Sprintf("write % x to %s", a.value, a.char)
}

// ListenerWriteAction is a write that routes subsequent events to its handlers.
// Multi-step exchanges use it so replies reach the code that sent the request.
type ListenerWriteAction struct {
	WriteAction
	handlers *Handlers
}

func NewListenerWriteAction(c *gatt.Characteristic, value []byte, h *Handlers) *ListenerWriteAction {
	return &ListenerWriteAction{WriteAction: *NewWriteAction(c, value), handlers: h}
}

func (a *ListenerWriteAction) Handlers() *Handlers { return a.handlers }

// NotifyAction turns value-change delivery on or off. When the characteristic
// has a configuration descriptor it is written too, and only then does the
// action wait for a completion.
type NotifyAction struct {
	char              *gatt.Characteristic
	enable            bool
	descriptorWritten bool
}

var (
	enableNotificationValue  = []byte{0x01, 0x00}
	enableIndicationValue    = []byte{0x02, 0x00}
	disableNotificationValue = []byte{0x00, 0x00}
)

func NewNotifyAction(c *gatt.Characteristic, enable bool) *NotifyAction {
	return &NotifyAction{char: c, enable: enable}
}

func (a *NotifyAction) Run(conn Conn) error {
	a.descriptorWritten = false
	if err := conn.Radio.SetNotify(conn.Handle, a.char, a.enable); err != nil {
		return rejected(a, "%v", device.NormalizeError(err))
	}
	if !a.char.HasDescriptor(gatt.ClientCharacteristicConfig) {
		return nil
	}

	var value []byte
	switch {
	case !a.enable:
		value = disableNotificationValue
	case a.char.Properties.Has(gatt.PropNotify):
		value = enableNotificationValue
	case a.char.Properties.Has(gatt.PropIndicate):
		value = enableIndicationValue
	default:
		return nil
	}

	if err := conn.Radio.WriteDescriptor(conn.Handle, a.char, gatt.ClientCharacteristicConfig, value); err != nil {
		return rejected(a, "%v", device.NormalizeError(err))
	}
	a.descriptorWritten = true
	return nil
}

func (a *NotifyAction) ExpectsResult() bool { return a.descriptorWritten }
func (a *NotifyAction) Characteristic() *gatt.Characteristic { return a.char }
func (a *NotifyAction) String() string {
	if a.enable {
		return "enable notifications on " + a.char.String()
	}
	return "disable notifications on " + a.char.String()
}

// SetDeviceStateAction moves the band to a new state in-process.
type SetDeviceStateAction struct {
	band  *device.Band
	state device.State
}

func NewSetDeviceStateAction(b *device.Band, s device.State) *SetDeviceStateAction {
	return &SetDeviceStateAction{band: b, state: s}
}

func (a *SetDeviceStateAction) Run(Conn) error {
	a.band.SetState(a.state)
	return nil
}

func (a *SetDeviceStateAction) ExpectsResult() bool { return false }
func (a *SetDeviceStateAction) Characteristic() *gatt.Characteristic { return nil }
func (a *SetDeviceStateAction) String() string { return "set state " + a.state.String() }

// SetDeviceBusyAction marks the band busy with a task; an empty task clears it.
type SetDeviceBusyAction struct {
	band *device.Band
	task string
}

func NewSetDeviceBusyAction(b *device.Band, task string) *SetDeviceBusyAction {
	return &SetDeviceBusyAction{band: b, task: task}
}

func (a *SetDeviceBusyAction) Run(Conn) error {
	a.band.SetBusyTask(a.task)
	return nil
}

func (a *SetDeviceBusyAction) ExpectsResult() bool { return false }
func (a *SetDeviceBusyAction) Characteristic() *gatt.Characteristic { return nil }
func (a *SetDeviceBusyAction) String() string {
	if a.task == "" {
		return "clear busy task"
	}
	return fmt.Sprintf("set busy task %q", a.task)
}

// WaitAction pauses the transaction, giving the band time to settle between steps.
type WaitAction struct {
	d time.Duration
}

func NewWaitAction(d time.Duration) *WaitAction {
	return &WaitAction{d: d}
}

func (a *WaitAction) Run(Conn) error {
	time.Sleep(a.d)
	return nil
}

func (a *WaitAction) ExpectsResult() bool { return false }
func (a *WaitAction) Characteristic() *gatt.Characteristic { return nil }
func (a *WaitAction) String() string { return "wait " + a.d.String() }

// SignalAction closes Done when the dispatcher reaches it, so a caller can
// wait for everything queued ahead of it.
type SignalAction struct {
	once sync.Once
	done chan struct{}
}

func NewSignalAction() *SignalAction {
	return &SignalAction{done: make(chan struct{})}
}

func (a *SignalAction) Run(Conn) error {
	a.once.Do(func() { close(a.done) })
	return nil
}

func (a *SignalAction) Done() <-chan struct{} { return a.done }

func (a *SignalAction) ExpectsResult() bool { return false }
func (a *SignalAction) Characteristic() *gatt.Characteristic { return nil }
func (a *SignalAction) String() string { return "signal" }
