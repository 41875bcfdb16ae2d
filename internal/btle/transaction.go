package btle

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/google/uuid"
)

// Handlers receive the events a transaction (or the session, by default)
// is interested in. Nil fields ignore the event.
type Handlers struct {
	OnServicesDiscovered    func(services []*gatt.Service)
	OnCharacteristicChanged func(char uuid.UUID, value []byte)
	OnCharacteristicRead    func(char uuid.UUID, value []byte, status gatt.Status)
	OnCharacteristicWrite   func(char uuid.UUID, status gatt.Status)
	OnDescriptorWrite       func(char, descriptor uuid.UUID, status gatt.Status)
}

// Transaction is a named, ordered batch of actions run without interleaving
// with other transactions. It can be submitted once.
type Transaction struct {
	name     string
	actions  []Action
	handlers *Handlers
	created  time.Time
	queued   atomic.Bool
}

func NewTransaction(name string) *Transaction {
	return &Transaction{name: name, created: time.Now()}
}

func (t *Transaction) Name() string { return t.name }

// Actions returns a copy of the action list.
func (t *Transaction) Actions() []Action {
	return append([]Action(nil), t.actions...)
}

func (t *Transaction) Handlers() *Handlers { return t.handlers }

func (t *Transaction) IsEmpty() bool { return len(t.actions) == 0 }

func (t *Transaction) Created() time.Time { return t.created }

func (t *Transaction) String() string {
	return fmt.Sprintf("transaction %q (%d actions)", t.name, len(t.actions))
}

func (t *Transaction) add(a Action) {
	t.actions = append(t.actions, a)
}

// markQueued flags the transaction as submitted and fails on a second call.
func (t *Transaction) markQueued() error {
	if !t.queued.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", device.ErrTransactionReused, t)
	}
	return nil
}
