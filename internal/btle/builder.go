package btle

import (
	"time"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/sirupsen/logrus"
)

// Queuer accepts transactions for execution.
type Queuer interface {
	Add(tx *Transaction) error
}

// Builder assembles a Transaction. Operations on a missing characteristic
// are skipped with a log line so callers can chain lookups from the registry.
type Builder struct {
	tx     *Transaction
	logger *logrus.Logger
}

func NewBuilder(name string, logger *logrus.Logger) *Builder {
	if logger == nil {
		logger = logrus.New()
	}
	return &Builder{tx: NewTransaction(name), logger: logger}
}

func (b *Builder) skip(op string) *Builder {
	b.logger.WithFields(logrus.Fields{
		"transaction": b.tx.name,
		"operation":   op,
	}).Warn("Characteristic not available, skipping")
	return b
}

func (b *Builder) Read(c *gatt.Characteristic) *Builder {
	if c == nil {
		return b.skip("read")
	}
	return b.Add(NewReadAction(c))
}

func (b *Builder) Write(c *gatt.Characteristic, value []byte) *Builder {
	if c == nil {
		return b.skip("write")
	}
	return b.Add(NewWriteAction(c, value))
}

// WriteWithHandlers writes and routes subsequent events to h.
func (b *Builder) WriteWithHandlers(c *gatt.Characteristic, value []byte, h *Handlers) *Builder {
	if c == nil {
		return b.skip("write")
	}
	return b.Add(NewListenerWriteAction(c, value, h))
}

func (b *Builder) Notify(c *gatt.Characteristic, enable bool) *Builder {
	if c == nil {
		return b.skip("notify")
	}
	return b.Add(NewNotifyAction(c, enable))
}

func (b *Builder) SetState(band *device.Band, s device.State) *Builder {
	return b.Add(NewSetDeviceStateAction(band, s))
}

func (b *Builder) SetBusy(band *device.Band, task string) *Builder {
	return b.Add(NewSetDeviceBusyAction(band, task))
}

func (b *Builder) Wait(d time.Duration) *Builder {
	return b.Add(NewWaitAction(d))
}

func (b *Builder) Add(a Action) *Builder {
	b.tx.add(a)
	return b
}

// SetHandlers installs h for the duration of the transaction. Nil restores
// the session defaults.
func (b *Builder) SetHandlers(h *Handlers) *Builder {
	b.tx.handlers = h
	return b
}

func (b *Builder) Transaction() *Transaction { return b.tx }

// Queue submits the transaction. A second call returns ErrTransactionReused.
func (b *Builder) Queue(q Queuer) error {
	return q.Add(b.tx)
}
