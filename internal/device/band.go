package device

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Snapshot is an immutable copy of a band's observable state, handed to
// state listeners.
type Snapshot struct {
	Address  string `json:"address"`
	Name     string `json:"name"`
	State    State  `json:"state"`
	BusyTask string `json:"busy_task,omitempty"`
}

// StateListener is notified on every state or busy-task transition.
// Listeners run on the goroutine that caused the transition and must not
// mutate the band.
type StateListener func(Snapshot)

// Band is the session's view of one fitness band: its identity and lifecycle state.
// All methods are safe for concurrent use.
type Band struct {
	address string
	name    string
	logger  *logrus.Logger

	mu        sync.RWMutex
	state     State
	busyTask  string
	listeners map[int]StateListener
	nextID    int

	// emitMu serializes mutate+notify so listeners observe transitions in order
	emitMu sync.Mutex
}

func NewBand(address, name string, logger *logrus.Logger) *Band {
	if logger == nil {
		logger = logrus.New()
	}
	return &Band{
		address:   address,
		name:      name,
		logger:    logger,
		state:     StateNotConnected,
		listeners: make(map[int]StateListener),
	}
}

func (b *Band) Address() string { return b.address }

func (b *Band) Name() string { return b.name }

func (b *Band) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Band) IsConnected() bool { return b.State().IsConnected() }

func (b *Band) IsInitialized() bool { return b.State().IsInitialized() }

func (b *Band) IsConnecting() bool { return b.State().IsConnecting() }

func (b *Band) IsInitializing() bool { return b.State().IsInitializing() }

// BusyTask returns the name of the long-running task the band is busy with, or "".
func (b *Band) BusyTask() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.busyTask
}

func (b *Band) IsBusy() bool { return b.BusyTask() != "" }

// Snapshot returns a consistent copy of the band state.
func (b *Band) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.snapshotLocked()
}

func (b *Band) snapshotLocked() Snapshot {
	return Snapshot{
		Address:  b.address,
		Name:     b.name,
		State:    b.state,
		BusyTask: b.busyTask,
	}
}

// SetState records a transition and notifies listeners, even when the state
// does not change.
func (b *Band) SetState(state State) {
	b.update(func() {
		b.logger.WithFields(logrus.Fields{
			"address": b.address,
			"from":    b.state,
			"to":      state,
		}).Info("Band state changed")
		b.state = state
	})
}

// SetBusyTask marks the band busy with the named task. An empty name clears it.
func (b *Band) SetBusyTask(task string) {
	b.update(func() {
		b.logger.WithFields(logrus.Fields{
			"address": b.address,
			"task":    task,
		}).Debug("Band busy task changed")
		b.busyTask = task
	})
}

func (b *Band) UnsetBusyTask() { b.SetBusyTask("") }

func (b *Band) update(mutate func()) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	mutate()
	snap := b.snapshotLocked()
	listeners := make([]StateListener, 0, len(b.listeners))
	for id := 0; id < b.nextID; id++ {
		if l, ok := b.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	b.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

// OnStateChanged registers a listener and returns a function that removes it.
func (b *Band) OnStateChanged(l StateListener) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}
