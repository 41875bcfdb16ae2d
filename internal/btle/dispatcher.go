package btle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/Micallam/MiBandPulse/internal/groutine"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DispatcherState is where the dispatcher worker currently is.
type DispatcherState int

const (
	DispatcherIdle DispatcherState = iota
	DispatcherWaitingForConnection
	DispatcherRunningAction
	DispatcherWaitingForActionResult
	DispatcherAborting
)

func (s DispatcherState) String() string {
	switch s {
	case DispatcherIdle:
		return "Idle"
	case DispatcherWaitingForConnection:
		return "WaitingForConnection"
	case DispatcherRunningAction:
		return "RunningAction"
	case DispatcherWaitingForActionResult:
		return "WaitingForActionResult"
	case DispatcherAborting:
		return "Aborting"
	default:
		return fmt.Sprintf("DispatcherState(%d)", int(s))
	}
}

// Dispatcher runs queued transactions on a single worker goroutine, one
// action at a time. An action that expects a result blocks the worker until
// the router reports a completion for its characteristic, or until a
// disconnect aborts the transaction. There is deliberately no timeout: a
// completion the radio never delivers keeps the worker blocked.
type Dispatcher struct {
	logger *logrus.Logger
	band   *device.Band
	conn   func() Conn
	queue  *transactionQueue

	// mu guards everything the router and the worker share
	mu          sync.Mutex
	state       DispatcherState
	awaited     uuid.UUID
	resultCh    chan struct{}
	connectedCh chan struct{}
	abort       bool
	aborts      uint64 // bumped by every abortAll
	handlers    *Handlers
	err         error

	started atomic.Bool
	crashed atomic.Bool
	done    chan struct{}
	onCrash []func(error)
}

// NewDispatcher creates a dispatcher; conn supplies the live connection at the start of each transaction.
func NewDispatcher(band *device.Band, conn func() Conn, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{
		logger: logger,
		band:   band,
		conn:   conn,
		queue:  newTransactionQueue(),
		done:   make(chan struct{}),
	}
}

// OnCrash registers fn to be called once if the worker dies. Register before Start.
func (d *Dispatcher) OnCrash(fn func(error)) {
	d.onCrash = append(d.onCrash, fn)
}

// Start launches the worker. It stops when ctx is cancelled or the worker crashes.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.started.CompareAndSwap(false, true) {
		return fmt.Errorf("dispatcher already started")
	}
	groutine.GoSafe(ctx, "gatt-dispatcher", func(ctx context.Context) {
		d.loop(ctx)
		d.finish(nil)
	}, func(p *groutine.PanicError) {
		d.finish(p)
	})
	return nil
}

func (d *Dispatcher) finish(p *groutine.PanicError) {
	if p == nil {
		d.logger.Debug("Dispatcher stopped")
		close(d.done)
		return
	}

	err := fmt.Errorf("%w: %v", device.ErrDispatcherCrashed, p.Value)
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	d.crashed.Store(true)

	d.logger.WithFields(logrus.Fields{
		"goroutine": p.Goroutine,
		"gid":       p.GID,
		"error":     p.Value,
		"stack":     string(p.Stack),
	}).Error("Dispatcher crashed, no further transactions will run")

	close(d.done)
	for _, fn := range d.onCrash {
		fn(err)
	}
}

// Crashed reports whether the worker died. A crashed dispatcher never recovers.
func (d *Dispatcher) Crashed() bool { return d.crashed.Load() }

// Err returns the crash cause, or nil.
func (d *Dispatcher) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Done is closed when the worker exits, either by crash or by cancellation.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) State() DispatcherState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// QueueLen returns the number of transactions waiting to start.
func (d *Dispatcher) QueueLen() int { return d.queue.len() }

// Add appends a transaction to the queue. Empty transactions are accepted and dropped.
func (d *Dispatcher) Add(tx *Transaction) error {
	return d.enqueue(tx, false)
}

// Insert puts a transaction ahead of everything already queued.
func (d *Dispatcher) Insert(tx *Transaction) error {
	return d.enqueue(tx, true)
}

func (d *Dispatcher) enqueue(tx *Transaction, front bool) error {
	if d.Crashed() {
		return d.Err()
	}
	if err := tx.markQueued(); err != nil {
		return err
	}
	if tx.IsEmpty() {
		d.logger.WithField("transaction", tx.name).Debug("Dropping empty transaction")
		return nil
	}

	d.logger.WithFields(logrus.Fields{
		"transaction": tx.name,
		"actions":     len(tx.actions),
		"front":       front,
	}).Debug("Queueing transaction")

	if front {
		d.queue.pushFront(tx)
	} else {
		d.queue.push(tx)
	}
	return nil
}

// ActiveHandlers returns the handlers installed by the current or last transaction.
func (d *Dispatcher) ActiveHandlers() *Handlers {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers
}

func (d *Dispatcher) setHandlers(h *Handlers) {
	d.mu.Lock()
	d.handlers = h
	d.mu.Unlock()
}

func (d *Dispatcher) setState(s DispatcherState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Dispatcher) loop(ctx context.Context) {
	for {
		d.setState(DispatcherIdle)
		tx, err := d.queue.take(ctx)
		if err != nil {
			return
		}
		gen, err := d.waitForConnection(ctx)
		if err != nil {
			return
		}
		if err := d.execute(ctx, tx, gen); err != nil {
			return
		}
	}
}

// waitForConnection blocks until the band is connected. It returns the abort
// generation seen on the live link; an abort after that point belongs to tx.
func (d *Dispatcher) waitForConnection(ctx context.Context) (uint64, error) {
	d.mu.Lock()
	if d.band.IsConnected() {
		gen := d.aborts
		d.mu.Unlock()
		return gen, nil
	}
	ch := make(chan struct{})
	d.connectedCh = ch
	d.handlers = nil
	d.state = DispatcherWaitingForConnection
	d.mu.Unlock()

	d.logger.Debug("Not connected, waiting for connection")

	select {
	case <-ch:
		d.mu.Lock()
		defer d.mu.Unlock()
		return d.aborts, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// signalConnected releases a worker waiting for a connection.
func (d *Dispatcher) signalConnected() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connectedCh != nil {
		close(d.connectedCh)
		d.connectedCh = nil
	}
}

// execute runs tx to completion or abort. It returns an error only when ctx ends.
func (d *Dispatcher) execute(ctx context.Context, tx *Transaction, gen uint64) error {
	log := d.logger.WithField("transaction", tx.name)

	d.mu.Lock()
	if d.aborts != gen {
		d.mu.Unlock()
		log.Info("Link lost before the transaction started, dropping it")
		return nil
	}
	d.handlers = tx.handlers
	d.abort = false
	d.mu.Unlock()
	defer d.clearAwaited()

	log.Debug("Starting transaction")

	conn := d.conn()
	for i, action := range tx.actions {
		resultCh, ok := d.await(action.Characteristic())
		if !ok {
			d.setState(DispatcherAborting)
			log.WithField("remaining", len(tx.actions)-i).Info("Transaction aborted, skipping remaining actions")
			return nil
		}
		if la, ok := action.(ListenerAction); ok {
			d.setHandlers(la.Handlers())
		}

		d.setState(DispatcherRunningAction)
		log.WithField("action", action.String()).Debug("Running action")
		if err := action.Run(conn); err != nil {
			log.WithFields(logrus.Fields{
				"action": action.String(),
				"error":  err,
			}).Error("Action rejected, aborting transaction")
			return nil
		}

		if !action.ExpectsResult() {
			continue
		}
		if resultCh == nil {
			log.WithField("action", action.String()).Warn("Action expects a result but has no characteristic")
			continue
		}

		d.setState(DispatcherWaitingForActionResult)
		select {
		case <-resultCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	log.Debug("Transaction finished")
	return nil
}

// await records c as the awaited characteristic and returns the channel its
// completion will close. Local actions clear the marker and get nil. It
// reports false once the transaction is aborted; the check and the new wait
// share one lock so abortAll either sees the wait or is seen here.
func (d *Dispatcher) await(c *gatt.Characteristic) (chan struct{}, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.abort {
		return nil, false
	}
	if c == nil {
		d.awaited = uuid.Nil
		d.resultCh = nil
		return nil, true
	}
	d.awaited = c.UUID
	d.resultCh = make(chan struct{})
	return d.resultCh, true
}

func (d *Dispatcher) clearAwaited() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.awaited = uuid.Nil
	d.resultCh = nil
}

// complete is called by the router for every read, write and descriptor
// completion. A failed status flags the transaction for abort; a matching
// characteristic releases the waiting worker.
func (d *Dispatcher) complete(char uuid.UUID, status gatt.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !status.OK() {
		d.logger.WithFields(logrus.Fields{
			"characteristic": gatt.Describe(char),
			"status":         status,
		}).Error("Radio operation failed, aborting transaction")
		d.abort = true
	}

	if d.resultCh != nil && d.awaited == char {
		close(d.resultCh)
		d.resultCh = nil
		return
	}
	if d.awaited != uuid.Nil {
		d.logger.WithFields(logrus.Fields{
			"awaited":  gatt.Describe(d.awaited),
			"received": gatt.Describe(char),
		}).Warn("Completion for a characteristic that is not awaited")
	}
}

// abortAll cancels the in-flight transaction, releases a blocked worker and
// drops everything queued. Session handlers fall back to the defaults.
func (d *Dispatcher) abortAll() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.handlers = nil
	d.abort = true
	d.aborts++
	dropped := d.queue.clear()
	if d.resultCh != nil {
		close(d.resultCh)
		d.resultCh = nil
	}
	if dropped > 0 {
		d.logger.WithField("dropped", dropped).Info("Dropped queued transactions")
	}
	return dropped
}
