package btle

import (
	"context"
	"fmt"
	"sync"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/Micallam/MiBandPulse/internal/groutine"
	"github.com/sirupsen/logrus"
)

// Options tune the engine.
type Options struct {
	// AutoReconnect resumes an initialized session after an unsolicited disconnect.
	AutoReconnect bool `default:"true"`
}

// Engine wires the session components around one radio and one band: the
// registry, connection manager, dispatcher and router.
type Engine struct {
	logger     *logrus.Logger
	radio      gatt.Radio
	band       *device.Band
	registry   *gatt.Registry
	manager    *ConnectionManager
	dispatcher *Dispatcher
	router     *Router

	startOnce sync.Once
	cancel    context.CancelFunc
}

func NewEngine(radio gatt.Radio, band *device.Band, opts Options, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{
		logger:   logger,
		radio:    radio,
		band:     band,
		registry: gatt.NewRegistry(),
	}
	e.dispatcher = NewDispatcher(band, func() Conn { return e.manager.Conn() }, logger)
	e.manager = NewConnectionManager(radio, band, e.dispatcher, opts.AutoReconnect, logger)
	e.router = NewRouter(e.manager, e.dispatcher, e.registry, logger)
	return e
}

// Start launches the dispatcher worker and the event pump. Later calls are no-ops.
func (e *Engine) Start(ctx context.Context) error {
	var err error
	e.startOnce.Do(func() {
		ctx, e.cancel = context.WithCancel(ctx)
		if err = e.dispatcher.Start(ctx); err != nil {
			return
		}
		groutine.Go(ctx, "gatt-events", func(ctx context.Context) {
			e.router.Run(ctx, e.radio.Events())
		})
	})
	return err
}

// Close disconnects and stops the worker and the event pump.
func (e *Engine) Close() error {
	err := e.manager.Disconnect()
	if e.cancel != nil {
		e.cancel()
	}
	if err != nil {
		return fmt.Errorf("failed to close engine: %w", err)
	}
	return nil
}

func (e *Engine) Connect(ctx context.Context) error { return e.manager.Connect(ctx) }

func (e *Engine) Disconnect() error { return e.manager.Disconnect() }

func (e *Engine) Add(tx *Transaction) error { return e.dispatcher.Add(tx) }

func (e *Engine) Insert(tx *Transaction) error { return e.dispatcher.Insert(tx) }

func (e *Engine) SetDefaultHandlers(h *Handlers) { e.router.SetDefaultHandlers(h) }

func (e *Engine) Band() *device.Band { return e.band }

func (e *Engine) Registry() *gatt.Registry { return e.registry }

func (e *Engine) Manager() *ConnectionManager { return e.manager }

func (e *Engine) Dispatcher() *Dispatcher { return e.dispatcher }

func (e *Engine) Router() *Router { return e.router }
