package btle

import (
	"context"
	"sync"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/sirupsen/logrus"
)

// Router demultiplexes radio events. Every event is first checked against
// the owned connection handle; completions are reported to the dispatcher
// and forwarded to the active handlers (the current transaction's, or the
// session defaults).
type Router struct {
	logger     *logrus.Logger
	manager    *ConnectionManager
	dispatcher *Dispatcher
	registry   *gatt.Registry

	mu       sync.RWMutex
	defaults *Handlers
}

func NewRouter(manager *ConnectionManager, dispatcher *Dispatcher, registry *gatt.Registry, logger *logrus.Logger) *Router {
	if logger == nil {
		logger = logrus.New()
	}
	return &Router{
		logger:     logger,
		manager:    manager,
		dispatcher: dispatcher,
		registry:   registry,
		defaults:   &Handlers{},
	}
}

// SetDefaultHandlers sets the session handlers used when no transaction has installed its own.
func (r *Router) SetDefaultHandlers(h *Handlers) {
	if h == nil {
		h = &Handlers{}
	}
	r.mu.Lock()
	r.defaults = h
	r.mu.Unlock()
}

func (r *Router) handlers() *Handlers {
	if h := r.dispatcher.ActiveHandlers(); h != nil {
		return h
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// Run routes events until ctx is done or the channel is closed. Events are
// handled one at a time, in arrival order.
func (r *Router) Run(ctx context.Context, events <-chan gatt.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				r.logger.Debug("Radio event stream closed")
				return
			}
			r.Route(ev)
		}
	}
}

// Route handles a single event.
func (r *Router) Route(ev gatt.Event) {
	log := r.logger.WithField("event", ev.String())
	if !r.manager.IsCurrent(ev.Handle) {
		log.Warn("Ignoring event from a stale connection")
		return
	}
	log.Debug("Routing radio event")

	switch ev.Kind {
	case gatt.EventConnectionStateChanged:
		r.routeConnectionState(ev)

	case gatt.EventServicesDiscovered:
		if !ev.Status.OK() {
			log.Error("Service discovery failed")
			return
		}
		r.registry.Replace(ev.Services)
		if h := r.handlers(); h.OnServicesDiscovered != nil {
			r.invoke("services-discovered", func() { h.OnServicesDiscovered(ev.Services) })
		}

	case gatt.EventCharacteristicRead:
		if h := r.handlers(); h.OnCharacteristicRead != nil {
			r.invoke("characteristic-read", func() { h.OnCharacteristicRead(ev.Characteristic, ev.Value, ev.Status) })
		}
		r.dispatcher.complete(ev.Characteristic, ev.Status)

	case gatt.EventCharacteristicWrite:
		if h := r.handlers(); h.OnCharacteristicWrite != nil {
			r.invoke("characteristic-write", func() { h.OnCharacteristicWrite(ev.Characteristic, ev.Status) })
		}
		r.dispatcher.complete(ev.Characteristic, ev.Status)

	case gatt.EventDescriptorWrite:
		if h := r.handlers(); h.OnDescriptorWrite != nil {
			r.invoke("descriptor-write", func() { h.OnDescriptorWrite(ev.Characteristic, ev.Descriptor, ev.Status) })
		}
		r.dispatcher.complete(ev.Characteristic, ev.Status)

	case gatt.EventCharacteristicChanged:
		h := r.handlers()
		if h.OnCharacteristicChanged == nil {
			log.Debug("No handler for characteristic change")
			return
		}
		r.invoke("characteristic-changed", func() { h.OnCharacteristicChanged(ev.Characteristic, ev.Value) })

	default:
		log.Warn("Unknown radio event")
	}
}

func (r *Router) routeConnectionState(ev gatt.Event) {
	if !ev.Status.OK() {
		r.logger.WithFields(logrus.Fields{
			"status": ev.Status,
			"link":   ev.Link,
		}).Warn("Connection state event with error status")
	}

	switch ev.Link {
	case gatt.LinkConnected:
		r.manager.handleConnected(ev.Handle)
	case gatt.LinkDisconnected:
		r.manager.handleDisconnected(ev.Status)
	case gatt.LinkConnecting:
		r.manager.setState(device.StateConnecting)
	}
}

// invoke runs a session handler; a panicking handler is logged and never
// reaches the dispatcher.
func (r *Router) invoke(name string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.WithFields(logrus.Fields{
				"handler": name,
				"panic":   p,
			}).Error("Session handler panicked")
		}
	}()
	fn()
}
