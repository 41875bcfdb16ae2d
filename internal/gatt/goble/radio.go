package goble

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/Micallam/MiBandPulse/internal/groutine"
	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultEventBuffer is the capacity of the radio event channel.
const DefaultEventBuffer = 256

// DeviceFactory creates the platform ble.Device (can be overridden in tests).
var DeviceFactory = defaultDevice

// Client is the part of ble.Client the radio drives.
type Client interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	WriteDescriptor(d *ble.Descriptor, value []byte) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// Dialer opens a client connection to address.
type Dialer func(ctx context.Context, address string) (Client, error)

// Options configure the radio.
type Options struct {
	// ConnectTimeout bounds a single dial.
	ConnectTimeout time.Duration `default:"30s"`
	// Dial replaces the go-ble dialer; used by tests.
	Dial Dialer
}

// link is one logical connection. It outlives the go-ble client across reconnects.
type link struct {
	address string
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	client Client
	// dial generation, so a monitor of a replaced client stays quiet
	generation int
}

func (l *link) current() (Client, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client, l.generation
}

// Radio is a gatt.Radio backed by go-ble.
type Radio struct {
	logger *logrus.Logger
	opts   Options
	events chan gatt.Event
	links  *hashmap.Map[gatt.Handle, *link]

	mu     sync.Mutex
	next   gatt.Handle
	device ble.Device

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRadio(opts Options, logger *logrus.Logger) *Radio {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 30 * time.Second
	}
	r := &Radio{
		logger: logger,
		opts:   opts,
		events: make(chan gatt.Event, DefaultEventBuffer),
		links:  hashmap.New[gatt.Handle, *link](),
	}
	if r.opts.Dial == nil {
		r.opts.Dial = r.dial
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// dial creates the platform device once and dials through it.
func (r *Radio) dial(ctx context.Context, address string) (Client, error) {
	r.mu.Lock()
	if r.device == nil {
		dev, err := DeviceFactory()
		if err != nil {
			r.mu.Unlock()
			return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
		}
		r.device = dev
		ble.SetDefaultDevice(dev)
	}
	r.mu.Unlock()

	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Radio) Events() <-chan gatt.Event { return r.events }

// emit delivers ev unless its handle has been released.
func (r *Radio) emit(ev gatt.Event) {
	if _, ok := r.links.Get(ev.Handle); !ok {
		r.logger.WithField("event", ev.String()).Debug("Dropping event for a released handle")
		return
	}
	select {
	case r.events <- ev:
	case <-r.ctx.Done():
	}
}

func (r *Radio) link(h gatt.Handle) (*link, error) {
	l, ok := r.links.Get(h)
	if !ok {
		return nil, fmt.Errorf("%w: unknown handle %d", device.ErrNotConnected, h)
	}
	return l, nil
}

func (r *Radio) client(h gatt.Handle) (Client, error) {
	l, err := r.link(h)
	if err != nil {
		return nil, err
	}
	c, _ := l.current()
	if c == nil {
		return nil, fmt.Errorf("%w: handle %d has no live link", device.ErrNotConnected, h)
	}
	return c, nil
}

// Connect allocates a handle and dials in the background.
func (r *Radio) Connect(_ context.Context, address string) (gatt.Handle, error) {
	if strings.TrimSpace(address) == "" {
		return 0, fmt.Errorf("device address is empty")
	}
	if r.ctx.Err() != nil {
		return 0, fmt.Errorf("radio is closed")
	}

	r.mu.Lock()
	r.next++
	h := r.next
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(r.ctx)
	l := &link{address: address, ctx: ctx, cancel: cancel}
	r.links.Set(h, l)

	r.startDial(h, l)
	return h, nil
}

// Reconnect dials the address of an existing handle again.
func (r *Radio) Reconnect(h gatt.Handle) error {
	l, err := r.link(h)
	if err != nil {
		return err
	}
	r.startDial(h, l)
	return nil
}

func (r *Radio) startDial(h gatt.Handle, l *link) {
	log := r.logger.WithFields(logrus.Fields{
		"address": l.address,
		"handle":  h,
	})

	groutine.Go(l.ctx, "ble-dial", func(ctx context.Context) {
		dialCtx, cancel := context.WithTimeout(ctx, r.opts.ConnectTimeout)
		defer cancel()

		log.Debug("Dialing BLE device...")
		client, err := r.opts.Dial(dialCtx, l.address)
		if err != nil {
			log.WithField("error", err).Error("Failed to dial BLE device")
			r.emit(gatt.ConnectionStateChanged(h, gatt.StatusConnectionTimeout, gatt.LinkDisconnected))
			return
		}

		l.mu.Lock()
		if ctx.Err() != nil {
			l.mu.Unlock()
			_ = client.CancelConnection()
			return
		}
		l.client = client
		l.generation++
		generation := l.generation
		l.mu.Unlock()

		log.Info("BLE device connected")
		r.monitor(h, l, client, generation)
		r.emit(gatt.ConnectionStateChanged(h, gatt.StatusSuccess, gatt.LinkConnected))
	})
}

// monitor reports an unsolicited drop of client as a disconnect event.
func (r *Radio) monitor(h gatt.Handle, l *link, client Client, generation int) {
	groutine.Go(l.ctx, "ble-link-monitor", func(ctx context.Context) {
		select {
		case <-client.Disconnected():
		case <-ctx.Done():
			return
		}

		l.mu.Lock()
		current := l.generation == generation
		if current {
			l.client = nil
		}
		l.mu.Unlock()
		if !current {
			return
		}

		r.logger.WithFields(logrus.Fields{
			"address": l.address,
			"handle":  h,
		}).Warn("BLE link dropped")
		r.emit(gatt.ConnectionStateChanged(h, gatt.StatusRemoteTerminated, gatt.LinkDisconnected))
	})
}

// Disconnect releases h. Events still in flight for it are dropped.
func (r *Radio) Disconnect(h gatt.Handle) error {
	l, ok := r.links.Get(h)
	if !ok {
		return nil
	}
	r.links.Del(h)
	l.cancel()

	client, _ := l.current()
	if client == nil {
		return nil
	}
	if err := client.CancelConnection(); err != nil {
		return NormalizeError(err)
	}
	r.logger.WithFields(logrus.Fields{
		"address": l.address,
		"handle":  h,
	}).Info("BLE device disconnected")
	return nil
}

func (r *Radio) DiscoverServices(h gatt.Handle) error {
	client, err := r.client(h)
	if err != nil {
		return err
	}
	l, _ := r.link(h)

	groutine.Go(l.ctx, "ble-discover", func(context.Context) {
		profile, err := client.DiscoverProfile(true)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"handle": h,
				"error":  err,
			}).Error("Failed to discover profile")
			r.emit(gatt.ServicesDiscovered(h, gatt.StatusFailure, nil))
			return
		}
		services := ConvertProfile(profile)
		r.logger.WithFields(logrus.Fields{
			"handle":   h,
			"services": len(services),
		}).Debug("Profile discovered")
		r.emit(gatt.ServicesDiscovered(h, gatt.StatusSuccess, services))
	})
	return nil
}

func native(c *gatt.Characteristic) (*ble.Characteristic, error) {
	bc, ok := c.Native.(*ble.Characteristic)
	if !ok || bc == nil {
		return nil, fmt.Errorf("%s was not discovered by this radio", c)
	}
	return bc, nil
}

func (r *Radio) ReadCharacteristic(h gatt.Handle, c *gatt.Characteristic) error {
	client, err := r.client(h)
	if err != nil {
		return err
	}
	bc, err := native(c)
	if err != nil {
		return err
	}
	l, _ := r.link(h)

	groutine.Go(l.ctx, "ble-read", func(context.Context) {
		value, err := client.ReadCharacteristic(bc)
		r.emit(gatt.CharacteristicRead(h, statusOf(err), c.UUID, value))
	})
	return nil
}

func (r *Radio) WriteCharacteristic(h gatt.Handle, c *gatt.Characteristic, value []byte) error {
	client, err := r.client(h)
	if err != nil {
		return err
	}
	bc, err := native(c)
	if err != nil {
		return err
	}
	l, _ := r.link(h)
	value = append([]byte(nil), value...)
	noRsp := !c.Properties.Has(gatt.PropWrite) && c.Properties.Has(gatt.PropWriteNoResponse)

	groutine.Go(l.ctx, "ble-write", func(context.Context) {
		err := client.WriteCharacteristic(bc, value, noRsp)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"characteristic": c.String(),
				"error":          err,
			}).Warn("Characteristic write failed")
		}
		r.emit(gatt.CharacteristicWritten(h, statusOf(err), c.UUID))
	})
	return nil
}

// SetNotify subscribes or unsubscribes synchronously. go-ble writes the
// configuration descriptor as part of Subscribe. A characteristic without a
// configuration descriptor has nothing to subscribe to, so the toggle only
// succeeds locally.
func (r *Radio) SetNotify(h gatt.Handle, c *gatt.Characteristic, enable bool) error {
	client, err := r.client(h)
	if err != nil {
		return err
	}
	bc, err := native(c)
	if err != nil {
		return err
	}
	if bc.CCCD == nil {
		r.logger.WithFields(logrus.Fields{
			"characteristic": c.String(),
			"enable":         enable,
		}).Debug("No configuration descriptor, notification toggle is local only")
		return nil
	}
	indicate := !c.Properties.Has(gatt.PropNotify) && c.Properties.Has(gatt.PropIndicate)

	if !enable {
		return NormalizeError(client.Unsubscribe(bc, indicate))
	}
	char := c.UUID
	return NormalizeError(client.Subscribe(bc, indicate, func(data []byte) {
		r.emit(gatt.CharacteristicChanged(h, char, append([]byte(nil), data...)))
	}))
}

// WriteDescriptor writes a descriptor of c. The client configuration
// descriptor was already written by SetNotify and is acknowledged without a
// second transfer.
func (r *Radio) WriteDescriptor(h gatt.Handle, c *gatt.Characteristic, descriptor uuid.UUID, value []byte) error {
	client, err := r.client(h)
	if err != nil {
		return err
	}
	bc, err := native(c)
	if err != nil {
		return err
	}
	l, _ := r.link(h)

	if descriptor == gatt.ClientCharacteristicConfig {
		groutine.Go(l.ctx, "ble-descriptor-ack", func(context.Context) {
			r.emit(gatt.DescriptorWritten(h, gatt.StatusSuccess, c.UUID, descriptor))
		})
		return nil
	}

	var bd *ble.Descriptor
	for _, d := range bc.Descriptors {
		if ConvertUUID(d.UUID) == descriptor {
			bd = d
			break
		}
	}
	if bd == nil {
		return fmt.Errorf("%s has no descriptor %s", c, gatt.Describe(descriptor))
	}

	value = append([]byte(nil), value...)
	groutine.Go(l.ctx, "ble-write-descriptor", func(context.Context) {
		err := client.WriteDescriptor(bd, value)
		r.emit(gatt.DescriptorWritten(h, statusOf(err), c.UUID, descriptor))
	})
	return nil
}

// Close releases every handle and stops event delivery.
func (r *Radio) Close() error {
	var handles []gatt.Handle
	r.links.Range(func(h gatt.Handle, _ *link) bool {
		handles = append(handles, h)
		return true
	})

	var firstErr error
	for _, h := range handles {
		if err := r.Disconnect(h); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.cancel()
	return firstErr
}

func statusOf(err error) gatt.Status {
	if err == nil {
		return gatt.StatusSuccess
	}
	return gatt.StatusError
}

// ConvertUUID turns a go-ble UUID (little-endian bytes) into a canonical UUID.
func ConvertUUID(u ble.UUID) uuid.UUID {
	rev := ble.Reverse(u)
	switch len(rev) {
	case 2:
		return gatt.UUID16(binary.BigEndian.Uint16(rev))
	case 4:
		full := gatt.BaseUUID
		copy(full[:4], rev)
		return full
	case 16:
		var full uuid.UUID
		copy(full[:], rev)
		return full
	default:
		return uuid.Nil
	}
}

// ConvertProfile maps a discovered go-ble profile onto gatt services. Each
// characteristic keeps its go-ble object as Native.
func ConvertProfile(p *ble.Profile) []*gatt.Service {
	if p == nil {
		return nil
	}
	services := make([]*gatt.Service, 0, len(p.Services))
	for _, bs := range p.Services {
		svc := &gatt.Service{UUID: ConvertUUID(bs.UUID)}
		for _, bc := range bs.Characteristics {
			c := &gatt.Characteristic{
				UUID:       ConvertUUID(bc.UUID),
				Service:    svc.UUID,
				Properties: gatt.Property(bc.Property),
				Native:     bc,
			}
			for _, d := range bc.Descriptors {
				c.Descriptors = append(c.Descriptors, ConvertUUID(d.UUID))
			}
			if bc.CCCD != nil && !c.HasDescriptor(gatt.ClientCharacteristicConfig) {
				c.Descriptors = append(c.Descriptors, gatt.ClientCharacteristicConfig)
			}
			svc.Characteristics = append(svc.Characteristics, c)
		}
		services = append(services, svc)
	}
	return services
}
