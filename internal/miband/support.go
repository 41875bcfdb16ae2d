package miband

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Micallam/MiBandPulse/internal/btle"
	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/cornelk/hashmap"
	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// Options configure a session.
type Options struct {
	// AuthKey is the 16-byte handshake secret; DefaultAuthKey when empty.
	AuthKey []byte
	// AutoReconnect resumes an initialized session after the link drops.
	AutoReconnect bool `default:"true"`
	// ConnectAttempts bounds ConnectFirstTime.
	ConnectAttempts int `default:"5"`
	// ConnectTimeout bounds one ConnectFirstTime attempt, from connect to initialized.
	ConnectTimeout time.Duration `default:"30s"`
	// Clock returns the time written to the band; time.Now when nil.
	Clock func() time.Time
}

// DefaultOptions returns the options with their tag defaults and the factory auth key.
func DefaultOptions() Options {
	var opts Options
	defaults.SetDefaults(&opts)
	opts.AuthKey = append([]byte(nil), DefaultAuthKey...)
	return opts
}

type readResult struct {
	value  []byte
	status gatt.Status
}

// Support is one session with one band. It owns the session engine, runs
// the authentication handshake after every service discovery and routes
// value changes to the features built on top of it.
type Support struct {
	logger *logrus.Logger
	engine *btle.Engine
	band   *device.Band
	opts   Options
	key    []byte

	// characteristic-changed routing table
	changed *hashmap.Map[string, func([]byte)]
	reads   *hashmap.Map[string, chan readResult]
}

// NewSupport creates a session over radio for band. Start must be called before connecting.
func NewSupport(radio gatt.Radio, band *device.Band, opts Options, logger *logrus.Logger) (*Support, error) {
	if logger == nil {
		logger = logrus.New()
	}
	key := opts.AuthKey
	if len(key) == 0 {
		key = DefaultAuthKey
	}
	if len(key) != authChallengeLen {
		return nil, fmt.Errorf("auth key must be %d bytes, got %d", authChallengeLen, len(key))
	}
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Support{
		logger:  logger,
		band:    band,
		opts:    opts,
		key:     append([]byte(nil), key...),
		engine:  btle.NewEngine(radio, band, btle.Options{AutoReconnect: opts.AutoReconnect}, logger),
		changed: hashmap.New[string, func([]byte)](),
		reads:   hashmap.New[string, chan readResult](),
	}
	s.changed.Set(Auth.String(), s.handleAuth)
	s.engine.Dispatcher().OnCrash(func(err error) {
		s.logger.WithFields(logrus.Fields{
			"address": band.Address(),
			"error":   err,
		}).Error("Session failed permanently, create a new session to continue")
	})
	s.engine.SetDefaultHandlers(s.DefaultHandlers())
	return s, nil
}

// Start launches the session workers. They stop when ctx is done.
func (s *Support) Start(ctx context.Context) error {
	return s.engine.Start(ctx)
}

func (s *Support) Band() *device.Band { return s.band }

func (s *Support) Engine() *btle.Engine { return s.engine }

// Err returns the permanent failure of the session, or nil.
func (s *Support) Err() error { return s.engine.Dispatcher().Err() }

// Characteristic returns the discovered characteristic, or nil before discovery.
func (s *Support) Characteristic(u uuid.UUID) *gatt.Characteristic {
	return s.engine.Registry().Get(u)
}

// Connect requests a connection. It returns device.ErrAlreadyConnected when there is nothing to do.
func (s *Support) Connect(ctx context.Context) error {
	return s.engine.Connect(ctx)
}

// ConnectFirstTime connects and waits for the handshake, retrying up to
// ConnectAttempts times.
func (s *Support) ConnectFirstTime(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= s.opts.ConnectAttempts; attempt++ {
		log := s.logger.WithFields(logrus.Fields{
			"address": s.band.Address(),
			"attempt": attempt,
		})

		if err := s.Connect(ctx); err != nil && !errors.Is(err, device.ErrAlreadyConnected) {
			log.WithField("error", err).Warn("Connect attempt failed")
			lastErr = err
			continue
		}

		err := s.waitInitialized(ctx, s.opts.ConnectTimeout)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, device.ErrDispatcherCrashed) {
			return err
		}

		log.WithField("error", err).Warn("Band did not finish initializing")
		lastErr = err
		if derr := s.Disconnect(); derr != nil {
			log.WithField("error", derr).Debug("Disconnect after failed attempt")
		}
	}
	return fmt.Errorf("failed to initialize band %s after %d attempts: %w", s.band.Address(), s.opts.ConnectAttempts, lastErr)
}

func (s *Support) waitInitialized(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return s.WaitForState(ctx, device.StateInitialized)
}

// WaitForState blocks until the band reaches at least state, ctx is done or the session fails.
func (s *Support) WaitForState(ctx context.Context, state device.State) error {
	reached := make(chan struct{}, 1)
	unsubscribe := s.band.OnStateChanged(func(snap device.Snapshot) {
		if snap.State >= state {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if s.band.State() >= state {
		return nil
	}

	select {
	case <-reached:
		return nil
	case <-s.engine.Dispatcher().Done():
		if err := s.Err(); err != nil {
			return err
		}
		return fmt.Errorf("session stopped before %s: %w", state, context.Canceled)
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s (state is %s): %w", state, s.band.State(), ctx.Err())
	}
}

// Disconnect releases the connection and drops all pending work.
func (s *Support) Disconnect() error {
	return s.engine.Disconnect()
}

// Dispose disconnects and stops the session workers.
func (s *Support) Dispose() error {
	s.logger.WithField("address", s.band.Address()).Debug("Disposing session")
	return s.engine.Close()
}

// Flush waits until every transaction queued so far has run.
func (s *Support) Flush(ctx context.Context) error {
	signal := btle.NewSignalAction()
	if err := s.Queue(s.NewBuilder("flush").Add(signal)); err != nil {
		return err
	}
	select {
	case <-signal.Done():
		return nil
	case <-s.engine.Dispatcher().Done():
		if err := s.Err(); err != nil {
			return err
		}
		return errors.New("session stopped before the queue drained")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PerformInitialized returns a builder for work that needs an authenticated band.
func (s *Support) PerformInitialized(name string) (*btle.Builder, error) {
	if !s.band.IsInitialized() {
		return nil, fmt.Errorf("%w: %s is %s", device.ErrNotInitialized, s.band.Address(), s.band.State())
	}
	return s.NewBuilder(name), nil
}

// PerformImmediately runs the transaction ahead of everything queued.
func (s *Support) PerformImmediately(b *btle.Builder) error {
	if !s.band.IsConnected() {
		return fmt.Errorf("%w: %s", device.ErrNotConnected, s.band.Address())
	}
	return s.engine.Insert(b.Transaction())
}

// Queue appends the transaction to the session queue.
func (s *Support) Queue(b *btle.Builder) error {
	return b.Queue(s.engine)
}

func (s *Support) NewBuilder(name string) *btle.Builder {
	return btle.NewBuilder(name, s.logger)
}

// OnCharacteristicChanged routes value changes of u to fn, replacing any previous route.
func (s *Support) OnCharacteristicChanged(u uuid.UUID, fn func(value []byte)) {
	s.changed.Set(u.String(), fn)
}

// DefaultHandlers are the session handlers in effect when no transaction installed its own.
func (s *Support) DefaultHandlers() *btle.Handlers {
	return &btle.Handlers{
		OnServicesDiscovered:    s.onServicesDiscovered,
		OnCharacteristicChanged: s.onCharacteristicChanged,
		OnCharacteristicRead:    s.onCharacteristicRead,
	}
}

func (s *Support) onServicesDiscovered(services []*gatt.Service) {
	state := s.band.State()
	if state >= device.StateInitializing {
		s.logger.WithFields(logrus.Fields{
			"address": s.band.Address(),
			"state":   state,
		}).Debug("Services discovered, but band is already initializing, ignoring")
		return
	}

	if err := s.Queue(s.initialize(s.NewBuilder("initializing device"))); err != nil {
		s.logger.WithField("error", err).Error("Failed to queue initialization")
	}
}

func (s *Support) onCharacteristicChanged(char uuid.UUID, value []byte) {
	if fn, ok := s.changed.Get(char.String()); ok {
		fn(value)
		return
	}
	s.logger.WithFields(logrus.Fields{
		"characteristic": gatt.Describe(char),
		"value":          fmt.Sprintf("% x", value),
	}).Debug("Unhandled characteristic changed")
}

func (s *Support) onCharacteristicRead(char uuid.UUID, value []byte, status gatt.Status) {
	ch, ok := s.reads.Get(char.String())
	if !ok {
		return
	}
	s.reads.Del(char.String())
	ch <- readResult{value: append([]byte(nil), value...), status: status}
}

// initialize enables the notifications the handshake needs and sends the key.
func (s *Support) initialize(b *btle.Builder) *btle.Builder {
	b.SetState(s.band, device.StateInitializing)
	s.enableNotifications(b, true)
	b.SetState(s.band, device.StateAuthenticating)
	b.Write(s.Characteristic(Auth), sendKeyCommand(s.key))
	return b
}

func (s *Support) enableNotifications(b *btle.Builder, enable bool) {
	b.Notify(s.Characteristic(Notification), enable)
	b.Notify(s.Characteristic(CurrentTime), enable)
	b.Notify(s.Characteristic(Auth), enable)
}

// EnableFurtherNotifications toggles the steady-state notification set.
func (s *Support) EnableFurtherNotifications(b *btle.Builder, enable bool) *Support {
	b.Notify(s.Characteristic(Configuration), enable)
	b.Notify(s.Characteristic(BatteryInfo), enable)
	b.Notify(s.Characteristic(DeviceEvent), enable)
	b.Notify(s.Characteristic(Audio), enable)
	b.Notify(s.Characteristic(AudioData), enable)
	return s
}

func (s *Support) handleAuth(value []byte) {
	log := s.logger.WithField("address", s.band.Address())

	round, err := parseAuthReply(value)
	if err != nil {
		log.WithField("error", err).Warn("Authentication aborted")
		return
	}
	log.WithField("round", round).Debug("Auth reply received")

	auth := s.Characteristic(Auth)
	var b *btle.Builder
	switch round {
	case roundKeyAccepted:
		b = s.NewBuilder("requesting random auth number").
			Write(auth, requestRandomCommand())

	case roundChallenge:
		ciphertext, err := encryptChallenge(s.key, value)
		if err != nil {
			log.WithField("error", err).Warn("Authentication aborted")
			return
		}
		b = s.NewBuilder("sending encrypted auth number").
			Write(auth, sendEncryptedCommand(ciphertext))
		s.SetCurrentTime(b)

	case roundAuthenticated:
		log.Info("Band authenticated")
		b = s.NewBuilder("authenticated, enabling notifications")
		s.EnableFurtherNotifications(b, true)
		b.SetState(s.band, device.StateInitialized)
	}

	if err := s.PerformImmediately(b); err != nil {
		log.WithFields(logrus.Fields{
			"round": round,
			"error": err,
		}).Warn("Failed to continue authentication")
	}
}

// SetCurrentTime adds a write of the session clock to the current-time characteristic.
func (s *Support) SetCurrentTime(b *btle.Builder) *Support {
	b.Write(s.Characteristic(CurrentTime), TimeBytes(s.opts.Clock(), Seconds))
	return s
}

// SetTime pushes the session clock to the band.
func (s *Support) SetTime() error {
	b, err := s.PerformInitialized("set time")
	if err != nil {
		return err
	}
	if _, err := s.engine.Registry().Lookup(CurrentTime); err != nil {
		return err
	}
	s.SetCurrentTime(b)
	return s.Queue(b)
}

// ReadTime reads and decodes the band clock.
func (s *Support) ReadTime(ctx context.Context) (time.Time, error) {
	value, err := s.Read(ctx, CurrentTime)
	if err != nil {
		return time.Time{}, err
	}
	return DecodeCurrentTime(value)
}

// Read queues a read of u and waits for its value.
func (s *Support) Read(ctx context.Context, u uuid.UUID) ([]byte, error) {
	b, err := s.PerformInitialized("read " + gatt.Describe(u))
	if err != nil {
		return nil, err
	}
	char, err := s.engine.Registry().Lookup(u)
	if err != nil {
		return nil, err
	}

	ch := make(chan readResult, 1)
	if !s.reads.Insert(u.String(), ch) {
		return nil, fmt.Errorf("a read of %s is already pending", gatt.Describe(u))
	}
	defer s.reads.Del(u.String())

	if err := s.Queue(b.Read(char)); err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		if !res.status.OK() {
			return nil, fmt.Errorf("%w: read %s: %s", device.ErrHardwareStatus, gatt.Describe(u), res.status)
		}
		return res.value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SetHighLatency adds a write of the power-saving connection parameters.
func (s *Support) SetHighLatency(b *btle.Builder) *Support {
	b.Write(s.Characteristic(ConnectionParameters), HighLatency.Bytes())
	return s
}

// SetLowLatency adds a write of the throughput connection parameters, used for bulk transfers.
func (s *Support) SetLowLatency(b *btle.Builder) *Support {
	b.Write(s.Characteristic(ConnectionParameters), LowLatency.Bytes())
	return s
}

// Pair adds the band-level pair request.
func (s *Support) Pair(b *btle.Builder) *Support {
	s.logger.WithField("address", s.band.Address()).Debug("Attempting to pair band")
	b.Write(s.Characteristic(PairCharacteristic), []byte{0x02})
	return s
}
