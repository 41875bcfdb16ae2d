package miband

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Micallam/MiBandPulse/internal/btle"
	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
)

// DefaultHeartRateHistory is the number of samples kept for late subscribers.
const DefaultHeartRateHistory uint32 = 256

// HeartRateSample is one decoded measurement.
type HeartRateSample struct {
	BPM  int       `json:"bpm"`
	Time time.Time `json:"time"`
}

// ParseHeartRate decodes the two-byte measurement payload {0x00, bpm}.
// A zero reading means the band has no contact and is reported as not ok.
func ParseHeartRate(value []byte) (int, bool) {
	if len(value) != 2 || value[0] != 0 {
		return 0, false
	}
	bpm := int(value[1])
	return bpm, bpm > 0
}

// HeartRateMonitor drives the heart-rate control point and decodes
// measurements. The most recent samples stay in an overlapping ring buffer
// so a consumer attaching late still sees them.
type HeartRateMonitor struct {
	support *Support
	logger  *logrus.Logger
	clock   func() time.Time

	history     mpmc.RichOverlappedRingBuffer[HeartRateSample]
	overwritten atomic.Int64

	mu        sync.Mutex
	listeners []func(HeartRateSample)
	notifying bool
}

// NewHeartRateMonitor routes measurement notifications of s to the monitor.
func NewHeartRateMonitor(s *Support, historySize uint32) *HeartRateMonitor {
	if historySize == 0 {
		historySize = DefaultHeartRateHistory
	}
	m := &HeartRateMonitor{
		support: s,
		logger:  s.logger,
		clock:   s.opts.Clock,
		history: mpmc.NewOverlappedRingBuffer[HeartRateSample](historySize),
	}
	s.OnCharacteristicChanged(HeartRateMeasurement, m.handleMeasurement)
	s.band.OnStateChanged(m.onStateChanged)
	return m
}

// onStateChanged forgets the subscription once the band leaves Initialized.
// A resumed link starts without subscriptions, and queued toggles were discarded.
func (m *HeartRateMonitor) onStateChanged(snap device.Snapshot) {
	if snap.State.IsInitialized() {
		return
	}
	m.mu.Lock()
	m.notifying = false
	m.mu.Unlock()
}

// OnSample registers fn for every new sample.
func (m *HeartRateMonitor) OnSample(fn func(HeartRateSample)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

func (m *HeartRateMonitor) handleMeasurement(value []byte) {
	bpm, ok := ParseHeartRate(value)
	if !ok {
		m.logger.WithField("value", fmt.Sprintf("% x", value)).Debug("Ignoring heart rate payload")
		return
	}

	sample := HeartRateSample{BPM: bpm, Time: m.clock()}
	overwrites, err := m.history.EnqueueM(sample)
	if err != nil {
		m.logger.WithField("error", err).Warn("Failed to record heart rate sample")
	}
	m.overwritten.Add(int64(overwrites))

	m.logger.WithFields(logrus.Fields{
		"address": m.support.band.Address(),
		"bpm":     bpm,
	}).Debug("Heart rate sample")

	m.mu.Lock()
	listeners := append(([]func(HeartRateSample))(nil), m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(sample)
	}
}

// Drain removes and returns the buffered samples, oldest first.
func (m *HeartRateMonitor) Drain() []HeartRateSample {
	var out []HeartRateSample
	for !m.history.IsEmpty() {
		s, err := m.history.Dequeue()
		if err != nil {
			break
		}
		out = append(out, s)
	}
	return out
}

// Overwritten reports how many samples were dropped from the history because nobody drained them.
func (m *HeartRateMonitor) Overwritten() int64 { return m.overwritten.Load() }

// toggleNotify adds a measurement notification toggle unless it is already in that state.
func (m *HeartRateMonitor) toggleNotify(b *btle.Builder, enable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.notifying == enable {
		return
	}
	b.Notify(m.support.Characteristic(HeartRateMeasurement), enable)
	m.notifying = enable
}

// EnableRealtime starts or stops continuous measurement.
func (m *HeartRateMonitor) EnableRealtime(enable bool) error {
	b, err := m.support.PerformInitialized("enable realtime heart rate measurement")
	if err != nil {
		return err
	}
	cp, err := m.support.engine.Registry().Lookup(HeartRateControlPoint)
	if err != nil {
		return err
	}

	if enable {
		b.Write(cp, stopHeartMeasurementManual).
			Write(cp, startHeartMeasurementContinuous)
	} else {
		b.Write(cp, stopHeartMeasurementContinuous)
	}
	m.toggleNotify(b, enable)
	return m.support.Queue(b)
}

// MeasureOnce requests a single manual measurement.
func (m *HeartRateMonitor) MeasureOnce() error {
	b, err := m.support.PerformInitialized("heart rate test")
	if err != nil {
		return err
	}
	cp, err := m.support.engine.Registry().Lookup(HeartRateControlPoint)
	if err != nil {
		return err
	}

	m.toggleNotify(b, true)
	b.Write(cp, stopHeartMeasurementContinuous).
		Write(cp, stopHeartMeasurementManual).
		Write(cp, startHeartMeasurementManual)
	return m.support.Queue(b)
}

// SetMeasurementInterval sets how often the band measures on its own.
// Zero disables periodic measurement; the interval is clamped to two hours.
func (m *HeartRateMonitor) SetMeasurementInterval(d time.Duration) error {
	minutes := int(d / time.Minute)
	switch {
	case minutes < 0:
		minutes = 0
	case minutes > maxHeartRateIntervalMinutes:
		minutes = maxHeartRateIntervalMinutes
	}

	b, err := m.support.PerformInitialized("set heart rate measurement interval")
	if err != nil {
		return err
	}
	cp, err := m.support.engine.Registry().Lookup(HeartRateControlPoint)
	if err != nil {
		return err
	}

	m.logger.WithFields(logrus.Fields{
		"address": m.support.band.Address(),
		"minutes": minutes,
	}).Info("Setting heart rate measurement interval")

	b.Notify(cp, true).
		Write(cp, []byte{cmdHeartRateInterval, byte(minutes)}).
		Notify(cp, false)
	return m.support.Queue(b)
}

// Realtime reports whether measurement notifications are on.
func (m *HeartRateMonitor) Realtime() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifying
}
