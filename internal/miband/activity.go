package miband

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Micallam/MiBandPulse/internal/btle"
	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
)

const (
	activityRecordSize  = 4
	activityBufferSize  = 1 << 20
	activityMetadataLen = 15
	activityBusyTask    = "fetching activity data"
)

// ActivityRecord is one minute of activity as stored by the band.
type ActivityRecord struct {
	Time      time.Time `json:"time"`
	Kind      int       `json:"kind"`
	Intensity int       `json:"intensity"`
	Steps     int       `json:"steps"`
	HeartRate int       `json:"heart_rate"`
}

// PacketCounter validates the sequence byte that prefixes every activity packet.
type PacketCounter struct {
	last byte
}

// NewPacketCounter returns a counter that expects 0x00 next.
func NewPacketCounter() *PacketCounter {
	return &PacketCounter{last: 0xff}
}

// Reset makes last the previously accepted counter.
func (c *PacketCounter) Reset(last byte) { c.last = last }

func (c *PacketCounter) Last() byte { return c.last }

// Accept checks a packet and returns its records without the counter byte.
func (c *PacketCounter) Accept(value []byte) ([]byte, error) {
	if len(value)%activityRecordSize != 1 {
		return nil, fmt.Errorf("%w: activity packet of %d bytes", device.ErrProtocolMismatch, len(value))
	}
	if want := c.last + 1; value[0] != want {
		return nil, fmt.Errorf("%w: activity packet counter %#02x, expected %#02x", device.ErrProtocolMismatch, value[0], want)
	}
	c.last = value[0]
	return value[1:], nil
}

// DecodeActivity splits raw record bytes into records one minute apart from start.
func DecodeActivity(start time.Time, raw []byte) []ActivityRecord {
	records := make([]ActivityRecord, 0, len(raw)/activityRecordSize)
	for i := 0; i+activityRecordSize <= len(raw); i += activityRecordSize {
		records = append(records, ActivityRecord{
			Time:      start.Add(time.Duration(i/activityRecordSize) * time.Minute),
			Kind:      int(raw[i]),
			Intensity: int(raw[i+1]),
			Steps:     int(raw[i+2]),
			HeartRate: int(raw[i+3]),
		})
	}
	return records
}

type fetchResult struct {
	records []ActivityRecord
	err     error
}

// ActivityFetcher runs the two-step activity data exchange on the fetch and
// activity data characteristics. One fetch runs at a time.
type ActivityFetcher struct {
	support  *Support
	logger   *logrus.Logger
	handlers *btle.Handlers

	mu      sync.Mutex
	buf     *ringbuffer.RingBuffer
	counter *PacketCounter
	start   time.Time
	result  chan fetchResult
}

func NewActivityFetcher(s *Support) *ActivityFetcher {
	f := &ActivityFetcher{
		support: s,
		logger:  s.logger,
		buf:     ringbuffer.New(activityBufferSize),
		counter: NewPacketCounter(),
	}
	defaults := s.DefaultHandlers()
	f.handlers = &btle.Handlers{
		OnServicesDiscovered:    defaults.OnServicesDiscovered,
		OnCharacteristicRead:    defaults.OnCharacteristicRead,
		OnCharacteristicChanged: f.onCharacteristicChanged,
	}
	return f
}

// Fetch downloads the activity recorded since the given time and blocks until
// the band reports the end of the transfer, the link drops or ctx is done.
func (f *ActivityFetcher) Fetch(ctx context.Context, since time.Time) ([]ActivityRecord, error) {
	s := f.support
	b, err := s.PerformInitialized("fetch activity data")
	if err != nil {
		return nil, err
	}
	fetch, err := s.engine.Registry().Lookup(Fetch)
	if err != nil {
		return nil, err
	}
	activity, err := s.engine.Registry().Lookup(ActivityData)
	if err != nil {
		return nil, err
	}

	result := make(chan fetchResult, 1)
	f.mu.Lock()
	if f.result != nil {
		f.mu.Unlock()
		return nil, errors.New("an activity fetch is already running")
	}
	f.result = result
	f.buf.Reset()
	f.counter = NewPacketCounter()
	f.start = time.Time{}
	f.mu.Unlock()

	lost := make(chan struct{}, 1)
	unsubscribe := s.band.OnStateChanged(func(snap device.Snapshot) {
		if !snap.State.IsConnected() {
			select {
			case lost <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	f.logger.WithFields(logrus.Fields{
		"address": s.band.Address(),
		"since":   since.Format(time.RFC3339),
	}).Info("Fetching activity data")

	cmd := append([]byte{cmdActivityDataStartDate, activityDataTypeActivity}, TimeBytes(since, Minutes)...)
	s.SetLowLatency(b)
	b.SetBusy(s.band, activityBusyTask).
		Notify(activity, false).
		Notify(fetch, true).
		WriteWithHandlers(fetch, cmd, f.handlers)
	if err := s.Queue(b); err != nil {
		f.finish(nil, err)
	}

	select {
	case res := <-result:
		return res.records, res.err
	case <-lost:
		err = fmt.Errorf("%w: link lost during activity fetch", device.ErrNotConnected)
	case <-ctx.Done():
		err = ctx.Err()
	}

	// A reply may have finished the fetch in the meantime; whichever outcome came first wins.
	f.finish(nil, err)
	res := <-result
	return res.records, res.err
}

func (f *ActivityFetcher) onCharacteristicChanged(char uuid.UUID, value []byte) {
	switch char {
	case Fetch:
		f.handleFetchReply(value)
	case ActivityData:
		f.handleActivityData(value)
	default:
		f.support.onCharacteristicChanged(char, value)
	}
}

func (f *ActivityFetcher) running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result != nil
}

func (f *ActivityFetcher) handleFetchReply(value []byte) {
	if !f.running() {
		f.logger.WithField("value", fmt.Sprintf("% x", value)).Debug("Fetch reply without a running fetch")
		return
	}

	switch {
	case len(value) == activityMetadataLen && bytes.HasPrefix(value, responseActivityStartDateSuccess):
		start, err := DecodeTime(value[7:])
		if err != nil {
			f.finish(nil, err)
			return
		}
		f.mu.Lock()
		f.start = start
		f.mu.Unlock()

		f.logger.WithField("start", start.Format(time.RFC3339)).Debug("Activity data available")

		s := f.support
		b := s.NewBuilder("fetch activity data, step 2").
			SetHandlers(f.handlers).
			Notify(s.Characteristic(ActivityData), true).
			Write(s.Characteristic(Fetch), []byte{cmdFetchData})
		if err := s.PerformImmediately(b); err != nil {
			f.finish(nil, err)
		}

	case bytes.Equal(value, responseFinishSuccess):
		f.mu.Lock()
		raw := make([]byte, f.buf.Length())
		start := f.start
		f.mu.Unlock()

		if len(raw) > 0 {
			if _, err := f.buf.Read(raw); err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
				f.finish(nil, fmt.Errorf("failed to read activity buffer: %w", err))
				return
			}
		}
		f.finish(DecodeActivity(start, raw), nil)

	default:
		f.finish(nil, fmt.Errorf("%w: unexpected fetch reply % x", device.ErrProtocolMismatch, value))
	}
}

func (f *ActivityFetcher) handleActivityData(value []byte) {
	f.mu.Lock()
	if f.result == nil {
		f.mu.Unlock()
		return
	}
	payload, err := f.counter.Accept(value)
	if err == nil {
		_, err = f.buf.Write(payload)
	}
	counter := f.counter.Last()
	f.mu.Unlock()

	if err != nil {
		f.logger.WithFields(logrus.Fields{
			"counter": counter,
			"error":   err,
		}).Warn("Aborting activity fetch")
		f.finish(nil, err)
	}
}

// finish restores the band to its idle configuration and delivers the
// outcome of the running fetch, once. The cleanup is queued before the
// outcome so a follow-up fetch runs after it.
func (f *ActivityFetcher) finish(records []ActivityRecord, err error) {
	f.mu.Lock()
	result := f.result
	f.result = nil
	f.mu.Unlock()
	if result == nil {
		return
	}
	defer func() { result <- fetchResult{records: records, err: err} }()

	s := f.support
	s.band.UnsetBusyTask()
	if !s.band.IsConnected() {
		return
	}

	b := s.NewBuilder("fetch activity data, cleanup").
		Notify(s.Characteristic(ActivityData), false)
	s.SetHighLatency(b)
	if qerr := s.Queue(b); qerr != nil {
		f.logger.WithField("error", qerr).Warn("Failed to queue activity fetch cleanup")
	}
}
