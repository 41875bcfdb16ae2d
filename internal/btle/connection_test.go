package btle_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Micallam/MiBandPulse/internal/btle"
	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/Micallam/MiBandPulse/internal/testutils"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type stateRecorder struct {
	mu     sync.Mutex
	states []device.State
}

func (r *stateRecorder) record(s device.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s.State)
}

func (r *stateRecorder) get() []device.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.State(nil), r.states...)
}

type ConnectionSuite struct {
	testutils.FakeRadioSuite
	states *stateRecorder
}

func TestConnectionSuite(t *testing.T) {
	suite.Run(t, new(ConnectionSuite))
}

func (s *ConnectionSuite) SetupTest() {
	s.FakeRadioSuite.SetupTest()
	s.states = &stateRecorder{}
	s.Band.OnStateChanged(s.states.record)
}

func (s *ConnectionSuite) TestConnectDiscoversServices() {
	// GOAL: Connect MUST move the band through Connecting to Connected and populate the registry

	s.ConnectAndWait()

	s.Equal([]device.State{device.StateConnecting, device.StateConnected}, s.states.get())
	s.Len(s.Radio.CallsOf(testutils.OpDiscover), 1)
	s.NotNil(s.Engine.Registry().Get(measurementUUID))
	s.NotNil(s.Engine.Registry().Get(currentTimeUUID))
	s.Equal(s.Radio.Handle(), s.Engine.Manager().Handle())
}

func (s *ConnectionSuite) TestConnectWhenConnectedIsNoop() {
	s.ConnectAndWait()

	err := s.Engine.Connect(s.Context())
	s.ErrorIs(err, device.ErrAlreadyConnected)
	s.Len(s.Radio.CallsOf(testutils.OpConnect), 1, "a second connect MUST NOT reach the radio")
}

func (s *ConnectionSuite) TestConnectFailure() {
	s.Radio.Fail(testutils.OpConnect, errors.New("bluetooth is turned off"))

	err := s.Engine.Connect(s.Context())
	s.ErrorIs(err, device.ErrBluetoothOff)
	s.Equal(device.StateNotConnected, s.Band.State())
	s.Equal(gatt.Handle(0), s.Engine.Manager().Handle())
}

func (s *ConnectionSuite) TestDisconnect() {
	// GOAL: Disconnect MUST release the handle and ignore anything the old link still reports

	s.ConnectAndWait()
	old := s.Radio.Handle()

	var changed atomic.Int32
	s.Engine.SetDefaultHandlers(&btle.Handlers{
		OnCharacteristicChanged: func(uuid.UUID, []byte) { changed.Add(1) },
	})

	s.Require().NoError(s.Engine.Disconnect())
	s.Equal(device.StateNotConnected, s.Band.State())
	s.Equal(gatt.Handle(0), s.Engine.Manager().Handle())
	s.Require().Len(s.Radio.CallsOf(testutils.OpDisconnect), 1)
	s.Equal(old, s.Radio.CallsOf(testutils.OpDisconnect)[0].Handle)

	s.Radio.Notify(measurementUUID, []byte{0x00, 0x48})
	s.Settle()
	s.Zero(changed.Load(), "events from a released connection MUST be dropped")
}

func (s *ConnectionSuite) TestDropBeforeInitializationResets() {
	// GOAL: Losing a link that never finished the handshake MUST fully reset it

	s.ConnectAndWait()
	s.Radio.Drop(gatt.StatusConnectionTimeout)

	s.Eventually(func() bool { return s.Engine.Manager().Handle() == 0 },
		testutils.DefaultWait, testutils.DefaultTick, "handle MUST be released")
	s.Empty(s.Radio.CallsOf(testutils.OpReconnect))
	s.Len(s.Radio.CallsOf(testutils.OpDisconnect), 1)
	s.Equal(device.StateNotConnected, s.Band.State())
}

func (s *ConnectionSuite) TestDropAfterInitializationReconnects() {
	// GOAL: Losing an initialized link MUST resume the same connection
	//
	// TEST SCENARIO: Initialized → link drops → NotConnected → WaitingForReconnect → Connected, services rediscovered

	s.ConnectAndWait()
	s.Band.SetState(device.StateInitialized)
	handle := s.Radio.Handle()

	s.Radio.Drop(gatt.StatusRemoteTerminated)

	s.Eventually(func() bool { return len(s.Radio.CallsOf(testutils.OpDiscover)) == 2 },
		testutils.DefaultWait, testutils.DefaultTick, "services MUST be rediscovered after reconnecting")
	s.EventuallyState(device.StateConnected)
	s.Equal(handle, s.Engine.Manager().Handle(), "reconnect MUST keep the handle")
	s.Len(s.Radio.CallsOf(testutils.OpReconnect), 1)
	s.Empty(s.Radio.CallsOf(testutils.OpDisconnect))

	s.Equal([]device.State{
		device.StateConnecting,
		device.StateConnected,
		device.StateInitialized,
		device.StateNotConnected,
		device.StateWaitingForReconnect,
		device.StateConnected,
	}, s.states.get())
}

func (s *ConnectionSuite) TestReconnectRefusedResets() {
	s.ConnectAndWait()
	s.Band.SetState(device.StateInitialized)
	s.Radio.Fail(testutils.OpReconnect, errors.New("refused"))

	s.Radio.Drop(gatt.StatusRemoteTerminated)

	s.Eventually(func() bool { return s.Engine.Manager().Handle() == 0 },
		testutils.DefaultWait, testutils.DefaultTick)
	s.Len(s.Radio.CallsOf(testutils.OpDisconnect), 1)
}

func (s *ConnectionSuite) TestStaleEventsAreIgnored() {
	s.ConnectAndWait()

	var mu sync.Mutex
	var values [][]byte
	s.Engine.SetDefaultHandlers(&btle.Handlers{
		OnCharacteristicChanged: func(_ uuid.UUID, v []byte) {
			mu.Lock()
			values = append(values, v)
			mu.Unlock()
		},
	})

	s.Radio.Emit(gatt.CharacteristicChanged(s.Radio.Handle()+100, measurementUUID, []byte{0x00, 0x01}))
	s.Radio.Emit(gatt.ConnectionStateChanged(s.Radio.Handle()+100, gatt.StatusSuccess, gatt.LinkDisconnected))
	s.Radio.Notify(measurementUUID, []byte{0x00, 0x02})

	s.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(values) == 1
	}, testutils.DefaultWait, testutils.DefaultTick)
	mu.Lock()
	s.Equal([]byte{0x00, 0x02}, values[0])
	mu.Unlock()
	s.True(s.Band.IsConnected(), "a stale disconnect MUST NOT affect the current link")
}

func (s *ConnectionSuite) TestPanickingHandlerDoesNotStopRouting() {
	s.ConnectAndWait()

	got := make(chan []byte, 2)
	s.Engine.SetDefaultHandlers(&btle.Handlers{
		OnCharacteristicChanged: func(_ uuid.UUID, v []byte) {
			if v[0] == 0xff {
				panic("bad packet")
			}
			got <- v
		},
	})

	s.Radio.Notify(measurementUUID, []byte{0xff})
	s.Radio.Notify(measurementUUID, []byte{0x00, 0x50})

	s.Eventually(func() bool { return len(got) == 1 }, testutils.DefaultWait, testutils.DefaultTick)
	s.Equal([]byte{0x00, 0x50}, <-got)
	s.False(s.Engine.Dispatcher().Crashed())
}

func (s *ConnectionSuite) TestFailedDiscoveryKeepsRegistry() {
	s.ConnectAndWait()
	before := s.Engine.Registry().Len()

	s.Radio.Emit(gatt.ServicesDiscovered(s.Radio.Handle(), gatt.StatusFailure, nil))
	s.Settle()
	s.Equal(before, s.Engine.Registry().Len(), "a failed discovery MUST NOT clear the registry")
}

type NoReconnectSuite struct {
	testutils.FakeRadioSuite
}

func TestNoReconnectSuite(t *testing.T) {
	suite.Run(t, new(NoReconnectSuite))
}

func (s *NoReconnectSuite) SetupTest() {
	off := false
	s.AutoReconnect = &off
	s.FakeRadioSuite.SetupTest()
}

func (s *NoReconnectSuite) TestDropAfterInitializationResets() {
	s.ConnectAndWait()
	s.Band.SetState(device.StateInitialized)

	s.Radio.Drop(gatt.StatusRemoteTerminated)

	s.Eventually(func() bool { return s.Engine.Manager().Handle() == 0 },
		testutils.DefaultWait, testutils.DefaultTick)
	s.Empty(s.Radio.CallsOf(testutils.OpReconnect), "reconnect MUST be skipped when disabled")
	s.Equal(device.StateNotConnected, s.Band.State())
}

func TestConnectionManager_EmptyAddress(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	radio := testutils.NewFakeRadio()
	band := device.NewBand("  ", "", helper.Logger)
	d := btle.NewDispatcher(band, func() btle.Conn { return btle.Conn{} }, helper.Logger)
	m := btle.NewConnectionManager(radio, band, d, true, helper.Logger)

	err := m.Connect(context.Background())
	assert.Error(t, err)
	assert.Empty(t, radio.CallsOf(testutils.OpConnect))
	assert.False(t, m.IsCurrent(0), "the zero handle MUST never be current")
}
