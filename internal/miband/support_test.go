package miband_test

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/Micallam/MiBandPulse/internal/miband"
	"github.com/Micallam/MiBandPulse/internal/testutils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

const miBandProfile = `
{
	"services": [
		{
			"uuid": "FEE0",
			"characteristics": [
				{ "uuid": "FF03", "properties": "read,notify" },
				{ "uuid": "FF09", "properties": "read,write" },
				{ "uuid": "FF0F", "properties": "write" },
				{ "uuid": "2A2B", "properties": "read,write,notify" },
				{ "uuid": "00000003-0000-3512-2118-0009af100700", "properties": "read,write,notify" },
				{ "uuid": "00000004-0000-3512-2118-0009af100700", "properties": "write,notify" },
				{ "uuid": "00000005-0000-3512-2118-0009af100700", "properties": "notify" },
				{ "uuid": "00000006-0000-3512-2118-0009af100700", "properties": "read,notify" },
				{ "uuid": "00000010-0000-3512-2118-0009af100700", "properties": "notify" },
				{ "uuid": "00000012-0000-3512-2118-0009af100700", "properties": "notify" },
				{ "uuid": "00000013-0000-3512-2118-0009af100700", "properties": "notify" }
			]
		},
		{
			"uuid": "FEE1",
			"characteristics": [
				{ "uuid": "00000009-0000-3512-2118-0009af100700", "properties": "write,notify" }
			]
		},
		{
			"uuid": "180D",
			"characteristics": [
				{ "uuid": "2A37", "properties": "read,notify" },
				{ "uuid": "2A39", "properties": "read,write" }
			]
		}
	]
}`

var (
	bandNow   = time.Date(2024, time.March, 15, 14, 5, 30, 0, plusTwo)
	challenge = []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f}
)

type stateRecorder struct {
	mu     sync.Mutex
	states []device.State
}

func (r *stateRecorder) record(s device.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.states); n > 0 && r.states[n-1] == s.State {
		return // busy task changes repeat the state
	}
	r.states = append(r.states, s.State)
}

func (r *stateRecorder) get() []device.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]device.State(nil), r.states...)
}

// sessionSuite runs a Support session over a FakeRadio that answers the
// handshake the way a band provisioned with the factory key does.
type sessionSuite struct {
	suite.Suite

	Logger  *logrus.Logger
	Radio   *testutils.FakeRadio
	Band    *device.Band
	Support *miband.Support
	states  *stateRecorder

	// rejectKey makes the band answer the key with a failure status.
	rejectKey atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (s *sessionSuite) SetupTest() {
	s.Logger = testutils.NewTestHelper(s.T()).Logger
	s.rejectKey.Store(false)

	s.Radio = testutils.NewProfileBuilder().FromJSON(miBandProfile).BuildRadio()
	s.Radio.OnWrite(s.answerAuth)

	s.Band = device.NewBand(testutils.BandAddress, "Mi Band 2", s.Logger)
	s.states = &stateRecorder{}
	s.Band.OnStateChanged(s.states.record)

	opts := miband.DefaultOptions()
	opts.ConnectTimeout = testutils.DefaultWait
	opts.ConnectAttempts = 2
	opts.Clock = func() time.Time { return bandNow }

	support, err := miband.NewSupport(s.Radio, s.Band, opts, s.Logger)
	s.Require().NoError(err)
	s.Support = support

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.Require().NoError(s.Support.Start(s.ctx))
}

func (s *sessionSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *sessionSuite) answerAuth(r *testutils.FakeRadio, _ gatt.Handle, char uuid.UUID, value []byte) {
	if char != miband.Auth || len(value) == 0 {
		return
	}
	switch value[0] {
	case 0x01:
		if s.rejectKey.Load() {
			r.Notify(miband.Auth, []byte{0x10, 0x01, 0x04})
			return
		}
		r.Notify(miband.Auth, []byte{0x10, 0x01, 0x01})
	case 0x02:
		r.Notify(miband.Auth, append([]byte{0x10, 0x02, 0x01}, challenge...))
	case 0x03:
		want, err := miband.EncryptECB(miband.DefaultAuthKey, challenge)
		if err != nil || !bytes.Equal(want, value[2:]) {
			r.Notify(miband.Auth, []byte{0x10, 0x03, 0x04})
			return
		}
		r.Notify(miband.Auth, []byte{0x10, 0x03, 0x01})
	}
}

func (s *sessionSuite) connectInitialized() {
	s.Require().NoError(s.Support.ConnectFirstTime(s.ctx))
	s.Require().True(s.Band.IsInitialized())
}

func (s *sessionSuite) eventuallyWrites(char uuid.UUID, n int, msgAndArgs ...interface{}) [][]byte {
	s.Require().Eventually(func() bool { return len(s.Radio.Writes(char)) >= n },
		testutils.DefaultWait, testutils.DefaultTick, msgAndArgs...)
	return s.Radio.Writes(char)
}

func (s *sessionSuite) notifyEnabled(char uuid.UUID) []bool {
	var out []bool
	for _, c := range s.Radio.CallsOf(testutils.OpSetNotify) {
		if c.Characteristic == char {
			out = append(out, c.Enable)
		}
	}
	return out
}

type SupportSuite struct {
	sessionSuite
}

func TestSupportSuite(t *testing.T) {
	suite.Run(t, new(SupportSuite))
}

func (s *SupportSuite) TestHandshakeReachesInitialized() {
	// GOAL: A first connect MUST authenticate and end Initialized
	//
	// TEST SCENARIO: connect → discover → notify on → key → random request → encrypted challenge + time → further notifications → Initialized

	s.connectInitialized()

	s.Equal([]device.State{
		device.StateConnecting,
		device.StateConnected,
		device.StateInitializing,
		device.StateAuthenticating,
		device.StateInitialized,
	}, s.states.get(), "state path MUST be monotonic")

	ciphertext, err := miband.EncryptECB(miband.DefaultAuthKey, challenge)
	s.Require().NoError(err)
	s.Equal([][]byte{
		append([]byte{0x01, 0x00}, miband.DefaultAuthKey...),
		{0x02, 0x00},
		append([]byte{0x03, 0x00}, ciphertext...),
	}, s.Radio.Writes(miband.Auth))

	timeWrites := s.Radio.Writes(miband.CurrentTime)
	s.Require().Len(timeWrites, 1, "the clock MUST be set during the handshake")
	s.Len(timeWrites[0], 11)
	s.Equal(miband.TimeBytes(bandNow, miband.Seconds), timeWrites[0])

	for _, char := range []uuid.UUID{miband.Notification, miband.CurrentTime, miband.Auth,
		miband.Configuration, miband.BatteryInfo, miband.DeviceEvent, miband.Audio, miband.AudioData} {
		s.Equal([]bool{true}, s.notifyEnabled(char), "notifications MUST be enabled on %s", gatt.Describe(char))
	}
}

func (s *SupportSuite) TestInitializationOrder() {
	s.connectInitialized()

	var ops []string
	for _, c := range s.Radio.Calls() {
		switch c.Op {
		case testutils.OpSetNotify, testutils.OpWrite:
			ops = append(ops, c.String())
		}
	}
	s.Require().GreaterOrEqual(len(ops), 4)
	s.Equal([]string{
		"set-notify ff03 true",
		"set-notify 2a2b true",
		"set-notify " + gatt.ShortString(miband.Auth) + " true",
	}, ops[:3], "notifications MUST be enabled before the key is sent")
}

func (s *SupportSuite) TestRejectedKeyStaysAuthenticating() {
	// GOAL: A failure status from the band MUST abort the handshake without tearing down the link
	s.rejectKey.Store(true)

	s.Require().NoError(s.Support.Connect(s.ctx))
	s.Require().Eventually(func() bool { return s.Band.State() == device.StateAuthenticating },
		testutils.DefaultWait, testutils.DefaultTick)

	s.Never(func() bool { return s.Band.State() != device.StateAuthenticating },
		200*time.Millisecond, testutils.DefaultTick, "state MUST stay Authenticating")
	s.Len(s.Radio.Writes(miband.Auth), 1, "no further rounds MUST be sent")
	s.Empty(s.Radio.CallsOf(testutils.OpDisconnect))
}

func (s *SupportSuite) TestConnectFirstTimeGivesUp() {
	s.rejectKey.Store(true)

	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()

	opts := miband.DefaultOptions()
	opts.ConnectTimeout = 100 * time.Millisecond
	opts.ConnectAttempts = 2
	radio := testutils.NewProfileBuilder().FromJSON(miBandProfile).BuildRadio()
	radio.OnWrite(s.answerAuth)
	support, err := miband.NewSupport(radio, device.NewBand(testutils.BandAddress, "", s.Logger), opts, s.Logger)
	s.Require().NoError(err)
	s.Require().NoError(support.Start(ctx))

	err = support.ConnectFirstTime(ctx)
	s.Error(err)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Len(radio.CallsOf(testutils.OpConnect), 2, "every attempt MUST connect again")
	s.Len(radio.CallsOf(testutils.OpDisconnect), 2, "a failed attempt MUST release its link")
}

func (s *SupportSuite) TestPerformRequiresState() {
	_, err := s.Support.PerformInitialized("too early")
	s.ErrorIs(err, device.ErrNotInitialized)

	err = s.Support.PerformImmediately(s.Support.NewBuilder("too early"))
	s.ErrorIs(err, device.ErrNotConnected)

	s.ErrorIs(s.Support.SetTime(), device.ErrNotInitialized)
}

func (s *SupportSuite) TestSetTime() {
	s.connectInitialized()

	s.Require().NoError(s.Support.SetTime())
	writes := s.eventuallyWrites(miband.CurrentTime, 2)
	s.Equal(miband.TimeBytes(bandNow, miband.Seconds), writes[1])
}

func (s *SupportSuite) TestFlushWaitsForQueuedWork() {
	s.connectInitialized()

	s.Require().NoError(s.Support.SetTime())
	ctx, cancel := context.WithTimeout(s.ctx, testutils.DefaultWait)
	defer cancel()
	s.Require().NoError(s.Support.Flush(ctx))

	s.Len(s.Radio.Writes(miband.CurrentTime), 2, "the time write MUST have run before flush returns")
}

func (s *SupportSuite) TestReadTime() {
	s.Radio.SetReadValue(miband.CurrentTime, []byte{0xE8, 0x07, 0x03, 0x0F, 0x0E, 0x05, 0x1E, 0x05, 0x00, 0x00, 0x08})
	s.connectInitialized()

	got, err := s.Support.ReadTime(s.ctx)
	s.Require().NoError(err)
	s.True(bandNow.Equal(got), "got %s", got)
}

func (s *SupportSuite) TestReadFailureStatus() {
	s.connectInitialized()
	s.Radio.SetAckStatus(miband.BatteryInfo, gatt.StatusFailure)

	_, err := s.Support.Read(s.ctx, miband.BatteryInfo)
	s.ErrorIs(err, device.ErrHardwareStatus)
}

func (s *SupportSuite) TestLatencyAndPair() {
	s.connectInitialized()

	b, err := s.Support.PerformInitialized("latency and pair")
	s.Require().NoError(err)
	s.Support.SetLowLatency(b).SetHighLatency(b).Pair(b)
	s.Require().NoError(s.Support.Queue(b))

	s.Equal([][]byte{miband.LowLatency.Bytes(), miband.HighLatency.Bytes()},
		s.eventuallyWrites(miband.ConnectionParameters, 2))
	s.Equal([][]byte{{0x02}}, s.eventuallyWrites(miband.PairCharacteristic, 1))
}

func (s *SupportSuite) TestReconnectRunsHandshakeAgain() {
	// GOAL: A resumed link MUST be authenticated again before it is usable
	//
	// TEST SCENARIO: Initialized → link drops → reconnect → services rediscovered → full handshake → Initialized

	s.connectInitialized()
	handle := s.Radio.Handle()

	s.Radio.Drop(gatt.StatusRemoteTerminated)

	s.eventuallyWrites(miband.Auth, 6, "the handshake MUST run again")
	s.Require().NoError(s.Support.WaitForState(s.ctx, device.StateInitialized))
	s.Len(s.Radio.CallsOf(testutils.OpReconnect), 1)
	s.Equal(handle, s.Support.Engine().Manager().Handle())
}

func (s *SupportSuite) TestCharacteristicChangedRouting() {
	s.connectInitialized()

	got := make(chan []byte, 1)
	// Routes are keyed by value, so a separately parsed UUID MUST hit the same route.
	s.Support.OnCharacteristicChanged(gatt.MustParseUUID(miband.DeviceEvent.String()), func(v []byte) { got <- v })
	s.Radio.Notify(miband.DeviceEvent, []byte{0x04})

	select {
	case v := <-got:
		s.Equal([]byte{0x04}, v)
	case <-time.After(testutils.DefaultWait):
		s.Fail("device event MUST reach its route")
	}
}

func (s *SupportSuite) TestDispose() {
	s.connectInitialized()

	s.Require().NoError(s.Support.Dispose())
	s.Equal(device.StateNotConnected, s.Band.State())
	s.Len(s.Radio.CallsOf(testutils.OpDisconnect), 1)
}

func TestNewSupport_InvalidKey(t *testing.T) {
	opts := miband.DefaultOptions()
	opts.AuthKey = []byte{1, 2, 3}

	_, err := miband.NewSupport(testutils.NewFakeRadio(), device.NewBand(testutils.BandAddress, "", nil), opts, nil)
	if err == nil {
		t.Fatal("a short auth key MUST be rejected")
	}
}

func TestDefaultOptions(t *testing.T) {
	opts := miband.DefaultOptions()
	if !opts.AutoReconnect || opts.ConnectAttempts != 5 || opts.ConnectTimeout != 30*time.Second {
		t.Fatalf("unexpected defaults: %+v", opts)
	}
	if !bytes.Equal(miband.DefaultAuthKey, opts.AuthKey) {
		t.Fatalf("default key MUST be the factory key")
	}
}
