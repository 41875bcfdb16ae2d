package testutils

import (
	"context"
	"time"

	"github.com/Micallam/MiBandPulse/internal/btle"
	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// FakeRadioSuite provides a reusable test suite with a running session
// engine over a FakeRadio.
//
// Basic usage (automatic setup with a default heart-rate profile):
//
//	type DispatcherSuite struct {
//	    testutils.FakeRadioSuite
//	}
//
//	func TestDispatcherSuite(t *testing.T) {
//	    suite.Run(t, new(DispatcherSuite))
//	}
//
// Custom profile usage:
//
//	func (s *DispatcherSuite) SetupTest() {
//	    s.WithProfile().
//	        WithService("180D").
//	        WithCharacteristic("2A37", "read,notify")
//
//	    s.FakeRadioSuite.SetupTest() // Call parent last to apply configuration
//	}
type FakeRadioSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Profile *ProfileBuilder
	Radio   *FakeRadio
	Band    *device.Band
	Engine  *btle.Engine

	// AutoReconnect is passed to the engine; it defaults to true.
	AutoReconnect *bool

	ctx    context.Context
	cancel context.CancelFunc
}

// BandAddress is the address every suite band uses.
const BandAddress = "C8:0F:10:00:00:01"

func (s *FakeRadioSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
}

// SetupTest builds the radio from the configured profile and starts the engine.
func (s *FakeRadioSuite) SetupTest() {
	if s.Profile == nil {
		s.Profile = defaultProfile()
	}
	autoReconnect := true
	if s.AutoReconnect != nil {
		autoReconnect = *s.AutoReconnect
	}

	s.Radio = s.Profile.BuildRadio()
	s.Band = device.NewBand(BandAddress, "Test Band", s.Logger)
	s.Engine = btle.NewEngine(s.Radio, s.Band, btle.Options{AutoReconnect: autoReconnect}, s.Logger)

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.Require().NoError(s.Engine.Start(s.ctx))
}

func (s *FakeRadioSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
	}
	s.Profile = nil
	s.AutoReconnect = nil
}

// WithProfile returns the profile builder for configuration in SetupTest.
func (s *FakeRadioSuite) WithProfile() *ProfileBuilder {
	if s.Profile == nil {
		s.Profile = NewProfileBuilder()
	}
	return s.Profile
}

func (s *FakeRadioSuite) Context() context.Context { return s.ctx }

// ConnectAndWait connects and waits until the band reports Connected and
// the registry has been populated.
func (s *FakeRadioSuite) ConnectAndWait() {
	s.Require().NoError(s.Engine.Connect(s.ctx))
	s.Require().Eventually(func() bool {
		return s.Band.IsConnected() && s.Engine.Registry().Len() > 0
	}, DefaultWait, DefaultTick, "band MUST connect and discover services")
}

// EventuallyState waits until the band reaches state.
func (s *FakeRadioSuite) EventuallyState(state device.State, msgAndArgs ...interface{}) {
	s.Require().Eventually(func() bool { return s.Band.State() == state }, DefaultWait, DefaultTick, msgAndArgs...)
}

// Settle gives asynchronous work a moment to run when a test asserts that something does not happen.
func (s *FakeRadioSuite) Settle() {
	time.Sleep(100 * time.Millisecond)
}

func defaultProfile() *ProfileBuilder {
	return NewProfileBuilder().FromJSON(`
	{
		"services": [
			{
				"uuid": "180D",
				"characteristics": [
					{ "uuid": "2A37", "properties": "read,notify" },
					{ "uuid": "2A39", "properties": "read,write" }
				]
			},
			{
				"uuid": "1805",
				"characteristics": [
					{ "uuid": "2A2B", "properties": "read,write,notify" }
				]
			}
		]
	}`)
}
