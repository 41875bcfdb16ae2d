package main

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"

	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/Micallam/MiBandPulse/internal/miband"
	"github.com/Micallam/MiBandPulse/internal/testutils"
	"github.com/Micallam/MiBandPulse/pkg/config"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

const bandProfile = `
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
	challenge = bytes.Repeat([]byte{0x5a}, 16)

	// 2024-03-15 14:05:30, UTC+2
	bandClock = []byte{0xE8, 0x07, 0x03, 0x0F, 0x0E, 0x05, 0x1E, 0x05, 0x00, 0x00, 0x08}

	// three minutes of activity starting 2024-03-15 14:05, UTC+2
	fetchMetadata = []byte{0x10, 0x01, 0x01, 0x03, 0x00, 0x00, 0x00, 0xE8, 0x07, 0x03, 0x0F, 0x0E, 0x05, 0x00, 0x08}
	fetchPackets  = [][]byte{
		{0x00, 1, 20, 5, 70, 1, 30, 10, 72},
		{0x01, 2, 0, 0, 255},
	}
)

// CommandTestSuite runs commands against a FakeRadio scripted as a Mi Band 2
// provisioned with the factory key.
type CommandTestSuite struct {
	suite.Suite

	Logger *logrus.Logger
	Radio  *testutils.FakeRadio

	// quiet stops the band from producing heart rate samples.
	quiet atomic.Bool

	previousFactory func(*config.Config, *logrus.Logger) gatt.Radio
}

func (s *CommandTestSuite) SetupTest() {
	s.Logger = testutils.NewTestHelper(s.T()).Logger
	s.quiet.Store(false)

	s.Radio = testutils.NewProfileBuilder().FromJSON(bandProfile).BuildRadio()
	s.Radio.OnWrite(s.answer)
	s.Radio.SetReadValue(miband.CurrentTime, bandClock)
	s.Radio.SetReadValue(miband.BatteryInfo, []byte{0x0f, 87, 0x00})

	s.previousFactory = radioFactory
	radioFactory = func(*config.Config, *logrus.Logger) gatt.Radio { return s.Radio }
}

func (s *CommandTestSuite) TearDownTest() {
	radioFactory = s.previousFactory
}

func (s *CommandTestSuite) answer(r *testutils.FakeRadio, _ gatt.Handle, char uuid.UUID, value []byte) {
	if len(value) == 0 {
		return
	}
	switch char {
	case miband.Auth:
		switch value[0] {
		case 0x01:
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

	case miband.HeartRateControlPoint:
		if s.quiet.Load() || len(value) != 3 || value[0] != 0x15 || value[2] != 0x01 {
			return
		}
		if value[1] == 0x01 {
			r.Notify(miband.HeartRateMeasurement, []byte{0x00, 72})
			r.Notify(miband.HeartRateMeasurement, []byte{0x00, 75})
			return
		}
		r.Notify(miband.HeartRateMeasurement, []byte{0x00, 68})

	case miband.Fetch:
		switch value[0] {
		case 0x01:
			r.Notify(miband.Fetch, fetchMetadata)
		case 0x02:
			for _, p := range fetchPackets {
				r.Notify(miband.ActivityData, p)
			}
			r.Notify(miband.Fetch, []byte{0x10, 0x02, 0x01})
		}
	}
}

// ExecuteCommand runs a fresh command tree with args and returns stdout, stderr and the error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, string, error) {
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd := newRootCmd()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

// Lines splits command output into non-empty lines.
func (s *CommandTestSuite) Lines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
