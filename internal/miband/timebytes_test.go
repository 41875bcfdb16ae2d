package miband_test

import (
	"testing"
	"time"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/Micallam/MiBandPulse/internal/miband"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var plusTwo = time.FixedZone("UTC+2", 2*60*60)

func TestTimeBytes(t *testing.T) {
	// GOAL: Encode the band time layouts byte for byte
	ts := time.Date(2024, time.March, 15, 14, 5, 30, 0, plusTwo) // a Friday

	assert.Equal(t, []byte{0xE8, 0x07, 0x03, 0x0F, 0x0E, 0x05}, miband.ShortTimeBytes(ts))
	assert.Equal(t, []byte{0xE8, 0x07, 0x03, 0x0F, 0x0E, 0x05, 0x1E, 0x05, 0x00}, miband.LongTimeBytes(ts))
	assert.Equal(t, byte(8), miband.TimeZoneByte(ts), "UTC+2 MUST be eight quarter hours")

	assert.Equal(t,
		[]byte{0xE8, 0x07, 0x03, 0x0F, 0x0E, 0x05, 0x00, 0x08},
		miband.TimeBytes(ts, miband.Minutes))
	assert.Equal(t,
		[]byte{0xE8, 0x07, 0x03, 0x0F, 0x0E, 0x05, 0x1E, 0x05, 0x00, 0x00, 0x08},
		miband.TimeBytes(ts, miband.Seconds))
}

func TestTimeBytes_WeekdayAndZones(t *testing.T) {
	tests := []struct {
		name    string
		ts      time.Time
		weekday byte
		zone    byte
	}{
		{"sunday is seven", time.Date(2024, time.March, 17, 8, 0, 0, 0, time.UTC), 7, 0},
		{"monday is one", time.Date(2024, time.March, 18, 8, 0, 0, 0, time.UTC), 1, 0},
		{"negative offset", time.Date(2024, time.March, 18, 8, 0, 0, 0, time.FixedZone("UTC-5", -5*3600)), 1, 0xEC},
		{"half hour offset", time.Date(2024, time.March, 18, 8, 0, 0, 0, time.FixedZone("UTC+5:30", 5*3600+1800)), 1, 22},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			long := miband.LongTimeBytes(tt.ts)
			assert.Equal(t, tt.weekday, long[7])
			assert.Equal(t, tt.zone, miband.TimeZoneByte(tt.ts))
		})
	}
}

func TestDecodeTime(t *testing.T) {
	t.Run("with zone byte", func(t *testing.T) {
		got, err := miband.DecodeTime([]byte{0xE8, 0x07, 0x03, 0x0F, 0x0E, 0x05, 0x1E, 0x08})
		require.NoError(t, err)

		want := time.Date(2024, time.March, 15, 14, 5, 30, 0, plusTwo)
		assert.True(t, want.Equal(got), "got %s, want %s", got, want)
		_, offset := got.Zone()
		assert.Equal(t, 2*60*60, offset)
	})

	t.Run("without zone byte uses local time", func(t *testing.T) {
		got, err := miband.DecodeTime([]byte{0xE8, 0x07, 0x03, 0x0F, 0x0E, 0x05, 0x1E})
		require.NoError(t, err)
		assert.Equal(t, time.Local, got.Location())
		assert.Equal(t, 30, got.Second())
	})

	t.Run("round trip", func(t *testing.T) {
		ts := time.Date(2023, time.December, 31, 23, 59, 59, 0, time.FixedZone("", -3*3600))
		long := miband.LongTimeBytes(ts)
		got, err := miband.DecodeTime(append(long[:7:7], miband.TimeZoneByte(ts)))
		require.NoError(t, err)
		assert.True(t, ts.Equal(got))
	})

	t.Run("too short", func(t *testing.T) {
		_, err := miband.DecodeTime([]byte{0xE8, 0x07, 0x03})
		assert.ErrorIs(t, err, device.ErrProtocolMismatch)
	})

	t.Run("month out of range", func(t *testing.T) {
		_, err := miband.DecodeTime([]byte{0xE8, 0x07, 0x0D, 0x0F, 0x0E, 0x05, 0x1E})
		assert.ErrorIs(t, err, device.ErrProtocolMismatch)
	})
}

func TestLatencyPayloads(t *testing.T) {
	assert.Equal(t,
		[]byte{0xCC, 0x01, 0xF4, 0x01, 0x00, 0x00, 0xF4, 0x01, 0x00, 0x00, 0x00, 0x00},
		miband.HighLatency.Bytes())
	assert.Equal(t,
		[]byte{0x27, 0x00, 0x31, 0x00, 0x00, 0x00, 0xF4, 0x01, 0x00, 0x00, 0x00, 0x00},
		miband.LowLatency.Bytes())
}

func TestDecodeCurrentTime(t *testing.T) {
	ts := time.Date(2024, time.March, 15, 14, 5, 30, 0, plusTwo)

	got, err := miband.DecodeCurrentTime(miband.TimeBytes(ts, miband.Seconds))
	require.NoError(t, err)
	assert.True(t, ts.Equal(got), "a written clock MUST read back unchanged, got %s", got)

	got, err = miband.DecodeCurrentTime(miband.LongTimeBytes(ts))
	require.NoError(t, err)
	assert.Equal(t, 14, got.Hour())
}
