package gatt_test

import (
	"testing"

	"github.com/Micallam/MiBandPulse/internal/gatt"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUUID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2A37", "00002a37-0000-1000-8000-00805f9b34fb"},
		{"0x2902", "00002902-0000-1000-8000-00805f9b34fb"},
		{"00000009-0000-3512-2118-0009af100700", "00000009-0000-3512-2118-0009af100700"},
		{"not-a-uuid", ""},
		{"zz12", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := gatt.ParseUUID(tt.in)
			if tt.want == "" {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestShortString(t *testing.T) {
	assert.Equal(t, "2a2b", gatt.ShortString(gatt.UUID16(0x2A2B)))
	assert.Equal(t, "00000009-0000-3512-2118-0009af100700",
		gatt.ShortString(uuid.MustParse("00000009-0000-3512-2118-0009af100700")))
	assert.True(t, gatt.IsShort(gatt.ClientCharacteristicConfig))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Heart Rate Measurement (2a37)", gatt.Describe(gatt.UUID16(0x2a37)))

	vendor := uuid.MustParse("0000aaaa-0000-3512-2118-0009af100700")
	assert.Equal(t, vendor.String(), gatt.Describe(vendor))
	gatt.RegisterName(vendor, "Vendor Test")
	assert.Equal(t, "Vendor Test (0000aaaa-0000-3512-2118-0009af100700)", gatt.Describe(vendor))
}

func TestPropertyAndStatus(t *testing.T) {
	p := gatt.PropRead | gatt.PropNotify
	assert.True(t, p.Has(gatt.PropNotify))
	assert.False(t, p.Has(gatt.PropWrite))
	assert.Equal(t, "read,notify", p.String())

	assert.True(t, gatt.StatusSuccess.OK())
	assert.False(t, gatt.StatusWriteNotPermitted.OK())
	assert.Equal(t, "write not permitted", gatt.StatusWriteNotPermitted.String())
	assert.Equal(t, "status 0x42", gatt.Status(0x42).String())
}

func TestCharacteristic_HasDescriptor(t *testing.T) {
	c := &gatt.Characteristic{UUID: gatt.UUID16(0x2a37), Descriptors: []uuid.UUID{gatt.ClientCharacteristicConfig}}
	assert.True(t, c.HasDescriptor(gatt.ClientCharacteristicConfig))
	assert.False(t, c.HasDescriptor(gatt.UUID16(0x2901)))
	assert.Equal(t, "Heart Rate Measurement (2a37)", c.String())
}
