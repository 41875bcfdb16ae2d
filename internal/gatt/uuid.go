package gatt

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// BaseUUID is the Bluetooth SIG base; 16-bit identifiers occupy bytes 2..3.
var BaseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// ClientCharacteristicConfig is the descriptor that switches notifications and indications.
var ClientCharacteristicConfig = UUID16(0x2902)

// UUID16 expands a 16-bit assigned number into its 128-bit form.
func UUID16(short uint16) uuid.UUID {
	u := BaseUUID
	binary.BigEndian.PutUint16(u[2:4], short)
	return u
}

// ParseUUID accepts the canonical 128-bit form (with or without dashes), a
// 4-digit assigned number, or either of them prefixed with 0x.
func ParseUUID(s string) (uuid.UUID, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if len(s) == 4 {
		var short uint16
		if _, err := fmt.Sscanf(s, "%04x", &short); err != nil {
			return uuid.Nil, fmt.Errorf("invalid 16-bit UUID %q: %w", s, err)
		}
		return UUID16(short), nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}

// MustParseUUID is like ParseUUID but panics on malformed input. Intended for constants.
func MustParseUUID(s string) uuid.UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// IsShort reports whether u lives in the SIG base range.
func IsShort(u uuid.UUID) bool {
	return u[0] == 0 && u[1] == 0 && [12]byte(u[4:]) == [12]byte(BaseUUID[4:])
}

// ShortString renders SIG-range UUIDs as their 4-digit form and everything else canonically.
func ShortString(u uuid.UUID) string {
	if IsShort(u) {
		return fmt.Sprintf("%04x", binary.BigEndian.Uint16(u[2:4]))
	}
	return u.String()
}
