package miband

import (
	"fmt"
	"time"

	"github.com/Micallam/MiBandPulse/internal/device"
)

// Precision selects the time payload layout.
type Precision int

const (
	// Minutes is the 6-byte form used by fetch requests.
	Minutes Precision = iota
	// Seconds is the 9-byte form used to set the band clock.
	Seconds
)

// ShortTimeBytes encodes year, month, day, hour and minute.
func ShortTimeBytes(t time.Time) []byte {
	year := t.Year()
	return []byte{
		byte(year & 0xff),
		byte((year >> 8) & 0xff),
		byte(t.Month()),
		byte(t.Day()),
		byte(t.Hour()),
		byte(t.Minute()),
	}
}

// LongTimeBytes extends the short form with seconds, the ISO weekday and an
// unused fractions byte.
func LongTimeBytes(t time.Time) []byte {
	return append(ShortTimeBytes(t), byte(t.Second()), isoWeekday(t), 0)
}

func isoWeekday(t time.Time) byte {
	if t.Weekday() == time.Sunday {
		return 7
	}
	return byte(t.Weekday())
}

// TimeZoneByte is the UTC offset of t in quarter hours.
func TimeZoneByte(t time.Time) byte {
	_, offset := t.Zone()
	return byte(int8(offset / (15 * 60)))
}

// TimeBytes returns the full payload: the time in the requested precision
// followed by a zero adjust-reason byte and the time zone byte.
func TimeBytes(t time.Time, p Precision) []byte {
	var b []byte
	switch p {
	case Seconds:
		b = LongTimeBytes(t)
	default:
		b = ShortTimeBytes(t)
	}
	return append(b, 0, TimeZoneByte(t))
}

// DecodeTime parses [year lo, year hi, month, day, hour, minute, second]
// with an optional trailing time zone byte in quarter hours. Without it the
// time is interpreted in the local zone.
func DecodeTime(b []byte) (time.Time, error) {
	if len(b) < 7 {
		return time.Time{}, fmt.Errorf("%w: time payload needs 7 bytes, got %d", device.ErrProtocolMismatch, len(b))
	}

	loc := time.Local
	if len(b) > 7 {
		quarters := int(int8(b[7]))
		loc = time.FixedZone("", quarters*15*60)
	}

	year := int(b[0]) | int(b[1])<<8
	month := time.Month(b[2])
	if month < time.January || month > time.December {
		return time.Time{}, fmt.Errorf("%w: month %d out of range", device.ErrProtocolMismatch, b[2])
	}
	return time.Date(year, month, int(b[3]), int(b[4]), int(b[5]), int(b[6]), 0, loc), nil
}

// DecodeCurrentTime parses a value read back from the current-time
// characteristic, which carries the layout TimeBytes writes with Seconds
// precision: the zone byte sits after weekday, fractions and adjust reason.
func DecodeCurrentTime(b []byte) (time.Time, error) {
	if len(b) >= 11 {
		return DecodeTime(append(b[:7:7], b[10]))
	}
	if len(b) > 7 {
		b = b[:7]
	}
	return DecodeTime(b)
}
