package miband

// ParseBatteryLevel returns the charge percentage from a battery info value.
// The level is the second byte; the first is a status flag.
func ParseBatteryLevel(value []byte) (int, bool) {
	if len(value) < 2 || value[1] > 100 {
		return 0, false
	}
	return int(value[1]), true
}
