package gatt

import (
	"sync"

	"github.com/google/uuid"
)

var (
	namesMu sync.RWMutex
	names   = map[uuid.UUID]string{
		UUID16(0x1800): "Generic Access",
		UUID16(0x1801): "Generic Attribute",
		UUID16(0x1805): "Current Time Service",
		UUID16(0x180a): "Device Information",
		UUID16(0x180d): "Heart Rate",
		UUID16(0x180f): "Battery Service",
		UUID16(0x2a00): "Device Name",
		UUID16(0x2a19): "Battery Level",
		UUID16(0x2a2b): "Current Time",
		UUID16(0x2a37): "Heart Rate Measurement",
		UUID16(0x2a39): "Heart Rate Control Point",
		UUID16(0x2902): "Client Characteristic Configuration",
	}
)

// RegisterName adds a vendor name used when logging a UUID.
func RegisterName(u uuid.UUID, name string) {
	namesMu.Lock()
	defer namesMu.Unlock()
	names[u] = name
}

// Name returns the known name of u, or "" when it has none.
func Name(u uuid.UUID) string {
	namesMu.RLock()
	defer namesMu.RUnlock()
	return names[u]
}

// Describe formats u for log lines, e.g. "Heart Rate Measurement (2a37)".
func Describe(u uuid.UUID) string {
	if n := Name(u); n != "" {
		return n + " (" + ShortString(u) + ")"
	}
	return ShortString(u)
}
