package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/Micallam/MiBandPulse/internal/device"
)

// Command-level errors
var (
	// ErrNoSample is returned when a single measurement produced nothing in time.
	ErrNoSample = errors.New("no heart rate sample received")
)

// FormatUserError turns session errors into a message with a hint on what to try next.
func FormatUserError(err error) string {
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; turn it on and try again"
	case errors.Is(err, device.ErrDispatcherCrashed):
		return fmt.Sprintf("the session failed and cannot continue: %v", err)
	case errors.Is(err, device.ErrNotInitialized):
		return fmt.Sprintf("%v (is the auth key right? set auth_key in the config file)", err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%v (is the band nearby and not connected to another phone?)", err)
	default:
		return err.Error()
	}
}
