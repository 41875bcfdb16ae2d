//go:build !linux && !darwin

package goble

import (
	"fmt"
	"runtime"

	"github.com/Micallam/MiBandPulse/internal/device"
	"github.com/go-ble/ble"
)

func defaultDevice() (ble.Device, error) {
	return nil, fmt.Errorf("%w: no BLE backend for %s", device.ErrUnsupported, runtime.GOOS)
}
