//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func init() {
	DeviceFactory = func() (ble.Device, error) {
		return linux.NewDevice()
	}
}
