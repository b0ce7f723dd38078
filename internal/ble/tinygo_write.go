//go:build darwin || windows

package ble

import "tinygo.org/x/bluetooth"

// writeChar sends a write request, so it returns once the bridge has
// confirmed the frame.
func writeChar(char *bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := char.Write(data)
	return err
}
