package ble

import "tinygo.org/x/bluetooth"

// writeChar sends a write command. BlueZ exposes no write request here, so
// it returns once the frame is handed to the controller, not when the
// bridge has received it.
func writeChar(char *bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := char.WriteWithoutResponse(data)
	return err
}
