// Package ble drives a SmartLamp over Bluetooth Low Energy through an
// HM-10 class serial bridge. It owns the connection, serializes commands
// onto the bridge's single RX/TX characteristic, waits for the lamp's
// acknowledgment of each one and reports outcomes as events.
package ble

import "context"

// HM-10 serial bridge UUIDs. The same characteristic carries writes and
// notifications.
const (
	SerialServiceUUID = "0000ffe0-0000-1000-8000-00805f9b34fb"
	SerialCharUUID    = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends one frame and returns once the platform reports the
	// write complete. It may block for an unbounded time.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	// The callback runs on a platform goroutine and must not block.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	// A missing service or characteristic yields an error wrapping
	// ErrServiceUnsupported.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals advertising the given service UUID.
	// Returns discovered devices until ctx is cancelled or timeout.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}
