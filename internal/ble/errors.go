package ble

import (
	"errors"
	"fmt"

	"github.com/gion86/SmartLamp/internal/ble/protocol"
)

var (
	// ErrNoConnection is reported when a batch is sent while the link is
	// down or the serial characteristic is unresolved.
	ErrNoConnection = errors.New("ble: no connection")
	// ErrWriteTimeout is reported when a frame write did not complete
	// within the send timeout.
	ErrWriteTimeout = errors.New("ble: write timeout")
	// ErrAckTimeout is reported when no acknowledgment line arrived
	// within the receive timeout after a command was fully written.
	ErrAckTimeout = errors.New("ble: acknowledgment timeout")
	// ErrServiceUnsupported is reported when the peripheral lacks the
	// serial bridge service or characteristic.
	ErrServiceUnsupported = errors.New("ble: serial service not supported")
	// ErrEmptyCommand is returned by Enqueue for an empty command.
	ErrEmptyCommand = errors.New("ble: empty command")
	// ErrQueueFull is returned by Enqueue when the pending queue is at capacity.
	ErrQueueFull = errors.New("ble: command queue full")
	// ErrClosed is returned by operations on a closed Client.
	ErrClosed = errors.New("ble: client closed")
)

// CommandError ties a batch failure to the command that caused it.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%v on command %q", e.Err, e.Command)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Status is the numeric outcome code surfaced to user interfaces.
type Status int

const (
	StatusSuccess            Status = 0
	StatusWriteTimeout       Status = -1
	StatusAckTimeout         Status = -2
	StatusNoConnection       Status = -3
	StatusServiceUnsupported Status = -4
	StatusInvalidParameter   Status = -5
	StatusTransport          Status = -6
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusWriteTimeout:
		return "write timeout"
	case StatusAckTimeout:
		return "ack timeout"
	case StatusNoConnection:
		return "no connection"
	case StatusServiceUnsupported:
		return "service unsupported"
	case StatusInvalidParameter:
		return "invalid parameter"
	default:
		return "transport error"
	}
}

// StatusOf maps an error returned or reported by this package to its Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrWriteTimeout):
		return StatusWriteTimeout
	case errors.Is(err, ErrAckTimeout):
		return StatusAckTimeout
	case errors.Is(err, ErrNoConnection):
		return StatusNoConnection
	case errors.Is(err, ErrServiceUnsupported):
		return StatusServiceUnsupported
	case errors.Is(err, protocol.ErrInvalidParameter), errors.Is(err, ErrEmptyCommand):
		return StatusInvalidParameter
	default:
		return StatusTransport
	}
}
