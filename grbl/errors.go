package grbl

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDeviceResponse means nothing answered the connect probe
	// within the detection grace window.
	ErrNoDeviceResponse = errors.New("grbl: no device response")

	// ErrCancelled resolves pending commands released by disconnect,
	// abort or reset rather than by a device response.
	ErrCancelled = errors.New("grbl: command cancelled")

	// ErrTimeout resolves a command whose response did not arrive
	// within its timeout class. The engine treats it as a desync
	// signal and flushes queue accounting.
	ErrTimeout = errors.New("grbl: command timed out")

	// ErrClosed is returned when submitting to a closed client.
	ErrClosed = errors.New("grbl: connection closed")

	// ErrLineTooLong is returned for a line that can never fit the
	// device receive buffer.
	ErrLineTooLong = errors.New("grbl: line exceeds device buffer")
)

// CommandError is a device-reported `error:<n>` response. It fails the
// command that caused it but not the connection.
type CommandError struct {
	Code int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("grbl: error:%d", e.Code)
}

// AlarmError is raised on an asynchronous `ALARM:<n>` message. GRBL
// halts processing on alarm, so all pending commands fail with it; an
// explicit unlock or reset is required before further motion.
type AlarmError struct {
	Code int
}

func (e *AlarmError) Error() string {
	return fmt.Sprintf("grbl: ALARM:%d", e.Code)
}
