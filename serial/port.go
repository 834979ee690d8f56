// Package serial owns the physical connection to a GRBL controller:
// opening the OS serial device with the protocol-standard parameters
// and enumerating candidate ports.
package serial

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
)

var (
	// ErrPortUnavailable means the device node does not exist or is
	// already held open by another process.
	ErrPortUnavailable = errors.New("serial: port unavailable")
	// ErrPermissionDenied means the OS refused access to the device.
	ErrPermissionDenied = errors.New("serial: permission denied")
)

// DefaultBaud is the GRBL v1.1 standard rate. 8 data bits, no parity,
// one stop bit and no flow control are the driver defaults.
const DefaultBaud = 115200

// Open opens the serial device at path. The read side polls with a
// bounded timeout so Close from another goroutine unblocks a pending
// read within one timeout interval.
func Open(path string, baud int) (io.ReadWriteCloser, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        path,
		Baud:        baud,
		ReadTimeout: time.Second,
	})
	if err != nil {
		switch {
		case errors.Is(err, os.ErrPermission):
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, path)
		case errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", ErrPortUnavailable, path)
		}
		return nil, fmt.Errorf("serial: open %s: %w", path, err)
	}

	return &port2{port: port}, nil
}

// port2 re-blocks the driver's timeout reads so line scanners above
// see a continuous stream, while keeping Close idempotent and safe to
// call concurrently with a read.
type port2 struct {
	port   *serial.Port
	closed atomic.Bool
}

func (p *port2) Read(buf []byte) (int, error) {
	for {
		n, err := p.port.Read(buf)
		if p.closed.Load() {
			return n, io.EOF
		}
		if n == 0 && (err == nil || errors.Is(err, io.EOF)) {
			// read timeout, poll again
			continue
		}
		return n, err
	}
}

func (p *port2) Write(buf []byte) (int, error) { return p.port.Write(buf) }

func (p *port2) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.port.Close()
}
