package grbl

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/gcode"
)

// Realtime control characters. GRBL consumes these immediately from
// its interrupt handler, so they bypass the byte-budget flow control
// entirely.
const (
	charStatus     = '?'
	charFeedHold   = '!'
	charCycleStart = '~'
	charReset      = 0x18
)

// Submit enqueues one command line, respecting flow control, and
// returns a channel that yields exactly one result when the line's
// slot resolves (ok, error:<n>, timeout or cancellation).
func (c *Client) Submit(line string) (<-chan error, error) {
	line = strings.TrimSpace(line)

	cost := len(line) + 1 // newline terminator
	if cost > c.opts.BufferSize {
		return nil, ErrLineTooLong
	}

	// GRBL accepts `$h` too
	timeout := c.opts.CommandTimeout
	if strings.EqualFold(line, "$H") {
		timeout = c.opts.HomingTimeout
	}

	s := &slot{
		line:    line,
		cost:    cost,
		timeout: timeout,
		done:    make(chan error, 1),
	}

	select {
	case c.submitCh <- s:
		return s.done, nil
	case <-c.closeCh:
		return nil, ErrClosed
	case <-c.doneCh:
		return nil, ErrClosed
	}
}

// Send submits line and waits for its resolution or ctx cancellation.
// A nil return means the device answered ok.
func (c *Client) Send(ctx context.Context, line string) error {
	done, err := c.Submit(line)
	if err != nil {
		return err
	}
	select {
	case err = <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) realtime(b byte) error {
	select {
	case c.realtimeCh <- b:
		return nil
	case <-c.closeCh:
		return ErrClosed
	case <-c.doneCh:
		return ErrClosed
	}
}

// Poll requests an immediate status report, outside the regular
// polling cadence.
func (c *Client) Poll() error { return c.realtime(charStatus) }

// FeedHold pauses motion without discarding the queued program.
func (c *Client) FeedHold() error { return c.realtime(charFeedHold) }

// CycleStart resumes motion after a feed hold.
func (c *Client) CycleStart() error { return c.realtime(charCycleStart) }

// SoftReset reboots the controller firmware. Every pending command is
// released with ErrCancelled since the device buffer is discarded.
func (c *Client) SoftReset() error { return c.realtime(charReset) }

// Jog issues a relative jog on one axis via the $J= interface, in
// millimeters at the given feed rate.
func (c *Client) Jog(ctx context.Context, axis byte, delta, feed float64) error {
	switch axis {
	case 'X', 'Y', 'Z':
	default:
		return fmt.Errorf("grbl: invalid jog axis %q", string(axis))
	}
	line := fmt.Sprintf("$J=G91 G21 %c%s F%s", axis, gcode.FormatNum(delta), gcode.FormatNum(feed))
	return c.Send(ctx, line)
}

// Home runs the $H homing cycle. It uses the homing timeout class and
// is not considered failed while the machine reports Home status.
func (c *Client) Home(ctx context.Context) error {
	return c.Send(ctx, "$H")
}

// Unlock clears an alarm lock ($X) so motion is allowed again.
func (c *Client) Unlock(ctx context.Context) error {
	return c.Send(ctx, "$X")
}

// SetOrigin zeroes the work coordinate frame at the current position.
func (c *Client) SetOrigin(ctx context.Context) error {
	if err := c.Send(ctx, "G92 X0 Y0 Z0"); err != nil {
		return err
	}
	return c.Send(ctx, "G10 P0 L20 X0 Y0 Z0")
}

// SetFeedRate sets the modal feed rate in mm/min.
func (c *Client) SetFeedRate(ctx context.Context, feed float64) error {
	return c.Send(ctx, "G1 F"+gcode.FormatNum(feed))
}

// SetLaserPower sets the spindle/laser S value, or turns the laser off
// entirely when power is zero.
func (c *Client) SetLaserPower(ctx context.Context, power int) error {
	if power <= 0 {
		return c.Send(ctx, "M5 S0")
	}
	return c.Send(ctx, fmt.Sprintf("M3 S%d", power))
}
