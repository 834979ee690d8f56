// Package grbl implements the GRBL v1.1 serial protocol engine: it
// maintains the illusion of a synchronous request/response channel
// over the controller's single-buffer serial link, with byte-budget
// flow control, periodic status polling and asynchronous state
// tracking.
package grbl

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Options tunes the protocol engine. Buffer size and poll interval are
// product choices rather than protocol invariants, so both are
// configurable; the defaults match the classic GRBL hardware.
type Options struct {
	// BufferSize is the controller's serial receive buffer in bytes.
	BufferSize int
	// PollInterval is the `?` status query cadence.
	PollInterval time.Duration
	// CommandTimeout applies to ordinary commands.
	CommandTimeout time.Duration
	// HomingTimeout applies to $H, which legitimately runs for tens
	// of seconds and must not trip the ordinary timeout.
	HomingTimeout time.Duration
	// DetectGrace is how long the connect probe waits for any reply.
	DetectGrace time.Duration
	// EventBuffer is the state/console event channel depth.
	EventBuffer int

	Logger *logrus.Logger
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = 128
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 10 * time.Second
	}
	if o.HomingTimeout <= 0 {
		o.HomingTimeout = 2 * time.Minute
	}
	if o.DetectGrace <= 0 {
		o.DetectGrace = 2 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	if o.Logger == nil {
		o.Logger = logrus.New()
	}
	return o
}

// EventKind discriminates Client events.
type EventKind int

const (
	// EventState carries an updated machine snapshot.
	EventState EventKind = iota
	// EventSent carries a line written to the device.
	EventSent
	// EventRecv carries a non-report line received from the device.
	EventRecv
)

// Event is a push notification from the engine. It is the only channel
// by which callers observe state changes.
type Event struct {
	Kind  EventKind
	State Snapshot
	Line  string
}

// slot is one pending command: it lives from the moment its bytes are
// written until a matching response, timeout or cancellation resolves
// it. Responses match slots strictly in FIFO order.
type slot struct {
	line    string
	cost    int
	timeout time.Duration
	sentAt  time.Time
	done    chan error
}

// Client is a connection to a GRBL controller. All mutable protocol
// state (pending queue, byte budget, snapshot) is owned by a single
// background goroutine; callers interact through channels only.
type Client struct {
	opts Options
	log  *logrus.Entry

	rw io.ReadWriteCloser

	submitCh   chan *slot
	realtimeCh chan byte
	lineCh     chan string
	readErrCh  chan error

	closeOnce sync.Once
	closeCh   chan struct{}
	doneCh    chan struct{}

	mx   sync.Mutex
	snap Snapshot

	events chan Event
}

// Connect probes the device behind rw and, on success, starts the
// engine. The probe writes a wake-up newline and a status query, then
// waits DetectGrace for any reply; silence closes rw and returns
// ErrNoDeviceResponse.
func Connect(rw io.ReadWriteCloser, opts Options) (*Client, error) {
	opts = opts.withDefaults()

	c := &Client{
		opts:       opts,
		log:        opts.Logger.WithField("component", "grbl"),
		rw:         rw,
		submitCh:   make(chan *slot),
		realtimeCh: make(chan byte),
		lineCh:     make(chan string, 16),
		readErrCh:  make(chan error, 1),
		closeCh:    make(chan struct{}),
		doneCh:     make(chan struct{}),
		events:     make(chan Event, opts.EventBuffer),
	}
	c.snap.Status = StatusUnknown

	go c.readLoop()

	if _, err := rw.Write([]byte("\n?")); err != nil {
		rw.Close()
		return nil, err
	}

	probe := time.NewTimer(opts.DetectGrace)
	defer probe.Stop()
	select {
	case line := <-c.lineCh:
		if v := parseVersion(line); v != "" {
			c.snap.Version = v
		}
		c.log.WithField("line", line).Info("device detected")
	case <-c.readErrCh:
		rw.Close()
		return nil, ErrNoDeviceResponse
	case <-probe.C:
		rw.Close()
		return nil, ErrNoDeviceResponse
	}

	go c.loop()

	// mirror the settings and parser state into the console log
	for _, q := range []string{"$$", "$G"} {
		if ch, err := c.Submit(q); err == nil {
			go func() { <-ch }()
		}
	}

	return c, nil
}

// Close tears down the connection. It is idempotent, releases every
// pending command with ErrCancelled, and is safe to call concurrently
// with reads.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		err = c.rw.Close()
		<-c.doneCh
	})
	return err
}

// State returns a copy of the latest machine snapshot.
func (c *Client) State() Snapshot {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.snap
}

// Events returns the push channel of state and console events. Events
// are dropped, never blocked on, when the consumer falls behind.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Done is closed once the engine has shut down, whether by Close or by
// a fatal transport error.
func (c *Client) Done() <-chan struct{} {
	return c.doneCh
}

// emit never blocks: when the consumer falls behind, the oldest
// buffered event makes room for the new one.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
		return
	default:
	}
	select {
	case <-c.events:
	default:
	}
	select {
	case c.events <- ev:
	default:
	}
}

func (c *Client) setSnap(update func(*Snapshot)) {
	c.mx.Lock()
	update(&c.snap)
	snap := c.snap
	c.mx.Unlock()
	c.emit(Event{Kind: EventState, State: snap})
}

func (c *Client) readLoop() {
	scan := bufio.NewScanner(c.rw)
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		select {
		case c.lineCh <- line:
		case <-c.closeCh:
			return
		}
	}
	select {
	case c.readErrCh <- scan.Err():
	case <-c.closeCh:
	}
}

// engine is the loop-owned mutable protocol state. Nothing outside the
// loop goroutine touches it.
type engine struct {
	c *Client

	pending []*slot // bytes on the device, awaiting ok/error
	queue   []*slot // accepted, deferred until budget frees
	used    int     // in-flight byte cost

	report reportState // snapshot + work coordinate offset carry-over

	fatal bool
}

// loop is the single background execution context that owns all
// protocol state transitions.
func (c *Client) loop() {
	defer close(c.doneCh)

	e := &engine{c: c}
	e.report.snap = c.State()

	poll := time.NewTicker(c.opts.PollInterval)
	defer poll.Stop()
	expire := time.NewTicker(100 * time.Millisecond)
	defer expire.Stop()

	for {
		select {
		case <-c.closeCh:
			e.flush(ErrCancelled)
			c.setSnap(func(s *Snapshot) { s.Status = StatusDisconnected })
			return

		case err := <-c.readErrCh:
			c.log.WithError(err).Error("transport closed")
			e.fatal = true

		case s := <-c.submitCh:
			e.queue = append(e.queue, s)
			e.pump()

		case b := <-c.realtimeCh:
			e.writeByte(b)
			if b == charReset {
				// soft reset empties the device buffer; release
				// everything and restart accounting
				e.flush(ErrCancelled)
			}

		case line := <-c.lineCh:
			e.handleLine(line)

		case <-poll.C:
			e.writeByte(charStatus)

		case <-expire.C:
			e.expirePending()
		}

		if e.fatal {
			e.flush(ErrCancelled)
			c.setSnap(func(s *Snapshot) { s.Status = StatusDisconnected })
			c.rw.Close()
			return
		}
	}
}

func (e *engine) writeByte(b byte) {
	if e.fatal {
		return
	}
	if _, err := e.c.rw.Write([]byte{b}); err != nil {
		e.c.log.WithError(err).Error("realtime write failed")
		e.fatal = true
	}
}

func (e *engine) writeLine(s *slot) bool {
	if _, err := e.c.rw.Write([]byte(s.line + "\n")); err != nil {
		e.c.log.WithError(err).Error("write failed")
		e.fatal = true
		return false
	}
	s.sentAt = time.Now()
	e.used += s.cost
	e.pending = append(e.pending, s)
	e.c.emit(Event{Kind: EventSent, Line: s.line})
	return true
}

// pump drains the deferred queue while budget allows; this is the
// sliding window that keeps several commands in flight without ever
// exceeding the device buffer.
func (e *engine) pump() {
	for !e.fatal && len(e.queue) > 0 && e.used+e.queue[0].cost <= e.c.opts.BufferSize {
		s := e.queue[0]
		e.queue = e.queue[1:]
		if !e.writeLine(s) {
			s.done <- ErrCancelled
			return
		}
	}
	e.setPending()
}

func (e *engine) setPending() {
	n := len(e.pending) + len(e.queue)
	if e.c.State().Pending == n {
		return
	}
	e.c.setSnap(func(s *Snapshot) { s.Pending = n })
}

// resolve pops the oldest pending slot (FIFO) and refunds its byte
// cost to the budget.
func (e *engine) resolve(err error) {
	if len(e.pending) == 0 {
		e.c.log.Warn("response with no pending command")
		return
	}
	s := e.pending[0]
	e.pending = e.pending[1:]
	e.used -= s.cost
	s.done <- err
	e.pump()
}

// flush force-resolves every slot, pending and queued. This is the
// only path that resolves slots without a device response.
func (e *engine) flush(err error) {
	for _, s := range e.pending {
		s.done <- err
	}
	for _, s := range e.queue {
		s.done <- err
	}
	e.pending, e.queue, e.used = nil, nil, 0
	e.setPending()
}

func (e *engine) expirePending() {
	if len(e.pending) == 0 {
		return
	}
	s := e.pending[0]
	if time.Since(s.sentAt) < s.timeout {
		return
	}
	// a missing response means the FIFO pairing can no longer be
	// trusted: fail the head, then resync by releasing the rest
	// instead of silently continuing
	e.c.log.WithField("line", s.line).Warn("command timeout, resyncing")
	e.pending = e.pending[1:]
	e.used -= s.cost
	s.done <- ErrTimeout
	e.flush(ErrCancelled)
}

func (e *engine) handleLine(line string) {
	c := e.c
	switch {
	case line == "ok":
		e.resolve(nil)
		c.emit(Event{Kind: EventRecv, Line: line})

	case strings.HasPrefix(line, "error:"):
		code, _ := strconv.Atoi(strings.TrimPrefix(line, "error:"))
		e.resolve(&CommandError{Code: code})
		c.emit(Event{Kind: EventRecv, Line: line})

	case strings.HasPrefix(line, "ALARM:"):
		code, _ := strconv.Atoi(strings.TrimPrefix(line, "ALARM:"))
		c.log.WithField("code", code).Warn("alarm")
		// GRBL halts on alarm: position is untouched, every pending
		// command is dead
		e.flush(&AlarmError{Code: code})
		e.report.snap.Status = StatusAlarm
		c.setSnap(func(s *Snapshot) { s.Status = StatusAlarm })
		c.emit(Event{Kind: EventRecv, Line: line})

	case strings.HasPrefix(line, "<"):
		st, err := parseReport(e.report, line)
		if err != nil {
			c.log.WithError(err).WithField("line", line).Warn("bad status report")
			return
		}
		e.report = st
		c.setSnap(func(s *Snapshot) {
			st.snap.Version = s.Version
			st.snap.Pending = s.Pending
			*s = st.snap
		})

	case strings.HasPrefix(line, "Grbl"):
		// reset banner: the device rebooted and its buffer is empty,
		// anything in flight is gone
		v := parseVersion(line)
		e.flush(ErrCancelled)
		c.setSnap(func(s *Snapshot) {
			s.Status = StatusUnknown
			if v != "" {
				s.Version = v
			}
		})
		c.emit(Event{Kind: EventRecv, Line: line})

	default:
		// `[...]` push messages, settings echo and other banners are
		// logged but never touch machine state
		c.log.WithField("line", line).Debug("unhandled line")
		c.emit(Event{Kind: EventRecv, Line: line})
	}
}
