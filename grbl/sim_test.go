package grbl

import (
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// simDevice emulates a GRBL controller on the far side of an io.Pipe
// pair. It consumes the byte stream like the firmware does: realtime
// characters are handled immediately, everything else accumulates
// until a newline completes a command line.
//
// Lines starting with `$` are always acknowledged so the connect
// preamble never wedges flow control; plain g-code lines are only
// acknowledged when autoOK is set, letting tests hold slots open and
// script responses by hand.
type simDevice struct {
	devR *io.PipeReader
	devW *io.PipeWriter

	mx         sync.Mutex
	status     string
	autoOK     bool
	manualHome bool

	recv chan string
	ctl  chan byte
}

// simPort is the client-facing io.ReadWriteCloser half of the pipes.
type simPort struct {
	io.Reader
	io.Writer
	closeFn func() error
}

func (p *simPort) Close() error { return p.closeFn() }

func newSim(autoOK bool) (*simDevice, io.ReadWriteCloser) {
	clientR, devW := io.Pipe()
	devR, clientW := io.Pipe()

	d := &simDevice{
		devR:   devR,
		devW:   devW,
		status: "<Idle|WPos:0.000,0.000,0.000|FS:0,0>",
		autoOK: autoOK,
		recv:   make(chan string, 64),
		ctl:    make(chan byte, 64),
	}
	go d.run()

	port := &simPort{
		Reader: clientR,
		Writer: clientW,
		closeFn: func() error {
			clientW.Close()
			clientR.Close()
			return nil
		},
	}
	return d, port
}

func (d *simDevice) run() {
	buf := make([]byte, 1)
	var line []byte
	for {
		if _, err := d.devR.Read(buf); err != nil {
			return
		}
		switch b := buf[0]; b {
		case '\n', '\r':
			if len(line) > 0 {
				d.handleLine(string(line))
				line = line[:0]
			}
		case charStatus:
			d.pushCtl(b)
			d.send(d.statusLine())
		case charFeedHold, charCycleStart, charReset:
			d.pushCtl(b)
		default:
			line = append(line, b)
		}
	}
}

func (d *simDevice) handleLine(line string) {
	select {
	case d.recv <- line:
	default:
	}

	d.mx.Lock()
	auto, manualHome := d.autoOK, d.manualHome
	d.mx.Unlock()

	switch {
	case line == "$G":
		d.send("[GC:G0 G54 G17 G21 G90 G94 M5 M9 T0 F0 S0]")
		d.send("ok")
	case strings.EqualFold(line, "$H") && manualHome:
		// a homing cycle runs for a long time before its ok
	case strings.HasPrefix(line, "$"):
		d.send("ok")
	case auto:
		d.send("ok")
	}
}

func (d *simDevice) pushCtl(b byte) {
	select {
	case d.ctl <- b:
	default:
	}
}

func (d *simDevice) send(line string) {
	d.devW.Write([]byte(line + "\r\n"))
}

func (d *simDevice) statusLine() string {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.status
}

func (d *simDevice) setStatus(s string) {
	d.mx.Lock()
	d.status = s
	d.mx.Unlock()
}

func (d *simDevice) setManualHome(v bool) {
	d.mx.Lock()
	d.manualHome = v
	d.mx.Unlock()
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// connectSim wires a Client to a fresh simulator and drains the
// connect preamble ($$ and $G) so tests start from a clean slate.
func connectSim(t *testing.T, autoOK bool, opts Options) (*simDevice, *Client) {
	t.Helper()

	sim, port := newSim(autoOK)
	if opts.Logger == nil {
		opts.Logger = quietLogger()
	}
	if opts.PollInterval == 0 {
		// keep unsolicited reports out of scripted exchanges
		opts.PollInterval = time.Hour
	}

	c, err := Connect(port, opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	expectLine(t, sim, "$$")
	expectLine(t, sim, "$G")
	waitIdle(t, c)
	return sim, c
}

func expectLine(t *testing.T, sim *simDevice, want string) {
	t.Helper()
	select {
	case got := <-sim.recv:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for line %q", want)
	}
}

func expectNoLine(t *testing.T, sim *simDevice, wait time.Duration) {
	t.Helper()
	select {
	case got := <-sim.recv:
		t.Fatalf("unexpected line %q", got)
	case <-time.After(wait):
	}
}

func expectCtl(t *testing.T, sim *simDevice, want byte) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-sim.ctl:
			if got == want {
				return
			}
			// status polls may interleave
			if got == charStatus {
				continue
			}
			t.Fatalf("unexpected control byte %#x", got)
		case <-deadline:
			t.Fatalf("timed out waiting for control byte %#x", want)
		}
	}
}

func awaitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command resolution")
		return nil
	}
}

func waitIdle(t *testing.T, c *Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.State().Pending == 0
	}, 2*time.Second, 5*time.Millisecond)
}
