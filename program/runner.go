package program

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RunState is the lifecycle state of a program run.
type RunState int

const (
	NotStarted RunState = iota
	Running
	Paused
	Completed
	Aborted
	Failed
)

func (s RunState) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Completed:
		return "Completed"
	case Aborted:
		return "Aborted"
	case Failed:
		return "Failed"
	}
	return "Unknown"
}

// Progress reports how far a run has advanced. Remaining is an
// estimate only; GRBL exposes no per-line completion timestamps.
type Progress struct {
	ProgramID string
	State     RunState
	Sent      int
	Total     int
	Elapsed   time.Duration
	Remaining time.Duration

	// FailedLine and Err are set when State is Failed.
	FailedLine int
	Err        error
}

// Engine is the protocol-engine surface the runner depends on.
type Engine interface {
	Submit(line string) (<-chan error, error)
	FeedHold() error
	SoftReset() error
}

var (
	ErrAlreadyRunning = errors.New("program: already running")
	ErrNotRunning     = errors.New("program: no active run")
)

// Runner drives one program at a time through the engine. It sends one
// line ahead: the next line is not submitted until the previous slot
// resolved, which keeps the reported line index exact and makes pause
// take effect at a line boundary.
type Runner struct {
	eng Engine
	log *logrus.Entry

	onProgress func(Progress)

	mx       sync.Mutex
	prog     *Program
	state    RunState
	cursor   int
	started  time.Time
	err      error
	failLine int

	resumeCh chan struct{}
	abortCh  chan struct{}
}

func NewRunner(eng Engine, logger *logrus.Logger) *Runner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{
		eng: eng,
		log: logger.WithField("component", "runner"),
	}
}

// OnProgress registers the progress callback. It is invoked after
// every line resolution and on every state transition. Set it before
// Start.
func (r *Runner) OnProgress(fn func(Progress)) {
	r.mx.Lock()
	r.onProgress = fn
	r.mx.Unlock()
}

// Start begins executing p from its first line. The previous program,
// if any, must have finished.
func (r *Runner) Start(p *Program) error {
	r.mx.Lock()
	if r.state == Running || r.state == Paused {
		r.mx.Unlock()
		return ErrAlreadyRunning
	}
	r.prog = p
	r.state = Running
	r.cursor = 0
	r.err = nil
	r.failLine = 0
	r.started = time.Now()
	r.resumeCh = make(chan struct{})
	r.abortCh = make(chan struct{})
	r.mx.Unlock()

	r.log.WithFields(logrus.Fields{"program": p.ID, "lines": p.Len()}).Info("run started")
	go r.run(p)
	r.notify()
	return nil
}

// Pause stops advancing the cursor. The line already in flight
// resolves normally; Resume continues from the same cursor.
func (r *Runner) Pause() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.state != Running {
		return ErrNotRunning
	}
	r.state = Paused
	r.resumeCh = make(chan struct{})
	return nil
}

// Resume continues a paused run at the exact line Pause stopped on.
func (r *Runner) Resume() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.state != Paused {
		return ErrNotRunning
	}
	r.state = Running
	close(r.resumeCh)
	return nil
}

// Abort stops the run regardless of sub-state and soft-stops the
// machine: feed hold first so motion ramps down, then a soft reset to
// flush the controller's queue.
func (r *Runner) Abort() error {
	r.mx.Lock()
	if r.state != Running && r.state != Paused {
		r.mx.Unlock()
		return ErrNotRunning
	}
	r.state = Aborted
	close(r.abortCh)
	r.mx.Unlock()

	if err := r.eng.FeedHold(); err != nil {
		r.log.WithError(err).Warn("feed hold failed")
	}
	if err := r.eng.SoftReset(); err != nil {
		r.log.WithError(err).Warn("soft reset failed")
	}
	r.notify()
	return nil
}

// Progress returns the current run progress.
func (r *Runner) Progress() Progress {
	r.mx.Lock()
	defer r.mx.Unlock()
	return r.progressLocked()
}

func (r *Runner) progressLocked() Progress {
	p := Progress{
		State:      r.state,
		Sent:       r.cursor,
		FailedLine: r.failLine,
		Err:        r.err,
	}
	if r.prog != nil {
		p.ProgramID = r.prog.ID.String()
		p.Total = r.prog.Len()
		p.Remaining = r.prog.EstimateFrom(r.cursor)
	}
	if r.state != NotStarted {
		p.Elapsed = time.Since(r.started)
	}
	// once lines have completed, scale the raw estimate by the
	// observed pace; acceleration and planner stalls are invisible to
	// the interpreter
	if r.state == Running && r.cursor > 0 && p.Remaining > 0 {
		planned := r.prog.EstimateFrom(0) - p.Remaining
		if planned > 0 {
			p.Remaining = time.Duration(float64(p.Remaining) * float64(p.Elapsed) / float64(planned))
		}
	}
	return p
}

func (r *Runner) notify() {
	r.mx.Lock()
	fn := r.onProgress
	p := r.progressLocked()
	r.mx.Unlock()
	if fn != nil {
		fn(p)
	}
}

func (r *Runner) run(p *Program) {
	for {
		r.mx.Lock()
		for r.state == Paused {
			resume := r.resumeCh
			abort := r.abortCh
			r.mx.Unlock()
			select {
			case <-resume:
			case <-abort:
			}
			r.mx.Lock()
		}
		if r.state != Running {
			r.mx.Unlock()
			return
		}
		if r.cursor >= p.Len() {
			r.state = Completed
			r.mx.Unlock()
			r.log.WithField("program", p.ID).Info("run completed")
			r.notify()
			return
		}
		line := p.Lines[r.cursor]
		r.mx.Unlock()

		done, err := r.eng.Submit(line)
		if err == nil {
			err = <-done
		}

		r.mx.Lock()
		if r.state == Aborted {
			r.mx.Unlock()
			return
		}
		if err != nil {
			// the device rejected this exact line; never auto-skip a
			// failed line of a physical cutting job
			r.state = Failed
			r.err = err
			r.failLine = r.cursor
			idx := r.failLine
			r.mx.Unlock()
			r.log.WithError(err).WithField("line", idx).Error("run failed")
			r.notify()
			return
		}
		r.cursor++
		r.mx.Unlock()
		r.notify()
	}
}
