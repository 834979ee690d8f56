// Package program sequences a loaded g-code program through the
// protocol engine with pause/resume/abort control and progress
// reporting.
package program

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/vm"
)

// Program is an immutable, ordered sequence of g-code lines. Blank and
// comment-only lines are stripped at load time, so every line is one
// command slot when run.
type Program struct {
	ID    uuid.UUID
	Lines []string

	// estimates holds per-line duration guesses from the interpreter;
	// same length as Lines.
	estimates []time.Duration
}

// rapid traverse rate assumed for estimates, mm/min
const estimateRapidRate = 3000

// New builds a Program from pre-filtered lines.
func New(lines []string) *Program {
	return &Program{
		ID:        uuid.New(),
		Lines:     lines,
		estimates: vm.EstimateProgram(lines, estimateRapidRate),
	}
}

// Load splits a raw g-code document into a Program, dropping blank
// lines and `;`/`(` comment lines.
func Load(text string) *Program {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "(") {
			continue
		}
		lines = append(lines, line)
	}
	return New(lines)
}

// Len returns the number of sendable lines.
func (p *Program) Len() int { return len(p.Lines) }

// EstimateFrom sums the per-line duration estimates starting at line
// index i. The result is a documented best-effort guess: GRBL reports
// no per-line completion time, and acceleration is not modeled.
func (p *Program) EstimateFrom(i int) time.Duration {
	var total time.Duration
	for ; i >= 0 && i < len(p.estimates); i++ {
		total += p.estimates[i]
	}
	return total
}
