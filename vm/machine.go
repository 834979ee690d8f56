// Package vm implements a minimal g-code interpreter used to estimate
// program execution time. It models only the motion-related subset a
// GRBL laser job uses (G0/G1, G90/G91, G20/G21, F) and deliberately
// ignores acceleration planning, so results are estimates.
package vm

import (
	"time"

	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/coord"
	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/gcode"
)

const mmPerInch = 25.4

// Machine tracks interpreter state across blocks.
type Machine struct {
	pos coord.Point

	motion   float64 // modal G0/G1
	feed     float64 // mm/min
	rapid    float64 // assumed rapid rate, mm/min
	relative bool
	inches   bool
}

// NewMachine returns a Machine with GRBL power-on defaults and the
// given assumed rapid traverse rate in mm/min.
func NewMachine(rapidRate float64) *Machine {
	return &Machine{
		rapid: rapidRate,
		feed:  1000,
	}
}

func (m *Machine) Pos() coord.Point { return m.pos }

// Estimate applies b to the machine state and returns the wall time
// the resulting motion is expected to take. Non-motion blocks return 0.
func (m *Machine) Estimate(b gcode.Block) time.Duration {
	unit := 1.0
	if m.inches {
		unit = mmPerInch
	}

	target := m.pos
	if m.relative {
		target = coord.Point{}
	}
	var hasAxis bool

	for _, g := range b {
		switch g.W {
		case 'G':
			switch g.Arg {
			case 0, 1:
				m.motion = g.Arg
			case 20:
				m.inches = true
				unit = mmPerInch
			case 21:
				m.inches = false
				unit = 1.0
			case 90:
				m.relative = false
				target = m.pos
			case 91:
				m.relative = true
				target = coord.Point{}
			}
		case 'F':
			m.feed = g.Arg * unit
		case 'X':
			target.X = g.Arg * unit
			hasAxis = true
		case 'Y':
			target.Y = g.Arg * unit
			hasAxis = true
		case 'Z':
			target.Z = g.Arg * unit
			hasAxis = true
		}
	}

	if !hasAxis {
		return 0
	}
	if m.relative {
		target = m.pos.Add(target)
	}

	dist := m.pos.Distance(target)
	m.pos = target

	rate := m.feed
	if m.motion == 0 {
		rate = m.rapid
	}
	if rate <= 0 || dist == 0 {
		return 0
	}

	return time.Duration(dist / rate * float64(time.Minute))
}

// EstimateLine parses and estimates a raw g-code line. Lines that do
// not parse (settings commands, realtime characters) cost nothing.
func (m *Machine) EstimateLine(line string) time.Duration {
	b, err := gcode.ParseLine(line)
	if err != nil || b == nil {
		return 0
	}
	return m.Estimate(b)
}

// EstimateProgram returns per-line duration estimates for an entire
// program, starting from power-on defaults.
func EstimateProgram(lines []string, rapidRate float64) []time.Duration {
	m := NewMachine(rapidRate)
	res := make([]time.Duration, len(lines))
	for i, line := range lines {
		res[i] = m.EstimateLine(line)
	}
	return res
}
