package raster

import (
	"fmt"
	"math"

	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/gcode"
	"github.com/alexkypraiou/LaserGRBL-MacOS-Controller/program"
)

// Options describes one conversion. Zero-valued fields fall back to
// the Default values where sensible; ZigZag and ReturnHome are
// explicit because their useful default is true.
type Options struct {
	// ResolutionPxPerMM is the sample density, 1 to 50.
	ResolutionPxPerMM int
	// Threshold is the white cutoff: a sample at or above it is
	// travel (laser off), strictly below it is engraved.
	Threshold uint8
	WidthMM   float64
	HeightMM  float64
	// FeedRate is the engraving feed in mm/min.
	FeedRate float64
	// LaserPowerMax is the S value ceiling (GRBL $30 convention).
	LaserPowerMax int
	// ZigZag alternates scan direction per row, halving travel moves.
	ZigZag bool
	// ReturnHome appends a rapid back to the work origin.
	ReturnHome bool
	// Power maps intensity to S value; nil means LinearPower.
	Power PowerMap
}

// Default returns the conversion settings the original controller
// shipped with.
func Default() Options {
	return Options{
		ResolutionPxPerMM: 5,
		Threshold:         200,
		WidthMM:           50,
		HeightMM:          50,
		FeedRate:          1000,
		LaserPowerMax:     1000,
		ZigZag:            true,
		ReturnHome:        true,
	}
}

// Generate converts img into a laser program. Output is deterministic:
// identical (img, opts) inputs produce identical programs.
func Generate(img *Image, opts Options) (*program.Program, error) {
	if img == nil || img.W == 0 || img.H == 0 || len(img.Pix) != img.W*img.H {
		return nil, ErrEmptyImage
	}
	if opts.ResolutionPxPerMM < 1 || opts.ResolutionPxPerMM > 50 {
		return nil, fmt.Errorf("%w: resolution %d px/mm outside 1-50", ErrInvalidDimensions, opts.ResolutionPxPerMM)
	}
	if opts.LaserPowerMax <= 0 {
		opts.LaserPowerMax = 1000
	}
	if opts.FeedRate <= 0 {
		opts.FeedRate = 1000
	}
	if opts.Power == nil {
		opts.Power = LinearPower
	}

	res := float64(opts.ResolutionPxPerMM)
	cols := int(math.Round(opts.WidthMM * res))
	rows := int(math.Round(opts.HeightMM * res))
	if cols < 1 || rows < 1 {
		return nil, fmt.Errorf("%w: %gx%gmm at %d px/mm", ErrInvalidDimensions, opts.WidthMM, opts.HeightMM, opts.ResolutionPxPerMM)
	}

	g := &emitter{res: res, power: -1}
	grid := img.resample(cols, rows)

	// header: millimeters, absolute coordinates, XY plane, feed,
	// laser off
	g.block(gcode.Block{{W: 'G', Arg: 21}})
	g.block(gcode.Block{{W: 'G', Arg: 90}})
	g.block(gcode.Block{{W: 'G', Arg: 17}})
	g.block(gcode.Block{{W: 'F', Arg: opts.FeedRate}})
	g.laserOff()

	for row := 0; row < rows; row++ {
		// row 0 is the image top: map it to max Y so output is not
		// vertically mirrored
		y := float64(rows-1-row) / res
		leftToRight := !opts.ZigZag || row%2 == 0
		g.emitRow(rowRuns(grid, row, leftToRight, opts), y, leftToRight, cols)
	}

	if opts.ReturnHome {
		g.travel(0, 0)
	}
	g.lines = append(g.lines, laserOffLine)

	return program.New(g.lines), nil
}

// run is a maximal stretch of samples sharing one laser action: either
// travel (laser off) or engraving at a single S value.
type run struct {
	engrave bool
	power   int
	lo, hi  int // inclusive sample column bounds
}

// rowRuns run-length encodes one row in scan order. Engrave runs split
// whenever the mapped power changes so grayscale detail survives the
// encoding.
func rowRuns(grid *Image, row int, leftToRight bool, opts Options) []run {
	var runs []run

	step, x := 1, 0
	if !leftToRight {
		step, x = -1, grid.W-1
	}

	for ; x >= 0 && x < grid.W; x += step {
		v := grid.At(x, row)
		engrave := v < opts.Threshold
		power := 0
		if engrave {
			power = opts.Power(v, opts.LaserPowerMax)
		}

		if n := len(runs); n > 0 && runs[n-1].engrave == engrave && runs[n-1].power == power {
			if x < runs[n-1].lo {
				runs[n-1].lo = x
			}
			if x > runs[n-1].hi {
				runs[n-1].hi = x
			}
			continue
		}
		runs = append(runs, run{engrave: engrave, power: power, lo: x, hi: x})
	}

	return runs
}

const laserOffLine = "M5 S0"

// emitter tracks laser and position state while rendering g-code
// lines, guaranteeing the laser is explicitly off before every travel
// move and at every row change.
type emitter struct {
	res     float64
	lines   []string
	laserOn bool
	power   int
	x, y    float64
	moved   bool
}

func (g *emitter) block(b gcode.Block) { g.lines = append(g.lines, b.String()) }

func (g *emitter) laserOff() {
	g.lines = append(g.lines, laserOffLine)
	g.laserOn = false
	g.power = -1
}

func (g *emitter) laserTo(power int) {
	if g.laserOn && g.power == power {
		return
	}
	g.block(gcode.Block{{W: 'M', Arg: 3}, {W: 'S', Arg: float64(power)}})
	g.laserOn = true
	g.power = power
}

func (g *emitter) moveTo(rapid bool, x, y float64) {
	code := 1.0
	if rapid {
		code = 0
	}
	g.block(gcode.Block{{W: 'G', Arg: code}, {W: 'X', Arg: x}, {W: 'Y', Arg: y}})
	g.x, g.y = x, y
	g.moved = true
}

func (g *emitter) travel(x, y float64) {
	if g.laserOn {
		g.laserOff()
	}
	g.moveTo(true, x, y)
}

// emitRow renders one scan row. An all-white row produces nothing at
// all; rows with content start from the scan edge and end laser-off.
func (g *emitter) emitRow(runs []run, y float64, leftToRight bool, cols int) {
	var any bool
	for _, r := range runs {
		if r.engrave {
			any = true
			break
		}
	}
	if !any {
		return
	}

	entryX := 0.0
	if !leftToRight {
		entryX = float64(cols) / g.res
	}
	if !g.moved || g.x != entryX || g.y != y {
		g.travel(entryX, y)
	}

	for _, r := range runs {
		// exit edge of the run in scan direction
		exitX := float64(r.hi+1) / g.res
		if !leftToRight {
			exitX = float64(r.lo) / g.res
		}
		if r.engrave {
			g.laserTo(r.power)
			g.moveTo(false, exitX, y)
		} else {
			g.travel(exitX, y)
		}
	}

	if g.laserOn {
		g.laserOff()
	}
}
