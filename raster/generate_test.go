package raster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(feed string) []string {
	return []string{"G21", "G90", "G17", "F" + feed, "M5 S0"}
}

func TestGenerate_SinglePixelPair(t *testing.T) {
	// one row: black then white, 1mm per sample
	img := NewImage(2, 1)
	img.Set(0, 0, 0)
	img.Set(1, 0, 255)

	p, err := Generate(img, Options{
		ResolutionPxPerMM: 1,
		Threshold:         200,
		WidthMM:           2,
		HeightMM:          1,
		FeedRate:          1000,
		LaserPowerMax:     1000,
		ZigZag:            true,
		Power:             FixedPower(1000),
	})
	require.NoError(t, err)

	want := append(header("1000"),
		"G0 X0 Y0",
		"M3 S1000",
		"G1 X1 Y0", // engrave spans the full black sample
		"M5 S0",
		"G0 X2 Y0", // the white sample is travelled, laser off first
		"M5 S0",
	)
	assert.Equal(t, want, p.Lines)
}

func TestGenerate_ZigZag(t *testing.T) {
	img := NewImage(2, 2) // all black

	p, err := Generate(img, Options{
		ResolutionPxPerMM: 1,
		Threshold:         200,
		WidthMM:           2,
		HeightMM:          2,
		FeedRate:          1000,
		LaserPowerMax:     1000,
		ZigZag:            true,
		Power:             FixedPower(1000),
	})
	require.NoError(t, err)

	want := append(header("1000"),
		// image top row maps to max Y, scanned left to right
		"G0 X0 Y1",
		"M3 S1000",
		"G1 X2 Y1",
		"M5 S0",
		// next row continues from the right edge, no X backtrack
		"G0 X2 Y0",
		"M3 S1000",
		"G1 X0 Y0",
		"M5 S0",
		"M5 S0",
	)
	assert.Equal(t, want, p.Lines)
}

func TestGenerate_NoZigZag(t *testing.T) {
	img := NewImage(2, 2) // all black

	p, err := Generate(img, Options{
		ResolutionPxPerMM: 1,
		Threshold:         200,
		WidthMM:           2,
		HeightMM:          2,
		FeedRate:          1000,
		LaserPowerMax:     1000,
		Power:             FixedPower(1000),
	})
	require.NoError(t, err)

	want := append(header("1000"),
		// every row scans left to right
		"G0 X0 Y1",
		"M3 S1000",
		"G1 X2 Y1",
		"M5 S0",
		"G0 X0 Y0",
		"M3 S1000",
		"G1 X2 Y0",
		"M5 S0",
		"M5 S0",
	)
	assert.Equal(t, want, p.Lines)
}

func TestGenerate_ThresholdBoundary(t *testing.T) {
	opts := Options{
		ResolutionPxPerMM: 1,
		Threshold:         200,
		WidthMM:           1,
		HeightMM:          1,
		FeedRate:          1000,
		LaserPowerMax:     1000,
	}

	// at the threshold: white, the row is skipped entirely
	img := NewImage(1, 1)
	img.Set(0, 0, 200)
	p, err := Generate(img, opts)
	require.NoError(t, err)
	assert.Equal(t, append(header("1000"), "M5 S0"), p.Lines)

	// one below: engraved, linear power 1000*(1-199/255)
	img.Set(0, 0, 199)
	p, err = Generate(img, opts)
	require.NoError(t, err)
	assert.Equal(t, append(header("1000"),
		"G0 X0 Y0",
		"M3 S219",
		"G1 X1 Y0",
		"M5 S0",
		"M5 S0",
	), p.Lines)
}

func TestGenerate_SkipsWhiteRows(t *testing.T) {
	// black top and bottom rows around a white band
	img := NewImage(1, 3)
	img.Set(0, 1, 255)

	p, err := Generate(img, Options{
		ResolutionPxPerMM: 1,
		Threshold:         200,
		WidthMM:           1,
		HeightMM:          3,
		FeedRate:          1000,
		LaserPowerMax:     1000,
		ZigZag:            true,
		ReturnHome:        true,
		Power:             FixedPower(1000),
	})
	require.NoError(t, err)

	want := append(header("1000"),
		"G0 X0 Y2",
		"M3 S1000",
		"G1 X1 Y2",
		"M5 S0",
		// Y1 produces nothing; direction follows the row index, so
		// Y0 scans left to right again
		"G0 X0 Y0",
		"M3 S1000",
		"G1 X1 Y0",
		"M5 S0",
		"G0 X0 Y0", // return home
		"M5 S0",
	)
	assert.Equal(t, want, p.Lines)
}

func TestGenerate_Deterministic(t *testing.T) {
	img := NewImage(10, 10)
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7 % 256)
	}
	opts := Default()
	opts.WidthMM, opts.HeightMM = 2, 2

	a, err := Generate(img, opts)
	require.NoError(t, err)
	b, err := Generate(img, opts)
	require.NoError(t, err)
	assert.Equal(t, a.Lines, b.Lines)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestGenerate_Invalid(t *testing.T) {
	_, err := Generate(nil, Default())
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = Generate(NewImage(0, 0), Default())
	assert.ErrorIs(t, err, ErrEmptyImage)

	img := NewImage(2, 2)

	opts := Default()
	opts.ResolutionPxPerMM = 0
	_, err = Generate(img, opts)
	assert.ErrorIs(t, err, ErrInvalidDimensions)

	opts = Default()
	opts.ResolutionPxPerMM = 51
	_, err = Generate(img, opts)
	assert.ErrorIs(t, err, ErrInvalidDimensions)

	opts = Default()
	opts.WidthMM = 0
	_, err = Generate(img, opts)
	assert.ErrorIs(t, err, ErrInvalidDimensions)
}

func TestRowRuns_SplitsOnPowerChange(t *testing.T) {
	img := NewImage(4, 1)
	img.Set(0, 0, 0)
	img.Set(1, 0, 128)
	img.Set(2, 0, 128)
	img.Set(3, 0, 255)

	opts := Default()
	opts.Power = LinearPower

	runs := rowRuns(img, 0, true, opts)
	require.Len(t, runs, 3)
	assert.Equal(t, run{engrave: true, power: 1000, lo: 0, hi: 0}, runs[0])
	assert.Equal(t, run{engrave: true, power: 498, lo: 1, hi: 2}, runs[1])
	assert.Equal(t, run{engrave: false, power: 0, lo: 3, hi: 3}, runs[2])

	// reversed scan yields the same spans
	runs = rowRuns(img, 0, false, opts)
	require.Len(t, runs, 3)
	assert.Equal(t, run{engrave: false, power: 0, lo: 3, hi: 3}, runs[0])
	assert.Equal(t, run{engrave: true, power: 498, lo: 1, hi: 2}, runs[1])
	assert.Equal(t, run{engrave: true, power: 1000, lo: 0, hi: 0}, runs[2])
}

func TestImage_Resample(t *testing.T) {
	// distinct quadrants collapse to their averages
	img := NewImage(4, 4)
	fill := func(x0, y0 int, v uint8) {
		for y := y0; y < y0+2; y++ {
			for x := x0; x < x0+2; x++ {
				img.Set(x, y, v)
			}
		}
	}
	fill(0, 0, 0)
	fill(2, 0, 100)
	fill(0, 2, 200)
	fill(2, 2, 255)

	out := img.resample(2, 2)
	assert.Equal(t, uint8(0), out.At(0, 0))
	assert.Equal(t, uint8(100), out.At(1, 0))
	assert.Equal(t, uint8(200), out.At(0, 1))
	assert.Equal(t, uint8(255), out.At(1, 1))

	// same size passes through untouched
	assert.Same(t, img, img.resample(4, 4))
}
