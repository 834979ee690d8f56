package gcode

import (
	"strconv"
	"strings"
)

// Word is a single letter/value pair within a block (e.g. `X10.5`).
type Word struct {
	W   byte
	Arg float64
}

func (w Word) IsAxis() bool {
	switch w.W {
	case 'X', 'Y', 'Z':
		return true
	}
	return false
}

func (w Word) IsValid() bool {
	return w.W >= 'A' && w.W <= 'Z'
}

// FormatNum renders a word argument with up to 3 decimal places,
// trailing zeros trimmed. Output is stable for identical input.
func FormatNum(f float64) string {
	s := strconv.FormatFloat(f, 'f', 3, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
	}
	return strings.TrimRight(s, ".")
}

func (w Word) String() string {
	return string(w.W) + FormatNum(w.Arg)
}
