package gcode

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	rxLine    = regexp.MustCompile(`^([A-Z][0-9.\-]+)+$`)
	rxSplit   = regexp.MustCompile(`[A-Z][0-9.\-]+`)
	rxComment = regexp.MustCompile(`\([^)]*\)`)
)

// ParseLine parses a single g-code line into a Block. Comments and
// whitespace are stripped; a blank or comment-only line yields a nil
// Block and no error.
func ParseLine(s string) (Block, error) {
	s = strings.SplitN(s, ";", 2)[0]
	s = rxComment.ReplaceAllString(s, "")
	s = strings.Replace(s, " ", "", -1)
	s = strings.TrimSpace(s)
	s = strings.ToUpper(s)

	if s == "" {
		return nil, nil
	}

	if !rxLine.MatchString(s) {
		return nil, fmt.Errorf("invalid or unhandled line: %q", s)
	}

	codes := rxSplit.FindAllString(s, -1)
	res := make(Block, len(codes))

	for i, c := range codes {
		_, err := fmt.Sscanf(c, "%c%f", &res[i].W, &res[i].Arg)
		if err != nil {
			return nil, err
		}
	}

	return res, nil
}

// Parse parses a multi-line g-code document, skipping blank and
// comment-only lines.
func Parse(data string) ([]Block, error) {
	var blocks []Block
	for _, line := range strings.Split(data, "\n") {
		b, err := ParseLine(line)
		if err != nil {
			return nil, err
		}
		if b == nil {
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func MustParse(data string) []Block {
	b, err := Parse(data)
	if err != nil {
		panic(err)
	}
	return b
}
