// Package ingest turns scanner output lines into grid updates and runs them on
// the single goroutine that owns every session.
package ingest

import (
	"strconv"
	"strings"
)

// Sample is one decoded range reading. Motor is already shifted by one to
// match the grid's column numbering.
type Sample struct {
	Motor int
	Servo int
	Range float64
}

// Parse decodes a line carrying exactly four integers: a command marker, the
// raw motor position, the servo position and the range. Anything that is not
// a digit separates numbers, so "#1, 3, 45, 120 mm" and "#1 3 45 120" decode
// the same. Lines that do not yield exactly four integers are rejected.
func Parse(line string) (Sample, bool) {
	tokens := strings.FieldsFunc(line, func(r rune) bool {
		return r < '0' || r > '9'
	})
	if len(tokens) != 4 {
		return Sample{}, false
	}

	var vals [4]int
	for i, tok := range tokens {
		v, err := strconv.Atoi(tok)
		if err != nil {
			return Sample{}, false
		}
		vals[i] = v
	}
	return Sample{Motor: vals[1] + 1, Servo: vals[2], Range: float64(vals[3])}, true
}
