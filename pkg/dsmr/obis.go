package dsmr

import (
	"fmt"
	"regexp"
	"strconv"
)

// ObisCode is the reduced OBIS identifier leading every telegram data line,
// in the fixed A-B:C.D.E layout.
type ObisCode struct {
	A, B, C, D, E int
}

var obisPattern = regexp.MustCompile(`(\d+)-(\d+):(\d+)\.(\d+)\.(\d+)`)

func (c ObisCode) String() string {
	return fmt.Sprintf("%d-%d:%d.%d.%d", c.A, c.B, c.C, c.D, c.E)
}

// SplitLine locates the OBIS code in a data line and returns it together
// with the remainder of the line after the code. ok is false when the line
// carries no code at all.
func SplitLine(line string) (code ObisCode, rest string, ok bool) {
	m := obisPattern.FindStringSubmatchIndex(line)
	if m == nil {
		return ObisCode{}, "", false
	}

	var parts [5]int
	for i := range parts {
		n, err := strconv.Atoi(line[m[2*(i+1)]:m[2*(i+1)+1]])
		if err != nil {
			return ObisCode{}, "", false
		}
		parts[i] = n
	}

	code = ObisCode{A: parts[0], B: parts[1], C: parts[2], D: parts[3], E: parts[4]}
	return code, line[m[1]:], true
}
