package vo

import (
	"regexp"
	"strconv"
)

var (
	contentRangeRe     = regexp.MustCompile(`^bytes\s+(\d+)-(\d+)/(\d+)\s*$`)
	unsatisfiedRangeRe = regexp.MustCompile(`^bytes\s+\*/(\d+)\s*$`)
)

// ContentRange is a parsed Content-Range response header.
type ContentRange struct {
	Start       int64
	End         int64
	TotalLength int64
}

// ParseContentRange parses "bytes <start>-<end>/<total>". Malformed input
// yields false and must be treated as if the header were absent.
func ParseContentRange(header string) (ContentRange, bool) {
	m := contentRangeRe.FindStringSubmatch(header)
	if m == nil {
		return ContentRange{}, false
	}
	var vals [3]int64
	for i := range vals {
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return ContentRange{}, false
		}
		vals[i] = n
	}
	return ContentRange{Start: vals[0], End: vals[1], TotalLength: vals[2]}, true
}

// Valid reports whether the range is ordered and lies inside the resource.
func (cr ContentRange) Valid() bool {
	return cr.Start <= cr.End && cr.End < cr.TotalLength
}

// ParseUnsatisfiedRange parses the "bytes */<total>" form sent with
// 416 Range Not Satisfiable.
func ParseUnsatisfiedRange(header string) (int64, bool) {
	m := unsatisfiedRangeRe.FindStringSubmatch(header)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
