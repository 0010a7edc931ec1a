package parser

import "strings"

// MoreMarker separates the teaser from the rest of the body.
const MoreMarker = "<!--more-->"

// SplitSummary splits body at the first summary-break line. found is false
// when the body has no marker, in which case teaser is empty and rest is body.
func SplitSummary(body string) (teaser, rest string, found bool) {
	offset := 0
	for _, line := range strings.SplitAfter(body, "\n") {
		if strings.TrimSpace(line) == MoreMarker {
			return body[:offset], body[offset+len(line):], true
		}
		offset += len(line)
	}
	return "", body, false
}

// MarkerCount returns how many summary-break lines body contains.
func MarkerCount(body string) int {
	n := 0
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == MoreMarker {
			n++
		}
	}
	return n
}
