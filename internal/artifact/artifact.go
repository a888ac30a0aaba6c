// Package artifact handles generated chart images: recognizing chart
// references inside assistant text and fetching the image bytes from
// the capability server's static artifact host.
package artifact

import (
	"regexp"
	"strings"
)

// refPattern matches a chart reference embedded in assistant text: a
// path-like token under /plots/ ending in an image extension. This is
// the one place the pattern lives; the exporter and the web layer both
// split through it.
var refPattern = regexp.MustCompile(`/plots/[\w\-./]+\.(?:png|jpe?g)`)

// ParseRefs returns every chart reference in the text, in order.
func ParseRefs(text string) []string {
	return refPattern.FindAllString(text, -1)
}

// Segment is one piece of a message after splitting on chart
// references. Exactly one of Text or Ref is set.
type Segment struct {
	Text string
	Ref  string
}

// Split cuts the text into interleaved text and image segments,
// preserving order. Text runs that are only whitespace between two
// references are dropped.
func Split(text string) []Segment {
	var segs []Segment
	rest := text
	for {
		loc := refPattern.FindStringIndex(rest)
		if loc == nil {
			break
		}
		if before := rest[:loc[0]]; strings.TrimSpace(before) != "" {
			segs = append(segs, Segment{Text: strings.TrimSpace(before)})
		}
		segs = append(segs, Segment{Ref: rest[loc[0]:loc[1]]})
		rest = rest[loc[1]:]
	}
	if strings.TrimSpace(rest) != "" {
		segs = append(segs, Segment{Text: strings.TrimSpace(rest)})
	}
	return segs
}
