package parser

import (
	"bytes"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmparser "github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

var (
	citationRe   = regexp.MustCompile(`\[(\d+)\]`)
	definitionRe = regexp.MustCompile(`^ {0,3}\[(\d+)\]:`)
	refParser    = goldmark.New().Parser()
)

// Citations describes numbered bracket references found in a body.
type Citations struct {
	// Used holds citation numbers referenced in the text, ascending, unique.
	Used []int
	// Defined maps citation numbers to their link destination.
	Defined map[int]string
}

// Undefined returns used citation numbers without a link definition.
func (c Citations) Undefined() []int {
	var out []int
	for _, n := range c.Used {
		if _, ok := c.Defined[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}

// ExtractCitations collects numbered citations and reference definitions.
// Code spans, code blocks and inline links such as "[1](url)" are ignored.
func ExtractCitations(body string) Citations {
	src := []byte(body)
	ctx := gmparser.NewContext()
	doc := refParser.Parse(text.NewReader(src), gmparser.WithContext(ctx))
	c := Citations{Defined: definitions(ctx)}

	used := map[int]struct{}{}
	for _, line := range strings.Split(string(maskCode(doc, src)), "\n") {
		if definitionRe.MatchString(line) {
			continue
		}
		for _, loc := range citationRe.FindAllStringSubmatchIndex(line, -1) {
			if loc[1] < len(line) && line[loc[1]] == '(' {
				continue
			}
			n, err := strconv.Atoi(line[loc[2]:loc[3]])
			if err != nil {
				continue
			}
			used[n] = struct{}{}
		}
	}

	for n := range used {
		c.Used = append(c.Used, n)
	}
	sort.Ints(c.Used)
	return c
}

// maskCode returns a copy of src with the contents of code spans and code
// blocks blanked out. Line breaks are kept so lines still line up.
func maskCode(doc ast.Node, src []byte) []byte {
	out := bytes.Clone(src)
	blank := func(seg text.Segment) {
		for i := seg.Start; i < seg.Stop && i < len(out); i++ {
			if out[i] != '\n' {
				out[i] = ' '
			}
		}
	}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindCodeSpan:
			for ch := n.FirstChild(); ch != nil; ch = ch.NextSibling() {
				if t, ok := ch.(*ast.Text); ok {
					blank(t.Segment)
				}
			}
			return ast.WalkSkipChildren, nil
		case ast.KindCodeBlock, ast.KindFencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				blank(lines.At(i))
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return out
}

// definitions reads the link references goldmark collected while parsing,
// so that only valid CommonMark definitions count.
func definitions(ctx gmparser.Context) map[int]string {
	out := map[int]string{}
	for _, ref := range ctx.References() {
		n, err := strconv.Atoi(strings.TrimSpace(string(ref.Label())))
		if err != nil {
			continue
		}
		out[n] = string(ref.Destination())
	}
	return out
}
