// Package conformance checks post files against the content contract and
// reports every violation found.
package conformance

import (
	"errors"
	"fmt"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/postvault/internal/parser"
)

// Rule identifiers.
const (
	RuleDelimiters    = "delimiters"
	RuleFrontMatter   = "front-matter"
	RuleFieldType     = "field-type"
	RuleCoverAlt      = "cover-alt"
	RuleMissingField  = "missing-field"
	RuleDate          = "date"
	RuleBoolean       = "boolean"
	RuleSummaryLength = "summary-length"
	RuleTags          = "tags"
	RuleTeaser        = "teaser"
	RuleCitations     = "citations"
	RuleCoverAsset    = "cover-asset"
	RulePath          = "path"
)

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is a single conformance finding.
type Issue struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Field    string `json:"field,omitempty"`
	Message  string `json:"message"`
}

// Report lists the issues found in one file.
type Report struct {
	Path   string  `json:"path"`
	Issues []Issue `json:"issues"`
}

// OK reports whether the file has no error-level issues.
func (r *Report) OK() bool {
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Err returns the error-level issues joined, or nil.
func (r *Report) Err() error {
	var errs []error
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			errs = append(errs, fmt.Errorf("%s: %s", is.Rule, is.Message))
		}
	}
	return errors.Join(errs...)
}

func (r *Report) add(rule, severity, field, msg string) {
	r.Issues = append(r.Issues, Issue{Rule: rule, Severity: severity, Field: field, Message: msg})
}

// AssetExists reports whether a content-root relative file exists.
type AssetExists func(path string) bool

// Check parses data and evaluates every rule. exists may be nil, in which
// case the cover asset rule is skipped.
func Check(filePath string, data []byte, exists AssetExists) *Report {
	rep := &Report{Path: filePath, Issues: []Issue{}}

	if n := delimiterLines(data); n != 2 {
		rep.add(RuleDelimiters, SeverityError, "",
			fmt.Sprintf("expected exactly 2 %q lines, found %d", parser.Delimiter, n))
	}

	res, err := parser.Parse(data)
	if err != nil {
		rep.add(RuleFrontMatter, SeverityError, "", err.Error())
		return rep
	}

	for _, f := range res.Missing {
		rep.add(RuleMissingField, SeverityError, f, "required field is absent")
	}
	for _, fe := range res.FieldErrors {
		rep.add(ruleFor(fe.Field), SeverityError, fe.Field, fe.Message)
	}

	if _, ok := res.FrontMatter["title"]; ok {
		if err := validation.Validate(strings.TrimSpace(res.Title), validation.Required); err != nil {
			rep.add(RuleMissingField, SeverityError, "title", "title "+err.Error())
		}
	}
	if res.Cover.Image != "" {
		if err := validation.Validate(strings.TrimSpace(res.Cover.Alt), validation.Required); err != nil {
			rep.add(RuleCoverAlt, SeverityWarning, "cover.alt", "cover alt text "+err.Error())
		}
	}

	checkBody(rep, res.Body)

	if exists != nil && res.Cover.Relative && res.Cover.Image != "" {
		asset := path.Join(path.Dir(filePath), res.Cover.Image)
		if err := validation.Validate(asset, validation.By(func(any) error {
			if !exists(asset) {
				return errors.New("cover image not found next to the document")
			}
			return nil
		})); err != nil {
			rep.add(RuleCoverAsset, SeverityWarning, "cover.image", err.Error()+": "+asset)
		}
	}

	return rep
}

func checkBody(rep *Report, body string) {
	switch n := parser.MarkerCount(body); {
	case n > 1:
		rep.add(RuleTeaser, SeverityError, "", fmt.Sprintf("found %d %s markers, at most one allowed", n, parser.MoreMarker))
	case n == 1:
		teaser, _, _ := parser.SplitSummary(body)
		if err := validation.Validate(strings.TrimSpace(teaser), validation.Required); err != nil {
			rep.add(RuleTeaser, SeverityError, "", "teaser before "+parser.MoreMarker+" is empty")
		}
	}

	cites := parser.ExtractCitations(body)
	for _, n := range cites.Undefined() {
		rep.add(RuleCitations, SeverityError, "", fmt.Sprintf("citation [%d] has no link definition", n))
	}
}

func ruleFor(field string) string {
	switch field {
	case "date":
		return RuleDate
	case "draft", "cover.relative", "cover.hidden":
		return RuleBoolean
	case "summaryLength":
		return RuleSummaryLength
	case "tags":
		return RuleTags
	default:
		return RuleFieldType
	}
}

func delimiterLines(data []byte) int {
	n := 0
	for _, line := range strings.Split(string(parser.Normalize(data)), "\n") {
		if line == parser.Delimiter {
			n++
		}
	}
	return n
}
