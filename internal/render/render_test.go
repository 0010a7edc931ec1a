package render

import (
	"strings"
	"testing"
)

func TestRender_MarkerSummary(t *testing.T) {
	r := New(Options{})
	out, err := r.Render("Lead *text*.\n\n<!--more-->\n\nThe rest.\n", 30)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !out.FromMarker || !out.Truncated {
		t.Errorf("from marker = %v, truncated = %v", out.FromMarker, out.Truncated)
	}
	if !strings.Contains(out.Summary, "<em>text</em>") {
		t.Errorf("summary = %q", out.Summary)
	}
	if strings.Contains(out.Summary, "The rest") {
		t.Error("summary must stop at the marker")
	}
	if !strings.Contains(out.HTML, "The rest") {
		t.Error("full HTML must include the rest")
	}
	if strings.Contains(out.HTML, "<!--") {
		t.Errorf("marker leaked into HTML: %q", out.HTML)
	}
}

func TestRender_MarkerDroppedInUnsafeMode(t *testing.T) {
	out, err := New(Options{Unsafe: true}).Render("Lead\n<!--more-->\nRest\n", 0)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if strings.Contains(out.HTML, "more") {
		t.Errorf("html = %q", out.HTML)
	}
	if !strings.Contains(out.HTML, "<p>Lead</p>") || !strings.Contains(out.HTML, "<p>Rest</p>") {
		t.Errorf("teaser and rest should stay separate paragraphs: %q", out.HTML)
	}
}

func TestRender_AutoSummaryWords(t *testing.T) {
	r := New(Options{})
	out, err := r.Render("one two three four five\n", 3)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out.FromMarker {
		t.Error("no marker present")
	}
	if out.Summary != "one two three" || !out.Truncated {
		t.Errorf("summary = %q truncated = %v", out.Summary, out.Truncated)
	}
}

func TestRender_DefaultSummaryLength(t *testing.T) {
	r := New(Options{DefaultSummaryLength: 2})
	out, err := r.Render("alpha beta gamma\n", 0)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out.Summary != "alpha beta" {
		t.Errorf("summary = %q", out.Summary)
	}
}

func TestSummarize_CJK(t *testing.T) {
	got, truncated := Summarize("収益化戦略を考える", 4)
	if got != "収益化戦" || !truncated {
		t.Errorf("got %q, %v", got, truncated)
	}
}

func TestSummarize_Short(t *testing.T) {
	got, truncated := Summarize("short text", 10)
	if got != "short text" || truncated {
		t.Errorf("got %q, %v", got, truncated)
	}
}

func TestHTML_ReferenceLinks(t *testing.T) {
	r := New(Options{})
	h, err := r.HTML("See [source][1].\n\n[1]: https://example.com\n")
	if err != nil {
		t.Fatalf("HTML: %v", err)
	}
	if !strings.Contains(h, `href="https://example.com"`) {
		t.Errorf("html = %q", h)
	}
}

func TestHTML_RawHTMLOmittedUnlessUnsafe(t *testing.T) {
	safe := New(Options{})
	h, _ := safe.HTML("<div>x</div>\n")
	if strings.Contains(h, "<div>") {
		t.Errorf("safe renderer passed raw html: %q", h)
	}
	unsafe := New(Options{Unsafe: true})
	h, _ = unsafe.HTML("<div>x</div>\n")
	if !strings.Contains(h, "<div>") {
		t.Errorf("unsafe renderer dropped raw html: %q", h)
	}
}

func TestKnownExtension(t *testing.T) {
	if !KnownExtension("GFM") || KnownExtension("mermaid") {
		t.Error("unexpected extension lookup result")
	}
}
