package autoplay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/config"
)

// Selector finds play affordance candidates in a document. Selectors are
// pure: they only read the snapshot.
type Selector interface {
	Name() string
	Select(doc *Document) ([]Candidate, error)
}

// ByAttribute matches elements whose attribute equals a value exactly.
type ByAttribute struct {
	// Tags restricts matches to these CSS compound selectors; empty
	// matches any element.
	Tags  []string
	Attr  string
	Value string
}

func (s ByAttribute) Name() string { return fmt.Sprintf("attribute[%s=%s]", s.Attr, s.Value) }

func (s ByAttribute) Select(doc *Document) ([]Candidate, error) {
	if s.Attr == "" {
		return nil, fmt.Errorf("attribute selector without attribute")
	}
	cond := "[" + s.Attr + "=" + strconv.Quote(s.Value) + "]"
	return find(doc, s.Tags, cond, nil), nil
}

// ByAriaLabelSubstring matches elements whose aria-label contains a
// substring, ignoring case.
type ByAriaLabelSubstring struct {
	Tags      []string
	Substring string
}

func (s ByAriaLabelSubstring) Name() string { return "aria-label*=" + s.Substring }

func (s ByAriaLabelSubstring) Select(doc *Document) ([]Candidate, error) {
	want := strings.ToLower(s.Substring)
	return find(doc, s.Tags, "[aria-label]", func(sel *goquery.Selection) bool {
		label, _ := sel.Attr("aria-label")
		return strings.Contains(strings.ToLower(label), want)
	}), nil
}

// ByClassSubstring matches elements whose class attribute contains a
// substring, like the CSS [class*=...] operator.
type ByClassSubstring struct {
	Tags      []string
	Substring string
}

func (s ByClassSubstring) Name() string { return "class*=" + s.Substring }

func (s ByClassSubstring) Select(doc *Document) ([]Candidate, error) {
	return find(doc, s.Tags, "[class*="+strconv.Quote(s.Substring)+"]", nil), nil
}

// ByVisibleText matches elements whose trimmed text contains a substring,
// ignoring case. Tags are element names.
type ByVisibleText struct {
	Tags      []string
	Substring string
}

func (s ByVisibleText) Name() string { return "text~=" + s.Substring }

func (s ByVisibleText) Select(doc *Document) ([]Candidate, error) {
	tags := s.Tags
	if len(tags) == 0 {
		tags = []string{"*"}
	}
	want := strings.ToLower(s.Substring)

	var matched []*html.Node
	for _, tag := range tags {
		nodes, err := htmlquery.QueryAll(doc.root, "//"+tag)
		if err != nil {
			return nil, fmt.Errorf("text selector %q: %w", tag, err)
		}
		for _, n := range nodes {
			text := strings.ToLower(strings.TrimSpace(htmlquery.InnerText(n)))
			if strings.Contains(text, want) {
				matched = append(matched, n)
			}
		}
	}
	return candidates(matched), nil
}

// find runs the CSS selector tag+cond for every tag, keeping document
// order within a tag.
func find(doc *Document, tags []string, cond string, keep func(*goquery.Selection) bool) []Candidate {
	if len(tags) == 0 {
		tags = []string{"*"}
	}
	var nodes []*html.Node
	for _, tag := range tags {
		sel := doc.doc.Find(tag + cond)
		if keep != nil {
			sel = sel.FilterFunction(func(_ int, s *goquery.Selection) bool { return keep(s) })
		}
		nodes = append(nodes, sel.Nodes...)
	}
	return candidates(nodes)
}

// DefaultSelectors is the built-in priority list for the cloud gaming
// lobby.
func DefaultSelectors() []Selector {
	return []Selector{
		ByAttribute{Tags: []string{"button"}, Attr: "data-testid", Value: "play-button"},
		ByAttribute{Attr: "data-automation-id", Value: "play-button"},
		ByAriaLabelSubstring{Tags: []string{"button", `div[role="button"]`}, Substring: "play"},
		ByClassSubstring{Substring: "play-button"},
		ByClassSubstring{Tags: []string{"button"}, Substring: "play"},
		ByVisibleText{Tags: []string{"button"}, Substring: "play"},
	}
}

// SelectorFromSpec builds a selector from a profile entry.
func SelectorFromSpec(spec config.SelectorSpec) (Selector, error) {
	switch spec.Kind {
	case "attribute":
		return ByAttribute{Tags: spec.Tags, Attr: spec.Attr, Value: spec.Value}, nil
	case "aria-label":
		return ByAriaLabelSubstring{Tags: spec.Tags, Substring: spec.Value}, nil
	case "class":
		return ByClassSubstring{Tags: spec.Tags, Substring: spec.Value}, nil
	case "text":
		return ByVisibleText{Tags: spec.Tags, Substring: spec.Value}, nil
	}
	return nil, fmt.Errorf("unknown selector kind %q", spec.Kind)
}
