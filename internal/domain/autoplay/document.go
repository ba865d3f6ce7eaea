package autoplay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser"
)

// Attributes stamped on candidate elements by the surface snapshot.
const (
	attrHandle  = "data-lobby-handle"
	attrRect    = "data-lobby-rect"
	attrVisible = "data-lobby-visible"
)

// Document is a parsed page snapshot. goquery and htmlquery selectors
// share the same root node.
type Document struct {
	root *html.Node
	doc  *goquery.Document
	text string
}

// Parse builds a Document from a surface snapshot.
func Parse(snap *browser.Snapshot) (*Document, error) {
	if snap == nil {
		return nil, fmt.Errorf("nil snapshot")
	}
	root, err := html.Parse(strings.NewReader(snap.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	text := snap.Text
	if text == "" {
		text = doc.Find("body").Text()
	}
	return &Document{
		root: root,
		doc:  doc,
		text: strings.ToLower(text),
	}, nil
}

// Text is the lowercased visible text of the body.
func (d *Document) Text() string { return d.text }

// MatchPhrase returns the first phrase found in the page text. Phrases
// are compared case-insensitively.
func (d *Document) MatchPhrase(phrases []string) (string, bool) {
	for _, p := range phrases {
		if p == "" {
			continue
		}
		if strings.Contains(d.text, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

// Rect is an element's bounding box in viewport coordinates.
type Rect struct {
	X, Y, Width, Height float64
}

// Center returns the midpoint of r.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Candidate is a clickable element found by a selector.
type Candidate struct {
	Handle  string
	Rect    Rect
	Visible bool
}

// candidates converts matched nodes, dropping nodes the snapshot did not
// stamp.
func candidates(nodes []*html.Node) []Candidate {
	out := make([]Candidate, 0, len(nodes))
	for _, n := range nodes {
		handle := attr(n, attrHandle)
		if handle == "" {
			continue
		}
		rect, err := parseRect(attr(n, attrRect))
		out = append(out, Candidate{
			Handle:  handle,
			Rect:    rect,
			Visible: err == nil && attr(n, attrVisible) == "true",
		})
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func parseRect(s string) (Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Rect{}, fmt.Errorf("malformed rect %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Rect{}, fmt.Errorf("malformed rect %q: %w", s, err)
		}
		v[i] = f
	}
	return Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}
