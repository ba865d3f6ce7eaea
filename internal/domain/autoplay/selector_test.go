package autoplay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/config"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/browser"
)

const lobbyPage = `<html><body>
	<div class="hero">Press to play</div>
	<button class="btn" data-lobby-handle="h1" data-lobby-rect="0,0,10,10" data-lobby-visible="true">Settings</button>
	<button aria-label="Play Halo" data-lobby-handle="h2" data-lobby-rect="100,50,80,20" data-lobby-visible="false">Halo</button>
	<div role="button" aria-label="PLAY now" data-lobby-handle="h3" data-lobby-rect="200,50,80,20" data-lobby-visible="true">Go</div>
	<a class="big-play-button" data-lobby-handle="h4" data-lobby-rect="0,100,50,50" data-lobby-visible="true">Start</a>
	<button class="cta" data-lobby-handle="h5" data-lobby-rect="0,200,50,50" data-lobby-visible="true">  Play  </button>
	<button data-automation-id="play-button" data-lobby-visible="true">Unstamped</button>
</body></html>`

func parse(t *testing.T, html string) *Document {
	t.Helper()
	doc, err := Parse(&browser.Snapshot{HTML: html})
	require.NoError(t, err)
	return doc
}

func handles(cs []Candidate) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Handle)
	}
	return out
}

func TestMatchPhrase(t *testing.T) {
	doc := parse(t, lobbyPage)
	phrase, ok := doc.MatchPhrase(DefaultPhrases)
	assert.True(t, ok)
	assert.Equal(t, "press to play", phrase)

	_, ok = parse(t, `<html><body>Now playing</body></html>`).MatchPhrase(DefaultPhrases)
	assert.False(t, ok)

	doc, err := Parse(&browser.Snapshot{HTML: "<html></html>", Text: "CLICK HERE TO PLAY"})
	require.NoError(t, err)
	phrase, ok = doc.MatchPhrase(DefaultPhrases)
	assert.True(t, ok)
	assert.Equal(t, "click here to play", phrase)
}

func TestSelectors(t *testing.T) {
	doc := parse(t, lobbyPage)

	tests := []struct {
		name string
		sel  Selector
		want []string
	}{
		{"attribute skips unstamped", ByAttribute{Attr: "data-automation-id", Value: "play-button"}, []string{}},
		{"aria label ignores case", ByAriaLabelSubstring{Tags: []string{"button", `div[role="button"]`}, Substring: "play"}, []string{"h2", "h3"}},
		{"class substring", ByClassSubstring{Substring: "play-button"}, []string{"h4"}},
		{"class restricted by tag", ByClassSubstring{Tags: []string{"button"}, Substring: "play"}, []string{}},
		{"visible text", ByVisibleText{Tags: []string{"button"}, Substring: "play"}, []string{"h5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.sel.Select(doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, handles(got))
		})
	}
}

func TestCandidateGeometry(t *testing.T) {
	got, err := ByAriaLabelSubstring{Tags: []string{"button"}, Substring: "halo"}.Select(parse(t, lobbyPage))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Visible)
	x, y := got[0].Rect.Center()
	assert.Equal(t, 140.0, x)
	assert.Equal(t, 60.0, y)
}

type brokenSelector struct{}

func (brokenSelector) Name() string                        { return "broken" }
func (brokenSelector) Select(*Document) ([]Candidate, error) { return nil, errors.New("boom") }

func TestLocatePriority(t *testing.T) {
	policy := DefaultPolicy()
	policy.Selectors = append([]Selector{brokenSelector{}}, policy.Selectors...)
	h := New(Config{InstanceID: "lobby_1", Policy: policy})

	// h2 matches aria-label first but is hidden; h3 is the first visible
	c, ok := h.locate(parse(t, lobbyPage))
	require.True(t, ok)
	assert.Equal(t, "h3", c.Handle)

	_, ok = h.locate(parse(t, `<html><body><p>tap to play</p></body></html>`))
	assert.False(t, ok)
}

func TestNewPolicy(t *testing.T) {
	cfg := config.AutomationConfig{MaxClickAttempts: 4}
	p, err := NewPolicy(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, p.MaxClickAttempts)
	assert.Equal(t, DefaultPhrases, p.Phrases)
	assert.Len(t, p.Selectors, len(DefaultSelectors()))

	profile := &config.Profile{
		Phrases: []string{"continue"},
		Selectors: []config.SelectorSpec{
			{Kind: "text", Tags: []string{"button"}, Value: "continue"},
			{Kind: "attribute", Attr: "id", Value: "go"},
		},
	}
	p, err = NewPolicy(cfg, profile)
	require.NoError(t, err)
	assert.Equal(t, []string{"continue"}, p.Phrases)
	require.Len(t, p.Selectors, 2)
	assert.IsType(t, ByVisibleText{}, p.Selectors[0])
	assert.IsType(t, ByAttribute{}, p.Selectors[1])

	_, err = NewPolicy(cfg, &config.Profile{Selectors: []config.SelectorSpec{{Kind: "xpath", Value: "x"}}})
	assert.Error(t, err)
}
