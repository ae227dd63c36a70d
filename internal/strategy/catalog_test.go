package strategy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/strategy_matcher/internal/models"
)

func TestDefaultCatalog_PriorityOrder(t *testing.T) {
	c := DefaultCatalog()
	require.Equal(t, 31, c.Len())
	assert.Equal(t, "1", c.Version())

	templates := c.Templates()
	for i := 1; i < len(templates); i++ {
		prev, cur := templates[i-1], templates[i]
		if len(prev.Legs) == len(cur.Legs) {
			assert.Less(t, prev.Name, cur.Name, "same leg count must be ordered by name")
		} else {
			assert.Greater(t, len(prev.Legs), len(cur.Legs), "%s must precede %s", prev.Name, cur.Name)
		}
	}

	names := c.Names()
	assert.Equal(t, "Box Spread", names[0])
	assert.Equal(t, []string{"Naked Call", "Naked Put"}, names[len(names)-2:])
	assert.Less(t, c.Priority("Iron Condor"), c.Priority("Bull Put Spread"))
	assert.Equal(t, -1, c.Priority("Jade Lizard"))
}

func TestDefaultCatalog_IsShared(t *testing.T) {
	assert.Same(t, DefaultCatalog(), DefaultCatalog())
}

func TestCatalog_TemplatesAreCopies(t *testing.T) {
	c := DefaultCatalog()
	templates := c.Templates()
	templates[0].Name = "mutated"
	templates[0].Legs[0].Ratio = 99

	orig, ok := c.Lookup("Box Spread")
	require.True(t, ok)
	assert.Equal(t, int64(1), orig.Legs[0].Ratio)
	assert.Equal(t, "Box Spread", c.Names()[0])
}

func TestLookup(t *testing.T) {
	c := DefaultCatalog()
	cc, ok := c.Lookup("Covered Call")
	require.True(t, ok)
	require.Len(t, cc.Legs, 2)
	assert.Equal(t, models.KindOption, cc.Legs[0].Kind)
	assert.Equal(t, models.SideShort, cc.Legs[0].Side)
	assert.Equal(t, models.KindEquity, cc.Legs[1].Kind)
	assert.Equal(t, MarginUnderlying, cc.Margin)

	_, ok = c.Lookup("nope")
	assert.False(t, ok)
}

func TestNewCatalog_ValidationErrors(t *testing.T) {
	call := LegSpec{Name: "a", Kind: models.KindOption, Right: models.RightCall, Side: models.SideShort, Ratio: 1}
	stock := LegSpec{Name: "s", Kind: models.KindEquity, Side: models.SideLong, Ratio: 1}

	tests := []struct {
		name      string
		templates []Template
	}{
		{"empty catalog", nil},
		{"missing name", []Template{{Margin: MarginZero, Legs: []LegSpec{call}}}},
		{"no legs", []Template{{Name: "x", Margin: MarginZero}}},
		{"too many legs", []Template{{Name: "x", Margin: MarginZero, Legs: []LegSpec{
			call, {Name: "b", Kind: models.KindOption, Right: models.RightCall, Side: models.SideLong, Ratio: 1},
			{Name: "c", Kind: models.KindOption, Right: models.RightCall, Side: models.SideLong, Ratio: 1},
			{Name: "d", Kind: models.KindOption, Right: models.RightCall, Side: models.SideLong, Ratio: 1},
			{Name: "e", Kind: models.KindOption, Right: models.RightCall, Side: models.SideLong, Ratio: 1},
		}}}},
		{"bad margin rule", []Template{{Name: "x", Margin: "cheap", Legs: []LegSpec{call}}}},
		{"zero ratio", []Template{{Name: "x", Margin: MarginZero, Legs: []LegSpec{{Name: "a", Kind: models.KindOption, Right: models.RightCall, Side: models.SideLong}}}}},
		{"duplicate leg", []Template{{Name: "x", Margin: MarginZero, Legs: []LegSpec{call, call}}}},
		{"equity first", []Template{{Name: "x", Margin: MarginZero, Legs: []LegSpec{stock, call}}}},
		{"equity only", []Template{{Name: "x", Margin: MarginZero, Legs: []LegSpec{stock}}}},
		{"option without right", []Template{{Name: "x", Margin: MarginZero, Legs: []LegSpec{{Name: "a", Kind: models.KindOption, Side: models.SideLong, Ratio: 1}}}}},
		{"forward reference", []Template{{Name: "x", Margin: MarginZero, Legs: []LegSpec{
			{Name: "a", Kind: models.KindOption, Right: models.RightCall, Side: models.SideLong, Ratio: 1,
				Constraints: []Constraint{{Kind: StrikeAbove, Leg: "b"}}},
			{Name: "b", Kind: models.KindOption, Right: models.RightCall, Side: models.SideShort, Ratio: 1},
		}}}},
		{"reference to equity leg", []Template{{Name: "x", Margin: MarginZero, Legs: []LegSpec{
			call, stock,
			{Name: "c", Kind: models.KindOption, Right: models.RightPut, Side: models.SideLong, Ratio: 1,
				Constraints: []Constraint{{Kind: StrikeEqual, Leg: "s"}}},
		}}}},
		{"unknown constraint", []Template{{Name: "x", Margin: MarginZero, Legs: []LegSpec{
			call,
			{Name: "b", Kind: models.KindOption, Right: models.RightCall, Side: models.SideLong, Ratio: 1,
				Constraints: []Constraint{{Kind: "delta_above", Leg: "a"}}},
		}}}},
		{"naked long leg", []Template{{Name: "x", Margin: MarginNaked, Naked: true, Legs: []LegSpec{
			{Name: "a", Kind: models.KindOption, Right: models.RightCall, Side: models.SideLong, Ratio: 1},
		}}}},
		{"duplicate template", []Template{
			{Name: "x", Margin: MarginZero, Legs: []LegSpec{call}},
			{Name: "x", Margin: MarginZero, Legs: []LegSpec{call}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.templates)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidTemplate), "got %v", err)
		})
	}
}

func TestParseCatalog(t *testing.T) {
	data := []byte(`
version: "test"
templates:
  - name: Only Short Call
    margin: naked
    naked: true
    legs:
      - {name: call, kind: option, right: call, side: short, ratio: 1}
  - name: Vertical
    margin: spread_width
    legs:
      - {name: low, kind: option, right: call, side: short, ratio: 1}
      - name: high
        kind: option
        right: call
        side: long
        ratio: 1
        constraints: [{kind: strike_above, leg: low}]
`)
	c, err := ParseCatalog(data)
	require.NoError(t, err)
	assert.Equal(t, "test", c.Version())
	assert.Equal(t, []string{"Vertical", "Only Short Call"}, c.Names())
}

func TestParseCatalog_UnknownField(t *testing.T) {
	_, err := ParseCatalog([]byte("version: x\ntemplates: []\nextra: 1\n"))
	require.Error(t, err)
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, defaultCatalogYAML, 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog().Names(), c.Names())

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConstraintSatisfied(t *testing.T) {
	exp := time.Date(2015, 12, 24, 0, 0, 0, 0, time.UTC)
	later := exp.AddDate(0, 1, 0)
	bound := map[string]models.Position{
		"low": models.NewOptionPosition("GOOG", models.RightCall, 100, exp, 1),
		"mid": models.NewOptionPosition("GOOG", models.RightCall, 105, exp, -2),
	}
	lookup := func(name string) (models.Position, bool) {
		p, ok := bound[name]
		return p, ok
	}

	tests := []struct {
		name string
		c    Constraint
		cand models.Position
		want bool
	}{
		{"above", Constraint{Kind: StrikeAbove, Leg: "low"}, models.NewOptionPosition("GOOG", models.RightCall, 101, exp, 1), true},
		{"not above when equal", Constraint{Kind: StrikeAbove, Leg: "low"}, models.NewOptionPosition("GOOG", models.RightCall, 100, exp, 1), false},
		{"below", Constraint{Kind: StrikeBelow, Leg: "low"}, models.NewOptionPosition("GOOG", models.RightPut, 95, exp, 1), true},
		{"equal", Constraint{Kind: StrikeEqual, Leg: "low"}, models.NewOptionPosition("GOOG", models.RightPut, 100, exp, 1), true},
		{"expiry equal", Constraint{Kind: ExpiryEqual, Leg: "low"}, models.NewOptionPosition("GOOG", models.RightPut, 1, exp, 1), true},
		{"expiry equal fails", Constraint{Kind: ExpiryEqual, Leg: "low"}, models.NewOptionPosition("GOOG", models.RightPut, 1, later, 1), false},
		{"expiry after", Constraint{Kind: ExpiryAfter, Leg: "low"}, models.NewOptionPosition("GOOG", models.RightCall, 100, later, 1), true},
		{"expiry after fails on same day", Constraint{Kind: ExpiryAfter, Leg: "low"}, models.NewOptionPosition("GOOG", models.RightCall, 100, exp, 1), false},
		{"equidistant", Constraint{Kind: StrikeEquidistant, Leg: "mid", Other: "low"}, models.NewOptionPosition("GOOG", models.RightCall, 110, exp, 1), true},
		{"not equidistant", Constraint{Kind: StrikeEquidistant, Leg: "mid", Other: "low"}, models.NewOptionPosition("GOOG", models.RightCall, 112.5, exp, 1), false},
		{"missing reference", Constraint{Kind: StrikeAbove, Leg: "ghost"}, models.NewOptionPosition("GOOG", models.RightCall, 200, exp, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Satisfied(tt.cand, lookup))
		})
	}
}

func TestLegSpec_AcceptsAndPerUnit(t *testing.T) {
	exp := time.Date(2015, 12, 24, 0, 0, 0, 0, time.UTC)
	shortCall := LegSpec{Name: "c", Kind: models.KindOption, Right: models.RightCall, Side: models.SideShort, Ratio: 1}
	stock := LegSpec{Name: "s", Kind: models.KindEquity, Side: models.SideLong, Ratio: 1}
	call := models.NewOptionPosition("GOOG", models.RightCall, 750, exp, -5)

	assert.True(t, shortCall.Accepts(call, -5))
	assert.False(t, shortCall.Accepts(call, 5), "long remaining cannot fill a short leg")
	assert.False(t, shortCall.Accepts(call, 0))
	assert.False(t, stock.Accepts(call, -5))
	assert.Equal(t, int64(1), shortCall.PerUnit(100))
	assert.Equal(t, int64(100), stock.PerUnit(100))
}
