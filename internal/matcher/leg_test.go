package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/strategy_matcher/internal/models"
	"github.com/eddiefleurent/strategy_matcher/internal/strategy"
)

func TestMatchLeg(t *testing.T) {
	tmpl, ok := strategy.DefaultCatalog().Lookup("Bear Call Spread")
	require.True(t, ok)

	positions := []models.Position{call(100, 2), call(105, -1), call(110, 1), call(115, 3)}
	remaining := []int64{2, -1, 1, 3}

	attempt := NewAttempt(tmpl.Name)
	short, ok := MatchLeg(tmpl.Legs[0], positions, remaining, attempt, 0)
	require.True(t, ok)
	assert.Equal(t, 1, short.Index)
	attempt.Add(short, positions)
	assert.Equal(t, int64(100), attempt.Unit)

	long, ok := MatchLeg(tmpl.Legs[1], positions, remaining, attempt, 0)
	require.True(t, ok)
	assert.Equal(t, 2, long.Index, "first long call strictly above the short strike")
	assert.Equal(t, int64(1), long.PerUnit)
}

func TestMatchLeg_FromSkipsEarlierCandidates(t *testing.T) {
	spec := strategy.LegSpec{Name: "long", Kind: models.KindOption, Right: models.RightCall, Side: models.SideLong, Ratio: 1}
	positions := []models.Position{call(100, 1), call(110, 1)}

	m, ok := MatchLeg(spec, positions, []int64{1, 1}, NewAttempt("t"), 1)
	require.True(t, ok)
	assert.Equal(t, 1, m.Index)

	_, ok = MatchLeg(spec, positions, []int64{1, 1}, NewAttempt("t"), 2)
	assert.False(t, ok)
}

func TestMatchLeg_RespectsRemainingAndRatio(t *testing.T) {
	spec := strategy.LegSpec{Name: "body", Kind: models.KindOption, Right: models.RightCall, Side: models.SideShort, Ratio: 2}
	positions := []models.Position{call(105, -1), call(110, -4)}

	m, ok := MatchLeg(spec, positions, []int64{-1, -4}, NewAttempt("t"), 0)
	require.True(t, ok)
	assert.Equal(t, 1, m.Index)
	assert.Equal(t, int64(2), m.PerUnit)

	_, ok = MatchLeg(spec, positions, []int64{-1, 0}, NewAttempt("t"), 0)
	assert.False(t, ok)
}

func TestMatchLeg_EquityUsesUnitMultiplier(t *testing.T) {
	tmpl, ok := strategy.DefaultCatalog().Lookup("Covered Call")
	require.True(t, ok)
	positions := []models.Position{shares(99), call(750, -1)}

	attempt := NewAttempt(tmpl.Name)
	c, ok := MatchLeg(tmpl.Legs[0], positions, []int64{99, -1}, attempt, 0)
	require.True(t, ok)
	attempt.Add(c, positions)

	_, ok = MatchLeg(tmpl.Legs[1], positions, []int64{99, -1}, attempt, 0)
	assert.False(t, ok, "99 shares cannot cover one contract of 100")

	m, ok := MatchLeg(tmpl.Legs[1], positions, []int64{100, -1}, attempt, 0)
	require.True(t, ok)
	assert.Equal(t, int64(100), m.PerUnit)
}

func TestMatchLeg_NeverRebindsSamePosition(t *testing.T) {
	spec := strategy.LegSpec{Name: "b", Kind: models.KindOption, Right: models.RightCall, Side: models.SideLong, Ratio: 1}
	positions := []models.Position{call(100, 5)}
	attempt := NewAttempt("t")
	attempt.Add(LegMatch{Leg: "a", Index: 0, PerUnit: 1}, positions)

	_, ok := MatchLeg(spec, positions, []int64{5}, attempt, 0)
	assert.False(t, ok)
}
