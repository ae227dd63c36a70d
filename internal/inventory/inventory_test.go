package inventory

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/strategy_matcher/internal/models"
)

var (
	nearExpiry = time.Date(2015, 12, 24, 0, 0, 0, 0, time.UTC)
	farExpiry  = time.Date(2016, 1, 15, 0, 0, 0, 0, time.UTC)
)

func TestBuild_GroupsAndOrders(t *testing.T) {
	positions := []models.Position{
		models.NewOptionPosition("spy", models.RightPut, 440, farExpiry, -1),
		models.NewOptionPosition("GOOG", models.RightPut, 750, nearExpiry, 2),
		models.NewOptionPosition("GOOG", models.RightCall, 760, nearExpiry, -1),
		models.NewOptionPosition("GOOG", models.RightCall, 750, nearExpiry, -1),
		models.NewEquityPosition("GOOG", 100),
		models.NewOptionPosition("GOOG", models.RightCall, 700, farExpiry, 1),
	}

	inv, err := Build(positions)
	require.NoError(t, err)
	assert.Equal(t, 6, inv.Len())
	assert.Equal(t, []string{"GOOG", "SPY"}, inv.Underlyings())

	goog := inv.Positions("goog")
	require.Len(t, goog, 5)
	want := []string{
		"GOOG",
		"GOOG151224C00750000",
		"GOOG151224P00750000",
		"GOOG151224C00760000",
		"GOOG160115C00700000",
	}
	for i, p := range goog {
		assert.Equal(t, want[i], p.ID, "position %d", i)
	}

	spy := inv.Positions("SPY")
	require.Len(t, spy, 1)
	assert.Equal(t, "SPY", spy[0].Underlying)
}

func TestBuild_NetsLotsAndDropsZero(t *testing.T) {
	positions := []models.Position{
		models.NewOptionPosition("GOOG", models.RightCall, 750, nearExpiry, -3),
		models.NewOptionPosition("GOOG", models.RightCall, 750, nearExpiry, -2),
		models.NewOptionPosition("GOOG", models.RightPut, 700, nearExpiry, 4),
		models.NewOptionPosition("GOOG", models.RightPut, 700, nearExpiry, -4),
		models.NewEquityPosition("GOOG", 0),
	}

	inv, err := Build(positions)
	require.NoError(t, err)
	require.Equal(t, 1, inv.Len())
	got := inv.Positions("GOOG")[0]
	assert.Equal(t, int64(-5), got.Quantity)
	assert.Equal(t, models.RightCall, got.Right)
}

func TestBuild_InvalidPositionFailsFast(t *testing.T) {
	bad := models.NewOptionPosition("GOOG", models.RightCall, 750, nearExpiry, 1)
	bad.Strike = 0

	inv, err := Build([]models.Position{models.NewEquityPosition("GOOG", 100), bad})
	require.Error(t, err)
	assert.Nil(t, inv)
	assert.True(t, errors.Is(err, models.ErrInvalidPosition))
}

func TestBuild_RejectsScaledEquity(t *testing.T) {
	scaled := models.NewEquityPosition("GOOG", 50)
	scaled.Multiplier = 10

	_, err := Build([]models.Position{models.NewEquityPosition("GOOG", 100), scaled})
	assert.ErrorIs(t, err, models.ErrInvalidPosition)
}

func TestBuild_NettingBeyondMaxQuantityFails(t *testing.T) {
	big := models.NewEquityPosition("GOOG", models.MaxQuantity)

	_, err := Build([]models.Position{big, big})
	assert.ErrorIs(t, err, models.ErrInvalidPosition)

	short := big
	short.Quantity = -models.MaxQuantity
	inv, err := Build([]models.Position{big, short})
	require.NoError(t, err)
	assert.Zero(t, inv.Len())
}

func TestBuild_EmptyInput(t *testing.T) {
	inv, err := Build(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Len())
	assert.Empty(t, inv.Underlyings())
	assert.Nil(t, inv.Positions("GOOG"))
	assert.Empty(t, inv.All())
}

func TestPositions_ReturnsCopy(t *testing.T) {
	inv, err := Build([]models.Position{models.NewEquityPosition("GOOG", 100)})
	require.NoError(t, err)

	got := inv.Positions("GOOG")
	got[0].Quantity = 999
	assert.Equal(t, int64(100), inv.Positions("GOOG")[0].Quantity, "snapshot must not leak internal state")
}

func TestBuild_OrderIndependent(t *testing.T) {
	a := []models.Position{
		models.NewOptionPosition("GOOG", models.RightCall, 760, nearExpiry, -1),
		models.NewEquityPosition("GOOG", 100),
		models.NewOptionPosition("GOOG", models.RightPut, 740, nearExpiry, 1),
	}
	b := []models.Position{a[2], a[0], a[1]}

	invA, err := Build(a)
	require.NoError(t, err)
	invB, err := Build(b)
	require.NoError(t, err)
	assert.Equal(t, invA.All(), invB.All())
}
