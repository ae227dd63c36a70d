package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/strategy_matcher/internal/broker"
	"github.com/eddiefleurent/strategy_matcher/internal/matcher"
	"github.com/eddiefleurent/strategy_matcher/internal/mock"
	"github.com/eddiefleurent/strategy_matcher/internal/models"
)

func TestMaskAccountID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"typical account ID", "1234567890", "******7890"},
		{"short account ID (4 chars)", "1234", "1234"},
		{"shorter than 4 chars", "123", "123"},
		{"exactly 5 chars", "12345", "*2345"},
		{"empty string", "", ""},
		{"long account ID", "1234567890123456", "************3456"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, maskAccountID(tt.input))
		})
	}
}

func TestDiffBooks(t *testing.T) {
	expiry := time.Date(2015, 12, 24, 0, 0, 0, 0, time.UTC)
	call := models.NewOptionPosition("GOOG", models.RightCall, 750, expiry, -5)
	stock := models.NewEquityPosition("GOOG", 500)
	put := models.NewOptionPosition("GOOG", models.RightPut, 650, expiry, 2)

	assert.Empty(t, diffBooks([]models.Position{call, stock}, []models.Position{stock, call}))

	half := stock
	half.Quantity = 300
	got := diffBooks([]models.Position{call, stock}, []models.Position{call, half, put})
	require.Len(t, got, 2)
	assert.Equal(t, Discrepancy{Contract: put.ContractKey(), Local: 0, Broker: 2}, findDiscrepancy(got, put.ContractKey()))
	assert.Equal(t, Discrepancy{Contract: stock.ContractKey(), Local: 500, Broker: 300}, findDiscrepancy(got, stock.ContractKey()))
}

func findDiscrepancy(ds []Discrepancy, key string) Discrepancy {
	for _, d := range ds {
		if d.Contract == key {
			return d
		}
	}
	return Discrepancy{}
}

func TestAudit_MockBroker(t *testing.T) {
	p := mock.NewDataProvider(map[string]float64{"SPY": 450})
	book, err := p.StructuredBook("SPY", 1, time.Now())
	require.NoError(t, err)
	require.NoError(t, p.SetPositions(book))

	report, err := audit(context.Background(), broker.NewClient(p), book[:len(book)-1], matcher.NewEngine(nil, nil))
	require.NoError(t, err)
	assert.Len(t, report.Discrepancies, 1)
	assert.Len(t, report.Strategies, 3)
	assert.NotEmpty(t, report.Summary)
}
