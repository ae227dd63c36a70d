package matcher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_StrategiesAndSummary(t *testing.T) {
	res := search(t, call(750, -3), shares(500), put(700, -2))

	assert.Equal(t, []StrategyCount{
		{Underlying: "GOOG", Name: "Covered Call", Quantity: 3},
		{Underlying: "GOOG", Name: "Naked Put", Quantity: 2},
	}, res.Strategies())

	assert.Equal(t, []string{
		"GOOG Covered Call x3: call=GOOG151224C00750000(-3) stock=GOOG(+300)",
		"GOOG residual: GOOG(+200)",
		"GOOG Naked Put: GOOG151224P00700000(-2)",
	}, res.Summary())
}

func TestResult_Consumed(t *testing.T) {
	res := search(t, call(750, -5), shares(600))
	assert.Equal(t, map[string]int64{
		"GOOG151224C00750000": -5,
		"GOOG":                500,
	}, res.Consumed())
}

func TestResult_JSONShape(t *testing.T) {
	res := search(t, call(750, -1))
	data, err := json.Marshal(res)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Contains(t, decoded, "instances")
	residuals, ok := decoded["residuals"].([]any)
	require.True(t, ok)
	require.Len(t, residuals, 1)
	assert.Equal(t, "Naked Call", residuals[0].(map[string]any)["label"])
}
