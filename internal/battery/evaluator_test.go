package battery

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestEvaluate_SpikyLoadShavesMore(t *testing.T) {
	spiky, err := Evaluate(Inputs{PeakKW: 100, AvgKW: 20, LoadFactor: 0.2}, Overrides{})
	require.NoError(t, err)
	flat, err := Evaluate(Inputs{PeakKW: 100, AvgKW: 90, LoadFactor: 0.9}, Overrides{})
	require.NoError(t, err)

	assert.Greater(t, spiky.ShaveKW, flat.ShaveKW)
	assert.Greater(t, spiky.AnnualDemandSave, flat.AnnualDemandSave)
}

func TestEvaluate_ArbitrageRequiresSpreadAndAnnualKWh(t *testing.T) {
	base := Inputs{PeakKW: 100, AvgKW: 40, LoadFactor: 0.4}

	noSpread, err := Evaluate(base, Overrides{})
	require.NoError(t, err)
	assert.Zero(t, noSpread.AnnualArbitrage)

	withSpread := base
	withSpread.TOUSpreadPerKWh = 0.10
	withSpread.AnnualKWh = f(350000)
	op, err := Evaluate(withSpread, Overrides{})
	require.NoError(t, err)
	assert.Greater(t, op.AnnualArbitrage, 0.0)
	assert.InDelta(t, op.AnnualDemandSave+op.AnnualArbitrage, op.AnnualSavings, 1e-9)
}

func TestEvaluate_ZeroPeak(t *testing.T) {
	op, err := Evaluate(Inputs{}, Overrides{})
	require.NoError(t, err)
	assert.False(t, op.Attractive)
	assert.Zero(t, op.ShaveKW)
}

func TestEvaluate_NegativeInputsRejected(t *testing.T) {
	_, err := Evaluate(Inputs{PeakKW: -1}, Overrides{})
	assert.Error(t, err)
}

func TestEvaluate_OverridesApplied(t *testing.T) {
	in := Inputs{PeakKW: 100, AvgKW: 40, LoadFactor: 0.4}

	cheap, err := Evaluate(in, Overrides{CapitalPerKWh: f(100)})
	require.NoError(t, err)
	standard, err := Evaluate(in, Overrides{})
	require.NoError(t, err)

	require.NotNil(t, cheap.SimplePaybackYrs)
	require.NotNil(t, standard.SimplePaybackYrs)
	assert.Less(t, *cheap.SimplePaybackYrs, *standard.SimplePaybackYrs)
}

func TestEvaluate_ZeroSavingsSerializable(t *testing.T) {
	// A valid but vanishingly small load rounds every savings figure to
	// zero; no payback exists and the result must still marshal.
	op, err := Evaluate(Inputs{PeakKW: 0.00001, AvgKW: 0.00001, LoadFactor: 1}, Overrides{DemandChargePerKW: f(0)})
	require.NoError(t, err)

	assert.Zero(t, op.AnnualSavings)
	assert.Nil(t, op.SimplePaybackYrs)
	assert.False(t, op.Attractive)

	b, err := json.Marshal(op)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "simple_payback_years")
}

func TestEvaluate_Deterministic(t *testing.T) {
	in := Inputs{PeakKW: 83.5, AvgKW: 31.2, LoadFactor: 0.37, TOUSpreadPerKWh: 0.08, AnnualKWh: f(270000)}
	a, err := Evaluate(in, Overrides{})
	require.NoError(t, err)
	b, err := Evaluate(in, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecide(t *testing.T) {
	assert.False(t, Decide(nil).Proceed)

	d := Decide(&Opportunity{ShaveKW: 10, Attractive: false})
	assert.False(t, d.Proceed)
	assert.Equal(t, "payback_too_long", d.Reason)

	d = Decide(&Opportunity{ShaveKW: 10, Attractive: true, SimplePaybackYrs: f(4)})
	assert.True(t, d.Proceed)
}
