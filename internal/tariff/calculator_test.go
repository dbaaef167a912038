package tariff

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/gridbill/gridbill/internal/shared"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func residentialBands() []Band {
	return []Band{
		{Order: 1, FromKwh: d("0"), ToKwh: dp("100"), RatePerKwh: d("0.18"), FixedCharge: d("10")},
		{Order: 2, FromKwh: d("100"), ToKwh: dp("200"), RatePerKwh: d("0.20")},
		{Order: 3, FromKwh: d("200"), RatePerKwh: d("0.30")},
	}
}

func TestComputeChargeWorkedExample(t *testing.T) {
	charge, err := ComputeCharge(d("150"), residentialBands())
	require.NoError(t, err)
	require.True(t, charge.Amount.Equal(d("38.00")), charge.Amount.String())
	require.Len(t, charge.Breakdown, 2)
	require.True(t, charge.Breakdown[0].UsageKwh.Equal(d("100")))
	require.True(t, charge.Breakdown[0].Amount.Equal(d("18")))
	require.True(t, charge.Breakdown[1].UsageKwh.Equal(d("50")))
	require.True(t, charge.Breakdown[1].Amount.Equal(d("10")))
	require.True(t, charge.FixedCharge.Equal(d("10")))
}

func TestComputeChargeZeroConsumptionIsFixedCharge(t *testing.T) {
	charge, err := ComputeCharge(decimal.Zero, residentialBands())
	require.NoError(t, err)
	require.True(t, charge.Amount.Equal(d("10")))
	require.Empty(t, charge.Breakdown)
}

func TestComputeChargeUnboundedBandAbsorbsExcess(t *testing.T) {
	charge, err := ComputeCharge(d("1250.5"), residentialBands())
	require.NoError(t, err)
	last := charge.Breakdown[len(charge.Breakdown)-1]
	require.Equal(t, 3, last.Order)
	require.True(t, last.UsageKwh.Equal(d("1050.5")))
	// 18 + 20 + 315.15 + 10
	require.True(t, charge.Amount.Equal(d("363.15")), charge.Amount.String())
}

func TestComputeChargeRoundsHalfUp(t *testing.T) {
	bands := []Band{{Order: 1, FromKwh: d("0"), RatePerKwh: d("0.125"), FixedCharge: d("0")}}
	charge, err := ComputeCharge(d("1"), bands)
	require.NoError(t, err)
	require.True(t, charge.EnergyAmount.Equal(d("0.125")))
	require.True(t, charge.Amount.Equal(d("0.13")), charge.Amount.String())
}

func TestComputeChargeUsageSumsToConsumption(t *testing.T) {
	for _, c := range []string{"0", "0.5", "99.99", "100", "100.01", "200", "5000"} {
		charge, err := ComputeCharge(d(c), residentialBands())
		require.NoError(t, err)
		require.True(t, charge.TotalUsage().Equal(d(c)), c)
	}
}

func TestComputeChargeMonotonic(t *testing.T) {
	prev := decimal.Zero
	for kwh := 0; kwh <= 600; kwh += 7 {
		charge, err := ComputeCharge(decimal.NewFromInt(int64(kwh)), residentialBands())
		require.NoError(t, err)
		require.True(t, charge.Amount.GreaterThanOrEqual(prev), "kwh=%d", kwh)
		prev = charge.Amount
	}
}

func TestComputeChargeRejectsNegativeConsumption(t *testing.T) {
	_, err := ComputeCharge(d("-1"), residentialBands())
	require.ErrorIs(t, err, ErrInvalidInput)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestValidateBandsRejectsMalformedSets(t *testing.T) {
	cases := map[string][]Band{
		"empty": nil,
		"gap": {
			{Order: 1, FromKwh: d("0"), ToKwh: dp("100"), RatePerKwh: d("0.1")},
			{Order: 2, FromKwh: d("120"), RatePerKwh: d("0.2")},
		},
		"overlap": {
			{Order: 1, FromKwh: d("0"), ToKwh: dp("100"), RatePerKwh: d("0.1")},
			{Order: 2, FromKwh: d("90"), RatePerKwh: d("0.2")},
		},
		"order": {
			{Order: 2, FromKwh: d("0"), ToKwh: dp("100"), RatePerKwh: d("0.1")},
			{Order: 1, FromKwh: d("100"), RatePerKwh: d("0.2")},
		},
		"not from zero": {
			{Order: 1, FromKwh: d("10"), RatePerKwh: d("0.1")},
		},
		"bounded last": {
			{Order: 1, FromKwh: d("0"), ToKwh: dp("100"), RatePerKwh: d("0.1")},
		},
		"unbounded middle": {
			{Order: 1, FromKwh: d("0"), RatePerKwh: d("0.1")},
			{Order: 2, FromKwh: d("100"), RatePerKwh: d("0.2")},
		},
		"zero rate": {
			{Order: 1, FromKwh: d("0"), RatePerKwh: d("0")},
		},
		"negative fixed": {
			{Order: 1, FromKwh: d("0"), RatePerKwh: d("0.1"), FixedCharge: d("-1")},
		},
		"fixed charge on later band": {
			{Order: 1, FromKwh: d("0"), ToKwh: dp("100"), RatePerKwh: d("0.1"), FixedCharge: d("10")},
			{Order: 2, FromKwh: d("100"), RatePerKwh: d("0.2"), FixedCharge: d("4")},
		},
		"empty width": {
			{Order: 1, FromKwh: d("0"), ToKwh: dp("0"), RatePerKwh: d("0.1")},
			{Order: 2, FromKwh: d("0"), RatePerKwh: d("0.2")},
		},
	}
	for name, bands := range cases {
		_, err := ComputeCharge(d("10"), bands)
		require.ErrorIs(t, err, ErrInvalidBands, name)
	}
}
