package money_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/tally/debt-engine/money"
)

func TestToMinorUnits_RoundsHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		major string
		want  int64
	}{
		{"19.99", 1999},
		{"19.995", 2000},
		{"19.994", 1999},
		{"0", 0},
		{"-10.505", -1051},
		{"1000000.01", 100000001},
	}

	for _, tt := range tests {
		t.Run(tt.major, func(t *testing.T) {
			got := money.ToMinorUnits(decimal.RequireFromString(tt.major))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromFloat_AbsorbsBinaryArtifacts(t *testing.T) {
	// 19.99*100 in float64 is 1998.9999999999998. Legacy records were
	// written from exactly this kind of arithmetic.
	assert.Equal(t, int64(1999), money.FromFloat(19.99))
	assert.Equal(t, int64(1), money.FromFloat(0.01))
	assert.Equal(t, int64(330), money.FromFloat(3.3))
}

func TestToMajorUnits_RoundTrip(t *testing.T) {
	assert.True(t, money.ToMajorUnits(1999).Equal(decimal.RequireFromString("19.99")))
	assert.True(t, money.ToMajorUnits(0).Equal(decimal.Zero))
}

func TestToMinorUnitsWithScale(t *testing.T) {
	// Zero-decimal currency: scale 1.
	assert.Equal(t, int64(500), money.ToMinorUnitsWithScale(decimal.NewFromInt(500), 1))
	// Three-decimal currency: scale 1000.
	assert.Equal(t, int64(1500), money.ToMinorUnitsWithScale(decimal.RequireFromString("1.5"), 1000))
}

func TestWithinTolerance(t *testing.T) {
	assert.True(t, money.WithinTolerance(1000, 1000))
	assert.True(t, money.WithinTolerance(1000, 1001))
	assert.True(t, money.WithinTolerance(1001, 1000))
	assert.False(t, money.WithinTolerance(1000, 1002))
}

func TestPercentPaid(t *testing.T) {
	assert.Equal(t, "50", money.PercentPaid(500, 1000).String())
	assert.Equal(t, "33.33", money.PercentPaid(1, 3).String())
	assert.Equal(t, "100", money.PercentPaid(1000, 1000).String())
	assert.Equal(t, "0", money.PercentPaid(0, 0).String())
	assert.Equal(t, "0", money.PercentPaid(500, 0).String())
}
