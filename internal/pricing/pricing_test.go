package pricing

import (
	"testing"

	"fileshare/internal/model"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateMonthly(t *testing.T) {
	q, err := Calculate(Options{Tier: model.TierMonthly, ExtraStorageTB: 2, ExtraWorkspaces: 5})
	require.NoError(t, err)

	assert.True(t, q.BasePrice.Equal(decimal.RequireFromString("21.99")))
	assert.True(t, q.ExtraStoragePrice.Equal(decimal.RequireFromString("43.98")))
	assert.True(t, q.ExtraWorkspacesPrice.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, "90.97", q.Total.StringFixed(2))
	assert.Equal(t, "USD", q.Currency)
}

func TestCalculateYearlyBase(t *testing.T) {
	q, err := Calculate(Options{Tier: model.TierYearly})
	require.NoError(t, err)
	assert.Equal(t, "263.88", q.Total.StringFixed(2))
}

func TestCalculateRejectsInvalidOptions(t *testing.T) {
	cases := []Options{
		{Tier: model.TierNone},
		{Tier: model.TierMonthly, ExtraStorageTB: -1},
		{Tier: model.TierMonthly, ExtraStorageTB: MaxExtraStorageTB + 1},
		{Tier: model.TierMonthly, ExtraWorkspaces: 4},
	}
	for _, o := range cases {
		_, err := Calculate(o)
		assert.Error(t, err, "%+v", o)
	}
}

func TestQuotaFor(t *testing.T) {
	q := QuotaFor(Options{Tier: model.TierMonthly, ExtraStorageTB: 9, ExtraWorkspaces: 10})
	assert.Equal(t, int64(10_000_000_000_000), q.StorageQuotaBytes)
	assert.Equal(t, 15, q.MaxWorkspaces)
}

func TestPlanNameRoundTrip(t *testing.T) {
	o := Options{Tier: model.TierYearly, ExtraStorageTB: 3, ExtraWorkspaces: 20}
	name := PlanName(o)
	assert.Equal(t, "TORNADO 3TB-20WS-YEARLY", name)

	parsed, err := ParsePlanName(name)
	require.NoError(t, err)
	assert.Equal(t, o, parsed)

	_, err = ParsePlanName("BASIC 1TB")
	assert.Error(t, err)
}
