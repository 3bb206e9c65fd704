package plan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-vpnshop/apperr"
	"go-vpnshop/plan"
)

func TestParse(t *testing.T) {
	for _, p := range plan.All() {
		got, err := plan.Parse(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := plan.Parse("forever")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestDurations(t *testing.T) {
	assert.Equal(t, 72*time.Hour, plan.Trial.Duration())
	assert.Equal(t, 24*time.Hour, plan.Day.Duration())
	assert.Equal(t, 7*24*time.Hour, plan.Week.Duration())
	assert.Equal(t, 30*24*time.Hour, plan.Month.Duration())
	assert.Equal(t, 90*24*time.Hour, plan.Quarter.Duration())
	assert.Equal(t, 365*24*time.Hour, plan.Year.Duration())
}

func TestCatalogDefaults(t *testing.T) {
	catalog := plan.NewCatalog(nil)

	price, err := catalog.Price(plan.Year)
	require.NoError(t, err)
	assert.Equal(t, int64(149900), price)

	price, err = catalog.Price(plan.Trial)
	require.NoError(t, err)
	assert.Zero(t, price)
}

func TestCatalogOverrides(t *testing.T) {
	catalog := plan.NewCatalog(map[plan.Type]int64{
		plan.Month: 19900,
		plan.Trial: 500, // must stay free
	})

	price, err := catalog.Price(plan.Month)
	require.NoError(t, err)
	assert.Equal(t, int64(19900), price)

	price, err = catalog.Price(plan.Trial)
	require.NoError(t, err)
	assert.Zero(t, price)

	price, err = catalog.Price(plan.Week)
	require.NoError(t, err)
	assert.Equal(t, int64(4900), price)
}
