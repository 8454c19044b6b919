package warehouse_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cost-warehouse/warehouse"
)

func TestParseCost_EmptyStringIsNull(t *testing.T) {
	// GIVEN: A raw cost field carrying the source's NULL (empty string)
	// WHEN: Parsing
	// THEN: Cost coerces to zero and the null flag is set

	cost, null, err := warehouse.ParseCost("")
	require.NoError(t, err)
	assert.True(t, null)
	assert.True(t, cost.IsZero())
}

func TestParseCost_ValidDecimal(t *testing.T) {
	cost, null, err := warehouse.ParseCost("10.123456")
	require.NoError(t, err)
	assert.False(t, null)
	assert.True(t, cost.Equal(decimal.RequireFromString("10.123456")))
}

func TestParseCost_Malformed(t *testing.T) {
	_, _, err := warehouse.ParseCost("ten dollars")
	assert.Error(t, err)
}

func TestEqualShare_RoundsEachShare(t *testing.T) {
	// GIVEN: 10.00 split among 3 customers
	// WHEN: Computing the equal share
	// THEN: Each share is independently rounded to 3.33; the sum (9.99)
	//       diverges from the total by 0.01, within the 3 * 0.005 bound

	total := decimal.RequireFromString("10.00")
	share := warehouse.EqualShare(total, 3)
	assert.True(t, share.Equal(decimal.RequireFromString("3.33")), "share = %s", share)

	sum := share.Mul(decimal.NewFromInt(3))
	deviation := sum.Sub(total).Abs()
	assert.True(t, deviation.LessThanOrEqual(warehouse.ShareTolerance(3)),
		"deviation %s exceeds tolerance %s", deviation, warehouse.ShareTolerance(3))
}

func TestShareTolerance_ScalesWithShareCount(t *testing.T) {
	assert.True(t, warehouse.ShareTolerance(1).Equal(decimal.RequireFromString("0.005")))
	assert.True(t, warehouse.ShareTolerance(30).Equal(decimal.RequireFromString("0.15")))
}

func TestServiceCategory(t *testing.T) {
	cases := map[string]string{
		"AmazonEC2":        "Compute",
		"AmazonS3":         "Storage",
		"AmazonRDS":        "Database",
		"AmazonRedshift":   "Database",
		"AWSLambda":        "Serverless",
		"AmazonCloudWatch": "Monitoring",
		"AmazonSageMaker":  warehouse.CategoryDefault,
		"":                 warehouse.CategoryDefault,
	}
	for product, want := range cases {
		assert.Equal(t, want, warehouse.ServiceCategory(product), "product %q", product)
	}
}

func TestDate_MonthAndISOWeek(t *testing.T) {
	d := warehouse.MustDate("2025-01-15")
	assert.Equal(t, "2025-01", d.Month())
	assert.Equal(t, "2025-W03", d.ISOWeek())
}

func TestCustomerVersion_ActiveOn(t *testing.T) {
	// GIVEN: A version effective [2024-01-01, 2024-06-01)
	// THEN: Active on the start date, inactive on the end date (half-open)

	to := warehouse.MustDate("2024-06-01")
	v := warehouse.CustomerVersion{
		EffectiveFrom: warehouse.MustDate("2024-01-01"),
		EffectiveTo:   &to,
	}

	assert.False(t, v.ActiveOn(warehouse.MustDate("2023-12-31")))
	assert.True(t, v.ActiveOn(warehouse.MustDate("2024-01-01")))
	assert.True(t, v.ActiveOn(warehouse.MustDate("2024-05-31")))
	assert.False(t, v.ActiveOn(warehouse.MustDate("2024-06-01")))

	open := warehouse.CustomerVersion{EffectiveFrom: warehouse.MustDate("2024-01-01")}
	assert.True(t, open.ActiveOn(warehouse.MustDate("2099-12-31")), "open version has no upper bound")
}
