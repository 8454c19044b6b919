package warehouse_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cost-warehouse/mask"
	"github.com/warp/cost-warehouse/warehouse"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// threeCustomers is a minimal snapshot for allocation scenarios.
func threeCustomers() []warehouse.CustomerSnapshot {
	return []warehouse.CustomerSnapshot{
		{CustomerID: 1, Email: "a@example.com", Phone: "555-100-1001", FirstName: "Ann", LastName: "Lee", Segment: "standard"},
		{CustomerID: 2, Email: "b@example.com", Phone: "555-100-1002", FirstName: "Bob", LastName: "Ray", Segment: "premium"},
		{CustomerID: 3, Email: "c@example.com", Phone: "555-100-1003", FirstName: "Cal", LastName: "Fox", Segment: "standard"},
	}
}

func mergeDimensions(t *testing.T, store warehouse.TxStore, customers []warehouse.CustomerSnapshot, asOf warehouse.Date) {
	_, err := warehouse.NewServiceMerger(store, nil).Merge(context.Background())
	require.NoError(t, err)
	if customers != nil {
		masker, err := mask.New("unit-test-secret")
		require.NoError(t, err)
		_, err = warehouse.NewCustomerVersioner(store, masker, nil).Apply(context.Background(), customers, asOf)
		require.NoError(t, err)
	}
}

// =============================================================================
// DAILY FACT
// =============================================================================

func TestFactMaterializer_DailyCosts(t *testing.T) {
	// GIVEN: Two records on one day for one service, one with no cost
	// WHEN: Materializing the daily fact
	// THEN: One row with the summed cost, record count 2, null count 1

	store := newTestStore(t)
	ctx := context.Background()
	loadUsage(t, store,
		usageRec("l1", "2025-01-01", "AmazonEC2", "EC2-RunInstances", "10.00"),
		usageRec("l2", "2025-01-01", "AmazonEC2", "EC2-RunInstances", ""),
	)
	mergeDimensions(t, store, nil, warehouse.Date{})

	facts := warehouse.NewFactMaterializer(store, nil)
	stats, err := facts.MergeDailyCosts(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Aggregates)
	assert.Equal(t, 1, stats.RowsUpserted)
	assert.Zero(t, stats.OrphanGroups)

	rows, err := store.DailyCosts(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2025-01-01", rows[0].UsageDate.String())
	assert.Equal(t, int64(1), rows[0].ServiceKey)
	assert.True(t, rows[0].DailyCost.Equal(decimal.RequireFromString("10.00")))
	assert.Equal(t, int64(2), rows[0].RecordCount)
	assert.Equal(t, int64(1), rows[0].NullCostCount)
}

func TestFactMaterializer_DailyCostsIdempotent(t *testing.T) {
	// Re-materializing over unchanged source replaces rows with identical
	// values rather than accumulating.

	store := newTestStore(t)
	ctx := context.Background()
	loadUsage(t, store,
		usageRec("l1", "2025-01-01", "AmazonEC2", "EC2-RunInstances", "10.00"),
		usageRec("l2", "2025-01-02", "AmazonEC2", "EC2-RunInstances", "11.00"),
	)
	mergeDimensions(t, store, nil, warehouse.Date{})

	facts := warehouse.NewFactMaterializer(store, nil)
	_, err := facts.MergeDailyCosts(ctx)
	require.NoError(t, err)
	before, err := store.DailyCosts(ctx)
	require.NoError(t, err)

	_, err = facts.MergeDailyCosts(ctx)
	require.NoError(t, err)
	after, err := store.DailyCosts(ctx)
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestFactMaterializer_OrphanAggregatesExcluded(t *testing.T) {
	// GIVEN: A raw record whose natural key was never merged into the
	//        service dimension
	// WHEN: Materializing
	// THEN: The group is counted as an orphan and produces no fact row

	store := newTestStore(t)
	ctx := context.Background()
	loadUsage(t, store, usageRec("l1", "2025-01-01", "AmazonEC2", "EC2-RunInstances", "10.00"))
	mergeDimensions(t, store, nil, warehouse.Date{})
	loadUsage(t, store, usageRec("l2", "2025-01-01", "AmazonS3", "S3-Requests-Tier1", "2.00"))

	stats, err := warehouse.NewFactMaterializer(store, nil).MergeDailyCosts(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Aggregates)
	assert.Equal(t, 1, stats.RowsUpserted)
	assert.Equal(t, 1, stats.OrphanGroups)

	rows, err := store.DailyCosts(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

// =============================================================================
// ALLOCATED FACT
// =============================================================================

func TestFactMaterializer_CustomerCostsEqualShare(t *testing.T) {
	// GIVEN: A 10.00 daily total and three active customers
	// WHEN: Allocating
	// THEN: Three rows of 3.33; the sum stays inside the per-share
	//       rounding tolerance of the daily total

	store := newTestStore(t)
	ctx := context.Background()
	loadUsage(t, store,
		usageRec("l1", "2025-01-01", "AmazonEC2", "EC2-RunInstances", "10.00"),
		usageRec("l2", "2025-01-01", "AmazonEC2", "EC2-RunInstances", ""),
	)
	mergeDimensions(t, store, threeCustomers(), warehouse.NewDate(2025, time.January, 1))

	stats, err := warehouse.NewFactMaterializer(store, nil).MergeCustomerCosts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.RowsUpserted)
	assert.Zero(t, stats.SkippedNoActive)

	rows, err := store.CustomerCosts(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	share := decimal.RequireFromString("3.33")
	total := decimal.Zero
	for _, r := range rows {
		assert.True(t, r.AllocatedCost.Equal(share), "each customer pays an equal rounded share")
		assert.Equal(t, int64(2), r.RecordCount)
		assert.Equal(t, int64(1), r.NullCostCount)
		total = total.Add(r.AllocatedCost)
	}

	deviation := total.Sub(decimal.RequireFromString("10.00")).Abs()
	assert.True(t, deviation.LessThanOrEqual(warehouse.ShareTolerance(3)),
		"allocation drift %s exceeds tolerance", deviation)
}

func TestFactMaterializer_TemporalJoin(t *testing.T) {
	// GIVEN: Customer 1 re-versioned on Jan 10
	// WHEN: Allocating usage from Jan 5 and Jan 15
	// THEN: The Jan 5 cost lands on the old customer key, the Jan 15 cost
	//       on the new one

	store := newTestStore(t)
	ctx := context.Background()
	loadUsage(t, store,
		usageRec("l1", "2025-01-05", "AmazonEC2", "EC2-RunInstances", "6.00"),
		usageRec("l2", "2025-01-15", "AmazonEC2", "EC2-RunInstances", "8.00"),
	)

	masker, err := mask.New("unit-test-secret")
	require.NoError(t, err)
	versioner := warehouse.NewCustomerVersioner(store, masker, nil)

	one := threeCustomers()[:1]
	_, err = versioner.Apply(ctx, one, warehouse.NewDate(2025, time.January, 1))
	require.NoError(t, err)

	moved := threeCustomers()[:1]
	moved[0].Segment = "enterprise"
	_, err = versioner.Apply(ctx, moved, warehouse.NewDate(2025, time.January, 10))
	require.NoError(t, err)

	_, err = warehouse.NewServiceMerger(store, nil).Merge(ctx)
	require.NoError(t, err)
	_, err = warehouse.NewFactMaterializer(store, nil).MergeCustomerCosts(ctx)
	require.NoError(t, err)

	rows, err := store.CustomerCosts(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byDate := map[string]warehouse.CustomerCostRow{}
	for _, r := range rows {
		byDate[r.UsageDate.String()] = r
	}
	assert.Equal(t, int64(1), byDate["2025-01-05"].CustomerKey, "before the move: original version")
	assert.Equal(t, int64(2), byDate["2025-01-15"].CustomerKey, "after the move: successor version")
	assert.True(t, byDate["2025-01-05"].AllocatedCost.Equal(decimal.RequireFromString("6.00")))
	assert.True(t, byDate["2025-01-15"].AllocatedCost.Equal(decimal.RequireFromString("8.00")))
}

func TestFactMaterializer_SkipsDatesWithNoActiveCustomers(t *testing.T) {
	// GIVEN: Usage dated before any customer version takes effect
	// WHEN: Allocating
	// THEN: The grain is skipped, not written with zero shares

	store := newTestStore(t)
	ctx := context.Background()
	loadUsage(t, store, usageRec("l1", "2024-12-20", "AmazonEC2", "EC2-RunInstances", "5.00"))
	mergeDimensions(t, store, threeCustomers(), warehouse.NewDate(2025, time.January, 1))

	stats, err := warehouse.NewFactMaterializer(store, nil).MergeCustomerCosts(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SkippedNoActive)
	assert.Zero(t, stats.RowsUpserted)

	rows, err := store.CustomerCosts(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

// =============================================================================
// SOURCE AGGREGATION
// =============================================================================

func TestAggregateByService_GroupsByDateAndKey(t *testing.T) {
	aggs, err := warehouse.AggregateByService([]warehouse.UsageRecord{
		usageRec("l1", "2025-01-01", "AmazonEC2", "EC2-RunInstances", "1.50"),
		usageRec("l2", "2025-01-01", "AmazonEC2", "EC2-RunInstances", "2.25"),
		usageRec("l3", "2025-01-02", "AmazonEC2", "EC2-RunInstances", "3.00"),
		usageRec("l4", "2025-01-01", "AmazonS3", "S3-Requests-Tier1", ""),
	})
	require.NoError(t, err)
	require.Len(t, aggs, 3)

	first := aggs[0]
	assert.Equal(t, "2025-01-01", first.UsageDate.String())
	assert.Equal(t, "AmazonEC2", first.Natural.ProductCode)
	assert.True(t, first.Cost.Equal(decimal.RequireFromString("3.75")))
	assert.Equal(t, int64(2), first.RecordCount)
	assert.Zero(t, first.NullCostCount)
}

func TestAggregateByService_MalformedCostFailsBatch(t *testing.T) {
	_, err := warehouse.AggregateByService([]warehouse.UsageRecord{
		usageRec("l1", "2025-01-01", "AmazonEC2", "EC2-RunInstances", "not-a-number"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, warehouse.ErrInvalidSourceRecord)
}
