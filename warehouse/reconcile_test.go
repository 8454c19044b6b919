package warehouse_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cost-warehouse/mask"
	"github.com/warp/cost-warehouse/store/sqlite"
	"github.com/warp/cost-warehouse/warehouse"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// runPipeline loads the sample corpus and runs every merge stage, leaving
// the store in the state the reconciler is meant to certify.
func runPipeline(t *testing.T, store *sqlite.Store) {
	ctx := context.Background()

	_, err := store.InsertUsageRecords(ctx, warehouse.SampleUsageRecords())
	require.NoError(t, err)

	masker, err := mask.New("unit-test-secret")
	require.NoError(t, err)

	_, err = warehouse.NewServiceMerger(store, nil).Merge(ctx)
	require.NoError(t, err)
	_, err = warehouse.NewCustomerVersioner(store, masker, nil).
		Apply(ctx, warehouse.SampleCustomersV1(), warehouse.NewDate(2025, time.January, 1))
	require.NoError(t, err)

	facts := warehouse.NewFactMaterializer(store, nil)
	_, err = facts.MergeDailyCosts(ctx)
	require.NoError(t, err)
	_, err = facts.MergeCustomerCosts(ctx)
	require.NoError(t, err)
}

func checkByName(t *testing.T, report warehouse.Report, name string) warehouse.CheckResult {
	for _, c := range report.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("report has no check named %q", name)
	return warehouse.CheckResult{}
}

// =============================================================================
// FULL PIPELINE
// =============================================================================

func TestReconciler_CleanPipelinePasses(t *testing.T) {
	// GIVEN: A freshly materialized warehouse from the sample corpus
	// WHEN: Running reconciliation
	// THEN: All five checks pass

	store := newTestStore(t)
	runPipeline(t, store)

	report, err := warehouse.NewReconciler(store, nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Checks, 5)
	for _, c := range report.Checks {
		assert.True(t, c.Passed, "check %s failed: %s (delta %s)", c.Name, c.Detail, c.Delta)
	}
	assert.True(t, report.Passed())
}

func TestReconciler_AllocationStaysWithinTolerance(t *testing.T) {
	// The equal-share fact may drift from the daily fact by at most half a
	// cent per share; the sample corpus exercises odd splits (30 customers)
	// so this is the check most sensitive to rounding mistakes.

	store := newTestStore(t)
	runPipeline(t, store)

	report, err := warehouse.NewReconciler(store, nil).Run(context.Background())
	require.NoError(t, err)

	check := checkByName(t, report, "allocation_tolerance")
	assert.True(t, check.Passed, check.Detail)
	assert.True(t, check.Delta.LessThanOrEqual(warehouse.ShareTolerance(30)))
}

// =============================================================================
// FAILURE DETECTION
// =============================================================================

func TestReconciler_DetectsOrphanFactRows(t *testing.T) {
	// GIVEN: A daily fact row pointing at a service key that does not exist
	// WHEN: Running reconciliation
	// THEN: The orphan check fails and the report fails overall

	store := newTestStore(t)
	runPipeline(t, store)

	err := store.UpsertDailyCost(context.Background(), warehouse.DailyCostRow{
		UsageDate:   warehouse.NewDate(2025, time.March, 1),
		ServiceKey:  999,
		DailyCost:   decimal.RequireFromString("1.00"),
		RecordCount: 1,
	})
	require.NoError(t, err)

	report, err := warehouse.NewReconciler(store, nil).Run(context.Background())
	require.NoError(t, err)

	check := checkByName(t, report, "daily_fact_orphans")
	assert.False(t, check.Passed)
	assert.False(t, report.Passed())
}

func TestReconciler_DetectsAllocationDrift(t *testing.T) {
	// GIVEN: An allocated row tampered far beyond the rounding tolerance
	// WHEN: Running reconciliation
	// THEN: The tolerance check fails while structural checks still pass

	store := newTestStore(t)
	runPipeline(t, store)
	ctx := context.Background()

	rows, err := store.CustomerCosts(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	tampered := rows[0]
	tampered.AllocatedCost = tampered.AllocatedCost.Add(decimal.RequireFromString("100.00"))
	require.NoError(t, store.UpsertCustomerCost(ctx, tampered))

	report, err := warehouse.NewReconciler(store, nil).Run(ctx)
	require.NoError(t, err)

	assert.False(t, checkByName(t, report, "allocation_tolerance").Passed)
	assert.True(t, checkByName(t, report, "daily_fact_orphans").Passed)
	assert.False(t, report.Passed())
}

func TestReconciler_EmptyWarehousePasses(t *testing.T) {
	// Nothing loaded, nothing inconsistent.
	store := newTestStore(t)

	report, err := warehouse.NewReconciler(store, nil).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Passed())
}
