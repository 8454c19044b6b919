package warehouse_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cost-warehouse/store/sqlite"
	"github.com/warp/cost-warehouse/warehouse"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func usageRec(lineID, date, product, usageType, cost string) warehouse.UsageRecord {
	return warehouse.UsageRecord{
		LineItemID:     lineID,
		TimeInterval:   date + "T00:00:00Z/" + date + "T23:59:59Z",
		PayerAccountID: "123456789012",
		UsageAccountID: "123456789012",
		LineItemType:   "Usage",
		UsageStartDate: date,
		UsageEndDate:   date,
		ProductCode:    product,
		UsageType:      usageType,
		Operation:      "Op",
		UsageAmount:    "1.0",
		UnblendedCost:  cost,
		BlendedCost:    cost,
		CurrencyCode:   "USD",
	}
}

func loadUsage(t *testing.T, store *sqlite.Store, records ...warehouse.UsageRecord) {
	n, err := store.InsertUsageRecords(context.Background(), records)
	require.NoError(t, err)
	require.Equal(t, len(records), n)
}

// =============================================================================
// TYPE 1 MERGE
// =============================================================================

func TestServiceMerger_InitialMerge(t *testing.T) {
	// GIVEN: Three raw records across two natural keys
	// WHEN: Merging the service dimension
	// THEN: Two rows, surrogate keys 1 and 2 in lexicographic natural key
	//       order, categories derived, watermarks at min/max usage date

	store := newTestStore(t)
	ctx := context.Background()
	loadUsage(t, store,
		usageRec("l1", "2025-01-03", "AmazonS3", "S3-Requests-Tier1", "2.00"),
		usageRec("l2", "2025-01-01", "AmazonEC2", "EC2-RunInstances", "45.00"),
		usageRec("l3", "2025-01-05", "AmazonEC2", "EC2-RunInstances", "46.00"),
	)

	merger := warehouse.NewServiceMerger(store, nil)
	stats, err := merger.Merge(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Observed)
	assert.Equal(t, 2, stats.Inserted)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 2, stats.Total)

	services, err := store.Services(ctx)
	require.NoError(t, err)
	require.Len(t, services, 2)

	// AmazonEC2 sorts before AmazonS3, so it gets key 1.
	ec2 := services[0]
	assert.Equal(t, int64(1), ec2.Key)
	assert.Equal(t, "AmazonEC2", ec2.ProductCode)
	assert.Equal(t, "Compute", ec2.Category)
	assert.Equal(t, "2025-01-01", ec2.FirstSeen.String())
	assert.Equal(t, "2025-01-05", ec2.LastSeen.String())

	s3 := services[1]
	assert.Equal(t, int64(2), s3.Key)
	assert.Equal(t, "Storage", s3.Category)
}

func TestServiceMerger_Idempotent(t *testing.T) {
	// GIVEN: A merged dimension
	// WHEN: Merging the same raw state again
	// THEN: Every key classifies as unchanged; keys and watermarks identical

	store := newTestStore(t)
	ctx := context.Background()
	loadUsage(t, store,
		usageRec("l1", "2025-01-01", "AmazonEC2", "EC2-RunInstances", "45.00"),
		usageRec("l2", "2025-01-02", "AmazonS3", "S3-TimedStorage-ByteHrs", "12.00"),
	)

	merger := warehouse.NewServiceMerger(store, nil)
	_, err := merger.Merge(ctx)
	require.NoError(t, err)
	before, err := store.Services(ctx)
	require.NoError(t, err)

	stats, err := merger.Merge(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.Inserted)
	assert.Equal(t, 0, stats.Updated)
	assert.Equal(t, 2, stats.Unchanged)

	after, err := store.Services(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestServiceMerger_WatermarkOnlyMovesForward(t *testing.T) {
	// GIVEN: A key last seen 2025-01-05
	// WHEN: New records arrive, some earlier and some later
	// THEN: last_seen advances to the max; first_seen and the key are frozen

	store := newTestStore(t)
	ctx := context.Background()
	loadUsage(t, store, usageRec("l1", "2025-01-05", "AmazonEC2", "EC2-RunInstances", "45.00"))

	merger := warehouse.NewServiceMerger(store, nil)
	_, err := merger.Merge(ctx)
	require.NoError(t, err)

	loadUsage(t, store,
		usageRec("l2", "2025-01-02", "AmazonEC2", "EC2-RunInstances", "44.00"),
		usageRec("l3", "2025-01-09", "AmazonEC2", "EC2-RunInstances", "47.00"),
	)
	stats, err := merger.Merge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Updated)

	services, err := store.Services(ctx)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, int64(1), services[0].Key, "surrogate key is immutable")
	// first_seen stays at the dimension's recorded value: the type has no
	// history, so a late-arriving earlier record cannot rewrite it.
	assert.Equal(t, "2025-01-05", services[0].FirstSeen.String())
	assert.Equal(t, "2025-01-09", services[0].LastSeen.String())
}

func TestServiceMerger_NewKeysExtendKeySequence(t *testing.T) {
	// GIVEN: An existing dimension with max key 2
	// WHEN: A later batch introduces two new natural keys
	// THEN: They receive keys 3 and 4; existing keys are untouched

	store := newTestStore(t)
	ctx := context.Background()
	loadUsage(t, store,
		usageRec("l1", "2025-01-01", "AmazonEC2", "EC2-RunInstances", "45.00"),
		usageRec("l2", "2025-01-01", "AmazonS3", "S3-Requests-Tier1", "2.00"),
	)
	merger := warehouse.NewServiceMerger(store, nil)
	_, err := merger.Merge(ctx)
	require.NoError(t, err)

	loadUsage(t, store,
		usageRec("l3", "2025-01-02", "AWSLambda", "Lambda-GB-Second", "4.00"),
		usageRec("l4", "2025-01-02", "AmazonRDS", "RDS-StorageUsage", "5.00"),
	)
	stats, err := merger.Merge(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Inserted)

	services, err := store.Services(ctx)
	require.NoError(t, err)
	keys := map[warehouse.ServiceKey]int64{}
	for _, s := range services {
		keys[s.NaturalKey()] = s.Key
	}
	assert.Equal(t, int64(1), keys[warehouse.ServiceKey{ProductCode: "AmazonEC2", UsageType: "EC2-RunInstances"}])
	assert.Equal(t, int64(2), keys[warehouse.ServiceKey{ProductCode: "AmazonS3", UsageType: "S3-Requests-Tier1"}])
	// New keys in lexicographic order: AWSLambda < AmazonRDS.
	assert.Equal(t, int64(3), keys[warehouse.ServiceKey{ProductCode: "AWSLambda", UsageType: "Lambda-GB-Second"}])
	assert.Equal(t, int64(4), keys[warehouse.ServiceKey{ProductCode: "AmazonRDS", UsageType: "RDS-StorageUsage"}])
}

func TestServiceMerger_MalformedDateFailsBatch(t *testing.T) {
	// GIVEN: A raw record with an unparseable usage date
	// WHEN: Merging
	// THEN: The whole batch fails and nothing is inserted

	store := newTestStore(t)
	ctx := context.Background()
	loadUsage(t, store,
		usageRec("l1", "2025-01-01", "AmazonEC2", "EC2-RunInstances", "45.00"),
		usageRec("l2", "01/02/2025", "AmazonS3", "S3-Requests-Tier1", "2.00"),
	)

	merger := warehouse.NewServiceMerger(store, nil)
	_, err := merger.Merge(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, warehouse.ErrInvalidSourceRecord)
	var srcErr *warehouse.SourceRecordError
	require.ErrorAs(t, err, &srcErr)
	assert.Equal(t, "l2", srcErr.LineItemID)

	services, err := store.Services(ctx)
	require.NoError(t, err)
	assert.Empty(t, services)
}

func TestServiceMerger_EmptySource(t *testing.T) {
	store := newTestStore(t)

	stats, err := warehouse.NewServiceMerger(store, nil).Merge(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Observed)
	assert.Zero(t, stats.Total)
}

// =============================================================================
// OBSERVATION DISTILLATION
// =============================================================================

func TestObserveServices_Watermarks(t *testing.T) {
	obs, err := warehouse.ObserveServices([]warehouse.UsageRecord{
		usageRec("l1", "2025-01-05", "AmazonEC2", "EC2-RunInstances", "1.00"),
		usageRec("l2", "2025-01-01", "AmazonEC2", "EC2-RunInstances", "1.00"),
		usageRec("l3", "2025-01-03", "AmazonEC2", "EC2-RunInstances", "1.00"),
	})
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "2025-01-01", obs[0].FirstSeen.String())
	assert.Equal(t, "2025-01-05", obs[0].LastSeen.String())
}
