package ingest_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/cost-warehouse/ingest"
	"github.com/warp/cost-warehouse/store/sqlite"
	"github.com/warp/cost-warehouse/warehouse"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const sampleHeader = "identity_line_item_id,identity_time_interval,bill_payer_account_id," +
	"line_item_usage_account_id,line_item_line_item_type,line_item_usage_start_date," +
	"line_item_usage_end_date,line_item_product_code,line_item_usage_type," +
	"line_item_operation,line_item_usage_amount,line_item_unblended_cost," +
	"line_item_blended_cost,line_item_currency_code"

func sampleRow(lineID, date, product, usageType, cost string) string {
	return strings.Join([]string{
		lineID,
		date + "T00:00:00Z/" + date + "T23:59:59Z",
		"123456789012", "123456789012", "Usage",
		date, date, product, usageType, "RunInstances",
		"1.0", cost, cost, "USD",
	}, ",")
}

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// =============================================================================
// CSV DECODING
// =============================================================================

func TestReadCSV_ValidExport(t *testing.T) {
	// GIVEN: A well-formed two-row export
	// WHEN: Decoding
	// THEN: Both rows map onto usage records field by field

	csv := strings.Join([]string{
		sampleHeader,
		sampleRow("l1", "2025-01-01", "AmazonEC2", "EC2-RunInstances", "45.00"),
		sampleRow("l2", "2025-01-02", "AmazonS3", "S3-Requests-Tier1", ""),
	}, "\n")

	records, err := ingest.ReadCSV(strings.NewReader(csv))
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "l1", records[0].LineItemID)
	assert.Equal(t, "AmazonEC2", records[0].ProductCode)
	assert.Equal(t, "45.00", records[0].UnblendedCost)
	assert.Equal(t, "2025-01-02", records[1].UsageStartDate)
	assert.Empty(t, records[1].UnblendedCost, "null costs survive as empty strings")
}

func TestReadCSV_ColumnOrderIrrelevant(t *testing.T) {
	// Columns may appear in any order, with extras interleaved.
	csv := "line_item_product_code,extra_column,identity_line_item_id,identity_time_interval," +
		"bill_payer_account_id,line_item_usage_account_id,line_item_line_item_type," +
		"line_item_usage_start_date,line_item_usage_end_date,line_item_usage_type," +
		"line_item_operation,line_item_usage_amount,line_item_unblended_cost," +
		"line_item_blended_cost,line_item_currency_code\n" +
		"AmazonEC2,ignored,l1,iv,p,u,Usage,2025-01-01,2025-01-01,EC2-RunInstances,Op,1.0,45.00,45.00,USD\n"

	records, err := ingest.ReadCSV(strings.NewReader(csv))
	require.NoError(t, err)

	require.Len(t, records, 1)
	assert.Equal(t, "l1", records[0].LineItemID)
	assert.Equal(t, "AmazonEC2", records[0].ProductCode)
}

func TestReadCSV_MissingColumns(t *testing.T) {
	// GIVEN: An export without the cost columns
	// WHEN: Decoding
	// THEN: Validation fails naming exactly the missing columns

	csv := "identity_line_item_id,identity_time_interval,bill_payer_account_id," +
		"line_item_usage_account_id,line_item_line_item_type,line_item_usage_start_date," +
		"line_item_usage_end_date,line_item_product_code,line_item_usage_type," +
		"line_item_operation,line_item_usage_amount,line_item_currency_code\n"

	_, err := ingest.ReadCSV(strings.NewReader(csv))
	require.Error(t, err)

	var schemaErr *ingest.SchemaError
	require.ErrorAs(t, err, &schemaErr)
	assert.Equal(t, []string{"line_item_unblended_cost", "line_item_blended_cost"}, schemaErr.Missing)
	assert.Contains(t, err.Error(), "line_item_unblended_cost")
}

func TestReadCSV_EmptyExport(t *testing.T) {
	_, err := ingest.ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ingest.ErrEmptyExport)
}

func TestReadCSV_HeaderOnly(t *testing.T) {
	records, err := ingest.ReadCSV(strings.NewReader(sampleHeader + "\n"))
	require.NoError(t, err)
	assert.Empty(t, records)
}

// =============================================================================
// LOADING
// =============================================================================

func TestLoader_LoadRecords(t *testing.T) {
	store := newTestStore(t)
	loader := ingest.NewLoader(store, nil)

	stats, err := loader.LoadRecords(context.Background(), warehouse.SampleUsageRecords())
	require.NoError(t, err)

	assert.Equal(t, len(warehouse.SampleUsageRecords()), stats.Read)
	assert.Equal(t, stats.Read, stats.Inserted)
	assert.Zero(t, stats.Skipped)
}

func TestLoader_ReloadSkipsExistingLineItems(t *testing.T) {
	// GIVEN: A loaded corpus
	// WHEN: Loading the same export again
	// THEN: Every row is skipped on its line item id; the raw layer does
	//       not grow

	store := newTestStore(t)
	loader := ingest.NewLoader(store, nil)
	ctx := context.Background()

	_, err := loader.LoadRecords(ctx, warehouse.SampleUsageRecords())
	require.NoError(t, err)

	stats, err := loader.LoadRecords(ctx, warehouse.SampleUsageRecords())
	require.NoError(t, err)

	assert.Zero(t, stats.Inserted)
	assert.Equal(t, stats.Read, stats.Skipped)

	records, err := store.UsageRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, records, len(warehouse.SampleUsageRecords()))
}

func TestLoader_DuplicateLineItemsWithinBatch(t *testing.T) {
	// First occurrence wins; later duplicates count as skipped.
	store := newTestStore(t)
	loader := ingest.NewLoader(store, nil)

	records := []warehouse.UsageRecord{
		{LineItemID: "dup", UsageStartDate: "2025-01-01", ProductCode: "AmazonEC2", UsageType: "EC2-RunInstances", UnblendedCost: "1.00"},
		{LineItemID: "dup", UsageStartDate: "2025-01-01", ProductCode: "AmazonEC2", UsageType: "EC2-RunInstances", UnblendedCost: "9.99"},
	}
	stats, err := loader.LoadRecords(context.Background(), records)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Read)
	assert.Equal(t, 1, stats.Inserted)
	assert.Equal(t, 1, stats.Skipped)

	stored, err := store.UsageRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "1.00", stored[0].UnblendedCost)
}

func TestLoader_RejectsMissingLineItemID(t *testing.T) {
	// GIVEN: A record without an identity
	// WHEN: Loading
	// THEN: The batch fails before anything is written

	store := newTestStore(t)
	loader := ingest.NewLoader(store, nil)
	ctx := context.Background()

	records := []warehouse.UsageRecord{
		{LineItemID: "ok", UsageStartDate: "2025-01-01", ProductCode: "AmazonEC2", UsageType: "EC2-RunInstances", UnblendedCost: "1.00"},
		{LineItemID: "", UsageStartDate: "2025-01-01", ProductCode: "AmazonEC2", UsageType: "EC2-RunInstances", UnblendedCost: "2.00"},
	}
	_, err := loader.LoadRecords(ctx, records)
	require.Error(t, err)
	assert.ErrorIs(t, err, warehouse.ErrInvalidSourceRecord)

	stored, err := store.UsageRecords(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}
