/*
Package ingest loads cost-and-usage source exports into the raw layer.

PURPOSE:
  Validates the export header against the expected column set, decodes
  rows into raw usage records, and appends them idempotently: rows whose
  line item ID is already present are skipped, so re-loading the same
  file leaves the raw layer unchanged. Each load is one transaction —
  a failed load inserts nothing.

KEY CONCEPTS:
  - ExpectedColumns: the column subset this pipeline consumes
  - SchemaError: header validation failure naming every missing column
  - Loader: idempotent appender over the warehouse store
*/
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/cost-warehouse/warehouse"
)

// ExpectedColumns is the required header of a source export, in canonical
// order. Extra columns are tolerated; missing ones fail validation.
var ExpectedColumns = []string{
	"identity_line_item_id",
	"identity_time_interval",
	"bill_payer_account_id",
	"line_item_usage_account_id",
	"line_item_line_item_type",
	"line_item_usage_start_date",
	"line_item_usage_end_date",
	"line_item_product_code",
	"line_item_usage_type",
	"line_item_operation",
	"line_item_usage_amount",
	"line_item_unblended_cost",
	"line_item_blended_cost",
	"line_item_currency_code",
}

// ErrEmptyExport is returned for an export with no header row.
var ErrEmptyExport = errors.New("export has no header row")

// SchemaError reports a header that does not carry the expected columns.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema validation failed: missing required columns: %s",
		strings.Join(e.Missing, ", "))
}

// ValidateHeader checks the header against ExpectedColumns. Column order
// does not matter.
func ValidateHeader(header []string) error {
	present := make(map[string]struct{}, len(header))
	for _, col := range header {
		present[strings.TrimSpace(col)] = struct{}{}
	}
	var missing []string
	for _, col := range ExpectedColumns {
		if _, ok := present[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

// ReadCSV decodes a CSV export into raw usage records. The header is
// validated before any row is decoded; column order in the file is free.
func ReadCSV(r io.Reader) ([]warehouse.UsageRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyExport
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := ValidateHeader(header); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(header))
	for i, col := range header {
		index[strings.TrimSpace(col)] = i
	}
	field := func(row []string, col string) string {
		i := index[col]
		if i >= len(row) {
			return ""
		}
		return row[i]
	}

	var out []warehouse.UsageRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		out = append(out, warehouse.UsageRecord{
			LineItemID:     field(row, "identity_line_item_id"),
			TimeInterval:   field(row, "identity_time_interval"),
			PayerAccountID: field(row, "bill_payer_account_id"),
			UsageAccountID: field(row, "line_item_usage_account_id"),
			LineItemType:   field(row, "line_item_line_item_type"),
			UsageStartDate: field(row, "line_item_usage_start_date"),
			UsageEndDate:   field(row, "line_item_usage_end_date"),
			ProductCode:    field(row, "line_item_product_code"),
			UsageType:      field(row, "line_item_usage_type"),
			Operation:      field(row, "line_item_operation"),
			UsageAmount:    field(row, "line_item_usage_amount"),
			UnblendedCost:  field(row, "line_item_unblended_cost"),
			BlendedCost:    field(row, "line_item_blended_cost"),
			CurrencyCode:   field(row, "line_item_currency_code"),
		})
	}
	return out, nil
}

// LoadStats summarizes one load.
type LoadStats struct {
	Read     int `json:"read"`
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"` // line item IDs already present
}

// Loader appends source records into the raw layer.
type Loader struct {
	store warehouse.TxStore
	log   *zap.Logger
}

// NewLoader creates a loader. logger may be nil.
func NewLoader(store warehouse.TxStore, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{store: store, log: logger}
}

// LoadRecords appends the given records, skipping any whose line item ID
// already exists in the raw layer. Records without a line item ID are
// rejected before anything is written.
func (l *Loader) LoadRecords(ctx context.Context, records []warehouse.UsageRecord) (LoadStats, error) {
	stats := LoadStats{Read: len(records)}

	for _, r := range records {
		if r.LineItemID == "" {
			return LoadStats{}, &warehouse.SourceRecordError{
				LineItemID: r.LineItemID,
				Field:      "identity_line_item_id",
				Err:        warehouse.ErrInvalidSourceRecord,
			}
		}
	}

	err := l.store.WithTx(ctx, func(tx warehouse.Store) error {
		existing, err := tx.LineItemIDs(ctx)
		if err != nil {
			return err
		}

		var fresh []warehouse.UsageRecord
		seen := make(map[string]struct{}, len(records))
		for _, r := range records {
			if _, ok := existing[r.LineItemID]; ok {
				stats.Skipped++
				continue
			}
			// Duplicate IDs within one batch: first occurrence wins.
			if _, ok := seen[r.LineItemID]; ok {
				stats.Skipped++
				continue
			}
			seen[r.LineItemID] = struct{}{}
			fresh = append(fresh, r)
		}
		if len(fresh) == 0 {
			return nil
		}

		n, err := tx.InsertUsageRecords(ctx, fresh)
		if err != nil {
			return err
		}
		stats.Inserted = n
		return nil
	})
	if err != nil {
		return LoadStats{}, err
	}

	l.log.Info("raw load complete",
		zap.Int("read", stats.Read),
		zap.Int("inserted", stats.Inserted),
		zap.Int("skipped", stats.Skipped))
	return stats, nil
}

// LoadCSVFile reads and loads a CSV export from disk.
func (l *Loader) LoadCSVFile(ctx context.Context, path string) (LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return LoadStats{}, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	records, err := ReadCSV(f)
	if err != nil {
		return LoadStats{}, err
	}
	return l.LoadRecords(ctx, records)
}
