/*
Package sqlite provides a SQLite-backed implementation of the warehouse store.

PURPOSE:
  Implements warehouse.Store and warehouse.TxStore using SQLite. In
  production, the same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

MUTATION GUARANTEES:
  The store enforces the warehouse mutation contract at the schema level:
  - raw_usage is append-only: line_item_id is the primary key, a
    duplicate insert fails instead of overwriting
  - dim_service surrogate keys are engine-assigned (INTEGER PRIMARY KEY
    without autoincrement); UNIQUE(product_code, usage_type) guards the
    natural key
  - dim_customer carries a partial unique index: at most one is_current
    row per customer_id, plus UNIQUE(customer_id, effective_from)
  - fact tables are keyed by their grain, so an upsert can only ever
    update-in-place, never widen the grain

KEY TABLES:
  raw_usage:          Append-only source line items (all columns TEXT)
  dim_service:        Type 1 service dimension
  dim_customer:       Type 2 customer dimension (effective-dated versions)
  fact_daily_cost:    (usage_date, service_key) grain
  fact_customer_cost: (usage_date, customer_key, service_key) grain

REPRESENTATION:
  Dates are stored as YYYY-MM-DD strings; monetary values as decimal
  strings. Parsing back into warehouse.Date / decimal.Decimal happens at
  the scan boundary so nothing downstream touches floats.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety across goroutines in one process.
  Public methods take the lock and delegate to unexported executors that
  run against either the root connection or an open transaction; the
  WithTx store view calls the executors directly so a transaction never
  re-enters the lock it already holds.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency.

USAGE:
  store, err := sqlite.New("./data/warehouse.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  merger := warehouse.NewServiceMerger(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - warehouse/store.go: Interface definitions and the mutation contract
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/cost-warehouse/warehouse"
)

// Store implements warehouse.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is the subset of *sql.DB and *sql.Tx the executors need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Raw usage layer (append-only)
	CREATE TABLE IF NOT EXISTS raw_usage (
		line_item_id TEXT PRIMARY KEY,
		time_interval TEXT NOT NULL,
		payer_account_id TEXT NOT NULL,
		usage_account_id TEXT NOT NULL,
		line_item_type TEXT NOT NULL,
		usage_start_date TEXT NOT NULL,
		usage_end_date TEXT NOT NULL,
		product_code TEXT NOT NULL,
		usage_type TEXT NOT NULL,
		operation TEXT NOT NULL,
		usage_amount TEXT NOT NULL,
		unblended_cost TEXT,
		blended_cost TEXT,
		currency_code TEXT NOT NULL,
		loaded_at TEXT NOT NULL
	);

	-- For dimension extraction and aggregation reads
	CREATE INDEX IF NOT EXISTS idx_raw_usage_natural
		ON raw_usage(product_code, usage_type);
	CREATE INDEX IF NOT EXISTS idx_raw_usage_date
		ON raw_usage(usage_start_date);

	-- Service dimension (Type 1: overwrite, no history)
	-- service_key is assigned by the engine, never by the database.
	CREATE TABLE IF NOT EXISTS dim_service (
		service_key INTEGER PRIMARY KEY,
		product_code TEXT NOT NULL,
		usage_type TEXT NOT NULL,
		service_category TEXT NOT NULL,
		first_seen_date TEXT NOT NULL,
		last_seen_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_dim_service_natural
		ON dim_service(product_code, usage_type);

	-- Customer dimension (Type 2: effective-dated versions)
	CREATE TABLE IF NOT EXISTS dim_customer (
		customer_key INTEGER PRIMARY KEY,
		customer_id INTEGER NOT NULL,
		email_token TEXT NOT NULL,
		phone_redacted TEXT NOT NULL,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		customer_segment TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		is_current BOOLEAN NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- CRITICAL: at most one open version per customer
	CREATE UNIQUE INDEX IF NOT EXISTS idx_dim_customer_current
		ON dim_customer(customer_id) WHERE is_current;
	CREATE UNIQUE INDEX IF NOT EXISTS idx_dim_customer_version
		ON dim_customer(customer_id, effective_from);

	-- Daily cost fact at (usage_date, service_key) grain
	CREATE TABLE IF NOT EXISTS fact_daily_cost (
		usage_date TEXT NOT NULL,
		service_key INTEGER NOT NULL,
		daily_cost TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		null_cost_count INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (usage_date, service_key)
	);

	-- Allocated cost fact at (usage_date, customer_key, service_key) grain
	CREATE TABLE IF NOT EXISTS fact_customer_cost (
		usage_date TEXT NOT NULL,
		customer_key INTEGER NOT NULL,
		service_key INTEGER NOT NULL,
		allocated_cost TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		null_cost_count INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (usage_date, customer_key, service_key)
	);

	CREATE INDEX IF NOT EXISTS idx_fact_customer_cost_customer
		ON fact_customer_cost(customer_key);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RAW USAGE LAYER
// =============================================================================

// InsertUsageRecords appends records to the raw layer.
func (s *Store) InsertUsageRecords(ctx context.Context, records []warehouse.UsageRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertUsageRecords(ctx, s.db, records)
}

func (s *Store) insertUsageRecords(ctx context.Context, db dbtx, records []warehouse.UsageRecord) (int, error) {
	query := `
		INSERT INTO raw_usage
		(line_item_id, time_interval, payer_account_id, usage_account_id, line_item_type,
		 usage_start_date, usage_end_date, product_code, usage_type, operation,
		 usage_amount, unblended_cost, blended_cost, currency_code, loaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC().Format(time.RFC3339)
	inserted := 0
	for _, r := range records {
		_, err := db.ExecContext(ctx, query,
			r.LineItemID, r.TimeInterval, r.PayerAccountID, r.UsageAccountID, r.LineItemType,
			r.UsageStartDate, r.UsageEndDate, r.ProductCode, r.UsageType, r.Operation,
			r.UsageAmount, nullString(r.UnblendedCost), nullString(r.BlendedCost), r.CurrencyCode,
			now,
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return 0, fmt.Errorf("line item %q already loaded: %w", r.LineItemID, err)
			}
			return 0, fmt.Errorf("failed to insert usage record %q: %w", r.LineItemID, err)
		}
		inserted++
	}
	return inserted, nil
}

// UsageRecords returns the full raw layer in stable order.
func (s *Store) UsageRecords(ctx context.Context) ([]warehouse.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.usageRecords(ctx, s.db)
}

func (s *Store) usageRecords(ctx context.Context, db dbtx) ([]warehouse.UsageRecord, error) {
	query := `
		SELECT line_item_id, time_interval, payer_account_id, usage_account_id, line_item_type,
		       usage_start_date, usage_end_date, product_code, usage_type, operation,
		       usage_amount, unblended_cost, blended_cost, currency_code
		FROM raw_usage
		ORDER BY usage_start_date ASC, product_code ASC, usage_type ASC, line_item_id ASC
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw usage: %w", err)
	}
	defer rows.Close()

	var records []warehouse.UsageRecord
	for rows.Next() {
		var r warehouse.UsageRecord
		var unblended, blended sql.NullString
		if err := rows.Scan(
			&r.LineItemID, &r.TimeInterval, &r.PayerAccountID, &r.UsageAccountID, &r.LineItemType,
			&r.UsageStartDate, &r.UsageEndDate, &r.ProductCode, &r.UsageType, &r.Operation,
			&r.UsageAmount, &unblended, &blended, &r.CurrencyCode,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		r.UnblendedCost = unblended.String
		r.BlendedCost = blended.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// LineItemIDs returns the set of line item IDs already loaded.
func (s *Store) LineItemIDs(ctx context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lineItemIDs(ctx, s.db)
}

func (s *Store) lineItemIDs(ctx context.Context, db dbtx) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, "SELECT line_item_id FROM raw_usage")
	if err != nil {
		return nil, fmt.Errorf("failed to query line item ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// =============================================================================
// SERVICE DIMENSION (TYPE 1)
// =============================================================================

// Services returns all service dimension rows ordered by natural key.
func (s *Store) Services(ctx context.Context) ([]warehouse.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.services(ctx, s.db)
}

func (s *Store) services(ctx context.Context, db dbtx) ([]warehouse.Service, error) {
	query := `
		SELECT service_key, product_code, usage_type, service_category,
		       first_seen_date, last_seen_date
		FROM dim_service
		ORDER BY product_code ASC, usage_type ASC
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	var services []warehouse.Service
	for rows.Next() {
		var svc warehouse.Service
		var firstSeen, lastSeen string
		if err := rows.Scan(&svc.Key, &svc.ProductCode, &svc.UsageType, &svc.Category,
			&firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		if svc.FirstSeen, err = warehouse.ParseDate(firstSeen); err != nil {
			return nil, fmt.Errorf("bad first_seen_date for key %d: %w", svc.Key, err)
		}
		if svc.LastSeen, err = warehouse.ParseDate(lastSeen); err != nil {
			return nil, fmt.Errorf("bad last_seen_date for key %d: %w", svc.Key, err)
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// InsertService inserts a new dimension row with its engine-assigned key.
func (s *Store) InsertService(ctx context.Context, svc warehouse.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertService(ctx, s.db, svc)
}

func (s *Store) insertService(ctx context.Context, db dbtx, svc warehouse.Service) error {
	query := `
		INSERT INTO dim_service
		(service_key, product_code, usage_type, service_category,
		 first_seen_date, last_seen_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.ExecContext(ctx, query,
		svc.Key, svc.ProductCode, svc.UsageType, svc.Category,
		svc.FirstSeen.String(), svc.LastSeen.String(), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert service %s: %w", svc.NaturalKey(), err)
	}
	return nil
}

// TouchService moves last_seen_date forward for an existing natural key.
func (s *Store) TouchService(ctx context.Context, natural warehouse.ServiceKey, lastSeen warehouse.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.touchService(ctx, s.db, natural, lastSeen)
}

func (s *Store) touchService(ctx context.Context, db dbtx, natural warehouse.ServiceKey, lastSeen warehouse.Date) error {
	query := `
		UPDATE dim_service
		SET last_seen_date = ?, updated_at = ?
		WHERE product_code = ? AND usage_type = ?
	`

	res, err := db.ExecContext(ctx, query,
		lastSeen.String(), time.Now().UTC().Format(time.RFC3339),
		natural.ProductCode, natural.UsageType,
	)
	if err != nil {
		return fmt.Errorf("failed to touch service %s: %w", natural, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("touch service %s: no such natural key", natural)
	}
	return nil
}

// =============================================================================
// CUSTOMER DIMENSION (TYPE 2)
// =============================================================================

const customerVersionColumns = `customer_key, customer_id, email_token, phone_redacted,
	       first_name, last_name, customer_segment, effective_from, effective_to, is_current`

// CustomerVersions returns every version row ordered by (customer_id, effective_from).
func (s *Store) CustomerVersions(ctx context.Context) ([]warehouse.CustomerVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.customerVersions(ctx, s.db, false)
}

// CurrentCustomerVersions returns the rows with is_current = true.
func (s *Store) CurrentCustomerVersions(ctx context.Context) ([]warehouse.CustomerVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.customerVersions(ctx, s.db, true)
}

func (s *Store) customerVersions(ctx context.Context, db dbtx, currentOnly bool) ([]warehouse.CustomerVersion, error) {
	query := `
		SELECT ` + customerVersionColumns + `
		FROM dim_customer
	`
	if currentOnly {
		query += " WHERE is_current"
	}
	query += " ORDER BY customer_id ASC, effective_from ASC"

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query customer versions: %w", err)
	}
	defer rows.Close()

	var versions []warehouse.CustomerVersion
	for rows.Next() {
		var v warehouse.CustomerVersion
		var effectiveFrom string
		var effectiveTo sql.NullString
		if err := rows.Scan(&v.Key, &v.CustomerID, &v.EmailToken, &v.PhoneRedacted,
			&v.FirstName, &v.LastName, &v.Segment, &effectiveFrom, &effectiveTo, &v.IsCurrent); err != nil {
			return nil, fmt.Errorf("failed to scan customer version: %w", err)
		}
		if v.EffectiveFrom, err = warehouse.ParseDate(effectiveFrom); err != nil {
			return nil, fmt.Errorf("bad effective_from for key %d: %w", v.Key, err)
		}
		if effectiveTo.Valid {
			to, err := warehouse.ParseDate(effectiveTo.String)
			if err != nil {
				return nil, fmt.Errorf("bad effective_to for key %d: %w", v.Key, err)
			}
			v.EffectiveTo = &to
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// InsertCustomerVersion inserts a new version row.
func (s *Store) InsertCustomerVersion(ctx context.Context, v warehouse.CustomerVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.insertCustomerVersion(ctx, s.db, v)
}

func (s *Store) insertCustomerVersion(ctx context.Context, db dbtx, v warehouse.CustomerVersion) error {
	query := `
		INSERT INTO dim_customer
		(customer_key, customer_id, email_token, phone_redacted, first_name, last_name,
		 customer_segment, effective_from, effective_to, is_current, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var effectiveTo *string
	if v.EffectiveTo != nil {
		t := v.EffectiveTo.String()
		effectiveTo = &t
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.ExecContext(ctx, query,
		v.Key, v.CustomerID, v.EmailToken, v.PhoneRedacted, v.FirstName, v.LastName,
		v.Segment, v.EffectiveFrom.String(), effectiveTo, v.IsCurrent, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert customer version (id=%d key=%d): %w", v.CustomerID, v.Key, err)
	}
	return nil
}

// ExpireCurrentVersion closes the current version for the customer.
func (s *Store) ExpireCurrentVersion(ctx context.Context, id warehouse.CustomerID, effectiveTo warehouse.Date) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.expireCurrentVersion(ctx, s.db, id, effectiveTo)
}

func (s *Store) expireCurrentVersion(ctx context.Context, db dbtx, id warehouse.CustomerID, effectiveTo warehouse.Date) error {
	query := `
		UPDATE dim_customer
		SET effective_to = ?, is_current = FALSE, updated_at = ?
		WHERE customer_id = ? AND is_current
	`

	res, err := db.ExecContext(ctx, query,
		effectiveTo.String(), time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to expire version for customer %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("expire version for customer %d: no current version", id)
	}
	return nil
}

// UpdateCurrentVersion overwrites untracked attributes on the current version.
func (s *Store) UpdateCurrentVersion(ctx context.Context, id warehouse.CustomerID, attrs warehouse.CustomerAttrs) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateCurrentVersion(ctx, s.db, id, attrs)
}

func (s *Store) updateCurrentVersion(ctx context.Context, db dbtx, id warehouse.CustomerID, attrs warehouse.CustomerAttrs) error {
	query := `
		UPDATE dim_customer
		SET email_token = ?, phone_redacted = ?, first_name = ?, last_name = ?, updated_at = ?
		WHERE customer_id = ? AND is_current
	`

	res, err := db.ExecContext(ctx, query,
		attrs.EmailToken, attrs.PhoneRedacted, attrs.FirstName, attrs.LastName,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("failed to update current version for customer %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update current version for customer %d: no current version", id)
	}
	return nil
}

// =============================================================================
// FACT TABLES
// =============================================================================

// UpsertDailyCost writes a daily cost fact row, update-in-place by grain key.
func (s *Store) UpsertDailyCost(ctx context.Context, row warehouse.DailyCostRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertDailyCost(ctx, s.db, row)
}

func (s *Store) upsertDailyCost(ctx context.Context, db dbtx, row warehouse.DailyCostRow) error {
	query := `
		INSERT INTO fact_daily_cost
		(usage_date, service_key, daily_cost, record_count, null_cost_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(usage_date, service_key) DO UPDATE SET
			daily_cost = excluded.daily_cost,
			record_count = excluded.record_count,
			null_cost_count = excluded.null_cost_count,
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		row.UsageDate.String(), row.ServiceKey, row.DailyCost.String(),
		row.RecordCount, row.NullCostCount,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert daily cost (%s, %d): %w", row.UsageDate, row.ServiceKey, err)
	}
	return nil
}

// DailyCosts returns all daily cost fact rows ordered by grain.
func (s *Store) DailyCosts(ctx context.Context) ([]warehouse.DailyCostRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.dailyCosts(ctx, s.db)
}

func (s *Store) dailyCosts(ctx context.Context, db dbtx) ([]warehouse.DailyCostRow, error) {
	query := `
		SELECT usage_date, service_key, daily_cost, record_count, null_cost_count
		FROM fact_daily_cost
		ORDER BY usage_date ASC, service_key ASC
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily costs: %w", err)
	}
	defer rows.Close()

	var out []warehouse.DailyCostRow
	for rows.Next() {
		var row warehouse.DailyCostRow
		var date, cost string
		if err := rows.Scan(&date, &row.ServiceKey, &cost, &row.RecordCount, &row.NullCostCount); err != nil {
			return nil, fmt.Errorf("failed to scan daily cost: %w", err)
		}
		if row.UsageDate, err = warehouse.ParseDate(date); err != nil {
			return nil, fmt.Errorf("bad usage_date in fact_daily_cost: %w", err)
		}
		if row.DailyCost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("bad daily_cost in fact_daily_cost: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// UpsertCustomerCost writes an allocated cost fact row, update-in-place by grain key.
func (s *Store) UpsertCustomerCost(ctx context.Context, row warehouse.CustomerCostRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.upsertCustomerCost(ctx, s.db, row)
}

func (s *Store) upsertCustomerCost(ctx context.Context, db dbtx, row warehouse.CustomerCostRow) error {
	query := `
		INSERT INTO fact_customer_cost
		(usage_date, customer_key, service_key, allocated_cost, record_count, null_cost_count, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(usage_date, customer_key, service_key) DO UPDATE SET
			allocated_cost = excluded.allocated_cost,
			record_count = excluded.record_count,
			null_cost_count = excluded.null_cost_count,
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		row.UsageDate.String(), row.CustomerKey, row.ServiceKey, row.AllocatedCost.String(),
		row.RecordCount, row.NullCostCount,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert customer cost (%s, %d, %d): %w",
			row.UsageDate, row.CustomerKey, row.ServiceKey, err)
	}
	return nil
}

// CustomerCosts returns all allocated fact rows ordered by grain.
func (s *Store) CustomerCosts(ctx context.Context) ([]warehouse.CustomerCostRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.customerCosts(ctx, s.db)
}

func (s *Store) customerCosts(ctx context.Context, db dbtx) ([]warehouse.CustomerCostRow, error) {
	query := `
		SELECT usage_date, customer_key, service_key, allocated_cost, record_count, null_cost_count
		FROM fact_customer_cost
		ORDER BY usage_date ASC, customer_key ASC, service_key ASC
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query customer costs: %w", err)
	}
	defer rows.Close()

	var out []warehouse.CustomerCostRow
	for rows.Next() {
		var row warehouse.CustomerCostRow
		var date, cost string
		if err := rows.Scan(&date, &row.CustomerKey, &row.ServiceKey, &cost,
			&row.RecordCount, &row.NullCostCount); err != nil {
			return nil, fmt.Errorf("failed to scan customer cost: %w", err)
		}
		if row.UsageDate, err = warehouse.ParseDate(date); err != nil {
			return nil, fmt.Errorf("bad usage_date in fact_customer_cost: %w", err)
		}
		if row.AllocatedCost, err = decimal.NewFromString(cost); err != nil {
			return nil, fmt.Errorf("bad allocated_cost in fact_customer_cost: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (warehouse.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. If fn returns an
// error every write in the batch is rolled back.
func (s *Store) WithTx(ctx context.Context, fn func(store warehouse.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	// The tx view calls the unexported executors directly: the outer lock
	// is already held, re-entering it here would deadlock.
	txStore := &txStore{tx: sqlTx, parent: s}
	if err := fn(txStore); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) InsertUsageRecords(ctx context.Context, records []warehouse.UsageRecord) (int, error) {
	return ts.parent.insertUsageRecords(ctx, ts.tx, records)
}

func (ts *txStore) UsageRecords(ctx context.Context) ([]warehouse.UsageRecord, error) {
	return ts.parent.usageRecords(ctx, ts.tx)
}

func (ts *txStore) LineItemIDs(ctx context.Context) (map[string]struct{}, error) {
	return ts.parent.lineItemIDs(ctx, ts.tx)
}

func (ts *txStore) Services(ctx context.Context) ([]warehouse.Service, error) {
	return ts.parent.services(ctx, ts.tx)
}

func (ts *txStore) InsertService(ctx context.Context, svc warehouse.Service) error {
	return ts.parent.insertService(ctx, ts.tx, svc)
}

func (ts *txStore) TouchService(ctx context.Context, natural warehouse.ServiceKey, lastSeen warehouse.Date) error {
	return ts.parent.touchService(ctx, ts.tx, natural, lastSeen)
}

func (ts *txStore) CustomerVersions(ctx context.Context) ([]warehouse.CustomerVersion, error) {
	return ts.parent.customerVersions(ctx, ts.tx, false)
}

func (ts *txStore) CurrentCustomerVersions(ctx context.Context) ([]warehouse.CustomerVersion, error) {
	return ts.parent.customerVersions(ctx, ts.tx, true)
}

func (ts *txStore) InsertCustomerVersion(ctx context.Context, v warehouse.CustomerVersion) error {
	return ts.parent.insertCustomerVersion(ctx, ts.tx, v)
}

func (ts *txStore) ExpireCurrentVersion(ctx context.Context, id warehouse.CustomerID, effectiveTo warehouse.Date) error {
	return ts.parent.expireCurrentVersion(ctx, ts.tx, id, effectiveTo)
}

func (ts *txStore) UpdateCurrentVersion(ctx context.Context, id warehouse.CustomerID, attrs warehouse.CustomerAttrs) error {
	return ts.parent.updateCurrentVersion(ctx, ts.tx, id, attrs)
}

func (ts *txStore) UpsertDailyCost(ctx context.Context, row warehouse.DailyCostRow) error {
	return ts.parent.upsertDailyCost(ctx, ts.tx, row)
}

func (ts *txStore) DailyCosts(ctx context.Context) ([]warehouse.DailyCostRow, error) {
	return ts.parent.dailyCosts(ctx, ts.tx)
}

func (ts *txStore) UpsertCustomerCost(ctx context.Context, row warehouse.CustomerCostRow) error {
	return ts.parent.upsertCustomerCost(ctx, ts.tx, row)
}

func (ts *txStore) CustomerCosts(ctx context.Context) ([]warehouse.CustomerCostRow, error) {
	return ts.parent.customerCosts(ctx, ts.tx)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"fact_customer_cost", "fact_daily_cost", "dim_customer", "dim_service", "raw_usage"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
