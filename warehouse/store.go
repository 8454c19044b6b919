/*
store.go - Persistence interface between the engine and the backing store

PURPOSE:
  Defines what the engine needs from the ambient SQL engine. The store is
  a dumb execute/query layer: all merge decisions (insert vs update vs
  no-op, version expiry, allocation) are made in the engine, inside a
  transactional scope, so the contract is exactly one of
  insert/update/no-op per key per batch regardless of SQL dialect.

MUTATION CONTRACT:
  - The raw layer is append-only: InsertUsageRecords only ever adds rows.
  - Dimension rows are only written through the merge methods here; there
    is no generic update and no delete.
  - Fact upserts are update-in-place by grain key; the store's UNIQUE
    constraints enforce grain uniqueness.

TRANSACTIONS:
  One merge batch = one logical transaction. WithTx runs fn against a
  store view whose writes are rolled back if fn returns an error, so a
  partially applied batch is never observable.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite-backed store (production pattern; the
    same shape works on PostgreSQL with minor dialect changes)
*/
package warehouse

import "context"

// Store is the read/write surface of the backing warehouse database.
// Every run re-reads current state through these methods; the engine
// never caches dimension state across runs.
type Store interface {
	// --- Raw usage layer (append-only) ---

	// InsertUsageRecords appends records to the raw layer and returns the
	// number inserted. Records whose line item ID already exists must be
	// skipped by the caller; inserting a duplicate is an error.
	InsertUsageRecords(ctx context.Context, records []UsageRecord) (int, error)

	// UsageRecords returns the full raw layer in a stable order
	// (usage date, product code, usage type, line item ID).
	UsageRecords(ctx context.Context) ([]UsageRecord, error)

	// LineItemIDs returns the set of line item IDs already loaded.
	LineItemIDs(ctx context.Context) (map[string]struct{}, error)

	// --- Service dimension (Type 1) ---

	// Services returns all service dimension rows ordered by natural key.
	Services(ctx context.Context) ([]Service, error)

	// InsertService inserts a new dimension row with its engine-assigned
	// surrogate key. Fails on a natural key collision.
	InsertService(ctx context.Context, s Service) error

	// TouchService updates last_seen_date (and the update timestamp) for
	// an existing natural key. first_seen_date and the surrogate key are
	// never modified.
	TouchService(ctx context.Context, natural ServiceKey, lastSeen Date) error

	// --- Customer dimension (Type 2) ---

	// CustomerVersions returns every version row ordered by
	// (customer_id, effective_from).
	CustomerVersions(ctx context.Context) ([]CustomerVersion, error)

	// CurrentCustomerVersions returns the rows with is_current = true.
	CurrentCustomerVersions(ctx context.Context) ([]CustomerVersion, error)

	// InsertCustomerVersion inserts a new version row.
	InsertCustomerVersion(ctx context.Context, v CustomerVersion) error

	// ExpireCurrentVersion closes the current version for the customer:
	// effective_to = effectiveTo, is_current = false.
	ExpireCurrentVersion(ctx context.Context, id CustomerID, effectiveTo Date) error

	// UpdateCurrentVersion overwrites the untracked mutable attributes on
	// the current version in place. Surrogate key, segment, and the
	// effective window are untouched.
	UpdateCurrentVersion(ctx context.Context, id CustomerID, attrs CustomerAttrs) error

	// --- Fact tables ---

	// UpsertDailyCost writes a daily cost fact row, overwriting the
	// measure and counts if the grain key already exists.
	UpsertDailyCost(ctx context.Context, row DailyCostRow) error

	// DailyCosts returns all daily cost fact rows ordered by grain.
	DailyCosts(ctx context.Context) ([]DailyCostRow, error)

	// UpsertCustomerCost writes an allocated cost fact row, overwriting
	// on grain key conflict.
	UpsertCustomerCost(ctx context.Context, row CustomerCostRow) error

	// CustomerCosts returns all allocated fact rows ordered by grain.
	CustomerCosts(ctx context.Context) ([]CustomerCostRow, error)
}

// CustomerAttrs are the untracked mutable attributes of a customer version:
// overwritten in place on change, never versioned.
type CustomerAttrs struct {
	EmailToken    string
	PhoneRedacted string
	FirstName     string
	LastName      string
}

// TxStore wraps Store with transaction support. Each merge batch runs
// inside WithTx; if fn returns an error every write in the batch is
// rolled back.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
