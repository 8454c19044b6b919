/*
errors.go - Centralized error types for the warehouse engine

PURPOSE:
  All engine error types in one place. Callers classify failures with
  errors.Is/errors.As; nothing in this package retries internally — the
  merges are idempotent, so retry is an external operational decision.

ERROR CATEGORIES:
  1. Input validity errors  - malformed dates/costs, duplicate snapshot keys
  2. Business-rule errors   - out-of-order Type 2 snapshots
  3. Configuration errors   - missing masker
*/
package warehouse

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrOutOfOrderSnapshot is returned when a Type 2 snapshot would create
	// a new version dated at or before the current version's effective_from.
	// Applying it would corrupt the timeline, so the whole batch is rejected.
	ErrOutOfOrderSnapshot = errors.New("out-of-order snapshot")

	// ErrInvalidSourceRecord is returned when a raw record fails parsing
	// (malformed date or cost). Fatal for the whole batch: no partial
	// dimension or fact mutation is committed.
	ErrInvalidSourceRecord = errors.New("invalid source record")

	// ErrDuplicateSnapshotKey is returned when one snapshot batch contains
	// the same customer twice. The engine does not guess which row wins.
	ErrDuplicateSnapshotKey = errors.New("duplicate natural key in snapshot")

	// ErrMaskerRequired is returned when a customer batch is processed
	// without a configured masker. This is a configuration fault, never
	// degraded to an unmasked write.
	ErrMaskerRequired = errors.New("masker not configured")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OutOfOrderSnapshotError reports a snapshot whose as-of date is not
// strictly after the current version's effective window start.
type OutOfOrderSnapshotError struct {
	CustomerID   CustomerID
	AsOf         Date
	CurrentFrom  Date
	CurrentKey   int64
}

func (e *OutOfOrderSnapshotError) Error() string {
	return fmt.Sprintf("out-of-order snapshot for customer %d: as-of %s is not after current effective_from %s",
		e.CustomerID, e.AsOf, e.CurrentFrom)
}

func (e *OutOfOrderSnapshotError) Unwrap() error { return ErrOutOfOrderSnapshot }

// SourceRecordError reports a raw record that failed canonical parsing.
type SourceRecordError struct {
	LineItemID string
	Field      string
	Err        error
}

func (e *SourceRecordError) Error() string {
	return fmt.Sprintf("source record %s: bad %s: %v", e.LineItemID, e.Field, e.Err)
}

func (e *SourceRecordError) Unwrap() error { return ErrInvalidSourceRecord }
