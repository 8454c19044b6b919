/*
dimcustomer.go - Type 2 (full history) versioning for the customer dimension

PURPOSE:
  Maintains dim_customer as effective-dated version rows. The segment is
  the tracked attribute: a change expires the current version and inserts
  a successor, preserving history. Every other mutable attribute is
  overwritten in place on the current version (Type 1 fields nested inside
  a Type 2 entity).

CRITICAL INVARIANTS:
  1. At most one current version per natural key, enforced both here and
     by a partial unique index in the store.
  2. Versions form a contiguous timeline: an expired version's
     effective_to equals its successor's effective_from. No gaps, no
     overlaps.
  3. Sensitive attributes exist only in masked form from the moment a
     snapshot enters this file. Comparison is on the post-masking
     representation — masking is deterministic, so an unchanged raw value
     compares equal across runs without ever being retained.

ATOMICITY:
  Whole-batch. All snapshot rows are masked before any write; a masking
  fault, a duplicate natural key, or an out-of-order snapshot aborts the
  batch with nothing applied. The timeline invariant cannot tolerate a
  partially applied version change, so per-record atomicity was rejected.

OUT-OF-ORDER SNAPSHOTS:
  A snapshot that would create a new version dated at or before the
  current version's effective_from is rejected with
  OutOfOrderSnapshotError. Silent acceptance would corrupt the timeline;
  an explicit no-op would hide a real segment change. Rejection makes the
  caller decide.
*/
package warehouse

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/warp/cost-warehouse/mask"
)

// ChangeKind classifies what a snapshot row did to its natural key.
type ChangeKind string

const (
	ChangeInsertNew       ChangeKind = "insert_new"
	ChangeExpireAndInsert ChangeKind = "expire_and_insert"
	ChangeUpdateInPlace   ChangeKind = "update_in_place"
	ChangeNoOp            ChangeKind = "no_op"
)

// CustomerChange records the classification of one natural key in a batch.
type CustomerChange struct {
	CustomerID  CustomerID
	Kind        ChangeKind
	FromSegment string // empty for insert_new
	ToSegment   string
}

// VersionStats summarizes one Type 2 versioning batch.
type VersionStats struct {
	Inserted  int
	Versioned int // expire_and_insert
	Updated   int // update_in_place
	NoOps     int
	Changes   []CustomerChange
}

// CustomerVersioner applies customer snapshots to the dimension.
type CustomerVersioner struct {
	store  TxStore
	masker *mask.Masker
	log    *zap.Logger
}

// NewCustomerVersioner creates a versioner. The masker is mandatory;
// Apply fails with ErrMaskerRequired when it is nil. logger may be nil.
func NewCustomerVersioner(store TxStore, masker *mask.Masker, logger *zap.Logger) *CustomerVersioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustomerVersioner{store: store, masker: masker, log: logger}
}

// maskedCustomer is a snapshot row after masking. Raw email and phone do
// not survive past buildMasked.
type maskedCustomer struct {
	id      CustomerID
	attrs   CustomerAttrs
	segment string
}

// Apply loads one snapshot dated asOf into the dimension. The whole batch
// is one transaction: either every classified operation is applied or none
// are. Re-applying an identical snapshot yields all no-ops.
func (v *CustomerVersioner) Apply(ctx context.Context, snapshot []CustomerSnapshot, asOf Date) (VersionStats, error) {
	if v.masker == nil {
		return VersionStats{}, ErrMaskerRequired
	}
	if asOf.IsZero() {
		return VersionStats{}, fmt.Errorf("snapshot as-of date is required")
	}

	masked, err := v.buildMasked(snapshot)
	if err != nil {
		return VersionStats{}, err
	}

	var stats VersionStats
	err = v.store.WithTx(ctx, func(s Store) error {
		current, err := s.CurrentCustomerVersions(ctx)
		if err != nil {
			return err
		}
		currentByID := make(map[CustomerID]CustomerVersion, len(current))
		for _, cv := range current {
			currentByID[cv.CustomerID] = cv
		}

		// Max key must cover expired versions too: their keys are never reused.
		all, err := s.CustomerVersions(ctx)
		if err != nil {
			return err
		}
		alloc := newKeyAllocator(maxCustomerKey(all))

		// Classify everything before writing anything, in natural key
		// order so surrogate keys land deterministically.
		plan := make([]CustomerChange, 0, len(masked))
		for _, mc := range masked {
			change, err := classify(mc, currentByID, asOf)
			if err != nil {
				return err
			}
			plan = append(plan, change)
		}

		for i, mc := range masked {
			switch plan[i].Kind {
			case ChangeInsertNew:
				if err := s.InsertCustomerVersion(ctx, newVersion(mc, alloc.Next(), asOf)); err != nil {
					return fmt.Errorf("insert customer %d: %w", mc.id, err)
				}
				stats.Inserted++
			case ChangeExpireAndInsert:
				if err := s.ExpireCurrentVersion(ctx, mc.id, asOf); err != nil {
					return fmt.Errorf("expire customer %d: %w", mc.id, err)
				}
				if err := s.InsertCustomerVersion(ctx, newVersion(mc, alloc.Next(), asOf)); err != nil {
					return fmt.Errorf("insert customer %d version: %w", mc.id, err)
				}
				stats.Versioned++
			case ChangeUpdateInPlace:
				if err := s.UpdateCurrentVersion(ctx, mc.id, mc.attrs); err != nil {
					return fmt.Errorf("update customer %d: %w", mc.id, err)
				}
				stats.Updated++
			case ChangeNoOp:
				stats.NoOps++
			}
		}
		stats.Changes = plan
		return nil
	})
	if err != nil {
		return VersionStats{}, err
	}

	v.log.Info("dim_customer batch applied",
		zap.String("as_of", asOf.String()),
		zap.Int("inserted", stats.Inserted),
		zap.Int("versioned", stats.Versioned),
		zap.Int("updated", stats.Updated),
		zap.Int("no_ops", stats.NoOps))
	return stats, nil
}

// buildMasked masks every snapshot row up front and rejects duplicate
// natural keys. Nothing is written before this succeeds, so a masking
// fault on any record aborts the batch with zero rows touched.
func (v *CustomerVersioner) buildMasked(snapshot []CustomerSnapshot) ([]maskedCustomer, error) {
	seen := make(map[CustomerID]struct{}, len(snapshot))
	masked := make([]maskedCustomer, 0, len(snapshot))
	for _, row := range snapshot {
		if _, dup := seen[row.CustomerID]; dup {
			return nil, fmt.Errorf("%w: customer %d", ErrDuplicateSnapshotKey, row.CustomerID)
		}
		seen[row.CustomerID] = struct{}{}

		emailToken, err := v.masker.EmailToken(row.Email)
		if err != nil {
			return nil, fmt.Errorf("mask customer %d: %w", row.CustomerID, err)
		}
		phoneRedacted, err := v.masker.RedactPhone(row.Phone)
		if err != nil {
			return nil, fmt.Errorf("mask customer %d: %w", row.CustomerID, err)
		}

		masked = append(masked, maskedCustomer{
			id: row.CustomerID,
			attrs: CustomerAttrs{
				EmailToken:    emailToken,
				PhoneRedacted: phoneRedacted,
				FirstName:     row.FirstName,
				LastName:      row.LastName,
			},
			segment: row.Segment,
		})
	}
	sort.Slice(masked, func(i, j int) bool { return masked[i].id < masked[j].id })
	return masked, nil
}

// classify decides the row-level operation for one natural key against
// current dimension state. Exactly one of insert/expire+insert/update/no-op.
func classify(mc maskedCustomer, currentByID map[CustomerID]CustomerVersion, asOf Date) (CustomerChange, error) {
	cur, ok := currentByID[mc.id]
	if !ok {
		return CustomerChange{CustomerID: mc.id, Kind: ChangeInsertNew, ToSegment: mc.segment}, nil
	}

	if cur.Segment == mc.segment {
		if cur.EmailToken != mc.attrs.EmailToken ||
			cur.PhoneRedacted != mc.attrs.PhoneRedacted ||
			cur.FirstName != mc.attrs.FirstName ||
			cur.LastName != mc.attrs.LastName {
			return CustomerChange{CustomerID: mc.id, Kind: ChangeUpdateInPlace, FromSegment: cur.Segment, ToSegment: mc.segment}, nil
		}
		return CustomerChange{CustomerID: mc.id, Kind: ChangeNoOp, FromSegment: cur.Segment, ToSegment: mc.segment}, nil
	}

	// A new version is needed; the timeline only accepts strictly later dates.
	if !asOf.After(cur.EffectiveFrom) {
		return CustomerChange{}, &OutOfOrderSnapshotError{
			CustomerID:  mc.id,
			AsOf:        asOf,
			CurrentFrom: cur.EffectiveFrom,
			CurrentKey:  cur.Key,
		}
	}
	return CustomerChange{CustomerID: mc.id, Kind: ChangeExpireAndInsert, FromSegment: cur.Segment, ToSegment: mc.segment}, nil
}

func newVersion(mc maskedCustomer, key int64, asOf Date) CustomerVersion {
	return CustomerVersion{
		Key:           key,
		CustomerID:    mc.id,
		EmailToken:    mc.attrs.EmailToken,
		PhoneRedacted: mc.attrs.PhoneRedacted,
		FirstName:     mc.attrs.FirstName,
		LastName:      mc.attrs.LastName,
		Segment:       mc.segment,
		EffectiveFrom: asOf,
		EffectiveTo:   nil,
		IsCurrent:     true,
	}
}
