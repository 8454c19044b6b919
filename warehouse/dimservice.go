/*
dimservice.go - Type 1 (overwrite) merge for the service dimension

PURPOSE:
  Maintains dim_service from the full raw usage layer. Type 1 means no
  history: an existing natural key only ever has its last_seen watermark
  refreshed; first_seen and the surrogate key are immutable once assigned.

ALGORITHM:
  1. Read the full raw layer and distill one observation per natural key
     (product_code, usage_type) with min/max usage date.
  2. Inside one transaction, read current dimension state and branch per
     key: new key -> insert with a freshly allocated surrogate key;
     known key -> update last_seen only if it moved forward; else no-op.

An empty source is not an error: it yields a zero-row merge.
*/
package warehouse

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ServiceMergeStats summarizes one Type 1 merge batch.
type ServiceMergeStats struct {
	Observed  int // distinct natural keys in the source
	Inserted  int
	Updated   int
	Unchanged int
	Total     int // dimension rows after the merge
}

// ServiceMerger merges source observations into the service dimension.
type ServiceMerger struct {
	store TxStore
	log   *zap.Logger
}

// NewServiceMerger creates a merger. logger may be nil.
func NewServiceMerger(store TxStore, logger *zap.Logger) *ServiceMerger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceMerger{store: store, log: logger}
}

// Merge upserts every natural key observed in the raw layer. Idempotent:
// merging the same source state twice classifies every key as unchanged
// the second time.
func (m *ServiceMerger) Merge(ctx context.Context) (ServiceMergeStats, error) {
	records, err := m.store.UsageRecords(ctx)
	if err != nil {
		return ServiceMergeStats{}, fmt.Errorf("read raw usage: %w", err)
	}

	observations, err := ObserveServices(records)
	if err != nil {
		return ServiceMergeStats{}, err
	}

	var stats ServiceMergeStats
	stats.Observed = len(observations)

	err = m.store.WithTx(ctx, func(s Store) error {
		existing, err := s.Services(ctx)
		if err != nil {
			return err
		}
		byNatural := make(map[ServiceKey]Service, len(existing))
		for _, svc := range existing {
			byNatural[svc.NaturalKey()] = svc
		}

		alloc := newKeyAllocator(maxServiceKey(existing))

		for _, obs := range observations {
			cur, ok := byNatural[obs.Natural]
			switch {
			case !ok:
				svc := Service{
					Key:         alloc.Next(),
					ProductCode: obs.Natural.ProductCode,
					UsageType:   obs.Natural.UsageType,
					Category:    ServiceCategory(obs.Natural.ProductCode),
					FirstSeen:   obs.FirstSeen,
					LastSeen:    obs.LastSeen,
				}
				if err := s.InsertService(ctx, svc); err != nil {
					return fmt.Errorf("insert service %s: %w", obs.Natural, err)
				}
				stats.Inserted++
			case obs.LastSeen.After(cur.LastSeen):
				if err := s.TouchService(ctx, obs.Natural, obs.LastSeen); err != nil {
					return fmt.Errorf("touch service %s: %w", obs.Natural, err)
				}
				stats.Updated++
			default:
				stats.Unchanged++
			}
		}

		stats.Total = len(byNatural) + stats.Inserted
		return nil
	})
	if err != nil {
		return ServiceMergeStats{}, err
	}

	m.log.Info("dim_service merged",
		zap.Int("observed", stats.Observed),
		zap.Int("inserted", stats.Inserted),
		zap.Int("updated", stats.Updated),
		zap.Int("rows", stats.Total))
	return stats, nil
}

// ObserveServices distills raw records into one observation per natural
// key with min/max usage date. Records with malformed dates fail the whole
// batch — no partial merge is attempted downstream.
func ObserveServices(records []UsageRecord) ([]ServiceObservation, error) {
	byKey := make(map[ServiceKey]*ServiceObservation)
	for _, r := range records {
		date, err := ParseDate(r.UsageStartDate)
		if err != nil {
			return nil, &SourceRecordError{LineItemID: r.LineItemID, Field: "usage_start_date", Err: err}
		}
		key := ServiceKey{ProductCode: r.ProductCode, UsageType: r.UsageType}
		obs, ok := byKey[key]
		if !ok {
			byKey[key] = &ServiceObservation{Natural: key, FirstSeen: date, LastSeen: date}
			continue
		}
		obs.FirstSeen = obs.FirstSeen.Min(date)
		obs.LastSeen = obs.LastSeen.Max(date)
	}

	out := make([]ServiceObservation, 0, len(byKey))
	for _, obs := range byKey {
		out = append(out, *obs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Natural.Less(out[j].Natural) })
	return out, nil
}
