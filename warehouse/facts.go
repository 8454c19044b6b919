/*
facts.go - Idempotent fact materialization

PURPOSE:
  Aggregates the raw layer by grain, joins to the dimensions, and upserts
  fact rows. Two grains:

  - Daily (usage_date x service_key): plain aggregate joined to the
    Type 1 dimension on natural key.
  - Allocated (usage_date x customer_key x service_key): each daily
    service aggregate is split equally among the customers whose Type 2
    version is active as of that date (the temporal join), each share
    independently rounded to 2 decimal places.

  Upserts are update-in-place by grain key: re-merging the same source
  state overwrites measures with numerically identical values and never
  duplicates rows.

ORPHANS:
  An aggregate whose natural key has no dimension entry is excluded from
  the fact result but counted, so the Reconciler can surface it. The
  engine does not guess a correction.
*/
package warehouse

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FactStats summarizes one fact merge batch.
type FactStats struct {
	Aggregates      int // (date, natural key) groups in the source
	RowsUpserted    int
	OrphanGroups    int // aggregates with no matching service dimension entry
	SkippedNoActive int // allocated grain only: dates with zero active customers
}

// FactMaterializer builds both fact tables from the raw layer.
type FactMaterializer struct {
	store TxStore
	log   *zap.Logger
}

// NewFactMaterializer creates a materializer. logger may be nil.
func NewFactMaterializer(store TxStore, logger *zap.Logger) *FactMaterializer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FactMaterializer{store: store, log: logger}
}

// MergeDailyCosts materializes fact_daily_cost at (usage_date, service_key)
// grain. Requires dim_service to be merged first; aggregates whose natural
// key is missing from the dimension are excluded and counted.
func (f *FactMaterializer) MergeDailyCosts(ctx context.Context) (FactStats, error) {
	aggregates, err := f.sourceAggregates(ctx)
	if err != nil {
		return FactStats{}, err
	}

	stats := FactStats{Aggregates: len(aggregates)}
	err = f.store.WithTx(ctx, func(s Store) error {
		serviceKeys, err := serviceKeyIndex(ctx, s)
		if err != nil {
			return err
		}
		for _, agg := range aggregates {
			key, ok := serviceKeys[agg.Natural]
			if !ok {
				stats.OrphanGroups++
				f.log.Warn("source aggregate has no dimension entry",
					zap.String("grain", agg.String()))
				continue
			}
			row := DailyCostRow{
				UsageDate:     agg.UsageDate,
				ServiceKey:    key,
				DailyCost:     agg.Cost,
				RecordCount:   agg.RecordCount,
				NullCostCount: agg.NullCostCount,
			}
			if err := s.UpsertDailyCost(ctx, row); err != nil {
				return fmt.Errorf("upsert daily cost %s: %w", agg, err)
			}
			stats.RowsUpserted++
		}
		return nil
	})
	if err != nil {
		return FactStats{}, err
	}

	f.log.Info("fact_daily_cost merged",
		zap.Int("aggregates", stats.Aggregates),
		zap.Int("rows", stats.RowsUpserted),
		zap.Int("orphans", stats.OrphanGroups))
	return stats, nil
}

// MergeCustomerCosts materializes fact_customer_cost. Each daily service
// aggregate is divided equally among the customers active on that date.
// Requires both dimensions to be merged first.
func (f *FactMaterializer) MergeCustomerCosts(ctx context.Context) (FactStats, error) {
	aggregates, err := f.sourceAggregates(ctx)
	if err != nil {
		return FactStats{}, err
	}

	stats := FactStats{Aggregates: len(aggregates)}
	err = f.store.WithTx(ctx, func(s Store) error {
		serviceKeys, err := serviceKeyIndex(ctx, s)
		if err != nil {
			return err
		}
		versions, err := s.CustomerVersions(ctx)
		if err != nil {
			return err
		}

		for _, agg := range aggregates {
			svcKey, ok := serviceKeys[agg.Natural]
			if !ok {
				stats.OrphanGroups++
				continue
			}
			active := activeVersions(versions, agg.UsageDate)
			if len(active) == 0 {
				stats.SkippedNoActive++
				f.log.Warn("no active customers for date",
					zap.String("date", agg.UsageDate.String()))
				continue
			}
			share := EqualShare(agg.Cost, len(active))
			for _, cv := range active {
				row := CustomerCostRow{
					UsageDate:     agg.UsageDate,
					CustomerKey:   cv.Key,
					ServiceKey:    svcKey,
					AllocatedCost: share,
					RecordCount:   agg.RecordCount,
					NullCostCount: agg.NullCostCount,
				}
				if err := s.UpsertCustomerCost(ctx, row); err != nil {
					return fmt.Errorf("upsert customer cost %s customer %d: %w", agg, cv.CustomerID, err)
				}
				stats.RowsUpserted++
			}
		}
		return nil
	})
	if err != nil {
		return FactStats{}, err
	}

	f.log.Info("fact_customer_cost merged",
		zap.Int("aggregates", stats.Aggregates),
		zap.Int("rows", stats.RowsUpserted),
		zap.Int("orphans", stats.OrphanGroups),
		zap.Int("skipped_no_active", stats.SkippedNoActive))
	return stats, nil
}

func (f *FactMaterializer) sourceAggregates(ctx context.Context) ([]ServiceAggregate, error) {
	records, err := f.store.UsageRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("read raw usage: %w", err)
	}
	return AggregateByService(records)
}

// AggregateByService aggregates raw records to (usage_date, natural key)
// with decimal summation and deterministic 2-decimal rounding of each
// group total. Null costs coerce to zero and increment the null counter.
// Malformed dates or costs fail the whole batch.
func AggregateByService(records []UsageRecord) ([]ServiceAggregate, error) {
	type grain struct {
		date    string
		natural ServiceKey
	}
	groups := make(map[grain]*ServiceAggregate)

	for _, r := range records {
		date, err := ParseDate(r.UsageStartDate)
		if err != nil {
			return nil, &SourceRecordError{LineItemID: r.LineItemID, Field: "usage_start_date", Err: err}
		}
		cost, null, err := ParseCost(r.UnblendedCost)
		if err != nil {
			return nil, &SourceRecordError{LineItemID: r.LineItemID, Field: "unblended_cost", Err: err}
		}

		g := grain{date: date.String(), natural: ServiceKey{ProductCode: r.ProductCode, UsageType: r.UsageType}}
		agg, ok := groups[g]
		if !ok {
			agg = &ServiceAggregate{UsageDate: date, Natural: g.natural, Cost: decimal.Zero}
			groups[g] = agg
		}
		agg.Cost = agg.Cost.Add(cost)
		agg.RecordCount++
		if null {
			agg.NullCostCount++
		}
	}

	out := make([]ServiceAggregate, 0, len(groups))
	for _, agg := range groups {
		agg.Cost = Round2(agg.Cost)
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UsageDate.Equal(out[j].UsageDate) {
			return out[i].UsageDate.Before(out[j].UsageDate)
		}
		return out[i].Natural.Less(out[j].Natural)
	})
	return out, nil
}

// activeVersions selects the customer versions in effect on date via the
// temporal predicate, ordered by surrogate key for deterministic output.
func activeVersions(versions []CustomerVersion, date Date) []CustomerVersion {
	var active []CustomerVersion
	for _, v := range versions {
		if v.ActiveOn(date) {
			active = append(active, v)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Key < active[j].Key })
	return active
}

func serviceKeyIndex(ctx context.Context, s Store) (map[ServiceKey]int64, error) {
	services, err := s.Services(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(map[ServiceKey]int64, len(services))
	for _, svc := range services {
		idx[svc.NaturalKey()] = svc.Key
	}
	return idx, nil
}
