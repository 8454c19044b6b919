/*
reconcile.go - Reconciliation of derived aggregates against the source

PURPOSE:
  Verifies, after a full merge cycle, that the fact tables are still
  derivable from the raw layer:

    record_count_parity       sum of daily fact record counts equals the
                              source row count for matched natural keys
    daily_fact_orphans        every daily fact row references a service
                              key present in dim_service
    customer_fact_orphans     every allocated fact row references keys
                              present in both dimensions
    allocation_tolerance      per (date, service), allocated shares sum to
                              the un-allocated total within N * 0.005
    orphan_source_aggregates  source aggregates excluded from the facts
                              for lack of a dimension entry

  Every check returns a structured result with the measured delta; a
  mismatch is surfaced, never swallowed. Mismatches are non-fatal by
  design — the merges stay idempotent and re-runnable — but they are
  actionable findings for the operator.
*/
package warehouse

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CheckResult is the outcome of one reconciliation check.
type CheckResult struct {
	Name   string          `json:"name"`
	Passed bool            `json:"passed"`
	Delta  decimal.Decimal `json:"delta"`
	Detail string          `json:"detail,omitempty"`
}

// Report is the full reconciliation result.
type Report struct {
	Checks []CheckResult `json:"checks"`
}

// Passed reports whether every check passed.
func (r Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Reconciler runs the reconciliation checks against current store state.
type Reconciler struct {
	store Store
	log   *zap.Logger
}

// NewReconciler creates a reconciler. logger may be nil.
func NewReconciler(store Store, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, log: logger}
}

// Run executes all checks and returns the structured report. An error is
// returned only for store faults; check failures live in the report.
func (r *Reconciler) Run(ctx context.Context) (Report, error) {
	records, err := r.store.UsageRecords(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("read raw usage: %w", err)
	}
	aggregates, err := AggregateByService(records)
	if err != nil {
		return Report{}, err
	}
	services, err := r.store.Services(ctx)
	if err != nil {
		return Report{}, err
	}
	versions, err := r.store.CustomerVersions(ctx)
	if err != nil {
		return Report{}, err
	}
	daily, err := r.store.DailyCosts(ctx)
	if err != nil {
		return Report{}, err
	}
	allocated, err := r.store.CustomerCosts(ctx)
	if err != nil {
		return Report{}, err
	}

	serviceKeys := make(map[ServiceKey]int64, len(services))
	knownServiceKeys := make(map[int64]struct{}, len(services))
	for _, s := range services {
		serviceKeys[s.NaturalKey()] = s.Key
		knownServiceKeys[s.Key] = struct{}{}
	}
	knownCustomerKeys := make(map[int64]struct{}, len(versions))
	for _, v := range versions {
		knownCustomerKeys[v.Key] = struct{}{}
	}

	report := Report{Checks: []CheckResult{
		checkRecordCountParity(aggregates, serviceKeys, daily),
		checkDailyFactOrphans(daily, knownServiceKeys),
		checkCustomerFactOrphans(allocated, knownCustomerKeys, knownServiceKeys),
		checkAllocationTolerance(daily, allocated),
		checkOrphanSourceAggregates(aggregates, serviceKeys),
	}}

	for _, c := range report.Checks {
		if !c.Passed {
			r.log.Warn("reconciliation check failed",
				zap.String("check", c.Name),
				zap.String("delta", c.Delta.String()),
				zap.String("detail", c.Detail))
		}
	}
	return report, nil
}

// checkRecordCountParity: every source row whose natural key is present in
// dim_service must be counted exactly once in the daily fact.
func checkRecordCountParity(aggregates []ServiceAggregate, serviceKeys map[ServiceKey]int64, daily []DailyCostRow) CheckResult {
	var matchedSource int64
	for _, agg := range aggregates {
		if _, ok := serviceKeys[agg.Natural]; ok {
			matchedSource += agg.RecordCount
		}
	}
	var factCount int64
	for _, row := range daily {
		factCount += row.RecordCount
	}

	delta := factCount - matchedSource
	return CheckResult{
		Name:   "record_count_parity",
		Passed: delta == 0,
		Delta:  decimal.NewFromInt(delta),
		Detail: fmt.Sprintf("fact=%d source_matched=%d", factCount, matchedSource),
	}
}

func checkDailyFactOrphans(daily []DailyCostRow, knownServiceKeys map[int64]struct{}) CheckResult {
	var orphans int64
	for _, row := range daily {
		if _, ok := knownServiceKeys[row.ServiceKey]; !ok {
			orphans++
		}
	}
	return CheckResult{
		Name:   "daily_fact_orphans",
		Passed: orphans == 0,
		Delta:  decimal.NewFromInt(orphans),
		Detail: fmt.Sprintf("%d fact rows reference unknown service keys", orphans),
	}
}

func checkCustomerFactOrphans(allocated []CustomerCostRow, knownCustomerKeys, knownServiceKeys map[int64]struct{}) CheckResult {
	var orphans int64
	for _, row := range allocated {
		if _, ok := knownCustomerKeys[row.CustomerKey]; !ok {
			orphans++
			continue
		}
		if _, ok := knownServiceKeys[row.ServiceKey]; !ok {
			orphans++
		}
	}
	return CheckResult{
		Name:   "customer_fact_orphans",
		Passed: orphans == 0,
		Delta:  decimal.NewFromInt(orphans),
		Detail: fmt.Sprintf("%d allocated rows reference unknown dimension keys", orphans),
	}
}

// checkAllocationTolerance: for each (date, service) the allocated shares
// must sum to the daily total within N * 0.005, N being the number of
// shares. Independent rounding makes some divergence expected; exceeding
// the bound is a defect.
func checkAllocationTolerance(daily []DailyCostRow, allocated []CustomerCostRow) CheckResult {
	type grain struct {
		date       string
		serviceKey int64
	}

	sums := make(map[grain]decimal.Decimal)
	counts := make(map[grain]int)
	for _, row := range allocated {
		g := grain{date: row.UsageDate.String(), serviceKey: row.ServiceKey}
		sums[g] = sums[g].Add(row.AllocatedCost)
		counts[g]++
	}

	worst := decimal.Zero
	worstDetail := "all grains within tolerance"
	passed := true
	for _, row := range daily {
		g := grain{date: row.UsageDate.String(), serviceKey: row.ServiceKey}
		n, ok := counts[g]
		if !ok {
			// No allocation for this grain (e.g., no active customers);
			// surfaced separately by the materializer stats.
			continue
		}
		deviation := sums[g].Sub(row.DailyCost).Abs()
		if deviation.GreaterThan(ShareTolerance(n)) {
			passed = false
		}
		if deviation.GreaterThan(worst) {
			worst = deviation
			worstDetail = fmt.Sprintf("worst grain %s service_key=%d deviation=%s n=%d",
				g.date, g.serviceKey, deviation, n)
		}
	}

	return CheckResult{
		Name:   "allocation_tolerance",
		Passed: passed,
		Delta:  worst,
		Detail: worstDetail,
	}
}

func checkOrphanSourceAggregates(aggregates []ServiceAggregate, serviceKeys map[ServiceKey]int64) CheckResult {
	var orphans int64
	detail := ""
	for _, agg := range aggregates {
		if _, ok := serviceKeys[agg.Natural]; !ok {
			orphans++
			if detail == "" {
				detail = fmt.Sprintf("first orphan: %s", agg)
			}
		}
	}
	if detail == "" {
		detail = "all source aggregates matched a dimension entry"
	}
	return CheckResult{
		Name:   "orphan_source_aggregates",
		Passed: orphans == 0,
		Delta:  decimal.NewFromInt(orphans),
		Detail: detail,
	}
}
