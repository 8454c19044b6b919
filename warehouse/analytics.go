/*
analytics.go - Read-side analytics over the daily cost fact

PURPOSE:
  Derived reporting over fact_daily_cost joined to the service dimension:
  top-N services by total cost, month-over-month change, moving-average
  cost trend, and week-over-week anomaly detection. Pure reads; nothing
  here mutates warehouse state.
*/
package warehouse

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// ServiceTotal is one row of a top-N ranking.
type ServiceTotal struct {
	ServiceKey  int64           `json:"service_key"`
	ProductCode string          `json:"product_code"`
	UsageType   string          `json:"usage_type"`
	Category    string          `json:"category"`
	TotalCost   decimal.Decimal `json:"total_cost"`
}

// MonthCost is the total cost of one calendar month with its change over
// the previous month. ChangePct is nil for the first month and for months
// following a zero-cost month.
type MonthCost struct {
	Month     string           `json:"month"` // YYYY-MM
	TotalCost decimal.Decimal  `json:"total_cost"`
	ChangePct *decimal.Decimal `json:"change_pct,omitempty"`
}

// TrendPoint is one day of the smoothed cost series.
type TrendPoint struct {
	Date      Date            `json:"date"`
	DailyCost decimal.Decimal `json:"daily_cost"`
	MovingAvg decimal.Decimal `json:"moving_avg"`
}

// Anomaly flags a (week, service) whose cost moved by more than the
// configured ratio against the preceding week.
type Anomaly struct {
	Week         string          `json:"week"` // ISO YYYY-Www
	ServiceKey   int64           `json:"service_key"`
	ProductCode  string          `json:"product_code"`
	UsageType    string          `json:"usage_type"`
	WeekCost     decimal.Decimal `json:"week_cost"`
	PrevWeekCost decimal.Decimal `json:"prev_week_cost"`
	ChangeRatio  decimal.Decimal `json:"change_ratio"`
}

// Analytics answers reporting queries over current store state.
type Analytics struct {
	store Store
}

// NewAnalytics creates an analytics reader over the given store.
func NewAnalytics(store Store) *Analytics {
	return &Analytics{store: store}
}

// TopServices returns the n services with the highest total cost across
// the whole daily fact, ordered by cost descending then service key
// ascending for a stable ranking.
func (a *Analytics) TopServices(ctx context.Context, n int) ([]ServiceTotal, error) {
	daily, services, err := a.factWithDim(ctx)
	if err != nil {
		return nil, err
	}

	totals := make(map[int64]decimal.Decimal)
	for _, row := range daily {
		totals[row.ServiceKey] = totals[row.ServiceKey].Add(row.DailyCost)
	}

	out := make([]ServiceTotal, 0, len(totals))
	for key, total := range totals {
		svc, ok := services[key]
		if !ok {
			continue
		}
		out = append(out, ServiceTotal{
			ServiceKey:  key,
			ProductCode: svc.ProductCode,
			UsageType:   svc.UsageType,
			Category:    svc.Category,
			TotalCost:   total,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TotalCost.Equal(out[j].TotalCost) {
			return out[i].TotalCost.GreaterThan(out[j].TotalCost)
		}
		return out[i].ServiceKey < out[j].ServiceKey
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// MonthOverMonth returns per-month totals in chronological order with the
// percentage change against the previous month.
func (a *Analytics) MonthOverMonth(ctx context.Context) ([]MonthCost, error) {
	daily, err := a.store.DailyCosts(ctx)
	if err != nil {
		return nil, err
	}

	byMonth := make(map[string]decimal.Decimal)
	for _, row := range daily {
		m := row.UsageDate.Month()
		byMonth[m] = byMonth[m].Add(row.DailyCost)
	}

	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	hundred := decimal.NewFromInt(100)
	out := make([]MonthCost, 0, len(months))
	for i, m := range months {
		mc := MonthCost{Month: m, TotalCost: byMonth[m]}
		if i > 0 {
			prev := byMonth[months[i-1]]
			if !prev.IsZero() {
				pct := mc.TotalCost.Sub(prev).Div(prev).Mul(hundred).Round(2)
				mc.ChangePct = &pct
			}
		}
		out = append(out, mc)
	}
	return out, nil
}

// CostTrend returns the daily total cost series with a trailing moving
// average over the given window (in days, minimum 1). Early points average
// over however many days are available.
func (a *Analytics) CostTrend(ctx context.Context, window int) ([]TrendPoint, error) {
	if window < 1 {
		window = 1
	}
	daily, err := a.store.DailyCosts(ctx)
	if err != nil {
		return nil, err
	}

	byDate := make(map[Date]decimal.Decimal)
	for _, row := range daily {
		byDate[row.UsageDate] = byDate[row.UsageDate].Add(row.DailyCost)
	}

	dates := make([]Date, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	out := make([]TrendPoint, 0, len(dates))
	for i, d := range dates {
		start := i - window + 1
		if start < 0 {
			start = 0
		}
		sum := decimal.Zero
		for _, prior := range dates[start : i+1] {
			sum = sum.Add(byDate[prior])
		}
		avg := sum.Div(decimal.NewFromInt(int64(i - start + 1))).Round(2)
		out = append(out, TrendPoint{Date: d, DailyCost: byDate[d], MovingAvg: avg})
	}
	return out, nil
}

// DetectAnomalies flags every (ISO week, service) whose cost changed by at
// least threshold (a ratio; 0.5 means ±50%) against the immediately
// preceding week of the same service. Weeks with a zero-cost predecessor
// are skipped: the ratio is undefined there.
func (a *Analytics) DetectAnomalies(ctx context.Context, threshold decimal.Decimal) ([]Anomaly, error) {
	daily, services, err := a.factWithDim(ctx)
	if err != nil {
		return nil, err
	}

	type weekKey struct {
		week       string
		serviceKey int64
	}
	byWeek := make(map[weekKey]decimal.Decimal)
	weekSet := make(map[string]struct{})
	for _, row := range daily {
		w := row.UsageDate.ISOWeek()
		byWeek[weekKey{week: w, serviceKey: row.ServiceKey}] = byWeek[weekKey{week: w, serviceKey: row.ServiceKey}].Add(row.DailyCost)
		weekSet[w] = struct{}{}
	}

	weeks := make([]string, 0, len(weekSet))
	for w := range weekSet {
		weeks = append(weeks, w)
	}
	sort.Strings(weeks)

	var out []Anomaly
	for i := 1; i < len(weeks); i++ {
		for key, svc := range services {
			prev, okPrev := byWeek[weekKey{week: weeks[i-1], serviceKey: key}]
			cur, okCur := byWeek[weekKey{week: weeks[i], serviceKey: key}]
			if !okPrev || !okCur || prev.IsZero() {
				continue
			}
			ratio := cur.Sub(prev).Div(prev)
			if ratio.Abs().GreaterThanOrEqual(threshold) {
				out = append(out, Anomaly{
					Week:         weeks[i],
					ServiceKey:   key,
					ProductCode:  svc.ProductCode,
					UsageType:    svc.UsageType,
					WeekCost:     cur,
					PrevWeekCost: prev,
					ChangeRatio:  ratio.Round(4),
				})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Week != out[j].Week {
			return out[i].Week < out[j].Week
		}
		return out[i].ServiceKey < out[j].ServiceKey
	})
	return out, nil
}

func (a *Analytics) factWithDim(ctx context.Context) ([]DailyCostRow, map[int64]Service, error) {
	daily, err := a.store.DailyCosts(ctx)
	if err != nil {
		return nil, nil, err
	}
	services, err := a.store.Services(ctx)
	if err != nil {
		return nil, nil, err
	}
	byKey := make(map[int64]Service, len(services))
	for _, s := range services {
		byKey[s.Key] = s
	}
	return daily, byKey, nil
}
