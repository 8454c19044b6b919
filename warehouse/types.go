/*
Package warehouse provides the dimensional consistency engine for the
cost-reporting star schema.

PURPOSE:
  This package contains the algorithms that keep the warehouse derivable
  from the append-only raw usage layer under arbitrary re-execution:
  slowly-changing dimension merges (Type 1 overwrite, Type 2 full history),
  stable surrogate key allocation, idempotent fact materialization with
  temporal joins and cost allocation, and reconciliation of derived
  aggregates back to source totals.

KEY CONCEPTS IN THIS FILE (types.go):
  - UsageRecord: A raw source line item (string-typed, source fidelity)
  - ServiceKey/Service: Natural key and row of the Type 1 service dimension
  - CustomerSnapshot/CustomerVersion: Input and stored versions of the
    Type 2 customer dimension
  - DailyCostRow/CustomerCostRow: Fact rows at their respective grains

DESIGN PRINCIPLES:
  1. Idempotency: Every merge applied twice to the same source state leaves
     the warehouse unchanged after the second run
  2. Precision: All monetary math uses decimal.Decimal, never float64
  3. No destructive path: Dimensions and facts are only mutated by the
     merge algorithms here; nothing is ever physically deleted
  4. Fresh state: Engines re-read current dimension state every run and
     cache nothing across runs

SEE ALSO:
  - dimservice.go: Type 1 merger
  - dimcustomer.go: Type 2 versioner
  - facts.go: Fact materializer
  - reconcile.go: Reconciliation checker
*/
package warehouse

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RAW SOURCE RECORD
// =============================================================================

// UsageRecord is one raw usage line item. All fields are strings by design:
// the raw layer preserves source fidelity, and the engine parses dates and
// costs into canonical forms before any comparison or arithmetic.
type UsageRecord struct {
	LineItemID     string // natural identity key, unique in the raw layer
	TimeInterval   string
	PayerAccountID string
	UsageAccountID string
	LineItemType   string
	UsageStartDate string // YYYY-MM-DD
	UsageEndDate   string
	ProductCode    string
	UsageType      string
	Operation      string
	UsageAmount    string
	UnblendedCost  string // empty string means NULL in the source
	BlendedCost    string
	CurrencyCode   string
}

// HasCost reports whether the record carries a non-null unblended cost.
func (r UsageRecord) HasCost() bool { return r.UnblendedCost != "" }

// =============================================================================
// SERVICE DIMENSION (SCD TYPE 1)
// =============================================================================

// ServiceKey is the natural key of the service dimension.
type ServiceKey struct {
	ProductCode string
	UsageType   string
}

func (k ServiceKey) String() string { return k.ProductCode + "|" + k.UsageType }

// Less orders natural keys lexicographically. Surrogate key allocation
// depends on this ordering being stable.
func (k ServiceKey) Less(o ServiceKey) bool {
	if k.ProductCode != o.ProductCode {
		return k.ProductCode < o.ProductCode
	}
	return k.UsageType < o.UsageType
}

// Service is a row of the Type 1 service dimension. The surrogate key and
// FirstSeen are immutable once assigned; LastSeen only moves forward.
type Service struct {
	Key         int64
	ProductCode string
	UsageType   string
	Category    string
	FirstSeen   Date
	LastSeen    Date
}

// NaturalKey returns the service's natural key.
func (s Service) NaturalKey() ServiceKey {
	return ServiceKey{ProductCode: s.ProductCode, UsageType: s.UsageType}
}

// ServiceObservation is the distilled view of the source for one natural
// key: the date watermarks derived from all its usage records.
type ServiceObservation struct {
	Natural   ServiceKey
	FirstSeen Date
	LastSeen  Date
}

// =============================================================================
// CUSTOMER DIMENSION (SCD TYPE 2)
// =============================================================================

// CustomerID is the natural key of the customer dimension.
type CustomerID int64

// CustomerSnapshot is one incoming customer record. Email and Phone are raw
// sensitive values and exist only in memory: they are masked before any
// comparison or storage and are never persisted or logged.
type CustomerSnapshot struct {
	CustomerID CustomerID
	Email      string
	Phone      string
	FirstName  string
	LastName   string
	Segment    string // the tracked attribute: a change here creates history
}

// CustomerVersion is one effective-dated row of the customer dimension.
// Sensitive attributes are stored in masked form only.
type CustomerVersion struct {
	Key           int64
	CustomerID    CustomerID
	EmailToken    string
	PhoneRedacted string
	FirstName     string
	LastName      string
	Segment       string
	EffectiveFrom Date
	EffectiveTo   *Date // nil while the version is open
	IsCurrent     bool
}

// ActiveOn reports whether this version is the one in effect on the given
// date: effective_from <= date < coalesce(effective_to, +infinity).
func (v CustomerVersion) ActiveOn(date Date) bool {
	if date.Before(v.EffectiveFrom) {
		return false
	}
	return v.EffectiveTo == nil || date.Before(*v.EffectiveTo)
}

// =============================================================================
// FACT ROWS
// =============================================================================

// DailyCostRow is a fact row at (usage_date, service_key) grain.
type DailyCostRow struct {
	UsageDate     Date
	ServiceKey    int64
	DailyCost     decimal.Decimal // rounded to 2 decimal places
	RecordCount   int64
	NullCostCount int64
}

// CustomerCostRow is a fact row at (usage_date, customer_key, service_key)
// grain. AllocatedCost is the customer's equal share of the service's
// daily cost, independently rounded to 2 decimal places.
type CustomerCostRow struct {
	UsageDate     Date
	CustomerKey   int64
	ServiceKey    int64
	AllocatedCost decimal.Decimal
	RecordCount   int64
	NullCostCount int64
}

// ServiceAggregate is the source aggregated to (usage_date, natural key)
// before any dimension join. It is the un-allocated total the allocated
// fact reconciles against.
type ServiceAggregate struct {
	UsageDate     Date
	Natural       ServiceKey
	Cost          decimal.Decimal // rounded to 2 decimal places
	RecordCount   int64
	NullCostCount int64
}

func (a ServiceAggregate) String() string {
	return fmt.Sprintf("%s %s", a.UsageDate, a.Natural)
}
