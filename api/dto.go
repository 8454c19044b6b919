/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  Defines the JSON shapes exchanged with clients. DTOs are deliberately
  separate from domain types: dates travel as YYYY-MM-DD strings,
  monetary values as decimal strings, and sensitive customer attributes
  only ever leave the service in masked form.

SEE ALSO:
  - handlers.go: Handlers producing/consuming these DTOs
*/
package api

// =============================================================================
// REQUESTS
// =============================================================================

// UsageRecordDTO is one raw usage line item as submitted by a client.
type UsageRecordDTO struct {
	LineItemID     string `json:"line_item_id"`
	TimeInterval   string `json:"time_interval"`
	PayerAccountID string `json:"payer_account_id"`
	UsageAccountID string `json:"usage_account_id"`
	LineItemType   string `json:"line_item_type"`
	UsageStartDate string `json:"usage_start_date"`
	UsageEndDate   string `json:"usage_end_date"`
	ProductCode    string `json:"product_code"`
	UsageType      string `json:"usage_type"`
	Operation      string `json:"operation"`
	UsageAmount    string `json:"usage_amount"`
	UnblendedCost  string `json:"unblended_cost"`
	BlendedCost    string `json:"blended_cost"`
	CurrencyCode   string `json:"currency_code"`
}

// LoadUsageRequest appends raw usage records.
type LoadUsageRequest struct {
	Records []UsageRecordDTO `json:"records"`
}

// CustomerSnapshotDTO is one incoming customer record. Email and phone
// arrive raw and are masked before they touch storage.
type CustomerSnapshotDTO struct {
	CustomerID int64  `json:"customer_id"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Segment    string `json:"segment"`
}

// MergeCustomersRequest applies a customer snapshot as of a date.
type MergeCustomersRequest struct {
	AsOf      string                `json:"as_of"` // YYYY-MM-DD
	Customers []CustomerSnapshotDTO `json:"customers"`
}

// SeedRequest loads a named fixture corpus (dev/demo only).
type SeedRequest struct {
	// Snapshot selects the customer snapshot: "v1" (baseline) or "v2"
	// (baseline plus segment moves, contact updates, and new customers).
	Snapshot string `json:"snapshot"`
	AsOf     string `json:"as_of"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// LoadUsageResponse reports a raw load.
type LoadUsageResponse struct {
	Read     int `json:"read"`
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
}

// MergeServicesResponse reports a Type 1 merge.
type MergeServicesResponse struct {
	Inserted  int `json:"inserted"`
	Touched   int `json:"touched"`
	Unchanged int `json:"unchanged"`
}

// MergeCustomersResponse reports a Type 2 merge.
type MergeCustomersResponse struct {
	Inserted  int `json:"inserted"`
	Versioned int `json:"versioned"`
	Updated   int `json:"updated"`
	NoOps     int `json:"no_ops"`
}

// MergeFactsResponse reports a fact materialization pass.
type MergeFactsResponse struct {
	DailyRows       int `json:"daily_rows"`
	AllocatedRows   int `json:"allocated_rows"`
	OrphanGroups    int `json:"orphan_groups"`
	SkippedNoActive int `json:"skipped_no_active"`
}

// ServiceDTO is one service dimension row.
type ServiceDTO struct {
	ServiceKey  int64  `json:"service_key"`
	ProductCode string `json:"product_code"`
	UsageType   string `json:"usage_type"`
	Category    string `json:"category"`
	FirstSeen   string `json:"first_seen_date"`
	LastSeen    string `json:"last_seen_date"`
}

// CustomerVersionDTO is one effective-dated customer row. Sensitive
// attributes appear masked only.
type CustomerVersionDTO struct {
	CustomerKey   int64   `json:"customer_key"`
	CustomerID    int64   `json:"customer_id"`
	EmailToken    string  `json:"email_token"`
	PhoneRedacted string  `json:"phone_redacted"`
	FirstName     string  `json:"first_name"`
	LastName      string  `json:"last_name"`
	Segment       string  `json:"segment"`
	EffectiveFrom string  `json:"effective_from"`
	EffectiveTo   *string `json:"effective_to"`
	IsCurrent     bool    `json:"is_current"`
}

// DailyCostDTO is one daily fact row.
type DailyCostDTO struct {
	UsageDate     string `json:"usage_date"`
	ServiceKey    int64  `json:"service_key"`
	DailyCost     string `json:"daily_cost"`
	RecordCount   int64  `json:"record_count"`
	NullCostCount int64  `json:"null_cost_count"`
}

// CustomerCostDTO is one allocated fact row.
type CustomerCostDTO struct {
	UsageDate     string `json:"usage_date"`
	CustomerKey   int64  `json:"customer_key"`
	ServiceKey    int64  `json:"service_key"`
	AllocatedCost string `json:"allocated_cost"`
	RecordCount   int64  `json:"record_count"`
	NullCostCount int64  `json:"null_cost_count"`
}

// ErrorResponse is the error body for all non-2xx responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
