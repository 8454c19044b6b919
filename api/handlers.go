/*
handlers.go - HTTP API handlers for the cost warehouse

PURPOSE:
  Exposes the warehouse engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Loading:
    POST   /api/load/usage            Append raw usage records
    POST   /api/seed                  Load fixture corpus (dev/demo)

  Merging:
    POST   /api/merge/services        Type 1 service dimension merge
    POST   /api/merge/customers       Type 2 customer snapshot apply
    POST   /api/merge/facts           Materialize both fact tables

  Dimensions and facts:
    GET    /api/dimensions/services   Service dimension rows
    GET    /api/dimensions/customers  Customer version history
    GET    /api/costs/daily           Daily cost fact
    GET    /api/costs/customers       Allocated cost fact

  Reporting:
    GET    /api/reconciliation        Reconciliation report
    GET    /api/analytics/top-services
    GET    /api/analytics/month-over-month
    GET    /api/analytics/trend
    GET    /api/analytics/anomalies

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 409: Conflict (out-of-order snapshot, duplicate key in batch)
  - 422: Malformed source records
  - 500: Internal errors

SECURITY NOTE:
  No authentication middleware. Raw email/phone values appear only in
  merge request bodies and are masked before storage; no response ever
  carries them back.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/cost-warehouse/ingest"
	"github.com/warp/cost-warehouse/mask"
	"github.com/warp/cost-warehouse/store/sqlite"
	"github.com/warp/cost-warehouse/warehouse"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store *sqlite.Store

	loader     *ingest.Loader
	services   *warehouse.ServiceMerger
	customers  *warehouse.CustomerVersioner
	facts      *warehouse.FactMaterializer
	reconciler *warehouse.Reconciler
	analytics  *warehouse.Analytics
	log        *zap.Logger
}

// NewHandler creates a handler wired to the given store and masker.
func NewHandler(store *sqlite.Store, masker *mask.Masker, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:      store,
		loader:     ingest.NewLoader(store, logger),
		services:   warehouse.NewServiceMerger(store, logger),
		customers:  warehouse.NewCustomerVersioner(store, masker, logger),
		facts:      warehouse.NewFactMaterializer(store, logger),
		reconciler: warehouse.NewReconciler(store, logger),
		analytics:  warehouse.NewAnalytics(store),
		log:        logger,
	}
}

// =============================================================================
// LOADING
// =============================================================================

// LoadUsage appends raw usage records.
// POST /api/load/usage
func (h *Handler) LoadUsage(w http.ResponseWriter, r *http.Request) {
	var req LoadUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "No records in request", nil)
		return
	}

	records := make([]warehouse.UsageRecord, len(req.Records))
	for i, d := range req.Records {
		records[i] = usageFromDTO(d)
	}

	stats, err := h.loader.LoadRecords(r.Context(), records)
	if err != nil {
		var srcErr *warehouse.SourceRecordError
		if errors.As(err, &srcErr) {
			writeError(w, http.StatusUnprocessableEntity, "Invalid source record", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load records", err)
		return
	}

	writeJSON(w, http.StatusOK, LoadUsageResponse{
		Read:     stats.Read,
		Inserted: stats.Inserted,
		Skipped:  stats.Skipped,
	})
}

// Seed loads the fixture corpus: the sample usage records plus one of the
// customer snapshots.
// POST /api/seed
func (h *Handler) Seed(w http.ResponseWriter, r *http.Request) {
	var req SeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var snapshot []warehouse.CustomerSnapshot
	switch req.Snapshot {
	case "", "v1":
		snapshot = warehouse.SampleCustomersV1()
	case "v2":
		snapshot = warehouse.SampleCustomersV2()
	default:
		writeError(w, http.StatusBadRequest, "Unknown snapshot, want v1 or v2", nil)
		return
	}

	asOf, err := warehouse.ParseDate(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
		return
	}

	loadStats, err := h.loader.LoadRecords(r.Context(), warehouse.SampleUsageRecords())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed usage records", err)
		return
	}
	if _, err := h.customers.Apply(r.Context(), snapshot, asOf); err != nil {
		h.writeMergeCustomersError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LoadUsageResponse{
		Read:     loadStats.Read,
		Inserted: loadStats.Inserted,
		Skipped:  loadStats.Skipped,
	})
}

// =============================================================================
// MERGING
// =============================================================================

// MergeServices runs the Type 1 service dimension merge.
// POST /api/merge/services
func (h *Handler) MergeServices(w http.ResponseWriter, r *http.Request) {
	stats, err := h.services.Merge(r.Context())
	if err != nil {
		var srcErr *warehouse.SourceRecordError
		if errors.As(err, &srcErr) {
			writeError(w, http.StatusUnprocessableEntity, "Invalid source record", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to merge services", err)
		return
	}

	writeJSON(w, http.StatusOK, MergeServicesResponse{
		Inserted:  stats.Inserted,
		Touched:   stats.Updated,
		Unchanged: stats.Unchanged,
	})
}

// MergeCustomers applies a customer snapshot as of a date.
// POST /api/merge/customers
func (h *Handler) MergeCustomers(w http.ResponseWriter, r *http.Request) {
	var req MergeCustomersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	asOf, err := warehouse.ParseDate(req.AsOf)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of date", err)
		return
	}

	snapshot := make([]warehouse.CustomerSnapshot, len(req.Customers))
	for i, d := range req.Customers {
		snapshot[i] = warehouse.CustomerSnapshot{
			CustomerID: warehouse.CustomerID(d.CustomerID),
			Email:      d.Email,
			Phone:      d.Phone,
			FirstName:  d.FirstName,
			LastName:   d.LastName,
			Segment:    d.Segment,
		}
	}

	stats, err := h.customers.Apply(r.Context(), snapshot, asOf)
	if err != nil {
		h.writeMergeCustomersError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MergeCustomersResponse{
		Inserted:  stats.Inserted,
		Versioned: stats.Versioned,
		Updated:   stats.Updated,
		NoOps:     stats.NoOps,
	})
}

func (h *Handler) writeMergeCustomersError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, warehouse.ErrOutOfOrderSnapshot):
		writeError(w, http.StatusConflict, "Snapshot is older than current dimension state", err)
	case errors.Is(err, warehouse.ErrDuplicateSnapshotKey):
		writeError(w, http.StatusConflict, "Duplicate customer_id in snapshot", err)
	case errors.Is(err, mask.ErrInvalidEmail), errors.Is(err, mask.ErrPhoneTooShort):
		writeError(w, http.StatusUnprocessableEntity, "Unmaskable customer attribute", err)
	default:
		writeError(w, http.StatusInternalServerError, "Failed to merge customers", err)
	}
}

// MergeFacts materializes both fact tables.
// POST /api/merge/facts
func (h *Handler) MergeFacts(w http.ResponseWriter, r *http.Request) {
	daily, err := h.facts.MergeDailyCosts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to merge daily costs", err)
		return
	}
	allocated, err := h.facts.MergeCustomerCosts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to merge customer costs", err)
		return
	}

	writeJSON(w, http.StatusOK, MergeFactsResponse{
		DailyRows:       daily.RowsUpserted,
		AllocatedRows:   allocated.RowsUpserted,
		OrphanGroups:    daily.OrphanGroups,
		SkippedNoActive: allocated.SkippedNoActive,
	})
}

// =============================================================================
// DIMENSIONS AND FACTS
// =============================================================================

// ListServices returns all service dimension rows.
// GET /api/dimensions/services
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	services, err := h.Store.Services(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list services", err)
		return
	}

	dtos := make([]ServiceDTO, len(services))
	for i, s := range services {
		dtos[i] = ServiceDTO{
			ServiceKey:  s.Key,
			ProductCode: s.ProductCode,
			UsageType:   s.UsageType,
			Category:    s.Category,
			FirstSeen:   s.FirstSeen.String(),
			LastSeen:    s.LastSeen.String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListCustomerVersions returns the customer version history. Pass
// ?current=true for open versions only.
// GET /api/dimensions/customers
func (h *Handler) ListCustomerVersions(w http.ResponseWriter, r *http.Request) {
	var (
		versions []warehouse.CustomerVersion
		err      error
	)
	if r.URL.Query().Get("current") == "true" {
		versions, err = h.Store.CurrentCustomerVersions(r.Context())
	} else {
		versions, err = h.Store.CustomerVersions(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list customer versions", err)
		return
	}

	dtos := make([]CustomerVersionDTO, len(versions))
	for i, v := range versions {
		dto := CustomerVersionDTO{
			CustomerKey:   v.Key,
			CustomerID:    int64(v.CustomerID),
			EmailToken:    v.EmailToken,
			PhoneRedacted: v.PhoneRedacted,
			FirstName:     v.FirstName,
			LastName:      v.LastName,
			Segment:       v.Segment,
			EffectiveFrom: v.EffectiveFrom.String(),
			IsCurrent:     v.IsCurrent,
		}
		if v.EffectiveTo != nil {
			to := v.EffectiveTo.String()
			dto.EffectiveTo = &to
		}
		dtos[i] = dto
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListDailyCosts returns the daily cost fact.
// GET /api/costs/daily
func (h *Handler) ListDailyCosts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.DailyCosts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list daily costs", err)
		return
	}

	dtos := make([]DailyCostDTO, len(rows))
	for i, row := range rows {
		dtos[i] = DailyCostDTO{
			UsageDate:     row.UsageDate.String(),
			ServiceKey:    row.ServiceKey,
			DailyCost:     row.DailyCost.StringFixed(2),
			RecordCount:   row.RecordCount,
			NullCostCount: row.NullCostCount,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListCustomerCosts returns the allocated cost fact.
// GET /api/costs/customers
func (h *Handler) ListCustomerCosts(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Store.CustomerCosts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list customer costs", err)
		return
	}

	dtos := make([]CustomerCostDTO, len(rows))
	for i, row := range rows {
		dtos[i] = CustomerCostDTO{
			UsageDate:     row.UsageDate.String(),
			CustomerKey:   row.CustomerKey,
			ServiceKey:    row.ServiceKey,
			AllocatedCost: row.AllocatedCost.StringFixed(2),
			RecordCount:   row.RecordCount,
			NullCostCount: row.NullCostCount,
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REPORTING
// =============================================================================

// Reconcile runs the reconciliation checks and returns the report.
// GET /api/reconciliation
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Run(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to run reconciliation", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// TopServices returns the top-N services by total cost.
// GET /api/analytics/top-services?n=10
func (h *Handler) TopServices(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", 10)
	out, err := h.analytics.TopServices(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to rank services", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// MonthOverMonth returns per-month totals with change percentages.
// GET /api/analytics/month-over-month
func (h *Handler) MonthOverMonth(w http.ResponseWriter, r *http.Request) {
	out, err := h.analytics.MonthOverMonth(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute month-over-month", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// CostTrend returns the smoothed daily cost series.
// GET /api/analytics/trend?window=7
func (h *Handler) CostTrend(w http.ResponseWriter, r *http.Request) {
	window := queryInt(r, "window", 7)
	out, err := h.analytics.CostTrend(r.Context(), window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute trend", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Anomalies returns week-over-week cost anomalies.
// GET /api/analytics/anomalies?threshold=0.5
func (h *Handler) Anomalies(w http.ResponseWriter, r *http.Request) {
	threshold := decimal.NewFromFloat(0.5)
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			writeError(w, http.StatusBadRequest, "Invalid threshold", err)
			return
		}
		threshold = parsed
	}

	out, err := h.analytics.DetectAnomalies(r.Context(), threshold)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to detect anomalies", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ResetDatabase clears all data (dev only).
// POST /api/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// HELPERS
// =============================================================================

func usageFromDTO(d UsageRecordDTO) warehouse.UsageRecord {
	return warehouse.UsageRecord{
		LineItemID:     d.LineItemID,
		TimeInterval:   d.TimeInterval,
		PayerAccountID: d.PayerAccountID,
		UsageAccountID: d.UsageAccountID,
		LineItemType:   d.LineItemType,
		UsageStartDate: d.UsageStartDate,
		UsageEndDate:   d.UsageEndDate,
		ProductCode:    d.ProductCode,
		UsageType:      d.UsageType,
		Operation:      d.Operation,
		UsageAmount:    d.UsageAmount,
		UnblendedCost:  d.UnblendedCost,
		BlendedCost:    d.BlendedCost,
		CurrencyCode:   d.CurrencyCode,
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
