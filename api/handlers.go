/*
handlers.go - HTTP API handlers for the loyalty points system

PURPOSE:
  Exposes the points ledger and the earning rule engine via REST API.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain logic.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                      Create account
    GET    /api/accounts/{id}/balance         Balance summary
    GET    /api/accounts/{id}/transfers       Transfer history (projection)
    POST   /api/accounts/{id}/points          Add points
    POST   /api/accounts/{id}/spend           Spend points
    POST   /api/accounts/{id}/reset           Expire all active/locked points
    POST   /api/accounts/{id}/transfers/{transferId}/unlock
    POST   /api/accounts/{id}/transfers/{transferId}/expire
    POST   /api/accounts/{id}/transfers/{transferId}/cancel

  Rules:
    GET    /api/rules                         List rules
    POST   /api/rules                         Create/update rule from JSON
    GET    /api/rules/{id}                    Get rule
    DELETE /api/rules/{id}                    Delete rule

  Evaluation:
    POST   /api/evaluate/transaction          Points for a purchase
    POST   /api/evaluate/event                Points for a named event
    POST   /api/evaluate/referral             Referral payouts per bucket
    POST   /api/evaluate/geo                  Geofence awards

CONCURRENCY:
  Ledger commands run against optimistic concurrency; a stale-version
  append is retried here (reload + reapply) a bounded number of times
  before surfacing 409 to the caller.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Unknown account or transfer
  - 409: Duplicate transfer, lost concurrency race
  - 422: Illegal state transition (cancel a deduction, unlock expired)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/loyalty-engine/earning"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/ledger"
	"github.com/warp/loyalty-engine/projection"
	"github.com/warp/loyalty-engine/store/sqlite"
)

// commandRetries bounds optimistic-concurrency retries per request.
const commandRetries = 3

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger      *ledger.Service
	Store       *sqlite.Store
	Views       projection.ViewStore
	Engine      *earning.Engine
	RuleFactory *factory.RuleFactory

	// Customer statuses allowed to earn points, from configuration.
	EligibleStatuses []string

	Logger *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(service *ledger.Service, store *sqlite.Store, engine *earning.Engine, eligibleStatuses []string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Ledger:           service,
		Store:            store,
		Views:            store,
		Engine:           engine,
		RuleFactory:      factory.NewRuleFactory(),
		EligibleStatuses: eligibleStatuses,
		Logger:           logger,
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount opens a points account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required", nil)
		return
	}
	if req.AccountID == "" {
		req.AccountID = uuid.NewString()
	}

	err := h.Ledger.CreateAccount(r.Context(), ledger.AccountID(req.AccountID), ledger.CustomerID(req.CustomerID))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, AccountDTO{AccountID: req.AccountID, CustomerID: req.CustomerID})
}

// GetBalance returns the account's balance summary, computed from the
// write-side aggregate for strong consistency.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	summary, err := h.Ledger.Balance(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := BalanceDTO{
		AccountID:   string(summary.AccountID),
		CustomerID:  string(summary.CustomerID),
		Available:   summary.Available.String(),
		Earned:      summary.Earned.String(),
		EarnedToday: summary.EarnedToday.String(),
		Used:        summary.Used.String(),
		Expired:     summary.Expired.String(),
		Locked:      summary.Locked.String(),
	}
	if summary.LastResetAt != nil {
		dto.LastResetAt = summary.LastResetAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListTransfers returns the projection's transfer history for an account.
// Eventually consistent with the ledger.
func (h *Handler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	views, err := h.Views.ListTransfers(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transfers", err)
		return
	}

	dtos := make([]TransferDTO, len(views))
	for i, v := range views {
		dtos[i] = toTransferDTO(v)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func toTransferDTO(v projection.TransferView) TransferDTO {
	dto := TransferDTO{
		TransferID:    string(v.TransferID),
		AccountID:     string(v.AccountID),
		Type:          string(v.Type),
		State:         string(v.State),
		Value:         v.Value.String(),
		Comment:       v.Comment,
		Issuer:        v.Issuer,
		TransactionID: v.Transaction,
		CreatedAt:     v.CreatedAt.Format(time.RFC3339),
	}
	if v.ExpiresAt != nil {
		dto.ExpiresAt = v.ExpiresAt.Format(time.RFC3339)
	}
	if v.LockedUntil != nil {
		dto.LockedUntil = v.LockedUntil.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// LEDGER COMMAND HANDLERS
// =============================================================================

// AddPoints credits points to an account.
func (h *Handler) AddPoints(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	var req AddPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid value (use a decimal string)", err)
		return
	}
	expiresAt, err := optionalTime(req.ExpiresAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expires_at (use RFC 3339)", err)
		return
	}
	lockedUntil, err := optionalTime(req.LockedUntil)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid locked_until (use RFC 3339)", err)
		return
	}
	if req.TransferID == "" {
		req.TransferID = uuid.NewString()
	}

	cmd := ledger.AddPointsCommand{
		TransferID:    ledger.TransferID(req.TransferID),
		Value:         value,
		ExpiresAt:     expiresAt,
		LockedUntil:   lockedUntil,
		TransactionID: req.TransactionID,
		Comment:       req.Comment,
		Issuer:        req.Issuer,
	}

	if err := h.withRetry(func() error {
		return h.Ledger.AddPoints(r.Context(), accountID, cmd)
	}); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"transfer_id": req.TransferID})
}

// SpendPoints debits points FIFO across the account's active additions.
func (h *Handler) SpendPoints(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	var req SpendPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	value, err := decimal.NewFromString(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid value (use a decimal string)", err)
		return
	}
	if req.TransferID == "" {
		req.TransferID = uuid.NewString()
	}

	cmd := ledger.SpendPointsCommand{
		TransferID:           ledger.TransferID(req.TransferID),
		Value:                value,
		TransactionID:        req.TransactionID,
		RevisedTransactionID: req.RevisedTransactionID,
		Comment:              req.Comment,
		Issuer:               req.Issuer,
	}

	if err := h.withRetry(func() error {
		return h.Ledger.SpendPoints(r.Context(), accountID, cmd)
	}); err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"transfer_id": req.TransferID})
}

// UnlockTransfer clears a transfer's lock.
func (h *Handler) UnlockTransfer(w http.ResponseWriter, r *http.Request) {
	h.transferCommand(w, r, h.Ledger.UnlockTransfer)
}

// ExpireTransfer moves a transfer to expired. Irreversible.
func (h *Handler) ExpireTransfer(w http.ResponseWriter, r *http.Request) {
	h.transferCommand(w, r, h.Ledger.ExpireTransfer)
}

// CancelTransfer moves a transfer to canceled. Irreversible.
func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	h.transferCommand(w, r, h.Ledger.CancelTransfer)
}

func (h *Handler) transferCommand(w http.ResponseWriter, r *http.Request,
	command func(ctx context.Context, accountID ledger.AccountID, transferID ledger.TransferID) error) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))
	transferID := ledger.TransferID(chi.URLParam(r, "transferId"))

	if err := h.withRetry(func() error {
		return command(r.Context(), accountID, transferID)
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transfer_id": string(transferID)})
}

// ResetPoints bulk-expires every active or locked addition.
func (h *Handler) ResetPoints(w http.ResponseWriter, r *http.Request) {
	accountID := ledger.AccountID(chi.URLParam(r, "id"))

	if err := h.withRetry(func() error {
		return h.Ledger.ResetPoints(r.Context(), accountID)
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"account_id": string(accountID)})
}

// withRetry reruns a command when it lost an optimistic concurrency race.
func (h *Handler) withRetry(command func() error) error {
	var err error
	for attempt := 0; attempt < commandRetries; attempt++ {
		err = command()
		if !ledger.IsRetryable(err) {
			return err
		}
		h.Logger.Debug("retrying ledger command after version conflict",
			zap.Int("attempt", attempt+1))
	}
	return err
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns all stored rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListRules(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}

	dtos := make([]RuleDTO, 0, len(records))
	for _, rec := range records {
		dto, err := h.toRuleDTO(rec)
		if err != nil {
			h.Logger.Warn("skipping unparsable rule record", zap.String("rule_id", rec.ID), zap.Error(err))
			continue
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRule returns one rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, err := h.Store.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get rule", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Rule not found", nil)
		return
	}

	dto, err := h.toRuleDTO(*rec)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Stored rule config is invalid", err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// SaveRule creates or updates a rule from its JSON config.
func (h *Handler) SaveRule(w http.ResponseWriter, r *http.Request) {
	var raw factory.RuleJSON
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if raw.ID == "" {
		raw.ID = uuid.NewString()
	}

	rule, err := h.RuleFactory.FromJSON(raw)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	config, err := h.RuleFactory.SerializeRule(rule)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to serialize rule", err)
		return
	}

	record := sqlite.RuleRecord{
		ID:         string(rule.ID),
		Name:       rule.Name,
		Kind:       string(rule.Kind),
		Priority:   rule.Priority,
		ConfigJSON: string(config),
	}
	if err := h.Store.SaveRule(r.Context(), record); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rule", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": record.ID})
}

// DeleteRule removes a rule.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeleteRule(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) toRuleDTO(rec sqlite.RuleRecord) (RuleDTO, error) {
	var config factory.RuleJSON
	if err := json.Unmarshal([]byte(rec.ConfigJSON), &config); err != nil {
		return RuleDTO{}, err
	}
	return RuleDTO{
		ID:        rec.ID,
		Name:      rec.Name,
		Kind:      rec.Kind,
		Priority:  rec.Priority,
		Config:    config,
		Version:   rec.Version,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
	}, nil
}

// =============================================================================
// EVALUATION HANDLERS
// =============================================================================

// EvaluateTransaction computes points for a purchase.
func (h *Handler) EvaluateTransaction(w http.ResponseWriter, r *http.Request) {
	var req EvaluateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	purchaseDate, err := time.Parse(time.RFC3339, req.PurchaseDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid purchase_date (use RFC 3339)", err)
		return
	}

	items := make([]earning.Item, len(req.Items))
	for i, it := range req.Items {
		value, err := decimal.NewFromString(it.Value)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid item value (use a decimal string)", err)
			return
		}
		labels := make([]earning.Label, len(it.Labels))
		for j, l := range it.Labels {
			labels[j] = earning.Label{Key: l.Key, Value: l.Value}
		}
		items[i] = earning.Item{SKU: it.SKU, Labels: labels, Quantity: it.Quantity, Value: value}
	}

	input, err := h.evaluationInput(r, req.Customer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load rules", err)
		return
	}

	result := h.Engine.EvaluateTransaction(input, earning.TransactionSnapshot{
		PurchaseDate: purchaseDate,
		POS:          req.POS,
		Items:        items,
		DeliverySKUs: req.DeliverySKUs,
	})

	writeJSON(w, http.StatusOK, EvaluationDTO{
		Total:      result.Total.String(),
		FiredRules: result.FiredRules,
	})
}

// EvaluateEvent computes points for a named (or custom) event.
func (h *Handler) EvaluateEvent(w http.ResponseWriter, r *http.Request) {
	req, input, at, ok := h.decodeEventRequest(w, r)
	if !ok {
		return
	}

	var result earning.Result
	if req.Custom {
		result = h.Engine.EvaluateCustomEvent(input, req.EventName, at)
	} else {
		result = h.Engine.EvaluateEvent(input, req.EventName, at)
	}

	writeJSON(w, http.StatusOK, EvaluationDTO{
		Total:      result.Total.String(),
		FiredRules: result.FiredRules,
	})
}

// EvaluateReferral computes independent referral payouts per bucket.
func (h *Handler) EvaluateReferral(w http.ResponseWriter, r *http.Request) {
	req, input, at, ok := h.decodeEventRequest(w, r)
	if !ok {
		return
	}

	awards := h.Engine.EvaluateReferralEvent(input, req.EventName, at)
	dtos := make([]ReferralAwardDTO, len(awards))
	for i, a := range awards {
		dtos[i] = ReferralAwardDTO{
			RewardType: string(a.RewardType),
			RuleName:   a.RuleName,
			Points:     a.Points.String(),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// EvaluateGeo returns an award per containing geofence.
func (h *Handler) EvaluateGeo(w http.ResponseWriter, r *http.Request) {
	req, input, at, ok := h.decodeEventRequest(w, r)
	if !ok {
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "latitude and longitude are required", nil)
		return
	}

	awards := h.Engine.EvaluateGeoEvent(input, *req.Latitude, *req.Longitude, at)
	dtos := make([]GeoAwardDTO, len(awards))
	for i, a := range awards {
		dtos[i] = GeoAwardDTO{RuleName: a.RuleName, Points: a.Points.String()}
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) decodeEventRequest(w http.ResponseWriter, r *http.Request) (EvaluateEventRequest, earning.Input, time.Time, bool) {
	var req EvaluateEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return req, earning.Input{}, time.Time{}, false
	}
	if req.EventName == "" {
		writeError(w, http.StatusBadRequest, "event_name is required", nil)
		return req, earning.Input{}, time.Time{}, false
	}

	at := time.Now().UTC()
	if req.At != "" {
		parsed, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid at (use RFC 3339)", err)
			return req, earning.Input{}, time.Time{}, false
		}
		at = parsed
	}

	input, err := h.evaluationInput(r, req.Customer)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load rules", err)
		return req, earning.Input{}, time.Time{}, false
	}
	return req, input, at, true
}

// evaluationInput snapshots the stored rules and customer membership for
// one evaluation call.
func (h *Handler) evaluationInput(r *http.Request, customer CustomerDTO) (earning.Input, error) {
	records, err := h.Store.ListRules(r.Context())
	if err != nil {
		return earning.Input{}, err
	}

	rules := make([]earning.Rule, 0, len(records))
	for _, rec := range records {
		rule, err := h.RuleFactory.ParseRule([]byte(rec.ConfigJSON))
		if err != nil {
			h.Logger.Warn("skipping unparsable rule record", zap.String("rule_id", rec.ID), zap.Error(err))
			continue
		}
		rules = append(rules, rule)
	}

	return earning.Input{
		Rules: rules,
		Customer: earning.Customer{
			ID:       ledger.CustomerID(customer.ID),
			Level:    customer.Level,
			Segments: customer.Segments,
			Status:   customer.Status,
			POS:      customer.POS,
		},
		EligibleStatuses: h.EligibleStatuses,
	}, nil
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

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

// writeDomainError maps ledger/rule errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, ledger.ErrTransferNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, ledger.ErrDuplicateTransfer), errors.Is(err, ledger.ErrAccountExists),
		errors.Is(err, ledger.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "Conflict", err)
	case errors.Is(err, ledger.ErrInvalidStateTransition):
		writeError(w, http.StatusUnprocessableEntity, "Invalid state transition", err)
	case errors.Is(err, ledger.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func optionalTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
