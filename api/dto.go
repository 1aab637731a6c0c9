/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON type
*/
package api

import (
	"github.com/warp/loyalty-engine/factory"
)

// =============================================================================
// ACCOUNT TYPES
// =============================================================================

// CreateAccountRequest opens a points account for a customer.
type CreateAccountRequest struct {
	AccountID  string `json:"account_id"`
	CustomerID string `json:"customer_id"`
}

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	AccountID  string `json:"account_id"`
	CustomerID string `json:"customer_id"`
}

// BalanceDTO is the balance summary for one account.
type BalanceDTO struct {
	AccountID   string `json:"account_id"`
	CustomerID  string `json:"customer_id"`
	Available   string `json:"available"`
	Earned      string `json:"earned"`
	EarnedToday string `json:"earned_today"`
	Used        string `json:"used"`
	Expired     string `json:"expired"`
	Locked      string `json:"locked"`
	LastResetAt string `json:"last_reset_at,omitempty"`
}

// =============================================================================
// TRANSFER TYPES
// =============================================================================

// AddPointsRequest credits points to an account.
type AddPointsRequest struct {
	TransferID    string `json:"transfer_id,omitempty"`
	Value         string `json:"value"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	LockedUntil   string `json:"locked_until,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	Comment       string `json:"comment,omitempty"`
	Issuer        string `json:"issuer,omitempty"`
}

// SpendPointsRequest debits points from an account.
type SpendPointsRequest struct {
	TransferID           string `json:"transfer_id,omitempty"`
	Value                string `json:"value"`
	TransactionID        string `json:"transaction_id,omitempty"`
	RevisedTransactionID string `json:"revised_transaction_id,omitempty"`
	Comment              string `json:"comment,omitempty"`
	Issuer               string `json:"issuer,omitempty"`
}

// TransferDTO represents a transfer view row in API responses.
type TransferDTO struct {
	TransferID    string `json:"transfer_id"`
	AccountID     string `json:"account_id"`
	Type          string `json:"type"`
	State         string `json:"state"`
	Value         string `json:"value"`
	Comment       string `json:"comment,omitempty"`
	Issuer        string `json:"issuer,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	CreatedAt     string `json:"created_at"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	LockedUntil   string `json:"locked_until,omitempty"`
}

// =============================================================================
// RULE TYPES
// =============================================================================

// RuleDTO represents an earning rule in API responses.
type RuleDTO struct {
	ID        string           `json:"id"`
	Name      string           `json:"name"`
	Kind      string           `json:"kind"`
	Priority  int              `json:"priority"`
	Config    factory.RuleJSON `json:"config"`
	Version   int              `json:"version"`
	CreatedAt string           `json:"created_at,omitempty"`
}

// =============================================================================
// EVALUATION TYPES
// =============================================================================

// CustomerDTO is the audience snapshot sent with evaluation requests.
type CustomerDTO struct {
	ID       string   `json:"id"`
	Level    string   `json:"level,omitempty"`
	Segments []string `json:"segments,omitempty"`
	Status   string   `json:"status,omitempty"`
	POS      string   `json:"pos,omitempty"`
}

// ItemDTO is one purchased line item.
type ItemDTO struct {
	SKU      string     `json:"sku"`
	Labels   []LabelDTO `json:"labels,omitempty"`
	Quantity int        `json:"quantity"`
	Value    string     `json:"value"`
}

// LabelDTO is a key/value tag on a line item.
type LabelDTO struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// EvaluateTransactionRequest asks for points on a purchase.
type EvaluateTransactionRequest struct {
	Customer     CustomerDTO `json:"customer"`
	PurchaseDate string      `json:"purchase_date"`
	POS          string      `json:"pos,omitempty"`
	Items        []ItemDTO   `json:"items"`
	DeliverySKUs []string    `json:"delivery_skus,omitempty"`
}

// EvaluateEventRequest asks for points on a named event.
type EvaluateEventRequest struct {
	Customer  CustomerDTO `json:"customer"`
	EventName string      `json:"event_name"`
	Custom    bool        `json:"custom,omitempty"`
	At        string      `json:"at,omitempty"`
	Latitude  *float64    `json:"latitude,omitempty"`
	Longitude *float64    `json:"longitude,omitempty"`
}

// EvaluationDTO is the engine's answer.
type EvaluationDTO struct {
	Total      string   `json:"total"`
	FiredRules []string `json:"fired_rules,omitempty"`
}

// ReferralAwardDTO is one side of a referral payout.
type ReferralAwardDTO struct {
	RewardType string `json:"reward_type"`
	RuleName   string `json:"rule_name"`
	Points     string `json:"points"`
}

// GeoAwardDTO is one geofence hit.
type GeoAwardDTO struct {
	RuleName string `json:"rule_name"`
	Points   string `json:"points"`
}

// =============================================================================
// COMMON
// =============================================================================

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
