/*
rule.go - Earning rule model

PURPOSE:
  Defines the configured earning rule: a kind tag, a per-kind parameter
  payload, a priority weight, an activity window, an audience filter, and
  the early-termination flags. Rules are authored by the campaign side
  and are read-only inputs to the engine.

VALIDATION:
  Structural problems are rejected at construction/authoring time via
  Validate. Evaluation itself never errors on "nothing matched".

SEE ALSO:
  - algorithms.go: the per-kind point formulas
  - engine.go:     selection, ordering, early termination
  - factory/rule.go: JSON config -> Rule
*/
package earning

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// RULE KINDS
// =============================================================================

// RuleID identifies a configured rule.
type RuleID string

// Kind tags the rule's algorithm. Each kind has exactly one parameter
// payload field on Rule; the engine dispatches through a lookup table.
type Kind string

const (
	KindFlatRate           Kind = "flat_rate"
	KindPerProduct         Kind = "per_product"
	KindMultiplyForProduct Kind = "multiply_for_product"
	KindMultiplyByLabels   Kind = "multiply_by_labels"
	KindEvent              Kind = "event"
	KindCustomEvent        Kind = "custom_event"
	KindReferral           Kind = "referral"
	KindGeo                Kind = "geo"
)

// transactionKinds are evaluated during the transaction pass; the rest
// go through the single-shot event paths.
var transactionKinds = map[Kind]bool{
	KindFlatRate:           true,
	KindPerProduct:         true,
	KindMultiplyForProduct: true,
	KindMultiplyByLabels:   true,
}

// =============================================================================
// PARAMETER PAYLOADS
// =============================================================================

// Label is a key/value tag on a line item.
type Label struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FlatRateParams awards pointValue * itemValue per matched item.
type FlatRateParams struct {
	PointValue      decimal.Decimal `json:"pointValue"`
	ExcludedSKUs    []string        `json:"excludedSkus,omitempty"`
	ExcludedLabels  []Label         `json:"excludedLabels,omitempty"`
	ExcludeDelivery bool            `json:"excludeDelivery,omitempty"`
	MinOrderValue   decimal.Decimal `json:"minOrderValue,omitempty"`
}

// PerProductParams awards a fixed amount once if any item SKU matches.
type PerProductParams struct {
	PointsAmount decimal.Decimal `json:"pointsAmount"`
	SKUs         []string        `json:"skus"`
}

// MultiplyForProductParams scales the points already accumulated for
// items matched by SKU or by label.
type MultiplyForProductParams struct {
	Multiplier decimal.Decimal `json:"multiplier"`
	SKUs       []string        `json:"skus,omitempty"`
	Labels     []Label         `json:"labels,omitempty"`
}

// LabelMultiplier binds one (key, value) pair to a multiplier.
type LabelMultiplier struct {
	Key        string          `json:"key"`
	Value      string          `json:"value"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

// MultiplyByLabelsParams scales per-item points by a label lookup table.
// An item matching several entries composes them multiplicatively.
type MultiplyByLabelsParams struct {
	Multipliers []LabelMultiplier `json:"multipliers"`
}

// EventParams awards a fixed amount when a named system event fires.
type EventParams struct {
	EventName    string          `json:"eventName"`
	PointsAmount decimal.Decimal `json:"pointsAmount"`
}

// CustomEventParams awards a fixed amount for a campaign-defined event.
type CustomEventParams struct {
	EventName    string          `json:"eventName"`
	PointsAmount decimal.Decimal `json:"pointsAmount"`
}

// ReferralRewardType selects who a referral rule pays out to.
type ReferralRewardType string

const (
	RewardReferrer ReferralRewardType = "referrer"
	RewardReferred ReferralRewardType = "referred"
	RewardBoth     ReferralRewardType = "both"
)

// ReferralParams awards on a referral event, bucketed by reward type.
type ReferralParams struct {
	EventName    string             `json:"eventName"`
	RewardType   ReferralRewardType `json:"rewardType"`
	PointsAmount decimal.Decimal    `json:"pointsAmount"`
}

// GeoParams awards when supplied coordinates fall inside the fence.
type GeoParams struct {
	Latitude     float64         `json:"latitude"`
	Longitude    float64         `json:"longitude"`
	RadiusMeters float64         `json:"radiusMeters"`
	PointsAmount decimal.Decimal `json:"pointsAmount"`
}

// =============================================================================
// WINDOW AND AUDIENCE
// =============================================================================

// Window is the rule's activity period. AllTime rules ignore the range.
type Window struct {
	AllTime bool       `json:"allTime"`
	From    *time.Time `json:"from,omitempty"`
	To      *time.Time `json:"to,omitempty"`
}

// Covers reports whether the window is active at the given instant.
func (w Window) Covers(at time.Time) bool {
	if w.AllTime {
		return true
	}
	if w.From != nil && at.Before(*w.From) {
		return false
	}
	if w.To != nil && at.After(*w.To) {
		return false
	}
	return true
}

// Audience restricts a rule to customer levels, segments, or points of
// sale. Empty slices mean "no restriction" on that dimension.
type Audience struct {
	Levels   []string `json:"levels,omitempty"`
	Segments []string `json:"segments,omitempty"`
	POS      []string `json:"pos,omitempty"`
}

// Matches checks the customer against every configured dimension.
func (a Audience) Matches(c Customer) bool {
	if len(a.Levels) > 0 && !contains(a.Levels, c.Level) {
		return false
	}
	if len(a.POS) > 0 && !contains(a.POS, c.POS) {
		return false
	}
	if len(a.Segments) > 0 && !intersects(a.Segments, c.Segments) {
		return false
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func intersects(a, b []string) bool {
	for _, s := range b {
		if contains(a, s) {
			return true
		}
	}
	return false
}

// =============================================================================
// CUSTOMER
// =============================================================================

// Customer is the audience snapshot the caller fetched for this call.
type Customer struct {
	ID       ledger.CustomerID
	Level    string
	Segments []string
	Status   string
	POS      string
}

// =============================================================================
// RULE
// =============================================================================

// Rule is one configured earning rule. Exactly one params payload is
// set, matching Kind.
type Rule struct {
	ID       RuleID
	Name     string
	Kind     Kind
	Priority int
	Window   Window
	Audience Audience

	// Stoppable && LastExecuted: if this rule fires, evaluation stops.
	Stoppable    bool
	LastExecuted bool

	FlatRate           *FlatRateParams
	PerProduct         *PerProductParams
	MultiplyForProduct *MultiplyForProductParams
	MultiplyByLabels   *MultiplyByLabelsParams
	Event              *EventParams
	CustomEvent        *CustomEventParams
	Referral           *ReferralParams
	Geo                *GeoParams
}

// IsTransactionKind reports whether the rule runs in the transaction
// pass (as opposed to the single-shot event paths).
func (r Rule) IsTransactionKind() bool { return transactionKinds[r.Kind] }

// Validate rejects structurally invalid rules at authoring time.
func (r Rule) Validate() error {
	if r.ID == "" {
		return &ledger.ValidationError{Field: "id", Reason: "required"}
	}
	if !r.Window.AllTime && r.Window.From != nil && r.Window.To != nil && r.Window.To.Before(*r.Window.From) {
		return &ledger.ValidationError{Field: "window", Reason: "to precedes from"}
	}
	switch r.Kind {
	case KindFlatRate:
		if r.FlatRate == nil {
			return missingParams(r.Kind)
		}
		if r.FlatRate.PointValue.IsNegative() {
			return &ledger.ValidationError{Field: "pointValue", Reason: "must be non-negative"}
		}
	case KindPerProduct:
		if r.PerProduct == nil {
			return missingParams(r.Kind)
		}
		if len(r.PerProduct.SKUs) == 0 {
			return &ledger.ValidationError{Field: "skus", Reason: "at least one required"}
		}
	case KindMultiplyForProduct:
		if r.MultiplyForProduct == nil {
			return missingParams(r.Kind)
		}
		if len(r.MultiplyForProduct.SKUs) == 0 && len(r.MultiplyForProduct.Labels) == 0 {
			return &ledger.ValidationError{Field: "skus", Reason: "skus or labels required"}
		}
	case KindMultiplyByLabels:
		if r.MultiplyByLabels == nil {
			return missingParams(r.Kind)
		}
		if len(r.MultiplyByLabels.Multipliers) == 0 {
			return &ledger.ValidationError{Field: "multipliers", Reason: "at least one required"}
		}
	case KindEvent:
		if r.Event == nil {
			return missingParams(r.Kind)
		}
		if r.Event.EventName == "" {
			return &ledger.ValidationError{Field: "eventName", Reason: "required"}
		}
	case KindCustomEvent:
		if r.CustomEvent == nil {
			return missingParams(r.Kind)
		}
		if r.CustomEvent.EventName == "" {
			return &ledger.ValidationError{Field: "eventName", Reason: "required"}
		}
	case KindReferral:
		if r.Referral == nil {
			return missingParams(r.Kind)
		}
		switch r.Referral.RewardType {
		case RewardReferrer, RewardReferred, RewardBoth:
		default:
			return &ledger.ValidationError{Field: "rewardType", Reason: "unknown reward type"}
		}
	case KindGeo:
		if r.Geo == nil {
			return missingParams(r.Kind)
		}
		if r.Geo.RadiusMeters <= 0 {
			return &ledger.ValidationError{Field: "radiusMeters", Reason: "must be positive"}
		}
	default:
		return &ledger.ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", r.Kind)}
	}
	return nil
}

func missingParams(kind Kind) error {
	return &ledger.ValidationError{Field: string(kind), Reason: "missing parameter payload"}
}
