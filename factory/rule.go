/*
Package factory provides JSON to Go earning-rule conversion.

PURPOSE:
  Converts JSON rule definitions into earning.Rule values. Campaign
  operators author rules as JSON (stored as records in the rule store);
  the factory validates structure, applies defaults, and builds the
  tagged-union payload for the rule's kind.

JSON SCHEMA:
  {
    "id": "summer-flat",
    "name": "Summer flat rate",
    "kind": "flat_rate",
    "priority": 10,
    "window": {"all_time": false, "from": "2026-06-01T00:00:00Z", "to": "2026-08-31T23:59:59Z"},
    "audience": {"levels": ["gold"], "segments": [], "pos": []},
    "stoppable": true,
    "last_executed": false,
    "flat_rate": {
      "pointValue": "4",
      "excludedSkus": ["SKU-100"],
      "excludeDelivery": false,
      "minOrderValue": "0"
    }
  }

KEY FEATURES:
  - Validates JSON structure and rule payloads
  - Defaults: all-time window when none given, priority 0
  - Round-trips: SerializeRule emits JSON ParseRule accepts

SEE ALSO:
  - earning/rule.go: the Rule model and Validate
  - store/sqlite:    persisted rule records
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/loyalty-engine/earning"
	"github.com/warp/loyalty-engine/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// RuleJSON is the JSON representation of an earning rule.
type RuleJSON struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Kind         string        `json:"kind"`
	Priority     int           `json:"priority,omitempty"`
	Window       *WindowJSON   `json:"window,omitempty"`
	Audience     *AudienceJSON `json:"audience,omitempty"`
	Stoppable    bool          `json:"stoppable,omitempty"`
	LastExecuted bool          `json:"last_executed,omitempty"`

	FlatRate           *earning.FlatRateParams           `json:"flat_rate,omitempty"`
	PerProduct         *earning.PerProductParams         `json:"per_product,omitempty"`
	MultiplyForProduct *earning.MultiplyForProductParams `json:"multiply_for_product,omitempty"`
	MultiplyByLabels   *earning.MultiplyByLabelsParams   `json:"multiply_by_labels,omitempty"`
	Event              *earning.EventParams              `json:"event,omitempty"`
	CustomEvent        *earning.CustomEventParams        `json:"custom_event,omitempty"`
	Referral           *earning.ReferralParams           `json:"referral,omitempty"`
	Geo                *earning.GeoParams                `json:"geo,omitempty"`
}

// WindowJSON represents the activity window. RFC 3339 timestamps.
type WindowJSON struct {
	AllTime bool   `json:"all_time,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
}

// AudienceJSON represents the audience filter.
type AudienceJSON struct {
	Levels   []string `json:"levels,omitempty"`
	Segments []string `json:"segments,omitempty"`
	POS      []string `json:"pos,omitempty"`
}

// =============================================================================
// RULE FACTORY
// =============================================================================

// RuleFactory converts JSON rules to earning.Rule values.
type RuleFactory struct{}

// NewRuleFactory creates a new rule factory.
func NewRuleFactory() *RuleFactory {
	return &RuleFactory{}
}

// ParseRule converts a JSON document into a validated earning.Rule.
func (f *RuleFactory) ParseRule(data []byte) (earning.Rule, error) {
	var raw RuleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return earning.Rule{}, fmt.Errorf("parse rule: %w", err)
	}
	return f.FromJSON(raw)
}

// FromJSON builds a validated earning.Rule from the schema type.
func (f *RuleFactory) FromJSON(raw RuleJSON) (earning.Rule, error) {
	window, err := parseWindow(raw.Window)
	if err != nil {
		return earning.Rule{}, err
	}

	rule := earning.Rule{
		ID:           earning.RuleID(raw.ID),
		Name:         raw.Name,
		Kind:         earning.Kind(raw.Kind),
		Priority:     raw.Priority,
		Window:       window,
		Stoppable:    raw.Stoppable,
		LastExecuted: raw.LastExecuted,

		FlatRate:           raw.FlatRate,
		PerProduct:         raw.PerProduct,
		MultiplyForProduct: raw.MultiplyForProduct,
		MultiplyByLabels:   raw.MultiplyByLabels,
		Event:              raw.Event,
		CustomEvent:        raw.CustomEvent,
		Referral:           raw.Referral,
		Geo:                raw.Geo,
	}
	if raw.Audience != nil {
		rule.Audience = earning.Audience{
			Levels:   raw.Audience.Levels,
			Segments: raw.Audience.Segments,
			POS:      raw.Audience.POS,
		}
	}

	if err := rule.Validate(); err != nil {
		return earning.Rule{}, err
	}
	return rule, nil
}

// SerializeRule converts a rule back into the JSON schema form.
func (f *RuleFactory) SerializeRule(rule earning.Rule) ([]byte, error) {
	raw := RuleJSON{
		ID:           string(rule.ID),
		Name:         rule.Name,
		Kind:         string(rule.Kind),
		Priority:     rule.Priority,
		Stoppable:    rule.Stoppable,
		LastExecuted: rule.LastExecuted,

		FlatRate:           rule.FlatRate,
		PerProduct:         rule.PerProduct,
		MultiplyForProduct: rule.MultiplyForProduct,
		MultiplyByLabels:   rule.MultiplyByLabels,
		Event:              rule.Event,
		CustomEvent:        rule.CustomEvent,
		Referral:           rule.Referral,
		Geo:                rule.Geo,
	}
	raw.Window = &WindowJSON{AllTime: rule.Window.AllTime}
	if rule.Window.From != nil {
		raw.Window.From = rule.Window.From.Format(time.RFC3339)
	}
	if rule.Window.To != nil {
		raw.Window.To = rule.Window.To.Format(time.RFC3339)
	}
	if len(rule.Audience.Levels) > 0 || len(rule.Audience.Segments) > 0 || len(rule.Audience.POS) > 0 {
		raw.Audience = &AudienceJSON{
			Levels:   rule.Audience.Levels,
			Segments: rule.Audience.Segments,
			POS:      rule.Audience.POS,
		}
	}
	return json.Marshal(raw)
}

// parseWindow applies the all-time default when no window is given.
func parseWindow(raw *WindowJSON) (earning.Window, error) {
	if raw == nil {
		return earning.Window{AllTime: true}, nil
	}
	window := earning.Window{AllTime: raw.AllTime}
	if raw.From != "" {
		from, err := time.Parse(time.RFC3339, raw.From)
		if err != nil {
			return earning.Window{}, &ledger.ValidationError{Field: "window.from", Reason: "invalid RFC 3339 timestamp"}
		}
		window.From = &from
	}
	if raw.To != "" {
		to, err := time.Parse(time.RFC3339, raw.To)
		if err != nil {
			return earning.Window{}, &ledger.ValidationError{Field: "window.to", Reason: "invalid RFC 3339 timestamp"}
		}
		window.To = &to
	}
	if !window.AllTime && window.From == nil && window.To == nil {
		window.AllTime = true
	}
	return window, nil
}
