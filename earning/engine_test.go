package earning_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/loyalty-engine/earning"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var evalAt = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func member() earning.Customer {
	return earning.Customer{ID: "cust-1", Level: "gold", Segments: []string{"coffee-lovers"}, Status: "active", POS: "web"}
}

func input(rules ...earning.Rule) earning.Input {
	return earning.Input{Rules: rules, Customer: member(), EligibleStatuses: []string{"active"}}
}

// groceries is the three-item basket used across the transaction tests:
// values 12 + 100 + 40.
func groceries() earning.TransactionSnapshot {
	return earning.TransactionSnapshot{
		PurchaseDate: evalAt,
		POS:          "web",
		Items: []earning.Item{
			{SKU: "SKU-1", Value: dec("12"), Quantity: 1, Labels: []earning.Label{{Key: "category", Value: "snacks"}}},
			{SKU: "SKU-100", Value: dec("100"), Quantity: 2, Labels: []earning.Label{{Key: "category", Value: "coffee"}}},
			{SKU: "SKU-7", Value: dec("40"), Quantity: 1, Labels: []earning.Label{{Key: "category", Value: "coffee"}}},
		},
	}
}

func flatRule(id string, pointValue string) earning.Rule {
	return earning.Rule{
		ID:       earning.RuleID(id),
		Name:     "flat " + id,
		Kind:     earning.KindFlatRate,
		Window:   earning.Window{AllTime: true},
		FlatRate: &earning.FlatRateParams{PointValue: dec(pointValue)},
	}
}

// =============================================================================
// FLAT RATE
// =============================================================================

func TestEvaluateTransaction_FlatRate(t *testing.T) {
	// GIVEN a flat rule paying 4 points per currency unit
	// WHEN a 152-value basket is evaluated
	// THEN every item earns value * 4
	engine := earning.NewEngine(nil)

	result := engine.EvaluateTransaction(input(flatRule("r1", "4")), groceries())

	assert.True(t, result.Total.Equal(dec("608")), "got %s", result.Total)
	assert.Equal(t, []string{"flat r1"}, result.FiredRules)
}

func TestEvaluateTransaction_FlatRate_ExcludedSKU(t *testing.T) {
	// Excluding SKU-100 leaves 12 + 40 = 52 eligible value.
	engine := earning.NewEngine(nil)
	rule := flatRule("r1", "4")
	rule.FlatRate.ExcludedSKUs = []string{"SKU-100"}

	result := engine.EvaluateTransaction(input(rule), groceries())

	assert.True(t, result.Total.Equal(dec("208")), "got %s", result.Total)
}

func TestEvaluateTransaction_FlatRate_ExcludedLabel(t *testing.T) {
	engine := earning.NewEngine(nil)
	rule := flatRule("r1", "4")
	rule.FlatRate.ExcludedLabels = []earning.Label{{Key: "category", Value: "coffee"}}

	result := engine.EvaluateTransaction(input(rule), groceries())

	// Only the snacks item remains: 12 * 4.
	assert.True(t, result.Total.Equal(dec("48")), "got %s", result.Total)
}

func TestEvaluateTransaction_FlatRate_ExcludeDelivery(t *testing.T) {
	engine := earning.NewEngine(nil)
	tx := groceries()
	tx.DeliverySKUs = []string{"SKU-7"}
	rule := flatRule("r1", "4")
	rule.FlatRate.ExcludeDelivery = true

	result := engine.EvaluateTransaction(input(rule), tx)

	assert.True(t, result.Total.Equal(dec("448")), "got %s", result.Total)
}

func TestEvaluateTransaction_FlatRate_BelowMinOrderValue(t *testing.T) {
	// The minimum applies to the matched value, after exclusions.
	engine := earning.NewEngine(nil)
	rule := flatRule("r1", "4")
	rule.FlatRate.ExcludedSKUs = []string{"SKU-100"}
	rule.FlatRate.MinOrderValue = dec("60")

	result := engine.EvaluateTransaction(input(rule), groceries())

	assert.True(t, result.Total.IsZero())
	assert.Empty(t, result.FiredRules)
}

// =============================================================================
// OTHER TRANSACTION KINDS
// =============================================================================

func TestEvaluateTransaction_PerProduct_AwardsOnce(t *testing.T) {
	// GIVEN a per-product bonus on two SKUs both present in the basket
	// THEN the fixed amount is paid once, not per match
	engine := earning.NewEngine(nil)
	rule := earning.Rule{
		ID:         "bonus",
		Name:       "coffee bonus",
		Kind:       earning.KindPerProduct,
		Window:     earning.Window{AllTime: true},
		PerProduct: &earning.PerProductParams{PointsAmount: dec("25"), SKUs: []string{"SKU-100", "SKU-7"}},
	}

	result := engine.EvaluateTransaction(input(rule), groceries())

	assert.True(t, result.Total.Equal(dec("25")), "got %s", result.Total)
}

func TestEvaluateTransaction_MultiplyForProduct_ScalesEarlierPoints(t *testing.T) {
	// GIVEN a flat rule at priority 1 and a x3 multiplier on SKU-100 at
	// priority 2
	// THEN only SKU-100's bucket triples: 48 + 1200 + 160
	engine := earning.NewEngine(nil)
	flat := flatRule("r1", "4")
	flat.Priority = 1
	multiply := earning.Rule{
		ID:                 "r2",
		Name:               "triple coffee",
		Kind:               earning.KindMultiplyForProduct,
		Priority:           2,
		Window:             earning.Window{AllTime: true},
		MultiplyForProduct: &earning.MultiplyForProductParams{Multiplier: dec("3"), SKUs: []string{"SKU-100"}},
	}

	result := engine.EvaluateTransaction(input(flat, multiply), groceries())

	assert.True(t, result.Total.Equal(dec("1408")), "got %s", result.Total)
	assert.Equal(t, []string{"flat r1", "triple coffee"}, result.FiredRules)
}

func TestEvaluateTransaction_MultiplyForProduct_NothingToScale(t *testing.T) {
	// Without prior contributions the multiplier has nothing to scale and
	// does not count as fired.
	engine := earning.NewEngine(nil)
	multiply := earning.Rule{
		ID:                 "r2",
		Name:               "triple coffee",
		Kind:               earning.KindMultiplyForProduct,
		Window:             earning.Window{AllTime: true},
		MultiplyForProduct: &earning.MultiplyForProductParams{Multiplier: dec("3"), SKUs: []string{"SKU-100"}},
	}

	result := engine.EvaluateTransaction(input(multiply), groceries())

	assert.True(t, result.Total.IsZero())
	assert.Empty(t, result.FiredRules)
}

func TestEvaluateTransaction_MultiplyByLabels_ComposesMultiplicatively(t *testing.T) {
	// GIVEN an item carrying two configured labels (x2 and x3)
	// THEN its bucket scales by 6
	engine := earning.NewEngine(nil)
	tx := earning.TransactionSnapshot{
		PurchaseDate: evalAt,
		Items: []earning.Item{
			{SKU: "SKU-1", Value: dec("10"), Quantity: 1, Labels: []earning.Label{
				{Key: "category", Value: "coffee"},
				{Key: "promo", Value: "weekend"},
			}},
		},
	}
	flat := flatRule("r1", "1")
	flat.Priority = 1
	labels := earning.Rule{
		ID:       "r2",
		Name:     "label boost",
		Kind:     earning.KindMultiplyByLabels,
		Priority: 2,
		Window:   earning.Window{AllTime: true},
		MultiplyByLabels: &earning.MultiplyByLabelsParams{Multipliers: []earning.LabelMultiplier{
			{Key: "category", Value: "coffee", Multiplier: dec("2")},
			{Key: "promo", Value: "weekend", Multiplier: dec("3")},
		}},
	}

	result := engine.EvaluateTransaction(input(flat, labels), tx)

	assert.True(t, result.Total.Equal(dec("60")), "got %s", result.Total)
}

// =============================================================================
// ORDERING AND TERMINATION
// =============================================================================

func TestEvaluateTransaction_PriorityOrdersExecution(t *testing.T) {
	// The multiplier must see the flat rule's contribution even when the
	// rules arrive out of order.
	engine := earning.NewEngine(nil)
	multiply := earning.Rule{
		ID:                 "r2",
		Name:               "triple",
		Kind:               earning.KindMultiplyForProduct,
		Priority:           2,
		Window:             earning.Window{AllTime: true},
		MultiplyForProduct: &earning.MultiplyForProductParams{Multiplier: dec("3"), SKUs: []string{"SKU-1"}},
	}
	flat := flatRule("r1", "1")
	flat.Priority = 1

	result := engine.EvaluateTransaction(input(multiply, flat), groceries())

	// 12*3 + 100 + 40
	assert.True(t, result.Total.Equal(dec("176")), "got %s", result.Total)
}

func TestEvaluateTransaction_StoppableLastExecutedStopsEvaluation(t *testing.T) {
	// GIVEN a stoppable last-executed rule at priority 1 that fires
	// THEN the priority-2 rule never contributes
	engine := earning.NewEngine(nil)
	first := flatRule("r1", "1")
	first.Priority = 1
	first.Stoppable = true
	first.LastExecuted = true
	second := flatRule("r2", "10")
	second.Priority = 2

	result := engine.EvaluateTransaction(input(first, second), groceries())

	assert.True(t, result.Total.Equal(dec("152")), "got %s", result.Total)
	assert.Equal(t, []string{"flat r1"}, result.FiredRules)
}

func TestEvaluateTransaction_StoppableRuleThatDoesNotFireDoesNotStop(t *testing.T) {
	engine := earning.NewEngine(nil)
	first := flatRule("r1", "1")
	first.Priority = 1
	first.Stoppable = true
	first.LastExecuted = true
	first.FlatRate.MinOrderValue = dec("1000") // never fires
	second := flatRule("r2", "2")
	second.Priority = 2

	result := engine.EvaluateTransaction(input(first, second), groceries())

	assert.True(t, result.Total.Equal(dec("304")), "got %s", result.Total)
	assert.Equal(t, []string{"flat r2"}, result.FiredRules)
}

// =============================================================================
// SELECTION
// =============================================================================

func TestEvaluateTransaction_IneligibleStatusEarnsNothing(t *testing.T) {
	engine := earning.NewEngine(nil)
	in := input(flatRule("r1", "4"))
	in.Customer.Status = "suspended"

	result := engine.EvaluateTransaction(in, groceries())

	assert.True(t, result.Total.IsZero())
}

func TestEvaluateTransaction_EmptyStatusListMeansEveryoneEarns(t *testing.T) {
	engine := earning.NewEngine(nil)
	in := input(flatRule("r1", "4"))
	in.Customer.Status = "suspended"
	in.EligibleStatuses = nil

	result := engine.EvaluateTransaction(in, groceries())

	assert.True(t, result.Total.Equal(dec("608")))
}

func TestEvaluateTransaction_WindowFiltersRules(t *testing.T) {
	engine := earning.NewEngine(nil)
	past := evalAt.Add(-48 * time.Hour)
	expired := flatRule("r1", "4")
	expired.Window = earning.Window{From: &past, To: &past}

	result := engine.EvaluateTransaction(input(expired), groceries())

	assert.True(t, result.Total.IsZero())
}

func TestEvaluateTransaction_AudienceFiltersRules(t *testing.T) {
	engine := earning.NewEngine(nil)
	vipOnly := flatRule("r1", "4")
	vipOnly.Audience = earning.Audience{Levels: []string{"platinum"}}
	forGold := flatRule("r2", "1")
	forGold.Audience = earning.Audience{Levels: []string{"gold"}}

	result := engine.EvaluateTransaction(input(vipOnly, forGold), groceries())

	assert.True(t, result.Total.Equal(dec("152")), "got %s", result.Total)
	assert.Equal(t, []string{"flat r2"}, result.FiredRules)
}

// =============================================================================
// EVENT PATHS
// =============================================================================

func eventRule(id, name string, points string) earning.Rule {
	return earning.Rule{
		ID:     earning.RuleID(id),
		Name:   name,
		Kind:   earning.KindEvent,
		Window: earning.Window{AllTime: true},
		Event:  &earning.EventParams{EventName: "signup", PointsAmount: dec(points)},
	}
}

func TestEvaluateEvent_HighestValueWins(t *testing.T) {
	// Two rules match the same event: the bigger payout wins, amounts
	// are never summed.
	engine := earning.NewEngine(nil)

	result := engine.EvaluateEvent(
		input(eventRule("r1", "small signup", "10"), eventRule("r2", "big signup", "50")),
		"signup", evalAt)

	assert.True(t, result.Total.Equal(dec("50")))
	assert.Equal(t, []string{"big signup"}, result.FiredRules)
}

func TestEvaluateEvent_NoMatchingRule(t *testing.T) {
	engine := earning.NewEngine(nil)

	result := engine.EvaluateEvent(input(eventRule("r1", "signup", "10")), "birthday", evalAt)

	assert.True(t, result.Total.IsZero())
	assert.Empty(t, result.FiredRules)
}

func TestEvaluateCustomEvent_HighestValueWins(t *testing.T) {
	engine := earning.NewEngine(nil)
	rule := func(id, points string) earning.Rule {
		return earning.Rule{
			ID:          earning.RuleID(id),
			Name:        id,
			Kind:        earning.KindCustomEvent,
			Window:      earning.Window{AllTime: true},
			CustomEvent: &earning.CustomEventParams{EventName: "app_review", PointsAmount: dec(points)},
		}
	}

	result := engine.EvaluateCustomEvent(input(rule("r1", "5"), rule("r2", "15")), "app_review", evalAt)

	assert.True(t, result.Total.Equal(dec("15")))
}

func TestEvaluateReferralEvent_HighestPerBucket(t *testing.T) {
	// GIVEN referrer rules of 100 and 40, and a RewardBoth rule of 60
	// THEN referrer gets 100 (highest in its bucket) and referred gets 60
	// (the both-rule competes in both buckets)
	engine := earning.NewEngine(nil)
	rule := func(id string, rt earning.ReferralRewardType, points string) earning.Rule {
		return earning.Rule{
			ID:       earning.RuleID(id),
			Name:     id,
			Kind:     earning.KindReferral,
			Window:   earning.Window{AllTime: true},
			Referral: &earning.ReferralParams{EventName: "referral_completed", RewardType: rt, PointsAmount: dec(points)},
		}
	}

	awards := engine.EvaluateReferralEvent(
		input(
			rule("r1", earning.RewardReferrer, "100"),
			rule("r2", earning.RewardReferrer, "40"),
			rule("r3", earning.RewardBoth, "60"),
		),
		"referral_completed", evalAt)

	assert.Len(t, awards, 2)
	assert.Equal(t, earning.RewardReferrer, awards[0].RewardType)
	assert.True(t, awards[0].Points.Equal(dec("100")))
	assert.Equal(t, earning.RewardReferred, awards[1].RewardType)
	assert.True(t, awards[1].Points.Equal(dec("60")))
	assert.Equal(t, "r3", awards[1].RuleName)
}

func TestEvaluateGeoEvent_EveryContainingFenceAwards(t *testing.T) {
	// Two overlapping fences around the point award independently; a
	// distant fence does not.
	engine := earning.NewEngine(nil)
	fence := func(id string, lat, lon, radius float64, points string) earning.Rule {
		return earning.Rule{
			ID:     earning.RuleID(id),
			Name:   id,
			Kind:   earning.KindGeo,
			Window: earning.Window{AllTime: true},
			Geo:    &earning.GeoParams{Latitude: lat, Longitude: lon, RadiusMeters: radius, PointsAmount: dec(points)},
		}
	}

	awards := engine.EvaluateGeoEvent(
		input(
			fence("store", 48.8566, 2.3522, 500, "10"),  // at the point
			fence("district", 48.8600, 2.3522, 1000, "5"), // ~380m north
			fence("faraway", 40.7128, -74.0060, 500, "99"),
		),
		48.8566, 2.3522, evalAt)

	assert.Len(t, awards, 2)
	assert.Equal(t, "store", awards[0].RuleName)
	assert.Equal(t, "district", awards[1].RuleName)
}

func TestEvaluateGeoEvent_OutsideAllFences(t *testing.T) {
	engine := earning.NewEngine(nil)
	rule := earning.Rule{
		ID:     "store",
		Name:   "store",
		Kind:   earning.KindGeo,
		Window: earning.Window{AllTime: true},
		Geo:    &earning.GeoParams{Latitude: 48.8566, Longitude: 2.3522, RadiusMeters: 100, PointsAmount: dec("10")},
	}

	awards := engine.EvaluateGeoEvent(input(rule), 48.8700, 2.3522, evalAt)

	assert.Empty(t, awards)
}
