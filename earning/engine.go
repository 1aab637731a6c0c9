/*
engine.go - Rule evaluation engine

PURPOSE:
  Stateless, per-call evaluation of earning rules. The transaction pass
  selects candidate rules, orders them by priority, applies each
  algorithm against a shared context, and honors early termination. The
  event paths are single-shot: they pick winners rather than summing.

  All inputs (rules, customer membership, eligible statuses) are fetched
  by the caller before the call and treated as immutable for its
  duration. Many evaluations may run in parallel.

SEE ALSO:
  - algorithms.go: the per-kind formulas
  - context.go:    the per-call accumulator
*/
package earning

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine evaluates rules. It holds no per-call state.
type Engine struct {
	logger *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{logger: logger}
}

// Input carries everything one evaluation call needs. EligibleStatuses
// is the set of customer statuses allowed to earn points; it is passed
// explicitly rather than read from ambient configuration.
type Input struct {
	Rules            []Rule
	Customer         Customer
	EligibleStatuses []string
}

// Eligible reports whether the customer's status may earn points. An
// empty status list means everyone earns.
func (in Input) Eligible() bool {
	if len(in.EligibleStatuses) == 0 {
		return true
	}
	return contains(in.EligibleStatuses, in.Customer.Status)
}

// Result is the outcome of one evaluation pass.
type Result struct {
	Total      decimal.Decimal
	FiredRules []string
}

// =============================================================================
// TRANSACTION PASS
// =============================================================================

// EvaluateTransaction runs the full prioritized pass over the
// transaction rule kinds. It never errors: an ineligible customer or an
// empty candidate set yields a zero total.
func (e *Engine) EvaluateTransaction(in Input, tx TransactionSnapshot) Result {
	if !in.Eligible() {
		return Result{Total: decimal.Zero}
	}

	candidates := e.selectRules(in, tx.PurchaseDate, func(r Rule) bool {
		return r.IsTransactionKind()
	})
	orderByPriority(candidates)

	ctx := NewContext(tx)
	for _, rule := range candidates {
		algorithm, ok := algorithms[rule.Kind]
		if !ok {
			continue
		}
		fired := algorithm.Evaluate(ctx, rule)
		if !fired {
			continue
		}
		ctx.RecordFired(rule.Name)
		if rule.Stoppable && rule.LastExecuted {
			e.logger.Debug("rule evaluation stopped early",
				zap.String("rule_id", string(rule.ID)),
				zap.Int("priority", rule.Priority),
			)
			break
		}
	}

	return Result{Total: ctx.Total(), FiredRules: ctx.FiredRules()}
}

// selectRules filters by activity window, audience, and a kind filter.
func (e *Engine) selectRules(in Input, at time.Time, keep func(Rule) bool) []Rule {
	var out []Rule
	for _, rule := range in.Rules {
		if !keep(rule) {
			continue
		}
		if !rule.Window.Covers(at) {
			continue
		}
		if !rule.Audience.Matches(in.Customer) {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// orderByPriority sorts ascending, lower priority runs first. Ties break
// on rule ID so evaluation order is deterministic.
func orderByPriority(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority == rules[j].Priority {
			return rules[i].ID < rules[j].ID
		}
		return rules[i].Priority < rules[j].Priority
	})
}

// =============================================================================
// EVENT PATHS
// =============================================================================

// EvaluateEvent awards for a named system event: the single matching
// active rule with the highest point value wins. No summing.
func (e *Engine) EvaluateEvent(in Input, eventName string, at time.Time) Result {
	if !in.Eligible() {
		return Result{Total: decimal.Zero}
	}
	candidates := e.selectRules(in, at, func(r Rule) bool {
		return r.Kind == KindEvent && r.Event.EventName == eventName
	})
	best, ok := highest(candidates, func(r Rule) decimal.Decimal { return r.Event.PointsAmount })
	if !ok {
		return Result{Total: decimal.Zero}
	}
	return Result{Total: best.Event.PointsAmount.Round(2), FiredRules: []string{best.Name}}
}

// EvaluateCustomEvent is the campaign-defined analogue of EvaluateEvent.
func (e *Engine) EvaluateCustomEvent(in Input, eventName string, at time.Time) Result {
	if !in.Eligible() {
		return Result{Total: decimal.Zero}
	}
	candidates := e.selectRules(in, at, func(r Rule) bool {
		return r.Kind == KindCustomEvent && r.CustomEvent.EventName == eventName
	})
	best, ok := highest(candidates, func(r Rule) decimal.Decimal { return r.CustomEvent.PointsAmount })
	if !ok {
		return Result{Total: decimal.Zero}
	}
	return Result{Total: best.CustomEvent.PointsAmount.Round(2), FiredRules: []string{best.Name}}
}

// ReferralAward is one side of a referral payout.
type ReferralAward struct {
	RewardType ReferralRewardType
	RuleName   string
	Points     decimal.Decimal
}

// EvaluateReferralEvent picks the highest-value rule per reward-type
// bucket, since a referral can pay the referrer and the referred party
// independently. Rules with RewardBoth compete in both buckets.
func (e *Engine) EvaluateReferralEvent(in Input, eventName string, at time.Time) []ReferralAward {
	if !in.Eligible() {
		return nil
	}
	candidates := e.selectRules(in, at, func(r Rule) bool {
		return r.Kind == KindReferral && r.Referral.EventName == eventName
	})

	var awards []ReferralAward
	for _, bucket := range []ReferralRewardType{RewardReferrer, RewardReferred} {
		var inBucket []Rule
		for _, rule := range candidates {
			if rule.Referral.RewardType == bucket || rule.Referral.RewardType == RewardBoth {
				inBucket = append(inBucket, rule)
			}
		}
		best, ok := highest(inBucket, func(r Rule) decimal.Decimal { return r.Referral.PointsAmount })
		if !ok {
			continue
		}
		awards = append(awards, ReferralAward{
			RewardType: bucket,
			RuleName:   best.Name,
			Points:     best.Referral.PointsAmount.Round(2),
		})
	}
	return awards
}

// GeoAward is one geofence hit.
type GeoAward struct {
	RuleName string
	Points   decimal.Decimal
}

// EvaluateGeoEvent returns an award for every active rule whose
// geofence contains the coordinates. Awards are independent, not summed
// into one total; the caller books each separately.
func (e *Engine) EvaluateGeoEvent(in Input, lat, lon float64, at time.Time) []GeoAward {
	if !in.Eligible() {
		return nil
	}
	candidates := e.selectRules(in, at, func(r Rule) bool {
		return r.Kind == KindGeo
	})

	var awards []GeoAward
	for _, rule := range candidates {
		distance := haversineMeters(rule.Geo.Latitude, rule.Geo.Longitude, lat, lon)
		if distance > rule.Geo.RadiusMeters {
			continue
		}
		awards = append(awards, GeoAward{RuleName: rule.Name, Points: rule.Geo.PointsAmount.Round(2)})
	}
	return awards
}

// highest returns the rule with the largest score. Ties break on rule
// ID for determinism.
func highest(rules []Rule, score func(Rule) decimal.Decimal) (Rule, bool) {
	var best Rule
	found := false
	for _, rule := range rules {
		if !found || score(rule).GreaterThan(score(best)) ||
			(score(rule).Equal(score(best)) && rule.ID < best.ID) {
			best = rule
			found = true
		}
	}
	return best, found
}

const earthRadiusMeters = 6371000

// haversineMeters is the great-circle distance between two coordinates.
func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}
