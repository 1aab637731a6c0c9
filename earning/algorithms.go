/*
algorithms.go - Per-kind point formulas

PURPOSE:
  One Algorithm per transaction rule kind, dispatched through a lookup
  table keyed by Kind. An algorithm reports whether it fired (contributed
  a non-zero amount) and mutates the shared evaluation context.

SEE ALSO:
  - rule.go:   parameter payloads per kind
  - engine.go: ordering and the event evaluation paths
*/
package earning

import (
	"github.com/shopspring/decimal"
)

// Algorithm computes one rule kind's contribution against the context.
type Algorithm interface {
	Evaluate(ctx *Context, rule Rule) bool
}

// algorithms maps transaction rule kinds to their implementations.
var algorithms = map[Kind]Algorithm{
	KindFlatRate:           flatRateAlgorithm{},
	KindPerProduct:         perProductAlgorithm{},
	KindMultiplyForProduct: multiplyForProductAlgorithm{},
	KindMultiplyByLabels:   multiplyByLabelsAlgorithm{},
}

// =============================================================================
// FLAT RATE
// =============================================================================

// flatRateAlgorithm awards pointValue * itemValue on every matched item,
// skipping excluded SKUs/labels and optionally delivery items, and bails
// out entirely if the matched order value is below the minimum.
type flatRateAlgorithm struct{}

func (flatRateAlgorithm) Evaluate(ctx *Context, rule Rule) bool {
	params := rule.FlatRate

	matched := make([]int, 0, len(ctx.Transaction.Items))
	matchedValue := decimal.Zero
	for i, item := range ctx.Transaction.Items {
		if params.ExcludeDelivery && ctx.Transaction.IsDelivery(item) {
			continue
		}
		if contains(params.ExcludedSKUs, item.SKU) {
			continue
		}
		if hasAnyLabel(item, params.ExcludedLabels) {
			continue
		}
		matched = append(matched, i)
		matchedValue = matchedValue.Add(item.Value)
	}

	if matchedValue.LessThan(params.MinOrderValue) {
		return false
	}

	fired := false
	for _, i := range matched {
		points := params.PointValue.Mul(ctx.Transaction.Items[i].Value)
		if points.IsZero() {
			continue
		}
		ctx.AddItemPoints(i, points)
		fired = true
	}
	return fired
}

func hasAnyLabel(item Item, labels []Label) bool {
	for _, l := range labels {
		if item.HasLabel(l.Key, l.Value) {
			return true
		}
	}
	return false
}

// =============================================================================
// PER PRODUCT
// =============================================================================

// perProductAlgorithm awards a fixed amount once if any line item's SKU
// is configured, regardless of quantity or value.
type perProductAlgorithm struct{}

func (perProductAlgorithm) Evaluate(ctx *Context, rule Rule) bool {
	params := rule.PerProduct
	for _, item := range ctx.Transaction.Items {
		if contains(params.SKUs, item.SKU) {
			if params.PointsAmount.IsZero() {
				return false
			}
			ctx.AddOrderPoints(params.PointsAmount)
			return true
		}
	}
	return false
}

// =============================================================================
// MULTIPLY FOR PRODUCT
// =============================================================================

// multiplyForProductAlgorithm scales the points already accumulated for
// items matched by SKU or label. It fires only if some matched bucket
// actually changed.
type multiplyForProductAlgorithm struct{}

func (multiplyForProductAlgorithm) Evaluate(ctx *Context, rule Rule) bool {
	params := rule.MultiplyForProduct
	fired := false
	for i, item := range ctx.Transaction.Items {
		if !contains(params.SKUs, item.SKU) && !hasAnyLabel(item, params.Labels) {
			continue
		}
		before := ctx.ItemPoints(i)
		if before.IsZero() {
			continue
		}
		ctx.MultiplyItemPoints(i, params.Multiplier)
		if !ctx.ItemPoints(i).Equal(before) {
			fired = true
		}
	}
	return fired
}

// =============================================================================
// MULTIPLY BY LABELS
// =============================================================================

// multiplyByLabelsAlgorithm looks up a multiplier per (key, value) pair.
// An item matching several configured pairs composes the multipliers
// multiplicatively.
type multiplyByLabelsAlgorithm struct{}

func (multiplyByLabelsAlgorithm) Evaluate(ctx *Context, rule Rule) bool {
	params := rule.MultiplyByLabels
	fired := false
	for i, item := range ctx.Transaction.Items {
		factor := decimal.NewFromInt(1)
		matchedAny := false
		for _, m := range params.Multipliers {
			if item.HasLabel(m.Key, m.Value) {
				factor = factor.Mul(m.Multiplier)
				matchedAny = true
			}
		}
		if !matchedAny || factor.Equal(decimal.NewFromInt(1)) {
			continue
		}
		before := ctx.ItemPoints(i)
		if before.IsZero() {
			continue
		}
		ctx.MultiplyItemPoints(i, factor)
		fired = true
	}
	return fired
}
