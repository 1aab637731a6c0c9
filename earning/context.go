/*
context.go - Per-evaluation accumulator

PURPOSE:
  The evaluation context is the transient state of one engine call: the
  transaction snapshot under evaluation, per-item and whole-order point
  buckets, and the ordered names of rules that fired. Created fresh per
  call and discarded afterwards; never persisted, never shared.

SEE ALSO:
  - engine.go: creates one context per EvaluateTransaction call
*/
package earning

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION SNAPSHOT
// =============================================================================

// Item is one purchased line item.
type Item struct {
	SKU      string
	Labels   []Label
	Quantity int
	Value    decimal.Decimal
}

// HasLabel reports whether the item carries the exact key/value pair.
func (i Item) HasLabel(key, value string) bool {
	for _, l := range i.Labels {
		if l.Key == key && l.Value == value {
			return true
		}
	}
	return false
}

// TransactionSnapshot is the immutable purchase the caller hands to the
// engine. DeliverySKUs lists the SKUs that count as delivery cost for
// rules configured to exclude it.
type TransactionSnapshot struct {
	PurchaseDate time.Time
	POS          string
	Items        []Item
	DeliverySKUs []string
}

// IsDelivery reports whether the item's SKU is in the delivery list.
func (t TransactionSnapshot) IsDelivery(item Item) bool {
	return contains(t.DeliverySKUs, item.SKU)
}

// =============================================================================
// CONTEXT
// =============================================================================

// Context accumulates point contributions during one evaluation pass.
// Items are addressed by index into the snapshot so duplicate SKUs stay
// distinct.
type Context struct {
	Transaction TransactionSnapshot

	itemPoints  []decimal.Decimal
	orderPoints decimal.Decimal
	firedRules  []string
}

// NewContext builds a fresh context for the snapshot.
func NewContext(tx TransactionSnapshot) *Context {
	return &Context{
		Transaction: tx,
		itemPoints:  make([]decimal.Decimal, len(tx.Items)),
	}
}

// AddItemPoints credits points to one line item's bucket.
func (c *Context) AddItemPoints(index int, points decimal.Decimal) {
	c.itemPoints[index] = c.itemPoints[index].Add(points)
}

// MultiplyItemPoints scales one line item's accumulated bucket.
func (c *Context) MultiplyItemPoints(index int, factor decimal.Decimal) {
	c.itemPoints[index] = c.itemPoints[index].Mul(factor)
}

// AddOrderPoints credits points to the whole-transaction bucket.
func (c *Context) AddOrderPoints(points decimal.Decimal) {
	c.orderPoints = c.orderPoints.Add(points)
}

// ItemPoints returns the current bucket for one line item.
func (c *Context) ItemPoints(index int) decimal.Decimal {
	return c.itemPoints[index]
}

// RecordFired appends a rule's display name to the audit trail.
func (c *Context) RecordFired(name string) {
	c.firedRules = append(c.firedRules, name)
}

// FiredRules returns the display names of rules that fired, in order.
func (c *Context) FiredRules() []string { return c.firedRules }

// FiredComment joins the fired-rule names for ledger comments.
func (c *Context) FiredComment() string { return strings.Join(c.firedRules, ", ") }

// Total sums every bucket and rounds to two decimal places.
func (c *Context) Total() decimal.Decimal {
	total := c.orderPoints
	for _, p := range c.itemPoints {
		total = total.Add(p)
	}
	return total.Round(2)
}
