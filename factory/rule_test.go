package factory_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/earning"
	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/ledger"
)

func TestParseRule_FlatRate(t *testing.T) {
	// GIVEN a complete JSON definition
	// WHEN parsed
	// THEN the rule carries the kind's payload and the window bounds
	f := factory.NewRuleFactory()

	rule, err := f.ParseRule([]byte(`{
		"id": "summer-flat",
		"name": "Summer flat rate",
		"kind": "flat_rate",
		"priority": 10,
		"window": {"from": "2026-06-01T00:00:00Z", "to": "2026-08-31T23:59:59Z"},
		"audience": {"levels": ["gold"]},
		"stoppable": true,
		"flat_rate": {"pointValue": "4", "excludedSkus": ["SKU-100"]}
	}`))
	require.NoError(t, err)

	assert.Equal(t, earning.RuleID("summer-flat"), rule.ID)
	assert.Equal(t, earning.KindFlatRate, rule.Kind)
	assert.Equal(t, 10, rule.Priority)
	assert.True(t, rule.Stoppable)
	assert.False(t, rule.LastExecuted)
	require.NotNil(t, rule.FlatRate)
	assert.True(t, rule.FlatRate.PointValue.Equal(decimal.NewFromInt(4)))
	assert.Equal(t, []string{"SKU-100"}, rule.FlatRate.ExcludedSKUs)
	assert.Equal(t, []string{"gold"}, rule.Audience.Levels)
	assert.False(t, rule.Window.AllTime)
	require.NotNil(t, rule.Window.From)
	assert.Equal(t, 2026, rule.Window.From.Year())
}

func TestParseRule_DefaultsToAllTimeWindow(t *testing.T) {
	f := factory.NewRuleFactory()

	rule, err := f.ParseRule([]byte(`{
		"id": "r1", "name": "r1", "kind": "event",
		"event": {"eventName": "signup", "pointsAmount": "50"}
	}`))
	require.NoError(t, err)

	assert.True(t, rule.Window.AllTime)
}

func TestParseRule_EmptyWindowBecomesAllTime(t *testing.T) {
	// A window object with no bounds and no explicit all_time flag would
	// otherwise cover nothing forever.
	f := factory.NewRuleFactory()

	rule, err := f.ParseRule([]byte(`{
		"id": "r1", "name": "r1", "kind": "event",
		"window": {},
		"event": {"eventName": "signup", "pointsAmount": "50"}
	}`))
	require.NoError(t, err)

	assert.True(t, rule.Window.AllTime)
}

func TestParseRule_RejectsMalformedJSON(t *testing.T) {
	f := factory.NewRuleFactory()

	_, err := f.ParseRule([]byte(`{"id": `))

	assert.Error(t, err)
}

func TestParseRule_RejectsBadTimestamp(t *testing.T) {
	f := factory.NewRuleFactory()

	_, err := f.ParseRule([]byte(`{
		"id": "r1", "name": "r1", "kind": "event",
		"window": {"from": "June 1st"},
		"event": {"eventName": "signup", "pointsAmount": "50"}
	}`))

	var validation *ledger.ValidationError
	assert.True(t, errors.As(err, &validation))
	assert.Equal(t, "window.from", validation.Field)
}

func TestParseRule_RejectsUnknownKind(t *testing.T) {
	f := factory.NewRuleFactory()

	_, err := f.ParseRule([]byte(`{"id": "r1", "name": "r1", "kind": "lottery"}`))

	var validation *ledger.ValidationError
	assert.True(t, errors.As(err, &validation))
}

func TestParseRule_RejectsMissingPayload(t *testing.T) {
	// Kind without its payload section.
	f := factory.NewRuleFactory()

	_, err := f.ParseRule([]byte(`{"id": "r1", "name": "r1", "kind": "flat_rate"}`))

	assert.Error(t, err)
}

func TestSerializeRule_RoundTrips(t *testing.T) {
	f := factory.NewRuleFactory()

	original, err := f.ParseRule([]byte(`{
		"id": "geo-paris",
		"name": "Paris store visit",
		"kind": "geo",
		"priority": 3,
		"audience": {"pos": ["store-paris"]},
		"geo": {"latitude": 48.8566, "longitude": 2.3522, "radiusMeters": 500, "pointsAmount": "10"}
	}`))
	require.NoError(t, err)

	data, err := f.SerializeRule(original)
	require.NoError(t, err)

	parsed, err := f.ParseRule(data)
	require.NoError(t, err)

	assert.Equal(t, original.ID, parsed.ID)
	assert.Equal(t, original.Kind, parsed.Kind)
	assert.Equal(t, original.Priority, parsed.Priority)
	assert.Equal(t, original.Audience, parsed.Audience)
	require.NotNil(t, parsed.Geo)
	assert.Equal(t, original.Geo.RadiusMeters, parsed.Geo.RadiusMeters)
	assert.True(t, original.Geo.PointsAmount.Equal(parsed.Geo.PointsAmount))
}
