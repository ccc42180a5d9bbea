package ingestion

import (
	"context"
	"testing"

	"github.com/rpattn/shopwindow/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRules(t *testing.T) {
	rules, err := ParseRules(map[string]any{
		"total_gla":     map[string]any{"type": "integer", "min": 1000, "max": 3_000_000},
		"address_state": map[string]any{"required": true, "pattern": "^[A-Z]{2}$"},
		"center_type":   map[string]any{"one_of": []any{"STRIP", "REGIONAL"}},
	})
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "address_state", rules[0].Field)
	assert.True(t, rules[0].Required)
	assert.Equal(t, []string{"STRIP", "REGIONAL"}, rules[1].OneOf)
	require.NotNil(t, rules[2].Min)
	assert.InDelta(t, 1000, *rules[2].Min, 1e-9)

	for name, raw := range map[string]map[string]any{
		"unknown key":  {"owner": map[string]any{"maxlen": 3}},
		"bad type":     {"owner": map[string]any{"type": "uuid"}},
		"bad pattern":  {"owner": map[string]any{"pattern": "("}},
		"not a map":    {"owner": "required"},
		"negative len": {"owner": map[string]any{"min_length": -1}},
	} {
		_, err := ParseRules(raw)
		assert.ErrorIs(t, err, domain.ErrValidation, name)
	}
}

func TestRulesCheck(t *testing.T) {
	rules, err := ParseRules(map[string]any{
		"total_gla":     map[string]any{"type": "integer", "min": 1000},
		"address_state": map[string]any{"required": true, "max_length": 2},
		"year_built":    map[string]any{"type": "integer"},
		"center_type":   map[string]any{"one_of": []string{"STRIP", "REGIONAL"}},
		"owner":         map[string]any{"pattern": "^[A-Z]"},
	})
	require.NoError(t, err)

	issues := rules.Check(Fields{
		"total_gla":   "500",
		"year_built":  "nineteen",
		"center_type": "strip",
		"owner":       "acme",
	})
	got := map[string]domain.FlagType{}
	for _, is := range issues {
		got[is.Field] = is.FlagType
	}
	assert.Equal(t, map[string]domain.FlagType{
		"total_gla":     domain.FlagTypeSuspicious,
		"address_state": domain.FlagTypeMissing,
		"year_built":    domain.FlagTypeInvalid,
		"owner":         domain.FlagTypeSuspicious,
	}, got)

	assert.Empty(t, rules.Check(Fields{"address_state": "IL", "total_gla": "$52,000", "owner": "Acme"}))
	assert.Empty(t, rules.Check(Fields{"address_state": "IL", "total_gla": "0125000", "year_built": "08"}))
}

func TestRunRaisesFlagsForMappingRules(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	b := h.open(t)
	mapping := &domain.MappingConfig{
		Name:            "strict",
		ImportType:      domain.ImportTypeCSV,
		ColumnMapping:   map[string]string{"Center": "shopping_center_name", "State": "address_state"},
		ValidationRules: map[string]any{"address_state": map[string]any{"pattern": "^[A-Z]{2}$"}},
	}

	_, err := h.orchestrator.Run(ctx, RunRequest{BatchID: b.ID, Mapping: mapping, Records: []Record{
		rec(2, map[string]string{"Center": "Maple Court", "State": "Illinois"}),
	}})
	require.NoError(t, err)

	center, err := h.store.Centers().GetByName(ctx, "Maple Court")
	require.NoError(t, err)
	flags := h.flagsFor(t, b.ID, domain.ShoppingCenterRef{ID: center.ID}, domain.FlagTypeSuspicious)
	require.Len(t, flags, 1)
	assert.Equal(t, "address_state", flags[0].FieldName)

	mapping.ValidationRules = map[string]any{"address_state": map[string]any{"bogus": 1}}
	_, err = h.orchestrator.Run(ctx, RunRequest{BatchID: h.open(t).ID, Mapping: mapping})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
