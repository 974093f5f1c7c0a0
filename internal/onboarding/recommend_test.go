package onboarding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextQuestionOrder(t *testing.T) {
	catalog := DefaultCatalog()

	tests := []struct {
		name     string
		answered IDSet
		want     string
	}{
		{"first critical", NewIDSet(), "preferred_name"},
		{"next critical in catalog order", NewIDSet("preferred_name"), "birth_date"},
		{
			name:     "critical across phases before any high",
			answered: NewIDSet("preferred_name", "birth_date", "family_role", "current_city"),
			want:     "family_values",
		},
		{
			name:     "high after every critical",
			answered: NewIDSet("preferred_name", "birth_date", "family_role", "current_city", "family_values", "legacy_message"),
			want:     "full_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, ok := NextQuestion(catalog, tt.answered)
			require.True(t, ok)
			assert.Equal(t, tt.want, q.ID)
		})
	}
}

func TestNextQuestionFallsBackToCatalogOrder(t *testing.T) {
	catalog := DefaultCatalog()
	answered := NewIDSet()
	for _, q := range catalog.Questions() {
		if q.MatchingValue == MatchingCritical || q.MatchingValue == MatchingHigh {
			answered.Add(q.ID)
		}
	}

	q, ok := NextQuestion(catalog, answered)
	require.True(t, ok)
	assert.Equal(t, "languages", q.ID)
}

func TestNextQuestionNeverReturnsAnswered(t *testing.T) {
	catalog := DefaultCatalog()
	answered := NewIDSet()

	for range catalog.Questions() {
		q, ok := NextQuestion(catalog, answered)
		require.True(t, ok)
		require.False(t, answered.Has(q.ID))

		again, _ := NextQuestion(catalog, answered)
		assert.Equal(t, q, again, "same input gives same recommendation")
		answered.Add(q.ID)
	}

	_, ok := NextQuestion(catalog, answered)
	assert.False(t, ok)
}

func TestNextStep(t *testing.T) {
	store, _ := mustStore(t)
	p := newProgress(store.Catalog(), "u1", testEpoch)

	s, ok := NextStep(p)
	require.True(t, ok)
	assert.Equal(t, "welcome", s.ID)

	for _, step := range p.Steps {
		p.CompletedStepIDs.Add(step.ID)
	}
	p.rebase(store.Catalog())
	_, ok = NextStep(p)
	assert.False(t, ok)

	_, ok = NextStep(nil)
	assert.False(t, ok)
}
