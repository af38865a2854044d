package allergen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Peanuts", "peanuts"},
		{"  groundnut  ", "peanuts"},
		{"mungfali", "peanuts"},
		{"Cashews", "tree_nuts"},
		{"PANEER", "dairy"},
		{"maida", "gluten"},
		{"prawn", "shellfish"},
		{"sulfites", "sulphites"},
		{"dragon fruit", "dragon fruit"}, // unknown names pass through
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalizeAll(t *testing.T) {
	t.Run("dedupes across synonyms, keeps first-occurrence order", func(t *testing.T) {
		got := NormalizeAll([]string{"Milk", "groundnut", "cheese", "peanuts", ""})
		assert.Equal(t, []string{"dairy", "peanuts"}, got)
	})

	t.Run("empty input yields empty output", func(t *testing.T) {
		assert.Empty(t, NormalizeAll(nil))
	})
}

func TestSeverityRank(t *testing.T) {
	t.Run("ascending order of danger", func(t *testing.T) {
		ordered := []string{SeverityIntolerance, SeverityModerate, SeveritySevere, SeverityAnaphylactic}
		for i := 1; i < len(ordered); i++ {
			assert.Greater(t, SeverityRank(ordered[i]), SeverityRank(ordered[i-1]))
		}
	})

	t.Run("unknown severity ranks as severe", func(t *testing.T) {
		assert.Equal(t, SeverityRank(SeveritySevere), SeverityRank("critical"))
	})
}

func TestKnownSeverity(t *testing.T) {
	for _, s := range []string{SeverityIntolerance, SeverityModerate, SeveritySevere, SeverityAnaphylactic} {
		assert.True(t, KnownSeverity(s), s)
	}
	assert.False(t, KnownSeverity(""))
	assert.False(t, KnownSeverity("mild"))
}

func TestWarningTemplates(t *testing.T) {
	t.Run("every severity has a renderable template", func(t *testing.T) {
		for _, severity := range []string{SeverityIntolerance, SeverityModerate, SeveritySevere, SeverityAnaphylactic} {
			template, ok := WarningTemplates[severity]
			require.True(t, ok, severity)
			assert.NotEmpty(t, template.Level)
			assert.NotEmpty(t, template.Title)
			assert.Contains(t, template.Message, "%s")
		}
	})

	t.Run("anaphylactic renders as danger", func(t *testing.T) {
		assert.Equal(t, "danger", WarningTemplates[SeverityAnaphylactic].Level)
	})
}

func TestSynonymsResolveToCanonical(t *testing.T) {
	canonical := make(map[string]bool, len(Canonical))
	for _, c := range Canonical {
		canonical[c] = true
	}
	for synonym, target := range Synonyms {
		assert.True(t, canonical[target], "synonym %q points at non-canonical %q", synonym, target)
	}
}

func TestCuisineAllergensUseCanonicalNames(t *testing.T) {
	canonical := make(map[string]bool, len(Canonical))
	for _, c := range Canonical {
		canonical[c] = true
	}
	for cuisine, allergens := range CuisineAllergens {
		for _, a := range allergens {
			assert.True(t, canonical[a], "cuisine %q lists non-canonical allergen %q", cuisine, a)
		}
		assert.Equal(t, strings.ToLower(cuisine), cuisine, "cuisine keys are lowercase")
	}
}
