package service

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kairoslabs/kairos-agent/internal/allergen"
	"github.com/kairoslabs/kairos-agent/internal/types"
)

func guardCandidate(id int64, allergens []string, confidence string) types.RestaurantResult {
	return types.RestaurantResult{
		ID:                 id,
		Name:               "Restaurant",
		KnownAllergens:     allergens,
		AllergenConfidence: confidence,
	}
}

func TestAllergyGuard(t *testing.T) {
	guard := NewAllergyGuard(zerolog.Nop())

	t.Run("no shared allergens means safe with zero warnings", func(t *testing.T) {
		result, err := guard.Check(
			[]types.RestaurantResult{guardCandidate(1, []string{"gluten"}, "high")},
			types.Allergies{Confirmed: []string{"peanuts"}, Severity: map[string]string{"peanuts": "severe"}},
		)
		require.NoError(t, err)
		require.Len(t, result.Safe, 1)
		assert.True(t, result.Safe[0].AllergySafe)
		assert.Empty(t, result.Safe[0].AllergyWarnings)
		assert.Empty(t, result.Flagged)
		assert.False(t, result.HasAnyWarnings)
	})

	t.Run("anaphylactic with high confidence is flagged", func(t *testing.T) {
		result, err := guard.Check(
			[]types.RestaurantResult{guardCandidate(1, []string{"peanuts"}, "high")},
			types.Allergies{Confirmed: []string{"peanuts"}, Severity: map[string]string{"peanuts": "anaphylactic"}},
		)
		require.NoError(t, err)
		assert.Empty(t, result.Safe)
		require.Len(t, result.Flagged, 1)
		assert.True(t, result.HasAnyWarnings)

		warning := result.Flagged[0].AllergyWarnings[0]
		assert.Equal(t, "peanuts", warning.Allergen)
		assert.Equal(t, "anaphylactic", warning.Severity)
		assert.Equal(t, "danger", warning.Level)
		assert.Empty(t, warning.ConfidenceNote)
	})

	t.Run("lowering confidence moves an identical candidate out of flagged", func(t *testing.T) {
		allergies := types.Allergies{
			Confirmed: []string{"peanuts"},
			Severity:  map[string]string{"peanuts": "anaphylactic"},
		}
		result, err := guard.Check(
			[]types.RestaurantResult{guardCandidate(1, []string{"peanuts"}, "medium")},
			allergies,
		)
		require.NoError(t, err)
		assert.Empty(t, result.Flagged)
		require.Len(t, result.Safe, 1)
		assert.False(t, result.Safe[0].AllergySafe)

		warning := result.Safe[0].AllergyWarnings[0]
		assert.Equal(t, "anaphylactic", warning.Severity)
		assert.Equal(t, allergen.ConfidenceNote, warning.ConfidenceNote)
	})

	t.Run("confirmed without severity defaults to severe", func(t *testing.T) {
		result, err := guard.Check(
			[]types.RestaurantResult{guardCandidate(1, []string{"shellfish"}, "high")},
			types.Allergies{Confirmed: []string{"shellfish"}},
		)
		require.NoError(t, err)
		require.Len(t, result.Safe, 1)
		assert.Equal(t, "severe", result.Safe[0].AllergyWarnings[0].Severity)
	})

	t.Run("intolerance never overrides a confirmed entry", func(t *testing.T) {
		result, err := guard.Check(
			[]types.RestaurantResult{guardCandidate(1, []string{"dairy"}, "high")},
			types.Allergies{
				Confirmed:    []string{"dairy"},
				Intolerances: []string{"dairy"},
				Severity:     map[string]string{"dairy": "moderate"},
			},
		)
		require.NoError(t, err)
		require.Len(t, result.Safe, 1)
		assert.Equal(t, "moderate", result.Safe[0].AllergyWarnings[0].Severity)
	})

	t.Run("warnings sorted most severe first", func(t *testing.T) {
		result, err := guard.Check(
			[]types.RestaurantResult{guardCandidate(1, []string{"soy", "dairy"}, "medium")},
			types.Allergies{
				Confirmed:    []string{"dairy"},
				Intolerances: []string{"soy"},
				Severity:     map[string]string{"dairy": "severe"},
			},
		)
		require.NoError(t, err)
		require.Len(t, result.Safe, 1)
		warnings := result.Safe[0].AllergyWarnings
		require.Len(t, warnings, 2)
		assert.Equal(t, "severe", warnings[0].Severity)
		assert.Equal(t, "intolerance", warnings[1].Severity)
	})

	t.Run("safe ordering is fully safe first then worst severity ascending", func(t *testing.T) {
		candidates := []types.RestaurantResult{
			guardCandidate(1, []string{"dairy"}, "medium"), // severe warning
			guardCandidate(2, []string{"soy"}, "medium"),   // intolerance warning
			guardCandidate(3, nil, "high"),                 // clean
		}
		result, err := guard.Check(candidates, types.Allergies{
			Confirmed:    []string{"dairy"},
			Intolerances: []string{"soy"},
			Severity:     map[string]string{"dairy": "severe"},
		})
		require.NoError(t, err)
		require.Len(t, result.Safe, 3)
		assert.Equal(t, int64(3), result.Safe[0].ID)
		assert.Equal(t, int64(2), result.Safe[1].ID)
		assert.Equal(t, int64(1), result.Safe[2].ID)

		// Invariant: safe entries precede unsafe, worst severity non-decreasing.
		seenUnsafe := false
		lastRank := -1
		for _, r := range result.Safe {
			if r.AllergySafe {
				assert.False(t, seenUnsafe, "safe entry after unsafe entry")
				continue
			}
			seenUnsafe = true
			rank := allergen.SeverityRank(r.AllergyWarnings[0].Severity)
			assert.GreaterOrEqual(t, rank, lastRank)
			lastRank = rank
		}
	})

	t.Run("synonyms resolve before intersection", func(t *testing.T) {
		result, err := guard.Check(
			[]types.RestaurantResult{guardCandidate(1, []string{"groundnut"}, "high")},
			types.Allergies{Confirmed: []string{"peanuts"}, Severity: map[string]string{"peanuts": "severe"}},
		)
		require.NoError(t, err)
		require.Len(t, result.Safe, 1)
		require.Len(t, result.Safe[0].AllergyWarnings, 1)
		assert.Equal(t, "peanuts", result.Safe[0].AllergyWarnings[0].Allergen)
	})
}
