package service

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/kairoslabs/kairos-agent/internal/allergen"
	"github.com/kairoslabs/kairos-agent/internal/types"
)

// GuardResult is the partitioned, annotated output of the safety layer.
// Safe still contains restaurants with warnings; Flagged holds only the
// anaphylactic high-confidence cases shown in a separate danger section.
type GuardResult struct {
	Safe           []types.RestaurantResult
	Flagged        []types.RestaurantResult
	HasAnyWarnings bool
}

// AllergyGuard annotates, partitions and reorders every result set before
// it reaches a user-facing payload. It never drops a restaurant for allergy
// reasons; the worst case is segregation into the flagged list. A failure
// inside the guard must cause the caller to refuse, never to emit unguarded
// results.
type AllergyGuard struct {
	logger zerolog.Logger
}

// NewAllergyGuard creates a new AllergyGuard instance.
func NewAllergyGuard(logger zerolog.Logger) *AllergyGuard {
	return &AllergyGuard{logger: logger.With().Str("service", "allergy_guard").Logger()}
}

// Check annotates each candidate with warnings for every allergen it shares
// with the user and partitions the set. The error return exists for
// internal faults only; callers must translate it to a refusal payload.
func (g *AllergyGuard) Check(candidates []types.RestaurantResult, allergies types.Allergies) (*GuardResult, error) {
	userAllergens := userAllergenSeverities(allergies)

	result := &GuardResult{
		Safe:    make([]types.RestaurantResult, 0, len(candidates)),
		Flagged: make([]types.RestaurantResult, 0),
	}

	for _, candidate := range candidates {
		warnings, err := g.warningsFor(candidate, userAllergens)
		if err != nil {
			return nil, err
		}

		candidate.AllergyWarnings = warnings
		candidate.AllergySafe = len(warnings) == 0
		if len(warnings) > 0 {
			result.HasAnyWarnings = true
		}

		if isFlagged(candidate) {
			result.Flagged = append(result.Flagged, candidate)
		} else {
			result.Safe = append(result.Safe, candidate)
		}
	}

	// Fully safe entries first, then by the entry's own worst warning from
	// least to most severe. Flagged keeps input order.
	sort.SliceStable(result.Safe, func(i, j int) bool {
		si, sj := safetyKey(result.Safe[i]), safetyKey(result.Safe[j])
		if si.unsafe != sj.unsafe {
			return !si.unsafe
		}
		return si.worstRank < sj.worstRank
	})

	return result, nil
}

func (g *AllergyGuard) warningsFor(candidate types.RestaurantResult, userAllergens map[string]string) ([]types.AllergyWarning, error) {
	warnings := make([]types.AllergyWarning, 0)
	for _, known := range allergen.NormalizeAll(candidate.KnownAllergens) {
		severity, ok := userAllergens[known]
		if !ok {
			continue
		}
		template, ok := allergen.WarningTemplates[severity]
		if !ok {
			// A severity without a display template means the tables are
			// corrupt. Refusing beats emitting an unlabeled risk.
			return nil, fmt.Errorf("no warning template for severity %q", severity)
		}

		warning := types.AllergyWarning{
			Allergen:   known,
			Severity:   severity,
			Level:      template.Level,
			Emoji:      template.Emoji,
			Title:      template.Title,
			Message:    fmt.Sprintf(template.Message, known),
			Confidence: candidate.AllergenConfidence,
		}
		if candidate.AllergenConfidence != allergen.ConfidenceHigh {
			warning.ConfidenceNote = allergen.ConfidenceNote
		}
		warnings = append(warnings, warning)
	}

	sort.SliceStable(warnings, func(i, j int) bool {
		return allergen.SeverityRank(warnings[i].Severity) > allergen.SeverityRank(warnings[j].Severity)
	})
	return warnings, nil
}

func isFlagged(candidate types.RestaurantResult) bool {
	if candidate.AllergenConfidence != allergen.ConfidenceHigh {
		return false
	}
	for _, w := range candidate.AllergyWarnings {
		if w.Severity == allergen.SeverityAnaphylactic {
			return true
		}
	}
	return false
}

type severityKey struct {
	unsafe    bool
	worstRank int
}

func safetyKey(candidate types.RestaurantResult) severityKey {
	if len(candidate.AllergyWarnings) == 0 {
		return severityKey{}
	}
	worst := -1
	for _, w := range candidate.AllergyWarnings {
		if rank := allergen.SeverityRank(w.Severity); rank > worst {
			worst = rank
		}
	}
	return severityKey{unsafe: true, worstRank: worst}
}
