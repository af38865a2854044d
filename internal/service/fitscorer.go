package service

import (
	"sort"
	"strings"

	"github.com/kairoslabs/kairos-agent/internal/allergen"
	"github.com/kairoslabs/kairos-agent/internal/types"
)

// Attribute-map keys checked in fixed priority order when extracting tags
// from the loosely-typed restaurant meta object. First non-empty wins.
var (
	vibeMetaKeys    = []string{"vibes", "vibe_tags", "ambience", "highlights"}
	dietaryMetaKeys = []string{"dietary", "dietary_options", "diet_tags"}
)

const (
	maxCuisinePoints = 30
	maxVibePoints    = 25
	maxPricePoints   = 20
	maxDietaryPoints = 15
	maxAllergyPoints = 10

	aversionPenalty = -10
)

type dimensionScore struct {
	points int
	tag    *types.FitTag
}

// FitScorer scores one candidate against one user profile. Pure and
// deterministic, no I/O, so a pool of ~50 candidates scores synchronously.
type FitScorer struct{}

func NewFitScorer() *FitScorer {
	return &FitScorer{}
}

// Score returns a 0..100 fit score and up to four labeled reasons, ordered
// by how many points the reason contributed.
func (s *FitScorer) Score(restaurant types.RestaurantResult, profile *types.UserProfile) (int, []types.FitTag) {
	dims := []dimensionScore{
		s.scoreCuisine(restaurant, profile),
		s.scoreVibe(restaurant, profile),
		s.scorePrice(restaurant, profile),
		s.scoreDietary(restaurant, profile),
		s.scoreAllergy(restaurant, profile),
	}

	total := 0
	tagged := make([]dimensionScore, 0, len(dims))
	for _, d := range dims {
		total += d.points
		if d.tag != nil {
			tagged = append(tagged, d)
		}
	}

	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}

	sort.SliceStable(tagged, func(i, j int) bool { return tagged[i].points > tagged[j].points })
	if len(tagged) > 4 {
		tagged = tagged[:4]
	}
	tags := make([]types.FitTag, 0, len(tagged))
	for _, d := range tagged {
		tags = append(tags, *d.tag)
	}
	return total, tags
}

func (s *FitScorer) scoreCuisine(restaurant types.RestaurantResult, profile *types.UserProfile) dimensionScore {
	affinity := lowerSet(profile.CuisineAffinity)
	aversion := lowerSet(profile.CuisineAversion)
	if len(affinity) == 0 && len(aversion) == 0 {
		return dimensionScore{}
	}

	cuisines := lowerSet(restaurant.CuisineTypes)
	for _, c := range sortedKeys(cuisines) {
		if _, averse := aversion[c]; averse {
			return dimensionScore{points: aversionPenalty, tag: &types.FitTag{
				Label: "Has " + c + ", which you usually avoid",
				Type:  "cuisine",
			}}
		}
	}
	if len(affinity) == 0 || len(cuisines) == 0 {
		return dimensionScore{}
	}

	var overlap []string
	covered := true
	for _, c := range sortedKeys(cuisines) {
		if _, ok := affinity[c]; ok {
			overlap = append(overlap, c)
		} else {
			covered = false
		}
	}
	switch {
	case covered:
		return dimensionScore{points: maxCuisinePoints, tag: &types.FitTag{
			Label: "All " + strings.Join(overlap, ", ") + " cuisine, your favorite",
			Type:  "cuisine",
		}}
	case len(overlap) > 0:
		return dimensionScore{points: maxCuisinePoints / 2, tag: &types.FitTag{
			Label: "Serves " + overlap[0] + ", which you love",
			Type:  "cuisine",
		}}
	}
	return dimensionScore{}
}

func (s *FitScorer) scoreVibe(restaurant types.RestaurantResult, profile *types.UserProfile) dimensionScore {
	userVibes := lowerSet(profile.VibeTags)
	restVibes := lowerSet(metaStrings(restaurant.Meta, vibeMetaKeys))
	if len(userVibes) == 0 || len(restVibes) == 0 {
		return dimensionScore{}
	}

	var overlap []string
	for _, v := range sortedKeys(restVibes) {
		if _, ok := userVibes[v]; ok {
			overlap = append(overlap, v)
		}
	}
	if len(overlap) == 0 {
		return dimensionScore{}
	}
	points := 5 * len(overlap)
	if points > maxVibePoints {
		points = maxVibePoints
	}
	return dimensionScore{points: points, tag: &types.FitTag{
		Label: "Matches your " + strings.Join(overlap, ", ") + " vibe",
		Type:  "vibe",
	}}
}

func (s *FitScorer) scorePrice(restaurant types.RestaurantResult, profile *types.UserProfile) dimensionScore {
	tier := len(restaurant.PriceTier)
	if tier == 0 || len(profile.PreferredPriceTiers) == 0 {
		return dimensionScore{}
	}

	bestDiff := -1
	for _, preferred := range profile.PreferredPriceTiers {
		diff := tier - len(strings.TrimSpace(preferred))
		if diff < 0 {
			diff = -diff
		}
		if bestDiff == -1 || diff < bestDiff {
			bestDiff = diff
		}
	}
	switch bestDiff {
	case 0:
		return dimensionScore{points: maxPricePoints, tag: &types.FitTag{
			Label: "In your usual " + restaurant.PriceTier + " price range",
			Type:  "price",
		}}
	case 1:
		// Adjacent tier scores but is not worth surfacing as a reason.
		return dimensionScore{points: maxPricePoints / 2}
	}
	return dimensionScore{}
}

func (s *FitScorer) scoreDietary(restaurant types.RestaurantResult, profile *types.UserProfile) dimensionScore {
	flags := lowerSet(profile.DietaryFlags)
	if len(flags) == 0 {
		return dimensionScore{}
	}

	restDietary := lowerSet(metaStrings(restaurant.Meta, dietaryMetaKeys))
	var overlap []string
	for _, flag := range sortedKeys(flags) {
		if _, ok := restDietary[flag]; ok {
			overlap = append(overlap, flag)
			continue
		}
		// Cuisine names like "Vegetarian Friendly" count as dietary signal.
		if flag == "vegan" || flag == "vegetarian" {
			for _, c := range restaurant.CuisineTypes {
				if strings.Contains(strings.ToLower(c), flag) {
					overlap = append(overlap, flag)
					break
				}
			}
		}
	}
	if len(overlap) == 0 {
		return dimensionScore{}
	}
	points := 5 * len(overlap)
	if points > maxDietaryPoints {
		points = maxDietaryPoints
	}
	return dimensionScore{points: points, tag: &types.FitTag{
		Label: "Good " + strings.Join(overlap, ", ") + " options",
		Type:  "dietary",
	}}
}

func (s *FitScorer) scoreAllergy(restaurant types.RestaurantResult, profile *types.UserProfile) dimensionScore {
	userAllergens := userAllergenSeverities(profile.Allergies)
	if len(userAllergens) == 0 {
		return dimensionScore{points: maxAllergyPoints, tag: nil}
	}

	worst := -1
	for _, known := range restaurant.KnownAllergens {
		if severity, ok := userAllergens[allergen.Normalize(known)]; ok {
			if rank := allergen.SeverityRank(severity); rank > worst {
				worst = rank
			}
		}
	}
	switch {
	case worst < 0:
		return dimensionScore{points: maxAllergyPoints, tag: &types.FitTag{
			Label: "No known allergens for you",
			Type:  "allergy",
		}}
	case worst == allergen.SeverityRank(allergen.SeverityIntolerance):
		return dimensionScore{points: maxAllergyPoints / 2}
	}
	return dimensionScore{}
}

// userAllergenSeverities builds the unified allergen to severity map shared
// with the safety layer. Confirmed allergens default to severe; an
// intolerance never overrides a confirmed entry.
func userAllergenSeverities(a types.Allergies) map[string]string {
	out := make(map[string]string, len(a.Confirmed)+len(a.Intolerances))
	for _, name := range a.Confirmed {
		canonical := allergen.Normalize(name)
		severity := a.Severity[canonical]
		if !allergen.KnownSeverity(severity) {
			severity = a.Severity[name]
		}
		if !allergen.KnownSeverity(severity) {
			severity = allergen.SeveritySevere
		}
		out[canonical] = severity
	}
	for _, name := range a.Intolerances {
		name = allergen.Normalize(name)
		if _, ok := out[name]; !ok {
			out[name] = allergen.SeverityIntolerance
		}
	}
	return out
}

func lowerSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out[v] = struct{}{}
		}
	}
	return out
}

// sortedKeys keeps tag text deterministic regardless of map iteration order.
func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// metaStrings returns the first non-empty string list found under the given
// keys of the attribute map.
func metaStrings(meta map[string]any, keys []string) []string {
	for _, key := range keys {
		if vals := stringSlice(meta[key]); len(vals) > 0 {
			return vals
		}
	}
	return nil
}
