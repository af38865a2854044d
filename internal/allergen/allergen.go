// Package allergen is the single source of truth for allergen names,
// severity ordering and warning copy. Both ingestion and the runtime
// safety layer resolve allergens exclusively through this package.
package allergen

import "strings"

// Canonical allergen names: the 14 major EU allergens plus common extras.
var Canonical = []string{
	"peanuts", "tree_nuts", "shellfish", "fish", "dairy", "eggs",
	"gluten", "soy", "sesame", "mustard", "celery", "lupin",
	"molluscs", "sulphites",
}

// Synonyms maps colloquial or regional names to canonical allergen names.
var Synonyms = map[string]string{
	"nuts": "tree_nuts", "cashews": "tree_nuts", "almonds": "tree_nuts",
	"walnuts": "tree_nuts", "pistachios": "tree_nuts",
	"milk": "dairy", "cheese": "dairy", "butter": "dairy",
	"cream": "dairy", "ghee": "dairy", "paneer": "dairy",
	"lactose": "dairy", "curd": "dairy",
	"wheat": "gluten", "barley": "gluten", "rye": "gluten",
	"flour": "gluten", "maida": "gluten", "bread": "gluten",
	"prawn": "shellfish", "crab": "shellfish", "lobster": "shellfish",
	"shrimp": "shellfish", "crayfish": "shellfish",
	"oyster": "molluscs", "clam": "molluscs", "squid": "molluscs",
	"soya": "soy", "tofu": "soy", "tempeh": "soy",
	"sulfites": "sulphites", "wine": "sulphites",
	"til": "sesame", "tahini": "sesame",
	"groundnut": "peanuts", "mungfali": "peanuts",
}

// CuisineAllergens maps a cuisine type to its likely allergens. Used as a
// medium-confidence heuristic when no review evidence exists.
var CuisineAllergens = map[string][]string{
	"chinese":        {"peanuts", "soy", "shellfish", "gluten", "sesame"},
	"thai":           {"peanuts", "shellfish", "fish", "soy", "sesame", "tree_nuts"},
	"japanese":       {"fish", "shellfish", "soy", "sesame", "molluscs"},
	"indian":         {"dairy", "gluten", "mustard", "tree_nuts", "sesame"},
	"south indian":   {"dairy", "mustard", "sesame"},
	"north indian":   {"dairy", "gluten", "tree_nuts"},
	"mughlai":        {"dairy", "tree_nuts", "gluten"},
	"italian":        {"gluten", "dairy", "eggs"},
	"mexican":        {"gluten", "dairy"},
	"seafood":        {"shellfish", "fish", "molluscs"},
	"mediterranean":  {"gluten", "dairy", "fish", "sesame"},
	"middle eastern": {"sesame", "tree_nuts", "dairy", "gluten"},
	"continental":    {"dairy", "gluten", "eggs"},
	"bakery":         {"gluten", "dairy", "eggs"},
	"desserts":       {"dairy", "eggs", "gluten", "tree_nuts"},
	"biryani":        {"dairy", "gluten"},
	"street food":    {"gluten", "peanuts", "dairy"},
}

// Severity levels in ascending order of danger. severityRank below holds
// the rank used for all sorting and escalation decisions.
const (
	SeverityIntolerance  = "intolerance"
	SeverityModerate     = "moderate"
	SeveritySevere       = "severe"
	SeverityAnaphylactic = "anaphylactic"
)

// Allergen data confidence, set at ingestion time.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

var severityRank = map[string]int{
	SeverityIntolerance:  0,
	SeverityModerate:     1,
	SeveritySevere:       2,
	SeverityAnaphylactic: 3,
}

// SeverityRank returns the numeric rank of a severity level, higher meaning
// more dangerous. Unknown severities rank as severe.
func SeverityRank(severity string) int {
	if r, ok := severityRank[severity]; ok {
		return r
	}
	return severityRank[SeveritySevere]
}

// KnownSeverity reports whether severity is one of the four defined levels.
func KnownSeverity(severity string) bool {
	_, ok := severityRank[severity]
	return ok
}

// WarningTemplate holds the display fields for one severity level. The
// message contains a %s placeholder for the allergen name.
type WarningTemplate struct {
	Level   string
	Emoji   string
	Title   string
	Message string
}

// WarningTemplates maps severity to its display template, rendered directly
// in the frontend. Tone is matched to severity: never alarm for an
// intolerance, never soft-pedal an anaphylactic risk.
var WarningTemplates = map[string]WarningTemplate{
	SeverityAnaphylactic: {
		Level: "danger", Emoji: "🚨", Title: "Anaphylaxis Risk",
		Message: "This restaurant may contain %s. Given your severe allergy, " +
			"we strongly recommend calling ahead to confirm before visiting.",
	},
	SeveritySevere: {
		Level: "warning", Emoji: "⚠️", Title: "Allergy Warning",
		Message: "This restaurant likely serves dishes containing %s. " +
			"Please inform the staff of your allergy when you arrive.",
	},
	SeverityModerate: {
		Level: "caution", Emoji: "⚡", Title: "Heads Up",
		Message: "Some dishes here may contain %s. " +
			"Ask your server about allergen-free options before ordering.",
	},
	SeverityIntolerance: {
		Level: "info", Emoji: "ℹ️", Title: "Note",
		Message: "This restaurant serves dishes with %s. " +
			"Allergen-free options may be available — worth checking with staff.",
	},
}

// ConfidenceNote is appended to a warning whenever allergen data was derived
// heuristically rather than from review evidence.
const ConfidenceNote = "Allergen data for this restaurant is estimated from " +
	"cuisine type — always confirm with staff before ordering."

// Normalize lowercases an allergen name and resolves synonyms to the
// canonical name. Unknown names pass through lowercased.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := Synonyms[n]; ok {
		return canonical
	}
	return n
}

// NormalizeAll normalizes a list of allergen names, deduplicating while
// preserving first-occurrence order.
func NormalizeAll(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		c := Normalize(n)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
