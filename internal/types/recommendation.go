package types

import "time"

// FitTag is a single human-readable reason a restaurant fits the user.
type FitTag struct {
	Label string `json:"label"`
	Type  string `json:"type"` // "cuisine"|"vibe"|"price"|"dietary"|"allergy_safe"
}

// AllergySummary is the compact allergy block on a collapsed feed card.
type AllergySummary struct {
	IsSafe   bool             `json:"is_safe"`
	Warnings []AllergyWarning `json:"warnings"`
}

// Highlight is one bullet inside the expanded detail panel.
type Highlight struct {
	Emoji string `json:"emoji"`
	Text  string `json:"text"`
}

// AllergyDetail is the full allergy block inside the expanded panel.
type AllergyDetail struct {
	IsSafe     bool             `json:"is_safe"`
	Confidence string           `json:"confidence"`
	Warnings   []AllergyWarning `json:"warnings"`
	SafeNote   string           `json:"safe_note,omitempty"`
}

// ExpandedDetail is the rich single-restaurant payload generated lazily on
// the expand endpoint. Always freshly computed, never cached.
type ExpandedDetail struct {
	ReviewSummary   string        `json:"review_summary"`
	Highlights      []Highlight   `json:"highlights"`    // 3–5 items
	CrowdProfile    string        `json:"crowd_profile"`
	BestFor         []string      `json:"best_for"`      // 2–4 occasion tags
	AvoidIf         []string      `json:"avoid_if"`      // 1–3 items
	RadarScores     RadarScores   `json:"radar_scores"`
	WhyFitParagraph string        `json:"why_fit_paragraph"`
	AllergyDetail   AllergyDetail `json:"allergy_detail"`
}

// RecommendationItem is a single ranked entry in the daily feed.
type RecommendationItem struct {
	Rank               int              `json:"rank"`
	Restaurant         RestaurantResult `json:"restaurant"`
	FitScore           int              `json:"fit_score"`           // 0–100, algorithmic
	FitTags            []FitTag         `json:"fit_tags"`            // up to 4
	ConsolidatedReview string           `json:"consolidated_review"` // ≤160 chars
	AllergySummary     AllergySummary   `json:"allergy_summary"`
	ExpandedDetail     *ExpandedDetail  `json:"expanded_detail,omitempty"`
}

// RecommendationPayload is the top-level feed response.
type RecommendationPayload struct {
	UID             string               `json:"uid"`
	GeneratedAt     time.Time            `json:"generated_at"`
	Recommendations []RecommendationItem `json:"recommendations"`
}

// ExpandedDetailResponse wraps the expand endpoint response.
type ExpandedDetailResponse struct {
	RestaurantID   int64          `json:"restaurant_id"`
	ExpandedDetail ExpandedDetail `json:"expanded_detail"`
}
