package types

// AllergyWarning is a structured allergy warning attached to a restaurant
// result. Rendered directly in the frontend UI.
type AllergyWarning struct {
	Allergen       string `json:"allergen"`
	Severity       string `json:"severity"`   // "anaphylactic"|"severe"|"moderate"|"intolerance"
	Level          string `json:"level"`      // "danger"|"warning"|"caution"|"info"
	Emoji          string `json:"emoji"`
	Title          string `json:"title"`
	Message        string `json:"message"`
	Confidence     string `json:"confidence"` // "high"|"medium"|"low"
	ConfidenceNote string `json:"confidence_note,omitempty"`
}

// RadarScores holds per-dimension scores used by the radar_comparison UI.
type RadarScores struct {
	Romance       float64 `json:"romance"`
	NoiseLevel    float64 `json:"noise_level"`
	FoodQuality   float64 `json:"food_quality"`
	VeganOptions  float64 `json:"vegan_options"`
	ValueForMoney float64 `json:"value_for_money"`
}

// RestaurantResult is a restaurant as it appears in any user-facing payload.
// After AllergyGuard runs it always carries AllergySafe and AllergyWarnings.
type RestaurantResult struct {
	ID                 int64          `json:"id"`
	Name               string         `json:"name"`
	Area               string         `json:"area,omitempty"`
	Address            string         `json:"address,omitempty"`
	PriceTier          string         `json:"price_tier,omitempty"`
	Rating             *float64       `json:"rating"`
	Votes              int            `json:"votes"`
	CuisineTypes       []string       `json:"cuisine_types"`
	URL                string         `json:"url,omitempty"`
	Lat                *float64       `json:"lat,omitempty"`
	Lng                *float64       `json:"lng,omitempty"`
	KnownAllergens     []string       `json:"known_allergens"`
	AllergenConfidence string         `json:"allergen_confidence"`
	Meta               map[string]any `json:"meta,omitempty"`

	// Allergy annotation, always present after AllergyGuard runs.
	AllergySafe     bool             `json:"allergy_safe"`
	AllergyWarnings []AllergyWarning `json:"allergy_warnings"`

	// radar_comparison only.
	Scores *RadarScores `json:"scores,omitempty"`
}

// Valid UI types for the chat payload.
const (
	UITypeRestaurantList  = "restaurant_list"
	UITypeRadarComparison = "radar_comparison"
	UITypeMapView         = "map_view"
	UITypeText            = "text"
)

// ValidUIType reports whether t is one of the renderable UI types.
func ValidUIType(t string) bool {
	switch t {
	case UITypeRestaurantList, UITypeRadarComparison, UITypeMapView, UITypeText:
		return true
	}
	return false
}

// UIPayload is the terminal payload of every chat turn. UIType tells the
// frontend which component to render.
type UIPayload struct {
	UIType             string             `json:"ui_type"`
	Message            string             `json:"message"`
	Restaurants        []RestaurantResult `json:"restaurants"`
	FlaggedRestaurants []RestaurantResult `json:"flagged_restaurants"`
	HasAllergyWarnings bool               `json:"has_allergy_warnings"`

	// text ui_type only.
	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`

	// map_view only.
	MapCenter map[string]float64 `json:"map_center,omitempty"`
}
