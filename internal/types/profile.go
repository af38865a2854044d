package types

// Allergies is the user's allergy object. Mutated only via the explicit
// allergies endpoint, never inferred from conversation.
type Allergies struct {
	Confirmed    []string          `json:"confirmed"`
	Intolerances []string          `json:"intolerances"`
	Severity     map[string]string `json:"severity"`
}

// Empty reports whether the user has no allergy data on file.
func (a Allergies) Empty() bool {
	return len(a.Confirmed) == 0 && len(a.Intolerances) == 0
}

// Anaphylactic returns the confirmed allergens marked anaphylactic.
func (a Allergies) Anaphylactic() []string {
	var out []string
	for _, allergen := range a.Confirmed {
		if a.Severity[allergen] == "anaphylactic" {
			out = append(out, allergen)
		}
	}
	return out
}

// UserProfile is the flattened profile consumed by the scoring and
// recommendation pipeline.
type UserProfile struct {
	UID                 string         `json:"uid"`
	Preferences         map[string]any `json:"preferences"`
	Allergies           Allergies      `json:"allergies"`
	AllergyFlags        []string       `json:"allergy_flags"`
	DietaryFlags        []string       `json:"dietary_flags"`
	VibeTags            []string       `json:"vibe_tags"`
	PreferredPriceTiers []string       `json:"preferred_price_tiers"`
	CuisineAffinity     []string       `json:"cuisine_affinity"`
	CuisineAversion     []string       `json:"cuisine_aversion"`
}
