package service

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Fields the profiler may update. Allergy keys are deliberately absent:
// allergies change only through the explicit allergies endpoint, never by
// inference from chat.
var allowedPreferenceKeys = map[string]bool{
	"dietary":          true,
	"vibes":            true,
	"cuisine_affinity": true,
	"cuisine_aversion": true,
	"price_comfort":    true,
}

// Profiler extracts preference signals from completed chat turns and folds
// them into the user profile. It runs detached from the response path and
// swallows every error.
type Profiler struct {
	gateway     LLMGateway
	users       UserStore
	recommender *RecommendationService
	logger      zerolog.Logger
}

// NewProfiler creates a new Profiler instance.
func NewProfiler(gateway LLMGateway, users UserStore, recommender *RecommendationService, logger zerolog.Logger) *Profiler {
	return &Profiler{
		gateway:     gateway,
		users:       users,
		recommender: recommender,
		logger:      logger.With().Str("service", "profiler").Logger(),
	}
}

// Update runs one profiler pass for a finished turn. A successful update
// pre-warms the user's feed cache so tomorrow's preferences show up today.
func (p *Profiler) Update(uid uuid.UUID, message, responseSummary string) {
	ctx, cancel := backgroundContext()
	defer cancel()

	raw, err := p.gateway.GenerateJSON(ctx, buildProfilerPrompt(message, responseSummary))
	if err != nil {
		p.logger.Warn().Err(err).Str("uid", uid.String()).Msg("profiler extraction failed")
		return
	}

	var extracted map[string]any
	if err := json.Unmarshal(raw, &extracted); err != nil {
		p.logger.Warn().Err(err).Str("uid", uid.String()).Msg("profiler returned malformed object")
		return
	}

	// Strip anything outside the allow-list, allergy keys included.
	for key := range extracted {
		if !allowedPreferenceKeys[key] {
			delete(extracted, key)
		}
	}

	if len(extracted) == 0 {
		// Nothing new, still count the turn.
		if err := p.users.BumpInteraction(ctx, uid); err != nil {
			p.logger.Warn().Err(err).Str("uid", uid.String()).Msg("interaction bump failed")
		}
		return
	}

	profile, err := p.users.GetProfile(ctx, uid)
	if err != nil {
		p.logger.Warn().Err(err).Str("uid", uid.String()).Msg("profiler skipped, profile fetch failed")
		return
	}

	merged := MergePreferences(profile.Preferences, extracted)
	dietary := stringSlice(merged["dietary"])
	vibes := stringSlice(merged["vibes"])

	if err := p.users.SavePreferences(ctx, uid, merged, dietary, vibes); err != nil {
		p.logger.Warn().Err(err).Str("uid", uid.String()).Msg("preference save failed")
		return
	}
	if err := p.users.BumpInteraction(ctx, uid); err != nil {
		p.logger.Warn().Err(err).Str("uid", uid.String()).Msg("interaction bump failed")
	}

	keys := make([]string, 0, len(extracted))
	for key := range extracted {
		keys = append(keys, key)
	}
	p.logger.Debug().Str("uid", uid.String()).Strs("keys", keys).Msg("profile updated")

	p.recommender.Prewarm(uid)
}

// MergePreferences deep-merges extracted signals into current preferences.
// Lists are unioned with first-occurrence order preserved, scalars replaced.
func MergePreferences(current, extracted map[string]any) map[string]any {
	merged := make(map[string]any, len(current)+len(extracted))
	for k, v := range current {
		merged[k] = v
	}
	for key, value := range extracted {
		newList := stringSlice(value)
		if newList == nil {
			merged[key] = value
			continue
		}
		existing := stringSlice(merged[key])
		seen := make(map[string]bool, len(existing)+len(newList))
		union := make([]string, 0, len(existing)+len(newList))
		for _, item := range append(existing, newList...) {
			if item == "" || seen[item] {
				continue
			}
			seen[item] = true
			union = append(union, item)
		}
		merged[key] = union
	}
	return merged
}
