package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kairoslabs/kairos-agent/internal/types"
)

const (
	feedPoolSize = 50
	feedMaxLimit = 25
)

// RecommendationService builds the personalised daily feed: algorithmic
// candidate selection and scoring with one batch model call for the review
// lines. The expand endpoint is the opposite trade, always fresh and fully
// model-generated.
type RecommendationService struct {
	store   RestaurantStore
	users   UserStore
	gateway LLMGateway
	guard   *AllergyGuard
	scorer  *FitScorer
	cache   Cache
	group   singleflight.Group
	logger  zerolog.Logger
}

// NewRecommendationService creates a new RecommendationService instance.
func NewRecommendationService(
	store RestaurantStore,
	users UserStore,
	gateway LLMGateway,
	guard *AllergyGuard,
	scorer *FitScorer,
	cache Cache,
	logger zerolog.Logger,
) *RecommendationService {
	return &RecommendationService{
		store:   store,
		users:   users,
		gateway: gateway,
		guard:   guard,
		scorer:  scorer,
		cache:   cache,
		logger:  logger.With().Str("service", "recommendation").Logger(),
	}
}

// GetRecommendations returns the feed for one user. Results are cached per
// (uid, calendar date); two same-day requests return byte-identical
// payloads. refresh deletes the key before recomputing.
func (s *RecommendationService) GetRecommendations(ctx context.Context, uid uuid.UUID, limit int, refresh bool) (json.RawMessage, error) {
	if limit <= 0 || limit > feedMaxLimit {
		limit = feedMaxLimit
	}
	key := FeedKey(uid.String(), time.Now().UTC())

	if refresh {
		s.cache.Delete(ctx, key)
		s.logger.Debug().Str("uid", uid.String()).Msg("feed cache invalidated")
	}
	if cached, ok := s.cache.Get(ctx, key); ok {
		s.logger.Debug().Str("uid", uid.String()).Msg("feed cache hit")
		return cached, nil
	}

	// Collapse concurrent recomputations of the same key into one.
	value, err, _ := s.group.Do(key, func() (any, error) {
		if cached, ok := s.cache.Get(ctx, key); ok {
			return json.RawMessage(cached), nil
		}
		payload, err := s.buildFeed(ctx, uid, limit)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal feed: %w", err)
		}
		s.cache.Set(ctx, key, data)
		return json.RawMessage(data), nil
	})
	if err != nil {
		return nil, err
	}
	return value.(json.RawMessage), nil
}

func (s *RecommendationService) buildFeed(ctx context.Context, uid uuid.UUID, limit int) (*types.RecommendationPayload, error) {
	profile, err := s.users.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}

	// Anaphylactic allergens are hard-filtered at the data layer; everything
	// else is the guard's job.
	candidates, err := s.store.TopRated(ctx, profile.Allergies.Anaphylactic(), feedPoolSize)
	if err != nil {
		return nil, err
	}

	payload := &types.RecommendationPayload{
		UID:             uid.String(),
		GeneratedAt:     time.Now().UTC(),
		Recommendations: []types.RecommendationItem{},
	}
	if len(candidates) == 0 {
		return payload, nil
	}

	type scoredCandidate struct {
		restaurant types.RestaurantResult
		score      int
		tags       []types.FitTag
	}
	scored := make([]scoredCandidate, 0, len(candidates))
	for _, r := range candidates {
		score, tags := s.scorer.Score(r, profile)
		scored = append(scored, scoredCandidate{restaurant: r, score: score, tags: tags})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > limit {
		scored = scored[:limit]
	}

	selected := make([]types.RestaurantResult, 0, len(scored))
	for _, sc := range scored {
		selected = append(selected, sc.restaurant)
	}

	guardResult, err := s.guard.Check(selected, profile.Allergies)
	if err != nil {
		return nil, err
	}
	annotated := make(map[int64]types.RestaurantResult, len(selected))
	for _, r := range guardResult.Safe {
		annotated[r.ID] = r
	}
	for _, r := range guardResult.Flagged {
		annotated[r.ID] = r
	}

	reviews := s.batchReviews(ctx, selected, profile)

	for i, sc := range scored {
		restaurant := sc.restaurant
		if a, ok := annotated[restaurant.ID]; ok {
			restaurant = a
		}
		payload.Recommendations = append(payload.Recommendations, types.RecommendationItem{
			Rank:               i + 1,
			Restaurant:         restaurant,
			FitScore:           sc.score,
			FitTags:            sc.tags,
			ConsolidatedReview: truncate(reviews[restaurant.ID], 160),
			AllergySummary: types.AllergySummary{
				IsSafe:   restaurant.AllergySafe,
				Warnings: restaurant.AllergyWarnings,
			},
		})
	}

	s.logger.Info().Str("uid", uid.String()).Int("items", len(payload.Recommendations)).
		Msg("feed generated")
	return payload, nil
}

// batchReviews makes the single model call of the feed pipeline. A failure
// falls back to empty review lines rather than failing the feed.
func (s *RecommendationService) batchReviews(ctx context.Context, restaurants []types.RestaurantResult, profile *types.UserProfile) map[int64]string {
	out := map[int64]string{}
	if len(restaurants) == 0 {
		return out
	}

	summaries := make([]map[string]any, 0, len(restaurants))
	for _, r := range restaurants {
		summaries = append(summaries, map[string]any{
			"id":            r.ID,
			"name":          r.Name,
			"cuisine_types": r.CuisineTypes,
			"area":          r.Area,
			"price_tier":    r.PriceTier,
			"rating":        r.Rating,
		})
	}

	prompt := buildFitExplanationPrompt(
		marshalForPrompt(summaries),
		buildUserContext(profile.Preferences),
		buildAllergyContext(profile.Allergies),
	)

	raw, err := s.gateway.GenerateJSON(ctx, prompt)
	if err != nil {
		s.logger.Warn().Err(err).Msg("batch review call failed, feed continues without reviews")
		return out
	}

	var items []struct {
		RestaurantID       int64  `json:"restaurant_id"`
		ConsolidatedReview string `json:"consolidated_review"`
	}
	if err := json.Unmarshal(raw, &items); err != nil {
		s.logger.Warn().Err(err).Msg("batch review call returned malformed list")
		return out
	}
	for _, item := range items {
		if item.ConsolidatedReview != "" {
			out[item.RestaurantID] = item.ConsolidatedReview
		}
	}
	return out
}

// GetExpandedDetail builds the rich single-restaurant view. Always freshly
// computed, never cached.
func (s *RecommendationService) GetExpandedDetail(ctx context.Context, uid uuid.UUID, restaurantID int64) (*types.ExpandedDetailResponse, error) {
	restaurant, err := s.store.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	reviews, err := s.store.RecentReviewTexts(ctx, restaurantID, 10)
	if err != nil {
		s.logger.Warn().Err(err).Int64("restaurant_id", restaurantID).Msg("review fetch failed")
		reviews = nil
	}
	profile, err := s.users.GetProfile(ctx, uid)
	if err != nil {
		return nil, err
	}

	prompt := buildExpandDetailPrompt(
		marshalForPrompt(restaurant),
		reviews,
		buildUserContext(profile.Preferences),
		buildAllergyContext(profile.Allergies),
	)

	var raw rawExpandedDetail
	data, err := s.gateway.GenerateJSON(ctx, prompt)
	if err != nil || json.Unmarshal(data, &raw) != nil {
		s.logger.Warn().Int64("restaurant_id", restaurantID).
			Msg("model failed for expand, using fallback detail")
		raw = fallbackExpandedDetail(*restaurant)
	}

	guardResult, err := s.guard.Check([]types.RestaurantResult{*restaurant}, profile.Allergies)
	if err != nil {
		return nil, err
	}
	annotated := *restaurant
	if len(guardResult.Safe) > 0 {
		annotated = guardResult.Safe[0]
	} else if len(guardResult.Flagged) > 0 {
		annotated = guardResult.Flagged[0]
	}

	safeNote := ""
	if annotated.AllergySafe {
		safeNote = "No allergens detected matching your profile."
	}

	detail := types.ExpandedDetail{
		ReviewSummary:   stringOr(raw.ReviewSummary, "No review summary available."),
		Highlights:      clampHighlights(raw.Highlights, 5),
		CrowdProfile:    stringOr(raw.CrowdProfile, "Information not available."),
		BestFor:         clampStrings(raw.BestFor, 4),
		AvoidIf:         clampStrings(raw.AvoidIf, 3),
		RadarScores:     neutralRadar(raw.RadarScores),
		WhyFitParagraph: raw.WhyFitParagraph,
		AllergyDetail: types.AllergyDetail{
			IsSafe:     annotated.AllergySafe,
			Confidence: annotated.AllergenConfidence,
			Warnings:   annotated.AllergyWarnings,
			SafeNote:   safeNote,
		},
	}

	return &types.ExpandedDetailResponse{
		RestaurantID:   restaurantID,
		ExpandedDetail: detail,
	}, nil
}

// Prewarm regenerates the feed and repopulates the cache. Fire-and-forget,
// called after a successful profile update. Never returns an error to the
// caller path.
func (s *RecommendationService) Prewarm(uid uuid.UUID) {
	ctx, cancel := backgroundContext()
	defer cancel()
	if _, err := s.GetRecommendations(ctx, uid, 10, true); err != nil {
		s.logger.Warn().Err(err).Str("uid", uid.String()).Msg("feed prewarm failed")
		return
	}
	s.logger.Debug().Str("uid", uid.String()).Msg("feed prewarmed")
}

// rawExpandedDetail is the untrusted model output for the expand call.
// Missing numeric fields default to the neutral midpoint, missing lists to
// empty.
type rawExpandedDetail struct {
	ReviewSummary   string             `json:"review_summary"`
	Highlights      []types.Highlight  `json:"highlights"`
	CrowdProfile    string             `json:"crowd_profile"`
	BestFor         []string           `json:"best_for"`
	AvoidIf         []string           `json:"avoid_if"`
	RadarScores     map[string]float64 `json:"radar_scores"`
	WhyFitParagraph string             `json:"why_fit_paragraph"`
}

func fallbackExpandedDetail(r types.RestaurantResult) rawExpandedDetail {
	area := r.Area
	if area == "" {
		area = "Bangalore"
	}
	cuisines := "a variety of cuisines"
	if len(r.CuisineTypes) > 0 {
		max := 2
		if len(r.CuisineTypes) < max {
			max = len(r.CuisineTypes)
		}
		cuisines = strings.Join(r.CuisineTypes[:max], ", ")
	}
	rating := "N/A"
	if r.Rating != nil {
		rating = fmt.Sprintf("%.1f", *r.Rating)
	}
	return rawExpandedDetail{
		ReviewSummary: fmt.Sprintf("%s is a restaurant in %s.", r.Name, area),
		Highlights: []types.Highlight{
			{Emoji: "🍽️", Text: "Serves " + cuisines},
			{Emoji: "⭐", Text: "Rated " + rating + " on Zomato"},
		},
		CrowdProfile:    "Information not available for this restaurant.",
		BestFor:         []string{"Dining out"},
		AvoidIf:         []string{},
		WhyFitParagraph: "This restaurant matches your general dining preferences.",
	}
}

// neutralRadar fills missing radar fields with the 5.0 midpoint so a chart
// renders sensibly even on partial model output.
func neutralRadar(scores map[string]float64) types.RadarScores {
	get := func(key string) float64 {
		if v, ok := scores[key]; ok {
			return v
		}
		return 5.0
	}
	return types.RadarScores{
		Romance:       get("romance"),
		NoiseLevel:    get("noise_level"),
		FoodQuality:   get("food_quality"),
		VeganOptions:  get("vegan_options"),
		ValueForMoney: get("value_for_money"),
	}
}

func clampHighlights(items []types.Highlight, max int) []types.Highlight {
	out := make([]types.Highlight, 0, max)
	for _, h := range items {
		if h.Text == "" {
			continue
		}
		if h.Emoji == "" {
			h.Emoji = "•"
		}
		out = append(out, h)
		if len(out) == max {
			break
		}
	}
	return out
}

func clampStrings(items []string, max int) []string {
	if len(items) > max {
		items = items[:max]
	}
	out := make([]string, 0, len(items))
	out = append(out, items...)
	return out
}

func stringOr(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

