package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kairoslabs/kairos-agent/internal/allergen"
	"github.com/kairoslabs/kairos-agent/internal/models"
	"github.com/kairoslabs/kairos-agent/internal/types"
)

var (
	ErrRestaurantNotFound = errors.New("restaurant not found")
	ErrProfileNotFound    = errors.New("profile not found")
	// ErrVectorUnavailable is returned when the vector index cannot serve
	// similarity queries. Hybrid search treats it as a degrade signal.
	ErrVectorUnavailable = errors.New("vector index unavailable")
)

// GormRestaurantStore answers scalar-predicate queries over restaurant rows.
type GormRestaurantStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewGormRestaurantStore creates a new GormRestaurantStore instance.
func NewGormRestaurantStore(db *gorm.DB, logger zerolog.Logger) *GormRestaurantStore {
	return &GormRestaurantStore{db: db, logger: logger.With().Str("service", "restaurant_store").Logger()}
}

// jsonArrayExpr returns the SQL expression for substring-matching a JSONB
// string-array column. Postgres needs the ::text cast; sqlite stores the
// column as text already.
func jsonArrayExpr(db *gorm.DB, column string) string {
	if db.Dialector.Name() == "postgres" {
		return fmt.Sprintf("LOWER(%s::text)", column)
	}
	return fmt.Sprintf("LOWER(%s)", column)
}

func ratingOrder(db *gorm.DB) string {
	if db.Dialector.Name() == "postgres" {
		return "rating DESC NULLS LAST"
	}
	return "rating DESC"
}

// FindByFilters returns active restaurants satisfying every scalar filter.
// ExcludeAllergens is a hard AND-NOT: a restaurant carrying one of the
// allergens with high confidence is removed here and never reaches scoring.
func (s *GormRestaurantStore) FindByFilters(ctx context.Context, filters SearchFilters) ([]types.RestaurantResult, error) {
	f := filters.Normalized()
	query := s.db.WithContext(ctx).Model(&models.Restaurant{}).Where("is_active = ?", true)

	cuisineExpr := jsonArrayExpr(s.db, "cuisine_types")
	if len(f.Cuisines) > 0 {
		group := s.db.Session(&gorm.Session{NewDB: true})
		cond := group.Where(cuisineExpr+" LIKE ?", "%"+f.Cuisines[0]+"%")
		for _, c := range f.Cuisines[1:] {
			cond = cond.Or(cuisineExpr+" LIKE ?", "%"+c+"%")
		}
		query = query.Where(cond)
	}

	if len(f.PriceTiers) > 0 {
		query = query.Where("price_tier IN ?", tierSymbols(f.PriceTiers))
	}
	if f.Area != "" {
		query = query.Where("LOWER(area) LIKE ?", "%"+f.Area+"%")
	}
	if f.MinRating > 0 {
		query = query.Where("rating >= ?", f.MinRating)
	}

	query = applyAllergenExclusion(s.db, query, f.ExcludeAllergens)

	var rows []models.Restaurant
	if err := query.Order(ratingOrder(s.db)).Limit(200).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query restaurants: %w", err)
	}
	return toResults(rows), nil
}

// TopRated returns up to limit active restaurants by rating descending,
// with the same hard allergen exclusion as filtered search.
func (s *GormRestaurantStore) TopRated(ctx context.Context, excludeAllergens []string, limit int) ([]types.RestaurantResult, error) {
	query := s.db.WithContext(ctx).Model(&models.Restaurant{}).
		Where("is_active = ?", true).
		Where("rating IS NOT NULL")
	query = applyAllergenExclusion(s.db, query, allergen.NormalizeAll(excludeAllergens))

	var rows []models.Restaurant
	if err := query.Order(ratingOrder(s.db)).Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query top rated restaurants: %w", err)
	}
	return toResults(rows), nil
}

func (s *GormRestaurantStore) GetRestaurant(ctx context.Context, id int64) (*types.RestaurantResult, error) {
	var row models.Restaurant
	err := s.db.WithContext(ctx).Where("id = ? AND is_active = ?", id, true).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRestaurantNotFound
		}
		return nil, fmt.Errorf("failed to get restaurant: %w", err)
	}
	result := toResult(row)
	return &result, nil
}

func (s *GormRestaurantStore) RecentReviewTexts(ctx context.Context, restaurantID int64, limit int) ([]string, error) {
	var texts []string
	err := s.db.WithContext(ctx).Model(&models.Review{}).
		Where("restaurant_id = ?", restaurantID).
		Order("created_at DESC").
		Limit(limit).
		Pluck("review_text", &texts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	return texts, nil
}

// applyAllergenExclusion removes rows carrying any of the allergens with
// high confidence. Lower-confidence matches pass through so the safety
// layer can warn on them instead of silently hiding plausible options.
func applyAllergenExclusion(db *gorm.DB, query *gorm.DB, excludeAllergens []string) *gorm.DB {
	expr := jsonArrayExpr(db, "known_allergens")
	for _, a := range excludeAllergens {
		query = query.Where(
			"NOT ("+expr+" LIKE ? AND allergen_confidence = ?)",
			`%"`+a+`"%`, allergen.ConfidenceHigh,
		)
	}
	return query
}

// tierSymbols maps numeric tiers to the stored '$'..'$$$$' symbols.
func tierSymbols(tiers TierList) []string {
	out := make([]string, 0, len(tiers))
	for _, t := range tiers {
		if t < 1 || t > 4 {
			continue
		}
		out = append(out, strings.Repeat("$", t))
	}
	return out
}

func toResults(rows []models.Restaurant) []types.RestaurantResult {
	out := make([]types.RestaurantResult, 0, len(rows))
	for _, row := range rows {
		out = append(out, toResult(row))
	}
	return out
}

func toResult(row models.Restaurant) types.RestaurantResult {
	return types.RestaurantResult{
		ID:                 row.ID,
		Name:               row.Name,
		Area:               row.Area,
		Address:            row.Address,
		PriceTier:          row.PriceTier,
		Rating:             row.Rating,
		Votes:              row.Votes,
		CuisineTypes:       append([]string(nil), row.CuisineTypes...),
		URL:                row.URL,
		Lat:                row.Lat,
		Lng:                row.Lng,
		KnownAllergens:     append([]string(nil), row.KnownAllergens...),
		AllergenConfidence: row.AllergenConfidence,
		Meta:               row.Meta,
	}
}

// GormVectorIndex serves nearest-neighbor queries over review embeddings.
// It requires the pgvector extension; on any other dialect it reports
// ErrVectorUnavailable and search falls back to rating order.
type GormVectorIndex struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewGormVectorIndex creates a new GormVectorIndex instance.
func NewGormVectorIndex(db *gorm.DB, logger zerolog.Logger) *GormVectorIndex {
	return &GormVectorIndex{db: db, logger: logger.With().Str("service", "vector_index").Logger()}
}

func (s *GormVectorIndex) SimilarReviews(ctx context.Context, embedding []float32, limit int) ([]ReviewMatch, error) {
	if s.db.Dialector.Name() != "postgres" {
		return nil, ErrVectorUnavailable
	}

	vec := pgvector.NewVector(embedding)
	var matches []ReviewMatch
	err := s.db.WithContext(ctx).Raw(
		`SELECT restaurant_id, embedding <-> ? AS distance
		 FROM reviews
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <-> ?
		 LIMIT ?`,
		vec, vec, limit,
	).Scan(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVectorUnavailable, err)
	}
	return matches, nil
}

func (s *GormVectorIndex) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Review{}).
		Where("embedding IS NOT NULL").
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count review embeddings: %w", err)
	}
	return count, nil
}

// GormUserStore reads and writes agent-side user profiles.
type GormUserStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewGormUserStore creates a new GormUserStore instance.
func NewGormUserStore(db *gorm.DB, logger zerolog.Logger) *GormUserStore {
	return &GormUserStore{db: db, logger: logger.With().Str("service", "user_store").Logger()}
}

func (s *GormUserStore) GetProfile(ctx context.Context, uid uuid.UUID) (*types.UserProfile, error) {
	var row models.UserProfile
	err := s.db.WithContext(ctx).Where("uid = ?", uid).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &types.UserProfile{
		UID:                 row.UID.String(),
		Preferences:         row.Preferences,
		Allergies:           types.Allergies(row.Allergies),
		AllergyFlags:        append([]string(nil), row.AllergyFlags...),
		DietaryFlags:        append([]string(nil), row.DietaryFlags...),
		VibeTags:            append([]string(nil), row.VibeTags...),
		PreferredPriceTiers: append([]string(nil), row.PreferredPriceTiers...),
		CuisineAffinity:     stringSlice(row.Preferences["cuisine_affinity"]),
		CuisineAversion:     stringSlice(row.Preferences["cuisine_aversion"]),
	}, nil
}

func (s *GormUserStore) CreateProfile(ctx context.Context, uid uuid.UUID, req *types.UserCreate) error {
	prefs := req.Preferences
	if prefs == nil {
		prefs = map[string]any{}
	}
	row := models.UserProfile{
		UID:                 uid,
		Preferences:         prefs,
		Allergies:           models.AllergiesJSON(req.Allergies),
		AllergyFlags:        allergen.NormalizeAll(req.Allergies.Confirmed),
		DietaryFlags:        req.DietaryFlags,
		VibeTags:            req.VibeTags,
		PreferredPriceTiers: req.PreferredPriceTiers,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

func (s *GormUserStore) SavePreferences(ctx context.Context, uid uuid.UUID, prefs map[string]any, dietary, vibes []string) error {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("uid = ?", uid).
		Updates(map[string]any{
			"preferences":    models.JSONBMap(prefs),
			"dietary_flags":  models.JSONBStringArray(dietary),
			"vibe_tags":      models.JSONBStringArray(vibes),
			"last_active_at": &now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to save preferences: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// ReplaceAllergies overwrites the full allergies object and resyncs the
// denormalized allergy_flags array. Replacement keeps stale allergens from
// accumulating, which matters more here than preserving history.
func (s *GormUserStore) ReplaceAllergies(ctx context.Context, uid uuid.UUID, allergies types.Allergies) ([]string, error) {
	flags := allergen.NormalizeAll(allergies.Confirmed)
	if flags == nil {
		flags = []string{}
	}
	result := s.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("uid = ?", uid).
		Updates(map[string]any{
			"allergies":     models.AllergiesJSON(allergies),
			"allergy_flags": models.JSONBStringArray(flags),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to replace allergies: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrProfileNotFound
	}
	return flags, nil
}

func (s *GormUserStore) BumpInteraction(ctx context.Context, uid uuid.UUID) error {
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&models.UserProfile{}).
		Where("uid = ?", uid).
		Updates(map[string]any{
			"interaction_count": gorm.Expr("interaction_count + 1"),
			"last_active_at":    &now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to bump interaction count: %w", err)
	}
	return nil
}

func (s *GormUserStore) ListInteractions(ctx context.Context, uid uuid.UUID, limit, offset int) (*types.InteractionListResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Interaction{}).Where("uid = ?", uid).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count interactions: %w", err)
	}

	var rows []models.Interaction
	err := s.db.WithContext(ctx).
		Where("uid = ?", uid).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list interactions: %w", err)
	}

	summaries := make([]types.InteractionSummary, 0, len(rows))
	for _, row := range rows {
		var response any
		if len(row.AgentResponse) > 0 {
			if err := json.Unmarshal(row.AgentResponse, &response); err != nil {
				response = nil
			}
		}
		summaries = append(summaries, types.InteractionSummary{
			ID:                   row.ID,
			UID:                  row.UID,
			UserQuery:            row.UserQuery,
			AgentResponse:        response,
			UIType:               row.UIType,
			RestaurantIDs:        append([]int64(nil), row.RestaurantIDs...),
			AllergyWarningsShown: row.AllergyWarningsShown,
			AllergensFlagged:     append([]string(nil), row.AllergensFlagged...),
			CreatedAt:            row.CreatedAt,
		})
	}

	return &types.InteractionListResponse{
		Interactions: summaries,
		Total:        total,
		Limit:        limit,
		Offset:       offset,
	}, nil
}

// stringSlice coerces a JSON-decoded preference value into a string slice.
func stringSlice(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
