package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/kairoslabs/kairos-agent/internal/types"
)

// LLMGateway is the language-model collaborator. Both methods perform their
// own retry and model failover; any failure surfaces as ErrGenerationFailed
// and callers degrade rather than propagate it.
type LLMGateway interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error)
}

// Embedder produces query embeddings for semantic search.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ReviewMatch is one nearest-neighbor hit from the vector index.
type ReviewMatch struct {
	RestaurantID int64
	Distance     float64
}

// VectorIndex is the nearest-neighbor collaborator over review embeddings.
type VectorIndex interface {
	// SimilarReviews returns review-level matches ordered by ascending
	// distance. One restaurant may appear multiple times.
	SimilarReviews(ctx context.Context, embedding []float32, limit int) ([]ReviewMatch, error)
	Count(ctx context.Context) (int64, error)
}

// RestaurantStore is the scalar-predicate collaborator over restaurant rows.
type RestaurantStore interface {
	// FindByFilters returns active restaurants satisfying every filter,
	// with ExcludeAllergens enforced as a hard AND-NOT predicate.
	FindByFilters(ctx context.Context, filters SearchFilters) ([]types.RestaurantResult, error)
	// TopRated returns up to limit active restaurants ordered by rating
	// descending, excluding any with the given allergens.
	TopRated(ctx context.Context, excludeAllergens []string, limit int) ([]types.RestaurantResult, error)
	GetRestaurant(ctx context.Context, id int64) (*types.RestaurantResult, error)
	RecentReviewTexts(ctx context.Context, restaurantID int64, limit int) ([]string, error)
}

// UserStore reads and writes agent-side user profiles.
type UserStore interface {
	GetProfile(ctx context.Context, uid uuid.UUID) (*types.UserProfile, error)
	CreateProfile(ctx context.Context, uid uuid.UUID, req *types.UserCreate) error
	// SavePreferences persists an already-merged preferences object along
	// with the denormalized dietary/vibe arrays and bumps activity fields.
	SavePreferences(ctx context.Context, uid uuid.UUID, prefs map[string]any, dietary, vibes []string) error
	ReplaceAllergies(ctx context.Context, uid uuid.UUID, allergies types.Allergies) ([]string, error)
	BumpInteraction(ctx context.Context, uid uuid.UUID) error
	ListInteractions(ctx context.Context, uid uuid.UUID, limit, offset int) (*types.InteractionListResponse, error)
}

// Ranker is the hybrid search contract consumed by the orchestrator.
type Ranker interface {
	Search(ctx context.Context, filters SearchFilters, semanticQuery string, limit int) ([]types.RestaurantResult, error)
}

// TurnAuditor persists the audit record of a finished chat turn. Runs
// detached from the response path.
type TurnAuditor interface {
	Record(uid uuid.UUID, message string, payload *types.UIPayload)
}

// ProfileUpdater folds preference signals from a finished turn into the
// user's profile. Runs detached from the response path.
type ProfileUpdater interface {
	Update(uid uuid.UUID, message, responseSummary string)
}

// Interface conformance checks.
var (
	_ LLMGateway      = (*LLMService)(nil)
	_ Embedder        = (*EmbeddingService)(nil)
	_ VectorIndex     = (*GormVectorIndex)(nil)
	_ RestaurantStore = (*GormRestaurantStore)(nil)
	_ UserStore       = (*GormUserStore)(nil)
	_ Ranker          = (*HybridSearchService)(nil)
	_ TurnAuditor     = (*InteractionRecorder)(nil)
	_ ProfileUpdater  = (*Profiler)(nil)
)
