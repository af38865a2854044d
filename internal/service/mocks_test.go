package service

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/kairoslabs/kairos-agent/internal/types"
)

// MockGateway is a mock implementation of LLMGateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) GenerateText(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	args := m.Called(ctx, prompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}

// MockEmbedder is a mock implementation of Embedder
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockVectorIndex is a mock implementation of VectorIndex
type MockVectorIndex struct {
	mock.Mock
}

func (m *MockVectorIndex) SimilarReviews(ctx context.Context, embedding []float32, limit int) ([]ReviewMatch, error) {
	args := m.Called(ctx, embedding, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ReviewMatch), args.Error(1)
}

func (m *MockVectorIndex) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

// MockRestaurantStore is a mock implementation of RestaurantStore
type MockRestaurantStore struct {
	mock.Mock
}

func (m *MockRestaurantStore) FindByFilters(ctx context.Context, filters SearchFilters) ([]types.RestaurantResult, error) {
	args := m.Called(ctx, filters)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.RestaurantResult), args.Error(1)
}

func (m *MockRestaurantStore) TopRated(ctx context.Context, excludeAllergens []string, limit int) ([]types.RestaurantResult, error) {
	args := m.Called(ctx, excludeAllergens, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.RestaurantResult), args.Error(1)
}

func (m *MockRestaurantStore) GetRestaurant(ctx context.Context, id int64) (*types.RestaurantResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.RestaurantResult), args.Error(1)
}

func (m *MockRestaurantStore) RecentReviewTexts(ctx context.Context, restaurantID int64, limit int) ([]string, error) {
	args := m.Called(ctx, restaurantID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockUserStore is a mock implementation of UserStore
type MockUserStore struct {
	mock.Mock
}

func (m *MockUserStore) GetProfile(ctx context.Context, uid uuid.UUID) (*types.UserProfile, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.UserProfile), args.Error(1)
}

func (m *MockUserStore) CreateProfile(ctx context.Context, uid uuid.UUID, req *types.UserCreate) error {
	args := m.Called(ctx, uid, req)
	return args.Error(0)
}

func (m *MockUserStore) SavePreferences(ctx context.Context, uid uuid.UUID, prefs map[string]any, dietary, vibes []string) error {
	args := m.Called(ctx, uid, prefs, dietary, vibes)
	return args.Error(0)
}

func (m *MockUserStore) ReplaceAllergies(ctx context.Context, uid uuid.UUID, allergies types.Allergies) ([]string, error) {
	args := m.Called(ctx, uid, allergies)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockUserStore) BumpInteraction(ctx context.Context, uid uuid.UUID) error {
	args := m.Called(ctx, uid)
	return args.Error(0)
}

func (m *MockUserStore) ListInteractions(ctx context.Context, uid uuid.UUID, limit, offset int) (*types.InteractionListResponse, error) {
	args := m.Called(ctx, uid, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.InteractionListResponse), args.Error(1)
}

// MockRanker is a mock implementation of Ranker
type MockRanker struct {
	mock.Mock
}

func (m *MockRanker) Search(ctx context.Context, filters SearchFilters, semanticQuery string, limit int) ([]types.RestaurantResult, error) {
	args := m.Called(ctx, filters, semanticQuery, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]types.RestaurantResult), args.Error(1)
}

// noopAuditor and noopProfiler absorb the detached post-response tasks so
// loop tests don't race against goroutines.
type noopAuditor struct {
	mu       sync.Mutex
	recorded []*types.UIPayload
}

func (a *noopAuditor) Record(_ uuid.UUID, _ string, payload *types.UIPayload) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recorded = append(a.recorded, payload)
}

type noopProfiler struct{}

func (noopProfiler) Update(uuid.UUID, string, string) {}
