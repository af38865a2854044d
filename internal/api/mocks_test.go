package api

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/kairoslabs/kairos-agent/internal/service"
	"github.com/kairoslabs/kairos-agent/internal/types"
)

// MockUserStore is a mock implementation of service.UserStore
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

// MockRestaurantStore is a mock implementation of service.RestaurantStore
type MockRestaurantStore struct {
	mock.Mock
}

func (m *MockRestaurantStore) FindByFilters(ctx context.Context, filters service.SearchFilters) ([]types.RestaurantResult, error) {
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

// MockGateway is a mock implementation of service.LLMGateway
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
