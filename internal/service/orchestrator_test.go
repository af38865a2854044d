package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kairoslabs/kairos-agent/internal/types"
)

type emittedEvent struct {
	name string
	data any
}

type eventRecorder struct {
	events []emittedEvent
}

func (r *eventRecorder) emit(event string, data any) {
	r.events = append(r.events, emittedEvent{name: event, data: data})
}

func (r *eventRecorder) result(t *testing.T) *types.UIPayload {
	t.Helper()
	var payloads []*types.UIPayload
	for _, e := range r.events {
		if e.name == EventResult {
			payloads = append(payloads, e.data.(*types.UIPayload))
		}
	}
	require.Len(t, payloads, 1, "expected exactly one result event")
	return payloads[0]
}

func planRaw(t *testing.T, thought, tool string, input any) json.RawMessage {
	t.Helper()
	toolInput, err := json.Marshal(input)
	require.NoError(t, err)
	raw, err := json.Marshal(plan{Thought: thought, Tool: tool, ToolInput: toolInput})
	require.NoError(t, err)
	return raw
}

func chatProfile(allergies types.Allergies) *types.UserProfile {
	return &types.UserProfile{
		UID:          uuid.NewString(),
		Preferences:  map[string]any{"vibes": []any{"romantic"}},
		Allergies:    allergies,
		DietaryFlags: []string{"vegetarian"},
		VibeTags:     []string{"romantic"},
	}
}

func newTestOrchestrator(gateway LLMGateway, ranker Ranker, users UserStore) (*Orchestrator, *noopAuditor) {
	auditor := &noopAuditor{}
	o := NewOrchestrator(
		gateway, ranker, NewAllergyGuard(zerolog.Nop()), users,
		NewMemoryResultCache(), auditor, noopProfiler{}, zerolog.Nop(),
	)
	return o, auditor
}

func evalRaw(ids ...int64) json.RawMessage {
	items := make([]map[string]float64, 0, len(ids))
	for i, id := range ids {
		items = append(items, map[string]float64{
			"id":              float64(id),
			"romance":         8 - float64(i),
			"food_quality":    8,
			"value_for_money": 7,
			"vegan_options":   6,
			"noise_level":     4,
		})
	}
	raw, _ := json.Marshal(items)
	return raw
}

func TestOrchestratorRun(t *testing.T) {
	ctx := context.Background()
	uid := uuid.New()

	t.Run("search plan delivers evaluated, guarded results", func(t *testing.T) {
		gateway := new(MockGateway)
		ranker := new(MockRanker)
		users := new(MockUserStore)
		rec := &eventRecorder{}

		users.On("GetProfile", mock.Anything, uid).Return(chatProfile(types.Allergies{}), nil)
		gateway.On("GenerateJSON", mock.Anything, mock.Anything).
			Return(planRaw(t, "searching for italian", "search_restaurants", searchToolInput{
				SQLFilters:  SearchFilters{Cuisines: []string{"italian"}},
				VectorQuery: "romantic italian dinner",
			}), nil).Once()
		ranker.On("Search", mock.Anything, mock.Anything, "romantic italian dinner", 15).
			Return([]types.RestaurantResult{
				{ID: 1, Name: "Trattoria", Rating: floatPtr(4.2)},
				{ID: 2, Name: "Osteria", Rating: floatPtr(4.6)},
			}, nil).Once()
		gateway.On("GenerateJSON", mock.Anything, mock.Anything).Return(evalRaw(2, 1), nil).Once()

		o, auditor := newTestOrchestrator(gateway, ranker, users)
		o.Run(ctx, uid, &types.ChatRequest{Message: "romantic italian dinner"}, rec.emit)

		payload := rec.result(t)
		assert.Equal(t, types.UITypeRestaurantList, payload.UIType)
		require.Len(t, payload.Restaurants, 2)
		assert.Equal(t, int64(2), payload.Restaurants[0].ID)
		assert.NotNil(t, payload.Restaurants[0].Scores)
		assert.Empty(t, payload.FlaggedRestaurants)
		assert.False(t, payload.HasAllergyWarnings)

		gateway.AssertExpectations(t)
		ranker.AssertExpectations(t)
		_ = auditor
	})

	t.Run("anaphylactic allergens reach the data layer regardless of planner output", func(t *testing.T) {
		gateway := new(MockGateway)
		ranker := new(MockRanker)
		users := new(MockUserStore)
		rec := &eventRecorder{}

		allergies := types.Allergies{
			Confirmed: []string{"groundnut"},
			Severity:  map[string]string{"groundnut": "anaphylactic"},
		}
		users.On("GetProfile", mock.Anything, uid).Return(chatProfile(allergies), nil)
		// The planner "forgot" the allergen.
		gateway.On("GenerateJSON", mock.Anything, mock.Anything).
			Return(planRaw(t, "", "search_restaurants", searchToolInput{
				SQLFilters: SearchFilters{Area: "indiranagar"},
			}), nil).Once()
		ranker.On("Search", mock.Anything, mock.MatchedBy(func(f SearchFilters) bool {
			for _, a := range f.ExcludeAllergens {
				if a == "peanuts" {
					return true
				}
			}
			return false
		}), mock.Anything, 15).Return([]types.RestaurantResult{}, nil).Once()
		// Empty results: the loop continues; next plan gives up.
		gateway.On("GenerateJSON", mock.Anything, mock.Anything).
			Return(planRaw(t, "", "final_response", finalToolInput{UIType: "restaurant_list"}), nil).Once()

		o, _ := newTestOrchestrator(gateway, ranker, users)
		o.Run(ctx, uid, &types.ChatRequest{Message: "dinner in indiranagar"}, rec.emit)

		payload := rec.result(t)
		assert.Equal(t, types.UITypeText, payload.UIType)
		assert.Equal(t, noMatchesMessage, payload.Message)
		ranker.AssertExpectations(t)
	})

	t.Run("anaphylactic match is flagged, not dropped", func(t *testing.T) {
		gateway := new(MockGateway)
		ranker := new(MockRanker)
		users := new(MockUserStore)
		rec := &eventRecorder{}

		allergies := types.Allergies{
			Confirmed: []string{"peanuts"},
			Severity:  map[string]string{"peanuts": "anaphylactic"},
		}
		users.On("GetProfile", mock.Anything, uid).Return(chatProfile(allergies), nil)
		gateway.On("GenerateJSON", mock.Anything, mock.Anything).
			Return(planRaw(t, "", "search_restaurants", searchToolInput{}), nil).Once()
		// A medium-confidence row slips past the data-layer exclusion.
		ranker.On("Search", mock.Anything, mock.Anything, mock.Anything, 15).
			Return([]types.RestaurantResult{
				{ID: 1, Name: "Safe Spot", Rating: floatPtr(4.0), AllergenConfidence: "high"},
				{ID: 2, Name: "Risky Thai", Rating: floatPtr(4.5), KnownAllergens: []string{"peanuts"}, AllergenConfidence: "high"},
			}, nil).Once()
		gateway.On("GenerateJSON", mock.Anything, mock.Anything).Return(evalRaw(2, 1), nil).Once()

		o, _ := newTestOrchestrator(gateway, ranker, users)
		o.Run(ctx, uid, &types.ChatRequest{Message: "thai food"}, rec.emit)

		payload := rec.result(t)
		require.Len(t, payload.Restaurants, 1)
		assert.Equal(t, "Safe Spot", payload.Restaurants[0].Name)
		require.Len(t, payload.FlaggedRestaurants, 1)
		assert.Equal(t, "Risky Thai", payload.FlaggedRestaurants[0].Name)
		assert.True(t, payload.HasAllergyWarnings)
		assert.Contains(t, payload.Message, "high-risk allergy note")
	})

	t.Run("ask_clarification short-circuits without searching", func(t *testing.T) {
		gateway := new(MockGateway)
		ranker := new(MockRanker)
		users := new(MockUserStore)
		rec := &eventRecorder{}

		users.On("GetProfile", mock.Anything, uid).Return(chatProfile(types.Allergies{}), nil)
		gateway.On("GenerateJSON", mock.Anything, mock.Anything).
			Return(planRaw(t, "too vague", "ask_clarification", clarifyToolInput{
				Question: "What part of town are you in?",
			}), nil).Once()

		o, _ := newTestOrchestrator(gateway, ranker, users)
		o.Run(ctx, uid, &types.ChatRequest{Message: "food"}, rec.emit)

		payload := rec.result(t)
		assert.Equal(t, types.UITypeText, payload.UIType)
		assert.Equal(t, "What part of town are you in?", payload.Message)
		ranker.AssertNotCalled(t, "Search")
	})

	t.Run("history entry with empty role still produces one result event", func(t *testing.T) {
		gateway := new(MockGateway)
		users := new(MockUserStore)
		rec := &eventRecorder{}

		users.On("GetProfile", mock.Anything, uid).Return(chatProfile(types.Allergies{}), nil)
		gateway.On("GenerateJSON", mock.Anything, mock.Anything).
			Return(planRaw(t, "", "ask_clarification", clarifyToolInput{
				Question: "Which area?",
			}), nil).Once()

		o, _ := newTestOrchestrator(gateway, new(MockRanker), users)
		o.Run(ctx, uid, &types.ChatRequest{
			Message:             "dinner",
			ConversationHistory: []types.ChatMessage{{Role: "", Content: "hi"}},
		}, rec.emit)

		assert.Equal(t, "Which area?", rec.result(t).Message)
	})

	t.Run("unknown tool with no candidates terminates with fallback", func(t *testing.T) {
		gateway := new(MockGateway)
		users := new(MockUserStore)
		rec := &eventRecorder{}

		users.On("GetProfile", mock.Anything, uid).Return(chatProfile(types.Allergies{}), nil)
		gateway.On("GenerateJSON", mock.Anything, mock.Anything).
			Return(planRaw(t, "", "book_table", map[string]any{}), nil).Once()

		o, _ := newTestOrchestrator(gateway, new(MockRanker), users)
		o.Run(ctx, uid, &types.ChatRequest{Message: "book me a table"}, rec.emit)

		payload := rec.result(t)
		assert.Equal(t, fallbackMessage, payload.Message)
		gateway.AssertNumberOfCalls(t, "GenerateJSON", 1)
	})

	t.Run("loop is capped at five planner iterations", func(t *testing.T) {
		gateway := new(MockGateway)
		users := new(MockUserStore)
		rec := &eventRecorder{}

		users.On("GetProfile", mock.Anything, uid).Return(chatProfile(types.Allergies{}), nil)
		// evaluate_candidates with no candidates never terminates on its own.
		gateway.On("GenerateJSON", mock.Anything, mock.Anything).
			Return(planRaw(t, "", "evaluate_candidates", map[string]any{}), nil)

		o, _ := newTestOrchestrator(gateway, new(MockRanker), users)
		o.Run(ctx, uid, &types.ChatRequest{Message: "anything"}, rec.emit)

		payload := rec.result(t)
		assert.Equal(t, noMatchesMessage, payload.Message)
		gateway.AssertNumberOfCalls(t, "GenerateJSON", maxIterations)
	})

	t.Run("planner failure yields fallback payload", func(t *testing.T) {
		gateway := new(MockGateway)
		users := new(MockUserStore)
		rec := &eventRecorder{}

		users.On("GetProfile", mock.Anything, uid).Return(chatProfile(types.Allergies{}), nil)
		gateway.On("GenerateJSON", mock.Anything, mock.Anything).Return(nil, ErrGenerationFailed)

		o, _ := newTestOrchestrator(gateway, new(MockRanker), users)
		o.Run(ctx, uid, &types.ChatRequest{Message: "anything"}, rec.emit)

		assert.Equal(t, fallbackMessage, rec.result(t).Message)
	})

	t.Run("profile fetch failure yields fallback payload", func(t *testing.T) {
		gateway := new(MockGateway)
		users := new(MockUserStore)
		rec := &eventRecorder{}

		users.On("GetProfile", mock.Anything, uid).Return(nil, errors.New("connection refused"))

		o, _ := newTestOrchestrator(gateway, new(MockRanker), users)
		o.Run(ctx, uid, &types.ChatRequest{Message: "anything"}, rec.emit)

		assert.Equal(t, fallbackMessage, rec.result(t).Message)
		gateway.AssertNotCalled(t, "GenerateJSON")
	})

	t.Run("identical turns reuse plan and search caches", func(t *testing.T) {
		gateway := new(MockGateway)
		ranker := new(MockRanker)
		users := new(MockUserStore)

		users.On("GetProfile", mock.Anything, uid).Return(chatProfile(types.Allergies{}), nil)
		gateway.On("GenerateJSON", mock.Anything, mock.Anything).
			Return(planRaw(t, "", "search_restaurants", searchToolInput{
				SQLFilters: SearchFilters{Cuisines: []string{"thai"}},
			}), nil).Once()
		ranker.On("Search", mock.Anything, mock.Anything, mock.Anything, 15).
			Return([]types.RestaurantResult{{ID: 1, Name: "Basil", Rating: floatPtr(4.4)}}, nil).Once()
		// Evaluation runs once per turn; it is never cached.
		gateway.On("GenerateJSON", mock.Anything, mock.Anything).Return(evalRaw(1), nil).Times(2)

		o, _ := newTestOrchestrator(gateway, ranker, users)
		first := &eventRecorder{}
		second := &eventRecorder{}
		o.Run(ctx, uid, &types.ChatRequest{Message: "thai tonight"}, first.emit)
		o.Run(ctx, uid, &types.ChatRequest{Message: "thai tonight"}, second.emit)

		require.Len(t, second.result(t).Restaurants, 1)
		// One planner call, two evaluation calls, one ranker call total.
		gateway.AssertNumberOfCalls(t, "GenerateJSON", 3)
		ranker.AssertNumberOfCalls(t, "Search", 1)
	})
}

func TestApplyAnaphylacticOverride(t *testing.T) {
	allergies := types.Allergies{
		Confirmed: []string{"peanuts", "shellfish"},
		Severity:  map[string]string{"peanuts": "anaphylactic", "shellfish": "moderate"},
	}

	got := applyAnaphylacticOverride(SearchFilters{ExcludeAllergens: []string{"soy"}}, allergies)
	assert.ElementsMatch(t, []string{"soy", "peanuts"}, got.ExcludeAllergens)
	assert.NotContains(t, got.ExcludeAllergens, "shellfish")

	// No anaphylactic allergens: filters pass through untouched.
	got = applyAnaphylacticOverride(SearchFilters{ExcludeAllergens: []string{"soy"}}, types.Allergies{
		Confirmed: []string{"dairy"},
		Severity:  map[string]string{"dairy": "moderate"},
	})
	assert.Equal(t, []string{"soy"}, got.ExcludeAllergens)
}
