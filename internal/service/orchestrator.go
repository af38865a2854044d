package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kairoslabs/kairos-agent/internal/allergen"
	"github.com/kairoslabs/kairos-agent/internal/types"
)

const maxIterations = 5

const (
	EventThinking = "thinking"
	EventResult   = "result"
)

// EmitFunc receives progress and terminal events during one chat turn. The
// transport layer turns them into SSE frames.
type EmitFunc func(event string, data any)

const (
	noMatchesMessage = "I couldn't find any restaurants matching your request. " +
		"Try broadening your search — different area, cuisine, or price range?"
	fallbackMessage = "I'm having trouble right now — try rephrasing your request."
	safetyFaultMsg  = "I encountered a safety check error. Please try again."
)

func fallbackPayload() *types.UIPayload {
	return &types.UIPayload{
		UIType:             types.UITypeText,
		Message:            fallbackMessage,
		Restaurants:        []types.RestaurantResult{},
		FlaggedRestaurants: []types.RestaurantResult{},
	}
}

// plan is the planner's structured output. Treated as an untrusted external
// payload: every field is validated on receipt.
type plan struct {
	Thought   string          `json:"thought"`
	Tool      string          `json:"tool"`
	ToolInput json.RawMessage `json:"tool_input"`
}

type searchToolInput struct {
	SQLFilters  SearchFilters `json:"sql_filters"`
	VectorQuery string        `json:"vector_query"`
}

type clarifyToolInput struct {
	Question string `json:"question"`
}

type finalToolInput struct {
	UIType string `json:"ui_type"`
}

// turnState is the per-request mutable state threaded through one loop
// execution. Never shared across requests.
type turnState struct {
	uid            uuid.UUID
	message        string
	history        []types.ChatMessage
	profile        *types.UserProfile
	userContext    string
	allergyContext string
	observations   []string
	candidates     []types.RestaurantResult
}

// Orchestrator runs the bounded ReAct loop that powers every chat turn.
// The allergy guard always runs inside the terminal step, never cached,
// never skipped.
type Orchestrator struct {
	gateway  LLMGateway
	ranker   Ranker
	guard    *AllergyGuard
	users    UserStore
	caches   *ResultCache
	recorder TurnAuditor
	profiler ProfileUpdater
	logger   zerolog.Logger
}

// NewOrchestrator creates a new Orchestrator instance.
func NewOrchestrator(
	gateway LLMGateway,
	ranker Ranker,
	guard *AllergyGuard,
	users UserStore,
	caches *ResultCache,
	recorder TurnAuditor,
	profiler ProfileUpdater,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		gateway:  gateway,
		ranker:   ranker,
		guard:    guard,
		users:    users,
		caches:   caches,
		recorder: recorder,
		profiler: profiler,
		logger:   logger.With().Str("service", "orchestrator").Logger(),
	}
}

// Run executes one chat turn, emitting progress events followed by exactly
// one result event. After the result, the audit write and the profiler run
// detached; their failures never reach the caller.
func (o *Orchestrator) Run(ctx context.Context, uid uuid.UUID, req *types.ChatRequest, emit EmitFunc) {
	emit(EventThinking, map[string]any{"step": "fetching_context"})

	profile, err := o.users.GetProfile(ctx, uid)
	if err != nil {
		o.logger.Error().Err(err).Str("uid", uid.String()).Msg("profile fetch failed")
		emit(EventResult, fallbackPayload())
		return
	}

	state := &turnState{
		uid:            uid,
		message:        req.Message,
		history:        req.ConversationHistory,
		profile:        profile,
		userContext:    buildUserContext(profile.Preferences),
		allergyContext: buildAllergyContext(profile.Allergies),
	}

	payload := o.runLoop(ctx, state, emit)
	emit(EventResult, payload)

	go o.recorder.Record(uid, req.Message, payload)
	go o.profiler.Update(uid, req.Message, payload.Message)
}

func (o *Orchestrator) runLoop(ctx context.Context, state *turnState, emit EmitFunc) *types.UIPayload {
	planKey := PlanKey(state.message, state.profile.VibeTags, state.profile.DietaryFlags)

	for iteration := 0; ; iteration++ {
		// Hard cap, checked before the planner call.
		if iteration >= maxIterations {
			o.logger.Warn().Msg("loop hit max iterations without final_response, forcing termination")
			if len(state.candidates) == 0 {
				return textPayload(noMatchesMessage)
			}
			emit(EventThinking, map[string]any{"step": "checking_allergies"})
			return o.guardAndBuild(state, types.UITypeRestaurantList, emit)
		}

		p, err := o.nextPlan(ctx, state, iteration, planKey)
		if err != nil {
			o.logger.Error().Err(err).Int("iteration", iteration).Msg("planner call failed")
			return fallbackPayload()
		}

		emit(EventThinking, map[string]any{
			"step": "planning", "iteration": iteration + 1, "thought": p.Thought,
		})

		switch p.Tool {
		case "search_restaurants":
			if payload := o.toolSearch(ctx, state, p.ToolInput, emit); payload != nil {
				return payload
			}

		case "evaluate_candidates":
			o.toolEvaluate(ctx, state, emit)

		case "ask_clarification":
			var input clarifyToolInput
			_ = json.Unmarshal(p.ToolInput, &input)
			if input.Question == "" {
				input.Question = "Could you please clarify your request?"
			}
			return textPayload(input.Question)

		case "final_response":
			var input finalToolInput
			_ = json.Unmarshal(p.ToolInput, &input)
			if len(state.candidates) == 0 {
				return textPayload(noMatchesMessage)
			}
			emit(EventThinking, map[string]any{"step": "checking_allergies"})
			return o.guardAndBuild(state, input.UIType, emit)

		default:
			// Unknown tool: force termination rather than loop.
			o.logger.Warn().Str("tool", p.Tool).Int("iteration", iteration).
				Msg("planner returned unknown tool, forcing final response")
			if len(state.candidates) == 0 {
				return fallbackPayload()
			}
			emit(EventThinking, map[string]any{"step": "checking_allergies"})
			return o.guardAndBuild(state, types.UITypeRestaurantList, emit)
		}
	}
}

// nextPlan returns the plan for this iteration, consulting the planning
// cache on iteration 0 only.
func (o *Orchestrator) nextPlan(ctx context.Context, state *turnState, iteration int, planKey string) (*plan, error) {
	if iteration == 0 {
		if cached, ok := o.caches.Plan.Get(ctx, planKey); ok {
			var p plan
			if err := json.Unmarshal(cached, &p); err == nil {
				o.logger.Debug().Str("key", planKey).Msg("plan cache hit")
				return &p, nil
			}
		}
	}

	prompt := buildPlannerPrompt(state.userContext, state.allergyContext, state.history, state.message, state.observations)
	raw, err := o.gateway.GenerateJSON(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var p plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("planner returned malformed plan: %w", err)
	}

	if iteration == 0 {
		o.caches.Plan.Set(ctx, planKey, raw)
	}
	return &p, nil
}

// toolSearch runs hybrid search with the anaphylactic override applied.
// Returns a terminal payload when candidates were found (auto-evaluate then
// terminate), nil when the loop should continue.
func (o *Orchestrator) toolSearch(ctx context.Context, state *turnState, rawInput json.RawMessage, emit EmitFunc) *types.UIPayload {
	var input searchToolInput
	if err := json.Unmarshal(rawInput, &input); err != nil {
		o.logger.Warn().Err(err).Msg("malformed search input, using defaults")
	}
	if input.VectorQuery == "" {
		input.VectorQuery = state.message
	}

	// Hard safety override: the user's anaphylactic allergens are always
	// excluded at the data layer, regardless of what the planner produced.
	filters := applyAnaphylacticOverride(input.SQLFilters, state.profile.Allergies)

	emit(EventThinking, map[string]any{"step": "searching", "filters": filters})

	results, cacheHit := o.searchWithCache(ctx, filters, input.VectorQuery)
	state.candidates = results

	hitLabel := ""
	if cacheHit {
		hitLabel = " (cache hit)"
	}
	state.observations = append(state.observations, fmt.Sprintf(
		"search_restaurants%s: found %d results for filters=%s, vector_query=%q.",
		hitLabel, len(results), marshalForPrompt(filters), input.VectorQuery,
	))

	if len(results) == 0 {
		state.observations = append(state.observations,
			"search_restaurants: 0 results — broaden filters on next iteration "+
				"(remove area constraint, lower price tier, drop cuisine filter).")
		return nil
	}

	// Candidates exist: evaluate and deliver now instead of letting the
	// planner spend the remaining iterations re-searching.
	emit(EventThinking, map[string]any{"step": "evaluating", "count": len(results)})
	state.candidates = o.evaluateCandidates(ctx, state)
	emit(EventThinking, map[string]any{"step": "checking_allergies"})
	return o.guardAndBuild(state, types.UITypeRestaurantList, emit)
}

func (o *Orchestrator) searchWithCache(ctx context.Context, filters SearchFilters, vectorQuery string) ([]types.RestaurantResult, bool) {
	key := SearchKey(filters, vectorQuery)
	if cached, ok := o.caches.Search.Get(ctx, key); ok {
		var results []types.RestaurantResult
		if err := json.Unmarshal(cached, &results); err == nil {
			o.logger.Debug().Str("key", key).Msg("search cache hit")
			return results, true
		}
	}

	results, err := o.ranker.Search(ctx, filters, vectorQuery, 15)
	if err != nil {
		o.logger.Error().Err(err).Msg("hybrid search failed")
		return nil, false
	}
	if len(results) > 0 {
		if data, err := json.Marshal(results); err == nil {
			o.caches.Search.Set(ctx, key, data)
		}
	}
	return results, false
}

func (o *Orchestrator) toolEvaluate(ctx context.Context, state *turnState, emit EmitFunc) {
	if len(state.candidates) == 0 {
		state.observations = append(state.observations,
			"evaluate_candidates: skipped — no candidates available yet. Call search_restaurants first.")
		return
	}
	emit(EventThinking, map[string]any{"step": "evaluating", "count": len(state.candidates)})
	state.candidates = o.evaluateCandidates(ctx, state)
	topName := "none"
	if len(state.candidates) > 0 {
		topName = state.candidates[0].Name
	}
	state.observations = append(state.observations, fmt.Sprintf(
		"evaluate_candidates: scored %d candidates. Top: %q.", len(state.candidates), topName))
}

// evaluateCandidates re-scores the top slice with model-assigned dimension
// values and composite-sorts. A failed model call leaves candidates in
// their current order with zeroed scores.
func (o *Orchestrator) evaluateCandidates(ctx context.Context, state *turnState) []types.RestaurantResult {
	top := state.candidates
	if len(top) > 10 {
		top = top[:10]
	}

	summaries := make([]map[string]any, 0, len(top))
	for _, r := range top {
		summaries = append(summaries, map[string]any{
			"id":            r.ID,
			"name":          r.Name,
			"area":          r.Area,
			"price_tier":    r.PriceTier,
			"rating":        r.Rating,
			"cuisine_types": r.CuisineTypes,
			"meta":          r.Meta,
		})
	}

	prompt := buildEvaluationPrompt(state.message, state.userContext, marshalForPrompt(summaries), state.allergyContext)

	scoresByID := map[int64]map[string]float64{}
	raw, err := o.gateway.GenerateJSON(ctx, prompt)
	if err != nil {
		o.logger.Warn().Err(err).Msg("candidate scoring failed, proceeding without scores")
	} else {
		var items []map[string]float64
		if err := json.Unmarshal(raw, &items); err != nil {
			o.logger.Warn().Err(err).Msg("candidate scoring returned malformed list")
		} else {
			for _, item := range items {
				if id, ok := item["id"]; ok {
					scoresByID[int64(id)] = item
				}
			}
		}
	}

	scored := make([]types.RestaurantResult, len(top))
	for i, r := range top {
		s := scoresByID[r.ID]
		r.Scores = &types.RadarScores{
			Romance:       s["romance"],
			NoiseLevel:    s["noise_level"],
			FoodQuality:   s["food_quality"],
			VeganOptions:  s["vegan_options"],
			ValueForMoney: s["value_for_money"],
		}
		scored[i] = r
	}

	composite := func(r types.RestaurantResult) float64 {
		if r.Scores == nil {
			return 0
		}
		s := r.Scores
		return (s.Romance + s.FoodQuality + s.ValueForMoney + s.VeganOptions) / 4
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return composite(scored[i]) > composite(scored[j])
	})
	return scored
}

// guardAndBuild runs the allergy guard on the current candidates and
// assembles the terminal payload. A guard fault yields a refusal payload,
// never candidate data.
func (o *Orchestrator) guardAndBuild(state *turnState, uiType string, _ EmitFunc) *types.UIPayload {
	candidates := state.candidates
	if len(candidates) > 5 {
		candidates = candidates[:5]
	}

	result, err := o.guard.Check(candidates, state.profile.Allergies)
	if err != nil {
		o.logger.Error().Err(err).Msg("allergy guard fault, refusing to emit candidates")
		return &types.UIPayload{
			UIType:             types.UITypeText,
			Message:            safetyFaultMsg,
			Restaurants:        []types.RestaurantResult{},
			FlaggedRestaurants: []types.RestaurantResult{},
		}
	}

	if !types.ValidUIType(uiType) {
		uiType = types.UITypeRestaurantList
	}

	return &types.UIPayload{
		UIType:             uiType,
		Message:            buildResponseMessage(result),
		Restaurants:        result.Safe,
		FlaggedRestaurants: result.Flagged,
		HasAllergyWarnings: result.HasAnyWarnings,
	}
}

func buildResponseMessage(result *GuardResult) string {
	total := len(result.Safe) + len(result.Flagged)
	if total == 0 {
		return "I couldn't find any restaurants that match your request. " +
			"Try a different area, cuisine, or price range?"
	}

	msg := fmt.Sprintf("I found %d restaurant%s for you!", total, plural(total))
	if flagged := len(result.Flagged); flagged > 0 {
		verb := "ve"
		if flagged == 1 {
			verb = "s"
		}
		msg += fmt.Sprintf(" %d ha%s a high-risk allergy note — I've flagged it clearly "+
			"at the bottom so you can decide.", flagged, verb)
	} else if result.HasAnyWarnings {
		msg += " I've noted allergy information for some options — check the warnings before visiting."
	}
	return msg
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func textPayload(message string) *types.UIPayload {
	return &types.UIPayload{
		UIType:             types.UITypeText,
		Message:            message,
		Restaurants:        []types.RestaurantResult{},
		FlaggedRestaurants: []types.RestaurantResult{},
	}
}

// applyAnaphylacticOverride unions the user's anaphylactic allergens into
// the exclusion set before any data-layer query runs.
func applyAnaphylacticOverride(filters SearchFilters, allergies types.Allergies) SearchFilters {
	anaphylactic := allergies.Anaphylactic()
	if len(anaphylactic) == 0 {
		return filters
	}
	merged := allergen.NormalizeAll(append(append([]string{}, filters.ExcludeAllergens...), anaphylactic...))
	filters.ExcludeAllergens = merged
	return filters
}

// used by background task scheduling; detached from the request context.
var backgroundTimeout = 30 * time.Second

func backgroundContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), backgroundTimeout)
}
