package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kairoslabs/kairos-agent/internal/allergen"
	"github.com/kairoslabs/kairos-agent/internal/types"
)

// All prompt builders live here; no prompt strings anywhere else.
//
// Every prompt that can see restaurant data carries the allergy context, and
// the safety section always precedes the user message.

const promptPersona = "You are Kairos, a restaurant recommendation AI for Bangalore."

// buildUserContext formats preferences as a human-readable block.
func buildUserContext(preferences map[string]any) string {
	var parts []string

	add := func(label, key string) {
		if vals := stringSlice(preferences[key]); len(vals) > 0 {
			parts = append(parts, label+": "+strings.Join(vals, ", "))
		}
	}
	add("Dietary preferences", "dietary")
	add("Atmosphere preferences", "vibes")
	add("Cuisine preferences", "cuisine_affinity")
	add("Cuisines to avoid", "cuisine_aversion")
	add("Price comfort", "price_comfort")

	if bias, ok := preferences["location_bias"].(map[string]any); ok {
		if area, _ := bias["area"].(string); area != "" {
			radius := 5.0
			if r, ok := bias["radius_km"].(float64); ok {
				radius = r
			}
			parts = append(parts, fmt.Sprintf("Preferred location: %s (within %g km)", area, radius))
		}
	}
	if notes, _ := preferences["custom_notes"].(string); notes != "" {
		parts = append(parts, "Notes: "+notes)
	}

	if len(parts) == 0 {
		return "No preferences set."
	}
	return strings.Join(parts, "\n")
}

// buildAllergyContext formats allergy data as a safety-critical block that
// goes into every model prompt.
func buildAllergyContext(allergies types.Allergies) string {
	if allergies.Empty() {
		return "No known allergies on file."
	}

	parts := []string{"SAFETY-CRITICAL ALLERGY INFORMATION:"}

	if len(allergies.Confirmed) > 0 {
		details := make([]string, 0, len(allergies.Confirmed))
		for _, name := range allergies.Confirmed {
			severity := allergies.Severity[name]
			if !allergen.KnownSeverity(severity) {
				severity = allergen.SeveritySevere
			}
			details = append(details, fmt.Sprintf("%s (%s)", name, severity))
		}
		parts = append(parts, "  Confirmed allergens: "+strings.Join(details, ", "))
	}
	if len(allergies.Intolerances) > 0 {
		parts = append(parts, "  Intolerances: "+strings.Join(allergies.Intolerances, ", "))
	}
	if anaphylactic := allergies.Anaphylactic(); len(anaphylactic) > 0 {
		parts = append(parts, "  ⚠️  ANAPHYLACTIC ALLERGENS (MUST be in exclude_allergens): "+
			strings.Join(anaphylactic, ", "))
	}

	return strings.Join(parts, "\n")
}

func buildHistoryBlock(history []types.ChatMessage) string {
	if len(history) == 0 {
		return ""
	}
	// Last 3 turns (user + assistant pairs).
	if len(history) > 6 {
		history = history[len(history)-6:]
	}
	var b strings.Builder
	for _, turn := range history {
		// Binding rejects empty roles at the edge, but history also arrives
		// from internal callers; never index into an empty string.
		if turn.Role == "" {
			continue
		}
		role := strings.ToUpper(turn.Role[:1]) + turn.Role[1:]
		b.WriteString(role + ": " + turn.Content + "\n")
	}
	return b.String()
}

// buildPlannerPrompt is the ReAct planning call made at the start of each
// loop iteration. Observations accumulate the results of previous tool
// calls within the current turn.
func buildPlannerPrompt(userContext, allergyContext string, history []types.ChatMessage, message string, observations []string) string {
	observationsBlock := ""
	if len(observations) > 0 {
		lines := make([]string, 0, len(observations))
		for i, obs := range observations {
			lines = append(lines, fmt.Sprintf("  [%d] %s", i+1, obs))
		}
		observationsBlock = "\n## OBSERVATIONS FROM PREVIOUS STEPS THIS TURN\n" +
			strings.Join(lines, "\n") + "\n"
	}

	return promptPersona + `
You are operating inside a ReAct (Reasoning + Acting) loop.
On each iteration you must reason about the current state and choose exactly one tool to call next.

## USER CONTEXT
` + userContext + `

## SAFETY — USER ALLERGIES (NEVER SKIP)
` + allergyContext + `
Anaphylactic allergens MUST appear in sql_filters.exclude_allergens for any search_restaurants call.
This is non-negotiable.
` + observationsBlock + `
## CONVERSATION HISTORY
` + buildHistoryBlock(history) + `
## CURRENT USER MESSAGE
` + message + `

## AVAILABLE TOOLS

search_restaurants
  Input: { "sql_filters": { "price_tiers": [...], "cuisine_types": [...], "area": "...",
             "min_rating": 4.0, "exclude_allergens": [...] },
           "vector_query": "descriptive semantic query string" }
  Use when: you need to find restaurants matching criteria.
  Note: if a previous observation says 0 results, broaden filters (remove area, lower price tier, etc.).

evaluate_candidates
  Input: { "candidate_ids": [1, 2, 3, ...] }
  Use when: you have search results and want to score + rank them.
  Prerequisite: search_restaurants must have been called and returned results.

ask_clarification
  Input: { "question": "What specific question to ask the user?" }
  Use when: the query is genuinely ambiguous and you cannot make a reasonable assumption.
  Note: prefer searching with reasonable defaults over asking.

final_response
  Input: { "ui_type": "restaurant_list" | "radar_comparison" | "map_view" | "text" }
  Use when: you have enough evaluated candidates to give a useful answer.
  Note: you MUST call this to send results to the user. The loop ends after this.

## OUTPUT FORMAT
Output only valid JSON matching the schema below.
No markdown fences. No preamble. No explanation.

{
  "thought": "Brief reasoning about current state and why you are choosing this tool",
  "tool": "search_restaurants | evaluate_candidates | ask_clarification | final_response",
  "tool_input": { ... }
}`
}

// buildEvaluationPrompt asks the model to score candidates on the five
// radar dimensions. Returns a JSON array, one element per restaurant.
func buildEvaluationPrompt(message, userContext, restaurantsJSON, allergyContext string) string {
	return promptPersona + `
Score the following restaurants for the user's query.

## USER CONTEXT
` + userContext + `

## SAFETY — USER ALLERGIES
` + allergyContext + `

## USER QUERY
` + message + `

## RESTAURANTS TO SCORE
` + restaurantsJSON + `

## SCORING DIMENSIONS (0–10 each)
- romance: how romantic / intimate is the atmosphere
- noise_level: how quiet / peaceful (10 = very quiet)
- food_quality: quality and variety of food
- vegan_options: availability of vegan / plant-based dishes
- value_for_money: price vs quality ratio

## OUTPUT FORMAT
Output only a valid JSON array. No markdown fences. No preamble. No explanation.
Each element must have: id, romance, noise_level, food_quality, vegan_options, value_for_money.

Example:
[
  {"id": 1, "romance": 8.5, "noise_level": 7.0, "food_quality": 8.0, "vegan_options": 6.0, "value_for_money": 7.5},
  {"id": 2, "romance": 6.0, "noise_level": 9.0, "food_quality": 9.0, "vegan_options": 8.5, "value_for_money": 8.0}
]`
}

// buildProfilerPrompt extracts preference signals from one chat turn.
// Allergy fields are forbidden here; the caller strips them again anyway.
func buildProfilerPrompt(message, responseSummary string) string {
	return `You are extracting user preference signals from a dining conversation.

## USER MESSAGE
` + message + `

## AGENT RESPONSE SUMMARY
` + responseSummary + `

## YOUR TASK
Extract new preference signals ONLY from:
- dietary: dietary preferences (e.g. "vegan", "vegetarian", "halal")
- vibes: atmosphere preferences (e.g. "quiet", "romantic", "outdoor")
- cuisine_affinity: cuisines the user seems to like
- cuisine_aversion: cuisines the user seems to dislike
- price_comfort: price tiers the user is comfortable with (e.g. ["$$", "$$$"])

## RULES
- NEVER return allergy fields — allergies are never inferred from chat
- Only include fields where you found clear evidence in the conversation
- Output {} if nothing new was learned

## OUTPUT FORMAT
Output only valid JSON. No markdown fences. No preamble. No explanation.

Example:
{"dietary": ["vegan"], "vibes": ["quiet", "romantic"], "cuisine_affinity": ["south indian"]}`
}

// buildFitExplanationPrompt is the single batch call in the feed pipeline.
// One short, personal review line per restaurant.
func buildFitExplanationPrompt(restaurantsJSON, userContext, allergyContext string) string {
	return promptPersona + `
Write one short personalised review line for each restaurant below,
explaining in a warm tone why it fits this user.

## USER CONTEXT
` + userContext + `

## SAFETY — USER ALLERGIES
` + allergyContext + `

## RESTAURANTS
` + restaurantsJSON + `

## RULES
- Max 160 characters per review
- Mention something concrete (cuisine, vibe, area, value)
- Never claim a restaurant is allergen-free

## OUTPUT FORMAT
Output only a valid JSON array. No markdown fences. No preamble. No explanation.
Each element must have: restaurant_id, consolidated_review.

Example:
[
  {"restaurant_id": 12, "consolidated_review": "Beloved South Indian spot in Koramangala — quiet enough for conversation and easy on the wallet."}
]`
}

// buildExpandDetailPrompt produces the rich single-restaurant detail view.
func buildExpandDetailPrompt(restaurantJSON string, reviews []string, userContext, allergyContext string) string {
	reviewsBlock := "No reviews available."
	if len(reviews) > 0 {
		lines := make([]string, 0, len(reviews))
		for i, r := range reviews {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, r))
		}
		reviewsBlock = strings.Join(lines, "\n")
	}

	return promptPersona + `
Generate a detailed profile of the restaurant below for this user.

## USER CONTEXT
` + userContext + `

## SAFETY — USER ALLERGIES
` + allergyContext + `

## RESTAURANT
` + restaurantJSON + `

## RECENT REVIEWS
` + reviewsBlock + `

## OUTPUT FORMAT
Output only valid JSON matching the schema below.
No markdown fences. No preamble. No explanation.

{
  "review_summary": "2-3 sentence summary of what reviewers say",
  "highlights": [{"emoji": "🌿", "text": "short highlight"}],
  "crowd_profile": "who typically eats here and when",
  "best_for": ["occasion", "..."],
  "avoid_if": ["situation", "..."],
  "radar_scores": {"romance": 5.0, "noise_level": 5.0, "food_quality": 5.0, "vegan_options": 5.0, "value_for_money": 5.0},
  "why_fit_paragraph": "one paragraph on why this restaurant fits (or doesn't fit) this user"
}`
}

// marshalForPrompt renders a value as compact JSON for prompt embedding.
func marshalForPrompt(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
