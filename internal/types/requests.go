package types

import (
	"time"

	"github.com/google/uuid"
)

// ChatMessage is a single turn in the conversation history.
type ChatMessage struct {
	Role    string `json:"role" binding:"required,oneof=user assistant"`
	Content string `json:"content" binding:"required"`
}

// ChatRequest is the body for POST /chat.
type ChatRequest struct {
	Message             string        `json:"message" binding:"required,min=1,max=2000"`
	ConversationHistory []ChatMessage `json:"conversation_history" binding:"omitempty,dive"`
}

// UserCreate is the body for POST /users/:uid, sent by the backend after
// user registration.
type UserCreate struct {
	Preferences         map[string]any `json:"preferences"`
	Allergies           Allergies      `json:"allergies"`
	DietaryFlags        []string       `json:"dietary_flags"`
	VibeTags            []string       `json:"vibe_tags"`
	AllergyFlags        []string       `json:"allergy_flags"`
	PreferredPriceTiers []string       `json:"preferred_price_tiers"`
}

// PreferencesPatch is the body for PATCH /users/:uid. Deep-merges into
// preferences only.
type PreferencesPatch struct {
	Preferences map[string]any `json:"preferences" binding:"required"`
}

// AllergiesPatch is the body for PATCH /users/:uid/allergies.
// This is a FULL REPLACE of the allergies object, not a merge, so stale
// allergy data cannot accumulate over time.
type AllergiesPatch struct {
	Confirmed    []string          `json:"confirmed"`
	Intolerances []string          `json:"intolerances"`
	Severity     map[string]string `json:"severity"`
}

// AllergyFlagsResponse is the response for PATCH /users/:uid/allergies.
type AllergyFlagsResponse struct {
	UID          uuid.UUID `json:"uid"`
	AllergyFlags []string  `json:"allergy_flags"`
	Updated      bool      `json:"updated"`
}

// InteractionSummary is a serialized record of one past chat turn.
type InteractionSummary struct {
	ID                   int64     `json:"id"`
	UID                  uuid.UUID `json:"uid"`
	UserQuery            string    `json:"user_query"`
	AgentResponse        any       `json:"agent_response"`
	UIType               string    `json:"ui_type,omitempty"`
	RestaurantIDs        []int64   `json:"restaurant_ids"`
	AllergyWarningsShown bool      `json:"allergy_warnings_shown"`
	AllergensFlagged     []string  `json:"allergens_flagged"`
	CreatedAt            time.Time `json:"created_at"`
}

// InteractionListResponse is a paginated list of interactions.
type InteractionListResponse struct {
	Interactions []InteractionSummary `json:"interactions"`
	Total        int64                `json:"total"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}
