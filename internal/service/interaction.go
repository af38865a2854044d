package service

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/kairoslabs/kairos-agent/internal/models"
	"github.com/kairoslabs/kairos-agent/internal/types"
)

// InteractionRecorder persists the audit record of each chat turn. Writes
// run detached from the response path; failures are logged and swallowed.
type InteractionRecorder struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewInteractionRecorder creates a new InteractionRecorder instance.
func NewInteractionRecorder(db *gorm.DB, logger zerolog.Logger) *InteractionRecorder {
	return &InteractionRecorder{db: db, logger: logger.With().Str("service", "interaction_recorder").Logger()}
}

// Record writes the audit row for one completed turn, including which
// allergy warnings were shown.
func (r *InteractionRecorder) Record(uid uuid.UUID, message string, payload *types.UIPayload) {
	ctx, cancel := backgroundContext()
	defer cancel()

	all := append(append([]types.RestaurantResult{}, payload.Restaurants...), payload.FlaggedRestaurants...)

	restaurantIDs := make(pq.Int64Array, 0, len(all))
	var allergensFlagged pq.StringArray
	seen := map[string]bool{}
	for _, restaurant := range all {
		restaurantIDs = append(restaurantIDs, restaurant.ID)
		for _, w := range restaurant.AllergyWarnings {
			if !seen[w.Allergen] {
				seen[w.Allergen] = true
				allergensFlagged = append(allergensFlagged, w.Allergen)
			}
		}
	}

	response, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error().Err(err).Str("uid", uid.String()).Msg("failed to serialize agent response")
		return
	}

	row := models.Interaction{
		UID:                  uid,
		UserQuery:            message,
		AgentResponse:        models.JSONBRaw(response),
		UIType:               payload.UIType,
		RestaurantIDs:        restaurantIDs,
		AllergyWarningsShown: payload.HasAllergyWarnings,
		AllergensFlagged:     allergensFlagged,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.logger.Error().Err(err).Str("uid", uid.String()).Msg("failed to save interaction")
	}
}
