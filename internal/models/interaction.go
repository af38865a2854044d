package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Interaction records one completed chat turn, including which allergy
// warnings were shown, so any past response can be audited. Append-only.
type Interaction struct {
	ID  int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UID uuid.UUID `gorm:"type:uuid;not null;index" json:"uid"`

	UserQuery     string   `gorm:"type:text;not null" json:"user_query"`
	AgentResponse JSONBRaw `gorm:"type:jsonb;not null;default:'{}'" json:"agent_response"`

	UIType        string        `gorm:"type:text" json:"ui_type"`
	RestaurantIDs pq.Int64Array `gorm:"type:bigint[]" json:"restaurant_ids"`

	// Allergy audit trail
	AllergyWarningsShown bool           `gorm:"not null;default:false" json:"allergy_warnings_shown"`
	AllergensFlagged     pq.StringArray `gorm:"type:text[]" json:"allergens_flagged"`

	CreatedAt time.Time `json:"created_at"`
}
