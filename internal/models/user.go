package models

import (
	"time"

	"github.com/google/uuid"
)

// UserProfile is the agent-side profile row for one user. Preference fields
// are mutable by the background profiler; the allergies object and its
// denormalized allergy_flags change only through the explicit allergies
// endpoint, never as a side effect of conversational inference.
type UserProfile struct {
	UID uuid.UUID `gorm:"type:uuid;primaryKey" json:"uid"`

	Preferences JSONBMap      `gorm:"type:jsonb;not null;default:'{}'" json:"preferences"`
	Allergies   AllergiesJSON `gorm:"type:jsonb;not null;default:'{}'" json:"allergies"`

	// Denormalized arrays kept in sync with the objects above.
	AllergyFlags        JSONBStringArray `gorm:"type:jsonb;not null;default:'[]'" json:"allergy_flags"`
	DietaryFlags        JSONBStringArray `gorm:"type:jsonb;not null;default:'[]'" json:"dietary_flags"`
	VibeTags            JSONBStringArray `gorm:"type:jsonb;not null;default:'[]'" json:"vibe_tags"`
	PreferredPriceTiers JSONBStringArray `gorm:"type:jsonb;not null;default:'[]'" json:"preferred_price_tiers"`

	InteractionCount int        `gorm:"not null;default:0" json:"interaction_count"`
	LastActiveAt     *time.Time `json:"last_active_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (UserProfile) TableName() string {
	return "users"
}
