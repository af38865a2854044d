package models

import (
	"time"

	pgvector "github.com/pgvector/pgvector-go"
)

// Restaurant is a restaurant ingested from the Bangalore dataset, including
// the allergen metadata consumed by the safety layer at query time.
// Rows are immutable except via ingestion; the pipeline only reads them.
type Restaurant struct {
	ID      int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Name    string `gorm:"type:text;not null" json:"name"`
	URL     string `gorm:"type:text" json:"url"`
	Address string `gorm:"type:text" json:"address"`
	Area    string `gorm:"type:text;index" json:"area"`
	City    string `gorm:"type:text;not null;default:'Bangalore'" json:"city"`

	CuisineTypes JSONBStringArray `gorm:"type:jsonb;not null;default:'[]'" json:"cuisine_types"`
	PriceTier    string           `gorm:"size:10" json:"price_tier"` // '$' | '$$' | '$$$' | '$$$$'
	CostForTwo   int              `json:"cost_for_two"`

	Rating *float64 `gorm:"type:numeric(3,1)" json:"rating"`
	Votes  int      `gorm:"not null;default:0" json:"votes"`

	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`

	// Allergen metadata
	KnownAllergens     JSONBStringArray `gorm:"type:jsonb;not null;default:'[]'" json:"known_allergens"`
	AllergenConfidence string           `gorm:"size:10;not null;default:'low'" json:"allergen_confidence"` // 'high' | 'medium' | 'low'

	Meta JSONBMap `gorm:"type:jsonb;not null;default:'{}'" json:"meta"`

	IsActive  bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Reviews []Review `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Review is a user review for a restaurant. It stores the embedding used for
// vector similarity search; allergen_mentions is populated at ingestion and
// feeds the allergen_confidence upgrade. The pipeline never mutates reviews.
type Review struct {
	ID           int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	RestaurantID int64 `gorm:"not null;index" json:"restaurant_id"`

	ReviewText string          `gorm:"type:text;not null" json:"review_text"`
	Embedding  pgvector.Vector `gorm:"type:vector(768)" json:"-"`

	AllergenMentions JSONBStringArray `gorm:"type:jsonb;not null;default:'[]'" json:"allergen_mentions"`

	Source       string     `gorm:"size:50;not null;default:'zomato'" json:"source"`
	ReviewDate   *time.Time `gorm:"type:date" json:"review_date"`
	ReviewRating *float64   `gorm:"type:numeric(3,1)" json:"review_rating"`
	CreatedAt    time.Time  `json:"created_at"`
}
