package models

import "time"

// Gültige Interaktionstypen.
const (
	InteractionRead     = "read"
	InteractionRate     = "rate"
	InteractionBookmark = "bookmark"
)

// UserInteraction speichert eine Nutzer-Interaktion mit einem Artikel (read/rate/bookmark).
type UserInteraction struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	UserID          string `json:"user_id" gorm:"index;not null"`
	ArticleID       string `json:"article_id" gorm:"index;not null"`
	InteractionType string `json:"interaction_type" gorm:"index;not null"`

	// Nur für interaction_type = "rate" gesetzt (1-5 Sterne).
	Rating *int `json:"rating,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (UserInteraction) TableName() string {
	return "user_interactions"
}
