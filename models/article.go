package models

import (
	"time"

	"gorm.io/datatypes"
)

// Article repräsentiert einen akzeptierten (oder Best-Effort) Newsletter-Artikel.
type Article struct {
	ID        uint      `json:"-" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"-"`

	// Externe ID, wird bei Akzeptanz vergeben und nie geändert.
	ArticleID string `json:"article_id" gorm:"uniqueIndex;not null"`

	Topic   string `json:"topic" gorm:"index"`
	Title   string `json:"title" gorm:"not null"`
	Content string `json:"content" gorm:"type:text"`

	// Vokabelliste als JSON-Array von Begriffen.
	Vocabulary datatypes.JSON `json:"vocabulary,omitempty" gorm:"type:jsonb"`

	// Ergebnis der LLM-as-a-Judge Bewertung
	QualityScore int            `json:"quality_score"`
	ThresholdMet bool           `json:"threshold_met" gorm:"index"`
	AttemptsUsed int            `json:"attempts_used"`
	Subscores    datatypes.JSON `json:"subscores,omitempty" gorm:"type:jsonb"`
	Feedback     string         `json:"feedback,omitempty" gorm:"type:text"`

	S3Link string `json:"s3_link,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (Article) TableName() string {
	return "articles"
}
