package models

import "time"

// CacheEntry is a stored question/answer pair reusable for semantically
// similar future questions. The embedding vector is stored JSON-encoded
// alongside the model tag; vectors from different models never compare.
type CacheEntry struct {
	ID                 uint       `gorm:"primaryKey;column:cache_id" json:"cache_id"`
	Question           string     `gorm:"type:text;not null" json:"question"`
	Answer             string     `gorm:"type:text;not null" json:"answer"`
	EmbeddingJSON      string     `gorm:"type:json;column:embedding_json" json:"-"`
	EmbeddingModel     string     `gorm:"size:64" json:"embedding_model"`
	ConfidenceScore    float64    `gorm:"not null;index" json:"confidence_score"`
	HitCount           int        `gorm:"not null;default:0;index" json:"hit_count"`
	LastHitAt          *time.Time `json:"last_hit_at,omitempty"`
	OriginalResponseID *uint      `gorm:"uniqueIndex" json:"original_response_id,omitempty"`
	CacheKey           string     `gorm:"size:64" json:"cache_key"`
	CreatedAt          time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (CacheEntry) TableName() string {
	return "cache_entries"
}

// CacheStats summarizes cache effectiveness for monitoring endpoints
type CacheStats struct {
	TotalCount    int64   `json:"total_count"`
	TotalHits     int64   `json:"total_hits"`
	HitRate       float64 `json:"hit_rate"`
	AvgConfidence float64 `json:"avg_confidence"`
}
