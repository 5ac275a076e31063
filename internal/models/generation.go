package models

import "time"

// GenerationStatus tracks a record through human review
type GenerationStatus string

const (
	StatusPendingReview GenerationStatus = "PENDING_REVIEW"
	StatusApproved      GenerationStatus = "APPROVED"
	StatusRejected      GenerationStatus = "REJECTED"
	StatusSent          GenerationStatus = "SENT"
)

// GenerationSource tags where a recommended answer came from
type GenerationSource string

const (
	SourceCache    GenerationSource = "cache"
	SourcePrimary  GenerationSource = "primary"
	SourceFallback GenerationSource = "fallback"
)

// GenerationRecord is one attempt to answer one inbound message. A message
// may accumulate historical records (e.g. retried after lock contention);
// callers always resolve to the most recently generated one.
type GenerationRecord struct {
	ID                uint             `gorm:"primaryKey;column:response_id" json:"response_id"`
	MessageID         uint             `gorm:"not null;index" json:"message_id"`
	StudentID         uint             `gorm:"not null" json:"student_id"`
	AdvisorID         *uint            `gorm:"index" json:"advisor_id,omitempty"`
	RecommendedAnswer string           `gorm:"type:text" json:"recommended_answer"`
	FinalAnswer       *string          `gorm:"type:text" json:"final_answer,omitempty"`
	Status            GenerationStatus `gorm:"size:20;index" json:"status"`
	Source            GenerationSource `gorm:"size:16" json:"source"`
	CacheEntryID      *uint            `json:"cache_entry_id,omitempty"`
	GeneratedAt       time.Time        `gorm:"index" json:"generated_at"`
	ReviewedAt        *time.Time       `json:"reviewed_at,omitempty"`
	SentAt            *time.Time       `json:"sent_at,omitempty"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (GenerationRecord) TableName() string {
	return "generation_records"
}
