package models

import "time"

// Message is an inbound chat message from a student
type Message struct {
	ID          uint      `gorm:"primaryKey;column:message_id" json:"message_id"`
	StudentID   uint      `gorm:"not null;index" json:"student_id"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	MessageType string    `gorm:"size:20;default:'text'" json:"message_type"`
	SenderType  string    `gorm:"size:20;index" json:"sender_type"`
	SentAt      time.Time `gorm:"index" json:"sent_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// Student holds the slice of the student profile the orchestrator needs:
// generation context plus the advisor assignment that drives routing.
type Student struct {
	ID                uint       `gorm:"primaryKey;column:student_id" json:"student_id"`
	Name              string     `gorm:"size:100" json:"name"`
	TargetUniversity  string     `gorm:"size:100" json:"target_university"`
	Track             string     `gorm:"size:50" json:"track"`
	AdvisorID         *uint      `gorm:"index" json:"advisor_id,omitempty"`
	AdvisorAssignedAt *time.Time `json:"advisor_assigned_at,omitempty"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Student) TableName() string {
	return "students"
}
