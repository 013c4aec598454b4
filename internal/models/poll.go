package models

import "time"

type PollKind string

const (
	PollKindOpinion  PollKind = "opinion"
	PollKindQuestion PollKind = "question"
)

// Poll is a votable question, optionally scoped to a chat.
type Poll struct {
	ID        uint     `gorm:"primaryKey"`
	CreatorID uint     `gorm:"not null;index"`
	ChatID    *uint    `gorm:"index"`
	Question  string   `gorm:"size:255;not null"`
	Kind      PollKind `gorm:"size:16;not null;default:'opinion'"`
	ExpiresAt *time.Time
	CreatedAt time.Time

	Options []PollOption `gorm:"foreignKey:PollID"`
}

type PollOption struct {
	ID       uint   `gorm:"primaryKey"`
	PollID   uint   `gorm:"not null;index"`
	Text     string `gorm:"size:100;not null"`
	Position int    `gorm:"not null"`
}

// Vote ties one user to one option of a poll. The composite primary key
// (PollID, UserID) allows a single vote per user and poll.
type Vote struct {
	PollID    uint `gorm:"primaryKey"`
	UserID    uint `gorm:"primaryKey;index"`
	OptionID  uint `gorm:"not null;index"`
	CreatedAt time.Time
}
