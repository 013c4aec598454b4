package models

import "time"

// ChatKind distinguishes two-party chats from administered groups.
type ChatKind string

const (
	ChatKindDirect ChatKind = "direct"
	ChatKindGroup  ChatKind = "group"
)

// Chat is a conversation. Direct chats carry a DirectKey built from the
// ordered member pair so the same pair can never get a second chat; group
// chats carry a Name and an AdminID instead.
type Chat struct {
	ID          uint     `gorm:"primaryKey"`
	Kind        ChatKind `gorm:"size:16;not null;index"`
	Name        string   `gorm:"size:50"`
	Description string   `gorm:"size:250"`
	AdminID     *uint    `gorm:"index"`
	DirectKey   *string  `gorm:"size:64;uniqueIndex"`

	LastSeq        uint64 `gorm:"not null;default:0"`
	LastMessageID  *uint
	LastMessageAt  *time.Time
	LastActivityAt time.Time `gorm:"not null;index"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Members []Membership `gorm:"foreignKey:ChatID"`
}

// Membership is the edge that grants a user access to a chat.
// The primary key is a composite of (ChatID, UserID).
type Membership struct {
	ChatID   uint `gorm:"primaryKey"`
	UserID   uint `gorm:"primaryKey;index"`
	JoinedAt time.Time

	User User `gorm:"foreignKey:UserID"`
}
