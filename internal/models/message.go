package models

import (
	"time"

	"gorm.io/datatypes"
)

type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
)

// Valid reports whether k is one of the accepted attachment kinds.
func (k MediaKind) Valid() bool {
	switch k {
	case MediaImage, MediaVideo, MediaDocument:
		return true
	}
	return false
}

// Message is a chat message. Seq is assigned per chat and is the only
// ordering clients should rely on.
type Message struct {
	ID        uint              `gorm:"primaryKey"`
	ChatID    uint              `gorm:"not null;uniqueIndex:idx_messages_chat_seq"`
	Seq       uint64            `gorm:"not null;uniqueIndex:idx_messages_chat_seq"`
	SenderID  uint              `gorm:"not null;index"`
	Content   string            `gorm:"type:text;not null"`
	Media     datatypes.JSONMap `gorm:"type:json"`
	PollID    *uint             `gorm:"index"`
	CreatedAt time.Time

	Reads []MessageRead `gorm:"foreignKey:MessageID"`
}

// MessageRead is the read marker of one recipient for one message.
// Senders get no row for their own messages.
type MessageRead struct {
	MessageID uint `gorm:"primaryKey"`
	UserID    uint `gorm:"primaryKey;index"`
	ChatID    uint `gorm:"not null;index"`
	IsRead    bool `gorm:"not null;default:false;index"`
	ReadAt    *time.Time
}
