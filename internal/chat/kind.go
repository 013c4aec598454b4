package chat

import (
	"campusconnect/backend/internal/models"
	"time"
	"unicode/utf8"
)

// Variant is the kind-specific part of a chat: either Direct or Group.
type Variant interface {
	kind() models.ChatKind
}

// Direct is a chat between exactly two distinct users. MemberA < MemberB.
type Direct struct {
	MemberA uint `json:"member_a"`
	MemberB uint `json:"member_b"`
}

func (Direct) kind() models.ChatKind { return models.ChatKindDirect }

// Group is an administered chat. The admin is always one of Members.
type Group struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	AdminID     uint   `json:"admin_id"`
	Members     []uint `json:"members"`
}

func (Group) kind() models.ChatKind { return models.ChatKindGroup }

// Chat is the read model handed to callers.
type Chat struct {
	ID             uint
	Variant        Variant
	Title          string
	CreatedAt      time.Time
	LastActivityAt time.Time
	LastMessage    *MessageSummary
	UnreadCount    int64
}

func (c *Chat) Kind() models.ChatKind { return c.Variant.kind() }

// Members returns the member ids in ascending order.
func (c *Chat) Members() []uint {
	switch v := c.Variant.(type) {
	case Direct:
		return []uint{v.MemberA, v.MemberB}
	case Group:
		return v.Members
	}
	return nil
}

// AdminID is zero for direct chats.
func (c *Chat) AdminID() uint {
	if g, ok := c.Variant.(Group); ok {
		return g.AdminID
	}
	return 0
}

const previewLength = 100

type MessageSummary struct {
	ID        uint      `json:"id"`
	Seq       uint64    `json:"seq"`
	SenderID  uint      `json:"sender_id"`
	Preview   string    `json:"preview"`
	HasMedia  bool      `json:"has_media"`
	CreatedAt time.Time `json:"created_at"`
}

func summarize(m models.Message) *MessageSummary {
	preview := m.Content
	if utf8.RuneCountInString(preview) > previewLength {
		preview = string([]rune(preview)[:previewLength])
	}
	return &MessageSummary{
		ID:        m.ID,
		Seq:       m.Seq,
		SenderID:  m.SenderID,
		Preview:   preview,
		HasMedia:  len(m.Media) > 0,
		CreatedAt: m.CreatedAt,
	}
}

// Media references an object already uploaded to the media bucket.
type Media struct {
	Key  string           `json:"key"`
	Kind models.MediaKind `json:"kind"`
}

type ReadMark struct {
	Read   bool       `json:"read"`
	ReadAt *time.Time `json:"read_at,omitempty"`
}

// Message is a stored message with the read state of every recipient.
// The sender never appears in ReadState.
type Message struct {
	ID        uint              `json:"id"`
	ChatID    uint              `json:"chat_id"`
	Seq       uint64            `json:"seq"`
	SenderID  uint              `json:"sender_id"`
	Content   string            `json:"content"`
	Media     *Media            `json:"media,omitempty"`
	PollID    *uint             `json:"poll_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ReadState map[uint]ReadMark `json:"read_state"`
}

func toMessage(m models.Message) Message {
	out := Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Seq:       m.Seq,
		SenderID:  m.SenderID,
		Content:   m.Content,
		Media:     mediaFromJSON(m.Media),
		PollID:    m.PollID,
		CreatedAt: m.CreatedAt,
		ReadState: make(map[uint]ReadMark, len(m.Reads)),
	}
	for _, r := range m.Reads {
		out.ReadState[r.UserID] = ReadMark{Read: r.IsRead, ReadAt: r.ReadAt}
	}
	return out
}

func mediaFromJSON(m map[string]any) *Media {
	if len(m) == 0 {
		return nil
	}
	key, _ := m["key"].(string)
	kind, _ := m["kind"].(string)
	if key == "" {
		return nil
	}
	return &Media{Key: key, Kind: models.MediaKind(kind)}
}

func (m *Media) toJSON() map[string]any {
	if m == nil {
		return nil
	}
	return map[string]any{"key": m.Key, "kind": string(m.Kind)}
}

type MessagePage struct {
	Messages []Message
	Total    int64
	Page     int
	Limit    int
}

// Member is one row of a chat's member list.
type Member struct {
	UserID      uint      `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	IsAdmin     bool      `json:"is_admin"`
	JoinedAt    time.Time `json:"joined_at"`
}
