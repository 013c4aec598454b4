package chat

import (
	"campusconnect/backend/internal/apperr"
	"campusconnect/backend/internal/events"
	"campusconnect/backend/internal/metrics"
	"campusconnect/backend/internal/models"
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

const (
	MaxContentLength  = 500
	MaxMediaKeyLength = 512

	DefaultPageSize = 50
	MaxPageSize     = 200
)

type SendInput struct {
	Content string
	Media   *Media
	PollID  *uint
}

// Page selects a window of a chat's history. AfterSeq, when set, skips
// every message up to and including that sequence number.
type Page struct {
	Page     int
	Limit    int
	AfterSeq uint64
}

func (p Page) normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	return p
}

// MediaKeyPrefix is the object key prefix every attachment of chatID must
// live under.
func MediaKeyPrefix(chatID uint) string {
	return fmt.Sprintf("chats/%d/", chatID)
}

// SendMessage appends a message to a chat. The message gets the next
// sequence number of the chat and a timestamp no earlier than the previous
// message's; every other member gets an unread marker.
func (s *Service) SendMessage(ctx context.Context, senderID, chatID uint, in SendInput) (msg *Message, err error) {
	defer metrics.Observe("send_message", time.Now(), &err)
	content, err := validateContent(in.Content)
	if err != nil {
		return nil, err
	}
	if err := validateMedia(chatID, in.Media); err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if in.Media != nil && s.media != nil {
		ok, err := s.media.Exists(ctx, in.Media.Key)
		if err != nil {
			return nil, apperr.FromStore(ctx, err)
		}
		if !ok {
			return nil, apperr.InvalidArgument("media %q has not been uploaded", in.Media.Key)
		}
	}

	release, err := s.lock(ctx, chatKey(chatID))
	if err != nil {
		return nil, err
	}
	defer release()

	var row models.Message
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := loadChat(tx, chatID, true)
		if err != nil {
			return err
		}
		ok, err := isMember(tx, senderID, chatID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Forbidden("not a member of this chat")
		}
		if in.PollID != nil {
			if err := checkPollRef(tx, chatID, *in.PollID); err != nil {
				return err
			}
		}
		members, err := memberIDs(tx, chatID)
		if err != nil {
			return err
		}

		now := s.clock()
		if chat.LastMessageAt != nil && now.Before(*chat.LastMessageAt) {
			now = *chat.LastMessageAt
		}
		row = models.Message{
			ChatID:    chatID,
			Seq:       chat.LastSeq + 1,
			SenderID:  senderID,
			Content:   content,
			Media:     in.Media.toJSON(),
			PollID:    in.PollID,
			CreatedAt: now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		reads := make([]models.MessageRead, 0, len(members))
		for _, uid := range members {
			if uid == senderID {
				continue
			}
			reads = append(reads, models.MessageRead{MessageID: row.ID, UserID: uid, ChatID: chatID})
		}
		if len(reads) > 0 {
			if err := tx.Create(&reads).Error; err != nil {
				return err
			}
		}
		row.Reads = reads

		return tx.Model(&models.Chat{}).Where("id = ?", chatID).Updates(map[string]any{
			"last_seq":         row.Seq,
			"last_message_id":  row.ID,
			"last_message_at":  now,
			"last_activity_at": now,
			"updated_at":       now,
		}).Error
	})
	if err != nil {
		return nil, apperr.FromStore(ctx, err)
	}

	metrics.MessagesSent.Inc()
	out := toMessage(row)
	s.publish(ctx, events.New(events.MessageSent, chatID, senderID, out))
	return &out, nil
}

// ListMessages returns one page of a chat's history in ascending sequence
// order, each message with the read state of its recipients.
func (s *Service) ListMessages(ctx context.Context, requesterID, chatID uint, p Page) (page *MessagePage, err error) {
	defer metrics.Observe("list_messages", time.Now(), &err)
	p = p.normalize()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	page = &MessagePage{Page: p.Page, Limit: p.Limit}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireMember(tx, requesterID, chatID); err != nil {
			return err
		}
		scope := func() *gorm.DB {
			q := tx.Model(&models.Message{}).Where("chat_id = ?", chatID)
			if p.AfterSeq > 0 {
				q = q.Where("seq > ?", p.AfterSeq)
			}
			return q
		}
		if err := scope().Count(&page.Total).Error; err != nil {
			return err
		}
		var rows []models.Message
		err := scope().
			Preload("Reads", func(db *gorm.DB) *gorm.DB { return db.Order("user_id ASC") }).
			Order("seq ASC").
			Offset((p.Page - 1) * p.Limit).
			Limit(p.Limit).
			Find(&rows).Error
		if err != nil {
			return err
		}
		page.Messages = make([]Message, 0, len(rows))
		for _, r := range rows {
			page.Messages = append(page.Messages, toMessage(r))
		}
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(ctx, err)
	}
	return page, nil
}

// MarkRead marks every unread message of the chat as read for requesterID
// with a single timestamp and returns how many markers changed. Calling it
// again changes nothing.
func (s *Service) MarkRead(ctx context.Context, requesterID, chatID uint) (n int64, err error) {
	defer metrics.Observe("mark_read", time.Now(), &err)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := s.clock()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireMember(tx, requesterID, chatID); err != nil {
			return err
		}
		res := tx.Model(&models.MessageRead{}).
			Where("chat_id = ? AND user_id = ? AND is_read = ?", chatID, requesterID, false).
			Updates(map[string]any{"is_read": true, "read_at": now})
		n = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, apperr.FromStore(ctx, err)
	}

	if n > 0 {
		s.publish(ctx, events.New(events.MessagesRead, chatID, requesterID, map[string]any{
			"user_id": requesterID,
			"count":   n,
			"read_at": now,
		}))
	}
	return n, nil
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" || utf8.RuneCountInString(content) > MaxContentLength {
		return "", apperr.InvalidArgument("message must be between 1 and %d characters long", MaxContentLength)
	}
	return content, nil
}

func validateMedia(chatID uint, m *Media) error {
	if m == nil {
		return nil
	}
	if !m.Kind.Valid() {
		return apperr.InvalidArgument("unknown media kind %q", m.Kind)
	}
	if m.Key == "" || len(m.Key) > MaxMediaKeyLength {
		return apperr.InvalidArgument("media key must be between 1 and %d bytes long", MaxMediaKeyLength)
	}
	if !strings.HasPrefix(m.Key, MediaKeyPrefix(chatID)) {
		return apperr.InvalidArgument("media key does not belong to this chat")
	}
	return nil
}

// checkPollRef accepts polls that are unscoped or scoped to chatID.
func checkPollRef(tx *gorm.DB, chatID, pollID uint) error {
	var poll models.Poll
	if err := tx.Select("id", "chat_id").Where("id = ?", pollID).Limit(1).Find(&poll).Error; err != nil {
		return err
	}
	if poll.ID == 0 {
		return apperr.NotFound("poll %d not found", pollID)
	}
	if poll.ChatID != nil && *poll.ChatID != chatID {
		return apperr.InvalidArgument("poll %d belongs to another chat", pollID)
	}
	return nil
}
