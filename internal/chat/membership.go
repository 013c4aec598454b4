package chat

import (
	"campusconnect/backend/internal/apperr"
	"campusconnect/backend/internal/metrics"
	"campusconnect/backend/internal/models"
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IsMember reports whether userID belongs to chatID. A chat that does not
// exist has no members.
func (s *Service) IsMember(ctx context.Context, userID, chatID uint) (ok bool, err error) {
	defer metrics.Observe("is_member", time.Now(), &err)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ok, err = isMember(s.db.WithContext(ctx), userID, chatID)
	return ok, apperr.FromStore(ctx, err)
}

// RequireMember fails with NotFound when the chat does not exist and with
// Forbidden when userID is not one of its members.
func (s *Service) RequireMember(ctx context.Context, userID, chatID uint) (err error) {
	defer metrics.Observe("require_member", time.Now(), &err)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return apperr.FromStore(ctx, requireMember(s.db.WithContext(ctx), userID, chatID))
}

// ListMembers returns the members of a chat, ordered by user id.
func (s *Service) ListMembers(ctx context.Context, requesterID, chatID uint) (members []Member, err error) {
	defer metrics.Observe("list_members", time.Now(), &err)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := loadChat(tx, chatID, false)
		if err != nil {
			return err
		}
		ok, err := isMember(tx, requesterID, chatID)
		if err != nil {
			return err
		}
		if !ok {
			return apperr.Forbidden("not a member of this chat")
		}

		var rows []models.Membership
		if err := tx.Preload("User").Where("chat_id = ?", chatID).Order("user_id ASC").Find(&rows).Error; err != nil {
			return err
		}
		members = make([]Member, 0, len(rows))
		for _, m := range rows {
			members = append(members, Member{
				UserID:      m.UserID,
				DisplayName: m.User.DisplayName,
				AvatarURL:   m.User.AvatarURL,
				IsAdmin:     chat.AdminID != nil && *chat.AdminID == m.UserID,
				JoinedAt:    m.JoinedAt,
			})
		}
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(ctx, err)
	}
	return members, nil
}

func isMember(tx *gorm.DB, userID, chatID uint) (bool, error) {
	var n int64
	err := tx.Model(&models.Membership{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&n).Error
	return n > 0, err
}

func requireMember(tx *gorm.DB, userID, chatID uint) error {
	if _, err := loadChat(tx, chatID, false); err != nil {
		return err
	}
	ok, err := isMember(tx, userID, chatID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("not a member of this chat")
	}
	return nil
}

// loadChat reads one chat row. With forUpdate on Postgres the row stays
// locked until the transaction ends, which serializes writers across
// processes; the in-process key lock covers the rest.
func loadChat(tx *gorm.DB, chatID uint, forUpdate bool) (*models.Chat, error) {
	q := tx
	if forUpdate && tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var chat models.Chat
	if err := q.Where("id = ?", chatID).Limit(1).Find(&chat).Error; err != nil {
		return nil, err
	}
	if chat.ID == 0 {
		return nil, apperr.NotFound("chat %d not found", chatID)
	}
	return &chat, nil
}

func memberIDs(tx *gorm.DB, chatID uint) ([]uint, error) {
	var ids []uint
	err := tx.Model(&models.Membership{}).
		Where("chat_id = ?", chatID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// requireUsers fails with NotFound unless every id names an existing user.
// ids must be distinct.
func requireUsers(tx *gorm.DB, ids ...uint) error {
	var n int64
	if err := tx.Model(&models.User{}).Where("id IN ?", ids).Count(&n).Error; err != nil {
		return err
	}
	if n != int64(len(ids)) {
		return apperr.NotFound("user not found")
	}
	return nil
}
