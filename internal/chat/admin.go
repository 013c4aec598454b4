package chat

import (
	"campusconnect/backend/internal/apperr"
	"campusconnect/backend/internal/events"
	"campusconnect/backend/internal/metrics"
	"campusconnect/backend/internal/models"
	"context"
	"time"

	"gorm.io/gorm"
)

// mutateGroup runs fn under the chat lock in a transaction, after checking
// that chatID is a group administered by requesterID. The event fn returns
// is published after commit but before the lock is released, so no later
// change of the chat can be announced ahead of it.
func (s *Service) mutateGroup(ctx context.Context, requesterID, chatID uint, fn func(tx *gorm.DB, chat *models.Chat) (*events.Event, error)) error {
	release, err := s.lock(ctx, chatKey(chatID))
	if err != nil {
		return err
	}
	defer release()

	var ev *events.Event
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := loadChat(tx, chatID, true)
		if err != nil {
			return err
		}
		if chat.Kind != models.ChatKindGroup {
			return apperr.Forbidden("direct chats have no admin")
		}
		if chat.AdminID == nil || *chat.AdminID != requesterID {
			return apperr.Forbidden("only the group admin can do this")
		}
		ev, err = fn(tx, chat)
		return err
	})
	if err != nil {
		return apperr.FromStore(ctx, err)
	}
	if ev != nil {
		s.publish(ctx, *ev)
	}
	return nil
}

func event(t events.Type, chatID, actorID uint, payload any) *events.Event {
	ev := events.New(t, chatID, actorID, payload)
	return &ev
}

// AddMember adds userID to a group. Only the admin may add members.
func (s *Service) AddMember(ctx context.Context, requesterID, chatID, userID uint) (err error) {
	defer metrics.Observe("add_member", time.Now(), &err)
	if userID == 0 {
		return apperr.InvalidArgument("user id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.mutateGroup(ctx, requesterID, chatID, func(tx *gorm.DB, _ *models.Chat) (*events.Event, error) {
		if err := requireUsers(tx, userID); err != nil {
			return nil, err
		}
		ok, err := isMember(tx, userID, chatID)
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, apperr.Conflict("user %d is already a member", userID)
		}
		now := s.clock()
		m := models.Membership{ChatID: chatID, UserID: userID, JoinedAt: now}
		if err := tx.Omit("User").Create(&m).Error; err != nil {
			return nil, err
		}
		if err := touch(tx, chatID, now); err != nil {
			return nil, err
		}
		return event(events.MemberAdded, chatID, requesterID, map[string]any{"user_id": userID}), nil
	})
}

// RemoveMember removes userID from a group. The admin cannot remove
// themselves; they have to hand over the group first.
func (s *Service) RemoveMember(ctx context.Context, requesterID, chatID, userID uint) (err error) {
	defer metrics.Observe("remove_member", time.Now(), &err)
	if userID == 0 {
		return apperr.InvalidArgument("user id is required")
	}
	if userID == requesterID {
		return apperr.InvalidArgument("the admin cannot remove themselves; promote another member first")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.mutateGroup(ctx, requesterID, chatID, func(tx *gorm.DB, _ *models.Chat) (*events.Event, error) {
		if err := removeMembership(tx, chatID, userID, s.clock()); err != nil {
			return nil, err
		}
		return event(events.MemberRemoved, chatID, requesterID, map[string]any{"user_id": userID}), nil
	})
}

// PromoteAdmin hands the admin role of a group to another member.
func (s *Service) PromoteAdmin(ctx context.Context, requesterID, chatID, newAdminID uint) (err error) {
	defer metrics.Observe("promote_admin", time.Now(), &err)
	if newAdminID == 0 {
		return apperr.InvalidArgument("user id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.mutateGroup(ctx, requesterID, chatID, func(tx *gorm.DB, chat *models.Chat) (*events.Event, error) {
		if *chat.AdminID == newAdminID {
			return nil, nil
		}
		ok, err := isMember(tx, newAdminID, chatID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.InvalidArgument("user %d is not a member of this chat", newAdminID)
		}
		err = tx.Model(&models.Chat{}).Where("id = ?", chatID).Updates(map[string]any{
			"admin_id":         newAdminID,
			"last_activity_at": s.clock(),
		}).Error
		if err != nil {
			return nil, err
		}
		return event(events.AdminChanged, chatID, requesterID, map[string]any{"admin_id": newAdminID}), nil
	})
}

// RenameChat sets a new group name.
func (s *Service) RenameChat(ctx context.Context, requesterID, chatID uint, name string) (err error) {
	defer metrics.Observe("rename_chat", time.Now(), &err)
	name, err = validateGroupName(name)
	if err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.mutateGroup(ctx, requesterID, chatID, func(tx *gorm.DB, _ *models.Chat) (*events.Event, error) {
		err := tx.Model(&models.Chat{}).Where("id = ?", chatID).Updates(map[string]any{
			"name":             name,
			"last_activity_at": s.clock(),
		}).Error
		if err != nil {
			return nil, err
		}
		return event(events.ChatRenamed, chatID, requesterID, map[string]any{"name": name}), nil
	})
}

// LeaveChat removes requesterID from a group they belong to. Direct chats
// cannot be left, and the admin must hand over the group before leaving.
func (s *Service) LeaveChat(ctx context.Context, requesterID, chatID uint) (err error) {
	defer metrics.Observe("leave_chat", time.Now(), &err)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	release, err := s.lock(ctx, chatKey(chatID))
	if err != nil {
		return err
	}
	defer release()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		chat, err := loadChat(tx, chatID, true)
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
		if chat.Kind == models.ChatKindDirect {
			return apperr.InvalidArgument("direct chats cannot be left, delete the chat instead")
		}
		if chat.AdminID != nil && *chat.AdminID == requesterID {
			return apperr.InvalidArgument("the admin must promote another member before leaving")
		}
		return removeMembership(tx, chatID, requesterID, s.clock())
	})
	if err != nil {
		return apperr.FromStore(ctx, err)
	}
	// still under the chat lock
	s.publish(ctx, events.New(events.MemberRemoved, chatID, requesterID, map[string]any{"user_id": requesterID}))
	return nil
}

// removeMembership drops the membership and the user's pending read
// markers in that chat.
func removeMembership(tx *gorm.DB, chatID, userID uint, now time.Time) error {
	res := tx.Where("chat_id = ? AND user_id = ?", chatID, userID).Delete(&models.Membership{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("user %d is not a member of this chat", userID)
	}
	if err := tx.Where("chat_id = ? AND user_id = ? AND is_read = ?", chatID, userID, false).
		Delete(&models.MessageRead{}).Error; err != nil {
		return err
	}
	return touch(tx, chatID, now)
}

func touch(tx *gorm.DB, chatID uint, now time.Time) error {
	return tx.Model(&models.Chat{}).Where("id = ?", chatID).Update("last_activity_at", now).Error
}
