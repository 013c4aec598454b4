package chat

import (
	"campusconnect/backend/internal/apperr"
	"campusconnect/backend/internal/events"
	"campusconnect/backend/internal/metrics"
	"campusconnect/backend/internal/models"
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

const (
	MaxGroupNameLength   = 50
	MaxDescriptionLength = 250
)

// NewGroup describes a group chat to create. MemberIDs may or may not
// include the creator; the creator always ends up as member and admin.
type NewGroup struct {
	Name        string
	Description string
	MemberIDs   []uint
}

// CreateDirectChat returns the direct chat between a and b, creating it on
// first use. Repeated or concurrent calls for the same pair, in either
// order, always yield the same chat.
func (s *Service) CreateDirectChat(ctx context.Context, a, b uint) (view *Chat, err error) {
	defer metrics.Observe("create_direct_chat", time.Now(), &err)
	if a == 0 || b == 0 {
		return nil, apperr.InvalidArgument("user id is required")
	}
	if a == b {
		return nil, apperr.InvalidArgument("cannot start a direct chat with yourself")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	key := directKey(a, b)
	release, err := s.lock(ctx, "direct:"+key)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		chatID  uint
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Chat
		if err := tx.Where("direct_key = ?", key).Limit(1).Find(&existing).Error; err != nil {
			return err
		}
		if existing.ID != 0 {
			chatID = existing.ID
			return nil
		}

		lo, hi := a, b
		if lo > hi {
			lo, hi = hi, lo
		}
		if err := requireUsers(tx, lo, hi); err != nil {
			return err
		}

		now := s.clock()
		chat := models.Chat{
			Kind:           models.ChatKindDirect,
			DirectKey:      &key,
			LastActivityAt: now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}
		members := []models.Membership{
			{ChatID: chat.ID, UserID: lo, JoinedAt: now},
			{ChatID: chat.ID, UserID: hi, JoinedAt: now},
		}
		if err := tx.Omit("User").Create(&members).Error; err != nil {
			return err
		}
		chatID, created = chat.ID, true
		return nil
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// another process created the pair first
		var existing models.Chat
		err = s.db.WithContext(ctx).Where("direct_key = ?", key).Limit(1).Find(&existing).Error
		chatID = existing.ID
	}
	if err != nil {
		return nil, apperr.FromStore(ctx, err)
	}

	view, err = s.chatView(ctx, a, chatID)
	if err != nil {
		return nil, err
	}
	if created {
		s.publish(ctx, events.New(events.ChatCreated, chatID, a, map[string]any{
			"kind":    models.ChatKindDirect,
			"members": view.Members(),
		}))
	}
	return view, nil
}

// CreateGroupChat creates a group with creatorID as admin.
func (s *Service) CreateGroupChat(ctx context.Context, creatorID uint, in NewGroup) (view *Chat, err error) {
	defer metrics.Observe("create_group_chat", time.Now(), &err)
	name, err := validateGroupName(in.Name)
	if err != nil {
		return nil, err
	}
	desc, err := validateDescription(in.Description)
	if err != nil {
		return nil, err
	}
	if creatorID == 0 {
		return nil, apperr.InvalidArgument("creator id is required")
	}
	if len(in.MemberIDs) == 0 {
		return nil, apperr.InvalidArgument("a group needs at least one member")
	}
	ids := []uint{creatorID}
	seen := map[uint]bool{}
	for _, id := range in.MemberIDs {
		if id == 0 {
			return nil, apperr.InvalidArgument("member id is required")
		}
		if seen[id] {
			return nil, apperr.InvalidArgument("duplicate member id %d", id)
		}
		seen[id] = true
		if id != creatorID {
			ids = append(ids, id)
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var chatID uint
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUsers(tx, ids...); err != nil {
			return err
		}
		now := s.clock()
		chat := models.Chat{
			Kind:           models.ChatKindGroup,
			Name:           name,
			Description:    desc,
			AdminID:        &creatorID,
			LastActivityAt: now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&chat).Error; err != nil {
			return err
		}
		members := make([]models.Membership, 0, len(ids))
		for _, id := range ids {
			members = append(members, models.Membership{ChatID: chat.ID, UserID: id, JoinedAt: now})
		}
		if err := tx.Omit("User").Create(&members).Error; err != nil {
			return err
		}
		chatID = chat.ID
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(ctx, err)
	}

	view, err = s.chatView(ctx, creatorID, chatID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.New(events.ChatCreated, chatID, creatorID, map[string]any{
		"kind":    models.ChatKindGroup,
		"name":    name,
		"members": view.Members(),
	}))
	return view, nil
}

// GetChatsForUser lists every chat userID belongs to, most recent activity
// first, with its last message and the caller's unread count.
func (s *Service) GetChatsForUser(ctx context.Context, userID uint) (chats []Chat, err error) {
	defer metrics.Observe("get_chats_for_user", time.Now(), &err)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.Chat
		err := tx.Joins("JOIN memberships ON memberships.chat_id = chats.id AND memberships.user_id = ?", userID).
			Order("chats.last_activity_at DESC").
			Order("chats.id ASC").
			Find(&rows).Error
		if err != nil {
			return err
		}
		chats, err = hydrate(tx, userID, rows)
		return err
	})
	if err != nil {
		return nil, apperr.FromStore(ctx, err)
	}
	return chats, nil
}

// GetChat returns one chat as seen by requesterID, who must be a member.
func (s *Service) GetChat(ctx context.Context, requesterID, chatID uint) (view *Chat, err error) {
	defer metrics.Observe("get_chat", time.Now(), &err)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.chatView(ctx, requesterID, chatID)
}

func (s *Service) chatView(ctx context.Context, viewerID, chatID uint) (*Chat, error) {
	var view *Chat
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireMember(tx, viewerID, chatID); err != nil {
			return err
		}
		chat, err := loadChat(tx, chatID, false)
		if err != nil {
			return err
		}
		out, err := hydrate(tx, viewerID, []models.Chat{*chat})
		if err != nil {
			return err
		}
		view = &out[0]
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(ctx, err)
	}
	return view, nil
}

// DeleteChat removes a chat with its memberships, messages and read
// markers. Either member may delete a direct chat; only the admin may
// delete a group.
func (s *Service) DeleteChat(ctx context.Context, requesterID, chatID uint) (err error) {
	defer metrics.Observe("delete_chat", time.Now(), &err)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	release, err := s.lock(ctx, chatKey(chatID))
	if err != nil {
		return err
	}
	defer release()

	var members []uint
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
		if chat.Kind == models.ChatKindGroup && (chat.AdminID == nil || *chat.AdminID != requesterID) {
			return apperr.Forbidden("only the group admin can delete the chat")
		}
		if members, err = memberIDs(tx, chatID); err != nil {
			return err
		}

		if err := tx.Where("chat_id = ?", chatID).Delete(&models.MessageRead{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&models.Membership{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Chat{}, chatID).Error
	})
	if err != nil {
		return apperr.FromStore(ctx, err)
	}

	s.publish(ctx, events.New(events.ChatDeleted, chatID, requesterID, map[string]any{"members": members}))
	return nil
}

// hydrate turns chat rows into views for viewerID, keeping their order.
func hydrate(tx *gorm.DB, viewerID uint, rows []models.Chat) ([]Chat, error) {
	if len(rows) == 0 {
		return []Chat{}, nil
	}
	ids := make([]uint, 0, len(rows))
	var lastIDs []uint
	for _, c := range rows {
		ids = append(ids, c.ID)
		if c.LastMessageID != nil {
			lastIDs = append(lastIDs, *c.LastMessageID)
		}
	}

	var memberships []models.Membership
	if err := tx.Preload("User").Where("chat_id IN ?", ids).Order("user_id ASC").Find(&memberships).Error; err != nil {
		return nil, err
	}
	byChat := make(map[uint][]models.Membership, len(rows))
	for _, m := range memberships {
		byChat[m.ChatID] = append(byChat[m.ChatID], m)
	}

	last := map[uint]models.Message{}
	if len(lastIDs) > 0 {
		var msgs []models.Message
		if err := tx.Where("id IN ?", lastIDs).Find(&msgs).Error; err != nil {
			return nil, err
		}
		for _, m := range msgs {
			last[m.ID] = m
		}
	}

	var counts []struct {
		ChatID uint
		N      int64
	}
	err := tx.Model(&models.MessageRead{}).
		Select("chat_id, COUNT(*) AS n").
		Where("user_id = ? AND is_read = ? AND chat_id IN ?", viewerID, false, ids).
		Group("chat_id").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	unread := make(map[uint]int64, len(counts))
	for _, c := range counts {
		unread[c.ChatID] = c.N
	}

	out := make([]Chat, 0, len(rows))
	for _, c := range rows {
		view := buildChat(c, byChat[c.ID], viewerID)
		if c.LastMessageID != nil {
			if m, ok := last[*c.LastMessageID]; ok {
				view.LastMessage = summarize(m)
			}
		}
		view.UnreadCount = unread[c.ID]
		out = append(out, view)
	}
	return out, nil
}

// buildChat expects members ordered by user id.
func buildChat(c models.Chat, members []models.Membership, viewerID uint) Chat {
	view := Chat{
		ID:             c.ID,
		CreatedAt:      c.CreatedAt,
		LastActivityAt: c.LastActivityAt,
	}
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}

	if c.Kind == models.ChatKindDirect {
		d := Direct{}
		if len(ids) == 2 {
			d.MemberA, d.MemberB = ids[0], ids[1]
		}
		view.Variant = d
		for _, m := range members {
			if m.UserID != viewerID {
				view.Title = m.User.DisplayName
			}
		}
		return view
	}

	g := Group{Name: c.Name, Description: c.Description, Members: ids}
	if c.AdminID != nil {
		g.AdminID = *c.AdminID
	}
	view.Variant = g
	view.Title = c.Name
	return view
}

func validateGroupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperr.InvalidArgument("group name is required")
	}
	if utf8.RuneCountInString(name) > MaxGroupNameLength {
		return "", apperr.InvalidArgument("group name must be at most %d characters long", MaxGroupNameLength)
	}
	return name, nil
}

func validateDescription(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if utf8.RuneCountInString(desc) > MaxDescriptionLength {
		return "", apperr.InvalidArgument("description must be at most %d characters long", MaxDescriptionLength)
	}
	return desc, nil
}
