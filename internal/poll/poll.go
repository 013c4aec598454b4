// Package poll implements polls that can be attached to chat messages:
// creation with its options, one vote per user, and results counted on
// read.
package poll

import (
	"campusconnect/backend/internal/apperr"
	"campusconnect/backend/internal/events"
	"campusconnect/backend/internal/keylock"
	"campusconnect/backend/internal/metrics"
	"campusconnect/backend/internal/models"
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
)

const (
	MinQuestionLength = 5
	MaxQuestionLength = 255
	MaxOptionLength   = 100
	MinOptions        = 2
	MaxOptions        = 10

	DefaultTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// MembershipChecker is how polls scoped to a chat verify access.
type MembershipChecker interface {
	RequireMember(ctx context.Context, userID, chatID uint) error
}

type Service struct {
	db      *gorm.DB
	members MembershipChecker
	locks   *keylock.Locks
	events  events.Publisher
	log     *log.Logger
	now     func() time.Time
	timeout time.Duration
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func New(db *gorm.DB, members MembershipChecker, opts ...Option) *Service {
	s := &Service{
		db:      db,
		members: members,
		locks:   keylock.New(),
		events:  events.Nop{},
		log:     log.Default(),
		now:     time.Now,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewPoll describes a poll to create. ChatID scopes the poll to one chat;
// nil leaves it standalone.
type NewPoll struct {
	Question  string
	Options   []string
	Kind      models.PollKind
	ChatID    *uint
	ExpiresAt *time.Time
}

// Poll is a poll with its results as seen by one user.
type Poll struct {
	ID         uint            `json:"id"`
	CreatorID  uint            `json:"creator_id"`
	ChatID     *uint           `json:"chat_id,omitempty"`
	Question   string          `json:"question"`
	Kind       models.PollKind `json:"kind"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	Options    []OptionResult  `json:"options"`
	TotalVotes int64           `json:"total_votes"`
	MyVote     *uint           `json:"my_vote,omitempty"`
}

type OptionResult struct {
	ID       uint   `json:"id"`
	Text     string `json:"text"`
	Position int    `json:"position"`
	Votes    int64  `json:"votes"`
}

// CreatePoll stores a poll with all of its options, or nothing at all.
func (s *Service) CreatePoll(ctx context.Context, creatorID uint, in NewPoll) (view *Poll, err error) {
	defer metrics.Observe("create_poll", time.Now(), &err)
	question, options, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	kind := in.Kind
	if kind == "" {
		kind = models.PollKindOpinion
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if in.ChatID != nil {
		if err := s.members.RequireMember(ctx, creatorID, *in.ChatID); err != nil {
			return nil, err
		}
	}

	var row models.Poll
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Where("id = ?", creatorID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound("user %d not found", creatorID)
		}

		row = models.Poll{
			CreatorID: creatorID,
			ChatID:    in.ChatID,
			Question:  question,
			Kind:      kind,
			ExpiresAt: in.ExpiresAt,
			CreatedAt: s.clock(),
		}
		if err := tx.Omit("Options").Create(&row).Error; err != nil {
			return err
		}
		opts := make([]models.PollOption, 0, len(options))
		for i, text := range options {
			opts = append(opts, models.PollOption{PollID: row.ID, Text: text, Position: i})
		}
		if err := tx.Create(&opts).Error; err != nil {
			return err
		}
		row.Options = opts
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(ctx, err)
	}

	view = toView(row, nil, nil)
	s.publish(ctx, events.New(events.PollCreated, chatOf(row), creatorID, view))
	return view, nil
}

func (s *Service) validate(in NewPoll) (string, []string, error) {
	question := strings.TrimSpace(in.Question)
	if n := utf8.RuneCountInString(question); n < MinQuestionLength || n > MaxQuestionLength {
		return "", nil, apperr.InvalidArgument("question must be between %d and %d characters long", MinQuestionLength, MaxQuestionLength)
	}
	if len(in.Options) < MinOptions || len(in.Options) > MaxOptions {
		return "", nil, apperr.InvalidArgument("a poll needs between %d and %d options", MinOptions, MaxOptions)
	}
	if in.Kind != "" && in.Kind != models.PollKindOpinion && in.Kind != models.PollKindQuestion {
		return "", nil, apperr.InvalidArgument("unknown poll kind %q", in.Kind)
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(s.clock()) {
		return "", nil, apperr.InvalidArgument("expiry must be in the future")
	}

	seen := make(map[string]bool, len(in.Options))
	options := make([]string, 0, len(in.Options))
	for _, o := range in.Options {
		o = strings.TrimSpace(o)
		if o == "" || utf8.RuneCountInString(o) > MaxOptionLength {
			return "", nil, apperr.InvalidArgument("options must be between 1 and %d characters long", MaxOptionLength)
		}
		key := strings.ToLower(o)
		if seen[key] {
			return "", nil, apperr.InvalidArgument("duplicate option %q", o)
		}
		seen[key] = true
		options = append(options, o)
	}
	return question, options, nil
}

// Vote records userID's choice. A user votes at most once per poll.
func (s *Service) Vote(ctx context.Context, userID, pollID, optionID uint) (view *Poll, err error) {
	defer metrics.Observe("vote", time.Now(), &err)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	release, err := s.lock(ctx, fmt.Sprintf("poll:%d", pollID))
	if err != nil {
		return nil, err
	}
	defer release()

	poll, err := s.load(ctx, userID, pollID)
	if err != nil {
		return nil, err
	}
	if poll.ExpiresAt != nil && !s.clock().Before(*poll.ExpiresAt) {
		return nil, apperr.Conflict("poll %d has expired", pollID)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.PollOption{}).Where("id = ? AND poll_id = ?", optionID, pollID).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return apperr.NotFound("option %d does not belong to poll %d", optionID, pollID)
		}
		if err := tx.Model(&models.Vote{}).Where("poll_id = ? AND user_id = ?", pollID, userID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return apperr.Conflict("already voted in poll %d", pollID)
		}
		return tx.Create(&models.Vote{PollID: pollID, UserID: userID, OptionID: optionID, CreatedAt: s.clock()}).Error
	})
	if err != nil {
		return nil, apperr.FromStore(ctx, err)
	}
	metrics.VotesCast.Inc()

	view, err = s.results(ctx, poll, userID)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.New(events.PollVoted, chatOf(*poll), userID, map[string]any{
		"poll_id":   pollID,
		"option_id": optionID,
	}))
	return view, nil
}

// GetResults counts the votes of every option at read time.
func (s *Service) GetResults(ctx context.Context, requesterID, pollID uint) (view *Poll, err error) {
	defer metrics.Observe("get_results", time.Now(), &err)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	poll, err := s.load(ctx, requesterID, pollID)
	if err != nil {
		return nil, err
	}
	return s.results(ctx, poll, requesterID)
}

// DeletePoll removes a poll with its options and votes. Only the creator
// may delete it; messages pointing at it lose the reference.
func (s *Service) DeletePoll(ctx context.Context, requesterID, pollID uint) (err error) {
	defer metrics.Observe("delete_poll", time.Now(), &err)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	release, err := s.lock(ctx, fmt.Sprintf("poll:%d", pollID))
	if err != nil {
		return err
	}
	defer release()

	var poll models.Poll
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", pollID).Limit(1).Find(&poll).Error; err != nil {
			return err
		}
		if poll.ID == 0 {
			return apperr.NotFound("poll %d not found", pollID)
		}
		if poll.CreatorID != requesterID {
			return apperr.Forbidden("only the creator can delete this poll")
		}
		if err := tx.Where("poll_id = ?", pollID).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("poll_id = ?", pollID).Delete(&models.PollOption{}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Message{}).Where("poll_id = ?", pollID).Update("poll_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Poll{}, pollID).Error
	})
	if err != nil {
		return apperr.FromStore(ctx, err)
	}
	s.publish(ctx, events.New(events.PollDeleted, chatOf(poll), requesterID, map[string]any{"poll_id": pollID}))
	return nil
}

// load reads a poll with its options and checks chat membership for
// scoped polls.
func (s *Service) load(ctx context.Context, userID, pollID uint) (*models.Poll, error) {
	var poll models.Poll
	err := s.db.WithContext(ctx).
		Preload("Options", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ?", pollID).Limit(1).Find(&poll).Error
	if err != nil {
		return nil, apperr.FromStore(ctx, err)
	}
	if poll.ID == 0 {
		return nil, apperr.NotFound("poll %d not found", pollID)
	}
	if poll.ChatID != nil {
		if err := s.members.RequireMember(ctx, userID, *poll.ChatID); err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				// the chat is gone; so is access to its polls
				return nil, apperr.NotFound("poll %d not found", pollID)
			}
			return nil, err
		}
	}
	return &poll, nil
}

func (s *Service) results(ctx context.Context, poll *models.Poll, viewerID uint) (*Poll, error) {
	var counts []struct {
		OptionID uint
		N        int64
	}
	var mine []uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Vote{}).
			Select("option_id, COUNT(*) AS n").
			Where("poll_id = ?", poll.ID).
			Group("option_id").
			Scan(&counts).Error
		if err != nil {
			return err
		}
		return tx.Model(&models.Vote{}).
			Where("poll_id = ? AND user_id = ?", poll.ID, viewerID).
			Pluck("option_id", &mine).Error
	})
	if err != nil {
		return nil, apperr.FromStore(ctx, err)
	}

	byOption := make(map[uint]int64, len(counts))
	for _, c := range counts {
		byOption[c.OptionID] = c.N
	}
	var myVote *uint
	if len(mine) > 0 {
		myVote = &mine[0]
	}
	return toView(*poll, byOption, myVote), nil
}

func toView(p models.Poll, counts map[uint]int64, myVote *uint) *Poll {
	view := &Poll{
		ID:        p.ID,
		CreatorID: p.CreatorID,
		ChatID:    p.ChatID,
		Question:  p.Question,
		Kind:      p.Kind,
		ExpiresAt: p.ExpiresAt,
		CreatedAt: p.CreatedAt,
		Options:   make([]OptionResult, 0, len(p.Options)),
		MyVote:    myVote,
	}
	for _, o := range p.Options {
		n := counts[o.ID]
		view.Options = append(view.Options, OptionResult{ID: o.ID, Text: o.Text, Position: o.Position, Votes: n})
		view.TotalVotes += n
	}
	return view
}

func chatOf(p models.Poll) uint {
	if p.ChatID == nil {
		return 0
	}
	return *p.ChatID
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	release, err := s.locks.Acquire(ctx, key)
	if err != nil {
		return nil, apperr.FromStore(ctx, err)
	}
	return release, nil
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, ev); err != nil {
		metrics.EventPublishFailures.WithLabelValues(string(ev.Type)).Inc()
		s.log.Warn("event publish failed", "type", ev.Type, "chat_id", ev.ChatID, "err", err)
	}
}
