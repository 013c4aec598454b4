// Package chat holds the chat core: membership, the chat registry, the
// message store and group administration. Every state change runs in one
// database transaction under a per-chat lock and is published to the event
// fan-out only after it commits.
package chat

import (
	"campusconnect/backend/internal/apperr"
	"campusconnect/backend/internal/events"
	"campusconnect/backend/internal/keylock"
	"campusconnect/backend/internal/metrics"
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
)

const (
	DefaultTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// ObjectChecker confirms that an attachment was uploaded before a message
// may reference it.
type ObjectChecker interface {
	Exists(ctx context.Context, key string) (bool, error)
}

type Service struct {
	db      *gorm.DB
	locks   *keylock.Locks
	events  events.Publisher
	media   ObjectChecker
	log     *log.Logger
	now     func() time.Time
	timeout time.Duration
}

type Option func(*Service)

// WithPublisher sets where committed changes are announced.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

// WithMediaChecker makes SendMessage reject media keys with no uploaded
// object behind them.
func WithMediaChecker(c ObjectChecker) Option {
	return func(s *Service) { s.media = c }
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTimeout bounds every store call made by one operation. Zero disables
// the bound and leaves only the caller's deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

func New(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:      db,
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

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// clock returns the current time in the precision the store keeps.
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

// publish hands ev to the publisher once the transaction has committed.
// The change is already durable, so a failure here is only logged.
func (s *Service) publish(ctx context.Context, ev events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, ev); err != nil {
		metrics.EventPublishFailures.WithLabelValues(string(ev.Type)).Inc()
		s.log.Warn("event publish failed", "type", ev.Type, "chat_id", ev.ChatID, "err", err)
	}
}

func chatKey(chatID uint) string { return fmt.Sprintf("chat:%d", chatID) }

func directKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}
