// Package events carries committed domain changes to whoever listens:
// the in-process SSE hub and, when configured, a Kafka topic or a NATS
// JetStream stream.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	ChatCreated   Type = "chat.created"
	ChatRenamed   Type = "chat.renamed"
	ChatDeleted   Type = "chat.deleted"
	MessageSent   Type = "message.sent"
	MessagesRead  Type = "messages.read"
	MemberAdded   Type = "member.added"
	MemberRemoved Type = "member.removed"
	AdminChanged  Type = "admin.changed"
	PollCreated   Type = "poll.created"
	PollVoted     Type = "poll.voted"
	PollDeleted   Type = "poll.deleted"
)

// Event is what gets published after a transaction commits.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	ChatID     uint      `json:"chat_id,omitempty"`
	ActorID    uint      `json:"actor_id"`
	Payload    any       `json:"payload,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func New(t Type, chatID, actorID uint, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		ChatID:     chatID,
		ActorID:    actorID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
