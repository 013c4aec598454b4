package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const subjectPrefix = "chat.events"

// NatsPublisher stores events in a JetStream stream, one subject per chat.
type NatsPublisher struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// NewNatsPublisher connects to NATS and makes sure the stream exists.
func NewNatsPublisher(ctx context.Context, url, stream string) (*NatsPublisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := js.Stream(ctx, stream); err != nil {
		log.Info("JetStream stream not found, creating", "stream", stream)
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:        stream,
			Description: "Chat domain events",
			Subjects:    []string{subjectPrefix + ".>"},
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream %q: %w", stream, err)
		}
	}

	return &NatsPublisher{nc: nc, js: js}, nil
}

// Subject returns the subject events of a chat are published on.
func Subject(chatID uint) string {
	if chatID == 0 {
		return subjectPrefix + ".global"
	}
	return fmt.Sprintf("%s.%d", subjectPrefix, chatID)
}

func (p *NatsPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("nats: marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, Subject(ev.ChatID), data, jetstream.WithMsgID(ev.ID)); err != nil {
		return fmt.Errorf("failed to publish to %q: %w", Subject(ev.ChatID), err)
	}
	return nil
}

func (p *NatsPublisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
