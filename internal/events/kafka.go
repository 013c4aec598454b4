package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	k "github.com/segmentio/kafka-go"
)

// KafkaPublisher writes events to a single topic keyed by chat id, so all
// events of one chat land on the same partition in order.
type KafkaPublisher struct {
	w *k.Writer
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	w := &k.Writer{
		Addr:                   k.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &k.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           k.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{w: w}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("kafka: marshal event: %w", err)
	}
	return p.w.WriteMessages(ctx, k.Message{
		Key:   []byte(strconv.FormatUint(uint64(ev.ChatID), 10)),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []k.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	})
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }
