package hub

import (
	"campusconnect/backend/internal/events"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/charmbracelet/log"
)

func quietHub() *Hub { return NewHub(log.New(io.Discard)) }

func TestPublishReachesChatSubscribersOnly(t *testing.T) {
	h := quietHub()
	a, b := make(Client, 1), make(Client, 1)
	h.Subscribe(1, a)
	h.Subscribe(2, b)

	ev := events.New(events.MessageSent, 1, 7, map[string]any{"content": "hi"})
	if err := h.Publish(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	select {
	case raw := <-a:
		var got events.Event
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatal(err)
		}
		if got.ID != ev.ID || got.Type != events.MessageSent {
			t.Fatalf("unexpected event %+v", got)
		}
	default:
		t.Fatal("subscriber of chat 1 got nothing")
	}
	select {
	case <-b:
		t.Fatal("subscriber of chat 2 got chat 1's event")
	default:
	}
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	h := quietHub()
	c := make(Client) // unbuffered and never read
	h.Subscribe(3, c)
	h.Broadcast(3, []byte(`{}`))
}

func TestUnsubscribeClosesClient(t *testing.T) {
	h := quietHub()
	c := make(Client, 1)
	h.Subscribe(4, c)
	if h.Subscribers(4) != 1 {
		t.Fatal("expected one subscriber")
	}
	h.Unsubscribe(4, c)
	h.Unsubscribe(4, c) // second call is a no-op

	if _, ok := <-c; ok {
		t.Fatal("client channel should be closed")
	}
	if h.Subscribers(4) != 0 {
		t.Fatal("chat should have no subscribers left")
	}
}
