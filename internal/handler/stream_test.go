package handler

import (
	"campusconnect/backend/internal/chat"
	"campusconnect/backend/internal/events"
	"campusconnect/backend/internal/hub"
	"context"
	"encoding/json"
	"testing"
)

type streamed struct {
	Type    events.Type `json:"type"`
	Payload struct {
		Seq uint64 `json:"seq"`
	} `json:"payload"`
}

// follow replays what StreamEvents would write for userID out of the
// payloads queued on client.
func follow(t *testing.T, h *ChatHandler, client hub.Client, userID, chatID uint) []streamed {
	t.Helper()
	var out []streamed
	for {
		select {
		case payload := <-client:
			send, more := h.admit(context.Background(), userID, chatID, payload)
			if send {
				var ev streamed
				if err := json.Unmarshal(payload, &ev); err != nil {
					t.Fatal(err)
				}
				out = append(out, ev)
			}
			if !more {
				return out
			}
		default:
			return out
		}
	}
}

func TestStreamEndsAtRemoval(t *testing.T) {
	api := newAPI(t, Guards{})
	_, ann := api.user("ann")
	_, bob := api.user("bob")
	_, cid := api.user("cid")
	ctx := context.Background()
	h := api.handler

	g, err := h.Chats.CreateGroupChat(ctx, ann, chat.NewGroup{Name: "g", MemberIDs: []uint{bob, cid}})
	if err != nil {
		t.Fatal(err)
	}
	bobs, cids := make(hub.Client, 16), make(hub.Client, 16)
	h.Hub.Subscribe(g.ID, bobs)
	h.Hub.Subscribe(g.ID, cids)
	defer h.Hub.Unsubscribe(g.ID, bobs)
	defer h.Hub.Unsubscribe(g.ID, cids)

	if _, err := h.Chats.SendMessage(ctx, cid, g.ID, chat.SendInput{Content: "hi bob"}); err != nil {
		t.Fatal(err)
	}
	if err := h.Chats.RemoveMember(ctx, ann, g.ID, bob); err != nil {
		t.Fatal(err)
	}
	after, err := h.Chats.SendMessage(ctx, cid, g.ID, chat.SendInput{Content: "secret after bob left"})
	if err != nil {
		t.Fatal(err)
	}

	got := follow(t, h, bobs, bob, g.ID)
	if len(got) != 2 || got[0].Type != events.MessageSent || got[1].Type != events.MemberRemoved {
		t.Fatalf("expected one message then the removal, got %+v", got)
	}
	for _, ev := range got {
		if ev.Type == events.MessageSent && ev.Payload.Seq >= after.Seq {
			t.Fatalf("removed member saw message %d", ev.Payload.Seq)
		}
	}

	got = follow(t, h, cids, cid, g.ID)
	if len(got) != 3 || got[2].Type != events.MessageSent || got[2].Payload.Seq != after.Seq {
		t.Fatalf("remaining member should see everything, got %+v", got)
	}
}

func TestStreamStopsWhenRemovalWasDropped(t *testing.T) {
	api := newAPI(t, Guards{})
	_, ann := api.user("ann")
	_, bob := api.user("bob")
	_, cid := api.user("cid")
	ctx := context.Background()
	h := api.handler

	g, err := h.Chats.CreateGroupChat(ctx, ann, chat.NewGroup{Name: "g", MemberIDs: []uint{bob, cid}})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Chats.RemoveMember(ctx, ann, g.ID, bob); err != nil {
		t.Fatal(err)
	}

	// a slow client lost the removal; the next message must not reach it
	payload, err := json.Marshal(events.New(events.MessageSent, g.ID, cid, chat.Message{ChatID: g.ID, Seq: 7}))
	if err != nil {
		t.Fatal(err)
	}
	if send, more := h.admit(ctx, bob, g.ID, payload); send || more {
		t.Fatalf("removed member: send=%v more=%v", send, more)
	}
	if send, more := h.admit(ctx, cid, g.ID, payload); !send || !more {
		t.Fatalf("member: send=%v more=%v", send, more)
	}
}
