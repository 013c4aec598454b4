package chat

import (
	"campusconnect/backend/internal/apperr"
	"campusconnect/backend/internal/database/dbtest"
	"campusconnect/backend/internal/events"
	"campusconnect/backend/internal/models"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newService(t *testing.T, opts ...Option) (*Service, *gorm.DB, *recorder) {
	t.Helper()
	db := dbtest.Open(t)
	rec := &recorder{}
	opts = append([]Option{WithPublisher(rec)}, opts...)
	return New(db, opts...), db, rec
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("expected %s, got %v", kind, err)
	}
}

func TestCreateDirectChatIsIdempotent(t *testing.T) {
	svc, db, rec := newService(t)
	ctx := context.Background()
	ids := dbtest.Users(t, db, "ann", "bob")
	a, b := ids[0], ids[1]

	first, err := svc.CreateDirectChat(ctx, a, b)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	again, err := svc.CreateDirectChat(ctx, a, b)
	if err != nil {
		t.Fatalf("create again: %v", err)
	}
	reversed, err := svc.CreateDirectChat(ctx, b, a)
	if err != nil {
		t.Fatalf("create reversed: %v", err)
	}
	if first.ID != again.ID || first.ID != reversed.ID {
		t.Fatalf("expected one chat, got %d, %d, %d", first.ID, again.ID, reversed.ID)
	}

	d, ok := first.Variant.(Direct)
	if !ok {
		t.Fatalf("expected a direct chat, got %T", first.Variant)
	}
	if d.MemberA != a || d.MemberB != b {
		t.Fatalf("unexpected members %+v", d)
	}
	if first.Title != "bob" || reversed.Title != "ann" {
		t.Fatalf("titles should name the other member, got %q and %q", first.Title, reversed.Title)
	}
	if got := rec.types(); len(got) != 1 || got[0] != events.ChatCreated {
		t.Fatalf("expected a single chat.created event, got %v", got)
	}
}

func TestCreateDirectChatConcurrent(t *testing.T) {
	svc, db, _ := newService(t)
	ids := dbtest.Users(t, db, "ann", "bob")

	const n = 8
	got := make([]uint, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := ids[0], ids[1]
			if i%2 == 1 {
				a, b = b, a
			}
			c, err := svc.CreateDirectChat(context.Background(), a, b)
			errs[i] = err
			if c != nil {
				got[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for i := range got {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if got[i] != got[0] {
			t.Fatalf("call %d returned chat %d, want %d", i, got[i], got[0])
		}
	}
	var count int64
	db.Model(&models.Chat{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one chat row, got %d", count)
	}
}

func TestCreateDirectChatRejectsBadInput(t *testing.T) {
	svc, db, _ := newService(t)
	ids := dbtest.Users(t, db, "ann")

	_, err := svc.CreateDirectChat(context.Background(), ids[0], ids[0])
	wantKind(t, err, apperr.KindInvalidArgument)

	_, err = svc.CreateDirectChat(context.Background(), ids[0], 9999)
	wantKind(t, err, apperr.KindNotFound)
}

func TestCreateGroupChat(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	ids := dbtest.Users(t, db, "ann", "bob", "cid")
	ann, bob, cid := ids[0], ids[1], ids[2]

	g, err := svc.CreateGroupChat(ctx, ann, NewGroup{Name: "  study group  ", MemberIDs: []uint{bob, cid}})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if g.Kind() != models.ChatKindGroup || g.AdminID() != ann {
		t.Fatalf("unexpected group %+v", g)
	}
	if g.Title != "study group" {
		t.Fatalf("name should be trimmed, got %q", g.Title)
	}
	if m := g.Members(); len(m) != 3 || m[0] != ann || m[1] != bob || m[2] != cid {
		t.Fatalf("unexpected members %v", m)
	}

	// creator listed among members is fine
	solo, err := svc.CreateGroupChat(ctx, ann, NewGroup{Name: "notes", MemberIDs: []uint{ann}})
	if err != nil {
		t.Fatalf("create solo group: %v", err)
	}
	if m := solo.Members(); len(m) != 1 || m[0] != ann {
		t.Fatalf("unexpected members %v", m)
	}

	cases := []struct {
		name string
		in   NewGroup
		want apperr.Kind
	}{
		{"empty name", NewGroup{Name: "   ", MemberIDs: []uint{bob}}, apperr.KindInvalidArgument},
		{"long name", NewGroup{Name: strings.Repeat("x", MaxGroupNameLength+1), MemberIDs: []uint{bob}}, apperr.KindInvalidArgument},
		{"no members", NewGroup{Name: "g"}, apperr.KindInvalidArgument},
		{"duplicates", NewGroup{Name: "g", MemberIDs: []uint{bob, bob}}, apperr.KindInvalidArgument},
		{"unknown user", NewGroup{Name: "g", MemberIDs: []uint{bob, 9999}}, apperr.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateGroupChat(ctx, ann, tc.in)
			wantKind(t, err, tc.want)
		})
	}
}

func TestMembershipChecks(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	ids := dbtest.Users(t, db, "ann", "bob", "eve")
	c, err := svc.CreateDirectChat(ctx, ids[0], ids[1])
	if err != nil {
		t.Fatal(err)
	}

	ok, err := svc.IsMember(ctx, ids[0], c.ID)
	if err != nil || !ok {
		t.Fatalf("ann should be a member: %v %v", ok, err)
	}
	ok, err = svc.IsMember(ctx, ids[2], c.ID)
	if err != nil || ok {
		t.Fatalf("eve should not be a member: %v %v", ok, err)
	}

	wantKind(t, svc.RequireMember(ctx, ids[2], c.ID), apperr.KindForbidden)
	wantKind(t, svc.RequireMember(ctx, ids[0], 9999), apperr.KindNotFound)
	if err := svc.RequireMember(ctx, ids[1], c.ID); err != nil {
		t.Fatalf("bob should pass: %v", err)
	}

	members, err := svc.ListMembers(ctx, ids[0], c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || members[0].DisplayName != "ann" || members[0].IsAdmin {
		t.Fatalf("unexpected members %+v", members)
	}
}

func TestGetChatsForUserOrdering(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc, db, _ := newService(t, WithClock(clock.Now))
	ctx := context.Background()
	ids := dbtest.Users(t, db, "ann", "bob", "cid")
	ann, bob, cid := ids[0], ids[1], ids[2]

	withBob, err := svc.CreateDirectChat(ctx, ann, bob)
	if err != nil {
		t.Fatal(err)
	}
	withCid, err := svc.CreateDirectChat(ctx, ann, cid)
	if err != nil {
		t.Fatal(err)
	}

	// same activity time: ties go to the lower id
	chats, err := svc.GetChatsForUser(ctx, ann)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 2 || chats[0].ID != withBob.ID || chats[1].ID != withCid.ID {
		t.Fatalf("unexpected order %v", chatIDs(chats))
	}

	clock.Set(clock.Now().Add(time.Minute))
	if _, err := svc.SendMessage(ctx, cid, withCid.ID, SendInput{Content: "hi ann"}); err != nil {
		t.Fatal(err)
	}

	chats, err = svc.GetChatsForUser(ctx, ann)
	if err != nil {
		t.Fatal(err)
	}
	if chats[0].ID != withCid.ID {
		t.Fatalf("chat with the newest message should come first, got %v", chatIDs(chats))
	}
	if chats[0].LastMessage == nil || chats[0].LastMessage.Preview != "hi ann" {
		t.Fatalf("missing last message summary: %+v", chats[0].LastMessage)
	}
	if chats[0].UnreadCount != 1 || chats[1].UnreadCount != 0 {
		t.Fatalf("unexpected unread counts %d/%d", chats[0].UnreadCount, chats[1].UnreadCount)
	}

	bobChats, err := svc.GetChatsForUser(ctx, bob)
	if err != nil {
		t.Fatal(err)
	}
	if len(bobChats) != 1 || bobChats[0].ID != withBob.ID {
		t.Fatalf("bob should only see his chat, got %v", chatIDs(bobChats))
	}
}

func chatIDs(chats []Chat) []uint {
	out := make([]uint, 0, len(chats))
	for _, c := range chats {
		out = append(out, c.ID)
	}
	return out
}

func TestDeleteChat(t *testing.T) {
	svc, db, rec := newService(t)
	ctx := context.Background()
	ids := dbtest.Users(t, db, "ann", "bob", "eve")
	ann, bob, eve := ids[0], ids[1], ids[2]

	direct, err := svc.CreateDirectChat(ctx, ann, bob)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SendMessage(ctx, ann, direct.ID, SendInput{Content: "bye"}); err != nil {
		t.Fatal(err)
	}
	wantKind(t, svc.DeleteChat(ctx, eve, direct.ID), apperr.KindForbidden)
	if err := svc.DeleteChat(ctx, bob, direct.ID); err != nil {
		t.Fatalf("either member may delete a direct chat: %v", err)
	}
	wantKind(t, svc.DeleteChat(ctx, bob, direct.ID), apperr.KindNotFound)

	for _, m := range []any{&models.Message{}, &models.MessageRead{}, &models.Membership{}} {
		var n int64
		db.Model(m).Where("chat_id = ?", direct.ID).Count(&n)
		if n != 0 {
			t.Fatalf("%T rows left after delete: %d", m, n)
		}
	}

	group, err := svc.CreateGroupChat(ctx, ann, NewGroup{Name: "g", MemberIDs: []uint{bob}})
	if err != nil {
		t.Fatal(err)
	}
	wantKind(t, svc.DeleteChat(ctx, bob, group.ID), apperr.KindForbidden)
	if err := svc.DeleteChat(ctx, ann, group.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}

	// re-creating the pair after deletion yields a fresh chat
	again, err := svc.CreateDirectChat(ctx, ann, bob)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID == direct.ID {
		t.Fatal("deleted chat came back")
	}

	deleted := 0
	for _, typ := range rec.types() {
		if typ == events.ChatDeleted {
			deleted++
		}
	}
	if deleted != 2 {
		t.Fatalf("expected 2 chat.deleted events, got %d", deleted)
	}
}
