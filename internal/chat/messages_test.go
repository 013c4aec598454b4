package chat

import (
	"campusconnect/backend/internal/apperr"
	"campusconnect/backend/internal/database/dbtest"
	"campusconnect/backend/internal/events"
	"campusconnect/backend/internal/models"
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSendMessageOrderSurvivesClockSkew(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	svc, db, _ := newService(t, WithClock(clock.Now))
	ctx := context.Background()
	ids := dbtest.Users(t, db, "ann", "bob")
	c, err := svc.CreateDirectChat(ctx, ids[0], ids[1])
	if err != nil {
		t.Fatal(err)
	}

	// frozen clock, then a clock that jumps backwards
	offsets := []time.Duration{0, 0, 0, -time.Hour, -2 * time.Hour, time.Second}
	var sent []*Message
	for i, off := range offsets {
		clock.Set(start.Add(off))
		m, err := svc.SendMessage(ctx, ids[i%2], c.ID, SendInput{Content: fmt.Sprintf("m%d", i)})
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		sent = append(sent, m)
	}

	for i := 1; i < len(sent); i++ {
		if sent[i].Seq != sent[i-1].Seq+1 {
			t.Fatalf("seq %d follows %d", sent[i].Seq, sent[i-1].Seq)
		}
		if sent[i].CreatedAt.Before(sent[i-1].CreatedAt) {
			t.Fatalf("message %d timestamp went backwards: %v < %v", i, sent[i].CreatedAt, sent[i-1].CreatedAt)
		}
	}

	page, err := svc.ListMessages(ctx, ids[1], c.ID, Page{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != int64(len(offsets)) || len(page.Messages) != len(offsets) {
		t.Fatalf("expected %d messages, got %d/%d", len(offsets), len(page.Messages), page.Total)
	}
	for i, m := range page.Messages {
		if m.Content != fmt.Sprintf("m%d", i) || m.Seq != uint64(i+1) {
			t.Fatalf("position %d holds %q seq %d", i, m.Content, m.Seq)
		}
	}
}

func TestConcurrentSendsGetDistinctSequenceNumbers(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	ids := dbtest.Users(t, db, "ann", "bob", "cid")
	g, err := svc.CreateGroupChat(ctx, ids[0], NewGroup{Name: "g", MemberIDs: ids[1:]})
	if err != nil {
		t.Fatal(err)
	}

	const n = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs []uint64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := svc.SendMessage(ctx, ids[i%3], g.ID, SendInput{Content: fmt.Sprintf("hello %d", i)})
			if err != nil {
				t.Errorf("send %d: %v", i, err)
				return
			}
			mu.Lock()
			seqs = append(seqs, m.Seq)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	if len(seqs) != n {
		t.Fatalf("expected %d messages, got %d", n, len(seqs))
	}
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Fatalf("sequence numbers not gapless and unique: %v", seqs)
		}
	}

	chats, err := svc.GetChatsForUser(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if chats[0].LastMessage == nil || chats[0].LastMessage.Seq != n {
		t.Fatalf("latest-message pointer not updated: %+v", chats[0].LastMessage)
	}
}

func TestSendMessageValidation(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	ids := dbtest.Users(t, db, "ann", "bob", "eve")
	c, err := svc.CreateDirectChat(ctx, ids[0], ids[1])
	if err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name   string
		sender uint
		chat   uint
		in     SendInput
		want   apperr.Kind
	}{
		{"empty", ids[0], c.ID, SendInput{Content: "   "}, apperr.KindInvalidArgument},
		{"too long", ids[0], c.ID, SendInput{Content: strings.Repeat("a", MaxContentLength+1)}, apperr.KindInvalidArgument},
		{"non member", ids[2], c.ID, SendInput{Content: "hi"}, apperr.KindForbidden},
		{"missing chat", ids[0], 9999, SendInput{Content: "hi"}, apperr.KindNotFound},
		{"bad media kind", ids[0], c.ID, SendInput{Content: "hi", Media: &Media{Key: MediaKeyPrefix(c.ID) + "a.bin", Kind: "audio"}}, apperr.KindInvalidArgument},
		{"foreign media key", ids[0], c.ID, SendInput{Content: "hi", Media: &Media{Key: "chats/9999/a.png", Kind: models.MediaImage}}, apperr.KindInvalidArgument},
		{"unknown poll", ids[0], c.ID, SendInput{Content: "hi", PollID: ptr(uint(4242))}, apperr.KindNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SendMessage(ctx, tc.sender, tc.chat, tc.in)
			wantKind(t, err, tc.want)
		})
	}

	var n int64
	db.Model(&models.Message{}).Count(&n)
	if n != 0 {
		t.Fatalf("rejected sends left %d messages behind", n)
	}

	m, err := svc.SendMessage(ctx, ids[0], c.ID, SendInput{Content: strings.Repeat("a", MaxContentLength)})
	if err != nil {
		t.Fatalf("max length message rejected: %v", err)
	}
	if m.Seq != 1 {
		t.Fatalf("unexpected seq %d", m.Seq)
	}
}

func ptr[T any](v T) *T { return &v }

func TestSendMessageWithMediaAndPoll(t *testing.T) {
	svc, db, rec := newService(t)
	ctx := context.Background()
	ids := dbtest.Users(t, db, "ann", "bob")
	c, err := svc.CreateDirectChat(ctx, ids[0], ids[1])
	if err != nil {
		t.Fatal(err)
	}
	other, err := svc.CreateGroupChat(ctx, ids[0], NewGroup{Name: "other", MemberIDs: []uint{ids[1]}})
	if err != nil {
		t.Fatal(err)
	}

	scoped := models.Poll{CreatorID: ids[0], ChatID: &other.ID, Question: "Lunch today?"}
	if err := db.Create(&scoped).Error; err != nil {
		t.Fatal(err)
	}
	free := models.Poll{CreatorID: ids[0], Question: "Best editor?"}
	if err := db.Create(&free).Error; err != nil {
		t.Fatal(err)
	}

	_, err = svc.SendMessage(ctx, ids[0], c.ID, SendInput{Content: "vote", PollID: &scoped.ID})
	wantKind(t, err, apperr.KindInvalidArgument)

	media := &Media{Key: MediaKeyPrefix(c.ID) + "photo.png", Kind: models.MediaImage}
	m, err := svc.SendMessage(ctx, ids[0], c.ID, SendInput{Content: "look", Media: media, PollID: &free.ID})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	page, err := svc.ListMessages(ctx, ids[1], c.ID, Page{})
	if err != nil {
		t.Fatal(err)
	}
	got := page.Messages[0]
	if got.ID != m.ID || got.Media == nil || got.Media.Key != media.Key || got.Media.Kind != models.MediaImage {
		t.Fatalf("media lost: %+v", got.Media)
	}
	if got.PollID == nil || *got.PollID != free.ID {
		t.Fatalf("poll reference lost: %v", got.PollID)
	}

	found := false
	for _, ev := range rec.events {
		if ev.Type == events.MessageSent && ev.ChatID == c.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("no message.sent event")
	}
}

func TestReadStateExcludesSender(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	ids := dbtest.Users(t, db, "ann", "bob", "cid")
	g, err := svc.CreateGroupChat(ctx, ids[0], NewGroup{Name: "g", MemberIDs: ids[1:]})
	if err != nil {
		t.Fatal(err)
	}

	m, err := svc.SendMessage(ctx, ids[1], g.ID, SendInput{Content: "hey"})
	if err != nil {
		t.Fatal(err)
	}
	if len(m.ReadState) != 2 {
		t.Fatalf("expected read state for 2 recipients, got %v", m.ReadState)
	}
	if _, ok := m.ReadState[ids[1]]; ok {
		t.Fatal("sender must not have a read marker")
	}
	for uid, mark := range m.ReadState {
		if mark.Read || mark.ReadAt != nil {
			t.Fatalf("recipient %d starts as read", uid)
		}
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc, db, rec := newService(t, WithClock(clock.Now))
	ctx := context.Background()
	ids := dbtest.Users(t, db, "ann", "bob", "eve")
	ann, bob := ids[0], ids[1]
	c, err := svc.CreateDirectChat(ctx, ann, bob)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if _, err := svc.SendMessage(ctx, ann, c.ID, SendInput{Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	readAt := clock.Now().Add(5 * time.Minute)
	clock.Set(readAt)
	n, err := svc.MarkRead(ctx, bob, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("expected 3 markers changed, got %d", n)
	}

	clock.Set(readAt.Add(time.Hour))
	n, err = svc.MarkRead(ctx, bob, c.ID)
	if err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	if n != 0 {
		t.Fatalf("second call changed %d markers", n)
	}

	page, err := svc.ListMessages(ctx, ann, c.ID, Page{})
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range page.Messages {
		mark := m.ReadState[bob]
		if !mark.Read || mark.ReadAt == nil || !mark.ReadAt.Equal(readAt) {
			t.Fatalf("message %d: unexpected read mark %+v", m.Seq, mark)
		}
	}

	// the sender has nothing to mark
	if n, err := svc.MarkRead(ctx, ann, c.ID); err != nil || n != 0 {
		t.Fatalf("sender mark read: %d %v", n, err)
	}
	_, err = svc.MarkRead(ctx, ids[2], c.ID)
	wantKind(t, err, apperr.KindForbidden)

	read := 0
	for _, typ := range rec.types() {
		if typ == events.MessagesRead {
			read++
		}
	}
	if read != 1 {
		t.Fatalf("expected one messages.read event, got %d", read)
	}
}

func TestListMessagesPaging(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	ids := dbtest.Users(t, db, "ann", "bob", "eve")
	c, err := svc.CreateDirectChat(ctx, ids[0], ids[1])
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i <= 7; i++ {
		if _, err := svc.SendMessage(ctx, ids[0], c.ID, SendInput{Content: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	p2, err := svc.ListMessages(ctx, ids[1], c.ID, Page{Page: 2, Limit: 3})
	if err != nil {
		t.Fatal(err)
	}
	if p2.Total != 7 || len(p2.Messages) != 3 || p2.Messages[0].Seq != 4 {
		t.Fatalf("unexpected page: total=%d len=%d", p2.Total, len(p2.Messages))
	}

	after, err := svc.ListMessages(ctx, ids[1], c.ID, Page{AfterSeq: 5})
	if err != nil {
		t.Fatal(err)
	}
	if after.Total != 2 || after.Messages[0].Seq != 6 || after.Messages[1].Seq != 7 {
		t.Fatalf("unexpected messages after seq 5: %+v", after.Messages)
	}

	big, err := svc.ListMessages(ctx, ids[1], c.ID, Page{Limit: 10_000})
	if err != nil {
		t.Fatal(err)
	}
	if big.Limit != MaxPageSize {
		t.Fatalf("limit not clamped: %d", big.Limit)
	}

	_, err = svc.ListMessages(ctx, ids[2], c.ID, Page{})
	wantKind(t, err, apperr.KindForbidden)
}

func TestRemovedMemberCannotSendOrRead(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	ids := dbtest.Users(t, db, "ann", "bob")
	g, err := svc.CreateGroupChat(ctx, ids[0], NewGroup{Name: "g", MemberIDs: []uint{ids[1]}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SendMessage(ctx, ids[0], g.ID, SendInput{Content: "welcome"}); err != nil {
		t.Fatal(err)
	}
	if err := svc.RemoveMember(ctx, ids[0], g.ID, ids[1]); err != nil {
		t.Fatal(err)
	}

	_, err = svc.SendMessage(ctx, ids[1], g.ID, SendInput{Content: "still here?"})
	wantKind(t, err, apperr.KindForbidden)
	_, err = svc.ListMessages(ctx, ids[1], g.ID, Page{})
	wantKind(t, err, apperr.KindForbidden)
}

func TestOperationsHonourTimeout(t *testing.T) {
	svc, db, _ := newService(t, WithTimeout(50*time.Millisecond))
	ids := dbtest.Users(t, db, "ann", "bob")
	c, err := svc.CreateDirectChat(context.Background(), ids[0], ids[1])
	if err != nil {
		t.Fatal(err)
	}

	// hold the chat lock so the send has to wait past its deadline
	release, err := svc.locks.Acquire(context.Background(), chatKey(c.ID))
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	_, err = svc.SendMessage(context.Background(), ids[0], c.ID, SendInput{Content: "hi"})
	wantKind(t, err, apperr.KindTimeout)
}

type fakeObjects map[string]bool

func (f fakeObjects) Exists(_ context.Context, key string) (bool, error) { return f[key], nil }

func TestSendMessageRequiresUploadedMedia(t *testing.T) {
	db := dbtest.Open(t)
	ids := dbtest.Users(t, db, "ann", "bob")
	objects := fakeObjects{}
	svc := New(db, WithMediaChecker(objects))
	ctx := context.Background()
	c, err := svc.CreateDirectChat(ctx, ids[0], ids[1])
	if err != nil {
		t.Fatal(err)
	}

	media := &Media{Key: MediaKeyPrefix(c.ID) + "clip.mp4", Kind: models.MediaVideo}
	_, err = svc.SendMessage(ctx, ids[0], c.ID, SendInput{Content: "clip", Media: media})
	wantKind(t, err, apperr.KindInvalidArgument)

	objects[media.Key] = true
	if _, err := svc.SendMessage(ctx, ids[0], c.ID, SendInput{Content: "clip", Media: media}); err != nil {
		t.Fatalf("uploaded media rejected: %v", err)
	}
}
