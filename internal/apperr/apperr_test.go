package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{InvalidArgument("bad %s", "input"), KindInvalidArgument},
		{fmt.Errorf("wrapped: %w", Forbidden("no")), KindForbidden},
		{errors.New("plain"), KindInternal},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestMessageHidesUntypedErrors(t *testing.T) {
	if got := Message(NotFound("chat %d not found", 7)); got != "chat 7 not found" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := Message(errors.New("pq: password authentication failed")); got != "internal error" {
		t.Fatalf("untyped error leaked: %q", got)
	}
}

func TestFromStore(t *testing.T) {
	ctx := context.Background()

	if FromStore(ctx, nil) != nil {
		t.Fatal("nil should stay nil")
	}

	typed := Conflict("already voted")
	if got := FromStore(ctx, typed); got != error(typed) {
		t.Fatalf("typed error should pass through, got %v", got)
	}

	if k := KindOf(FromStore(ctx, gorm.ErrRecordNotFound)); k != KindNotFound {
		t.Fatalf("record not found mapped to %q", k)
	}
	if k := KindOf(FromStore(ctx, gorm.ErrDuplicatedKey)); k != KindConflict {
		t.Fatalf("duplicate key mapped to %q", k)
	}
	if k := KindOf(FromStore(ctx, fmt.Errorf("query: %w", context.DeadlineExceeded))); k != KindTimeout {
		t.Fatalf("deadline mapped to %q", k)
	}

	driverErr := errors.New("connection refused")
	got := FromStore(ctx, driverErr)
	if KindOf(got) != KindUnavailable {
		t.Fatalf("driver error mapped to %q", KindOf(got))
	}
	if !errors.Is(got, driverErr) {
		t.Fatal("cause should stay reachable through Unwrap")
	}
}

func TestFromStoreExpiredContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	if k := KindOf(FromStore(ctx, errors.New("driver: bad connection"))); k != KindTimeout {
		t.Fatalf("expired context mapped to %q", k)
	}
}
