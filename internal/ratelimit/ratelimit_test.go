package ratelimit

import (
	"campusconnect/backend/internal/redisx"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
)

func newLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return New(redisx.New(mr.Addr(), "")), mr
}

// tick moves the limiter's clock and the server's TTLs together.
func tick(l *Limiter, mr *miniredis.Miniredis) func(time.Duration) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return func(d time.Duration) {
		now = now.Add(d)
		mr.FastForward(d)
	}
}

func TestAllowCountsWithinWindow(t *testing.T) {
	l, mr := newLimiter(t)
	advance := tick(l, mr)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ok, n, err := l.Allow(ctx, "u1", 3, time.Minute)
		if err != nil || !ok || n != int64(i) {
			t.Fatalf("hit %d: ok=%v n=%d err=%v", i, ok, n, err)
		}
		advance(time.Second)
	}
	ok, _, err := l.Allow(ctx, "u1", 3, time.Minute)
	if err != nil || ok {
		t.Fatalf("fourth hit should be refused: ok=%v err=%v", ok, err)
	}

	// other keys have their own budget
	if ok, _, _ := l.Allow(ctx, "u2", 3, time.Minute); !ok {
		t.Fatal("u2 should not be limited")
	}

	// the first hit leaves the window, the refused one never counted
	advance(57 * time.Second)
	if ok, n, _ := l.Allow(ctx, "u1", 3, time.Minute); !ok || n != 3 {
		t.Fatalf("oldest hit should have slid out, ok=%v n=%d", ok, n)
	}

	advance(2 * time.Minute)
	if ok, n, _ := l.Allow(ctx, "u1", 3, time.Minute); !ok || n != 1 {
		t.Fatalf("window should be empty again, n=%d", n)
	}
}

func TestAllowSteadyUserIsNeverLockedOut(t *testing.T) {
	l, mr := newLimiter(t)
	advance := tick(l, mr)
	ctx := context.Background()

	// three hits a minute at most in any sixty seconds
	for i := 0; i < 20; i++ {
		ok, n, err := l.Allow(ctx, "u1", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("hit %d refused: n=%d err=%v", i, n, err)
		}
		advance(25 * time.Second)
	}
}

func TestAllowRefusalsDoNotExtendTheBlock(t *testing.T) {
	l, mr := newLimiter(t)
	advance := tick(l, mr)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _, _ := l.Allow(ctx, "u1", 2, time.Minute); !ok {
			t.Fatalf("hit %d refused", i)
		}
	}
	for i := 0; i < 10; i++ {
		advance(5 * time.Second)
		if ok, _, _ := l.Allow(ctx, "u1", 2, time.Minute); ok {
			t.Fatalf("retry %d should be refused", i)
		}
	}
	advance(11 * time.Second)
	if ok, n, _ := l.Allow(ctx, "u1", 2, time.Minute); !ok || n != 1 {
		t.Fatalf("budget should be back a minute after the first hits, ok=%v n=%d", ok, n)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, mr := newLimiter(t)

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("userID", uint(7)); c.Next() })
	r.POST("/send", l.Middleware("messages", 2, time.Minute), func(c *gin.Context) { c.Status(http.StatusCreated) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/send", nil))
		codes = append(codes, w.Code)
	}
	if codes[0] != http.StatusCreated || codes[1] != http.StatusCreated || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes %v", codes)
	}

	// fail open when redis goes away
	mr.Close()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/send", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected request to pass without redis, got %d", w.Code)
	}
}
