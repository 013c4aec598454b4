// Package idem makes retried POSTs safe: the first request with a given
// Idempotency-Key runs, later ones get the stored response back.
package idem

import (
	"bytes"
	"campusconnect/backend/internal/redisx"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	Header         = "Idempotency-Key"
	ReplayedHeader = "Idempotent-Replayed"

	maxKeyLength = 128
	pending      = "pending"
)

// Record is a stored response. A zero Status means the first request is
// still running.
type Record struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type Store struct {
	r   *redis.Client
	ttl time.Duration
}

func New(rdb *redisx.Client, ttl time.Duration) *Store {
	return &Store{r: rdb.R, ttl: ttl}
}

// Reserve claims key. It returns false when another request got there first.
func (s *Store) Reserve(ctx context.Context, key string) (bool, error) {
	return s.r.SetNX(ctx, "idem:"+key, pending, s.ttl).Result()
}

func (s *Store) Save(ctx context.Context, key string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.r.Set(ctx, "idem:"+key, raw, s.ttl).Err()
}

// Load returns nil when key is unknown.
func (s *Store) Load(ctx context.Context, key string) (*Record, error) {
	raw, err := s.r.Get(ctx, "idem:"+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if raw == pending {
		return &Record{}, nil
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Release forgets key so the client can retry after a failure.
func (s *Store) Release(ctx context.Context, key string) error {
	return s.r.Del(ctx, "idem:"+key).Err()
}

// Middleware applies the store to requests carrying an Idempotency-Key.
// Keys are scoped to the authenticated user and the request path. Only
// successful responses are kept; failures release the key.
func (s *Store) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(Header)
		if raw == "" {
			c.Next()
			return
		}
		if len(raw) > maxKeyLength {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("%s must be at most %d characters", Header, maxKeyLength),
				"code":  "INVALID_ARGUMENT",
			})
			return
		}

		userID, _ := c.Get("userID")
		key := fmt.Sprintf("%v:%s:%s:%s", userID, c.Request.Method, c.Request.URL.Path, raw)
		ctx := c.Request.Context()

		ok, err := s.Reserve(ctx, key)
		if err != nil {
			log.Warn("idempotency store unavailable", "err", err)
			c.Next()
			return
		}
		if !ok {
			rec, err := s.Load(ctx, key)
			if err == nil && rec != nil && rec.Status != 0 {
				c.Header(ReplayedHeader, "true")
				c.Data(rec.Status, rec.ContentType, rec.Body)
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error": "a request with this idempotency key is still in progress",
				"code":  "CONFLICT",
			})
			return
		}

		w := &bodyRecorder{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if w.Status() >= http.StatusBadRequest {
			if err := s.Release(bg, key); err != nil {
				log.Warn("idempotency key release failed", "err", err)
			}
			return
		}
		rec := Record{Status: w.Status(), ContentType: w.Header().Get("Content-Type"), Body: w.body.Bytes()}
		if err := s.Save(bg, key, rec); err != nil {
			log.Warn("idempotency record save failed", "err", err)
		}
	}
}

type bodyRecorder struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (r *bodyRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *bodyRecorder) WriteString(s string) (int, error) {
	r.body.WriteString(s)
	return r.ResponseWriter.WriteString(s)
}
