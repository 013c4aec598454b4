// Package media hands out presigned upload and download URLs for chat
// attachments stored in an S3-compatible bucket.
package media

import (
	"campusconnect/backend/internal/chat"
	"campusconnect/backend/internal/models"
	"context"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	URLTTL    time.Duration
}

type Storage struct {
	cfg    Config
	client *minio.Client
}

func New(cfg Config) (*Storage, error) {
	cl, err := minio.New(strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "http://"), "https://"), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, err
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 15 * time.Minute
	}
	return &Storage{cfg: cfg, client: cl}, nil
}

func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return err
	}
	if !exists {
		return s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{})
	}
	return nil
}

// Upload is a presigned PUT the client uses to upload one attachment.
// Key goes into the message's media reference afterwards.
type Upload struct {
	Key       string           `json:"key"`
	Kind      models.MediaKind `json:"kind"`
	URL       string           `json:"url"`
	ExpiresAt time.Time        `json:"expires_at"`
}

// PresignUpload reserves a fresh object key under the chat's prefix.
func (s *Storage) PresignUpload(ctx context.Context, chatID uint, filename, contentType string) (*Upload, error) {
	key := ObjectKey(chatID, filename)
	u, err := s.client.PresignedPutObject(ctx, s.cfg.Bucket, key, s.cfg.URLTTL)
	if err != nil {
		return nil, err
	}
	return &Upload{
		Key:       key,
		Kind:      KindOf(contentType),
		URL:       u.String(),
		ExpiresAt: time.Now().UTC().Add(s.cfg.URLTTL),
	}, nil
}

func (s *Storage) PresignDownload(ctx context.Context, key string) (*url.URL, error) {
	return s.client.PresignedGetObject(ctx, s.cfg.Bucket, key, s.cfg.URLTTL, nil)
}

// Exists reports whether an object has been uploaded under key.
func (s *Storage) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.cfg.Bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return false, nil
	}
	return false, err
}

// ObjectKey builds chats/<id>/<uuid><ext>. Only the extension of the
// client-supplied name survives.
func ObjectKey(chatID uint, filename string) string {
	ext := strings.ToLower(path.Ext(path.Base(filename)))
	if len(ext) > 10 || strings.ContainsAny(ext, " /\\") {
		ext = ""
	}
	return chat.MediaKeyPrefix(chatID) + uuid.NewString() + ext
}

// KindOf classifies a MIME type; anything that is not an image or video
// is a document.
func KindOf(contentType string) models.MediaKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return models.MediaImage
	case strings.HasPrefix(contentType, "video/"):
		return models.MediaVideo
	}
	return models.MediaDocument
}
