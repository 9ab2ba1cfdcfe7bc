package avatar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"log/slog"

	"github.com/splax/splitter/internal/repository"
)

const defaultMaxBytes = 5 << 20

var (
	ErrStorageUnavailable = errors.New("Avatar storage not configured")
	ErrUnsupportedType    = errors.New("Content-Type must be image/png, image/jpeg or image/webp")
	ErrTooLarge           = errors.New("Avatar too large")
	ErrEmpty              = errors.New("Avatar body is empty")
)

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
}

// Service uploads profile pictures and records their public URL.
type Service struct {
	users      repository.UserRepository
	storage    Storage
	publicBase string
	maxBytes   int64
	logger     *slog.Logger
	now        func() time.Time
}

// New constructs a Service. A nil storage makes every upload fail with ErrStorageUnavailable.
func New(users repository.UserRepository, storage Storage, publicBase string, maxBytes int64, logger *slog.Logger) Service {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return Service{
		users:      users,
		storage:    storage,
		publicBase: strings.TrimRight(strings.TrimSpace(publicBase), "/"),
		maxBytes:   maxBytes,
		logger:     logger,
		now:        time.Now,
	}
}

// MaxBytes is the largest accepted upload.
func (s Service) MaxBytes() int64 { return s.maxBytes }

// Upload stores the image and updates the user's avatar URL.
func (s Service) Upload(ctx context.Context, userID int64, contentType string, body io.Reader) (string, error) {
	if s.storage == nil {
		return "", ErrStorageUnavailable
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", ErrUnsupportedType
	}
	ext, ok := extensions[strings.ToLower(mediaType)]
	if !ok {
		return "", ErrUnsupportedType
	}
	data, err := io.ReadAll(io.LimitReader(body, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read avatar: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", ErrTooLarge
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}

	key := ObjectKey(userID, s.now(), ext)
	if err := s.storage.Put(ctx, key, strings.ToLower(mediaType), data); err != nil {
		return "", err
	}
	url := s.publicBase + "/" + key
	if err := s.users.UpdateAvatarURL(ctx, userID, url); err != nil {
		return "", fmt.Errorf("save avatar url: %w", err)
	}
	s.logger.Info("avatar updated", "user_id", userID, "bytes", len(data), "key", key)
	return url, nil
}

// ObjectKey versions the key by upload time so CDN caches never serve a stale image.
func ObjectKey(userID int64, at time.Time, ext string) string {
	return fmt.Sprintf("avatars/%d/v%d/avatar.%s", userID, at.Unix(), ext)
}
