// Package media stores uploaded images and hands back a URL the apps can render.
package media

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Chloe7243/Errandhub/internal/config"
	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/events"
	"github.com/Chloe7243/Errandhub/internal/repo"
)

const DefaultMaxBytes = 10 << 20

var (
	ErrUnsupportedType = errors.New("media: only JPEG, PNG and HEIC images are accepted")
	ErrTooLarge        = errors.New("media: image is larger than the upload limit")
	ErrEmpty           = errors.New("media: empty upload")
)

// Store persists an object under key and returns its public URL.
type Store interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

const (
	DriverLocal = "local"
	DriverS3    = "s3"
)

// NewStore builds the store selected by cfg. Relative local directories
// resolve against workspace.
func NewStore(ctx context.Context, workspace string, cfg config.MediaConfig) (Store, error) {
	switch cfg.Driver {
	case "", DriverLocal:
		dir := cfg.Dir
		if dir == "" {
			dir = "media"
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(workspace, dir)
		}
		return NewLocalStore(dir, cfg.BaseURL)
	case DriverS3:
		return NewS3Store(ctx, S3Config{
			Bucket:     cfg.S3.Bucket,
			Region:     cfg.S3.Region,
			Endpoint:   cfg.S3.Endpoint,
			Prefix:     cfg.S3.Prefix,
			PublicBase: cfg.S3.PublicBase,
		})
	default:
		return nil, fmt.Errorf("unsupported media driver: %s", cfg.Driver)
	}
}

// LocalStore writes files under Dir and serves them from BaseURL.
type LocalStore struct {
	Dir     string
	BaseURL string
}

func NewLocalStore(dir, baseURL string) (LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return LocalStore{}, fmt.Errorf("create media dir: %w", err)
	}
	if baseURL == "" {
		baseURL = "/media"
	}
	return LocalStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s LocalStore) Put(_ context.Context, key, _ string, body io.Reader, _ int64) (string, error) {
	if key != filepath.Base(key) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid media key %q", key)
	}
	tmp, err := os.CreateTemp(s.Dir, ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write media: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.Dir, key)); err != nil {
		return "", fmt.Errorf("store media: %w", err)
	}
	return s.BaseURL + "/" + key, nil
}

// Handler serves stored files read-only.
func (s LocalStore) Handler() http.Handler {
	return http.StripPrefix(s.BaseURL+"/", http.FileServer(http.Dir(s.Dir)))
}

var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/heic": ".heic",
}

// Sniff reports the image type of head, or "" when it is not one we take.
func Sniff(head []byte) string {
	if len(head) >= 12 && string(head[4:8]) == "ftyp" {
		switch string(head[8:12]) {
		case "heic", "heix", "mif1", "msf1", "hevc":
			return "image/heic"
		}
	}
	ct := http.DetectContentType(head)
	if _, ok := extensions[ct]; ok {
		return ct
	}
	return ""
}

// Uploader validates images, writes them to a Store and records who uploaded them.
type Uploader struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Store    Store
	MaxBytes int64
	Now      func() time.Time
}

func NewUploader(db *sql.DB, store Store, maxBytes int64) Uploader {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return Uploader{DB: db, Repo: repo.Repo{DB: db}, Store: store, MaxBytes: maxBytes, Now: time.Now}
}

func (u Uploader) now() time.Time {
	if u.Now != nil {
		return u.Now()
	}
	return time.Now()
}

// Upload stores body for ownerID. The declared content type must agree with
// the bytes; an empty declaration takes the sniffed type.
func (u Uploader) Upload(ctx context.Context, ownerID, contentType string, body io.Reader) (domain.Media, error) {
	limit := u.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return domain.Media{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return domain.Media{}, ErrEmpty
	}
	if int64(len(data)) > limit {
		return domain.Media{}, ErrTooLarge
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	sniffed := Sniff(head)
	declared := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if sniffed == "" || (declared != "" && declared != sniffed) {
		return domain.Media{}, ErrUnsupportedType
	}

	id := uuid.NewString()
	key := id + extensions[sniffed]
	url, err := u.Store.Put(ctx, key, sniffed, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return domain.Media{}, fmt.Errorf("put media: %w", err)
	}
	m := domain.Media{
		ID:          id,
		OwnerID:     ownerID,
		Key:         key,
		URL:         url,
		ContentType: sniffed,
		Size:        int64(len(data)),
		CreatedAt:   u.now().UTC().Format(time.RFC3339),
	}
	tx, err := u.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Media{}, err
	}
	defer tx.Rollback()
	if err := u.Repo.InsertMedia(ctx, tx, m); err != nil {
		return domain.Media{}, fmt.Errorf("insert media: %w", err)
	}
	if err := u.Events.Append(ctx, tx, events.MediaUploaded, "media", m.ID, ownerID, events.EventPayload{
		"url":          m.URL,
		"content_type": m.ContentType,
		"size":         m.Size,
	}); err != nil {
		return domain.Media{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Media{}, err
	}
	return m, nil
}

// ObjectKey joins an optional prefix and key with a single slash.
func ObjectKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return path.Join(prefix, key)
}
