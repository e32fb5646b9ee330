package media

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chloe7243/Errandhub/internal/config"
	"github.com/Chloe7243/Errandhub/internal/db"
	"github.com/Chloe7243/Errandhub/internal/domain"
	"github.com/Chloe7243/Errandhub/internal/events"
	"github.com/Chloe7243/Errandhub/internal/migrate"
)

var (
	pngHead  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpegHead = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}
	heicHead = []byte("\x00\x00\x00\x18ftypheic\x00\x00\x00\x00")
)

func newUploader(t *testing.T, maxBytes int64) (Uploader, string) {
	t.Helper()
	ws := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: ws})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	u := NewUploader(conn, nil, maxBytes)
	require.NoError(t, u.Repo.InsertUser(context.Background(), nil, domain.User{
		ID: "u1", FirstName: "Ada", LastName: "L", Email: "ada@kcl.ac.uk", Phone: "07123456789",
		PasswordHash: "x", CreatedAt: "2024-01-01T00:00:00Z",
	}))
	cfg := config.Default().Media
	store, err := NewStore(context.Background(), ws, cfg)
	require.NoError(t, err)
	u.Store = store
	return u, filepath.Join(ws, "media")
}

func TestSniff(t *testing.T) {
	assert.Equal(t, "image/png", Sniff(pngHead))
	assert.Equal(t, "image/jpeg", Sniff(jpegHead))
	assert.Equal(t, "image/heic", Sniff(heicHead))
	assert.Equal(t, "", Sniff([]byte("GIF89a......")))
	assert.Equal(t, "", Sniff([]byte("hello world")))
}

func TestUploadStoresLocally(t *testing.T) {
	u, dir := newUploader(t, 0)
	ctx := context.Background()

	m, err := u.Upload(ctx, "u1", "image/png", bytes.NewReader(pngHead))
	require.NoError(t, err)
	assert.Equal(t, "image/png", m.ContentType)
	assert.True(t, strings.HasPrefix(m.URL, "/media/"))
	assert.True(t, strings.HasSuffix(m.Key, ".png"))

	data, err := os.ReadFile(filepath.Join(dir, m.Key))
	require.NoError(t, err)
	assert.Equal(t, pngHead, data)

	got, err := u.Repo.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m, got)

	evts, err := u.Repo.LatestEvents(ctx, 5, events.MediaUploaded, "media", m.ID)
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestUploadRejects(t *testing.T) {
	u, _ := newUploader(t, 16)
	ctx := context.Background()

	_, err := u.Upload(ctx, "u1", "image/png", bytes.NewReader(nil))
	assert.ErrorIs(t, err, ErrEmpty)

	_, err = u.Upload(ctx, "u1", "image/gif", bytes.NewReader([]byte("GIF89a")))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = u.Upload(ctx, "u1", "image/jpeg", bytes.NewReader(pngHead))
	assert.ErrorIs(t, err, ErrUnsupportedType, "declared type must match the bytes")

	big := append(append([]byte{}, pngHead...), bytes.Repeat([]byte{0}, 32)...)
	_, err = u.Upload(ctx, "u1", "", bytes.NewReader(big))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestLocalStoreRejectsPaths(t *testing.T) {
	s, err := NewLocalStore(t.TempDir(), "")
	require.NoError(t, err)
	_, err = s.Put(context.Background(), "../escape.png", "image/png", bytes.NewReader(pngHead), 0)
	assert.Error(t, err)
}

func TestPublicBase(t *testing.T) {
	assert.Equal(t, "https://cdn.example.com", publicBase(S3Config{Bucket: "b", PublicBase: "https://cdn.example.com/"}))
	assert.Equal(t, "http://localhost:9000/b", publicBase(S3Config{Bucket: "b", Endpoint: "http://localhost:9000"}))
	assert.Equal(t, "https://b.s3.eu-west-2.amazonaws.com", publicBase(S3Config{Bucket: "b", Region: "eu-west-2"}))
	assert.Equal(t, "uploads/x.png", ObjectKey("uploads", "x.png"))
	assert.Equal(t, "x.png", ObjectKey("", "x.png"))
}

func TestNewStoreUnknownDriver(t *testing.T) {
	_, err := NewStore(context.Background(), t.TempDir(), config.MediaConfig{Driver: "ftp"})
	assert.Error(t, err)
}
