package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalArchive_PutOpenDelete(t *testing.T) {
	ctx := context.Background()
	archive, err := NewLocalArchive(t.TempDir())
	require.NoError(t, err)
	userID := uuid.New()

	info, err := archive.Put(ctx, userID, "../extracto marzo.xlsx", "application/octet-stream", strings.NewReader("PK\x03\x04data"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), info.Size)
	assert.Equal(t, userID, info.UserID)
	assert.NotContains(t, info.Path, "/")

	rc, got, err := archive.Open(ctx, userID, info.ID)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "PK\x03\x04data", string(body))
	assert.Equal(t, info.Name, got.Name)

	files, err := archive.List(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	require.NoError(t, archive.Delete(ctx, userID, info.ID))
	_, err = archive.Info(ctx, userID, info.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalArchive_ListUnknownUser(t *testing.T) {
	archive, err := NewLocalArchive(t.TempDir())
	require.NoError(t, err)

	files, err := archive.List(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestLocalArchive_PruneOlderThan(t *testing.T) {
	ctx := context.Background()
	archive, err := NewLocalArchive(t.TempDir())
	require.NoError(t, err)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	userA, userB := uuid.New(), uuid.New()

	archive.now = func() time.Time { return now.AddDate(0, 0, -40) }
	_, err = archive.Put(ctx, userA, "old.csv", "text/csv", strings.NewReader("a"))
	require.NoError(t, err)
	_, err = archive.Put(ctx, userB, "old.csv", "text/csv", strings.NewReader("b"))
	require.NoError(t, err)

	archive.now = func() time.Time { return now.AddDate(0, 0, -1) }
	recent, err := archive.Put(ctx, userA, "recent.csv", "text/csv", strings.NewReader("c"))
	require.NoError(t, err)

	removed, err := archive.PruneOlderThan(ctx, now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	files, err := archive.List(ctx, userA)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, recent.ID, files[0].ID)
}

func TestNew_Disabled(t *testing.T) {
	archive, err := New(Config{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, archive)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "__etc_passwd", sanitizeFilename("../etc/passwd"))
	assert.Equal(t, "statement", sanitizeFilename("  "))
	assert.Equal(t, "a_b.csv", sanitizeFilename("a:b.csv"))
}
