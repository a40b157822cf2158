// Package storage archives uploaded bank statements so a failed import can be
// inspected or replayed.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an archived statement does not exist.
var ErrNotFound = errors.New("archived file not found")

// FileInfo describes an archived statement.
type FileInfo struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Path        string    `json:"path"` // relative to the user's directory
	CreatedAt   time.Time `json:"created_at"`
}

// Archive stores uploaded statement files per user.
type Archive interface {
	// Put stores r under a new id.
	Put(ctx context.Context, userID uuid.UUID, filename, contentType string, r io.Reader) (*FileInfo, error)

	// Open returns the content of an archived file. The caller closes it.
	Open(ctx context.Context, userID, fileID uuid.UUID) (io.ReadCloser, *FileInfo, error)

	Info(ctx context.Context, userID, fileID uuid.UUID) (*FileInfo, error)

	List(ctx context.Context, userID uuid.UUID) ([]*FileInfo, error)

	Delete(ctx context.Context, userID, fileID uuid.UUID) error

	// PruneOlderThan deletes every archived file created before cutoff and
	// returns how many were removed.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Config holds archive configuration.
type Config struct {
	Enabled bool
	Dir     string
}

// New returns the local archive, or nil when archiving is disabled.
func New(cfg Config) (Archive, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	archive, err := NewLocalArchive(cfg.Dir)
	if err != nil {
		return nil, err
	}
	return archive, nil
}
