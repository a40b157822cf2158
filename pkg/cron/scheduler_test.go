package cron

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/household-finance/pkg/storage"
)

type fakeArchive struct {
	storage.Archive
	cutoff  time.Time
	removed int
	err     error
}

func (f *fakeArchive) PruneOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	f.cutoff = cutoff
	return f.removed, f.err
}

var _ storage.Archive = (*fakeArchive)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_RunNowUsesRetention(t *testing.T) {
	archive := &fakeArchive{removed: 4}
	s := NewScheduler(archive, 30*24*time.Hour, "", testLogger())
	now := time.Date(2024, 6, 1, 3, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	assert.Equal(t, 4, s.RunNow())
	assert.Equal(t, now.AddDate(0, 0, -30), archive.cutoff)
}

func TestScheduler_RunNowError(t *testing.T) {
	archive := &fakeArchive{removed: 1, err: errors.New("permission denied")}
	s := NewScheduler(archive, time.Hour, "", testLogger())

	assert.Equal(t, 1, s.RunNow())
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler(&fakeArchive{}, time.Hour, "@every 1h", testLogger())

	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Entries(), 1)
	<-s.Stop().Done()
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(&fakeArchive{}, time.Hour, "not a schedule", testLogger())

	assert.Error(t, s.Start())
}
