package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "emails.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenEmptyPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}

func TestSaveAndList(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	received := time.Date(2024, time.March, 9, 10, 30, 0, 0, time.FixedZone("CET", 3600))
	emails := []Email{
		{
			ID:         "b-2",
			Sender:     "news@example.com",
			Recipient:  "me@example.com",
			Subject:    "Weekly digest",
			Body:       "hello",
			ReceivedAt: received,
		},
		{
			ID:         "a-1",
			Sender:     "alerts@ci.example.com",
			Recipient:  "me@example.com",
			Subject:    "Build failed",
			Body:       "log attached",
			ReceivedAt: received.Add(-48 * time.Hour),
		},
	}
	require.NoError(t, s.Save(ctx, emails))

	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// List orders by message ID for determinism.
	assert.Equal(t, "a-1", got[0].ID)
	assert.Equal(t, "b-2", got[1].ID)
	assert.Equal(t, "Weekly digest", got[1].Subject)
	assert.True(t, got[1].ReceivedAt.Equal(received), "timestamp survives the round trip")

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestSaveUpsertsByID(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	first := Email{ID: "m1", Sender: "a@b.c", Subject: "old", ReceivedAt: time.Now().UTC()}
	require.NoError(t, s.Save(ctx, []Email{first}))

	first.Subject = "new"
	require.NoError(t, s.Save(ctx, []Email{first}))

	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Subject)
}

func TestSaveRejectsEmptyID(t *testing.T) {
	s := openTemp(t)
	err := s.Save(context.Background(), []Email{{ID: "   "}})
	assert.Error(t, err)

	got, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got, "failed batch leaves no partial rows")
}

func TestSaveEmptyBatch(t *testing.T) {
	s := openTemp(t)
	assert.NoError(t, s.Save(context.Background(), nil))
}
