package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/form-filler/internal/filling"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func report(url string, interrupted bool) *filling.Report {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &filling.Report{
		URL:        url,
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Stages: []filling.StageResult{
			{Name: filling.StageFields, Mode: filling.ModeDirect, Total: 3, Filled: 2, Weak: 1},
			{Name: filling.StageDropdowns, Mode: filling.ModeTypeAndConfirm, Total: 1, Failed: 1},
		},
		Outcomes: []filling.Outcome{
			{Concept: "First Name", Status: filling.StatusFilled, Label: "First Name", InputID: "first_name", Score: 0.97},
		},
		Claimed:     []string{"first name"},
		Interrupted: interrupted,
	}
}

func TestRecordAndSeen(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	seen, err := store.Seen(ctx, "https://jobs.example.com/apply/1")
	require.NoError(t, err)
	assert.False(t, seen)
	require.NoError(t, store.Check(ctx, "https://jobs.example.com/apply/1"))

	id, err := store.Record(ctx, report("https://jobs.example.com/apply/1/", false))
	require.NoError(t, err)
	assert.Positive(t, id)

	seen, err = store.Seen(ctx, " https://jobs.example.com/apply/1 ")
	require.NoError(t, err)
	assert.True(t, seen)

	err = store.Check(ctx, "https://jobs.example.com/apply/1")
	assert.ErrorIs(t, err, ErrAlreadyFilled)

	seen, err = store.Seen(ctx, "https://jobs.example.com/apply/2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestInterruptedRunsDoNotCount(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	_, err := store.Record(ctx, report("https://jobs.example.com/apply/3", true))
	require.NoError(t, err)

	seen, err := store.Seen(ctx, "https://jobs.example.com/apply/3")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRunsAndReport(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	first, err := store.Record(ctx, report("https://a.example.com", false))
	require.NoError(t, err)
	second, err := store.Record(ctx, report("https://b.example.com", true))
	require.NoError(t, err)

	runs, err := store.Runs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, second, runs[0].ID)
	assert.True(t, runs[0].Interrupted)
	assert.Equal(t, first, runs[1].ID)
	assert.Equal(t, "https://a.example.com", runs[1].URL)
	assert.Equal(t, 2, runs[1].Filled)
	assert.Equal(t, 1, runs[1].Weak)
	assert.Equal(t, 1, runs[1].Failed)
	assert.Equal(t, time.Minute, runs[1].FinishedAt.Sub(runs[1].StartedAt))

	stored, err := store.Report(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, []string{"first name"}, stored.Claimed)
	require.Len(t, stored.Outcomes, 1)
	assert.Equal(t, filling.StatusFilled, stored.Outcomes[0].Status)
	assert.Equal(t, filling.ModeTypeAndConfirm, stored.Stages[1].Mode)

	_, err = store.Report(ctx, 999)
	assert.Error(t, err)
}

func TestRecordRejectsNilReport(t *testing.T) {
	_, err := openStore(t).Record(context.Background(), nil)
	assert.Error(t, err)
}
