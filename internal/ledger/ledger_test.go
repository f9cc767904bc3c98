// ABOUTME: Tests for the SQLite turn ledger
// ABOUTME: Covers RecordTurn, GetTurn, ListTurns filters, Stats, and the observer hook

package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley/internal/conversation"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "nested", "ledger.db")

	store, err := Open(dbPath, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func makeTurn(sessionID, model string, outcome conversation.Outcome, started time.Time) *conversation.TurnRecord {
	rec := &conversation.TurnRecord{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Model:      model,
		Prompt:     "hello",
		Outcome:    outcome,
		Fragments:  2,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
	}
	switch outcome {
	case conversation.OutcomeCompleted:
		rec.Reply = "Hello there"
	case conversation.OutcomeFailed:
		rec.FaultReason = "rate limited"
	}
	return rec
}

func TestStore_RecordAndGetTurn(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC()
	rec := makeTurn("session-1", "chatgpt", conversation.OutcomeCompleted, started)
	require.NoError(t, store.RecordTurn(ctx, rec))

	got, err := store.GetTurn(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, got.SessionID)
	assert.Equal(t, "Hello there", got.Reply)
	assert.Equal(t, conversation.OutcomeCompleted, got.Outcome)
	assert.Equal(t, 2, got.Fragments)
	assert.True(t, rec.StartedAt.Equal(got.StartedAt), "started_at round trips with full precision")
	assert.Equal(t, 1500*time.Millisecond, got.Duration())
}

func TestStore_GetTurnNotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetTurn(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_RecordTurnRejectsDuplicateID(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := makeTurn("session-1", "chatgpt", conversation.OutcomeCompleted, time.Now())
	require.NoError(t, store.RecordTurn(ctx, rec))
	assert.Error(t, store.RecordTurn(ctx, rec))
}

func TestStore_ListTurnsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	var ids []string
	for i := range 3 {
		rec := makeTurn("session-1", "claude", conversation.OutcomeCompleted, base.Add(time.Duration(i)*100*time.Millisecond))
		require.NoError(t, store.RecordTurn(ctx, rec))
		ids = append(ids, rec.ID)
	}

	turns, err := store.ListTurns(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, ids[2], turns[0].ID)
	assert.Equal(t, ids[0], turns[2].ID)
}

func TestStore_ListTurnsFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.RecordTurn(ctx, makeTurn("s1", "chatgpt", conversation.OutcomeCompleted, now.Add(-time.Hour))))
	require.NoError(t, store.RecordTurn(ctx, makeTurn("s1", "chatgpt", conversation.OutcomeFailed, now)))
	require.NoError(t, store.RecordTurn(ctx, makeTurn("s2", "gemini", conversation.OutcomeCancelled, now)))

	bySession, err := store.ListTurns(ctx, Filter{SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, bySession, 2)

	byModel, err := store.ListTurns(ctx, Filter{Model: "gemini"})
	require.NoError(t, err)
	require.Len(t, byModel, 1)
	assert.Equal(t, conversation.OutcomeCancelled, byModel[0].Outcome)

	failed, err := store.ListTurns(ctx, Filter{Outcome: conversation.OutcomeFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "rate limited", failed[0].FaultReason)

	since := now.Add(-time.Minute)
	recent, err := store.ListTurns(ctx, Filter{Since: &since})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	limited, err := store.ListTurns(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestStore_Stats(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	now := time.Now()
	for _, rec := range []*conversation.TurnRecord{
		makeTurn("s1", "chatgpt", conversation.OutcomeCompleted, now),
		makeTurn("s1", "chatgpt", conversation.OutcomeCompleted, now),
		makeTurn("s1", "chatgpt", conversation.OutcomeFailed, now),
		makeTurn("s2", "claude", conversation.OutcomeCancelled, now),
	} {
		require.NoError(t, store.RecordTurn(ctx, rec))
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, ModelStats{
		Model:         "chatgpt",
		Completed:     2,
		Failed:        1,
		Total:         3,
		AvgDurationMS: 1500,
	}, stats[0])
	assert.Equal(t, "claude", stats[1].Model)
	assert.Equal(t, 1, stats[1].Cancelled)
}

func TestStore_StatsEmpty(t *testing.T) {
	store := setupTestStore(t)
	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Empty(t, stats)
}

func TestStore_ObserverRecordsFinishedTurns(t *testing.T) {
	store := setupTestStore(t)

	var observer conversation.TurnObserver = store
	observer.TurnStarted("s1", "echo")
	observer.TurnFinished(*makeTurn("s1", "echo", conversation.OutcomeCompleted, time.Now()))

	turns, err := store.ListTurns(context.Background(), Filter{SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}
