package conflict

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/carelog/backend/internal/db"
	apperrors "github.com/kimhsiao/carelog/backend/internal/errors"
	"github.com/kimhsiao/carelog/backend/internal/models"
)

// fakeNotifier records dispatched notifications.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (f *fakeNotifier) Dispatch(n models.Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestStore(t *testing.T, notifier Notifier) *Store {
	t.Helper()

	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, db.NewMigrator(database.DB).Migrate())

	return NewStore(database.DB, NewEngine(DefaultPolicy()), notifier)
}

// ambiguousConflict builds a conflict the engine cannot auto-resolve:
// one latest-wins field inside the ambiguity guard.
func ambiguousConflict() *models.ConflictEntry {
	t1 := time.Now().UnixMilli()
	return &models.ConflictEntry{
		RecordType:     models.RecordTypeDoseLog,
		LocalData:      models.Record{"notes": "took late", "status": "taken"},
		ServerData:     models.Record{"notes": "took late", "status": "missed", "updatedAt": float64(t1)},
		ConflictType:   models.ConflictTypeUpdate,
		LocalTimestamp: t1 - 1000,
		ActionID:       "action-1",
	}
}

// TestStoreAddAutoResolved: auto-resolvable conflicts never hit storage and
// never notify.
func TestStoreAddAutoResolved(t *testing.T) {
	notifier := &fakeNotifier{}
	store := newTestStore(t, notifier)
	ctx := context.Background()

	server := models.Record{"severity": 3.0, "symptom_type": "nausea"}
	outcome, err := store.Add(ctx, &models.ConflictEntry{
		RecordType:     models.RecordTypeSymptomEntry,
		LocalData:      models.Record{"severity": 3.0, "symptom_type": "nausea"},
		ServerData:     server,
		ConflictType:   models.ConflictTypeUpdate,
		LocalTimestamp: time.Now().UnixMilli(),
	})
	require.NoError(t, err)

	assert.True(t, outcome.AutoResolved)
	assert.Equal(t, models.ResolutionKeepServer, outcome.Resolution)
	assert.Equal(t, server, outcome.ResolvedData)

	total, unresolved, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, unresolved)
	assert.Zero(t, notifier.count())
}

// TestStoreAddRoundTrip: a persisted conflict comes back intact via GetAll.
func TestStoreAddRoundTrip(t *testing.T) {
	notifier := &fakeNotifier{}
	store := newTestStore(t, notifier)
	ctx := context.Background()

	input := ambiguousConflict()
	outcome, err := store.Add(ctx, input)
	require.NoError(t, err)

	require.False(t, outcome.AutoResolved)
	require.NotNil(t, outcome.Entry)
	assert.NotEmpty(t, outcome.Entry.ID)
	assert.NotZero(t, outcome.Entry.CreatedAt)

	entries, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, outcome.Entry.ID, got.ID)
	assert.Equal(t, models.RecordTypeDoseLog, got.RecordType)
	assert.Equal(t, models.ConflictTypeUpdate, got.ConflictType)
	assert.Equal(t, input.LocalTimestamp, got.LocalTimestamp)
	assert.Equal(t, "action-1", got.ActionID)
	assert.False(t, got.Resolved)
	assert.Empty(t, got.Resolution)
	assert.Equal(t, "taken", got.LocalData["status"])
	assert.Equal(t, "missed", got.ServerData["status"])

	assert.Equal(t, 1, notifier.count())
	assert.Equal(t, outcome.Entry.ID, notifier.sent[0].Data.ConflictID)
	assert.Equal(t, "sync-conflict", notifier.sent[0].Tag)
	assert.True(t, notifier.sent[0].RequireInteraction)
}

// TestStoreAddDeleteConflict: a deleted server copy is always persisted,
// resolution unset.
func TestStoreAddDeleteConflict(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	outcome, err := store.Add(ctx, &models.ConflictEntry{
		RecordType:     models.RecordTypeDoseLog,
		LocalData:      models.Record{"status": "taken"},
		ServerData:     nil,
		ConflictType:   models.ConflictTypeDelete,
		LocalTimestamp: time.Now().UnixMilli(),
	})
	require.NoError(t, err)
	require.False(t, outcome.AutoResolved)

	got, err := store.Get(ctx, outcome.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ConflictTypeDelete, got.ConflictType)
	assert.Nil(t, got.ServerData)
	assert.False(t, got.Resolved)
	assert.Empty(t, got.Resolution)
}

// TestStoreGetNotFound surfaces CONFLICT_NOT_FOUND.
func TestStoreGetNotFound(t *testing.T) {
	store := newTestStore(t, nil)

	_, err := store.Get(context.Background(), "missing-id")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflictNotFound))
}

// TestStoreResolve marks resolved and is idempotent for the same resolution.
func TestStoreResolve(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	outcome, err := store.Add(ctx, ambiguousConflict())
	require.NoError(t, err)
	id := outcome.Entry.ID

	require.NoError(t, store.Resolve(ctx, id, models.ResolutionKeepLocal))

	first, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, first.Resolved)
	assert.Equal(t, models.ResolutionKeepLocal, first.Resolution)

	// Retrying the same resolution is a no-op, not an error.
	require.NoError(t, store.Resolve(ctx, id, models.ResolutionKeepLocal))

	second, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// TestStoreResolveNotFound surfaces CONFLICT_NOT_FOUND.
func TestStoreResolveNotFound(t *testing.T) {
	store := newTestStore(t, nil)

	err := store.Resolve(context.Background(), "missing-id", models.ResolutionKeepLocal)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflictNotFound))
}

// TestStoreResolveInvalidResolution rejects unknown resolutions.
func TestStoreResolveInvalidResolution(t *testing.T) {
	store := newTestStore(t, nil)

	err := store.Resolve(context.Background(), "any", "overwrite_everything")
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))
}

// TestStoreResolveDeleteByMerge: merging is never permitted for delete
// conflicts, even at resolve time.
func TestStoreResolveDeleteByMerge(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	outcome, err := store.Add(ctx, &models.ConflictEntry{
		RecordType:     models.RecordTypeDoseLog,
		LocalData:      models.Record{"status": "taken"},
		ConflictType:   models.ConflictTypeDelete,
		LocalTimestamp: time.Now().UnixMilli(),
	})
	require.NoError(t, err)

	err = store.Resolve(ctx, outcome.Entry.ID, models.ResolutionMerge)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrMergeUnsupported))
}

// TestStoreRemoveIdempotent: removing twice (or an absent id) never errors.
func TestStoreRemoveIdempotent(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	outcome, err := store.Add(ctx, ambiguousConflict())
	require.NoError(t, err)
	id := outcome.Entry.ID

	require.NoError(t, store.Remove(ctx, id))
	require.NoError(t, store.Remove(ctx, id))

	_, err = store.Get(ctx, id)
	assert.True(t, apperrors.Is(err, apperrors.ErrConflictNotFound))
}

// TestStoreQueries verifies ordering and the secondary lookups.
func TestStoreQueries(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	// Force distinct createdAt values for a stable order.
	ts := time.Now().UnixMilli()
	store.now = func() int64 { ts += 1000; return ts }

	first, err := store.Add(ctx, ambiguousConflict())
	require.NoError(t, err)

	symptom := ambiguousConflict()
	symptom.RecordType = models.RecordTypeSymptomEntry
	second, err := store.Add(ctx, symptom)
	require.NoError(t, err)

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.Entry.ID, all[0].ID, "newest first")
	assert.Equal(t, first.Entry.ID, all[1].ID)

	require.NoError(t, store.Resolve(ctx, first.Entry.ID, models.ResolutionKeepServer))

	unresolved, err := store.GetUnresolved(ctx)
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, second.Entry.ID, unresolved[0].ID)

	doseLogs, err := store.GetByType(ctx, models.RecordTypeDoseLog)
	require.NoError(t, err)
	require.Len(t, doseLogs, 1)
	assert.Equal(t, first.Entry.ID, doseLogs[0].ID)

	total, open, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, open)
}

// TestStoreClearResolved bulk-deletes only resolved entries.
func TestStoreClearResolved(t *testing.T) {
	store := newTestStore(t, nil)
	ctx := context.Background()

	kept, err := store.Add(ctx, ambiguousConflict())
	require.NoError(t, err)
	cleared, err := store.Add(ctx, ambiguousConflict())
	require.NoError(t, err)

	require.NoError(t, store.Resolve(ctx, cleared.Entry.ID, models.ResolutionKeepServer))

	n, err := store.ClearResolved(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	entries, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, kept.Entry.ID, entries[0].ID)
}
