package offline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerOverwriteKeepsLastChangePerKey(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewLedger(LedgerConfig{})
	require.NoError(t, err)
	assert.Equal(t, MergeOverwrite, ledger.Policy())

	require.NoError(t, ledger.Add(ctx, EntityNote, "9", ChangeCreate, NoteDraft{Title: "first"}))
	require.NoError(t, ledger.Add(ctx, EntityNote, "3", ChangeUpdate, NoteDraft{Title: "other"}))
	require.NoError(t, ledger.Add(ctx, EntityNote, "9", ChangeUpdate, NoteDraft{Title: "second"}))
	require.NoError(t, ledger.Add(ctx, EntityNote, "9", ChangeDelete, Tombstone{}))

	entries := ledger.Entries(EntityNote)
	require.Len(t, entries, 2)
	assert.Equal(t, "9", entries[0].EntityID, "first insertion keeps its position")
	assert.Equal(t, ChangeDelete, entries[0].Type)
	assert.Equal(t, Tombstone{}, entries[0].Payload)
	assert.Equal(t, "3", entries[1].EntityID)
	assert.Equal(t, 2, ledger.Len())
	assert.Empty(t, ledger.Entries(EntityFolder))
}

func TestLedgerKeysAreScopedByEntityType(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewLedger(LedgerConfig{})
	require.NoError(t, err)

	require.NoError(t, ledger.Add(ctx, EntityNote, "4", ChangeUpdate, NoteDraft{Title: "note"}))
	require.NoError(t, ledger.Add(ctx, EntityFolder, "4", ChangeUpdate, FolderDraft{Name: "folder"}))

	note, ok := ledger.Get(EntityNote, "4")
	require.True(t, ok)
	assert.Equal(t, NoteDraft{Title: "note"}, note.Payload)
	folder, ok := ledger.Get(EntityFolder, "4")
	require.True(t, ok)
	assert.Equal(t, FolderDraft{Name: "folder"}, folder.Payload)

	require.NoError(t, ledger.Remove(ctx, EntityNote, "4"))
	_, ok = ledger.Get(EntityNote, "4")
	assert.False(t, ok)
	assert.Equal(t, 1, ledger.Len())
	require.NoError(t, ledger.Remove(ctx, EntityNote, "missing"))
}

func TestLedgerCoalesceKeepsUnsyncedCreates(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewLedger(LedgerConfig{MergePolicy: MergeCoalesce})
	require.NoError(t, err)

	require.NoError(t, ledger.Add(ctx, EntityNote, "1700", ChangeCreate, NoteDraft{Title: "draft"}))
	require.NoError(t, ledger.Add(ctx, EntityNote, "1700", ChangeUpdate, NoteDraft{Title: "edited"}))
	change, ok := ledger.Get(EntityNote, "1700")
	require.True(t, ok)
	assert.Equal(t, ChangeCreate, change.Type)
	assert.Equal(t, NoteDraft{Title: "edited"}, change.Payload)

	require.NoError(t, ledger.Add(ctx, EntityNote, "1700", ChangeDelete, Tombstone{}))
	_, ok = ledger.Get(EntityNote, "1700")
	assert.False(t, ok, "deleting an unsynced create cancels it")

	require.NoError(t, ledger.Add(ctx, EntityNote, "5", ChangeUpdate, NoteDraft{Title: "a"}))
	require.NoError(t, ledger.Add(ctx, EntityNote, "5", ChangeDelete, Tombstone{}))
	change, ok = ledger.Get(EntityNote, "5")
	require.True(t, ok)
	assert.Equal(t, ChangeDelete, change.Type)
}

func TestLedgerRejectsMalformedChanges(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewLedger(LedgerConfig{})
	require.NoError(t, err)

	assert.ErrorIs(t, ledger.Add(ctx, EntityNote, "", ChangeUpdate, NoteDraft{}), ErrEmptyEntityID)
	assert.ErrorIs(t, ledger.Add(ctx, EntityType("tag"), "1", ChangeUpdate, NoteDraft{}), ErrUnknownEntityType)
	assert.ErrorIs(t, ledger.Add(ctx, EntityNote, "1", ChangeType("patch"), NoteDraft{}), ErrUnknownChangeType)
	assert.ErrorIs(t, ledger.Add(ctx, EntityNote, "1", ChangeUpdate, FolderDraft{Name: "x"}), ErrPayloadMismatch)
	assert.ErrorIs(t, ledger.Add(ctx, EntityFolder, "1", ChangeDelete, FolderDraft{Name: "x"}), ErrPayloadMismatch)
	assert.ErrorIs(t, ledger.Add(ctx, EntityNote, "1", ChangeCreate, nil), ErrPayloadMismatch)
	assert.Zero(t, ledger.Len())

	_, err = NewLedger(LedgerConfig{MergePolicy: MergePolicy("newest")})
	assert.Error(t, err)
}

func TestLedgerPersistsThroughGormStorage(t *testing.T) {
	ctx := context.Background()
	storage, err := NewGormLedgerStorage(openLedgerDatabase(t), "")
	require.NoError(t, err)
	ledger, err := NewLedger(LedgerConfig{Storage: storage})
	require.NoError(t, err)

	require.NoError(t, ledger.Add(ctx, EntityNote, "12", ChangeUpdate, NoteDraft{Title: "kept", Content: "body", FolderIDs: []int64{}}))
	require.NoError(t, ledger.Add(ctx, EntityNote, "8", ChangeUpdate, NoteDraft{Title: "plain"}))
	require.NoError(t, ledger.Add(ctx, EntityFolder, "3", ChangeCreate, FolderDraft{Name: "Work", NoteIDs: []int64{12, 8}}))
	require.NoError(t, ledger.Add(ctx, EntityFolder, "4", ChangeDelete, Tombstone{}))

	restored, err := NewLedger(LedgerConfig{Storage: storage})
	require.NoError(t, err)
	require.NoError(t, restored.Load(ctx))

	assert.Equal(t, ledger.Entries(EntityNote), restored.Entries(EntityNote))
	assert.Equal(t, ledger.Entries(EntityFolder), restored.Entries(EntityFolder))

	cleared, _ := restored.Get(EntityNote, "12")
	draft := cleared.Payload.(NoteDraft)
	assert.NotNil(t, draft.FolderIDs, "an empty association list survives a reload")
	assert.Empty(t, draft.FolderIDs)
	untouched, _ := restored.Get(EntityNote, "8")
	assert.Nil(t, untouched.Payload.(NoteDraft).FolderIDs)

	require.NoError(t, restored.Clear(ctx))
	reloaded, err := NewLedger(LedgerConfig{Storage: storage})
	require.NoError(t, err)
	require.NoError(t, reloaded.Load(ctx))
	assert.Zero(t, reloaded.Len())
}

func TestGormLedgerStorageSeparatesStoreNames(t *testing.T) {
	ctx := context.Background()
	db := openLedgerDatabase(t)
	first, err := NewGormLedgerStorage(db, "first")
	require.NoError(t, err)
	second, err := NewGormLedgerStorage(db, "second")
	require.NoError(t, err)

	require.NoError(t, first.Save(ctx, []PendingChange{{EntityType: EntityNote, EntityID: "1", Type: ChangeDelete, Payload: Tombstone{}}}))
	require.NoError(t, second.Save(ctx, nil))

	loaded, err := first.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "1", loaded[0].EntityID)

	var stored []PendingChangeRecord
	require.NoError(t, db.Find(&stored).Error)
	require.Len(t, stored, 1)
	assert.Equal(t, "first", stored[0].StoreName)

	_, err = NewGormLedgerStorage(nil, "")
	assert.Error(t, err)
}

func TestLedgerLoadDiscardsInvalidRows(t *testing.T) {
	ctx := context.Background()
	db := openLedgerDatabase(t)
	storage, err := NewGormLedgerStorage(db, "")
	require.NoError(t, err)
	require.NoError(t, storage.Save(ctx, []PendingChange{
		{EntityType: EntityNote, EntityID: "1", Type: ChangeUpdate, Payload: NoteDraft{Title: "valid"}},
		{EntityType: EntityNote, EntityID: "2", Type: ChangeCreate, Payload: Tombstone{}},
	}))

	ledger, err := NewLedger(LedgerConfig{Storage: storage})
	require.NoError(t, err)
	require.NoError(t, ledger.Load(ctx))
	assert.Equal(t, 1, ledger.Len())
	_, ok := ledger.Get(EntityNote, "2")
	assert.False(t, ok)
}

var errDiskFull = errors.New("disk full")

// flakyLedgerStorage keeps the last saved snapshot and fails saves while broken is set.
type flakyLedgerStorage struct {
	mu     sync.Mutex
	broken bool
	saved  []PendingChange
}

func (s *flakyLedgerStorage) Load(context.Context) ([]PendingChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PendingChange(nil), s.saved...), nil
}

func (s *flakyLedgerStorage) Save(_ context.Context, changes []PendingChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken {
		return errDiskFull
	}
	s.saved = append([]PendingChange(nil), changes...)
	return nil
}

func (s *flakyLedgerStorage) setBroken(broken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broken = broken
}

func TestLedgerFailedPersistLeavesMemoryUnchanged(t *testing.T) {
	ctx := context.Background()
	storage := &flakyLedgerStorage{}
	ledger, err := NewLedger(LedgerConfig{Storage: storage})
	require.NoError(t, err)
	require.NoError(t, ledger.Add(ctx, EntityNote, "1", ChangeUpdate, NoteDraft{Title: "kept"}))

	storage.setBroken(true)
	err = ledger.Add(ctx, EntityNote, "2", ChangeUpdate, NoteDraft{Title: "lost"})
	assert.ErrorIs(t, err, errDiskFull)
	err = ledger.Add(ctx, EntityNote, "1", ChangeDelete, Tombstone{})
	assert.ErrorIs(t, err, errDiskFull)
	assert.ErrorIs(t, ledger.Remove(ctx, EntityNote, "1"), errDiskFull)
	assert.ErrorIs(t, ledger.Clear(ctx), errDiskFull)

	assert.Equal(t, 1, ledger.Len())
	change, ok := ledger.Get(EntityNote, "1")
	require.True(t, ok)
	assert.Equal(t, NoteDraft{Title: "kept"}, change.Payload)

	storage.setBroken(false)
	require.NoError(t, ledger.Add(ctx, EntityNote, "2", ChangeUpdate, NoteDraft{Title: "later"}))
	assert.Equal(t, []string{"1", "2"}, entryIDs(ledger.Entries(EntityNote)))
}

func TestLedgerSettleRetiresOnlyTheReplayedChange(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewLedger(LedgerConfig{})
	require.NoError(t, err)
	require.NoError(t, ledger.Add(ctx, EntityNote, "5", ChangeUpdate, NoteDraft{Title: "A"}))
	require.NoError(t, ledger.Add(ctx, EntityNote, "6", ChangeUpdate, NoteDraft{Title: "C"}))
	replayedFive, _ := ledger.Get(EntityNote, "5")
	replayedSix, _ := ledger.Get(EntityNote, "6")

	require.NoError(t, ledger.Add(ctx, EntityNote, "5", ChangeUpdate, NoteDraft{Title: "B"}))
	require.NoError(t, ledger.Settle(ctx, replayedFive, "5"))
	require.NoError(t, ledger.Settle(ctx, replayedSix, "6"))

	assert.Equal(t, []string{"5"}, entryIDs(ledger.Entries(EntityNote)))
	change, _ := ledger.Get(EntityNote, "5")
	assert.Equal(t, NoteDraft{Title: "B"}, change.Payload)

	require.NoError(t, ledger.Settle(ctx, replayedSix, "6"), "settling a missing key is a no-op")
}

func TestLedgerSettleMovesNewerEditToServerID(t *testing.T) {
	ctx := context.Background()
	ledger, err := NewLedger(LedgerConfig{})
	require.NoError(t, err)
	require.NoError(t, ledger.Add(ctx, EntityFolder, "1800", ChangeCreate, FolderDraft{Name: "Inbox"}))
	replayed, _ := ledger.Get(EntityFolder, "1800")
	require.NoError(t, ledger.Add(ctx, EntityFolder, "1800", ChangeCreate, FolderDraft{Name: "Inbox 2"}))

	require.NoError(t, ledger.Settle(ctx, replayed, "42"))

	_, stale := ledger.Get(EntityFolder, "1800")
	assert.False(t, stale)
	change, ok := ledger.Get(EntityFolder, "42")
	require.True(t, ok)
	assert.Equal(t, ChangeUpdate, change.Type)
	assert.Equal(t, FolderDraft{Name: "Inbox 2"}, change.Payload)
}

func entryIDs(changes []PendingChange) []string {
	ids := make([]string, 0, len(changes))
	for _, change := range changes {
		ids = append(ids, change.EntityID)
	}
	return ids
}
