package offline

import (
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type harness struct {
	remote     *fakeRemote
	store      *Store
	ledger     *Ledger
	storage    *GormLedgerStorage
	reconciler *Reconciler
	workspace  *Workspace
	online     *staticOnline
	now        time.Time
}

func openLedgerDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ledger.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&PendingChangeRecord{}))
	return db
}

func newHarness(t *testing.T, merge MergePolicy, failed FailedChangePolicy) *harness {
	t.Helper()
	storage, err := NewGormLedgerStorage(openLedgerDatabase(t), "")
	require.NoError(t, err)
	ledger, err := NewLedger(LedgerConfig{Storage: storage, MergePolicy: merge})
	require.NoError(t, err)

	h := &harness{
		remote:  newFakeRemote(),
		store:   NewStore(),
		ledger:  ledger,
		storage: storage,
		online:  &staticOnline{online: true},
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	h.reconciler, err = NewReconciler(ReconcilerConfig{
		Remote:             h.remote,
		Store:              h.store,
		Ledger:             ledger,
		FailedChangePolicy: failed,
	})
	require.NoError(t, err)
	h.workspace, err = NewWorkspace(WorkspaceConfig{
		Store:      h.store,
		Ledger:     ledger,
		Online:     h.online,
		Remote:     h.remote,
		Reconciler: h.reconciler,
		Clock: func() time.Time {
			return h.now
		},
	})
	require.NoError(t, err)
	return h
}

func noteIDs(store *Store) []int64 {
	list := store.Notes()
	ids := make([]int64, 0, len(list))
	for _, note := range list {
		ids = append(ids, note.ID)
	}
	return ids
}

func folderIDs(store *Store) []int64 {
	list := store.Folders()
	ids := make([]int64, 0, len(list))
	for _, folder := range list {
		ids = append(ids, folder.ID)
	}
	return ids
}
