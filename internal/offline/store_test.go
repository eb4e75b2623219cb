package offline

import (
	"testing"

	"github.com/MarcoPoloResearchLab/dominotes/internal/notes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAddPrependsAndUpdatePatchesSelection(t *testing.T) {
	store := NewStore()
	store.SetNotes([]notes.Note{{ID: 1, Title: "one"}})
	store.AddNote(notes.Note{ID: 2, Title: "two"})
	assert.Equal(t, []int64{2, 1}, noteIDs(store))

	selected, _ := store.Note(1)
	store.SetActiveNote(&selected)
	store.UpdateNote(1, NotePatch{Title: stringPointer("renamed")})

	stored, ok := store.Note(1)
	require.True(t, ok)
	assert.Equal(t, "renamed", stored.Title)
	active, ok := store.ActiveNote()
	require.True(t, ok)
	assert.Equal(t, "renamed", active.Title)

	store.UpdateNote(404, NotePatch{Title: stringPointer("ignored")})
	assert.Len(t, store.Notes(), 2)
}

func TestStoreDeleteClearsActiveSelection(t *testing.T) {
	store := NewStore()
	store.SetNotes([]notes.Note{{ID: 1}, {ID: 2}})
	store.SetFolders([]notes.Folder{{ID: 10, Name: "Work"}})
	note, _ := store.Note(2)
	folder, _ := store.Folder(10)
	store.SetActiveNote(&note)
	store.SetActiveFolder(&folder)

	store.DeleteNote(1)
	_, ok := store.ActiveNote()
	assert.True(t, ok, "deleting another note keeps the selection")

	store.DeleteNote(2)
	_, ok = store.ActiveNote()
	assert.False(t, ok)
	assert.Equal(t, []int64{}, noteIDs(store))

	store.DeleteFolder(10)
	_, ok = store.ActiveFolder()
	assert.False(t, ok)
	assert.Empty(t, store.Folders())
}

func TestStoreReplaceLeavesSingleEntry(t *testing.T) {
	store := NewStore()
	store.SetNotes([]notes.Note{{ID: 1700, Title: "temp"}, {ID: 3}})
	temp, _ := store.Note(1700)
	store.SetActiveNote(&temp)

	store.ReplaceNote(1700, notes.Note{ID: 101, Title: "created"})
	assert.Equal(t, []int64{101, 3}, noteIDs(store))
	active, ok := store.ActiveNote()
	require.True(t, ok)
	assert.Equal(t, int64(101), active.ID)

	// The server id already arrived through another path.
	store.SetNotes([]notes.Note{{ID: 1800}, {ID: 102}})
	store.ReplaceNote(1800, notes.Note{ID: 102, Title: "server"})
	assert.Equal(t, []int64{102}, noteIDs(store))

	store.ReplaceNote(55, notes.Note{ID: 56})
	assert.Equal(t, []int64{56, 102}, noteIDs(store))

	store.SetFolders([]notes.Folder{{ID: 1900, Name: "Work"}, {ID: 42, Name: "Work"}})
	store.ReplaceFolder(1900, notes.Folder{ID: 42, Name: "Work"})
	assert.Equal(t, []int64{42}, folderIDs(store))
}

func TestStoreReturnsCopies(t *testing.T) {
	store := NewStore()
	store.SetNotes([]notes.Note{{ID: 1, Title: "one"}})

	list := store.Notes()
	list[0].Title = "mutated"
	stored, _ := store.Note(1)
	assert.Equal(t, "one", stored.Title)
}

func TestStoreResolvesReplacedIDs(t *testing.T) {
	store := NewStore()
	store.AddNote(notes.Note{ID: 1800, Title: "draft"})
	store.ReplaceNote(1800, notes.Note{ID: 42, Title: "draft"})
	store.AddFolder(notes.Folder{ID: 1801, Name: "Inbox"})
	store.ReplaceFolder(1801, notes.Folder{ID: 7, Name: "Inbox"})

	assert.Equal(t, int64(42), store.ResolveNoteID(1800))
	assert.Equal(t, int64(42), store.ResolveNoteID(42))
	assert.Equal(t, int64(9), store.ResolveNoteID(9))
	assert.Equal(t, int64(7), store.ResolveFolderID(1801))
	assert.Equal(t, int64(1800), store.ResolveFolderID(1800))
	assert.True(t, store.hasID(1800))

	store.SetNotes([]notes.Note{{ID: 42}})
	assert.Equal(t, int64(42), store.ResolveNoteID(1800))
}
