package offline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/dominotes/internal/notes"
	"github.com/MarcoPoloResearchLab/dominotes/internal/remote"
	"go.uber.org/zap"
)

// DefaultNoteTitle is the title of a note created locally before the first edit.
const DefaultNoteTitle = "Untitled Note"

var (
	ErrEntityNotFound = errors.New("offline: entity not found in store")
	ErrEmptyName      = errors.New("offline: folder name required")
)

// OnlineSource reports the current connectivity flag.
type OnlineSource interface {
	Online() bool
}

type WorkspaceConfig struct {
	Store      *Store
	Ledger     *Ledger
	Online     OnlineSource
	Remote     RemoteAPI
	Reconciler *Reconciler
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Workspace applies mutations locally, then sends them to the server when online
// or records them in the ledger when not.
type Workspace struct {
	store      *Store
	ledger     *Ledger
	online     OnlineSource
	remote     RemoteAPI
	reconciler *Reconciler
	clock      func() time.Time
	logger     *zap.Logger

	mu          sync.Mutex
	tempNotes   map[int64]struct{}
	tempFolders map[int64]struct{}
}

// NoteEdit lists the fields a save changes. A nil FolderIDs keeps associations.
type NoteEdit struct {
	Title     *string
	Content   *string
	FolderIDs []int64
}

func NewWorkspace(cfg WorkspaceConfig) (*Workspace, error) {
	if cfg.Store == nil || cfg.Ledger == nil || cfg.Online == nil || cfg.Remote == nil {
		return nil, errors.New("offline: workspace requires store, ledger, online source and remote api")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workspace{
		store:       cfg.Store,
		ledger:      cfg.Ledger,
		online:      cfg.Online,
		remote:      cfg.Remote,
		reconciler:  cfg.Reconciler,
		clock:       clock,
		logger:      logger,
		tempNotes:   make(map[int64]struct{}),
		tempFolders: make(map[int64]struct{}),
	}, nil
}

func (w *Workspace) Store() *Store {
	return w.store
}

// PendingCount is the number of changes waiting for the next reconciliation.
func (w *Workspace) PendingCount() int {
	return w.ledger.Len()
}

// Reconcile runs a pass with the configured reconciler.
func (w *Workspace) Reconcile(ctx context.Context) (Report, error) {
	if w.reconciler == nil {
		return Report{}, errors.New("offline: workspace has no reconciler")
	}
	return w.reconciler.Reconcile(ctx)
}

// Load fills the store from the server. It does nothing while offline.
func (w *Workspace) Load(ctx context.Context) error {
	if !w.online.Online() {
		return nil
	}
	noteList, err := w.remote.ListNotes(ctx)
	if err != nil {
		return err
	}
	folderList, err := w.remote.ListFolders(ctx)
	if err != nil {
		return err
	}
	w.store.SetNotes(noteList)
	w.store.SetFolders(folderList)
	return nil
}

// NewNote adds an untitled note under a temporary id and selects it. Nothing is queued until it is saved.
func (w *Workspace) NewNote() notes.Note {
	now := w.clock().UTC()
	w.mu.Lock()
	id := w.allocateTempIDLocked(now)
	w.tempNotes[id] = struct{}{}
	w.mu.Unlock()

	note := notes.Note{ID: id, Title: DefaultNoteTitle, CreatedAt: now, UpdatedAt: now}
	w.store.AddNote(note)
	w.store.SetActiveNote(&note)
	return note
}

// SaveNote applies edit to the note. Returns the stored note, which carries the server id once created.
// A temporary id that a reconciliation already replaced is followed to the server id.
func (w *Workspace) SaveNote(ctx context.Context, id int64, edit NoteEdit) (notes.Note, error) {
	id = w.store.ResolveNoteID(id)
	current, ok := w.store.Note(id)
	if !ok {
		return notes.Note{}, fmt.Errorf("%w: note %d", ErrEntityNotFound, id)
	}
	title := current.Title
	if edit.Title != nil {
		title = *edit.Title
	}
	content := current.Content
	if edit.Content != nil {
		content = *edit.Content
	}
	if title == current.Title && content == current.Content && edit.FolderIDs == nil {
		return current, nil
	}

	temp := w.isTempNote(id)
	if w.online.Online() && !temp {
		updated, err := w.remote.UpdateNote(ctx, id, remote.NotePayload{Title: &title, Content: &content, FolderIDs: edit.FolderIDs})
		if err != nil {
			return notes.Note{}, err
		}
		w.store.ReplaceNote(id, updated)
		return updated, nil
	}
	if w.online.Online() && temp && !w.hasPendingCreate(EntityNote, id) {
		created, err := w.remote.CreateNote(ctx, remote.NotePayload{Title: &title, Content: &content, FolderIDs: edit.FolderIDs})
		if err != nil {
			return notes.Note{}, err
		}
		w.store.ReplaceNote(id, created)
		w.forgetTempNote(id)
		if err := w.ledger.Remove(ctx, EntityNote, formatID(id)); err != nil {
			w.logger.Warn("failed to drop superseded change", zap.Int64("note_id", id), zap.Error(err))
		}
		return created, nil
	}

	changeType := ChangeUpdate
	if temp && !w.hasPendingChange(EntityNote, id) {
		changeType = ChangeCreate
	}
	draft := NoteDraft{Title: title, Content: content, FolderIDs: edit.FolderIDs}
	if err := w.ledger.Add(ctx, EntityNote, formatID(id), changeType, draft); err != nil {
		return notes.Note{}, err
	}
	now := w.clock().UTC()
	w.store.UpdateNote(id, NotePatch{Title: &title, Content: &content, Folders: w.storedFolders(edit.FolderIDs), UpdatedAt: &now})
	saved, _ := w.store.Note(id)
	return saved, nil
}

// DeleteNote removes the note locally and on the server, or queues the delete.
func (w *Workspace) DeleteNote(ctx context.Context, id int64) error {
	id = w.store.ResolveNoteID(id)
	temp := w.isTempNote(id)
	switch {
	case w.online.Online() && !temp:
		if err := w.remote.DeleteNote(ctx, id); err != nil {
			return err
		}
	case temp && !w.hasPendingChange(EntityNote, id):
	default:
		if err := w.ledger.Add(ctx, EntityNote, formatID(id), ChangeDelete, Tombstone{}); err != nil {
			return err
		}
	}
	w.store.DeleteNote(id)
	w.forgetTempNote(id)
	return nil
}

// CreateFolder creates a folder on the server, or locally under a temporary id while offline.
func (w *Workspace) CreateFolder(ctx context.Context, name string) (notes.Folder, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return notes.Folder{}, ErrEmptyName
	}
	if w.online.Online() {
		created, err := w.remote.CreateFolder(ctx, remote.FolderPayload{Name: &trimmed})
		if err != nil {
			return notes.Folder{}, err
		}
		w.store.AddFolder(created)
		return created, nil
	}

	now := w.clock().UTC()
	w.mu.Lock()
	id := w.allocateTempIDLocked(now)
	w.tempFolders[id] = struct{}{}
	w.mu.Unlock()

	if err := w.ledger.Add(ctx, EntityFolder, formatID(id), ChangeCreate, FolderDraft{Name: trimmed}); err != nil {
		w.forgetTempFolder(id)
		return notes.Folder{}, err
	}
	folder := notes.Folder{ID: id, Name: trimmed, CreatedAt: now, UpdatedAt: now}
	w.store.AddFolder(folder)
	return folder, nil
}

// RenameFolder renames the folder on the server, or locally with a queued update.
func (w *Workspace) RenameFolder(ctx context.Context, id int64, name string) (notes.Folder, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return notes.Folder{}, ErrEmptyName
	}
	id = w.store.ResolveFolderID(id)
	if _, ok := w.store.Folder(id); !ok {
		return notes.Folder{}, fmt.Errorf("%w: folder %d", ErrEntityNotFound, id)
	}
	if w.online.Online() && !w.isTempFolder(id) {
		updated, err := w.remote.UpdateFolder(ctx, id, remote.FolderPayload{Name: &trimmed})
		if err != nil {
			return notes.Folder{}, err
		}
		w.store.ReplaceFolder(id, updated)
		return updated, nil
	}

	if err := w.ledger.Add(ctx, EntityFolder, formatID(id), ChangeUpdate, FolderDraft{Name: trimmed}); err != nil {
		return notes.Folder{}, err
	}
	now := w.clock().UTC()
	w.store.UpdateFolder(id, FolderPatch{Name: &trimmed, UpdatedAt: &now})
	renamed, _ := w.store.Folder(id)
	return renamed, nil
}

// DeleteFolder removes the folder locally and on the server, or queues the delete.
func (w *Workspace) DeleteFolder(ctx context.Context, id int64) error {
	id = w.store.ResolveFolderID(id)
	temp := w.isTempFolder(id)
	switch {
	case w.online.Online() && !temp:
		if err := w.remote.DeleteFolder(ctx, id); err != nil {
			return err
		}
	case temp && !w.hasPendingChange(EntityFolder, id):
	default:
		if err := w.ledger.Add(ctx, EntityFolder, formatID(id), ChangeDelete, Tombstone{}); err != nil {
			return err
		}
	}
	w.store.DeleteFolder(id)
	w.forgetTempFolder(id)
	return nil
}

// storedFolders resolves folder ids against the store for a local membership patch.
// Nil keeps the current membership; ids the store does not hold are skipped.
func (w *Workspace) storedFolders(ids []int64) []notes.Folder {
	if ids == nil {
		return nil
	}
	folders := make([]notes.Folder, 0, len(ids))
	for _, id := range ids {
		folder, ok := w.store.Folder(w.store.ResolveFolderID(id))
		if !ok {
			continue
		}
		folder.Notes = nil
		folders = append(folders, folder)
	}
	return folders
}

// allocateTempIDLocked returns the current unix milliseconds, bumped past any id in use.
func (w *Workspace) allocateTempIDLocked(now time.Time) int64 {
	id := now.UnixMilli()
	for {
		_, noteTaken := w.tempNotes[id]
		_, folderTaken := w.tempFolders[id]
		if !noteTaken && !folderTaken && !w.store.hasID(id) {
			return id
		}
		id++
	}
}

// isTempNote also recognizes temporary ids restored from a persisted create.
func (w *Workspace) isTempNote(id int64) bool {
	w.mu.Lock()
	_, ok := w.tempNotes[id]
	w.mu.Unlock()
	return ok || w.hasPendingCreate(EntityNote, id)
}

func (w *Workspace) isTempFolder(id int64) bool {
	w.mu.Lock()
	_, ok := w.tempFolders[id]
	w.mu.Unlock()
	return ok || w.hasPendingCreate(EntityFolder, id)
}

func (w *Workspace) forgetTempNote(id int64) {
	w.mu.Lock()
	delete(w.tempNotes, id)
	w.mu.Unlock()
}

func (w *Workspace) forgetTempFolder(id int64) {
	w.mu.Lock()
	delete(w.tempFolders, id)
	w.mu.Unlock()
}

func (w *Workspace) hasPendingChange(entityType EntityType, id int64) bool {
	_, ok := w.ledger.Get(entityType, formatID(id))
	return ok
}

func (w *Workspace) hasPendingCreate(entityType EntityType, id int64) bool {
	change, ok := w.ledger.Get(entityType, formatID(id))
	return ok && change.Type == ChangeCreate
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
