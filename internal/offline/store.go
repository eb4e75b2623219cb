package offline

import (
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/dominotes/internal/notes"
)

// NotePatch lists note fields to overwrite; nil fields are kept.
type NotePatch struct {
	Title     *string
	Content   *string
	Folders   []notes.Folder
	UpdatedAt *time.Time
}

// FolderPatch lists folder fields to overwrite; nil fields are kept.
type FolderPatch struct {
	Name      *string
	Notes     []notes.Note
	UpdatedAt *time.Time
}

// Store is the in-memory cache of notes and folders plus the active selection.
// It performs no validation.
type Store struct {
	mu           sync.RWMutex
	notes        []notes.Note
	folders      []notes.Folder
	activeNote   *notes.Note
	activeFolder *notes.Folder
	// Temporary ids mapped to the id that replaced them.
	noteAliases   map[int64]int64
	folderAliases map[int64]int64
}

func NewStore() *Store {
	return &Store{
		noteAliases:   make(map[int64]int64),
		folderAliases: make(map[int64]int64),
	}
}

func (s *Store) SetNotes(list []notes.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append([]notes.Note(nil), list...)
}

func (s *Store) SetFolders(list []notes.Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders = append([]notes.Folder(nil), list...)
}

func (s *Store) Notes() []notes.Note {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]notes.Note(nil), s.notes...)
}

func (s *Store) Folders() []notes.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]notes.Folder(nil), s.folders...)
}

func (s *Store) Note(id int64) (notes.Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index := s.noteIndex(id); index >= 0 {
		return s.notes[index], true
	}
	return notes.Note{}, false
}

func (s *Store) Folder(id int64) (notes.Folder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index := s.folderIndex(id); index >= 0 {
		return s.folders[index], true
	}
	return notes.Folder{}, false
}

// AddNote puts note at the front of the list.
func (s *Store) AddNote(note notes.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append([]notes.Note{note}, s.notes...)
}

// UpdateNote merges patch into the note and into the active note when it has the same id.
func (s *Store) UpdateNote(id int64, patch NotePatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index := s.noteIndex(id); index >= 0 {
		applyNotePatch(&s.notes[index], patch)
	}
	if s.activeNote != nil && s.activeNote.ID == id {
		applyNotePatch(s.activeNote, patch)
	}
}

// DeleteNote removes the note and clears the active note if it was selected.
func (s *Store) DeleteNote(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = filterNotes(s.notes, id)
	if s.activeNote != nil && s.activeNote.ID == id {
		s.activeNote = nil
	}
}

// ReplaceNote swaps the entity held under oldID for note, leaving a single entry with note.ID.
func (s *Store) ReplaceNote(oldID int64, note notes.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if oldID != note.ID {
		if s.noteAliases == nil {
			s.noteAliases = make(map[int64]int64)
		}
		s.noteAliases[oldID] = note.ID
	}
	index := s.noteIndex(oldID)
	if index < 0 {
		index = s.noteIndex(note.ID)
	}
	if index < 0 {
		s.notes = append([]notes.Note{note}, s.notes...)
	} else {
		s.notes[index] = note
		for i := len(s.notes) - 1; i >= 0; i-- {
			if i != index && (s.notes[i].ID == note.ID || s.notes[i].ID == oldID) {
				s.notes = append(s.notes[:i], s.notes[i+1:]...)
			}
		}
	}
	if s.activeNote != nil && (s.activeNote.ID == oldID || s.activeNote.ID == note.ID) {
		selected := note
		s.activeNote = &selected
	}
}

func (s *Store) SetActiveNote(note *notes.Note) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if note == nil {
		s.activeNote = nil
		return
	}
	selected := *note
	s.activeNote = &selected
}

func (s *Store) ActiveNote() (notes.Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeNote == nil {
		return notes.Note{}, false
	}
	return *s.activeNote, true
}

// AddFolder puts folder at the front of the list.
func (s *Store) AddFolder(folder notes.Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders = append([]notes.Folder{folder}, s.folders...)
}

func (s *Store) UpdateFolder(id int64, patch FolderPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index := s.folderIndex(id); index >= 0 {
		applyFolderPatch(&s.folders[index], patch)
	}
	if s.activeFolder != nil && s.activeFolder.ID == id {
		applyFolderPatch(s.activeFolder, patch)
	}
}

func (s *Store) DeleteFolder(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.folders = filterFolders(s.folders, id)
	if s.activeFolder != nil && s.activeFolder.ID == id {
		s.activeFolder = nil
	}
}

func (s *Store) ReplaceFolder(oldID int64, folder notes.Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if oldID != folder.ID {
		if s.folderAliases == nil {
			s.folderAliases = make(map[int64]int64)
		}
		s.folderAliases[oldID] = folder.ID
	}
	index := s.folderIndex(oldID)
	if index < 0 {
		index = s.folderIndex(folder.ID)
	}
	if index < 0 {
		s.folders = append([]notes.Folder{folder}, s.folders...)
	} else {
		s.folders[index] = folder
		for i := len(s.folders) - 1; i >= 0; i-- {
			if i != index && (s.folders[i].ID == folder.ID || s.folders[i].ID == oldID) {
				s.folders = append(s.folders[:i], s.folders[i+1:]...)
			}
		}
	}
	if s.activeFolder != nil && (s.activeFolder.ID == oldID || s.activeFolder.ID == folder.ID) {
		selected := folder
		s.activeFolder = &selected
	}
}

func (s *Store) SetActiveFolder(folder *notes.Folder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if folder == nil {
		s.activeFolder = nil
		return
	}
	selected := *folder
	s.activeFolder = &selected
}

func (s *Store) ActiveFolder() (notes.Folder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeFolder == nil {
		return notes.Folder{}, false
	}
	return *s.activeFolder, true
}

// ResolveNoteID follows temporary ids to the id that replaced them. Other ids are returned unchanged.
func (s *Store) ResolveNoteID(id int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return resolveAlias(s.noteAliases, id)
}

func (s *Store) ResolveFolderID(id int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return resolveAlias(s.folderAliases, id)
}

func resolveAlias(aliases map[int64]int64, id int64) int64 {
	for hops := 0; hops < len(aliases); hops++ {
		next, ok := aliases[id]
		if !ok {
			break
		}
		id = next
	}
	return id
}

// hasID reports whether any note or folder currently uses id.
func (s *Store) hasID(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, noteAlias := s.noteAliases[id]
	_, folderAlias := s.folderAliases[id]
	return noteAlias || folderAlias || s.noteIndex(id) >= 0 || s.folderIndex(id) >= 0
}

func (s *Store) noteIndex(id int64) int {
	for index := range s.notes {
		if s.notes[index].ID == id {
			return index
		}
	}
	return -1
}

func (s *Store) folderIndex(id int64) int {
	for index := range s.folders {
		if s.folders[index].ID == id {
			return index
		}
	}
	return -1
}

func applyNotePatch(note *notes.Note, patch NotePatch) {
	if patch.Title != nil {
		note.Title = *patch.Title
	}
	if patch.Content != nil {
		note.Content = *patch.Content
	}
	if patch.Folders != nil {
		note.Folders = patch.Folders
	}
	if patch.UpdatedAt != nil {
		note.UpdatedAt = *patch.UpdatedAt
	}
}

func applyFolderPatch(folder *notes.Folder, patch FolderPatch) {
	if patch.Name != nil {
		folder.Name = *patch.Name
	}
	if patch.Notes != nil {
		folder.Notes = patch.Notes
	}
	if patch.UpdatedAt != nil {
		folder.UpdatedAt = *patch.UpdatedAt
	}
}

func filterNotes(list []notes.Note, id int64) []notes.Note {
	result := list[:0:0]
	for _, note := range list {
		if note.ID != id {
			result = append(result, note)
		}
	}
	return result
}

func filterFolders(list []notes.Folder, id int64) []notes.Folder {
	result := list[:0:0]
	for _, folder := range list {
		if folder.ID != id {
			result = append(result, folder)
		}
	}
	return result
}
