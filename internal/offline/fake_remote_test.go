package offline

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/dominotes/internal/notes"
	"github.com/MarcoPoloResearchLab/dominotes/internal/remote"
)

var errNetworkDown = &url.Error{Op: "Get", URL: "http://dominotes.test", Err: errors.New("connection refused")}

// fakeRemote is an in-memory server honouring the API's status semantics.
type fakeRemote struct {
	mu      sync.Mutex
	nextID  int64
	notes   map[int64]notes.Note
	folders map[int64]notes.Folder
	calls   []string
	// failures maps a call label such as "delete_note:7" to the error it returns.
	failures map[string]error
	listErr  error
	// beforeList runs at the start of ListNotes, outside the fake's lock.
	beforeList func()
	// onCall runs under the fake's lock after a call is logged. It must not call the fake.
	onCall func(label string)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		nextID:   100,
		notes:    make(map[int64]notes.Note),
		folders:  make(map[int64]notes.Folder),
		failures: make(map[string]error),
	}
}

func (f *fakeRemote) seedNote(id int64, title string) notes.Note {
	f.mu.Lock()
	defer f.mu.Unlock()
	note := notes.Note{ID: id, Title: title, CreatedAt: time.Unix(id, 0).UTC(), UpdatedAt: time.Unix(id, 0).UTC()}
	f.notes[id] = note
	return note
}

func (f *fakeRemote) setNextID(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID = id
}

func (f *fakeRemote) fail(label string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[label] = err
}

func (f *fakeRemote) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) record(label string) error {
	f.calls = append(f.calls, label)
	if f.onCall != nil {
		f.onCall(label)
	}
	return f.failures[label]
}

func (f *fakeRemote) ListNotes(context.Context) ([]notes.Note, error) {
	if f.beforeList != nil {
		f.beforeList()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list_notes"); err != nil {
		return nil, err
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	result := make([]notes.Note, 0, len(f.notes))
	for _, note := range f.notes {
		result = append(result, note)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (f *fakeRemote) CreateNote(_ context.Context, payload remote.NotePayload) (notes.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create_note"); err != nil {
		return notes.Note{}, err
	}
	if payload.Title == nil || *payload.Title == "" {
		return notes.Note{}, &remote.APIError{StatusCode: http.StatusBadRequest, Message: "Invalid note data"}
	}
	f.nextID++
	note := notes.Note{ID: f.nextID, Title: *payload.Title}
	if payload.Content != nil {
		note.Content = *payload.Content
	}
	f.notes[note.ID] = note
	return note, nil
}

func (f *fakeRemote) UpdateNote(_ context.Context, id int64, payload remote.NotePayload) (notes.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("update_note:" + formatID(id)); err != nil {
		return notes.Note{}, err
	}
	note, ok := f.notes[id]
	if !ok {
		return notes.Note{}, &remote.APIError{StatusCode: http.StatusNotFound, Message: "Note not found"}
	}
	if payload.Title != nil {
		note.Title = *payload.Title
	}
	if payload.Content != nil {
		note.Content = *payload.Content
	}
	f.notes[id] = note
	return note, nil
}

func (f *fakeRemote) DeleteNote(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete_note:" + formatID(id)); err != nil {
		return err
	}
	if _, ok := f.notes[id]; !ok {
		return &remote.APIError{StatusCode: http.StatusNotFound, Message: "Note not found"}
	}
	delete(f.notes, id)
	return nil
}

func (f *fakeRemote) ListFolders(context.Context) ([]notes.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list_folders"); err != nil {
		return nil, err
	}
	result := make([]notes.Folder, 0, len(f.folders))
	for _, folder := range f.folders {
		result = append(result, folder)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (f *fakeRemote) CreateFolder(_ context.Context, payload remote.FolderPayload) (notes.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("create_folder"); err != nil {
		return notes.Folder{}, err
	}
	for _, existing := range f.folders {
		if existing.Name == *payload.Name {
			return notes.Folder{}, &remote.APIError{StatusCode: http.StatusConflict, Message: "A folder with this name already exists"}
		}
	}
	f.nextID++
	folder := notes.Folder{ID: f.nextID, Name: *payload.Name}
	f.folders[folder.ID] = folder
	return folder, nil
}

func (f *fakeRemote) UpdateFolder(_ context.Context, id int64, payload remote.FolderPayload) (notes.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("update_folder:" + formatID(id)); err != nil {
		return notes.Folder{}, err
	}
	folder, ok := f.folders[id]
	if !ok {
		return notes.Folder{}, &remote.APIError{StatusCode: http.StatusNotFound, Message: "Folder not found"}
	}
	if payload.Name != nil {
		folder.Name = *payload.Name
	}
	f.folders[id] = folder
	return folder, nil
}

func (f *fakeRemote) DeleteFolder(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete_folder:" + formatID(id)); err != nil {
		return err
	}
	if _, ok := f.folders[id]; !ok {
		return &remote.APIError{StatusCode: http.StatusNotFound, Message: "Folder not found"}
	}
	delete(f.folders, id)
	return nil
}

type staticOnline struct {
	mu     sync.Mutex
	online bool
}

func (s *staticOnline) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

func (s *staticOnline) set(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()
}

func stringPointer(value string) *string {
	return &value
}
