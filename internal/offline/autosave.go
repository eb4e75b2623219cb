package offline

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"
	"go.uber.org/zap"
)

// DefaultAutosaveDelay is the idle time after the last edit before a save runs.
const DefaultAutosaveDelay = 2 * time.Second

// Autosaver runs save once edits have been idle for the delay.
type Autosaver struct {
	mu        sync.Mutex
	debounced func(func())
	save      func()
	stopped   bool
}

func NewAutosaver(delay time.Duration, save func()) *Autosaver {
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	return &Autosaver{
		debounced: debounce.New(delay),
		save:      save,
	}
}

// Touch starts or restarts the timer.
func (a *Autosaver) Touch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.debounced(a.fire)
}

// Stop cancels any pending save. Touch has no effect afterwards.
func (a *Autosaver) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	a.debounced(func() {})
}

func (a *Autosaver) fire() {
	a.mu.Lock()
	stopped := a.stopped
	a.mu.Unlock()
	if stopped {
		return
	}
	a.save()
}

// NoteEditor buffers title and content edits for one note and autosaves them through the workspace.
type NoteEditor struct {
	workspace *Workspace
	ctx       context.Context
	autosaver *Autosaver
	logger    *zap.Logger

	mu      sync.Mutex
	noteID  int64
	title   string
	content string
	lastErr error
}

// OpenEditor starts an editing session on a stored note. Close must be called on teardown.
func (w *Workspace) OpenEditor(ctx context.Context, noteID int64, delay time.Duration) (*NoteEditor, error) {
	note, ok := w.store.Note(noteID)
	if !ok {
		return nil, ErrEntityNotFound
	}
	editor := &NoteEditor{
		workspace: w,
		ctx:       ctx,
		logger:    w.logger,
		noteID:    note.ID,
		title:     note.Title,
		content:   note.Content,
	}
	editor.autosaver = NewAutosaver(delay, func() {
		if err := editor.Save(); err != nil {
			editor.logger.Warn("autosave failed", zap.Int64("note_id", editor.NoteID()), zap.Error(err))
		}
	})
	return editor, nil
}

// NoteID is the edited note's id; it changes to the server id once a temporary note is created.
func (e *NoteEditor) NoteID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.noteID
}

func (e *NoteEditor) SetTitle(title string) {
	e.mu.Lock()
	e.title = title
	e.mu.Unlock()
	e.autosaver.Touch()
}

func (e *NoteEditor) SetContent(content string) {
	e.mu.Lock()
	e.content = content
	e.mu.Unlock()
	e.autosaver.Touch()
}

// Save writes the buffered edits now.
func (e *NoteEditor) Save() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	title, content := e.title, e.content
	saved, err := e.workspace.SaveNote(e.ctx, e.noteID, NoteEdit{Title: &title, Content: &content})
	e.lastErr = err
	if err != nil {
		return err
	}
	e.noteID = saved.ID
	return nil
}

// Err returns the result of the most recent save.
func (e *NoteEditor) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Close cancels a pending autosave.
func (e *NoteEditor) Close() {
	e.autosaver.Stop()
}
