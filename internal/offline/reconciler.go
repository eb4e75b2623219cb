package offline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/MarcoPoloResearchLab/dominotes/internal/notes"
	"github.com/MarcoPoloResearchLab/dominotes/internal/remote"
	"go.uber.org/zap"
)

// ErrReconcileInProgress is returned when a pass is requested while another is running.
var ErrReconcileInProgress = errors.New("offline: reconciliation already in progress")

var errInvalidEntityID = errors.New("offline: entity id is not an integer")

// RemoteAPI is the subset of the server API the offline core replays against.
type RemoteAPI interface {
	ListNotes(ctx context.Context) ([]notes.Note, error)
	CreateNote(ctx context.Context, payload remote.NotePayload) (notes.Note, error)
	UpdateNote(ctx context.Context, id int64, payload remote.NotePayload) (notes.Note, error)
	DeleteNote(ctx context.Context, id int64) error
	ListFolders(ctx context.Context) ([]notes.Folder, error)
	CreateFolder(ctx context.Context, payload remote.FolderPayload) (notes.Folder, error)
	UpdateFolder(ctx context.Context, id int64, payload remote.FolderPayload) (notes.Folder, error)
	DeleteFolder(ctx context.Context, id int64) error
}

// FailedChangePolicy decides what the end of a pass does with entries that failed to replay.
type FailedChangePolicy string

const (
	// FailedChangeDrop clears the whole ledger at the end of every pass.
	FailedChangeDrop FailedChangePolicy = "drop"
	// FailedChangeRetain keeps failed entries for the next pass.
	FailedChangeRetain FailedChangePolicy = "retain"
)

// ParseFailedChangePolicy maps a configured name onto a policy. Empty selects drop.
func ParseFailedChangePolicy(value string) (FailedChangePolicy, error) {
	switch FailedChangePolicy(value) {
	case "", FailedChangeDrop:
		return FailedChangeDrop, nil
	case FailedChangeRetain:
		return FailedChangeRetain, nil
	default:
		return "", fmt.Errorf("offline: unknown failed change policy %q", value)
	}
}

// Report summarizes one reconciliation pass.
type Report struct {
	Replayed   int
	Failed     int
	Dropped    int
	RefreshErr error
}

type ReconcilerConfig struct {
	Remote             RemoteAPI
	Store              *Store
	Ledger             *Ledger
	FailedChangePolicy FailedChangePolicy
	Logger             *zap.Logger
}

// Reconciler replays the ledger against the server and then refreshes the store.
type Reconciler struct {
	remote     RemoteAPI
	store      *Store
	ledger     *Ledger
	policy     FailedChangePolicy
	logger     *zap.Logger
	inProgress atomic.Bool
}

func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Remote == nil {
		return nil, errors.New("offline: remote api required")
	}
	if cfg.Store == nil {
		return nil, errors.New("offline: store required")
	}
	if cfg.Ledger == nil {
		return nil, errors.New("offline: ledger required")
	}
	policy, err := ParseFailedChangePolicy(string(cfg.FailedChangePolicy))
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		remote: cfg.Remote,
		store:  cfg.Store,
		ledger: cfg.Ledger,
		policy: policy,
		logger: logger,
	}, nil
}

// Reconcile runs one pass: replay notes, replay folders, refresh, then clear per policy.
// Replay and refresh failures are logged and reported, never returned.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	if !r.inProgress.CompareAndSwap(false, true) {
		return Report{}, ErrReconcileInProgress
	}
	defer r.inProgress.Store(false)

	var report Report
	for _, entityType := range []EntityType{EntityNote, EntityFolder} {
		for _, change := range r.ledger.Entries(entityType) {
			serverID, err := r.replay(ctx, change)
			if err != nil {
				report.Failed++
				r.logger.Warn("pending change replay failed",
					zap.String("entity_type", string(change.EntityType)),
					zap.String("entity_id", change.EntityID),
					zap.String("change_type", string(change.Type)),
					zap.Bool("transient", remote.IsTransient(err)),
					zap.Error(err))
				continue
			}
			report.Replayed++
			if err := r.ledger.Settle(ctx, change, serverID); err != nil {
				r.logger.Error("failed to settle replayed change", zap.String("entity_id", change.EntityID), zap.Error(err))
			}
		}
	}

	if err := r.refresh(ctx); err != nil {
		report.RefreshErr = err
		r.logger.Warn("store refresh after replay failed", zap.Error(err))
	}

	if r.policy == FailedChangeDrop {
		report.Dropped = r.ledger.Len()
		if report.Dropped > 0 {
			r.logger.Warn("dropping unreplayed changes", zap.Int("count", report.Dropped))
		}
		if err := r.ledger.Clear(ctx); err != nil {
			r.logger.Error("failed to clear ledger", zap.Error(err))
		}
	}

	r.logger.Info("reconciliation finished",
		zap.Int("replayed", report.Replayed),
		zap.Int("failed", report.Failed),
		zap.Int("dropped", report.Dropped),
		zap.Bool("refreshed", report.RefreshErr == nil))
	return report, nil
}

// replay sends one change and returns the server id of a created entity.
func (r *Reconciler) replay(ctx context.Context, change PendingChange) (string, error) {
	id, err := strconv.ParseInt(change.EntityID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q", errInvalidEntityID, change.EntityID)
	}
	var serverID int64
	if change.EntityType == EntityNote {
		serverID, err = r.replayNote(ctx, id, change)
	} else {
		serverID, err = r.replayFolder(ctx, id, change)
	}
	if err != nil {
		return "", err
	}
	return formatID(serverID), nil
}

func (r *Reconciler) replayNote(ctx context.Context, id int64, change PendingChange) (int64, error) {
	switch change.Type {
	case ChangeCreate:
		created, err := r.remote.CreateNote(ctx, notePayloadFromDraft(change.Payload))
		if err != nil {
			return 0, err
		}
		r.store.ReplaceNote(id, created)
		return created.ID, nil
	case ChangeUpdate:
		updated, err := r.remote.UpdateNote(ctx, id, notePayloadFromDraft(change.Payload))
		if err != nil {
			return 0, err
		}
		r.store.ReplaceNote(id, updated)
	case ChangeDelete:
		if err := r.remote.DeleteNote(ctx, id); err != nil {
			return 0, err
		}
		r.store.DeleteNote(id)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownChangeType, change.Type)
	}
	return id, nil
}

func (r *Reconciler) replayFolder(ctx context.Context, id int64, change PendingChange) (int64, error) {
	switch change.Type {
	case ChangeCreate:
		created, err := r.remote.CreateFolder(ctx, folderPayloadFromDraft(change.Payload))
		if err != nil {
			return 0, err
		}
		r.store.ReplaceFolder(id, created)
		return created.ID, nil
	case ChangeUpdate:
		updated, err := r.remote.UpdateFolder(ctx, id, folderPayloadFromDraft(change.Payload))
		if err != nil {
			return 0, err
		}
		r.store.ReplaceFolder(id, updated)
	case ChangeDelete:
		if err := r.remote.DeleteFolder(ctx, id); err != nil {
			return 0, err
		}
		r.store.DeleteFolder(id)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownChangeType, change.Type)
	}
	return id, nil
}

// refresh overwrites the store only when both collections were fetched.
func (r *Reconciler) refresh(ctx context.Context) error {
	noteList, err := r.remote.ListNotes(ctx)
	if err != nil {
		return fmt.Errorf("fetch notes: %w", err)
	}
	folderList, err := r.remote.ListFolders(ctx)
	if err != nil {
		return fmt.Errorf("fetch folders: %w", err)
	}
	r.store.SetNotes(noteList)
	r.store.SetFolders(folderList)
	return nil
}

func notePayloadFromDraft(payload Payload) remote.NotePayload {
	draft, _ := payload.(NoteDraft)
	return remote.NotePayload{
		Title:     &draft.Title,
		Content:   &draft.Content,
		FolderIDs: draft.FolderIDs,
	}
}

func folderPayloadFromDraft(payload Payload) remote.FolderPayload {
	draft, _ := payload.(FolderDraft)
	return remote.FolderPayload{
		Name:    &draft.Name,
		NoteIDs: draft.NoteIDs,
	}
}
