package offline

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EntityType names the collection a pending change belongs to.
type EntityType string

const (
	EntityNote   EntityType = "note"
	EntityFolder EntityType = "folder"
)

// ChangeType is the remote call a pending change replays as.
type ChangeType string

const (
	ChangeCreate ChangeType = "create"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

const (
	payloadKindNoteDraft   = "note_draft"
	payloadKindFolderDraft = "folder_draft"
	payloadKindTombstone   = "tombstone"
)

var (
	ErrUnknownEntityType = errors.New("offline: unknown entity type")
	ErrUnknownChangeType = errors.New("offline: unknown change type")
	ErrPayloadMismatch   = errors.New("offline: payload does not match change")
	ErrEmptyEntityID     = errors.New("offline: entity id required")
)

// Payload is one of NoteDraft, FolderDraft or Tombstone.
type Payload interface {
	payloadKind() string
}

// NoteDraft carries the note fields to send. A nil FolderIDs leaves associations unchanged.
type NoteDraft struct {
	Title     string  `json:"title"`
	Content   string  `json:"content"`
	FolderIDs []int64 `json:"folderIds"`
}

// FolderDraft carries the folder fields to send. A nil NoteIDs leaves associations unchanged.
type FolderDraft struct {
	Name    string  `json:"name"`
	NoteIDs []int64 `json:"noteIds"`
}

// Tombstone marks a delete.
type Tombstone struct{}

func (NoteDraft) payloadKind() string   { return payloadKindNoteDraft }
func (FolderDraft) payloadKind() string { return payloadKindFolderDraft }
func (Tombstone) payloadKind() string   { return payloadKindTombstone }

// PendingChange is a mutation awaiting replay, keyed by entity type and id.
type PendingChange struct {
	EntityType EntityType
	EntityID   string
	Type       ChangeType
	Payload    Payload
}

func validateChange(change PendingChange) error {
	if change.EntityID == "" {
		return ErrEmptyEntityID
	}
	var draftKind string
	switch change.EntityType {
	case EntityNote:
		draftKind = payloadKindNoteDraft
	case EntityFolder:
		draftKind = payloadKindFolderDraft
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEntityType, change.EntityType)
	}
	if change.Payload == nil {
		return fmt.Errorf("%w: missing payload", ErrPayloadMismatch)
	}
	kind := change.Payload.payloadKind()
	switch change.Type {
	case ChangeCreate, ChangeUpdate:
		if kind != draftKind {
			return fmt.Errorf("%w: %s %s carries %s", ErrPayloadMismatch, change.Type, change.EntityType, kind)
		}
	case ChangeDelete:
		if kind != payloadKindTombstone {
			return fmt.Errorf("%w: delete carries %s", ErrPayloadMismatch, kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownChangeType, change.Type)
	}
	return nil
}

type payloadEnvelope struct {
	Kind      string  `json:"kind"`
	Title     string  `json:"title,omitempty"`
	Content   string  `json:"content,omitempty"`
	Name      string  `json:"name,omitempty"`
	FolderIDs []int64 `json:"folderIds,omitempty"`
	NoteIDs   []int64 `json:"noteIds,omitempty"`
	// Associations distinguishes an empty id list from an absent one.
	Associations bool `json:"associations,omitempty"`
}

func encodePayload(payload Payload) ([]byte, error) {
	envelope := payloadEnvelope{Kind: payload.payloadKind()}
	switch typed := payload.(type) {
	case NoteDraft:
		envelope.Title = typed.Title
		envelope.Content = typed.Content
		envelope.FolderIDs = typed.FolderIDs
		envelope.Associations = typed.FolderIDs != nil
	case FolderDraft:
		envelope.Name = typed.Name
		envelope.NoteIDs = typed.NoteIDs
		envelope.Associations = typed.NoteIDs != nil
	case Tombstone:
	default:
		return nil, fmt.Errorf("%w: unsupported payload %T", ErrPayloadMismatch, payload)
	}
	return json.Marshal(envelope)
}

func decodePayload(raw []byte) (Payload, error) {
	var envelope payloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	switch envelope.Kind {
	case payloadKindNoteDraft:
		draft := NoteDraft{Title: envelope.Title, Content: envelope.Content}
		if envelope.Associations {
			draft.FolderIDs = append([]int64{}, envelope.FolderIDs...)
		}
		return draft, nil
	case payloadKindFolderDraft:
		draft := FolderDraft{Name: envelope.Name}
		if envelope.Associations {
			draft.NoteIDs = append([]int64{}, envelope.NoteIDs...)
		}
		return draft, nil
	case payloadKindTombstone:
		return Tombstone{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown payload kind %q", ErrPayloadMismatch, envelope.Kind)
	}
}
