package notes

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxFolderNameLength is the longest folder name accepted, in characters.
const MaxFolderNameLength = 190

var (
	// ErrInvalidEntityID indicates that a note or folder identifier is not a positive integer.
	ErrInvalidEntityID = errors.New("notes: invalid entity id")
	// ErrInvalidTitle indicates that a note title is empty.
	ErrInvalidTitle = errors.New("notes: title is required")
	// ErrInvalidFolderName indicates that a folder name is empty or exceeds storage bounds.
	ErrInvalidFolderName = errors.New("notes: invalid folder name")
	// ErrFolderNameTooLong accompanies ErrInvalidFolderName when the name has too many characters.
	ErrFolderNameTooLong = errors.New("notes: folder name too long")
	// ErrNoteNotFound indicates that no note exists for the identifier.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrFolderNotFound indicates that no folder exists for the identifier.
	ErrFolderNotFound = errors.New("notes: folder not found")
	// ErrFolderNameTaken indicates that another folder already uses the name.
	ErrFolderNameTaken = errors.New("notes: a folder with this name already exists")
	// ErrUnknownAssociation indicates that an association references a missing note or folder.
	ErrUnknownAssociation = errors.New("notes: association references unknown entity")
)

// ParseEntityID validates raw path input and returns a positive identifier.
func ParseEntityID(rawInput string) (int64, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidEntityID)
	}
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEntityID, trimmed)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidEntityID, value)
	}
	return value, nil
}

// Note is a persisted note. Folders is populated on reads only.
type Note struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Title     string    `gorm:"column:title;type:text;not null" json:"title"`
	Content   string    `gorm:"column:content;type:text;not null;default:''" json:"content"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;index:idx_notes_updated" json:"updatedAt"`
	Folders   []Folder  `gorm:"-" json:"folders,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Folder is a persisted folder. Notes is populated on reads only.
type Folder struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"column:name;size:190;not null;uniqueIndex:idx_folders_name" json:"name"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
	Notes     []Note    `gorm:"-" json:"notes,omitempty"`
}

// TableName provides the explicit table binding for GORM.
func (Folder) TableName() string {
	return "folders"
}

// NoteFolder pairs a note with a folder. Removing either side removes the pairing.
type NoteFolder struct {
	NoteID   int64  `gorm:"column:note_id;primaryKey;autoIncrement:false;index:idx_note_folders_folder,priority:2"`
	FolderID int64  `gorm:"column:folder_id;primaryKey;autoIncrement:false;index:idx_note_folders_folder,priority:1"`
	Note     Note   `gorm:"foreignKey:NoteID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	Folder   Folder `gorm:"foreignKey:FolderID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName provides the explicit table binding for GORM.
func (NoteFolder) TableName() string {
	return "notes_and_folders"
}

// NoteInput describes a note create or update. Nil fields are left unchanged on update.
// A nil FolderIDs keeps the current associations; a non-nil slice replaces them.
type NoteInput struct {
	Title     *string
	Content   *string
	FolderIDs []int64
}

// FolderInput describes a folder create or update. NoteIDs follows the NoteInput.FolderIDs rules.
type FolderInput struct {
	Name    *string
	NoteIDs []int64
}

func normalizeFolderName(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFolderName)
	}
	if utf8.RuneCountInString(trimmed) > MaxFolderNameLength {
		return "", fmt.Errorf("%w: %w: exceeds %d characters", ErrInvalidFolderName, ErrFolderNameTooLong, MaxFolderNameLength)
	}
	return trimmed, nil
}

func dedupeIDs(ids []int64) []int64 {
	if ids == nil {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	result := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, id)
	}
	return result
}
