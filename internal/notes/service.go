package notes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew    = "notes.service.new"
	opListNotes     = "notes.list_notes"
	opGetNote       = "notes.get_note"
	opCreateNote    = "notes.create_note"
	opUpdateNote    = "notes.update_note"
	opDeleteNote    = "notes.delete_note"
	opListFolders   = "notes.list_folders"
	opGetFolder     = "notes.get_folder"
	opCreateFolder  = "notes.create_folder"
	opUpdateFolder  = "notes.update_folder"
	opDeleteFolder  = "notes.delete_folder"
	reasonNotFound  = "not_found"
	reasonInvalid   = "invalid_input"
	reasonConflict  = "name_conflict"
	reasonUnknownID = "unknown_association"
	reasonQuery     = "query_failed"
	reasonMissingDB = "missing_database"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service owns notes, folders and the pairings between them.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDB, errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:     cfg.Database,
		clock:  clock,
		logger: logger,
	}, nil
}

// ListNotes returns every note, most recently updated first, with its folders attached.
func (s *Service) ListNotes(ctx context.Context) ([]Note, error) {
	if s.db == nil {
		s.logError(opListNotes, reasonMissingDB, errMissingDatabase)
		return nil, newServiceError(opListNotes, reasonMissingDB, errMissingDatabase)
	}

	var notes []Note
	db := s.db.WithContext(ctx)
	if err := db.Order("updated_at DESC").Order("id DESC").Find(&notes).Error; err != nil {
		s.logError(opListNotes, reasonQuery, err)
		return nil, newServiceError(opListNotes, reasonQuery, err)
	}
	if err := attachFolders(db, notes); err != nil {
		s.logError(opListNotes, reasonQuery, err)
		return nil, newServiceError(opListNotes, reasonQuery, err)
	}
	return notes, nil
}

// GetNote returns a single note with its folders attached.
func (s *Service) GetNote(ctx context.Context, noteID int64) (Note, error) {
	if s.db == nil {
		s.logError(opGetNote, reasonMissingDB, errMissingDatabase)
		return Note{}, newServiceError(opGetNote, reasonMissingDB, errMissingDatabase)
	}
	note, err := loadNote(s.db.WithContext(ctx), noteID)
	if err != nil {
		return Note{}, s.wrapLookupError(opGetNote, err, zap.Int64("note_id", noteID))
	}
	return note, nil
}

func (s *Service) CreateNote(ctx context.Context, input NoteInput) (Note, error) {
	if s.db == nil {
		s.logError(opCreateNote, reasonMissingDB, errMissingDatabase)
		return Note{}, newServiceError(opCreateNote, reasonMissingDB, errMissingDatabase)
	}
	if input.Title == nil || strings.TrimSpace(*input.Title) == "" {
		return Note{}, newServiceError(opCreateNote, reasonInvalid, ErrInvalidTitle)
	}

	now := s.clock().UTC()
	note := Note{
		Title:     *input.Title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if input.Content != nil {
		note.Content = *input.Content
	}

	var created Note
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&note).Error; err != nil {
			return err
		}
		if input.FolderIDs != nil {
			if err := replaceNoteFolders(tx, note.ID, input.FolderIDs); err != nil {
				return err
			}
		}
		loaded, err := loadNote(tx, note.ID)
		if err != nil {
			return err
		}
		created = loaded
		return nil
	})
	if txErr != nil {
		return Note{}, s.wrapMutationError(opCreateNote, txErr)
	}
	return created, nil
}

func (s *Service) UpdateNote(ctx context.Context, noteID int64, input NoteInput) (Note, error) {
	if s.db == nil {
		s.logError(opUpdateNote, reasonMissingDB, errMissingDatabase)
		return Note{}, newServiceError(opUpdateNote, reasonMissingDB, errMissingDatabase)
	}
	if input.Title != nil && strings.TrimSpace(*input.Title) == "" {
		return Note{}, newServiceError(opUpdateNote, reasonInvalid, ErrInvalidTitle)
	}

	var updated Note
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Note
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", noteID).Take(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoteNotFound
			}
			return err
		}

		if input.Title != nil || input.Content != nil {
			updates := map[string]interface{}{
				"updated_at": s.clock().UTC(),
			}
			if input.Title != nil {
				updates["title"] = *input.Title
			}
			if input.Content != nil {
				updates["content"] = *input.Content
			}
			if err := tx.Model(&Note{}).Where("id = ?", noteID).Updates(updates).Error; err != nil {
				return err
			}
		}

		if input.FolderIDs != nil {
			if err := replaceNoteFolders(tx, noteID, input.FolderIDs); err != nil {
				return err
			}
		}

		loaded, err := loadNote(tx, noteID)
		if err != nil {
			return err
		}
		updated = loaded
		return nil
	})
	if txErr != nil {
		return Note{}, s.wrapMutationError(opUpdateNote, txErr, zap.Int64("note_id", noteID))
	}
	return updated, nil
}

func (s *Service) DeleteNote(ctx context.Context, noteID int64) error {
	if s.db == nil {
		s.logError(opDeleteNote, reasonMissingDB, errMissingDatabase)
		return newServiceError(opDeleteNote, reasonMissingDB, errMissingDatabase)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Note
		if err := tx.Where("id = ?", noteID).Take(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoteNotFound
			}
			return err
		}
		if err := tx.Where("note_id = ?", noteID).Delete(&NoteFolder{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Note{}, noteID).Error
	})
	if txErr != nil {
		return s.wrapMutationError(opDeleteNote, txErr, zap.Int64("note_id", noteID))
	}
	return nil
}

// ListFolders returns every folder ordered by name with its notes attached.
func (s *Service) ListFolders(ctx context.Context) ([]Folder, error) {
	if s.db == nil {
		s.logError(opListFolders, reasonMissingDB, errMissingDatabase)
		return nil, newServiceError(opListFolders, reasonMissingDB, errMissingDatabase)
	}

	var folders []Folder
	db := s.db.WithContext(ctx)
	if err := db.Order("name ASC").Find(&folders).Error; err != nil {
		s.logError(opListFolders, reasonQuery, err)
		return nil, newServiceError(opListFolders, reasonQuery, err)
	}
	if err := attachNotes(db, folders); err != nil {
		s.logError(opListFolders, reasonQuery, err)
		return nil, newServiceError(opListFolders, reasonQuery, err)
	}
	return folders, nil
}

func (s *Service) GetFolder(ctx context.Context, folderID int64) (Folder, error) {
	if s.db == nil {
		s.logError(opGetFolder, reasonMissingDB, errMissingDatabase)
		return Folder{}, newServiceError(opGetFolder, reasonMissingDB, errMissingDatabase)
	}
	folder, err := loadFolder(s.db.WithContext(ctx), folderID)
	if err != nil {
		return Folder{}, s.wrapLookupError(opGetFolder, err, zap.Int64("folder_id", folderID))
	}
	return folder, nil
}

func (s *Service) CreateFolder(ctx context.Context, input FolderInput) (Folder, error) {
	if s.db == nil {
		s.logError(opCreateFolder, reasonMissingDB, errMissingDatabase)
		return Folder{}, newServiceError(opCreateFolder, reasonMissingDB, errMissingDatabase)
	}
	if input.Name == nil {
		return Folder{}, newServiceError(opCreateFolder, reasonInvalid, ErrInvalidFolderName)
	}
	name, err := normalizeFolderName(*input.Name)
	if err != nil {
		return Folder{}, newServiceError(opCreateFolder, reasonInvalid, err)
	}

	now := s.clock().UTC()
	folder := Folder{Name: name, CreatedAt: now, UpdatedAt: now}

	var created Folder
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureFolderNameAvailable(tx, name, 0); err != nil {
			return err
		}
		if err := tx.Omit(clause.Associations).Create(&folder).Error; err != nil {
			return err
		}
		if input.NoteIDs != nil {
			if err := replaceFolderNotes(tx, folder.ID, input.NoteIDs); err != nil {
				return err
			}
		}
		loaded, err := loadFolder(tx, folder.ID)
		if err != nil {
			return err
		}
		created = loaded
		return nil
	})
	if txErr != nil {
		return Folder{}, s.wrapMutationError(opCreateFolder, txErr, zap.String("folder_name", name))
	}
	return created, nil
}

func (s *Service) UpdateFolder(ctx context.Context, folderID int64, input FolderInput) (Folder, error) {
	if s.db == nil {
		s.logError(opUpdateFolder, reasonMissingDB, errMissingDatabase)
		return Folder{}, newServiceError(opUpdateFolder, reasonMissingDB, errMissingDatabase)
	}
	var name string
	if input.Name != nil {
		normalized, err := normalizeFolderName(*input.Name)
		if err != nil {
			return Folder{}, newServiceError(opUpdateFolder, reasonInvalid, err)
		}
		name = normalized
	}

	var updated Folder
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Folder
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", folderID).Take(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFolderNotFound
			}
			return err
		}

		if input.Name != nil {
			if err := ensureFolderNameAvailable(tx, name, folderID); err != nil {
				return err
			}
			updates := map[string]interface{}{
				"name":       name,
				"updated_at": s.clock().UTC(),
			}
			if err := tx.Model(&Folder{}).Where("id = ?", folderID).Updates(updates).Error; err != nil {
				return err
			}
		}

		if input.NoteIDs != nil {
			if err := replaceFolderNotes(tx, folderID, input.NoteIDs); err != nil {
				return err
			}
		}

		loaded, err := loadFolder(tx, folderID)
		if err != nil {
			return err
		}
		updated = loaded
		return nil
	})
	if txErr != nil {
		return Folder{}, s.wrapMutationError(opUpdateFolder, txErr, zap.Int64("folder_id", folderID))
	}
	return updated, nil
}

func (s *Service) DeleteFolder(ctx context.Context, folderID int64) error {
	if s.db == nil {
		s.logError(opDeleteFolder, reasonMissingDB, errMissingDatabase)
		return newServiceError(opDeleteFolder, reasonMissingDB, errMissingDatabase)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Folder
		if err := tx.Where("id = ?", folderID).Take(&existing).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrFolderNotFound
			}
			return err
		}
		if err := tx.Where("folder_id = ?", folderID).Delete(&NoteFolder{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Folder{}, folderID).Error
	})
	if txErr != nil {
		return s.wrapMutationError(opDeleteFolder, txErr, zap.Int64("folder_id", folderID))
	}
	return nil
}

func ensureFolderNameAvailable(tx *gorm.DB, name string, selfID int64) error {
	var existing Folder
	err := tx.Where("name = ?", name).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID == selfID {
		return nil
	}
	return ErrFolderNameTaken
}

func replaceNoteFolders(tx *gorm.DB, noteID int64, folderIDs []int64) error {
	ids := dedupeIDs(folderIDs)
	if err := ensureAllExist(tx, &Folder{}, ids); err != nil {
		return err
	}
	if err := tx.Where("note_id = ?", noteID).Delete(&NoteFolder{}).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	pairs := make([]NoteFolder, 0, len(ids))
	for _, folderID := range ids {
		pairs = append(pairs, NoteFolder{NoteID: noteID, FolderID: folderID})
	}
	return tx.Omit(clause.Associations).Create(&pairs).Error
}

func replaceFolderNotes(tx *gorm.DB, folderID int64, noteIDs []int64) error {
	ids := dedupeIDs(noteIDs)
	if err := ensureAllExist(tx, &Note{}, ids); err != nil {
		return err
	}
	if err := tx.Where("folder_id = ?", folderID).Delete(&NoteFolder{}).Error; err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	pairs := make([]NoteFolder, 0, len(ids))
	for _, noteID := range ids {
		pairs = append(pairs, NoteFolder{NoteID: noteID, FolderID: folderID})
	}
	return tx.Omit(clause.Associations).Create(&pairs).Error
}

func ensureAllExist(tx *gorm.DB, model interface{}, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	var count int64
	if err := tx.Model(model).Where("id IN ?", ids).Count(&count).Error; err != nil {
		return err
	}
	if count != int64(len(ids)) {
		return ErrUnknownAssociation
	}
	return nil
}

func loadNote(db *gorm.DB, noteID int64) (Note, error) {
	var note Note
	if err := db.Where("id = ?", noteID).Take(&note).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Note{}, ErrNoteNotFound
		}
		return Note{}, err
	}
	notes := []Note{note}
	if err := attachFolders(db, notes); err != nil {
		return Note{}, err
	}
	return notes[0], nil
}

func loadFolder(db *gorm.DB, folderID int64) (Folder, error) {
	var folder Folder
	if err := db.Where("id = ?", folderID).Take(&folder).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Folder{}, ErrFolderNotFound
		}
		return Folder{}, err
	}
	folders := []Folder{folder}
	if err := attachNotes(db, folders); err != nil {
		return Folder{}, err
	}
	return folders[0], nil
}

func attachFolders(db *gorm.DB, notes []Note) error {
	if len(notes) == 0 {
		return nil
	}
	noteIDs := make([]int64, 0, len(notes))
	for _, note := range notes {
		noteIDs = append(noteIDs, note.ID)
	}

	var pairs []NoteFolder
	if err := db.Where("note_id IN ?", noteIDs).Find(&pairs).Error; err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}

	folderIDs := make([]int64, 0, len(pairs))
	for _, pair := range pairs {
		folderIDs = append(folderIDs, pair.FolderID)
	}
	var folders []Folder
	if err := db.Where("id IN ?", dedupeIDs(folderIDs)).Find(&folders).Error; err != nil {
		return err
	}
	byID := make(map[int64]Folder, len(folders))
	for _, folder := range folders {
		byID[folder.ID] = folder
	}

	grouped := make(map[int64][]Folder, len(notes))
	for _, pair := range pairs {
		folder, ok := byID[pair.FolderID]
		if !ok {
			continue
		}
		grouped[pair.NoteID] = append(grouped[pair.NoteID], folder)
	}
	for index := range notes {
		attached := grouped[notes[index].ID]
		sort.Slice(attached, func(i, j int) bool {
			return attached[i].Name < attached[j].Name
		})
		notes[index].Folders = attached
	}
	return nil
}

func attachNotes(db *gorm.DB, folders []Folder) error {
	if len(folders) == 0 {
		return nil
	}
	folderIDs := make([]int64, 0, len(folders))
	for _, folder := range folders {
		folderIDs = append(folderIDs, folder.ID)
	}

	var pairs []NoteFolder
	if err := db.Where("folder_id IN ?", folderIDs).Find(&pairs).Error; err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}

	noteIDs := make([]int64, 0, len(pairs))
	for _, pair := range pairs {
		noteIDs = append(noteIDs, pair.NoteID)
	}
	var notes []Note
	if err := db.Where("id IN ?", dedupeIDs(noteIDs)).Order("updated_at DESC").Order("id DESC").Find(&notes).Error; err != nil {
		return err
	}
	position := make(map[int64]int, len(notes))
	for index, note := range notes {
		position[note.ID] = index
	}

	grouped := make(map[int64][]Note, len(folders))
	for _, pair := range pairs {
		index, ok := position[pair.NoteID]
		if !ok {
			continue
		}
		grouped[pair.FolderID] = append(grouped[pair.FolderID], notes[index])
	}
	for index := range folders {
		attached := grouped[folders[index].ID]
		sort.SliceStable(attached, func(i, j int) bool {
			return position[attached[i].ID] < position[attached[j].ID]
		})
		folders[index].Notes = attached
	}
	return nil
}

func (s *Service) wrapLookupError(operation string, err error, fields ...zap.Field) error {
	switch {
	case errors.Is(err, ErrNoteNotFound), errors.Is(err, ErrFolderNotFound):
		return newServiceError(operation, reasonNotFound, err)
	default:
		s.logError(operation, reasonQuery, err, fields...)
		return newServiceError(operation, reasonQuery, err)
	}
}

func (s *Service) wrapMutationError(operation string, err error, fields ...zap.Field) error {
	switch {
	case errors.Is(err, ErrNoteNotFound), errors.Is(err, ErrFolderNotFound):
		return newServiceError(operation, reasonNotFound, err)
	case errors.Is(err, ErrFolderNameTaken):
		return newServiceError(operation, reasonConflict, err)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return newServiceError(operation, reasonConflict, fmt.Errorf("%w: %v", ErrFolderNameTaken, err))
	case errors.Is(err, ErrUnknownAssociation):
		return newServiceError(operation, reasonUnknownID, err)
	default:
		s.logError(operation, reasonQuery, err, fields...)
		return newServiceError(operation, reasonQuery, err)
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes service error", attrs...)
}
