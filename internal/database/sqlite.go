package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/dominotes/internal/notes"
	"github.com/MarcoPoloResearchLab/dominotes/internal/offline"
	"github.com/MarcoPoloResearchLab/dominotes/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes a SQLite connection and performs schema migrations.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&notes.Note{}, &notes.Folder{}, &notes.NoteFolder{}, &users.Credential{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

// OpenClientSQLite opens the sync client's local database, which only holds the pending change ledger.
func OpenClientSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&offline.PendingChangeRecord{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("client ledger database initialized", zap.String("path", path))
	}

	return db, nil
}

func openSQLite(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}
	return db, nil
}
