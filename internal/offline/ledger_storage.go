package offline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// PendingChangeRecord is the persisted row for one ledger entry.
type PendingChangeRecord struct {
	StoreName  string    `gorm:"column:store_name;primaryKey;size:64;not null"`
	EntityType string    `gorm:"column:entity_type;primaryKey;size:16;not null"`
	EntityID   string    `gorm:"column:entity_id;primaryKey;size:64;not null"`
	Position   int       `gorm:"column:position;not null"`
	ChangeType string    `gorm:"column:change_type;size:16;not null"`
	Payload    string    `gorm:"column:payload;type:text;not null"`
	SavedAt    time.Time `gorm:"column:saved_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (PendingChangeRecord) TableName() string {
	return "pending_changes"
}

// GormLedgerStorage keeps ledger snapshots in the pending_changes table under one store name.
type GormLedgerStorage struct {
	db        *gorm.DB
	storeName string
	clock     func() time.Time
}

// NewGormLedgerStorage binds storage to db. An empty storeName selects LedgerStoreName.
func NewGormLedgerStorage(db *gorm.DB, storeName string) (*GormLedgerStorage, error) {
	if db == nil {
		return nil, errors.New("offline: ledger database required")
	}
	name := strings.TrimSpace(storeName)
	if name == "" {
		name = LedgerStoreName
	}
	return &GormLedgerStorage{db: db, storeName: name, clock: time.Now}, nil
}

func (s *GormLedgerStorage) Load(ctx context.Context) ([]PendingChange, error) {
	var records []PendingChangeRecord
	err := s.db.WithContext(ctx).
		Where("store_name = ?", s.storeName).
		Order("position ASC").
		Find(&records).
		Error
	if err != nil {
		return nil, err
	}
	changes := make([]PendingChange, 0, len(records))
	for _, record := range records {
		payload, err := decodePayload([]byte(record.Payload))
		if err != nil {
			return nil, fmt.Errorf("decode %s %s: %w", record.EntityType, record.EntityID, err)
		}
		changes = append(changes, PendingChange{
			EntityType: EntityType(record.EntityType),
			EntityID:   record.EntityID,
			Type:       ChangeType(record.ChangeType),
			Payload:    payload,
		})
	}
	return changes, nil
}

func (s *GormLedgerStorage) Save(ctx context.Context, changes []PendingChange) error {
	records := make([]PendingChangeRecord, 0, len(changes))
	savedAt := s.clock().UTC()
	for index, change := range changes {
		encoded, err := encodePayload(change.Payload)
		if err != nil {
			return err
		}
		records = append(records, PendingChangeRecord{
			StoreName:  s.storeName,
			EntityType: string(change.EntityType),
			EntityID:   change.EntityID,
			Position:   index,
			ChangeType: string(change.Type),
			Payload:    string(encoded),
			SavedAt:    savedAt,
		})
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("store_name = ?", s.storeName).Delete(&PendingChangeRecord{}).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.CreateInBatches(records, 100).Error
	})
}
