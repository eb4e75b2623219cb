package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const defaultPinHashCost = 10

var pinPattern = regexp.MustCompile(`^\d{4}$`)

var (
	// ErrInvalidPinFormat indicates the PIN is not exactly four digits.
	ErrInvalidPinFormat = errors.New("users: invalid pin format")
	// ErrPinMismatch indicates the PIN does not match the stored credential or none is configured.
	ErrPinMismatch = errors.New("users: invalid pin")
)

// ServiceConfig describes the dependencies required for PIN credential management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	HashCost int
	Logger   *zap.Logger
}

// Service manages the single owner's PIN credential.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	hashCost int
	logger   *zap.Logger
	mu       sync.Mutex
}

// NewService constructs the credential service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cost := cfg.HashCost
	if cost == 0 {
		cost = defaultPinHashCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("users: hash cost %d out of range", cost)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:       cfg.Database,
		now:      clock,
		hashCost: cost,
		logger:   logger,
	}, nil
}

// ValidatePinFormat reports whether pin is exactly four ASCII digits.
func ValidatePinFormat(pin string) error {
	if !pinPattern.MatchString(pin) {
		return ErrInvalidPinFormat
	}
	return nil
}

// HasPin reports whether a credential has been configured.
func (s *Service) HasPin(ctx context.Context) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&Credential{}).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetupPin stores pin as the credential, replacing an existing one.
func (s *Service) SetupPin(ctx context.Context, pin string) error {
	if err := ValidatePinFormat(pin); err != nil {
		return err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(pin), s.hashCost)
	if err != nil {
		return fmt.Errorf("users: hash pin: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Credential
		err := tx.Order("id ASC").Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Info("pin configured")
			return tx.Create(&Credential{PinHash: string(hashed), CreatedAt: now, UpdatedAt: now}).Error
		}
		if err != nil {
			return err
		}
		s.logger.Info("pin replaced")
		return tx.Model(&Credential{}).
			Where("id = ?", existing.ID).
			Updates(map[string]interface{}{"pin": string(hashed), "updated_at": now}).
			Error
	})
}

// VerifyPin compares pin against the stored credential.
func (s *Service) VerifyPin(ctx context.Context, pin string) error {
	if err := ValidatePinFormat(pin); err != nil {
		return err
	}
	var credential Credential
	err := s.db.WithContext(ctx).Order("id ASC").Take(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPinMismatch
	}
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(credential.PinHash), []byte(pin)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPinMismatch
		}
		return fmt.Errorf("users: compare pin: %w", err)
	}
	return nil
}
