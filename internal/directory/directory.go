package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/models"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/internal/overrides"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/pkg/crypto"
	"github.com/rgcs-trial/krong-thai-sop-system-sub003/pkg/logger"
)

// maxFailedAttempts locks an account after this many consecutive PIN failures.
const maxFailedAttempts = 5

// temporaryPINLength is the digit count of override-issued temporary PINs.
const temporaryPINLength = 6

var (
	// ErrAccountNotFound indicates the username has no directory record.
	ErrAccountNotFound = errors.New("directory: account not found")
	// ErrAccountLocked indicates the account is locked out of PIN authentication.
	ErrAccountLocked = errors.New("directory: account locked")
	// ErrAccountInactive indicates the account has been deactivated.
	ErrAccountInactive = errors.New("directory: account inactive")
)

// Service is the GORM-backed staff directory. It implements the override
// engine's CredentialVerifier, Directory, LockoutStore, CredentialResetter,
// and MaintenanceScheduler collaborator ports.
type Service struct {
	db  *gorm.DB
	now func() time.Time
	log *zap.Logger
}

// Option customises the directory service.
type Option func(*Service)

// WithClock overrides the clock (test helper).
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewService constructs the directory service.
func NewService(db *gorm.DB, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("directory: db is required")
	}

	s := &Service{
		db:  db,
		now: time.Now,
		log: logger.WithModule("directory"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// VerifyPIN checks the staff member's PIN against the stored hash. Failed
// attempts are counted and the account locks after maxFailedAttempts in a row;
// locked and inactive accounts never verify.
func (s *Service) VerifyPIN(ctx context.Context, username, pin string) (bool, error) {
	account, err := s.lookup(ctx, username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, nil
		}
		return false, err
	}

	if !account.IsActive || account.LockedAt != nil {
		return false, nil
	}

	if !crypto.VerifyPIN(account.PINHash, pin) {
		updates := map[string]any{"failed_attempts": gorm.Expr("failed_attempts + 1")}
		if account.FailedAttempts+1 >= maxFailedAttempts {
			now := s.now()
			updates["locked_at"] = &now
			updates["lock_reason"] = "too many failed pin attempts"
			s.log.Warn("account locked after repeated pin failures",
				zap.String("username", account.Username))
		}
		if err := s.db.WithContext(ctx).
			Model(&models.StaffAccount{}).
			Where("id = ?", account.ID).
			Updates(updates).Error; err != nil {
			return false, fmt.Errorf("directory: record failed attempt: %w", err)
		}
		return false, nil
	}

	if account.FailedAttempts > 0 {
		if err := s.db.WithContext(ctx).
			Model(&models.StaffAccount{}).
			Where("id = ?", account.ID).
			Update("failed_attempts", 0).Error; err != nil {
			return false, fmt.Errorf("directory: reset failed attempts: %w", err)
		}
	}

	return true, nil
}

// Lookup resolves a username to its role and authorization level.
func (s *Service) Lookup(ctx context.Context, username string) (overrides.StaffProfile, error) {
	account, err := s.lookup(ctx, username)
	if err != nil {
		return overrides.StaffProfile{}, err
	}
	if !account.IsActive {
		return overrides.StaffProfile{}, ErrAccountInactive
	}

	return overrides.StaffProfile{
		UserID: account.Username,
		Role:   account.Role,
		Level:  overrides.Level(account.AuthorizationLevel),
	}, nil
}

// Unlock clears lockout state for the target account, reactivating it. Used by
// account-unlock override execution.
func (s *Service) Unlock(ctx context.Context, username, reason, actor string) error {
	account, err := s.lookup(ctx, username)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).
		Model(&models.StaffAccount{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"locked_at":       nil,
			"lock_reason":     "",
			"failed_attempts": 0,
			"is_active":       true,
		}).Error; err != nil {
		return fmt.Errorf("directory: unlock account: %w", err)
	}

	s.log.Info("account unlocked",
		zap.String("username", username),
		zap.String("actor", actor),
		zap.String("reason", reason))
	return nil
}

// IssueTemporaryPIN replaces the account's PIN with a random temporary one that
// must be changed on next login, returning the plaintext for one-time delivery.
func (s *Service) IssueTemporaryPIN(ctx context.Context, username, actor string) (string, error) {
	account, err := s.lookup(ctx, username)
	if err != nil {
		return "", err
	}

	pin, err := crypto.GeneratePIN(temporaryPINLength)
	if err != nil {
		return "", fmt.Errorf("directory: generate temporary pin: %w", err)
	}
	hash, err := crypto.HashPIN(pin)
	if err != nil {
		return "", fmt.Errorf("directory: hash temporary pin: %w", err)
	}

	if err := s.db.WithContext(ctx).
		Model(&models.StaffAccount{}).
		Where("id = ?", account.ID).
		Updates(map[string]any{
			"pin_hash":        hash,
			"pin_must_change": true,
			"failed_attempts": 0,
		}).Error; err != nil {
		return "", fmt.Errorf("directory: store temporary pin: %w", err)
	}

	s.log.Info("temporary pin issued",
		zap.String("username", username),
		zap.String("actor", actor))
	return pin, nil
}

// FlagWindow records an authorized maintenance window. Used by
// system-maintenance override execution.
func (s *Service) FlagWindow(ctx context.Context, requestID, authorizedBy, reason string, startsAt, endsAt time.Time) (string, error) {
	window := models.MaintenanceWindow{
		RequestID:    requestID,
		AuthorizedBy: authorizedBy,
		Reason:       reason,
		StartsAt:     startsAt,
		EndsAt:       endsAt,
	}
	if err := s.db.WithContext(ctx).Create(&window).Error; err != nil {
		return "", fmt.Errorf("directory: flag maintenance window: %w", err)
	}
	return window.ID, nil
}

// CreateAccount registers a staff member with a hashed PIN. Primarily used for
// provisioning and tests.
func (s *Service) CreateAccount(ctx context.Context, username, role string, level overrides.Level, restaurantID, pin string) (*models.StaffAccount, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("directory: username is required")
	}
	if pin == "" {
		return nil, errors.New("directory: pin is required")
	}

	hash, err := crypto.HashPIN(pin)
	if err != nil {
		return nil, fmt.Errorf("directory: hash pin: %w", err)
	}

	account := models.StaffAccount{
		Username:           username,
		Role:               role,
		AuthorizationLevel: int(level),
		RestaurantID:       restaurantID,
		PINHash:            hash,
		IsActive:           true,
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, fmt.Errorf("directory: create account: %w", err)
	}
	return &account, nil
}

func (s *Service) lookup(ctx context.Context, username string) (*models.StaffAccount, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrAccountNotFound
	}

	var account models.StaffAccount
	if err := s.db.WithContext(ctx).
		Where("username = ?", username).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("directory: lookup %s: %w", username, err)
	}
	return &account, nil
}
