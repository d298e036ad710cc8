// Package storage persists observed user state (requests, blocks, audit
// records) behind the users.Store interface.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/haasonsaas/botgate/pkg/ratelimit"
	"github.com/haasonsaas/botgate/pkg/users"
)

// Store is the gorm-backed implementation of users.Store.
type Store struct {
	db     *gorm.DB
	pseudo *Pseudonymizer
}

// Option customizes a Store.
type Option func(*Store)

// WithPseudonymizer masks user IDs in audit records at rest.
func WithPseudonymizer(p Pseudonymizer) Option {
	return func(s *Store) { s.pseudo = &p }
}

// Open connects to the configured database and migrates the schema.
// Supported drivers: sqlite, postgres.
func Open(driver, dsn string, opts ...Option) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", users.ErrStoreUnavailable, err)
	}
	return New(db, opts...)
}

// New wraps an existing gorm handle and migrates the schema.
func New(db *gorm.DB, opts ...Option) (*Store, error) {
	if err := db.AutoMigrate(&User{}, &UserRequest{}, &UserRateLimit{}, &AuditRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// WithUser runs fn inside a transaction holding a row lock on the user's
// rate-limit row, serializing concurrent evaluations for one user ID.
// Different user IDs proceed independently.
func (s *Store) WithUser(ctx context.Context, userID string, fn func(users.UserView) (*users.UserUpdate, error)) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lock, err := s.lockUser(tx, userID)
		if err != nil {
			return err
		}

		var rows []UserRequest
		if err := tx.Where("user_id = ?", userID).Order("timestamp asc").Find(&rows).Error; err != nil {
			return fmt.Errorf("load history for %s: %w", userID, err)
		}
		history := make([]time.Time, 0, len(rows))
		for _, row := range rows {
			history = append(history, row.Timestamp)
		}

		update, err := fn(users.UserView{History: history, State: ratelimit.State{EndTime: lock.EndTime}})
		if err != nil || update == nil {
			return err
		}

		if err := s.writeHistory(tx, userID, history, update.History); err != nil {
			return err
		}
		if err := tx.Model(&UserRateLimit{}).Where("user_id = ?", userID).
			Update("end_time", update.State.EndTime).Error; err != nil {
			return fmt.Errorf("save state for %s: %w", userID, err)
		}
		return nil
	})
}

func (s *Store) lockUser(tx *gorm.DB, userID string) (*UserRateLimit, error) {
	// the row must exist before it can be locked; OnConflict keeps the
	// create race between two first-time requests harmless
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&UserRateLimit{UserID: userID}).Error; err != nil {
		return nil, fmt.Errorf("ensure state row for %s: %w", userID, err)
	}

	var lock UserRateLimit
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&lock).Error; err != nil {
		return nil, fmt.Errorf("lock state row for %s: %w", userID, err)
	}
	return &lock, nil
}

// writeHistory applies the delta between the loaded history and the updated
// one. Updates are always a pruned suffix of the old history plus entries
// appended at the end, so a front delete and a tail insert cover every case.
func (s *Store) writeHistory(tx *gorm.DB, userID string, old, updated []time.Time) error {
	if len(updated) == 0 {
		if len(old) == 0 {
			return nil
		}
		if err := tx.Where("user_id = ?", userID).Delete(&UserRequest{}).Error; err != nil {
			return fmt.Errorf("prune history for %s: %w", userID, err)
		}
		return nil
	}

	if len(old) > 0 && old[0].Before(updated[0]) {
		if err := tx.Where("user_id = ? AND timestamp < ?", userID, updated[0]).
			Delete(&UserRequest{}).Error; err != nil {
			return fmt.Errorf("prune history for %s: %w", userID, err)
		}
	}

	dropped := 0
	for dropped < len(old) && old[dropped].Before(updated[0]) {
		dropped++
	}
	kept := len(old) - dropped
	if kept > len(updated) {
		kept = len(updated)
	}
	appended := updated[kept:]
	for _, ts := range appended {
		if err := tx.Create(&UserRequest{UserID: userID, Timestamp: ts}).Error; err != nil {
			return fmt.Errorf("record request for %s: %w", userID, err)
		}
	}
	return nil
}

// RegisterUser creates or refreshes the user row.
func (s *Store) RegisterUser(ctx context.Context, userID, chatID, status string) error {
	record := User{UserID: userID, ChatID: chatID, Status: status}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"chat_id", "status", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("register user %s: %w", userID, err)
	}
	return nil
}

// AppendAudit writes one access-check outcome.
func (s *Store) AppendAudit(ctx context.Context, entry users.AuditEntry) error {
	userID := entry.UserID
	if s.pseudo != nil {
		userID = s.pseudo.Mask(userID)
	}
	record := AuditRecord{
		UserID:           userID,
		MessageID:        entry.MessageID,
		ChatID:           entry.ChatID,
		Authentication:   entry.Authentication,
		Authorization:    entry.Authorization,
		RateLimitedUntil: entry.RateLimitedUntil,
		CreatedAt:        entry.At,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("append audit for %s: %w", entry.UserID, err)
	}
	return nil
}

// Users lists known users, optionally restricted to allowed ones.
func (s *Store) Users(ctx context.Context, onlyAllowed bool) ([]User, error) {
	query := s.db.WithContext(ctx).Order("user_id asc")
	if onlyAllowed {
		query = query.Where("status = ?", users.StatusAllowed)
	}
	var list []User
	if err := query.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return list, nil
}

// GetUser loads one user row.
func (s *Store) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, err
	}
	if err != nil {
		return User{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	return user, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", users.ErrStoreUnavailable, err)
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", users.ErrStoreUnavailable, err)
	}
	return nil
}
