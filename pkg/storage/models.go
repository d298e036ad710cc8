package storage

import "time"

// User is a bot user observed by the access checker.
type User struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"uniqueIndex"`
	ChatID    string `gorm:"index"`
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UserRequest is one admitted request in a user's history. Rows older than
// the daily window are pruned during evaluation.
type UserRequest struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"index:idx_user_requests_user_ts"`
	Timestamp time.Time `gorm:"index:idx_user_requests_user_ts"`
}

// UserRateLimit holds the active block for a user, if any. The row doubles
// as the per-user lock for the read-evaluate-write sequence.
type UserRateLimit struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"uniqueIndex"`
	EndTime   *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuditRecord is one access-check outcome kept for the audit trail.
type AuditRecord struct {
	ID               uint   `gorm:"primaryKey"`
	UserID           string `gorm:"index"`
	MessageID        string
	ChatID           string
	Authentication   string
	Authorization    string
	RateLimitedUntil *time.Time
	CreatedAt        time.Time `gorm:"index"`
}
