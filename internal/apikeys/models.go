// Package apikeys owns API-key issuance, validation, and the per-key rate
// limit enforced on /api/v1.
package apikeys

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OpenParlCA/OP-Backend/internal/db"
)

// DefaultRequestsPerHour applies when a key is created without an explicit
// limit.
const DefaultRequestsPerHour = 1000

// APIKey stores only the SHA-256 of the raw key; the raw value is shown once
// at creation and never persisted.
type APIKey struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	KeyHash string `json:"-" gorm:"size:64;uniqueIndex"`
	Name    string `json:"name" gorm:"size:128"`

	Active          bool `json:"active"`
	RequestsPerHour int  `json:"requests_per_hour"`

	ExpiresAt    *time.Time `json:"expires_at"`
	LastUsedAt   *time.Time `json:"last_used_at"`
	RequestCount int64      `json:"request_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (APIKey) TableName() string { return "api_keys" }

// Expired reports whether the key's expiry has passed; a null expiry never
// expires.
func (k APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// RegisterMigrations adds the key table to the shared migration chain.
func RegisterMigrations() {
	db.Register(
		db.Migration{
			Version: 30,
			Name:    "create api_keys",
			Run: func(d *gorm.DB) error {
				return d.AutoMigrate(&APIKey{})
			},
		},
	)
}
