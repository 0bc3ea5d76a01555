// Package prefs is device-scoped personalization: ignored bills and
// personalized feed tokens, keyed by the opaque X-Anon-Id. No accounts exist;
// nothing here links devices to people.
package prefs

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OpenParlCA/OP-Backend/internal/db"
)

// IgnoredBill is one (device, bill) suppression. Inserts are idempotent under
// the unique pair.
type IgnoredBill struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	DeviceID string    `json:"device_id" gorm:"size:128;index:uniq_device_bill,unique"`
	BillID   uuid.UUID `json:"bill_id" gorm:"type:uuid;index:uniq_device_bill,unique"`

	CreatedAt time.Time `json:"created_at"`
}

// FeedToken maps an opaque feed token to a device. Revocation deletes the
// row; a revoked token is indistinguishable from one that never existed.
type FeedToken struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	Token    string `json:"-" gorm:"size:64;uniqueIndex"`
	DeviceID string `json:"device_id" gorm:"size:128;index"`

	LastAccessedAt *time.Time `json:"last_accessed_at"`
	AccessCount    int64      `json:"access_count"`

	CreatedAt time.Time `json:"created_at"`
}

func (IgnoredBill) TableName() string { return "ignored_bills" }
func (FeedToken) TableName() string   { return "feed_tokens" }

// RegisterMigrations adds the personalization tables to the shared migration
// chain.
func RegisterMigrations() {
	db.Register(
		db.Migration{
			Version: 40,
			Name:    "create personalization tables",
			Run: func(d *gorm.DB) error {
				return d.AutoMigrate(&IgnoredBill{}, &FeedToken{})
			},
		},
	)
}
