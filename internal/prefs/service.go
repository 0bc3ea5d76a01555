package prefs

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenParlCA/OP-Backend/internal/db"
)

var ErrTokenNotFound = errors.New("prefs: token not found")

// Service owns the personalization store.
type Service struct {
	db *gorm.DB
}

func NewService(d *gorm.DB) *Service { return &Service{db: d} }

// Ignore records (device, bill) idempotently; re-ignoring is a no-op.
func (s *Service) Ignore(ctx context.Context, deviceID string, billID uuid.UUID) error {
	row := IgnoredBill{ID: uuid.New(), DeviceID: deviceID, BillID: billID}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "device_id"}, {Name: "bill_id"}},
			DoNothing: true,
		}).
		Create(&row).Error
}

// Unignore removes the pair; removing a pair that was never ignored is a
// no-op.
func (s *Service) Unignore(ctx context.Context, deviceID string, billID uuid.UUID) error {
	return s.db.WithContext(ctx).
		Where("device_id = ? AND bill_id = ?", deviceID, billID).
		Delete(&IgnoredBill{}).Error
}

// IgnoredBillIDs returns the device's ignore set.
func (s *Service) IgnoredBillIDs(ctx context.Context, deviceID string) ([]uuid.UUID, error) {
	var rows []IgnoredBill
	err := s.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list ignored bills: %w", err)
	}
	out := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.BillID)
	}
	return out, nil
}

// CreateToken mints a personalized feed token for a device. The token is
// returned once; only the mapping persists. Collisions on the unique token
// column regenerate.
func (s *Service) CreateToken(ctx context.Context, deviceID string) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		token := hex.EncodeToString(buf) // 48 chars, comfortably over the 32 minimum
		row := FeedToken{ID: uuid.New(), Token: token, DeviceID: deviceID}
		err := s.db.WithContext(ctx).Create(&row).Error
		if err == nil {
			return token, nil
		}
		if db.IsUniqueViolation(err) {
			continue
		}
		return "", fmt.Errorf("store token: %w", err)
	}
	return "", fmt.Errorf("store token: could not find a free token")
}

// ResolveToken maps a feed token back to its device. Unknown and revoked
// tokens are both ErrTokenNotFound.
func (s *Service) ResolveToken(ctx context.Context, token string) (string, error) {
	if len(token) < 32 {
		return "", ErrTokenNotFound
	}
	var row FeedToken
	err := s.db.WithContext(ctx).Where("token = ?", token).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve token: %w", err)
	}

	// Access tracking is advisory; a failed bump never blocks the feed.
	_ = s.db.WithContext(ctx).Model(&FeedToken{}).Where("id = ?", row.ID).
		Updates(map[string]any{
			"last_accessed_at": time.Now().UTC(),
			"access_count":     gorm.Expr("access_count + 1"),
		}).Error

	return row.DeviceID, nil
}

// RevokeToken deletes the mapping.
func (s *Service) RevokeToken(ctx context.Context, token string) error {
	res := s.db.WithContext(ctx).Where("token = ?", token).Delete(&FeedToken{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// TokensForDevice lists a device's active tokens (values included; the device
// owns them).
func (s *Service) TokensForDevice(ctx context.Context, deviceID string) ([]FeedToken, error) {
	var rows []FeedToken
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Find(&rows).Error
	return rows, err
}
