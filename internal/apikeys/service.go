package apikeys

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OpenParlCA/OP-Backend/internal/db"
)

var (
	ErrKeyNotFound = errors.New("apikeys: key not found")
	ErrKeyInactive = errors.New("apikeys: key inactive")
	ErrKeyExpired  = errors.New("apikeys: key expired")
)

// HashKey is the lookup transform: SHA-256 hex of the raw key.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Service manages key lifecycle and validation. Usage bookkeeping
// (last_used_at, request_count) is buffered and flushed periodically so the
// hot path stays one SELECT.
type Service struct {
	db *gorm.DB

	mu      sync.Mutex
	pending map[uuid.UUID]*usageDelta
}

type usageDelta struct {
	count    int64
	lastUsed time.Time
}

func NewService(d *gorm.DB) *Service {
	return &Service{db: d, pending: make(map[uuid.UUID]*usageDelta)}
}

// Create issues a new key. The raw key is returned exactly once; only its
// hash is stored. A hash collision regenerates.
func (s *Service) Create(ctx context.Context, name string, requestsPerHour int, expiresAt *time.Time) (*APIKey, string, error) {
	if requestsPerHour <= 0 {
		requestsPerHour = DefaultRequestsPerHour
	}
	for attempt := 0; attempt < 3; attempt++ {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, "", fmt.Errorf("generate key: %w", err)
		}
		raw := "opk_" + hex.EncodeToString(buf)

		key := &APIKey{
			ID:              uuid.New(),
			KeyHash:         HashKey(raw),
			Name:            name,
			Active:          true,
			RequestsPerHour: requestsPerHour,
			ExpiresAt:       expiresAt,
		}
		err := s.db.WithContext(ctx).Create(key).Error
		if err == nil {
			return key, raw, nil
		}
		if db.IsUniqueViolation(err) {
			continue
		}
		return nil, "", fmt.Errorf("create api key: %w", err)
	}
	return nil, "", fmt.Errorf("create api key: could not find a free key")
}

// Validate runs the authentication chain for one raw key: hash lookup, active
// flag, expiry. It records usage on success.
func (s *Service) Validate(ctx context.Context, raw string) (*APIKey, error) {
	if raw == "" {
		return nil, ErrKeyNotFound
	}
	var key APIKey
	err := s.db.WithContext(ctx).Where("key_hash = ?", HashKey(raw)).First(&key).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	if !key.Active {
		return nil, ErrKeyInactive
	}
	if key.Expired(time.Now().UTC()) {
		return nil, ErrKeyExpired
	}

	s.recordUsage(key.ID)
	return &key, nil
}

// recordUsage buffers a usage tick for the next flush.
func (s *Service) recordUsage(id uuid.UUID) {
	now := time.Now().UTC()
	s.mu.Lock()
	d, ok := s.pending[id]
	if !ok {
		d = &usageDelta{}
		s.pending[id] = d
	}
	d.count++
	d.lastUsed = now
	s.mu.Unlock()
}

// FlushUsage writes buffered usage deltas. Callers run it on a ticker and at
// shutdown; losing a flush loses only bookkeeping.
func (s *Service) FlushUsage(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = make(map[uuid.UUID]*usageDelta)
	s.mu.Unlock()

	for id, d := range batch {
		err := s.db.WithContext(ctx).Model(&APIKey{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"request_count": gorm.Expr("request_count + ?", d.count),
				"last_used_at":  d.lastUsed,
			}).Error
		if err != nil {
			return fmt.Errorf("flush usage for %s: %w", id, err)
		}
	}
	return nil
}

// StartUsageFlusher flushes buffered usage every interval until ctx ends.
func (s *Service) StartUsageFlusher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = s.FlushUsage(flushCtx)
				cancel()
				return
			case <-ticker.C:
				_ = s.FlushUsage(ctx)
			}
		}
	}()
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*APIKey, error) {
	var key APIKey
	err := s.db.WithContext(ctx).First(&key, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrKeyNotFound
	}
	return &key, err
}

func (s *Service) List(ctx context.Context) ([]APIKey, error) {
	var keys []APIKey
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&keys).Error
	return keys, err
}

// UpdateLimit changes a key's hourly budget.
func (s *Service) UpdateLimit(ctx context.Context, id uuid.UUID, requestsPerHour int) error {
	if requestsPerHour <= 0 {
		return fmt.Errorf("requests per hour must be positive")
	}
	return s.setField(ctx, id, "requests_per_hour", requestsPerHour)
}

func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) error {
	return s.setField(ctx, id, "active", false)
}

func (s *Service) Reactivate(ctx context.Context, id uuid.UUID) error {
	return s.setField(ctx, id, "active", true)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Delete(&APIKey{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

func (s *Service) setField(ctx context.Context, id uuid.UUID, column string, value any) error {
	res := s.db.WithContext(ctx).Model(&APIKey{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrKeyNotFound
	}
	return nil
}
