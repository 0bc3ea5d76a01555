package parl

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FetchLogRepo appends ingestion history. Logs are never updated or deleted.
type FetchLogRepo struct {
	db *gorm.DB
}

func NewFetchLogRepo(db *gorm.DB) *FetchLogRepo { return &FetchLogRepo{db: db} }

func (r *FetchLogRepo) Append(ctx context.Context, entry *FetchLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = newID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = nowUTC()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// Recent returns the latest runs for a source (all sources when empty),
// newest first.
func (r *FetchLogRepo) Recent(ctx context.Context, source string, limit int) ([]FetchLog, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Model(&FetchLog{})
	if source != "" {
		q = q.Where("source = ?", source)
	}
	var logs []FetchLog
	err := q.Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}
