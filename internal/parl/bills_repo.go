package parl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BillRepo owns all reads and writes for bills.
type BillRepo struct {
	db *gorm.DB
}

func NewBillRepo(db *gorm.DB) *BillRepo { return &BillRepo{db: db} }

// billUpdatable are the columns a conflicting upsert may rewrite. Natural key
// columns, id, and created_at never change; embedding is maintained by the
// search indexer, not the ingest path.
var billUpdatable = []string{
	"title_en", "title_fr", "short_title_en", "short_title_fr",
	"sponsor_slug", "sponsor_id", "introduced_date", "status",
	"royal_assent_date", "royal_assent_chapter",
	"summary_en", "summary_fr", "subject_tags",
	"law_site", "api_url",
	"source_primary", "source_enrichment",
	"last_fetched_at", "last_enriched_at",
	"content_hash", "updated_at",
}

// GetByNaturalKey returns the bill for (jurisdiction, parliament, session,
// number), or ErrNotFound.
func (r *BillRepo) GetByNaturalKey(ctx context.Context, jurisdiction string, parliament, session int, number string) (*Bill, error) {
	var bill Bill
	err := r.db.WithContext(ctx).
		Where("jurisdiction = ? AND parliament = ? AND session = ? AND number = ?", jurisdiction, parliament, session, number).
		First(&bill).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	return &bill, err
}

func (r *BillRepo) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	var bill Bill
	err := r.db.WithContext(ctx).First(&bill, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	return &bill, err
}

// BillFilter narrows List. Zero values mean "no constraint".
type BillFilter struct {
	Jurisdiction string
	Parliament   int
	Session      int
	Tag          string
	SponsorID    *uuid.UUID
	// ExcludeIDs subtracts a device's ignored bills; totals reflect the
	// filtered count.
	ExcludeIDs []uuid.UUID
}

func (r *BillRepo) baseQuery(ctx context.Context, f BillFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&Bill{})
	if f.Jurisdiction != "" {
		q = q.Where("jurisdiction = ?", f.Jurisdiction)
	}
	if f.Parliament > 0 {
		q = q.Where("parliament = ?", f.Parliament)
	}
	if f.Session > 0 {
		q = q.Where("session = ?", f.Session)
	}
	if f.SponsorID != nil {
		q = q.Where("sponsor_id = ?", *f.SponsorID)
	}
	if f.Tag != "" {
		if IsPostgresDB(r.db) {
			q = q.Where("? = ANY(subject_tags)", f.Tag)
		} else {
			q = q.Where("subject_tags LIKE ?", "%\""+f.Tag+"\"%")
		}
	}
	if len(f.ExcludeIDs) > 0 {
		q = q.Where("id NOT IN ?", f.ExcludeIDs)
	}
	return q
}

// List returns a page of bills plus the filtered total. Default order is
// introduced date descending with the natural key as tiebreak.
func (r *BillRepo) List(ctx context.Context, f BillFilter, opts ListOpts) ([]Bill, int64, error) {
	q := r.baseQuery(ctx, f)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count bills: %w", err)
	}

	order := opts.Order
	if order == "" {
		order = "introduced_date DESC NULLS LAST, parliament DESC, session DESC, number ASC"
		if !IsPostgresDB(r.db) {
			order = "introduced_date DESC, parliament DESC, session DESC, number ASC"
		}
	}

	var bills []Bill
	err := q.Order(order).Limit(opts.limit()).Offset(opts.Offset).Find(&bills).Error
	return bills, total, err
}

// UpsertMany inserts or updates bills by natural key inside one transaction
// scope. Records whose persisted fields are unchanged are skipped entirely so
// updated_at only moves when content moves.
func (r *BillRepo) UpsertMany(ctx context.Context, tx *gorm.DB, bills []Bill) (UpsertCounts, error) {
	var counts UpsertCounts
	err := inTx(r.db, tx, func(tx *gorm.DB) error {
		for _, batch := range batches(bills, upsertBatchSize) {
			c, err := r.upsertBatch(ctx, tx, batch)
			if err != nil {
				return err
			}
			counts = counts.Add(c)
		}
		return nil
	})
	return counts, err
}

func (r *BillRepo) upsertBatch(ctx context.Context, tx *gorm.DB, batch []Bill) (UpsertCounts, error) {
	now := nowUTC()
	cond := tx.WithContext(ctx)

	// Existing rows keyed by natural id, for change detection and counts.
	keyed := make(map[string]*Bill, len(batch))
	q := cond.Model(&Bill{}).Select("id", "jurisdiction", "parliament", "session", "number", "content_hash")
	grouped := cond.Session(&gorm.Session{NewDB: true})
	for i := range batch {
		b := &batch[i]
		grouped = grouped.Or("jurisdiction = ? AND parliament = ? AND session = ? AND number = ?",
			b.Jurisdiction, b.Parliament, b.Session, b.Number)
	}
	var existing []Bill
	if err := q.Where(grouped).Find(&existing).Error; err != nil {
		return UpsertCounts{}, fmt.Errorf("load existing bills: %w", err)
	}
	for i := range existing {
		keyed[existing[i].NaturalID()] = &existing[i]
	}

	var counts UpsertCounts
	toWrite := make([]Bill, 0, len(batch))
	for i := range batch {
		b := batch[i]
		b.ContentHash = b.Fingerprint()
		prev, found := keyed[b.NaturalID()]
		switch {
		case !found:
			if b.ID == uuid.Nil {
				b.ID = newID()
			}
			b.CreatedAt = now
			b.UpdatedAt = now
			counts.Created++
		case prev.ContentHash != b.ContentHash:
			b.ID = prev.ID
			b.UpdatedAt = now
			counts.Updated++
		default:
			continue // unchanged, no write at all
		}
		toWrite = append(toWrite, b)
	}
	if len(toWrite) == 0 {
		return counts, nil
	}

	err := cond.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "jurisdiction"}, {Name: "parliament"}, {Name: "session"}, {Name: "number"},
		},
		DoUpdates: clause.AssignmentColumns(billUpdatable),
	}).Create(&toWrite).Error
	if err != nil {
		return UpsertCounts{}, fmt.Errorf("upsert bills: %w", err)
	}
	return counts, nil
}

// SetEmbedding stores a bill's search embedding. Separate from UpsertMany so
// embedding refresh never bumps updated_at.
func (r *BillRepo) SetEmbedding(ctx context.Context, id uuid.UUID, embedding []float64) error {
	return r.db.WithContext(ctx).Model(&Bill{}).Where("id = ?", id).
		UpdateColumn("embedding", pqFloatArray(embedding)).Error
}

// ResolveIDs maps bill numbers within a parliament/session to internal IDs.
// Used when linking votes to bills.
func (r *BillRepo) ResolveIDs(ctx context.Context, jurisdiction string, parliament, session int, numbers []string) (map[string]uuid.UUID, error) {
	if len(numbers) == 0 {
		return map[string]uuid.UUID{}, nil
	}
	var rows []Bill
	err := r.db.WithContext(ctx).Select("id", "number").
		Where("jurisdiction = ? AND parliament = ? AND session = ? AND number IN ?", jurisdiction, parliament, session, numbers).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]uuid.UUID, len(rows))
	for _, b := range rows {
		out[b.Number] = b.ID
	}
	return out, nil
}

// MaxUpdatedAt is the content fingerprint feeds use for cache keys and
// Last-Modified.
func (r *BillRepo) MaxUpdatedAt(ctx context.Context, f BillFilter) (time.Time, error) {
	var ts *time.Time
	err := r.baseQuery(ctx, f).Select("MAX(updated_at)").Scan(&ts).Error
	if err != nil || ts == nil {
		return time.Time{}, err
	}
	return *ts, nil
}
