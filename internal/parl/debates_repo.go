package parl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DebateRepo struct {
	db *gorm.DB
}

func NewDebateRepo(db *gorm.DB) *DebateRepo { return &DebateRepo{db: db} }

var debateUpdatable = []string{
	"date", "chamber", "debate_type", "topic_en", "topic_fr",
	"content_hash", "updated_at",
}

var speechUpdatable = []string{
	"politician_id", "politician_slug", "speaker_name", "speaker_role",
	"language", "text_en", "text_fr", "spoken_at",
	"content_hash", "updated_at",
}

func (r *DebateRepo) GetByNaturalKey(ctx context.Context, jurisdiction, hansardID string) (*Debate, error) {
	var d Debate
	err := r.db.WithContext(ctx).
		Where("jurisdiction = ? AND hansard_id = ?", jurisdiction, hansardID).
		First(&d).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	return &d, err
}

func (r *DebateRepo) GetByID(ctx context.Context, id uuid.UUID) (*Debate, error) {
	var d Debate
	err := r.db.WithContext(ctx).First(&d, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	return &d, err
}

type DebateFilter struct {
	Jurisdiction string
	Parliament   int
	Session      int
}

func (r *DebateRepo) List(ctx context.Context, f DebateFilter, opts ListOpts) ([]Debate, int64, error) {
	q := r.db.WithContext(ctx).Model(&Debate{})
	if f.Jurisdiction != "" {
		q = q.Where("jurisdiction = ?", f.Jurisdiction)
	}
	if f.Parliament > 0 {
		q = q.Where("parliament = ?", f.Parliament)
	}
	if f.Session > 0 {
		q = q.Where("session = ?", f.Session)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count debates: %w", err)
	}

	order := opts.Order
	if order == "" {
		order = "date DESC, number DESC"
	}
	var debates []Debate
	err := q.Order(order).Limit(opts.limit()).Offset(opts.Offset).Find(&debates).Error
	return debates, total, err
}

func (r *DebateRepo) UpsertMany(ctx context.Context, tx *gorm.DB, debates []Debate) (UpsertCounts, error) {
	var counts UpsertCounts
	err := inTx(r.db, tx, func(tx *gorm.DB) error {
		for _, batch := range batches(debates, upsertBatchSize) {
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

func (r *DebateRepo) upsertBatch(ctx context.Context, tx *gorm.DB, batch []Debate) (UpsertCounts, error) {
	now := nowUTC()
	cond := tx.WithContext(ctx)

	ids := make([]string, 0, len(batch))
	jurisdiction := ""
	for _, d := range batch {
		ids = append(ids, d.HansardID)
		jurisdiction = d.Jurisdiction
	}
	var existing []Debate
	err := cond.Model(&Debate{}).Select("id", "jurisdiction", "hansard_id", "content_hash").
		Where("jurisdiction = ? AND hansard_id IN ?", jurisdiction, ids).
		Find(&existing).Error
	if err != nil {
		return UpsertCounts{}, fmt.Errorf("load existing debates: %w", err)
	}
	keyed := make(map[string]*Debate, len(existing))
	for i := range existing {
		keyed[existing[i].NaturalID()] = &existing[i]
	}

	var counts UpsertCounts
	toWrite := make([]Debate, 0, len(batch))
	for i := range batch {
		d := batch[i]
		d.ContentHash = d.Fingerprint()
		prev, found := keyed[d.NaturalID()]
		switch {
		case !found:
			if d.ID == uuid.Nil {
				d.ID = newID()
			}
			d.CreatedAt = now
			d.UpdatedAt = now
			counts.Created++
		case prev.ContentHash != d.ContentHash:
			d.ID = prev.ID
			d.UpdatedAt = now
			counts.Updated++
		default:
			continue
		}
		toWrite = append(toWrite, d)
	}
	if len(toWrite) == 0 {
		return counts, nil
	}

	err = cond.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "jurisdiction"}, {Name: "hansard_id"}},
		DoUpdates: clause.AssignmentColumns(debateUpdatable),
	}).Create(&toWrite).Error
	if err != nil {
		return UpsertCounts{}, fmt.Errorf("upsert debates: %w", err)
	}
	return counts, nil
}

// UpsertSpeeches re-syncs one debate's speeches under (debate, sequence);
// prior content for the same key is overwritten.
func (r *DebateRepo) UpsertSpeeches(ctx context.Context, tx *gorm.DB, debateID uuid.UUID, speeches []Speech) (UpsertCounts, error) {
	now := nowUTC()
	var counts UpsertCounts
	err := inTx(r.db, tx, func(tx *gorm.DB) error {
		cond := tx.WithContext(ctx)

		var existing []Speech
		if err := cond.Model(&Speech{}).Select("id", "debate_id", "sequence", "content_hash").
			Where("debate_id = ?", debateID).Find(&existing).Error; err != nil {
			return fmt.Errorf("load existing speeches: %w", err)
		}
		keyed := make(map[int]*Speech, len(existing))
		for i := range existing {
			keyed[existing[i].Sequence] = &existing[i]
		}

		for _, batch := range batches(speeches, upsertBatchSize) {
			toWrite := make([]Speech, 0, len(batch))
			for i := range batch {
				s := batch[i]
				s.DebateID = debateID
				s.ContentHash = s.Fingerprint()
				prev, found := keyed[s.Sequence]
				switch {
				case !found:
					if s.ID == uuid.Nil {
						s.ID = newID()
					}
					s.CreatedAt = now
					s.UpdatedAt = now
					counts.Created++
				case prev.ContentHash != s.ContentHash:
					s.ID = prev.ID
					s.UpdatedAt = now
					counts.Updated++
				default:
					continue
				}
				toWrite = append(toWrite, s)
			}
			if len(toWrite) == 0 {
				continue
			}
			err := cond.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "debate_id"}, {Name: "sequence"}},
				DoUpdates: clause.AssignmentColumns(speechUpdatable),
			}).Create(&toWrite).Error
			if err != nil {
				return fmt.Errorf("upsert speeches: %w", err)
			}
		}
		return nil
	})
	return counts, err
}

// ListSpeeches returns a debate's speeches in spoken order, optionally
// filtered to one member.
func (r *DebateRepo) ListSpeeches(ctx context.Context, debateID uuid.UUID, politicianID *uuid.UUID, opts ListOpts) ([]Speech, int64, error) {
	q := r.db.WithContext(ctx).Model(&Speech{}).Where("debate_id = ?", debateID)
	if politicianID != nil {
		q = q.Where("politician_id = ?", *politicianID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var speeches []Speech
	err := q.Order("sequence ASC").Limit(opts.limit()).Offset(opts.Offset).Find(&speeches).Error
	return speeches, total, err
}

func (r *DebateRepo) MaxUpdatedAt(ctx context.Context, jurisdiction string) (time.Time, error) {
	var ts *time.Time
	err := r.db.WithContext(ctx).Model(&Debate{}).
		Where("jurisdiction = ?", jurisdiction).
		Select("MAX(updated_at)").Scan(&ts).Error
	if err != nil || ts == nil {
		return time.Time{}, err
	}
	return *ts, nil
}
