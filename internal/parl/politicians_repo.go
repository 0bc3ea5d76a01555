package parl

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PoliticianRepo struct {
	db *gorm.DB
}

func NewPoliticianRepo(db *gorm.DB) *PoliticianRepo { return &PoliticianRepo{db: db} }

var politicianUpdatable = []string{
	"given_name", "family_name", "full_name",
	"current_party", "current_riding",
	"photo_url", "source_url", "memberships",
	"content_hash", "updated_at",
}

func (r *PoliticianRepo) GetByNaturalKey(ctx context.Context, jurisdiction, slug string) (*Politician, error) {
	var p Politician
	err := r.db.WithContext(ctx).
		Where("jurisdiction = ? AND slug = ?", jurisdiction, slug).
		First(&p).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *PoliticianRepo) GetByID(ctx context.Context, id uuid.UUID) (*Politician, error) {
	var p Politician
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	return &p, err
}

type PoliticianFilter struct {
	Jurisdiction string
	Party        string
	Riding       string
	// CurrentOnly keeps members who hold a seat now (a current riding on
	// record).
	CurrentOnly bool
}

// List returns a page of politicians ordered by family name, given name.
func (r *PoliticianRepo) List(ctx context.Context, f PoliticianFilter, opts ListOpts) ([]Politician, int64, error) {
	q := r.db.WithContext(ctx).Model(&Politician{})
	if f.Jurisdiction != "" {
		q = q.Where("jurisdiction = ?", f.Jurisdiction)
	}
	if f.Party != "" {
		q = q.Where("current_party = ?", f.Party)
	}
	if f.Riding != "" {
		q = q.Where("current_riding = ?", f.Riding)
	}
	if f.CurrentOnly {
		q = q.Where("current_riding IS NOT NULL AND current_riding <> ''")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count politicians: %w", err)
	}

	order := opts.Order
	if order == "" {
		order = "family_name ASC, given_name ASC, slug ASC"
	}
	var people []Politician
	err := q.Order(order).Limit(opts.limit()).Offset(opts.Offset).Find(&people).Error
	return people, total, err
}

func (r *PoliticianRepo) UpsertMany(ctx context.Context, tx *gorm.DB, people []Politician) (UpsertCounts, error) {
	var counts UpsertCounts
	err := inTx(r.db, tx, func(tx *gorm.DB) error {
		for _, batch := range batches(people, upsertBatchSize) {
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

func (r *PoliticianRepo) upsertBatch(ctx context.Context, tx *gorm.DB, batch []Politician) (UpsertCounts, error) {
	now := nowUTC()
	cond := tx.WithContext(ctx)

	grouped := cond.Session(&gorm.Session{NewDB: true})
	for _, p := range batch {
		grouped = grouped.Or("jurisdiction = ? AND slug = ?", p.Jurisdiction, p.Slug)
	}
	var existing []Politician
	err := cond.Model(&Politician{}).Select("id", "jurisdiction", "slug", "content_hash").
		Where(grouped).Find(&existing).Error
	if err != nil {
		return UpsertCounts{}, fmt.Errorf("load existing politicians: %w", err)
	}
	keyed := make(map[string]*Politician, len(existing))
	for i := range existing {
		keyed[existing[i].NaturalID()] = &existing[i]
	}

	var counts UpsertCounts
	toWrite := make([]Politician, 0, len(batch))
	for i := range batch {
		p := batch[i]
		p.ContentHash = p.Fingerprint()
		prev, found := keyed[p.NaturalID()]
		switch {
		case !found:
			if p.ID == uuid.Nil {
				p.ID = newID()
			}
			p.CreatedAt = now
			p.UpdatedAt = now
			counts.Created++
		case prev.ContentHash != p.ContentHash:
			p.ID = prev.ID
			p.UpdatedAt = now
			counts.Updated++
		default:
			continue
		}
		toWrite = append(toWrite, p)
	}
	if len(toWrite) == 0 {
		return counts, nil
	}

	err = cond.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "jurisdiction"}, {Name: "slug"}},
		DoUpdates: clause.AssignmentColumns(politicianUpdatable),
	}).Create(&toWrite).Error
	if err != nil {
		return UpsertCounts{}, fmt.Errorf("upsert politicians: %w", err)
	}
	return counts, nil
}

// ResolveIDs maps slugs to internal IDs; unresolvable slugs are simply absent
// so callers store null references rather than dangling ones.
func (r *PoliticianRepo) ResolveIDs(ctx context.Context, jurisdiction string, slugs []string) (map[string]uuid.UUID, error) {
	if len(slugs) == 0 {
		return map[string]uuid.UUID{}, nil
	}
	var rows []Politician
	err := r.db.WithContext(ctx).Select("id", "slug").
		Where("jurisdiction = ? AND slug IN ?", jurisdiction, slugs).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]uuid.UUID, len(rows))
	for _, p := range rows {
		out[p.Slug] = p.ID
	}
	return out, nil
}
