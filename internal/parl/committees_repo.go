package parl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CommitteeRepo struct {
	db *gorm.DB
}

func NewCommitteeRepo(db *gorm.DB) *CommitteeRepo { return &CommitteeRepo{db: db} }

var committeeUpdatable = []string{
	"name_en", "name_fr", "acronym_en", "acronym_fr",
	"chamber", "parent_slug", "parent_id", "source_url",
	"content_hash", "updated_at",
}

var meetingUpdatable = []string{
	"date", "time_of_day", "title_en", "title_fr",
	"meeting_type", "room", "witnesses", "documents",
	"content_hash", "updated_at",
}

func (r *CommitteeRepo) GetByNaturalKey(ctx context.Context, jurisdiction string, parliament, session int, slug string) (*Committee, error) {
	var c Committee
	err := r.db.WithContext(ctx).
		Where("jurisdiction = ? AND parliament = ? AND session = ? AND slug = ?", jurisdiction, parliament, session, slug).
		First(&c).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	return &c, err
}

// GetBySlug returns the committee's most recent incarnation across sessions.
func (r *CommitteeRepo) GetBySlug(ctx context.Context, jurisdiction, slug string) (*Committee, error) {
	var c Committee
	err := r.db.WithContext(ctx).
		Where("jurisdiction = ? AND slug = ?", jurisdiction, slug).
		Order("parliament DESC, session DESC").
		First(&c).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	return &c, err
}

func (r *CommitteeRepo) GetByID(ctx context.Context, id uuid.UUID) (*Committee, error) {
	var c Committee
	err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	return &c, err
}

type CommitteeFilter struct {
	Jurisdiction string
	Parliament   int
	Session      int
	Chamber      string
}

func (r *CommitteeRepo) List(ctx context.Context, f CommitteeFilter, opts ListOpts) ([]Committee, int64, error) {
	q := r.db.WithContext(ctx).Model(&Committee{})
	if f.Jurisdiction != "" {
		q = q.Where("jurisdiction = ?", f.Jurisdiction)
	}
	if f.Parliament > 0 {
		q = q.Where("parliament = ?", f.Parliament)
	}
	if f.Session > 0 {
		q = q.Where("session = ?", f.Session)
	}
	if f.Chamber != "" {
		q = q.Where("chamber = ?", f.Chamber)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count committees: %w", err)
	}

	order := opts.Order
	if order == "" {
		order = "slug ASC, parliament DESC, session DESC"
	}
	var committees []Committee
	err := q.Order(order).Limit(opts.limit()).Offset(opts.Offset).Find(&committees).Error
	return committees, total, err
}

func (r *CommitteeRepo) UpsertMany(ctx context.Context, tx *gorm.DB, committees []Committee) (UpsertCounts, error) {
	var counts UpsertCounts
	err := inTx(r.db, tx, func(tx *gorm.DB) error {
		for _, batch := range batches(committees, upsertBatchSize) {
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

func (r *CommitteeRepo) upsertBatch(ctx context.Context, tx *gorm.DB, batch []Committee) (UpsertCounts, error) {
	now := nowUTC()
	cond := tx.WithContext(ctx)

	grouped := cond.Session(&gorm.Session{NewDB: true})
	for _, c := range batch {
		grouped = grouped.Or("jurisdiction = ? AND parliament = ? AND session = ? AND slug = ?",
			c.Jurisdiction, c.Parliament, c.Session, c.Slug)
	}
	var existing []Committee
	err := cond.Model(&Committee{}).Select("id", "jurisdiction", "parliament", "session", "slug", "content_hash").
		Where(grouped).Find(&existing).Error
	if err != nil {
		return UpsertCounts{}, fmt.Errorf("load existing committees: %w", err)
	}
	keyed := make(map[string]*Committee, len(existing))
	for i := range existing {
		keyed[existing[i].NaturalID()] = &existing[i]
	}

	var counts UpsertCounts
	toWrite := make([]Committee, 0, len(batch))
	for i := range batch {
		c := batch[i]
		c.ContentHash = c.Fingerprint()
		prev, found := keyed[c.NaturalID()]
		switch {
		case !found:
			if c.ID == uuid.Nil {
				c.ID = newID()
			}
			c.CreatedAt = now
			c.UpdatedAt = now
			counts.Created++
		case prev.ContentHash != c.ContentHash:
			c.ID = prev.ID
			c.UpdatedAt = now
			counts.Updated++
		default:
			continue
		}
		toWrite = append(toWrite, c)
	}
	if len(toWrite) == 0 {
		return counts, nil
	}

	err = cond.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "jurisdiction"}, {Name: "parliament"}, {Name: "session"}, {Name: "slug"}},
		DoUpdates: clause.AssignmentColumns(committeeUpdatable),
	}).Create(&toWrite).Error
	if err != nil {
		return UpsertCounts{}, fmt.Errorf("upsert committees: %w", err)
	}
	return counts, nil
}

// SetParent links a subcommittee to its parent. The parent reference resolves
// after the batch upsert and sits outside the content fingerprint, so it gets
// its own column write; updated_at stays put.
func (r *CommitteeRepo) SetParent(ctx context.Context, id, parentID uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&Committee{}).
		Where("id = ?", id).
		UpdateColumn("parent_id", parentID).Error
}

// UpsertMeetings re-syncs one committee's meetings; same-key content is
// overwritten.
func (r *CommitteeRepo) UpsertMeetings(ctx context.Context, tx *gorm.DB, committeeID uuid.UUID, meetings []CommitteeMeeting) (UpsertCounts, error) {
	now := nowUTC()
	var counts UpsertCounts
	err := inTx(r.db, tx, func(tx *gorm.DB) error {
		cond := tx.WithContext(ctx)

		var existing []CommitteeMeeting
		if err := cond.Model(&CommitteeMeeting{}).
			Select("id", "committee_id", "number", "parliament", "session", "content_hash").
			Where("committee_id = ?", committeeID).Find(&existing).Error; err != nil {
			return fmt.Errorf("load existing meetings: %w", err)
		}
		keyed := make(map[string]*CommitteeMeeting, len(existing))
		for i := range existing {
			keyed[existing[i].NaturalID()] = &existing[i]
		}

		for _, batch := range batches(meetings, upsertBatchSize) {
			toWrite := make([]CommitteeMeeting, 0, len(batch))
			for i := range batch {
				m := batch[i]
				m.CommitteeID = committeeID
				m.ContentHash = m.Fingerprint()
				prev, found := keyed[m.NaturalID()]
				switch {
				case !found:
					if m.ID == uuid.Nil {
						m.ID = newID()
					}
					m.CreatedAt = now
					m.UpdatedAt = now
					counts.Created++
				case prev.ContentHash != m.ContentHash:
					m.ID = prev.ID
					m.UpdatedAt = now
					counts.Updated++
				default:
					continue
				}
				toWrite = append(toWrite, m)
			}
			if len(toWrite) == 0 {
				continue
			}
			err := cond.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "committee_id"}, {Name: "number"}, {Name: "parliament"}, {Name: "session"}},
				DoUpdates: clause.AssignmentColumns(meetingUpdatable),
			}).Create(&toWrite).Error
			if err != nil {
				return fmt.Errorf("upsert meetings: %w", err)
			}
		}
		return nil
	})
	return counts, err
}

func (r *CommitteeRepo) ListMeetings(ctx context.Context, committeeID uuid.UUID, opts ListOpts) ([]CommitteeMeeting, int64, error) {
	q := r.db.WithContext(ctx).Model(&CommitteeMeeting{}).Where("committee_id = ?", committeeID)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var meetings []CommitteeMeeting
	err := q.Order("date DESC, number DESC").Limit(opts.limit()).Offset(opts.Offset).Find(&meetings).Error
	return meetings, total, err
}

// MeetingsMaxUpdatedAt is the content fingerprint for a committee's feed
// scope.
func (r *CommitteeRepo) MeetingsMaxUpdatedAt(ctx context.Context, committeeID uuid.UUID) (time.Time, error) {
	var ts *time.Time
	err := r.db.WithContext(ctx).Model(&CommitteeMeeting{}).
		Where("committee_id = ?", committeeID).
		Select("MAX(updated_at)").Scan(&ts).Error
	if err != nil || ts == nil {
		return time.Time{}, err
	}
	return *ts, nil
}
