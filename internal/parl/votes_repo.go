package parl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type VoteRepo struct {
	db *gorm.DB
}

func NewVoteRepo(db *gorm.DB) *VoteRepo { return &VoteRepo{db: db} }

var voteUpdatable = []string{
	"vote_date", "chamber", "description_en", "description_fr",
	"result", "yeas", "nays", "abstentions",
	"bill_number", "bill_id",
	"content_hash", "updated_at",
}

func (r *VoteRepo) GetByNaturalKey(ctx context.Context, jurisdiction, voteID string) (*Vote, error) {
	var v Vote
	err := r.db.WithContext(ctx).
		Where("jurisdiction = ? AND vote_id = ?", jurisdiction, voteID).
		First(&v).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	return &v, err
}

func (r *VoteRepo) GetByID(ctx context.Context, id uuid.UUID) (*Vote, error) {
	var v Vote
	err := r.db.WithContext(ctx).First(&v, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	return &v, err
}

type VoteFilter struct {
	Jurisdiction string
	Parliament   int
	Session      int
	BillID       *uuid.UUID
	Result       VoteResult
}

// List returns votes ordered by vote date descending, natural id as tiebreak.
func (r *VoteRepo) List(ctx context.Context, f VoteFilter, opts ListOpts) ([]Vote, int64, error) {
	q := r.db.WithContext(ctx).Model(&Vote{})
	if f.Jurisdiction != "" {
		q = q.Where("jurisdiction = ?", f.Jurisdiction)
	}
	if f.Parliament > 0 {
		q = q.Where("parliament = ?", f.Parliament)
	}
	if f.Session > 0 {
		q = q.Where("session = ?", f.Session)
	}
	if f.BillID != nil {
		q = q.Where("bill_id = ?", *f.BillID)
	}
	if f.Result != "" {
		q = q.Where("result = ?", f.Result)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count votes: %w", err)
	}

	order := opts.Order
	if order == "" {
		order = "vote_date DESC, number DESC"
	}
	var votes []Vote
	err := q.Order(order).Limit(opts.limit()).Offset(opts.Offset).Find(&votes).Error
	return votes, total, err
}

func (r *VoteRepo) UpsertMany(ctx context.Context, tx *gorm.DB, votes []Vote) (UpsertCounts, error) {
	var counts UpsertCounts
	err := inTx(r.db, tx, func(tx *gorm.DB) error {
		for _, batch := range batches(votes, upsertBatchSize) {
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

func (r *VoteRepo) upsertBatch(ctx context.Context, tx *gorm.DB, batch []Vote) (UpsertCounts, error) {
	now := nowUTC()
	cond := tx.WithContext(ctx)

	ids := make([]string, 0, len(batch))
	jurisdiction := ""
	for _, v := range batch {
		ids = append(ids, v.VoteID)
		jurisdiction = v.Jurisdiction
	}
	var existing []Vote
	err := cond.Model(&Vote{}).Select("id", "jurisdiction", "vote_id", "content_hash").
		Where("jurisdiction = ? AND vote_id IN ?", jurisdiction, ids).
		Find(&existing).Error
	if err != nil {
		return UpsertCounts{}, fmt.Errorf("load existing votes: %w", err)
	}
	keyed := make(map[string]*Vote, len(existing))
	for i := range existing {
		keyed[existing[i].NaturalID()] = &existing[i]
	}

	var counts UpsertCounts
	toWrite := make([]Vote, 0, len(batch))
	for i := range batch {
		v := batch[i]
		v.ContentHash = v.Fingerprint()
		prev, found := keyed[v.NaturalID()]
		switch {
		case !found:
			if v.ID == uuid.Nil {
				v.ID = newID()
			}
			v.CreatedAt = now
			v.UpdatedAt = now
			counts.Created++
		case prev.ContentHash != v.ContentHash:
			v.ID = prev.ID
			v.UpdatedAt = now
			counts.Updated++
		default:
			continue
		}
		toWrite = append(toWrite, v)
	}
	if len(toWrite) == 0 {
		return counts, nil
	}

	err = cond.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "jurisdiction"}, {Name: "vote_id"}},
		DoUpdates: clause.AssignmentColumns(voteUpdatable),
	}).Create(&toWrite).Error
	if err != nil {
		return UpsertCounts{}, fmt.Errorf("upsert votes: %w", err)
	}
	return counts, nil
}

// UpsertRecords writes the per-member ballots of one vote. Ballots are
// insert-only from the ingestion path; a re-sync with a changed position still
// updates in place under the (vote, member) natural key.
func (r *VoteRepo) UpsertRecords(ctx context.Context, tx *gorm.DB, voteID uuid.UUID, records []VoteRecord) (UpsertCounts, error) {
	now := nowUTC()
	var counts UpsertCounts
	err := inTx(r.db, tx, func(tx *gorm.DB) error {
		cond := tx.WithContext(ctx)

		var existing []VoteRecord
		if err := cond.Model(&VoteRecord{}).Select("id", "vote_id", "politician_slug", "content_hash").
			Where("vote_id = ?", voteID).Find(&existing).Error; err != nil {
			return fmt.Errorf("load existing ballots: %w", err)
		}
		keyed := make(map[string]*VoteRecord, len(existing))
		for i := range existing {
			keyed[existing[i].PoliticianSlug] = &existing[i]
		}

		for _, batch := range batches(records, upsertBatchSize) {
			toWrite := make([]VoteRecord, 0, len(batch))
			for i := range batch {
				rec := batch[i]
				rec.VoteID = voteID
				rec.ContentHash = rec.Fingerprint()
				prev, found := keyed[rec.PoliticianSlug]
				switch {
				case !found:
					if rec.ID == uuid.Nil {
						rec.ID = newID()
					}
					rec.CreatedAt = now
					rec.UpdatedAt = now
					counts.Created++
				case prev.ContentHash != rec.ContentHash:
					rec.ID = prev.ID
					rec.UpdatedAt = now
					counts.Updated++
				default:
					continue
				}
				toWrite = append(toWrite, rec)
			}
			if len(toWrite) == 0 {
				continue
			}
			err := cond.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "vote_id"}, {Name: "politician_slug"}},
				DoUpdates: clause.AssignmentColumns([]string{"politician_id", "position", "content_hash", "updated_at"}),
			}).Create(&toWrite).Error
			if err != nil {
				return fmt.Errorf("upsert ballots: %w", err)
			}
		}
		return nil
	})
	return counts, err
}

// ListRecords returns the ballots of one vote, optionally filtered by
// position, ordered by member slug.
func (r *VoteRepo) ListRecords(ctx context.Context, voteID uuid.UUID, position BallotPosition, opts ListOpts) ([]VoteRecord, int64, error) {
	q := r.db.WithContext(ctx).Model(&VoteRecord{}).Where("vote_id = ?", voteID)
	if position != "" {
		q = q.Where("position = ?", position)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var records []VoteRecord
	err := q.Order("politician_slug ASC").Limit(opts.limit()).Offset(opts.Offset).Find(&records).Error
	return records, total, err
}

// TallyDiscrepancy compares stored ballots against the vote's reported
// tallies. Paired ballots count toward neither side; the tolerance is the
// paired count. A non-empty result is loggable but never blocks persistence.
func TallyDiscrepancy(v Vote, records []VoteRecord) string {
	var yeas, nays, abstains, paired int
	for _, rec := range records {
		switch rec.Position {
		case PositionYea:
			yeas++
		case PositionNay:
			nays++
		case PositionAbstain:
			abstains++
		case PositionPaired:
			paired++
		}
	}
	if len(records) == 0 {
		return "" // ballots may arrive later
	}
	within := func(got, want int) bool {
		diff := got - want
		if diff < 0 {
			diff = -diff
		}
		return diff <= paired
	}
	if within(yeas, v.Yeas) && within(nays, v.Nays) && within(abstains, v.Abstentions) {
		return ""
	}
	return fmt.Sprintf("ballot totals yea=%d nay=%d abstain=%d paired=%d disagree with tallies yea=%d nay=%d abstain=%d",
		yeas, nays, abstains, paired, v.Yeas, v.Nays, v.Abstentions)
}

func (r *VoteRepo) MaxUpdatedAt(ctx context.Context, jurisdiction string) (time.Time, error) {
	var ts *time.Time
	err := r.db.WithContext(ctx).Model(&Vote{}).
		Where("jurisdiction = ?", jurisdiction).
		Select("MAX(updated_at)").Scan(&ts).Error
	if err != nil || ts == nil {
		return time.Time{}, err
	}
	return *ts, nil
}
