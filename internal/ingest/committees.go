package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OpenParlCA/OP-Backend/internal/catalogue"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/source"
)

// CommitteeService syncs committees then fans out per-committee meeting
// fetches.
type CommitteeService struct {
	cat    *catalogue.Client
	comms  *parl.CommitteeRepo
	logs   *parl.FetchLogRepo
	fanOut int
}

func NewCommitteeService(cat *catalogue.Client, comms *parl.CommitteeRepo, logs *parl.FetchLogRepo, fanOut int) *CommitteeService {
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}
	return &CommitteeService{cat: cat, comms: comms, logs: logs, fanOut: fanOut}
}

func (s *CommitteeService) Sync(ctx context.Context, parliament, session int) (Result, error) {
	start := time.Now()
	params := map[string]any{"parliament": parliament, "session": session, "entity": "committees"}
	var res Result

	var records []parl.Committee
	p := catalogue.ListParams{Parliament: parliament, Session: session, Limit: catalogue.DefaultPageSize}
	for {
		page, err := s.cat.FetchCommittees(ctx, p)
		if err != nil {
			res.Failed = max(res.Failed, 1)
			logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
			return res, fmt.Errorf("fetch committees: %w", err)
		}
		records = append(records, page.Records...)
		res.addErrors(page.Errors)
		if !page.HasMore {
			break
		}
		p.Offset += p.Limit
	}
	res.Attempted = len(records) + res.Failed

	counts, err := s.comms.UpsertMany(ctx, nil, records)
	if err != nil {
		logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
		return res, fmt.Errorf("upsert committees: %w", err)
	}
	res.Succeeded = len(records)
	res.Counts = counts

	if err := s.resolveParents(ctx, records); err != nil {
		source.LogError(catalogue.SourceName, "resolve parent committees", err)
	}

	meetingRes := s.syncMeetings(ctx, records)
	logRun(ctx, s.logs, catalogue.SourceName+"/meetings", params, meetingRes, start)

	source.LogUpsert(catalogue.SourceName, counts.Created, counts.Updated, time.Since(start))
	logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
	return res, nil
}

// resolveParents links subcommittees to their parents after the whole batch is
// stored, so ordering within the batch does not matter.
func (s *CommitteeService) resolveParents(ctx context.Context, committees []parl.Committee) error {
	var withParent []parl.Committee
	for _, c := range committees {
		if c.ParentSlug != nil {
			withParent = append(withParent, c)
		}
	}
	if len(withParent) == 0 {
		return nil
	}
	for _, c := range withParent {
		parent, err := s.comms.GetByNaturalKey(ctx, c.Jurisdiction, c.Parliament, c.Session, *c.ParentSlug)
		if err == parl.ErrNotFound {
			continue
		}
		if err != nil {
			return err
		}
		stored, err := s.comms.GetByNaturalKey(ctx, c.Jurisdiction, c.Parliament, c.Session, c.Slug)
		if err != nil {
			return err
		}
		if stored.ParentID != nil && *stored.ParentID == parent.ID {
			continue
		}
		if err := s.comms.SetParent(ctx, stored.ID, parent.ID); err != nil {
			return fmt.Errorf("link %s to %s: %w", c.Slug, *c.ParentSlug, err)
		}
	}
	return nil
}

func (s *CommitteeService) syncMeetings(ctx context.Context, committees []parl.Committee) Result {
	var (
		mu  sync.Mutex
		res Result
	)
	res.Attempted = len(committees)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i := range committees {
		committee := committees[i]
		g.Go(func() error {
			var meetings []parl.CommitteeMeeting
			var recordErrs []source.RecordError
			p := catalogue.ListParams{Parliament: committee.Parliament, Session: committee.Session, Limit: catalogue.DefaultPageSize}
			for {
				page, err := s.cat.FetchMeetings(gctx, committee.Slug, p)
				if err != nil {
					mu.Lock()
					res.Errors = append(res.Errors, source.RecordError{Key: committee.NaturalID(), Err: err})
					res.Failed++
					mu.Unlock()
					return nil
				}
				meetings = append(meetings, page.Records...)
				recordErrs = append(recordErrs, page.Errors...)
				if !page.HasMore {
					break
				}
				p.Offset += p.Limit
			}

			stored, err := s.comms.GetByNaturalKey(gctx, committee.Jurisdiction, committee.Parliament, committee.Session, committee.Slug)
			if err != nil {
				mu.Lock()
				res.Errors = append(res.Errors, source.RecordError{Key: committee.NaturalID(), Err: err})
				res.Failed++
				mu.Unlock()
				return nil
			}
			counts, err := s.comms.UpsertMeetings(gctx, nil, stored.ID, meetings)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors = append(res.Errors, source.RecordError{Key: committee.NaturalID(), Err: err})
				res.Failed++
				return nil
			}
			res.Succeeded++
			res.Counts = res.Counts.Add(counts)
			res.addRecordErrors(recordErrs)
			return nil
		})
	}
	g.Wait()
	return res
}
