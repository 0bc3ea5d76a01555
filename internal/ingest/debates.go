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

// DebateService syncs sittings then fans out per-debate speech fetches.
type DebateService struct {
	cat     *catalogue.Client
	debates *parl.DebateRepo
	pols    *parl.PoliticianRepo
	logs    *parl.FetchLogRepo
	fanOut  int
}

func NewDebateService(cat *catalogue.Client, debates *parl.DebateRepo, pols *parl.PoliticianRepo, logs *parl.FetchLogRepo, fanOut int) *DebateService {
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}
	return &DebateService{cat: cat, debates: debates, pols: pols, logs: logs, fanOut: fanOut}
}

func (s *DebateService) Sync(ctx context.Context, parliament, session int) (Result, error) {
	start := time.Now()
	params := map[string]any{"parliament": parliament, "session": session, "entity": "debates"}
	var res Result

	var records []parl.Debate
	p := catalogue.ListParams{Parliament: parliament, Session: session, Limit: catalogue.DefaultPageSize}
	for {
		page, err := s.cat.FetchDebates(ctx, p)
		if err != nil {
			res.Failed = max(res.Failed, 1)
			logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
			return res, fmt.Errorf("fetch debates: %w", err)
		}
		records = append(records, page.Records...)
		res.addErrors(page.Errors)
		if !page.HasMore {
			break
		}
		p.Offset += p.Limit
	}
	res.Attempted = len(records) + res.Failed

	counts, err := s.debates.UpsertMany(ctx, nil, records)
	if err != nil {
		logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
		return res, fmt.Errorf("upsert debates: %w", err)
	}
	res.Succeeded = len(records)
	res.Counts = counts

	speechRes := s.syncSpeeches(ctx, records)
	logRun(ctx, s.logs, catalogue.SourceName+"/speeches", params, speechRes, start)

	source.LogUpsert(catalogue.SourceName, counts.Created, counts.Updated, time.Since(start))
	logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
	return res, nil
}

func (s *DebateService) syncSpeeches(ctx context.Context, debates []parl.Debate) Result {
	var (
		mu  sync.Mutex
		res Result
	)
	res.Attempted = len(debates)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i := range debates {
		debate := debates[i]
		g.Go(func() error {
			var speeches []parl.Speech
			var recordErrs []source.RecordError
			p := catalogue.ListParams{Limit: catalogue.DefaultPageSize}
			for {
				page, err := s.cat.FetchSpeeches(gctx, debate.HansardID, p)
				if err != nil {
					mu.Lock()
					res.Errors = append(res.Errors, source.RecordError{Key: debate.NaturalID(), Err: err})
					res.Failed++
					mu.Unlock()
					return nil
				}
				speeches = append(speeches, page.Records...)
				recordErrs = append(recordErrs, page.Errors...)
				if !page.HasMore {
					break
				}
				p.Offset += p.Limit
			}

			if err := s.resolveSpeakers(gctx, debate.Jurisdiction, speeches); err != nil {
				mu.Lock()
				res.Errors = append(res.Errors, source.RecordError{Key: debate.NaturalID(), Err: err})
				res.Failed++
				mu.Unlock()
				return nil
			}

			stored, err := s.debates.GetByNaturalKey(gctx, debate.Jurisdiction, debate.HansardID)
			if err != nil {
				mu.Lock()
				res.Errors = append(res.Errors, source.RecordError{Key: debate.NaturalID(), Err: err})
				res.Failed++
				mu.Unlock()
				return nil
			}
			counts, err := s.debates.UpsertSpeeches(gctx, nil, stored.ID, speeches)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors = append(res.Errors, source.RecordError{Key: debate.NaturalID(), Err: err})
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

// resolveSpeakers links speeches to known members; unknown speakers (the
// Speaker, clerks, witnesses) keep a null reference.
func (s *DebateService) resolveSpeakers(ctx context.Context, jurisdiction string, speeches []parl.Speech) error {
	var slugs []string
	seen := map[string]bool{}
	for _, sp := range speeches {
		if sp.PoliticianSlug != nil && !seen[*sp.PoliticianSlug] {
			seen[*sp.PoliticianSlug] = true
			slugs = append(slugs, *sp.PoliticianSlug)
		}
	}
	if len(slugs) == 0 {
		return nil
	}
	ids, err := s.pols.ResolveIDs(ctx, jurisdiction, slugs)
	if err != nil {
		return fmt.Errorf("resolve speakers: %w", err)
	}
	for i := range speeches {
		if speeches[i].PoliticianSlug == nil {
			continue
		}
		if id, ok := ids[*speeches[i].PoliticianSlug]; ok {
			speeches[i].PoliticianID = &id
		}
	}
	return nil
}
