package ingest

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OpenParlCA/OP-Backend/internal/catalogue"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/source"
)

// VoteService syncs divisions and fans out per-vote ballot fetches. Each
// vote's ballots commit in their own transaction so one failed detail fetch
// never rolls back its siblings.
type VoteService struct {
	cat    *catalogue.Client
	votes  *parl.VoteRepo
	bills  *parl.BillRepo
	pols   *parl.PoliticianRepo
	logs   *parl.FetchLogRepo
	fanOut int
}

func NewVoteService(cat *catalogue.Client, votes *parl.VoteRepo, bills *parl.BillRepo, pols *parl.PoliticianRepo, logs *parl.FetchLogRepo, fanOut int) *VoteService {
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}
	return &VoteService{cat: cat, votes: votes, bills: bills, pols: pols, logs: logs, fanOut: fanOut}
}

func (s *VoteService) Sync(ctx context.Context, parliament, session int) (Result, error) {
	start := time.Now()
	params := map[string]any{"parliament": parliament, "session": session, "entity": "votes"}
	var res Result

	var records []parl.Vote
	p := catalogue.ListParams{Parliament: parliament, Session: session, Limit: catalogue.DefaultPageSize}
	for {
		page, err := s.cat.FetchVotes(ctx, p)
		if err != nil {
			res.Failed = max(res.Failed, 1)
			logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
			return res, fmt.Errorf("fetch votes: %w", err)
		}
		records = append(records, page.Records...)
		res.addErrors(page.Errors)
		if !page.HasMore {
			break
		}
		p.Offset += p.Limit
	}
	res.Attempted = len(records) + res.Failed

	if err := s.resolveBills(ctx, records); err != nil {
		logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
		return res, err
	}

	counts, err := s.votes.UpsertMany(ctx, nil, records)
	if err != nil {
		logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
		return res, fmt.Errorf("upsert votes: %w", err)
	}
	res.Succeeded = len(records)
	res.Counts = counts

	ballotRes := s.syncBallots(ctx, records)
	logRun(ctx, s.logs, catalogue.SourceName+"/ballots", params, ballotRes, start)

	source.LogUpsert(catalogue.SourceName, counts.Created, counts.Updated, time.Since(start))
	logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
	return res, nil
}

// syncBallots expands each vote into its per-member ballots concurrently,
// bounded by the fan-out limit.
func (s *VoteService) syncBallots(ctx context.Context, votes []parl.Vote) Result {
	var (
		mu  sync.Mutex
		res Result
	)
	res.Attempted = len(votes)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i := range votes {
		vote := votes[i]
		g.Go(func() error {
			page, err := s.cat.FetchBallots(gctx, vote.VoteID)
			if err != nil {
				mu.Lock()
				res.Errors = append(res.Errors, source.RecordError{Key: vote.NaturalID(), Err: err})
				res.Failed++
				mu.Unlock()
				return nil
			}

			records := page.Records
			if err := s.resolvePoliticians(gctx, vote.Jurisdiction, records); err != nil {
				mu.Lock()
				res.Errors = append(res.Errors, source.RecordError{Key: vote.NaturalID(), Err: err})
				res.Failed++
				mu.Unlock()
				return nil
			}

			stored, err := s.votes.GetByNaturalKey(gctx, vote.Jurisdiction, vote.VoteID)
			if err != nil {
				mu.Lock()
				res.Errors = append(res.Errors, source.RecordError{Key: vote.NaturalID(), Err: err})
				res.Failed++
				mu.Unlock()
				return nil
			}
			counts, err := s.votes.UpsertRecords(gctx, nil, stored.ID, records)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors = append(res.Errors, source.RecordError{Key: vote.NaturalID(), Err: err})
				res.Failed++
				return nil
			}
			res.Succeeded++
			res.Counts = res.Counts.Add(counts)
			res.addRecordErrors(page.Errors)

			if msg := parl.TallyDiscrepancy(vote, records); msg != "" {
				log.Printf("[%s] vote %s: %s", catalogue.SourceName, vote.VoteID, msg)
			}
			return nil
		})
	}
	g.Wait()
	return res
}

type billScope struct {
	jurisdiction string
	parliament   int
	session      int
}

func (s *VoteService) resolveBills(ctx context.Context, votes []parl.Vote) error {
	byScope := map[billScope][]string{}
	for _, v := range votes {
		if v.BillNumber != nil {
			scope := billScope{v.Jurisdiction, v.Parliament, v.Session}
			byScope[scope] = append(byScope[scope], *v.BillNumber)
		}
	}
	for scope, numbers := range byScope {
		ids, err := s.bills.ResolveIDs(ctx, scope.jurisdiction, scope.parliament, scope.session, numbers)
		if err != nil {
			return fmt.Errorf("resolve bills: %w", err)
		}
		for i := range votes {
			v := &votes[i]
			if v.BillNumber == nil ||
				(billScope{v.Jurisdiction, v.Parliament, v.Session}) != scope {
				continue
			}
			if id, ok := ids[*v.BillNumber]; ok {
				v.BillID = &id
			}
		}
	}
	return nil
}

func (s *VoteService) resolvePoliticians(ctx context.Context, jurisdiction string, records []parl.VoteRecord) error {
	var slugs []string
	seen := map[string]bool{}
	for _, r := range records {
		if !seen[r.PoliticianSlug] {
			seen[r.PoliticianSlug] = true
			slugs = append(slugs, r.PoliticianSlug)
		}
	}
	ids, err := s.pols.ResolveIDs(ctx, jurisdiction, slugs)
	if err != nil {
		return fmt.Errorf("resolve ballot members: %w", err)
	}
	for i := range records {
		if id, ok := ids[records[i].PoliticianSlug]; ok {
			records[i].PoliticianID = &id
		}
	}
	return nil
}
