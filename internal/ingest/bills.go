package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OpenParlCA/OP-Backend/internal/catalogue"
	"github.com/OpenParlCA/OP-Backend/internal/enrichment"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/source"
)

// BillService runs the bill pipeline: catalogue pages in, sponsor resolution,
// one upsert transaction, then an optional enrichment pass that merges the
// HTML site's fields in.
type BillService struct {
	cat    *catalogue.Client
	enr    *enrichment.Client
	bills  *parl.BillRepo
	pols   *parl.PoliticianRepo
	logs   *parl.FetchLogRepo
	fanOut int
}

func NewBillService(cat *catalogue.Client, enr *enrichment.Client, bills *parl.BillRepo, pols *parl.PoliticianRepo, logs *parl.FetchLogRepo, fanOut int) *BillService {
	if fanOut <= 0 {
		fanOut = DefaultFanOut
	}
	return &BillService{cat: cat, enr: enr, bills: bills, pols: pols, logs: logs, fanOut: fanOut}
}

// Sync pulls every catalogue bill for one parliament/session and upserts the
// batch in a single transaction.
func (s *BillService) Sync(ctx context.Context, parliament, session int) (Result, error) {
	start := time.Now()
	params := map[string]any{"parliament": parliament, "session": session}
	var res Result

	var records []parl.Bill
	p := catalogue.ListParams{Parliament: parliament, Session: session, Limit: catalogue.DefaultPageSize}
	for {
		page, err := s.cat.FetchBills(ctx, p)
		if err != nil {
			res.Failed = max(res.Failed, 1)
			logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
			return res, fmt.Errorf("fetch bills: %w", err)
		}
		records = append(records, page.Records...)
		res.addErrors(page.Errors)
		if !page.HasMore {
			break
		}
		p.Offset += p.Limit
	}
	res.Attempted = len(records) + res.Failed

	if err := s.resolveSponsors(ctx, records); err != nil {
		logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
		return res, err
	}

	counts, err := s.bills.UpsertMany(ctx, nil, records)
	if err != nil {
		logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
		return res, fmt.Errorf("upsert bills: %w", err)
	}
	res.Succeeded = len(records)
	res.Counts = counts

	source.LogUpsert(catalogue.SourceName, counts.Created, counts.Updated, time.Since(start))
	logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
	return res, nil
}

// Enrich re-reads stored bills for one parliament/session, fetches the HTML
// site for each concurrently, and upserts the merged records. Per-bill
// failures never abort the pass; the run is logged against the enrichment
// source.
func (s *BillService) Enrich(ctx context.Context, jurisdiction string, parliament, session int) (Result, error) {
	start := time.Now()
	params := map[string]any{"parliament": parliament, "session": session}
	var res Result

	stored, err := s.allBills(ctx, jurisdiction, parliament, session)
	if err != nil {
		res.Failed = 1
		logRun(ctx, s.logs, enrichment.SourceName, params, res, start)
		return res, err
	}
	res.Attempted = len(stored)

	var (
		mu     sync.Mutex
		merged []parl.Bill
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOut)
	for i := range stored {
		bill := stored[i]
		g.Go(func() error {
			enr, err := s.enr.FetchBill(gctx, bill.Parliament, bill.Session, bill.Number)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Errors = append(res.Errors, source.RecordError{Key: bill.NaturalID(), Err: err})
				return nil
			}
			merged = append(merged, parl.MergeBill(bill, enr))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logRun(ctx, s.logs, enrichment.SourceName, params, res, start)
		return res, err
	}
	res.Failed = len(res.Errors)

	counts, err := s.bills.UpsertMany(ctx, nil, merged)
	if err != nil {
		logRun(ctx, s.logs, enrichment.SourceName, params, res, start)
		return res, fmt.Errorf("upsert enriched bills: %w", err)
	}
	res.Succeeded = len(merged)
	res.Counts = counts

	source.LogUpsert(enrichment.SourceName, counts.Created, counts.Updated, time.Since(start))
	logRun(ctx, s.logs, enrichment.SourceName, params, res, start)
	return res, nil
}

// resolveSponsors links sponsor slugs to stored politician IDs, one lookup per
// jurisdiction in the batch. Unresolved slugs leave the reference null.
func (s *BillService) resolveSponsors(ctx context.Context, bills []parl.Bill) error {
	byJurisdiction := map[string][]string{}
	seen := map[string]bool{}
	for _, b := range bills {
		if b.SponsorSlug == nil {
			continue
		}
		key := b.Jurisdiction + "/" + *b.SponsorSlug
		if !seen[key] {
			seen[key] = true
			byJurisdiction[b.Jurisdiction] = append(byJurisdiction[b.Jurisdiction], *b.SponsorSlug)
		}
	}
	for jurisdiction, slugs := range byJurisdiction {
		ids, err := s.pols.ResolveIDs(ctx, jurisdiction, slugs)
		if err != nil {
			return fmt.Errorf("resolve sponsors: %w", err)
		}
		for i := range bills {
			if bills[i].Jurisdiction != jurisdiction || bills[i].SponsorSlug == nil {
				continue
			}
			if id, ok := ids[*bills[i].SponsorSlug]; ok {
				bills[i].SponsorID = &id
			}
		}
	}
	return nil
}

func (s *BillService) allBills(ctx context.Context, jurisdiction string, parliament, session int) ([]parl.Bill, error) {
	const pageSize = 500
	var out []parl.Bill
	for offset := 0; ; offset += pageSize {
		page, _, err := s.bills.List(ctx,
			parl.BillFilter{Jurisdiction: jurisdiction, Parliament: parliament, Session: session},
			parl.ListOpts{Limit: pageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("list bills: %w", err)
		}
		out = append(out, page...)
		if len(page) < pageSize {
			return out, nil
		}
	}
}
