package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/OpenParlCA/OP-Backend/internal/catalogue"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/source"
)

// PoliticianService syncs the member roster. No enrichment source exists for
// members; the catalogue is authoritative.
type PoliticianService struct {
	cat  *catalogue.Client
	pols *parl.PoliticianRepo
	logs *parl.FetchLogRepo
}

func NewPoliticianService(cat *catalogue.Client, pols *parl.PoliticianRepo, logs *parl.FetchLogRepo) *PoliticianService {
	return &PoliticianService{cat: cat, pols: pols, logs: logs}
}

func (s *PoliticianService) Sync(ctx context.Context) (Result, error) {
	start := time.Now()
	params := map[string]any{"entity": "politicians"}
	var res Result

	var records []parl.Politician
	p := catalogue.ListParams{Limit: catalogue.DefaultPageSize}
	for {
		page, err := s.cat.FetchPoliticians(ctx, p)
		if err != nil {
			res.Failed = max(res.Failed, 1)
			logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
			return res, fmt.Errorf("fetch politicians: %w", err)
		}
		records = append(records, page.Records...)
		res.addErrors(page.Errors)
		if !page.HasMore {
			break
		}
		p.Offset += p.Limit
	}
	res.Attempted = len(records) + res.Failed

	counts, err := s.pols.UpsertMany(ctx, nil, records)
	if err != nil {
		logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
		return res, fmt.Errorf("upsert politicians: %w", err)
	}
	res.Succeeded = len(records)
	res.Counts = counts

	source.LogUpsert(catalogue.SourceName, counts.Created, counts.Updated, time.Since(start))
	logRun(ctx, s.logs, catalogue.SourceName, params, res, start)
	return res, nil
}
