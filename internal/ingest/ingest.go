// Package ingest orchestrates adapter fetches, the enrichment merger, and
// repository upserts, one service per ingestion domain. Every run ends with a
// fetch log entry regardless of outcome.
package ingest

import (
	"context"
	"sort"
	"time"

	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/source"
)

// DefaultFanOut bounds concurrent per-entity detail fetches.
const DefaultFanOut = 5

// maxSummaryMessages caps how many distinct error messages a fetch log keeps.
const maxSummaryMessages = 5

// Result aggregates one ingestion run.
type Result struct {
	Attempted int
	Succeeded int
	Failed    int
	Counts    parl.UpsertCounts
	Errors    []source.RecordError
}

func (r *Result) addErrors(errs []source.RecordError) {
	r.Errors = append(r.Errors, errs...)
	r.Failed += len(errs)
}

// addRecordErrors keeps errors for the fetch-log summary without counting
// them against Failed. Child syncs use it for per-record errors, where
// Attempted and Failed count parent entities, not records.
func (r *Result) addRecordErrors(errs []source.RecordError) {
	r.Errors = append(r.Errors, errs...)
}

// Status classifies the run: all records persisted is success, a mix is
// partial, nothing persisted (or a catastrophic failure upstream of any
// insert) is failure.
func (r Result) Status() parl.FetchStatus {
	switch {
	case r.Failed == 0:
		return parl.FetchSuccess
	case r.Succeeded > 0:
		return parl.FetchPartial
	default:
		return parl.FetchFailure
	}
}

// errorSummary compresses record errors into the first few unique messages
// with occurrence counts, keyed by message.
func errorSummary(errs []source.RecordError) map[string]int {
	if len(errs) == 0 {
		return nil
	}
	counts := make(map[string]int)
	var order []string
	for _, e := range errs {
		msg := e.Error()
		if _, seen := counts[msg]; !seen {
			order = append(order, msg)
		}
		counts[msg]++
	}
	if len(order) > maxSummaryMessages {
		// Keep the most frequent messages, first-seen order as tiebreak.
		idx := make(map[string]int, len(order))
		for i, msg := range order {
			idx[msg] = i
		}
		sort.SliceStable(order, func(i, j int) bool {
			if counts[order[i]] != counts[order[j]] {
				return counts[order[i]] > counts[order[j]]
			}
			return idx[order[i]] < idx[order[j]]
		})
		for _, msg := range order[maxSummaryMessages:] {
			delete(counts, msg)
		}
	}
	return counts
}

// logRun appends the fetch log for one completed run. Logging failures are
// reported but never fail the run itself.
func logRun(ctx context.Context, logs *parl.FetchLogRepo, src string, params map[string]any, res Result, start time.Time) {
	entry := &parl.FetchLog{
		Source:           src,
		Status:           res.Status(),
		RecordsAttempted: res.Attempted,
		RecordsSucceeded: res.Succeeded,
		RecordsFailed:    res.Failed,
		DurationMS:       time.Since(start).Milliseconds(),
		Parameters:       params,
		ErrorSummary:     errorSummary(res.Errors),
	}
	if err := logs.Append(ctx, entry); err != nil {
		source.LogError(src, "fetch log", err)
	}
}
