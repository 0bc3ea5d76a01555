package parl

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrNotFound is returned by single-row lookups that match nothing.
var ErrNotFound = errors.New("parl: not found")

// upsertBatchSize bounds one insert-on-conflict statement; UpsertMany slices
// larger inputs.
const upsertBatchSize = 500

// UpsertCounts reports what one UpsertMany call did. Unchanged records count
// in neither bucket.
type UpsertCounts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

func (c UpsertCounts) Add(o UpsertCounts) UpsertCounts {
	return UpsertCounts{Created: c.Created + o.Created, Updated: c.Updated + o.Updated}
}

// ListOpts is the shared pagination contract for get_by_filter queries.
type ListOpts struct {
	Limit  int
	Offset int
	// Order is a validated ORDER BY clause chosen by the handler, never raw
	// client input. Empty means the repository's domain default.
	Order string
}

func (o ListOpts) limit() int {
	if o.Limit < 0 {
		return 0
	}
	return o.Limit
}

// batches slices in into chunks of at most size.
func batches[T any](in []T, size int) [][]T {
	if len(in) == 0 {
		return nil
	}
	var out [][]T
	for start := 0; start < len(in); start += size {
		end := start + size
		if end > len(in) {
			end = len(in)
		}
		out = append(out, in[start:end])
	}
	return out
}

// inTx runs fn inside tx when the caller already owns one, otherwise opens a
// transaction on d. Integration services pass their transaction down so one
// ingest batch commits atomically.
func inTx(d *gorm.DB, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return d.Transaction(fn)
}

func newID() uuid.UUID { return uuid.New() }

func nowUTC() time.Time { return time.Now().UTC() }
