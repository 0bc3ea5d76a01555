// Package source carries the pieces shared by upstream adapters: provenance
// stubs, the transient/terminal error split, and the retry policy.
package source

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/crypto/blake2b"
)

// Provenance records where a batch came from.
type Provenance struct {
	URL         string    `json:"url"`
	FetchedAt   time.Time `json:"fetched_at"`
	ContentHash string    `json:"content_hash"`
}

// NewProvenance hashes the raw response body so re-fetches of identical
// content are recognizable.
func NewProvenance(url string, body []byte) Provenance {
	sum := blake2b.Sum256(body)
	return Provenance{
		URL:         url,
		FetchedAt:   time.Now().UTC(),
		ContentHash: hex.EncodeToString(sum[:]),
	}
}

// TransientError marks a failure worth retrying: network trouble, 5xx, 429,
// or a rate-token wait that timed out.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// TerminalError marks a failure retrying cannot fix: 4xx other than 429 or an
// unparseable record.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return "terminal: " + e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

func Transient(err error) *TransientError { return &TransientError{Err: err} }
func Terminal(err error) *TerminalError   { return &TerminalError{Err: err} }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RecordError attaches a record's natural key to its parse or validation
// failure. Per-record errors never abort a batch.
type RecordError struct {
	Key string `json:"key"`
	Err error  `json:"-"`
}

func (e RecordError) Error() string { return fmt.Sprintf("%s: %v", e.Key, e.Err) }

// Retry policy: exponential backoff capped at 60s, at most 5 attempts, only
// for transient failures.
const (
	maxAttempts   = 5
	maxRetryDelay = 60 * time.Second
)

// Retry runs op under the adapter retry policy. Terminal errors return
// immediately; transient errors retry until the attempt budget or ctx runs
// out.
func Retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = maxRetryDelay

	wrapped := func() error {
		err := op()
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(policy, maxAttempts-1), ctx))
}
