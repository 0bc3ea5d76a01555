// Package catalogue is the adapter for the primary JSON catalogue API. It
// fetches paginated list endpoints and per-entity detail endpoints, applies
// the shared source rate limit, and parses responses into domain records.
package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/OpenParlCA/OP-Backend/internal/ratelimit"
	"github.com/OpenParlCA/OP-Backend/internal/source"
)

// SourceName tags fetch logs and rate buckets.
const SourceName = "catalogue"

// Pagination contract for list endpoints.
const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Page is one lazy batch of domain records plus its provenance stub.
// Records that failed strict decoding land in Errors without aborting the
// batch.
type Page[T any] struct {
	Records    []T
	Errors     []source.RecordError
	Total      int // -1 when upstream omits the count
	HasMore    bool
	Provenance source.Provenance
}

// ListParams addresses one page of a list endpoint.
type ListParams struct {
	Parliament int
	Session    int
	Limit      int
	Offset     int
}

func (p ListParams) normalize() ListParams {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type Client struct {
	baseURL      string
	jurisdiction string
	httpClient   *http.Client
	bucket       *ratelimit.Bucket
	acquireWait  time.Duration
}

// NewClient creates a catalogue client. All client instances for the same
// process must share the bucket so the source rate limit holds globally.
func NewClient(baseURL, jurisdiction string, bucket *ratelimit.Bucket, timeout, acquireWait time.Duration) *Client {
	return &Client{
		baseURL:      baseURL,
		jurisdiction: jurisdiction,
		httpClient:   &http.Client{Timeout: timeout},
		bucket:       bucket,
		acquireWait:  acquireWait,
	}
}

// get performs one rate-limited GET with the adapter retry policy applied
// around transient failures.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, source.Provenance, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	start := time.Now()
	source.LogRequest(SourceName, "GET", fullURL, nil)

	var (
		body []byte
		prov source.Provenance
	)
	err := source.Retry(ctx, func() error {
		if err := c.bucket.Acquire(ctx, c.acquireWait); err != nil {
			return source.Transient(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return source.Terminal(err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "op-backend/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return source.Transient(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return source.Transient(fmt.Errorf("catalogue status %d", resp.StatusCode))
		default:
			return source.Terminal(fmt.Errorf("catalogue status %d", resp.StatusCode))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return source.Transient(err)
		}
		prov = source.NewProvenance(fullURL, body)
		return nil
	})
	if err != nil {
		source.LogError(SourceName, "fetch", err)
		return nil, source.Provenance{}, err
	}

	source.LogResponse(SourceName, http.StatusOK, time.Since(start), len(body))
	return body, prov, nil
}

func listQuery(p ListParams) url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(p.Limit))
	q.Set("offset", strconv.Itoa(p.Offset))
	if p.Parliament > 0 {
		q.Set("parliament", strconv.Itoa(p.Parliament))
	}
	if p.Session > 0 {
		q.Set("session", strconv.Itoa(p.Session))
	}
	return q
}

// hasMore applies the pagination contract: trust the count when present,
// otherwise continue until an empty page.
func hasMore(p pagination, got int) (total int, more bool) {
	if p.Count != nil {
		return *p.Count, p.Offset+got < *p.Count
	}
	return -1, got > 0
}

func decode[E any](body []byte, out *E) error {
	if err := json.Unmarshal(body, out); err != nil {
		return source.Terminal(fmt.Errorf("decode catalogue response: %w", err))
	}
	return nil
}
