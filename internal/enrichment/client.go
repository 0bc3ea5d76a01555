// Package enrichment is the adapter for the HTML legislative site. It fills
// the fields the catalogue omits: subject tags, royal-assent metadata, and
// full-text summaries.
package enrichment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/ratelimit"
	"github.com/OpenParlCA/OP-Backend/internal/source"
)

// SourceName tags fetch logs and rate buckets.
const SourceName = "enrichment"

type Client struct {
	baseURL     string
	httpClient  *http.Client
	bucket      *ratelimit.Bucket
	acquireWait time.Duration
}

// NewClient creates an enrichment client. The bucket must be shared across
// all instances hitting the same site.
func NewClient(baseURL string, bucket *ratelimit.Bucket, timeout, acquireWait time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		bucket:      bucket,
		acquireWait: acquireWait,
	}
}

// FetchBill fetches and parses the bill page for one natural key. A page that
// exists but yields no usable fields returns a terminal error so the caller
// can record it against the bill without retrying.
func (c *Client) FetchBill(ctx context.Context, parliament, session int, number string) (*parl.BillEnrichment, error) {
	fullURL := fmt.Sprintf("%s/bill/%d-%d/%s", c.baseURL, parliament, session, number)

	start := time.Now()
	source.LogRequest(SourceName, "GET", fullURL, nil)

	var body []byte
	err := source.Retry(ctx, func() error {
		if err := c.bucket.Acquire(ctx, c.acquireWait); err != nil {
			return source.Transient(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return source.Terminal(err)
		}
		req.Header.Set("Accept", "text/html")
		req.Header.Set("User-Agent", "op-backend/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return source.Transient(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return source.Transient(fmt.Errorf("enrichment status %d", resp.StatusCode))
		default:
			return source.Terminal(fmt.Errorf("enrichment status %d", resp.StatusCode))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return source.Transient(err)
		}
		return nil
	})
	if err != nil {
		source.LogError(SourceName, "fetch", err)
		return nil, err
	}

	source.LogResponse(SourceName, http.StatusOK, time.Since(start), len(body))

	enr, err := ParseBillPage(body, fullURL, time.Now().UTC())
	if err != nil {
		source.LogError(SourceName, "parse", err)
		return nil, err
	}
	return enr, nil
}
