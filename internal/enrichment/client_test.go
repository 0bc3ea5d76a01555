package enrichment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/OpenParlCA/OP-Backend/internal/ratelimit"
	"github.com/OpenParlCA/OP-Backend/internal/source"
)

func testBucket() *ratelimit.Bucket {
	return ratelimit.NewBucket(100, 100)
}

func TestFetchBill(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testBucket(), 5*time.Second, time.Second)
	enr, err := c.FetchBill(context.Background(), 44, 1, "C-11")
	if err != nil {
		t.Fatalf("FetchBill: %v", err)
	}
	if gotPath != "/bill/44-1/C-11" {
		t.Errorf("path = %q", gotPath)
	}
	if enr.ShortTitleEN == nil || *enr.ShortTitleEN != "Online Streaming Act" {
		t.Errorf("ShortTitleEN = %v", strDeref(enr.ShortTitleEN))
	}
	if enr.SourceURL != srv.URL+"/bill/44-1/C-11" {
		t.Errorf("SourceURL = %q", enr.SourceURL)
	}
}

func TestFetchBillNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testBucket(), 5*time.Second, time.Second)
	_, err := c.FetchBill(context.Background(), 44, 1, "C-999")
	if err == nil {
		t.Fatal("expected error for missing bill page")
	}
	if source.IsTransient(err) {
		t.Errorf("404 should be terminal, got transient: %v", err)
	}
}

func TestFetchBillRetriesTransient(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, testBucket(), 5*time.Second, time.Second)
	if _, err := c.FetchBill(context.Background(), 44, 1, "C-11"); err != nil {
		t.Fatalf("FetchBill after retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}
