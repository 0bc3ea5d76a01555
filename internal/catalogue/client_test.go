package catalogue

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "ca-federal", ratelimit.NewBucket(100, 100), 5*time.Second, time.Second)
	return c, srv
}

func TestFetchBills(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bills/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit = %q, want default 50", got)
		}
		w.Write([]byte(`{
			"objects": [
				{
					"number": "c-11", "parliament": 44, "session": 1,
					"name": {"en": "Online Streaming Act", "fr": "Loi sur la diffusion continue en ligne"},
					"sponsor_politician_url": "/politicians/pablo-rodriguez/",
					"introduced": "2022-02-02",
					"status": {"en": "Royal Assent"},
					"url": "/bills/44-1/C-11/"
				},
				{"number": "", "parliament": 44, "session": 1}
			],
			"pagination": {"count": 120, "limit": 50, "offset": 0}
		}`))
	})

	page, err := c.FetchBills(context.Background(), ListParams{})
	if err != nil {
		t.Fatalf("FetchBills: %v", err)
	}
	if len(page.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(page.Records))
	}
	if len(page.Errors) != 1 {
		t.Fatalf("record errors = %d, want 1", len(page.Errors))
	}
	if page.Total != 120 || !page.HasMore {
		t.Errorf("Total=%d HasMore=%v, want 120/true", page.Total, page.HasMore)
	}

	bill := page.Records[0]
	if bill.Number != "C-11" {
		t.Errorf("Number = %q, want normalized C-11", bill.Number)
	}
	if bill.Jurisdiction != "ca-federal" {
		t.Errorf("Jurisdiction = %q", bill.Jurisdiction)
	}
	if bill.SponsorSlug == nil || *bill.SponsorSlug != "pablo-rodriguez" {
		t.Errorf("SponsorSlug = %v", bill.SponsorSlug)
	}
	if bill.TitleFR == nil || *bill.TitleFR != "Loi sur la diffusion continue en ligne" {
		t.Errorf("TitleFR = %v", bill.TitleFR)
	}
	if bill.ShortTitleEN != nil {
		t.Errorf("ShortTitleEN should stay nil, got %q", *bill.ShortTitleEN)
	}
	if bill.IntroducedDate == nil || bill.IntroducedDate.Format("2006-01-02") != "2022-02-02" {
		t.Errorf("IntroducedDate = %v", bill.IntroducedDate)
	}
	if !bill.SourcePrimary || bill.LastFetchedAt == nil {
		t.Error("primary fetch should set SourcePrimary and LastFetchedAt")
	}
}

func TestFetchBillsNoCount(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"objects": [], "pagination": {"limit": 50, "offset": 100}}`))
	})

	page, err := c.FetchBills(context.Background(), ListParams{Offset: 100})
	if err != nil {
		t.Fatalf("FetchBills: %v", err)
	}
	if page.Total != -1 {
		t.Errorf("Total = %d, want -1 when upstream omits count", page.Total)
	}
	if page.HasMore {
		t.Error("empty page without a count should end pagination")
	}
}

func TestFetchVotes(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"objects": [{
				"number": 325, "parliament": 44, "session": 1,
				"date": "2024-05-01", "chamber": "House",
				"description": {"en": "2nd reading of Bill C-11"},
				"result": "Passed",
				"yea_total": 178, "nay_total": 146, "paired_total": 4,
				"bill_url": "/bills/44-1/c-11/"
			}],
			"pagination": {"count": 1, "limit": 50, "offset": 0}
		}`))
	})

	page, err := c.FetchVotes(context.Background(), ListParams{})
	if err != nil {
		t.Fatalf("FetchVotes: %v", err)
	}
	if len(page.Records) != 1 {
		t.Fatalf("records = %d", len(page.Records))
	}
	v := page.Records[0]
	if v.VoteID != "44-1-325" {
		t.Errorf("VoteID = %q", v.VoteID)
	}
	if v.Result != parl.ResultPassed {
		t.Errorf("Result = %q", v.Result)
	}
	if v.BillNumber == nil || *v.BillNumber != "C-11" {
		t.Errorf("BillNumber = %v", v.BillNumber)
	}
	if v.Yeas != 178 || v.Nays != 146 || v.Abstentions != 4 {
		t.Errorf("tallies = %d/%d/%d", v.Yeas, v.Nays, v.Abstentions)
	}
}

func TestFetchBallots(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/votes/44-1-325/ballots/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{
			"objects": [
				{"politician_url": "/politicians/jane-doe/", "ballot": "Yea"},
				{"politician_url": "/politicians/john-roe/", "ballot": "Didn't Vote"},
				{"politician_url": "/politicians/bad-ballot/", "ballot": "Mystery"}
			],
			"pagination": {"count": 3, "limit": 50, "offset": 0}
		}`))
	})

	page, err := c.FetchBallots(context.Background(), "44-1-325")
	if err != nil {
		t.Fatalf("FetchBallots: %v", err)
	}
	if len(page.Records) != 2 || len(page.Errors) != 1 {
		t.Fatalf("records=%d errors=%d, want 2/1", len(page.Records), len(page.Errors))
	}
	if page.Records[0].PoliticianSlug != "jane-doe" || page.Records[0].Position != parl.PositionYea {
		t.Errorf("ballot 0 = %+v", page.Records[0])
	}
	if page.Records[1].Position != parl.PositionAbstain {
		t.Errorf("ballot 1 position = %q", page.Records[1].Position)
	}
}

func TestFetchPoliticians(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"objects": [{
				"slug": "jane-doe", "name": "Jane Doe",
				"given_name": "Jane", "family_name": "Doe",
				"current_party": {"short_name": {"en": "Liberal"}},
				"current_riding": {"name": {"en": "Ottawa Centre"}},
				"image": "/media/jane.jpg",
				"url": "/politicians/jane-doe/",
				"memberships": [{"label": "MP for Ottawa Centre", "start_date": "2021-09-20"}]
			}],
			"pagination": {"count": 1, "limit": 50, "offset": 0}
		}`))
	})

	page, err := c.FetchPoliticians(context.Background(), ListParams{})
	if err != nil {
		t.Fatalf("FetchPoliticians: %v", err)
	}
	p := page.Records[0]
	if p.Slug != "jane-doe" || p.FullName != "Jane Doe" {
		t.Errorf("politician = %+v", p)
	}
	if p.CurrentParty == nil || *p.CurrentParty != "Liberal" {
		t.Errorf("CurrentParty = %v", p.CurrentParty)
	}
	if len(p.Memberships) != 1 || p.Memberships[0].Label != "MP for Ottawa Centre" {
		t.Errorf("Memberships = %+v", p.Memberships)
	}
}

func TestFetchSpeeches(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"objects": [{
				"sequence": 7,
				"politician_url": "/politicians/jane-doe/",
				"attribution": {"en": "Jane Doe"},
				"role": "Minister of Canadian Heritage",
				"language": "en",
				"content": {"en": "Mr. Speaker, I rise today..."},
				"time": "2024-05-01T14:20:00"
			}],
			"pagination": {"count": 1, "limit": 50, "offset": 0}
		}`))
	})

	page, err := c.FetchSpeeches(context.Background(), "44-1-210", ListParams{})
	if err != nil {
		t.Fatalf("FetchSpeeches: %v", err)
	}
	s := page.Records[0]
	if s.Sequence != 7 || s.SpeakerName != "Jane Doe" {
		t.Errorf("speech = %+v", s)
	}
	if s.PoliticianSlug == nil || *s.PoliticianSlug != "jane-doe" {
		t.Errorf("PoliticianSlug = %v", s.PoliticianSlug)
	}
	if s.SpokenAt == nil {
		t.Error("SpokenAt should parse")
	}
}

func TestListParamsNormalize(t *testing.T) {
	p := ListParams{Limit: 500, Offset: -3}.normalize()
	if p.Limit != MaxPageSize {
		t.Errorf("Limit = %d, want clamp to %d", p.Limit, MaxPageSize)
	}
	if p.Offset != 0 {
		t.Errorf("Offset = %d, want 0", p.Offset)
	}
}
