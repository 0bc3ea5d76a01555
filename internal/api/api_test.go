package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/OpenParlCA/OP-Backend/internal/cache"
	"github.com/OpenParlCA/OP-Backend/internal/middleware"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/prefs"
)

const testDevice = "11111111-2222-3333-4444-555555555555"

type apiFixture struct {
	db      *gorm.DB
	handler http.Handler

	bills []parl.Bill
	vote  parl.Vote
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	d, err := gorm.Open(sqlite.Open("file:api_"+name+"?mode=memory&cache=shared"),
		&gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	models := []any{
		&parl.Bill{}, &parl.Politician{}, &parl.Vote{}, &parl.VoteRecord{},
		&parl.Committee{}, &parl.CommitteeMeeting{}, &parl.Debate{}, &parl.Speech{},
		&prefs.IgnoredBill{}, &prefs.FeedToken{},
	}
	if err := d.AutoMigrate(models...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	bills := parl.NewBillRepo(d)
	prefsSvc := prefs.NewService(d)
	h := NewHandler(
		bills,
		parl.NewPoliticianRepo(d),
		parl.NewVoteRepo(d),
		parl.NewCommitteeRepo(d),
		parl.NewDebateRepo(d),
		parl.NewSearchService(d, nil),
		prefsSvc,
		cache.NewMemory(),
	)

	outer := chi.NewRouter()
	outer.Use(middleware.AnonID)
	outer.Route("/api/v1/{jurisdiction}", func(r chi.Router) {
		r.Mount("/", h.SetupRoutes(prefs.NewHandler(prefsSvc, bills)))
	})

	f := &apiFixture{db: d, handler: outer}
	f.seed(t)
	return f
}

func (f *apiFixture) seed(t *testing.T) {
	t.Helper()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	mkDate := func(month, day int) *time.Time {
		d := time.Date(2026, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		return &d
	}
	titles := []string{"Online Streaming Act", "Budget Implementation Act", "Official Languages Act amendments"}
	for i, number := range []string{"C-11", "C-19", "C-13"} {
		title := titles[i]
		b := parl.Bill{
			ID: uuid.New(), Jurisdiction: "ca-federal", Parliament: 44, Session: 1, Number: number,
			TitleEN: &title, IntroducedDate: mkDate(2, 2+i),
			CreatedAt: now, UpdatedAt: now,
		}
		if err := f.db.Create(&b).Error; err != nil {
			t.Fatalf("seed bill: %v", err)
		}
		f.bills = append(f.bills, b)
	}

	num := "C-11"
	f.vote = parl.Vote{
		ID: uuid.New(), Jurisdiction: "ca-federal", VoteID: "44-1-325",
		Parliament: 44, Session: 1, Number: 325,
		VoteDate: mkDate(3, 21), Result: parl.ResultPassed, Yeas: 208, Nays: 117,
		BillNumber: &num, BillID: &f.bills[0].ID,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := f.db.Create(&f.vote).Error; err != nil {
		t.Fatalf("seed vote: %v", err)
	}
	for i, slug := range []string{"alice-macdonald", "bob-tremblay"} {
		rec := parl.VoteRecord{
			ID: uuid.New(), VoteID: f.vote.ID, PoliticianSlug: slug,
			Position:  []parl.BallotPosition{parl.PositionYea, parl.PositionNay}[i],
			CreatedAt: now, UpdatedAt: now,
		}
		if err := f.db.Create(&rec).Error; err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}

	topic := "Second reading of Bill C-11"
	debate := parl.Debate{
		ID: uuid.New(), Jurisdiction: "ca-federal", HansardID: "44-1-210",
		Parliament: 44, Session: 1, Number: 210,
		Date: mkDate(3, 20), TopicEN: &topic,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := f.db.Create(&debate).Error; err != nil {
		t.Fatalf("seed debate: %v", err)
	}
}

type pageResp struct {
	Items   []map[string]any `json:"items"`
	Total   int64            `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	HasMore bool             `json:"has_more"`
}

func (f *apiFixture) get(t *testing.T, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodePage(t *testing.T, rec *httptest.ResponseRecorder) pageResp {
	t.Helper()
	var p pageResp
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode page: %v (body %s)", err, rec.Body.String())
	}
	return p
}

func TestListBillsPagination(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/api/v1/ca-federal/bills?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	p := decodePage(t, rec)
	if len(p.Items) != 2 || p.Total != 3 || !p.HasMore {
		t.Errorf("page = %d items, total %d, has_more %v; want 2/3/true", len(p.Items), p.Total, p.HasMore)
	}

	p = decodePage(t, f.get(t, "/api/v1/ca-federal/bills?limit=2&offset=2", nil))
	if len(p.Items) != 1 || p.HasMore {
		t.Errorf("last page = %d items, has_more %v; want 1/false", len(p.Items), p.HasMore)
	}

	// limit=0 is a count probe: empty items but has_more reports the rest.
	p = decodePage(t, f.get(t, "/api/v1/ca-federal/bills?limit=0", nil))
	if len(p.Items) != 0 || p.Total != 3 || !p.HasMore {
		t.Errorf("count probe = %d items, total %d, has_more %v; want 0/3/true", len(p.Items), p.Total, p.HasMore)
	}

	// Offset past the end: empty and done.
	p = decodePage(t, f.get(t, "/api/v1/ca-federal/bills?offset=10", nil))
	if len(p.Items) != 0 || p.HasMore {
		t.Errorf("past end = %d items, has_more %v; want 0/false", len(p.Items), p.HasMore)
	}

	// Default sort is introduced date descending.
	p = decodePage(t, f.get(t, "/api/v1/ca-federal/bills", nil))
	if len(p.Items) != 3 {
		t.Fatalf("full list = %d items", len(p.Items))
	}
	if p.Items[0]["number"] != "C-13" {
		t.Errorf("first item = %v, want most recently introduced C-13", p.Items[0]["number"])
	}
}

func TestListBillsParamValidation(t *testing.T) {
	f := newAPIFixture(t)

	cases := []struct {
		path string
		want int
	}{
		{"/api/v1/ca-federal/bills?limit=abc", http.StatusBadRequest},
		{"/api/v1/ca-federal/bills?limit=500", http.StatusUnprocessableEntity},
		{"/api/v1/ca-federal/bills?offset=-1", http.StatusUnprocessableEntity},
		{"/api/v1/ca-federal/bills?parliament=x", http.StatusBadRequest},
		{"/api/v1/ca-federal/bills?sort=bogus", http.StatusUnprocessableEntity},
		{"/api/v1/ca-federal/bills?sort=number&order=sideways", http.StatusUnprocessableEntity},
		{"/api/v1/ca-federal/votes?result=Maybe", http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		if rec := f.get(t, tc.path, nil); rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.path, rec.Code, tc.want)
		}
	}
}

func TestBillDetailAndNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/api/v1/ca-federal/bills/"+f.bills[0].ID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detail: status = %d", rec.Code)
	}
	var bill map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &bill); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bill["number"] != "C-11" {
		t.Errorf("number = %v", bill["number"])
	}

	if rec := f.get(t, "/api/v1/ca-federal/bills/"+uuid.NewString(), nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d", rec.Code)
	}
	if rec := f.get(t, "/api/v1/ca-federal/bills/not-a-uuid", nil); rec.Code != http.StatusNotFound {
		t.Errorf("malformed id: status = %d", rec.Code)
	}
}

func TestVoteDetailIncludesRecords(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/api/v1/ca-federal/votes/44-1-325?include_records=true", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var detail struct {
		VoteID  string           `json:"vote_id"`
		Records []map[string]any `json:"records"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.VoteID != "44-1-325" || len(detail.Records) != 2 {
		t.Errorf("vote = %q with %d records, want 44-1-325 with 2", detail.VoteID, len(detail.Records))
	}

	// Without the flag the payload has no records key.
	rec = f.get(t, "/api/v1/ca-federal/votes/44-1-325", nil)
	if strings.Contains(rec.Body.String(), `"records"`) {
		t.Error("records included without include_records")
	}

	p := decodePage(t, f.get(t, "/api/v1/ca-federal/votes/44-1-325/records?position=Yea", nil))
	if len(p.Items) != 1 || p.Items[0]["position"] != "Yea" {
		t.Errorf("yea records = %v", p.Items)
	}

	if rec := f.get(t, "/api/v1/ca-federal/votes/44-1-999", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown vote: status = %d", rec.Code)
	}
}

func TestIgnoredBillsFilterListsAndSearch(t *testing.T) {
	f := newAPIFixture(t)

	if err := prefs.NewService(f.db).Ignore(context.Background(), testDevice, f.bills[0].ID); err != nil {
		t.Fatalf("Ignore: %v", err)
	}
	headers := map[string]string{"X-Anon-Id": testDevice}

	p := decodePage(t, f.get(t, "/api/v1/ca-federal/bills", headers))
	if p.Total != 2 {
		t.Errorf("filtered total = %d, want 2", p.Total)
	}
	for _, item := range p.Items {
		if item["number"] == "C-11" {
			t.Error("ignored bill C-11 still listed")
		}
	}

	// Without the header the full set comes back.
	p = decodePage(t, f.get(t, "/api/v1/ca-federal/bills", nil))
	if p.Total != 3 {
		t.Errorf("unfiltered total = %d, want 3", p.Total)
	}

	// Search skips the ignored bill as well.
	p = decodePage(t, f.get(t, "/api/v1/ca-federal/bills/search?q=streaming", headers))
	for _, item := range p.Items {
		if item["natural_id"] == "ca-federal/44-1/C-11" {
			t.Error("ignored bill surfaced in search")
		}
	}
}

func TestSearchBills(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/api/v1/ca-federal/bills/search?q=streaming", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	p := decodePage(t, rec)
	if len(p.Items) != 1 {
		t.Fatalf("hits = %d, want 1", len(p.Items))
	}
	if p.Items[0]["natural_id"] != "ca-federal/44-1/C-11" {
		t.Errorf("hit = %v", p.Items[0]["natural_id"])
	}
	if p.Items[0]["snippet"] == "" {
		t.Error("snippet empty")
	}

	if rec := f.get(t, "/api/v1/ca-federal/bills/search", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d", rec.Code)
	}
}

func TestCrossEntitySearch(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/api/v1/ca-federal/search?q=C-11", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	p := decodePage(t, rec)
	types := map[string]bool{}
	for _, item := range p.Items {
		types[item["type"].(string)] = true
	}
	if !types["debate"] {
		t.Errorf("expected a debate hit, got %v", p.Items)
	}

	if rec := f.get(t, "/api/v1/ca-federal/search?q=x&type=meeting", nil); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad type: status = %d", rec.Code)
	}
}

func TestDebateSpeechesEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	var debate parl.Debate
	if err := f.db.First(&debate, "hansard_id = ?", "44-1-210").Error; err != nil {
		t.Fatalf("load debate: %v", err)
	}
	text := "Madam Speaker, I rise today on Bill C-11."
	speech := parl.Speech{
		ID: uuid.New(), DebateID: debate.ID, Sequence: 1,
		SpeakerName: "Alice Macdonald", Language: "en", TextEN: &text,
		CreatedAt: debate.CreatedAt, UpdatedAt: debate.CreatedAt,
	}
	if err := f.db.Create(&speech).Error; err != nil {
		t.Fatalf("seed speech: %v", err)
	}

	p := decodePage(t, f.get(t, "/api/v1/ca-federal/debates/44-1-210/speeches", nil))
	if len(p.Items) != 1 || p.Items[0]["speaker_name"] != "Alice Macdonald" {
		t.Errorf("speeches = %v", p.Items)
	}

	rec := f.get(t, "/api/v1/ca-federal/debates/44-1-210?include_speeches=true", nil)
	if !strings.Contains(rec.Body.String(), "Alice Macdonald") {
		t.Error("include_speeches did not inline speeches")
	}
}
