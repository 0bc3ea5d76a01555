package feeds

import (
	"context"
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
	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/prefs"
)

type fixture struct {
	db      *gorm.DB
	svc     *Service
	prefs   *prefs.Service
	handler http.Handler

	billC11 parl.Bill
	billC12 parl.Bill
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	d, err := gorm.Open(sqlite.Open("file:feeds_"+name+"?mode=memory&cache=shared"),
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

	cfg.Jurisdiction = "ca-federal"
	if cfg.PublicURL == "" {
		cfg.PublicURL = "https://openparl.example"
	}
	prefsSvc := prefs.NewService(d)
	svc := NewService(cfg, Repos{
		Bills:       parl.NewBillRepo(d),
		Politicians: parl.NewPoliticianRepo(d),
		Votes:       parl.NewVoteRepo(d),
		Committees:  parl.NewCommitteeRepo(d),
		Debates:     parl.NewDebateRepo(d),
	}, prefsSvc, cache.NewMemory())

	r := chi.NewRouter()
	NewHandler(svc).SetupRoutes(r)

	f := &fixture{db: d, svc: svc, prefs: prefsSvc, handler: r}
	f.seed(t)
	return f
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	intro1 := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	intro2 := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	assent := time.Date(2026, 4, 27, 0, 0, 0, 0, time.UTC)

	title1 := "Online Streaming Act"
	title2 := "An Act to amend the Telecommunications Act"
	f.billC11 = parl.Bill{
		ID: uuid.New(), Jurisdiction: "ca-federal", Parliament: 44, Session: 1, Number: "C-11",
		TitleEN: &title1, IntroducedDate: &intro1, RoyalAssentDate: &assent,
		CreatedAt: now, UpdatedAt: now,
	}
	f.billC12 = parl.Bill{
		ID: uuid.New(), Jurisdiction: "ca-federal", Parliament: 44, Session: 1, Number: "C-12",
		TitleEN: &title2, IntroducedDate: &intro2,
		CreatedAt: now, UpdatedAt: now,
	}
	voteDate := time.Date(2026, 3, 21, 0, 0, 0, 0, time.UTC)
	num := "C-11"
	vote := parl.Vote{
		ID: uuid.New(), Jurisdiction: "ca-federal", VoteID: "44-1-325",
		Parliament: 44, Session: 1, Number: 325,
		VoteDate: &voteDate, Result: parl.ResultPassed, Yeas: 208, Nays: 117,
		BillNumber: &num, BillID: &f.billC11.ID,
		CreatedAt: now, UpdatedAt: now,
	}
	debateDate := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	topic := "Budget Implementation"
	debate := parl.Debate{
		ID: uuid.New(), Jurisdiction: "ca-federal", HansardID: "44-1-210",
		Parliament: 44, Session: 1, Number: 210,
		Date: &debateDate, TopicEN: &topic,
		CreatedAt: now, UpdatedAt: now,
	}
	for _, row := range []any{&f.billC11, &f.billC12, &vote, &debate} {
		if err := f.db.Create(row).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func (f *fixture) get(t *testing.T, path string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// touch bumps a bill's content timestamp, simulating an ingest update.
func (f *fixture) touch(t *testing.T, billID uuid.UUID, ts time.Time) {
	t.Helper()
	if err := f.db.Model(&parl.Bill{}).Where("id = ?", billID).
		UpdateColumn("updated_at", ts).Error; err != nil {
		t.Fatalf("touch: %v", err)
	}
}

func TestGUIDStability(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	first, err := f.svc.allItems(ctx)
	if err != nil {
		t.Fatalf("allItems: %v", err)
	}
	second, err := f.svc.allItems(ctx)
	if err != nil {
		t.Fatalf("allItems again: %v", err)
	}
	if len(first) == 0 || len(first) != len(second) {
		t.Fatalf("item counts: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].GUID != second[i].GUID {
			t.Errorf("item %d GUID drifted: %q vs %q", i, first[i].GUID, second[i].GUID)
		}
	}

	guids := make(map[string]bool)
	for _, it := range first {
		guids[it.GUID] = true
	}
	for _, want := range []string{
		"ca-federal:bill:44-1/C-11:introduced:2026-02-02",
		"ca-federal:bill:44-1/C-11:royal-assent:2026-04-27",
		"ca-federal:bill:44-1/C-12:introduced:2026-03-10",
		"ca-federal:vote:44-1-325:held:2026-03-21",
		"ca-federal:debate:44-1-210:published:2026-03-20",
	} {
		if !guids[want] {
			t.Errorf("missing GUID %q in %v", want, first)
		}
	}
}

func TestFeedCachingAndNotModified(t *testing.T) {
	f := newFixture(t, Config{})

	rec := f.get(t, "/all.xml", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first fetch: status = %d", rec.Code)
	}
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("ETag missing")
	}
	if rec.Header().Get("Last-Modified") == "" {
		t.Error("Last-Modified missing")
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "max-age=300") {
		t.Errorf("Cache-Control = %q", cc)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "rss+xml") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "C-11") {
		t.Error("body missing C-11")
	}

	rec2 := f.get(t, "/all.xml", map[string]string{"If-None-Match": etag})
	if rec2.Code != http.StatusNotModified {
		t.Fatalf("conditional fetch: status = %d, want 304", rec2.Code)
	}
	if rec2.Body.Len() != 0 {
		t.Errorf("304 carried a body of %d bytes", rec2.Body.Len())
	}

	// Atom variant renders the other format for the same scope.
	rec3 := f.get(t, "/all.atom", nil)
	if rec3.Code != http.StatusOK {
		t.Fatalf("atom fetch: status = %d", rec3.Code)
	}
	if ct := rec3.Header().Get("Content-Type"); !strings.Contains(ct, "atom+xml") {
		t.Errorf("atom Content-Type = %q", ct)
	}
}

func TestRebuildBudgetServesStaleBody(t *testing.T) {
	f := newFixture(t, Config{RebuildPerHour: 2})

	rec1 := f.get(t, "/bills/latest.xml", nil)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first fetch: %d", rec1.Code)
	}

	f.touch(t, f.billC11.ID, time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC))
	rec2 := f.get(t, "/bills/latest.xml", nil)
	if rec2.Code != http.StatusOK {
		t.Fatalf("second fetch: %d", rec2.Code)
	}

	// Third content change exceeds the budget of 2: the previous body comes
	// back with its prior ETag.
	f.touch(t, f.billC11.ID, time.Date(2026, 6, 3, 0, 0, 0, 0, time.UTC))
	rec3 := f.get(t, "/bills/latest.xml", nil)
	if rec3.Code != http.StatusOK {
		t.Fatalf("over-budget fetch: %d", rec3.Code)
	}
	if rec3.Header().Get("ETag") != rec2.Header().Get("ETag") {
		t.Errorf("stale response ETag = %q, want prior %q", rec3.Header().Get("ETag"), rec2.Header().Get("ETag"))
	}
	if rec3.Body.String() != rec2.Body.String() {
		t.Error("stale response body differs from prior body")
	}
	if cc := rec3.Header().Get("Cache-Control"); !strings.Contains(cc, "stale-while-revalidate") {
		t.Errorf("stale Cache-Control = %q", cc)
	}
}

func TestPersonalizedFeedSubtractsIgnoredBills(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	device := "device-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	token, err := f.prefs.CreateToken(ctx, device)
	if err != nil {
		t.Fatalf("CreateToken: %v", err)
	}
	if err := f.prefs.Ignore(ctx, device, f.billC11.ID); err != nil {
		t.Fatalf("Ignore: %v", err)
	}

	rec := f.get(t, "/p/"+token+".xml", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("personal fetch: %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "C-11") {
		t.Error("personal feed still references ignored bill C-11")
	}
	if !strings.Contains(body, "C-12") {
		t.Error("personal feed missing C-12")
	}
	// The vote on C-11 is an event on the ignored bill; it goes too.
	if strings.Contains(body, "44-1-325") {
		t.Error("personal feed still references vote on ignored bill")
	}

	if rec := f.get(t, "/p/"+strings.Repeat("0", 48)+".xml", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown token: status = %d, want 404", rec.Code)
	}
	if rec := f.get(t, "/p/short.xml", nil); rec.Code != http.StatusNotFound {
		t.Errorf("short token: status = %d, want 404", rec.Code)
	}
}

func TestFeedRateLimitPerIP(t *testing.T) {
	f := newFixture(t, Config{IPPerHour: 2})

	for i := 0; i < 2; i++ {
		if rec := f.get(t, "/all.xml", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i+1, rec.Code)
		}
	}
	rec := f.get(t, "/all.xml", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over limit: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After missing")
	}
}

func TestUnknownEntityScopesReturn404(t *testing.T) {
	f := newFixture(t, Config{})

	for _, path := range []string{
		"/bill/" + uuid.NewString() + ".xml",
		"/mp/" + uuid.NewString() + ".xml",
		"/committee/" + uuid.NewString() + ".xml",
		"/bill/not-a-uuid.xml",
	} {
		if rec := f.get(t, path, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", path, rec.Code)
		}
	}
}
