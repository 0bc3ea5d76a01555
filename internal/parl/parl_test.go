package parl

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	d, err := gorm.Open(sqlite.Open("file:parl_"+name+"?mode=memory&cache=shared"),
		&gorm.Config{Logger: logger.Discard})
	require.NoError(t, err, "open sqlite")
	require.NoError(t, d.AutoMigrate(
		&Bill{}, &Politician{},
		&Vote{}, &VoteRecord{},
		&Committee{}, &CommitteeMeeting{},
		&Debate{}, &Speech{},
		&FetchLog{},
	))
	return d
}

func strptr(s string) *string { return &s }

func dateptr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func testBill(number string) Bill {
	return Bill{
		Jurisdiction:   "ca-federal",
		Parliament:     44,
		Session:        1,
		Number:         number,
		TitleEN:        strptr("An Act respecting " + number),
		Status:         "Introduced",
		IntroducedDate: dateptr(2026, time.February, 2),
	}
}

func TestBillUpsertIsIdempotent(t *testing.T) {
	repo := NewBillRepo(testDB(t))
	ctx := context.Background()

	counts, err := repo.UpsertMany(ctx, nil, []Bill{testBill("C-11")})
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Created: 1}, counts)

	first, err := repo.GetByNaturalKey(ctx, "ca-federal", 44, 1, "C-11")
	require.NoError(t, err)

	// Same content again: no row written, updated_at untouched.
	counts, err = repo.UpsertMany(ctx, nil, []Bill{testBill("C-11")})
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{}, counts)

	same, err := repo.GetByNaturalKey(ctx, "ca-federal", 44, 1, "C-11")
	require.NoError(t, err)
	assert.Equal(t, first.ID, same.ID)
	assert.Equal(t, first.UpdatedAt, same.UpdatedAt)

	// Changed content: same row updates in place.
	changed := testBill("C-11")
	changed.Status = "Royal Assent"
	changed.RoyalAssentDate = dateptr(2026, time.April, 27)
	counts, err = repo.UpsertMany(ctx, nil, []Bill{changed})
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Updated: 1}, counts)

	got, err := repo.GetByNaturalKey(ctx, "ca-federal", 44, 1, "C-11")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, "Royal Assent", got.Status)
	require.NotNil(t, got.RoyalAssentDate)

	var n int64
	require.NoError(t, repo.db.Model(&Bill{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestBillUpsertMixedBatch(t *testing.T) {
	repo := NewBillRepo(testDB(t))
	ctx := context.Background()

	_, err := repo.UpsertMany(ctx, nil, []Bill{testBill("C-11"), testBill("C-12")})
	require.NoError(t, err)

	changed := testBill("C-11")
	changed.SummaryEN = strptr("Amends the Broadcasting Act.")
	counts, err := repo.UpsertMany(ctx, nil, []Bill{changed, testBill("C-12"), testBill("C-13")})
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Created: 1, Updated: 1}, counts)
}

func TestGetByNaturalKeyNotFound(t *testing.T) {
	repo := NewBillRepo(testDB(t))
	_, err := repo.GetByNaturalKey(context.Background(), "ca-federal", 44, 1, "C-999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMergeBillPrecedence(t *testing.T) {
	primary := testBill("C-11")
	primary.TitleEN = strptr("Online Streaming Act")
	primary.SubjectTags = []string{"Broadcasting", "Culture"}

	enr := &BillEnrichment{
		TitleEN:            strptr("A different title the catalogue already has"),
		ShortTitleEN:       strptr("Online Streaming Act"),
		SummaryEN:          strptr("Amends the Broadcasting Act."),
		SubjectTags:        []string{"culture", "Streaming"},
		RoyalAssentDate:    dateptr(2026, time.April, 27),
		RoyalAssentChapter: strptr("2026, c. 8"),
		SourceURL:          "https://laws.example/c-11",
		FetchedAt:          time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC),
	}
	out := MergeBill(primary, enr)

	// Primary keeps its value; enrichment only fills gaps.
	assert.Equal(t, "Online Streaming Act", *out.TitleEN)
	assert.Equal(t, "Online Streaming Act", *out.ShortTitleEN)
	assert.Equal(t, "Amends the Broadcasting Act.", *out.SummaryEN)
	assert.Equal(t, "2026, c. 8", *out.RoyalAssentChapter)
	assert.Equal(t, "https://laws.example/c-11", out.LawSite)

	// Tag union de-duplicates case-insensitively, keeping first-seen order.
	assert.Equal(t, []string{"Broadcasting", "Culture", "Streaming"}, []string(out.SubjectTags))

	assert.True(t, out.SourcePrimary)
	assert.True(t, out.SourceEnrichment)
	require.NotNil(t, out.LastEnrichedAt)
	assert.Equal(t, enr.FetchedAt, *out.LastEnrichedAt)

	// No enrichment: flags still say where the record came from.
	plain := MergeBill(testBill("C-12"), nil)
	assert.True(t, plain.SourcePrimary)
	assert.False(t, plain.SourceEnrichment)
}

func TestTokenizeFoldsDiacritics(t *testing.T) {
	assert.Equal(t, []string{"quebec", "economie", "c", "11"}, Tokenize("Québec économie C-11"))
}

func TestSearchBillsRanksAndSnippets(t *testing.T) {
	d := testDB(t)
	repo := NewBillRepo(d)
	ctx := context.Background()

	streaming := testBill("C-11")
	streaming.TitleEN = strptr("Online Streaming Act")
	streaming.SummaryEN = strptr("An Act to amend the Broadcasting Act to regulate online streaming services operating in Canada.")
	other := testBill("C-19")
	other.TitleEN = strptr("Budget Implementation Act")
	_, err := repo.UpsertMany(ctx, nil, []Bill{streaming, other})
	require.NoError(t, err)

	svc := NewSearchService(d, nil)
	results, total, err := svc.SearchBills(ctx, "streaming", nil, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, results, 1)
	assert.Equal(t, "bill", results[0].Type)
	assert.Equal(t, "ca-federal/44-1/C-11", results[0].NaturalID)
	assert.Contains(t, strings.ToLower(results[0].Snippet), "streaming")
	assert.Greater(t, results[0].Score, 0.0)

	// The ignore set subtracts hits entirely, including from the total.
	hit, err := repo.GetByNaturalKey(ctx, "ca-federal", 44, 1, "C-11")
	require.NoError(t, err)
	results, total, err = svc.SearchBills(ctx, "streaming", []uuid.UUID{hit.ID}, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, total)
	assert.Empty(t, results)
}

type stubEmbedder struct{ vec []float64 }

func (s stubEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return s.vec, nil
}

func TestSearchBillsHybridBlending(t *testing.T) {
	d := testDB(t)
	repo := NewBillRepo(d)
	ctx := context.Background()

	// Both bills match the query equally on keywords; the embedding aligned
	// with the query vector pulls C-22 ahead.
	a := testBill("C-21")
	a.TitleEN = strptr("Housing Affordability Act")
	a.SummaryEN = strptr("Measures about housing supply.")
	b := testBill("C-22")
	b.TitleEN = strptr("Housing Accountability Act")
	b.SummaryEN = strptr("Measures about housing oversight.")
	_, err := repo.UpsertMany(ctx, nil, []Bill{a, b})
	require.NoError(t, err)

	rowA, err := repo.GetByNaturalKey(ctx, "ca-federal", 44, 1, "C-21")
	require.NoError(t, err)
	require.NoError(t, repo.SetEmbedding(ctx, rowA.ID, []float64{0, 1, 0}))
	rowB, err := repo.GetByNaturalKey(ctx, "ca-federal", 44, 1, "C-22")
	require.NoError(t, err)
	require.NoError(t, repo.SetEmbedding(ctx, rowB.ID, []float64{1, 0, 0}))

	svc := NewSearchService(d, stubEmbedder{vec: []float64{1, 0, 0}})
	results, _, err := svc.SearchBills(ctx, "housing", nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "ca-federal/44-1/C-22", results[0].NaturalID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSnippetWindowsAroundMatch(t *testing.T) {
	long := strings.Repeat("padding words before the match ", 10) +
		"the streaming clause appears here " +
		strings.Repeat("and padding words after the match ", 10)
	snip := Snippet(long, "streaming")
	assert.Contains(t, snip, "streaming")
	assert.True(t, strings.HasPrefix(snip, "…"))
	assert.True(t, strings.HasSuffix(snip, "…"))
	assert.Less(t, len(snip), len(long))
}

func TestUpsertWritesNewlyResolvedReferences(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	bills := NewBillRepo(d)
	b := testBill("C-11")
	b.SponsorSlug = strptr("jane-smith")
	_, err := bills.UpsertMany(ctx, nil, []Bill{b})
	require.NoError(t, err)

	// The sponsor only becomes resolvable on a later run. Otherwise-identical
	// content with the reference now set must write through, not be skipped
	// as unchanged.
	sponsor := uuid.New()
	b.SponsorID = &sponsor
	counts, err := bills.UpsertMany(ctx, nil, []Bill{b})
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Updated: 1}, counts)

	bill, err := bills.GetByNaturalKey(ctx, "ca-federal", 44, 1, "C-11")
	require.NoError(t, err)
	require.NotNil(t, bill.SponsorID)
	assert.Equal(t, sponsor, *bill.SponsorID)

	// Same mechanism for a vote's bill link.
	votes := NewVoteRepo(d)
	v := Vote{
		Jurisdiction: "ca-federal",
		VoteID:       "44-1-325",
		Parliament:   44,
		Session:      1,
		Number:       325,
		Chamber:      "House",
		Result:       ResultPassed,
		BillNumber:   strptr("C-11"),
		VoteDate:     dateptr(2026, time.March, 21),
	}
	_, err = votes.UpsertMany(ctx, nil, []Vote{v})
	require.NoError(t, err)

	v.BillID = &bill.ID
	counts, err = votes.UpsertMany(ctx, nil, []Vote{v})
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Updated: 1}, counts)

	stored, err := votes.GetByNaturalKey(ctx, "ca-federal", "44-1-325")
	require.NoError(t, err)
	require.NotNil(t, stored.BillID)
	assert.Equal(t, bill.ID, *stored.BillID)
}

func TestBallotAndSpeechUpsertWriteResolvedMembers(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	votes := NewVoteRepo(d)
	v := Vote{
		Jurisdiction: "ca-federal",
		VoteID:       "44-1-326",
		Parliament:   44,
		Session:      1,
		Number:       326,
		Chamber:      "House",
		Result:       ResultPassed,
		VoteDate:     dateptr(2026, time.March, 22),
	}
	_, err := votes.UpsertMany(ctx, nil, []Vote{v})
	require.NoError(t, err)
	stored, err := votes.GetByNaturalKey(ctx, "ca-federal", "44-1-326")
	require.NoError(t, err)

	recs := []VoteRecord{{PoliticianSlug: "jane-smith", Position: PositionYea}}
	counts, err := votes.UpsertRecords(ctx, nil, stored.ID, recs)
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Created: 1}, counts)

	member := uuid.New()
	recs[0].PoliticianID = &member
	counts, err = votes.UpsertRecords(ctx, nil, stored.ID, recs)
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Updated: 1}, counts)

	got, _, err := votes.ListRecords(ctx, stored.ID, "", ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.NotNil(t, got[0].PoliticianID)
	assert.Equal(t, member, *got[0].PoliticianID)

	debates := NewDebateRepo(d)
	deb := Debate{Jurisdiction: "ca-federal", HansardID: "44-1-210", Parliament: 44, Session: 1, Number: 210, Chamber: "House"}
	_, err = debates.UpsertMany(ctx, nil, []Debate{deb})
	require.NoError(t, err)
	sd, err := debates.GetByNaturalKey(ctx, "ca-federal", "44-1-210")
	require.NoError(t, err)

	sp := []Speech{{
		Sequence:       1,
		PoliticianSlug: strptr("jane-smith"),
		SpeakerName:    "Jane Smith",
		Language:       "en",
		TextEN:         strptr("Madam Speaker, I rise today."),
	}}
	counts, err = debates.UpsertSpeeches(ctx, nil, sd.ID, sp)
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Created: 1}, counts)

	sp[0].PoliticianID = &member
	counts, err = debates.UpsertSpeeches(ctx, nil, sd.ID, sp)
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Updated: 1}, counts)

	gotSp, _, err := debates.ListSpeeches(ctx, sd.ID, nil, ListOpts{Limit: 10})
	require.NoError(t, err)
	require.Len(t, gotSp, 1)
	require.NotNil(t, gotSp[0].PoliticianID)
	assert.Equal(t, member, *gotSp[0].PoliticianID)
}

func TestPoliticianUpsertSpansJurisdictions(t *testing.T) {
	repo := NewPoliticianRepo(testDB(t))
	ctx := context.Background()

	fed := Politician{Jurisdiction: "ca-federal", Slug: "jane-smith", GivenName: "Jane", FamilyName: "Smith", FullName: "Jane Smith"}
	ont := Politician{Jurisdiction: "ca-ontario", Slug: "jane-smith", GivenName: "Jane", FamilyName: "Smith", FullName: "Jane Smith"}
	counts, err := repo.UpsertMany(ctx, nil, []Politician{fed, ont})
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Created: 2}, counts)

	// The same mixed-jurisdiction batch again: both rows recognized as
	// existing, nothing written.
	counts, err = repo.UpsertMany(ctx, nil, []Politician{fed, ont})
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{}, counts)

	ont.CurrentParty = strptr("Independent")
	counts, err = repo.UpsertMany(ctx, nil, []Politician{fed, ont})
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Updated: 1}, counts)

	got, err := repo.GetByNaturalKey(ctx, "ca-federal", "jane-smith")
	require.NoError(t, err)
	assert.Nil(t, got.CurrentParty)
}

func TestSnippetFindsAccentedMatch(t *testing.T) {
	long := strings.Repeat("mots de remplissage avant la partie utile ", 8) +
		"le plan pour l'économie canadienne " +
		strings.Repeat("et encore des mots de remplissage après ", 8)

	snip := Snippet(long, "economie")
	assert.Contains(t, snip, "économie")
	assert.True(t, strings.HasPrefix(snip, "…"))
	assert.True(t, strings.HasSuffix(snip, "…"))

	// Accented query, same window.
	assert.Contains(t, Snippet(long, "économie"), "économie")
}

func TestVoteUpsertLinksAndBallots(t *testing.T) {
	d := testDB(t)
	ctx := context.Background()

	bills := NewBillRepo(d)
	_, err := bills.UpsertMany(ctx, nil, []Bill{testBill("C-11")})
	require.NoError(t, err)
	bill, err := bills.GetByNaturalKey(ctx, "ca-federal", 44, 1, "C-11")
	require.NoError(t, err)

	votes := NewVoteRepo(d)
	v := Vote{
		Jurisdiction: "ca-federal",
		VoteID:       "44-1-325",
		Parliament:   44,
		Session:      1,
		Number:       325,
		Chamber:      "House",
		Result:       ResultPassed,
		Yeas:         177,
		Nays:         140,
		BillID:       &bill.ID,
		BillNumber:   strptr("C-11"),
		VoteDate:     dateptr(2026, time.March, 21),
	}
	counts, err := votes.UpsertMany(ctx, nil, []Vote{v})
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Created: 1}, counts)

	stored, err := votes.GetByNaturalKey(ctx, "ca-federal", "44-1-325")
	require.NoError(t, err)

	recs := []VoteRecord{
		{PoliticianSlug: "jane-smith", Position: PositionYea},
		{PoliticianSlug: "john-doe", Position: PositionNay},
	}
	counts, err = votes.UpsertRecords(ctx, nil, stored.ID, recs)
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{Created: 2}, counts)

	// Replayed ballots do not duplicate.
	counts, err = votes.UpsertRecords(ctx, nil, stored.ID, recs)
	require.NoError(t, err)
	assert.Equal(t, UpsertCounts{}, counts)

	got, total, err := votes.ListRecords(ctx, stored.ID, "", ListOpts{Limit: 10})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, got, 2)
}
