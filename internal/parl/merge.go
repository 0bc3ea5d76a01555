package parl

import (
	"strings"
	"time"
)

// BillEnrichment carries the fields the enrichment site knows that the
// catalogue does not. Every field is optional.
type BillEnrichment struct {
	TitleEN      *string
	TitleFR      *string
	ShortTitleEN *string
	ShortTitleFR *string

	SummaryEN   *string
	SummaryFR   *string
	SubjectTags []string

	RoyalAssentDate    *time.Time
	RoyalAssentChapter *string

	SponsorSlug *string
	Status      *string

	SourceURL string
	FetchedAt time.Time
}

// MergeBill combines a primary catalogue record with an optional enrichment
// record sharing its natural key. This is the only place field precedence is
// decided; repositories persist the result verbatim.
//
// Policy: primary wins; enrichment fills gaps; arrays union with stable
// de-duplication; the two fetch timestamps are tracked independently.
func MergeBill(primary Bill, enr *BillEnrichment) Bill {
	out := primary
	out.SourcePrimary = true
	if enr == nil {
		return out
	}

	fillStr(&out.TitleEN, enr.TitleEN)
	fillStr(&out.TitleFR, enr.TitleFR)
	fillStr(&out.ShortTitleEN, enr.ShortTitleEN)
	fillStr(&out.ShortTitleFR, enr.ShortTitleFR)
	fillStr(&out.SummaryEN, enr.SummaryEN)
	fillStr(&out.SummaryFR, enr.SummaryFR)
	fillStr(&out.SponsorSlug, enr.SponsorSlug)
	fillStr(&out.RoyalAssentChapter, enr.RoyalAssentChapter)

	if out.Status == "" && enr.Status != nil {
		out.Status = *enr.Status
	}
	if out.RoyalAssentDate == nil && enr.RoyalAssentDate != nil {
		d := *enr.RoyalAssentDate
		out.RoyalAssentDate = &d
	}
	if out.LawSite == "" && enr.SourceURL != "" {
		out.LawSite = enr.SourceURL
	}

	out.SubjectTags = unionTags(out.SubjectTags, enr.SubjectTags)

	out.SourceEnrichment = true
	if !enr.FetchedAt.IsZero() {
		at := enr.FetchedAt
		out.LastEnrichedAt = &at
	}
	return out
}

// fillStr applies the gap-filling half of the precedence policy: dst keeps its
// value unless it is nil/empty and src has one.
func fillStr(dst **string, src *string) {
	if strEmpty(*dst) && !strEmpty(src) {
		v := *src
		*dst = &v
	}
}

// unionTags unions two tag lists preserving first-seen order, de-duplicating
// by canonical (trimmed, lowercased) value.
func unionTags(a []string, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, tag := range list {
			canon := strings.ToLower(strings.TrimSpace(tag))
			if canon == "" || seen[canon] {
				continue
			}
			seen[canon] = true
			out = append(out, strings.TrimSpace(tag))
		}
	}
	return out
}
