package enrichment

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/source"
)

// The bill page is server-rendered with stable data attributes, so targeted
// expressions beat a full DOM walk here.
var (
	reTitleEN   = regexp.MustCompile(`(?s)<h1[^>]*lang="en"[^>]*>(.*?)</h1>`)
	reTitleFR   = regexp.MustCompile(`(?s)<h1[^>]*lang="fr"[^>]*>(.*?)</h1>`)
	reShortEN   = regexp.MustCompile(`(?s)<span[^>]*data-short-title[^>]*lang="en"[^>]*>(.*?)</span>`)
	reShortFR   = regexp.MustCompile(`(?s)<span[^>]*data-short-title[^>]*lang="fr"[^>]*>(.*?)</span>`)
	reSummaryEN = regexp.MustCompile(`(?s)<div[^>]*data-summary[^>]*lang="en"[^>]*>(.*?)</div>`)
	reSummaryFR = regexp.MustCompile(`(?s)<div[^>]*data-summary[^>]*lang="fr"[^>]*>(.*?)</div>`)
	reStatus    = regexp.MustCompile(`(?s)<span[^>]*data-status[^>]*>(.*?)</span>`)
	reTag       = regexp.MustCompile(`(?s)<a[^>]*data-subject-tag[^>]*>(.*?)</a>`)
	reSponsor   = regexp.MustCompile(`data-sponsor-slug="([^"]+)"`)
	reAssent    = regexp.MustCompile(`data-royal-assent-date="(\d{4}-\d{2}-\d{2})"`)
	reChapter   = regexp.MustCompile(`data-royal-assent-chapter="([^"]+)"`)
	reMarkup    = regexp.MustCompile(`<[^>]+>`)
	reSpace     = regexp.MustCompile(`\s+`)
)

// ParseBillPage extracts enrichment fields from one bill page. Pages with no
// recognizable fields are terminal: the page rendered but carries nothing the
// merger can use.
func ParseBillPage(body []byte, pageURL string, fetchedAt time.Time) (*parl.BillEnrichment, error) {
	doc := string(body)

	enr := &parl.BillEnrichment{
		TitleEN:      extract(reTitleEN, doc),
		TitleFR:      extract(reTitleFR, doc),
		ShortTitleEN: extract(reShortEN, doc),
		ShortTitleFR: extract(reShortFR, doc),
		SummaryEN:    extract(reSummaryEN, doc),
		SummaryFR:    extract(reSummaryFR, doc),
		Status:       extract(reStatus, doc),
		SponsorSlug:  extract(reSponsor, doc),
		SourceURL:    pageURL,
		FetchedAt:    fetchedAt,
	}

	for _, m := range reTag.FindAllStringSubmatch(doc, -1) {
		if tag := cleanText(m[1]); tag != "" {
			enr.SubjectTags = append(enr.SubjectTags, tag)
		}
	}

	if m := reAssent.FindStringSubmatch(doc); m != nil {
		if d, err := time.Parse("2006-01-02", m[1]); err == nil {
			enr.RoyalAssentDate = &d
		}
	}
	enr.RoyalAssentChapter = extract(reChapter, doc)

	if empty(enr) {
		return nil, source.Terminal(fmt.Errorf("no enrichment fields on %s", pageURL))
	}
	return enr, nil
}

func extract(re *regexp.Regexp, doc string) *string {
	m := re.FindStringSubmatch(doc)
	if m == nil {
		return nil
	}
	text := cleanText(m[1])
	if text == "" {
		return nil
	}
	return &text
}

// cleanText strips nested markup, unescapes entities, and collapses
// whitespace.
func cleanText(raw string) string {
	text := reMarkup.ReplaceAllString(raw, " ")
	text = html.UnescapeString(text)
	return strings.TrimSpace(reSpace.ReplaceAllString(text, " "))
}

func empty(e *parl.BillEnrichment) bool {
	return e.TitleEN == nil && e.TitleFR == nil &&
		e.ShortTitleEN == nil && e.ShortTitleFR == nil &&
		e.SummaryEN == nil && e.SummaryFR == nil &&
		e.Status == nil && e.SponsorSlug == nil &&
		len(e.SubjectTags) == 0 &&
		e.RoyalAssentDate == nil && e.RoyalAssentChapter == nil
}
