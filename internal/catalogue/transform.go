package catalogue

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/source"
)

// FetchBills returns one page of bills.
func (c *Client) FetchBills(ctx context.Context, p ListParams) (Page[parl.Bill], error) {
	p = p.normalize()
	body, prov, err := c.get(ctx, "/bills/", listQuery(p))
	if err != nil {
		return Page[parl.Bill]{}, err
	}
	var env billEnvelope
	if err := decode(body, &env); err != nil {
		return Page[parl.Bill]{}, err
	}

	page := Page[parl.Bill]{Provenance: prov}
	page.Total, page.HasMore = hasMore(env.Pagination, len(env.Objects))
	for _, obj := range env.Objects {
		bill, err := c.toBill(obj, prov)
		if err != nil {
			page.Errors = append(page.Errors, source.RecordError{
				Key: fmt.Sprintf("%d-%d/%s", obj.Parliament, obj.Session, obj.Number),
				Err: err,
			})
			continue
		}
		page.Records = append(page.Records, bill)
	}
	return page, nil
}

func (c *Client) toBill(obj billObject, prov source.Provenance) (parl.Bill, error) {
	if obj.Number == "" || obj.Parliament == 0 || obj.Session == 0 {
		return parl.Bill{}, source.Terminal(fmt.Errorf("bill missing natural key fields"))
	}
	fetched := prov.FetchedAt
	bill := parl.Bill{
		Jurisdiction:   c.jurisdiction,
		Parliament:     obj.Parliament,
		Session:        obj.Session,
		Number:         strings.ToUpper(obj.Number),
		TitleEN:        obj.Name.EN,
		TitleFR:        obj.Name.FR,
		ShortTitleEN:   obj.ShortTitle.EN,
		ShortTitleFR:   obj.ShortTitle.FR,
		IntroducedDate: parseDate(obj.Introduced),
		Status:         strVal(obj.Status.EN),
		LawSite:        obj.LawURL,
		APIURL:         obj.URL,
		SourcePrimary:  true,
		LastFetchedAt:  &fetched,
	}
	if slug := slugFromURL(obj.SponsorURL); slug != "" {
		bill.SponsorSlug = &slug
	}
	return bill, nil
}

// FetchPoliticians returns one page of members.
func (c *Client) FetchPoliticians(ctx context.Context, p ListParams) (Page[parl.Politician], error) {
	p = p.normalize()
	body, prov, err := c.get(ctx, "/politicians/", listQuery(p))
	if err != nil {
		return Page[parl.Politician]{}, err
	}
	var env politicianEnvelope
	if err := decode(body, &env); err != nil {
		return Page[parl.Politician]{}, err
	}

	page := Page[parl.Politician]{Provenance: prov}
	page.Total, page.HasMore = hasMore(env.Pagination, len(env.Objects))
	for _, obj := range env.Objects {
		if obj.Slug == "" {
			page.Errors = append(page.Errors, source.RecordError{
				Key: obj.Name,
				Err: source.Terminal(fmt.Errorf("politician missing slug")),
			})
			continue
		}
		page.Records = append(page.Records, c.toPolitician(obj))
	}
	return page, nil
}

func (c *Client) toPolitician(obj politicianObject) parl.Politician {
	pol := parl.Politician{
		Jurisdiction: c.jurisdiction,
		Slug:         obj.Slug,
		GivenName:    obj.GivenName,
		FamilyName:   obj.FamilyName,
		FullName:     obj.Name,
		SourceURL:    obj.URL,
	}
	if obj.Image != "" {
		img := obj.Image
		pol.PhotoURL = &img
	}
	pol.CurrentParty = obj.Party.ShortName.EN
	pol.CurrentRiding = obj.Riding.Name.EN
	for _, m := range obj.Memberships {
		pol.Memberships = append(pol.Memberships, parl.Membership{
			Label:     anyStr(m["label"]),
			Party:     anyStr(m["party"]),
			Riding:    anyStr(m["riding"]),
			StartDate: anyStr(m["start_date"]),
			EndDate:   anyStr(m["end_date"]),
			URL:       anyStr(m["url"]),
		})
	}
	return pol
}

// FetchVotes returns one page of divisions.
func (c *Client) FetchVotes(ctx context.Context, p ListParams) (Page[parl.Vote], error) {
	p = p.normalize()
	body, prov, err := c.get(ctx, "/votes/", listQuery(p))
	if err != nil {
		return Page[parl.Vote]{}, err
	}
	var env voteEnvelope
	if err := decode(body, &env); err != nil {
		return Page[parl.Vote]{}, err
	}

	page := Page[parl.Vote]{Provenance: prov}
	page.Total, page.HasMore = hasMore(env.Pagination, len(env.Objects))
	for _, obj := range env.Objects {
		vote, err := c.toVote(obj)
		if err != nil {
			page.Errors = append(page.Errors, source.RecordError{
				Key: fmt.Sprintf("%d-%d-%d", obj.Parliament, obj.Session, obj.Number),
				Err: err,
			})
			continue
		}
		page.Records = append(page.Records, vote)
	}
	return page, nil
}

func (c *Client) toVote(obj voteObject) (parl.Vote, error) {
	if obj.Parliament == 0 || obj.Session == 0 || obj.Number == 0 {
		return parl.Vote{}, source.Terminal(fmt.Errorf("vote missing natural key fields"))
	}
	result, err := parseResult(obj.Result)
	if err != nil {
		return parl.Vote{}, err
	}
	vote := parl.Vote{
		Jurisdiction:  c.jurisdiction,
		VoteID:        fmt.Sprintf("%d-%d-%d", obj.Parliament, obj.Session, obj.Number),
		Parliament:    obj.Parliament,
		Session:       obj.Session,
		Number:        obj.Number,
		VoteDate:      parseDate(obj.Date),
		Chamber:       obj.Chamber,
		DescriptionEN: obj.Description.EN,
		DescriptionFR: obj.Description.FR,
		Result:        result,
		Yeas:          obj.YeaTotal,
		Nays:          obj.NayTotal,
		Abstentions:   obj.PairedTotal,
	}
	if num := billNumberFromURL(obj.BillURL); num != "" {
		vote.BillNumber = &num
	}
	return vote, nil
}

// FetchBallots expands one vote into its per-member ballots.
func (c *Client) FetchBallots(ctx context.Context, voteID string) (Page[parl.VoteRecord], error) {
	body, prov, err := c.get(ctx, "/votes/"+voteID+"/ballots/", nil)
	if err != nil {
		return Page[parl.VoteRecord]{}, err
	}
	var env ballotEnvelope
	if err := decode(body, &env); err != nil {
		return Page[parl.VoteRecord]{}, err
	}

	page := Page[parl.VoteRecord]{Provenance: prov, Total: len(env.Objects)}
	for _, obj := range env.Objects {
		slug := slugFromURL(obj.PoliticianURL)
		if slug == "" {
			page.Errors = append(page.Errors, source.RecordError{
				Key: obj.PoliticianURL,
				Err: source.Terminal(fmt.Errorf("ballot missing politician")),
			})
			continue
		}
		pos, err := parseBallot(obj.Ballot)
		if err != nil {
			page.Errors = append(page.Errors, source.RecordError{Key: slug, Err: err})
			continue
		}
		page.Records = append(page.Records, parl.VoteRecord{
			PoliticianSlug: slug,
			Position:       pos,
		})
	}
	return page, nil
}

// FetchCommittees returns one page of committees.
func (c *Client) FetchCommittees(ctx context.Context, p ListParams) (Page[parl.Committee], error) {
	p = p.normalize()
	body, prov, err := c.get(ctx, "/committees/", listQuery(p))
	if err != nil {
		return Page[parl.Committee]{}, err
	}
	var env committeeEnvelope
	if err := decode(body, &env); err != nil {
		return Page[parl.Committee]{}, err
	}

	page := Page[parl.Committee]{Provenance: prov}
	page.Total, page.HasMore = hasMore(env.Pagination, len(env.Objects))
	for _, obj := range env.Objects {
		if obj.Slug == "" || obj.Parliament == 0 || obj.Session == 0 {
			page.Errors = append(page.Errors, source.RecordError{
				Key: obj.Slug,
				Err: source.Terminal(fmt.Errorf("committee missing natural key fields")),
			})
			continue
		}
		committee := parl.Committee{
			Jurisdiction: c.jurisdiction,
			Parliament:   obj.Parliament,
			Session:      obj.Session,
			Slug:         strings.ToUpper(obj.Slug),
			NameEN:       obj.Name.EN,
			NameFR:       obj.Name.FR,
			AcronymEN:    obj.Acronym.EN,
			AcronymFR:    obj.Acronym.FR,
			Chamber:      obj.Chamber,
			SourceURL:    obj.URL,
		}
		if parent := slugFromURL(obj.ParentURL); parent != "" {
			parent = strings.ToUpper(parent)
			committee.ParentSlug = &parent
		}
		page.Records = append(page.Records, committee)
	}
	return page, nil
}

// FetchMeetings expands one committee into its meetings.
func (c *Client) FetchMeetings(ctx context.Context, committeeSlug string, p ListParams) (Page[parl.CommitteeMeeting], error) {
	p = p.normalize()
	body, prov, err := c.get(ctx, "/committees/"+strings.ToLower(committeeSlug)+"/meetings/", listQuery(p))
	if err != nil {
		return Page[parl.CommitteeMeeting]{}, err
	}
	var env meetingEnvelope
	if err := decode(body, &env); err != nil {
		return Page[parl.CommitteeMeeting]{}, err
	}

	page := Page[parl.CommitteeMeeting]{Provenance: prov}
	page.Total, page.HasMore = hasMore(env.Pagination, len(env.Objects))
	for _, obj := range env.Objects {
		if obj.Number == 0 {
			page.Errors = append(page.Errors, source.RecordError{
				Key: fmt.Sprintf("%s/%s", committeeSlug, obj.Date),
				Err: source.Terminal(fmt.Errorf("meeting missing number")),
			})
			continue
		}
		m := parl.CommitteeMeeting{
			Number:      obj.Number,
			Parliament:  obj.Parliament,
			Session:     obj.Session,
			Date:        parseDate(obj.Date),
			TimeOfDay:   obj.Time,
			TitleEN:     obj.Title.EN,
			TitleFR:     obj.Title.FR,
			MeetingType: obj.MeetingType,
			Room:        obj.Room,
		}
		for _, w := range obj.Witnesses {
			m.Witnesses = append(m.Witnesses, parl.Witness{Name: w.Name, Organization: w.Organization, Title: w.Title})
		}
		for _, d := range obj.Documents {
			m.Documents = append(m.Documents, parl.MeetingDocument{Title: d.Title, URL: d.URL, Type: d.Type})
		}
		page.Records = append(page.Records, m)
	}
	return page, nil
}

// FetchDebates returns one page of sittings.
func (c *Client) FetchDebates(ctx context.Context, p ListParams) (Page[parl.Debate], error) {
	p = p.normalize()
	body, prov, err := c.get(ctx, "/debates/", listQuery(p))
	if err != nil {
		return Page[parl.Debate]{}, err
	}
	var env debateEnvelope
	if err := decode(body, &env); err != nil {
		return Page[parl.Debate]{}, err
	}

	page := Page[parl.Debate]{Provenance: prov}
	page.Total, page.HasMore = hasMore(env.Pagination, len(env.Objects))
	for _, obj := range env.Objects {
		if obj.Parliament == 0 || obj.Session == 0 || obj.Number == 0 {
			page.Errors = append(page.Errors, source.RecordError{
				Key: obj.Date,
				Err: source.Terminal(fmt.Errorf("debate missing natural key fields")),
			})
			continue
		}
		page.Records = append(page.Records, parl.Debate{
			Jurisdiction: c.jurisdiction,
			HansardID:    fmt.Sprintf("%d-%d-%d", obj.Parliament, obj.Session, obj.Number),
			Parliament:   obj.Parliament,
			Session:      obj.Session,
			Number:       obj.Number,
			Date:         parseDate(obj.Date),
			Chamber:      obj.Chamber,
			DebateType:   obj.DebateType,
			TopicEN:      obj.Topic.EN,
			TopicFR:      obj.Topic.FR,
		})
	}
	return page, nil
}

// FetchSpeeches expands one debate into its attributed speeches.
func (c *Client) FetchSpeeches(ctx context.Context, hansardID string, p ListParams) (Page[parl.Speech], error) {
	p = p.normalize()
	body, prov, err := c.get(ctx, "/debates/"+hansardID+"/speeches/", listQuery(p))
	if err != nil {
		return Page[parl.Speech]{}, err
	}
	var env speechEnvelope
	if err := decode(body, &env); err != nil {
		return Page[parl.Speech]{}, err
	}

	page := Page[parl.Speech]{Provenance: prov}
	page.Total, page.HasMore = hasMore(env.Pagination, len(env.Objects))
	for _, obj := range env.Objects {
		if obj.Sequence == 0 {
			page.Errors = append(page.Errors, source.RecordError{
				Key: fmt.Sprintf("%s/?", hansardID),
				Err: source.Terminal(fmt.Errorf("speech missing sequence")),
			})
			continue
		}
		s := parl.Speech{
			Sequence:    obj.Sequence,
			SpeakerName: strVal(obj.Attribution.EN),
			SpeakerRole: obj.Role,
			Language:    obj.Language,
			TextEN:      obj.Content.EN,
			TextFR:      obj.Content.FR,
			SpokenAt:    parseTime(obj.Time),
		}
		if slug := slugFromURL(obj.PoliticianURL); slug != "" {
			s.PoliticianSlug = &slug
		}
		page.Records = append(page.Records, s)
	}
	return page, nil
}

func parseResult(raw string) (parl.VoteResult, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "passed", "agreed to":
		return parl.ResultPassed, nil
	case "defeated", "negatived":
		return parl.ResultDefeated, nil
	case "tied", "tie":
		return parl.ResultTied, nil
	default:
		return "", source.Terminal(fmt.Errorf("unknown vote result %q", raw))
	}
}

func parseBallot(raw string) (parl.BallotPosition, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yea", "yes", "aye":
		return parl.PositionYea, nil
	case "nay", "no":
		return parl.PositionNay, nil
	case "paired":
		return parl.PositionPaired, nil
	case "abstain", "abstained", "didn't vote", "didnt vote":
		return parl.PositionAbstain, nil
	default:
		return "", source.Terminal(fmt.Errorf("unknown ballot %q", raw))
	}
}

func parseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil
	}
	return &t
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// slugFromURL extracts the final path segment of an upstream reference URL
// such as "/politicians/some-member/".
func slugFromURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// billNumberFromURL extracts "C-11" from "/bills/44-1/C-11/".
func billNumberFromURL(raw string) string {
	seg := slugFromURL(raw)
	if seg == "" {
		return ""
	}
	return strings.ToUpper(seg)
}

func strVal(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func anyStr(v any) string {
	s, _ := v.(string)
	return s
}
