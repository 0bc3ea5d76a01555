package parl

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// NaturalID renders the human-meaningful identifier governing idempotency.

func (b Bill) NaturalID() string {
	return fmt.Sprintf("%s/%d-%d/%s", b.Jurisdiction, b.Parliament, b.Session, b.Number)
}

func (p Politician) NaturalID() string {
	return fmt.Sprintf("%s/%s", p.Jurisdiction, p.Slug)
}

func (v Vote) NaturalID() string {
	return fmt.Sprintf("%s/%s", v.Jurisdiction, v.VoteID)
}

func (r VoteRecord) NaturalID() string {
	return fmt.Sprintf("%s/%s", r.VoteID, r.PoliticianSlug)
}

func (c Committee) NaturalID() string {
	return fmt.Sprintf("%s/%d-%d/%s", c.Jurisdiction, c.Parliament, c.Session, c.Slug)
}

func (m CommitteeMeeting) NaturalID() string {
	return fmt.Sprintf("%s/%d-%d/%d", m.CommitteeID, m.Parliament, m.Session, m.Number)
}

func (d Debate) NaturalID() string {
	return fmt.Sprintf("%s/%s", d.Jurisdiction, d.HansardID)
}

func (s Speech) NaturalID() string {
	return fmt.Sprintf("%s/%d", s.DebateID, s.Sequence)
}

// hashFields fingerprints the caller-supplied persisted fields. Two records
// with equal fingerprints are treated as unchanged on re-upsert, which is what
// keeps updated_at honest.
func hashFields(fields any) string {
	raw, err := json.Marshal(fields)
	if err != nil {
		// Field structs are plain data; marshal cannot fail for them.
		return ""
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Fingerprint covers every field the merger or adapters may set, excluding
// server-assigned timestamps and surrogate primary keys. References resolved
// before the upsert (sponsor, bill, ballot member, speaker) are part of the
// persisted content and are fingerprinted too, so a reference that becomes
// resolvable on a later run still writes through. The committee parent link is
// the exception: it resolves after the batch and persists via
// CommitteeRepo.SetParent.

func (b Bill) Fingerprint() string {
	return hashFields(struct {
		TitleEN, TitleFR, ShortTitleEN, ShortTitleFR *string
		SponsorSlug                                  *string
		SponsorID                                    *uuid.UUID
		Introduced                                   string
		Status                                       string
		RADate                                       string
		RAChapter                                    *string
		SummaryEN, SummaryFR                         *string
		Tags                                         []string
		LawSite, APIURL                              string
		SrcPrimary, SrcEnrichment                    bool
	}{
		b.TitleEN, b.TitleFR, b.ShortTitleEN, b.ShortTitleFR,
		b.SponsorSlug,
		b.SponsorID,
		dateStr(b.IntroducedDate),
		b.Status,
		dateStr(b.RoyalAssentDate),
		b.RoyalAssentChapter,
		b.SummaryEN, b.SummaryFR,
		b.SubjectTags,
		b.LawSite, b.APIURL,
		b.SourcePrimary, b.SourceEnrichment,
	})
}

func (p Politician) Fingerprint() string {
	return hashFields(struct {
		Given, Family, Full string
		Party, Riding       *string
		Photo               *string
		Source              string
		Memberships         []Membership
	}{p.GivenName, p.FamilyName, p.FullName, p.CurrentParty, p.CurrentRiding, p.PhotoURL, p.SourceURL, p.Memberships})
}

func (v Vote) Fingerprint() string {
	return hashFields(struct {
		Date             string
		Chamber          string
		DescEN, DescFR   *string
		Result           VoteResult
		Yeas, Nays, Abst int
		BillNumber       *string
		BillID           *uuid.UUID
	}{dateStr(v.VoteDate), v.Chamber, v.DescriptionEN, v.DescriptionFR, v.Result, v.Yeas, v.Nays, v.Abstentions, v.BillNumber, v.BillID})
}

func (r VoteRecord) Fingerprint() string {
	return hashFields(struct {
		Position BallotPosition
		Member   *uuid.UUID
	}{r.Position, r.PoliticianID})
}

func (c Committee) Fingerprint() string {
	return hashFields(struct {
		NameEN, NameFR       *string
		AcrEN, AcrFR         *string
		Chamber              string
		Parent               *string
		Source               string
	}{c.NameEN, c.NameFR, c.AcronymEN, c.AcronymFR, c.Chamber, c.ParentSlug, c.SourceURL})
}

func (m CommitteeMeeting) Fingerprint() string {
	return hashFields(struct {
		Date             string
		TimeOfDay        string
		TitleEN, TitleFR *string
		Type, Room       string
		Witnesses        []Witness
		Documents        []MeetingDocument
	}{dateStr(m.Date), m.TimeOfDay, m.TitleEN, m.TitleFR, m.MeetingType, m.Room, m.Witnesses, m.Documents})
}

func (d Debate) Fingerprint() string {
	return hashFields(struct {
		Date             string
		Chamber, Type    string
		TopicEN, TopicFR *string
	}{dateStr(d.Date), d.Chamber, d.DebateType, d.TopicEN, d.TopicFR})
}

func (s Speech) Fingerprint() string {
	return hashFields(struct {
		Slug           *string
		Member         *uuid.UUID
		Name, Role     string
		Lang           string
		TextEN, TextFR *string
		At             string
	}{s.PoliticianSlug, s.PoliticianID, s.SpeakerName, s.SpeakerRole, s.Language, s.TextEN, s.TextFR, timeStr(s.SpokenAt)})
}
