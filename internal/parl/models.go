package parl

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// VoteResult is the outcome of a division.
type VoteResult string

const (
	ResultPassed   VoteResult = "Passed"
	ResultDefeated VoteResult = "Defeated"
	ResultTied     VoteResult = "Tied"
)

// BallotPosition is how one member voted in a division.
type BallotPosition string

const (
	PositionYea     BallotPosition = "Yea"
	PositionNay     BallotPosition = "Nay"
	PositionPaired  BallotPosition = "Paired"
	PositionAbstain BallotPosition = "Abstain"
)

// FetchStatus classifies one ingestion run.
type FetchStatus string

const (
	FetchSuccess FetchStatus = "success"
	FetchPartial FetchStatus = "partial"
	FetchFailure FetchStatus = "failure"
)

// Membership is one entry in a politician's membership history. Upstream
// shapes vary, so the payload stays loosely structured.
type Membership struct {
	Label     string `json:"label,omitempty"`
	Party     string `json:"party,omitempty"`
	Riding    string `json:"riding,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Witness is one person appearing before a committee meeting.
type Witness struct {
	Name         string `json:"name"`
	Organization string `json:"organization,omitempty"`
	Title        string `json:"title,omitempty"`
}

// MeetingDocument is one document tabled at a committee meeting.
type MeetingDocument struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type,omitempty"`
}

type Bill struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	// Natural key
	Jurisdiction string `json:"jurisdiction" gorm:"size:32;index:uniq_bill_nk,unique"`
	Parliament   int    `json:"parliament" gorm:"index:uniq_bill_nk,unique"`
	Session      int    `json:"session" gorm:"index:uniq_bill_nk,unique"`
	Number       string `json:"number" gorm:"size:16;index:uniq_bill_nk,unique"` // e.g. C-11

	TitleEN      *string `json:"title_en"`
	TitleFR      *string `json:"title_fr"`
	ShortTitleEN *string `json:"short_title_en"`
	ShortTitleFR *string `json:"short_title_fr"`

	SponsorSlug    *string    `json:"sponsor_slug" gorm:"size:128"`
	SponsorID      *uuid.UUID `json:"sponsor_id" gorm:"type:uuid"`
	IntroducedDate *time.Time `json:"introduced_date" gorm:"index"`
	Status         string     `json:"status" gorm:"size:128"`

	RoyalAssentDate    *time.Time `json:"royal_assent_date"`
	RoyalAssentChapter *string    `json:"royal_assent_chapter" gorm:"size:32"`

	SummaryEN   *string        `json:"summary_en"`
	SummaryFR   *string        `json:"summary_fr"`
	SubjectTags pq.StringArray `json:"subject_tags" gorm:"type:text[]"`

	LawSite  string `json:"law_site_url"`  // enrichment source URL
	APIURL   string `json:"api_url"`       // catalogue source URL

	SourcePrimary    bool `json:"source_primary"`
	SourceEnrichment bool `json:"source_enrichment"`

	LastFetchedAt  *time.Time `json:"last_fetched_at"`
	LastEnrichedAt *time.Time `json:"last_enriched_at"`

	// Nullable fixed-dimension embedding for hybrid search; dimensionality is
	// configured, not fixed by schema.
	Embedding pq.Float64Array `json:"-" gorm:"type:float8[]"`

	ContentHash string    `json:"-" gorm:"size:64;index"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime:false"`
}

type Politician struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	Jurisdiction string `json:"jurisdiction" gorm:"size:32;index:uniq_pol_nk,unique"`
	Slug         string `json:"slug" gorm:"size:128;index:uniq_pol_nk,unique"`

	GivenName  string `json:"given_name" gorm:"size:128"`
	FamilyName string `json:"family_name" gorm:"size:128"`
	FullName   string `json:"name" gorm:"size:256;index"`

	CurrentParty  *string `json:"current_party" gorm:"size:128"`
	CurrentRiding *string `json:"current_riding" gorm:"size:128"`

	PhotoURL  *string `json:"photo_url"`
	SourceURL string  `json:"source_url"`

	Memberships []Membership `json:"memberships" gorm:"serializer:json"`

	ContentHash string    `json:"-" gorm:"size:64;index"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime:false"`
}

type Vote struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	Jurisdiction string `json:"jurisdiction" gorm:"size:32;index:uniq_vote_nk,unique"`
	// VoteID is parliament-session-number, e.g. "44-1-325".
	VoteID     string `json:"vote_id" gorm:"size:32;index:uniq_vote_nk,unique"`
	Parliament int    `json:"parliament" gorm:"index"`
	Session    int    `json:"session"`
	Number     int    `json:"number"`

	VoteDate      *time.Time `json:"date" gorm:"index"`
	Chamber       string     `json:"chamber" gorm:"size:32"`
	DescriptionEN *string    `json:"description_en"`
	DescriptionFR *string    `json:"description_fr"`

	Result      VoteResult `json:"result" gorm:"size:16"`
	Yeas        int        `json:"yeas"`
	Nays        int        `json:"nays"`
	Abstentions int        `json:"abstentions"`

	BillNumber *string    `json:"bill_number" gorm:"size:16"`
	BillID     *uuid.UUID `json:"bill_id" gorm:"type:uuid;index"`

	ContentHash string    `json:"-" gorm:"size:64;index"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime:false"`
}

// VoteRecord is one member's ballot in a division. Insert-only from the
// ingestion path; the (vote, member) pair is the natural key.
type VoteRecord struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	VoteID         uuid.UUID  `json:"vote_id" gorm:"type:uuid;index:uniq_vote_rec,unique"`
	PoliticianSlug string     `json:"politician_slug" gorm:"size:128;index:uniq_vote_rec,unique"`
	PoliticianID   *uuid.UUID `json:"politician_id" gorm:"type:uuid;index"`

	Position BallotPosition `json:"position" gorm:"size:16"`

	ContentHash string    `json:"-" gorm:"size:64"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime:false"`
}

type Committee struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	Jurisdiction string `json:"jurisdiction" gorm:"size:32;index:uniq_comm_nk,unique"`
	Parliament   int    `json:"parliament" gorm:"index:uniq_comm_nk,unique"`
	Session      int    `json:"session" gorm:"index:uniq_comm_nk,unique"`
	Slug         string `json:"slug" gorm:"size:64;index:uniq_comm_nk,unique"` // e.g. FINA

	NameEN    *string `json:"name_en"`
	NameFR    *string `json:"name_fr"`
	AcronymEN *string `json:"acronym_en" gorm:"size:16"`
	AcronymFR *string `json:"acronym_fr" gorm:"size:16"`

	Chamber    string     `json:"chamber" gorm:"size:32"`
	ParentSlug *string    `json:"parent_slug" gorm:"size:64"`
	ParentID   *uuid.UUID `json:"parent_id" gorm:"type:uuid"`
	SourceURL  string     `json:"source_url"`

	ContentHash string    `json:"-" gorm:"size:64;index"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime:false"`
}

type CommitteeMeeting struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	CommitteeID uuid.UUID `json:"committee_id" gorm:"type:uuid;index:uniq_meeting_nk,unique"`
	Number      int       `json:"number" gorm:"index:uniq_meeting_nk,unique"`
	Parliament  int       `json:"parliament" gorm:"index:uniq_meeting_nk,unique"`
	Session     int       `json:"session" gorm:"index:uniq_meeting_nk,unique"`

	Date    *time.Time `json:"date" gorm:"index"`
	TimeOfDay string   `json:"time_of_day" gorm:"size:32"`
	TitleEN *string    `json:"title_en"`
	TitleFR *string    `json:"title_fr"`

	MeetingType string `json:"meeting_type" gorm:"size:64"`
	Room        string `json:"room" gorm:"size:128"`

	Witnesses []Witness         `json:"witnesses" gorm:"serializer:json"`
	Documents []MeetingDocument `json:"documents" gorm:"serializer:json"`

	ContentHash string    `json:"-" gorm:"size:64"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime:false"`
}

type Debate struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	Jurisdiction string `json:"jurisdiction" gorm:"size:32;index:uniq_debate_nk,unique"`
	// HansardID is parliament-session-number, e.g. "44-1-210".
	HansardID  string `json:"hansard_id" gorm:"size:32;index:uniq_debate_nk,unique"`
	Parliament int    `json:"parliament" gorm:"index"`
	Session    int    `json:"session"`
	Number     int    `json:"number"`

	Date       *time.Time `json:"date" gorm:"index"`
	Chamber    string     `json:"chamber" gorm:"size:32"`
	DebateType string     `json:"debate_type" gorm:"size:64"`
	TopicEN    *string    `json:"topic_en"`
	TopicFR    *string    `json:"topic_fr"`

	ContentHash string    `json:"-" gorm:"size:64;index"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime:false"`
}

// Speech is one attributed intervention in a debate. PoliticianID stays null
// when the speaker cannot be resolved to a known member.
type Speech struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	DebateID uuid.UUID `json:"debate_id" gorm:"type:uuid;index:uniq_speech_nk,unique"`
	Sequence int       `json:"sequence" gorm:"index:uniq_speech_nk,unique"`

	PoliticianID   *uuid.UUID `json:"politician_id" gorm:"type:uuid;index"`
	PoliticianSlug *string    `json:"politician_slug" gorm:"size:128;index"`
	SpeakerName    string     `json:"speaker_name" gorm:"size:256"`
	SpeakerRole    string     `json:"speaker_role" gorm:"size:128"`

	Language string     `json:"language" gorm:"size:8"`
	TextEN   *string    `json:"text_en"`
	TextFR   *string    `json:"text_fr"`
	SpokenAt *time.Time `json:"spoken_at"`

	ContentHash string    `json:"-" gorm:"size:64"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime:false"`
}

// FetchLog is the append-only record of one ingestion operation.
type FetchLog struct {
	ID uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`

	Source string      `json:"source" gorm:"size:64;index"`
	Status FetchStatus `json:"status" gorm:"size:16"`

	RecordsAttempted int `json:"records_attempted"`
	RecordsSucceeded int `json:"records_succeeded"`
	RecordsFailed    int `json:"records_failed"`

	DurationMS int64 `json:"duration_ms"`

	Parameters   map[string]any `json:"parameters" gorm:"serializer:json"`
	ErrorSummary map[string]int `json:"error_summary" gorm:"serializer:json"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime:false;index"`
}

func (Bill) TableName() string             { return "bills" }
func (Politician) TableName() string       { return "politicians" }
func (Vote) TableName() string             { return "votes" }
func (VoteRecord) TableName() string       { return "vote_records" }
func (Committee) TableName() string        { return "committees" }
func (CommitteeMeeting) TableName() string { return "committee_meetings" }
func (Debate) TableName() string           { return "debates" }
func (Speech) TableName() string           { return "speeches" }
func (FetchLog) TableName() string         { return "fetch_logs" }
