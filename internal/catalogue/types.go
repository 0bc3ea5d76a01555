package catalogue

// Upstream JSON shapes for the catalogue API. Decoding is strict at the
// adapter boundary: records failing validation become per-record errors and
// untyped maps never travel past this package.

// Localized is the upstream {en, fr} object. A missing language stays nil and
// is never copied from the other.
type Localized struct {
	EN *string `json:"en"`
	FR *string `json:"fr"`
}

type pagination struct {
	Count  *int `json:"count"`
	Limit  int  `json:"limit"`
	Offset int  `json:"offset"`
}

type billEnvelope struct {
	Objects    []billObject `json:"objects"`
	Pagination pagination   `json:"pagination"`
}

type billObject struct {
	Number        string    `json:"number"`
	Parliament    int       `json:"parliament"`
	Session       int       `json:"session"`
	Name          Localized `json:"name"`
	ShortTitle    Localized `json:"short_title"`
	SponsorURL    string    `json:"sponsor_politician_url"`
	Introduced    string    `json:"introduced"`
	Status        Localized `json:"status"`
	LawURL        string    `json:"law_url"`
	URL           string    `json:"url"`
}

type politicianEnvelope struct {
	Objects    []politicianObject `json:"objects"`
	Pagination pagination         `json:"pagination"`
}

type politicianObject struct {
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Party      struct {
		ShortName Localized `json:"short_name"`
	} `json:"current_party"`
	Riding struct {
		Name Localized `json:"name"`
	} `json:"current_riding"`
	Image       string           `json:"image"`
	URL         string           `json:"url"`
	Memberships []map[string]any `json:"memberships"`
}

type voteEnvelope struct {
	Objects    []voteObject `json:"objects"`
	Pagination pagination   `json:"pagination"`
}

type voteObject struct {
	Number      int       `json:"number"`
	Parliament  int       `json:"parliament"`
	Session     int       `json:"session"`
	Date        string    `json:"date"`
	Chamber     string    `json:"chamber"`
	Description Localized `json:"description"`
	Result      string    `json:"result"`
	YeaTotal    int       `json:"yea_total"`
	NayTotal    int       `json:"nay_total"`
	PairedTotal int       `json:"paired_total"`
	BillURL     string    `json:"bill_url"`
}

type ballotEnvelope struct {
	Objects    []ballotObject `json:"objects"`
	Pagination pagination     `json:"pagination"`
}

type ballotObject struct {
	PoliticianURL string `json:"politician_url"`
	Ballot        string `json:"ballot"`
}

type committeeEnvelope struct {
	Objects    []committeeObject `json:"objects"`
	Pagination pagination        `json:"pagination"`
}

type committeeObject struct {
	Slug       string    `json:"slug"`
	Parliament int       `json:"parliament"`
	Session    int       `json:"session"`
	Name       Localized `json:"name"`
	Acronym    Localized `json:"acronym"`
	Chamber    string    `json:"chamber"`
	ParentURL  string    `json:"parent_url"`
	URL        string    `json:"url"`
}

type meetingEnvelope struct {
	Objects    []meetingObject `json:"objects"`
	Pagination pagination      `json:"pagination"`
}

type meetingObject struct {
	Number      int       `json:"number"`
	Parliament  int       `json:"parliament"`
	Session     int       `json:"session"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Title       Localized `json:"title"`
	MeetingType string    `json:"meeting_type"`
	Room        string    `json:"room"`
	Witnesses   []struct {
		Name         string `json:"name"`
		Organization string `json:"organization"`
		Title        string `json:"title"`
	} `json:"witnesses"`
	Documents []struct {
		Title string `json:"title"`
		URL   string `json:"url"`
		Type  string `json:"type"`
	} `json:"documents"`
}

type debateEnvelope struct {
	Objects    []debateObject `json:"objects"`
	Pagination pagination     `json:"pagination"`
}

type debateObject struct {
	Number     int       `json:"number"`
	Parliament int       `json:"parliament"`
	Session    int       `json:"session"`
	Date       string    `json:"date"`
	Chamber    string    `json:"chamber"`
	DebateType string    `json:"debate_type"`
	Topic      Localized `json:"topic"`
}

type speechEnvelope struct {
	Objects    []speechObject `json:"objects"`
	Pagination pagination     `json:"pagination"`
}

type speechObject struct {
	Sequence      int       `json:"sequence"`
	PoliticianURL string    `json:"politician_url"`
	Attribution   Localized `json:"attribution"`
	Role          string    `json:"role"`
	Language      string    `json:"language"`
	Content       Localized `json:"content"`
	Time          string    `json:"time"`
}
