// Package feeds renders the RSS/Atom surface: scoped syndication documents
// with stable GUIDs, body caching keyed by content fingerprint, per-scope
// rebuild budgets, and per-client rate limits.
package feeds

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/feeds"
	"golang.org/x/crypto/blake2b"

	"github.com/OpenParlCA/OP-Backend/internal/cache"
	"github.com/OpenParlCA/OP-Backend/internal/parl"
	"github.com/OpenParlCA/OP-Backend/internal/prefs"
)

const (
	// DefaultRebuildPerHour caps re-renders per scope; excess requests get the
	// last cached body.
	DefaultRebuildPerHour = 12
	DefaultItemLimit      = 50

	DefaultIPPerHour     = 60
	DefaultTokenPerHour  = 30
	DefaultGlobalPerHour = 1000

	bodyTTL = 5 * time.Minute
	lastTTL = time.Hour
)

type Config struct {
	Jurisdiction string
	// PublicURL is the link base for rendered items, e.g. https://openparl.ca.
	PublicURL string

	RebuildPerHour int
	ItemLimit      int

	IPPerHour     int
	TokenPerHour  int
	GlobalPerHour int
}

func (c Config) rebuildPerHour() int {
	if c.RebuildPerHour > 0 {
		return c.RebuildPerHour
	}
	return DefaultRebuildPerHour
}

type Repos struct {
	Bills       *parl.BillRepo
	Politicians *parl.PoliticianRepo
	Votes       *parl.VoteRepo
	Committees  *parl.CommitteeRepo
	Debates     *parl.DebateRepo
}

// Service builds and caches feed documents. Rendering is deterministic for a
// given content fingerprint, so one cached body serves every reader of a
// scope until the data moves.
type Service struct {
	cfg   Config
	store cache.Store

	bills       *parl.BillRepo
	politicians *parl.PoliticianRepo
	votes       *parl.VoteRepo
	committees  *parl.CommitteeRepo
	debates     *parl.DebateRepo
	prefs       *prefs.Service

	budget *rebuildWindow
}

func NewService(cfg Config, repos Repos, prefsSvc *prefs.Service, store cache.Store) *Service {
	return &Service{
		cfg:         cfg,
		store:       store,
		bills:       repos.Bills,
		politicians: repos.Politicians,
		votes:       repos.Votes,
		committees:  repos.Committees,
		debates:     repos.Debates,
		prefs:       prefsSvc,
		budget:      newRebuildWindow(cfg.rebuildPerHour()),
	}
}

func (s *Service) itemLimit() int {
	if s.cfg.ItemLimit > 0 {
		return s.cfg.ItemLimit
	}
	return DefaultItemLimit
}

// scopeRequest is one resolvable feed variant: a cheap content fingerprint
// plus the item builder that runs only on rebuild.
type scopeRequest struct {
	scope       string
	title       string
	description string
	// salt folds non-temporal state into the cache identity; personalized
	// scopes use it for the device's ignore set.
	salt        string
	fingerprint func(ctx context.Context) (time.Time, error)
	build       func(ctx context.Context) ([]Item, error)
}

func (r scopeRequest) cacheID() string {
	if r.salt == "" {
		return r.scope
	}
	return r.scope + "|" + r.salt
}

// envelope is the cached rendered body with the headers it was built under.
type envelope struct {
	ETag         string    `json:"etag"`
	LastModified time.Time `json:"last_modified"`
	Body         string    `json:"body"`
}

func etagFor(scope, format string, fp time.Time) string {
	sum := blake2b.Sum256([]byte(scope + "|" + format + "|" + fp.UTC().Format(time.RFC3339Nano)))
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}

func (s *Service) serve(w http.ResponseWriter, r *http.Request, format string, req scopeRequest) error {
	ctx := r.Context()

	fp, err := req.fingerprint(ctx)
	if err != nil {
		return err
	}
	etag := etagFor(req.cacheID(), format, fp)

	freshKey := "feed:" + format + ":" + req.cacheID() + ":" + fp.UTC().Format(time.RFC3339Nano)
	if raw, ok := s.store.Get(ctx, freshKey); ok {
		var env envelope
		if json.Unmarshal(raw, &env) == nil {
			writeFeed(w, r, format, env)
			return nil
		}
	}

	if !s.budget.Allow(req.scope) {
		// Budget spent: the previous body stands in until the window rolls
		// over, keeping its original ETag.
		if raw, ok := s.store.Get(ctx, "feed:last:"+format+":"+req.cacheID()); ok {
			var env envelope
			if json.Unmarshal(raw, &env) == nil {
				w.Header().Set("Cache-Control", "public, max-age=300, stale-while-revalidate=300")
				writeFeed(w, r, format, env)
				return nil
			}
		}
	}

	items, err := req.build(ctx)
	if err != nil {
		return err
	}
	body, err := s.render(req, items, format, fp)
	if err != nil {
		return err
	}

	env := envelope{ETag: etag, LastModified: fp, Body: body}
	if raw, err := json.Marshal(env); err == nil {
		s.store.Set(ctx, freshKey, raw, bodyTTL)
		s.store.Set(ctx, "feed:last:"+format+":"+req.cacheID(), raw, lastTTL)
	}
	writeFeed(w, r, format, env)
	return nil
}

func writeFeed(w http.ResponseWriter, r *http.Request, format string, env envelope) {
	w.Header().Set("ETag", env.ETag)
	if !env.LastModified.IsZero() {
		w.Header().Set("Last-Modified", env.LastModified.UTC().Format(http.TimeFormat))
	}
	if w.Header().Get("Cache-Control") == "" {
		w.Header().Set("Cache-Control", "public, max-age=300")
	}
	if format == "atom" {
		w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	} else {
		w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	}

	if match := r.Header.Get("If-None-Match"); match != "" && match == env.ETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(env.Body))
}

func (s *Service) render(req scopeRequest, items []Item, format string, fp time.Time) (string, error) {
	f := &feeds.Feed{
		Title:       req.title,
		Link:        &feeds.Link{Href: s.link("feeds", req.scope)},
		Description: req.description,
		Updated:     fp.UTC(),
	}
	for _, it := range items {
		f.Items = append(f.Items, &feeds.Item{
			Id:          it.GUID,
			Title:       it.Title,
			Link:        &feeds.Link{Href: it.Link},
			Description: it.Description,
			Created:     it.Date,
			Updated:     it.Date,
		})
	}
	if format == "atom" {
		return f.ToAtom()
	}
	return f.ToRss()
}

// Fingerprints per scope. Each is MAX(updated_at) over the scope's member
// entities, combined across entity types for composite scopes.

func (s *Service) allFingerprint(ctx context.Context) (time.Time, error) {
	var max time.Time
	for _, fn := range []func(context.Context) (time.Time, error){
		func(ctx context.Context) (time.Time, error) {
			return s.bills.MaxUpdatedAt(ctx, parl.BillFilter{Jurisdiction: s.cfg.Jurisdiction})
		},
		func(ctx context.Context) (time.Time, error) {
			return s.votes.MaxUpdatedAt(ctx, s.cfg.Jurisdiction)
		},
		func(ctx context.Context) (time.Time, error) {
			return s.debates.MaxUpdatedAt(ctx, s.cfg.Jurisdiction)
		},
	} {
		ts, err := fn(ctx)
		if err != nil {
			return time.Time{}, err
		}
		if ts.After(max) {
			max = ts
		}
	}
	return max, nil
}

func (s *Service) billsFingerprint(f parl.BillFilter) func(ctx context.Context) (time.Time, error) {
	f.Jurisdiction = s.cfg.Jurisdiction
	return func(ctx context.Context) (time.Time, error) {
		return s.bills.MaxUpdatedAt(ctx, f)
	}
}

// Scope constructors used by the HTTP layer.

func (s *Service) allScope() scopeRequest {
	return scopeRequest{
		scope:       "all",
		title:       "All updates",
		description: fmt.Sprintf("Recent legislative activity (%s)", s.cfg.Jurisdiction),
		fingerprint: s.allFingerprint,
		build:       s.allItems,
	}
}

func (s *Service) billsLatestScope() scopeRequest {
	return scopeRequest{
		scope:       "bills/latest",
		title:       "Latest bills",
		description: "Recently introduced bills",
		fingerprint: s.billsFingerprint(parl.BillFilter{}),
		build: func(ctx context.Context) ([]Item, error) {
			items, err := s.billItems(ctx, parl.BillFilter{})
			if err != nil {
				return nil, err
			}
			sortItems(items)
			return capItems(items, s.itemLimit()), nil
		},
	}
}

func (s *Service) billsTagScope(tag string) scopeRequest {
	return scopeRequest{
		scope:       "bills/tag/" + tag,
		title:       "Bills tagged " + tag,
		description: "Bills carrying the subject tag " + tag,
		fingerprint: s.billsFingerprint(parl.BillFilter{Tag: tag}),
		build: func(ctx context.Context) ([]Item, error) {
			items, err := s.billItems(ctx, parl.BillFilter{Tag: tag})
			if err != nil {
				return nil, err
			}
			sortItems(items)
			return capItems(items, s.itemLimit()), nil
		},
	}
}

func (s *Service) billScope(b *parl.Bill) scopeRequest {
	return scopeRequest{
		scope:       "bill/" + b.ID.String(),
		title:       billTitle(*b),
		description: strDeref(b.SummaryEN),
		fingerprint: func(ctx context.Context) (time.Time, error) {
			// The bill's own row plus any votes on it.
			fp := b.UpdatedAt
			voteFP, err := s.votes.MaxUpdatedAt(ctx, s.cfg.Jurisdiction)
			if err != nil {
				return time.Time{}, err
			}
			if voteFP.After(fp) {
				fp = voteFP
			}
			return fp, nil
		},
		build: func(ctx context.Context) ([]Item, error) {
			items := s.billEventItems(*b)
			voteItems, err := s.voteItems(ctx, parl.VoteFilter{BillID: &b.ID})
			if err != nil {
				return nil, err
			}
			items = append(items, voteItems...)
			sortItems(items)
			return capItems(items, s.itemLimit()), nil
		},
	}
}

func (s *Service) mpScope(p *parl.Politician) scopeRequest {
	return scopeRequest{
		scope:       "mp/" + p.ID.String(),
		title:       p.FullName,
		description: "Bills sponsored by " + p.FullName,
		fingerprint: s.billsFingerprint(parl.BillFilter{SponsorID: &p.ID}),
		build: func(ctx context.Context) ([]Item, error) {
			items, err := s.billItems(ctx, parl.BillFilter{SponsorID: &p.ID})
			if err != nil {
				return nil, err
			}
			sortItems(items)
			return capItems(items, s.itemLimit()), nil
		},
	}
}

func (s *Service) committeeScope(c *parl.Committee) scopeRequest {
	title := c.Slug
	if c.NameEN != nil && *c.NameEN != "" {
		title = *c.NameEN
	}
	return scopeRequest{
		scope:       "committee/" + c.ID.String(),
		title:       title,
		description: "Meetings of " + title,
		fingerprint: func(ctx context.Context) (time.Time, error) {
			return s.committees.MeetingsMaxUpdatedAt(ctx, c.ID)
		},
		build: func(ctx context.Context) ([]Item, error) {
			return s.meetingItems(ctx, c)
		},
	}
}

func (s *Service) personalScope(token, deviceID string, ignored []uuid.UUID) scopeRequest {
	// The ignore set is part of the cache identity so an ignore takes effect
	// on the very next poll, not after the body TTL.
	sum := blake2b.Sum256([]byte(fmt.Sprint(ignored)))
	return scopeRequest{
		// The token, not the device, names the scope; revoking the token
		// orphans its cache entries harmlessly.
		scope:       "p/" + token,
		salt:        hex.EncodeToString(sum[:8]),
		title:       "Your updates",
		description: "Personalized legislative activity",
		fingerprint: s.allFingerprint,
		build: func(ctx context.Context) ([]Item, error) {
			return s.personalItems(ctx, deviceID)
		},
	}
}
