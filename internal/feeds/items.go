package feeds

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/OpenParlCA/OP-Backend/internal/parl"
)

// Item is one syndication entry before rendering. BillID is set on any item
// that references a bill so personalized feeds can subtract a device's
// ignore set.
type Item struct {
	GUID        string
	Title       string
	Link        string
	Description string
	Date        time.Time
	BillID      *uuid.UUID
}

// guid renders the stable item identity. The same logical event always yields
// the same GUID, so readers never see duplicates across rebuilds.
func guid(jurisdiction, entity, naturalID, event string, date time.Time) string {
	naturalID = strings.TrimPrefix(naturalID, jurisdiction+"/")
	return fmt.Sprintf("%s:%s:%s:%s:%s", jurisdiction, entity, naturalID, event, date.Format("2006-01-02"))
}

// eventDate prefers the data-derived date; rows missing one fall back to
// their content timestamp.
func eventDate(d *time.Time, fallback time.Time) time.Time {
	if d != nil {
		return *d
	}
	return fallback
}

func (s *Service) link(parts ...string) string {
	return strings.TrimRight(s.cfg.PublicURL, "/") + "/" + strings.Join(parts, "/")
}

func billTitle(b parl.Bill) string {
	if b.ShortTitleEN != nil && *b.ShortTitleEN != "" {
		return b.Number + ": " + *b.ShortTitleEN
	}
	if b.TitleEN != nil && *b.TitleEN != "" {
		return b.Number + ": " + *b.TitleEN
	}
	return b.Number
}

func (s *Service) billEventItems(b parl.Bill) []Item {
	id := b.ID
	link := s.link("bills", fmt.Sprintf("%d-%d", b.Parliament, b.Session), b.Number)

	items := []Item{{
		GUID:        guid(s.cfg.Jurisdiction, "bill", b.NaturalID(), "introduced", eventDate(b.IntroducedDate, b.UpdatedAt)),
		Title:       billTitle(b) + " introduced",
		Link:        link,
		Description: strDeref(b.SummaryEN),
		Date:        eventDate(b.IntroducedDate, b.UpdatedAt),
		BillID:      &id,
	}}
	if b.RoyalAssentDate != nil {
		items = append(items, Item{
			GUID:        guid(s.cfg.Jurisdiction, "bill", b.NaturalID(), "royal-assent", *b.RoyalAssentDate),
			Title:       billTitle(b) + " received royal assent",
			Link:        link,
			Description: strDeref(b.RoyalAssentChapter),
			Date:        *b.RoyalAssentDate,
			BillID:      &id,
		})
	}
	return items
}

func (s *Service) billItems(ctx context.Context, f parl.BillFilter) ([]Item, error) {
	f.Jurisdiction = s.cfg.Jurisdiction
	bills, _, err := s.bills.List(ctx, f, parl.ListOpts{Limit: s.itemLimit()})
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, b := range bills {
		items = append(items, s.billEventItems(b)...)
	}
	return items, nil
}

func (s *Service) voteItems(ctx context.Context, f parl.VoteFilter) ([]Item, error) {
	f.Jurisdiction = s.cfg.Jurisdiction
	votes, _, err := s.votes.List(ctx, f, parl.ListOpts{Limit: s.itemLimit()})
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(votes))
	for _, v := range votes {
		title := fmt.Sprintf("Vote %s: %s (%d-%d)", v.VoteID, v.Result, v.Yeas, v.Nays)
		if v.BillNumber != nil {
			title = fmt.Sprintf("Vote %s on %s: %s (%d-%d)", v.VoteID, *v.BillNumber, v.Result, v.Yeas, v.Nays)
		}
		items = append(items, Item{
			GUID:        guid(s.cfg.Jurisdiction, "vote", v.NaturalID(), "held", eventDate(v.VoteDate, v.UpdatedAt)),
			Title:       title,
			Link:        s.link("votes", v.VoteID),
			Description: strDeref(v.DescriptionEN),
			Date:        eventDate(v.VoteDate, v.UpdatedAt),
			BillID:      v.BillID,
		})
	}
	return items, nil
}

func (s *Service) debateItems(ctx context.Context) ([]Item, error) {
	debates, _, err := s.debates.List(ctx, parl.DebateFilter{Jurisdiction: s.cfg.Jurisdiction}, parl.ListOpts{Limit: s.itemLimit()})
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(debates))
	for _, d := range debates {
		title := "Debate " + d.HansardID
		if d.TopicEN != nil && *d.TopicEN != "" {
			title = *d.TopicEN
		}
		items = append(items, Item{
			GUID:  guid(s.cfg.Jurisdiction, "debate", d.NaturalID(), "published", eventDate(d.Date, d.UpdatedAt)),
			Title: title,
			Link:  s.link("debates", d.HansardID),
			Date:  eventDate(d.Date, d.UpdatedAt),
		})
	}
	return items, nil
}

func (s *Service) meetingItems(ctx context.Context, c *parl.Committee) ([]Item, error) {
	meetings, _, err := s.committees.ListMeetings(ctx, c.ID, parl.ListOpts{Limit: s.itemLimit()})
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(meetings))
	for _, m := range meetings {
		title := fmt.Sprintf("%s meeting %d", c.Slug, m.Number)
		if m.TitleEN != nil && *m.TitleEN != "" {
			title = fmt.Sprintf("%s meeting %d: %s", c.Slug, m.Number, *m.TitleEN)
		}
		items = append(items, Item{
			GUID:  guid(s.cfg.Jurisdiction, "meeting", m.NaturalID(), "scheduled", eventDate(m.Date, m.UpdatedAt)),
			Title: title,
			Link:  s.link("committees", c.Slug, "meetings", fmt.Sprintf("%d", m.Number)),
			Date:  eventDate(m.Date, m.UpdatedAt),
		})
	}
	return items, nil
}

// allItems is the composite feed across entity types, newest first.
func (s *Service) allItems(ctx context.Context) ([]Item, error) {
	bills, err := s.billItems(ctx, parl.BillFilter{})
	if err != nil {
		return nil, err
	}
	votes, err := s.voteItems(ctx, parl.VoteFilter{})
	if err != nil {
		return nil, err
	}
	debates, err := s.debateItems(ctx)
	if err != nil {
		return nil, err
	}

	items := append(append(bills, votes...), debates...)
	sortItems(items)
	return capItems(items, s.itemLimit()), nil
}

// personalItems is the composite feed minus the device's ignored bills.
func (s *Service) personalItems(ctx context.Context, deviceID string) ([]Item, error) {
	items, err := s.allItems(ctx)
	if err != nil {
		return nil, err
	}
	ignored, err := s.prefs.IgnoredBillIDs(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if len(ignored) == 0 {
		return items, nil
	}
	drop := make(map[uuid.UUID]bool, len(ignored))
	for _, id := range ignored {
		drop[id] = true
	}
	kept := items[:0]
	for _, it := range items {
		if it.BillID != nil && drop[*it.BillID] {
			continue
		}
		kept = append(kept, it)
	}
	return kept, nil
}

func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date) {
			return items[i].Date.After(items[j].Date)
		}
		return items[i].GUID < items[j].GUID
	})
}

func capItems(items []Item, limit int) []Item {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
