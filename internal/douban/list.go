// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package douban

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/tomtom215/shelfsync/internal/config"
	"github.com/tomtom215/shelfsync/internal/models"
)

// PageSize is Douban's fixed interest-list page size.
const PageSize = 15

// Statuses are the three interest-list lifecycle segments, in sync order.
var Statuses = []string{"wish", "do", "collect"}

// ListEntry is one row of a user's interest list: the subject reference
// plus the user's annotations, which live on the list page rather than the
// subject page.
type ListEntry struct {
	ExternalID string
	Kind       models.Kind
	SubjectURL string
	Title      string

	MarkStatus  string
	MarkRating  int
	MarkTags    string
	MarkComment string
	MarkedAt    time.Time
}

// Library enumerates one user's interest lists page by page through a
// job-owned Fetcher.
type Library struct {
	cfg     *config.DoubanConfig
	fetcher *Fetcher
	parser  *Parser
}

// NewLibrary creates a list enumerator bound to the run's fetcher.
func NewLibrary(cfg *config.DoubanConfig, fetcher *Fetcher) *Library {
	return &Library{cfg: cfg, fetcher: fetcher, parser: NewParser()}
}

// ListURL builds the interest list URL for one page.
func (l *Library) ListURL(userID string, kind models.Kind, status string, start int) string {
	base := l.cfg.BaseURL
	if kind == models.KindBook {
		base = l.cfg.BookBaseURL
	}
	return fmt.Sprintf("%s/people/%s/%s?start=%d&sort=time&rating=all&filter=all&mode=grid",
		strings.TrimRight(base, "/"), userID, status, start)
}

// FetchPage fetches one list page and parses its entries. hasNext reports
// whether the paginator advertises a further page.
func (l *Library) FetchPage(ctx context.Context, userID string, kind models.Kind, status string, start int) ([]ListEntry, bool, error) {
	doc, err := l.fetcher.Fetch(ctx, l.ListURL(userID, kind, status, start))
	if err != nil {
		return nil, false, err
	}

	entries := parseListEntries(doc, kind, status)
	hasNext := doc.Find(".paginator .next a").Length() > 0
	return entries, hasNext, nil
}

var ratingClassRe = regexp.MustCompile(`rating(\d)-t`)

// parseListEntries extracts entries from a list document. Book lists use
// li.subject-item, movie/TV lists use div.item inside the grid view; both
// shapes are tried so vintage variations of either page keep parsing.
func parseListEntries(doc *goquery.Document, kind models.Kind, status string) []ListEntry {
	items := doc.Find("li.subject-item")
	if items.Length() == 0 {
		items = doc.Find(".grid-view div.item, div.article div.item")
	}

	var entries []ListEntry
	items.Each(func(_ int, item *goquery.Selection) {
		entry := ListEntry{
			Kind:       kind,
			MarkStatus: StatusLabel(kind, status),
		}

		link := item.Find(`a[href*="/subject/"]`).First()
		href := link.AttrOr("href", "")
		if m := subjectIDRe.FindStringSubmatch(href); len(m) == 2 {
			entry.ExternalID = m[1]
			entry.SubjectURL = href
		}
		entry.Title = collapseSpace(item.Find("h2 a, li.title a em, li.title a").First().Text())

		if cls, ok := item.Find(`span[class*="rating"]`).First().Attr("class"); ok {
			if m := ratingClassRe.FindStringSubmatch(cls); len(m) == 2 {
				entry.MarkRating = int(m[1][0] - '0')
			}
		}

		if date := collapseSpace(item.Find("span.date").First().Text()); date != "" {
			entry.MarkedAt = parseMarkDate(date)
		}

		tags := collapseSpace(item.Find("span.tags").First().Text())
		tags = strings.TrimSpace(strings.TrimPrefix(tags, "标签:"))
		entry.MarkTags = strings.TrimSpace(strings.TrimPrefix(tags, "标签"))

		entry.MarkComment = collapseSpace(item.Find("p.comment, span.comment").First().Text())

		// Entries with no resolvable subject reference are dropped here;
		// the orchestrator never sees them.
		if entry.ExternalID != "" {
			entries = append(entries, entry)
		}
	})

	return entries
}

// StatusLabel maps a list segment to the destination lifecycle label in
// Douban's per-kind vocabulary.
func StatusLabel(kind models.Kind, status string) string {
	labels := models.StatusOptions(kind)
	switch status {
	case "wish":
		return labels[0]
	case "do":
		return labels[1]
	case "collect":
		return labels[2]
	}
	return ""
}

// parseMarkDate parses the list page's mark date. Movie lists carry a bare
// date, book lists occasionally a trailing annotation; only the leading
// date token is used.
func parseMarkDate(s string) time.Time {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", fields[0])
	if err != nil {
		return time.Time{}
	}
	return t
}

// FetchRecord fetches one entry's subject detail page and extracts the
// canonical record, annotations included.
func (l *Library) FetchRecord(ctx context.Context, entry ListEntry) (*models.CanonicalRecord, error) {
	doc, err := l.fetcher.Fetch(ctx, l.SubjectURL(entry))
	if err != nil {
		return nil, err
	}
	return l.parser.Parse(doc, entry)
}

// SubjectURL builds a subject detail URL for a list entry whose href was
// relative or absent.
func (l *Library) SubjectURL(entry ListEntry) string {
	if strings.HasPrefix(entry.SubjectURL, "http") {
		return entry.SubjectURL
	}
	base := l.cfg.BaseURL
	if entry.Kind == models.KindBook {
		base = l.cfg.BookBaseURL
	}
	return fmt.Sprintf("%s/subject/%s/", strings.TrimRight(base, "/"), entry.ExternalID)
}
