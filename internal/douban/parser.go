// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package douban

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/tomtom215/shelfsync/internal/models"
)

var subjectIDRe = regexp.MustCompile(`/subject/(\d+)`)

// durationRe is the last-resort duration fallback over the raw info block.
var durationRe = regexp.MustCompile(`片长[:：]?\s*([^\n/]+)`)

// Parser converts one subject page into a canonical record. Parsers are
// stateless; one instance serves a whole run.
type Parser struct{}

// NewParser creates a subject page parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse extracts a CanonicalRecord from a fetched subject document.
//
// Every attribute is optional: a strategy chain that yields nothing leaves
// the attribute unset. The only hard requirement is the external ID; when
// neither the entry hint nor the page can resolve it, Parse returns
// models.ErrParseIncomplete and the item is failed without touching the
// rest of the run.
//
// The entry's user annotations (status, rating, tags, comment, mark date)
// are carried onto the record unchanged; they come from the interest list,
// not the subject page.
func (p *Parser) Parse(doc *goquery.Document, entry ListEntry) (*models.CanonicalRecord, error) {
	externalID := entry.ExternalID
	if externalID == "" {
		externalID = resolveSubjectID(doc)
	}
	if externalID == "" {
		return nil, fmt.Errorf("subject url missing on page: %w", models.ErrParseIncomplete)
	}

	rec := &models.CanonicalRecord{
		ExternalID: externalID,
		Kind:       entry.Kind,
		SubjectURL: entry.SubjectURL,

		MarkStatus:  entry.MarkStatus,
		MarkRating:  entry.MarkRating,
		MarkTags:    entry.MarkTags,
		MarkComment: entry.MarkComment,
		MarkedAt:    entry.MarkedAt,
	}
	if rec.SubjectURL == "" {
		rec.SubjectURL = metaProperty("og:url")(doc)
	}

	p.parseCommon(doc, rec)
	switch entry.Kind {
	case models.KindBook:
		p.parseBook(doc, rec)
	default:
		p.parseFilm(doc, rec)
	}

	return rec, nil
}

// parseCommon extracts the attributes shared by every kind.
func (p *Parser) parseCommon(doc *goquery.Document, rec *models.CanonicalRecord) {
	rec.Title = firstNonEmpty(doc,
		metaProperty("og:title"),
		selectorFirst(`h1 span[property="v:itemreviewed"]`),
		selectorFirst("h1"),
	)
	rec.DoubanScore = firstNonEmpty(doc,
		selectorFirst(`[property="v:average"]`),
		selectorFirst("strong.rating_num"),
	)
	rec.RatingCount = firstNonEmpty(doc,
		selectorFirst(`[property="v:votes"]`),
		selectorFirst("a.rating_people span"),
	)
	rec.CoverURL = firstNonEmpty(doc,
		metaProperty("og:image"),
		func(doc *goquery.Document) string {
			return doc.Find("#mainpic img").First().AttrOr("src", "")
		},
	)
	rec.Intro = firstNonEmpty(doc,
		selectorFirst(`span[property="v:summary"]`),
		selectorFirst("#link-report .intro"),
		selectorFirst(".related_info .intro"),
	)
	rec.Intro = collapseIntro(rec.Intro)
}

// parseFilm extracts movie/TV attributes.
func (p *Parser) parseFilm(doc *goquery.Document, rec *models.CanonicalRecord) {
	rec.Genres = firstNonEmpty(doc,
		selectorAll(`span[property="v:genre"]`),
		labeledText("类型"),
	)
	rec.Director = firstNonEmpty(doc,
		selectorAll(`a[rel="v:directedBy"]`),
		labeledText("导演"),
	)
	rec.Screenwriter = firstNonEmpty(doc,
		labeledText("编剧"),
	)
	rec.Cast = firstNonEmpty(doc,
		selectorAll(`a[rel="v:starring"]`),
		labeledText("主演"),
	)
	rec.Region = firstNonEmpty(doc,
		labeledText("制片国家/地区"),
		labeledText("地区"),
	)
	rec.Language = firstNonEmpty(doc,
		labeledText("语言"),
	)
	// All regional release entries are preserved, order intact; the
	// destination treats the field as informational text.
	rec.ReleaseDate = firstNonEmpty(doc,
		selectorAll(`span[property="v:initialReleaseDate"]`),
		labeledText("上映日期"),
		labeledText("首播"),
	)
	rec.Duration = firstNonEmpty(doc,
		selectorFirst(`span[property="v:runtime"]`),
		labeledText("片长"),
		labeledText("单集片长"),
		infoRegex(durationRe),
	)
	rec.EpisodeCount = firstNonEmpty(doc,
		labeledText("集数"),
	)
	rec.IMDbID = firstNonEmpty(doc,
		labeledText("IMDb"),
	)
	rec.OrigTitle = firstNonEmpty(doc,
		labeledText("又名"),
	)
}

// parseBook extracts book attributes. Book pages carry no microdata; the
// labeled info lines are the primary markup shape.
func (p *Parser) parseBook(doc *goquery.Document, rec *models.CanonicalRecord) {
	rec.Author = firstNonEmpty(doc,
		labeledText("作者"),
	)
	rec.Translator = firstNonEmpty(doc,
		labeledText("译者"),
	)
	rec.Publisher = firstNonEmpty(doc,
		labeledText("出版社"),
	)
	rec.PubDate = firstNonEmpty(doc,
		labeledText("出版年"),
	)
	rec.Pages = firstNonEmpty(doc,
		labeledText("页数"),
	)
	rec.Price = firstNonEmpty(doc,
		labeledText("定价"),
	)
	rec.ISBN = firstNonEmpty(doc,
		labeledText("ISBN"),
	)
	rec.OrigTitle = firstNonEmpty(doc,
		labeledText("原作名"),
	)
}

// resolveSubjectID pulls the numeric subject ID out of the page's own URL
// references (og:url, then the canonical link).
func resolveSubjectID(doc *goquery.Document) string {
	for _, raw := range []string{
		metaProperty("og:url")(doc),
		doc.Find(`link[rel="canonical"]`).First().AttrOr("href", ""),
	} {
		if m := subjectIDRe.FindStringSubmatch(raw); len(m) == 2 {
			return m[1]
		}
	}
	return ""
}

// collapseIntro normalizes a multi-paragraph intro into single-newline
// separated paragraphs with collapsed internal whitespace.
func collapseIntro(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = collapseSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
