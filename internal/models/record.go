// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package models

import "time"

// Kind identifies the Douban content taxonomy of a canonical record.
type Kind string

const (
	KindBook  Kind = "book"
	KindMovie Kind = "movie"
	KindTV    Kind = "tv"
)

// Valid reports whether k is a known content kind.
func (k Kind) Valid() bool {
	switch k {
	case KindBook, KindMovie, KindTV:
		return true
	}
	return false
}

// MultiValueDelimiter joins multi-valued attributes (regional release dates,
// authors, cast) into a single informational text field, preserving order.
const MultiValueDelimiter = " / "

// CanonicalRecord is the normalized, source-agnostic representation of one
// scraped Douban item plus the user's annotations on it.
//
// ExternalID is the Douban subject ID and is the reconciliation key: it is
// never empty and is stable across repeated fetches of the same item. Every
// other attribute is optional; an absent attribute is valid, not an error.
//
// CanonicalRecord is an immutable value object. Parsers produce it, the
// mapper reads it, nothing mutates it after construction.
type CanonicalRecord struct {
	ExternalID string `json:"external_id"`
	Kind       Kind   `json:"kind"`
	SubjectURL string `json:"subject_url,omitempty"`

	// Subject attributes. List-like source values (multiple directors,
	// multiple regional release dates) are serialized with
	// MultiValueDelimiter rather than reduced to a single value.
	Title       string `json:"title,omitempty"`
	OrigTitle   string `json:"orig_title,omitempty"`
	CoverURL    string `json:"cover_url,omitempty"`
	DoubanScore string `json:"douban_score,omitempty"`
	RatingCount string `json:"rating_count,omitempty"`
	Intro       string `json:"intro,omitempty"`
	Genres      string `json:"genres,omitempty"`

	// Book attributes.
	Author     string `json:"author,omitempty"`
	Translator string `json:"translator,omitempty"`
	Publisher  string `json:"publisher,omitempty"`
	PubDate    string `json:"pub_date,omitempty"`
	Pages      string `json:"pages,omitempty"`
	Price      string `json:"price,omitempty"`
	ISBN       string `json:"isbn,omitempty"`

	// Movie/TV attributes.
	Director     string `json:"director,omitempty"`
	Screenwriter string `json:"screenwriter,omitempty"`
	Cast         string `json:"cast,omitempty"`
	Region       string `json:"region,omitempty"`
	Language     string `json:"language,omitempty"`
	ReleaseDate  string `json:"release_date,omitempty"`
	Duration     string `json:"duration,omitempty"`
	EpisodeCount string `json:"episode_count,omitempty"`
	IMDbID       string `json:"imdb_id,omitempty"`

	// User annotations from the interest list entry.
	MarkStatus  string    `json:"mark_status,omitempty"` // one of the per-kind lifecycle labels
	MarkRating  int       `json:"mark_rating,omitempty"` // 1-5, 0 = unrated
	MarkTags    string    `json:"mark_tags,omitempty"`
	MarkComment string    `json:"mark_comment,omitempty"`
	MarkedAt    time.Time `json:"marked_at"`
}

// Attr returns the named canonical attribute as an untyped value, with ok
// reporting whether the attribute carries a value. Mapping rules address
// attributes by these names; an unknown name returns ok=false.
func (r *CanonicalRecord) Attr(name string) (any, bool) {
	switch name {
	case "external_id":
		return strOK(r.ExternalID)
	case "title":
		return strOK(r.Title)
	case "orig_title":
		return strOK(r.OrigTitle)
	case "subject_url":
		return strOK(r.SubjectURL)
	case "cover_url":
		return strOK(r.CoverURL)
	case "douban_score":
		return strOK(r.DoubanScore)
	case "rating_count":
		return strOK(r.RatingCount)
	case "intro":
		return strOK(r.Intro)
	case "genres":
		return strOK(r.Genres)
	case "author":
		return strOK(r.Author)
	case "translator":
		return strOK(r.Translator)
	case "publisher":
		return strOK(r.Publisher)
	case "pub_date":
		return strOK(r.PubDate)
	case "pages":
		return strOK(r.Pages)
	case "price":
		return strOK(r.Price)
	case "isbn":
		return strOK(r.ISBN)
	case "director":
		return strOK(r.Director)
	case "screenwriter":
		return strOK(r.Screenwriter)
	case "cast":
		return strOK(r.Cast)
	case "region":
		return strOK(r.Region)
	case "language":
		return strOK(r.Language)
	case "release_date":
		return strOK(r.ReleaseDate)
	case "duration":
		return strOK(r.Duration)
	case "episode_count":
		return strOK(r.EpisodeCount)
	case "imdb_id":
		return strOK(r.IMDbID)
	case "mark_status":
		return strOK(r.MarkStatus)
	case "mark_rating":
		if r.MarkRating == 0 {
			return nil, false
		}
		return r.MarkRating, true
	case "mark_tags":
		return strOK(r.MarkTags)
	case "mark_comment":
		return strOK(r.MarkComment)
	case "marked_at":
		if r.MarkedAt.IsZero() {
			return nil, false
		}
		return r.MarkedAt.Format("2006-01-02 15:04:05"), true
	}
	return nil, false
}

// KnownAttrs lists every attribute name Attr resolves. Mapping rules are
// checked against this set at startup so an orphaned rule fails fast.
func KnownAttrs() []string {
	return []string{
		"external_id", "title", "orig_title", "subject_url", "cover_url",
		"douban_score", "rating_count", "intro", "genres",
		"author", "translator", "publisher", "pub_date", "pages", "price", "isbn",
		"director", "screenwriter", "cast", "region", "language",
		"release_date", "duration", "episode_count", "imdb_id",
		"mark_status", "mark_rating", "mark_tags", "mark_comment", "marked_at",
	}
}

func strOK(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	return s, true
}
