// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package douban

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/tomtom215/shelfsync/internal/models"
)

// strategy extracts one attribute value from a document, returning "" when
// the attribute is not present in the markup shape this strategy targets.
//
// Attributes are declared as ordered strategy chains: a structured
// microdata selector first, then a labeled text line, then a regex over the
// raw info block. Douban markup varies across item vintages; the chain
// makes each attribute tolerant of that skew.
type strategy func(doc *goquery.Document) string

// firstNonEmpty evaluates strategies in order and returns the first
// non-empty result.
func firstNonEmpty(doc *goquery.Document, strategies ...strategy) string {
	for _, s := range strategies {
		if v := strings.TrimSpace(s(doc)); v != "" {
			return v
		}
	}
	return ""
}

// metaProperty reads <meta property="..." content="...">.
func metaProperty(prop string) strategy {
	sel := `meta[property="` + prop + `"]`
	return func(doc *goquery.Document) string {
		return doc.Find(sel).First().AttrOr("content", "")
	}
}

// selectorFirst returns the text of the first node matching sel.
func selectorFirst(sel string) strategy {
	return func(doc *goquery.Document) string {
		return doc.Find(sel).First().Text()
	}
}

// selectorAll joins the text of every node matching sel, preserving
// document order. Multi-valued attributes (regional release dates, several
// directors) keep all values rather than picking one.
func selectorAll(sel string) strategy {
	return func(doc *goquery.Document) string {
		var values []string
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			if v := strings.TrimSpace(s.Text()); v != "" {
				values = append(values, v)
			}
		})
		return strings.Join(values, models.MultiValueDelimiter)
	}
}

// labeledText finds the info line introduced by a "label:" span and
// returns everything after the label, e.g. 片长: 6分03秒 -> "6分03秒".
func labeledText(label string) strategy {
	return func(doc *goquery.Document) string {
		for _, line := range infoLines(doc) {
			if v, ok := stripLabel(line, label); ok {
				return v
			}
		}
		return ""
	}
}

// infoRegex applies re to the newline-joined info block and returns the
// first capture group. Last-resort fallback for markup with no structure
// at all.
func infoRegex(re *regexp.Regexp) strategy {
	return func(doc *goquery.Document) string {
		m := re.FindStringSubmatch(strings.Join(infoLines(doc), "\n"))
		if len(m) < 2 {
			return ""
		}
		return m[1]
	}
}

// stripLabel removes a leading "label:" (ASCII or fullwidth colon) from
// line. ok is false when line does not start with the label.
func stripLabel(line, label string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, label) {
		return "", false
	}
	rest := strings.TrimPrefix(line, label)
	rest = strings.TrimLeft(rest, ":： ")
	return strings.TrimSpace(rest), true
}

// infoLines renders the #info block as logical lines. Douban separates
// info entries with <br>, which contributes nothing to goquery's Text(),
// so the node tree is walked directly and a new line starts at every <br>.
func infoLines(doc *goquery.Document) []string {
	info := doc.Find("#info").First()
	if info.Length() == 0 {
		return nil
	}

	var lines []string
	var current strings.Builder

	flush := func() {
		if line := collapseSpace(current.String()); line != "" {
			lines = append(lines, line)
		}
		current.Reset()
	}

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "br" {
				flush()
				continue
			}
			if c.Type == html.TextNode {
				current.WriteString(c.Data)
				continue
			}
			walk(c)
		}
	}
	walk(info.Get(0))
	flush()

	return lines
}

var spaceRun = regexp.MustCompile(`\s+`)

// collapseSpace trims and collapses internal whitespace runs to one space.
func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}
