// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package mapper converts canonical records into destination-shaped field
// maps, applying per-type coercion and dropping values that fail it.
//
// A dropped field is not an error: the item is still written with its
// remaining fields, and the drops are returned so the orchestrator can
// count them. The one rule enforced without exception is that a
// single-select output is always a member of the field's declared option
// set; a non-matching value is dropped rather than letting the destination
// create a new option implicitly.
package mapper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/shelfsync/internal/metrics"
	"github.com/tomtom215/shelfsync/internal/models"
)

// DroppedField describes one field that failed coercion.
type DroppedField struct {
	SourceAttr  string `json:"source_attr"`
	DisplayName string `json:"display_name"`
	Reason      string `json:"reason"`
}

// Mapper applies a static rule set against a destination schema.
type Mapper struct {
	rules  []models.FieldMappingRule
	schema map[string]models.DestinationField // by display name
}

// New creates a mapper for one kind against the introspected table schema.
// Returns an error if the rule set itself is inconsistent.
func New(kind models.Kind, schema []models.DestinationField) (*Mapper, error) {
	rules := RulesFor(kind)
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	byName := make(map[string]models.DestinationField, len(schema))
	for _, f := range schema {
		byName[f.DisplayName] = f
	}
	return &Mapper{rules: rules, schema: byName}, nil
}

// Map converts one canonical record into destination fields keyed by
// display name. Absent canonical attributes emit no key at all: the
// destination treats an absent key as "leave unchanged" on update and
// "empty" on create.
func (m *Mapper) Map(rec *models.CanonicalRecord) (map[string]any, []DroppedField) {
	fields := make(map[string]any, len(m.rules))
	var dropped []DroppedField

	for _, rule := range m.rules {
		raw, ok := rec.Attr(rule.SourceAttr)
		if !ok {
			continue // absent is valid, no key emitted
		}

		dest, ok := m.schema[rule.DisplayName]
		if !ok {
			dropped = append(dropped, m.drop(rule, "destination field not in table schema"))
			continue
		}

		value, err := coerce(raw, rule.Type, &dest)
		if err != nil {
			dropped = append(dropped, m.drop(rule, err.Error()))
			continue
		}
		fields[rule.DisplayName] = value
	}

	return fields, dropped
}

func (m *Mapper) drop(rule models.FieldMappingRule, reason string) DroppedField {
	metrics.CoercionDropped.WithLabelValues(string(rule.Type), "coercion").Inc()
	return DroppedField{
		SourceAttr:  rule.SourceAttr,
		DisplayName: rule.DisplayName,
		Reason:      reason,
	}
}

// coerce converts a canonical value into the destination type.
func coerce(raw any, t models.FieldType, dest *models.DestinationField) (any, error) {
	switch t {
	case models.FieldText:
		return normalizeText(toString(raw)), nil
	case models.FieldNumber:
		return coerceNumber(raw, dest)
	case models.FieldRating:
		return coerceRating(raw, dest)
	case models.FieldSingleSelect:
		return coerceSelect(toString(raw), dest)
	case models.FieldDateTime:
		return coerceDateTime(toString(raw))
	case models.FieldURL:
		return coerceURL(toString(raw))
	}
	return nil, fmt.Errorf("unsupported field type %q", t)
}

// coerceNumber parses a numeric value and enforces the destination's
// declared range. An out-of-range value is dropped, never clamped: a
// nonsensical source value silently clamped to a boundary would read as a
// legitimate measurement.
func coerceNumber(raw any, dest *models.DestinationField) (any, error) {
	n, err := toFloat(raw)
	if err != nil {
		return nil, fmt.Errorf("not numeric: %v", raw)
	}
	if dest.HasRange && (n < dest.Min || n > dest.Max) {
		return nil, fmt.Errorf("value %v outside [%v, %v]", n, dest.Min, dest.Max)
	}
	return n, nil
}

// coerceRating is coerceNumber with the rating default domain of 1-5 when
// the field declares no range of its own, emitted as an integer.
func coerceRating(raw any, dest *models.DestinationField) (any, error) {
	minV, maxV := 1.0, 5.0
	if dest.HasRange {
		minV, maxV = dest.Min, dest.Max
	}
	n, err := toFloat(raw)
	if err != nil {
		return nil, fmt.Errorf("not numeric: %v", raw)
	}
	if n < minV || n > maxV {
		return nil, fmt.Errorf("rating %v outside [%v, %v]", n, minV, maxV)
	}
	return int(n), nil
}

// coerceSelect requires an exact, case-sensitive match against the
// declared option set.
func coerceSelect(value string, dest *models.DestinationField) (any, error) {
	value = strings.TrimSpace(value)
	if !dest.PermitsOption(value) {
		return nil, fmt.Errorf("%q is not a permitted option of %q", value, dest.DisplayName)
	}
	return value, nil
}

// dateLayouts are tried in order against the source's textual dates.
var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006-01",
}

var bareYearRe = regexp.MustCompile(`^\d{4}$`)

// coerceDateTime parses a textual date into epoch milliseconds (UTC). A
// bare year is promoted to January 1st of that year before parsing.
func coerceDateTime(value string) (any, error) {
	value = strings.TrimSpace(value)
	if bareYearRe.MatchString(value) {
		value = value + "-01-01"
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return nil, fmt.Errorf("unparseable date %q", value)
}

// coerceURL accepts only absolute http(s) URLs.
func coerceURL(value string) (any, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		return nil, fmt.Errorf("%q is not an http(s) url", value)
	}
	return value, nil
}

var textSpaceRun = regexp.MustCompile(`[ \t]+`)

// normalizeText trims the value and collapses internal space runs while
// preserving intentional line breaks (multi-paragraph intros).
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(textSpaceRun.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func toString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", raw)
	}
}
