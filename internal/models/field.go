// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package models

// FieldType enumerates the destination column types Shelfsync writes to.
// The destination taxonomy is fixed; anything else in the table schema is
// ignored by the mapper.
type FieldType string

const (
	FieldText         FieldType = "text"
	FieldNumber       FieldType = "number"
	FieldRating       FieldType = "rating"
	FieldSingleSelect FieldType = "single_select"
	FieldDateTime     FieldType = "date_time"
	FieldURL          FieldType = "url"
)

// DestinationField describes one column of the Bitable table.
//
// For single-select fields, Options is the closed set of permitted labels.
// For the status field that set is exactly the three lifecycle states of the
// kind being synced; any other label in the table is a data-quality defect
// to be reported by the provisioning tool, never an option to create
// silently during a sync.
type DestinationField struct {
	FieldID     string    `json:"field_id"`
	DisplayName string    `json:"display_name"`
	Type        FieldType `json:"type"`
	Options     []string  `json:"options,omitempty"`

	// Min/Max bound number and rating fields. They are only meaningful
	// when HasRange is true.
	HasRange bool    `json:"has_range,omitempty"`
	Min      float64 `json:"min,omitempty"`
	Max      float64 `json:"max,omitempty"`
}

// PermitsOption reports whether label is a member of the field's declared
// option set. Matching is exact and case-sensitive.
func (f *DestinationField) PermitsOption(label string) bool {
	for _, opt := range f.Options {
		if opt == label {
			return true
		}
	}
	return false
}

// StatusOptions returns the exact lifecycle option set for the status
// single-select of the given kind: want / in-progress / done in Douban's
// per-kind vocabulary.
func StatusOptions(kind Kind) []string {
	if kind == KindBook {
		return []string{"想读", "在读", "读过"}
	}
	return []string{"想看", "在看", "看过"}
}

// FieldMappingRule binds one CanonicalRecord attribute to one destination
// column. Rules are static per kind and are immutable value objects; the
// coercion applied is determined by Type.
type FieldMappingRule struct {
	// SourceAttr is a CanonicalRecord attribute name (see KnownAttrs).
	SourceAttr string
	// DisplayName is the destination column's display name.
	DisplayName string
	// Type selects the coercion: text, number, rating, single_select,
	// date_time or url.
	Type FieldType
}
