// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package feishu

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tomtom215/shelfsync/internal/contract"
	"github.com/tomtom215/shelfsync/internal/models"
)

// Bitable numeric field type codes as reported by the fields API.
const (
	bitableTypeText         = 1
	bitableTypeNumber       = 2
	bitableTypeSingleSelect = 3
	bitableTypeDateTime     = 5
	bitableTypeURL          = 15
	bitableTypeRating       = 1004
)

// fieldProperty carries the type-specific settings of a Bitable field.
// Only the parts the sync cares about are decoded.
type fieldProperty struct {
	Options []struct {
		Name string `json:"name"`
	} `json:"options,omitempty"`
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

type bitableField struct {
	FieldID   string         `json:"field_id,omitempty"`
	FieldName string         `json:"field_name"`
	Type      int            `json:"type"`
	Property  *fieldProperty `json:"property,omitempty"`
}

type listFieldsResponse struct {
	Data struct {
		HasMore   bool           `json:"has_more"`
		PageToken string         `json:"page_token"`
		Items     []bitableField `json:"items"`
	} `json:"data"`
}

// ListFields fetches the destination table schema, following pagination.
// Fields with a type code the sync cannot coerce into are skipped; the
// mapper will then treat rules targeting them as unmapped and drop values.
func (c *Client) ListFields(ctx context.Context) ([]models.DestinationField, error) {
	var out []models.DestinationField
	pageToken := ""
	for {
		path := c.tablePath("fields") + "?page_size=100"
		if pageToken != "" {
			path += "&page_token=" + pageToken
		}

		var resp listFieldsResponse
		if err := c.doRequest(ctx, http.MethodGet, path, nil, contract.EndpointListFields, &resp); err != nil {
			return nil, fmt.Errorf("list fields: %w", err)
		}

		for _, item := range resp.Data.Items {
			df, ok := destinationField(item)
			if !ok {
				continue
			}
			out = append(out, df)
		}

		if !resp.Data.HasMore || resp.Data.PageToken == "" {
			break
		}
		pageToken = resp.Data.PageToken
	}
	return out, nil
}

// CreateField adds a field to the destination table. Used by the
// provisioning tool, not the sync path.
func (c *Client) CreateField(ctx context.Context, df models.DestinationField) error {
	payload := map[string]any{
		"field_name": df.DisplayName,
		"type":       bitableType(df.Type),
	}
	if prop := fieldPropertyFor(df); prop != nil {
		payload["property"] = prop
	}
	if err := c.doRequest(ctx, http.MethodPost, c.tablePath("fields"), payload, contract.EndpointCreateField, nil); err != nil {
		return fmt.Errorf("create field %q: %w", df.DisplayName, err)
	}
	return nil
}

// destinationField converts an API field into the sync's schema model.
func destinationField(item bitableField) (models.DestinationField, bool) {
	df := models.DestinationField{
		FieldID:     item.FieldID,
		DisplayName: item.FieldName,
	}
	switch item.Type {
	case bitableTypeText:
		df.Type = models.FieldText
	case bitableTypeNumber:
		df.Type = models.FieldNumber
	case bitableTypeSingleSelect:
		df.Type = models.FieldSingleSelect
	case bitableTypeDateTime:
		df.Type = models.FieldDateTime
	case bitableTypeURL:
		df.Type = models.FieldURL
	case bitableTypeRating:
		df.Type = models.FieldRating
	default:
		return models.DestinationField{}, false
	}

	if item.Property != nil {
		for _, opt := range item.Property.Options {
			df.Options = append(df.Options, opt.Name)
		}
		if item.Property.Min != nil && item.Property.Max != nil {
			df.HasRange = true
			df.Min = *item.Property.Min
			df.Max = *item.Property.Max
		}
	}
	return df, true
}

// bitableType maps a schema field type back to the API type code.
func bitableType(t models.FieldType) int {
	switch t {
	case models.FieldNumber:
		return bitableTypeNumber
	case models.FieldRating:
		return bitableTypeRating
	case models.FieldSingleSelect:
		return bitableTypeSingleSelect
	case models.FieldDateTime:
		return bitableTypeDateTime
	case models.FieldURL:
		return bitableTypeURL
	default:
		return bitableTypeText
	}
}

// fieldPropertyFor builds the creation property block for typed fields.
func fieldPropertyFor(df models.DestinationField) map[string]any {
	switch df.Type {
	case models.FieldSingleSelect:
		opts := make([]map[string]any, 0, len(df.Options))
		for _, name := range df.Options {
			opts = append(opts, map[string]any{"name": name})
		}
		return map[string]any{"options": opts}
	case models.FieldRating:
		max := df.Max
		if !df.HasRange {
			max = 5
		}
		return map[string]any{"rating": map[string]any{"symbol": "star"}, "max": max}
	case models.FieldDateTime:
		return map[string]any{"date_formatter": "yyyy/MM/dd HH:mm"}
	default:
		return nil
	}
}
