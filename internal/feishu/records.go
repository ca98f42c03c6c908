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
)

// ExternalIDField is the display name of the column holding the source
// subject identifier. Reconciliation keys on this column.
const ExternalIDField = "ID"

type createRecordResponse struct {
	Data struct {
		Record struct {
			RecordID string         `json:"record_id"`
			Fields   map[string]any `json:"fields"`
		} `json:"record"`
	} `json:"data"`
}

// CreateRecord appends one row to the destination table and returns its
// record id. Fields are keyed by display name.
func (c *Client) CreateRecord(ctx context.Context, fields map[string]any) (string, error) {
	payload := map[string]any{"fields": fields}
	var resp createRecordResponse
	if err := c.doRequest(ctx, http.MethodPost, c.tablePath("records"), payload, contract.EndpointCreateRecord, &resp); err != nil {
		return "", fmt.Errorf("create record: %w", err)
	}
	return resp.Data.Record.RecordID, nil
}

type listRecordsResponse struct {
	Data struct {
		HasMore   bool   `json:"has_more"`
		PageToken string `json:"page_token"`
		Total     int    `json:"total"`
		Items     []struct {
			RecordID string         `json:"record_id"`
			Fields   map[string]any `json:"fields"`
		} `json:"items"`
	} `json:"data"`
}

// ListExternalIDs scans every row of the destination table and returns the
// set of external ids already present. Rows without the id column, or with
// a non-text value in it, are ignored.
func (c *Client) ListExternalIDs(ctx context.Context) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	pageToken := ""
	for {
		path := c.tablePath("records") + "?page_size=500"
		if pageToken != "" {
			path += "&page_token=" + pageToken
		}

		var resp listRecordsResponse
		if err := c.doRequest(ctx, http.MethodGet, path, nil, contract.EndpointListRecords, &resp); err != nil {
			return nil, fmt.Errorf("list records: %w", err)
		}

		for _, item := range resp.Data.Items {
			if id := textValue(item.Fields[ExternalIDField]); id != "" {
				ids[id] = struct{}{}
			}
		}

		if !resp.Data.HasMore || resp.Data.PageToken == "" {
			break
		}
		pageToken = resp.Data.PageToken
	}
	return ids, nil
}

// textValue extracts the plain text of a Bitable cell value. Text cells
// come back either as a string or as a list of rich-text segments.
func textValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []any:
		out := ""
		for _, seg := range val {
			if m, ok := seg.(map[string]any); ok {
				if s, ok := m["text"].(string); ok {
					out += s
				}
			}
		}
		return out
	default:
		return ""
	}
}
