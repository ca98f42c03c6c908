// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package contract

// Endpoint identifiers for every destination API call the pipeline makes.
// The failure log and metrics are keyed by these.
const (
	EndpointTenantToken  = "auth.tenant_access_token"
	EndpointListFields   = "bitable.fields.list"
	EndpointCreateRecord = "bitable.records.create"
	EndpointListRecords  = "bitable.records.list"
	EndpointCreateField  = "bitable.fields.create"
)

// Expected response shapes, declared as structs with validate tags.
// Fields that must be present use pointers so that zero values (code 0,
// empty msg) still count as present while a missing key fails validation.

// envelope is the common Bitable response wrapper. Every endpoint shape
// embeds it.
type envelope struct {
	Code *int    `json:"code" validate:"required"`
	Msg  *string `json:"msg" validate:"required"`
}

type tokenShape struct {
	Code              *int    `json:"code" validate:"required"`
	Msg               *string `json:"msg" validate:"required"`
	TenantAccessToken *string `json:"tenant_access_token" validate:"required"`
	Expire            *int64  `json:"expire" validate:"required"`
}

type fieldShape struct {
	FieldID   *string `json:"field_id" validate:"required"`
	FieldName *string `json:"field_name" validate:"required"`
	Type      *int    `json:"type" validate:"required"`
}

type listFieldsShape struct {
	envelope
	Data *struct {
		Items []fieldShape `json:"items" validate:"required,dive"`
	} `json:"data" validate:"required"`
}

type createRecordShape struct {
	envelope
	Data *struct {
		Record *struct {
			RecordID *string `json:"record_id" validate:"required"`
		} `json:"record" validate:"required"`
	} `json:"data" validate:"required"`
}

type listRecordsShape struct {
	envelope
	Data *struct {
		HasMore *bool `json:"has_more" validate:"required"`
		Items   []struct {
			RecordID *string        `json:"record_id" validate:"required"`
			Fields   map[string]any `json:"fields"`
		} `json:"items" validate:"dive"`
	} `json:"data" validate:"required"`
}

type createFieldShape struct {
	envelope
	Data *struct {
		Field *fieldShape `json:"field" validate:"required"`
	} `json:"data" validate:"required"`
}

// shapeFor returns a fresh shape value for the endpoint, or the bare
// envelope for endpoints with no deeper declaration.
func shapeFor(endpointID string) any {
	switch endpointID {
	case EndpointTenantToken:
		return &tokenShape{}
	case EndpointListFields:
		return &listFieldsShape{}
	case EndpointCreateRecord:
		return &createRecordShape{}
	case EndpointListRecords:
		return &listRecordsShape{}
	case EndpointCreateField:
		return &createFieldShape{}
	default:
		return &envelope{}
	}
}
