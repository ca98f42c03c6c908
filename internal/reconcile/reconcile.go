// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package reconcile decides which fetched records still need to be written
// to the destination table. The sync is create-only: a record whose
// external id already exists in the table is skipped, never updated, so a
// re-run after a partial failure resumes without producing duplicates.
package reconcile

import (
	"github.com/tomtom215/shelfsync/internal/models"
)

// Plan partitions records by presence in the destination table.
// Order within each slice follows the input order.
type Plan struct {
	ToCreate []*models.CanonicalRecord
	ToSkip   []*models.CanonicalRecord
}

// Partition splits records against the set of external ids already present
// in the destination. Records with an empty external id are placed in
// ToSkip; they cannot be keyed and writing them would break idempotence.
func Partition(records []*models.CanonicalRecord, existing map[string]struct{}) Plan {
	plan := Plan{
		ToCreate: make([]*models.CanonicalRecord, 0, len(records)),
		ToSkip:   make([]*models.CanonicalRecord, 0),
	}
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if rec.ExternalID == "" {
			plan.ToSkip = append(plan.ToSkip, rec)
			continue
		}
		if _, ok := existing[rec.ExternalID]; ok {
			plan.ToSkip = append(plan.ToSkip, rec)
		} else {
			plan.ToCreate = append(plan.ToCreate, rec)
		}
	}
	return plan
}

// Exists reports whether a single external id is already present.
func Exists(externalID string, existing map[string]struct{}) bool {
	if externalID == "" {
		return false
	}
	_, ok := existing[externalID]
	return ok
}
