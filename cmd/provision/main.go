// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

// Package main is the table provisioning tool.
//
// It compares the destination Bitable schema against the field mapping for
// one content kind, creates the missing columns, and reports drift in the
// columns that already exist (wrong type, wrong status options). It never
// modifies or deletes an existing column; drift is reported for a human to
// resolve.
//
// Usage:
//
//	provision -kind book            # create missing columns for a book table
//	provision -kind movie -dry-run  # report only, change nothing
//
// The tool is idempotent: a second run against a fully provisioned table
// makes no API writes.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tomtom215/shelfsync/internal/config"
	"github.com/tomtom215/shelfsync/internal/contract"
	"github.com/tomtom215/shelfsync/internal/feishu"
	"github.com/tomtom215/shelfsync/internal/logging"
	"github.com/tomtom215/shelfsync/internal/mapper"
	"github.com/tomtom215/shelfsync/internal/models"
)

func main() {
	kindFlag := flag.String("kind", "", "content kind the table holds: book, movie or tv")
	dryRun := flag.Bool("dry-run", false, "report missing columns and drift without creating anything")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall deadline")
	flag.Parse()

	kind := models.Kind(*kindFlag)
	switch kind {
	case models.KindBook, models.KindMovie, models.KindTV:
	default:
		fmt.Fprintln(os.Stderr, "usage: provision -kind {book|movie|tv} [-dry-run]")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: "console",
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Provisioning always validates strictly: schema drift must surface
	// here, not during a sync.
	validator := contract.NewValidator(true, nil)
	client := feishu.NewClient(&cfg.Bitable, validator)

	existing, err := client.ListFields(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to introspect table schema")
	}

	byName := make(map[string]models.DestinationField, len(existing))
	for _, f := range existing {
		byName[f.DisplayName] = f
	}

	var created, drifted int
	for _, rule := range mapper.RulesFor(kind) {
		want := desiredField(rule, kind)

		have, ok := byName[rule.DisplayName]
		if !ok {
			if *dryRun {
				logging.Info().Str("field", rule.DisplayName).Str("type", string(want.Type)).Msg("Would create column")
				created++
				continue
			}
			if err := client.CreateField(ctx, want); err != nil {
				logging.Fatal().Err(err).Str("field", rule.DisplayName).Msg("Failed to create column")
			}
			logging.Info().Str("field", rule.DisplayName).Str("type", string(want.Type)).Msg("Column created")
			created++
			continue
		}

		drifted += reportDrift(rule.DisplayName, want, have)
	}

	logging.Info().
		Str("kind", string(kind)).
		Int("created", created).
		Int("drifted", drifted).
		Bool("dry_run", *dryRun).
		Msg("Provisioning finished")

	if drifted > 0 {
		os.Exit(1)
	}
}

// desiredField builds the column spec the mapping expects for one rule.
func desiredField(rule models.FieldMappingRule, kind models.Kind) models.DestinationField {
	df := models.DestinationField{
		DisplayName: rule.DisplayName,
		Type:        rule.Type,
	}
	switch rule.Type {
	case models.FieldSingleSelect:
		df.Options = models.StatusOptions(kind)
	case models.FieldRating:
		df.HasRange = true
		df.Min = 1
		df.Max = 5
	}
	return df
}

// reportDrift logs mismatches between the expected and actual column and
// returns 1 if any were found.
func reportDrift(name string, want, have models.DestinationField) int {
	if have.Type != want.Type {
		logging.Warn().
			Str("field", name).
			Str("want_type", string(want.Type)).
			Str("have_type", string(have.Type)).
			Msg("Column type drift")
		return 1
	}

	if want.Type == models.FieldSingleSelect {
		for _, opt := range want.Options {
			if !have.PermitsOption(opt) {
				logging.Warn().
					Str("field", name).
					Str("missing_option", opt).
					Strs("have_options", have.Options).
					Msg("Status option missing")
				return 1
			}
		}
	}
	return 0
}
