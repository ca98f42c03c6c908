// Shelfsync - Douban Media Library to Bitable Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shelfsync

package mapper

import (
	"fmt"

	"github.com/tomtom215/shelfsync/internal/models"
)

// Static mapping tables binding canonical attributes to destination
// columns. Rules are per kind; the common rules apply to every kind.
//
// Display names are the Bitable column names the provisioning tool
// creates. Changing a name here without re-provisioning orphans the rule,
// which ValidateRules catches at startup.

var commonRules = []models.FieldMappingRule{
	{SourceAttr: "external_id", DisplayName: "ID", Type: models.FieldText},
	{SourceAttr: "title", DisplayName: "标题", Type: models.FieldText},
	{SourceAttr: "orig_title", DisplayName: "原名", Type: models.FieldText},
	{SourceAttr: "subject_url", DisplayName: "条目链接", Type: models.FieldURL},
	{SourceAttr: "cover_url", DisplayName: "封面", Type: models.FieldURL},
	{SourceAttr: "douban_score", DisplayName: "豆瓣评分", Type: models.FieldNumber},
	{SourceAttr: "rating_count", DisplayName: "评分人数", Type: models.FieldNumber},
	{SourceAttr: "intro", DisplayName: "简介", Type: models.FieldText},
	{SourceAttr: "mark_status", DisplayName: "状态", Type: models.FieldSingleSelect},
	{SourceAttr: "mark_rating", DisplayName: "我的评分", Type: models.FieldRating},
	{SourceAttr: "mark_tags", DisplayName: "标签", Type: models.FieldText},
	{SourceAttr: "mark_comment", DisplayName: "短评", Type: models.FieldText},
	{SourceAttr: "marked_at", DisplayName: "标记时间", Type: models.FieldDateTime},
}

var bookRules = []models.FieldMappingRule{
	{SourceAttr: "author", DisplayName: "作者", Type: models.FieldText},
	{SourceAttr: "translator", DisplayName: "译者", Type: models.FieldText},
	{SourceAttr: "publisher", DisplayName: "出版社", Type: models.FieldText},
	{SourceAttr: "pub_date", DisplayName: "出版年", Type: models.FieldText},
	{SourceAttr: "pages", DisplayName: "页数", Type: models.FieldText},
	{SourceAttr: "price", DisplayName: "定价", Type: models.FieldText},
	{SourceAttr: "isbn", DisplayName: "ISBN", Type: models.FieldText},
}

var filmRules = []models.FieldMappingRule{
	{SourceAttr: "genres", DisplayName: "类型", Type: models.FieldText},
	{SourceAttr: "director", DisplayName: "导演", Type: models.FieldText},
	{SourceAttr: "screenwriter", DisplayName: "编剧", Type: models.FieldText},
	{SourceAttr: "cast", DisplayName: "主演", Type: models.FieldText},
	{SourceAttr: "region", DisplayName: "制片地区", Type: models.FieldText},
	{SourceAttr: "language", DisplayName: "语言", Type: models.FieldText},
	// Release dates stay informational text: all regional entries are
	// preserved, which a date-typed column could not represent.
	{SourceAttr: "release_date", DisplayName: "上映日期", Type: models.FieldText},
	{SourceAttr: "duration", DisplayName: "片长", Type: models.FieldText},
	{SourceAttr: "imdb_id", DisplayName: "IMDb", Type: models.FieldText},
}

var tvRules = append([]models.FieldMappingRule{
	{SourceAttr: "episode_count", DisplayName: "集数", Type: models.FieldText},
}, filmRules...)

// RulesFor returns the mapping rules for one content kind.
func RulesFor(kind models.Kind) []models.FieldMappingRule {
	rules := append([]models.FieldMappingRule(nil), commonRules...)
	switch kind {
	case models.KindBook:
		return append(rules, bookRules...)
	case models.KindTV:
		return append(rules, tvRules...)
	default:
		return append(rules, filmRules...)
	}
}

// ValidateRules checks that every rule references a known canonical
// attribute and a non-empty destination name. An orphaned rule is a
// programming error surfaced at startup, not at item time.
func ValidateRules(rules []models.FieldMappingRule) error {
	known := make(map[string]bool, len(models.KnownAttrs()))
	for _, a := range models.KnownAttrs() {
		known[a] = true
	}
	seen := make(map[string]string, len(rules))
	for _, r := range rules {
		if !known[r.SourceAttr] {
			return fmt.Errorf("mapping rule %q -> %q references unknown attribute", r.SourceAttr, r.DisplayName)
		}
		if r.DisplayName == "" {
			return fmt.Errorf("mapping rule %q has empty destination name", r.SourceAttr)
		}
		if prev, dup := seen[r.DisplayName]; dup {
			return fmt.Errorf("destination %q mapped from both %q and %q", r.DisplayName, prev, r.SourceAttr)
		}
		seen[r.DisplayName] = r.SourceAttr
	}
	return nil
}
