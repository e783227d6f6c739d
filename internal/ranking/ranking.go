// Package ranking orders colors and derives the parent/child hierarchy per security.
package ranking

import (
	"log/slog"
	"sort"

	"github.com/Veraticus/color-pulse/internal/model"
)

// Less reports whether color a ranks ahead of color b: newer date first, then lower
// rank hint, then lower price. A color without a price ranks after any priced color
// with the same date and rank hint.
func Less(a, b model.Color) bool {
	if !a.AsOfDate.Equal(b.AsOfDate) {
		return a.AsOfDate.After(b.AsOfDate)
	}
	if a.RankHint != b.RankHint {
		return a.RankHint < b.RankHint
	}
	switch {
	case a.Price.Valid && b.Price.Valid:
		return a.Price.Decimal.LessThan(b.Price.Decimal)
	case a.Price.Valid:
		return true
	default:
		return false
	}
}

// Sort returns the colors in rank order. Ties keep their input order. The input
// slice is not modified.
func Sort(rows []model.Color) []model.Color {
	sorted := make([]model.Color, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		return Less(sorted[i], sorted[j])
	})
	return sorted
}

// RankAndGroup sorts the colors and marks the best color of every security as the
// parent of the others. The result stays in global rank order, so parents and
// children of different securities are interleaved. Colors without a security key
// are each their own group.
func RankAndGroup(rows []model.Color) []model.RankedColor {
	if len(rows) == 0 {
		return []model.RankedColor{}
	}

	sorted := Sort(rows)
	ranked := make([]model.RankedColor, len(sorted))

	// Index of the parent within ranked, per security key.
	parents := make(map[string]int)

	for i, c := range sorted {
		ranked[i] = model.RankedColor{Color: c.Clone()}

		if c.SecurityKey == "" {
			ranked[i].IsParent = true
			continue
		}

		if p, ok := parents[c.SecurityKey]; ok {
			ranked[i].ParentID = ranked[p].ID
			ranked[p].ChildCount++
			continue
		}

		parents[c.SecurityKey] = i
		ranked[i].IsParent = true
	}

	slog.Debug("Ranked colors",
		"total", len(ranked),
		"groups", len(parents))

	return ranked
}

// Parents returns only the best color of each group, in rank order.
func Parents(ranked []model.RankedColor) []model.RankedColor {
	out := make([]model.RankedColor, 0, len(ranked))
	for _, r := range ranked {
		if r.IsParent {
			out = append(out, r)
		}
	}
	return out
}

// Children returns the colors grouped under the given parent ID, in rank order.
func Children(ranked []model.RankedColor, parentID string) []model.RankedColor {
	var out []model.RankedColor
	for _, r := range ranked {
		if !r.IsParent && r.ParentID == parentID {
			out = append(out, r)
		}
	}
	return out
}

// Stats summarizes a ranked batch.
type Stats struct {
	Total      int `json:"total_rows"`
	Parents    int `json:"parent_rows"`
	Children   int `json:"child_rows"`
	UniqueKeys int `json:"unique_cusips"`
}

// Summarize counts parents, children and distinct security keys.
func Summarize(ranked []model.RankedColor) Stats {
	stats := Stats{Total: len(ranked)}
	keys := make(map[string]struct{})
	for _, r := range ranked {
		if r.IsParent {
			stats.Parents++
		} else {
			stats.Children++
		}
		if r.SecurityKey != "" {
			keys[r.SecurityKey] = struct{}{}
		}
	}
	stats.UniqueKeys = len(keys)
	return stats
}
