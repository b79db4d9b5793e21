package board

import (
	"fmt"
	"strings"

	"github.com/lostfound/board/internal/model"
)

// KindAll selects every kind, and every status with it.
const KindAll = "all"

// Filters are the transient view settings of one reader.
type Filters struct {
	Kind  string `json:"kind"`
	Query string `json:"q"`
}

// ParseFilters validates a kind filter ("", "all", "lost" or "found") and
// normalizes the search query.
func ParseFilters(kind, query string) (Filters, error) {
	f := Filters{Kind: KindAll, Query: strings.TrimSpace(query)}
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" || kind == KindAll {
		return f, nil
	}
	k, err := model.ParseKind(kind)
	if err != nil {
		return Filters{}, fmt.Errorf("parsing filters: %w", err)
	}
	f.Kind = string(k)
	return f, nil
}

// All reports whether the filter selects every kind.
func (f Filters) All() bool {
	return f.Kind == "" || f.Kind == KindAll
}

// DeriveView returns the items the filters let through, in their original
// order. A specific kind shows only active items; "all" shows every status.
// The query matches title, description and location case-insensitively.
// items is not modified.
func DeriveView(items []model.Item, f Filters) []model.Item {
	out := make([]model.Item, 0, len(items))
	q := strings.ToLower(f.Query)
	for _, it := range items {
		if matchKind(it, f) && matchStatus(it, f) && matchQuery(it, q) {
			out = append(out, it)
		}
	}
	return out
}

func matchKind(it model.Item, f Filters) bool {
	return f.All() || string(it.Kind) == f.Kind
}

func matchStatus(it model.Item, f Filters) bool {
	return f.All() || it.Status == model.StatusActive
}

// matchQuery expects q already lowercased.
func matchQuery(it model.Item, q string) bool {
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(it.Title), q) ||
		strings.Contains(strings.ToLower(it.Description), q) ||
		strings.Contains(strings.ToLower(it.Location), q)
}
