package board

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lostfound/board/internal/model"
)

func sampleItems() []model.Item {
	return []model.Item{
		{ID: "1", Kind: model.KindLost, Title: "Blue Backpack", Description: "Left in library", Location: "Library 2F", Status: model.StatusActive},
		{ID: "2", Kind: model.KindFound, Title: "Keys", Description: "Three keys on a RING", Location: "Cafeteria", Status: model.StatusActive},
		{ID: "3", Kind: model.KindLost, Title: "Umbrella", Description: "Black", Location: "Library entrance", Status: model.StatusClaimed},
		{ID: "4", Kind: model.KindFound, Title: "Wallet", Description: "Brown leather", Location: "Gym", Status: model.StatusResolved},
		{ID: "5", Kind: model.KindLost, Title: "Phone", Description: "cracked screen", Location: "Bus stop", Status: model.StatusActive},
	}
}

func ids(items []model.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestParseFilters(t *testing.T) {
	f, err := ParseFilters("", "  keys ")
	require.NoError(t, err)
	assert.Equal(t, Filters{Kind: KindAll, Query: "keys"}, f)

	f, err = ParseFilters("FOUND", "")
	require.NoError(t, err)
	assert.Equal(t, "found", f.Kind)

	_, err = ParseFilters("misplaced", "")
	assert.ErrorIs(t, err, model.ErrInvalidKind)
}

func TestDeriveView(t *testing.T) {
	items := sampleItems()

	tests := []struct {
		name    string
		filters Filters
		want    []string
	}{
		{"all shows every status", Filters{Kind: KindAll}, []string{"1", "2", "3", "4", "5"}},
		{"empty kind means all", Filters{}, []string{"1", "2", "3", "4", "5"}},
		{"lost shows active only", Filters{Kind: "lost"}, []string{"1", "5"}},
		{"found shows active only", Filters{Kind: "found"}, []string{"2"}},
		{"query matches title", Filters{Kind: KindAll, Query: "backpack"}, []string{"1"}},
		{"query matches description case-insensitively", Filters{Query: "Ring"}, []string{"2"}},
		{"query matches location", Filters{Query: "library"}, []string{"1", "3"}},
		{"query with kind", Filters{Kind: "lost", Query: "library"}, []string{"1"}},
		{"no match", Filters{Query: "bicycle"}, []string{}},
		{"contact info is not searched", Filters{Query: "a@b.com"}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(DeriveView(items, tt.filters)))
		})
	}
}

func TestDeriveViewStagesCommute(t *testing.T) {
	items := sampleItems()
	for _, f := range []Filters{
		{Kind: "lost", Query: "library"},
		{Kind: "found", Query: "e"},
		{Kind: KindAll, Query: "L"},
	} {
		q := strings.ToLower(f.Query)
		stages := []func(model.Item) bool{
			func(it model.Item) bool { return matchKind(it, f) },
			func(it model.Item) bool { return matchStatus(it, f) },
			func(it model.Item) bool { return matchQuery(it, q) },
		}
		want := ids(DeriveView(items, f))

		for _, order := range [][3]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}} {
			got := items
			for _, i := range order {
				var next []model.Item
				for _, it := range got {
					if stages[i](it) {
						next = append(next, it)
					}
				}
				got = next
			}
			assert.Equal(t, want, ids(got), "filters %+v order %v", f, order)
		}
	}
}

func TestDeriveViewDoesNotMutateInput(t *testing.T) {
	items := sampleItems()
	before := ids(items)
	DeriveView(items, Filters{Kind: "found", Query: "keys"})
	assert.Equal(t, before, ids(items))
}
