package mapping

import (
	"sort"

	"github.com/google/uuid"
	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Suggestion is a typeahead candidate for the mapping review screen.
type Suggestion struct {
	SubcategoryID uuid.UUID `json:"subcategory_id"`
	Category      string    `json:"category"`
	Subcategory   string    `json:"subcategory"`
	Distance      int       `json:"distance"`
}

// SuggestSubcategories ranks the tree's subcategories against a partial,
// case- and accent-insensitive query such as "ocio rest". Closest first.
func SuggestSubcategories(query string, tree []Category, limit int) []Suggestion {
	type entry struct {
		category string
		sub      Subcategory
	}
	var entries []entry
	var targets []string
	for _, c := range tree {
		for _, s := range c.Subcategories {
			entries = append(entries, entry{category: c.Name, sub: s})
			targets = append(targets, c.Name+" "+s.Name)
		}
	}

	ranks := fuzzy.RankFindNormalizedFold(query, targets)
	sort.Stable(ranks)

	if limit <= 0 || limit > len(ranks) {
		limit = len(ranks)
	}
	out := make([]Suggestion, 0, limit)
	for _, r := range ranks[:limit] {
		e := entries[r.OriginalIndex]
		out = append(out, Suggestion{
			SubcategoryID: e.sub.ID,
			Category:      e.category,
			Subcategory:   e.sub.Name,
			Distance:      r.Distance,
		})
	}
	return out
}
