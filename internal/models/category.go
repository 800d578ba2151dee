package models

import "strings"

// Category is the harm class a comment is judged to belong to.
type Category string

const (
	CategoryBlackmail  Category = "blackmail"
	CategoryThreat     Category = "threat"
	CategoryDefamation Category = "defamation"
	CategoryHarassment Category = "harassment"
	CategorySpam       Category = "spam"
	CategoryBenign     Category = "benign"
)

// Categories lists every valid category, most severe first.
var Categories = []Category{
	CategoryBlackmail,
	CategoryThreat,
	CategoryDefamation,
	CategoryHarassment,
	CategorySpam,
	CategoryBenign,
}

// severityRank orders categories for "most severe wins" resolution.
var severityRank = map[Category]int{
	CategoryBlackmail:  5,
	CategoryThreat:     4,
	CategoryDefamation: 3,
	CategoryHarassment: 2,
	CategorySpam:       1,
	CategoryBenign:     0,
}

// ParseCategory normalizes s and reports whether it names a known category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	_, ok := severityRank[c]
	return c, ok
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	_, ok := severityRank[c]
	return ok
}

// Harmful reports whether c is a category that may drive enforcement.
func (c Category) Harmful() bool {
	return c.Valid() && c != CategoryBenign
}

// Rank returns the severity rank of c; unknown categories rank below benign.
func (c Category) Rank() int {
	if r, ok := severityRank[c]; ok {
		return r
	}
	return -1
}

// MostSevere returns the highest-ranked category in cats, or benign when cats is empty.
func MostSevere(cats ...Category) Category {
	best := CategoryBenign
	for _, c := range cats {
		if c.Rank() > best.Rank() {
			best = c
		}
	}
	return best
}
