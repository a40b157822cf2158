package mapping

import (
	"sort"
	"strings"

	"github.com/cloudflare/ahocorasick"
	"github.com/google/uuid"

	"github.com/FACorreiaa/household-finance/internal/domain/import/normalizer"
)

// Source records which stage produced a proposal.
type Source string

const (
	SourceSaved   Source = "saved"
	SourceKeyword Source = "keyword"
	SourceFuzzy   Source = "fuzzy"
	SourceNone    Source = "none"
)

// Subcategory is a leaf of a household's category tree.
type Subcategory struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// Category is a household category with its subcategories in display order.
type Category struct {
	ID            uuid.UUID     `json:"id"`
	Name          string        `json:"name"`
	Subcategories []Subcategory `json:"subcategories"`
}

// Mapping is a persisted bank category pair to subcategory assignment.
type Mapping struct {
	BankCategory    string     `json:"bank_category"`
	BankSubcategory string     `json:"bank_subcategory"`
	SubcategoryID   *uuid.UUID `json:"subcategory_id"`
}

// Observation is a bank category pair to propose a mapping for.
type Observation struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
}

func pairKey(category, subcategory string) string {
	return category + "\x1f" + subcategory
}

// Proposal is an advisory mapping for one observation.
type Proposal struct {
	BankCategory    string     `json:"bank_category"`
	BankSubcategory string     `json:"bank_subcategory"`
	SubcategoryID   *uuid.UUID `json:"subcategory_id"`
	Source          Source     `json:"source"`
}

// Engine matches bank category text against the keyword rule table in one
// pass using Aho-Corasick. It is immutable after construction and safe for
// concurrent use.
type Engine struct {
	rules    *RuleSet
	matcher  *ahocorasick.Matcher
	patterns [][]int // rule indices per matcher pattern
}

// NewEngine builds the matcher for rs. Keywords are folded the same way the
// matched text is.
func NewEngine(rs *RuleSet) *Engine {
	e := &Engine{rules: rs}

	patternToIndex := make(map[string]int)
	var dictionary []string
	for ri, rule := range rs.Rules {
		for _, kw := range rule.Keywords {
			clean := normalizer.Fold(kw)
			if clean == "" {
				continue
			}
			if idx, ok := patternToIndex[clean]; ok {
				e.patterns[idx] = append(e.patterns[idx], ri)
				continue
			}
			patternToIndex[clean] = len(dictionary)
			dictionary = append(dictionary, clean)
			e.patterns = append(e.patterns, []int{ri})
		}
	}

	if len(dictionary) > 0 {
		e.matcher = ahocorasick.NewStringMatcher(dictionary)
	}
	return e
}

// Rules returns the rule table the engine was built from.
func (e *Engine) Rules() *RuleSet {
	return e.rules
}

// MatchRules returns the indices of every rule with a keyword contained in
// the folded text, in table order.
func (e *Engine) MatchRules(category, subcategory string) []int {
	if e.matcher == nil {
		return nil
	}
	text := normalizer.Fold(category + " " + subcategory)
	if text == "" {
		return nil
	}

	seen := make(map[int]struct{})
	var matched []int
	for _, p := range e.matcher.Match([]byte(text)) {
		for _, ri := range e.patterns[p] {
			if _, ok := seen[ri]; !ok {
				seen[ri] = struct{}{}
				matched = append(matched, ri)
			}
		}
	}
	sort.Ints(matched)
	return matched
}

// Propose resolves every observation against saved mappings, then the
// keyword rules, then name containment against the household's tree.
func (e *Engine) Propose(observations []Observation, saved []Mapping, tree []Category) []Proposal {
	savedByPair := make(map[string]Mapping, len(saved))
	for _, m := range saved {
		savedByPair[pairKey(m.BankCategory, m.BankSubcategory)] = m
	}

	proposals := make([]Proposal, 0, len(observations))
	for _, obs := range observations {
		p := Proposal{BankCategory: obs.Category, BankSubcategory: obs.Subcategory, Source: SourceNone}

		if m, ok := savedByPair[pairKey(obs.Category, obs.Subcategory)]; ok {
			p.SubcategoryID, p.Source = m.SubcategoryID, SourceSaved
		} else if id := e.keywordMatch(obs, tree); id != nil {
			p.SubcategoryID, p.Source = id, SourceKeyword
		} else if id := fuzzyMatch(obs, tree); id != nil {
			p.SubcategoryID, p.Source = id, SourceFuzzy
		}

		proposals = append(proposals, p)
	}
	return proposals
}

// keywordMatch returns the target of the earliest matching rule whose
// category exists in the tree.
func (e *Engine) keywordMatch(obs Observation, tree []Category) *uuid.UUID {
	for _, ri := range e.MatchRules(obs.Category, obs.Subcategory) {
		rule := e.rules.Rules[ri]
		cat := findCategory(tree, normalizer.Fold(rule.Category))
		if cat == nil || len(cat.Subcategories) == 0 {
			continue
		}
		if rule.Subcategory != "" {
			if sub := findSubcategory(cat.Subcategories, normalizer.Fold(rule.Subcategory)); sub != nil {
				return idPtr(sub.ID)
			}
		}
		return idPtr(cat.Subcategories[0].ID)
	}
	return nil
}

// fuzzyMatch compares folded names by equality or containment.
func fuzzyMatch(obs Observation, tree []Category) *uuid.UUID {
	bankCat := normalizer.Fold(obs.Category)
	bankSub := normalizer.Fold(obs.Subcategory)

	if cat := findCategory(tree, bankCat); cat != nil && len(cat.Subcategories) > 0 {
		if sub := findSubcategory(cat.Subcategories, bankSub); sub != nil {
			return idPtr(sub.ID)
		}
		if sub := findSubcategory(cat.Subcategories, bankCat); sub != nil {
			return idPtr(sub.ID)
		}
		return idPtr(cat.Subcategories[0].ID)
	}

	var all []Subcategory
	for _, c := range tree {
		all = append(all, c.Subcategories...)
	}
	if sub := findSubcategory(all, bankSub); sub != nil {
		return idPtr(sub.ID)
	}
	if sub := findSubcategory(all, bankCat); sub != nil {
		return idPtr(sub.ID)
	}
	return nil
}

func findCategory(tree []Category, target string) *Category {
	idx := findName(len(tree), func(i int) string { return tree[i].Name }, target)
	if idx < 0 {
		return nil
	}
	return &tree[idx]
}

func findSubcategory(subs []Subcategory, target string) *Subcategory {
	idx := findName(len(subs), func(i int) string { return subs[i].Name }, target)
	if idx < 0 {
		return nil
	}
	return &subs[idx]
}

// findName prefers an exact folded match over containment in either
// direction. Empty names never match.
func findName(n int, name func(int) string, target string) int {
	if target == "" {
		return -1
	}
	folded := make([]string, n)
	for i := 0; i < n; i++ {
		folded[i] = normalizer.Fold(name(i))
		if folded[i] == target {
			return i
		}
	}
	for i, f := range folded {
		if f != "" && (strings.Contains(f, target) || strings.Contains(target, f)) {
			return i
		}
	}
	return -1
}

func idPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
