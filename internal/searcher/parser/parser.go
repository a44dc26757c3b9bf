// Package parser turns raw query text into a QueryPlan using the same
// tokenizer that built the index.
package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/tokenizer"
)

// QueryPlan is the parsed form of one query. Terms are matched with OR
// semantics; a record containing any Excludes term is dropped.
type QueryPlan struct {
	Raw        string
	Normalized string
	Terms      []string
	Excludes   []string
	Offset     int
	Limit      int
}

// Empty reports whether the plan can match anything.
func (p *QueryPlan) Empty() bool {
	return len(p.Terms) == 0
}

// Parse never fails: text that yields no tokens produces an empty plan.
// "NOT word" and "-word" exclude the word's leading term; the upper-case
// operators AND and OR are accepted and ignored.
func Parse(query string, tok *tokenizer.Tokenizer) *QueryPlan {
	plan := &QueryPlan{
		Raw:      query,
		Terms:    make([]string, 0),
		Excludes: make([]string, 0),
	}
	seen := make(map[string]struct{})
	excluded := make(map[string]struct{})
	var kept []string
	excludeNext := false

	for _, word := range strings.Fields(query) {
		switch word {
		case "AND", "OR":
			continue
		case "NOT":
			excludeNext = true
			continue
		}
		exclude := excludeNext
		excludeNext = false
		if len(word) > 1 && word[0] == '-' {
			exclude = true
			word = word[1:]
		}

		tokens := tok.Tokenize(word)
		if len(tokens) == 0 {
			continue
		}
		if exclude {
			term := tokens[0].Term
			if _, dup := excluded[term]; !dup {
				excluded[term] = struct{}{}
				plan.Excludes = append(plan.Excludes, term)
			}
			continue
		}
		kept = append(kept, word)
		for _, t := range tokens {
			if _, dup := seen[t.Term]; dup {
				continue
			}
			seen[t.Term] = struct{}{}
			plan.Terms = append(plan.Terms, t.Term)
		}
	}

	// An excluded term cannot also be required.
	if len(plan.Excludes) > 0 {
		terms := plan.Terms[:0]
		for _, t := range plan.Terms {
			if _, ex := excluded[t]; !ex {
				terms = append(terms, t)
			}
		}
		plan.Terms = terms
	}
	plan.Normalized = catalog.NormalizeName(strings.Join(kept, " "))
	return plan
}
