// Package index holds the inverted index as immutable generations. A
// generation is never modified once built; writers derive a successor with
// a Builder and publish it with an atomic pointer swap.
package index

import (
	"fmt"
	"slices"
	"sort"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/errors"
)

// Generation is one published, read-only version of the index. It is the
// index of the record set as of Cursor.
type Generation struct {
	cursor   uint64
	terms    map[string]*termEntry
	docs     map[string]*DocInfo
	builtAt  time.Time
	postings int
}

// Empty returns the generation at cursor 0 with nothing indexed.
func Empty() *Generation {
	return &Generation{
		terms:   make(map[string]*termEntry),
		docs:    make(map[string]*DocInfo),
		builtAt: time.Now().UTC(),
	}
}

func (g *Generation) Cursor() uint64 { return g.cursor }

func (g *Generation) BuiltAt() time.Time { return g.builtAt }

// DocCount is N in the idf formula.
func (g *Generation) DocCount() int { return len(g.docs) }

func (g *Generation) TermCount() int { return len(g.terms) }

func (g *Generation) PostingCount() int { return g.postings }

// Postings returns the postings of term. The slice is shared with the
// generation and must not be modified.
func (g *Generation) Postings(term string) PostingList {
	if e, ok := g.terms[term]; ok {
		return e.postings
	}
	return nil
}

// DocFreq is the number of distinct records containing term in any field.
func (g *Generation) DocFreq(term string) int {
	if e, ok := g.terms[term]; ok {
		return e.df
	}
	return 0
}

func (g *Generation) Contains(id string) bool {
	_, ok := g.docs[id]
	return ok
}

// Doc returns a copy of the per-record info.
func (g *Generation) Doc(id string) (DocInfo, bool) {
	d, ok := g.docs[id]
	if !ok {
		return DocInfo{}, false
	}
	cp := *d
	cp.Terms = slices.Clone(d.Terms)
	return cp, true
}

// IDs returns every indexed record ID in ascending order.
func (g *Generation) IDs() []string {
	ids := make([]string, 0, len(g.docs))
	for id := range g.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Export returns the generation's content in a canonical order: terms and
// docs sorted, postings by ID then field.
func (g *Generation) Export() ([]TermEntry, []DocEntry) {
	terms := make([]TermEntry, 0, len(g.terms))
	for term, e := range g.terms {
		terms = append(terms, TermEntry{Term: term, Postings: e.postings})
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].Term < terms[j].Term })

	docs := make([]DocEntry, 0, len(g.docs))
	for _, id := range g.IDs() {
		docs = append(docs, DocEntry{ID: id, Info: *g.docs[id]})
	}
	return terms, docs
}

// Restore rebuilds a generation from exported content. Any inconsistency
// between postings and doc entries is reported as ErrIndexCorruption.
func Restore(cursor uint64, terms []TermEntry, docs []DocEntry) (*Generation, error) {
	g := &Generation{
		cursor:  cursor,
		terms:   make(map[string]*termEntry, len(terms)),
		docs:    make(map[string]*DocInfo, len(docs)),
		builtAt: time.Now().UTC(),
	}
	for _, d := range docs {
		if d.ID == "" {
			return nil, fmt.Errorf("%w: empty record id", apperrors.ErrIndexCorruption)
		}
		if _, dup := g.docs[d.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate record %q", apperrors.ErrIndexCorruption, d.ID)
		}
		info := d.Info
		g.docs[d.ID] = &info
	}

	expected := make(map[string]int, len(docs))
	for _, d := range docs {
		for _, term := range d.Info.Terms {
			expected[term]++
		}
	}

	for _, te := range terms {
		if len(te.Postings) == 0 {
			return nil, fmt.Errorf("%w: term %q has no postings", apperrors.ErrIndexCorruption, te.Term)
		}
		if _, dup := g.terms[te.Term]; dup {
			return nil, fmt.Errorf("%w: duplicate term %q", apperrors.ErrIndexCorruption, te.Term)
		}
		df := 0
		for i, p := range te.Postings {
			if _, ok := g.docs[p.ID]; !ok {
				return nil, fmt.Errorf("%w: term %q references unknown record %q",
					apperrors.ErrIndexCorruption, te.Term, p.ID)
			}
			if p.Frequency <= 0 || int(p.Field) >= len(g.docs[p.ID].FieldLens) {
				return nil, fmt.Errorf("%w: bad posting for %q in %q", apperrors.ErrIndexCorruption, p.ID, te.Term)
			}
			if i > 0 {
				if !te.Postings[i-1].less(p) {
					return nil, fmt.Errorf("%w: postings of %q out of order", apperrors.ErrIndexCorruption, te.Term)
				}
				if te.Postings[i-1].ID == p.ID {
					continue
				}
			}
			df++
		}
		if df != expected[te.Term] {
			return nil, fmt.Errorf("%w: term %q has %d records, doc table says %d",
				apperrors.ErrIndexCorruption, te.Term, df, expected[te.Term])
		}
		g.terms[te.Term] = &termEntry{postings: te.Postings, df: df}
		g.postings += len(te.Postings)
	}
	if len(g.terms) != len(expected) {
		return nil, fmt.Errorf("%w: doc table names %d terms, index has %d",
			apperrors.ErrIndexCorruption, len(expected), len(g.terms))
	}
	return g, nil
}
