package index

import (
	"slices"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/tokenizer"
)

// Builder derives a successor generation from a base without touching it.
// Only the term entries a batch modifies are copied; everything else is
// shared with the base. A Builder is single-use and not safe for concurrent
// use.
type Builder struct {
	base     *Generation
	cursor   uint64
	terms    map[string]*termEntry
	docs     map[string]*DocInfo
	owned    map[string]bool
	postings int
}

// NewBuilder starts a successor of base at base's cursor.
func NewBuilder(base *Generation) *Builder {
	if base == nil {
		base = Empty()
	}
	terms := make(map[string]*termEntry, len(base.terms))
	for k, v := range base.terms {
		terms[k] = v
	}
	docs := make(map[string]*DocInfo, len(base.docs))
	for k, v := range base.docs {
		docs[k] = v
	}
	return &Builder{
		base:     base,
		cursor:   base.cursor,
		terms:    terms,
		docs:     docs,
		owned:    make(map[string]bool),
		postings: base.postings,
	}
}

// mutable returns an entry for term that this builder may modify.
func (b *Builder) mutable(term string) *termEntry {
	e, ok := b.terms[term]
	if ok && b.owned[term] {
		return e
	}
	ne := &termEntry{}
	if ok {
		ne.postings = slices.Clone(e.postings)
		ne.df = e.df
	}
	b.terms[term] = ne
	b.owned[term] = true
	return ne
}

// Remove drops every posting of id. Removing an absent id is a no-op.
func (b *Builder) Remove(id string) {
	info, ok := b.docs[id]
	if !ok {
		return
	}
	for _, term := range info.Terms {
		e := b.mutable(term)
		kept := e.postings[:0]
		for _, p := range e.postings {
			if p.ID != id {
				kept = append(kept, p)
			}
		}
		b.postings -= len(e.postings) - len(kept)
		e.postings = kept
		e.df--
		if len(e.postings) == 0 {
			delete(b.terms, term)
			delete(b.owned, term)
		}
	}
	delete(b.docs, id)
}

// Put replaces whatever is indexed for id with toks.
func (b *Builder) Put(id string, toks []tokenizer.FieldToken) {
	b.Remove(id)

	type key struct {
		term  string
		field tokenizer.Field
	}
	agg := make(map[key]*Posting)
	info := &DocInfo{}
	lastPos := make(map[tokenizer.Field]int)
	for _, ft := range toks {
		k := key{ft.Term, ft.Field}
		p, ok := agg[k]
		if !ok {
			p = &Posting{ID: id, Field: ft.Field}
			agg[k] = p
		}
		p.Frequency++
		p.Positions = append(p.Positions, ft.Position)
		if int(ft.Field) < len(info.FieldLens) {
			if last, seen := lastPos[ft.Field]; !seen || ft.Position != last {
				info.FieldLens[ft.Field]++
				lastPos[ft.Field] = ft.Position
			}
		}
	}
	if len(agg) == 0 {
		b.docs[id] = info
		return
	}

	keys := make([]key, 0, len(agg))
	for k := range agg {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].term != keys[j].term {
			return keys[i].term < keys[j].term
		}
		return keys[i].field < keys[j].field
	})

	for i, k := range keys {
		p := *agg[k]
		e := b.mutable(k.term)
		at := sort.Search(len(e.postings), func(j int) bool { return !e.postings[j].less(p) })
		e.postings = slices.Insert(e.postings, at, p)
		b.postings++
		if i == 0 || keys[i-1].term != k.term {
			e.df++
			info.Terms = append(info.Terms, k.term)
		}
	}
	b.docs[id] = info
}

// SetCursor records the change-feed position the successor reflects.
func (b *Builder) SetCursor(c uint64) {
	b.cursor = c
}

// Build finalises the successor. The builder must not be used afterwards.
func (b *Builder) Build() *Generation {
	g := &Generation{
		cursor:   b.cursor,
		terms:    b.terms,
		docs:     b.docs,
		builtAt:  time.Now().UTC(),
		postings: b.postings,
	}
	b.terms, b.docs, b.owned = nil, nil, nil
	return g
}
