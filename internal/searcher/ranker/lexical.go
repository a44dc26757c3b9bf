package ranker

import (
	"math"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/tokenizer"
)

const k1 = 1.2

// Candidate is a record matching at least one query term, with its lexical
// score against the generation it was found in.
type Candidate struct {
	ID      string
	Lexical float64
}

// Lexical scores every record that contains at least one of terms and none
// of excludes. Scores are summed in term order, then posting order (ID,
// field), so the result does not depend on map iteration. Candidates are
// returned in ascending ID order.
func Lexical(g *index.Generation, schema tokenizer.Schema, terms, excludes []string) []Candidate {
	if len(terms) == 0 {
		return nil
	}
	n := g.DocCount()
	scores := make(map[string]float64)
	for _, term := range terms {
		postings := g.Postings(term)
		if len(postings) == 0 {
			continue
		}
		idf := computeIDF(n, g.DocFreq(term))
		for _, p := range postings {
			scores[p.ID] += computeTFNorm(float64(p.Frequency)) * schema.Weight(p.Field) * idf
		}
	}
	for _, term := range excludes {
		for _, p := range g.Postings(term) {
			delete(scores, p.ID)
		}
	}

	out := make([]Candidate, 0, len(scores))
	for id, score := range scores {
		out = append(out, Candidate{ID: id, Lexical: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func computeIDF(totalDocs, docFreq int) float64 {
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(1 + numerator/denominator)
}

func computeTFNorm(termFreq float64) float64 {
	if termFreq <= 0 {
		return 0
	}
	return termFreq * (k1 + 1) / (termFreq + k1)
}
