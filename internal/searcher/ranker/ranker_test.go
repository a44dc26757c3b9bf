package ranker

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGeneration(recs ...*catalog.PackageRecord) *index.Generation {
	tok := tokenizer.Default()
	b := index.NewBuilder(index.Empty())
	for _, r := range recs {
		b.Put(r.ID, tok.TokenizeRecord(r))
	}
	b.SetCursor(uint64(len(recs)))
	return b.Build()
}

func TestIDFAndTFNorm(t *testing.T) {
	assert.Greater(t, computeIDF(10, 1), computeIDF(10, 5))
	assert.Greater(t, computeIDF(2, 2), 0.0)
	assert.Equal(t, 0.0, computeTFNorm(0))
	assert.InDelta(t, 1.0, computeTFNorm(1), 1e-12)
	assert.Less(t, computeTFNorm(100), k1+1)
	assert.Greater(t, computeTFNorm(3), computeTFNorm(2))
}

func TestLexicalWeightsFields(t *testing.T) {
	g := buildGeneration(
		&catalog.PackageRecord{ID: "tokio", Description: "runtime"},
		&catalog.PackageRecord{ID: "async-std", Description: "an async tokio alternative"},
		&catalog.PackageRecord{ID: "other", Description: "unrelated"},
	)
	cands := Lexical(g, tokenizer.DefaultSchema(), []string{"tokio"}, nil)
	require.Len(t, cands, 2)
	assert.Equal(t, "async-std", cands[0].ID)
	assert.Equal(t, "tokio", cands[1].ID)
	assert.Greater(t, cands[1].Lexical, cands[0].Lexical, "name match outweighs description match")
}

func TestLexicalORSemanticsAndExcludes(t *testing.T) {
	g := buildGeneration(
		&catalog.PackageRecord{ID: "serde", Keywords: []string{"serialization"}},
		&catalog.PackageRecord{ID: "serde-json", Keywords: []string{"json"}},
		&catalog.PackageRecord{ID: "toml", Keywords: []string{"serialization"}},
	)
	schema := tokenizer.DefaultSchema()

	all := Lexical(g, schema, []string{"json", "serialization"}, nil)
	assert.Len(t, all, 3)

	filtered := Lexical(g, schema, []string{"json", "serialization"}, []string{"toml"})
	require.Len(t, filtered, 2)
	assert.Equal(t, "serde", filtered[0].ID)
	assert.Equal(t, "serde-json", filtered[1].ID)

	assert.Empty(t, Lexical(g, schema, []string{"missing"}, nil))
	assert.Empty(t, Lexical(g, schema, nil, nil))
}

func TestScoreZeroLexical(t *testing.T) {
	r := Default()
	doc := r.Score(0, &catalog.PackageRecord{ID: "popular", DownloadsTotal: 1 << 40}, "popular")
	assert.Equal(t, 0.0, doc.Score)
	doc = r.Score(-1, &catalog.PackageRecord{ID: "x"}, "")
	assert.Equal(t, 0.0, doc.Score)
}

func TestPopularityBoundedAndMonotonic(t *testing.T) {
	r := Default()
	prev := -1.0
	for _, d := range []uint64{0, 1, 10, 1000, 1_000_000, 1_000_000_000, 1 << 62} {
		p := r.Popularity(&catalog.PackageRecord{ID: "x", DownloadsTotal: d})
		assert.GreaterOrEqual(t, p, prev)
		assert.LessOrEqual(t, p, 1.0)
		assert.GreaterOrEqual(t, p, 0.0)
		prev = p
	}
	assert.Equal(t, 1.0, r.Popularity(&catalog.PackageRecord{ID: "x", DownloadsTotal: 2_000_000_000}))
}

func TestRecentDownloadsWeight(t *testing.T) {
	cfg := config.Default().Ranking
	cfg.RecentDownloadsWeight = 2
	r := New(cfg)
	rec := &catalog.PackageRecord{ID: "x", DownloadsTotal: 100, DownloadsRecent: 50}
	assert.Greater(t, r.Popularity(rec), Default().Popularity(rec))
}

func TestScoreMonotonicity(t *testing.T) {
	r := Default()
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		lex := rng.Float64() * 20
		d := uint64(rng.Int63n(2_000_000_000))
		base := r.Score(lex, &catalog.PackageRecord{ID: "a", DownloadsTotal: d}, "q")
		more := r.Score(lex, &catalog.PackageRecord{ID: "a", DownloadsTotal: d + uint64(rng.Int63n(1_000_000))}, "q")
		assert.GreaterOrEqual(t, more.Score, base.Score)
		higher := r.Score(lex+rng.Float64(), &catalog.PackageRecord{ID: "a", DownloadsTotal: d}, "q")
		assert.GreaterOrEqual(t, higher.Score, base.Score)
	}
}

func TestExactMultiplier(t *testing.T) {
	r := Default()
	rec := &catalog.PackageRecord{ID: "proc-macro2", Keywords: []string{"macros", "proc_macro"}}
	assert.Equal(t, 3.0, r.ExactMultiplier(rec, catalog.NormalizeName("Proc_Macro2")))
	assert.Equal(t, 1.5, r.ExactMultiplier(rec, "proc-macro"))
	assert.Equal(t, 1.25, r.ExactMultiplier(rec, "proc"))
	assert.Equal(t, 1.0, r.ExactMultiplier(rec, "macro2"))
	assert.Equal(t, 1.0, r.ExactMultiplier(rec, ""))
}

func TestPrefixNameMultiplier(t *testing.T) {
	r := Default()
	serdeJSON := &catalog.PackageRecord{ID: "serde_json"}
	assert.Equal(t, 1.25, r.ExactMultiplier(serdeJSON, "serde"))
	assert.Equal(t, 1.0, r.ExactMultiplier(&catalog.PackageRecord{ID: "my-serde"}, "serde"))
	// The query must end at a joiner: "serde" is not a prefix segment of "serdex".
	assert.Equal(t, 1.0, r.ExactMultiplier(&catalog.PackageRecord{ID: "serdex-json"}, "serde"))
	// An exact keyword match outranks a name prefix when configured higher.
	withKeyword := &catalog.PackageRecord{ID: "serde-json", Keywords: []string{"serde"}}
	assert.Equal(t, 1.5, r.ExactMultiplier(withKeyword, "serde"))

	off := New(config.RankingConfig{MaxPopularityBoost: 1, SaturationDownloads: 1e9, ExactNameMultiplier: 3})
	assert.Equal(t, 1.0, off.ExactMultiplier(serdeJSON, "serde"))
}

func TestPrefixNameBreaksLexicalTie(t *testing.T) {
	recs := map[string]*catalog.PackageRecord{
		"my-serde":   {ID: "my-serde", DownloadsTotal: 1000},
		"serde-json": {ID: "serde-json", DownloadsTotal: 1000},
	}
	g := buildGeneration(recs["my-serde"], recs["serde-json"])
	r := Default()
	var docs []ScoredDoc
	for _, c := range Lexical(g, tokenizer.DefaultSchema(), []string{"serde"}, nil) {
		docs = append(docs, r.Score(c.Lexical, recs[c.ID], "serde"))
	}
	require.Len(t, docs, 2)
	assert.Equal(t, docs[0].Lexical, docs[1].Lexical)
	Sort(docs)
	assert.Equal(t, "serde-json", docs[0].ID)
	assert.Greater(t, docs[0].Score, docs[1].Score)
}

func TestExactMatchOutranksEqualOrWeaker(t *testing.T) {
	r := Default()
	exact := r.Score(5, &catalog.PackageRecord{ID: "serde", DownloadsTotal: 1000}, "serde")
	for _, d := range []uint64{0, 10, 1000} {
		for _, lex := range []float64{1, 4.99, 5} {
			other := r.Score(lex, &catalog.PackageRecord{ID: "aaa", DownloadsTotal: d}, "serde")
			assert.True(t, Better(exact, other), "lex=%v d=%v", lex, d)
		}
	}
}

func TestProcMacroScenario(t *testing.T) {
	recs := map[string]*catalog.PackageRecord{
		"proc-macro2": {ID: "proc-macro2", Keywords: []string{"proc-macro", "macro2"}, DownloadsTotal: 500_000_000},
		"tiny-proc":   {ID: "tiny-proc", Keywords: []string{"proc-macro"}, DownloadsTotal: 1_000},
	}
	g := buildGeneration(recs["proc-macro2"], recs["tiny-proc"])
	var qterms []string
	for _, tk := range tokenizer.Default().Tokenize("proc-macro") {
		qterms = append(qterms, tk.Term)
	}
	r := Default()
	var docs []ScoredDoc
	for _, c := range Lexical(g, tokenizer.DefaultSchema(), qterms, nil) {
		docs = append(docs, r.Score(c.Lexical, recs[c.ID], "proc-macro"))
	}
	Sort(docs)
	require.Len(t, docs, 2)
	assert.Equal(t, "proc-macro2", docs[0].ID)
	assert.Equal(t, "tiny-proc", docs[1].ID)
	assert.Greater(t, docs[0].Score, docs[1].Score)
}

func TestTopKMatchesSort(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	docs := make([]ScoredDoc, 200)
	for i := range docs {
		docs[i] = ScoredDoc{ID: fmt.Sprintf("pkg-%03d", i), Score: float64(rng.Intn(20))}
	}
	full := make([]ScoredDoc, len(docs))
	copy(full, docs)
	Sort(full)

	for _, k := range []int{1, 5, 37, 200, 500} {
		want := full[:min(k, len(full))]
		assert.Equal(t, want, TopK(docs, k), "k=%d", k)
	}
	assert.Nil(t, TopK(docs, 0))
}

func TestTieBreakByID(t *testing.T) {
	docs := []ScoredDoc{{ID: "b", Score: 1}, {ID: "a", Score: 1}, {ID: "c", Score: 2}}
	Sort(docs)
	assert.Equal(t, []string{"c", "a", "b"}, []string{docs[0].ID, docs[1].ID, docs[2].ID})
}

func BenchmarkLexical(b *testing.B) {
	recs := make([]*catalog.PackageRecord, 0, 2000)
	for i := 0; i < 2000; i++ {
		recs = append(recs, &catalog.PackageRecord{
			ID:          fmt.Sprintf("crate-%d", i),
			Description: fmt.Sprintf("async runtime utility number %d for serde json", i),
			Keywords:    []string{"async", fmt.Sprintf("tag-%d", i%50)},
		})
	}
	g := buildGeneration(recs...)
	schema := tokenizer.DefaultSchema()
	terms := []string{"async", "serde", "json", "tag-7"}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Lexical(g, schema, terms, nil)
	}
}
