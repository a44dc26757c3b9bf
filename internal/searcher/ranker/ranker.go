// Package ranker scores search candidates. Lexical relevance comes from the
// index; the Ranker then blends it with popularity and with exact-match and
// name-prefix bonuses taken from the stored record.
package ranker

import (
	"math"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/pkgsearch/pkg/config"
)

// ScoredDoc is one ranked record with the parts of its score.
type ScoredDoc struct {
	ID         string  `json:"id"`
	Score      float64 `json:"score"`
	Lexical    float64 `json:"lexical_score"`
	Popularity float64 `json:"popularity"`
	Exact      float64 `json:"exact_multiplier"`
}

// Ranker is immutable and safe for concurrent use.
type Ranker struct {
	maxBoost      float64
	saturation    float64
	recentWeight  float64
	exactName     float64
	exactKeyword  float64
	prefixName    float64
	logSaturation float64
}

func New(cfg config.RankingConfig) *Ranker {
	r := &Ranker{
		maxBoost:     max(cfg.MaxPopularityBoost, 0),
		saturation:   cfg.SaturationDownloads,
		recentWeight: max(cfg.RecentDownloadsWeight, 0),
		exactName:    max(cfg.ExactNameMultiplier, 1),
		exactKeyword: max(cfg.ExactKeywordMultiplier, 1),
		prefixName:   max(cfg.PrefixNameMultiplier, 1),
	}
	if r.saturation > 0 {
		r.logSaturation = math.Log1p(r.saturation)
	}
	return r
}

// Default returns a Ranker with the default ranking configuration.
func Default() *Ranker {
	return New(config.Default().Ranking)
}

// Score computes lexical × (1 + popularity) × exact. A record with no
// lexical relevance always scores 0, however popular it is.
// normalizedQuery must already be passed through catalog.NormalizeName.
func (r *Ranker) Score(lexical float64, rec *catalog.PackageRecord, normalizedQuery string) ScoredDoc {
	doc := ScoredDoc{ID: rec.ID, Lexical: lexical, Exact: 1}
	if lexical <= 0 || math.IsNaN(lexical) {
		doc.Lexical = 0
		return doc
	}
	doc.Popularity = r.Popularity(rec)
	doc.Exact = r.ExactMultiplier(rec, normalizedQuery)
	doc.Score = lexical * (1 + doc.Popularity) * doc.Exact
	return doc
}

// Popularity is a logarithmic, saturating boost in [0, MaxPopularityBoost].
func (r *Ranker) Popularity(rec *catalog.PackageRecord) float64 {
	d := float64(rec.DownloadsTotal) + r.recentWeight*float64(rec.DownloadsRecent)
	if d <= 0 || r.maxBoost == 0 {
		return 0
	}
	if r.logSaturation <= 0 {
		return r.maxBoost
	}
	return r.maxBoost * math.Min(1, math.Log1p(d)/r.logSaturation)
}

// ExactMultiplier rewards a query naming the record itself, naming one of
// its keywords, or naming the leading segment of a compound name ("serde"
// for "serde-json"), over a query that merely contains matching terms. The
// largest applicable multiplier wins.
func (r *Ranker) ExactMultiplier(rec *catalog.PackageRecord, normalizedQuery string) float64 {
	if normalizedQuery == "" {
		return 1
	}
	name := catalog.NormalizeName(rec.ID)
	if name == normalizedQuery {
		return r.exactName
	}
	best := 1.0
	for _, kw := range rec.Keywords {
		if catalog.NormalizeName(kw) == normalizedQuery {
			best = r.exactKeyword
			break
		}
	}
	if r.prefixName > best && strings.HasPrefix(name, normalizedQuery+"-") {
		best = r.prefixName
	}
	return best
}
