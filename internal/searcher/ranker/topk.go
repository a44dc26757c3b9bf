package ranker

import (
	"container/heap"
	"sort"
)

// Better reports whether a ranks before b: higher score first, then lower
// ID.
func Better(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ID < b.ID
}

// Sort orders docs in place by rank.
func Sort(docs []ScoredDoc) {
	sort.Slice(docs, func(i, j int) bool { return Better(docs[i], docs[j]) })
}

// TopK returns the k best docs in rank order without sorting the whole
// input. k <= 0 returns nil.
func TopK(docs []ScoredDoc, k int) []ScoredDoc {
	if k <= 0 {
		return nil
	}
	if len(docs) <= k {
		out := make([]ScoredDoc, len(docs))
		copy(out, docs)
		Sort(out)
		return out
	}
	h := make(scoredDocHeap, 0, k+1)
	for _, doc := range docs {
		if h.Len() == k {
			if !Better(doc, h[0]) {
				continue
			}
			h[0] = doc
			heap.Fix(&h, 0)
			continue
		}
		heap.Push(&h, doc)
	}
	result := make([]ScoredDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(&h).(ScoredDoc)
	}
	return result
}

// scoredDocHeap keeps the worst of the current top k at the root.
type scoredDocHeap []ScoredDoc

func (h scoredDocHeap) Len() int { return len(h) }

func (h scoredDocHeap) Less(i, j int) bool { return Better(h[j], h[i]) }

func (h scoredDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredDocHeap) Push(x any) {
	*h = append(*h, x.(ScoredDoc))
}

func (h *scoredDocHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
