package vectorstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"cogmem/internal/model"
)

// memoryVector is the offline-safe default backend: a mutex-guarded map plus
// brute-force cosine similarity. It satisfies the full VectorStore interface,
// including a BM25 lexical fallback for HybridSearch, so offline mode never
// loses the hybrid search code path for want of an external engine.
type memoryVector struct {
	mu      sync.RWMutex
	records map[string]record
	seq     int64
}

// NewMemoryVector returns the in-memory VectorStore backend (config.Vector.Backend == "memory").
func NewMemoryVector() VectorStore {
	return &memoryVector{records: make(map[string]record)}
}

func (m *memoryVector) Initialize(context.Context) error { return nil }

func (m *memoryVector) Insert(_ context.Context, entry model.MemoryEntry, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]float32, len(vector))
	copy(cp, vector)
	m.seq++
	m.records[entry.ID] = record{entry: entry, vector: cp, insertSeq: m.seq}
	return nil
}

func (m *memoryVector) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memoryVector) Count(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

func (m *memoryVector) Close() error { return nil }

func (m *memoryVector) Get(_ context.Context, id string) (model.MemoryEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return model.MemoryEntry{}, false, nil
	}
	return r.entry, true, nil
}

func (m *memoryVector) GetRecent(_ context.Context, k int) ([]model.MemoryEntry, error) {
	if k <= 0 {
		k = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]record, 0, len(m.records))
	for _, r := range m.records {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].insertSeq > all[j].insertSeq })
	if len(all) > k {
		all = all[:k]
	}
	out := make([]model.MemoryEntry, len(all))
	for i, r := range all {
		out[i] = r.entry
	}
	return out, nil
}

func (m *memoryVector) Search(_ context.Context, vector []float32, k int) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	qnorm := norm(vector)
	out := make([]Result, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, Result{Entry: r.entry, Score: cosine(vector, r.vector, qnorm)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// HybridSearch fuses the dense cosine ranking with a lightweight BM25
// lexical ranking over entry content, combined per opts.RerankStrategy.
func (m *memoryVector) HybridSearch(ctx context.Context, vector []float32, text string, k int, opts HybridOpts) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	if text == "" {
		return m.Search(ctx, vector, k)
	}

	m.mu.RLock()
	ids := make([]string, 0, len(m.records))
	recs := make([]record, 0, len(m.records))
	for id, r := range m.records {
		ids = append(ids, id)
		recs = append(recs, r)
	}
	m.mu.RUnlock()

	denseRank := rankByScore(ids, denseScores(vector, recs))
	sparseRank := rankByScore(ids, bm25Scores(text, recs, opts))

	byID := make(map[string]model.MemoryEntry, len(recs))
	for i, id := range ids {
		byID[id] = recs[i].entry
	}

	var fused map[string]float64
	switch opts.RerankStrategy {
	case RerankWeighted:
		fused = weightedFuse(denseRank, sparseRank, opts.DenseWeight, opts.SparseWeight)
	default:
		k0 := opts.RRFConstant
		if k0 <= 0 {
			k0 = 60
		}
		fused = rrfFuse(denseRank, sparseRank, k0)
	}

	out := make([]Result, 0, len(fused))
	for id, score := range fused {
		out = append(out, Result{Entry: byID[id], Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func denseScores(q []float32, recs []record) []float64 {
	qn := norm(q)
	out := make([]float64, len(recs))
	for i, r := range recs {
		out[i] = cosine(q, r.vector, qn)
	}
	return out
}

// bm25Scores scores each record's content against the query text using
// Okapi BM25 over the candidate set as its own corpus — adequate for the
// in-memory fallback, since the candidate set already equals the whole
// collection.
func bm25Scores(query string, recs []record, opts HybridOpts) []float64 {
	k1, b := opts.BM25K1, opts.BM25B
	if k1 <= 0 {
		k1 = 1.2
	}
	if b <= 0 {
		b = 0.75
	}
	qTerms := tokenize(query)
	docs := make([][]string, len(recs))
	var avgLen float64
	for i, r := range recs {
		docs[i] = tokenize(r.entry.Content)
		avgLen += float64(len(docs[i]))
	}
	if len(docs) > 0 {
		avgLen /= float64(len(docs))
	}
	df := make(map[string]int)
	for _, d := range docs {
		seen := make(map[string]bool)
		for _, t := range d {
			if !seen[t] {
				df[t]++
				seen[t] = true
			}
		}
	}
	n := float64(len(docs))
	scores := make([]float64, len(recs))
	for i, d := range docs {
		tf := make(map[string]int)
		for _, t := range d {
			tf[t]++
		}
		dl := float64(len(d))
		var score float64
		for _, qt := range qTerms {
			f := float64(tf[qt])
			if f == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[qt])+0.5)/(float64(df[qt])+0.5))
			score += idf * (f * (k1 + 1)) / (f + k1*(1-b+b*dl/maxf(avgLen, 1)))
		}
		scores[i] = score
	}
	return scores
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// rankByScore returns id -> 1-based rank, descending by score.
func rankByScore(ids []string, scores []float64) map[string]int {
	idx := make([]int, len(ids))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool { return scores[idx[i]] > scores[idx[j]] })
	ranks := make(map[string]int, len(ids))
	for r, i := range idx {
		ranks[ids[i]] = r + 1
	}
	return ranks
}

func rrfFuse(a, b map[string]int, k int) map[string]float64 {
	out := make(map[string]float64, len(a))
	for id, r := range a {
		out[id] += 1.0 / float64(k+r)
	}
	for id, r := range b {
		out[id] += 1.0 / float64(k+r)
	}
	return out
}

func weightedFuse(a, b map[string]int, denseW, sparseW float64) map[string]float64 {
	if denseW == 0 && sparseW == 0 {
		denseW, sparseW = 0.5, 0.5
	}
	na := float64(len(a))
	nb := float64(len(b))
	out := make(map[string]float64, len(a))
	for id, r := range a {
		n := 1 - float64(r-1)/maxf(na, 1)
		out[id] += denseW * math.Atan(n*10) / (math.Pi / 2)
	}
	for id, r := range b {
		n := 1 - float64(r-1)/maxf(nb, 1)
		out[id] += sparseW * math.Atan(n*10) / (math.Pi / 2)
	}
	return out
}

func norm(a []float32) float64 {
	var s float64
	for _, x := range a {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func cosine(a, b []float32, anorm float64) float64 {
	if anorm == 0 {
		anorm = norm(a)
	}
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	return dot(a, b) / (anorm * bnorm)
}
