package recall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"cogmem/internal/model"
	"cogmem/internal/vectorstore"
)

const (
	remoteHighlightTimeout    = 10 * time.Second
	healthCheckDebounce       = 30 * time.Second
	defaultHighlightThreshold = 0.5
)

var sentenceSplitRe = regexp.MustCompile(`[.!?]+\s+`)

func splitSentences(content string) []string {
	var out []string
	for _, s := range sentenceSplitRe.Split(content, -1) {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// remoteHighlightRequest/Response mirror the bounded RPC payload spec.md §6
// names for the highlighting sidecar.
type remoteHighlightRequest struct {
	Query     string   `json:"query"`
	Sentences []string `json:"sentences"`
}

type remoteHighlightResponse struct {
	Scores []float64 `json:"scores"`
}

// RemoteHighlighter calls an external highlight-scoring sidecar over HTTP,
// grounded on the teacher's reRankChunks's bare-http.Client RPC-to-a-local-
// inference-server shape (rerank.go), retargeted from chunk reranking to
// sentence highlight scoring.
type RemoteHighlighter struct {
	url    string
	client *http.Client

	mu              sync.Mutex
	lastHealthCheck time.Time
	healthy         bool
}

// NewRemoteHighlighter returns a client for the sidecar at url. An empty url
// disables the remote stage entirely (ScoreSentences always errors).
func NewRemoteHighlighter(url string) *RemoteHighlighter {
	return &RemoteHighlighter{
		url:    url,
		client: &http.Client{Timeout: remoteHighlightTimeout},
	}
}

// checkHealth debounces health checks to once per 30s, per spec.md §4.9.
func (r *RemoteHighlighter) checkHealth(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastHealthCheck) < healthCheckDebounce {
		return r.healthy
	}
	r.lastHealthCheck = time.Now()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url+"/health", nil)
	if err != nil {
		r.healthy = false
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		r.healthy = false
		return false
	}
	defer resp.Body.Close()
	r.healthy = resp.StatusCode == http.StatusOK
	return r.healthy
}

// ScoreSentences posts query+sentences to the sidecar and returns one score
// per sentence, in order.
func (r *RemoteHighlighter) ScoreSentences(ctx context.Context, query string, sentences []string) ([]float64, error) {
	if r == nil || r.url == "" {
		return nil, fmt.Errorf("recall: no remote highlight sidecar configured")
	}
	if !r.checkHealth(ctx) {
		return nil, fmt.Errorf("recall: highlight sidecar failed health check")
	}

	ctx, cancel := context.WithTimeout(ctx, remoteHighlightTimeout)
	defer cancel()

	payload, err := json.Marshal(remoteHighlightRequest{Query: query, Sentences: sentences})
	if err != nil {
		return nil, fmt.Errorf("marshal highlight request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+"/highlight", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create highlight request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("highlight request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("highlight sidecar returned %d: %s", resp.StatusCode, string(body))
	}
	var out remoteHighlightResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode highlight response: %w", err)
	}
	return out.Scores, nil
}

// Highlighter runs the three-stage scoring priority chain spec.md §4.9
// defines: remote sidecar, then embedding cosine, then lexical overlap.
type Highlighter struct {
	remote    *RemoteHighlighter
	embedder  vectorstore.EmbeddingGenerator
	threshold float64
}

// NewHighlighter builds a Highlighter. remote may be nil to skip straight to
// the embedding stage; embedder may be nil to skip straight to lexical.
func NewHighlighter(remote *RemoteHighlighter, embedder vectorstore.EmbeddingGenerator) *Highlighter {
	return &Highlighter{remote: remote, embedder: embedder, threshold: defaultHighlightThreshold}
}

// WithThreshold overrides the sentence-keep threshold (default 0.5) and
// returns h for chaining at construction time.
func (h *Highlighter) WithThreshold(threshold float64) *Highlighter {
	if threshold > 0 {
		h.threshold = threshold
	}
	return h
}

// Highlight splits each candidate's content into sentences, scores every
// sentence against query via the fallback chain, and returns those scoring
// above the threshold, along with the total and kept character counts (for
// the caller's compressionRate).
func (h *Highlighter) Highlight(ctx context.Context, query string, candidates []model.MemoryEntry) ([]string, int, int) {
	var allSentences []string
	for _, c := range candidates {
		allSentences = append(allSentences, splitSentences(c.Content)...)
	}
	if len(allSentences) == 0 {
		return nil, 0, 0
	}

	scores := h.scoreSentences(ctx, query, allSentences)

	totalLen, keptLen := 0, 0
	var kept []string
	for i, s := range allSentences {
		totalLen += len(s)
		if scores[i] > h.threshold {
			kept = append(kept, s)
			keptLen += len(s)
		}
	}
	return kept, totalLen, keptLen
}

// scoreSentences runs the fallback chain: remote sidecar, then embedding
// cosine similarity, then lexical token overlap — falling through on any
// stage's failure so highlighting always returns a result.
func (h *Highlighter) scoreSentences(ctx context.Context, query string, sentences []string) []float64 {
	if h.remote != nil {
		if scores, err := h.remote.ScoreSentences(ctx, query, sentences); err == nil && len(scores) == len(sentences) {
			return scores
		} else if err != nil {
			log.Warn().Err(err).Msg("recall: remote highlight sidecar unavailable, falling back")
		}
	}

	if h.embedder != nil {
		if scores, err := h.embeddingScores(ctx, query, sentences); err == nil {
			return scores
		} else {
			log.Warn().Err(err).Msg("recall: embedding highlight scoring failed, falling back to lexical")
		}
	}

	return lexicalScores(query, sentences)
}

func (h *Highlighter) embeddingScores(ctx context.Context, query string, sentences []string) ([]float64, error) {
	qv, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	out := make([]float64, len(sentences))
	for i, s := range sentences {
		sv, err := h.embedder.Embed(ctx, s)
		if err != nil {
			return nil, fmt.Errorf("embed sentence: %w", err)
		}
		out[i] = cosineFloat32(qv, sv)
	}
	return out, nil
}

func cosineFloat32(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	for _, x := range a {
		na += float64(x) * float64(x)
	}
	for _, x := range b {
		nb += float64(x) * float64(x)
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// lexicalScores is the final fallback: lowercase token-overlap over tokens
// longer than 2 characters, normalized by the query's token count.
func lexicalScores(query string, sentences []string) []float64 {
	qTokens := tokenSet(query)
	out := make([]float64, len(sentences))
	if len(qTokens) == 0 {
		return out
	}
	for i, s := range sentences {
		sTokens := tokenSet(s)
		overlap := 0
		for t := range qTokens {
			if _, ok := sTokens[t]; ok {
				overlap++
			}
		}
		out[i] = float64(overlap) / float64(len(qTokens))
	}
	return out
}

func tokenSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.Trim(f, ".,!?;:\"'()[]{}")
		if len(f) > 2 {
			out[f] = struct{}{}
		}
	}
	return out
}
