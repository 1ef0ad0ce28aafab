package embedder

import (
	"context"
	"fmt"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"cogmem/internal/config"
)

// OpenAI generates embeddings through an OpenAI-compatible /embeddings
// endpoint using the official SDK client, the same client-construction
// pattern (option.WithAPIKey/WithBaseURL) the rest of the corpus uses for
// its chat clients, retargeted at the embeddings endpoint rather than a
// hand-rolled net/http call.
type OpenAI struct {
	client     sdk.Client
	model      string
	dimensions int
}

// NewOpenAI builds an embedder from the given configuration. BaseURL may
// point at any OpenAI-compatible embeddings server (self-hosted or cloud).
func NewOpenAI(cfg config.EmbeddingConfig) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 1024
	}
	model := cfg.Model
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAI{
		client:     sdk.NewClient(opts...),
		model:      model,
		dimensions: dims,
	}
}

func (o *OpenAI) Dimensions() int { return o.dimensions }

// Embed calls the embeddings endpoint for a single input string and returns
// its vector, truncated or zero-padded to o.dimensions so callers never see
// a vector of unexpected length regardless of what the backing model emits.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, sdk.EmbeddingNewParams{
		Input: sdk.EmbeddingNewParamsInputUnion{OfString: sdk.String(text)},
		Model: sdk.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response for model %s", o.model)
	}
	raw := resp.Data[0].Embedding
	out := make([]float32, o.dimensions)
	n := len(raw)
	if n > o.dimensions {
		n = o.dimensions
	}
	for i := 0; i < n; i++ {
		out[i] = float32(raw[i])
	}
	return out, nil
}
