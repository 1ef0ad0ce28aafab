package embedder

import (
	"fmt"

	"cogmem/internal/config"
	"cogmem/internal/vectorstore"
)

// New selects an embedding generator by cfg.Embedding.Backend. OfflineMode
// forces the pseudo backend regardless of the configured backend, matching
// spec.md §4.3's guarantee that offline mode never makes a network call.
func New(cfg config.Config) (vectorstore.EmbeddingGenerator, error) {
	if cfg.OfflineMode || cfg.Embedding.Backend == "" || cfg.Embedding.Backend == "pseudo" {
		return NewPseudo(cfg.Embedding.Dimensions), nil
	}
	switch cfg.Embedding.Backend {
	case "openai":
		return NewOpenAI(cfg.Embedding), nil
	default:
		return nil, fmt.Errorf("unsupported embedding backend: %s", cfg.Embedding.Backend)
	}
}
