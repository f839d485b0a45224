package vectorctx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/aura-dev/aura/pkg/models"
)

// DefaultEmbeddingModel is used when the indexer config does not name one.
const DefaultEmbeddingModel = "text-embedding-3-small"

// Embedder turns text into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// openaiEmbedder embeds through the OpenAI API with the user's own key. The
// client is built lazily so opening an index never requires a credential;
// only indexing and querying do.
type openaiEmbedder struct {
	lookup models.CredentialLookup
	model  string

	mu     sync.Mutex
	client *openai.Client
}

// NewOpenAIEmbedder builds an embedder that resolves the user's OpenAI key
// through the credential lookup on first use.
func NewOpenAIEmbedder(lookup models.CredentialLookup, model string) Embedder {
	if model == "" {
		model = DefaultEmbeddingModel
	}
	return &openaiEmbedder{lookup: lookup, model: model}
}

func (e *openaiEmbedder) ensureClient(ctx context.Context) (*openai.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client != nil {
		return e.client, nil
	}
	apiKey, err := e.lookup(ctx, "openai")
	if err != nil {
		return nil, fmt.Errorf("look up openai api key: %w", err)
	}
	if apiKey == "" {
		return nil, errors.New("openai api key not configured")
	}
	e.client = openai.NewClientWithConfig(openai.DefaultConfig(apiKey))
	return e.client, nil
}

func (e *openaiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	client, err := e.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	// Newlines degrade embedding quality on these models.
	cleaned := make([]string, len(texts))
	for i, t := range texts {
		cleaned[i] = strings.ReplaceAll(t, "\n", " ")
	}

	resp, err := client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: cleaned,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	results := make([][]float32, len(resp.Data))
	for _, data := range resp.Data {
		results[data.Index] = data.Embedding
	}
	return results, nil
}
