package docs

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/vijoin/tero/internal/tokens"
)

// Embeddings are the vectors of a batch of inputs plus the tokens billed.
type Embeddings struct {
	Vectors [][]float32
	Tokens  int
}

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) (*Embeddings, error)
}

// OpenAIConfig configures the OpenAI embedding client.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIEmbedder embeds text with the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

const maxEmbeddingBatch = 256

// NewOpenAIEmbedder returns an embedder for cfg. Model defaults to
// text-embedding-3-small.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(config), model: cfg.Model}, nil
}

// Model returns the embedding model id.
func (e *OpenAIEmbedder) Model() string { return e.model }

func (e *OpenAIEmbedder) Embed(ctx context.Context, inputs []string) (*Embeddings, error) {
	out := &Embeddings{Vectors: make([][]float32, 0, len(inputs))}
	for start := 0; start < len(inputs); start += maxEmbeddingBatch {
		end := min(start+maxEmbeddingBatch, len(inputs))
		batch := inputs[start:end]
		resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: batch,
			Model: openai.EmbeddingModel(e.model),
		})
		if err != nil {
			return nil, fmt.Errorf("create embeddings: %w", err)
		}
		if len(resp.Data) != len(batch) {
			return nil, fmt.Errorf("create embeddings: got %d vectors for %d inputs", len(resp.Data), len(batch))
		}
		vectors := make([][]float32, len(batch))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(vectors) {
				return nil, fmt.Errorf("create embeddings: index %d out of range", d.Index)
			}
			vectors[d.Index] = d.Embedding
		}
		out.Vectors = append(out.Vectors, vectors...)

		billed := resp.Usage.TotalTokens
		if billed == 0 {
			for _, in := range batch {
				billed += tokens.Text(in)
			}
		}
		out.Tokens += billed
	}
	return out, nil
}
