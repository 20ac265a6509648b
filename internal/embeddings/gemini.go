// Package embeddings produces text embeddings with Gemini.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	DefaultModel = "text-embedding-004"
	// maxBatch is the Gemini batchEmbedContents request limit.
	maxBatch = 100
	// maxRunes bounds the text sent per input.
	maxRunes = 8000
)

var ErrEmptyText = errors.New("embeddings: text is empty")

type batchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Client embeds text with a Gemini embedding model.
type Client struct {
	client *genai.Client
	embed  batchFunc
	model  string
}

// NewGeminiClient creates a client; model defaults to text-embedding-004.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("embeddings: gemini api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("embeddings: failed to create gemini client: %w", err)
	}
	em := client.EmbeddingModel(model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	return &Client{
		client: client,
		model:  model,
		embed: func(ctx context.Context, texts []string) ([][]float32, error) {
			batch := em.NewBatch()
			for _, t := range texts {
				batch.AddContent(genai.Text(t))
			}
			resp, err := em.BatchEmbedContents(ctx, batch)
			if err != nil {
				return nil, err
			}
			out := make([][]float32, 0, len(resp.Embeddings))
			for _, e := range resp.Embeddings {
				if e == nil {
					out = append(out, nil)
					continue
				}
				out = append(out, e.Values)
			}
			return out, nil
		},
	}, nil
}

func newClientWithFunc(fn batchFunc) *Client {
	return &Client{embed: fn, model: DefaultModel}
}

// Model returns the embedding model id.
func (c *Client) Model() string { return c.model }

// Embed returns the vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in request-sized chunks, preserving order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	prepared := make([]string, len(texts))
	for i, t := range texts {
		t = Truncate(strings.TrimSpace(t), maxRunes)
		if t == "" {
			return nil, fmt.Errorf("%w (input %d)", ErrEmptyText, i)
		}
		prepared[i] = t
	}

	out := make([][]float32, 0, len(prepared))
	for start := 0; start < len(prepared); start += maxBatch {
		end := start + maxBatch
		if end > len(prepared) {
			end = len(prepared)
		}
		vecs, err := c.embed(ctx, prepared[start:end])
		if err != nil {
			return nil, fmt.Errorf("embeddings: batch embed: %w", err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("embeddings: got %d vectors for %d inputs", len(vecs), end-start)
		}
		for i, v := range vecs {
			if len(v) == 0 {
				return nil, fmt.Errorf("embeddings: empty vector for input %d", start+i)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
