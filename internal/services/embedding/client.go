// Package embedding wraps the Gemini embedding API and the vector math
// used by the semantic cache.
package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/tutorline/replybank/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"google.golang.org/genai"
)

const defaultModel = "text-embedding-004"

// Client converts text into embedding vectors
type Client struct {
	client *genai.Client
	model  string
	dims   int
}

// NewClient creates an embedding client backed by the Gemini API
func NewClient(ctx context.Context, cfg models.EmbeddingConfig) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
		fiberlog.Warnf("Embedding: model not configured, defaulting to %s", defaultModel)
	}

	return &Client{client: client, model: model, dims: cfg.Dimensions}, nil
}

// Embed converts text into an embedding vector
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	var cfg *genai.EmbedContentConfig
	if c.dims > 0 {
		dims := int32(c.dims)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}

	resp, err := c.client.Models.EmbedContent(ctx, c.model, genai.Text(text), cfg)
	if err != nil {
		return nil, models.NewUpstreamError("embedding", "embed request failed", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, models.NewUpstreamError("embedding", "empty embedding in response", nil)
	}

	values := resp.Embeddings[0].Values
	vector := make([]float64, len(values))
	for i, v := range values {
		vector[i] = float64(v)
	}

	fiberlog.Debugf("Embedding: generated %d-dimension vector (model: %s)", len(vector), c.model)
	return vector, nil
}

// Model returns the embedding model tag stored alongside cached vectors
func (c *Client) Model() string {
	return c.model
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Dimension mismatch is a caller error.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimensions must match: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	normA = math.Sqrt(normA)
	normB = math.Sqrt(normB)
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (normA * normB), nil
}

// VectorToJSON serializes a vector for column storage
func VectorToJSON(vector []float64) (string, error) {
	data, err := json.Marshal(vector)
	if err != nil {
		return "", fmt.Errorf("failed to serialize vector: %w", err)
	}
	return string(data), nil
}

// JSONToVector deserializes a stored vector
func JSONToVector(data string) ([]float64, error) {
	var vector []float64
	if err := json.Unmarshal([]byte(data), &vector); err != nil {
		return nil, fmt.Errorf("failed to parse stored vector: %w", err)
	}
	return vector, nil
}
