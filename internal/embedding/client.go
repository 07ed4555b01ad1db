// Package embedding adapts an upstream text-embedding endpoint (any
// OpenAI-compatible /v1/embeddings API, e.g. Ollama) into the
// text -> unit-length float vector contract used throughout memoria.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// maxInputChars is the model context cap; longer input is truncated before
// it is sent upstream.
const maxInputChars = 32000

// batchSize bounds how many texts EmbedMany sends to the upstream API at a
// time, preserving input order across batches.
const batchSize = 10

// Result is a single embedding response.
type Result struct {
	Vector     []float32 `json:"vector"`
	Dimensions int       `json:"dimensions"`
}

// Client handles communication with an embedding model endpoint.
type Client struct {
	baseURL string
	model   string
	dim     int
	client  *http.Client
}

// NewClient creates an embedding client for the OpenAI-compatible endpoint
// at baseURL using model, which is expected to produce vectors of
// dimension dim.
func NewClient(baseURL, model string, dim int) *Client {
	return &Client{
		baseURL: baseURL,
		model:   model,
		dim:     dim,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Dim returns the fixed embedding dimension this client was configured for.
func (c *Client) Dim() int { return c.dim }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed produces a unit-length vector for text, truncating to the first
// maxInputChars characters first.
func (c *Client) Embed(ctx context.Context, text string) (Result, error) {
	vectors, err := c.embedBatch(ctx, []string{truncate(text)})
	if err != nil {
		return Result{}, err
	}
	return Result{Vector: vectors[0], Dimensions: len(vectors[0])}, nil
}

// EmbedMany embeds texts in groups of batchSize, preserving input order.
func (c *Client) EmbedMany(ctx context.Context, texts []string) ([]Result, error) {
	out := make([]Result, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		truncated := make([]string, end-start)
		for i, t := range texts[start:end] {
			truncated[i] = truncate(t)
		}
		vectors, err := c.embedBatch(ctx, truncated)
		if err != nil {
			return nil, fmt.Errorf("embedding batch [%d:%d]: %w", start, end, err)
		}
		for i, v := range vectors {
			out[start+i] = Result{Vector: v, Dimensions: len(v)}
		}
	}
	return out, nil
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embedRequest{Model: c.model, Input: texts}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/embeddings", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call embedding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, string(body))
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(embedResp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(embedResp.Data))
	}

	vectors := make([][]float32, len(embedResp.Data))
	for i, d := range embedResp.Data {
		vectors[i] = normalize(d.Embedding)
	}
	return vectors, nil
}

func truncate(text string) string {
	r := []rune(text)
	if len(r) > maxInputChars {
		return string(r[:maxInputChars])
	}
	return text
}

// normalize rescales v to unit L2 length, tolerating upstream models that
// do not already normalize their output.
func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, f := range v {
		sumSquares += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 || math.Abs(norm-1) < 1e-6 {
		return v
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(float64(f) / norm)
	}
	return out
}
