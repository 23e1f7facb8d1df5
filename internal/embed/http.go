// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/pdiddy/litreview-engine/internal/httputil"
)

const defaultBatchSize = 32

const embeddingsPath = "/embeddings"

// HTTPVectorizer calls an OpenAI-compatible embeddings endpoint.
type HTTPVectorizer struct {
	BaseURL    string
	Model      string
	APIKey     string
	BatchSize  int
	MaxRetries int
	Client     *http.Client
}

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Vectorize implements Vectorizer. Inputs are sent in batches and the rows
// come back in input order regardless of the order the server lists them.
func (h *HTTPVectorizer) Vectorize(ctx context.Context, texts []string) (*mat.Dense, error) {
	if len(texts) == 0 {
		return &mat.Dense{}, nil
	}
	batch := h.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	rows := make([][]float64, len(texts))
	for start := 0; start < len(texts); start += batch {
		end := min(start+batch, len(texts))
		vecs, err := h.call(ctx, client, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}
		copy(rows[start:end], vecs)
	}

	dims := len(rows[0])
	if dims == 0 {
		return nil, fmt.Errorf("embedding endpoint returned empty vectors")
	}
	out := mat.NewDense(len(rows), dims, nil)
	for i, r := range rows {
		if len(r) != dims {
			return nil, fmt.Errorf("embedding %d has %d dimensions, want %d", i, len(r), dims)
		}
		out.SetRow(i, r)
	}
	return out, nil
}

func (h *HTTPVectorizer) call(ctx context.Context, client *http.Client, texts []string) ([][]float64, error) {
	// Empty strings are rejected by some providers.
	input := make([]string, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			t = " "
		}
		input[i] = t
	}
	body, err := json.Marshal(embeddingRequest{Model: h.Model, Input: input, EncodingFormat: "float"})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := strings.TrimRight(h.BaseURL, "/") + embeddingsPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.APIKey)
	}

	resp, err := httputil.DoWithRetry(ctx, client, req, h.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("calling embeddings API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embeddings API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var er embeddingResponse
	if err := json.Unmarshal(respBody, &er); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(er.Data) != len(texts) {
		return nil, fmt.Errorf("got %d embeddings for %d inputs", len(er.Data), len(texts))
	}
	out := make([][]float64, len(texts))
	for _, d := range er.Data {
		if d.Index < 0 || d.Index >= len(texts) || out[d.Index] != nil {
			return nil, fmt.Errorf("bad embedding index %d", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
