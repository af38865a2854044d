package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kairoslabs/kairos-agent/config"
)

// ErrEmbeddingFailed indicates the embedding provider could not be reached
// or returned an unusable vector. Search degrades to scalar ranking when it
// sees this.
var ErrEmbeddingFailed = errors.New("embedding failed")

// EmbeddingService turns free text into dense vectors via an
// OpenAI-compatible embeddings endpoint.
type EmbeddingService struct {
	apiKey     string
	apiURL     string
	model      string
	dimensions int
	client     *http.Client
	logger     zerolog.Logger
}

// NewEmbeddingService creates a new EmbeddingService instance.
func NewEmbeddingService(cfg *config.Config, logger zerolog.Logger) *EmbeddingService {
	return &EmbeddingService{
		apiKey:     cfg.LLMAPIKey,
		apiURL:     strings.TrimRight(cfg.LLMAPIURL, "/") + "/embeddings",
		model:      cfg.EmbeddingModel,
		dimensions: cfg.EmbeddingDimensions,
		client:     &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With().Str("service", "embedding").Logger(),
	}
}

// EmbedQuery embeds a single query string.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	reqBody := map[string]any{
		"model": s.model,
		"input": text,
	}
	if s.dimensions > 0 {
		reqBody["dimensions"] = s.dimensions
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		s.logger.Warn().Int("status", resp.StatusCode).Msg("embedding request rejected")
		return nil, fmt.Errorf("%w: status %d", ErrEmbeddingFailed, resp.StatusCode)
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrEmbeddingFailed)
	}

	return result.Data[0].Embedding, nil
}
