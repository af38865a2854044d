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

// ErrGenerationFailed is the single error kind the gateway exposes. By the
// time it surfaces, retries and model failover have already been exhausted,
// so callers treat every failure identically and degrade.
var ErrGenerationFailed = errors.New("generation failed")

const (
	llmTimeout     = 30 * time.Second
	llmMaxAttempts = 2
	llmRetryWait   = 2 * time.Second
)

// chatMessage is a message in the chat-completions request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is a request to the OpenAI-compatible chat-completions API.
type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
}

// LLMService talks to an OpenAI-compatible chat-completions API with a
// primary and an optional fallback model.
type LLMService struct {
	apiKey        string
	apiURL        string
	model         string
	fallbackModel string
	client        *http.Client
	logger        zerolog.Logger
}

// NewLLMService creates a new LLMService instance.
func NewLLMService(cfg *config.Config, logger zerolog.Logger) *LLMService {
	return &LLMService{
		apiKey:        cfg.LLMAPIKey,
		apiURL:        strings.TrimRight(cfg.LLMAPIURL, "/") + "/chat/completions",
		model:         cfg.LLMModel,
		fallbackModel: cfg.LLMFallbackModel,
		client:        &http.Client{Timeout: llmTimeout},
		logger:        logger.With().Str("service", "llm").Logger(),
	}
}

// GenerateText calls the model with the given prompt and returns the raw
// text response. Retries once per model, then fails over to the fallback
// model when one is configured.
func (s *LLMService) GenerateText(ctx context.Context, prompt string) (string, error) {
	return s.generate(ctx, prompt, false)
}

// GenerateJSON calls the model in JSON mode and returns the parsed response
// body. Markdown fences are stripped before parsing; a body that is still
// not valid JSON counts as a generation failure.
func (s *LLMService) GenerateJSON(ctx context.Context, prompt string) (json.RawMessage, error) {
	raw, err := s.generate(ctx, prompt, true)
	if err != nil {
		return nil, err
	}

	cleaned := stripFences(raw)
	if !json.Valid([]byte(cleaned)) {
		s.logger.Error().Str("raw", raw).Msg("model returned invalid JSON")
		return nil, fmt.Errorf("invalid JSON from model: %w", ErrGenerationFailed)
	}
	return json.RawMessage(cleaned), nil
}

func (s *LLMService) generate(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	models := []string{s.model}
	if s.fallbackModel != "" && s.fallbackModel != s.model {
		models = append(models, s.fallbackModel)
	}

	var lastErr error
	for _, model := range models {
		for attempt := 1; attempt <= llmMaxAttempts; attempt++ {
			text, err := s.call(ctx, model, prompt, jsonMode)
			if err == nil {
				return text, nil
			}
			lastErr = err
			s.logger.Warn().
				Str("model", model).
				Int("attempt", attempt).
				Err(err).
				Msg("model call failed")
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: %v", ErrGenerationFailed, ctx.Err())
			}
			if attempt < llmMaxAttempts {
				select {
				case <-time.After(llmRetryWait):
				case <-ctx.Done():
					return "", fmt.Errorf("%w: %v", ErrGenerationFailed, ctx.Err())
				}
			}
		}
	}

	return "", fmt.Errorf("%w: %v", ErrGenerationFailed, lastErr)
}

func (s *LLMService) call(ctx context.Context, model, prompt string, jsonMode bool) (string, error) {
	reqBody := chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.3,
		MaxTokens:   2048,
	}
	if jsonMode {
		reqBody.ResponseFormat = map[string]string{"type": "json_object"}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("no response from API")
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	lines := strings.Split(cleaned, "\n")
	if len(lines) > 1 && strings.HasPrefix(lines[len(lines)-1], "```") {
		lines = lines[1 : len(lines)-1]
	} else {
		lines = lines[1:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
