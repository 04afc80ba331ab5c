// Package analyst provides the default upstream collaborators for the
// pipeline: a market-context stage fed from public exchange data and a
// plan stage backed by an OpenAI-compatible chat model.
package analyst

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
)

// Unrecoverable model failures. Their text carries the pipeline's fatal
// markers so the orchestrator circuit-breaks instead of degrading.
var (
	ErrContextTooLarge = errors.New("context too large for model")
	ErrInvalidRequest  = errors.New("invalid request to model")
)

// LLMClient produces a raw model completion for a prompt pair.
type LLMClient interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// OpenAICompatibleClient talks to any OpenAI-compatible chat endpoint.
type OpenAICompatibleClient struct {
	apiURL     string
	apiKey     string
	model      string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAICompatibleClient creates a new client for OpenAI-compatible APIs.
func NewOpenAICompatibleClient(apiURL, apiKey, model string) *OpenAICompatibleClient {
	return &OpenAICompatibleClient{
		apiURL: apiURL,
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []choice  `json:"choices"`
	Error   *apiError `json:"error,omitempty"`
}

type choice struct {
	Message      message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Chat sends a chat completion request, retrying transient failures.
// Oversized-context and malformed-request errors are surfaced immediately:
// retrying the same payload cannot succeed.
func (c *OpenAICompatibleClient) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("LLM API key is empty")
	}

	reqBody := chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.0, // deterministic responses for trading decisions
		MaxTokens:   8000,
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		response, err := c.sendRequest(ctx, reqBody)
		if err != nil {
			if errors.Is(err, ErrContextTooLarge) || errors.Is(err, ErrInvalidRequest) {
				return "", err
			}
			lastErr = err
			continue
		}

		return response, nil
	}

	return "", errors.Wrapf(lastErr, "failed after %d retries", c.maxRetries)
}

func (c *OpenAICompatibleClient) sendRequest(ctx context.Context, reqBody chatRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.Wrap(err, "marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", errors.Wrap(err, "create HTTP request")
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "read response body")
	}

	if resp.StatusCode != http.StatusOK {
		return "", classifyHTTPFailure(resp.StatusCode, body)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", errors.Wrap(err, "unmarshal response")
	}

	if chatResp.Error != nil {
		return "", classifyAPIError(chatResp.Error)
	}

	if len(chatResp.Choices) == 0 {
		return "", errors.New("LLM API returned no choices")
	}

	return chatResp.Choices[0].Message.Content, nil
}

func classifyHTTPFailure(status int, body []byte) error {
	if status == http.StatusBadRequest || status == http.StatusRequestEntityTooLarge {
		return classifyAPIErrorBody(body)
	}
	return fmt.Errorf("LLM API returned status %d: %s", status, string(body))
}

func classifyAPIErrorBody(body []byte) error {
	var payload struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != nil {
		return classifyAPIError(payload.Error)
	}
	return errors.Wrap(ErrInvalidRequest, string(body))
}

func classifyAPIError(e *apiError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case strings.Contains(msg, "maximum context length") || strings.Contains(msg, "context length") || e.Code == "context_length_exceeded":
		return errors.Wrap(ErrContextTooLarge, e.Message)
	case e.Type == "invalid_request_error":
		return errors.Wrap(ErrInvalidRequest, e.Message)
	default:
		return fmt.Errorf("LLM API error: %s (type: %s, code: %s)", e.Message, e.Type, e.Code)
	}
}
