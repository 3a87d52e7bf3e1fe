// Package deepseek implements the completion client against the DeepSeek
// OpenAI-compatible chat API. The chat and reasoning tiers are the same
// endpoint with different model names.
package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/reynekefox/chatrelay/internal/llm"
)

type Config struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	ReasoningModel string
	Timeout        time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.deepseek.com/v1"
	}
	if strings.TrimSpace(cfg.ChatModel) == "" {
		cfg.ChatModel = "deepseek-chat"
	}
	if strings.TrimSpace(cfg.ReasoningModel) == "" {
		cfg.ReasoningModel = "deepseek-reasoner"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With("component", "deepseek"),
	}
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) Complete(ctx context.Context, request llm.CompletionRequest) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", fmt.Errorf("%w: missing API key", llm.ErrUnavailable)
	}
	if len(request.Messages) == 0 {
		return "", fmt.Errorf("completion request has no messages")
	}

	payload := chatCompletionRequest{
		Model:       c.model(request.Variant),
		Messages:    request.Messages,
		Temperature: request.Temperature,
		MaxTokens:   request.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.cfg.APIKey))
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		c.logger.Error("completion failed",
			"model", payload.Model,
			"status", res.StatusCode,
			"body", strings.TrimSpace(string(respBody)))
		return "", &llm.StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var response chatCompletionResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("completion response returned no choices")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// Probe sends a minimal one-token request to verify the given tier responds
// at all. Used before routing a turn to the reasoning model.
func (c *Client) Probe(ctx context.Context, variant llm.Variant) error {
	_, err := c.Complete(ctx, llm.CompletionRequest{
		Messages:  []llm.Message{{Role: "user", Content: "test"}},
		Variant:   variant,
		MaxTokens: 1,
	})
	return err
}

func (c *Client) model(variant llm.Variant) string {
	if variant == llm.VariantReasoning {
		return c.cfg.ReasoningModel
	}
	return c.cfg.ChatModel
}
