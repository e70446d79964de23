// Package ollama talks to a local Ollama server through its /api/chat endpoint.
package ollama

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

	"go.uber.org/zap"

	"github.com/spigell/cv-screener/internal/ai"
)

const (
	Provider = "ollama"

	DefaultHost    = "http://localhost:11434"
	defaultTimeout = 120 * time.Second
	maxErrorBody   = 4 << 10
)

var _ ai.Oracle = (*Client)(nil)

// Config configures the Ollama client.
type Config struct {
	Host    string
	Timeout time.Duration
	// Temperature is sent in options; zero keeps scoring as deterministic as the model allows.
	Temperature float64
}

// Client implements ai.Oracle against an Ollama server.
type Client struct {
	baseURL     string
	temperature float64
	HTTPClient  *http.Client
	logger      *zap.Logger
}

// New returns a client for the configured host. Each call is bounded by cfg.Timeout.
func New(cfg Config, logger *zap.Logger) *Client {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		host = DefaultHost
	}
	host = strings.TrimSuffix(host, "/api")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:     host + "/api",
		temperature: cfg.Temperature,
		HTTPClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
	Error           string      `json:"error"`
}

// Complete sends one non-streaming chat request and returns the assistant message content.
func (c *Client) Complete(ctx context.Context, model, system, user string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("ollama model is required")
	}
	if strings.TrimSpace(user) == "" {
		return "", errors.New("prompt must not be empty")
	}

	payload, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": c.temperature},
	})
	if err != nil {
		return "", fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", ai.Transient(ctx, Provider, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := fmt.Errorf("ollama request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
		if ai.IsTransientStatus(resp.StatusCode) {
			return "", ai.Transient(ctx, Provider, resp.StatusCode, statusErr)
		}
		return "", statusErr
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		// A body cut off mid-stream is an endpoint failure, not oracle non-compliance.
		return "", ai.Transient(ctx, Provider, resp.StatusCode, fmt.Errorf("decode ollama response: %w", err))
	}
	if decoded.Error != "" {
		return "", fmt.Errorf("ollama error: %s", decoded.Error)
	}

	c.logger.Debug("ollama chat completed",
		zap.String("model", decoded.Model),
		zap.Duration("latency", time.Since(started)),
		zap.Int("prompt_tokens", decoded.PromptEvalCount),
		zap.Int("completion_tokens", decoded.EvalCount),
		zap.String("done_reason", decoded.DoneReason),
	)

	return decoded.Message.Content, nil
}
