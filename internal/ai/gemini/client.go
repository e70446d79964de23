package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/cv-screener/internal/ai"
)

const (
	Provider = "gemini"

	defaultModel = "gemini-2.5-flash"
)

var _ ai.Oracle = (*Client)(nil)

// contentGenerator is the subset of genai.Models used by the client.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client wraps the Google GenAI SDK as an ai.Oracle.
type Client struct {
	models contentGenerator
	logger *zap.Logger
}

// New creates a Client configured for the Gemini API backend.
func New(ctx context.Context, apiKey string, logger *zap.Logger) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{models: client.Models, logger: logger}, nil
}

// Complete sends the user prompt with the system instruction and returns the joined text parts.
func (c *Client) Complete(ctx context.Context, model, system, user string) (string, error) {
	if c == nil || c.models == nil {
		return "", errors.New("gemini client is not initialized")
	}

	user = strings.TrimSpace(user)
	if user == "" {
		return "", errors.New("prompt must not be empty")
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	}
	if strings.TrimSpace(system) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := c.models.GenerateContent(ctx, model, genai.Text(user), cfg)
	if err != nil {
		return "", classify(ctx, err)
	}

	output := joinText(resp)
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}

	c.logger.Debug("gemini generate content completed", zap.Int("response_length", len(output)))

	return output, nil
}

func classify(ctx context.Context, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if ai.IsTransientStatus(apiErr.Code) {
			return ai.Transient(ctx, Provider, apiErr.Code, err)
		}
		return fmt.Errorf("generate content: %w", err)
	}

	if ai.IsTransient(err) {
		return ai.Transient(ctx, Provider, 0, err)
	}

	return fmt.Errorf("generate content: %w", err)
}

func joinText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	return strings.TrimSpace(builder.String())
}
