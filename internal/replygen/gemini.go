// internal/replygen/gemini.go

// Package replygen produces short reply texts for the engagement loop. The
// primary generator calls the Gemini API; a fallback decorator absorbs
// outages with a static response pool so text generation can never kill a
// run.
package replygen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hxkal/stagehand/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrUnavailable indicates the generation service kept failing. Callers
// behind the fallback decorator never see it.
var ErrUnavailable = errors.New("replygen: text generation service unavailable")

// Generator produces one reply for a post's text.
type Generator interface {
	GenerateReply(ctx context.Context, postText string) (string, error)
}

// GeminiClient generates replies through the Gemini generateContent API.
type GeminiClient struct {
	apiKey     string
	endpoint   string
	tone       string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Generator = (*GeminiClient)(nil)

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role,omitempty"`
}

type geminiSystemInstruction struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent          `json:"contents"`
	SystemInstruction *geminiSystemInstruction `json:"system_instruction,omitempty"`
	GenerationConfig  geminiGenerationConfig   `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// NewGeminiClient builds the primary generator from configuration.
func NewGeminiClient(cfg config.ReplyConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("reply generation API key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent", cfg.Model)
	}

	return &GeminiClient{
		apiKey:   cfg.APIKey,
		endpoint: endpoint,
		tone:     cfg.Tone,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("replygen.gemini"),
	}, nil
}

const systemPromptTemplate = "You write a single short social-media reply to the post you are given. " +
	"Tone: %s. Under 200 characters. Plain text only, no hashtags, no quotes around the reply, " +
	"no emoji unless the post itself is playful."

// GenerateReply sends the post text to the API and returns the reply,
// retrying transient failures with exponential backoff.
func (c *GeminiClient) GenerateReply(ctx context.Context, postText string) (string, error) {
	tone := c.tone
	if tone == "" {
		tone = "friendly and casual"
	}

	payload := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: postText}}},
		},
		SystemInstruction: &geminiSystemInstruction{
			Parts: []geminiPart{{Text: fmt.Sprintf(systemPromptTemplate, tone)}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     0.9,
			MaxOutputTokens: 120,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal generation request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = time.Minute

	var reply string

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create generation request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.logger.Warn("Generation request network error, retrying", zap.Error(err))
			return fmt.Errorf("generation request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read generation response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return c.handleAPIError(resp.StatusCode, respBody)
		}

		var parsed geminiResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode generation response: %w", err))
		}
		if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
			return backoff.Permanent(fmt.Errorf("generation response contained no text"))
		}

		reply = parsed.Candidates[0].Content.Parts[0].Text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return reply, nil
}

func (c *GeminiClient) handleAPIError(statusCode int, body []byte) error {
	c.logger.Error("Generation API returned error status",
		zap.Int("status", statusCode),
		zap.String("response", string(body)),
	)
	err := fmt.Errorf("generation API error: status %d, body: %s", statusCode, string(body))

	switch statusCode {
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusServiceUnavailable:
		return err
	default:
		return backoff.Permanent(err)
	}
}
