// Package llm talks to an OpenAI-compatible completion endpoint (LM Studio
// and friends) and turns free-form model output into schema-shaped records.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vkruglov/replyharvest/internal/extract"
	"github.com/vkruglov/replyharvest/internal/retry"
	"github.com/vkruglov/replyharvest/pkg/models"
)

// Config for the completion client.
type Config struct {
	APIURL      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	Retry       retry.Policy
}

// Client sends analysis prompts and extracts structured data from the
// model's reply.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	httpClient *http.Client
}

type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Stop        *string `json:"stop"`
	Stream      bool    `json:"stream"`
}

// NewClient creates a completion client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "llm", "model", cfg.Model),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Analyze asks the model to extract schema fields from the message body.
// A nil record with a nil error means the model answered but nothing
// usable could be extracted; that is an expected outcome, not a failure.
func (c *Client) Analyze(ctx context.Context, body string, schema models.FieldSchema) (models.ExtractedRecord, error) {
	payload, err := json.Marshal(completionRequest{
		Model:       c.cfg.Model,
		Prompt:      buildPrompt(body, schema),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
		Stream:      false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var raw string
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		var cerr error
		raw, cerr = c.complete(ctx, payload)
		return cerr
	})
	if err != nil {
		return nil, err
	}

	record, ok := extract.Extract(raw, schema)
	if !ok {
		preview := raw
		if len(preview) > 200 {
			preview = preview[:200]
		}
		c.logger.Warn("no structured data in model response", "response", preview)
		return nil, nil
	}
	return record, nil
}

func (c *Client) complete(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error: %s (status %d)", string(respBody), resp.StatusCode)
	}
	return string(respBody), nil
}
