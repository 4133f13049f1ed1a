// Package llm implements the model API client used to advance agent
// runs. It speaks the Anthropic messages dialect and the OpenAI chat
// completions dialect; failures come back pre-classified.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pkt.systems/pslog"
	"pkt.systems/termai/core"
	"pkt.systems/termai/schema"
)

const (
	anthropicBaseURL = "https://api.anthropic.com"
	openaiBaseURL    = "https://api.openai.com"

	anthropicVersion = "2023-06-01"

	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second

	// maxErrorBody bounds how much of an error response is retained for
	// classification and logs.
	maxErrorBody = 8 * 1024
)

// Config controls the client.
type Config struct {
	Provider   schema.ProviderID
	BaseURL    string
	APIKey     string
	MaxTokens  int
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     pslog.Logger
}

// Client performs model steps over HTTPS.
type Client struct {
	cfg  Config
	http *http.Client
	log  pslog.Logger
}

// New constructs a Client with defaults applied.
func New(cfg Config) *Client {
	if cfg.Provider == "" {
		cfg.Provider = schema.ProviderAnthropic
	}
	if cfg.BaseURL == "" {
		switch cfg.Provider {
		case schema.ProviderOpenAI:
			cfg.BaseURL = openaiBaseURL
		default:
			cfg.BaseURL = anthropicBaseURL
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Client{cfg: cfg, http: httpClient, log: logger}
}

// Step performs one model call for the given run state.
func (c *Client) Step(ctx context.Context, req core.StepRequest) core.StepResult {
	body, endpoint, err := c.encodeRequest(req)
	if err != nil {
		return core.StepResult{Err: &core.AgentAPIError{Kind: core.APIErrorUnknown, Err: err}}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return core.StepResult{Err: &core.AgentAPIError{Kind: core.APIErrorUnknown, Err: err}}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	switch c.cfg.Provider {
	case schema.ProviderAnthropic:
		httpReq.Header.Set("x-api-key", c.cfg.APIKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)
	default:
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return core.StepResult{Err: core.ClassifyTransport(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := core.ClassifyHTTP(resp.StatusCode, string(errBody), c.cfg.Provider)
		c.log.Warn("model call failed",
			"status", resp.StatusCode, "kind", apiErr.Kind, "model", req.Model)
		return core.StepResult{Err: apiErr}
	}

	text, err := c.decodeResponse(resp.Body)
	if err != nil {
		return core.StepResult{Err: &core.AgentAPIError{Kind: core.APIErrorMalformedResponse, Err: err}}
	}
	parsed, err := ParseAgentResponse(text)
	if err != nil {
		// Let the recovery policy decide; the raw text still travels.
		c.log.Debug("agent response not structured", "err", err)
		return core.StepResult{Raw: text}
	}
	return core.StepResult{Raw: text, Parsed: parsed}
}

// encodeRequest builds the provider-dialect request body.
func (c *Client) encodeRequest(req core.StepRequest) ([]byte, string, error) {
	system, user := BuildPrompt(req)
	switch c.cfg.Provider {
	case schema.ProviderAnthropic:
		payload := anthropicRequest{
			Model:     string(req.Model),
			MaxTokens: c.cfg.MaxTokens,
			System:    system,
			Messages: []anthropicMessage{
				{Role: "user", Content: user},
			},
		}
		body, err := json.Marshal(payload)
		return body, c.cfg.BaseURL + "/v1/messages", err
	default:
		payload := openaiRequest{
			Model:     string(req.Model),
			MaxTokens: c.cfg.MaxTokens,
			Messages: []openaiMessage{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
		}
		body, err := json.Marshal(payload)
		return body, c.cfg.BaseURL + "/v1/chat/completions", err
	}
}

// decodeResponse extracts the model's text from the provider envelope.
func (c *Client) decodeResponse(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	switch c.cfg.Provider {
	case schema.ProviderAnthropic:
		var envelope anthropicResponse
		if err := json.Unmarshal(data, &envelope); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		var text strings.Builder
		for _, block := range envelope.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}
		return text.String(), nil
	default:
		var envelope openaiResponse
		if err := json.Unmarshal(data, &envelope); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if len(envelope.Choices) == 0 {
			return "", nil
		}
		return envelope.Choices[0].Message.Content, nil
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openaiRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens,omitempty"`
	Messages  []openaiMessage `json:"messages"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []openaiChoice `json:"choices"`
}

type openaiChoice struct {
	Message openaiMessage `json:"message"`
}
