// Package llm wraps an OpenAI-compatible chat-completions endpoint behind a
// uniform generate contract with resilient parsing of unstructured output.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"rolemint/internal/utils"
)

const (
	defaultModel       = "gpt-4o"
	defaultEndpoint    = "https://api.openai.com/v1/chat/completions"
	defaultTemperature = 0.3
	defaultMaxTokens   = 1000

	systemPrompt = "You are an expert security analyst specializing in Role-Based Access Control (RBAC) design. Always respond with valid JSON."
)

// TransportError covers network, credential and non-2xx failures. These are
// never swallowed; the caller decides whether to retry or skip.
type TransportError struct {
	StatusCode int
	Message    string
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm call failed with HTTP %d: %s", e.StatusCode, e.Message)
	}
	return "llm call failed: " + e.Message
}

// Config controls the gateway. Zero values fall back to defaults.
type Config struct {
	APIKey      string
	Model       string
	Endpoint    string
	Temperature float64
	MaxTokens   int
	HTTPClient  HTTPClient
}

// HTTPClient abstracts the transport so tests can stub it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type initState int

const (
	stateUninitialized initState = iota
	stateReady
	stateFailed
)

// Client is the gateway to the model. Construction never fails, even with
// absent credentials: the transport is initialized on first use and an init
// failure is cached, so a known-bad configuration fails fast on every call
// instead of being retried.
type Client struct {
	cfg Config

	mu      sync.Mutex
	state   initState
	initErr error
	client  HTTPClient
}

func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Client{cfg: cfg}
}

func (c *Client) ensureReady() (HTTPClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateReady:
		return c.client, nil
	case stateFailed:
		return nil, c.initErr
	}

	if strings.TrimSpace(c.cfg.APIKey) == "" {
		c.state = stateFailed
		c.initErr = &TransportError{Message: "API key not configured (set openai.api_key in config or OPENAI_API_KEY)"}
		return nil, c.initErr
	}

	if c.cfg.HTTPClient != nil {
		c.client = c.cfg.HTTPClient
	} else {
		retryClient := retryablehttp.NewClient()
		retryClient.RetryMax = 0
		retryClient.HTTPClient.Timeout = 120 * time.Second
		retryClient.Logger = nil
		c.client = retryClient.StandardClient()
	}
	c.state = stateReady
	utils.Log.Debug("LLM transport initialized")
	return c.client, nil
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate sends the prompt and returns the parsed response mapping.
// Transport failures propagate as *TransportError; malformed model output
// never does, it degrades into a fallback record instead.
func (c *Client) Generate(ctx context.Context, prompt string, jsonMode bool) (map[string]any, error) {
	client, err := c.ensureReady()
	if err != nil {
		return nil, err
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	if jsonMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &TransportError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErrResp struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErrResp)
		return nil, &TransportError{StatusCode: resp.StatusCode, Message: apiErrResp.Error.Message}
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &TransportError{Message: "unreadable response body: " + err.Error()}
	}

	var content string
	if len(apiResp.Choices) > 0 {
		content = strings.TrimSpace(apiResp.Choices[0].Message.Content)
	}

	if !jsonMode {
		return map[string]any{"response": content}, nil
	}
	return parseContent(prompt, content), nil
}

// parseContent normalizes model output in three tiers: direct JSON parse,
// then the largest brace-delimited substring, then a synthesized fallback
// record. A successful network call always yields a valid mapping.
func parseContent(prompt, content string) map[string]any {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(content), &parsed); err == nil {
		return parsed
	}

	// gjson.Parse assumes well-formed input, so Valid must gate it here.
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		candidate := content[start : end+1]
		if gjson.Valid(candidate) {
			if obj, ok := gjson.Parse(candidate).Value().(map[string]any); ok {
				return obj
			}
		}
	}

	utils.Log.Warnf("Model returned no parseable JSON, synthesizing fallback record")
	return map[string]any{
		"role_name":   "Role_" + utils.Truncate(prompt, 20),
		"description": utils.Truncate(content, 200),
		"rationale":   "Generated from model response",
		"risk_level":  "MEDIUM",
	}
}

// TestConnection makes a minimal round-trip to verify the credentials work.
func (c *Client) TestConnection(ctx context.Context) bool {
	client, err := c.ensureReady()
	if err != nil {
		utils.Log.Errorf("Connection test failed: %v", err)
		return false
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: "Say 'Connected'"},
		},
		MaxTokens: 10,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		utils.Log.Errorf("Connection test failed: %v", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		utils.Log.Errorf("Connection test failed with HTTP %d", resp.StatusCode)
		return false
	}
	utils.Log.Info("Connection test successful")
	return true
}
