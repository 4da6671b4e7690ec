// Package completion talks to an OpenAI-compatible chat-completions API
// (OpenRouter by default).
package completion

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
)

const (
	// DefaultBaseURL is the OpenRouter API root.
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	// DefaultModel is used when no model is configured.
	DefaultModel = "mistralai/mistral-7b-instruct"
	// DefaultReferer and DefaultTitle identify the application to OpenRouter.
	DefaultReferer = "http://localhost:8080"
	DefaultTitle   = "AI Daily Briefing Assistant"

	chatCompletionsPath = "/chat/completions"
)

var (
	// ErrMissingAPIKey is returned before any network call when no key is configured.
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY is required (contains OpenRouter key)")
	// ErrEmptyResponse indicates the API returned no choices.
	ErrEmptyResponse = errors.New("completion.empty_response")
)

// APIError carries a non-200 response from the completion API.
type APIError struct {
	StatusCode int
	Body       string
}

func (apiError *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", apiError.StatusCode, apiError.Body)
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes one completion call.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature *float64
}

// Config configures a Client.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Referer    string
	Title      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls the chat-completions endpoint. It does not retry.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	referer    string
	title      string
	httpClient *http.Client
	logger     *zap.Logger
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// NewClient constructs a Client, filling defaults for unset fields.
func NewClient(config Config) *Client {
	model := strings.TrimSpace(config.Model)
	if model == "" {
		model = DefaultModel
	}
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	referer := config.Referer
	if referer == "" {
		referer = DefaultReferer
	}
	title := config.Title
	if title == "" {
		title = DefaultTitle
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		apiKey:     strings.TrimSpace(config.APIKey),
		model:      model,
		baseURL:    baseURL,
		referer:    referer,
		title:      title,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Model reports the configured model identifier.
func (client *Client) Model() string {
	return client.model
}

// Complete sends the messages and returns the first choice's content.
func (client *Client) Complete(ctx context.Context, request Request) (string, error) {
	if client.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	body, err := json.Marshal(chatRequest{
		Model:       client.model,
		Messages:    request.Messages,
		MaxTokens:   request.MaxTokens,
		Temperature: request.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("completion.encode: %w", err)
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, client.baseURL+chatCompletionsPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("completion.request: %w", err)
	}
	httpRequest.Header.Set("Authorization", "Bearer "+client.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("HTTP-Referer", client.referer)
	httpRequest.Header.Set("X-Title", client.title)

	response, err := client.httpClient.Do(httpRequest)
	if err != nil {
		return "", fmt.Errorf("completion.send: %w", err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("completion.read: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		client.logger.Warn("completion request failed",
			zap.String("code", "completion.http_error"),
			zap.Int("status", response.StatusCode))
		return "", &APIError{StatusCode: response.StatusCode, Body: string(responseBody)}
	}

	var decoded chatResponse
	if err := json.Unmarshal(responseBody, &decoded); err != nil {
		return "", fmt.Errorf("completion.decode: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return decoded.Choices[0].Message.Content, nil
}

// ProbeTimeout bounds the health probe.
const ProbeTimeout = 30 * time.Second

const (
	probePrompt    = "Hello, this is a test. Please respond with 'API working'."
	probeMaxTokens = 20
)

// ProbeResult describes a successful health probe.
type ProbeResult struct {
	Model        string
	Elapsed      time.Duration
	TestResponse string
}

// Probe sends a tiny completion to verify the key, model, and endpoint.
func (client *Client) Probe(ctx context.Context) (ProbeResult, error) {
	if client.apiKey == "" {
		return ProbeResult{}, ErrMissingAPIKey
	}
	probeContext, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	client.logger.Info("probing completion api", zap.String("code", "completion.probe.start"), zap.String("model", client.model))
	started := time.Now()
	content, err := client.Complete(probeContext, Request{
		Messages:  []Message{{Role: "user", Content: probePrompt}},
		MaxTokens: probeMaxTokens,
	})
	elapsed := time.Since(started)
	if errors.Is(err, ErrEmptyResponse) {
		content, err = "No response", nil
	}
	if err != nil {
		client.logger.Error("completion probe failed", zap.String("code", "completion.probe.failed"), zap.Error(err))
		return ProbeResult{}, err
	}
	client.logger.Info("completion probe succeeded",
		zap.String("code", "completion.probe.ok"),
		zap.Duration("elapsed", elapsed))
	return ProbeResult{
		Model:        client.model,
		Elapsed:      elapsed,
		TestResponse: strings.TrimSpace(content),
	}, nil
}
