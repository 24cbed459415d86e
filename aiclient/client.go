package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lotlens/aigate/aierr"
	"github.com/lotlens/aigate/credentials"
	"github.com/lotlens/aigate/observe"
	"github.com/lotlens/aigate/resilience"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"
)

// Config configures the analysis client.
type Config struct {
	// BaseURL is the API root.
	// Default: https://api.openai.com/v1
	BaseURL string

	// Model is the model identifier (required).
	Model string

	// Credentials supplies the bearer token for each request (required).
	Credentials credentials.TokenSource

	// Gate routes calls through admission control and retries. When nil,
	// calls go out ungated.
	Gate *resilience.Gate

	// HTTPClient is the HTTP client to use for requests.
	// If nil, a default client with 60s timeout is used.
	HTTPClient *http.Client

	// Logger receives structured call logs. Defaults to a silent logger.
	Logger observe.Logger

	// Middleware instruments calls with spans and metrics. When both it and
	// Gate are set, its retry and queue-wait recorders are installed on the
	// gate so retried attempts and admission waits are measured too. When
	// nil, calls are logged but not traced or metered.
	Middleware *observe.Middleware

	// Temperature and MaxTokens are passed through when set.
	Temperature *float64
	MaxTokens   *int
}

// Client analyzes vehicle listings through a chat-completions backend.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     observe.Logger
	mw         *observe.Middleware
	meta       observe.CallMeta
}

// NewClient creates a client with defaults applied.
func NewClient(config Config) (*Client, error) {
	if config.Credentials == nil {
		return nil, ErrNoCredentials
	}
	if strings.TrimSpace(config.Model) == "" {
		return nil, ErrNoModel
	}
	if strings.TrimSpace(config.BaseURL) == "" {
		config.BaseURL = defaultBaseURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	logger := config.Logger
	if logger == nil {
		logger = observe.NewLoggerWithWriter("error", io.Discard)
	}

	meta := observe.CallMeta{
		Provider:  providerName,
		Model:     config.Model,
		Operation: "analyze",
	}

	if config.Middleware != nil && config.Gate != nil {
		config.Gate.ObserveRetries(config.Middleware.RetryRecorder(meta))
		config.Gate.ObserveQueueWait(config.Middleware.QueueWaitRecorder(meta))
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		logger:     logger.WithCall(meta),
		mw:         config.Middleware,
		meta:       meta,
	}, nil
}

// Analyze sends one listing prompt and returns the model's verdict.
// The call passes through the gate, so it may queue for an admission slot
// and transient failures are retried.
func (c *Client) Analyze(ctx context.Context, system, user string) (*Verdict, error) {
	payload, err := buildChatRequest(c.config.Model, system, user, c.config.Temperature, c.config.MaxTokens)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	dispatch := func(ctx context.Context) (*Verdict, error) {
		if c.config.Gate == nil {
			return c.complete(ctx, body)
		}
		return resilience.Call(c.config.Gate, ctx, func(ctx context.Context) (*Verdict, error) {
			return c.complete(ctx, body)
		})
	}

	if c.mw == nil {
		return dispatch(ctx)
	}

	var verdict *Verdict
	wrapped := c.mw.Wrap(c.meta, func(ctx context.Context) error {
		v, err := dispatch(ctx)
		verdict = v
		return err
	})
	if err := wrapped(ctx); err != nil {
		return nil, err
	}
	return verdict, nil
}

// complete performs one attempt against the backend.
func (c *Client) complete(ctx context.Context, body []byte) (*Verdict, error) {
	token, err := c.config.Credentials.Token(ctx)
	if err != nil {
		return nil, aierr.Wrap(aierr.KindAuth, "no usable credentials", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// The net error stays in the chain so classification sees it.
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck // best-effort cleanup

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := aierr.FromResponse(providerName, resp.StatusCode, resp.Header, respBody)
		c.logger.Warn(ctx, "backend returned error",
			observe.Field{Key: "status", Value: resp.StatusCode},
			observe.Field{Key: "error_kind", Value: apiErr.Kind.String()},
		)
		return nil, apiErr
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	verdict, err := toVerdict(&parsed)
	if err != nil {
		return nil, err
	}

	c.logger.Debug(ctx, "analysis completed",
		observe.Field{Key: "duration_ms", Value: float64(time.Since(start).Milliseconds())},
		observe.Field{Key: "total_tokens", Value: verdict.TotalTokens},
	)
	return verdict, nil
}

// Status reports the gate's admission window, or a zero status when the
// client is ungated.
func (c *Client) Status() resilience.AdmissionStatus {
	if c.config.Gate == nil {
		return resilience.AdmissionStatus{}
	}
	return c.config.Gate.Status()
}
