// Package modelclient wraps the external large-model API (component C5).
// It is the only path to the external model: every stage service calls
// through here, never net/http directly, so the breaker and token-usage
// ledger see every call.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/opslane/feedbackpilot/pkg/breaker"
	"github.com/opslane/feedbackpilot/pkg/clock"
	"github.com/opslane/feedbackpilot/pkg/models"
)

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallOpts configures one Call.
type CallOpts struct {
	Model       string
	Temperature float64
	MaxTokens   int
	TaskID      string
	FeedbackID  string
	CallType    models.CallType
}

// Usage is the token accounting returned alongside model output.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Result is one completed model call.
type Result struct {
	Content string
	Usage   Usage
}

// UsageRecorder is implemented by the Store.
type UsageRecorder interface {
	AppendTokenUsage(models.TokenUsage)
}

// Client is the sole path to the external model. Grounded on
// pkg/runbook/github.go's GitHubClient: a thin *http.Client wrapper with
// a setAuthHeader helper and a fixed request timeout.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger

	breaker *breaker.Breaker
	store   UsageRecorder
	clock   clock.Clock
	ids     clock.IDSource
	pacer   *rate.Limiter
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// MaxConcurrentTasks sizes the outbound pacer: one request-per-task
	// slot refilled once per second, matching the breaker's own
	// concurrency cap so the pacer smooths bursts without becoming the
	// binding constraint itself.
	MaxConcurrentTasks int
}

// New builds a Client. b is the shared Breaker; store records every
// call's token usage, success or failure.
func New(cfg Config, b *breaker.Breaker, store UsageRecorder, c clock.Clock, ids clock.IDSource) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	burst := cfg.MaxConcurrentTasks
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		logger:     slog.Default(),
		breaker:    b,
		store:      store,
		clock:      c,
		ids:        ids,
		pacer:      rate.NewLimiter(rate.Limit(burst), burst),
	}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Messages    []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Call issues one model request. It is breaker-gated: a deny returns an
// ErrorKindBreakerBlocked StageError without making any outbound request.
func (c *Client) Call(ctx context.Context, messages []Message, opts CallOpts) (Result, error) {
	check := c.breaker.Check("llm", string(opts.CallType), opts.MaxTokens, opts.TaskID)
	if !check.Allowed {
		return Result{}, models.NewStageError(models.ErrorKindBreakerBlocked,
			fmt.Sprintf("llm call denied: %s", check.Decision), models.ErrBreakerBlocked)
	}

	if err := c.pacer.Wait(ctx); err != nil {
		c.recordFailure(opts, err)
		_ = c.breaker.Release("llm", opts.TaskID, 0, false)
		return Result{}, models.NewStageError(models.ErrorKindModelTransient, "rate pacer wait failed", err)
	}

	result, err := c.doCall(ctx, messages, opts)
	if err != nil {
		c.recordFailure(opts, err)
		_ = c.breaker.Release("llm", opts.TaskID, 0, false)
		return Result{}, models.NewStageError(models.ErrorKindModelTransient, "model call failed", err)
	}

	c.recordSuccess(opts, result.Usage)
	_ = c.breaker.Release("llm", opts.TaskID, result.Usage.PromptTokens+result.Usage.CompletionTokens, true)
	return result, nil
}

func (c *Client) doCall(ctx context.Context, messages []Message, opts CallOpts) (Result, error) {
	body, err := json.Marshal(chatRequest{
		Model:       opts.Model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Messages:    messages,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("call model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("model API returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("read response body: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return Result{}, fmt.Errorf("model returned no choices")
	}

	return Result{
		Content: parsed.Choices[0].Message.Content,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

func (c *Client) setAuthHeader(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) recordSuccess(opts CallOpts, u Usage) {
	c.store.AppendTokenUsage(models.TokenUsage{
		ID:               c.ids.NewID(),
		TaskID:           opts.TaskID,
		FeedbackID:       opts.FeedbackID,
		Model:            opts.Model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		CallType:         opts.CallType,
		Timestamp:        c.clock.Now(),
		Success:          true,
	})
}

func (c *Client) recordFailure(opts CallOpts, err error) {
	c.store.AppendTokenUsage(models.TokenUsage{
		ID:         c.ids.NewID(),
		TaskID:     opts.TaskID,
		FeedbackID: opts.FeedbackID,
		Model:      opts.Model,
		CallType:   opts.CallType,
		Timestamp:  c.clock.Now(),
		Success:    false,
		Error:      err.Error(),
	})
	c.logger.Warn("modelclient: call failed", "task_id", opts.TaskID, "call_type", opts.CallType, "error", err)
}
