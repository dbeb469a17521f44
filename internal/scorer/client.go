// Package scorer calls the vision-capable language model that grades exams.
//
// The Client is built once and shared by every grading worker: it owns a
// single http.Client whose transport pools connections, and it is safe for
// concurrent use. Calls are deterministic at temperature 0 and are never
// retried here; retry policy belongs to the grader.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/nats-io/nuid"
	"github.com/pkg/errors"

	"github.com/rubrica-app/rubrica/internal/exam"
)

const (
	// DefaultBaseURL is the model API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultModel is the grading model. Update here when upgrading models.
	DefaultModel = "claude-sonnet-4-6"

	// APIVersion is sent as the anthropic-version header.
	APIVersion = "2023-06-01"

	// DefaultMaxTokens bounds one grading reply.
	DefaultMaxTokens = 8192

	// refineMaxTokens bounds one feedback rewrite.
	refineMaxTokens = 512

	// MaxRequestTimeout is the upper bound on a whole model call.
	MaxRequestTimeout = 5 * time.Minute

	// DefaultConnectTimeout bounds connection establishment.
	DefaultConnectTimeout = 10 * time.Second

	// maxReplyBytes caps how much of a response body is read.
	maxReplyBytes = 8 << 20
)

// Temperature is fixed at zero so repeated calls are as deterministic as the
// model allows.
const Temperature = 0.0

// Config configures a Client. Zero values select the defaults above.
type Config struct {
	BaseURL        string
	APIKey         string
	Model          string
	MaxTokens      int
	RequestTimeout time.Duration
	ConnectTimeout time.Duration

	// HTTPClient overrides the constructed client (tests).
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Request is one grading call: the anonymous identifier, the rubric and the
// answer pages. It has no field for identifying data.
type Request struct {
	AnonID string
	Rubric exam.Rubric
	Pages  []exam.Page
}

// Reply is the raw model output of a grading call.
type Reply struct {
	Text       string
	StopReason string
	RequestID  string
}

// Truncated reports whether the model stopped at the token limit, in which
// case Text is an incomplete JSON document.
func (r Reply) Truncated() bool {
	return r.StopReason == "max_tokens"
}

// Client is a shared, concurrency-safe model client.
type Client struct {
	http      *http.Client
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
	logger    *slog.Logger
}

// New builds a Client. The request timeout is clamped to MaxRequestTimeout.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.RequestTimeout <= 0 || cfg.RequestTimeout > MaxRequestTimeout {
		cfg.RequestTimeout = MaxRequestTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   cfg.ConnectTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: cfg.ConnectTimeout,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		}
		httpClient = &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		}
	}

	return &Client{
		http:      httpClient,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// Score sends the rubric and answer pages and returns the raw reply text.
func (c *Client) Score(ctx context.Context, req Request) (Reply, error) {
	body := messagesRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: Temperature,
		System:      buildSystemPrompt(req),
		Messages: []message{
			{Role: "user", Content: buildContent(req)},
		},
	}
	return c.send(ctx, "score", req.AnonID, body)
}

// Complete performs a text-only call (no images). It backs feedback
// refinement, which must stay cheap.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	body := messagesRequest{
		Model:       c.model,
		MaxTokens:   refineMaxTokens,
		Temperature: Temperature,
		System:      refineSystemPrompt,
		Messages: []message{
			{Role: "user", Content: []contentBlock{{Type: "text", Text: prompt}}},
		},
	}
	reply, err := c.send(ctx, "complete", "", body)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

func (c *Client) send(ctx context.Context, op, anonID string, body messagesRequest) (Reply, error) {
	requestID := nuid.Next()
	started := time.Now()

	fail := func(status int, err error) (Reply, error) {
		te := &TransportError{
			Op:         op,
			RequestID:  requestID,
			StatusCode: status,
			Timeout:    isTimeout(err),
			Err:        err,
		}
		c.logger.Warn("model call failed",
			"op", op,
			"request_id", requestID,
			"anon_id", anonID,
			"status", status,
			"timeout", te.Timeout,
			"elapsed", time.Since(started),
		)
		return Reply{}, te
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Reply{}, fmt.Errorf("scorer: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return Reply{}, fmt.Errorf("scorer: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", APIVersion)
	httpReq.Header.Set("X-Request-Id", requestID)

	c.logger.Debug("model call", "op", op, "request_id", requestID, "anon_id", anonID, "model", c.model)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fail(0, errors.Wrap(err, "send request"))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return fail(0, errors.Wrap(err, "read reply"))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(resp.StatusCode, errors.Errorf("api error: %s", apiErrorMessage(raw)))
	}

	var mr messagesResponse
	if err := json.Unmarshal(raw, &mr); err != nil {
		return fail(resp.StatusCode, errors.Wrap(err, "decode reply envelope"))
	}

	reply := Reply{StopReason: mr.StopReason, RequestID: requestID}
	for _, block := range mr.Content {
		if block.Type == "text" {
			reply.Text = block.Text
			break
		}
	}

	c.logger.Debug("model reply",
		"op", op,
		"request_id", requestID,
		"anon_id", anonID,
		"stop_reason", mr.StopReason,
		"chars", len(reply.Text),
		"elapsed", time.Since(started),
	)
	return reply, nil
}

// apiErrorMessage extracts the error message of an API error body. The body
// is internal detail and only ever reaches logs.
func apiErrorMessage(raw []byte) string {
	var env struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Message != "" {
		return env.Error.Type + ": " + env.Error.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
