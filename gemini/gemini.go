// Package gemini sends a rendered prompt to the Gemini generateContent API
// and returns the reply text. Each call is one request with no retry.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dhcgn/inbox-assistant/model"
)

const (
	DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel    = "gemini-2.0-flash"
	DefaultTimeout  = 60 * time.Second
)

type Options struct {
	Endpoint string
	Model    string
	APIKey   string
	// Strict turns a success response without usable text into an
	// upstream error instead of an empty reply.
	Strict     bool
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client holds no per-call state and is safe for concurrent use.
type Client struct {
	url        string
	apiKey     string
	strict     bool
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("gemini api key is empty")
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if _, err := url.Parse(opts.Endpoint); err != nil {
		return nil, fmt.Errorf("parse gemini endpoint: %w", err)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = newHTTPClient(opts.Timeout)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		url:        strings.TrimRight(opts.Endpoint, "/") + "/models/" + url.PathEscape(opts.Model) + ":generateContent",
		apiKey:     opts.APIKey,
		strict:     opts.Strict,
		httpClient: opts.HTTPClient,
		logger:     logger.With("provider", "gemini", "model", opts.Model),
	}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate returns the reply text for prompt. Transport failures return a
// transport error, rejections an upstream error. A success response without
// text yields "" unless the client is strict.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", model.NewError(model.KindTransport, "text generation endpoint is unreachable", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := upstreamMessage(body)
		c.logger.Warn("generation rejected", "status", resp.StatusCode, "message", msg)
		return "", model.NewError(model.KindUpstream, msg, fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", model.NewError(model.KindTransport, "reading the generation response failed", err)
	}

	text, state := extractText(body)
	c.logger.Debug("generation finished", "duration", time.Since(start), "path", state, "chars", len(text))
	if state == PathPresent {
		return text, nil
	}

	finish, block := finishDetail(body)
	c.logger.Warn("generation response has no text", "path", state, "finishReason", finish, "blockReason", block, "strict", c.strict)
	if c.strict {
		return "", model.NewError(model.KindUpstream, "text generation returned no usable content", fmt.Errorf("response text %s", state))
	}
	return "", nil
}

func upstreamMessage(body []byte) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && strings.TrimSpace(e.Error.Message) != "" {
		return e.Error.Message
	}
	return "text generation request was rejected"
}
