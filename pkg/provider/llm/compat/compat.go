// Package compat provides an LLM provider for any server that speaks the
// OpenAI chat-completions wire format (LM Studio, vLLM, llama.cpp server,
// OpenRouter, self-hosted gateways, and OpenAI itself).
//
// Unlike the openai package, the API key is optional: it is only sent as a
// Bearer token when configured. Streaming responses are read as server-sent
// events; each "data:" payload is inspected with gjson so that servers which
// emit partial or non-standard chunk objects are tolerated.
package compat

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"

	"github.com/MrWong99/wordlens/pkg/provider/llm"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://api.openai.com/v1"

const (
	defaultTimeout        = 120 * time.Second
	defaultConnectTimeout = 15 * time.Second

	// maxErrorBody bounds how much of a failed response body is quoted.
	maxErrorBody = 4 << 10

	// maxLineSize bounds a single SSE line.
	maxLineSize = 1 << 20
)

// Provider implements llm.Provider against an OpenAI-compatible endpoint.
type Provider struct {
	client *http.Client
	url    string
	apiKey string
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	timeout        time.Duration
	connectTimeout time.Duration
	httpClient     *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets the total per-request timeout, including reading the full
// streamed body. Default: 120s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithConnectTimeout sets the TCP connect timeout. Default: 15s.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client entirely. Timeouts configured via
// other options are ignored when this is set.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a Provider. baseURL may be empty (defaults to
// [DefaultBaseURL]) and apiKey may be empty for servers without
// authentication.
func New(baseURL, apiKey, model string, opts ...Option) (*Provider, error) {
	cfg := &config{
		timeout:        defaultTimeout,
		connectTimeout: defaultConnectTimeout,
	}
	for _, o := range opts {
		o(cfg)
	}

	client := cfg.httpClient
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = (&net.Dialer{Timeout: cfg.connectTimeout}).DialContext
		transport.TLSHandshakeTimeout = cfg.connectTimeout
		client = &http.Client{Transport: transport, Timeout: cfg.timeout}
	}

	return &Provider{
		client: client,
		url:    ChatCompletionsURL(baseURL),
		apiKey: strings.TrimSpace(apiKey),
		model:  model,
	}, nil
}

// ChatCompletionsURL normalises base into a chat-completions endpoint URL.
// Trailing slashes are removed, an empty base means [DefaultBaseURL], and
// "/chat/completions" is appended unless already present.
func ChatCompletionsURL(base string) string {
	b := strings.TrimRight(strings.TrimSpace(base), "/")
	if b == "" {
		b = DefaultBaseURL
	}
	if strings.HasSuffix(b, "/chat/completions") {
		return b
	}
	return b + "/chat/completions"
}

// URL returns the resolved chat-completions endpoint.
func (p *Provider) URL() string { return p.url }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	resp, err := p.post(ctx, req, true)
	if err != nil {
		return nil, fmt.Errorf("compat: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
		for sc.Scan() {
			chunk, done, ok := parseEvent(sc.Text())
			if done {
				return
			}
			if !ok {
				continue
			}
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}

		if err := sc.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- llm.Chunk{FinishReason: llm.FinishReasonError, Text: fmt.Sprintf("compat: read stream: %v", err)}:
			case <-ctx.Done():
			}
		}
	}()

	return ch, nil
}

// parseEvent interprets one SSE line. done reports the [DONE] sentinel; ok
// reports whether chunk carries anything worth emitting.
func parseEvent(line string) (chunk llm.Chunk, done, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "data:") {
		return llm.Chunk{}, false, false
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "[DONE]" {
		return llm.Chunk{}, true, false
	}
	if !gjson.Valid(data) {
		return llm.Chunk{}, false, false
	}
	choice := gjson.Get(data, "choices.0")
	chunk = llm.Chunk{
		Text:         choice.Get("delta.content").String(),
		FinishReason: choice.Get("finish_reason").String(),
	}
	return chunk, false, chunk.Text != "" || chunk.FinishReason != ""
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.post(ctx, req, false)
	if err != nil {
		return nil, fmt.Errorf("compat: chat completion: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("compat: read response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("compat: malformed response body")
	}
	content := gjson.GetBytes(body, "choices.0.message.content")
	if !content.Exists() {
		return nil, errors.New("compat: response has no choices[0].message.content")
	}
	usage := gjson.GetBytes(body, "usage")
	return &llm.CompletionResponse{
		Content: content.String(),
		Usage: llm.Usage{
			PromptTokens:     int(usage.Get("prompt_tokens").Int()),
			CompletionTokens: int(usage.Get("completion_tokens").Int()),
			TotalTokens:      int(usage.Get("total_tokens").Int()),
		},
	}, nil
}

// post sends the chat request and returns the response when the status is
// 200. Any other status is converted into an error quoting the body.
func (p *Provider) post(ctx context.Context, req llm.CompletionRequest, stream bool) (*http.Response, error) {
	body := chatRequest{Model: p.model, Stream: stream, MaxTokens: req.MaxTokens}
	for _, m := range llm.BuildMessages(req) {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	if req.Temperature != 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	payload, err := sonic.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)
