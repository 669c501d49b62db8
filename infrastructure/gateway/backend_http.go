package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// chatRequest is the wire body for OpenAI-compatible and Ollama chat
// endpoints. Stream is always sent because Ollama streams by default.
type chatRequest struct {
	Model    string                         `json:"model"`
	Messages []openai.ChatCompletionMessage `json:"messages"`
	Stream   bool                           `json:"stream"`
}

// httpBackend posts chat requests as raw JSON and accepts either envelope
// shape in the reply.
type httpBackend struct {
	name       string
	url        string
	apiKey     string
	client     *http.Client
	classifier classifier
}

// NewHTTPBackend creates a backend for an OpenAI-compatible or Ollama chat
// URL. An empty apiKey sends no Authorization header.
func NewHTTPBackend(name, rawURL, apiKey string, client *http.Client) (Backend, error) {
	u, err := ValidateBaseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", name, err)
	}
	if u == "" {
		return nil, fmt.Errorf("endpoint %s: URL is required", name)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &httpBackend{
		name:       name,
		url:        u,
		apiKey:     apiKey,
		client:     client,
		classifier: classifier{endpoint: name},
	}, nil
}

func (b *httpBackend) Name() string { return b.name }

func (b *httpBackend) Do(ctx context.Context, req Request) (Envelope, error) {
	body, err := json.Marshal(chatRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Stream: false,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return Envelope{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return Envelope{}, b.classifier.transport(req.Model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return Envelope{}, b.classifier.transport(req.Model, ctx.Err())
		}
		return Envelope{}, b.classifier.decodeFailure(req.Model, resp.StatusCode, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Envelope{}, b.classifier.status(req.Model, resp.StatusCode, snippet(raw))
	}
	return ParseEnvelope(raw), nil
}

// snippet keeps error bodies short enough for logs.
func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}
