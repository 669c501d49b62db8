package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
	"google.golang.org/genai"
)

// DefaultMaxTokens caps completions for SDKs that require an explicit limit.
const DefaultMaxTokens = 2048

// openAIBackend calls an OpenAI-compatible API through go-openai.
// Responses map to the choices envelope.
type openAIBackend struct {
	name       string
	client     *openai.Client
	classifier classifier
}

func newOpenAIBackend(cfg EndpointConfig, apiKey string) (Backend, error) {
	if apiKey == "" {
		return nil, ErrEmptyAPIKey
	}
	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.URL != "" {
		u, err := ValidateBaseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		clientConfig.BaseURL = u
	}
	if t := ValidateTimeout(cfg.Timeout); t > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: t}
	}
	return &openAIBackend{
		name:       cfg.Name,
		client:     openai.NewClientWithConfig(clientConfig),
		classifier: classifier{endpoint: cfg.Name},
	}, nil
}

func (b *openAIBackend) Name() string { return b.name }

func (b *openAIBackend) Do(ctx context.Context, req Request) (Envelope, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return Envelope{}, b.classifier.status(req.Model, apiErr.HTTPStatusCode, apiErr.Message)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
			return Envelope{}, b.classifier.status(req.Model, reqErr.HTTPStatusCode, reqErr.Error())
		}
		return Envelope{}, b.classifier.transport(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return Envelope{Kind: EnvelopeUnrecognized}, nil
	}
	return Envelope{Kind: EnvelopeChoices, Content: resp.Choices[0].Message.Content}, nil
}

// anthropicBackend calls the Anthropic Messages API.
// Text blocks are concatenated into the message envelope.
type anthropicBackend struct {
	name       string
	client     anthropic.Client
	classifier classifier
}

func newAnthropicBackend(cfg EndpointConfig, apiKey string) (Backend, error) {
	if apiKey == "" {
		return nil, ErrEmptyAPIKey
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.URL != "" {
		u, err := ValidateBaseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		opts = append(opts, option.WithBaseURL(u))
	}
	if t := ValidateTimeout(cfg.Timeout); t > 0 {
		opts = append(opts, option.WithRequestTimeout(t))
	}
	return &anthropicBackend{
		name:       cfg.Name,
		client:     anthropic.NewClient(opts...),
		classifier: classifier{endpoint: cfg.Name},
	}, nil
}

func (b *anthropicBackend) Name() string { return b.name }

func (b *anthropicBackend) Do(ctx context.Context, req Request) (Envelope, error) {
	message, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: DefaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return Envelope{}, b.classifier.status(req.Model, apiErr.StatusCode, http.StatusText(apiErr.StatusCode))
		}
		return Envelope{}, b.classifier.transport(req.Model, err)
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	return Envelope{Kind: EnvelopeMessage, Content: sb.String()}, nil
}

// googleBackend calls the Gemini API through the genai SDK.
type googleBackend struct {
	name       string
	client     *genai.Client
	classifier classifier
}

func newGoogleBackend(cfg EndpointConfig, apiKey string) (Backend, error) {
	if apiKey == "" {
		return nil, ErrEmptyAPIKey
	}
	clientConfig := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if cfg.URL != "" {
		u, err := ValidateBaseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid URL: %w", err)
		}
		clientConfig.HTTPOptions.BaseURL = u
	}
	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	return &googleBackend{name: cfg.Name, client: client, classifier: classifier{endpoint: cfg.Name}}, nil
}

func (b *googleBackend) Name() string { return b.name }

func (b *googleBackend) Do(ctx context.Context, req Request) (Envelope, error) {
	resp, err := b.client.Models.GenerateContent(ctx, req.Model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{},
	)
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			return Envelope{}, b.classifier.status(req.Model, apiErr.Code, apiErr.Message)
		}
		return Envelope{}, b.classifier.transport(req.Model, err)
	}
	if resp == nil {
		return Envelope{Kind: EnvelopeUnrecognized}, nil
	}
	return Envelope{Kind: EnvelopeMessage, Content: resp.Text()}, nil
}
