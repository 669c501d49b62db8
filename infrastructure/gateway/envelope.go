package gateway

import (
	"bytes"
	"encoding/json"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ahrav/go-arena/internal/domain"
)

// EnvelopeKind tags which response shape a backend produced.
type EnvelopeKind int

const (
	// EnvelopeUnrecognized is a body matching no known shape.
	EnvelopeUnrecognized EnvelopeKind = iota
	// EnvelopeChoices is the OpenAI-compatible {choices:[{message:{content}}]} shape.
	EnvelopeChoices
	// EnvelopeMessage is the Ollama chat {message:{content}} shape.
	EnvelopeMessage
)

// String returns a short name for logs.
func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeChoices:
		return "choices"
	case EnvelopeMessage:
		return "message"
	default:
		return "unrecognized"
	}
}

// Envelope is the parsed result of a backend call. Code outside this
// package never sees raw response maps.
type Envelope struct {
	Kind    EnvelopeKind
	Content string
}

// Text returns the trimmed content, or the error kind for an unusable envelope.
func (e Envelope) Text() (string, error) {
	if e.Kind == EnvelopeUnrecognized {
		return "", domain.ErrUnexpectedFormat
	}
	content := strings.TrimSpace(e.Content)
	if content == "" {
		return "", domain.ErrEmptyResponse
	}
	return content, nil
}

// choicesShape records whether the first choice carries a content field.
type choicesShape struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c choicesShape) hasContent() bool {
	return len(c.Choices) > 0 && c.Choices[0].Message != nil && c.Choices[0].Message.Content != nil
}

// messageShape is the Ollama chat response.
type messageShape struct {
	Message *struct {
		Content *string `json:"content"`
	} `json:"message"`
}

// ParseEnvelope classifies a response body. The choices shape is checked
// first and only counts when its first choice has a content field; then
// the message shape.
func ParseEnvelope(body []byte) Envelope {
	var keys struct {
		Choices json.RawMessage `json:"choices"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &keys); err != nil {
		return Envelope{Kind: EnvelopeUnrecognized}
	}

	if present(keys.Choices) {
		var shape choicesShape
		var resp openai.ChatCompletionResponse
		if json.Unmarshal(body, &shape) == nil && shape.hasContent() && json.Unmarshal(body, &resp) == nil {
			return Envelope{Kind: EnvelopeChoices, Content: resp.Choices[0].Message.Content}
		}
	}

	if present(keys.Message) {
		var msg messageShape
		if err := json.Unmarshal(body, &msg); err == nil && msg.Message != nil && msg.Message.Content != nil {
			return Envelope{Kind: EnvelopeMessage, Content: *msg.Message.Content}
		}
	}

	return Envelope{Kind: EnvelopeUnrecognized}
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
