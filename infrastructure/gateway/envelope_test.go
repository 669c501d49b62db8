package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ahrav/go-arena/internal/domain"
)

func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		kind    EnvelopeKind
		content string
	}{
		{
			name:    "choices shape",
			body:    `{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"Hello"}}]}`,
			kind:    EnvelopeChoices,
			content: "Hello",
		},
		{
			name:    "message shape",
			body:    `{"model":"mistral","message":{"role":"assistant","content":"Bonjour"},"done":true}`,
			kind:    EnvelopeMessage,
			content: "Bonjour",
		},
		{
			name:    "choices wins when both present",
			body:    `{"choices":[{"message":{"content":"A"}}],"message":{"content":"B"}}`,
			kind:    EnvelopeChoices,
			content: "A",
		},
		{
			name:    "empty choices falls through to message",
			body:    `{"choices":[],"message":{"content":"B"}}`,
			kind:    EnvelopeMessage,
			content: "B",
		},
		{
			name:    "choice without content falls through to message",
			body:    `{"choices":[{}],"message":{"content":"hi"}}`,
			kind:    EnvelopeMessage,
			content: "hi",
		},
		{
			name:    "choice with empty content stays choices",
			body:    `{"choices":[{"message":{"content":""}}],"message":{"content":"hi"}}`,
			kind:    EnvelopeChoices,
			content: "",
		},
		{name: "choice without content alone", body: `{"choices":[{"message":{"role":"assistant"}}]}`, kind: EnvelopeUnrecognized},
		{name: "null choices", body: `{"choices":null}`, kind: EnvelopeUnrecognized},
		{name: "message without content", body: `{"message":{"role":"assistant"}}`, kind: EnvelopeUnrecognized},
		{name: "ollama generate shape", body: `{"response":"text","done":true}`, kind: EnvelopeUnrecognized},
		{name: "not json", body: `<html>bad gateway</html>`, kind: EnvelopeUnrecognized},
		{name: "array", body: `[1,2,3]`, kind: EnvelopeUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := ParseEnvelope([]byte(tt.body))
			assert.Equal(t, tt.kind, env.Kind)
			assert.Equal(t, tt.content, env.Content)
		})
	}
}

func TestEnvelope_Text(t *testing.T) {
	text, err := Envelope{Kind: EnvelopeMessage, Content: "\n answer \t"}.Text()
	assert.NoError(t, err)
	assert.Equal(t, "answer", text)

	_, err = Envelope{Kind: EnvelopeChoices, Content: "  \n "}.Text()
	assert.ErrorIs(t, err, domain.ErrEmptyResponse, "whitespace-only content is a failure")

	_, err = Envelope{Kind: EnvelopeUnrecognized, Content: "ignored"}.Text()
	assert.ErrorIs(t, err, domain.ErrUnexpectedFormat)
}
