package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arena/internal/domain"
)

func TestHTTPBackend_SendsChatRequest(t *testing.T) {
	// Given a server that records the request
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		Stream *bool `json:"stream"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi there"}}]}`))
	}))
	defer srv.Close()

	b, err := NewHTTPBackend("primary", srv.URL, "secret", srv.Client())
	require.NoError(t, err)

	// When calling the backend
	env, err := b.Do(context.Background(), Request{Model: "gemma3:12b", Prompt: "hello"})

	// Then the body and headers follow the chat wire format
	require.NoError(t, err)
	assert.Equal(t, EnvelopeChoices, env.Kind)
	assert.Equal(t, "hi there", env.Content)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "gemma3:12b", got.Model)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "hello", got.Messages[0].Content)
	require.NotNil(t, got.Stream, "stream must be sent explicitly")
	assert.False(t, *got.Stream)
}

func TestHTTPBackend_StatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		kind      error
		retryable bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, kind: domain.ErrRateLimited},
		{name: "server error", status: http.StatusBadGateway, kind: domain.ErrAPIError, retryable: true},
		{name: "unauthorized", status: http.StatusUnauthorized, kind: domain.ErrAPIError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			b, err := NewHTTPBackend("ep", srv.URL, "", srv.Client())
			require.NoError(t, err)

			_, err = b.Do(context.Background(), Request{Model: "m", Prompt: "p"})

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)
			var ge *domain.GatewayError
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, tt.status, ge.StatusCode)
			assert.Equal(t, "ep", ge.Endpoint)
			assert.Equal(t, tt.retryable, ge.Retryable())
		})
	}
}

func TestHTTPBackend_MessageShapeAndNoAuth(t *testing.T) {
	var hadAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hadAuth = r.Header["Authorization"]
		_, _ = w.Write([]byte(`{"message":{"content":"from ollama"}}`))
	}))
	defer srv.Close()

	b, err := NewHTTPBackend("fallback", srv.URL, "", srv.Client())
	require.NoError(t, err)

	env, err := b.Do(context.Background(), Request{Model: "m", Prompt: "p"})

	require.NoError(t, err)
	assert.Equal(t, EnvelopeMessage, env.Kind)
	assert.Equal(t, "from ollama", env.Content)
	assert.False(t, hadAuth, "no key means no Authorization header")
}

func TestHTTPBackend_TimeoutIsClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	b, err := NewHTTPBackend("slow", srv.URL, "", srv.Client())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.Do(ctx, Request{Model: "m", Prompt: "p"})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestNewHTTPBackend_RejectsBadURL(t *testing.T) {
	_, err := NewHTTPBackend("x", "ftp://example.com", "", nil)
	assert.Error(t, err)

	_, err = NewHTTPBackend("x", "", "", nil)
	assert.Error(t, err)
}

func TestGateway_EndToEndOverHTTP(t *testing.T) {
	// Given a primary that is down and an Ollama-style fallback
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"message":{"content":"  fallback answer "}}`))
	}))
	defer up.Close()

	primary, err := NewHTTPBackend("primary", down.URL, "", down.Client())
	require.NoError(t, err)
	fallback, err := NewHTTPBackend("fallback", up.URL, "", up.Client())
	require.NoError(t, err)

	gw, err := New([]Backend{primary, fallback}, fastRetry())
	require.NoError(t, err)

	// When fetching
	content, err := gw.Fetch(context.Background(), "llava:latest", "describe")

	// Then the fallback's trimmed content is returned
	require.NoError(t, err)
	assert.Equal(t, "fallback answer", content)
}
