package gateway

import (
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Backend kinds understood by NewBackend.
const (
	KindHTTP      = "http"
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindGoogle    = "google"
)

// EndpointConfig describes one completion endpoint.
type EndpointConfig struct {
	// Name identifies the endpoint in logs and errors.
	Name string `yaml:"name" validate:"required"`
	// Kind selects the backend implementation; empty means KindHTTP.
	Kind string `yaml:"kind"`
	// URL is the full chat URL for KindHTTP and a base URL override otherwise.
	URL string `yaml:"url" validate:"omitempty,url"`
	// APIKeyEnv names the environment variable holding this endpoint's key.
	// When empty the gateway-wide key is used.
	APIKeyEnv string `yaml:"api_key_env"`
	// Timeout bounds a single call; zero means no per-endpoint timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// BackendFactory builds a backend from its configuration and resolved key.
type BackendFactory func(cfg EndpointConfig, apiKey string) (Backend, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]BackendFactory{
		KindHTTP:      newHTTPBackendFromConfig,
		KindOpenAI:    newOpenAIBackend,
		KindAnthropic: newAnthropicBackend,
		KindGoogle:    newGoogleBackend,
	}
)

// RegisterBackendFactory makes a backend kind available to NewBackend.
// Registering an existing kind replaces it.
func RegisterBackendFactory(kind string, factory BackendFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = factory
}

// RegisteredKinds returns the known backend kinds, sorted.
func RegisteredKinds() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// NewBackend builds the backend described by cfg.
func NewBackend(cfg EndpointConfig, apiKey string) (Backend, error) {
	kind := cfg.Kind
	if kind == "" {
		kind = KindHTTP
	}
	if cfg.Name == "" {
		cfg.Name = kind
	}

	factoriesMu.RLock()
	factory, ok := factories[kind]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown backend kind %q", kind)
	}

	b, err := factory(cfg, apiKey)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s (%s): %w", cfg.Name, kind, err)
	}
	return b, nil
}

func newHTTPBackendFromConfig(cfg EndpointConfig, apiKey string) (Backend, error) {
	client := &http.Client{}
	if t := ValidateTimeout(cfg.Timeout); t > 0 {
		client.Timeout = t
	}
	return NewHTTPBackend(cfg.Name, cfg.URL, apiKey, client)
}
