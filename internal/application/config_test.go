package application

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-arena/infrastructure/gateway"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arena.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, ValidateConfig(cfg))
	assert.Len(t, cfg.Pool, 8)
	assert.Len(t, cfg.Gateway.Endpoints, 2)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, DefaultMaxPromptLength, cfg.Guard.MaxLength)
}

func TestLoadConfig_OverlaysFile(t *testing.T) {
	// Given a file that overrides the pool, storage and one endpoint
	path := writeConfig(t, `
pool: ["mistral:latest", "phi4:latest", "org/model-7b"]
gateway:
  endpoints:
    - name: local
      kind: openai
      url: http://localhost:11434/v1
      api_key_env: LOCAL_KEY
      timeout: 45s
  max_attempts: 2
storage:
  driver: mongo
  stats_driver: redis
  op_timeout: 2s
  mongo:
    uri: mongodb://localhost:27017
  redis:
    addr: localhost:6379
leaderboard:
  default_limit: 25
`)
	t.Setenv(EnvConfigPath, "")

	// When loading it
	cfg, err := LoadConfig(path)

	// Then the overrides apply and untouched defaults survive
	require.NoError(t, err)
	assert.Equal(t, []string{"mistral:latest", "phi4:latest", "org/model-7b"}, cfg.Pool)
	require.Len(t, cfg.Gateway.Endpoints, 1)
	assert.Equal(t, gateway.EndpointConfig{
		Name: "local", Kind: gateway.KindOpenAI, URL: "http://localhost:11434/v1", APIKeyEnv: "LOCAL_KEY", Timeout: 45 * time.Second,
	}, cfg.Gateway.Endpoints[0])
	assert.Equal(t, 2, cfg.Gateway.MaxAttempts)
	assert.Equal(t, gateway.DefaultBaseDelay, cfg.Gateway.BaseDelay)
	assert.Equal(t, "mongo", cfg.Storage.Driver)
	assert.Equal(t, "redis", cfg.Storage.StatsDriver)
	assert.Equal(t, "llm_arena", cfg.Storage.Mongo.Database)
	assert.Equal(t, 2*time.Second, cfg.Storage.OpTimeout)
	assert.Equal(t, DefaultRebuildTimeout, cfg.Storage.RebuildTimeout)
	assert.Equal(t, 25, cfg.Leaderboard.DefaultLimit)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	t.Setenv(EnvAPIKey, "sk-test")
	t.Setenv(EnvMongoURI, "mongodb://db:27017")
	t.Setenv(EnvRedisAddr, "cache:6379")
	t.Setenv(EnvVoterSecret, "pepper")

	cfg, err := LoadConfig("")

	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.Gateway.APIKey)
	assert.Equal(t, "mongodb://db:27017", cfg.Storage.Mongo.URI)
	assert.Equal(t, "cache:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, "pepper", cfg.Voting.TokenSecret)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		errText string
	}{
		{
			name:    "unknown field",
			yaml:    "pool: [a, b]\nmodels: [c]\n",
			errText: "YAML decode failed",
		},
		{
			name:    "pool too small",
			yaml:    "pool: [only]\n",
			errText: "Pool",
		},
		{
			name:    "duplicate pool entries",
			yaml:    "pool: [a, a]\n",
			errText: "Pool",
		},
		{
			name:    "bad model id",
			yaml:    "pool: [\"ok\", \"has space\"]\n",
			errText: "modelid",
		},
		{
			name:    "mongo without uri",
			yaml:    "storage:\n  driver: mongo\n",
			errText: "storage.mongo.uri",
		},
		{
			name:    "redis stats without addr",
			yaml:    "storage:\n  driver: memory\n  stats_driver: redis\n",
			errText: "storage.redis.addr",
		},
		{
			name:    "unknown driver",
			yaml:    "storage:\n  driver: sqlite\n",
			errText: "Driver",
		},
		{
			name:    "endpoint url malformed",
			yaml:    "gateway:\n  endpoints:\n    - name: x\n      url: not a url\n",
			errText: "URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvConfigPath, "")
			t.Setenv(EnvMongoURI, "")
			t.Setenv(EnvRedisAddr, "")

			_, err := LoadConfig(writeConfig(t, tt.yaml))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}
