package application

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ahrav/go-arena/infrastructure/gateway"
)

// Environment variables that override file configuration.
const (
	EnvConfigPath  = "ARENA_CONFIG"
	EnvAPIKey      = "ARENA_API_KEY"
	EnvMongoURI    = "MONGO_URI"
	EnvRedisAddr   = "REDIS_ADDR"
	EnvVoterSecret = "ARENA_VOTER_SECRET"
)

// Config is the complete runtime configuration of the arena.
type Config struct {
	// Pool lists the model identifiers pairs are drawn from.
	Pool []string `yaml:"pool" validate:"required,min=2,unique,dive,modelid"`
	// Guard bounds untrusted prompt text.
	Guard GuardConfig `yaml:"guard"`
	// Gateway configures model completion endpoints and resilience.
	Gateway GatewayConfig `yaml:"gateway" validate:"required"`
	// Storage selects and configures the vote and stats stores.
	Storage StorageConfig `yaml:"storage" validate:"required"`
	// Leaderboard configures the ranked view.
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	// HTTP configures the JSON API server.
	HTTP HTTPConfig `yaml:"http"`
	// Voting configures per-voter pacing.
	Voting VotingConfig `yaml:"voting"`
}

// GuardConfig configures InputGuard.
type GuardConfig struct {
	// MaxLength is the maximum prompt length in runes.
	MaxLength int `yaml:"max_length" validate:"omitempty,min=1,max=1000000"`
}

// GatewayConfig configures the model gateway.
type GatewayConfig struct {
	// Endpoints are tried in order: primary first, then fallbacks.
	Endpoints []gateway.EndpointConfig `yaml:"endpoints" validate:"required,min=1,dive"`
	// APIKey is the default bearer key; it is never read from the file.
	APIKey string `yaml:"-"`
	// MaxAttempts is the number of attempts per endpoint.
	MaxAttempts int `yaml:"max_attempts" validate:"omitempty,min=1,max=10"`
	// BaseDelay is the first backoff delay; it doubles per attempt.
	BaseDelay time.Duration `yaml:"base_delay" validate:"omitempty,min=0"`
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration `yaml:"max_delay" validate:"omitempty,min=0"`
	// JitterPercent spreads retries.
	JitterPercent float64 `yaml:"jitter_percent" validate:"omitempty,min=0,max=1"`
	// RateLimitCooldown is how long a model is blocked after a 429.
	RateLimitCooldown time.Duration `yaml:"rate_limit_cooldown" validate:"omitempty,min=0"`
	// RequestsPerSecond paces outbound calls; zero disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"omitempty,min=0"`
	// Burst is the token bucket size for RequestsPerSecond.
	Burst int `yaml:"burst" validate:"omitempty,min=1"`
	// BreakerFailures opens an endpoint's circuit after this many
	// consecutive failures; zero disables the breaker.
	BreakerFailures int `yaml:"breaker_failures" validate:"omitempty,min=1"`
	// BreakerCooldown keeps an open circuit closed to traffic.
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" validate:"omitempty,min=0"`
}

// StorageConfig selects storage engines.
type StorageConfig struct {
	// Driver selects the vote store.
	Driver string `yaml:"driver" validate:"required,oneof=memory mongo"`
	// StatsDriver selects the stats store; empty follows Driver.
	StatsDriver string `yaml:"stats_driver" validate:"omitempty,oneof=memory mongo redis"`
	Mongo       MongoConfig `yaml:"mongo"`
	Redis       RedisConfig `yaml:"redis"`
	// ConnectTimeout bounds the startup reachability check.
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"omitempty,min=0"`
	// OpTimeout bounds every single read or write.
	OpTimeout time.Duration `yaml:"op_timeout" validate:"omitempty,min=0"`
	// RebuildTimeout bounds a full statistics rebuild.
	RebuildTimeout time.Duration `yaml:"rebuild_timeout" validate:"omitempty,min=0"`
}

// MongoConfig configures the Mongo stores.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// RedisConfig configures the Redis stats store.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"-"`
	DB        int    `yaml:"db" validate:"min=0"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LeaderboardConfig configures LeaderboardView.
type LeaderboardConfig struct {
	DefaultLimit int `yaml:"default_limit" validate:"omitempty,min=1,max=1000"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// AdminToken guards the maintenance routes; empty disables them.
	AdminToken string `yaml:"-"`
}

// VotingConfig configures per-voter pacing.
type VotingConfig struct {
	// PerMinute is the sustained vote rate per voter; zero disables pacing.
	PerMinute float64 `yaml:"per_minute" validate:"omitempty,min=0"`
	// Burst is how many votes a voter may cast back to back.
	Burst int `yaml:"burst" validate:"omitempty,min=1"`
	// TokenSecret keys voter token derivation; it is never read from the file.
	TokenSecret string `yaml:"-"`
}

// DefaultPool is the model pool the arena ships with.
var DefaultPool = []string{
	"codellama:latest",
	"deepseek-r1:14b",
	"gemma3:12b",
	"llama3.1:70b-instruct-q4_K_M",
	"llava:latest",
	"mistral:latest",
	"phi4:latest",
	"qwen2.5:72b",
}

// DefaultConfig returns a configuration that runs fully in memory against
// the default endpoints.
func DefaultConfig() Config {
	return Config{
		Pool:  append([]string(nil), DefaultPool...),
		Guard: GuardConfig{MaxLength: DefaultMaxPromptLength},
		Gateway: GatewayConfig{
			Endpoints: []gateway.EndpointConfig{
				{Name: "primary", Kind: gateway.KindHTTP, URL: "https://genai.rcac.purdue.edu/api/chat/completions", Timeout: 30 * time.Second},
				{Name: "fallback", Kind: gateway.KindHTTP, URL: "https://genai.rcac.purdue.edu/ollama/api/chat", Timeout: 30 * time.Second},
			},
			MaxAttempts:       gateway.DefaultMaxAttempts,
			BaseDelay:         gateway.DefaultBaseDelay,
			MaxDelay:          gateway.DefaultMaxDelay,
			JitterPercent:     gateway.DefaultJitterPercent,
			RateLimitCooldown: gateway.DefaultRateLimitCooldown,
			BreakerFailures:   5,
			BreakerCooldown:   30 * time.Second,
		},
		Storage: StorageConfig{
			Driver:         "memory",
			Mongo:          MongoConfig{Database: "llm_arena"},
			Redis:          RedisConfig{KeyPrefix: "arena"},
			ConnectTimeout: 5 * time.Second,
			OpTimeout:      DefaultStoreTimeout,
			RebuildTimeout: DefaultRebuildTimeout,
		},
		Leaderboard: LeaderboardConfig{DefaultLimit: DefaultLeaderboardLimit},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 90 * time.Second,
		},
		Voting: VotingConfig{PerMinute: 30, Burst: 5},
	}
}

// LoadConfig reads the YAML file at path over DefaultConfig, applies
// environment overrides and validates the result. An empty path falls back
// to $ARENA_CONFIG and then to defaults alone.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decodeConfig(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decodeConfig overlays YAML onto cfg. Unknown fields are rejected so typos
// are not silently ignored.
func decodeConfig(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("YAML decode failed: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Gateway.APIKey = v
	}
	if v := os.Getenv(EnvMongoURI); v != "" {
		cfg.Storage.Mongo.URI = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Storage.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Storage.Redis.Password = v
	}
	if v := os.Getenv(EnvVoterSecret); v != "" {
		cfg.Voting.TokenSecret = v
	}
	if v := os.Getenv("ARENA_ADMIN_TOKEN"); v != "" {
		cfg.HTTP.AdminToken = v
	}
}

// ValidateConfig checks struct constraints and the cross-field rules tags
// cannot express.
func ValidateConfig(cfg Config) error {
	v := validator.New()
	if err := registerCustomValidators(v); err != nil {
		return err
	}
	if err := v.Struct(cfg); err != nil {
		return fmt.Errorf("struct validation failed: %w", err)
	}

	if cfg.Storage.Driver == "mongo" && cfg.Storage.Mongo.URI == "" {
		return fmt.Errorf("storage.mongo.uri (or $%s) is required for the mongo driver", EnvMongoURI)
	}
	if cfg.Storage.StatsDriver == "redis" && cfg.Storage.Redis.Addr == "" {
		return fmt.Errorf("storage.redis.addr (or $%s) is required for the redis stats driver", EnvRedisAddr)
	}
	if cfg.Storage.StatsDriver == "mongo" && cfg.Storage.Mongo.URI == "" {
		return fmt.Errorf("storage.mongo.uri (or $%s) is required for the mongo stats driver", EnvMongoURI)
	}
	return nil
}

// modelIDPattern accepts the identifiers Ollama and OpenAI-compatible
// backends use, e.g. "llama3.1:70b-instruct-q4_K_M" or "org/model".
var modelIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/\-]{0,127}$`)

func registerCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("modelid", validateModelID); err != nil {
		return fmt.Errorf("failed to register modelid validator: %w", err)
	}
	return nil
}

func validateModelID(fl validator.FieldLevel) bool {
	return modelIDPattern.MatchString(fl.Field().String())
}
