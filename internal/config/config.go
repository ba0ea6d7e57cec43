package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the voice agent service
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8000"`
	WSWriteTimeout int    `envconfig:"WS_WRITE_TIMEOUT" default:"10"` // seconds

	// Optional YAML file with pipeline tuning; values there override the environment
	ConfigFile string `envconfig:"CONFIG_FILE" default:""`

	// Hamsa realtime API (speech recognition + synthesis over one WebSocket endpoint)
	HamsaAPIKey     string  `envconfig:"HAMSA_API_KEY" required:"true"`
	HamsaWSURL      string  `envconfig:"HAMSA_WS_URL" default:"wss://api.tryhamsa.com/v1/realtime/ws"`
	HamsaTTSURL     string  `envconfig:"HAMSA_TTS_URL" default:"https://api.tryhamsa.com/v1/realtime/tts-stream"`
	HamsaLanguage   string  `envconfig:"HAMSA_LANGUAGE" default:"ar" yaml:"language"`
	EOSThreshold    float64 `envconfig:"HAMSA_EOS_THRESHOLD" default:"0.3" yaml:"eos_threshold"`
	ReadTimeout     int     `envconfig:"HAMSA_READ_TIMEOUT" default:"30"`           // seconds per frame
	ConnectAttempts int     `envconfig:"HAMSA_CONNECT_ATTEMPTS" default:"3"`        // dial attempts
	ConnectBackoff  int     `envconfig:"HAMSA_CONNECT_BACKOFF_MS" default:"1000"`   // fixed, milliseconds
	TTSSpeaker      string  `envconfig:"TTS_SPEAKER" default:"Majd" yaml:"speaker"`
	TTSDialect      string  `envconfig:"TTS_DIALECT" default:"ksa" yaml:"dialect"`
	TTSSampleRate   int     `envconfig:"TTS_SAMPLE_RATE" default:"16000" yaml:"sample_rate"`

	// Dialogue agent webhook
	WebhookURL        string `envconfig:"WEBHOOK_URL" required:"true"`
	AgentProducer     string `envconfig:"AGENT_PRODUCER" default:"Conversation Agent" yaml:"agent_producer"`
	AgentFinalOutput  string `envconfig:"AGENT_FINAL_PRODUCER" default:"Respond to Webhook" yaml:"agent_final_producer"`
	AgentTimeout      int    `envconfig:"AGENT_TIMEOUT" default:"60"` // seconds
	AgentMaxIdleConns int    `envconfig:"AGENT_MAX_IDLE_CONNS" default:"10"`
	AgentMaxConns     int    `envconfig:"AGENT_MAX_CONNS" default:"20"`

	// Pipeline tuning
	TokenBatchSize   int `envconfig:"TOKEN_BATCH_SIZE" default:"8" yaml:"token_batch_size"`
	SegmentMinChars  int `envconfig:"SEGMENT_MIN_CHARS" default:"10" yaml:"segment_min_chars"`
	SegmentMaxChars  int `envconfig:"SEGMENT_MAX_CHARS" default:"80" yaml:"segment_max_chars"`
	FallbackMinChars int `envconfig:"FALLBACK_MIN_CHARS" default:"20" yaml:"fallback_min_chars"`
	DoneGraceMs      int `envconfig:"DONE_GRACE_MS" default:"500" yaml:"done_grace_ms"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.ConfigFile != "" {
		if err := cfg.applyFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyFile overlays pipeline tuning from a YAML file. Only fields carrying a
// yaml tag can be set this way; secrets and endpoints stay environment-only.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	if c.HamsaAPIKey == "" {
		return fmt.Errorf("HAMSA_API_KEY is required")
	}
	if c.WebhookURL == "" {
		return fmt.Errorf("WEBHOOK_URL is required")
	}
	if c.ConnectAttempts < 1 {
		return fmt.Errorf("HAMSA_CONNECT_ATTEMPTS must be at least 1, got %d", c.ConnectAttempts)
	}
	if c.TokenBatchSize < 1 {
		return fmt.Errorf("token batch size must be at least 1, got %d", c.TokenBatchSize)
	}
	if c.SegmentMinChars < 1 || c.SegmentMaxChars < c.SegmentMinChars {
		return fmt.Errorf("invalid segment bounds: min %d, max %d", c.SegmentMinChars, c.SegmentMaxChars)
	}
	if c.TTSSampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.TTSSampleRate)
	}
	return nil
}

func (c *Config) ReadTimeoutDuration() time.Duration {
	return time.Duration(c.ReadTimeout) * time.Second
}

func (c *Config) ConnectBackoffDuration() time.Duration {
	return time.Duration(c.ConnectBackoff) * time.Millisecond
}

func (c *Config) AgentTimeoutDuration() time.Duration {
	return time.Duration(c.AgentTimeout) * time.Second
}

func (c *Config) DoneGraceDuration() time.Duration {
	return time.Duration(c.DoneGraceMs) * time.Millisecond
}

func (c *Config) WriteTimeoutDuration() time.Duration {
	return time.Duration(c.WSWriteTimeout) * time.Second
}

func (c *Config) CircuitBreakerResetDuration() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
