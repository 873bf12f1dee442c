package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/antoniostano/careflow/internal/llm"
)

// Config contains all runtime settings for the clinical assistant service.
type Config struct {
	BindAddr         string        `mapstructure:"APP_BIND_ADDR"`
	ShutdownTimeout  time.Duration `mapstructure:"APP_SHUTDOWN_TIMEOUT"`
	LogLevel         string        `mapstructure:"APP_LOG_LEVEL"`
	LogFormat        string        `mapstructure:"APP_LOG_FORMAT"`
	MetricsNamespace string        `mapstructure:"APP_METRICS_NAMESPACE"`
	AllowAnyOrigin   bool          `mapstructure:"APP_ALLOW_ANY_ORIGIN"`
	MaxAudioMB       int           `mapstructure:"APP_MAX_AUDIO_MB"`

	SessionTTL      time.Duration `mapstructure:"SESSION_TTL"`
	SessionCapacity int           `mapstructure:"SESSION_CAPACITY"`
	SessionMaxTurns int           `mapstructure:"SESSION_MAX_TURNS"`

	LLMProvider     string        `mapstructure:"LLM_PROVIDER"`
	LLMFallback     string        `mapstructure:"LLM_FALLBACK_PROVIDER"`
	LLMTimeout      time.Duration `mapstructure:"LLM_TIMEOUT"`
	LLMMaxTokens    int           `mapstructure:"LLM_MAX_TOKENS"`
	LLMTemperature  float64       `mapstructure:"LLM_TEMPERATURE"`
	LLMMaxRetries   int           `mapstructure:"LLM_MAX_RETRIES"`
	LLMRetryBase    time.Duration `mapstructure:"LLM_RETRY_BASE"`
	LLMRetryMaxWait time.Duration `mapstructure:"LLM_RETRY_MAX_WAIT"`

	OpenAIAPIKey     string `mapstructure:"OPENAI_API_KEY"`
	OpenAIModel      string `mapstructure:"OPENAI_MODEL"`
	OpenAIBaseURL    string `mapstructure:"OPENAI_BASE_URL"`
	GroqAPIKey       string `mapstructure:"GROQ_API_KEY"`
	GroqModel        string `mapstructure:"GROQ_MODEL"`
	GroqBaseURL      string `mapstructure:"GROQ_BASE_URL"`
	AnthropicAPIKey  string `mapstructure:"ANTHROPIC_API_KEY"`
	AnthropicModel   string `mapstructure:"ANTHROPIC_MODEL"`
	AnthropicBaseURL string `mapstructure:"ANTHROPIC_BASE_URL"`

	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	NotifyChannel string `mapstructure:"NOTIFY_CHANNEL"`

	Transcriber      string `mapstructure:"TRANSCRIBER"`
	WhisperCLI       string `mapstructure:"WHISPER_CLI"`
	WhisperModelPath string `mapstructure:"WHISPER_MODEL_PATH"`
	WhisperThreads   int    `mapstructure:"WHISPER_THREADS"`
	WhisperBeamSize  int    `mapstructure:"WHISPER_BEAM_SIZE"`
}

var defaults = map[string]any{
	"APP_BIND_ADDR":         ":8080",
	"APP_SHUTDOWN_TIMEOUT":  "15s",
	"APP_LOG_LEVEL":         "info",
	"APP_LOG_FORMAT":        "json",
	"APP_METRICS_NAMESPACE": "careflow",
	"APP_ALLOW_ANY_ORIGIN":  false,
	"APP_MAX_AUDIO_MB":      25,

	"SESSION_TTL":       "2h",
	"SESSION_CAPACITY":  10000,
	"SESSION_MAX_TURNS": 40,

	"LLM_PROVIDER":          llm.ProviderOpenAI,
	"LLM_FALLBACK_PROVIDER": "",
	"LLM_TIMEOUT":           "45s",
	"LLM_MAX_TOKENS":        1024,
	"LLM_TEMPERATURE":       0.3,
	"LLM_MAX_RETRIES":       2,
	"LLM_RETRY_BASE":        "250ms",
	"LLM_RETRY_MAX_WAIT":    "4s",

	"OPENAI_API_KEY":     "",
	"OPENAI_MODEL":       "gpt-4o-mini",
	"OPENAI_BASE_URL":    "",
	"GROQ_API_KEY":       "",
	"GROQ_MODEL":         "llama-3.3-70b-versatile",
	"GROQ_BASE_URL":      "",
	"ANTHROPIC_API_KEY":  "",
	"ANTHROPIC_MODEL":    "claude-sonnet-4-20250514",
	"ANTHROPIC_BASE_URL": "",

	"DATABASE_URL":   "",
	"NOTIFY_CHANNEL": "nurse_escalations",

	"TRANSCRIBER":        "whisper",
	"WHISPER_CLI":        "whisper-cli",
	"WHISPER_MODEL_PATH": ".models/whisper/ggml-base.en.bin",
	"WHISPER_THREADS":    0,
	"WHISPER_BEAM_SIZE":  5,
}

// Load reads settings from the environment and an optional .env file in the
// working directory, then validates them. Environment variables win.
func Load() (Config, error) {
	return load(".env")
}

func load(envFile string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		// SetDefault alone does not make AutomaticEnv keys visible to Unmarshal.
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !isMissingFile(err) {
				return Config{}, fmt.Errorf("read %s: %w", envFile, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}

func (c *Config) normalize() {
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	c.LLMFallback = strings.ToLower(strings.TrimSpace(c.LLMFallback))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.Transcriber = strings.ToLower(strings.TrimSpace(c.Transcriber))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BindAddr) == "" {
		return errors.New("APP_BIND_ADDR must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("APP_SHUTDOWN_TIMEOUT must be > 0")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil || c.LogLevel == "" {
		return fmt.Errorf("APP_LOG_LEVEL %q is not a valid level", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("APP_LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	if c.MaxAudioMB <= 0 {
		return errors.New("APP_MAX_AUDIO_MB must be > 0")
	}
	if c.SessionTTL < time.Minute {
		return fmt.Errorf("SESSION_TTL must be at least 1m, got %s", c.SessionTTL)
	}
	if c.SessionCapacity <= 0 {
		return errors.New("SESSION_CAPACITY must be > 0")
	}
	if c.SessionMaxTurns <= 0 {
		return errors.New("SESSION_MAX_TURNS must be > 0")
	}
	if !knownProvider(c.LLMProvider) {
		return fmt.Errorf("LLM_PROVIDER %q is not supported", c.LLMProvider)
	}
	if c.LLMFallback != "" && !knownProvider(c.LLMFallback) {
		return fmt.Errorf("LLM_FALLBACK_PROVIDER %q is not supported", c.LLMFallback)
	}
	if c.LLMTimeout <= 0 {
		return errors.New("LLM_TIMEOUT must be > 0")
	}
	if c.LLMMaxTokens <= 0 {
		return errors.New("LLM_MAX_TOKENS must be > 0")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be within [0, 2], got %v", c.LLMTemperature)
	}
	if c.LLMMaxRetries < 0 {
		return errors.New("LLM_MAX_RETRIES must be >= 0")
	}
	switch c.Transcriber {
	case "whisper", "mock", "none":
	default:
		return fmt.Errorf("TRANSCRIBER must be whisper, mock or none, got %q", c.Transcriber)
	}
	if c.WhisperThreads < 0 {
		return errors.New("WHISPER_THREADS must be >= 0")
	}
	return nil
}

func knownProvider(name string) bool {
	switch name {
	case llm.ProviderOpenAI, llm.ProviderGroq, llm.ProviderAnthropic, llm.ProviderMock:
		return true
	}
	return false
}

// LLM maps the model settings onto the generator configuration.
func (c Config) LLM() llm.Config {
	return llm.Config{
		Provider:         c.LLMProvider,
		Fallback:         c.LLMFallback,
		OpenAIAPIKey:     c.OpenAIAPIKey,
		OpenAIModel:      c.OpenAIModel,
		OpenAIBaseURL:    c.OpenAIBaseURL,
		GroqAPIKey:       c.GroqAPIKey,
		GroqModel:        c.GroqModel,
		GroqBaseURL:      c.GroqBaseURL,
		AnthropicAPIKey:  c.AnthropicAPIKey,
		AnthropicModel:   c.AnthropicModel,
		AnthropicBaseURL: c.AnthropicBaseURL,
		MaxTokens:        c.LLMMaxTokens,
		Temperature:      c.LLMTemperature,
		Timeout:          c.LLMTimeout,
		MaxRetries:       c.LLMMaxRetries,
		RetryBase:        c.LLMRetryBase,
		RetryMaxWait:     c.LLMRetryMaxWait,
	}
}

func (c Config) MaxAudioBytes() int64 {
	return int64(c.MaxAudioMB) << 20
}
