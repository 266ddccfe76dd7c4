package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from environment variables or config files.
type Config struct {
	AppEnv          string        `mapstructure:"APP_ENV" validate:"required,oneof=development staging production test"`
	HTTPAddr        string        `mapstructure:"HTTP_ADDR" validate:"required,hostname_port"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT" validate:"required"`

	LogLevel  string `mapstructure:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal"`
	LogFormat string `mapstructure:"LOG_FORMAT" validate:"required,oneof=json console"`

	DatabaseURL string `mapstructure:"DATABASE_URL" validate:"required,url|uri"`

	// Redis is optional for the API: without it events stay in-process and turns run inline.
	RedisAddr     string `mapstructure:"REDIS_ADDR" validate:"omitempty,hostname_port"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	AsynqConcurrency int  `mapstructure:"ASYNQ_CONCURRENCY" validate:"gte=1,lte=1000"`
	AsyncTurns       bool `mapstructure:"ASYNC_TURNS"`

	GoMaxProcs int `mapstructure:"GOMAXPROCS" validate:"gte=0,lte=4096"`

	JWTSecret string `mapstructure:"JWT_SECRET"`

	LLMAPIKey      string        `mapstructure:"LLM_API_KEY"`
	LLMBaseURL     string        `mapstructure:"LLM_BASE_URL" validate:"required,url"`
	LLMModel       string        `mapstructure:"LLM_MODEL" validate:"required"`
	LLMTimeout     time.Duration `mapstructure:"LLM_TIMEOUT" validate:"required"`
	LLMTemperature float32       `mapstructure:"LLM_TEMPERATURE" validate:"gte=0,lte=2"`

	PatchMaxElements  int `mapstructure:"PATCH_MAX_ELEMENTS" validate:"gte=1,lte=100000"`
	ApproveMaxRetries int `mapstructure:"APPROVE_MAX_RETRIES" validate:"gte=1,lte=20"`
	ContextMessages   int `mapstructure:"CONTEXT_MESSAGES" validate:"gte=1,lte=200"`

	SSEHeartbeat   time.Duration `mapstructure:"SSE_HEARTBEAT" validate:"required"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS" validate:"gt=0"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST" validate:"gte=1"`
	CORSOrigins    string        `mapstructure:"CORS_ORIGINS"`
}

var (
	cfg      *Config
	validate = validator.New(validator.WithRequiredStructEnabled())
)

var keys = []string{
	"APP_ENV",
	"HTTP_ADDR",
	"SHUTDOWN_TIMEOUT",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"DATABASE_URL",
	"REDIS_ADDR",
	"REDIS_PASSWORD",
	"ASYNQ_CONCURRENCY",
	"ASYNC_TURNS",
	"GOMAXPROCS",
	"JWT_SECRET",
	"LLM_API_KEY",
	"LLM_BASE_URL",
	"LLM_MODEL",
	"LLM_TIMEOUT",
	"LLM_TEMPERATURE",
	"PATCH_MAX_ELEMENTS",
	"APPROVE_MAX_RETRIES",
	"CONTEXT_MESSAGES",
	"SSE_HEARTBEAT",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"CORS_ORIGINS",
}

// durations are re-parsed by hand since env values always arrive as strings.
var durations = map[string]func(*Config, time.Duration){
	"SHUTDOWN_TIMEOUT": func(c *Config, d time.Duration) { c.ShutdownTimeout = d },
	"LLM_TIMEOUT":      func(c *Config, d time.Duration) { c.LLMTimeout = d },
	"SSE_HEARTBEAT":    func(c *Config, d time.Duration) { c.SSEHeartbeat = d },
}

// Load initializes configuration using Viper. It loads from .env if present,
// applies defaults, binds env vars, and validates the result.
func Load() (*Config, error) {
	// Load .env if present (non-fatal)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_ADDR", "0.0.0.0:8080")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("ASYNQ_CONCURRENCY", 10)
	v.SetDefault("ASYNC_TURNS", false)
	v.SetDefault("GOMAXPROCS", 0)
	v.SetDefault("LLM_BASE_URL", "https://api.groq.com/openai/v1")
	v.SetDefault("LLM_MODEL", "openai/gpt-oss-120b")
	v.SetDefault("LLM_TIMEOUT", "60s")
	v.SetDefault("LLM_TEMPERATURE", 0.7)
	v.SetDefault("PATCH_MAX_ELEMENTS", 1000)
	v.SetDefault("APPROVE_MAX_RETRIES", 3)
	v.SetDefault("CONTEXT_MESSAGES", 10)
	v.SetDefault("SSE_HEARTBEAT", "30s")
	v.SetDefault("RATE_LIMIT_RPS", 10)
	v.SetDefault("RATE_LIMIT_BURST", 20)
	v.SetDefault("CORS_ORIGINS", "*")

	// Optional config file
	_ = v.ReadInConfig()

	for _, key := range keys {
		_ = v.BindEnv(key)
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	for key, set := range durations {
		if s := v.GetString(key); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", key, err)
			}
			set(&c, d)
		}
	}

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.AsyncTurns && c.RedisAddr == "" {
		return nil, fmt.Errorf("invalid configuration: ASYNC_TURNS requires REDIS_ADDR")
	}

	if !c.IsDevelopment() && c.JWTSecret == "" {
		return nil, fmt.Errorf("invalid configuration: JWT_SECRET is required in %s", c.AppEnv)
	}

	if c.GoMaxProcs > 0 {
		runtime.GOMAXPROCS(c.GoMaxProcs)
	}

	cfg = &c
	return cfg, nil
}

// MustLoad loads configuration or exits the process on failure.
func MustLoad() *Config {
	c, err := Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	return c
}

// Get returns the loaded configuration. Panics if not loaded.
func Get() *Config {
	if cfg == nil {
		panic("config not loaded: call config.Load or config.MustLoad first")
	}
	return cfg
}

// IsDevelopment reports whether verbose diagnostics should be enabled.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development" || c.AppEnv == "test"
}
