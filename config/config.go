package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research engine
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address        string   `mapstructure:"address"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LLMConfig contains Gemini provider configuration
type LLMConfig struct {
	APIKey  string              `mapstructure:"api_key"`
	Models  map[string]LLMModel `mapstructure:"models"`
	Routing LLMRoutingConfig    `mapstructure:"routing"`
	Timeout time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name           string  `mapstructure:"name"`
	APIName        string  `mapstructure:"api_name"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	ThinkingBudget int     `mapstructure:"thinking_budget"`
}

// LLMRoutingConfig defines which model to use for each pipeline phase
type LLMRoutingConfig struct {
	Planning   string `mapstructure:"planning"`
	Research   string `mapstructure:"research"`
	Evaluation string `mapstructure:"evaluation"`
	Synthesis  string `mapstructure:"synthesis"`
	Fallback   string `mapstructure:"fallback"`
}

// PipelineConfig controls the research loop behaviour
type PipelineConfig struct {
	MaxLoopIterations int           `mapstructure:"max_loop_iterations"`
	AgentTimeout      time.Duration `mapstructure:"agent_timeout"`
}

// StorageConfig contains session storage settings
type StorageConfig struct {
	SessionBackend string        `mapstructure:"session_backend"` // memory or redis
	SessionTTL     time.Duration `mapstructure:"session_ttl"`
	Redis          RedisConfig   `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig contains monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("engine_config")
	viper.SetConfigType("json")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("RESEARCH_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Read config file (optional - will use defaults if not found)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.max_processing_time", "10m")
	viper.SetDefault("general.default_timeout", "30s")

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.allowed_origins", []string{
		"https://vibe-agent-final.web.app",
		"http://localhost:5173",
	})

	viper.SetDefault("llm.timeout", "2m")
	// Registry keys must stay dot-free: viper splits keys on dots, so a key
	// like "gemini-2.5-pro" would be shredded into nested maps. The dotted
	// API model ids live in api_name.
	viper.SetDefault("llm.models.gemini-pro.name", "gemini-pro")
	viper.SetDefault("llm.models.gemini-pro.api_name", "gemini-2.5-pro")
	viper.SetDefault("llm.models.gemini-pro.max_tokens", 65536)
	viper.SetDefault("llm.models.gemini-pro.temperature", 1.0)
	viper.SetDefault("llm.models.gemini-flash.name", "gemini-flash")
	viper.SetDefault("llm.models.gemini-flash.api_name", "gemini-2.5-flash")
	viper.SetDefault("llm.models.gemini-flash.max_tokens", 65536)
	viper.SetDefault("llm.models.gemini-flash.temperature", 1.0)
	viper.SetDefault("llm.routing.planning", "gemini-pro")
	viper.SetDefault("llm.routing.research", "gemini-flash")
	viper.SetDefault("llm.routing.evaluation", "gemini-pro")
	viper.SetDefault("llm.routing.synthesis", "gemini-pro")
	viper.SetDefault("llm.routing.fallback", "gemini-flash")

	viper.SetDefault("pipeline.max_loop_iterations", 3)
	viper.SetDefault("pipeline.agent_timeout", "5m")

	viper.SetDefault("storage.session_backend", "memory")
	viper.SetDefault("storage.session_ttl", "24h")
	viper.SetDefault("storage.redis.host", "localhost")
	viper.SetDefault("storage.redis.port", 6379)
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.timeout", "5s")

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)
	viper.SetDefault("telemetry.periodic_logs", false)
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv() {
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		viper.Set("llm.api_key", apiKey)
	}
	if apiKey := os.Getenv("GOOGLE_API_KEY"); apiKey != "" && viper.GetString("llm.api_key") == "" {
		viper.Set("llm.api_key", apiKey)
	}

	if addr := os.Getenv("RESEARCH_ENGINE_HTTP_ADDR"); addr != "" {
		viper.Set("server.address", addr)
	}
	if origins := os.Getenv("RESEARCH_ENGINE_ALLOWED_ORIGINS"); origins != "" {
		viper.Set("server.allowed_origins", strings.Split(origins, ","))
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("storage.redis.host", host)
		viper.Set("storage.session_backend", "redis")
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		viper.Set("storage.redis.password", password)
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if len(config.LLM.Models) == 0 {
		return fmt.Errorf("at least one LLM model must be configured")
	}
	for key := range config.LLM.Models {
		if strings.Contains(key, ".") {
			return fmt.Errorf("model key %q must not contain dots; viper splits keys on them", key)
		}
	}

	routingModels := []string{
		config.LLM.Routing.Planning,
		config.LLM.Routing.Research,
		config.LLM.Routing.Evaluation,
		config.LLM.Routing.Synthesis,
		config.LLM.Routing.Fallback,
	}
	for _, model := range routingModels {
		if model == "" {
			continue
		}
		if _, ok := config.LLM.Models[model]; !ok {
			return fmt.Errorf("routing model '%s' not found in configured models", model)
		}
	}

	switch config.Storage.SessionBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported session backend: %s", config.Storage.SessionBackend)
	}

	if config.Pipeline.MaxLoopIterations < 1 {
		return fmt.Errorf("pipeline.max_loop_iterations must be at least 1")
	}

	return nil
}
