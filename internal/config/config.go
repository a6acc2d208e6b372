package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       App       `mapstructure:"app"`
	AI        AI        `mapstructure:"ai"`
	Extract   Extract   `mapstructure:"extract"`
	Cluster   Cluster   `mapstructure:"cluster"`
	Processor Processor `mapstructure:"processor"`
}

// App holds general application configuration.
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
}

// AI holds LLM configuration for the optional normalization path.
type AI struct {
	Enabled bool         `mapstructure:"enabled"`
	Gemini  GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration.
type GeminiConfig struct {
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int32  `mapstructure:"max_tokens"`
}

// Extract holds content-extraction configuration.
type Extract struct {
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	MaxRetries      int    `mapstructure:"max_retries"`
	RendererEnabled bool   `mapstructure:"renderer_enabled"`
	MaxConcurrent   int    `mapstructure:"max_concurrent"`
}

// Cluster holds clusterer tuning configuration.
type Cluster struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	CandidatePoolSize   int     `mapstructure:"candidate_pool_size"`
	TimeWindowHours     int     `mapstructure:"time_window_hours"`
}

// Processor holds processing-loop configuration.
type Processor struct {
	PerArticleDelaySeconds    float64 `mapstructure:"per_article_delay_seconds"`
	PollIntervalSeconds       float64 `mapstructure:"poll_interval_seconds"`
	MaxArticlesPerRun         int     `mapstructure:"max_articles_per_run"`
	SingletonSweepWindowHours int     `mapstructure:"singleton_sweep_window_hours"`
	SingletonSweepLimit       int     `mapstructure:"singleton_sweep_limit"`
	SweepEveryNCycles         int     `mapstructure:"sweep_every_n_cycles"`
	WatchdogMinutes           int     `mapstructure:"watchdog_minutes"`
}

var globalConfig *Config

// Load loads configuration from the config file, environment, and defaults.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".newsloom")
		viper.SetConfigType("yaml")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	_ = viper.BindEnv("ai.gemini.api_key", "GEMINI_API_KEY")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset clears the cached configuration. Intended for tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.data_dir", ".newsloom")

	viper.SetDefault("ai.enabled", true)
	viper.SetDefault("ai.gemini.model", "gemini-flash-lite-latest")
	viper.SetDefault("ai.gemini.max_tokens", 1024)

	viper.SetDefault("extract.user_agent", "Mozilla/5.0 (compatible; newsloom/1.0)")
	viper.SetDefault("extract.timeout_seconds", 30)
	viper.SetDefault("extract.max_retries", 2)
	viper.SetDefault("extract.renderer_enabled", true)
	viper.SetDefault("extract.max_concurrent", 4)

	viper.SetDefault("cluster.similarity_threshold", 0.22)
	viper.SetDefault("cluster.candidate_pool_size", 150)
	viper.SetDefault("cluster.time_window_hours", 72)

	viper.SetDefault("processor.per_article_delay_seconds", 1.0)
	viper.SetDefault("processor.poll_interval_seconds", 5.0)
	viper.SetDefault("processor.max_articles_per_run", 100)
	viper.SetDefault("processor.singleton_sweep_window_hours", 72)
	viper.SetDefault("processor.singleton_sweep_limit", 300)
	viper.SetDefault("processor.sweep_every_n_cycles", 25)
	viper.SetDefault("processor.watchdog_minutes", 30)
}

func validate(c *Config) error {
	if c.Cluster.SimilarityThreshold <= 0 || c.Cluster.SimilarityThreshold >= 1 {
		return fmt.Errorf("cluster.similarity_threshold must be in (0,1), got %f", c.Cluster.SimilarityThreshold)
	}
	if c.Cluster.CandidatePoolSize <= 0 {
		return fmt.Errorf("cluster.candidate_pool_size must be positive")
	}
	if c.Extract.TimeoutSeconds <= 0 {
		return fmt.Errorf("extract.timeout_seconds must be positive")
	}
	return nil
}
