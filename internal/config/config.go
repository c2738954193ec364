// Package config loads application configuration from config files and the
// environment using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       App       `mapstructure:"app"`
	AI        AI        `mapstructure:"ai"`
	Database  Database  `mapstructure:"database"`
	NVD       NVD       `mapstructure:"nvd"`
	KEV       KEV       `mapstructure:"kev"`
	Email     Email     `mapstructure:"email"`
	Scraper   Scraper   `mapstructure:"scraper"`
	Server    Server    `mapstructure:"server"`
	Scheduler Scheduler `mapstructure:"scheduler"`
}

// App holds general application configuration.
type App struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// AI holds LLM provider configuration.
type AI struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig holds OpenAI configuration.
type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float32 `mapstructure:"temperature"`
}

// Database holds persistence configuration.
type Database struct {
	URL string `mapstructure:"url"`
}

// NVD holds vulnerability database configuration.
type NVD struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// KEV holds KEV catalog configuration.
type KEV struct {
	URL string `mapstructure:"url"`
}

// Email holds outbound email configuration.
type Email struct {
	ResendAPIKey string `mapstructure:"resend_api_key"`
	From         string `mapstructure:"from"`
	FrontendURL  string `mapstructure:"frontend_url"`
}

// Scraper holds feed scraper configuration.
type Scraper struct {
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	PrewarmParallel int           `mapstructure:"prewarm_parallel"`
}

// Server holds HTTP API configuration.
type Server struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// Scheduler holds scheduler configuration.
type Scheduler struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
}

// Load reads configuration from .env, config file, and environment variables.
// Environment variables take precedence over config file values.
func Load() (*Config, error) {
	// .env is optional; ignore a missing file
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName(".cyberbrief")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}

	setDefaults(v)

	v.SetEnvPrefix("CYBERBRIEF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.debug", false)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("ai.openai.model", "gpt-4o-mini")
	v.SetDefault("ai.openai.temperature", 0.3)
	v.SetDefault("nvd.base_url", "https://services.nvd.nist.gov/rest/json/cves/2.0")
	v.SetDefault("kev.url", "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json")
	v.SetDefault("email.from", "digest@cyberbrief.local")
	v.SetDefault("scraper.cache_ttl", time.Hour)
	v.SetDefault("scraper.fetch_timeout", 15*time.Second)
	v.SetDefault("scraper.prewarm_parallel", 32)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("scheduler.tick_interval", time.Hour)
}

// applyEnvOverrides maps the well-known unprefixed environment variables onto
// the config. Missing keys disable the corresponding capability; callers log
// and skip rather than fail.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.AI.OpenAI.APIKey = key
	}
	if key := os.Getenv("NVD_API_KEY"); key != "" {
		cfg.NVD.APIKey = key
	}
	if key := os.Getenv("RESEND_API_KEY"); key != "" {
		cfg.Email.ResendAPIKey = key
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if url := os.Getenv("FRONTEND_URL"); url != "" {
		cfg.Email.FrontendURL = url
	}
}
