// Package config loads settings from the environment with an optional
// YAML file overlay. The loaded struct is passed into constructors,
// nothing reads it globally.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Scraper  ScraperConfig  `yaml:"scraper"`
	Browser  BrowserConfig  `yaml:"browser"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ScraperConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Mode       string        `yaml:"mode"`
	MaxPages   int           `yaml:"max_pages"`
	Delay      time.Duration `yaml:"delay"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	UserAgent  string        `yaml:"user_agent"`
	Timeout    time.Duration `yaml:"timeout"`
	OutputPath string        `yaml:"output_path"`
}

type BrowserConfig struct {
	Headless bool          `yaml:"headless"`
	Timeout  time.Duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Addr   string `yaml:"addr"`
	Stream string `yaml:"stream"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	Host            string        `yaml:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	ModeStatic  = "static"
	ModeBrowser = "browser"
)

// Load reads environment variables over built-in defaults. When
// SHELFWATCH_CONFIG names a YAML file, its values overlay the result.
func Load() (*Config, error) {
	cfg := &Config{
		Scraper: ScraperConfig{
			BaseURL:    getEnvOrDefault("SCRAPER_BASE_URL", "https://scrapeme.live/shop"),
			Mode:       getEnvOrDefault("SCRAPER_MODE", ModeStatic),
			MaxPages:   getIntOrDefault("SCRAPER_MAX_PAGES", 10),
			Delay:      getDurationOrDefault("SCRAPER_DELAY", time.Second),
			MaxRetries: getIntOrDefault("SCRAPER_MAX_RETRIES", 2),
			RetryDelay: getDurationOrDefault("SCRAPER_RETRY_DELAY", 2*time.Second),
			UserAgent:  getEnvOrDefault("SCRAPER_USER_AGENT", defaultUserAgent),
			Timeout:    getDurationOrDefault("SCRAPER_TIMEOUT", 30*time.Second),
			OutputPath: getEnvOrDefault("SCRAPER_OUTPUT_PATH", "products.csv"),
		},
		Browser: BrowserConfig{
			Headless: getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:  getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "shelfwatch"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:   getEnvOrDefault("REDIS_ADDR", ""),
			Stream: getEnvOrDefault("REDIS_STREAM", ""),
		},
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if path := os.Getenv("SHELFWATCH_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

func (c *Config) Validate() error {
	if c.Scraper.BaseURL == "" {
		return fmt.Errorf("SCRAPER_BASE_URL must be set")
	}

	if c.Scraper.Mode != ModeStatic && c.Scraper.Mode != ModeBrowser {
		return fmt.Errorf("SCRAPER_MODE must be %q or %q, got %q", ModeStatic, ModeBrowser, c.Scraper.Mode)
	}

	// 0 disables the page bound; the empty-stop heuristic ends the run.
	if c.Scraper.MaxPages < 0 {
		return fmt.Errorf("SCRAPER_MAX_PAGES cannot be negative, 0 means unbounded")
	}

	if c.Scraper.Delay < 0 {
		return fmt.Errorf("SCRAPER_DELAY cannot be negative")
	}

	return nil
}

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
