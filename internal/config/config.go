package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"llmnet/internal/logger"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Network   NetworkConfig   `mapstructure:"network" yaml:"network" validate:"required"`
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`
	Checker   CheckerConfig   `mapstructure:"checker" yaml:"checker" validate:"required"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database" validate:"required"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server" validate:"required"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging" validate:"required"`
}

type NetworkConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"required,min=1s,max=10m"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries" validate:"required,min=1,max=20"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay" validate:"required,min=1ms,max=5m"`
	RateLimit  float64       `mapstructure:"rate_limit" yaml:"rate_limit" validate:"min=0"`
	ProxyURL   string        `mapstructure:"proxy_url" yaml:"proxy_url" validate:"omitempty,proxy_url"`
}

type ProvidersConfig struct {
	Names    []string          `mapstructure:"names" yaml:"names" validate:"dive,required"`
	BaseURLs map[string]string `mapstructure:"base_urls" yaml:"base_urls" validate:"dive,url"`
}

type CheckerConfig struct {
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers" validate:"required,min=1,max=64"`
}

type MonitorConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval       time.Duration `mapstructure:"interval" yaml:"interval" validate:"required,min=10s,max=24h"`
	RefreshTimeout time.Duration `mapstructure:"refresh_timeout" yaml:"refresh_timeout" validate:"required,min=1s,max=30m"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Path            string        `mapstructure:"path" yaml:"path" validate:"required,min=1"`
	MaxAge          time.Duration `mapstructure:"max_age" yaml:"max_age" validate:"required,min=1h,max=8760h"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval" validate:"required,min=1m,max=24h"`
}

type ServerConfig struct {
	ListenAddr   string        `mapstructure:"listen_addr" yaml:"listen_addr" validate:"required,hostname_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"required,min=1s,max=5m"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"required,min=1s,max=5m"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"required,min=1s,max=10m"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=console json"`
}

var log = logger.New("config")

// setDefaults configures default values for viper
func setDefaults(v *viper.Viper) {
	// Network defaults
	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.max_retries", 3)
	v.SetDefault("network.retry_delay", "1s")
	v.SetDefault("network.rate_limit", 0)
	v.SetDefault("network.proxy_url", "")

	// Provider defaults, an empty list selects the diagnostic set
	v.SetDefault("providers.names", []string{})
	v.SetDefault("providers.base_urls", map[string]string{})

	// Checker defaults
	v.SetDefault("checker.max_workers", 4)

	// Monitor defaults
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.interval", "5m")
	v.SetDefault("monitor.refresh_timeout", "2m")

	// Database defaults
	v.SetDefault("database.enabled", true)
	v.SetDefault("database.path", "./data/llmnet.db")
	v.SetDefault("database.max_age", "168h")
	v.SetDefault("database.cleanup_interval", "1h")

	// Server defaults
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.idle_timeout", "60s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// LoadConfig loads configuration from defaults, a .env file, LLMNET_*
// environment variables and a YAML file, then validates it. An explicit
// configPath must exist; otherwise config.yaml is searched in ., ./config
// and /etc/llmnet.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/llmnet")

	// .env never overrides variables already present in the environment
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			log.WarnBg("Failed to load .env file: %v", err)
		}
	}

	v.SetEnvPrefix("LLMNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.DebugBg("No config file found, using defaults and environment variables")
	} else {
		log.DebugBg("Using config file %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the struct tags of config
func Validate(config *Config) error {
	validate := validator.New()

	if err := registerCustomValidators(validate); err != nil {
		return fmt.Errorf("failed to register validators: %w", err)
	}

	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}

// registerCustomValidators adds custom validation rules
func registerCustomValidators(validate *validator.Validate) error {
	err := validate.RegisterValidation("hostname_port", func(fl validator.FieldLevel) bool {
		addr := fl.Field().String()
		if addr == "" {
			return false
		}
		return strings.Contains(addr, ":")
	})
	if err != nil {
		return err
	}

	return validate.RegisterValidation("proxy_url", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		if err != nil || u.Host == "" {
			return false
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
			return true
		default:
			return false
		}
	})
}

// SaveConfigTemplate writes the defaults to path. It refuses to overwrite an existing file.
func SaveConfigTemplate(path string) error {
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("yaml")

	if err := v.SafeWriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config template: %w", err)
	}

	return nil
}

// PrintConfig logs the effective configuration
func PrintConfig(config *Config) {
	log.InfoBg("Configuration loaded:")
	log.InfoBg("  Network: timeout %v, %d retries, retry delay %v, rate limit %v/s",
		config.Network.Timeout, config.Network.MaxRetries, config.Network.RetryDelay, config.Network.RateLimit)
	if config.Network.ProxyURL != "" {
		log.InfoBg("  Proxy: %s", redact(config.Network.ProxyURL))
	} else {
		log.InfoBg("  Proxy: [NOT SET]")
	}
	if len(config.Providers.Names) > 0 {
		log.InfoBg("  Providers: %v (%d base URL overrides)", config.Providers.Names, len(config.Providers.BaseURLs))
	} else {
		log.InfoBg("  Providers: defaults (%d base URL overrides)", len(config.Providers.BaseURLs))
	}
	log.InfoBg("  Checker: %d workers", config.Checker.MaxWorkers)
	log.InfoBg("  Monitor: enabled %v, interval %v", config.Monitor.Enabled, config.Monitor.Interval)
	log.InfoBg("  Database: %s (enabled %v, max age %v)", config.Database.Path, config.Database.Enabled, config.Database.MaxAge)
	log.InfoBg("  Server: %s", config.Server.ListenAddr)
	log.InfoBg("  Logging: %s/%s", config.Logging.Level, config.Logging.Format)
}

// redact hides the proxy password
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
