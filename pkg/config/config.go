package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the security service
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database configuration (audit log store)
	Database DatabaseConfig `mapstructure:"database"`

	// JWT configuration (authenticator)
	JWT JWTConfig `mapstructure:"jwt"`

	// Security engine configuration
	Security SecurityConfig `mapstructure:"security"`

	// Audit configuration defaults, mutable at runtime through the API
	Audit AuditConfig `mapstructure:"audit"`

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`

	// Monitoring configuration
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration. When Host is empty the
// service falls back to the in-memory audit store.
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// JWTConfig holds JWT configuration for the token validator
type JWTConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	Issuer    string `mapstructure:"issuer"`
}

// SecurityConfig holds engine tuning parameters
type SecurityConfig struct {
	MaxRiskScore          float64       `mapstructure:"max_risk_score"`
	DenyPolicy            string        `mapstructure:"deny_policy"`
	ApprovalSweepInterval time.Duration `mapstructure:"approval_sweep_interval"`
	AlertBufferSize       int           `mapstructure:"alert_buffer_size"`
	AlertWebhookURL       string        `mapstructure:"alert_webhook_url"`
	AlertWebhookTimeout   time.Duration `mapstructure:"alert_webhook_timeout"`
}

// AuditConfig seeds the runtime AuditConfiguration
type AuditConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	RetentionDays     int           `mapstructure:"retention_days"`
	MinSeverity       string        `mapstructure:"min_severity"`
	AlertMinSeverity  string        `mapstructure:"alert_min_severity"`
	AlertRecipients   []string      `mapstructure:"alert_recipients"`
	FailedLoginCount  int           `mapstructure:"failed_login_count"`
	FailedLoginWindow time.Duration `mapstructure:"failed_login_window"`
	RoleChangeCount   int           `mapstructure:"role_change_count"`
	RoleChangeWindow  time.Duration `mapstructure:"role_change_window"`
	ExportCount       int           `mapstructure:"export_count"`
	ExportWindow      time.Duration `mapstructure:"export_window"`
}

// MonitoringConfig holds monitoring configuration
type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPath string `mapstructure:"metrics_path"`
	HealthPath  string `mapstructure:"health_path"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/conference-security")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	overrideWithEnv(&config)

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8085)
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)
	viper.SetDefault("server.idle_timeout", 120)

	// Database defaults
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "conference_security")
	viper.SetDefault("database.user", "conference")
	viper.SetDefault("database.ssl_mode", "require")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 300)

	// JWT defaults
	viper.SetDefault("jwt.issuer", "conference-platform")

	// Security engine defaults
	viper.SetDefault("security.max_risk_score", 0.75)
	viper.SetDefault("security.deny_policy", "single_deny")
	viper.SetDefault("security.approval_sweep_interval", 5*time.Minute)
	viper.SetDefault("security.alert_buffer_size", 500)
	viper.SetDefault("security.alert_webhook_timeout", 10*time.Second)

	// Audit defaults
	viper.SetDefault("audit.enabled", true)
	viper.SetDefault("audit.retention_days", 90)
	viper.SetDefault("audit.min_severity", "low")
	viper.SetDefault("audit.alert_min_severity", "high")
	viper.SetDefault("audit.failed_login_count", 5)
	viper.SetDefault("audit.failed_login_window", 15*time.Minute)
	viper.SetDefault("audit.role_change_count", 3)
	viper.SetDefault("audit.role_change_window", 10*time.Minute)
	viper.SetDefault("audit.export_count", 5)
	viper.SetDefault("audit.export_window", 10*time.Minute)

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_path", "/metrics")
	viper.SetDefault("monitoring.health_path", "/health")

	// Logging defaults
	viper.SetDefault("log_level", "info")
}

// overrideWithEnv overrides configuration with well-known environment variables
func overrideWithEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if jwtSecret := os.Getenv("JWT_SECRET_KEY"); jwtSecret != "" {
		config.JWT.SecretKey = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.LogLevel = logLevel
	}
}

// validate validates the configuration
func validate(config *Config) error {
	if config.JWT.SecretKey == "" {
		return fmt.Errorf("JWT secret key is required")
	}

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Security.MaxRiskScore <= 0 || config.Security.MaxRiskScore > 1 {
		return fmt.Errorf("invalid max risk score: %f", config.Security.MaxRiskScore)
	}

	if config.Database.Host != "" && config.Database.Password == "" {
		return fmt.Errorf("database password is required when database host is set")
	}

	return nil
}
