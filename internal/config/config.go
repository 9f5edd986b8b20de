package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Redis        RedisConfig        `json:"redis"`
	Providers    ProvidersConfig    `json:"providers"`
	Verification VerificationConfig `json:"verification"`
	Analytics    AnalyticsConfig    `json:"analytics"`
	Security     SecurityConfig     `json:"security"`
	Logging      LoggingConfig      `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	// PublicBaseURL is the externally reachable base URL handed to providers
	// as the webhook callback target.
	PublicBaseURL string `json:"public_base_url"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// RedisConfig represents the shared cache configuration. An empty Addr
// disables the cache and analytics falls back to direct computation.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// ProviderConfig holds one external provider endpoint
type ProviderConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
}

// ProvidersConfig groups the external verification providers
type ProvidersConfig struct {
	AIForensics ProviderConfig `json:"ai_forensics"`
	Blockchain  ProviderConfig `json:"blockchain"`
	IPFS        ProviderConfig `json:"ipfs"`
	Manual      ProviderConfig `json:"manual"`
}

// VerificationConfig holds orchestration policy
type VerificationConfig struct {
	MaxRetries     int           `json:"max_retries"`
	RetryBaseDelay time.Duration `json:"retry_base_delay"`
	RetryMaxDelay  time.Duration `json:"retry_max_delay"`
	RequestTTL     time.Duration `json:"request_ttl"`
	SweepInterval  time.Duration `json:"sweep_interval"`
}

// AnalyticsConfig holds aggregator policy
type AnalyticsConfig struct {
	CacheTTL time.Duration `json:"cache_ttl"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret string `json:"jwt_secret"`
	// Webhook endpoints are unauthenticated; rate limited per source IP.
	WebhookRatePerSecond float64 `json:"webhook_rate_per_second"`
	WebhookBurst         int     `json:"webhook_burst"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// Default config
	config := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			User:    os.Getenv("USER"),
			DBName:  "veridoc_verification",
			SSLMode: "disable",
		},
		Verification: VerificationConfig{
			MaxRetries:     3,
			RetryBaseDelay: 5 * time.Second,
			RetryMaxDelay:  2 * time.Minute,
			RequestTTL:     30 * time.Minute,
			SweepInterval:  time.Minute,
		},
		Analytics: AnalyticsConfig{
			CacheTTL: 20 * time.Minute,
		},
		Security: SecurityConfig{
			WebhookRatePerSecond: 10,
			WebhookBurst:         20,
		},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if base := os.Getenv("SERVER_PUBLIC_BASE_URL"); base != "" {
		config.Server.PublicBaseURL = base
	}
	if dbHost := os.Getenv("DATABASE_HOST"); dbHost != "" {
		config.Database.Host = dbHost
	}
	if dbUser := os.Getenv("DATABASE_USER"); dbUser != "" {
		config.Database.User = dbUser
	}
	if dbPass := os.Getenv("DATABASE_PASSWORD"); dbPass != "" {
		config.Database.Password = dbPass
	}
	if dbName := os.Getenv("DATABASE_DBNAME"); dbName != "" {
		config.Database.DBName = dbName
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if pass := os.Getenv("REDIS_PASSWORD"); pass != "" {
		config.Redis.Password = pass
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}
	overrideProviderEnv("AI_FORENSICS", &config.Providers.AIForensics)
	overrideProviderEnv("BLOCKCHAIN", &config.Providers.Blockchain)
	overrideProviderEnv("IPFS", &config.Providers.IPFS)
	overrideProviderEnv("MANUAL_REVIEW", &config.Providers.Manual)
}

func overrideProviderEnv(prefix string, p *ProviderConfig) {
	if url := os.Getenv(prefix + "_BASE_URL"); url != "" {
		p.BaseURL = url
	}
	if key := os.Getenv(prefix + "_API_KEY"); key != "" {
		p.APIKey = key
	}
	if p.Timeout == 0 {
		p.Timeout = 15 * time.Second
	}
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
