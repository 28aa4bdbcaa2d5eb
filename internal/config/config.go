package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the complete application configuration, loaded once at
// startup and passed into components explicitly.
type Config struct {
	Environment string

	Server     ServerConfig
	Scylla     ScyllaConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	Elastic    ElasticConfig
	SMTP       SMTPConfig
	Auth       AuthConfig
	Hashing    HashingConfig
	KMS        KMSConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	AutoCertDir  string
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers    []string
	LoginTopic string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type ElasticConfig struct {
	Addresses  []string
	Username   string
	Password   string
	LoginIndex string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// AuthConfig carries the verification-code and session-token policy knobs.
type AuthConfig struct {
	SigningKey       string
	SessionTTL       time.Duration
	CodeTTL          time.Duration
	CodeMaxAttempts  int
	SendRateWindow   time.Duration
	LockoutWindow    time.Duration
	LockoutThreshold int
	TokenIssuer      string
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

type KMSConfig struct {
	Enabled          bool
	Region           string
	SigningKeyCipher string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// MinSigningKeyBytes is the minimum accepted session signing key length.
// Shorter keys are rejected at startup, never at issuance time.
const MinSigningKeyBytes = 32

// LoadConfig reads configuration from the environment, optionally seeded
// from a .env file in development.
func LoadConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: GetEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:         GetEnv("SERVER_HOST", "0.0.0.0"),
			Port:         GetEnvInt("SERVER_PORT", 8080),
			TLSPort:      GetEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    GetEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     GetEnvBool("SERVER_AUTO_CERT", false),
			AutoCertDir:  GetEnv("SERVER_AUTO_CERT_DIR", "/var/cache/autocert"),
			Domain:       GetEnv("SERVER_DOMAIN", ""),
			Email:        GetEnv("SERVER_ACME_EMAIL", ""),
			CertFile:     GetEnv("SERVER_CERT_FILE", ""),
			KeyFile:      GetEnv("SERVER_KEY_FILE", ""),
			ReadTimeout:  GetEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: GetEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  GetEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Scylla: ScyllaConfig{
			Nodes:    strings.Split(GetEnv("SCYLLA_NODES", "127.0.0.1:9042"), ","),
			Keyspace: GetEnv("SCYLLA_KEYSPACE", "authcore"),
			Username: GetEnv("SCYLLA_USERNAME", ""),
			Password: GetEnv("SCYLLA_PASSWORD", ""),
		},
		Redis: RedisConfig{
			URL:      GetEnv("REDIS_URL", "redis://127.0.0.1:6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvInt("REDIS_DB", 0),
			PoolSize: GetEnvInt("REDIS_POOL_SIZE", 50),
		},
		Kafka: KafkaConfig{
			Brokers:    strings.Split(GetEnv("KAFKA_BROKERS", "127.0.0.1:9092"), ","),
			LoginTopic: GetEnv("KAFKA_LOGIN_TOPIC", "auth.login-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      GetEnv("CLICKHOUSE_URL", "http://127.0.0.1:8123"),
			Database: GetEnv("CLICKHOUSE_DATABASE", "authcore"),
			Username: GetEnv("CLICKHOUSE_USERNAME", "default"),
			Password: GetEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Elastic: ElasticConfig{
			Addresses:  strings.Split(GetEnv("ELASTIC_ADDRESSES", "http://127.0.0.1:9200"), ","),
			Username:   GetEnv("ELASTIC_USERNAME", ""),
			Password:   GetEnv("ELASTIC_PASSWORD", ""),
			LoginIndex: GetEnv("ELASTIC_LOGIN_INDEX", "login-events"),
		},
		SMTP: SMTPConfig{
			Host:     GetEnv("SMTP_HOST", "127.0.0.1"),
			Port:     GetEnvInt("SMTP_PORT", 587),
			Username: GetEnv("SMTP_USERNAME", ""),
			Password: GetEnv("SMTP_PASSWORD", ""),
			From:     GetEnv("SMTP_FROM", "no-reply@localhost"),
		},
		Auth: AuthConfig{
			SigningKey:       GetEnv("AUTH_SIGNING_KEY", ""),
			SessionTTL:       GetEnvDuration("AUTH_SESSION_TTL", 7*24*time.Hour),
			CodeTTL:          GetEnvDuration("AUTH_CODE_TTL", 10*time.Minute),
			CodeMaxAttempts:  GetEnvInt("AUTH_CODE_MAX_ATTEMPTS", 5),
			SendRateWindow:   GetEnvDuration("AUTH_SEND_RATE_WINDOW", time.Minute),
			LockoutWindow:    GetEnvDuration("AUTH_LOCKOUT_WINDOW", time.Hour),
			LockoutThreshold: GetEnvInt("AUTH_LOCKOUT_THRESHOLD", 5),
			TokenIssuer:      GetEnv("AUTH_TOKEN_ISSUER", "authcore"),
		},
		Hashing: HashingConfig{
			Argon2MemoryCost:  GetEnvInt("ARGON2_MEMORY_COST", 64*1024),
			Argon2TimeCost:    GetEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism: GetEnvInt("ARGON2_PARALLELISM", 2),
		},
		KMS: KMSConfig{
			Enabled:          GetEnvBool("KMS_ENABLED", false),
			Region:           GetEnv("KMS_REGION", "us-east-1"),
			SigningKeyCipher: GetEnv("KMS_SIGNING_KEY_CIPHERTEXT", ""),
		},
		Logging: LoggingConfig{
			Level:  GetEnv("LOG_LEVEL", "info"),
			Format: GetEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg
}

// Validate rejects configurations that must fail at startup rather than at
// request time.
func (c *Config) Validate() error {
	if !c.KMS.Enabled && len(c.Auth.SigningKey) < MinSigningKeyBytes {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least %d bytes, got %d",
			MinSigningKeyBytes, len(c.Auth.SigningKey))
	}
	if c.KMS.Enabled && c.KMS.SigningKeyCipher == "" {
		return fmt.Errorf("KMS_SIGNING_KEY_CIPHERTEXT is required when KMS is enabled")
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("AUTH_SESSION_TTL must be positive")
	}
	if c.Auth.CodeTTL <= 0 {
		return fmt.Errorf("AUTH_CODE_TTL must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Env helpers

func GetEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func GetEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
