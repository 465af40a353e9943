// Package config loads the authorization server's configuration from the
// process environment, assembling every sub-config (NotifxConfig,
// JobxConfig, ...) under one root Config.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration object, assembled once at process start
// and passed down through the DI container.
type Config struct {
	Server   ServerConfig
	DB       DBConfig
	Redis    RedisConfig
	Crypto   CryptoConfig
	Session  SessionConfig
	Admin    AdminBootstrapConfig
	Notifx   NotifxConfig
	Jobx     JobxConfig
}

// Load reads every sub-config from the environment.
func Load() Config {
	return Config{
		Server:  loadServerConfig(),
		DB:      loadDBConfig(),
		Redis:   loadRedisConfig(),
		Crypto:  loadCryptoConfig(),
		Session: loadSessionConfig(),
		Admin:   loadAdminBootstrapConfig(),
		Notifx:  loadNotifxConfig(),
		Jobx:    loadJobxConfig(),
	}
}

// ServerConfig configures the HTTP listener and issuer identity.
type ServerConfig struct {
	Port            int
	Issuer          string
	BasePath        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Port:            getEnvInt("SERVER_PORT", 8080),
		Issuer:          getEnv("OAUTH_ISSUER", "http://localhost:8080"),
		BasePath:        getEnv("OAUTH_BASE_PATH", ""),
		ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

// DBConfig configures the Postgres connection pool.
type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func loadDBConfig() DBConfig {
	return DBConfig{
		DSN:             getEnv("DATABASE_URL", "postgres://localhost:5432/manifesto?sslmode=disable"),
		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// RedisConfig configures the blacklist cache / jobx queue backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getEnvInt("REDIS_DB", 0),
	}
}

// CryptoConfig configures the signing key loaded at startup.
type CryptoConfig struct {
	KeyAlg           string // "RS256" or "ES256"
	PrivateKeyPath   string
	BcryptCost       int
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
}

func loadCryptoConfig() CryptoConfig {
	return CryptoConfig{
		KeyAlg:          getEnv("OAUTH_KEY_ALG", "RS256"),
		PrivateKeyPath:  getEnv("OAUTH_PRIVATE_KEY_PATH", "./keys/signing.pem"),
		BcryptCost:      getEnvInt("BCRYPT_COST", 12),
		AccessTokenTTL:  getEnvDuration("OAUTH_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getEnvDuration("OAUTH_REFRESH_TOKEN_TTL", 30*24*time.Hour),
	}
}

// SessionConfig configures browser login sessions.
type SessionConfig struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		CookieName: getEnv("SESSION_COOKIE_NAME", "manifesto_session"),
		TTL:        getEnvDuration("SESSION_TTL", 24*time.Hour),
		Secure:     getEnvBool("SESSION_COOKIE_SECURE", true),
	}
}

// AdminBootstrapConfig configures the first SYSTEM_ADMIN user created by the
// `seed` CLI subcommand on an empty database.
type AdminBootstrapConfig struct {
	Username string
	Email    string
	Password string
}

func loadAdminBootstrapConfig() AdminBootstrapConfig {
	return AdminBootstrapConfig{
		Username: getEnv("ADMIN_BOOTSTRAP_USERNAME", "admin"),
		Email:    getEnv("ADMIN_BOOTSTRAP_EMAIL", "admin@manifesto.local"),
		Password: getEnv("ADMIN_BOOTSTRAP_PASSWORD", ""),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvStringSlice(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
