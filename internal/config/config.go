package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PlatformCredentials holds one provider's OAuth client registration.
type PlatformCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Configured reports whether the platform can be used at all.
func (c PlatformCredentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RedirectURI != ""
}

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StateSigningKey  string
	SessionJWTSecret string
	StateTTL         time.Duration

	SuccessRedirectURL string
	FailureRedirectURL string

	Twitter   PlatformCredentials
	LinkedIn  PlatformCredentials
	Facebook  PlatformCredentials
	Instagram PlatformCredentials

	RefreshLeadTime time.Duration
	ProviderTimeout time.Duration

	RateLimitRPM      int
	TelemetryEndpoint string
	TelemetryInsecure bool

	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	signingKey := strings.TrimSpace(os.Getenv("OAUTH_STATE_SIGNING_KEY"))
	if signingKey == "" {
		return Config{}, fmt.Errorf("OAUTH_STATE_SIGNING_KEY is required")
	}
	sessionSecret := strings.TrimSpace(os.Getenv("SESSION_JWT_SECRET"))
	if sessionSecret == "" {
		return Config{}, fmt.Errorf("SESSION_JWT_SECRET is required")
	}

	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "vibetribe-integrations"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		StateSigningKey:  signingKey,
		SessionJWTSecret: sessionSecret,
		StateTTL:         getDuration("OAUTH_STATE_TTL", 10*time.Minute),

		SuccessRedirectURL: getEnv("OAUTH_SUCCESS_REDIRECT_URL", "http://localhost:3000/integrations/connected"),
		FailureRedirectURL: getEnv("OAUTH_FAILURE_REDIRECT_URL", "http://localhost:3000/integrations/failed"),

		Twitter:   loadPlatformCredentials("TWITTER"),
		LinkedIn:  loadPlatformCredentials("LINKEDIN"),
		Facebook:  loadPlatformCredentials("FACEBOOK"),
		Instagram: loadPlatformCredentials("INSTAGRAM"),

		RefreshLeadTime: getDuration("TOKEN_REFRESH_LEAD_TIME", 5*time.Minute),
		ProviderTimeout: getDuration("PROVIDER_HTTP_TIMEOUT", 10*time.Second),

		RateLimitRPM:      getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),

		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func loadPlatformCredentials(prefix string) PlatformCredentials {
	return PlatformCredentials{
		ClientID:     strings.TrimSpace(os.Getenv(prefix + "_CLIENT_ID")),
		ClientSecret: strings.TrimSpace(os.Getenv(prefix + "_CLIENT_SECRET")),
		RedirectURI:  strings.TrimSpace(os.Getenv(prefix + "_REDIRECT_URI")),
	}
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
