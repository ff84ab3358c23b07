package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/validation-portal/utils"
)

// ErrConfiguration is returned when required settings are missing or invalid.
// It is fatal at startup and never produced per request.
var ErrConfiguration = errors.New("configuration error")

// Session strategies. Each matches one deployment topology of the portal.
const (
	// StrategyToken stores the provider access token in the credential cookie
	StrategyToken = "token"
	// StrategyServer stores a locally minted session id; the username lives server-side
	StrategyServer = "server"
	// StrategyHybrid sets both cookies and accepts either on protected requests
	StrategyHybrid = "hybrid"
)

// State binding modes for the authorization state value.
const (
	StateBindingNone   = "none"
	StateBindingMemory = "memory"
	StateBindingRedis  = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	OIDC          OIDCConfig
	Session       SessionConfig
	Redis         RedisConfig
	CORS          CORSConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int `validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// APIPrefix is prepended to every auth and collaborator route
	APIPrefix string
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	AutoMigrate      bool
}

// OIDCConfig holds the identity provider (relying party) configuration
type OIDCConfig struct {
	IssuerURL             string `validate:"required,url"`
	ClientID              string `validate:"required"`
	ClientSecret          string `validate:"required"`
	RedirectURI           string `validate:"required,url"` // OAuth2 callback URL registered with the provider
	Audience              string `validate:"required"`     // Access-token audience (API audience)
	AuthorizationEndpoint string `validate:"required,url"`
	TokenEndpoint         string `validate:"required,url"`
	Scopes                []string
	HTTPTimeout           time.Duration `validate:"gt=0"`
	JWKSCacheTTL          time.Duration
	JWKSMinRefresh        time.Duration
	Leeway                time.Duration
}

// SessionConfig holds cookie and session-issuance settings
type SessionConfig struct {
	Strategy           string `validate:"oneof=token server hybrid"`
	SameSite           string `validate:"oneof=lax none strict"`
	Secure             bool
	CookieDomain       string
	MaxAge             time.Duration `validate:"gt=0"`
	StateMaxAge        time.Duration `validate:"gt=0,lte=5m"`
	StateBinding       string        `validate:"oneof=none memory redis"`
	FrontEndURL        string        `validate:"required,url"` // Post-login and post-logout redirect base (FRONTEND_URL)
	LandingPath        string
	LogoutRedirectPath string
}

// RedisConfig holds Redis connection settings for server-side state and sessions.
type RedisConfig struct {
	URL       string
	KeyPrefix string
}

// CORSConfig holds allowed browser origins
type CORSConfig struct {
	AllowedOrigins []string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"required,oneof=debug info warn error"`
	LogFormat      string `validate:"oneof=json text"` // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	issuer := normalizeIssuer(getEnv("KINDE_ISSUER_URL", ""))
	clientID := getEnv("CLIENT_ID", "")
	frontEnd := strings.TrimSuffix(getEnv("FRONTEND_URL", ""), "/")
	redisURL := getEnv("REDIS_URL", "")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			APIPrefix:       getEnv("API_PREFIX", "/api"),
		},
		Database: loadDatabaseConfig(),
		OIDC: OIDCConfig{
			IssuerURL:    issuer,
			ClientID:     clientID,
			ClientSecret: getEnv("CLIENT_SECRET", ""),
			RedirectURI:  getEnv("KINDE_CALLBACK_URL", ""),
			// The original deployment falls back to the client id when no API audience is set
			Audience:              getEnv("KINDE_AUDIENCE", clientID),
			AuthorizationEndpoint: getEnv("OIDC_AUTHORIZATION_ENDPOINT", endpoint(issuer, "/oauth2/auth")),
			TokenEndpoint:         getEnv("OIDC_TOKEN_ENDPOINT", endpoint(issuer, "/oauth2/token")),
			Scopes:                getEnvAsList("OIDC_SCOPES", []string{"openid", "profile", "email"}),
			HTTPTimeout:           getEnvAsDuration("OIDC_HTTP_TIMEOUT", 10*time.Second),
			JWKSCacheTTL:          getEnvAsDuration("JWKS_CACHE_TTL", time.Hour),
			JWKSMinRefresh:        getEnvAsDuration("JWKS_MIN_REFRESH_INTERVAL", 30*time.Second),
			Leeway:                getEnvAsDuration("TOKEN_LEEWAY", 0),
		},
		Session: SessionConfig{
			Strategy:           getEnv("SESSION_STRATEGY", StrategyToken),
			SameSite:           strings.ToLower(getEnv("COOKIE_SAMESITE", "lax")),
			Secure:             getEnvAsBool("COOKIE_SECURE", true),
			CookieDomain:       getEnv("COOKIE_DOMAIN", ""),
			MaxAge:             getEnvAsDuration("SESSION_MAX_AGE", time.Hour),
			StateMaxAge:        getEnvAsDuration("STATE_MAX_AGE", 5*time.Minute),
			StateBinding:       getEnv("STATE_BINDING", defaultStateBinding(redisURL)),
			FrontEndURL:        frontEnd,
			LandingPath:        getEnv("LANDING_PATH", "/dashboard"),
			LogoutRedirectPath: getEnv("LOGOUT_REDIRECT_PATH", "/"),
		},
		Redis: RedisConfig{
			URL:       redisURL,
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "portal:auth:"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{frontEnd, "http://localhost:5173"}),
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database validation (DATABASE_URL or DB_* vars)
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		return fmt.Errorf("%w: database configuration required: set DATABASE_URL or DB_HOST", ErrConfiguration)
	}
	if c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("%w: database user is required", ErrConfiguration)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("%w: database name is required", ErrConfiguration)
		}
	}

	for _, section := range []interface{}{&c.Server, &c.OIDC, &c.Session, &c.Observability} {
		if err := utils.ValidateStruct(section); err != nil {
			return fmt.Errorf("%w: %s", ErrConfiguration, describeValidation(err))
		}
	}

	// Browsers drop SameSite=None cookies that are not Secure
	if c.Session.SameSite == "none" && !c.Session.Secure {
		return fmt.Errorf("%w: COOKIE_SAMESITE=none requires COOKIE_SECURE=true", ErrConfiguration)
	}

	if c.Session.StateBinding == StateBindingRedis && c.Redis.URL == "" {
		return fmt.Errorf("%w: STATE_BINDING=redis requires REDIS_URL", ErrConfiguration)
	}
	if c.Session.Strategy != StrategyToken && c.Redis.URL == "" && c.IsProduction() {
		return fmt.Errorf("%w: SESSION_STRATEGY=%s requires REDIS_URL in production", ErrConfiguration, c.Session.Strategy)
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// LandingURL is where the browser goes after a successful login.
func (c *SessionConfig) LandingURL() string {
	return joinURL(c.FrontEndURL, c.LandingPath)
}

// LogoutURL is the public page shown after logout.
func (c *SessionConfig) LogoutURL() string {
	return joinURL(c.FrontEndURL, c.LogoutRedirectPath)
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		// CockroachDB SQLAlchemy-style URLs are plain postgres URLs for lib/pq
		return strings.Replace(c.ConnectionString, "cockroachdb+psycopg2://", "postgresql://", 1)
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.DSN())
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			AutoMigrate:      getEnvAsBool("DB_AUTO_MIGRATE", false),
		}
	}
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", ""),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", ""),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", ""),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		AutoMigrate:     getEnvAsBool("DB_AUTO_MIGRATE", false),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// normalizeIssuer accepts both "tenant.kinde.com" and "https://tenant.kinde.com/"
func normalizeIssuer(raw string) string {
	raw = strings.TrimSuffix(strings.TrimSpace(raw), "/")
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "https://") && !strings.HasPrefix(raw, "http://") {
		raw = "https://" + raw
	}
	return raw
}

func endpoint(issuer, path string) string {
	if issuer == "" {
		return ""
	}
	return issuer + path
}

func joinURL(base, path string) string {
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimSuffix(base, "/") + path
}

func defaultStateBinding(redisURL string) string {
	if redisURL != "" {
		return StateBindingRedis
	}
	return StateBindingMemory
}

func describeValidation(err error) string {
	fields := utils.GetValidationFields(err)
	if len(fields) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(fields))
	for _, msg := range fields {
		parts = append(parts, msg)
	}
	return strings.Join(parts, "; ")
}

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated value, dropping empty entries
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return compact(defaultValue)
	}
	parts := strings.FieldsFunc(valueStr, func(r rune) bool { return r == ',' || r == ' ' })
	return compact(parts)
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
