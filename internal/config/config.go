package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"gateway/pkg/types"
)

// Config is the system-wide settings coordinator.
// Loading happens once at startup; components receive the sections they need.
type Config struct {
	HTTP      *HTTPConfig       `json:"http"`
	Auth      *AuthConfig       `json:"auth"`
	Routes    []types.RouteRule `json:"routes"`
	RateLimit *RateLimitConfig  `json:"rate_limit"`
	Proxy     *ProxyConfig      `json:"proxy"`
	WebSocket *WebSocketConfig  `json:"websocket"`
	CORS      *CORSConfig       `json:"cors"`
	Audit     *AuditConfig      `json:"audit"`
	Log       *LogConfig        `json:"log"`
}

// HTTPConfig controls the single public listener
type HTTPConfig struct {
	Port              int           `json:"port"`
	Host              string        `json:"host"`
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	TrustProxyHeaders bool          `json:"trust_proxy_headers"`
}

// AuthConfig holds the shared secrets of both credential schemes
type AuthConfig struct {
	JWTSecret           string `json:"jwt_secret"`
	LegacySecret        string `json:"legacy_secret"`
	JWKSURL             string `json:"jwks_url"`
	Issuer              string `json:"issuer"`
	Audience            string `json:"audience"`
	CookieName          string `json:"cookie_name"`
	RequireRealtimeAuth bool   `json:"require_realtime_auth"`
	// AuditSubjects may read the journal; empty closes /internal/audit
	AuditSubjects []string `json:"audit_subjects"`
}

// RateLimitConfig describes the global API throttle and optional edge route policies
type RateLimitConfig struct {
	Window          time.Duration `json:"window"`
	MaxRequests     int           `json:"max_requests"`
	Store           string        `json:"store"`
	RedisAddr       string        `json:"redis_addr"`
	FailOpen        bool          `json:"fail_open"`
	CleanupInterval time.Duration `json:"cleanup_interval"`
	Routes          []RoutePolicy `json:"routes"`
}

// RoutePolicy is an additional named limiter applied to a path prefix
type RoutePolicy struct {
	Name        string        `json:"name"`
	PathPrefix  string        `json:"path_prefix"`
	Window      time.Duration `json:"window"`
	MaxRequests int           `json:"max_requests"`
}

// ProxyConfig bounds upstream round-trips
type ProxyConfig struct {
	DialTimeout           time.Duration `json:"dial_timeout"`
	ResponseHeaderTimeout time.Duration `json:"response_header_timeout"`
}

// WebSocketConfig controls realtime connection liveness and fairness
type WebSocketConfig struct {
	PingInterval      time.Duration `json:"ping_interval"`
	PongWait          time.Duration `json:"pong_wait"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	BufferSize        int           `json:"buffer_size"`
	MaxMessageSize    int64         `json:"max_message_size"`
	UpgradesPerMinute int           `json:"upgrades_per_minute"`
	UpgradeBurst      int           `json:"upgrade_burst"`
}

// CORSConfig lists browser origins allowed to call the gateway with credentials.
// Localhost and the gateway's own host are always trusted; "*" admits any
// other origin without credentials.
type CORSConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
}

// AuditConfig controls the SQLite event journal
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	BufferSize int    `json:"buffer_size"`
}

// LogConfig selects zap level and encoding
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Rate limit store kinds
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// DefaultRoutes returns the public API routing table.
// The auth prefix is the only one reachable without a credential.
func DefaultRoutes() []types.RouteRule {
	return []types.RouteRule{
		{Service: "auth", PathPrefix: "/api/auth", UpstreamBaseURL: "http://localhost:3001", RequiresAuth: false},
		{Service: "crm", PathPrefix: "/api/crm", UpstreamBaseURL: "http://localhost:3002", RequiresAuth: true},
		{Service: "erp", PathPrefix: "/api/erp", UpstreamBaseURL: "http://localhost:3003", RequiresAuth: true},
		{Service: "ai", PathPrefix: "/api/ai", UpstreamBaseURL: "http://localhost:3004", RequiresAuth: true},
		{Service: "analytics", PathPrefix: "/api/analytics", UpstreamBaseURL: "http://localhost:3005", RequiresAuth: true},
		{Service: "marketplace", PathPrefix: "/api/marketplace", UpstreamBaseURL: "http://localhost:3006", RequiresAuth: true},
	}
}

// DefaultConfig returns production defaults.
// Secrets are empty and must be supplied before Validate passes.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Port:         4000,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Auth: &AuthConfig{
			CookieName:          "token",
			RequireRealtimeAuth: true,
		},
		Routes: DefaultRoutes(),
		RateLimit: &RateLimitConfig{
			Window:          15 * time.Minute,
			MaxRequests:     100,
			Store:           StoreMemory,
			CleanupInterval: time.Minute,
		},
		Proxy: &ProxyConfig{
			DialTimeout:           5 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:      30 * time.Second,
			PongWait:          60 * time.Second,
			WriteTimeout:      10 * time.Second,
			BufferSize:        256,
			MaxMessageSize:    1 << 20,
			UpgradesPerMinute: 30,
			UpgradeBurst:      10,
		},
		CORS: &CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Audit: &AuditConfig{
			Enabled:    true,
			Path:       "./gateway-audit.db",
			BufferSize: 1024,
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects configurations that would fail at runtime
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 || c.HTTP.IdleTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if c.Auth.JWTSecret == "" && c.Auth.JWKSURL == "" {
		return fmt.Errorf("auth jwt secret or jwks url is required")
	}
	if c.Auth.JWTSecret == "" && c.Auth.LegacySecret == "" {
		return fmt.Errorf("auth legacy secret is required when no jwt secret is set")
	}
	if c.Auth.CookieName == "" {
		return fmt.Errorf("auth cookie name cannot be empty")
	}

	if err := validateRoutes(c.Routes); err != nil {
		return err
	}

	if c.RateLimit == nil {
		return fmt.Errorf("rate limit configuration is required")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rate limit window and max requests must be positive")
	}
	if c.RateLimit.CleanupInterval <= 0 {
		return fmt.Errorf("rate limit cleanup interval must be positive")
	}
	switch c.RateLimit.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RateLimit.RedisAddr == "" {
			return fmt.Errorf("rate limit redis store requires redis_addr")
		}
	default:
		return fmt.Errorf("unknown rate limit store %q", c.RateLimit.Store)
	}
	for _, p := range c.RateLimit.Routes {
		if p.Name == "" || !strings.HasPrefix(p.PathPrefix, "/") {
			return fmt.Errorf("rate limit route policy needs a name and an absolute path prefix")
		}
		if p.Window <= 0 || p.MaxRequests <= 0 {
			return fmt.Errorf("rate limit route policy %q must have positive window and max requests", p.Name)
		}
	}

	if c.Proxy == nil {
		return fmt.Errorf("proxy configuration is required")
	}
	if c.Proxy.DialTimeout <= 0 || c.Proxy.ResponseHeaderTimeout <= 0 {
		return fmt.Errorf("proxy timeouts must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.PongWait <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket pong wait must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if c.WebSocket.UpgradesPerMinute <= 0 || c.WebSocket.UpgradeBurst <= 0 {
		return fmt.Errorf("WebSocket upgrade throttle must be positive")
	}

	if c.CORS == nil {
		return fmt.Errorf("CORS configuration is required")
	}

	if c.Audit == nil {
		return fmt.Errorf("audit configuration is required")
	}
	if c.Audit.Enabled && (c.Audit.Path == "" || c.Audit.BufferSize <= 0) {
		return fmt.Errorf("audit journal requires a path and a positive buffer size")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}

	return nil
}

func validateRoutes(routes []types.RouteRule) error {
	if len(routes) == 0 {
		return fmt.Errorf("at least one route is required")
	}
	seen := make(map[string]bool, len(routes))
	for _, r := range routes {
		if r.Service == "" {
			return fmt.Errorf("route %q has no service name", r.PathPrefix)
		}
		if !strings.HasPrefix(r.PathPrefix, "/") || strings.HasSuffix(r.PathPrefix, "/") {
			return fmt.Errorf("route prefix %q must start with '/' and not end with '/'", r.PathPrefix)
		}
		if seen[r.PathPrefix] {
			return fmt.Errorf("duplicate route prefix %q", r.PathPrefix)
		}
		seen[r.PathPrefix] = true

		u, err := url.Parse(r.UpstreamBaseURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("route %q has invalid upstream url %q", r.PathPrefix, r.UpstreamBaseURL)
		}
	}
	return nil
}

// LegacySecretOrDefault returns the legacy triplet secret, falling back to the JWT secret
func (a *AuthConfig) LegacySecretOrDefault() string {
	if a.LegacySecret != "" {
		return a.LegacySecret
	}
	return a.JWTSecret
}

// Addr returns the listen address
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// LoadFromEnv applies GATEWAY_* environment variables over the defaults
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	if port := os.Getenv("GATEWAY_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	} else if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("GATEWAY_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	setDuration("GATEWAY_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	setDuration("GATEWAY_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	setDuration("GATEWAY_HTTP_IDLE_TIMEOUT", &config.HTTP.IdleTimeout)
	setBool("GATEWAY_TRUST_PROXY_HEADERS", &config.HTTP.TrustProxyHeaders)

	setString("GATEWAY_JWT_SECRET", &config.Auth.JWTSecret)
	setString("GATEWAY_LEGACY_SECRET", &config.Auth.LegacySecret)
	setString("GATEWAY_JWKS_URL", &config.Auth.JWKSURL)
	setString("GATEWAY_JWT_ISSUER", &config.Auth.Issuer)
	setString("GATEWAY_JWT_AUDIENCE", &config.Auth.Audience)
	setString("GATEWAY_AUTH_COOKIE", &config.Auth.CookieName)
	setBool("GATEWAY_REQUIRE_REALTIME_AUTH", &config.Auth.RequireRealtimeAuth)
	if subjects := os.Getenv("GATEWAY_AUDIT_SUBJECTS"); subjects != "" {
		config.Auth.AuditSubjects = splitList(subjects)
	}

	// GATEWAY_UPSTREAM_<SERVICE> overrides the upstream of an existing route
	for i := range config.Routes {
		key := "GATEWAY_UPSTREAM_" + strings.ToUpper(config.Routes[i].Service)
		setString(key, &config.Routes[i].UpstreamBaseURL)
	}

	setDuration("GATEWAY_RATE_LIMIT_WINDOW", &config.RateLimit.Window)
	setInt("GATEWAY_RATE_LIMIT_MAX", &config.RateLimit.MaxRequests)
	setString("GATEWAY_RATE_LIMIT_STORE", &config.RateLimit.Store)
	setString("GATEWAY_REDIS_ADDR", &config.RateLimit.RedisAddr)
	setBool("GATEWAY_RATE_LIMIT_FAIL_OPEN", &config.RateLimit.FailOpen)

	setDuration("GATEWAY_PROXY_DIAL_TIMEOUT", &config.Proxy.DialTimeout)
	setDuration("GATEWAY_PROXY_RESPONSE_TIMEOUT", &config.Proxy.ResponseHeaderTimeout)

	setDuration("GATEWAY_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	setDuration("GATEWAY_WEBSOCKET_PONG_WAIT", &config.WebSocket.PongWait)
	setDuration("GATEWAY_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	setInt("GATEWAY_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)

	if origins := os.Getenv("GATEWAY_ALLOWED_ORIGINS"); origins != "" {
		config.CORS.AllowedOrigins = splitList(origins)
	}

	setBool("GATEWAY_AUDIT_ENABLED", &config.Audit.Enabled)
	setString("GATEWAY_AUDIT_PATH", &config.Audit.Path)

	setString("GATEWAY_LOG_LEVEL", &config.Log.Level)
	setString("GATEWAY_LOG_FORMAT", &config.Log.Format)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ConfigFile represents the JSON structure for file-based configuration.
// Durations are strings in time.ParseDuration syntax.
type ConfigFile struct {
	HTTP *struct {
		Port              int    `json:"port"`
		Host              string `json:"host"`
		ReadTimeout       string `json:"read_timeout"`
		WriteTimeout      string `json:"write_timeout"`
		IdleTimeout       string `json:"idle_timeout"`
		TrustProxyHeaders *bool  `json:"trust_proxy_headers"`
	} `json:"http"`
	Auth *struct {
		JWTSecret           string `json:"jwt_secret"`
		LegacySecret        string `json:"legacy_secret"`
		JWKSURL             string `json:"jwks_url"`
		Issuer              string `json:"issuer"`
		Audience            string `json:"audience"`
		CookieName          string   `json:"cookie_name"`
		RequireRealtimeAuth *bool    `json:"require_realtime_auth"`
		AuditSubjects       []string `json:"audit_subjects"`
	} `json:"auth"`
	Routes    []types.RouteRule `json:"routes"`
	RateLimit *struct {
		Window          string `json:"window"`
		MaxRequests     int    `json:"max_requests"`
		Store           string `json:"store"`
		RedisAddr       string `json:"redis_addr"`
		FailOpen        *bool  `json:"fail_open"`
		CleanupInterval string `json:"cleanup_interval"`
		Routes          []struct {
			Name        string `json:"name"`
			PathPrefix  string `json:"path_prefix"`
			Window      string `json:"window"`
			MaxRequests int    `json:"max_requests"`
		} `json:"routes"`
	} `json:"rate_limit"`
	Proxy *struct {
		DialTimeout           string `json:"dial_timeout"`
		ResponseHeaderTimeout string `json:"response_header_timeout"`
	} `json:"proxy"`
	WebSocket *struct {
		PingInterval      string `json:"ping_interval"`
		PongWait          string `json:"pong_wait"`
		WriteTimeout      string `json:"write_timeout"`
		BufferSize        int    `json:"buffer_size"`
		MaxMessageSize    int64  `json:"max_message_size"`
		UpgradesPerMinute int    `json:"upgrades_per_minute"`
		UpgradeBurst      int    `json:"upgrade_burst"`
	} `json:"websocket"`
	CORS *struct {
		AllowedOrigins []string `json:"allowed_origins"`
	} `json:"cors"`
	Audit *struct {
		Enabled    *bool  `json:"enabled"`
		Path       string `json:"path"`
		BufferSize int    `json:"buffer_size"`
	} `json:"audit"`
	Log *struct {
		Level  string `json:"level"`
		Format string `json:"format"`
	} `json:"log"`
}

// LoadFromFile reads a JSON configuration file over the defaults
func LoadFromFile(filepath string) (*Config, error) {
	config, err := loadFile(filepath)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func loadFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()
	if err := file.apply(config); err != nil {
		return nil, fmt.Errorf("invalid value in %s: %w", filepath, err)
	}
	return config, nil
}

func (f *ConfigFile) apply(config *Config) error {
	if f.HTTP != nil {
		if f.HTTP.Port > 0 {
			config.HTTP.Port = f.HTTP.Port
		}
		if f.HTTP.Host != "" {
			config.HTTP.Host = f.HTTP.Host
		}
		if err := parseDuration(f.HTTP.ReadTimeout, &config.HTTP.ReadTimeout); err != nil {
			return err
		}
		if err := parseDuration(f.HTTP.WriteTimeout, &config.HTTP.WriteTimeout); err != nil {
			return err
		}
		if err := parseDuration(f.HTTP.IdleTimeout, &config.HTTP.IdleTimeout); err != nil {
			return err
		}
		if f.HTTP.TrustProxyHeaders != nil {
			config.HTTP.TrustProxyHeaders = *f.HTTP.TrustProxyHeaders
		}
	}

	if f.Auth != nil {
		if f.Auth.JWTSecret != "" {
			config.Auth.JWTSecret = f.Auth.JWTSecret
		}
		if f.Auth.LegacySecret != "" {
			config.Auth.LegacySecret = f.Auth.LegacySecret
		}
		if f.Auth.JWKSURL != "" {
			config.Auth.JWKSURL = f.Auth.JWKSURL
		}
		if f.Auth.Issuer != "" {
			config.Auth.Issuer = f.Auth.Issuer
		}
		if f.Auth.Audience != "" {
			config.Auth.Audience = f.Auth.Audience
		}
		if f.Auth.CookieName != "" {
			config.Auth.CookieName = f.Auth.CookieName
		}
		if f.Auth.RequireRealtimeAuth != nil {
			config.Auth.RequireRealtimeAuth = *f.Auth.RequireRealtimeAuth
		}
		if len(f.Auth.AuditSubjects) > 0 {
			config.Auth.AuditSubjects = f.Auth.AuditSubjects
		}
	}

	if len(f.Routes) > 0 {
		config.Routes = f.Routes
	}

	if f.RateLimit != nil {
		if err := parseDuration(f.RateLimit.Window, &config.RateLimit.Window); err != nil {
			return err
		}
		if f.RateLimit.MaxRequests > 0 {
			config.RateLimit.MaxRequests = f.RateLimit.MaxRequests
		}
		if f.RateLimit.Store != "" {
			config.RateLimit.Store = f.RateLimit.Store
		}
		if f.RateLimit.RedisAddr != "" {
			config.RateLimit.RedisAddr = f.RateLimit.RedisAddr
		}
		if f.RateLimit.FailOpen != nil {
			config.RateLimit.FailOpen = *f.RateLimit.FailOpen
		}
		if err := parseDuration(f.RateLimit.CleanupInterval, &config.RateLimit.CleanupInterval); err != nil {
			return err
		}
		for _, r := range f.RateLimit.Routes {
			policy := RoutePolicy{Name: r.Name, PathPrefix: r.PathPrefix, MaxRequests: r.MaxRequests}
			if err := parseDuration(r.Window, &policy.Window); err != nil {
				return err
			}
			config.RateLimit.Routes = append(config.RateLimit.Routes, policy)
		}
	}

	if f.Proxy != nil {
		if err := parseDuration(f.Proxy.DialTimeout, &config.Proxy.DialTimeout); err != nil {
			return err
		}
		if err := parseDuration(f.Proxy.ResponseHeaderTimeout, &config.Proxy.ResponseHeaderTimeout); err != nil {
			return err
		}
	}

	if f.WebSocket != nil {
		if err := parseDuration(f.WebSocket.PingInterval, &config.WebSocket.PingInterval); err != nil {
			return err
		}
		if err := parseDuration(f.WebSocket.PongWait, &config.WebSocket.PongWait); err != nil {
			return err
		}
		if err := parseDuration(f.WebSocket.WriteTimeout, &config.WebSocket.WriteTimeout); err != nil {
			return err
		}
		if f.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = f.WebSocket.BufferSize
		}
		if f.WebSocket.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.WebSocket.MaxMessageSize
		}
		if f.WebSocket.UpgradesPerMinute > 0 {
			config.WebSocket.UpgradesPerMinute = f.WebSocket.UpgradesPerMinute
		}
		if f.WebSocket.UpgradeBurst > 0 {
			config.WebSocket.UpgradeBurst = f.WebSocket.UpgradeBurst
		}
	}

	if f.CORS != nil {
		config.CORS.AllowedOrigins = f.CORS.AllowedOrigins
	}

	if f.Audit != nil {
		if f.Audit.Enabled != nil {
			config.Audit.Enabled = *f.Audit.Enabled
		}
		if f.Audit.Path != "" {
			config.Audit.Path = f.Audit.Path
		}
		if f.Audit.BufferSize > 0 {
			config.Audit.BufferSize = f.Audit.BufferSize
		}
	}

	if f.Log != nil {
		if f.Log.Level != "" {
			config.Log.Level = f.Log.Level
		}
		if f.Log.Format != "" {
			config.Log.Format = f.Log.Format
		}
	}

	return nil
}

func parseDuration(raw string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("bad duration %q: %w", raw, err)
	}
	*dst = d
	return nil
}

// LoadConfigWithPrecedence loads configuration with precedence file > environment > defaults.
// The two shared secrets are the exception: GATEWAY_JWT_SECRET and
// GATEWAY_LEGACY_SECRET override the file so secrets never have to be written
// into it. A .env file in the working directory seeds the environment first;
// variables already set in the process environment are not overridden.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	// Missing .env is the normal case outside local development
	_ = godotenv.Load()

	var config *Config
	if filepath != "" {
		fileConfig, err := loadFile(filepath)
		if err != nil {
			return nil, err
		}
		// Secrets stay injectable through the environment even with a file
		setString("GATEWAY_JWT_SECRET", &fileConfig.Auth.JWTSecret)
		setString("GATEWAY_LEGACY_SECRET", &fileConfig.Auth.LegacySecret)
		config = fileConfig
	} else {
		config = LoadFromEnv()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
