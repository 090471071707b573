// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port         int
	BaseURL      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Authentication
	APIPassword string

	// Upstream transport settings
	GlobalProxies   []string
	TransportRoutes []TransportRoute

	// Fetch bounds
	PageTimeout    time.Duration
	SegmentTimeout time.Duration
	WorkerTimeout  time.Duration

	// Header-injection worker cache
	HeaderTTL       time.Duration
	HeaderCacheSize int

	// Provider selection
	DefaultProvider string
	ProviderOrder   []string

	// Requests per minute per client on /resolve and /iframe. 0 disables.
	ResolveRateLimit int

	// Path prefix the rewriter points media URIs at.
	ProxyPath string

	// Logging
	LogLevel string
	LogJSON  bool

	// FlareSolverr settings (for Cloudflare bypass)
	FlareSolverrURL     string
	FlareSolverrTimeout time.Duration

	// Progress checkpoint store
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// TransportRoute defines URL-specific proxy routing.
type TransportRoute struct {
	URLPattern string
	Proxy      string
	DisableSSL bool
	Direct     bool // If true, bypass global proxy and connect directly
}

// Load reads configuration from an optional .env file and the environment.
func Load() *Config {
	// A missing .env is normal in container deployments.
	_ = godotenv.Load()

	port := getEnvInt("PORT", 7860)
	cfg := &Config{
		Port:                port,
		BaseURL:             getEnvString("BASE_URL", fmt.Sprintf("http://localhost:%d", port)),
		ReadTimeout:         getEnvDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        getEnvDuration("WRITE_TIMEOUT", 0),
		IdleTimeout:         getEnvDuration("IDLE_TIMEOUT", 60*time.Second),
		APIPassword:         os.Getenv("API_PASSWORD"),
		GlobalProxies:       getEnvStringSlice("GLOBAL_PROXIES", nil),
		PageTimeout:         getEnvDuration("PAGE_TIMEOUT", 12*time.Second),
		SegmentTimeout:      getEnvDuration("SEGMENT_TIMEOUT", 60*time.Second),
		WorkerTimeout:       getEnvDuration("WORKER_TIMEOUT", 12*time.Second),
		HeaderTTL:           getEnvDuration("HEADER_TTL", 14400*time.Second),
		HeaderCacheSize:     getEnvInt("HEADER_CACHE_SIZE", 512),
		DefaultProvider:     getEnvString("DEFAULT_PROVIDER", "vidfast"),
		ProviderOrder:       getEnvStringSlice("PROVIDER_ORDER", []string{"vidfast", "videasy"}),
		ResolveRateLimit:    getEnvInt("RESOLVE_RATE_LIMIT", 60),
		ProxyPath:           getEnvString("PROXY_PATH_PREFIX", "/proxy"),
		LogLevel:            getEnvString("LOG_LEVEL", "info"),
		LogJSON:             getEnvBool("LOG_JSON", false),
		FlareSolverrURL:     getEnvString("FLARESOLVERR_URL", ""),
		FlareSolverrTimeout: getEnvDuration("FLARESOLVERR_TIMEOUT", 60*time.Second),
		RedisAddr:           getEnvString("REDIS_ADDR", ""),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		RedisDB:             getEnvInt("REDIS_DB", 0),
	}

	cfg.TransportRoutes = parseTransportRoutes(os.Getenv("TRANSPORT_ROUTES"))

	// Legacy single proxy support
	if globalProxy := os.Getenv("GLOBAL_PROXY"); globalProxy != "" && len(cfg.GlobalProxies) == 0 {
		cfg.GlobalProxies = []string{globalProxy}
	}

	return cfg
}

// Defaults returns a configuration with every default applied and nothing
// read from the environment. Used by tests and the one-shot CLI commands.
func Defaults() *Config {
	return &Config{
		Port:                7860,
		BaseURL:             "http://localhost:7860",
		ReadTimeout:         30 * time.Second,
		IdleTimeout:         60 * time.Second,
		PageTimeout:         12 * time.Second,
		SegmentTimeout:      60 * time.Second,
		WorkerTimeout:       12 * time.Second,
		HeaderTTL:           14400 * time.Second,
		HeaderCacheSize:     512,
		DefaultProvider:     "vidfast",
		ProviderOrder:       []string{"vidfast", "videasy"},
		ProxyPath:           "/proxy",
		LogLevel:            "info",
		FlareSolverrTimeout: 60 * time.Second,
	}
}

// parseTransportRoutes parses the TRANSPORT_ROUTES env var.
// Format: {URL=pattern, PROXY=url, DISABLE_SSL=true}, {URL=pattern2}
func parseTransportRoutes(s string) []TransportRoute {
	if s == "" {
		return nil
	}

	var routes []TransportRoute
	s = strings.TrimSpace(s)

	parts := strings.Split(s, "}, {")
	for _, part := range parts {
		part = strings.Trim(part, "{} ")
		if part == "" {
			continue
		}

		route := TransportRoute{}
		for _, field := range strings.Split(part, ", ") {
			kv := strings.SplitN(field, "=", 2)
			if len(kv) != 2 {
				continue
			}
			key := strings.TrimSpace(kv[0])
			value := strings.TrimSpace(kv[1])

			switch strings.ToUpper(key) {
			case "URL":
				route.URLPattern = value
			case "PROXY":
				route.Proxy = value
			case "DISABLE_SSL":
				route.DisableSSL = strings.ToLower(value) == "true"
			case "DIRECT":
				route.Direct = strings.ToLower(value) == "true"
			}
		}
		if route.URLPattern != "" {
			routes = append(routes, route)
		}
	}

	return routes
}

func getEnvString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return strings.ToLower(val) == "true" || val == "1"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		// Plain integers are seconds
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, strings.ToLower(trimmed))
			}
		}
		return result
	}
	return defaultVal
}
