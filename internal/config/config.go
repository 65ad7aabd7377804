package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
// The client and the host binary share it; each validates the part it uses.
type Config struct {
	Log     LogConfig
	Client  ClientConfig
	Server  ServerConfig
	Session SessionConfig
	Redis   RedisConfig
	// ArtifactsFile is the JSON document the host serves artifacts from.
	ArtifactsFile string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
	File   string // client only; the terminal UI owns stdout
}

// ClientConfig holds widget client settings.
type ClientConfig struct {
	Transport      string // channel, eventstream, toolhost
	HostURL        string // empty with channel transport runs an in-process host
	RequestTimeout time.Duration
	Modalities     []string
	EventSource    string // sse or redis
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	ViewerEnabled  bool
}

// SessionConfig holds widget session token settings.
type SessionConfig struct {
	Secret string //nolint:gosec // G117: session signing secret config
	TTL    time.Duration
}

// RedisConfig holds Redis connection settings. An empty Addr selects the
// in-process broker.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

var (
	transports   = []string{"channel", "eventstream", "toolhost"} //nolint:gochecknoglobals // allowed values
	eventSources = []string{"sse", "redis"}                       //nolint:gochecknoglobals // allowed values
	logFormats   = []string{"json", "text"}                       //nolint:gochecknoglobals // allowed values
)

// Load reads configuration from environment variables.
// Defaults are safe for local development only.
func Load() (*Config, error) {
	requestTimeout, err := getEnvDuration("MULTIMODAL_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("MULTIMODAL_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	// Tool calls block while an artifact is produced.
	writeTimeout, err := getEnvDuration("MULTIMODAL_SERVER_WRITE_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateRPS, err := getEnvFloat("MULTIMODAL_RATE_LIMIT_RPS", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("MULTIMODAL_RATE_LIMIT_BURST", 40)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	viewerEnabled, err := getEnvBool("MULTIMODAL_VIEWER_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	sessionTTL, err := getEnvDuration("MULTIMODAL_SESSION_TTL", 12*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("MULTIMODAL_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	cfg := &Config{
		Log: LogConfig{
			Level:  getEnv("MULTIMODAL_LOG_LEVEL", "info"),
			Format: strings.ToLower(getEnv("MULTIMODAL_LOG_FORMAT", "json")),
			File:   getEnv("MULTIMODAL_LOG_FILE", "multimodal.log"),
		},
		Client: ClientConfig{
			Transport:      strings.ToLower(getEnv("MULTIMODAL_TRANSPORT", "channel")),
			HostURL:        getEnv("MULTIMODAL_HOST_URL", ""),
			RequestTimeout: requestTimeout,
			Modalities:     getEnvList("MULTIMODAL_MODALITIES", []string{"chart", "description", "table"}),
			EventSource:    strings.ToLower(getEnv("MULTIMODAL_EVENT_SOURCE", "sse")),
		},
		Server: ServerConfig{
			Addr:           getEnv("MULTIMODAL_SERVER_ADDR", ":8080"),
			ReadTimeout:    readTimeout,
			WriteTimeout:   writeTimeout,
			CORSOrigins:    getEnvList("MULTIMODAL_CORS_ORIGINS", []string{"*"}),
			RateLimitRPS:   rateRPS,
			RateLimitBurst: rateBurst,
			ViewerEnabled:  viewerEnabled,
		},
		Session: SessionConfig{
			Secret: getEnv("MULTIMODAL_SESSION_SECRET", ""),
			TTL:    sessionTTL,
		},
		Redis: RedisConfig{
			Addr:     getEnv("MULTIMODAL_REDIS_ADDR", ""),
			Password: getEnv("MULTIMODAL_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		ArtifactsFile: getEnv("MULTIMODAL_ARTIFACTS_FILE", "artifacts.json"),
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks value bounds shared by both binaries.
func (c *Config) validate() error {
	if !slices.Contains(transports, c.Client.Transport) {
		return fmt.Errorf("MULTIMODAL_TRANSPORT must be one of %v, got %q", transports, c.Client.Transport)
	}
	if !slices.Contains(eventSources, c.Client.EventSource) {
		return fmt.Errorf("MULTIMODAL_EVENT_SOURCE must be one of %v, got %q", eventSources, c.Client.EventSource)
	}
	if !slices.Contains(logFormats, c.Log.Format) {
		return fmt.Errorf("MULTIMODAL_LOG_FORMAT must be one of %v, got %q", logFormats, c.Log.Format)
	}
	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("MULTIMODAL_REQUEST_TIMEOUT must be positive, got %s", c.Client.RequestTimeout)
	}
	if len(c.Client.Modalities) == 0 {
		return errors.New("MULTIMODAL_MODALITIES must name at least one modality")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("MULTIMODAL_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("MULTIMODAL_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.RateLimitRPS <= 0 {
		return fmt.Errorf("MULTIMODAL_RATE_LIMIT_RPS must be positive, got %g", c.Server.RateLimitRPS)
	}
	if c.Server.RateLimitBurst < 1 {
		return fmt.Errorf("MULTIMODAL_RATE_LIMIT_BURST must be >= 1, got %d", c.Server.RateLimitBurst)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("MULTIMODAL_SESSION_TTL must be positive, got %s", c.Session.TTL)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("MULTIMODAL_REDIS_DB must be >= 0, got %d", c.Redis.DB)
	}
	return nil
}

// ValidateHost checks the settings only the host binary needs.
func (c *Config) ValidateHost() error {
	// Session secret is required (no insecure default).
	if c.Session.Secret == "" {
		return errors.New("MULTIMODAL_SESSION_SECRET is required")
	}
	if len(c.Session.Secret) < 32 {
		return errors.New("MULTIMODAL_SESSION_SECRET must be at least 32 characters")
	}
	if c.ArtifactsFile == "" {
		return errors.New("MULTIMODAL_ARTIFACTS_FILE is required")
	}
	if slices.Contains(c.Server.CORSOrigins, "*") {
		log.Warn().Msg("MULTIMODAL_CORS_ORIGINS allows any origin; restrict it for production")
	}
	return nil
}

// ValidateClient checks the settings only the client binary needs.
func (c *Config) ValidateClient() error {
	if c.Client.Transport != "channel" && c.Client.HostURL == "" {
		return fmt.Errorf("MULTIMODAL_HOST_URL is required for transport %q", c.Client.Transport)
	}
	if c.Client.Transport == "eventstream" && c.Client.EventSource == "redis" && c.Redis.Addr == "" {
		return errors.New("MULTIMODAL_REDIS_ADDR is required for event source \"redis\"")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
