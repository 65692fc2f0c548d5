package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all server configuration
type Config struct {
	Port            int
	WSPath          string // WebSocket endpoint path advertised by /health
	RedisURL        string
	RedisPassword   string
	MaxSessions     int
	SessionTimeout  time.Duration
	GeminiAPIKey    string
	AllowedOrigins  []string
	HeartbeatPeriod time.Duration // ping interval for client and upstream sockets
	MaxQueuedMsgs   int           // outbound queue capacity while upstream is connecting
	UpstreamURL     string        // upstream live-session WebSocket endpoint
	SessionModel    string        // model requested in the session setup frame
	EditModel       string        // model used by the image-edit collaborator
	EditTimeout     time.Duration
	SetupTimeout    time.Duration // bound on waiting for setupComplete
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:            8080,
		WSPath:          "/ws",
		RedisURL:        "localhost:6379",
		RedisPassword:   "",
		MaxSessions:     100,
		SessionTimeout:  30 * time.Minute,
		AllowedOrigins:  []string{"*"},
		HeartbeatPeriod: 30 * time.Second,
		MaxQueuedMsgs:   64,
		UpstreamURL:     "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
		SessionModel:    "models/gemini-2.0-flash-live-001",
		EditModel:       "models/gemini-2.0-flash-preview-image-generation",
		EditTimeout:     45 * time.Second,
		SetupTimeout:    15 * time.Second,
	}

	// Required: GEMINI_API_KEY
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: WS_PATH
	if path := os.Getenv("WS_PATH"); path != "" {
		if !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("invalid WS_PATH: must start with '/'")
		}
		config.WSPath = path
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: HEARTBEAT_INTERVAL (in seconds)
	if heartbeat := os.Getenv("HEARTBEAT_INTERVAL"); heartbeat != "" {
		h, err := strconv.Atoi(heartbeat)
		if err != nil {
			return nil, fmt.Errorf("invalid HEARTBEAT_INTERVAL: %w", err)
		}
		config.HeartbeatPeriod = time.Duration(h) * time.Second
	}

	// Optional: MAX_QUEUED_MESSAGES
	if queued := os.Getenv("MAX_QUEUED_MESSAGES"); queued != "" {
		q, err := strconv.Atoi(queued)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_QUEUED_MESSAGES: %w", err)
		}
		if q < 1 {
			return nil, fmt.Errorf("invalid MAX_QUEUED_MESSAGES: must be at least 1")
		}
		config.MaxQueuedMsgs = q
	}

	// Optional: UPSTREAM_URL
	if upstream := os.Getenv("UPSTREAM_URL"); upstream != "" {
		config.UpstreamURL = upstream
	}

	// Optional: SESSION_MODEL
	if model := os.Getenv("SESSION_MODEL"); model != "" {
		config.SessionModel = model
	}

	// Optional: EDIT_MODEL
	if model := os.Getenv("EDIT_MODEL"); model != "" {
		config.EditModel = model
	}

	// Optional: EDIT_TIMEOUT (in seconds)
	if timeout := os.Getenv("EDIT_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid EDIT_TIMEOUT: %w", err)
		}
		config.EditTimeout = time.Duration(t) * time.Second
	}

	// Optional: SETUP_TIMEOUT (in seconds)
	if timeout := os.Getenv("SETUP_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SETUP_TIMEOUT: %w", err)
		}
		config.SetupTimeout = time.Duration(t) * time.Second
	}

	return config, nil
}
