package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the negotiation voice service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	SessionInactivityTimeout time.Duration
	SessionInitTimeout       time.Duration

	VoiceProvider string

	ElevenLabsAPIKey       string
	ElevenLabsBaseURL      string
	ElevenLabsWSBaseURL    string
	ElevenLabsModelID      string
	ElevenLabsOutputFormat string
	ConvAIAgentID          string

	SynthesisTimeout time.Duration

	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration
	BreakerMonitoringWindow time.Duration

	AudioChunkSize      int
	ChunkPacing         time.Duration
	AssessmentQueueSize int

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "parley"),
		AllowAnyOrigin:   false,
		VoiceProvider:    envOrDefault("VOICE_PROVIDER", "auto"),

		ElevenLabsBaseURL:   envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsWSBaseURL: envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		// Fastest model for real-time conversation turns.
		ElevenLabsModelID:      envOrDefault("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),
		ElevenLabsOutputFormat: envOrDefault("ELEVENLABS_OUTPUT_FORMAT", "mp3_44100_128"),
		ConvAIAgentID:          stringsTrimSpace("ELEVENLABS_AGENT_ID"),
		ElevenLabsAPIKey:       stringsTrimSpace("ELEVENLABS_API_KEY"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 5 * time.Minute,
		SessionInitTimeout:       10 * time.Second,
		SynthesisTimeout:         30 * time.Second,

		BreakerFailureThreshold: 5,
		BreakerResetTimeout:     time.Minute,
		BreakerMonitoringWindow: 5 * time.Minute,

		AudioChunkSize:      4096,
		ChunkPacing:         50 * time.Millisecond,
		AssessmentQueueSize: 64,

		DatabaseURL: stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInitTimeout, err = durationFromEnv("APP_SESSION_INIT_TIMEOUT", cfg.SessionInitTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SynthesisTimeout, err = durationFromEnv("SYNTHESIS_TIMEOUT", cfg.SynthesisTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BreakerResetTimeout, err = durationFromEnv("BREAKER_RESET_TIMEOUT", cfg.BreakerResetTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BreakerMonitoringWindow, err = durationFromEnv("BREAKER_MONITORING_WINDOW", cfg.BreakerMonitoringWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.ChunkPacing, err = durationFromEnv("AUDIO_CHUNK_PACING", cfg.ChunkPacing)
	if err != nil {
		return Config{}, err
	}
	cfg.BreakerFailureThreshold, err = intFromEnv("BREAKER_FAILURE_THRESHOLD", cfg.BreakerFailureThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioChunkSize, err = intFromEnv("AUDIO_CHUNK_SIZE", cfg.AudioChunkSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AssessmentQueueSize, err = intFromEnv("ASSESSMENT_QUEUE_SIZE", cfg.AssessmentQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.BreakerFailureThreshold <= 0 {
		return Config{}, fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive")
	}
	if cfg.AudioChunkSize <= 0 {
		return Config{}, fmt.Errorf("AUDIO_CHUNK_SIZE must be positive")
	}
	if cfg.AssessmentQueueSize <= 0 {
		return Config{}, fmt.Errorf("ASSESSMENT_QUEUE_SIZE must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
