package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/parleylabs/parley/internal/assessment"
	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/convai"
	"github.com/parleylabs/parley/internal/httpapi"
	"github.com/parleylabs/parley/internal/observability"
	"github.com/parleylabs/parley/internal/relay"
	"github.com/parleylabs/parley/internal/reliability"
	"github.com/parleylabs/parley/internal/session"
	"github.com/parleylabs/parley/internal/store"
	"github.com/parleylabs/parley/internal/voice"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	usage := observability.NewUsageTracker()

	ctx := context.Background()
	sessionStore, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer sessionStore.Close()

	synth, liveVoice := buildSynthesizer(cfg)

	breaker := reliability.NewCircuitBreaker(reliability.BreakerConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout,
		MonitoringWindow: cfg.BreakerMonitoringWindow,
	})

	registry := voice.NewProfileRegistry()
	if liveVoice {
		validateCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		registry.Validate(validateCtx, synth)
		cancel()
	}

	gateway := voice.NewGateway(voice.GatewayConfig{
		Synthesizer:  synth,
		Registry:     registry,
		Breaker:      breaker,
		ModelID:      cfg.ElevenLabsModelID,
		OutputFormat: cfg.ElevenLabsOutputFormat,
		CallTimeout:  cfg.SynthesisTimeout,
		Metrics:      metrics,
		Usage:        usage,
	})

	hub := relay.NewHub(metrics)
	streamer := relay.NewStreamer(hub, cfg.AudioChunkSize, cfg.ChunkPacing)

	queue := assessment.NewQueue(cfg.AssessmentQueueSize, assessment.LogAssessor{}, metrics)
	defer queue.Shutdown()

	var liveDialer convai.Dialer
	if liveVoice && strings.TrimSpace(cfg.ConvAIAgentID) != "" {
		liveDialer = convai.NewLiveDialer(cfg.ElevenLabsWSBaseURL, cfg.ElevenLabsAPIKey, cfg.ConvAIAgentID)
		log.Printf("conversation channel: live (agent %s), simulated fallback", cfg.ConvAIAgentID)
	} else {
		log.Printf("conversation channel: simulated only")
	}
	simDialer := convai.NewSimulatedDialer(registry, func(ctx context.Context, characterName, text string) ([]byte, error) {
		res, err := gateway.Synthesize(ctx, characterName, text, voice.Options{})
		if err != nil {
			return nil, err
		}
		return res.Audio, nil
	})

	sessions := session.NewManager(session.ManagerConfig{
		LiveDialer:        liveDialer,
		SimulatedDialer:   simDialer,
		Hub:               hub,
		Streamer:          streamer,
		Store:             sessionStore,
		Assessments:       queue,
		Metrics:           metrics,
		InactivityTimeout: cfg.SessionInactivityTimeout,
		InitTimeout:       cfg.SessionInitTimeout,
	})

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 15*time.Second)

	api := httpapi.New(cfg, sessions, gateway, hub, sessionStore, usage, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// buildSynthesizer picks the synthesis backend for the configured provider
// mode. The second return reports whether the backend is the real vendor.
func buildSynthesizer(cfg config.Config) (voice.Synthesizer, bool) {
	mode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "elevenlabs":
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			log.Fatalf("VOICE_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		log.Printf("voice provider: elevenlabs")
		return newElevenLabs(cfg), true
	case "mock":
		log.Printf("voice provider: mock")
		return voice.NewMockSynthesizer(), false
	case "auto":
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) != "" {
			log.Printf("voice provider: elevenlabs")
			return newElevenLabs(cfg), true
		}
		log.Printf("voice provider: mock (no elevenlabs key)")
		return voice.NewMockSynthesizer(), false
	default:
		log.Fatalf("invalid VOICE_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.VoiceProvider)
		return nil, false
	}
}

func newElevenLabs(cfg config.Config) voice.Synthesizer {
	return voice.NewElevenLabsSynthesizer(voice.ElevenLabsConfig{
		APIKey:        cfg.ElevenLabsAPIKey,
		BaseURL:       cfg.ElevenLabsBaseURL,
		DefaultModel:  cfg.ElevenLabsModelID,
		DefaultFormat: cfg.ElevenLabsOutputFormat,
	})
}
