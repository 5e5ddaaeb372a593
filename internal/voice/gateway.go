package voice

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/parleylabs/parley/internal/observability"
	"github.com/parleylabs/parley/internal/reliability"
)

// Options tunes a single synthesis call. Zero value means character
// defaults with fallback enabled.
type Options struct {
	DisableFallback bool
	ModelID         string
	OutputFormat    string
}

// Result is the outcome of a gateway synthesis. When Fallback is true the
// call was degraded; Audio may be nil (text-only), in which case Text must
// be surfaced to the user instead.
type Result struct {
	Audio     []byte
	Text      string
	Format    string
	Fallback  bool
	Strategy  string
	LatencyMS int64
}

// Gateway is the single entry point for character speech synthesis. Every
// vendor call goes through the circuit breaker; failures are classified and
// resolved to a degraded result unless the caller opted out.
type Gateway struct {
	synth    Synthesizer
	registry *ProfileRegistry
	breaker  *reliability.CircuitBreaker
	resolver *Resolver

	modelID      string
	outputFormat string
	callTimeout  time.Duration

	metrics *observability.Metrics
	usage   *observability.UsageTracker

	stateMu sync.Mutex
	wasOpen bool
}

// GatewayConfig wires a Gateway. Metrics and Usage may be nil.
type GatewayConfig struct {
	Synthesizer  Synthesizer
	Registry     *ProfileRegistry
	Breaker      *reliability.CircuitBreaker
	ModelID      string
	OutputFormat string
	CallTimeout  time.Duration
	Metrics      *observability.Metrics
	Usage        *observability.UsageTracker
}

func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.Registry == nil {
		cfg.Registry = NewProfileRegistry()
	}
	return &Gateway{
		synth:        cfg.Synthesizer,
		registry:     cfg.Registry,
		breaker:      cfg.Breaker,
		resolver:     NewResolver(),
		modelID:      cfg.ModelID,
		outputFormat: cfg.OutputFormat,
		callTimeout:  cfg.CallTimeout,
		metrics:      cfg.Metrics,
		usage:        cfg.Usage,
	}
}

// Synthesize renders text in the named character's voice. Configuration
// problems (unknown character, empty text) return immediately without
// counting against the circuit breaker. Vendor failures trip the breaker
// and, unless fallback is disabled, degrade through the strategy table.
func (g *Gateway) Synthesize(ctx context.Context, characterName, text string, opts Options) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, &reliability.ConfigurationError{Detail: "empty synthesis text"}
	}
	profile, err := g.registry.MustLookup(characterName)
	if err != nil {
		g.countCall(characterName, "config_error")
		return Result{}, err
	}

	req := SynthesisRequest{
		VoiceID:      profile.VoiceID,
		Text:         text,
		ModelID:      g.modelID,
		Settings:     profile.Settings,
		OutputFormat: g.outputFormat,
	}
	if opts.ModelID != "" {
		req.ModelID = opts.ModelID
	}
	if opts.OutputFormat != "" {
		req.OutputFormat = opts.OutputFormat
	}

	start := time.Now()
	var audio []byte
	callErr := g.breaker.Execute(func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
		defer cancel()
		var synthErr error
		audio, synthErr = g.synth.Synthesize(callCtx, req)
		return synthErr
	})
	latency := time.Since(start)
	g.publishBreakerState()

	if callErr == nil {
		g.countCall(characterName, "success")
		g.observe(characterName, latency, true)
		return Result{
			Audio:     audio,
			Text:      text,
			Format:    req.OutputFormat,
			LatencyMS: latency.Milliseconds(),
		}, nil
	}

	g.countCall(characterName, "failure")
	g.observe(characterName, latency, false)

	class := reliability.Classify(callErr)
	if opts.DisableFallback {
		return Result{}, callErr
	}

	strategy := reliability.StrategyFor(class)
	log.Printf("synthesis failed for %s (%s), applying %s fallback: %v",
		characterName, class, strategy, callErr)
	fb := g.resolver.Resolve(strategy, FallbackContext{
		Text:          text,
		CharacterName: characterName,
		Original:      req,
	})
	g.countFallback(fb.Strategy)

	return Result{
		Text:      fb.Text,
		Format:    req.OutputFormat,
		Fallback:  true,
		Strategy:  fb.Strategy,
		LatencyMS: latency.Milliseconds(),
	}, nil
}

// ScriptedPhrase returns one of the character's scripted phrases, cycling by
// turn index. Used by simulated sessions and smoke tooling.
func (g *Gateway) ScriptedPhrase(characterName string, turn int) (string, bool) {
	profile, ok := g.registry.Lookup(characterName)
	if !ok || len(profile.Phrases) == 0 {
		return "", false
	}
	return profile.Phrases[turn%len(profile.Phrases)], true
}

func (g *Gateway) FirstMessage(characterName string) (string, bool) {
	profile, ok := g.registry.Lookup(characterName)
	if !ok {
		return "", false
	}
	return profile.FirstMessage, true
}

func (g *Gateway) ListVoices(ctx context.Context) ([]VoiceInfo, error) {
	return g.synth.Voices(ctx)
}

func (g *Gateway) BreakerSnapshot() reliability.BreakerSnapshot {
	return g.breaker.Snapshot()
}

// ResetBreaker clears the circuit breaker. Exposed for the admin endpoint.
func (g *Gateway) ResetBreaker() {
	g.breaker.Reset()
	g.publishBreakerState()
}

func (g *Gateway) Registry() *ProfileRegistry {
	return g.registry
}

func (g *Gateway) countCall(character, outcome string) {
	if g.metrics != nil {
		g.metrics.SynthesisCalls.WithLabelValues(character, outcome).Inc()
	}
}

func (g *Gateway) countFallback(strategy string) {
	if g.metrics != nil {
		g.metrics.FallbacksUsed.WithLabelValues(strategy).Inc()
	}
	if g.usage != nil {
		g.usage.RecordFallback()
	}
}

func (g *Gateway) observe(character string, latency time.Duration, success bool) {
	if g.metrics != nil {
		g.metrics.ObserveSynthesisLatency(latency)
	}
	if g.usage != nil {
		g.usage.Record(character, latency, success)
	}
}

func (g *Gateway) publishBreakerState() {
	if g.metrics == nil {
		return
	}
	snap := g.breaker.Snapshot()
	open := snap.State == reliability.StateOpen

	g.stateMu.Lock()
	tripped := open && !g.wasOpen
	g.wasOpen = open
	g.stateMu.Unlock()

	if open {
		g.metrics.BreakerState.Set(1)
	} else {
		g.metrics.BreakerState.Set(0)
	}
	if tripped {
		g.metrics.BreakerTrips.Inc()
	}
}
