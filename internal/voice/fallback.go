package voice

import (
	"log"
	"time"
)

// Fallback strategy names. These are stable identifiers that also flow into
// metrics labels and client-facing payloads.
const (
	StrategyTextOnly     = "text_only"
	StrategyBasicAudio   = "basic_audio"
	StrategyDefaultVoice = "default_voice"
	StrategyCachedAudio  = "cached_audio"
	StrategyRetryAudio   = "retry_audio"
)

// FallbackContext carries everything a strategy needs to produce a
// degraded result for a failed synthesis.
type FallbackContext struct {
	Text          string
	CharacterName string
	Original      SynthesisRequest
}

// FallbackResult is what a strategy produced. Every strategy is pure: no
// strategy touches the vendor, so Text is always populated for the user
// and the remaining fields are retry instructions the caller may act on
// (through the breaker-guarded gateway, never around it).
type FallbackResult struct {
	Strategy string
	Success  bool
	Text     string
	Detail   string

	// Retry instructions. A non-empty VoiceID or non-nil Settings suggests
	// a degraded re-synthesis; RetryAfter suggests backing off first.
	VoiceID    string
	Settings   *VoiceSettings
	RetryAfter time.Duration
}

// Resolver degrades failed synthesis calls along a fixed strategy table.
// Unknown strategies resolve as text_only so a session can always continue.
type Resolver struct {
	defaultVoice string
	retryDelay   time.Duration
}

func NewResolver() *Resolver {
	return &Resolver{
		defaultVoice: fallbackVoiceID,
		retryDelay:   2 * time.Second,
	}
}

// Resolve applies the named strategy. It never fails and never calls the
// vendor: every strategy bottoms out at a text payload the UI can show.
func (r *Resolver) Resolve(strategy string, fc FallbackContext) FallbackResult {
	switch strategy {
	case StrategyTextOnly:
		return r.textOnly(fc)
	case StrategyBasicAudio:
		return r.basicAudio(fc)
	case StrategyDefaultVoice:
		return r.defaultVoiceAudio(fc)
	case StrategyCachedAudio:
		return r.cachedAudio(fc)
	case StrategyRetryAudio:
		return r.retryAudio(fc)
	default:
		log.Printf("unknown fallback strategy %q, using text_only", strategy)
		return r.textOnly(fc)
	}
}

func (r *Resolver) textOnly(fc FallbackContext) FallbackResult {
	return FallbackResult{
		Strategy: StrategyTextOnly,
		Success:  true,
		Text:     fc.Text,
		Detail:   "voice synthesis unavailable, text response provided",
	}
}

// basicAudio suggests re-synthesis with conservative voice settings on the
// original voice.
func (r *Resolver) basicAudio(fc FallbackContext) FallbackResult {
	return FallbackResult{
		Strategy: StrategyBasicAudio,
		Success:  true,
		Text:     fc.Text,
		Detail:   "retry with conservative voice settings",
		VoiceID:  fc.Original.VoiceID,
		Settings: &VoiceSettings{
			Stability:       0.75,
			SimilarityBoost: 0.5,
			Style:           0,
			SpeakerBoost:    false,
		},
	}
}

// defaultVoiceAudio suggests a known-good voice when the configured one is
// suspect.
func (r *Resolver) defaultVoiceAudio(fc FallbackContext) FallbackResult {
	return FallbackResult{
		Strategy: StrategyDefaultVoice,
		Success:  true,
		Text:     fc.Text,
		Detail:   "retry with the default voice",
		VoiceID:  r.defaultVoice,
		Settings: &VoiceSettings{
			Stability:       0.75,
			SimilarityBoost: 0.75,
			Style:           0,
			SpeakerBoost:    true,
		},
	}
}

// cachedAudio would serve pre-rendered audio for common phrases. There is
// no cache backing it yet, so it degrades to text_only.
func (r *Resolver) cachedAudio(fc FallbackContext) FallbackResult {
	res := r.textOnly(fc)
	res.Detail = "no cached audio available, text response provided"
	return res
}

// retryAudio suggests one more attempt with the original request after a
// short backoff.
func (r *Resolver) retryAudio(fc FallbackContext) FallbackResult {
	return FallbackResult{
		Strategy:   StrategyRetryAudio,
		Success:    true,
		Text:       fc.Text,
		Detail:     "transient synthesis failure, retry shortly",
		VoiceID:    fc.Original.VoiceID,
		RetryAfter: r.retryDelay,
	}
}
