package voice

import (
	"testing"
)

func TestResolveUnknownStrategyIsTextOnly(t *testing.T) {
	r := NewResolver()
	fc := FallbackContext{Text: "hello", CharacterName: "Sarah Chen"}

	unknown := r.Resolve("exotic_strategy", fc)
	known := r.Resolve(StrategyTextOnly, fc)

	if unknown.Strategy != known.Strategy || unknown.Success != known.Success || unknown.Text != known.Text {
		t.Fatalf("unknown strategy diverged from text_only: %+v vs %+v", unknown, known)
	}
}

func TestCachedAudioDegradesToTextOnly(t *testing.T) {
	r := NewResolver()
	res := r.Resolve(StrategyCachedAudio, FallbackContext{Text: "hi"})
	if res.Strategy != StrategyTextOnly || !res.Success {
		t.Fatalf("cached_audio without a cache should be text_only: %+v", res)
	}
}

func TestDefaultVoiceSuggestsFallbackVoice(t *testing.T) {
	r := NewResolver()
	res := r.Resolve(StrategyDefaultVoice, FallbackContext{
		Text:     "speak up",
		Original: SynthesisRequest{VoiceID: "broken-voice", Text: "speak up"},
	})
	if res.Strategy != StrategyDefaultVoice || !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.VoiceID != fallbackVoiceID {
		t.Fatalf("suggested voice = %q, want %q", res.VoiceID, fallbackVoiceID)
	}
	if res.Settings == nil || res.Settings.Stability != 0.75 {
		t.Fatalf("settings = %+v", res.Settings)
	}
}

func TestRetryAudioSuggestsBackoff(t *testing.T) {
	r := NewResolver()
	res := r.Resolve(StrategyRetryAudio, FallbackContext{
		Text:     "try again",
		Original: SynthesisRequest{VoiceID: "v1", Text: "try again"},
	})
	if res.Strategy != StrategyRetryAudio || !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.RetryAfter <= 0 {
		t.Fatalf("retry backoff = %s, want > 0", res.RetryAfter)
	}
	if res.VoiceID != "v1" {
		t.Fatalf("retry voice = %q, want original", res.VoiceID)
	}
}

// Strategies are pure: none may call the vendor, even when one is wired
// into the surrounding gateway.
func TestStrategiesNeverCallVendor(t *testing.T) {
	mock := NewMockSynthesizer()
	r := NewResolver()

	for _, strategy := range []string{
		StrategyTextOnly, StrategyBasicAudio, StrategyDefaultVoice,
		StrategyCachedAudio, StrategyRetryAudio, "exotic_strategy",
	} {
		res := r.Resolve(strategy, FallbackContext{
			Text:     "hi",
			Original: SynthesisRequest{VoiceID: "v1", Text: "hi"},
		})
		if !res.Success || res.Text != "hi" {
			t.Fatalf("%s result = %+v", strategy, res)
		}
	}
	if got := mock.Calls(); got != 0 {
		t.Fatalf("vendor called %d times by pure strategies", got)
	}
}
