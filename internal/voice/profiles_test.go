package voice

import (
	"context"
	"errors"
	"testing"
)

type fixedVoices struct {
	voices []VoiceInfo
	err    error
}

func (f *fixedVoices) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	return []byte("audio"), nil
}

func (f *fixedVoices) Voices(ctx context.Context) ([]VoiceInfo, error) {
	return f.voices, f.err
}

func TestRegistryHasAllCharacters(t *testing.T) {
	r := NewProfileRegistry()
	for _, name := range []string{
		"Sarah Chen", "Marcus Thompson", "Tony Rodriguez", "Dr. Amanda Foster", "Carlos Rivera",
	} {
		p, ok := r.Lookup(name)
		if !ok {
			t.Fatalf("missing profile for %s", name)
		}
		if p.VoiceID == "" || p.FirstMessage == "" || len(p.Phrases) == 0 {
			t.Fatalf("incomplete profile for %s: %+v", name, p)
		}
		if !p.Settings.SpeakerBoost {
			t.Fatalf("%s should have speaker boost enabled", name)
		}
	}
}

func TestValidateKeepsKnownVoices(t *testing.T) {
	r := NewProfileRegistry()
	sarah, _ := r.Lookup("Sarah Chen")

	r.Validate(context.Background(), &fixedVoices{voices: []VoiceInfo{
		{ID: sarah.VoiceID, Name: "Aria"},
	}})

	got, _ := r.Lookup("Sarah Chen")
	if got.VoiceID != sarah.VoiceID {
		t.Fatalf("known voice replaced: %s -> %s", sarah.VoiceID, got.VoiceID)
	}
	// Every other character's voice is unknown to this vendor, so they
	// heal to the first available voice.
	marcus, _ := r.Lookup("Marcus Thompson")
	if marcus.VoiceID != sarah.VoiceID {
		t.Fatalf("unknown voice not healed: got %s, want %s", marcus.VoiceID, sarah.VoiceID)
	}
}

func TestValidateFallsBackWhenListingFails(t *testing.T) {
	r := NewProfileRegistry()
	r.Validate(context.Background(), &fixedVoices{err: errors.New("401 unauthorized")})

	for _, name := range r.Names() {
		p, _ := r.Lookup(name)
		if p.VoiceID != fallbackVoiceID {
			t.Fatalf("%s not healed to fallback voice: %s", name, p.VoiceID)
		}
	}
}

func TestMustLookupUnknownCharacter(t *testing.T) {
	r := NewProfileRegistry()
	if _, err := r.MustLookup("Nobody Special"); err == nil {
		t.Fatal("expected configuration error for unknown character")
	}
}
