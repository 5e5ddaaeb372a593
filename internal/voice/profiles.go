package voice

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/parleylabs/parley/internal/reliability"
)

// Prosody captures delivery hints attached to a character profile.
type Prosody struct {
	Speed    float64 `json:"speed"`
	Pitch    float64 `json:"pitch"`
	Emphasis string  `json:"emphasis"`
}

// CharacterProfile maps one negotiation character to its vendor voice.
type CharacterProfile struct {
	Name           string        `json:"name"`
	VoiceID        string        `json:"voice_id"`
	Settings       VoiceSettings `json:"settings"`
	Prosody        Prosody       `json:"prosody"`
	PersonalityTag string        `json:"personality_tag"`
	FirstMessage   string        `json:"first_message"`
	// Phrases feed scripted responses when the session runs in
	// simulated mode.
	Phrases []string `json:"-"`
}

// fallbackVoiceID is used when a configured voice cannot be validated
// against the vendor's voice list.
const fallbackVoiceID = "pNInz6obpgDQGcFmaJgB"

// ProfileRegistry is the read-mostly characterName -> profile table. It is
// populated at construction, optionally self-healed once during startup
// validation, and treated as immutable afterwards.
type ProfileRegistry struct {
	mu       sync.RWMutex
	profiles map[string]CharacterProfile
}

func NewProfileRegistry() *ProfileRegistry {
	return &ProfileRegistry{profiles: defaultProfiles()}
}

func (r *ProfileRegistry) Lookup(characterName string) (CharacterProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[characterName]
	return p, ok
}

func (r *ProfileRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		names = append(names, name)
	}
	return names
}

// Validate checks every configured voice ID against the vendor's voice list
// and replaces unknown IDs with a validated fallback. A failure to list
// voices degrades to the hardcoded fallback for every character rather than
// failing startup.
func (r *ProfileRegistry) Validate(ctx context.Context, synth Synthesizer) {
	voices, err := synth.Voices(ctx)
	if err != nil {
		log.Printf("voice validation unavailable, using hardcoded fallback voice: %v", err)
		r.healAll(fallbackVoiceID)
		return
	}

	known := make(map[string]bool, len(voices))
	for _, v := range voices {
		if strings.TrimSpace(v.ID) != "" {
			known[v.ID] = true
		}
	}

	healTo := fallbackVoiceID
	if len(voices) > 0 {
		healTo = voices[0].ID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, p := range r.profiles {
		if known[p.VoiceID] {
			continue
		}
		log.Printf("voice %s for character %s not found, replacing with %s", p.VoiceID, name, healTo)
		p.VoiceID = healTo
		r.profiles[name] = p
	}
}

func (r *ProfileRegistry) healAll(voiceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, p := range r.profiles {
		p.VoiceID = voiceID
		r.profiles[name] = p
	}
}

// MustLookup resolves a profile or returns the typed configuration error.
func (r *ProfileRegistry) MustLookup(characterName string) (CharacterProfile, error) {
	p, ok := r.Lookup(characterName)
	if !ok {
		return CharacterProfile{}, &reliability.ConfigurationError{
			Detail: "no voice configuration for character: " + characterName,
		}
	}
	return p, nil
}

func defaultProfiles() map[string]CharacterProfile {
	return map[string]CharacterProfile{
		"Sarah Chen": {
			Name:    "Sarah Chen",
			VoiceID: "9BWtsMINqrJLrRacOk9x",
			Settings: VoiceSettings{
				Stability:       0.65,
				SimilarityBoost: 0.85,
				Style:           0.30,
				SpeakerBoost:    true,
			},
			Prosody:        Prosody{Speed: 1.1, Pitch: 0.9, Emphasis: "confident"},
			PersonalityTag: "professional_assertive",
			FirstMessage:   "Hello! I'm Sarah Chen. I understand we have some business to discuss today. Let's get right to it - what's your opening position?",
			Phrases: []string{
				"I appreciate your directness. Let's focus on the key numbers here.",
				"That's an interesting point. How does this impact our bottom line?",
				"I need to see concrete value in this proposal. What are the specifics?",
				"Time is money. Let's cut to the chase - what's your best offer?",
			},
		},
		"Marcus Thompson": {
			Name:    "Marcus Thompson",
			VoiceID: "EXAVITQu4vr4xnSDxMaL",
			Settings: VoiceSettings{
				Stability:       0.75,
				SimilarityBoost: 0.75,
				Style:           0.50,
				SpeakerBoost:    true,
			},
			Prosody:        Prosody{Speed: 0.95, Pitch: 1.0, Emphasis: "gentle"},
			PersonalityTag: "warm_collaborative",
			FirstMessage:   "Hi there! I'm Marcus Thompson. I'm looking forward to our discussion today. I believe we can find a solution that works well for everyone involved. What brings you to the table?",
			Phrases: []string{
				"I hear what you're saying. Let me understand your perspective better.",
				"That's a thoughtful approach. How can we make this work for everyone?",
				"I appreciate you sharing that. What would success look like for you?",
				"Let's explore some creative solutions together. What if we considered...",
			},
		},
		"Tony Rodriguez": {
			Name:    "Tony Rodriguez",
			VoiceID: "FGY2WhTYpPnrIDTdsKH5",
			Settings: VoiceSettings{
				Stability:       0.55,
				SimilarityBoost: 0.90,
				Style:           0.70,
				SpeakerBoost:    true,
			},
			Prosody:        Prosody{Speed: 1.25, Pitch: 1.1, Emphasis: "aggressive"},
			PersonalityTag: "aggressive_sales",
			FirstMessage:   "Hey! Tony Rodriguez here, and I'm excited to talk business with you today! I've got some great opportunities we should discuss. What's your biggest priority right now?",
			Phrases: []string{
				"Now we're talking! That sounds like a deal worth pursuing.",
				"Listen, I've got limited time here. This offer won't last forever.",
				"You're smart to consider this opportunity. My other clients would jump on this.",
				"I like your style! Let's make something happen today.",
			},
		},
		"Dr. Amanda Foster": {
			Name:    "Dr. Amanda Foster",
			VoiceID: "IKne3meq5aSn9XLyUdCD",
			Settings: VoiceSettings{
				Stability:       0.80,
				SimilarityBoost: 0.80,
				Style:           0.25,
				SpeakerBoost:    true,
			},
			Prosody:        Prosody{Speed: 0.90, Pitch: 0.85, Emphasis: "authoritative"},
			PersonalityTag: "executive_measured",
			FirstMessage:   "Good day. I'm Dr. Amanda Foster. I've reviewed the preliminary materials, and I believe we have a solid foundation for productive negotiations. Shall we begin with your key requirements?",
			Phrases: []string{
				"Based on my analysis, I believe we need to examine this more carefully.",
				"The data suggests a different approach might be more prudent.",
				"I've reviewed similar cases, and the optimal strategy would be...",
				"Let me present the key factors that should guide our decision.",
			},
		},
		"Carlos Rivera": {
			Name:    "Carlos Rivera",
			VoiceID: "pNInz6obpgDQGcFmaJgB",
			Settings: VoiceSettings{
				Stability:       0.70,
				SimilarityBoost: 0.75,
				Style:           0.40,
				SpeakerBoost:    true,
			},
			Prosody:        Prosody{Speed: 0.92, Pitch: 1.0, Emphasis: "diplomatic"},
			PersonalityTag: "diplomatic_multicultural",
			FirstMessage:   "Hello, and welcome! I'm Carlos Rivera. I appreciate you taking the time to meet today. I believe in building good relationships first - tell me a bit about your perspective on this situation.",
			Phrases: []string{
				"I respect your position. In my experience across different markets...",
				"This reminds me of successful negotiations I've facilitated before.",
				"Cultural sensitivity is important here. How do you view this approach?",
				"Let's find a solution that honors both of our perspectives.",
			},
		},
	}
}
