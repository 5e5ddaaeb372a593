package voice

import "context"

// VoiceSettings tune the synthesized delivery for one character.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	SpeakerBoost    bool    `json:"use_speaker_boost"`
}

// SynthesisRequest is the vendor-facing synthesis call.
type SynthesisRequest struct {
	VoiceID      string
	Text         string
	ModelID      string
	Settings     VoiceSettings
	OutputFormat string
}

// VoiceInfo describes one voice available at the vendor.
type VoiceInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Synthesizer is the external speech-synthesis dependency.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)
	Voices(ctx context.Context) ([]VoiceInfo, error)
}
