package voice

import (
	"context"
	"fmt"
	"sync"
)

// MockSynthesizer is a deterministic Synthesizer for development and tests.
// It never talks to the network.
type MockSynthesizer struct {
	mu    sync.Mutex
	fail  error
	calls int
}

func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{}
}

// FailWith makes subsequent calls return err. Pass nil to restore success.
func (m *MockSynthesizer) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *MockSynthesizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	fail := m.fail
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fail != nil {
		return nil, fail
	}
	// Deterministic payload so tests can assert on content.
	return []byte(fmt.Sprintf("mock-audio:%s:%s", req.VoiceID, req.Text)), nil
}

func (m *MockSynthesizer) Voices(ctx context.Context) ([]VoiceInfo, error) {
	m.mu.Lock()
	fail := m.fail
	m.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	profiles := defaultProfiles()
	voices := make([]VoiceInfo, 0, len(profiles))
	for _, p := range profiles {
		voices = append(voices, VoiceInfo{ID: p.VoiceID, Name: p.Name, Category: "premade"})
	}
	return voices, nil
}
