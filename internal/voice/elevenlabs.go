package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/parleylabs/parley/internal/reliability"
)

type ElevenLabsConfig struct {
	APIKey        string
	BaseURL       string
	DefaultModel  string
	DefaultFormat string
	HTTPClient    *http.Client
}

// ElevenLabsSynthesizer talks to the ElevenLabs text-to-speech REST API.
type ElevenLabsSynthesizer struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		cfg.DefaultModel = "eleven_turbo_v2_5"
	}
	if strings.TrimSpace(cfg.DefaultFormat) == "" {
		cfg.DefaultFormat = "mp3_44100_128"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 35 * time.Second}
	}
	return &ElevenLabsSynthesizer{cfg: cfg, client: client}
}

type elevenSynthesisBody struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

func (p *ElevenLabsSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error) {
	if strings.TrimSpace(req.VoiceID) == "" {
		return nil, &reliability.ConfigurationError{Detail: "voice_id is required"}
	}
	modelID := req.ModelID
	if strings.TrimSpace(modelID) == "" {
		modelID = p.cfg.DefaultModel
	}
	format := req.OutputFormat
	if strings.TrimSpace(format) == "" {
		format = p.cfg.DefaultFormat
	}

	u, err := url.Parse(strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(req.VoiceID))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("output_format", format)
	u.RawQuery = q.Encode()

	body, err := json.Marshal(elevenSynthesisBody{
		Text:          req.Text,
		ModelID:       modelID,
		VoiceSettings: clampSettings(req.Settings),
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &reliability.ExternalError{Cause: fmt.Errorf("text-to-speech request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &reliability.ExternalError{
			Cause: fmt.Errorf("text-to-speech status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail))),
		}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &reliability.ExternalError{Cause: fmt.Errorf("read audio body: %w", err)}
	}
	return audio, nil
}

type elevenVoicesResponse struct {
	Voices []struct {
		VoiceID  string `json:"voice_id"`
		Name     string `json:"name"`
		Category string `json:"category"`
	} `json:"voices"`
}

func (p *ElevenLabsSynthesizer) Voices(ctx context.Context) ([]VoiceInfo, error) {
	u := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/voices"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &reliability.ExternalError{Cause: fmt.Errorf("list voices: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &reliability.ExternalError{Cause: fmt.Errorf("list voices status %d", resp.StatusCode)}
	}

	var decoded elevenVoicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &reliability.ExternalError{Cause: fmt.Errorf("decode voices: %w", err)}
	}

	voices := make([]VoiceInfo, 0, len(decoded.Voices))
	for _, v := range decoded.Voices {
		voices = append(voices, VoiceInfo{ID: v.VoiceID, Name: v.Name, Category: v.Category})
	}
	return voices, nil
}

func clampSettings(s VoiceSettings) VoiceSettings {
	s.Stability = clampFloat(s.Stability, 0, 1)
	s.SimilarityBoost = clampFloat(s.SimilarityBoost, 0, 1)
	s.Style = clampFloat(s.Style, 0, 1)
	return s
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
