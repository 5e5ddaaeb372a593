package relay

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/parleylabs/parley/internal/protocol"
)

// Streamer paces synthesized character audio into a room as ordered chunks
// bracketed by speaking-status messages.
type Streamer struct {
	hub       *Hub
	chunkSize int
	pacing    time.Duration
}

func NewStreamer(hub *Hub, chunkSize int, pacing time.Duration) *Streamer {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &Streamer{hub: hub, chunkSize: chunkSize, pacing: pacing}
}

// StreamAudio splits audio into fixed-size chunks and broadcasts them in
// order with the configured pacing delay between chunks, so downstream
// playback can start before the full utterance has arrived. The character's
// speaking status is raised before the first chunk and always lowered
// again, including when ctx is cancelled mid-stream.
func (s *Streamer) StreamAudio(ctx context.Context, room, sessionID, characterName string, audio []byte, format string) error {
	if len(audio) == 0 {
		return nil
	}

	s.setSpeaking(room, sessionID, characterName, true)
	defer s.setSpeaking(room, sessionID, characterName, false)

	total := (len(audio) + s.chunkSize - 1) / s.chunkSize
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := i * s.chunkSize
		end := start + s.chunkSize
		if end > len(audio) {
			end = len(audio)
		}
		s.hub.Broadcast(room, protocol.AudioChunk{
			Type:        protocol.TypeAudioChunk,
			SessionID:   sessionID,
			AudioBase64: base64.StdEncoding.EncodeToString(audio[start:end]),
			Format:      format,
			ChunkIndex:  i,
			TotalChunks: total,
			TSMs:        time.Now().UnixMilli(),
		})

		// No delay after the final chunk.
		if s.pacing > 0 && i < total-1 {
			select {
			case <-time.After(s.pacing):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// StreamEncodedChunk forwards one already-encoded chunk as-is, used for
// vendor audio that arrives pre-chunked.
func (s *Streamer) StreamEncodedChunk(room, sessionID, audioBase64, format string) {
	s.hub.Broadcast(room, protocol.AudioChunk{
		Type:        protocol.TypeAudioChunk,
		SessionID:   sessionID,
		AudioBase64: audioBase64,
		Format:      format,
		ChunkIndex:  0,
		TotalChunks: 1,
		TSMs:        time.Now().UnixMilli(),
	})
}

func (s *Streamer) setSpeaking(room, sessionID, characterName string, active bool) {
	s.hub.Broadcast(room, protocol.SpeakingStatus{
		Type:          protocol.TypeSpeakingStatus,
		SessionID:     sessionID,
		CharacterName: characterName,
		IsActive:      active,
		TSMs:          time.Now().UnixMilli(),
	})
}
