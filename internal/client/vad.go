package client

import "encoding/binary"

// Volume estimates the loudness of a chunk of 16-bit little-endian PCM as
// the mean absolute sample amplitude normalized to [0, 1].
func Volume(chunk []byte) float64 {
	if len(chunk) < 2 {
		return 0
	}
	var sum float64
	n := len(chunk) / 2
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(chunk[i*2:]))
		if s < 0 {
			s = -s
		}
		sum += float64(s)
	}
	return sum / float64(n) / 32768
}

// voiceDetector tracks speech activity for UI feedback. A chunk above the
// threshold marks speech active; activity persists for hangover quiet
// chunks so natural pauses inside a sentence do not flicker the indicator.
type voiceDetector struct {
	threshold float64
	hangover  int

	active bool
	quiet  int
}

func newVoiceDetector(threshold float64, hangover int) *voiceDetector {
	if threshold <= 0 {
		threshold = 0.02
	}
	if hangover <= 0 {
		hangover = 5
	}
	return &voiceDetector{threshold: threshold, hangover: hangover}
}

// Process reports whether speech is currently active.
func (v *voiceDetector) Process(chunk []byte) bool {
	if Volume(chunk) >= v.threshold {
		v.active = true
		v.quiet = 0
		return true
	}
	if !v.active {
		return false
	}
	v.quiet++
	if v.quiet >= v.hangover {
		v.active = false
		v.quiet = 0
		return false
	}
	return true
}
