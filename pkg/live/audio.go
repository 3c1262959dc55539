package live

import (
	"math"
	"sync"
)

// RMSEnergy computes the root-mean-square energy of normalized float samples.
// Returns a value between 0.0 and 1.0.
func RMSEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// RMSEnergyPCM computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func RMSEnergyPCM(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		// Little-endian 16-bit signed integer
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// Normalize to -1.0 to 1.0
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}

	return math.Sqrt(sum / float64(samples))
}

// TurnAudio accumulates one turn's worth of synthesized PCM so it can be
// archived after turn completion. Bounded: older data is discarded once
// maxBytes is exceeded.
type TurnAudio struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
	config   AudioConfig
}

// NewTurnAudio creates an accumulator that holds up to maxDurationMS of audio.
func NewTurnAudio(config AudioConfig, maxDurationMS int) *TurnAudio {
	maxBytes := config.BytesForDurationMS(maxDurationMS)
	return &TurnAudio{
		data:     make([]byte, 0, maxBytes),
		maxBytes: maxBytes,
		config:   config,
	}
}

// Write appends audio data. If the accumulator would exceed its cap, the
// oldest data is discarded first.
func (t *TurnAudio) Write(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.data = append(t.data, data...)
	if len(t.data) > t.maxBytes {
		excess := len(t.data) - t.maxBytes
		t.data = t.data[excess:]
	}
}

// Bytes returns a copy of the accumulated audio.
func (t *TurnAudio) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]byte, len(t.data))
	copy(out, t.data)
	return out
}

// Len returns the accumulated size in bytes.
func (t *TurnAudio) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.data)
}

// DurationMS returns the accumulated duration in milliseconds.
func (t *TurnAudio) DurationMS() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.config.DurationMS(len(t.data))
}

// WAV returns the accumulated audio wrapped in a RIFF/WAVE container.
func (t *TurnAudio) WAV() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return WrapWAV(t.data, t.config.SampleRate, t.config.Channels)
}

// Reset empties the accumulator for the next turn.
func (t *TurnAudio) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.data = t.data[:0]
}
