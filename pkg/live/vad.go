package live

import (
	"sync"
	"time"
)

// VADResult is the outcome of evaluating one audio frame.
type VADResult struct {
	// Speaking reports whether the detector considers the user mid-utterance.
	Speaking bool
	// TurnEnded fires exactly once per silence episode, after the hold-off
	// elapses, and only when accumulated input text exists.
	TurnEnded bool
	// RMS is the frame's normalized energy, for level meters and debugging.
	RMS float64
}

// EnergyVAD is a hysteresis voice activity detector over per-frame RMS
// energy. States: silent, speaking, and speaking with silence pending. A
// frame at or above the threshold always cancels a pending silence window;
// sustained silence after speech signals a likely turn end once.
type EnergyVAD struct {
	mu  sync.Mutex
	cfg VADConfig

	speaking     bool
	silenceStart time.Time
	signaled     bool

	// hasTranscript suppresses turn-end signals for noise bursts that never
	// produced transcription.
	hasTranscript func() bool

	now func() time.Time
}

// NewEnergyVAD creates a detector with the given configuration.
func NewEnergyVAD(cfg VADConfig) *EnergyVAD {
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = DefaultVADConfig().EnergyThreshold
	}
	if cfg.SilenceHoldoffMS <= 0 {
		cfg.SilenceHoldoffMS = DefaultVADConfig().SilenceHoldoffMS
	}
	return &EnergyVAD{
		cfg: cfg,
		now: time.Now,
	}
}

// SetTranscriptCheck installs the callback consulted before a turn-end
// signal is allowed to fire.
func (v *EnergyVAD) SetTranscriptCheck(fn func() bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hasTranscript = fn
}

// Evaluate processes one frame of normalized float samples.
func (v *EnergyVAD) Evaluate(samples []float32) VADResult {
	return v.observe(RMSEnergy(samples))
}

// EvaluatePCM processes one frame of 16-bit little-endian PCM.
func (v *EnergyVAD) EvaluatePCM(pcm []byte) VADResult {
	return v.observe(RMSEnergyPCM(pcm))
}

func (v *EnergyVAD) observe(rms float64) VADResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	if rms >= v.cfg.EnergyThreshold {
		v.speaking = true
		v.silenceStart = time.Time{}
		v.signaled = false
		return VADResult{Speaking: true, RMS: rms}
	}

	if !v.speaking {
		return VADResult{RMS: rms}
	}

	now := v.now()
	if v.silenceStart.IsZero() {
		v.silenceStart = now
	}

	holdoff := time.Duration(v.cfg.SilenceHoldoffMS) * time.Millisecond
	if !v.signaled && now.Sub(v.silenceStart) >= holdoff {
		v.signaled = true
		v.speaking = false
		v.silenceStart = time.Time{}
		if v.hasTranscript != nil && !v.hasTranscript() {
			// Noise burst with no transcribed content: end the episode quietly.
			return VADResult{RMS: rms}
		}
		return VADResult{TurnEnded: true, RMS: rms}
	}

	return VADResult{Speaking: true, RMS: rms}
}

// ResetSilence cancels a pending silence window without leaving the speech
// episode. Called when new input transcription proves the user is still
// talking.
func (v *EnergyVAD) ResetSilence() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.silenceStart = time.Time{}
}

// Reset returns the detector to the silent state. Called on session start
// and teardown.
func (v *EnergyVAD) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.speaking = false
	v.silenceStart = time.Time{}
	v.signaled = false
}

// Speaking reports whether the detector currently considers the user
// mid-utterance.
func (v *EnergyVAD) Speaking() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speaking
}
