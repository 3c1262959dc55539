package live

import (
	"fmt"
	"strings"
)

// ConnectionState represents the lifecycle state of a live session.
type ConnectionState int

const (
	// StateIdle is the initial state before any connect attempt.
	StateIdle ConnectionState = iota
	// StateConnecting is entered while media and the remote stream are acquired.
	StateConnecting
	// StateConnected is entered once the remote stream is open.
	StateConnected
	// StateError is a terminal state after a media or transport failure.
	StateError
	// StateClosed is a terminal state after a clean local or remote close.
	StateClosed
)

// String returns the state name observers see.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// connectable reports whether a new connect attempt may start from s.
// Terminal states permit a fresh attempt once teardown has run.
func (s ConnectionState) connectable() bool {
	return s == StateIdle || s == StateClosed || s == StateError
}

// SessionConfig holds all configuration for a live session.
type SessionConfig struct {
	// Model is the live model to connect to.
	Model string

	// Voice selects the prebuilt synthesis voice.
	Voice string

	// System is the behavioral system prompt for the session.
	System string

	// EnableSearch adds search grounding so responses can carry citations.
	EnableSearch bool

	// Input is the microphone audio format. Default: 16kHz mono 16-bit.
	Input AudioConfig

	// Output is the synthesized audio format. Default: 24kHz mono 16-bit.
	Output AudioConfig

	// VAD configures local voice activity detection.
	VAD VADConfig

	// MaxTurnAudioMS caps the per-turn synthesized audio kept for archiving.
	// Default: 120000 (2 minutes).
	MaxTurnAudioMS int

	// Debug enables diagnostic logging to stderr.
	Debug bool
}

// DefaultSessionConfig returns a SessionConfig with sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Model:          "gemini-2.0-flash-live-001",
		Voice:          "Aoede",
		System:         defaultSystemPrompt,
		Input:          AudioConfig{SampleRate: 16000, Channels: 1, BitsPerSample: 16},
		Output:         AudioConfig{SampleRate: 24000, Channels: 1, BitsPerSample: 16},
		VAD:            DefaultVADConfig(),
		MaxTurnAudioMS: 120000,
	}
}

const defaultSystemPrompt = "You are a warm, concise voice companion. " +
	"You are speaking out loud, so keep replies short and conversational. " +
	"Use the provided tools when the user asks you to change the app " +
	"(camera, theme, input mode, new conversation) or asks about weather or reminders."

// Validate checks the configuration for values the session cannot run with.
func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("live: model must not be empty")
	}
	if err := c.Input.validate("input"); err != nil {
		return err
	}
	if err := c.Output.validate("output"); err != nil {
		return err
	}
	if err := c.VAD.validate(); err != nil {
		return err
	}
	if c.MaxTurnAudioMS < 0 {
		return fmt.Errorf("live: max turn audio must be >= 0, got %d", c.MaxTurnAudioMS)
	}
	return nil
}

// VADConfig configures energy-based voice activity detection.
type VADConfig struct {
	// EnergyThreshold is the normalized RMS level above which a frame counts
	// as speech. Range: (0, 1). Default: 0.01.
	EnergyThreshold float64

	// SilenceHoldoffMS is how long sustained silence must last after speech
	// before the detector signals a likely turn end. Default: 600.
	SilenceHoldoffMS int
}

// DefaultVADConfig returns a VADConfig with sensible defaults.
func DefaultVADConfig() VADConfig {
	return VADConfig{
		EnergyThreshold:  0.01,
		SilenceHoldoffMS: 600,
	}
}

func (c VADConfig) validate() error {
	if c.EnergyThreshold <= 0 || c.EnergyThreshold >= 1 {
		return fmt.Errorf("live: vad energy threshold must be in (0, 1), got %g", c.EnergyThreshold)
	}
	if c.SilenceHoldoffMS < 200 || c.SilenceHoldoffMS > 2000 {
		return fmt.Errorf("live: vad silence holdoff must be 200..2000 ms, got %d", c.SilenceHoldoffMS)
	}
	return nil
}

// AudioConfig specifies audio format parameters.
type AudioConfig struct {
	// SampleRate in Hz. Common values: 16000, 24000, 44100, 48000.
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int
}

func (c AudioConfig) validate(side string) error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("live: %s sample rate must be > 0, got %d", side, c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("live: %s channels must be > 0, got %d", side, c.Channels)
	}
	if c.BitsPerSample != 16 {
		return fmt.Errorf("live: %s bits per sample must be 16, got %d", side, c.BitsPerSample)
	}
	return nil
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMS returns the duration in milliseconds for the given byte count.
func (c AudioConfig) DurationMS(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMS returns the byte count for the given duration in milliseconds.
func (c AudioConfig) BytesForDurationMS(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}
