// Package capture acquires the local microphone and camera through ffmpeg
// subprocesses and feeds their frames to the live session at a steady
// cadence. It also wraps ffplay for local speech playback, so a terminal
// client needs no audio bindings beyond a stock ffmpeg install.
package capture

import (
	"fmt"
	"log/slog"
)

// Config describes the local media devices and frame cadence.
type Config struct {
	// SampleRate is the microphone capture rate in Hz. Default: 16000.
	SampleRate int

	// FrameSamples is how many samples each audio callback carries.
	// Default: 2048.
	FrameSamples int

	// AudioDevice is the ffmpeg audio input. Empty selects the platform
	// default device.
	AudioDevice string

	// VideoDevice is the ffmpeg video input. Empty selects the platform
	// default device.
	VideoDevice string

	// FrameRate is the camera sampling rate in frames per second.
	// Default: 10.
	FrameRate int

	// JPEGQuality is ffmpeg's -q:v scale, 2 (best) to 31. Default: 7,
	// roughly a 0.7 browser-canvas quality.
	JPEGQuality int

	// Width scales camera frames down before encoding. Default: 640.
	Width int
}

// DefaultConfig returns a Config with the standard capture parameters.
func DefaultConfig() Config {
	return Config{
		SampleRate:   16000,
		FrameSamples: 2048,
		FrameRate:    10,
		JPEGQuality:  7,
		Width:        640,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("capture: sample rate must be > 0, got %d", c.SampleRate)
	}
	if c.FrameSamples < 256 || c.FrameSamples > 16384 {
		return fmt.Errorf("capture: frame samples must be 256..16384, got %d", c.FrameSamples)
	}
	if c.FrameRate <= 0 || c.FrameRate > 30 {
		return fmt.Errorf("capture: frame rate must be 1..30, got %d", c.FrameRate)
	}
	if c.JPEGQuality < 2 || c.JPEGQuality > 31 {
		return fmt.Errorf("capture: jpeg quality must be 2..31, got %d", c.JPEGQuality)
	}
	if c.Width <= 0 {
		return fmt.Errorf("capture: width must be > 0, got %d", c.Width)
	}
	return nil
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SampleRate == 0 {
		c.SampleRate = def.SampleRate
	}
	if c.FrameSamples == 0 {
		c.FrameSamples = def.FrameSamples
	}
	if c.FrameRate == 0 {
		c.FrameRate = def.FrameRate
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = def.JPEGQuality
	}
	if c.Width == 0 {
		c.Width = def.Width
	}
	return c
}

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}
