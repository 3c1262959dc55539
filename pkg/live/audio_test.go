package live

import (
	"bytes"
	"math"
	"testing"
)

func turnAudioConfig() AudioConfig {
	return AudioConfig{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
}

func TestRMSEnergy(t *testing.T) {
	t.Parallel()

	if got := RMSEnergy(nil); got != 0 {
		t.Errorf("RMSEnergy(nil)=%f, want 0", got)
	}
	if got := RMSEnergy(make([]float32, 256)); got != 0 {
		t.Errorf("RMSEnergy(silence)=%f, want 0", got)
	}

	frame := make([]float32, 256)
	for i := range frame {
		frame[i] = 0.5
	}
	if got := RMSEnergy(frame); math.Abs(got-0.5) > 1e-6 {
		t.Errorf("RMSEnergy(constant 0.5)=%f, want 0.5", got)
	}
}

func TestRMSEnergyPCM_MatchesFloat(t *testing.T) {
	t.Parallel()

	frame := make([]float32, 256)
	for i := range frame {
		frame[i] = 0.25
	}
	fromFloat := RMSEnergy(frame)
	fromPCM := RMSEnergyPCM(PackPCM16(frame))
	if math.Abs(fromFloat-fromPCM) > 1e-3 {
		t.Errorf("RMS mismatch: float=%f pcm=%f", fromFloat, fromPCM)
	}

	if got := RMSEnergyPCM(nil); got != 0 {
		t.Errorf("RMSEnergyPCM(nil)=%f, want 0", got)
	}
}

func TestTurnAudio_Accumulates(t *testing.T) {
	t.Parallel()

	ta := NewTurnAudio(turnAudioConfig(), 1000)
	ta.Write([]byte{1, 2, 3, 4})
	ta.Write([]byte{5, 6})

	if got := ta.Len(); got != 6 {
		t.Errorf("Len=%d, want 6", got)
	}
	if got := ta.Bytes(); !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("Bytes=%v, want 1..6", got)
	}
}

func TestTurnAudio_DropsOldestBeyondCap(t *testing.T) {
	t.Parallel()

	// 1ms at 24kHz mono 16-bit is 48 bytes.
	ta := NewTurnAudio(turnAudioConfig(), 1)
	ta.Write(bytes.Repeat([]byte{0xaa}, 48))
	ta.Write([]byte{1, 2, 3, 4})

	got := ta.Bytes()
	if len(got) != 48 {
		t.Fatalf("Len=%d, want 48", len(got))
	}
	if !bytes.Equal(got[44:], []byte{1, 2, 3, 4}) {
		t.Errorf("tail=%v, want the newest write kept", got[44:])
	}
	if got[0] != 0xaa {
		t.Errorf("head=%x, want remaining old data", got[0])
	}
}

func TestTurnAudio_DurationMS(t *testing.T) {
	t.Parallel()

	ta := NewTurnAudio(turnAudioConfig(), 120000)
	ta.Write(make([]byte, 4800)) // 100ms at 24kHz mono
	if got := ta.DurationMS(); got != 100 {
		t.Errorf("DurationMS=%d, want 100", got)
	}
}

func TestTurnAudio_WAVAndReset(t *testing.T) {
	t.Parallel()

	ta := NewTurnAudio(turnAudioConfig(), 120000)
	ta.Write(make([]byte, 480))

	wav := ta.WAV()
	if len(wav) != 44+480 {
		t.Fatalf("wav size=%d, want %d", len(wav), 44+480)
	}
	if string(wav[0:4]) != "RIFF" {
		t.Error("Expected RIFF header")
	}

	ta.Reset()
	if got := ta.Len(); got != 0 {
		t.Errorf("Len after Reset=%d, want 0", got)
	}
}

func TestTurnAudio_BytesIsACopy(t *testing.T) {
	t.Parallel()

	ta := NewTurnAudio(turnAudioConfig(), 1000)
	ta.Write([]byte{1, 2, 3})
	b := ta.Bytes()
	b[0] = 9
	if got := ta.Bytes()[0]; got != 1 {
		t.Errorf("internal data mutated through Bytes copy: got %d, want 1", got)
	}
}
