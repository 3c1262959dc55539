package capture

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

// Mic streams raw 16-bit little-endian mono PCM from the system microphone
// via an ffmpeg subprocess.
type Mic struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// StartMic launches the capture process. device is the ffmpeg input name;
// empty selects the platform default.
func StartMic(device string, sampleRate int) (*Mic, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("capture: ffmpeg is required for mic capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := micArgs(runtime.GOOS, device, sampleRate)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start ffmpeg mic capture: %w", err)
	}
	return &Mic{cmd: cmd, stdout: stdout}, nil
}

func micArgs(goos, device string, sampleRate int) ([]string, error) {
	switch goos {
	case "darwin":
		if device == "" {
			device = ":0"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", device,
			"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRate),
			"-f", "s16le", "-",
		}, nil
	case "linux":
		if device == "" {
			device = "default"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", device,
			"-ac", "1", "-ar", fmt.Sprintf("%d", sampleRate),
			"-f", "s16le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("capture: mic capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

// Read fills p with captured PCM bytes.
func (m *Mic) Read(p []byte) (int, error) {
	if m == nil || m.stdout == nil {
		return 0, io.EOF
	}
	return m.stdout.Read(p)
}

// Close kills the capture process. Safe to call more than once.
func (m *Mic) Close() error {
	if m == nil {
		return nil
	}
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
		m.cmd = nil
	}
	return nil
}
