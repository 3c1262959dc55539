package capture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
)

// Camera streams MJPEG frames from the system camera via an ffmpeg
// subprocess. Frames come out as complete JPEG images at the configured rate.
type Camera struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
}

// StartCamera launches the capture process. device is the ffmpeg input name;
// empty selects the platform default.
func StartCamera(device string, frameRate, quality, width int) (*Camera, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, errors.New("capture: ffmpeg is required for camera capture (install ffmpeg and ensure it is in PATH)")
	}
	args, err := cameraArgs(runtime.GOOS, device, frameRate, quality, width)
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
		return nil, fmt.Errorf("capture: start ffmpeg camera capture: %w", err)
	}
	return &Camera{cmd: cmd, stdout: stdout}, nil
}

func cameraArgs(goos, device string, frameRate, quality, width int) ([]string, error) {
	filter := fmt.Sprintf("fps=%d,scale=%d:-2", frameRate, width)
	switch goos {
	case "darwin":
		if device == "" {
			device = "0"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-framerate", "30", "-i", device,
			"-vf", filter,
			"-q:v", fmt.Sprintf("%d", quality),
			"-f", "mjpeg", "-",
		}, nil
	case "linux":
		if device == "" {
			device = "/dev/video0"
		}
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "v4l2", "-i", device,
			"-vf", filter,
			"-q:v", fmt.Sprintf("%d", quality),
			"-f", "mjpeg", "-",
		}, nil
	default:
		return nil, fmt.Errorf("capture: camera capture is not implemented for %s; supported platforms: darwin, linux", goos)
	}
}

// Read fills p with MJPEG stream bytes.
func (c *Camera) Read(p []byte) (int, error) {
	if c == nil || c.stdout == nil {
		return 0, io.EOF
	}
	return c.stdout.Read(p)
}

// Close kills the capture process. Safe to call more than once.
func (c *Camera) Close() error {
	if c == nil {
		return nil
	}
	if c.cmd != nil && c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
		_ = c.cmd.Wait()
		c.cmd = nil
	}
	return nil
}

var (
	jpegSOI = []byte{0xff, 0xd8}
	jpegEOI = []byte{0xff, 0xd9}
)

// maxJPEGFrameBytes bounds the reassembly buffer against a malformed stream
// that never closes a frame.
const maxJPEGFrameBytes = 4 << 20

// jpegSplitter reassembles complete JPEG images from an MJPEG byte stream.
// ffmpeg emits frames back to back; chunk boundaries fall anywhere.
type jpegSplitter struct {
	buf []byte
}

// feed appends stream bytes and returns every frame completed so far.
func (s *jpegSplitter) feed(chunk []byte) [][]byte {
	s.buf = append(s.buf, chunk...)
	var frames [][]byte
	for {
		start := bytes.Index(s.buf, jpegSOI)
		if start < 0 {
			// Keep the final byte: a start marker can straddle chunks.
			if len(s.buf) > 1 {
				s.buf = s.buf[len(s.buf)-1:]
			}
			return frames
		}
		rel := bytes.Index(s.buf[start+2:], jpegEOI)
		if rel < 0 {
			s.buf = s.buf[start:]
			if len(s.buf) > maxJPEGFrameBytes {
				s.buf = nil
			}
			return frames
		}
		end := start + 2 + rel + 2
		frame := make([]byte, end-start)
		copy(frame, s.buf[start:end])
		frames = append(frames, frame)
		s.buf = s.buf[end:]
	}
}
