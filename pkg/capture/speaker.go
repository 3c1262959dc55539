package capture

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
)

// Speaker plays raw 16-bit little-endian mono PCM through an ffplay
// subprocess. Reset flushes anything buffered in the player, which is how an
// interruption cuts off speech mid-clip.
type Speaker struct {
	sampleRate int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// StartSpeaker launches the playback process at the given output rate.
func StartSpeaker(sampleRate int) (*Speaker, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("capture: ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	s := &Speaker{sampleRate: sampleRate}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.startLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Speaker) startLocked() error {
	s.cmd = exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", s.sampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("capture: open ffplay stdin: %w", err)
	}
	s.cmd.Stdout = io.Discard
	s.cmd.Stderr = io.Discard
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("capture: start ffplay: %w", err)
	}
	s.stdin = stdin
	return nil
}

// Write queues PCM for playback.
func (s *Speaker) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return errors.New("capture: speaker is not running")
	}
	_, err := s.stdin.Write(pcm)
	return err
}

// Reset drops any buffered audio by restarting the player.
func (s *Speaker) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
	return s.startLocked()
}

// Close stops playback. Safe to call more than once.
func (s *Speaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killLocked()
	return nil
}

func (s *Speaker) killLocked() {
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.cmd = nil
	s.stdin = nil
}
