package capture

import (
	"bytes"
	"strings"
	"testing"
)

func jpegFrame(payload []byte) []byte {
	f := append([]byte{0xff, 0xd8}, payload...)
	return append(f, 0xff, 0xd9)
}

func TestJPEGSplitterMultipleFramesOneChunk(t *testing.T) {
	a := jpegFrame([]byte("first"))
	b := jpegFrame([]byte("second"))
	s := &jpegSplitter{}

	frames := s.feed(append(append([]byte{}, a...), b...))
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if !bytes.Equal(frames[0], a) {
		t.Errorf("frame 0 = %x, want %x", frames[0], a)
	}
	if !bytes.Equal(frames[1], b) {
		t.Errorf("frame 1 = %x, want %x", frames[1], b)
	}
}

func TestJPEGSplitterFrameAcrossChunks(t *testing.T) {
	frame := jpegFrame(bytes.Repeat([]byte{0x11}, 100))
	s := &jpegSplitter{}

	if got := s.feed(frame[:40]); len(got) != 0 {
		t.Fatalf("got %d frames from partial chunk, want 0", len(got))
	}
	frames := s.feed(frame[40:])
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0], frame) {
		t.Errorf("reassembled frame does not match original")
	}
}

func TestJPEGSplitterStartMarkerStraddlesChunks(t *testing.T) {
	frame := jpegFrame([]byte("payload"))
	s := &jpegSplitter{}

	// First chunk ends with the 0xff half of the start marker.
	if got := s.feed(frame[:1]); len(got) != 0 {
		t.Fatalf("got %d frames, want 0", len(got))
	}
	frames := s.feed(frame[1:])
	if len(frames) != 1 || !bytes.Equal(frames[0], frame) {
		t.Fatalf("frame split on its start marker was not reassembled")
	}
}

func TestJPEGSplitterEndMarkerStraddlesChunks(t *testing.T) {
	frame := jpegFrame([]byte("payload"))
	s := &jpegSplitter{}

	if got := s.feed(frame[:len(frame)-1]); len(got) != 0 {
		t.Fatalf("got %d frames, want 0", len(got))
	}
	frames := s.feed(frame[len(frame)-1:])
	if len(frames) != 1 || !bytes.Equal(frames[0], frame) {
		t.Fatalf("frame split on its end marker was not reassembled")
	}
}

func TestJPEGSplitterSkipsGarbagePrefix(t *testing.T) {
	frame := jpegFrame([]byte("real"))
	stream := append([]byte("not jpeg data"), frame...)
	s := &jpegSplitter{}

	frames := s.feed(stream)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0], frame) {
		t.Errorf("frame = %x, want %x", frames[0], frame)
	}
}

func TestJPEGSplitterResetsOnOversizedFrame(t *testing.T) {
	s := &jpegSplitter{}
	open := append([]byte{0xff, 0xd8}, bytes.Repeat([]byte{0x00}, maxJPEGFrameBytes+16)...)

	if got := s.feed(open); len(got) != 0 {
		t.Fatalf("got %d frames from unterminated stream, want 0", len(got))
	}
	if s.buf != nil {
		t.Fatalf("buffer holds %d bytes after oversized frame, want reset", len(s.buf))
	}

	frame := jpegFrame([]byte("after"))
	frames := s.feed(frame)
	if len(frames) != 1 || !bytes.Equal(frames[0], frame) {
		t.Fatalf("splitter did not recover after reset")
	}
}

func TestCameraArgs(t *testing.T) {
	tests := []struct {
		name   string
		goos   string
		device string
		want   string
	}{
		{
			name: "darwin_default_device",
			goos: "darwin",
			want: "-hide_banner -loglevel error -f avfoundation -framerate 30 -i 0 -vf fps=10,scale=640:-2 -q:v 7 -f mjpeg -",
		},
		{
			name:   "darwin_explicit_device",
			goos:   "darwin",
			device: "1",
			want:   "-hide_banner -loglevel error -f avfoundation -framerate 30 -i 1 -vf fps=10,scale=640:-2 -q:v 7 -f mjpeg -",
		},
		{
			name: "linux_default_device",
			goos: "linux",
			want: "-hide_banner -loglevel error -f v4l2 -i /dev/video0 -vf fps=10,scale=640:-2 -q:v 7 -f mjpeg -",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := cameraArgs(tt.goos, tt.device, 10, 7, 640)
			if err != nil {
				t.Fatalf("cameraArgs: %v", err)
			}
			if got := strings.Join(args, " "); got != tt.want {
				t.Errorf("args = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCameraArgsUnsupportedPlatform(t *testing.T) {
	if _, err := cameraArgs("plan9", "", 10, 7, 640); err == nil {
		t.Fatal("expected error for unsupported platform")
	}
}
