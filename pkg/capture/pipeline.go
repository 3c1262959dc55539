package capture

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"sync"
)

// Pipeline owns the local capture devices for one live session. Start spawns
// the microphone (and camera, when video is enabled) and pushes frames into
// the registered callbacks until Stop. Stop is idempotent; it is reached
// from explicit disconnects and from every session failure path.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	cbMu    sync.RWMutex
	onAudio func(pcm []byte)
	onVideo func(jpeg []byte)

	mu        sync.Mutex
	mic       *Mic
	cam       *Camera
	running   bool
	wantVideo bool
	gen       int
}

// NewPipeline creates a pipeline. A nil logger falls back to slog.Default.
func NewPipeline(cfg Config, logger *slog.Logger) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:    cfg,
		logger: defaultLogger(logger),
	}, nil
}

// OnAudioFrame registers the callback for each captured PCM frame. The frame
// holds cfg.FrameSamples 16-bit samples; the callback owns the slice.
func (p *Pipeline) OnAudioFrame(fn func(pcm []byte)) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.onAudio = fn
}

// OnVideoFrame registers the callback for each complete camera JPEG.
func (p *Pipeline) OnVideoFrame(fn func(jpeg []byte)) {
	p.cbMu.Lock()
	defer p.cbMu.Unlock()
	p.onVideo = fn
}

// Start acquires the microphone, and the camera if video was requested.
// Already running is a no-op. A device failure leaves nothing half-acquired.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}

	mic, err := StartMic(p.cfg.AudioDevice, p.cfg.SampleRate)
	if err != nil {
		return err
	}
	p.mic = mic
	p.running = true
	p.gen++
	gen := p.gen

	if p.wantVideo {
		if err := p.startCameraLocked(gen); err != nil {
			p.logger.Warn("camera unavailable, continuing audio-only", "error", err)
		}
	}

	frameBytes := p.cfg.FrameSamples * 2
	go p.audioLoop(mic, frameBytes, gen)

	p.logger.Info("capture started",
		"sample_rate", p.cfg.SampleRate,
		"frame_samples", p.cfg.FrameSamples,
		"video", p.cam != nil)
	return nil
}

// Stop kills the capture processes and releases the devices. Safe to call
// multiple times and from multiple failure paths.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.gen++
	_ = p.mic.Close()
	p.mic = nil
	if p.cam != nil {
		_ = p.cam.Close()
		p.cam = nil
	}
	p.running = false
	p.logger.Info("capture stopped")
}

// SetVideo enables or disables the camera. While running, the camera process
// starts or stops immediately; otherwise the preference applies on the next
// Start. Disabling twice, or on a pipeline without a camera, is a no-op.
func (p *Pipeline) SetVideo(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wantVideo = on
	if !p.running {
		return nil
	}
	if on && p.cam == nil {
		return p.startCameraLocked(p.gen)
	}
	if !on && p.cam != nil {
		_ = p.cam.Close()
		p.cam = nil
	}
	return nil
}

// VideoOn reports whether the camera is currently capturing.
func (p *Pipeline) VideoOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cam != nil
}

// Running reports whether the pipeline holds the devices.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pipeline) startCameraLocked(gen int) error {
	cam, err := StartCamera(p.cfg.VideoDevice, p.cfg.FrameRate, p.cfg.JPEGQuality, p.cfg.Width)
	if err != nil {
		return err
	}
	p.cam = cam
	go p.videoLoop(cam, gen)
	return nil
}

func (p *Pipeline) audioLoop(mic *Mic, frameBytes, gen int) {
	buf := make([]byte, frameBytes)
	for {
		_, err := io.ReadFull(mic, buf)
		if err != nil {
			if p.isCurrent(gen) && !quietReadErr(err) {
				p.logger.Error("mic read failed", "error", err)
			}
			return
		}
		frame := make([]byte, len(buf))
		copy(frame, buf)
		if fn := p.audioFn(); fn != nil {
			fn(frame)
		}
	}
}

func (p *Pipeline) videoLoop(cam *Camera, gen int) {
	split := &jpegSplitter{}
	buf := make([]byte, 32*1024)
	for {
		n, err := cam.Read(buf)
		if n > 0 {
			for _, frame := range split.feed(buf[:n]) {
				if fn := p.videoFn(); fn != nil {
					fn(frame)
				}
			}
		}
		if err != nil {
			if p.isCurrent(gen) && !quietReadErr(err) {
				p.logger.Error("camera read failed", "error", err)
			}
			return
		}
	}
}

func (p *Pipeline) audioFn() func([]byte) {
	p.cbMu.RLock()
	defer p.cbMu.RUnlock()
	return p.onAudio
}

func (p *Pipeline) videoFn() func([]byte) {
	p.cbMu.RLock()
	defer p.cbMu.RUnlock()
	return p.onVideo
}

// isCurrent reports whether gen is still the live capture generation. Loops
// belonging to a stopped generation exit without logging.
func (p *Pipeline) isCurrent(gen int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running && p.gen == gen
}

// quietReadErr reports read errors that mean the device was shut down rather
// than failed: the process exited (EOF, possibly mid-frame) or its pipe was
// closed underneath the reader.
func quietReadErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, fs.ErrClosed)
}
