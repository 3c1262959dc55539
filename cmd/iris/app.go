package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/irislive/iris/pkg/capture"
	"github.com/irislive/iris/pkg/live"
)

const ansiReset = "\x1b[0m"

// clearLine rewinds the cursor and erases the interim line.
const clearLine = "\r\x1b[2K"

type palette struct {
	name   string
	user   string
	model  string
	dim    string
	accent string
}

// palettes must cover live.DefaultThemes one to one; changeTheme matches
// against that list.
var palettes = []palette{
	{name: "dark", user: "\x1b[36m", model: "\x1b[97m", dim: "\x1b[90m", accent: "\x1b[35m"},
	{name: "light", user: "\x1b[34m", model: "\x1b[30m", dim: "\x1b[37m", accent: "\x1b[35m"},
	{name: "ocean", user: "\x1b[96m", model: "\x1b[94m", dim: "\x1b[36m", accent: "\x1b[96m"},
	{name: "ember", user: "\x1b[93m", model: "\x1b[91m", dim: "\x1b[33m", accent: "\x1b[95m"},
	{name: "forest", user: "\x1b[92m", model: "\x1b[32m", dim: "\x1b[90m", accent: "\x1b[92m"},
}

func lookupPalette(name string) (palette, error) {
	for _, p := range palettes {
		if strings.EqualFold(p.name, name) {
			return p, nil
		}
	}
	return palette{}, fmt.Errorf("unknown theme %q (themes: %s)",
		name, strings.Join(live.DefaultThemes, ", "))
}

// terminalApp is the host UI surface: it implements live.AppController for
// the session's app-control tools and renders the conversation to out.
// Tool callbacks arrive on the session's dispatch goroutine while the event
// loop renders, so every write goes through the mutex.
type terminalApp struct {
	pipe   *capture.Pipeline
	logger *slog.Logger

	mu        sync.Mutex
	out       io.Writer
	pal       palette
	inputMode string
	convID    string
	onReset   func()
	interim   bool
}

func newTerminalApp(out io.Writer, pipe *capture.Pipeline, pal palette, textMode bool) *terminalApp {
	mode := "voice"
	if textMode {
		mode = "text"
	}
	return &terminalApp{
		out:       out,
		pipe:      pipe,
		pal:       pal,
		inputMode: mode,
		logger:    slog.Default(),
	}
}

func (a *terminalApp) CameraOn() bool { return a.pipe.VideoOn() }

func (a *terminalApp) SetCamera(on bool) {
	if err := a.pipe.SetVideo(on); err != nil {
		a.note("camera unavailable: %v", err)
		return
	}
	if on {
		a.note("camera on")
	} else {
		a.note("camera off")
	}
}

func (a *terminalApp) InputMode() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inputMode
}

func (a *terminalApp) SetInputMode(mode string) {
	a.mu.Lock()
	a.inputMode = mode
	a.mu.Unlock()
	if mode == "text" {
		a.note("input mode: text (mic muted, type your turns)")
	} else {
		a.note("input mode: voice")
	}
}

func (a *terminalApp) Theme() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pal.name
}

func (a *terminalApp) SetTheme(theme string) {
	pal, err := lookupPalette(theme)
	if err != nil {
		a.note("%v", err)
		return
	}
	a.mu.Lock()
	a.pal = pal
	a.mu.Unlock()
	a.note("theme: %s", pal.name)
}

func (a *terminalApp) ResetConversation() {
	a.mu.Lock()
	fn := a.onReset
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (a *terminalApp) setOnReset(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onReset = fn
}

func (a *terminalApp) conversationID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.convID
}

func (a *terminalApp) setConversationID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.convID = id
}

// renderInterim rewrites the single in-progress line with the current
// speaker's accumulated text.
func (a *terminalApp) renderInterim(speaker live.Speaker, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	color, label := a.pal.user, "you"
	if speaker == live.SpeakerModel {
		color, label = a.pal.model, "iris"
	}
	fmt.Fprintf(a.out, "%s%s%s ▸ %s%s", clearLine, color, label, text, ansiReset)
	a.interim = true
}

// renderEntry replaces the interim line with a finalized transcript entry.
func (a *terminalApp) renderEntry(e live.TranscriptEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearInterimLocked()
	color, label := a.pal.user, "you"
	if e.Speaker == live.SpeakerModel {
		color, label = a.pal.model, "iris"
	}
	fmt.Fprintf(a.out, "%s%s ▸ %s%s\n", color, label, e.Text, ansiReset)
	for _, c := range e.Citations {
		title := c.Title
		if title == "" {
			title = c.URI
		}
		fmt.Fprintf(a.out, "%s    ↳ %s · %s%s\n", a.pal.dim, title, c.URI, ansiReset)
	}
}

// note prints a dim status line, clearing any interim line first.
func (a *terminalApp) note(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearInterimLocked()
	fmt.Fprintf(a.out, "%s· %s%s\n", a.pal.dim, fmt.Sprintf(format, args...), ansiReset)
}

// banner prints an accented line.
func (a *terminalApp) banner(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearInterimLocked()
	fmt.Fprintf(a.out, "%s%s%s\n", a.pal.accent, fmt.Sprintf(format, args...), ansiReset)
}

func (a *terminalApp) clearInterimLocked() {
	if a.interim {
		fmt.Fprint(a.out, clearLine)
		a.interim = false
	}
}

// drainSpeaker feeds queued clips to the ffplay sink. Write hands the bytes
// to the player's buffer, so FinishHead follows immediately; the epoch keeps
// a Clear racing ahead of us harmless.
func drainSpeaker(ctx context.Context, q *live.PlaybackQueue, spk *capture.Speaker, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.Wake():
		}
		for {
			item, epoch, ok := q.StartNext()
			if !ok {
				break
			}
			if pcm := item.PCM(); len(pcm) > 0 {
				if err := spk.Write(pcm); err != nil {
					logger.Warn("speaker write failed", "err", err)
				}
			}
			q.FinishHead(epoch)
		}
	}
}

// turnRecorder accumulates one assistant turn of PCM and writes it out as a
// WAV file when the turn completes. The accumulator is bounded, so a runaway
// turn keeps only its newest audio.
type turnRecorder struct {
	dir  string
	turn int
	buf  *live.TurnAudio
}

func newTurnRecorder(dir string, output live.AudioConfig, maxMS int) *turnRecorder {
	return &turnRecorder{dir: dir, buf: live.NewTurnAudio(output, maxMS)}
}

func (r *turnRecorder) add(pcm []byte) {
	if r.dir == "" {
		return
	}
	r.buf.Write(pcm)
}

// drop discards the partial turn, used when playback is reset mid-turn.
func (r *turnRecorder) drop() {
	r.buf.Reset()
}

func (r *turnRecorder) flush(logger *slog.Logger) {
	if r.dir == "" || r.buf.Len() == 0 {
		return
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		logger.Warn("save-audio dir", "err", err)
		r.buf.Reset()
		return
	}
	r.turn++
	name := filepath.Join(r.dir, fmt.Sprintf("turn_%03d.wav", r.turn))
	if err := os.WriteFile(name, r.buf.WAV(), 0o644); err != nil {
		logger.Warn("save-audio write", "err", err)
	}
	r.buf.Reset()
}
