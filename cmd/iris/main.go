// Command iris is a voice-first Gemini Live client. It captures microphone
// audio (and optionally camera frames) with ffmpeg, streams them to the model,
// plays synthesized replies through ffplay, and renders rolling transcripts in
// the terminal. With -bridge it instead serves the WebSocket bridge so browser
// clients can hold the conversation.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/irislive/iris/internal/dotenv"
	"github.com/irislive/iris/pkg/capture"
	"github.com/irislive/iris/pkg/live"
	"github.com/irislive/iris/pkg/store"
)

func main() {
	if err := dotenv.Load(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "iris: %v\n", err)
		os.Exit(1)
	}
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iris: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()
	if cfg.BridgeAddr != "" {
		err = runBridge(ctx, cfg, os.Stderr)
	} else {
		err = run(ctx, cfg, os.Stdin, os.Stdout, os.Stderr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "iris: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func run(ctx context.Context, cfg cliConfig, in io.Reader, out, errOut io.Writer) error {
	logger := newLogger(errOut, cfg.Debug)

	pal, err := lookupPalette(cfg.Theme)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.storeConfig(), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	dialer, err := live.NewGeminiDialer(ctx, cfg.APIKey)
	if err != nil {
		return fmt.Errorf("gemini client: %w", err)
	}

	pipe, err := capture.NewPipeline(cfg.captureConfig(), logger)
	if err != nil {
		return err
	}
	if err := pipe.SetVideo(cfg.CameraOn); err != nil {
		return err
	}

	sc := cfg.sessionConfig()
	spk, err := capture.StartSpeaker(sc.Output.SampleRate)
	if err != nil {
		return fmt.Errorf("start speaker: %w", err)
	}
	defer spk.Close()

	app := newTerminalApp(out, pipe, pal, cfg.TextMode)

	reg := live.NewToolRegistry()
	if err := live.RegisterAppTools(reg, app, nil); err != nil {
		return err
	}
	if err := live.RegisterAssistantTools(reg, st); err != nil {
		return err
	}

	sess, err := live.NewSession(sc, dialer, reg)
	if err != nil {
		return err
	}
	defer sess.Close()

	pipe.OnAudioFrame(func(pcm []byte) {
		// Text mode keeps the pipeline warm but mutes the mic.
		if app.InputMode() == "text" {
			return
		}
		sess.SendAudioPCM(pcm)
	})
	pipe.OnVideoFrame(sess.SendVideoFrame)
	sess.SetMediaSource(pipe)

	convID, err := st.BeginConversation(ctx)
	if err != nil {
		return fmt.Errorf("begin conversation: %w", err)
	}
	app.setConversationID(convID)
	defer func() {
		if err := st.EndConversation(context.Background(), app.conversationID()); err != nil {
			logger.Warn("end conversation", "err", err)
		}
	}()

	app.setOnReset(func() {
		sess.ClearTranscript()
		bg := context.Background()
		if err := st.EndConversation(bg, app.conversationID()); err != nil {
			logger.Warn("end conversation", "err", err)
		}
		id, err := st.BeginConversation(bg)
		if err != nil {
			logger.Warn("begin conversation", "err", err)
			return
		}
		app.setConversationID(id)
		app.note("new conversation %s", id)
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := sess.Connect(runCtx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	go drainSpeaker(runCtx, sess.Playback(), spk, logger)

	rec := newTurnRecorder(cfg.SaveAudioDir, sc.Output, sc.MaxTurnAudioMS)
	lines := readLines(runCtx, in)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	app.banner("iris · %s · voice %s", cfg.Model, cfg.Voice)
	app.note("speak anytime, or type a line · /camera /mode /theme <name> /new /quit")

	for {
		select {
		case <-sigCh:
			sess.Disconnect()

		case line, ok := <-lines:
			if !ok {
				lines = nil
				sess.Disconnect()
				continue
			}
			handleLine(app, sess, line)

		case ev := <-sess.Events():
			switch e := ev.(type) {
			case *live.StateChangedEvent:
				if e.To == live.StateError {
					app.note("connection error, /quit to exit")
				}
			case *live.SessionStartedEvent:
				app.note("session %s", e.SessionID)
			case *live.InputTranscriptEvent:
				app.renderInterim(live.SpeakerUser, e.Text)
			case *live.OutputTranscriptEvent:
				app.renderInterim(live.SpeakerModel, e.Text)
			case *live.TranscriptEntryEvent:
				app.renderEntry(e.Entry)
				if err := st.SaveEntry(runCtx, app.conversationID(), e.Entry); err != nil {
					logger.Warn("save entry", "err", err)
				}
			case *live.ThinkingEvent:
				if e.Thinking {
					app.note("thinking…")
				}
			case *live.ExpressionEvent:
				if e.Expression != live.ExpressionNeutral {
					app.note("· %s ·", e.Expression)
				}
			case *live.AudioDeltaEvent:
				rec.add(e.Data)
			case *live.AudioResetEvent:
				rec.drop()
				if err := spk.Reset(); err != nil {
					logger.Warn("speaker reset", "err", err)
				}
				if e.Reason == "interrupted" {
					app.note("(interrupted)")
				}
			case *live.TurnCompleteEvent:
				rec.flush(logger)
			case *live.ToolCallEvent:
				for _, call := range e.Calls {
					app.note("tool %s", call.Name)
				}
			case *live.ErrorEvent:
				app.note("error: %s", e.Message)
			case *live.SessionClosedEvent:
				if ms := sess.Playback().PlayedMS(); ms > 0 {
					app.note("played %.1fs of speech, goodbye", float64(ms)/1000)
				} else {
					app.note("goodbye")
				}
				return nil
			}
		}
	}
}

// handleLine routes a typed line: slash commands drive the controller, plain
// text goes to the model.
func handleLine(app *terminalApp, sess *live.Session, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, "/") {
		if err := sess.SendText(line); err != nil {
			app.note("send failed: %v", err)
		}
		return
	}
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit", "/exit":
		sess.Disconnect()
	case "/camera":
		app.SetCamera(!app.CameraOn())
	case "/mode":
		if app.InputMode() == "voice" {
			app.SetInputMode("text")
		} else {
			app.SetInputMode("voice")
		}
	case "/theme":
		app.SetTheme(strings.TrimSpace(arg))
	case "/new":
		app.ResetConversation()
	default:
		app.note("unknown command %s", cmd)
	}
}

// readLines pumps stdin lines into a channel so the event loop can select
// over them. The channel closes on EOF.
func readLines(ctx context.Context, in io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
