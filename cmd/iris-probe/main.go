// Command iris-probe is a smoke client for the iris bridge. It dials the
// /v1/live endpoint, performs the hello handshake, streams one input (a WAV
// file, a synthesized tone, or a typed line), prints the frames that come
// back, and reports how much assistant audio the turn produced.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/irislive/iris/pkg/bridge"
	"github.com/irislive/iris/pkg/live"
)

const (
	inputRateHz  = 16000
	outputRateHz = 24000

	// silenceTailMS of zeros after the payload lets the bridge's VAD see
	// the turn end.
	silenceTailMS = 1000

	probeIOTimeout = 5 * time.Second
)

type probeConfig struct {
	URL     string
	WAVPath string
	Text    string
	ToneMS  int
	FrameMS int
	Timeout time.Duration
}

func parseProbeConfig(args []string, getenv func(string) string) (probeConfig, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	defURL := strings.TrimSpace(getenv("IRIS_BRIDGE_URL"))
	if defURL == "" {
		defURL = "ws://127.0.0.1:8642/v1/live"
	}

	cfg := probeConfig{}
	fs := flag.NewFlagSet("iris-probe", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.URL, "url", defURL, "bridge URL (ws://, wss://, http:// or https://)")
	fs.StringVar(&cfg.WAVPath, "wav", "", "stream this 16kHz mono 16-bit WAV as microphone audio")
	fs.StringVar(&cfg.Text, "text", "", "send this line as a typed turn instead of audio")
	fs.IntVar(&cfg.ToneMS, "tone-ms", 0, "stream a 440Hz test tone of this length")
	fs.IntVar(&cfg.FrameMS, "frame-ms", 20, "audio frame duration")
	fs.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "overall probe deadline")
	if err := fs.Parse(args); err != nil {
		return probeConfig{}, err
	}

	inputs := 0
	if cfg.WAVPath != "" {
		inputs++
	}
	if cfg.Text != "" {
		inputs++
	}
	if cfg.ToneMS > 0 {
		inputs++
	}
	if inputs > 1 {
		return probeConfig{}, fmt.Errorf("pick one of -wav, -text, -tone-ms")
	}
	if inputs == 0 {
		cfg.ToneMS = 1500
	}
	if cfg.FrameMS < 10 || cfg.FrameMS > 100 {
		return probeConfig{}, fmt.Errorf("frame-ms must be in [10, 100], got %d", cfg.FrameMS)
	}
	if cfg.Timeout <= 0 {
		return probeConfig{}, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	if _, err := probeWSURL(cfg.URL); err != nil {
		return probeConfig{}, err
	}
	return cfg, nil
}

// probeWSURL normalizes the target into a ws(s) URL, defaulting the path to
// the bridge's live endpoint.
func probeWSURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", raw, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid url scheme %q (want ws, wss, http or https)", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/live"
	}
	return u.String(), nil
}

func main() {
	cfg, err := parseProbeConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "iris-probe: %v\n", err)
		os.Exit(1)
	}
	if err := runProbe(context.Background(), cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "iris-probe: %v\n", err)
		os.Exit(1)
	}
}

func runProbe(ctx context.Context, cfg probeConfig, out io.Writer) error {
	wsURL, err := probeWSURL(cfg.URL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: probeIOTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (http %d)", wsURL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	ack, err := handshake(conn)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session %s · in %d Hz · out %d Hz\n",
		ack.SessionID, ack.AudioIn.SampleRateHz, ack.AudioOut.SampleRateHz)

	done := make(chan struct{})
	readErr := make(chan error, 1)
	go func() { readErr <- readFrames(conn, out, done) }()

	if err := sendInput(conn, cfg); err != nil {
		return fmt.Errorf("send input: %w", err)
	}

	select {
	case <-done:
	case err := <-readErr:
		if err != nil {
			return err
		}
		return fmt.Errorf("connection closed before the turn completed")
	case <-ctx.Done():
		return fmt.Errorf("no completed turn within %s", cfg.Timeout)
	}

	// The turn landed; ask the bridge to wind the session down and wait
	// for the close to come back.
	_ = conn.SetWriteDeadline(time.Now().Add(probeIOTimeout))
	_ = conn.WriteJSON(bridge.ClientControl{Type: "control", Op: bridge.ControlEndSession})
	select {
	case <-readErr:
	case <-time.After(probeIOTimeout):
	}
	return nil
}

// handshake sends the hello frame and verifies the ack.
func handshake(conn *websocket.Conn) (bridge.ServerHelloAck, error) {
	hello := bridge.ClientHello{
		Type:            "hello",
		ProtocolVersion: bridge.ProtocolVersion1,
		Client:          bridge.HelloClient{Name: "iris-probe", Platform: "cli"},
		AudioIn: bridge.AudioFormat{
			Encoding:     bridge.EncodingPCMS16LE,
			SampleRateHz: inputRateHz,
			Channels:     1,
		},
		AudioOut: bridge.AudioFormat{
			Encoding:     bridge.EncodingPCMS16LE,
			SampleRateHz: outputRateHz,
			Channels:     1,
		},
	}

	_ = conn.SetWriteDeadline(time.Now().Add(probeIOTimeout))
	if err := conn.WriteJSON(hello); err != nil {
		return bridge.ServerHelloAck{}, fmt.Errorf("send hello: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(probeIOTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return bridge.ServerHelloAck{}, fmt.Errorf("read hello_ack: %w", err)
	}

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return bridge.ServerHelloAck{}, fmt.Errorf("invalid hello_ack: %w", err)
	}
	if env.Type == "error" {
		var f bridge.ServerError
		_ = json.Unmarshal(data, &f)
		return bridge.ServerHelloAck{}, fmt.Errorf("bridge rejected hello: %s (%s)", f.Message, f.Code)
	}
	if env.Type != "hello_ack" {
		return bridge.ServerHelloAck{}, fmt.Errorf("expected hello_ack, got %q", env.Type)
	}

	var ack bridge.ServerHelloAck
	if err := json.Unmarshal(data, &ack); err != nil {
		return bridge.ServerHelloAck{}, fmt.Errorf("invalid hello_ack: %w", err)
	}
	if ack.SessionID == "" {
		return bridge.ServerHelloAck{}, fmt.Errorf("hello_ack missing session_id")
	}
	_ = conn.SetReadDeadline(time.Time{})
	_ = conn.SetWriteDeadline(time.Time{})
	return ack, nil
}

// sendInput streams the configured stimulus: a typed line in one frame, or
// PCM paced at real time in frame-ms chunks with a silence tail.
func sendInput(conn *websocket.Conn, cfg probeConfig) error {
	if cfg.Text != "" {
		_ = conn.SetWriteDeadline(time.Now().Add(probeIOTimeout))
		return conn.WriteJSON(bridge.ClientText{Type: "text", Text: cfg.Text})
	}

	var pcm []byte
	if cfg.WAVPath != "" {
		var err error
		pcm, err = readWAVPCM(cfg.WAVPath, inputRateHz)
		if err != nil {
			return err
		}
	} else {
		pcm = tonePCM(cfg.ToneMS, inputRateHz)
	}
	pcm = append(pcm, silencePCM(silenceTailMS, inputRateHz)...)

	frameBytes := inputRateHz * 2 * cfg.FrameMS / 1000
	ticker := time.NewTicker(time.Duration(cfg.FrameMS) * time.Millisecond)
	defer ticker.Stop()
	for _, frame := range splitFrames(pcm, frameBytes) {
		<-ticker.C
		_ = conn.SetWriteDeadline(time.Now().Add(probeIOTimeout))
		if err := conn.WriteJSON(bridge.ClientAudioFrame{
			Type:    "audio_frame",
			DataB64: base64.StdEncoding.EncodeToString(frame),
		}); err != nil {
			return err
		}
	}
	return nil
}

// readFrames prints server frames until the connection drops. The first
// finalized model entry marks the turn as complete; assistant audio frames
// always precede it on the wire, so the stats line is final when it prints.
func readFrames(conn *websocket.Conn, out io.Writer, done chan<- struct{}) error {
	audioBytes := 0
	audioMS := 0
	signaled := false
	finish := func() {
		if !signaled {
			signaled = true
			close(done)
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			return fmt.Errorf("bad frame from bridge: %w", err)
		}
		switch env.Type {
		case "state":
			var f bridge.ServerState
			if err := json.Unmarshal(data, &f); err == nil {
				fmt.Fprintf(out, "state: %s\n", f.State)
			}
		case "transcript_delta":
			// Interim text; only finalized entries are printed.
		case "transcript_entry":
			var f bridge.ServerTranscriptEntry
			if err := json.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("bad transcript_entry: %w", err)
			}
			fmt.Fprintf(out, "%s: %s\n", f.Entry.Speaker, f.Entry.Text)
			if f.Entry.Speaker == live.SpeakerModel {
				fmt.Fprintf(out, "assistant audio: %d bytes (%d ms)\n", audioBytes, audioMS)
				finish()
			}
		case "thinking":
			var f bridge.ServerThinking
			if err := json.Unmarshal(data, &f); err == nil && f.Thinking {
				fmt.Fprintln(out, "thinking")
			}
		case "expression":
			var f bridge.ServerExpression
			if err := json.Unmarshal(data, &f); err == nil {
				fmt.Fprintf(out, "expression: %s\n", f.Expression)
			}
		case "assistant_audio":
			var f bridge.ServerAssistantAudio
			if err := json.Unmarshal(data, &f); err != nil {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(f.DataB64)
			if err != nil {
				continue
			}
			audioBytes += len(raw)
			audioMS += f.DurationMS
		case "audio_reset":
			var f bridge.ServerAudioReset
			if err := json.Unmarshal(data, &f); err == nil {
				fmt.Fprintf(out, "audio reset: %s\n", f.Reason)
			}
		case "app_command":
			var f bridge.ServerAppCommand
			if err := json.Unmarshal(data, &f); err == nil {
				fmt.Fprintf(out, "app command: %s\n", f.Name)
			}
		case "error":
			var f bridge.ServerError
			if err := json.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("bad error frame: %w", err)
			}
			if f.Close {
				return fmt.Errorf("bridge error: %s (%s)", f.Message, f.Code)
			}
			fmt.Fprintf(out, "error: %s (%s)\n", f.Message, f.Code)
		}
	}
}
