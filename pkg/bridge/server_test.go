package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/irislive/iris/pkg/live"
)

// stubStream is a scripted model stream behind the public live interfaces.
// Tests feed it server events and inspect what the session sent upstream.
type stubStream struct {
	mu     sync.Mutex
	texts  []string
	mimes  []string
	resps  [][]live.ToolResponse
	inbox  chan *live.ServerEvent
	closed chan struct{}
	once   sync.Once
}

func newStubStream() *stubStream {
	return &stubStream{
		inbox:  make(chan *live.ServerEvent, 32),
		closed: make(chan struct{}),
	}
}

func (f *stubStream) SendMedia(data []byte, mimeType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mimes = append(f.mimes, mimeType)
	return nil
}

func (f *stubStream) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *stubStream) SendToolResponses(resps []live.ToolResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resps = append(f.resps, resps)
	return nil
}

func (f *stubStream) Receive() (*live.ServerEvent, error) {
	select {
	case ev := <-f.inbox:
		return ev, nil
	case <-f.closed:
		return nil, errors.New("stream closed")
	}
}

func (f *stubStream) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *stubStream) deliver(ev *live.ServerEvent) { f.inbox <- ev }

func (f *stubStream) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *stubStream) sentMimes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.mimes...)
}

func (f *stubStream) responseBatches() [][]live.ToolResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]live.ToolResponse(nil), f.resps...)
}

type stubDialer struct {
	mu     sync.Mutex
	stream *stubStream
	dials  int
}

func (d *stubDialer) Dial(ctx context.Context, cfg live.ModelConfig) (live.ModelStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	return d.stream, nil
}

func (d *stubDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type bridgeHarness struct {
	server *httptest.Server
	dialer *stubDialer

	mu   sync.Mutex
	sess *live.Session
}

func (h *bridgeHarness) session() *live.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess
}

func newTestBridge(t *testing.T) (*bridgeHarness, string) {
	t.Helper()
	h := &bridgeHarness{dialer: &stubDialer{stream: newStubStream()}}
	factory := func(ctrl live.AppController) (*live.Session, error) {
		reg := live.NewToolRegistry()
		if err := live.RegisterAppTools(reg, ctrl, nil); err != nil {
			return nil, err
		}
		sess, err := live.NewSession(live.DefaultSessionConfig(), h.dialer, reg)
		if err != nil {
			return nil, err
		}
		h.mu.Lock()
		h.sess = sess
		h.mu.Unlock()
		return sess, nil
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(Config{}, factory, logger)
	h.server = httptest.NewServer(srv.Handler())
	t.Cleanup(h.server.Close)
	return h, "ws" + strings.TrimPrefix(h.server.URL, "http") + "/v1/live"
}

func baseHello(version string) map[string]any {
	return map[string]any{
		"type":             "hello",
		"protocol_version": version,
		"client":           map[string]any{"name": "iris-test", "version": "0.0.1", "platform": "test"},
		"audio_in":         map[string]any{"encoding": "pcm_s16le", "sample_rate_hz": 16000, "channels": 1},
		"audio_out":        map[string]any{"encoding": "pcm_s16le", "sample_rate_hz": 24000, "channels": 1},
	}
}

func mustDialWS(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	return conn
}

func mustWriteJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func mustReadJSON(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	out, err := readJSON(conn, timeout)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	return out
}

func readJSON(conn *websocket.Conn, timeout time.Duration) (map[string]any, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// readUntilType discards frames until one of the wanted type arrives. Error
// frames fail the test unless they are what the caller asked for.
func readUntilType(t *testing.T, conn *websocket.Conn, want string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		msg, err := readJSON(conn, time.Until(deadline))
		if err != nil {
			t.Fatalf("waiting for %q frame: %v", want, err)
		}
		if msg["type"] == "error" && want != "error" {
			t.Fatalf("received error frame: %+v", msg)
		}
		if msg["type"] == want {
			return msg
		}
	}
	t.Fatalf("no %q frame within %v", want, timeout)
	return nil
}

// dialLive completes the handshake and returns the upgraded connection.
func dialLive(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn := mustDialWS(t, wsURL)
	t.Cleanup(func() { conn.Close() })
	mustWriteJSON(t, conn, baseHello("1"))
	ack := mustReadJSON(t, conn, 2*time.Second)
	if ack["type"] != "hello_ack" {
		t.Fatalf("ack type=%v (%+v)", ack["type"], ack)
	}
	return conn
}

func waitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealthz(t *testing.T) {
	h, _ := newTestBridge(t)
	resp, err := http.Get(h.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok\n" {
		t.Fatalf("body=%q", body)
	}
	if got := resp.Header.Get("X-Request-ID"); !strings.HasPrefix(got, "req_") {
		t.Fatalf("X-Request-ID=%q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestBridge(t)
	resp, err := http.Get(h.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "iris_bridge_active_sessions") {
		t.Fatalf("metrics output missing bridge gauges")
	}
}

func TestLiveRejectsNonGet(t *testing.T) {
	h, _ := newTestBridge(t)
	resp, err := http.Post(h.server.URL+"/v1/live", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST /v1/live: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestLiveHandshakeUnsupportedVersion(t *testing.T) {
	_, wsURL := newTestBridge(t)
	conn := mustDialWS(t, wsURL)
	defer conn.Close()

	mustWriteJSON(t, conn, baseHello("2"))
	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "error" {
		t.Fatalf("type=%v", msg["type"])
	}
	if msg["code"] != "unsupported_version" {
		t.Fatalf("code=%v", msg["code"])
	}
}

func TestLiveHandshakeWrongInputRate(t *testing.T) {
	_, wsURL := newTestBridge(t)
	conn := mustDialWS(t, wsURL)
	defer conn.Close()

	hello := baseHello("1")
	hello["audio_in"] = map[string]any{"encoding": "pcm_s16le", "sample_rate_hz": 44100, "channels": 1}
	mustWriteJSON(t, conn, hello)

	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "error" {
		t.Fatalf("type=%v", msg["type"])
	}
	if msg["code"] != "unsupported" {
		t.Fatalf("code=%v", msg["code"])
	}
	if msg["param"] != "audio_in" {
		t.Fatalf("param=%v", msg["param"])
	}
}

func TestLiveHandshakeFirstFrameMustBeHello(t *testing.T) {
	_, wsURL := newTestBridge(t)
	conn := mustDialWS(t, wsURL)
	defer conn.Close()

	mustWriteJSON(t, conn, map[string]any{"type": "text", "text": "hi"})
	msg := mustReadJSON(t, conn, 2*time.Second)
	if msg["type"] != "error" {
		t.Fatalf("type=%v", msg["type"])
	}
	if msg["code"] != "bad_request" {
		t.Fatalf("code=%v", msg["code"])
	}
}

func TestLiveHelloAck(t *testing.T) {
	h, wsURL := newTestBridge(t)
	conn := mustDialWS(t, wsURL)
	defer conn.Close()

	mustWriteJSON(t, conn, baseHello("1"))
	ack := mustReadJSON(t, conn, 2*time.Second)
	if ack["type"] != "hello_ack" {
		t.Fatalf("type=%v (%+v)", ack["type"], ack)
	}
	if ack["protocol_version"] != "1" {
		t.Fatalf("protocol_version=%v", ack["protocol_version"])
	}
	id, _ := ack["session_id"].(string)
	if !strings.HasPrefix(id, "sess_") {
		t.Fatalf("session_id=%q", id)
	}
	limits, ok := ack["limits"].(map[string]any)
	if !ok {
		t.Fatalf("limits missing: %+v", ack)
	}
	if limits["max_audio_frame_bytes"].(float64) != 32*1024 {
		t.Fatalf("max_audio_frame_bytes=%v", limits["max_audio_frame_bytes"])
	}

	// The session's state transitions arrive right after the ack.
	st := readUntilType(t, conn, "state", 2*time.Second)
	if st["state"] != "connecting" {
		t.Fatalf("state=%v", st["state"])
	}
	st = readUntilType(t, conn, "state", 2*time.Second)
	if st["state"] != "connected" {
		t.Fatalf("state=%v", st["state"])
	}
	if got := h.dialer.dialCount(); got != 1 {
		t.Fatalf("dials=%d, want 1", got)
	}
}

func TestLiveTextRoundTrip(t *testing.T) {
	h, wsURL := newTestBridge(t)
	conn := dialLive(t, wsURL)

	mustWriteJSON(t, conn, map[string]any{"type": "text", "text": "what is the tallest mountain?"})
	waitUntil(t, 2*time.Second, "text forwarded upstream", func() bool {
		texts := h.dialer.stream.sentTexts()
		return len(texts) == 1 && texts[0] == "what is the tallest mountain?"
	})

	// Typed input shows up in the transcript as the user speaker.
	msg := readUntilType(t, conn, "transcript_delta", 2*time.Second)
	if msg["speaker"] != "user" {
		t.Fatalf("speaker=%v", msg["speaker"])
	}

	h.dialer.stream.deliver(&live.ServerEvent{OutputTranscript: "Mount Everest."})
	msg = readUntilType(t, conn, "transcript_delta", 2*time.Second)
	if msg["speaker"] != "model" {
		t.Fatalf("speaker=%v", msg["speaker"])
	}
	if msg["delta"] != "Mount Everest." {
		t.Fatalf("delta=%v", msg["delta"])
	}
}

func TestLiveAudioFrameForwarding(t *testing.T) {
	h, wsURL := newTestBridge(t)
	conn := dialLive(t, wsURL)

	pcm := make([]byte, 640)
	mustWriteJSON(t, conn, map[string]any{
		"type":     "audio_frame",
		"data_b64": base64.StdEncoding.EncodeToString(pcm),
	})

	waitUntil(t, 2*time.Second, "audio forwarded upstream", func() bool {
		for _, m := range h.dialer.stream.sentMimes() {
			if m == "audio/pcm;rate=16000" {
				return true
			}
		}
		return false
	})
}

func TestLiveVideoFrameForwarding(t *testing.T) {
	h, wsURL := newTestBridge(t)
	conn := dialLive(t, wsURL)

	jpeg := []byte{0xff, 0xd8, 0xff, 0xe0, 0x01, 0x02, 0xff, 0xd9}
	mustWriteJSON(t, conn, map[string]any{
		"type":     "video_frame",
		"data_b64": base64.StdEncoding.EncodeToString(jpeg),
	})

	waitUntil(t, 2*time.Second, "video forwarded upstream", func() bool {
		for _, m := range h.dialer.stream.sentMimes() {
			if m == "image/jpeg" {
				return true
			}
		}
		return false
	})
}

func TestLiveAssistantAudioRelay(t *testing.T) {
	h, wsURL := newTestBridge(t)
	conn := dialLive(t, wsURL)

	pcm := make([]byte, 4800) // 100ms at 24kHz s16le mono
	for i := range pcm {
		pcm[i] = byte(i)
	}
	h.dialer.stream.deliver(&live.ServerEvent{Audio: [][]byte{pcm}})

	msg := readUntilType(t, conn, "assistant_audio", 2*time.Second)
	if msg["sample_rate_hz"].(float64) != 24000 {
		t.Fatalf("sample_rate_hz=%v", msg["sample_rate_hz"])
	}
	data, err := base64.StdEncoding.DecodeString(msg["data_b64"].(string))
	if err != nil {
		t.Fatalf("decode data_b64: %v", err)
	}
	if len(data) != len(pcm) {
		t.Fatalf("len=%d, want %d", len(data), len(pcm))
	}

	// The browser owns playback, so the local queue must stay drained.
	waitUntil(t, 2*time.Second, "playback queue drained", func() bool {
		return h.session().Playback().Len() == 0
	})
}

func TestLiveTurnCompleteRelaysEntries(t *testing.T) {
	h, wsURL := newTestBridge(t)
	conn := dialLive(t, wsURL)

	h.dialer.stream.deliver(&live.ServerEvent{InputTranscript: "what is the tallest mountain?"})
	h.dialer.stream.deliver(&live.ServerEvent{OutputTranscript: "Mount Everest."})
	h.dialer.stream.deliver(&live.ServerEvent{TurnComplete: true})

	msg := readUntilType(t, conn, "transcript_entry", 2*time.Second)
	entry, ok := msg["entry"].(map[string]any)
	if !ok {
		t.Fatalf("entry missing: %+v", msg)
	}
	if entry["speaker"] != "user" {
		t.Fatalf("speaker=%v", entry["speaker"])
	}
	if entry["text"] != "what is the tallest mountain?" {
		t.Fatalf("text=%v", entry["text"])
	}

	msg = readUntilType(t, conn, "transcript_entry", 2*time.Second)
	entry = msg["entry"].(map[string]any)
	if entry["speaker"] != "model" {
		t.Fatalf("speaker=%v", entry["speaker"])
	}
}

func TestLiveToolCallRelaysAppCommand(t *testing.T) {
	h, wsURL := newTestBridge(t)
	conn := dialLive(t, wsURL)

	h.dialer.stream.deliver(&live.ServerEvent{ToolCalls: []live.ToolCall{{
		ID:   "call_1",
		Name: live.ToolChangeTheme,
		Args: map[string]any{"theme": "ocean"},
	}}})

	msg := readUntilType(t, conn, "app_command", 2*time.Second)
	if msg["name"] != live.ToolChangeTheme {
		t.Fatalf("name=%v", msg["name"])
	}
	args, _ := msg["args"].(map[string]any)
	if args["theme"] != "ocean" {
		t.Fatalf("args=%v", msg["args"])
	}

	waitUntil(t, 2*time.Second, "tool response sent upstream", func() bool {
		batches := h.dialer.stream.responseBatches()
		return len(batches) == 1 && len(batches[0]) == 1 && batches[0][0].ID == "call_1"
	})
}

func TestLiveInterruptControl(t *testing.T) {
	_, wsURL := newTestBridge(t)
	conn := dialLive(t, wsURL)

	mustWriteJSON(t, conn, map[string]any{"type": "control", "op": "interrupt"})
	msg := readUntilType(t, conn, "audio_reset", 2*time.Second)
	if msg["reason"] != "client interrupt" {
		t.Fatalf("reason=%v", msg["reason"])
	}
}

func TestLiveNewConversationControl(t *testing.T) {
	h, wsURL := newTestBridge(t)
	conn := dialLive(t, wsURL)

	h.dialer.stream.deliver(&live.ServerEvent{InputTranscript: "hello"})
	h.dialer.stream.deliver(&live.ServerEvent{TurnComplete: true})
	readUntilType(t, conn, "transcript_entry", 2*time.Second)

	mustWriteJSON(t, conn, map[string]any{"type": "control", "op": "new_conversation"})
	msg := readUntilType(t, conn, "app_command", 2*time.Second)
	if msg["name"] != live.ToolNewConversation {
		t.Fatalf("name=%v", msg["name"])
	}
	waitUntil(t, 2*time.Second, "transcript cleared", func() bool {
		return len(h.session().Entries()) == 0
	})
}

func TestLiveEndSessionControl(t *testing.T) {
	_, wsURL := newTestBridge(t)
	conn := dialLive(t, wsURL)

	mustWriteJSON(t, conn, map[string]any{"type": "control", "op": "end_session"})

	// The bridge finishes relaying, sends a close frame, and drops the
	// connection.
	var readErr error
	for i := 0; i < 32; i++ {
		if _, err := readJSON(conn, 2*time.Second); err != nil {
			readErr = err
			break
		}
	}
	if readErr == nil {
		t.Fatalf("connection still open after end_session")
	}
}

func TestLiveBadFramesAreNotFatal(t *testing.T) {
	h, wsURL := newTestBridge(t)
	conn := dialLive(t, wsURL)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{nope`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readUntilType(t, conn, "error", 2*time.Second)
	if msg["code"] != "bad_request" {
		t.Fatalf("code=%v", msg["code"])
	}

	mustWriteJSON(t, conn, map[string]any{"type": "audio_frame"})
	msg = readUntilType(t, conn, "error", 2*time.Second)
	if msg["param"] != "data_b64" {
		t.Fatalf("param=%v", msg["param"])
	}

	// The connection survives protocol errors.
	mustWriteJSON(t, conn, map[string]any{"type": "text", "text": "still here"})
	waitUntil(t, 2*time.Second, "text forwarded upstream", func() bool {
		texts := h.dialer.stream.sentTexts()
		return len(texts) == 1 && texts[0] == "still here"
	})
}

func TestLiveSecondHelloRejected(t *testing.T) {
	_, wsURL := newTestBridge(t)
	conn := dialLive(t, wsURL)

	mustWriteJSON(t, conn, baseHello("1"))
	msg := readUntilType(t, conn, "error", 2*time.Second)
	if msg["code"] != "bad_request" {
		t.Fatalf("code=%v", msg["code"])
	}
}
