package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/irislive/iris/pkg/live"
)

// LiveHandler upgrades /v1/live requests and runs one live session per
// connection.
type LiveHandler struct {
	Config     Config
	Logger     *slog.Logger
	Metrics    *Metrics
	NewSession SessionFactory
}

func (h LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if h.NewSession == nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", "bridge has no session factory")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.Config.MaxJSONMessageBytes)

	hello, ok := h.readHello(conn)
	if !ok {
		return
	}

	ctrl := newWSController()
	sess, err := h.NewSession(ctrl)
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize live session", "")
		return
	}
	defer sess.Close()
	ctrl.setOnReset(sess.ClearTranscript)

	if err := sess.Connect(r.Context()); err != nil {
		h.writeWSError(conn, "connect_failed", err.Error(), "")
		return
	}

	ack := ServerHelloAck{
		Type:            "hello_ack",
		ProtocolVersion: ProtocolVersion1,
		SessionID:       sess.SessionID(),
		AudioIn:         hello.AudioIn,
		AudioOut:        hello.AudioOut,
		Limits: &HelloAckLimits{
			MaxAudioFrameBytes:  h.Config.MaxAudioFrameBytes,
			MaxJSONMessageBytes: int(h.Config.MaxJSONMessageBytes),
		},
	}
	if err := conn.WriteJSON(ack); err != nil {
		return
	}

	if h.Metrics != nil {
		h.Metrics.SessionsStarted.Inc()
		h.Metrics.ActiveSessions.Inc()
		defer h.Metrics.ActiveSessions.Dec()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &wsSession{
		cfg:     h.Config,
		metrics: h.Metrics,
		conn:    conn,
		sess:    sess,
		ctrl:    ctrl,
		out:     make(chan []byte, 256),
		ctx:     ctx,
		cancel:  cancel,
	}

	_ = conn.SetReadDeadline(time.Now().Add(h.Config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.Config.ReadTimeout))
	})

	if h.Logger != nil {
		reqID, _ := RequestIDFrom(r.Context())
		h.Logger.Info("live session started", "session_id", sess.SessionID(), "request_id", reqID)
	}

	go c.writeLoop()
	go c.relayLoop()
	c.readLoop()

	if h.Logger != nil {
		h.Logger.Info("live session ended", "session_id", sess.SessionID())
	}
}

// readHello enforces the handshake: first frame hello, protocol version 1,
// and the exact audio formats the live model speaks.
func (h LiveHandler) readHello(conn *websocket.Conn) (ClientHello, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(h.Config.HandshakeTimeout))
	messageType, first, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read hello", "")
		return ClientHello{}, false
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be hello", "")
		return ClientHello{}, false
	}
	decoded, err := DecodeClientMessage(first)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			h.writeWSError(conn, de.Code, de.Message, de.Param)
		} else {
			h.writeWSError(conn, "bad_request", "invalid hello frame", "")
		}
		return ClientHello{}, false
	}
	hello, ok := decoded.(ClientHello)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be hello", "")
		return ClientHello{}, false
	}
	if strings.TrimSpace(hello.ProtocolVersion) != ProtocolVersion1 {
		h.writeWSError(conn, "unsupported_version", "unsupported protocol_version", "protocol_version")
		return ClientHello{}, false
	}
	if hello.AudioIn.Encoding != EncodingPCMS16LE || hello.AudioIn.SampleRateHz != 16000 || hello.AudioIn.Channels != 1 {
		h.writeWSError(conn, "unsupported", "audio_in must be pcm_s16le @16000Hz mono", "audio_in")
		return ClientHello{}, false
	}
	if hello.AudioOut.Encoding != EncodingPCMS16LE || hello.AudioOut.SampleRateHz != 24000 || hello.AudioOut.Channels != 1 {
		h.writeWSError(conn, "unsupported", "audio_out must be pcm_s16le @24000Hz mono", "audio_out")
		return ClientHello{}, false
	}
	_ = conn.SetReadDeadline(time.Time{})
	return hello, true
}

func (h LiveHandler) writeWSError(conn *websocket.Conn, code, message, param string) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteJSON(ServerError{Type: "error", Code: code, Message: message, Param: param, Close: true})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// wsSession is the per-connection state: one writer goroutine owns the
// socket, the relay goroutine translates session events, and the read loop
// dispatches client frames.
type wsSession struct {
	cfg     Config
	metrics *Metrics
	conn    *websocket.Conn
	sess    *live.Session
	ctrl    *wsController
	out     chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
}

// enqueue marshals a frame for the writer. Droppable frames (assistant
// audio) are discarded under backpressure; everything else waits.
func (c *wsSession) enqueue(v any, droppable bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if droppable {
		select {
		case c.out <- data:
		default:
			if c.metrics != nil {
				c.metrics.EventsDropped.Inc()
			}
		}
		return
	}
	select {
	case c.out <- data:
	case <-c.ctx.Done():
	}
}

func (c *wsSession) writeLoop() {
	ping := time.NewTicker(c.cfg.PingInterval)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		select {
		case <-c.ctx.Done():
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.cancel()
				return
			}
		case data := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}
		}
	}
}

func (c *wsSession) relayLoop() {
	defer c.cancel()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.sess.Done():
			return
		case ev := <-c.sess.Events():
			c.relayEvent(ev)
			if _, closed := ev.(*live.SessionClosedEvent); closed {
				return
			}
		}
	}
}

func (c *wsSession) relayEvent(ev live.Event) {
	switch e := ev.(type) {
	case *live.StateChangedEvent:
		c.enqueue(ServerState{Type: "state", State: e.To.String()}, false)
	case *live.InputTranscriptEvent:
		c.enqueue(ServerTranscriptDelta{Type: "transcript_delta", Speaker: "user", Delta: e.Delta, Text: e.Text}, false)
	case *live.OutputTranscriptEvent:
		c.enqueue(ServerTranscriptDelta{Type: "transcript_delta", Speaker: "model", Delta: e.Delta, Text: e.Text}, false)
	case *live.TranscriptEntryEvent:
		c.enqueue(ServerTranscriptEntry{Type: "transcript_entry", Entry: e.Entry}, false)
	case *live.ThinkingEvent:
		c.enqueue(ServerThinking{Type: "thinking", Thinking: e.Thinking}, false)
	case *live.ExpressionEvent:
		c.enqueue(ServerExpression{Type: "expression", Expression: string(e.Expression)}, false)
	case *live.AudioDeltaEvent:
		c.drainPlayback()
		c.enqueue(ServerAssistantAudio{
			Type:         "assistant_audio",
			DataB64:      base64.StdEncoding.EncodeToString(e.Data),
			SampleRateHz: e.SampleRate,
			DurationMS:   e.DurationMS,
		}, true)
	case *live.AudioResetEvent:
		c.enqueue(ServerAudioReset{Type: "audio_reset", Reason: e.Reason}, false)
	case *live.AppCommandEvent:
		c.enqueue(ServerAppCommand{Type: "app_command", Name: e.Name, Args: e.Args}, false)
	case *live.ErrorEvent:
		if c.metrics != nil {
			c.metrics.SessionErrors.Inc()
		}
		c.enqueue(ServerError{Type: "error", Code: e.Code, Message: e.Message}, false)
	}
}

// drainPlayback keeps the session's local queue empty. The browser owns
// playback; clips reach it as assistant_audio frames.
func (c *wsSession) drainPlayback() {
	q := c.sess.Playback()
	for {
		_, epoch, ok := q.StartNext()
		if !ok {
			return
		}
		q.FinishHead(epoch)
	}
}

func (c *wsSession) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.cancel()
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))

		decoded, err := DecodeClientMessage(data)
		if err != nil {
			// Protocol errors after the handshake are not fatal.
			var de *DecodeError
			if errors.As(err, &de) {
				c.enqueue(ServerError{Type: "error", Code: de.Code, Message: de.Message, Param: de.Param}, false)
			}
			continue
		}

		switch msg := decoded.(type) {
		case ClientHello:
			c.enqueue(ServerError{Type: "error", Code: "bad_request", Message: "hello is only valid as the first frame"}, false)
		case ClientAudioFrame:
			c.countFrame("audio")
			pcm, err := base64.StdEncoding.DecodeString(msg.DataB64)
			if err != nil {
				c.enqueue(ServerError{Type: "error", Code: "bad_request", Message: "audio_frame.data_b64 is not valid base64", Param: "data_b64"}, false)
				continue
			}
			if len(pcm) > c.cfg.MaxAudioFrameBytes {
				c.enqueue(ServerError{Type: "error", Code: "bad_request", Message: "audio frame too large", Param: "data_b64"}, false)
				continue
			}
			c.sess.SendAudioPCM(pcm)
		case ClientVideoFrame:
			c.countFrame("video")
			jpeg, err := base64.StdEncoding.DecodeString(msg.DataB64)
			if err != nil {
				c.enqueue(ServerError{Type: "error", Code: "bad_request", Message: "video_frame.data_b64 is not valid base64", Param: "data_b64"}, false)
				continue
			}
			c.sess.SendVideoFrame(jpeg)
		case ClientText:
			c.countFrame("text")
			if err := c.sess.SendText(msg.Text); err != nil {
				c.enqueue(ServerError{Type: "error", Code: "send_failed", Message: err.Error()}, false)
			}
		case ClientControl:
			if c.handleControl(msg.Op) {
				c.cancel()
				return
			}
		}
	}
}

// handleControl runs a client control operation. Returns true when the
// session should end.
func (c *wsSession) handleControl(op string) bool {
	switch op {
	case ControlInterrupt:
		c.sess.Playback().Clear()
		c.enqueue(ServerAudioReset{Type: "audio_reset", Reason: "client interrupt"}, false)
	case ControlNewConversation:
		c.ctrl.ResetConversation()
		c.enqueue(ServerAppCommand{Type: "app_command", Name: live.ToolNewConversation}, false)
	case ControlEndSession:
		c.sess.Disconnect()
		return true
	}
	return false
}

func (c *wsSession) countFrame(kind string) {
	if c.metrics != nil {
		c.metrics.FramesIn.WithLabelValues(kind).Inc()
	}
}

// wsController mirrors the browser's app state so control tools can check
// and mutate it; the resulting app_command frames keep the client in sync.
type wsController struct {
	mu        sync.Mutex
	cameraOn  bool
	inputMode string
	theme     string
	onReset   func()
}

func newWSController() *wsController {
	return &wsController{
		inputMode: "voice",
		theme:     live.DefaultThemes[0],
	}
}

func (c *wsController) setOnReset(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReset = fn
}

func (c *wsController) CameraOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cameraOn
}

func (c *wsController) SetCamera(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cameraOn = on
}

func (c *wsController) InputMode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputMode
}

func (c *wsController) SetInputMode(mode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputMode = mode
}

func (c *wsController) Theme() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.theme
}

func (c *wsController) SetTheme(theme string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.theme = theme
}

func (c *wsController) ResetConversation() {
	c.mu.Lock()
	fn := c.onReset
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}
