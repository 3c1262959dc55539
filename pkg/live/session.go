package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrSessionActive is returned by Connect while a session is connecting
	// or connected. The live devices are owned by one session at a time.
	ErrSessionActive = errors.New("live: session already active")
	// ErrSessionClosed is returned after Close, or when a connect attempt
	// is abandoned by a concurrent Disconnect.
	ErrSessionClosed = errors.New("live: session closed")
	// ErrNotConnected is returned by send operations outside the connected
	// state.
	ErrNotConnected = errors.New("live: session not connected")
	// ErrMediaAccess wraps capture failures. It is terminal for the
	// connect attempt, never silently retried.
	ErrMediaAccess = errors.New("live: media access failed")
)

const (
	eventBuffer     = 100
	mediaSendBuffer = 32
)

// MediaSource is a capture surface the session drives: started on connect,
// stopped on teardown. Stop must be idempotent.
type MediaSource interface {
	Start(ctx context.Context) error
	Stop()
}

// mediaFrame is one outbound realtime send.
type mediaFrame struct {
	data []byte
	mime string
}

// liveConn bundles the per-connect resources so teardown runs exactly once
// no matter which failure path reaches it first.
type liveConn struct {
	stream  ModelStream
	capture MediaSource
	ctx     context.Context
	cancel  context.CancelFunc

	sendCh   chan mediaFrame
	stop     chan struct{}
	sendDone chan struct{}
	recvDone chan struct{}

	once sync.Once
}

// Session orchestrates one bidirectional voice conversation: it owns the
// connection lifecycle, routes capture frames out and model events in, and
// projects transcript, playback, expression, and thinking state for the host.
//
// A Session survives across connects: after a terminal state (closed, error)
// Connect may be called again. Close retires it for good.
type Session struct {
	cfg    SessionConfig
	dialer ModelDialer
	tools  *ToolRegistry

	transcript *Transcript
	queue      *PlaybackQueue
	vad        *EnergyVAD

	mu         sync.RWMutex
	state      ConnectionState
	conn       *liveConn
	sessionID  string
	thinking   bool
	speaking   bool
	expression Expression
	citations  []Citation
	lastErr    error

	source MediaSource

	writeMu sync.Mutex

	events chan Event
	done   chan struct{}
	closed atomic.Bool
}

// NewSession creates a session in the idle state. tools may be nil when the
// model should not be offered any functions.
func NewSession(cfg SessionConfig, dialer ModelDialer, tools *ToolRegistry) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if dialer == nil {
		return nil, fmt.Errorf("live: dialer must not be nil")
	}
	s := &Session{
		cfg:        cfg,
		dialer:     dialer,
		tools:      tools,
		transcript: NewTranscript(),
		queue:      NewPlaybackQueue(),
		state:      StateIdle,
		expression: ExpressionNeutral,
		events:     make(chan Event, eventBuffer),
		done:       make(chan struct{}),
	}
	s.vad = NewEnergyVAD(cfg.VAD)
	s.vad.SetTranscriptCheck(s.transcript.HasInput)
	return s, nil
}

// SetMediaSource attaches a capture surface that Connect starts and teardown
// stops. Set it before the first Connect; nil means frames are pushed
// externally via SendAudioPCM and SendVideoFrame.
func (s *Session) SetMediaSource(src MediaSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
}

// Events returns the session's event stream. The channel is never closed;
// consumers should select on Done as their exit signal. Events are dropped
// rather than blocking the session when the consumer falls behind.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed when the session is retired via Close.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SessionID returns the id of the current (or most recent) connection.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// Thinking reports whether the user has finished talking and the model has
// not started answering yet.
func (s *Session) Thinking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.thinking
}

// Expression returns the current avatar expression.
func (s *Session) Expression() Expression {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expression
}

// Err returns the last terminal error, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Entries returns the finalized transcript so far.
func (s *Session) Entries() []TranscriptEntry { return s.transcript.Entries() }

// Interim returns the in-progress turn text for both speakers.
func (s *Session) Interim() (user, model string) { return s.transcript.Interim() }

// Playback returns the queue of synthesized speech awaiting playback. The
// host's player drains it; surfaces may watch it for lip sync.
func (s *Session) Playback() *PlaybackQueue { return s.queue }

// ClearTranscript drops all finalized entries and any interim text.
func (s *Session) ClearTranscript() { s.transcript.Clear() }

// Connect opens a live session. It is guarded: unless the state is idle,
// closed, or error the call is rejected with ErrSessionActive. On success the
// state is connected and capture frames flow until a terminal condition.
func (s *Session) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}

	s.mu.Lock()
	if !s.state.connectable() {
		s.mu.Unlock()
		return ErrSessionActive
	}
	s.setStateLocked(StateConnecting)
	s.sessionID = generateSessionID()
	s.thinking = false
	s.speaking = false
	s.expression = ExpressionNeutral
	s.citations = nil
	s.lastErr = nil
	id := s.sessionID
	source := s.source
	s.mu.Unlock()

	s.transcript.Clear()
	s.vad.Reset()
	s.queue.Clear()

	if source != nil {
		if err := source.Start(ctx); err != nil {
			err = fmt.Errorf("%w: %v", ErrMediaAccess, err)
			s.failConnect("media_access", err)
			return err
		}
	}

	stream, err := s.dialer.Dial(ctx, ModelConfig{
		Model:        s.cfg.Model,
		Voice:        s.cfg.Voice,
		System:       s.cfg.System,
		Tools:        s.tools.Declarations(),
		EnableSearch: s.cfg.EnableSearch,
		InputRate:    s.cfg.Input.SampleRate,
		OutputRate:   s.cfg.Output.SampleRate,
	})
	if err != nil {
		if source != nil {
			source.Stop()
		}
		s.failConnect("connect_failed", err)
		return err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &liveConn{
		stream:   stream,
		capture:  source,
		ctx:      connCtx,
		cancel:   cancel,
		sendCh:   make(chan mediaFrame, mediaSendBuffer),
		stop:     make(chan struct{}),
		sendDone: make(chan struct{}),
		recvDone: make(chan struct{}),
	}

	s.mu.Lock()
	if s.state != StateConnecting {
		// Disconnected while the dial was in flight. Tear the fresh
		// resources down instead of leaking them.
		s.mu.Unlock()
		cancel()
		if source != nil {
			source.Stop()
		}
		_ = stream.Close()
		return ErrSessionClosed
	}
	s.conn = c
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	s.emit(&SessionStartedEvent{SessionID: id, Model: s.cfg.Model, Voice: s.cfg.Voice})
	s.debug("SESSION", "connected %s model=%s voice=%s", id, s.cfg.Model, s.cfg.Voice)

	go s.writeLoop(c)
	go s.readLoop(c)
	return nil
}

// failConnect records a pre-stream connect failure. The state only moves if
// no concurrent Disconnect already resolved the attempt.
func (s *Session) failConnect(code string, err error) {
	s.mu.Lock()
	if s.state == StateConnecting {
		s.lastErr = err
		s.setStateLocked(StateError)
	}
	s.mu.Unlock()
	s.emit(&ErrorEvent{Code: code, Message: err.Error()})
	s.debug("SESSION", "connect failed: %v", err)
}

// Disconnect closes the remote session best-effort and runs full teardown.
// Safe to call in any state, from any goroutine, more than once.
func (s *Session) Disconnect() {
	s.mu.Lock()
	c := s.conn
	if c == nil {
		// A dial may still be in flight; flipping the state makes
		// Connect abandon its result when it lands.
		if s.state == StateConnecting {
			s.setStateLocked(StateClosed)
		}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.teardown(c, StateClosed, nil, "disconnect")
}

// Close retires the session: disconnects, then signals Done. The session
// cannot connect again afterwards.
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c != nil {
		s.teardown(c, StateClosed, nil, "session closed")
		<-c.recvDone
		<-c.sendDone
	} else {
		s.Disconnect()
	}
	close(s.done)
}

// teardown releases every per-connect resource and moves to a terminal
// state. It runs once per connection; later callers from other failure paths
// are no-ops.
func (s *Session) teardown(c *liveConn, to ConnectionState, cause error, reason string) {
	c.once.Do(func() {
		c.cancel()
		close(c.stop)
		if c.capture != nil {
			c.capture.Stop()
		}
		_ = c.stream.Close()
		cleared := s.queue.Clear()

		s.mu.Lock()
		if s.conn == c {
			s.conn = nil
		}
		wasThinking := s.thinking
		s.thinking = false
		s.speaking = false
		s.expression = ExpressionNeutral
		if cause != nil {
			s.lastErr = cause
		}
		s.setStateLocked(to)
		s.mu.Unlock()

		s.vad.Reset()

		if wasThinking {
			s.emit(&ThinkingEvent{Thinking: false})
		}
		if cleared > 0 {
			s.emit(&AudioResetEvent{Reason: reason})
		}
		if cause != nil {
			s.emit(&ErrorEvent{Code: "stream_error", Message: cause.Error()})
		}
		s.emit(&SessionClosedEvent{Reason: reason})
		s.debug("SESSION", "teardown (%s), %d clips dropped", reason, cleared)
	})
}

// writeLoop serializes outbound media sends so frames are never reordered.
func (s *Session) writeLoop(c *liveConn) {
	defer close(c.sendDone)
	for {
		select {
		case <-c.stop:
			return
		case f := <-c.sendCh:
			s.writeMu.Lock()
			err := c.stream.SendMedia(f.data, f.mime)
			s.writeMu.Unlock()
			if err != nil {
				s.debug("STREAM", "media send failed: %v", err)
				return
			}
		}
	}
}

// readLoop pulls model events until the stream ends, then routes the
// connection to the matching terminal state.
func (s *Session) readLoop(c *liveConn) {
	defer close(c.recvDone)
	for {
		ev, err := c.stream.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.teardown(c, StateClosed, nil, "remote closed")
			} else {
				s.teardown(c, StateError, err, "stream error")
			}
			return
		}
		s.handleServerEvent(c, ev)
	}
}

// handleServerEvent is the single inbound dispatch point. One message can
// carry several aspects; they are applied in a fixed order so interruption
// always wins over stale audio and turn completion is observed last.
func (s *Session) handleServerEvent(c *liveConn, ev *ServerEvent) {
	if ev == nil {
		return
	}
	if ev.Interrupted {
		s.handleInterrupted()
	}
	if ev.InputTranscript != "" {
		s.handleInputDelta(ev.InputTranscript)
	}
	if ev.OutputTranscript != "" {
		s.handleOutputDelta(ev.OutputTranscript)
	}
	for _, pcm := range ev.Audio {
		s.handleAudio(pcm)
	}
	if len(ev.Citations) > 0 {
		s.mu.Lock()
		s.citations = append(s.citations, ev.Citations...)
		s.mu.Unlock()
	}
	if len(ev.ToolCalls) > 0 {
		s.handleToolCalls(c, ev.ToolCalls)
	}
	if ev.GoAway {
		s.debug("STREAM", "server going away")
	}
	if ev.TurnComplete {
		s.handleTurnComplete()
	}
}

func (s *Session) handleInterrupted() {
	ms := s.queue.BufferedMS()
	n := s.queue.Clear()
	_, partial := s.transcript.Interim()
	s.emit(&InterruptedEvent{PartialText: partial, ClearedMS: ms})
	s.emit(&AudioResetEvent{Reason: "interrupted"})
	s.debug("AUDIO", "interrupted, dropped %d clips (%dms)", n, ms)
}

func (s *Session) handleInputDelta(delta string) {
	text := s.transcript.AppendInput(delta)
	// Late recognition counts as the user still holding the floor.
	s.vad.ResetSilence()

	s.mu.Lock()
	exprChanged := s.expression != ExpressionNeutral
	s.expression = ExpressionNeutral
	s.mu.Unlock()

	s.emit(&InputTranscriptEvent{Delta: delta, Text: text})
	if exprChanged {
		s.emit(&ExpressionEvent{Expression: ExpressionNeutral})
	}
}

func (s *Session) handleOutputDelta(delta string) {
	text := s.transcript.AppendOutput(delta)
	next := ClassifyExpression(text)

	s.mu.Lock()
	wasThinking := s.thinking
	s.thinking = false
	exprChanged := next != s.expression
	s.expression = next
	s.mu.Unlock()

	if wasThinking {
		s.emit(&ThinkingEvent{Thinking: false})
	}
	s.emit(&OutputTranscriptEvent{Delta: delta, Text: text})
	if exprChanged {
		s.emit(&ExpressionEvent{Expression: next})
	}
}

func (s *Session) handleAudio(pcm []byte) {
	item := s.queue.Enqueue(pcm, s.cfg.Output.SampleRate)
	s.emit(&AudioDeltaEvent{
		Data:       pcm,
		SampleRate: s.cfg.Output.SampleRate,
		DurationMS: item.DurationMS(),
	})
}

func (s *Session) handleToolCalls(c *liveConn, calls []ToolCall) {
	s.mu.Lock()
	wasThinking := s.thinking
	s.thinking = false
	s.mu.Unlock()
	if wasThinking {
		s.emit(&ThinkingEvent{Thinking: false})
	}

	s.emit(&ToolCallEvent{Calls: calls})

	resps := make([]ToolResponse, 0, len(calls))
	for _, call := range calls {
		resp := s.tools.Respond(c.ctx, call)
		resps = append(resps, resp)
		s.emit(&ToolResultEvent{ID: resp.ID, Name: resp.Name, Result: resp.Result})
		if isAppTool(call.Name) {
			s.emit(&AppCommandEvent{Name: call.Name, Args: call.Args})
		}
		s.debug("TOOL", "%s(%v) -> %s", call.Name, call.Args, resp.Result)
	}

	s.writeMu.Lock()
	err := c.stream.SendToolResponses(resps)
	s.writeMu.Unlock()
	if err != nil {
		s.debug("STREAM", "tool response send failed: %v", err)
	}
}

func (s *Session) handleTurnComplete() {
	s.mu.Lock()
	cits := s.citations
	s.citations = nil
	wasThinking := s.thinking
	s.thinking = false
	exprChanged := s.expression != ExpressionNeutral
	s.expression = ExpressionNeutral
	s.mu.Unlock()

	entries := s.transcript.FinalizeTurn(cits)

	if wasThinking {
		s.emit(&ThinkingEvent{Thinking: false})
	}
	for i := range entries {
		s.emit(&TranscriptEntryEvent{Entry: entries[i]})
	}
	s.emit(&TurnCompleteEvent{Entries: entries})
	if exprChanged {
		s.emit(&ExpressionEvent{Expression: ExpressionNeutral})
	}
	s.debug("SESSION", "turn complete, %d entries", len(entries))
}

// SendAudioFrame converts a float frame to 16-bit PCM and sends it.
func (s *Session) SendAudioFrame(samples []float32) {
	if len(samples) == 0 {
		return
	}
	s.SendAudioPCM(PackPCM16(samples))
}

// SendAudioPCM runs VAD over one capture frame and forwards it to the model.
// Sends are fire-and-forget: under backpressure the frame is dropped, never
// reordered. Outside the connected state frames are discarded.
func (s *Session) SendAudioPCM(pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	c := s.activeConn()
	if c == nil {
		return
	}

	res := s.vad.EvaluatePCM(pcm)
	s.applyVAD(res)

	select {
	case c.sendCh <- mediaFrame{data: pcm, mime: PCMMimeType(s.cfg.Input.SampleRate)}:
	default:
		s.debug("AUDIO", "outbound frame dropped (backpressure)")
	}
}

// SendVideoFrame forwards one JPEG camera frame, same drop policy as audio.
func (s *Session) SendVideoFrame(jpeg []byte) {
	if len(jpeg) == 0 {
		return
	}
	c := s.activeConn()
	if c == nil {
		return
	}
	select {
	case c.sendCh <- mediaFrame{data: jpeg, mime: JPEGMimeType}:
	default:
		s.debug("AUDIO", "outbound video frame dropped (backpressure)")
	}
}

// SendText submits a typed user turn. The text lands in the interim
// transcript exactly like a recognized voice delta would.
func (s *Session) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("live: text must not be empty")
	}
	c := s.activeConn()
	if c == nil {
		return ErrNotConnected
	}

	accumulated := s.transcript.AppendInput(text)
	s.emit(&InputTranscriptEvent{Delta: text, Text: accumulated})

	s.writeMu.Lock()
	err := c.stream.SendText(text)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("live: send text: %w", err)
	}

	// A typed turn is complete the moment it is sent.
	s.mu.Lock()
	wasThinking := s.thinking
	s.thinking = true
	s.mu.Unlock()
	if !wasThinking {
		s.emit(&ThinkingEvent{Thinking: true})
	}
	return nil
}

// applyVAD projects a frame verdict onto the speaking and thinking flags.
func (s *Session) applyVAD(res VADResult) {
	s.mu.Lock()
	speakingChanged := res.Speaking != s.speaking
	s.speaking = res.Speaking
	var thinkingSet bool
	if res.TurnEnded && !s.thinking {
		s.thinking = true
		thinkingSet = true
	}
	s.mu.Unlock()

	if speakingChanged {
		s.emit(&SpeakingEvent{Speaking: res.Speaking})
		s.debug("VAD", "speaking=%v rms=%.4f", res.Speaking, res.RMS)
	}
	if thinkingSet {
		s.emit(&ThinkingEvent{Thinking: true})
		s.debug("VAD", "turn likely ended")
	}
}

// activeConn returns the connection while connected, else nil.
func (s *Session) activeConn() *liveConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateConnected {
		return nil
	}
	return s.conn
}

// setStateLocked transitions the state and announces it. Callers hold mu.
func (s *Session) setStateLocked(to ConnectionState) {
	if s.state == to {
		return
	}
	from := s.state
	s.state = to
	s.emit(&StateChangedEvent{From: from, To: to})
}

// emit delivers an event without ever blocking the session. A slow consumer
// loses events rather than stalling audio.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Session) debug(category, format string, args ...any) {
	if !s.cfg.Debug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(os.Stderr, "%s [%s] %s\n", time.Now().Format("15:04:05.000"), category, msg)
	s.emit(&DebugEvent{Category: category, Message: msg})
}

func isAppTool(name string) bool {
	switch name {
	case ToolToggleCamera, ToolSwitchInputMode, ToolChangeTheme, ToolNewConversation:
		return true
	}
	return false
}

func generateSessionID() string {
	return fmt.Sprintf("sess_%s", uuid.NewString()[:8])
}
