package live

// Event is the interface for all live session events.
type Event interface {
	// EventType returns the event type string for serialization.
	EventType() string
}

// SessionStartedEvent is emitted once the remote stream is open.
type SessionStartedEvent struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	Voice     string `json:"voice"`
}

func (e *SessionStartedEvent) EventType() string { return "session.started" }

// SessionClosedEvent is emitted when the session ends, cleanly or not.
type SessionClosedEvent struct {
	Reason string `json:"reason,omitempty"`
}

func (e *SessionClosedEvent) EventType() string { return "session.closed" }

// StateChangedEvent is emitted when the connection state changes.
type StateChangedEvent struct {
	From ConnectionState `json:"from"`
	To   ConnectionState `json:"to"`
}

func (e *StateChangedEvent) EventType() string { return "state.changed" }

// InputTranscriptEvent is emitted as user speech transcription arrives.
// Text carries the accumulated interim transcript for the turn so far.
type InputTranscriptEvent struct {
	Delta string `json:"delta"`
	Text  string `json:"text"`
}

func (e *InputTranscriptEvent) EventType() string { return "transcript.input" }

// OutputTranscriptEvent is emitted as model speech transcription arrives.
type OutputTranscriptEvent struct {
	Delta string `json:"delta"`
	Text  string `json:"text"`
}

func (e *OutputTranscriptEvent) EventType() string { return "transcript.output" }

// TranscriptEntryEvent is emitted for each entry finalized at turn completion.
type TranscriptEntryEvent struct {
	Entry TranscriptEntry `json:"entry"`
}

func (e *TranscriptEntryEvent) EventType() string { return "transcript.entry" }

// TurnCompleteEvent is emitted when the model signals the turn is over.
type TurnCompleteEvent struct {
	Entries []TranscriptEntry `json:"entries"`
}

func (e *TurnCompleteEvent) EventType() string { return "turn.complete" }

// ThinkingEvent is emitted when the derived thinking flag flips.
type ThinkingEvent struct {
	Thinking bool `json:"thinking"`
}

func (e *ThinkingEvent) EventType() string { return "thinking" }

// ExpressionEvent is emitted when the classified expression changes.
type ExpressionEvent struct {
	Expression Expression `json:"expression"`
}

func (e *ExpressionEvent) EventType() string { return "expression" }

// SpeakingEvent is emitted when local VAD flips between speech and silence.
type SpeakingEvent struct {
	Speaking bool `json:"speaking"`
}

func (e *SpeakingEvent) EventType() string { return "vad.speaking" }

// AudioDeltaEvent is emitted when a synthesized audio chunk is enqueued.
type AudioDeltaEvent struct {
	Data       []byte `json:"data"`
	SampleRate int    `json:"sample_rate"`
	DurationMS int    `json:"duration_ms"`
}

func (e *AudioDeltaEvent) EventType() string { return "audio.delta" }

// AudioResetEvent signals that all pending/buffered audio must be discarded
// immediately. Emitted on interruption and on teardown.
type AudioResetEvent struct {
	Reason string `json:"reason"`
}

func (e *AudioResetEvent) EventType() string { return "audio.reset" }

// InterruptedEvent is emitted when the remote stream reports the model's
// utterance was cut off by renewed user speech.
type InterruptedEvent struct {
	PartialText string `json:"partial_text"`
	ClearedMS   int    `json:"cleared_ms"`
}

func (e *InterruptedEvent) EventType() string { return "response.interrupted" }

// ToolCallEvent is emitted when the model requests local tool invocations.
type ToolCallEvent struct {
	Calls []ToolCall `json:"calls"`
}

func (e *ToolCallEvent) EventType() string { return "tool.call" }

// ToolResultEvent is emitted once per call id after dispatch.
type ToolResultEvent struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result string `json:"result"`
}

func (e *ToolResultEvent) EventType() string { return "tool.result" }

// AppCommandEvent is emitted when an application-control tool mutated host
// state, so remote UI surfaces can mirror the change.
type AppCommandEvent struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

func (e *AppCommandEvent) EventType() string { return "app.command" }

// ErrorEvent is emitted when an error occurs.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorEvent) EventType() string { return "error" }

// DebugEvent is emitted for diagnostic information.
type DebugEvent struct {
	Category string `json:"category"` // AUDIO, VAD, STREAM, TOOL, SESSION
	Message  string `json:"message"`
}

func (e *DebugEvent) EventType() string { return "debug" }
