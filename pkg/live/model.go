package live

import (
	"context"

	"google.golang.org/genai"
)

// ToolCall is a structured request from the model to invoke a named local
// capability. Every call id must receive exactly one response or the remote
// session stalls waiting for it.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ToolResponse answers one ToolCall.
type ToolResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Result string `json:"result"`
}

// ServerEvent is one inbound message from the remote stream, decoded into a
// tagged union the session dispatcher consumes in arrival order.
type ServerEvent struct {
	// InputTranscript is a user speech transcription delta.
	InputTranscript string
	// OutputTranscript is a model speech transcription delta.
	OutputTranscript string
	// Audio carries synthesized PCM chunks at the output sample rate.
	Audio [][]byte
	// ToolCalls is a batch of function invocations to dispatch.
	ToolCalls []ToolCall
	// Citations are grounding sources reported for the current turn.
	Citations []Citation
	// TurnComplete marks the end of the model's turn.
	TurnComplete bool
	// Interrupted reports the model's utterance was cut off by user speech.
	Interrupted bool
	// GoAway warns the server is about to close the stream.
	GoAway bool
}

// ModelConfig describes what a dial asks of the remote service.
type ModelConfig struct {
	Model        string
	Voice        string
	System       string
	Tools        []*genai.FunctionDeclaration
	EnableSearch bool
	InputRate    int
	OutputRate   int
}

// ModelStream is an open bidirectional stream against the remote service.
// The session is its only consumer; implementations must tolerate Close
// racing Send and Receive.
type ModelStream interface {
	// SendMedia forwards one realtime media blob (a PCM frame or a JPEG
	// frame). Fire-and-forget from the session's point of view.
	SendMedia(data []byte, mimeType string) error

	// SendText submits a complete user text turn.
	SendText(text string) error

	// SendToolResponses answers a tool-call batch, one response per id.
	SendToolResponses(resps []ToolResponse) error

	// Receive blocks for the next server event. It returns io.EOF when the
	// remote closes the stream cleanly.
	Receive() (*ServerEvent, error)

	// Close tears the stream down. Safe to call more than once.
	Close() error
}

// ModelDialer opens model streams. The Gemini implementation is the
// production dialer; tests substitute in-memory fakes.
type ModelDialer interface {
	Dial(ctx context.Context, cfg ModelConfig) (ModelStream, error)
}
