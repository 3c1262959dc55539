// Package bridge serves live sessions over WebSocket so a browser UI can be
// the capture and playback surface while this process owns orchestration.
package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/irislive/iris/pkg/live"
)

const (
	// ProtocolVersion1 is the only protocol revision the bridge speaks.
	ProtocolVersion1 = "1"

	// EncodingPCMS16LE is the only audio encoding the bridge accepts.
	EncodingPCMS16LE = "pcm_s16le"
)

// DecodeError reports a client frame the bridge refused.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

func unsupported(message, param string) *DecodeError {
	return &DecodeError{Code: "unsupported", Message: message, Param: param}
}

// AudioFormat describes one direction of the live audio stream.
type AudioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// HelloClient identifies the connecting client, for logs only.
type HelloClient struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// ClientHello is the mandatory first frame on a live connection.
type ClientHello struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Client          HelloClient `json:"client,omitempty"`
	AudioIn         AudioFormat `json:"audio_in"`
	AudioOut        AudioFormat `json:"audio_out"`
}

// ClientAudioFrame carries one microphone frame of base64 PCM.
type ClientAudioFrame struct {
	Type    string `json:"type"`
	DataB64 string `json:"data_b64"`
}

// ClientVideoFrame carries one base64 JPEG camera frame.
type ClientVideoFrame struct {
	Type    string `json:"type"`
	DataB64 string `json:"data_b64"`
}

// ClientText carries a typed user turn.
type ClientText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ClientControl carries a session control operation.
type ClientControl struct {
	Type string `json:"type"`
	Op   string `json:"op"`
}

// Control operations.
const (
	ControlInterrupt       = "interrupt"
	ControlNewConversation = "new_conversation"
	ControlEndSession      = "end_session"
)

// DecodeClientMessage parses and validates one inbound frame. Errors are
// always *DecodeError.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case "hello":
		var msg ClientHello
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid hello frame", "")
		}
		if err := ValidateHello(msg); err != nil {
			return nil, err
		}
		return msg, nil
	case "audio_frame":
		var msg ClientAudioFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio_frame", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("audio_frame.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "video_frame":
		var msg ClientVideoFrame
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid video_frame", "")
		}
		if strings.TrimSpace(msg.DataB64) == "" {
			return nil, badRequest("video_frame.data_b64 is required", "data_b64")
		}
		return msg, nil
	case "text":
		var msg ClientText
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid text frame", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("text.text is required", "text")
		}
		return msg, nil
	case "control":
		var msg ClientControl
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid control", "")
		}
		op := strings.TrimSpace(msg.Op)
		if op == "" {
			return nil, badRequest("control.op is required", "op")
		}
		switch op {
		case ControlInterrupt, ControlNewConversation, ControlEndSession:
		default:
			return nil, unsupported("unsupported control operation", "op")
		}
		msg.Op = op
		return msg, nil
	default:
		return nil, badRequest("unsupported message type", "type")
	}
}

// ValidateHello checks required hello fields. The handler additionally pins
// the exact audio formats it serves.
func ValidateHello(msg ClientHello) error {
	if strings.TrimSpace(msg.ProtocolVersion) == "" {
		return badRequest("hello.protocol_version is required", "protocol_version")
	}
	if strings.TrimSpace(msg.AudioIn.Encoding) == "" {
		return badRequest("hello.audio_in.encoding is required", "audio_in.encoding")
	}
	if msg.AudioIn.SampleRateHz <= 0 {
		return badRequest("hello.audio_in.sample_rate_hz must be > 0", "audio_in.sample_rate_hz")
	}
	if msg.AudioIn.Channels <= 0 {
		return badRequest("hello.audio_in.channels must be > 0", "audio_in.channels")
	}
	if strings.TrimSpace(msg.AudioOut.Encoding) == "" {
		return badRequest("hello.audio_out.encoding is required", "audio_out.encoding")
	}
	if msg.AudioOut.SampleRateHz <= 0 {
		return badRequest("hello.audio_out.sample_rate_hz must be > 0", "audio_out.sample_rate_hz")
	}
	if msg.AudioOut.Channels <= 0 {
		return badRequest("hello.audio_out.channels must be > 0", "audio_out.channels")
	}
	return nil
}

// HelloAckLimits advertises the bridge's inbound limits.
type HelloAckLimits struct {
	MaxAudioFrameBytes  int `json:"max_audio_frame_bytes"`
	MaxJSONMessageBytes int `json:"max_json_message_bytes"`
}

// ServerHelloAck confirms the handshake.
type ServerHelloAck struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	SessionID       string          `json:"session_id"`
	AudioIn         AudioFormat     `json:"audio_in"`
	AudioOut        AudioFormat     `json:"audio_out"`
	Limits          *HelloAckLimits `json:"limits,omitempty"`
}

// ServerState reports a connection state change.
type ServerState struct {
	Type  string `json:"type"`
	State string `json:"state"`
}

// ServerTranscriptDelta streams interim transcription for either speaker.
// Text is the accumulated interim transcript for the turn.
type ServerTranscriptDelta struct {
	Type    string `json:"type"`
	Speaker string `json:"speaker"`
	Delta   string `json:"delta"`
	Text    string `json:"text"`
}

// ServerTranscriptEntry delivers one finalized transcript entry.
type ServerTranscriptEntry struct {
	Type  string               `json:"type"`
	Entry live.TranscriptEntry `json:"entry"`
}

// ServerThinking reports the thinking indicator flipping.
type ServerThinking struct {
	Type     string `json:"type"`
	Thinking bool   `json:"thinking"`
}

// ServerExpression reports the avatar expression changing.
type ServerExpression struct {
	Type       string `json:"type"`
	Expression string `json:"expression"`
}

// ServerAssistantAudio carries one synthesized speech chunk.
type ServerAssistantAudio struct {
	Type         string `json:"type"`
	DataB64      string `json:"data_b64"`
	SampleRateHz int    `json:"sample_rate_hz"`
	DurationMS   int    `json:"duration_ms,omitempty"`
}

// ServerAudioReset tells the client to drop all buffered assistant audio.
type ServerAudioReset struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ServerAppCommand pushes an application-control change the model requested,
// so the browser mirrors camera/theme/input-mode state.
type ServerAppCommand struct {
	Type string         `json:"type"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// ServerError reports a session or protocol error. Close signals the
// connection is going away.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	Close   bool   `json:"close,omitempty"`
}
