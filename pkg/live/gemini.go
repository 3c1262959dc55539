package live

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// GeminiDialer opens Live API streams against the Gemini service. It is the
// production ModelDialer.
type GeminiDialer struct {
	client *genai.Client
}

// NewGeminiDialer creates a dialer authenticated with an API key.
func NewGeminiDialer(ctx context.Context, apiKey string) (*GeminiDialer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("live: api key must not be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("live: create gemini client: %w", err)
	}
	return &GeminiDialer{client: client}, nil
}

// Dial opens a live stream configured for bidirectional voice: audio-only
// responses, transcription on both directions, the declared tools, and the
// requested prebuilt voice.
func (d *GeminiDialer) Dial(ctx context.Context, cfg ModelConfig) (ModelStream, error) {
	connect := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if strings.TrimSpace(cfg.System) != "" {
		connect.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.System}},
		}
	}
	if strings.TrimSpace(cfg.Voice) != "" {
		connect.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if len(cfg.Tools) > 0 {
		connect.Tools = append(connect.Tools, &genai.Tool{FunctionDeclarations: cfg.Tools})
	}
	if cfg.EnableSearch {
		connect.Tools = append(connect.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}

	session, err := d.client.Live.Connect(ctx, cfg.Model, connect)
	if err != nil {
		return nil, fmt.Errorf("live: connect %s: %w", cfg.Model, err)
	}
	return &geminiStream{session: session}, nil
}

// geminiStream adapts a genai live session to ModelStream.
type geminiStream struct {
	session *genai.Session

	closeOnce sync.Once
	closeErr  error
}

func (g *geminiStream) SendMedia(data []byte, mimeType string) error {
	return g.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Media: &genai.Blob{Data: data, MIMEType: mimeType},
	})
}

func (g *geminiStream) SendText(text string) error {
	return g.session.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: text}},
		}},
		TurnComplete: genai.Ptr(true),
	})
}

func (g *geminiStream) SendToolResponses(resps []ToolResponse) error {
	out := make([]*genai.FunctionResponse, 0, len(resps))
	for _, r := range resps {
		out = append(out, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: map[string]any{"result": r.Result},
		})
	}
	return g.session.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: out,
	})
}

func (g *geminiStream) Receive() (*ServerEvent, error) {
	msg, err := g.session.Receive()
	if err != nil {
		return nil, err
	}
	return translateServerMessage(msg), nil
}

func (g *geminiStream) Close() error {
	g.closeOnce.Do(func() {
		g.closeErr = g.session.Close()
	})
	return g.closeErr
}

// translateServerMessage flattens a live server message into the tagged
// union the session dispatcher consumes. One message may carry several
// aspects (a transcription delta plus audio, for example).
func translateServerMessage(msg *genai.LiveServerMessage) *ServerEvent {
	ev := &ServerEvent{}
	if msg == nil {
		return ev
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil {
			ev.InputTranscript = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			ev.OutputTranscript = sc.OutputTranscription.Text
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil {
					continue
				}
				if len(part.InlineData.Data) > 0 {
					ev.Audio = append(ev.Audio, part.InlineData.Data)
				}
			}
		}
		if gm := sc.GroundingMetadata; gm != nil {
			for _, chunk := range gm.GroundingChunks {
				if chunk == nil || chunk.Web == nil {
					continue
				}
				ev.Citations = append(ev.Citations, Citation{
					URI:   chunk.Web.URI,
					Title: chunk.Web.Title,
				})
			}
		}
		ev.TurnComplete = sc.TurnComplete
		ev.Interrupted = sc.Interrupted
	}

	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			ev.ToolCalls = append(ev.ToolCalls, ToolCall{
				ID:   fc.ID,
				Name: fc.Name,
				Args: fc.Args,
			})
		}
	}

	if msg.GoAway != nil {
		ev.GoAway = true
	}
	return ev
}
