package duplex

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Raikerian/go-live-interpreter/pkg/audio"
)

const (
	// ProviderGemini selects the Gemini Live API.
	ProviderGemini = "gemini"

	DefaultGeminiModel = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultGeminiVoice = "Kore"
)

// GeminiDialer opens channels on the Gemini Live API.
type GeminiDialer struct {
	logger    *zap.Logger
	client    *genai.Client
	queueSize int
}

// NewGeminiDialer creates a dialer authenticated with apiKey.
func NewGeminiDialer(ctx context.Context, logger *zap.Logger, apiKey string, queueSize int) (*GeminiDialer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiDialer{logger: logger, client: client, queueSize: queueSize}, nil
}

// Dial implements Dialer.
func (d *GeminiDialer) Dial(ctx context.Context, cfg Config) (Channel, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultGeminiVoice
	}
	rate := cfg.InputSampleRate
	if rate == 0 {
		rate = audio.GeminiInputSampleRate
	}

	d.logger.Info("Connecting to Gemini Live",
		zap.String("model", model),
		zap.String("voice", voice),
		zap.Int("input_sample_rate", rate))

	session, err := d.client.Live.Connect(ctx, model, &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
		SystemInstruction:        genai.NewContentFromText(cfg.Instructions, genai.RoleUser),
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	})
	if err != nil {
		return nil, &ConnectError{Provider: ProviderGemini, Err: err}
	}

	t := &geminiTransport{
		session:  session,
		mimeType: fmt.Sprintf("audio/pcm;rate=%d", rate),
	}

	return newStream(d.logger, ProviderGemini, t, d.queueSize), nil
}

type geminiTransport struct {
	session  *genai.Session
	mimeType string
}

func (g *geminiTransport) sendAudio(_ context.Context, pcm []byte) error {
	return g.session.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{MIMEType: g.mimeType, Data: pcm},
	})
}

func (g *geminiTransport) receive(_ context.Context) ([]Event, error) {
	msg, err := g.session.Receive()
	if err != nil {
		return nil, err
	}
	return translateGemini(msg), nil
}

func (g *geminiTransport) close() error {
	return g.session.Close()
}

// translateGemini maps one Live API message to channel events, in the order
// transcript, audio, turn complete, interruption.
func translateGemini(msg *genai.LiveServerMessage) []Event {
	if msg == nil {
		return nil
	}

	var events []Event
	if msg.SetupComplete != nil {
		events = append(events, Event{Kind: EventOpen})
	}

	content := msg.ServerContent
	if content == nil {
		return events
	}

	if content.OutputTranscription != nil && content.OutputTranscription.Text != "" {
		events = append(events, Event{Kind: EventTranscriptDelta, Text: content.OutputTranscription.Text})
	}

	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			events = append(events, Event{Kind: EventAudioChunk, Audio: part.InlineData.Data})
		}
	}

	if content.TurnComplete {
		events = append(events, Event{Kind: EventTurnComplete})
	}
	if content.Interrupted {
		events = append(events, Event{Kind: EventInterrupted})
	}

	return events
}
