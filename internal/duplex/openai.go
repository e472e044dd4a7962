package duplex

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	openairt "github.com/WqyJh/go-openai-realtime"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	// ProviderOpenAI selects the OpenAI Realtime API.
	ProviderOpenAI = "openai"

	DefaultOpenAIModel = "gpt-4o-realtime-preview"
	DefaultOpenAIVoice = "shimmer"
)

// OpenAIDialer opens channels on the OpenAI Realtime API.
type OpenAIDialer struct {
	logger    *zap.Logger
	client    *openairt.Client
	queueSize int
}

// NewOpenAIDialer creates a dialer authenticated with apiKey.
func NewOpenAIDialer(logger *zap.Logger, apiKey string, queueSize int) *OpenAIDialer {
	return &OpenAIDialer{
		logger:    logger,
		client:    openairt.NewClient(apiKey),
		queueSize: queueSize,
	}
}

// Dial implements Dialer. The channel opens once the service confirms the
// session update carrying the instructions.
func (d *OpenAIDialer) Dial(ctx context.Context, cfg Config) (Channel, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}

	d.logger.Info("Connecting to OpenAI Realtime API",
		zap.String("model", model),
		zap.String("voice", cfg.Voice))

	conn, err := d.client.Connect(ctx, openairt.WithModel(model))
	if err != nil {
		return nil, &ConnectError{Provider: ProviderOpenAI, Err: err}
	}

	update := &openairt.SessionUpdateEvent{
		Session: openairt.ClientSession{
			Modalities:        []openairt.Modality{openairt.ModalityText, openairt.ModalityAudio},
			Instructions:      cfg.Instructions,
			Voice:             openAIVoice(cfg.Voice),
			InputAudioFormat:  openairt.AudioFormatPcm16,
			OutputAudioFormat: openairt.AudioFormatPcm16,
			InputAudioTranscription: &openairt.InputAudioTranscription{
				Model: openai.Whisper1,
			},
		},
	}
	if err := conn.SendMessage(ctx, update); err != nil {
		_ = conn.Close()
		return nil, &ConnectError{Provider: ProviderOpenAI, Err: fmt.Errorf("configure session: %w", err)}
	}

	return newStream(d.logger, ProviderOpenAI, &openAITransport{conn: conn}, d.queueSize), nil
}

func openAIVoice(name string) openairt.Voice {
	switch name {
	case "alloy":
		return openairt.VoiceAlloy
	case "echo":
		return openairt.VoiceEcho
	default:
		return openairt.VoiceShimmer
	}
}

type openAITransport struct {
	conn *openairt.Conn
}

func (o *openAITransport) sendAudio(ctx context.Context, pcm []byte) error {
	return o.conn.SendMessage(ctx, &openairt.InputAudioBufferAppendEvent{
		Audio: base64.StdEncoding.EncodeToString(pcm),
	})
}

func (o *openAITransport) receive(ctx context.Context) ([]Event, error) {
	event, err := o.conn.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	return translateOpenAI(event), nil
}

func (o *openAITransport) close() error {
	return o.conn.Close()
}

// translateOpenAI maps one Realtime server event to channel events. Speech
// detected on the input buffer means the user talked over the response.
func translateOpenAI(event openairt.ServerEvent) []Event {
	switch event.ServerEventType() {
	case openairt.ServerEventTypeSessionUpdated:
		return []Event{{Kind: EventOpen}}

	case openairt.ServerEventTypeResponseAudioTranscriptDelta:
		delta := event.(openairt.ResponseAudioTranscriptDeltaEvent)
		if delta.Delta == "" {
			return nil
		}
		return []Event{{Kind: EventTranscriptDelta, Text: delta.Delta}}

	case openairt.ServerEventTypeResponseAudioDelta:
		delta := event.(openairt.ResponseAudioDeltaEvent)
		if delta.Delta == "" {
			return nil
		}
		data, err := base64.StdEncoding.DecodeString(delta.Delta)
		if err != nil {
			return []Event{{Kind: EventError, Err: fmt.Errorf("decode audio delta: %w", err)}}
		}
		return []Event{{Kind: EventAudioChunk, Audio: data}}

	case openairt.ServerEventTypeInputAudioBufferSpeechStarted:
		return []Event{{Kind: EventInterrupted}}

	case openairt.ServerEventTypeResponseDone:
		return []Event{{Kind: EventTurnComplete}}

	case openairt.ServerEventTypeError:
		errorEvent := event.(openairt.ErrorEvent)
		return []Event{{Kind: EventError, Err: errors.New(errorEvent.Error.Message)}}
	}

	return nil
}
