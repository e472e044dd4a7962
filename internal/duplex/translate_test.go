package duplex

import (
	"testing"

	openairt "github.com/WqyJh/go-openai-realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestTranslateGemini(t *testing.T) {
	tests := map[string]struct {
		msg      *genai.LiveServerMessage
		expected []Event
	}{
		"nil_message": {
			msg:      nil,
			expected: nil,
		},
		"setup_complete_opens": {
			msg:      &genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}},
			expected: []Event{{Kind: EventOpen}},
		},
		"transcript_and_audio": {
			msg: &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
				OutputTranscription: &genai.Transcription{Text: "[GUEST_UI]Sawasdee"},
				ModelTurn: &genai.Content{Parts: []*genai.Part{
					{InlineData: &genai.Blob{MIMEType: "audio/pcm;rate=24000", Data: []byte{1, 0, 2, 0}}},
					{Text: "ignored"},
					{InlineData: &genai.Blob{Data: []byte{3, 0}}},
				}},
			}},
			expected: []Event{
				{Kind: EventTranscriptDelta, Text: "[GUEST_UI]Sawasdee"},
				{Kind: EventAudioChunk, Audio: []byte{1, 0, 2, 0}},
				{Kind: EventAudioChunk, Audio: []byte{3, 0}},
			},
		},
		"turn_complete": {
			msg:      &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{TurnComplete: true}},
			expected: []Event{{Kind: EventTurnComplete}},
		},
		"interrupted": {
			msg:      &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{Interrupted: true}},
			expected: []Event{{Kind: EventInterrupted}},
		},
		"empty_transcription_skipped": {
			msg: &genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{
				OutputTranscription: &genai.Transcription{},
			}},
			expected: nil,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.expected, translateGemini(tt.msg))
		})
	}
}

func TestTranslateOpenAI(t *testing.T) {
	tests := map[string]struct {
		payload  string
		expected []Event
	}{
		"session_updated_opens": {
			payload:  `{"type":"session.updated","session":{}}`,
			expected: []Event{{Kind: EventOpen}},
		},
		"transcript_delta": {
			payload:  `{"type":"response.audio_transcript.delta","delta":"[USER_UI]Hello"}`,
			expected: []Event{{Kind: EventTranscriptDelta, Text: "[USER_UI]Hello"}},
		},
		"audio_delta_is_base64_decoded": {
			payload:  `{"type":"response.audio.delta","delta":"AQACAA=="}`,
			expected: []Event{{Kind: EventAudioChunk, Audio: []byte{1, 0, 2, 0}}},
		},
		"speech_started_interrupts": {
			payload:  `{"type":"input_audio_buffer.speech_started","audio_start_ms":100,"item_id":"item_1"}`,
			expected: []Event{{Kind: EventInterrupted}},
		},
		"response_done_completes_turn": {
			payload:  `{"type":"response.done","response":{"id":"resp_1","status":"completed"}}`,
			expected: []Event{{Kind: EventTurnComplete}},
		},
		"unrelated_event": {
			payload:  `{"type":"input_audio_buffer.committed","item_id":"item_1"}`,
			expected: nil,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			event, err := openairt.UnmarshalServerEvent([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, translateOpenAI(event))
		})
	}
}

func TestTranslateOpenAI_Errors(t *testing.T) {
	event, err := openairt.UnmarshalServerEvent([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad audio"}}`))
	require.NoError(t, err)

	events := translateOpenAI(event)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
	assert.EqualError(t, events[0].Err, "bad audio")

	event, err = openairt.UnmarshalServerEvent([]byte(`{"type":"response.audio.delta","delta":"%%%"}`))
	require.NoError(t, err)
	events = translateOpenAI(event)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Kind)
}
