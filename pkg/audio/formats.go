package audio

// Format constants shared by the capture, transport and playback layers.
const (
	// Gemini Live input.
	GeminiInputSampleRate = 16_000 // Hz

	// OpenAI Realtime input and output.
	OpenAISampleRate = 24_000 // Hz

	// Synthesized speech from either service.
	ServiceOutputSampleRate = 24_000 // Hz
	ServiceChannels         = 1

	BytesPerSample = 2 // 16-bit PCM

	// DefaultFramesPerBuffer matches the capture callback size of the browser client.
	DefaultFramesPerBuffer = 4096
)
