package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/haguro/elevenlabs-go"
)

const defaultElevenLabsModel = "eleven_turbo_v2_5"

// ErrMissingAPIKey is returned when a hosted backend is configured without credentials.
var ErrMissingAPIKey = errors.New("missing speech API key")

// ElevenLabs is a Synthesizer backed by the ElevenLabs text-to-speech API. It returns MP3 audio.
type ElevenLabs struct {
	apiKey  string
	voiceID string
	modelID string
	timeout time.Duration
}

// NewElevenLabs creates an ElevenLabs synthesizer.
func NewElevenLabs(apiKey, voiceID, modelID string, timeout time.Duration) (*ElevenLabs, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	if modelID == "" {
		modelID = defaultElevenLabsModel
	}

	return &ElevenLabs{apiKey: apiKey, voiceID: voiceID, modelID: modelID, timeout: timeout}, nil
}

// Synthesize implements Synthesizer.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (Clip, error) {
	if strings.TrimSpace(text) == "" {
		return Clip{}, ErrTextEmpty
	}

	client := elevenlabs.NewClient(ctx, e.apiKey, e.timeout)

	audio, err := client.TextToSpeech(e.voiceID, elevenlabs.TextToSpeechRequest{
		Text:    text,
		ModelID: e.modelID,
	})
	if err != nil {
		return Clip{}, fmt.Errorf("failed to generate speech with ElevenLabs: %w", err)
	}

	if len(audio) == 0 {
		return Clip{}, ErrEmptyAudio
	}

	return Clip{Audio: audio, Ext: ".mp3"}, nil
}
