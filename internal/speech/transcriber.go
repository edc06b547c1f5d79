package speech

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ClareAI/astra-sip-bridge/internal/services/call"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig points the speech clients at an OpenAI-compatible API.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
}

func newOpenAIClient(cfg OpenAIConfig) *openai.Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

// WhisperTranscriber turns captured utterances into text with Whisper.
type WhisperTranscriber struct {
	client     *openai.Client
	language   string
	sampleRate int
}

var _ call.Transcriber = (*WhisperTranscriber)(nil)

func NewWhisperTranscriber(cfg OpenAIConfig, language string) *WhisperTranscriber {
	return &WhisperTranscriber{
		client:     newOpenAIClient(cfg),
		language:   language,
		sampleRate: DefaultSampleRate,
	}
}

// Transcribe expects raw 16-bit mono PCM. Empty audio yields an empty
// transcript without a request.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", nil
	}

	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wrapPCM(audio, t.sampleRate)),
		Language: t.language,
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
