package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Renderer produces encoded audio (mp3) for a line of text.
type Renderer interface {
	Render(ctx context.Context, text, voiceID string) ([]byte, error)
}

const defaultOpenAIVoice = "alloy"

var openAIVoices = map[string]bool{
	"alloy": true, "ash": true, "ballad": true, "coral": true, "echo": true, "fable": true,
	"onyx": true, "nova": true, "sage": true, "shimmer": true, "verse": true,
}

// OpenAIRenderer synthesizes with the OpenAI speech endpoint. Device voice
// IDs that are not OpenAI voices fall back to the default voice.
type OpenAIRenderer struct {
	client       *openai.Client
	model        openai.SpeechModel
	defaultVoice string
}

func NewOpenAIRenderer(cfg OpenAIConfig, model, defaultVoice string) *OpenAIRenderer {
	if model == "" {
		model = string(openai.TTSModel1)
	}
	if !openAIVoices[defaultVoice] {
		defaultVoice = defaultOpenAIVoice
	}
	return &OpenAIRenderer{
		client:       newOpenAIClient(cfg),
		model:        openai.SpeechModel(model),
		defaultVoice: defaultVoice,
	}
}

func (r *OpenAIRenderer) Render(ctx context.Context, text, voiceID string) ([]byte, error) {
	voice := strings.ToLower(voiceID)
	if !openAIVoices[voice] {
		voice = r.defaultVoice
	}

	resp, err := r.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          r.model,
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Close()
	return io.ReadAll(resp)
}

const (
	defaultElevenLabsURL   = "https://api.elevenlabs.io/v1"
	defaultElevenLabsModel = "eleven_multilingual_v2"
)

// ElevenLabsConfig configures ElevenLabsRenderer.
type ElevenLabsConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	DefaultVoice string
	Timeout      time.Duration
}

// ElevenLabsRenderer synthesizes with the ElevenLabs text-to-speech API.
type ElevenLabsRenderer struct {
	cfg    ElevenLabsConfig
	client *http.Client
}

func NewElevenLabsRenderer(cfg ElevenLabsConfig) *ElevenLabsRenderer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultElevenLabsURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultElevenLabsModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ElevenLabsRenderer{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

type elevenLabsRequest struct {
	Text          string             `json:"text"`
	ModelID       string             `json:"model_id"`
	VoiceSettings elevenLabsSettings `json:"voice_settings"`
}

type elevenLabsSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

func (r *ElevenLabsRenderer) Render(ctx context.Context, text, voiceID string) ([]byte, error) {
	if voiceID == "" {
		voiceID = r.cfg.DefaultVoice
	}
	if voiceID == "" {
		return nil, fmt.Errorf("no voice id configured")
	}

	body, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: r.cfg.Model,
		VoiceSettings: elevenLabsSettings{
			Stability:       0.5,
			SimilarityBoost: 0.8,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/text-to-speech/"+voiceID, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", r.cfg.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech synthesis failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ElevenLabs API error: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
