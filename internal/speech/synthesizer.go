package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ClareAI/astra-sip-bridge/internal/config"
	"github.com/ClareAI/astra-sip-bridge/internal/services/call"
	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"go.uber.org/zap"
)

// FileSynthesizer renders speech into a directory and hands back the URL
// the media server can fetch it from. Identical text and voice reuse the
// cached file, so fixed prompts are only rendered once.
type FileSynthesizer struct {
	renderer Renderer
	dir      string
	baseURL  string
}

var _ call.Synthesizer = (*FileSynthesizer)(nil)

func NewFileSynthesizer(renderer Renderer, dir, baseURL string) (*FileSynthesizer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio directory: %w", err)
	}
	return &FileSynthesizer{
		renderer: renderer,
		dir:      dir,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}, nil
}

func audioKey(text, voiceID string) string {
	sum := sha256.Sum256([]byte(voiceID + "\x00" + text))
	return hex.EncodeToString(sum[:16]) + ".mp3"
}

func (s *FileSynthesizer) Synthesize(ctx context.Context, text, voiceID string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("nothing to synthesize")
	}

	name := audioKey(text, voiceID)
	url := s.baseURL + "/" + name
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err == nil {
		return url, nil
	}

	audio, err := s.renderer.Render(ctx, text, voiceID)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}

	logger.Base().Debug("speech rendered", zap.String("file", name), zap.Int("bytes", len(audio)))
	return url, nil
}

// Handler serves the rendered files. Mount it under the path of baseURL.
func (s *FileSynthesizer) Handler() http.Handler {
	return http.FileServer(http.Dir(s.dir))
}

// New builds the speech pair from the voice configuration.
func New(cfg *config.VoiceConfig) (*WhisperTranscriber, *FileSynthesizer, error) {
	oa := OpenAIConfig{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL}

	var renderer Renderer
	switch cfg.TTSProvider {
	case config.TTSProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, nil, fmt.Errorf("OPENAI_API_KEY is required for openai speech")
		}
		renderer = NewOpenAIRenderer(oa, cfg.TTSModel, "")
	case config.TTSProviderElevenLabs:
		if cfg.ElevenLabsAPIKey == "" {
			return nil, nil, fmt.Errorf("ELEVENLABS_API_KEY is required for elevenlabs speech")
		}
		renderer = NewElevenLabsRenderer(ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			Model:        cfg.TTSModel,
			DefaultVoice: cfg.ElevenLabsVoiceID,
		})
	default:
		return nil, nil, fmt.Errorf("unknown TTS_PROVIDER %q", cfg.TTSProvider)
	}

	synth, err := NewFileSynthesizer(renderer, cfg.AudioCacheDir, cfg.AudioBaseURL)
	if err != nil {
		return nil, nil, err
	}
	return NewWhisperTranscriber(oa, cfg.STTLanguage), synth, nil
}
