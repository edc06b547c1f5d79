package config

import (
	"strings"
	"time"
)

const (
	DefaultMaxTurns           = 20
	DefaultGreeting           = "Hello! How can I help you today?"
	DefaultUnavailableMessage = "The agent is currently unavailable. Please try again later."
	DefaultUtteranceTimeout   = 30 * time.Second
	DefaultForkTimeout        = 10 * time.Second

	TTSProviderOpenAI     = "openai"
	TTSProviderElevenLabs = "elevenlabs"
)

// VoiceConfig configures the call orchestrator side.
type VoiceConfig struct {
	BridgeType    string
	AgentAPIURL   string
	WebhookURL    string
	WebhookAPIKey string

	ReadyCueURL         string
	GotItCueURL         string
	HoldMusicURL        string
	UnavailableAudioURL string
	UnavailableMessage  string
	FallbackGreeting    string
	DynamicGreeting     bool

	ForkURLBase      string
	MaxTurns         int
	UtteranceTimeout time.Duration
	ForkTimeout      time.Duration
	CheckAvailable   bool

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	STTLanguage       string
	TTSProvider       string
	TTSModel          string
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	AudioCacheDir     string
	AudioBaseURL      string

	SpeechThreshold float64
	SilenceDuration time.Duration

	HTTPPort       string
	ForkListenAddr string
}

// LoadVoiceConfig loads voice app configuration from environment variables
func LoadVoiceConfig() *VoiceConfig {
	return &VoiceConfig{
		BridgeType:    getEnv("BRIDGE_TYPE", "direct"),
		AgentAPIURL:   getEnv("AGENT_API_URL", "http://localhost:3333"),
		WebhookURL:    getEnv("AGENT_WEBHOOK_URL", ""),
		WebhookAPIKey: getEnv("AGENT_WEBHOOK_API_KEY", ""),

		ReadyCueURL:         getEnv("READY_CUE_URL", "http://127.0.0.1:3000/static/ready-beep.wav"),
		GotItCueURL:         getEnv("GOTIT_CUE_URL", "http://127.0.0.1:3000/static/gotit-beep.wav"),
		HoldMusicURL:        getEnv("HOLD_MUSIC_URL", "http://127.0.0.1:3000/static/hold-music.mp3"),
		UnavailableAudioURL: getEnv("UNAVAILABLE_AUDIO_URL", ""),
		UnavailableMessage:  getEnv("UNAVAILABLE_MESSAGE", DefaultUnavailableMessage),
		FallbackGreeting:    getEnv("FALLBACK_GREETING", DefaultGreeting),
		DynamicGreeting:     getEnvAsBool("DYNAMIC_GREETING", false),

		ForkURLBase:      getEnv("AUDIO_FORK_URL", "ws://127.0.0.1:3001"),
		MaxTurns:         getEnvAsInt("MAX_TURNS", DefaultMaxTurns),
		UtteranceTimeout: getEnvAsDuration("UTTERANCE_TIMEOUT", DefaultUtteranceTimeout),
		ForkTimeout:      getEnvAsDuration("AUDIO_FORK_TIMEOUT", DefaultForkTimeout),
		CheckAvailable:   getEnvAsBool("CHECK_BRIDGE_AVAILABLE", true),

		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		STTLanguage:       getEnv("STT_LANGUAGE", "en"),
		TTSProvider:       strings.ToLower(getEnv("TTS_PROVIDER", TTSProviderOpenAI)),
		TTSModel:          getEnv("TTS_MODEL", ""),
		ElevenLabsAPIKey:  getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: getEnv("ELEVENLABS_DEFAULT_VOICE_ID", ""),
		AudioCacheDir:     getEnv("AUDIO_CACHE_DIR", "/tmp/voice-audio"),
		AudioBaseURL:      getEnv("AUDIO_BASE_URL", "http://127.0.0.1:3000/audio"),

		SpeechThreshold: getEnvAsFloat("VAD_THRESHOLD", 500),
		SilenceDuration: getEnvAsDuration("VAD_SILENCE", 800*time.Millisecond),

		HTTPPort:       getEnv("VOICE_APP_PORT", "3000"),
		ForkListenAddr: getEnv("AUDIO_FORK_LISTEN", ":3001"),
	}
}
