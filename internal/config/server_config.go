package config

import (
	"errors"
	"fmt"
	"strings"
)

const (
	IdentityStoreFile   = "file"
	IdentityStoreRedis  = "redis"
	IdentityStoreMemory = "memory"

	OutboundProviderVoiceApp = "voice-app"
	OutboundProviderTwilio   = "twilio"
)

var ErrMissingAPIKey = errors.New("VOICE_WEBHOOK_API_KEY is required")

// ServerConfig configures the webhook control-plane process.
type ServerConfig struct {
	Port             string
	APIKey           string
	PluginConfigFile string

	IdentityStore string
	IdentityFile  string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIChatModel string

	OutboundProvider      string
	VoiceAppURL           string
	TwilioAccountSID      string
	TwilioAuthToken       string
	TwilioFromNumber      string
	TwilioConversationURL string

	RateLimit float64
	RateBurst int
}

// LoadServerConfig loads server configuration from environment variables
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:             getEnv("VOICE_WEBHOOK_PORT", "3334"),
		APIKey:           getEnv("VOICE_WEBHOOK_API_KEY", ""),
		PluginConfigFile: getEnv("PLUGIN_CONFIG_FILE", "config/plugin.json"),

		IdentityStore: strings.ToLower(getEnv("IDENTITY_STORE", IdentityStoreFile)),
		IdentityFile:  getEnv("IDENTITY_FILE", "config/identity-links.json"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
		OpenAIChatModel: getEnv("OPENAI_CHAT_MODEL", ""),

		OutboundProvider:      strings.ToLower(getEnv("OUTBOUND_PROVIDER", OutboundProviderVoiceApp)),
		VoiceAppURL:           getEnv("VOICE_APP_URL", "http://localhost:3000/api"),
		TwilioAccountSID:      getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:       getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:      getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioConversationURL: getEnv("TWILIO_CONVERSATION_URL", ""),

		RateLimit: getEnvAsFloat("WEBHOOK_RATE_LIMIT", 20),
		RateBurst: getEnvAsInt("WEBHOOK_RATE_BURST", 40),
	}
}

// Validate reports configuration the server cannot start with.
func (c *ServerConfig) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	switch c.IdentityStore {
	case IdentityStoreFile, IdentityStoreRedis, IdentityStoreMemory:
	default:
		return fmt.Errorf("invalid IDENTITY_STORE %q", c.IdentityStore)
	}
	switch c.OutboundProvider {
	case OutboundProviderVoiceApp:
	case OutboundProviderTwilio:
		if c.TwilioAccountSID == "" || c.TwilioAuthToken == "" || c.TwilioFromNumber == "" {
			return errors.New("twilio outbound requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER")
		}
	default:
		return fmt.Errorf("invalid OUTBOUND_PROVIDER %q", c.OutboundProvider)
	}
	return nil
}
