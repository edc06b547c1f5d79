package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ClareAI/astra-sip-bridge/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlugin = `{
  "accounts": [{"id": "morpheus", "extension": "9000"}, {"id": "cephanie", "extension": "9001"}, {"id": "ghost"}],
  "bindings": [{"accountId": "morpheus", "agentId": "morpheus"}, {"accountId": "cephanie", "agentId": "ceph-agent"}],
  "identityLinks": {"operator": ["sip-voice:+15551234567", "discord:1"], "broken": "nope"},
  "devices": {
    "9001": {"name": "Cephanie", "accountId": "cephanie", "voiceId": "v1", "prompt": "You are Cephanie.", "allowFrom": ["+15551234567"]},
    "9002": {"name": "trinity", "extension": "9002"}
  }
}`

func TestParsePluginConfig(t *testing.T) {
	cfg, err := ParsePluginConfig([]byte(samplePlugin))
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"morpheus": "morpheus", "cephanie": "ceph-agent"}, cfg.BindingMap())
	assert.Equal(t, map[string]string{"morpheus": "9000", "cephanie": "9001"}, cfg.AccountExtensions())

	links, err := cfg.StaticLinks()
	require.NoError(t, err)
	assert.Equal(t, identity.Links{"operator": {"sip-voice:+15551234567", "discord:1"}}, links)
}

func TestParsePluginConfigRejectsInvalidBinding(t *testing.T) {
	_, err := ParsePluginConfig([]byte(`{"bindings":[{"accountId":"morpheus"}]}`))
	assert.ErrorContains(t, err, "invalid plugin config")

	_, err = ParsePluginConfig([]byte(`{`))
	assert.Error(t, err)
}

func TestLoadPluginConfigMissingFile(t *testing.T) {
	cfg, err := LoadPluginConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, cfg.BindingMap())

	path := filepath.Join(t.TempDir(), "plugin.json")
	require.NoError(t, os.WriteFile(path, []byte(samplePlugin), 0o600))
	cfg, err = LoadPluginConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Bindings, 2)
}

func TestDeviceRegistry(t *testing.T) {
	cfg, err := ParsePluginConfig([]byte(samplePlugin))
	require.NoError(t, err)
	reg := NewDeviceRegistry(cfg.Devices)

	d, ok := reg.Get("9001")
	require.True(t, ok)
	assert.Equal(t, "Cephanie", d.Name)
	assert.Equal(t, "9001", d.Extension)
	assert.Equal(t, []string{"+15551234567"}, d.AllowFrom)

	byName, ok := reg.Get("cephanie")
	require.True(t, ok)
	assert.Same(t, d, byName)

	trinity, ok := reg.Get("9002")
	require.True(t, ok)
	assert.Equal(t, "trinity", trinity.AccountID, "accountId falls back to name")

	_, ok = reg.Get("1234")
	assert.False(t, ok)
	assert.Equal(t, "morpheus", reg.Default().AccountID)
}

func TestLoadServerConfig(t *testing.T) {
	t.Setenv("VOICE_WEBHOOK_API_KEY", "k")
	t.Setenv("VOICE_WEBHOOK_PORT", "4000")
	t.Setenv("IDENTITY_STORE", "Redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("WEBHOOK_RATE_LIMIT", "2.5")

	cfg := LoadServerConfig()
	assert.Equal(t, "4000", cfg.Port)
	assert.Equal(t, IdentityStoreRedis, cfg.IdentityStore)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 2.5, cfg.RateLimit)
	assert.Equal(t, OutboundProviderVoiceApp, cfg.OutboundProvider)
	require.NoError(t, cfg.Validate())

	cfg.APIKey = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingAPIKey)

	cfg.APIKey = "k"
	cfg.OutboundProvider = OutboundProviderTwilio
	assert.Error(t, cfg.Validate())

	cfg.OutboundProvider = OutboundProviderVoiceApp
	cfg.IdentityStore = "etcd"
	assert.Error(t, cfg.Validate())
}

func TestLoadVoiceConfig(t *testing.T) {
	t.Setenv("MAX_TURNS", "5")
	t.Setenv("UTTERANCE_TIMEOUT", "12")
	t.Setenv("AUDIO_FORK_TIMEOUT", "1500ms")
	t.Setenv("FALLBACK_GREETING", "Greetings, how may I assist?")

	cfg := LoadVoiceConfig()
	assert.Equal(t, "direct", cfg.BridgeType)
	assert.Equal(t, 5, cfg.MaxTurns)
	assert.Equal(t, 12*time.Second, cfg.UtteranceTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.ForkTimeout)
	assert.Equal(t, "Greetings, how may I assist?", cfg.FallbackGreeting)
	assert.Equal(t, DefaultUnavailableMessage, cfg.UnavailableMessage)
	assert.Equal(t, TTSProviderOpenAI, cfg.TTSProvider)
	assert.Equal(t, "en", cfg.STTLanguage)
}

func TestLoadVoiceConfigSpeech(t *testing.T) {
	t.Setenv("TTS_PROVIDER", "ElevenLabs")
	t.Setenv("ELEVENLABS_DEFAULT_VOICE_ID", "voice-x")
	t.Setenv("AUDIO_CACHE_DIR", "/var/cache/voice")

	cfg := LoadVoiceConfig()
	assert.Equal(t, TTSProviderElevenLabs, cfg.TTSProvider)
	assert.Equal(t, "voice-x", cfg.ElevenLabsVoiceID)
	assert.Equal(t, "/var/cache/voice", cfg.AudioCacheDir)
	assert.Equal(t, "3000", cfg.HTTPPort)
	assert.Equal(t, ":3001", cfg.ForkListenAddr)
}
