package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ClareAI/astra-sip-bridge/internal/identity"
	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Account is a dialable line on the receiving side.
type Account struct {
	ID        string `json:"id" validate:"required"`
	Extension string `json:"extension,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Binding routes an account to an agent.
type Binding struct {
	AccountID string `json:"accountId" validate:"required"`
	AgentID   string `json:"agentId" validate:"required"`
}

// Device is the persona answering an extension.
type Device struct {
	Name      string   `json:"name"`
	Extension string   `json:"extension,omitempty"`
	AccountID string   `json:"accountId,omitempty"`
	VoiceID   string   `json:"voiceId,omitempty"`
	Prompt    string   `json:"prompt,omitempty"`
	AllowFrom []string `json:"allowFrom,omitempty"`
}

// PluginConfig is the operator-maintained JSON file.
type PluginConfig struct {
	Accounts      []Account         `json:"accounts" validate:"dive"`
	Bindings      []Binding         `json:"bindings" validate:"dive"`
	IdentityLinks json.RawMessage   `json:"identityLinks,omitempty"`
	Devices       map[string]Device `json:"devices,omitempty" validate:"dive"`
	VoiceAppURL   string            `json:"voiceAppUrl,omitempty"`
}

var validate = validator.New()

// LoadPluginConfig reads the plugin config file. A missing file yields an
// empty config.
func LoadPluginConfig(path string) (*PluginConfig, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Base().Warn("plugin config file not found, using empty config", zap.String("path", path))
		return &PluginConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin config: %w", err)
	}
	return ParsePluginConfig(raw)
}

// ParsePluginConfig decodes and validates a plugin config document.
func ParsePluginConfig(raw []byte) (*PluginConfig, error) {
	var cfg PluginConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse plugin config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid plugin config: %w", err)
	}
	return &cfg, nil
}

// BindingMap returns accountId → agentId.
func (p *PluginConfig) BindingMap() map[string]string {
	out := make(map[string]string, len(p.Bindings))
	for _, b := range p.Bindings {
		out[b.AccountID] = b.AgentID
	}
	return out
}

// AccountExtensions returns accountId → extension for accounts that have one.
func (p *PluginConfig) AccountExtensions() map[string]string {
	out := make(map[string]string, len(p.Accounts))
	for _, a := range p.Accounts {
		if a.ID != "" && a.Extension != "" {
			out[a.ID] = a.Extension
		}
	}
	return out
}

// StaticLinks parses the operator-defined identity links.
func (p *PluginConfig) StaticLinks() (identity.Links, error) {
	if len(p.IdentityLinks) == 0 {
		return identity.Links{}, nil
	}
	return identity.ParseLinks(p.IdentityLinks)
}

// DefaultDevice answers extensions with no configured device.
var DefaultDevice = Device{
	Name:      "morpheus",
	Extension: "9000",
	AccountID: "morpheus",
}

// DeviceRegistry looks devices up by name or extension.
type DeviceRegistry struct {
	byKey map[string]*Device
	def   *Device
}

// NewDeviceRegistry indexes devices. A device without an accountId uses its
// name.
func NewDeviceRegistry(devices map[string]Device) *DeviceRegistry {
	r := &DeviceRegistry{byKey: make(map[string]*Device)}
	for key, d := range devices {
		d := d
		if d.Extension == "" {
			d.Extension = key
		}
		if d.AccountID == "" {
			logger.Base().Warn("device has no accountId, falling back to name", zap.String("device", d.Name))
			d.AccountID = d.Name
		}
		r.byKey[d.Extension] = &d
		if d.Name != "" {
			r.byKey[strings.ToLower(d.Name)] = &d
		}
	}

	def := DefaultDevice
	if d, ok := r.byKey[DefaultDevice.Extension]; ok {
		def = *d
	}
	r.def = &def
	return r
}

// Get returns the device for a name or extension.
func (r *DeviceRegistry) Get(key string) (*Device, bool) {
	if d, ok := r.byKey[key]; ok {
		return d, true
	}
	d, ok := r.byKey[strings.ToLower(key)]
	return d, ok
}

// Default returns the fallback device.
func (r *DeviceRegistry) Default() *Device {
	return r.def
}
