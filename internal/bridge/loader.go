package bridge

import (
	"fmt"

	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"go.uber.org/zap"
)

const (
	TypeDirect  = "direct"
	TypeWebhook = "webhook"
)

// LoadOptions selects and configures a bridge implementation.
type LoadOptions struct {
	Type          string
	AgentAPIURL   string
	WebhookURL    string
	WebhookAPIKey string
}

// Load returns the bridge named by opts.Type. An empty type means direct.
func Load(opts LoadOptions) (Bridge, error) {
	kind := opts.Type
	if kind == "" {
		kind = TypeDirect
	}

	switch kind {
	case TypeDirect:
		logger.Base().Info("using agent bridge", zap.String("type", kind), zap.String("url", opts.AgentAPIURL))
		return NewDirectBridge(opts.AgentAPIURL), nil
	case TypeWebhook:
		logger.Base().Info("using agent bridge", zap.String("type", kind), zap.String("url", opts.WebhookURL))
		return NewWebhookBridge(opts.WebhookURL, opts.WebhookAPIKey), nil
	default:
		return nil, fmt.Errorf("invalid BRIDGE_TYPE %q: must be %q or %q", kind, TypeDirect, TypeWebhook)
	}
}
