package bridge

import (
	"context"
	"net/http"
	"time"

	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
)

// WebhookBridge talks to the webhook protocol server (/voice/*) with a
// Bearer key.
type WebhookBridge struct {
	t *transport
}

var _ Bridge = (*WebhookBridge)(nil)

type voiceQueryRequest struct {
	Prompt    string `json:"prompt"`
	CallID    string `json:"callId"`
	AccountID string `json:"accountId,omitempty"`
	PeerID    string `json:"peerId,omitempty"`
}

type voiceQueryResponse struct {
	Response *string `json:"response"`
}

func NewWebhookBridge(baseURL, apiKey string) *WebhookBridge {
	if baseURL == "" {
		logger.Base().Warn("agent webhook URL is not set, bridge will not connect")
	}
	if apiKey == "" {
		logger.Base().Warn("agent webhook API key is not set, requests will fail authentication")
	}
	return &WebhookBridge{t: newTransport("webhook", baseURL, apiKey)}
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func (b *WebhookBridge) WithHTTPClient(c *http.Client) *WebhookBridge {
	b.t.httpClient = c
	return b
}

func (b *WebhookBridge) Query(ctx context.Context, prompt string, opts QueryOptions) (Response, error) {
	return b.t.query(ctx, opts, func(ctx context.Context) (string, error) {
		var out voiceQueryResponse
		req := voiceQueryRequest{Prompt: prompt, CallID: opts.CallID, AccountID: opts.AccountID, PeerID: opts.PeerID}
		if err := b.t.do(ctx, http.MethodPost, "/voice/query", req, &out); err != nil {
			return "", err
		}
		if out.Response == nil {
			return "", nil
		}
		return *out.Response, nil
	})
}

func (b *WebhookBridge) EndSession(ctx context.Context, callID string) {
	b.t.endSession(ctx, "/voice/end-session", callID)
}

func (b *WebhookBridge) IsAvailable(ctx context.Context, timeout time.Duration) bool {
	return b.t.isAvailable(ctx, "/voice/health", timeout)
}
