package bridge

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"go.uber.org/zap"
)

// DirectMessages mention the agent API server since that is what the
// operator has to check.
var DirectMessages = Messages{
	Unreachable: "I'm having trouble connecting to my brain right now. The API server may be offline or unreachable. Please try again later.",
	Timeout:     "I'm sorry, that request took too long. The API server may be slow or there's a network issue. Try asking something simpler.",
	Unavailable: DefaultMessages.Unavailable,
	Unknown:     "I encountered an unexpected error. Please check that the API server is running and reachable.",
}

// DirectBridge talks to a local agent API server (/ask, /end-session, /health).
type DirectBridge struct {
	t *transport
}

var _ Bridge = (*DirectBridge)(nil)

type askRequest struct {
	Prompt       string `json:"prompt"`
	CallID       string `json:"callId,omitempty"`
	DevicePrompt string `json:"devicePrompt,omitempty"`
}

type askResponse struct {
	Success    bool   `json:"success"`
	Response   string `json:"response"`
	Error      string `json:"error"`
	SessionID  string `json:"sessionId"`
	DurationMs int64  `json:"duration_ms"`
}

func NewDirectBridge(baseURL string) *DirectBridge {
	t := newTransport("direct", baseURL, "")
	t.messages = DirectMessages
	return &DirectBridge{t: t}
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func (b *DirectBridge) WithHTTPClient(c *http.Client) *DirectBridge {
	b.t.httpClient = c
	return b
}

func (b *DirectBridge) Query(ctx context.Context, prompt string, opts QueryOptions) (Response, error) {
	return b.t.query(ctx, opts, func(ctx context.Context) (string, error) {
		var out askResponse
		req := askRequest{Prompt: prompt, CallID: opts.CallID, DevicePrompt: opts.DevicePrompt}
		if err := b.t.do(ctx, http.MethodPost, "/ask", req, &out); err != nil {
			return "", err
		}
		if !out.Success {
			msg := out.Error
			if msg == "" {
				msg = "agent API returned failure"
			}
			return "", errors.New(msg)
		}
		if out.SessionID != "" {
			logger.Base().Debug("agent api session",
				zap.String("call_id", opts.CallID),
				zap.String("session_id", out.SessionID),
				zap.Int64("duration_ms", out.DurationMs))
		}
		return out.Response, nil
	})
}

func (b *DirectBridge) EndSession(ctx context.Context, callID string) {
	b.t.endSession(ctx, "/end-session", callID)
}

func (b *DirectBridge) IsAvailable(ctx context.Context, timeout time.Duration) bool {
	return b.t.isAvailable(ctx, "/health", timeout)
}
