// Package agent runs the agent behind the webhook server: it turns a caller
// prompt plus call context into the agent's reply.
package agent

import (
	"context"
	"encoding/json"

	"github.com/ClareAI/astra-sip-bridge/internal/identity"
)

// Request is one caller prompt with its routing and identity context.
type Request struct {
	AgentID      string
	SessionID    string
	Prompt       string
	PeerID       string
	Identity     identity.Resolution
	Device       string
	DevicePrompt string
}

// Runtime answers prompts within a session.
type Runtime interface {
	Query(ctx context.Context, req Request) (string, error)
	EndSession(sessionID string)
}

// ToolContext is the call context a tool runs under. It is never taken from
// model output.
type ToolContext struct {
	SessionID string
	PeerID    string
	Device    string
}

// Tool is a function the agent may call mid-reply.
type Tool interface {
	Name() string
	Description() string
	Parameters() any
	Invoke(ctx context.Context, tc ToolContext, args json.RawMessage) (any, error)
}

// ChannelLookup reports the non-voice channels linked to an identity.
type ChannelLookup interface {
	UserChannels(name string) []string
}
