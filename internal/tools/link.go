// Package tools holds the operations the agent and programmatic callers can
// trigger: linking a caller to an identity and placing outbound calls.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ClareAI/astra-sip-bridge/internal/agent"
	"github.com/ClareAI/astra-sip-bridge/internal/identity"
)

// Enroller is the write side of the identity directory.
type Enroller interface {
	Enroll(ctx context.Context, name, peerID string, channels []string) (string, error)
}

type LinkInput struct {
	Name     string   `json:"name"`
	PeerID   string   `json:"peerId"`
	Channels []string `json:"channels,omitempty"`
}

type LinkResult struct {
	OK       bool   `json:"ok"`
	Identity string `json:"identity,omitempty"`
	Error    string `json:"error,omitempty"`
}

// LinkIdentity enrolls callers into the identity directory.
type LinkIdentity struct {
	enroller Enroller
}

var _ agent.Tool = (*LinkIdentity)(nil)

func NewLinkIdentity(enroller Enroller) *LinkIdentity {
	return &LinkIdentity{enroller: enroller}
}

// Link never returns an error; failures are reported in the result.
func (l *LinkIdentity) Link(ctx context.Context, in LinkInput) LinkResult {
	name, err := l.enroller.Enroll(ctx, in.Name, in.PeerID, in.Channels)
	if err != nil {
		if errors.Is(err, identity.ErrMissingField) {
			return LinkResult{OK: false, Error: err.Error()}
		}
		return LinkResult{OK: false, Error: fmt.Sprintf("enrollment failed: %v", err)}
	}
	return LinkResult{OK: true, Identity: name}
}

func (l *LinkIdentity) Name() string { return "link_identity" }

func (l *LinkIdentity) Description() string {
	return "Link the current caller's phone number to a name so they are recognised on future calls. " +
		"Optionally attach text channels such as discord:<id> for follow-ups."
}

func (l *LinkIdentity) Parameters() any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name": map[string]any{"type": "string", "description": "The caller's name, lowercase."},
			"channels": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Extra channels in <channel>:<id> form.",
			},
		},
		"required": []string{"name"},
	}
}

// Invoke links the caller on the current call; the peer always comes from
// the call, never from model arguments.
func (l *LinkIdentity) Invoke(ctx context.Context, tc agent.ToolContext, args json.RawMessage) (any, error) {
	var in LinkInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	in.PeerID = tc.PeerID
	return l.Link(ctx, in), nil
}
