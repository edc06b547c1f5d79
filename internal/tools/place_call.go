package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/ClareAI/astra-sip-bridge/internal/agent"
	"github.com/ClareAI/astra-sip-bridge/internal/outbound"
	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"go.uber.org/zap"
)

// Numbers and bare extensions are dialed as given; anything else is an
// identity name.
var dialable = regexp.MustCompile(`^\+?[0-9]+$`)

// CallbackLookup resolves an identity name to its callback number.
type CallbackLookup interface {
	CallbackNumber(name string) (string, bool)
}

type PlaceCallInput struct {
	To      string `json:"to"`
	Device  string `json:"device"`
	Message string `json:"message"`
	Mode    string `json:"mode,omitempty"`
}

type PlaceCallResult struct {
	CallID string `json:"callId,omitempty"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// PlaceCall dials a number, extension or linked identity.
type PlaceCall struct {
	placer    outbound.Placer
	callbacks CallbackLookup
}

var _ agent.Tool = (*PlaceCall)(nil)

func NewPlaceCall(placer outbound.Placer, callbacks CallbackLookup) *PlaceCall {
	return &PlaceCall{placer: placer, callbacks: callbacks}
}

// Place never returns an error; failures are reported in the result.
func (p *PlaceCall) Place(ctx context.Context, in PlaceCallInput) PlaceCallResult {
	to := in.To
	if to != "" && !dialable.MatchString(to) {
		number, ok := p.callbacks.CallbackNumber(to)
		if !ok {
			logger.Base().Warn("place_call: unknown identity", zap.String("identity", to))
			return PlaceCallResult{Error: fmt.Sprintf("unknown identity %q: no callback number linked", to)}
		}
		to = number
	}

	res, err := p.placer.PlaceCall(ctx, outbound.Request{
		To:      to,
		Device:  in.Device,
		Message: in.Message,
		Mode:    outbound.Mode(in.Mode),
	})
	if err != nil {
		return PlaceCallResult{Error: err.Error()}
	}
	return PlaceCallResult{CallID: res.CallID, Status: res.Status}
}

func (p *PlaceCall) Name() string { return "place_call" }

func (p *PlaceCall) Description() string {
	return "Place an outbound phone call. 'to' may be a phone number, an extension, or a linked identity name. " +
		"announce mode speaks the message and hangs up; conversation mode starts a dialogue."
}

func (p *PlaceCall) Parameters() any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to":      map[string]any{"type": "string"},
			"device":  map[string]any{"type": "string", "description": "Extension to call from."},
			"message": map[string]any{"type": "string", "maxLength": outbound.MaxMessageLength},
			"mode":    map[string]any{"type": "string", "enum": []string{string(outbound.ModeAnnounce), string(outbound.ModeConversation)}},
		},
		"required": []string{"to", "message"},
	}
}

// Invoke defaults the device to the extension of the current call.
func (p *PlaceCall) Invoke(ctx context.Context, tc agent.ToolContext, args json.RawMessage) (any, error) {
	var in PlaceCallInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Device == "" {
		in.Device = tc.Device
	}
	return p.Place(ctx, in), nil
}
