package outbound

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"
)

// callCreator is the slice of the Twilio REST API the placer uses.
type callCreator interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
}

// TwilioConfig configures TwilioPlacer.
type TwilioConfig struct {
	AccountSID      string
	AuthToken       string
	FromNumber      string
	ConversationURL string
}

// TwilioPlacer places calls through the Twilio REST API. Announce calls get
// inline TwiML; conversation calls are pointed at ConversationURL.
type TwilioPlacer struct {
	api             callCreator
	fromNumber      string
	conversationURL string
}

var _ Placer = (*TwilioPlacer)(nil)

func NewTwilioPlacer(cfg TwilioConfig) *TwilioPlacer {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioPlacer{
		api:             client.Api,
		fromNumber:      cfg.FromNumber,
		conversationURL: cfg.ConversationURL,
	}
}

func (p *TwilioPlacer) PlaceCall(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(toE164(req.To))
	params.SetFrom(p.fromNumber)

	switch req.Mode {
	case ModeConversation:
		if p.conversationURL == "" {
			return nil, fmt.Errorf("conversation mode requires a conversation URL")
		}
		target, err := conversationTarget(p.conversationURL, req)
		if err != nil {
			return nil, err
		}
		params.SetUrl(target)
	default:
		twiml, err := announceTwiML(req.Message)
		if err != nil {
			return nil, err
		}
		params.SetTwiml(twiml)
	}

	logger.Base().Info("placing outbound call via twilio", zap.String("device", req.Device), zap.String("mode", string(req.Mode)))

	call, err := p.api.CreateCall(params)
	if err != nil {
		logger.Base().Error("twilio call creation failed", zap.Error(err))
		return nil, fmt.Errorf("twilio call creation failed: %w", err)
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		return nil, ErrMissingCallID
	}

	status := "initiated"
	if call.Status != nil && *call.Status != "" {
		status = *call.Status
	}
	logger.Base().Info("outbound call placed", zap.String("call_id", *call.Sid), zap.String("status", status))
	return &Result{CallID: *call.Sid, Status: status}, nil
}

// toE164 keeps extensions and SIP URIs as-is and prefixes bare numbers.
func toE164(to string) string {
	to = strings.TrimSpace(to)
	if strings.HasPrefix(to, "+") || strings.Contains(to, ":") || len(to) < 7 {
		return to
	}
	return "+" + to
}

func announceTwiML(message string) (string, error) {
	var b strings.Builder
	b.WriteString("<Response><Say>")
	if err := xml.EscapeText(&b, []byte(message)); err != nil {
		return "", fmt.Errorf("failed to render twiml: %w", err)
	}
	b.WriteString("</Say><Hangup/></Response>")
	return b.String(), nil
}

func conversationTarget(base string, req Request) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid conversation URL: %w", err)
	}
	q := u.Query()
	q.Set("device", req.Device)
	q.Set("message", req.Message)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
