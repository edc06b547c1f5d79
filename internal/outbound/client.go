// Package outbound places calls through the voice app or directly through
// Twilio.
package outbound

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/ClareAI/astra-sip-bridge/internal/identity"
	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const (
	DefaultTimeout   = 10 * time.Second
	MaxMessageLength = 1000
)

type Mode string

const (
	ModeAnnounce     Mode = "announce"
	ModeConversation Mode = "conversation"
)

var (
	ErrInvalidURL    = errors.New("invalid voice app URL")
	ErrUnreachable   = errors.New("voice-app unreachable")
	ErrTimeout       = errors.New("voice-app timeout")
	ErrMissingCallID = errors.New("voice-app response missing callId")
	ErrBadResponse   = errors.New("invalid JSON response from voice-app")
)

// Request describes one outbound call.
type Request struct {
	To      string `json:"to" validate:"required"`
	Device  string `json:"device" validate:"required"`
	Message string `json:"message" validate:"required,max=1000"`
	Mode    Mode   `json:"mode,omitempty" validate:"omitempty,oneof=announce conversation"`
}

// Result is what the placer reports for an accepted call.
type Result struct {
	CallID string `json:"callId"`
	Status string `json:"status"`
}

// Placer places outbound calls.
type Placer interface {
	PlaceCall(ctx context.Context, req Request) (*Result, error)
}

var validate = validator.New()

// Validate checks the request and fills in the default mode.
func (r *Request) Validate() error {
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return describe(verrs[0])
		}
		return err
	}
	if r.Mode == "" {
		r.Mode = ModeAnnounce
	}
	return nil
}

func describe(fe validator.FieldError) error {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("missing required field: %s", field)
	case "max":
		return fmt.Errorf("%s exceeds %s characters", field, fe.Param())
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Errorf("invalid %s", field)
	}
}

// Client calls POST <base>/outbound-call on the voice app.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

var _ Placer = (*Client)(nil)

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

func (c *Client) PlaceCall(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	endpoint := c.BaseURL + "/outbound-call"
	if u, err := url.Parse(endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		logger.Base().Error("outbound call failed: invalid voice app URL")
		return nil, ErrInvalidURL
	}

	body := Request{
		To:      identity.NormalizeNumber(req.To),
		Device:  req.Device,
		Message: req.Message,
		Mode:    req.Mode,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	logger.Base().Info("placing outbound call", zap.String("device", req.Device), zap.String("mode", string(req.Mode)))

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.Base().Error("outbound call failed: non-2xx response", zap.Int("status_code", resp.StatusCode))
		return nil, fmt.Errorf("voice-app returned HTTP %d", resp.StatusCode)
	}

	var result Result
	if err := json.Unmarshal(raw, &result); err != nil {
		logger.Base().Error("outbound call failed: invalid JSON response", zap.Error(err))
		return nil, ErrBadResponse
	}
	if result.CallID == "" {
		logger.Base().Error("outbound call failed: response missing callId")
		return nil, ErrMissingCallID
	}

	logger.Base().Info("outbound call placed", zap.String("call_id", result.CallID), zap.String("status", result.Status))
	return &result, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EHOSTUNREACH):
		logger.Base().Error("voice-app unreachable", zap.Error(err))
		return ErrUnreachable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, syscall.ECONNRESET), isTimeout(err):
		logger.Base().Error("voice-app timeout", zap.Error(err))
		return ErrTimeout
	default:
		logger.Base().Error("outbound call failed", zap.Error(err))
		return fmt.Errorf("outbound call failed: %w", err)
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
