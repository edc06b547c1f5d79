package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"go.uber.org/zap"
)

// transport is the HTTP plumbing shared by the bridge implementations.
type transport struct {
	name       string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	messages   Messages
}

func newTransport(name, baseURL, apiKey string) *transport {
	return &transport{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		// Per-request deadlines come from the context.
		httpClient: &http.Client{},
		messages:   DefaultMessages,
	}
}

func (t *transport) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	return req, nil
}

// do sends the request and decodes a 2xx JSON body into out.
func (t *transport) do(ctx context.Context, method, path string, body, out any) error {
	req, err := t.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{StatusCode: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// query runs one agent request under the bridge contract. send performs the
// request and returns the agent text.
func (t *transport) query(ctx context.Context, opts QueryOptions, send func(ctx context.Context) (string, error)) (Response, error) {
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		logger.Base().Info("query skipped, already canceled",
			zap.String("bridge", t.name), zap.String("call_id", opts.CallID))
		return Response{}, newCanceled(opts.CallID, err)
	}

	logger.Base().Info("sending agent query",
		zap.String("bridge", t.name),
		zap.String("call_id", opts.CallID),
		zap.String("account_id", opts.AccountID))
	if opts.PeerID != "" {
		logger.Base().Debug("agent query caller", zap.String("call_id", opts.CallID), zap.String("peer_id", opts.PeerID))
	}

	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, opts.timeout())
	defer cancel()

	text, err := send(reqCtx)

	// A hangup that races the reply still wins: no late value is returned.
	if cerr := ctx.Err(); errors.Is(cerr, context.Canceled) {
		logger.Base().Info("agent query aborted", zap.String("bridge", t.name), zap.String("call_id", opts.CallID))
		return Response{}, newCanceled(opts.CallID, cerr)
	}

	if err != nil {
		kind := Classify(err)
		logger.Base().Warn("agent query failed",
			zap.String("bridge", t.name),
			zap.String("call_id", opts.CallID),
			zap.String("kind", kind.String()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return Response{Text: t.messages.For(kind), IsError: true}, nil
	}

	logger.Base().Info("agent response received",
		zap.String("bridge", t.name),
		zap.String("call_id", opts.CallID),
		zap.Duration("elapsed", time.Since(start)))
	return Response{Text: text}, nil
}

func (t *transport) endSession(ctx context.Context, path, callID string) {
	if callID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultEndSessionTimeout)
	defer cancel()

	if err := t.do(ctx, http.MethodPost, path, map[string]string{"callId": callID}, nil); err != nil {
		logger.Base().Warn("failed to end agent session",
			zap.String("bridge", t.name), zap.String("call_id", callID), zap.Error(err))
		return
	}
	logger.Base().Info("agent session ended", zap.String("bridge", t.name), zap.String("call_id", callID))
}

func (t *transport) isAvailable(ctx context.Context, path string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultAvailableTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return t.do(ctx, http.MethodGet, path, nil, nil) == nil
}
