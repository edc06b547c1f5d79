package handler

import (
	"context"
	"net/http"

	"github.com/ClareAI/astra-sip-bridge/internal/agent"
	"github.com/ClareAI/astra-sip-bridge/internal/config"
	"github.com/ClareAI/astra-sip-bridge/internal/identity"
	"github.com/ClareAI/astra-sip-bridge/internal/session"
	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"go.uber.org/zap"
)

// IdentityResolver maps a caller to a known identity.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, peerID string) (identity.Resolution, error)
}

// VoiceHandler serves the query and end-session webhooks.
type VoiceHandler struct {
	runtime    agent.Runtime
	registry   *session.Registry
	resolver   IdentityResolver
	bindings   map[string]string
	extensions map[string]string
	devices    *config.DeviceRegistry
}

// NewVoiceHandler wires the webhook handlers. bindings maps accountId to
// agentId; extensions maps accountId to the device extension.
func NewVoiceHandler(runtime agent.Runtime, registry *session.Registry, resolver IdentityResolver, bindings, extensions map[string]string, devices *config.DeviceRegistry) *VoiceHandler {
	if devices == nil {
		devices = config.NewDeviceRegistry(nil)
	}
	return &VoiceHandler{
		runtime:    runtime,
		registry:   registry,
		resolver:   resolver,
		bindings:   bindings,
		extensions: extensions,
		devices:    devices,
	}
}

type queryRequest struct {
	Prompt    string `json:"prompt" validate:"required"`
	CallID    string `json:"callId" validate:"required"`
	AccountID string `json:"accountId" validate:"required"`
	PeerID    string `json:"peerId,omitempty"`
}

type queryResponse struct {
	Response *string `json:"response"`
}

type endSessionRequest struct {
	CallID string `json:"callId" validate:"required"`
}

// HandleHealth is the unauthenticated liveness check.
func (h *VoiceHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// HandleQuery answers one caller prompt within the call's session.
func (h *VoiceHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	log := logger.Base().With(
		zap.String("request_id", RequestIDFrom(r.Context())),
		zap.String("call_id", req.CallID),
		zap.String("account_id", req.AccountID))

	agentID, ok := h.bindings[req.AccountID]
	if !ok {
		log.Warn("no agent binding for accountId")
		writeError(w, http.StatusNotFound, "no agent binding for accountId")
		return
	}

	sessionID, created := h.registry.GetOrCreate(req.CallID, session.SameAsCallID)
	if created {
		log.Info("session created", zap.String("session_id", sessionID))
	}

	res, err := h.resolver.ResolveIdentity(r.Context(), req.PeerID)
	if err != nil {
		log.Warn("identity lookup failed, treating as first call", zap.Error(err))
		res = identity.Resolution{IsFirstCall: true}
	}
	log.Debug("query context", zap.String("peer_id", req.PeerID), zap.String("identity", res.Identity))

	areq := agent.Request{
		AgentID:   agentID,
		SessionID: sessionID,
		Prompt:    req.Prompt,
		PeerID:    req.PeerID,
		Identity:  res,
	}
	if ext, ok := h.extensions[req.AccountID]; ok {
		areq.Device = ext
		if dev, ok := h.devices.Get(ext); ok {
			areq.DevicePrompt = dev.Prompt
		}
	}

	reply, err := h.runtime.Query(r.Context(), areq)
	if err != nil {
		log.Error("agent query failed", zap.String("agent_id", agentID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "agent unavailable")
		return
	}

	resp := queryResponse{}
	if reply != "" {
		resp.Response = &reply
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleEndSession drops the call's session. It succeeds whether or not the
// session existed.
func (h *VoiceHandler) HandleEndSession(w http.ResponseWriter, r *http.Request) {
	var req endSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sessionID, ok := h.registry.Get(req.CallID)
	if !ok {
		logger.Base().Warn("end-session for unknown callId", zap.String("call_id", req.CallID))
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	h.registry.Remove(req.CallID)
	h.runtime.EndSession(sessionID)
	logger.Base().Info("session ended", zap.String("call_id", req.CallID), zap.String("session_id", sessionID))
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
