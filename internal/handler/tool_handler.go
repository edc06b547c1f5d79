package handler

import (
	"net/http"

	"github.com/ClareAI/astra-sip-bridge/internal/tools"
	"github.com/ClareAI/astra-sip-bridge/pkg/logger"
	"go.uber.org/zap"
)

// ToolHandler exposes the agent tools to programmatic callers.
type ToolHandler struct {
	link  *tools.LinkIdentity
	place *tools.PlaceCall
}

func NewToolHandler(link *tools.LinkIdentity, place *tools.PlaceCall) *ToolHandler {
	return &ToolHandler{link: link, place: place}
}

// HandleLinkIdentity enrolls a caller. Tool failures are 422 with the
// tool's own result body.
func (h *ToolHandler) HandleLinkIdentity(w http.ResponseWriter, r *http.Request) {
	var in tools.LinkInput
	if !decodeBody(w, r, &in) {
		return
	}

	res := h.link.Link(r.Context(), in)
	if !res.OK {
		logger.Base().Warn("link_identity failed", zap.String("identity", in.Name), zap.String("error", res.Error))
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandlePlaceCall dials a number, extension or linked identity.
func (h *ToolHandler) HandlePlaceCall(w http.ResponseWriter, r *http.Request) {
	var in tools.PlaceCallInput
	if !decodeBody(w, r, &in) {
		return
	}

	res := h.place.Place(r.Context(), in)
	if res.Error != "" {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
