// Package handlers implements the HTTP handlers for the Concierge API:
// the turn endpoint plus the diagnostic domain listing.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mypetparlor/concierge/internal/dispatch"
	"github.com/mypetparlor/concierge/internal/registry"
	"github.com/mypetparlor/concierge/internal/turn"
	sharedmw "github.com/mypetparlor/concierge/pkg/middleware"
	"github.com/mypetparlor/concierge/pkg/models"
	"github.com/rs/zerolog/log"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Dispatcher *dispatch.Dispatcher
	Registry   *registry.Registry
}

// New creates a Handlers instance.
func New(d *dispatch.Dispatcher, reg *registry.Registry) *Handlers {
	return &Handlers{Dispatcher: d, Registry: reg}
}

type turnRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// PostTurn runs one conversational turn end to end.
func (h *Handlers) PostTurn(w http.ResponseWriter, r *http.Request) {
	identity := sharedmw.GetIdentity(r.Context())
	if identity == nil || identity.Subject == "" {
		writeError(w, http.StatusUnauthorized, "missing identity assertion")
		return
	}

	var req turnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tc, err := turn.New(req.SessionID, *identity, req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.Dispatcher.HandleTurn(r.Context(), tc)
	if err != nil {
		if errors.Is(err, dispatch.ErrSuperseded) {
			writeError(w, http.StatusConflict, "turn superseded by a newer request")
			return
		}
		log.Error().Str("turn_id", tc.TurnID).Err(err).Msg("turn failed")
		writeError(w, http.StatusInternalServerError, "turn failed")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type domainInfo struct {
	Domain     models.Domain `json:"domain"`
	Operations []string      `json:"operations"`
}

// ListDomains is the diagnostic listing of registered capability
// domains and their operation ids. No tenant data is exposed here.
func (h *Handlers) ListDomains(w http.ResponseWriter, r *http.Request) {
	var out []domainInfo
	for _, d := range h.Registry.Domains() {
		info := domainInfo{Domain: d}
		for _, op := range h.Registry.ForDomain(d) {
			info.Operations = append(info.Operations, op.OperationID)
		}
		out = append(out, info)
	}
	// Agents without backend operations still serve turns.
	out = append(out,
		domainInfo{Domain: models.DomainDataAnalysis},
		domainInfo{Domain: models.DomainSetupGuide},
	)
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
