package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nidhogg/sigil-registry/internal/registry"
)

func (h *Handler) initializeAuditor(w http.ResponseWriter, r *http.Request) {
	id, ok := caller(w, r)
	if !ok {
		return
	}
	a, err := h.ledger.InitializeAuditor(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) listAuditors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ledger.Auditors())
}

func (h *Handler) getAuditor(w http.ResponseWriter, r *http.Request) {
	a, err := h.ledger.Auditor(auditorParam(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) attestedBy(w http.ResponseWriter, r *http.Request) {
	id := auditorParam(r)
	if _, err := h.ledger.Auditor(id); err != nil {
		h.fail(w, err)
		return
	}
	skills, err := h.index.SkillsAttestedBy(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if skills == nil {
		skills = []string{}
	}
	writeJSON(w, http.StatusOK, skills)
}

func (h *Handler) auditorPeers(w http.ResponseWriter, r *http.Request) {
	if h.graph == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "graph not configured"})
		return
	}
	peers, err := h.graph.Peers(r.Context(), auditorParam(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	if peers == nil {
		peers = []string{}
	}
	writeJSON(w, http.StatusOK, peers)
}

type stakeRequest struct {
	Amount uint64 `json:"amount"`
}

func (h *Handler) stake(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req stakeRequest
	if !decode(w, r, &req) {
		return
	}
	a, err := h.ledger.Stake(r.Context(), who, auditorParam(r), req.Amount)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type tierRequest struct {
	Tier string `json:"tier"`
}

func (h *Handler) setTier(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req tierRequest
	if !decode(w, r, &req) {
		return
	}
	tier, err := registry.ParseTier(req.Tier)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	a, err := h.ledger.SetAuditorTier(r.Context(), who, auditorParam(r), tier)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type auditorAction func(ctx context.Context, caller, auditor registry.Identity) (*registry.Auditor, error)

// lifecycle adapts the body-less auditor transitions to a handler.
func (h *Handler) lifecycle(action auditorAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		who, ok := caller(w, r)
		if !ok {
			return
		}
		a, err := action(r.Context(), who, auditorParam(r))
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func (h *Handler) requestUnstake(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.ledger.RequestUnstake)(w, r)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.ledger.WithdrawStake)(w, r)
}

func (h *Handler) slash(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.ledger.SlashAuditor)(w, r)
}

func (h *Handler) reinstate(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(h.ledger.ReinstateAuditor)(w, r)
}

func auditorParam(r *http.Request) registry.Identity {
	return registry.Identity(chi.URLParam(r, "id"))
}
