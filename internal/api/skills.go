package api

import (
	"net/http"

	"github.com/nidhogg/sigil-registry/internal/registry"
)

type mintSkillRequest struct {
	ID               registry.SkillID    `json:"id"`
	CreatorSignature registry.Signature  `json:"creator_signature"`
	Price            uint64              `json:"price"`
	CodeRef          registry.ContentRef `json:"code_ref"`
}

// skillView pairs the stored skill with the score a reader should trust.
type skillView struct {
	*registry.Skill
	EffectiveScore uint16 `json:"effective_score"`
}

func (h *Handler) mintSkill(w http.ResponseWriter, r *http.Request) {
	creator, ok := caller(w, r)
	if !ok {
		return
	}
	var req mintSkillRequest
	if !decode(w, r, &req) {
		return
	}
	skill, err := h.ledger.MintSkill(r.Context(), registry.MintRequest{
		ID:               req.ID,
		Creator:          creator,
		CreatorSignature: req.CreatorSignature,
		Price:            req.Price,
		CodeRef:          req.CodeRef,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, skill)
}

func (h *Handler) listSkills(w http.ResponseWriter, r *http.Request) {
	skills := h.ledger.Skills()
	if skills == nil {
		skills = []*registry.Skill{}
	}
	writeJSON(w, http.StatusOK, skills)
}

func (h *Handler) getSkill(w http.ResponseWriter, r *http.Request) {
	id, ok := skillParam(w, r)
	if !ok {
		return
	}
	skill, err := h.ledger.Skill(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	score, err := h.ledger.EffectiveScore(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, skillView{Skill: skill, EffectiveScore: score})
}

type attestationRequest struct {
	Signature   registry.Signature  `json:"signature"`
	AuditReport registry.ContentRef `json:"audit_report"`
}

func (h *Handler) addAttestation(w http.ResponseWriter, r *http.Request) {
	auditor, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := skillParam(w, r)
	if !ok {
		return
	}
	var req attestationRequest
	if !decode(w, r, &req) {
		return
	}
	skill, err := h.ledger.AddAuditorSignature(r.Context(), id, auditor, req.Signature, req.AuditReport)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, skill)
}

func (h *Handler) skillAttestors(w http.ResponseWriter, r *http.Request) {
	id, ok := skillParam(w, r)
	if !ok {
		return
	}
	if h.graph == nil {
		skill, err := h.ledger.Skill(id)
		if err != nil {
			h.fail(w, err)
			return
		}
		out := make([]string, 0, len(skill.Attestations))
		for _, a := range skill.Attestations {
			out = append(out, string(a.Auditor))
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	out, err := h.graph.Attestors(r.Context(), id.String())
	if err != nil {
		h.fail(w, err)
		return
	}
	if out == nil {
		out = []string{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) recordConsensus(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := skillParam(w, r)
	if !ok {
		return
	}
	var in registry.ConsensusInput
	if !decode(w, r, &in) {
		return
	}
	rec, err := h.ledger.RecordConsensus(r.Context(), who, id, in)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

type consensusView struct {
	Current *registry.ConsensusRecord   `json:"current"`
	History []*registry.ConsensusRecord `json:"history"`
}

func (h *Handler) getConsensus(w http.ResponseWriter, r *http.Request) {
	id, ok := skillParam(w, r)
	if !ok {
		return
	}
	history, err := h.ledger.ConsensusHistory(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	current, err := h.ledger.CurrentConsensus(id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if history == nil {
		history = []*registry.ConsensusRecord{}
	}
	writeJSON(w, http.StatusOK, consensusView{Current: current, History: history})
}

type executionRequest struct {
	Success   bool   `json:"success"`
	LatencyMS uint32 `json:"latency_ms"`
}

func (h *Handler) logExecution(w http.ResponseWriter, r *http.Request) {
	executor, ok := caller(w, r)
	if !ok {
		return
	}
	id, ok := skillParam(w, r)
	if !ok {
		return
	}
	var req executionRequest
	if !decode(w, r, &req) {
		return
	}
	entry, err := h.ledger.LogExecution(r.Context(), id, executor, req.Success, req.LatencyMS)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	id, ok := skillParam(w, r)
	if !ok {
		return
	}
	logs, err := h.ledger.Executions(id, queryLimit(r, 50))
	if err != nil {
		h.fail(w, err)
		return
	}
	if logs == nil {
		logs = []*registry.ExecutionLog{}
	}
	writeJSON(w, http.StatusOK, logs)
}
