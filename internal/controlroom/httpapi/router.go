// Package httpapi serves the Control Room and the governance pipeline over
// HTTP. The acting human is named by the X-Actor header.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/agentgov/internal/controlroom"
	"github.com/ppiankov/agentgov/internal/improve"
	"github.com/ppiankov/agentgov/internal/model"
	"github.com/ppiankov/agentgov/internal/referee"
	"github.com/ppiankov/agentgov/internal/store"
)

const (
	actorHeader  = "X-Actor"
	maxBodyBytes = 8 << 20
)

// Evaluator runs one request through the governance pipeline.
type Evaluator interface {
	Evaluate(ctx context.Context, identity string, rc *model.AgentRuntimeContext) (model.RuntimeGovernanceDecision, error)
}

type handler struct {
	svc  *controlroom.Service
	eval Evaluator
	log  *zap.Logger
}

// NewRouter returns the HTTP routes. eval may be nil, which leaves the
// evaluate route unmounted.
func NewRouter(svc *controlroom.Service, eval Evaluator, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{svc: svc, eval: eval, log: log}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/v1/identities/{identity}", func(api chi.Router) {
		if eval != nil {
			api.Post("/evaluate", h.evaluate)
		}
		api.Get("/pending", h.pending)

		api.Post("/candidates/{id}/approve", h.approveCandidate)
		api.Post("/candidates/{id}/reject", h.rejectCandidate)
		api.Post("/candidates/{id}/rollback", h.rollbackCandidate)
		api.Post("/rules/{id}/approve", h.decideRule(true))
		api.Post("/rules/{id}/reject", h.decideRule(false))

		api.Post("/values/reaffirm", h.reaffirm)
		api.Patch("/control-profile", h.updateProfile)
		api.Post("/emergency-stop", h.emergencyStop)

		api.Post("/freezes", h.freeze)
		api.Delete("/freezes/{taskType}", h.unfreeze)
		api.Post("/routing-caps", h.setRoutingCap)
		api.Delete("/routing-caps/{id}", h.clearRoutingCap)

		api.Post("/goal-conflicts/{id}/resolve", h.resolveConflict)
		api.Post("/disagreements/{id}/force", h.forceDisagreement)

		api.Get("/snapshot", h.exportSnapshot)
		api.Put("/snapshot", h.importSnapshot)
	})
	return r
}

type noteBody struct {
	Note string `json:"note"`
}

func (h *handler) evaluate(w http.ResponseWriter, r *http.Request) {
	var rc model.AgentRuntimeContext
	if !readJSON(w, r, &rc) {
		return
	}
	d, err := h.eval.Evaluate(r.Context(), identity(r), &rc)
	if err != nil {
		h.log.Error("evaluate failed", zap.String("identity", identity(r)), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, d)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handler) pending(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.ListPending(r.Context(), identity(r))
	h.respond(w, p, err)
}

func (h *handler) approveCandidate(w http.ResponseWriter, r *http.Request) {
	var body noteBody
	if !readJSON(w, r, &body) {
		return
	}
	chain, err := h.svc.ApproveCandidate(r.Context(), identity(r), chi.URLParam(r, "id"), actor(r), body.Note)
	h.respond(w, chain, err)
}

func (h *handler) rejectCandidate(w http.ResponseWriter, r *http.Request) {
	var body noteBody
	if !readJSON(w, r, &body) {
		return
	}
	c, err := h.svc.RejectCandidate(r.Context(), identity(r), chi.URLParam(r, "id"), actor(r), body.Note)
	h.respond(w, c, err)
}

func (h *handler) rollbackCandidate(w http.ResponseWriter, r *http.Request) {
	var body noteBody
	if !readJSON(w, r, &body) {
		return
	}
	c, err := h.svc.RollbackCandidate(r.Context(), identity(r), chi.URLParam(r, "id"), actor(r), body.Note)
	h.respond(w, c, err)
}

func (h *handler) decideRule(approve bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body noteBody
		if !readJSON(w, r, &body) {
			return
		}
		var (
			rule model.DistilledRule
			err  error
		)
		if approve {
			rule, err = h.svc.ApproveRule(r.Context(), identity(r), chi.URLParam(r, "id"), actor(r), body.Note)
		} else {
			rule, err = h.svc.RejectRule(r.Context(), identity(r), chi.URLParam(r, "id"), actor(r), body.Note)
		}
		h.respond(w, rule, err)
	}
}

func (h *handler) reaffirm(w http.ResponseWriter, r *http.Request) {
	var body noteBody
	if !readJSON(w, r, &body) {
		return
	}
	a, err := h.svc.ReaffirmValues(r.Context(), identity(r), actor(r), body.Note)
	h.respond(w, a, err)
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var patch controlroom.ProfilePatch
	if !readJSON(w, r, &patch) {
		return
	}
	p, err := h.svc.UpdateControlProfile(r.Context(), identity(r), actor(r), patch)
	h.respond(w, p, err)
}

func (h *handler) emergencyStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Engaged bool       `json:"engaged"`
		Reason  string     `json:"reason"`
		Until   *time.Time `json:"until"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	p, err := h.svc.SetEmergencyStop(r.Context(), identity(r), actor(r), body.Engaged, body.Reason, body.Until)
	h.respond(w, p, err)
}

func (h *handler) freeze(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskType string     `json:"taskType"`
		Reason   string     `json:"reason"`
		Until    *time.Time `json:"until"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	f, err := h.svc.FreezeTaskType(r.Context(), identity(r), actor(r), body.TaskType, body.Reason, body.Until)
	h.respondStatus(w, http.StatusCreated, f, err)
}

func (h *handler) unfreeze(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.UnfreezeTaskType(r.Context(), identity(r), actor(r), chi.URLParam(r, "taskType"))
	h.respond(w, map[string]int{"lifted": n}, err)
}

func (h *handler) setRoutingCap(w http.ResponseWriter, r *http.Request) {
	var c model.CostRoutingCap
	if !readJSON(w, r, &c) {
		return
	}
	c, err := h.svc.SetRoutingCap(r.Context(), identity(r), actor(r), c)
	h.respondStatus(w, http.StatusCreated, c, err)
}

func (h *handler) clearRoutingCap(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.ClearRoutingCap(r.Context(), identity(r), actor(r), chi.URLParam(r, "id"))
	h.respond(w, c, err)
}

func (h *handler) resolveConflict(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WinningGoal string `json:"winningGoal"`
		Note        string `json:"note"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	gc, err := h.svc.ResolveGoalConflict(r.Context(), identity(r), actor(r), chi.URLParam(r, "id"), body.WinningGoal, body.Note)
	h.respond(w, gc, err)
}

func (h *handler) forceDisagreement(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProposalID string `json:"proposalId"`
	}
	if !readJSON(w, r, &body) {
		return
	}
	d, err := h.svc.ForceDisagreement(r.Context(), identity(r), actor(r), chi.URLParam(r, "id"), body.ProposalID)
	h.respond(w, d, err)
}

func (h *handler) exportSnapshot(w http.ResponseWriter, r *http.Request) {
	format := snapshotFormat(r)
	snap, err := h.svc.ExportSnapshot(r.Context(), identity(r), actor(r))
	if err != nil {
		h.fail(w, err)
		return
	}
	data, err := store.EncodeSnapshot(snap, format)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("content-type", contentType(format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *handler) importSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return
	}
	snap, err := store.DecodeSnapshot(data, snapshotFormat(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_SNAPSHOT", err.Error())
		return
	}
	rep, err := h.svc.ImportSnapshot(r.Context(), identity(r), actor(r), snap)
	h.respond(w, rep, err)
}

func (h *handler) respond(w http.ResponseWriter, v any, err error) {
	h.respondStatus(w, http.StatusOK, v, err)
}

func (h *handler) respondStatus(w http.ResponseWriter, status int, v any, err error) {
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, status, v)
}

// fail maps service errors onto HTTP statuses. Unknown errors are 500.
func (h *handler) fail(w http.ResponseWriter, err error) {
	var ce *model.ContractError
	switch {
	case errors.Is(err, controlroom.ErrCandidateNotFound),
		errors.Is(err, controlroom.ErrRuleNotFound),
		errors.Is(err, referee.ErrDisagreementNotFound),
		errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, controlroom.ErrExplanationRequired):
		writeError(w, http.StatusUnprocessableEntity, "EXPLANATION_REQUIRED", err.Error())
	case errors.Is(err, controlroom.ErrActorRequired):
		writeError(w, http.StatusUnauthorized, "ACTOR_REQUIRED", err.Error())
	case errors.Is(err, controlroom.ErrValueAnchorMissing):
		writeError(w, http.StatusConflict, "VALUE_ANCHOR_MISSING", err.Error())
	case errors.Is(err, controlroom.ErrMissingHumanControls):
		writeError(w, http.StatusConflict, "MISSING_HUMAN_CONTROLS", err.Error())
	case errors.Is(err, improve.ErrCandidateClosed), errors.Is(err, referee.ErrProposalNotFound):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.As(err, &ce):
		writeError(w, http.StatusBadRequest, "CONTRACT_VIOLATION", err.Error())
	default:
		h.log.Error("control room request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error())
	}
}

func identity(r *http.Request) string { return chi.URLParam(r, "identity") }

func actor(r *http.Request) string { return r.Header.Get(actorHeader) }

func snapshotFormat(r *http.Request) store.Format {
	if r.URL.Query().Get("format") == string(store.FormatCBOR) {
		return store.FormatCBOR
	}
	return store.FormatJSON
}

func contentType(f store.Format) string {
	if f == store.FormatCBOR {
		return "application/cbor"
	}
	return "application/json"
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_BODY", err.Error())
		return false
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	if err := model.DecodeStrict(data, dst); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"request_id": "req_" + uuid.NewString(),
		"error":      map[string]any{"code": code, "message": message},
	})
}
