/*
handlers.go - HTTP API handlers for the merit ledger

PURPOSE:
  Exposes the ledger engine via REST. Handles HTTP request/response and
  JSON serialization, and delegates every rule to ledger.Engine. The
  authenticated actor always comes from the request context (see
  auth.go), never from the body or the URL.

ENDPOINTS ({kind} is "points" or "overtime"):
  Grants:
    GET    /api/{kind}/grants                    Actor's grants
    POST   /api/{kind}/grants                    Request or issue a grant
    GET    /api/{kind}/grants/pending            Awaiting actor's verification
    GET    /api/{kind}/grants/awaiting-approval  Awaiting actor's approval
    GET    /api/{kind}/grants/counts             Counts by state
    GET    /api/{kind}/grants/{id}               One grant
    POST   /api/{kind}/grants/{id}/verify        {accept, reason}
    POST   /api/{kind}/grants/{id}/approve       {accept, reason}
    DELETE /api/{kind}/grants/{id}               Delete an unactioned grant

  Redemptions:
    POST   /api/{kind}/redemptions               Record a spend
    GET    /api/{kind}/redemptions?person=<id>   List

  Balances:
    GET    /api/persons/{id}/{kind}/summary      Recompute and return

ERROR HANDLING:
  Every failure is {"message": "..."} with a status from the error code:
  - 400: validation
  - 401: unauthenticated
  - 403: forbidden
  - 404: not found
  - 409: invalid state
  - 422: insufficient balance
  - 500: storage (message is generic)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warp/merit-ledger/ledger"
	"github.com/warp/merit-ledger/logging"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *ledger.Engine
	Tokens    *Tokens
	Directory ledger.DirectoryStore
}

// NewHandler creates a handler over engine. dir may be nil, which
// disables scenario loading.
func NewHandler(engine *ledger.Engine, tokens *Tokens, dir ledger.DirectoryStore) *Handler {
	return &Handler{Engine: engine, Tokens: tokens, Directory: dir}
}

func kindParam(r *http.Request) ledger.KindID {
	return ledger.KindID(chi.URLParam(r, "kind"))
}

func grantParam(r *http.Request) ledger.GrantID {
	return ledger.GrantID(chi.URLParam(r, "id"))
}

// =============================================================================
// SYSTEM
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports whether the store is reachable.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Engine.Store().(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			logging.FromContext(r.Context()).ErrorContext(r.Context(), "health check failed", logging.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Me returns the authenticated person with their cached balances.
// GET /api/me
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	p := PersonFrom(r.Context())
	if p == nil {
		writeError(w, r, ledger.Errorf(ledger.CodeUnauthenticated, "please log in again"))
		return
	}
	writeJSON(w, http.StatusOK, toPersonDTO(p))
}

// =============================================================================
// GRANT HANDLERS
// =============================================================================

// ListGrants returns the actor's grants: received for enlisted, given for cadre.
func (h *Handler) ListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.Engine.ListGrantsFor(r.Context(), ActorFrom(r.Context()), kindParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantDTOs(grants))
}

// CreateGrant requests (enlisted) or issues (cadre) a grant.
func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req CreateGrantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	value, err := parseValue(req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}

	grant, err := h.Engine.RequestGrant(r.Context(), ActorFrom(r.Context()), ledger.GrantRequest{
		Kind:      kindParam(r),
		Receiver:  ledger.PersonID(req.Receiver),
		Giver:     ledger.PersonID(req.Giver),
		Approver:  ledger.PersonID(req.Approver),
		Value:     value,
		Reason:    req.Reason,
		GivenAt:   req.GivenAt,
		StartedAt: req.StartedAt,
		EndedAt:   req.EndedAt,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toGrantDTO(*grant))
}

// PendingGrants lists grants waiting on the actor's verification.
func (h *Handler) PendingGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.Engine.PendingForGiver(r.Context(), ActorFrom(r.Context()), kindParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantDTOs(grants))
}

// AwaitingApproval lists verified grants waiting on the actor's approval.
func (h *Handler) AwaitingApproval(w http.ResponseWriter, r *http.Request) {
	grants, err := h.Engine.AwaitingApproval(r.Context(), ActorFrom(r.Context()), kindParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantDTOs(grants))
}

// GrantCounts tallies the actor's grants by state.
func (h *Handler) GrantCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.Engine.Counts(r.Context(), ActorFrom(r.Context()), kindParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// GetGrant returns one grant. Only its parties may read it.
func (h *Handler) GetGrant(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	grant, err := h.Engine.GetGrant(r.Context(), kindParam(r), grantParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if actor.ID != grant.Receiver && actor.ID != grant.Giver && actor.ID != grant.Approver {
		kind, _ := ledger.LookupKind(string(grant.Kind))
		writeError(w, r, ledger.Errorf(ledger.CodeNotFound, "the %s does not exist", kind.Noun))
		return
	}
	writeJSON(w, http.StatusOK, toGrantDTO(*grant))
}

// VerifyGrant accepts or rejects a pending grant as its giver.
func (h *Handler) VerifyGrant(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Engine.Verify)
}

// ApproveGrant accepts or rejects a verified grant as its approver.
func (h *Handler) ApproveGrant(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Engine.Approve)
}

type decision func(ctx context.Context, actor ledger.Actor, kind ledger.KindID, id ledger.GrantID, accept bool, reason string) (*ledger.Grant, error)

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, step decision) {
	var req DecisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	grant, err := step(r.Context(), ActorFrom(r.Context()), kindParam(r), grantParam(r), req.Accept, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toGrantDTO(*grant))
}

// DeleteGrant removes an unactioned grant.
func (h *Handler) DeleteGrant(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.DeleteGrant(r.Context(), ActorFrom(r.Context()), kindParam(r), grantParam(r)); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger.OutcomeOf(nil))
}

// =============================================================================
// REDEMPTION HANDLERS
// =============================================================================

// Redeem records a spend against a person's balance.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	value, err := parseValue(req.Value)
	if err != nil {
		writeError(w, r, err)
		return
	}

	red, err := h.Engine.Redeem(r.Context(), ActorFrom(r.Context()), ledger.RedeemRequest{
		Kind:   kindParam(r),
		Target: ledger.PersonID(req.Target),
		Value:  value,
		Reason: req.Reason,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRedemptionDTO(*red))
}

// ListRedemptions lists redemptions. Enlisted see their own; cadre see a
// named person's (?person=) or the ones they recorded.
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	var f ledger.RedemptionFilter
	switch person := ledger.PersonID(r.URL.Query().Get("person")); {
	case actor.IsEnlisted():
		f.Person = actor.ID
	case person != "":
		f.Person = person
	default:
		f.RecordedBy = actor.ID
	}

	rs, err := h.Engine.ListRedemptions(r.Context(), kindParam(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRedemptionDTOs(rs))
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// Summary recomputes a person's balance and refreshes the cached copy.
// Enlisted may only read their own.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	actor := ActorFrom(r.Context())
	person := ledger.PersonID(chi.URLParam(r, "id"))
	if actor.IsEnlisted() && person != actor.ID {
		writeError(w, r, ledger.Errorf(ledger.CodeForbidden, "you can only view your own balance"))
		return
	}

	sum, err := h.Engine.Summarize(r.Context(), kindParam(r), person)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(sum))
}

// Templates lists the preset point reasons.
func (h *Handler) Templates(w http.ResponseWriter, r *http.Request) {
	ts, err := h.Engine.Templates(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	dtos := make([]TemplateDTO, len(ts))
	for i, t := range ts {
		dtos[i] = TemplateDTO{ID: t.ID, Reason: t.Reason, Merit: t.Merit, Demerit: t.Demerit}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		writeError(w, r, ledger.Errorf(ledger.CodeValidation, "invalid request body").Wrap(err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

var statusByCode = map[ledger.Code]int{
	ledger.CodeValidation:          http.StatusBadRequest,
	ledger.CodeUnauthenticated:     http.StatusUnauthorized,
	ledger.CodeForbidden:           http.StatusForbidden,
	ledger.CodeNotFound:            http.StatusNotFound,
	ledger.CodeInvalidState:        http.StatusConflict,
	ledger.CodeInsufficientBalance: http.StatusUnprocessableEntity,
	ledger.CodeStorage:             http.StatusInternalServerError,
}

// writeError renders err as {"message": ...}. Storage details never leave
// the process; they were already logged by the engine.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := ledger.CodeOf(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		status = http.StatusRequestEntityTooLarge
	}
	logging.FromContext(r.Context()).DebugContext(r.Context(), "request failed",
		logging.FieldCode, code,
		logging.FieldError, err,
	)
	writeJSON(w, status, ledger.OutcomeOf(err))
}
