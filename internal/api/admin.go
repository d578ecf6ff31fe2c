package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/models"
	"github.com/punchamoorthee/remitledger/internal/service"
)

func (h *Handler) adminRequest(w http.ResponseWriter, r *http.Request) (service.AdminRequest, bool) {
	var body models.AdminActionRequest
	if err := decode(r, &body, true); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Malformed JSON body")
		return service.AdminRequest{}, false
	}
	actor, _ := ActorFrom(r.Context())
	return service.AdminRequest{Actor: actor, Reason: body.Reason, IP: clientIP(r)}, true
}

func (h *Handler) TransactionAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, ok := h.adminRequest(w, r)
	if !ok {
		return
	}

	var (
		t   *domain.Transaction
		err error
	)
	ctx := r.Context()
	switch mux.Vars(r)["action"] {
	case "cancel":
		t, err = h.orchestrator.Cancel(ctx, id, req)
	case "refund":
		t, err = h.orchestrator.Refund(ctx, id, req)
	case "retry":
		t, err = h.orchestrator.Retry(ctx, id, req)
	case "compensate":
		t, err = h.orchestrator.TriggerCompensation(ctx, id, req)
	case "chargeback":
		t, err = h.orchestrator.RecordChargeback(ctx, id, req)
	default:
		respondWithError(w, http.StatusNotFound, "INVALID_REQUEST", "Unknown action")
		return
	}
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, t)
}

func (h *Handler) AccountAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, ok := h.adminRequest(w, r)
	if !ok {
		return
	}

	var (
		acc *domain.Account
		err error
	)
	if mux.Vars(r)["action"] == "freeze" {
		acc, err = h.orchestrator.FreezeAccount(r.Context(), id, req)
	} else {
		acc, err = h.orchestrator.UnfreezeAccount(r.Context(), id, req)
	}
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, acc)
}

func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var body models.OpenAccountRequest
	if err := decode(r, &body, true); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Malformed JSON body")
		return
	}
	actor, _ := ActorFrom(r.Context())
	acc, err := h.orchestrator.OpenAccount(r.Context(), actor, body.Currency)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/accounts/"+acc.ID.String())
	respondWithJSON(w, http.StatusCreated, acc)
}

func (h *Handler) FundAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body models.FundAccountRequest
	if err := decode(r, &body, false); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Malformed JSON body")
		return
	}
	actor, _ := ActorFrom(r.Context())
	entry, err := h.orchestrator.FundAccount(r.Context(), actor, id, body.Amount, body.Currency, body.Reference)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, entry)
}

func (h *Handler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())
	trail, err := h.orchestrator.AuditTrail(r.Context(), actor, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, trail)
}

func (h *Handler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())
	err := h.orchestrator.VerifyAccount(r.Context(), actor, id)

	var drift *domain.DriftError
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, models.VerifyResponse{AccountID: id, Consistent: true})
	case errors.As(err, &drift):
		respondWithJSON(w, http.StatusOK, models.VerifyResponse{AccountID: id, Consistent: false, Detail: drift.Error()})
	default:
		h.respondErr(w, err)
	}
}

func (h *Handler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer")
			return
		}
		limit = n
	}
	actor, _ := ActorFrom(r.Context())
	events, err := h.orchestrator.DeadLetters(r.Context(), actor, limit)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, events)
}

func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var body models.ReconcileRequest
	if err := decode(r, &body, false); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Malformed JSON body")
		return
	}
	actor, _ := ActorFrom(r.Context())
	run, err := h.orchestrator.Reconcile(r.Context(), actor, body.Provider, body.Currency, body.WindowStart, body.WindowEnd)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, run)
}

func (h *Handler) ReconciliationHistory(w http.ResponseWriter, r *http.Request) {
	provider := r.URL.Query().Get("provider")
	if provider == "" {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "provider query parameter is required")
		return
	}
	actor, _ := ActorFrom(r.Context())
	runs, err := h.orchestrator.ReconciliationHistory(r.Context(), actor, provider)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, runs)
}

func (h *Handler) OpenDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req, ok := h.adminRequest(w, r)
	if !ok {
		return
	}
	d, err := h.orchestrator.OpenDispute(r.Context(), id, req)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, d)
}

func (h *Handler) OpenDisputes(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	disputes, err := h.orchestrator.OpenDisputes(r.Context(), actor)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	if disputes == nil {
		disputes = []domain.Dispute{}
	}
	respondWithJSON(w, http.StatusOK, disputes)
}

func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var body models.ResolveDisputeRequest
	if err := decode(r, &body, false); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Malformed JSON body")
		return
	}
	actor, _ := ActorFrom(r.Context())
	outcome := domain.DisputeStatus(strings.ToUpper(strings.TrimSpace(string(body.Outcome))))
	d, err := h.orchestrator.ResolveDispute(r.Context(), id, outcome, service.AdminRequest{
		Actor:  actor,
		Reason: body.Reason,
		IP:     clientIP(r),
	})
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, d)
}
