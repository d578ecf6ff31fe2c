package api

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/metrics"
	"github.com/punchamoorthee/remitledger/internal/models"
	"github.com/punchamoorthee/remitledger/internal/rates"
	"github.com/punchamoorthee/remitledger/internal/service"
	"github.com/punchamoorthee/remitledger/internal/webhook"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	orchestrator *service.Orchestrator
	verifier     *webhook.Verifier
	logger       *zap.Logger
}

func NewHandler(o *service.Orchestrator, v *webhook.Verifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{orchestrator: o, verifier: v, logger: logger}
}

// NewRouter wires every route. Webhooks authenticate by signature, everything
// else under /api/v1 by bearer token.
func NewRouter(h *Handler, auth *Authenticator) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/webhooks/{provider}", h.Webhook).Methods(http.MethodPost)

	authed := v1.NewRoute().Subrouter()
	authed.Use(auth.Middleware)
	authed.HandleFunc("/transactions", h.CreateTransaction).Methods(http.MethodPost)
	authed.HandleFunc("/transactions/{id}", h.GetTransaction).Methods(http.MethodGet)
	authed.HandleFunc("/accounts/{id}", h.GetAccount).Methods(http.MethodGet)
	authed.HandleFunc("/accounts/{id}/entries", h.GetAccountEntries).Methods(http.MethodGet)

	admin := authed.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/transactions/{id}/{action:cancel|refund|retry|compensate|chargeback}", h.TransactionAction).Methods(http.MethodPost)
	admin.HandleFunc("/transactions/{id}/audit", h.AuditTrail).Methods(http.MethodGet)
	admin.HandleFunc("/transactions/{id}/dispute", h.OpenDispute).Methods(http.MethodPost)
	admin.HandleFunc("/disputes", h.OpenDisputes).Methods(http.MethodGet)
	admin.HandleFunc("/disputes/{id}/resolve", h.ResolveDispute).Methods(http.MethodPost)
	admin.HandleFunc("/accounts", h.OpenAccount).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/{id}/fund", h.FundAccount).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/{id}/{action:freeze|unfreeze}", h.AccountAction).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/{id}/audit", h.AuditTrail).Methods(http.MethodGet)
	admin.HandleFunc("/accounts/{id}/verify", h.VerifyAccount).Methods(http.MethodGet)
	admin.HandleFunc("/webhooks/dead-letters", h.DeadLetters).Methods(http.MethodGet)
	admin.HandleFunc("/reconciliations", h.Reconcile).Methods(http.MethodPost)
	admin.HandleFunc("/reconciliations", h.ReconciliationHistory).Methods(http.MethodGet)

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Missing Idempotency-Key header")
		return
	}
	if len(idempotencyKey) > domain.MaxIdempotencyKeyLength {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST",
			"Idempotency-Key must be at most "+strconv.Itoa(domain.MaxIdempotencyKeyLength)+" bytes")
		return
	}

	var req models.CreateTransactionRequest
	if err := decode(r, &req, false); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Malformed JSON body")
		return
	}
	// Users send from their own wallet unless they say otherwise.
	if req.AccountID == uuid.Nil && actor.Kind == domain.ActorUser {
		if id, err := uuid.Parse(actor.ID); err == nil {
			req.AccountID = id
		}
	}

	res, err := h.orchestrator.CreateTransaction(r.Context(), service.CreateRequest{
		Actor:           actor,
		AccountID:       req.AccountID,
		Recipient:       req.Recipient,
		Amount:          req.Amount,
		Currency:        req.Currency,
		ReceiveCurrency: req.ReceiveCurrency,
		IdempotencyKey:  idempotencyKey,
		FundingSource:   req.FundingSource,
		SendingReason:   req.SendingReason,
		IP:              clientIP(r),
	})
	if err != nil {
		// The transaction exists but the provider could not be reached.
		if res != nil && res.Transaction != nil && errors.Is(err, domain.ErrProviderCommunication) {
			respondWithJSON(w, http.StatusBadGateway, models.ErrorResponse{
				Error:       err.Error(),
				Code:        domain.Code(err),
				Transaction: res.Transaction,
			})
			return
		}
		h.respondErr(w, err)
		return
	}

	body := models.TransactionResponse{Transaction: res.Transaction, ClientSecret: res.ClientSecret, Replayed: res.Replayed}
	if res.Replayed {
		respondWithJSON(w, http.StatusOK, body)
		return
	}
	w.Header().Set("Location", "/api/v1/transactions/"+res.Transaction.ID.String())
	respondWithJSON(w, http.StatusCreated, body)
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())
	t, err := h.orchestrator.GetTransaction(r.Context(), actor, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, t)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())
	acc, err := h.orchestrator.GetAccount(r.Context(), actor, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, acc)
}

func (h *Handler) GetAccountEntries(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, _ := ActorFrom(r.Context())
	entries, err := h.orchestrator.ListEntries(r.Context(), actor, id)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrAccountFrozen):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrDisputeNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidStateTransition), errors.Is(err, domain.ErrChargebackWindowClosed),
		errors.Is(err, domain.ErrLedgerDrift), errors.Is(err, domain.ErrDisputeExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrCurrencyMismatch),
		errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrComplianceRejected),
		errors.Is(err, domain.ErrDailyLimitExceeded), errors.Is(err, domain.ErrDuplicateIdempotencyKey),
		errors.Is(err, domain.ErrRecipientLimitExceeded), errors.Is(err, domain.ErrGlobalDailyCapReached):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrProviderCommunication):
		return http.StatusBadGateway
	case errors.Is(err, rates.ErrRateUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	code := domain.Code(err)
	if errors.Is(err, rates.ErrRateUnavailable) {
		code = "RATE_UNAVAILABLE"
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		msg = "Internal Server Error"
	}
	respondWithError(w, status, code, msg)
}

func respondWithError(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, models.ErrorResponse{Error: message, Code: code})
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// decode reads a JSON body. With optional set, an empty body leaves v untouched.
func decode(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request counts and latency per route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		metrics.HTTPLatency.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		metrics.HTTPRequests.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}
