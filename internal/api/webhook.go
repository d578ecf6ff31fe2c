package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/models"
	"github.com/punchamoorthee/remitledger/internal/provider"
	"github.com/punchamoorthee/remitledger/internal/webhook"
	"go.uber.org/zap"
)

// Webhook verifies a provider callback and applies it. Redeliveries are
// acknowledged with 200 so the provider stops retrying; dispatch failures
// answer 500 so it tries again.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["provider"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Stream read error")
		return
	}

	err = h.accept(r.Context(), name, body, r.Header.Get(webhook.SignatureHeader))
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, models.WebhookAck{Status: "processed"})
	case errors.Is(err, domain.ErrDuplicateWebhookEvent):
		respondWithJSON(w, http.StatusOK, models.WebhookAck{Status: "already processed"})
	case errors.Is(err, domain.ErrInvalidSignature):
		h.logger.Warn("webhook signature rejected", zap.String("provider", name), zap.Error(err))
		respondWithError(w, http.StatusUnauthorized, domain.Code(err), "invalid signature")
	default:
		h.respondErr(w, err)
	}
}

func (h *Handler) accept(ctx context.Context, name string, body []byte, signature string) error {
	if err := h.verifier.Verify(name, body, signature); err != nil {
		return err
	}
	return h.orchestrator.ProcessWebhook(ctx, name, body)
}

// Sink feeds sandbox callbacks through the same path as the HTTP endpoint.
func (h *Handler) Sink() provider.Sink {
	return func(ctx context.Context, name string, body []byte, signature string) error {
		err := h.accept(ctx, name, body, signature)
		if errors.Is(err, domain.ErrDuplicateWebhookEvent) {
			return nil
		}
		return err
	}
}
