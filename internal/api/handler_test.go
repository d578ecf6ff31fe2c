package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/remitledger/internal/clock"
	"github.com/punchamoorthee/remitledger/internal/config"
	"github.com/punchamoorthee/remitledger/internal/domain"
	"github.com/punchamoorthee/remitledger/internal/ledger"
	"github.com/punchamoorthee/remitledger/internal/models"
	"github.com/punchamoorthee/remitledger/internal/provider"
	"github.com/punchamoorthee/remitledger/internal/rates"
	"github.com/punchamoorthee/remitledger/internal/service"
	"github.com/punchamoorthee/remitledger/internal/store"
	"github.com/punchamoorthee/remitledger/internal/webhook"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "jwt-test-secret"

var (
	opsActor   = domain.Actor{Kind: domain.ActorAdmin, ID: "ops-1", Role: domain.RoleOps}
	adminActor = domain.Actor{Kind: domain.ActorAdmin, ID: "admin-1", Role: domain.RoleAdmin}
)

type testServer struct {
	router   http.Handler
	verifier *webhook.Verifier
	clock    *clock.Fake
	queue    *provider.EventQueue
	handler  *Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	c := clock.NewFake(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	s := store.NewMemory()
	logger := zap.NewNop()
	v := webhook.NewVerifier(map[string]string{provider.KindSandbox: "whsec_test"}, 5*time.Minute, c)
	q := provider.NewEventQueue(logger)
	payout := provider.NewSandboxPayout(provider.KindSandbox, provider.Behavior{}, q, c, v)

	o := service.New(service.Deps{
		Store:     s,
		Ledger:    ledger.New(s, c, logger),
		Guard:     webhook.NewGuard(s, c, logger, 5),
		Payment:   provider.NewSandboxPayment(provider.KindSandbox, provider.Behavior{Delay: time.Minute}, q, c, v),
		Payout:    payout,
		Reporters: map[string]provider.Reporter{provider.KindSandbox: payout},
		Rates:     rates.DefaultStatic(),
		Logger:    logger,
		Clock:     c,
	}, service.Policy{
		BaseCurrency:              "GBP",
		PayoutCurrency:            "KES",
		Fee:                       decimal.NewFromInt(2),
		ComplianceReasonThreshold: decimal.NewFromInt(300),
		AuthorizationTTL:          30 * time.Minute,
		StaleCreatedTTL:           15 * time.Minute,
		PayoutTimeout:             24 * time.Hour,
		PayoutTimeoutPolicy:       config.PayoutTimeoutNone,
		ChargebackWindow:          120 * 24 * time.Hour,
	})

	h := NewHandler(o, v, logger)
	return &testServer{router: NewRouter(h, NewAuthenticator(testSecret)), verifier: v, clock: c, queue: q, handler: h}
}

func token(t *testing.T, actor domain.Actor) string {
	t.Helper()
	tok, err := SignToken(testSecret, actor, time.Hour)
	require.NoError(t, err)
	return tok
}

func userActor(id uuid.UUID) domain.Actor {
	return domain.Actor{Kind: domain.ActorUser, ID: id.String(), Role: domain.RoleUser}
}

func (ts *testServer) do(t *testing.T, method, path string, actor *domain.Actor, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *actor))
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

// fundedAccount opens a wallet through the admin API and tops it up.
func (ts *testServer) fundedAccount(t *testing.T, amount string) uuid.UUID {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/admin/accounts", &opsActor, models.OpenAccountRequest{Currency: "GBP"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var acc domain.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	if decimal.RequireFromString(amount).IsZero() {
		return acc.ID
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/accounts/"+acc.ID.String()+"/fund", &opsActor,
		models.FundAccountRequest{Amount: decimal.RequireFromString(amount), Reference: "topup-1"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return acc.ID
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", nil, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/metrics", nil, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "remit_http_requests_total")
}

func TestBearerTokenRequired(t *testing.T) {
	ts := newTestServer(t)
	path := "/api/v1/transactions/" + uuid.NewString()

	rec := ts.do(t, http.MethodGet, path, nil, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, path, nil, nil, map[string]string{"Authorization": "Bearer not-a-token"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := SignToken("some-other-secret", opsActor, time.Hour)
	require.NoError(t, err)
	rec = ts.do(t, http.MethodGet, path, nil, nil, map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := SignToken(testSecret, opsActor, -time.Minute)
	require.NoError(t, err)
	rec = ts.do(t, http.MethodGet, path, nil, nil, map[string]string{"Authorization": "Bearer " + expired})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticatorRejectsSystemTokens(t *testing.T) {
	tok, err := SignToken(testSecret, domain.System, time.Hour)
	require.NoError(t, err)
	_, err = NewAuthenticator(testSecret).Parse(tok)
	assert.Error(t, err)

	actor, err := NewAuthenticator(testSecret).Parse(token(t, adminActor))
	require.NoError(t, err)
	assert.Equal(t, adminActor, actor)
}

func TestCreateTransactionOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	acc := ts.fundedAccount(t, "100")
	user := userActor(acc)
	body := models.CreateTransactionRequest{
		Recipient:     "+254700000001",
		Amount:        decimal.NewFromInt(50),
		FundingSource: domain.FundingWallet,
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/transactions", &user, body, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "idempotency key is mandatory")

	headers := map[string]string{"Idempotency-Key": "send-1"}
	rec = ts.do(t, http.MethodPost, "/api/v1/transactions", &user, body, headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.TransactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.False(t, created.Replayed)
	assert.Equal(t, acc, created.Transaction.AccountID)
	assert.Equal(t, domain.StatusPayoutInitiated, created.Transaction.Status)
	assert.Equal(t, "/api/v1/transactions/"+created.Transaction.ID.String(), rec.Header().Get("Location"))

	rec = ts.do(t, http.MethodPost, "/api/v1/transactions", &user, body, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var replay models.TransactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &replay))
	assert.True(t, replay.Replayed)
	assert.Equal(t, created.Transaction.ID, replay.Transaction.ID)

	rec = ts.do(t, http.MethodGet, "/api/v1/accounts/"+acc.String(), &user, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var account domain.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(48)))

	rec = ts.do(t, http.MethodGet, "/api/v1/accounts/"+acc.String()+"/entries", &user, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []domain.LedgerEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)

	// Someone else's wallet and transaction are hidden from this user.
	stranger := userActor(uuid.New())
	rec = ts.do(t, http.MethodGet, "/api/v1/transactions/"+created.Transaction.ID.String(), &stranger, nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The payout callback is delivered through the same verification path.
	_, err := ts.queue.Deliver(context.Background(), ts.clock.Now(), ts.handler.Sink())
	require.NoError(t, err)
	rec = ts.do(t, http.MethodGet, "/api/v1/transactions/"+created.Transaction.ID.String(), &user, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tr domain.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.Equal(t, domain.StatusPayoutSuccess, tr.Status)
}

func TestCreateTransactionErrors(t *testing.T) {
	ts := newTestServer(t)
	acc := ts.fundedAccount(t, "10")
	user := userActor(acc)

	cases := []struct {
		name   string
		amount int64
		status int
		code   string
	}{
		{"insufficient funds", 50, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{"non-positive amount", 0, http.StatusUnprocessableEntity, "INVALID_AMOUNT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/transactions", &user, models.CreateTransactionRequest{
				Recipient:     "+254700000001",
				Amount:        decimal.NewFromInt(tc.amount),
				FundingSource: domain.FundingWallet,
			}, map[string]string{"Idempotency-Key": tc.name})
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.code, errorCode(t, rec))
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString("{not json"))
	req.Header.Set("Authorization", "Bearer "+token(t, user))
	req.Header.Set("Idempotency-Key", "bad-json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/transactions", &user, models.CreateTransactionRequest{
		Recipient:     "+254700000001",
		Amount:        decimal.NewFromInt(1),
		FundingSource: domain.FundingWallet,
	}, map[string]string{"Idempotency-Key": strings.Repeat("k", domain.MaxIdempotencyKeyLength+1)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))
}

func TestWebhookEndpoint(t *testing.T) {
	ts := newTestServer(t)
	acc := ts.fundedAccount(t, "0")
	user := userActor(acc)

	rec := ts.do(t, http.MethodPost, "/api/v1/transactions", &user, models.CreateTransactionRequest{
		Recipient:     "+254700000001",
		Amount:        decimal.NewFromInt(50),
		FundingSource: domain.FundingExternal,
	}, map[string]string{"Idempotency-Key": "ext-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.TransactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, domain.StatusPendingPayment, created.Transaction.Status)

	payload, err := json.Marshal(webhook.Payload{
		EventID: "evt_pay_1",
		Type:    webhook.TypePaymentSuccess,
		Data:    webhook.Data{TransactionID: created.Transaction.ID, ProviderReference: "pi_1"},
	})
	require.NoError(t, err)
	sig, err := ts.verifier.Sign(provider.KindSandbox, payload, ts.clock.Now())
	require.NoError(t, err)

	post := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/sandbox", bytes.NewReader(payload))
		req.Header.Set(webhook.SignatureHeader, signature)
		rec := httptest.NewRecorder()
		ts.router.ServeHTTP(rec, req)
		return rec
	}

	rec = post("t=1,v1=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_SIGNATURE", errorCode(t, rec))

	oversized, err := json.Marshal(webhook.Payload{
		EventID: strings.Repeat("e", webhook.MaxEventIDLength+1),
		Type:    webhook.TypePaymentSuccess,
		Data:    webhook.Data{TransactionID: created.Transaction.ID},
	})
	require.NoError(t, err)
	oversizedSig, err := ts.verifier.Sign(provider.KindSandbox, oversized, ts.clock.Now())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/sandbox", bytes.NewReader(oversized))
	req.Header.Set(webhook.SignatureHeader, oversizedSig)
	rec = httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", errorCode(t, rec))

	rec = post(sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"processed"}`, rec.Body.String())

	rec = post(sig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"already processed"}`, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/v1/admin/transactions/"+created.Transaction.ID.String()+"/audit", &adminActor, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var trail []domain.AuditLogEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trail))
	var captures int
	for _, a := range trail {
		if a.ToStatus == domain.StatusPaymentReceived {
			captures++
		}
	}
	assert.Equal(t, 1, captures, "the redelivery changed nothing")
}

func TestAdminRoutes(t *testing.T) {
	ts := newTestServer(t)
	acc := ts.fundedAccount(t, "100")
	user := userActor(acc)

	rec := ts.do(t, http.MethodPost, "/api/v1/transactions", &user, models.CreateTransactionRequest{
		Recipient:     "+254700000001",
		Amount:        decimal.NewFromInt(50),
		FundingSource: domain.FundingWallet,
	}, map[string]string{"Idempotency-Key": "adm-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.TransactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	txPath := "/api/v1/admin/transactions/" + created.Transaction.ID.String()

	rec = ts.do(t, http.MethodPost, txPath+"/refund", &user, models.AdminActionRequest{Reason: "please"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))

	rec = ts.do(t, http.MethodPost, txPath+"/refund", &adminActor, models.AdminActionRequest{Reason: "early"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATE_TRANSITION", errorCode(t, rec))

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/transactions/"+uuid.NewString()+"/cancel", &adminActor, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/transactions/not-a-uuid/cancel", &adminActor, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, txPath+"/compensate", &opsActor, models.AdminActionRequest{Reason: "stuck"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tr domain.Transaction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.Equal(t, domain.StatusPayoutCompensationRequired, tr.Status)

	accPath := "/api/v1/admin/accounts/" + acc.String()
	rec = ts.do(t, http.MethodPost, accPath+"/freeze", &adminActor, models.AdminActionRequest{Reason: "review"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, http.MethodPost, "/api/v1/transactions", &user, models.CreateTransactionRequest{
		Recipient:     "+254700000001",
		Amount:        decimal.NewFromInt(10),
		FundingSource: domain.FundingWallet,
	}, map[string]string{"Idempotency-Key": "adm-2"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "ACCOUNT_FROZEN", errorCode(t, rec))
	rec = ts.do(t, http.MethodPost, accPath+"/unfreeze", &adminActor, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, accPath+"/verify", &opsActor, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var verify models.VerifyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verify))
	assert.True(t, verify.Consistent)

	rec = ts.do(t, http.MethodGet, "/api/v1/admin/webhooks/dead-letters?limit=10", &adminActor, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/admin/webhooks/dead-letters?limit=zero", &adminActor, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDisputeRoutes(t *testing.T) {
	ts := newTestServer(t)
	acc := ts.fundedAccount(t, "200")
	user := userActor(acc)

	rec := ts.do(t, http.MethodPost, "/api/v1/transactions", &user, models.CreateTransactionRequest{
		Recipient:     "+254700000001",
		Amount:        decimal.NewFromInt(50),
		FundingSource: domain.FundingExternal,
	}, map[string]string{"Idempotency-Key": "disp-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created models.TransactionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// Payment capture, then the payout callback it triggers.
	ts.clock.Advance(time.Minute)
	for i := 0; i < 5; i++ {
		n, err := ts.queue.Deliver(context.Background(), ts.clock.Now(), ts.handler.Sink())
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}
	txPath := "/api/v1/admin/transactions/" + created.Transaction.ID.String()

	rec = ts.do(t, http.MethodPost, txPath+"/dispute", &user, models.AdminActionRequest{Reason: "mine"}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodPost, txPath+"/dispute", &adminActor, models.AdminActionRequest{Reason: "not received"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var d domain.Dispute
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, domain.DisputeOpen, d.Status)

	rec = ts.do(t, http.MethodPost, txPath+"/dispute", &adminActor, nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DISPUTE_EXISTS", errorCode(t, rec))

	rec = ts.do(t, http.MethodGet, "/api/v1/admin/disputes", &adminActor, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var open []domain.Dispute
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &open))
	require.Len(t, open, 1)
	assert.Equal(t, d.ID, open[0].ID)

	resolvePath := "/api/v1/admin/disputes/" + d.ID.String() + "/resolve"
	rec = ts.do(t, http.MethodPost, resolvePath, &opsActor, models.ResolveDisputeRequest{Outcome: "maybe"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, resolvePath, &opsActor, models.ResolveDisputeRequest{Outcome: "lost", Reason: "issuer ruling"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, domain.DisputeLost, d.Status)

	rec = ts.do(t, http.MethodGet, "/api/v1/accounts/"+acc.String(), &user, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var account domain.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &account))
	assert.True(t, account.Balance.Equal(decimal.NewFromInt(148)))

	rec = ts.do(t, http.MethodGet, "/api/v1/admin/disputes", &adminActor, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/disputes/"+uuid.NewString()+"/resolve", &opsActor,
		models.ResolveDisputeRequest{Outcome: domain.DisputeWon}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "DISPUTE_NOT_FOUND", errorCode(t, rec))
}

func TestReconciliationRoutes(t *testing.T) {
	ts := newTestServer(t)
	now := ts.clock.Now()

	rec := ts.do(t, http.MethodPost, "/api/v1/admin/reconciliations", &opsActor, models.ReconcileRequest{
		Provider:    provider.KindSandbox,
		Currency:    "GBP",
		WindowStart: now.Add(-time.Hour),
		WindowEnd:   now.Add(time.Hour),
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var run domain.ReconciliationRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, domain.ReconciliationPass, run.Status)

	rec = ts.do(t, http.MethodGet, "/api/v1/admin/reconciliations?provider=sandbox", &opsActor, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []domain.ReconciliationRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	rec = ts.do(t, http.MethodGet, "/api/v1/admin/reconciliations", &opsActor, nil, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/reconciliations", &adminActor, models.ReconcileRequest{
		Provider: provider.KindSandbox, Currency: "GBP", WindowStart: now.Add(-time.Hour), WindowEnd: now,
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStatusForUnknownErrors(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(rates.ErrRateUnavailable))
	assert.Equal(t, http.StatusBadGateway, statusFor(domain.ErrProviderCommunication))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(domain.ErrRecipientLimitExceeded))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(domain.ErrGlobalDailyCapReached))
}
