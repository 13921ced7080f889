package quota

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentilytics/sentilytics/internal/auth"
	"github.com/sentilytics/sentilytics/internal/ledger"
	inats "github.com/sentilytics/sentilytics/internal/nats"
)

type stubPurchases struct {
	mu        sync.Mutex
	rows      map[string]*Purchase
	abandoned int
}

func newStubPurchases() *stubPurchases {
	return &stubPurchases{rows: map[string]*Purchase{}}
}

func (s *stubPurchases) Begin(_ context.Context, p *Purchase) (PurchaseState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.rows[p.Reference]; ok {
		userID := p.UserID
		*p = *existing
		return existingState(p, userID)
	}
	p.Status = purchaseStatusPending
	p.CreatedAt = time.Now()
	row := *p
	s.rows[p.Reference] = &row
	return PurchaseNew, nil
}

func (s *stubPurchases) Complete(_ context.Context, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[reference]; ok && row.Status == purchaseStatusPending {
		now := time.Now()
		row.Status = purchaseStatusCompleted
		row.CompletedAt = &now
	}
	return nil
}

func (s *stubPurchases) Abandon(_ context.Context, reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.rows[reference]; ok && row.Status == purchaseStatusPending {
		delete(s.rows, reference)
		s.abandoned++
	}
	return nil
}

func (s *stubPurchases) ListByUser(_ context.Context, userID string, limit int) ([]Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Purchase, 0)
	for _, row := range s.rows {
		if row.UserID == userID && len(out) < limit {
			out = append(out, *row)
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []inats.AuditEvent
}

func (p *recordingPublisher) PublishAuditEvent(_ context.Context, event inats.AuditEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type fixture struct {
	handler   *Handler
	store     *ledger.RedisStore
	mr        *miniredis.Miniredis
	purchases *stubPurchases
	events    *recordingPublisher
}

func setup(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := ledger.NewRedisStore(rdb)
	l := ledger.New(store, ledger.DefaultCostTable())
	f := &fixture{
		store:     store,
		mr:        mr,
		purchases: newStubPurchases(),
		events:    &recordingPublisher{},
	}
	f.handler = NewHandler(l, f.purchases, WithPublisher(f.events))
	return f
}

func asUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: userID, Method: auth.MethodSession}))
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func TestStatus_ProvisionsOnFirstVisit(t *testing.T) {
	f := setup(t)

	rec := httptest.NewRecorder()
	f.handler.Status(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil), "new-user"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		MaxRequests     int               `json:"max_requests"`
		RequestsUsed    int               `json:"requests_used"`
		Remaining       int               `json:"remaining"`
		QuotaCosts      map[string]int    `json:"quota_costs"`
		CanAfford       map[string]int    `json:"can_afford"`
		UsagePercentage int               `json:"usage_percentage"`
		Level           string            `json:"level"`
		Recommendations map[string]string `json:"recommendations"`
	}
	decodeData(t, rec, &body)

	assert.Equal(t, 10, body.MaxRequests)
	assert.Equal(t, 10, body.Remaining)
	assert.Equal(t, 2, body.QuotaCosts["live_detection"])
	assert.Equal(t, 5, body.CanAfford["pdf_analysis"])
	assert.Equal(t, 0, body.UsagePercentage)
	assert.Equal(t, "medium", body.Level)
	assert.Equal(t, "available", body.Recommendations["sentiment_analysis"])
}

func TestStatus_Exhausted(t *testing.T) {
	f := setup(t)
	_, err := f.store.Create(context.Background(), &ledger.Record{
		UserID: "spent", MaxRequests: 10, RequestsUsed: 9, ResetDate: time.Now(), SecretKey: ledger.SecretKeyPrefix + "spent",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	f.handler.Status(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil), "spent"))
	require.Equal(t, http.StatusOK, rec.Code)

	var body StatusResponse
	decodeData(t, rec, &body)
	assert.Equal(t, 90, body.UsagePercentage)
	assert.Equal(t, "low", body.Level)
	assert.Equal(t, "insufficient_quota", body.Recommendations["live_detection"])
}

func TestStatus_StoreDown(t *testing.T) {
	f := setup(t)
	f.mr.Close()

	rec := httptest.NewRecorder()
	f.handler.Status(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil), "u"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStatus_Unauthenticated(t *testing.T) {
	f := setup(t)
	rec := httptest.NewRecorder()
	f.handler.Status(rec, httptest.NewRequest(http.MethodGet, "/api/v1/quota", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKey_Stable(t *testing.T) {
	f := setup(t)

	fetch := func() string {
		rec := httptest.NewRecorder()
		f.handler.APIKey(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/quota/api-key", nil), "keyholder"))
		require.Equal(t, http.StatusOK, rec.Code)
		var body APIKeyResponse
		decodeData(t, rec, &body)
		return body.APIKey
	}

	first := fetch()
	assert.True(t, ledger.LooksLikeSecretKey(first))
	assert.Equal(t, first, fetch())
}

func grant(t *testing.T, f *fixture, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.Grant(rec, httptest.NewRequest(http.MethodPost, "/api/v1/internal/grants", strings.NewReader(body)))
	return rec
}

func TestGrant(t *testing.T) {
	t.Run("plan stacks by default", func(t *testing.T) {
		f := setup(t)
		_, err := f.store.Create(context.Background(), &ledger.Record{
			UserID: "buyer", MaxRequests: 30, RequestsUsed: 10, ResetDate: time.Now(), SecretKey: ledger.SecretKeyPrefix + "buyer",
		})
		require.NoError(t, err)

		rec := grant(t, f, `{"user_id":"buyer","plan":"Basic"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var body GrantResponse
		decodeData(t, rec, &body)
		assert.Equal(t, 30, body.Credited)
		assert.Equal(t, "stack", body.Mode)
		assert.Equal(t, 60, body.MaxRequests)
		assert.Equal(t, 10, body.RequestsUsed)
		assert.Equal(t, 50, body.Remaining)
	})

	t.Run("replace resets usage", func(t *testing.T) {
		f := setup(t)
		_, err := f.store.Create(context.Background(), &ledger.Record{
			UserID: "buyer", MaxRequests: 30, RequestsUsed: 10, ResetDate: time.Now(), SecretKey: ledger.SecretKeyPrefix + "buyer",
		})
		require.NoError(t, err)

		rec := grant(t, f, `{"user_id":"buyer","credits":50,"mode":"replace"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var body GrantResponse
		decodeData(t, rec, &body)
		assert.Equal(t, 50, body.MaxRequests)
		assert.Equal(t, 0, body.RequestsUsed)
	})

	t.Run("reference applies once", func(t *testing.T) {
		f := setup(t)

		body := `{"user_id":"payer","plan":"professional","reference":"cs_test_1","amount":2900,"currency":"USD"}`
		rec := grant(t, f, body)
		require.Equal(t, http.StatusOK, rec.Code)
		rec = grant(t, f, body)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "already applied")

		got, err := f.store.Get(context.Background(), "payer")
		require.NoError(t, err)
		assert.Equal(t, 100, got.MaxRequests)

		require.Len(t, f.purchases.rows, 1)
		p := f.purchases.rows["cs_test_1"]
		assert.Equal(t, purchaseStatusCompleted, p.Status)
		assert.Equal(t, "professional", p.PlanType)
		assert.Equal(t, 100, p.CreditsGranted)
		assert.EqualValues(t, 2900, p.Amount)
		assert.Equal(t, "usd", p.Currency)
		assert.NotNil(t, p.CompletedAt)

		require.Len(t, f.events.events, 1)
		ev := f.events.events[0]
		assert.Equal(t, "credits_granted", ev.EventType)
		assert.Equal(t, "payer", ev.OwnerUserID)
		assert.Equal(t, "credits_granted:cs_test_1", ev.MsgID())
	})

	t.Run("pending reference is not reported as applied", func(t *testing.T) {
		f := setup(t)
		_, err := f.purchases.Begin(context.Background(), &Purchase{
			Reference: "cs_busy", UserID: "payer", CreditsGranted: 30, Mode: "stack",
		})
		require.NoError(t, err)

		rec := grant(t, f, `{"user_id":"payer","plan":"basic","reference":"cs_busy"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), "in progress")

		_, err = f.store.Get(context.Background(), "payer")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		assert.Empty(t, f.events.events)
	})

	t.Run("failed grant can be retried", func(t *testing.T) {
		f := setup(t)
		body := `{"user_id":"payer","plan":"basic","reference":"cs_retry"}`

		f.mr.SetError("LOADING dataset in memory")
		rec := grant(t, f, body)
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, 1, f.purchases.abandoned)
		assert.Empty(t, f.purchases.rows)

		f.mr.SetError("")
		rec = grant(t, f, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		got, err := f.store.Get(context.Background(), "payer")
		require.NoError(t, err)
		assert.Equal(t, 30, got.MaxRequests)
		assert.Equal(t, purchaseStatusCompleted, f.purchases.rows["cs_retry"].Status)
	})

	t.Run("reference reused for another user", func(t *testing.T) {
		f := setup(t)
		require.Equal(t, http.StatusOK, grant(t, f, `{"user_id":"alice","plan":"basic","reference":"cs_shared"}`).Code)

		rec := grant(t, f, `{"user_id":"bob","plan":"basic","reference":"cs_shared"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		_, err := f.store.Get(context.Background(), "bob")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("grant without reference is not recorded", func(t *testing.T) {
		f := setup(t)
		require.Equal(t, http.StatusOK, grant(t, f, `{"user_id":"u","credits":5}`).Code)
		assert.Empty(t, f.purchases.rows)
		require.Len(t, f.events.events, 1)
		assert.NotEmpty(t, f.events.events[0].ResourceID)
	})

	t.Run("validation", func(t *testing.T) {
		f := setup(t)
		cases := map[string]string{
			"no user":        `{"credits":10}`,
			"nothing":        `{"user_id":"u"}`,
			"both":           `{"user_id":"u","credits":10,"plan":"basic"}`,
			"unknown plan":   `{"user_id":"u","plan":"gold"}`,
			"bad mode":       `{"user_id":"u","credits":10,"mode":"double"}`,
			"negative":       `{"user_id":"u","credits":-5}`,
			"bad currency":   `{"user_id":"u","credits":5,"currency":"dollars"}`,
			"malformed json": `{"user_id":`,
		}
		for name, body := range cases {
			rec := grant(t, f, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, name)
		}
	})
}

func TestPurchases(t *testing.T) {
	f := setup(t)
	require.Equal(t, http.StatusOK, grant(t, f, `{"user_id":"buyer","plan":"enterprise","reference":"cs_1"}`).Code)
	require.Equal(t, http.StatusOK, grant(t, f, `{"user_id":"other","plan":"basic","reference":"cs_2"}`).Code)

	rec := httptest.NewRecorder()
	f.handler.Purchases(rec, asUser(httptest.NewRequest(http.MethodGet, "/api/v1/quota/purchases", nil), "buyer"))
	require.Equal(t, http.StatusOK, rec.Code)

	var got []Purchase
	decodeData(t, rec, &got)
	require.Len(t, got, 1)
	assert.Equal(t, "cs_1", got[0].Reference)
	assert.Equal(t, 1000, got[0].CreditsGranted)

	rec = httptest.NewRecorder()
	f.handler.Purchases(rec, httptest.NewRequest(http.MethodGet, "/api/v1/quota/purchases", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExistingState(t *testing.T) {
	_, err := existingState(&Purchase{UserID: "alice", Status: purchaseStatusCompleted}, "bob")
	assert.ErrorIs(t, err, ErrReferenceMismatch)

	state, err := existingState(&Purchase{UserID: "alice", Status: purchaseStatusCompleted}, "alice")
	require.NoError(t, err)
	assert.Equal(t, PurchaseCompleted, state)

	state, err = existingState(&Purchase{UserID: "alice", Status: purchaseStatusPending}, "alice")
	require.NoError(t, err)
	assert.Equal(t, PurchasePending, state)
}
