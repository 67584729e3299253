package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bodyf1rst/billing-backend/pkg/enums"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value.(string)
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value.(string)
	f.ttls[key] = ttl
	return nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.data, key)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

type idempotencyHarness struct {
	router *chi.Mux
	store  *fakeStore
	calls  int
	status int
	token  string
}

func newIdempotencyHarness(t *testing.T) *idempotencyHarness {
	h := &idempotencyHarness{store: newFakeStore(), status: http.StatusCreated}
	h.token = mintTestToken(t, uuid.New(), enums.RoleCoach)

	handler := func(w http.ResponseWriter, r *http.Request) {
		h.calls++
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(h.status)
		fmt.Fprintf(w, `{"call":%d,"echo":%q}`, h.calls, body)
	}

	r := chi.NewRouter()
	r.Use(Auth(testJWT, nil))
	r.Route("/coach", func(r chi.Router) {
		r.With(Idempotency(h.store, nil)).Post("/payout", handler)
		r.With(Idempotency(h.store, nil)).Post("/connect-stripe", handler)
	})
	h.router = r
	return h
}

func (h *idempotencyHarness) do(path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+h.token)
	if key != "" {
		req.Header.Set(IdempotencyKeyHeader, key)
	}
	resp := httptest.NewRecorder()
	h.router.ServeHTTP(resp, req)
	return resp
}

func TestIdempotencyReplaysCompletedResponse(t *testing.T) {
	h := newIdempotencyHarness(t)

	first := h.do("/coach/payout", "key-1", `{"amount":"50.00"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := h.do("/coach/payout", "key-1", `{"amount":"50.00"}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get(replayedHeader))
	assert.Equal(t, 1, h.calls)

	for key, ttl := range h.store.ttls {
		assert.Equal(t, payoutKeysTTL, ttl, key)
	}
}

func TestIdempotencyRejectsDifferentBody(t *testing.T) {
	h := newIdempotencyHarness(t)
	require.Equal(t, http.StatusCreated, h.do("/coach/payout", "key-1", `{"amount":"50.00"}`).Code)

	resp := h.do("/coach/payout", "key-1", `{"amount":"500.00"}`)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Contains(t, resp.Body.String(), "IDEMPOTENCY_KEY_REUSED")
	assert.Equal(t, 1, h.calls)
}

func TestIdempotencyRequiresKey(t *testing.T) {
	h := newIdempotencyHarness(t)
	resp := h.do("/coach/payout", "", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
	assert.Zero(t, h.calls)

	resp = h.do("/coach/payout", strings.Repeat("k", maxIdempotencyKey+1), `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestIdempotencyRejectsInflightDuplicate(t *testing.T) {
	h := newIdempotencyHarness(t)
	key := h.store.IdempotencyKey(fmt.Sprintf("%s|POST|/coach/payout", claimsUser(t, h.token)), "key-1")
	h.store.data[key] = `{"request_hash":"` + hashBody([]byte(`{}`)) + `","pending":true}`

	resp := h.do("/coach/payout", "key-1", `{}`)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Zero(t, h.calls)
}

func TestIdempotencyReleasesKeyOnServerError(t *testing.T) {
	h := newIdempotencyHarness(t)
	h.status = http.StatusBadGateway
	require.Equal(t, http.StatusBadGateway, h.do("/coach/payout", "key-1", `{}`).Code)
	assert.Empty(t, h.store.data)

	h.status = http.StatusCreated
	require.Equal(t, http.StatusCreated, h.do("/coach/payout", "key-1", `{}`).Code)
	assert.Equal(t, 2, h.calls)
}

func TestIdempotencyIgnoresOtherRoutes(t *testing.T) {
	h := newIdempotencyHarness(t)
	require.Equal(t, http.StatusCreated, h.do("/coach/connect-stripe", "", `{}`).Code)
	require.Equal(t, http.StatusCreated, h.do("/coach/connect-stripe", "", `{}`).Code)
	assert.Equal(t, 2, h.calls)
	assert.Empty(t, h.store.data)
}

func claimsUser(t *testing.T, token string) string {
	t.Helper()
	var id uuid.UUID
	handler := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id = UserIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return id.String()
}
