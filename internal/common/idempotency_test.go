package common_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-klinik/internal/common"
)

func newIdem(t *testing.T) common.Idem {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return common.Idem{R: client, TTL: time.Minute}
}

func TestIdempotencyReplayRejected(t *testing.T) {
	idem := newIdem(t)

	var hits int
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRequest(http.MethodPost, "/finalize", nil)
	first.Header.Set("Idempotency-Key", "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, first)
	require.Equal(t, http.StatusCreated, rr.Code)

	replay := httptest.NewRequest(http.MethodPost, "/finalize", nil)
	replay.Header.Set("Idempotency-Key", "abc-123")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, replay)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "IDEMPOTENT_REPLAY")
	require.Equal(t, 1, hits)
}

func TestIdempotencyPassThroughWithoutKey(t *testing.T) {
	idem := newIdem(t)

	var hits int
	handler := idem.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))

	for range 2 {
		req := httptest.NewRequest(http.MethodPost, "/finalize", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)
	}
	require.Equal(t, 2, hits)
}
