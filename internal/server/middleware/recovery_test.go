package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/offsync/pkg/api"
)

func TestRecoveryMiddleware(t *testing.T) {
	logger, buf := bufferLogger()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		RecoveryMiddleware(logger)(next).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sync", nil))
	})

	assert.Equal(t, http.StatusInternalServerError, w.Code)

	var resp api.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "internal server error", resp.Message)
	assert.NotContains(t, w.Body.String(), "boom")
	assert.Contains(t, buf.String(), "Panic recovered")
}

func TestRecoveryMiddleware_NoPanic(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	w := httptest.NewRecorder()
	RecoveryMiddleware(setupTestLogger())(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	})

	Chain(final, mark("first"), mark("second")).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"first", "second", "handler"}, order)
}
