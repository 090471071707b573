package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"stream-resolver-go/pkg/config"
	"stream-resolver-go/pkg/logging"
	"stream-resolver-go/pkg/middleware"
)

func newTestServer(password string) *Server {
	cfg := config.Defaults()
	cfg.APIPassword = password
	s := New(cfg, logging.Discard())
	s.Router().Get("/resolve", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.Router().Get("/proxy", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.Router().Get("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	return s
}

func TestHandler_MiddlewareStack(t *testing.T) {
	h := newTestServer("").Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resolve", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/resolve", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandler_Auth(t *testing.T) {
	h := newTestServer("secret").Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resolve", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/resolve?api_password=secret", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	// players cannot attach credentials to segment requests
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/proxy", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestShutdown_NotStarted(t *testing.T) {
	assert.NoError(t, newTestServer("").Shutdown(t.Context()))
}
