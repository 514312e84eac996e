package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ruleflow/engine/internal/engine"
	"github.com/ruleflow/engine/internal/repository"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	repo := repository.NewMemoryRepository()
	eng := engine.New(repo)
	require.NoError(t, eng.Build(context.Background()))
	return eng
}

func TestHandleHealthReportsEngineState(t *testing.T) {
	srv := &server{eng: newTestEngine(t)}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.NotEmpty(t, body["state"])
}

func TestHandleDecideRejectsMissingEvent(t *testing.T) {
	srv := &server{eng: newTestEngine(t)}

	req := httptest.NewRequest(http.MethodPost, "/v1/decide", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	srv.handleDecide(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleDecideRejectsInvalidJSON(t *testing.T) {
	srv := &server{eng: newTestEngine(t)}

	req := httptest.NewRequest(http.MethodPost, "/v1/decide", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	srv.handleDecide(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

// An empty repository's registry never matches, which is a defined "no
// pipeline" outcome (not an error) per Engine.Decide's routing semantics.
func TestHandleDecideNoMatchingPipelineSucceeds(t *testing.T) {
	srv := &server{eng: newTestEngine(t)}

	body := `{"event": {"type": "login"}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/decide", bytes.NewReader([]byte(body)))
	w := httptest.NewRecorder()
	srv.handleDecide(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp engine.DecideResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.False(t, resp.Matched)
}

func TestHandleReloadRebuildsCatalog(t *testing.T) {
	srv := &server{eng: newTestEngine(t)}

	req := httptest.NewRequest(http.MethodPost, "/v1/reload", nil)
	w := httptest.NewRecorder()
	srv.handleReload(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Equal(t, "reloaded", body["status"])
}

func TestStatusRecorderCapturesWrittenCode(t *testing.T) {
	w := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	rec.WriteHeader(http.StatusTeapot)

	require.Equal(t, http.StatusTeapot, rec.status)
	require.Equal(t, http.StatusTeapot, w.Code)
}

func TestWithLoggingPassesThroughHandler(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	handler := withLogging(inner)

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
}
