package httpapi

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/argon-hosting/daemon/internal/argonerr"
	"github.com/argon-hosting/daemon/internal/lifecycle"
	"github.com/argon-hosting/daemon/internal/logbuffer"
	"github.com/argon-hosting/daemon/internal/record"
	"github.com/argon-hosting/daemon/internal/session"
)

func newTestServer(t *testing.T, apiKey string) (*Server, record.Store) {
	t.Helper()
	store := record.NewMemoryStore()
	lc := lifecycle.New(store, nil, nil, nil, nil, logbuffer.NewRegistry(), t.TempDir(), slog.Default())
	hub := session.NewHub(nil, lc, nil, logbuffer.NewRegistry(), 0, slog.Default())
	return New(lc, hub, apiKey, slog.Default()), store
}

func TestRequireAPIKeyRejectsMissingHeader(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil)
	rec := httptest.NewRecorder()

	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAPIKeyAllowsMatchingHeader(t *testing.T) {
	s, _ := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()

	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAPIKeyDisabledWhenEmpty(t *testing.T) {
	s, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil)
	rec := httptest.NewRecorder()

	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleGetReturns404ForMissingServer(t *testing.T) {
	s, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/v1/servers/does-not-exist", nil)
	rec := httptest.NewRecorder()

	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleGetReturnsServer(t *testing.T) {
	s, store := newTestServer(t, "")
	require.NoError(t, store.Create(t.Context(), &record.ServerRecord{ID: "srv-1", Name: "box", State: record.StateInstalled}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/servers/srv-1", nil)
	rec := httptest.NewRecorder()

	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"box"`)
}

func TestHandleDeleteNoContent(t *testing.T) {
	s, store := newTestServer(t, "")
	require.NoError(t, store.Create(t.Context(), &record.ServerRecord{ID: "srv-2", State: record.StateInstalled}))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/servers/srv-2", nil)
	rec := httptest.NewRecorder()

	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHandleCreateRejectsInvalidBody(t *testing.T) {
	s, _ := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/servers", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePowerRejectsUnknownAction(t *testing.T) {
	s, store := newTestServer(t, "")
	require.NoError(t, store.Create(t.Context(), &record.ServerRecord{ID: "srv-3", State: record.StateRunning}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/servers/srv-3/power/dance", nil)
	rec := httptest.NewRecorder()

	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWriteKindErrorMapsArgonerrKinds(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{argonerr.Newf(argonerr.KindRecordNotFound, "server %s", "srv-1"), http.StatusNotFound},
		{argonerr.Newf(argonerr.KindInvalidTransition, "bad transition"), http.StatusBadRequest},
		{argonerr.VariableRuleViolation("port", "max:5"), http.StatusBadRequest},
		{argonerr.UnknownCargo("plugins/foo.jar"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeKindError(rec, tt.err)
		require.Equal(t, tt.want, rec.Code)
	}
}
