package panelclient

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/argon-hosting/daemon/internal/argonerr"
	"github.com/stretchr/testify/require"
)

func TestFetchConfigSucceedsOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"image":"game:latest","startupCommand":"run.sh"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	cfg, err := c.FetchConfig(t.Context(), "s1")
	require.NoError(t, err)
	require.Equal(t, "game:latest", cfg.Image)
}

func TestFetchConfigRetriesThenFails(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.FetchConfig(t.Context(), "s1")
	require.Error(t, err)
	require.Equal(t, argonerr.KindPanelUnavailable, argonerr.KindOf(err))
	require.EqualValues(t, 3, atomic.LoadInt32(&attempts))
}

func TestValidateFailureIsUnvalidatedNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	result, err := c.Validate(t.Context(), "s1", "bad-token")
	require.NoError(t, err)
	require.False(t, result.Validated)
}

func TestValidateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"validated":true,"server":{"id":"s1","name":"my server"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	result, err := c.Validate(t.Context(), "s1", "good-token")
	require.NoError(t, err)
	require.True(t, result.Validated)
	require.Equal(t, "s1", result.Server.ID)
}
