package httpserver

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type pingRegistrar struct{}

func (pingRegistrar) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(&Config{
		ListenAddr:               "127.0.0.1:0",
		Log:                      slog.Default(),
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, pingRegistrar{})
	require.NoError(t, err)
	return srv
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)
	h := srv.srv.Handler

	require.Equal(t, http.StatusOK, get(t, h, "/livez").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/ping").Code)
}

func TestDrainUndrain(t *testing.T) {
	srv := newTestServer(t)
	h := srv.srv.Handler

	require.Equal(t, http.StatusOK, get(t, h, "/drain").Code)
	require.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)

	// Draining twice reports the state without flapping.
	w := get(t, h, "/drain")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "already draining")

	require.Equal(t, http.StatusOK, get(t, h, "/undrain").Code)
	require.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)
}
