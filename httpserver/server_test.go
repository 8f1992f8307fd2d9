package httpserver

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHealthAndDrain(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := New(&HTTPServerConfig{Log: log}, newTestAPI(t).handler)
	require.NoError(t, err)
	router := srv.getRouter()

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	require.Equal(t, http.StatusOK, get("/livez").Code)
	require.Equal(t, http.StatusOK, get("/readyz").Code)

	w := get("/drain")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"draining"}`, w.Body.String())
	require.Equal(t, http.StatusServiceUnavailable, get("/readyz").Code)
	require.JSONEq(t, `{"status":"already draining"}`, get("/drain").Body.String())

	require.JSONEq(t, `{"status":"ready"}`, get("/undrain").Body.String())
	require.Equal(t, http.StatusOK, get("/readyz").Code)

	require.Equal(t, http.StatusUnauthorized, get("/api/wallet").Code)
}
