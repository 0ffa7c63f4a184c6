package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() Settings {
	return Settings{
		Name:            "test",
		Address:         "127.0.0.1:0",
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		IdleTimeout:     time.Second,
		ShutdownTimeout: time.Second,
		MaxConnections:  8,
	}
}

func TestServerLifecycle(t *testing.T) {
	routes := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"path": r.URL.Path})
	})
	srv := New(testSettings(), routes)
	assert.Equal(t, StatusStarting, srv.Status())

	require.NoError(t, srv.Start(context.Background()))
	assert.Equal(t, StatusReady, srv.Status())
	assert.Error(t, srv.Start(context.Background()), "second start must fail")

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get(srv.BaseURL() + "/health")
	require.NoError(t, err)
	var health healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "test", health.Service)
	assert.Equal(t, "ready", health.Status)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	resp, err = client.Get(srv.BaseURL() + "/anything")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.JSONEq(t, `{"path":"/anything"}`, string(body))

	require.NoError(t, srv.Shutdown(context.Background()))
	assert.Equal(t, StatusStopped, srv.Status())
	assert.Empty(t, srv.Addr())
	require.NoError(t, srv.Shutdown(context.Background()), "shutdown is idempotent")
}

func TestServerRunStopsOnCancel(t *testing.T) {
	srv := New(testSettings(), http.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHealthRejectsPost(t *testing.T) {
	srv := New(testSettings(), http.NotFoundHandler())
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Header().Get("Allow"), http.MethodGet)
}

func TestRecoverTurnsPanicInto500(t *testing.T) {
	srv := New(testSettings(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
