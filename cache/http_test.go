package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/devices":
			assert.Equal(t, "offline", r.URL.Query().Get("status"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[{"id":"d-1"}]`))
		default:
			http.Error(w, `{"code":"NOT_FOUND","message":"no route"}`, http.StatusNotFound)
		}
	}))
	defer srv.Close()

	fetch := HTTPFetcher(srv.URL+"/", nil)

	data, err := fetch(context.Background(), "/api/devices?status=offline")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"d-1"}]`, string(data))

	_, err = fetch(context.Background(), "/api/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestHTTPFetcher_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := HTTPFetcher(srv.URL, srv.Client())(ctx, "/api/alerts")
	assert.ErrorIs(t, err, context.Canceled)
}
