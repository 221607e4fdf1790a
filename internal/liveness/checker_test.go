package liveness

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// closedURL returns the URL of a port that was listening a moment ago and is
// now closed, so dialing it is refused.
func closedURL(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	return "http://" + addr + "/v1/status"
}

func TestChecker_IsRunning(t *testing.T) {
	ctx := context.Background()
	checker := NewChecker(nil)

	t.Run("success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		running, err := checker.IsRunning(ctx, srv.URL)
		require.NoError(t, err)
		require.True(t, running)
	})

	t.Run("connection refused", func(t *testing.T) {
		running, err := checker.IsRunning(ctx, closedURL(t))
		require.NoError(t, err)
		require.False(t, running)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		running, err := checker.IsRunning(ctx, srv.URL)
		require.Error(t, err)
		require.False(t, running)

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	})

	t.Run("malformed url", func(t *testing.T) {
		running, err := checker.IsRunning(ctx, "http://local host:4000/\x7f")
		require.Error(t, err)
		require.False(t, running)
	})

	t.Run("unsupported scheme", func(t *testing.T) {
		running, err := checker.IsRunning(ctx, "ftp://localhost:4000")
		require.Error(t, err)
		require.False(t, running)
	})
}
