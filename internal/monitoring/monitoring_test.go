package monitoring

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Disabled(t *testing.T) {
	t.Run("Should return a working no-op service", func(t *testing.T) {
		svc, err := New(false)
		require.NoError(t, err)
		require.NotNil(t, svc.Meter())
		require.NotNil(t, svc.Tracer())
		require.NoError(t, svc.Shutdown(t.Context()))
	})

	t.Run("Should serve 503 from Handler when disabled", func(t *testing.T) {
		svc, err := New(false)
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestNew_Enabled(t *testing.T) {
	t.Run("Should serve Prometheus exposition format from Handler", func(t *testing.T) {
		svc, err := New(true)
		require.NoError(t, err)
		defer func() { require.NoError(t, svc.Shutdown(t.Context())) }()

		rec := httptest.NewRecorder()
		svc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	})
}
