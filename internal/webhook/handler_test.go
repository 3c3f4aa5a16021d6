package webhook

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reviewforge/engine/internal/model"
	"github.com/reviewforge/engine/internal/webhook/verify"
)

func newTestRouter(t *testing.T, svc *Service, verifier verify.Verifier) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(svc, model.MustNewID(), verifier)
	r.POST("/webhook", h.Handle)
	return r
}

func TestHandler_AcceptsVerifiedRequest(t *testing.T) {
	t.Run("Should return 200 with received=true on a verified, enqueued event", func(t *testing.T) {
		verifier, err := verify.New(verify.Config{Strategy: "none"})
		require.NoError(t, err)
		svc := NewService(&fakeEventRepo{}, &fakeEnqueuer{}, &fakeAdmitter{allow: true}, nil)
		r := newTestRouter(t, svc, verifier)

		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{"ref":"main"}`))
		req.Header.Set("x-event-type", "push")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"received":true`)
	})
}

func TestHandler_RejectsMissingEventType(t *testing.T) {
	t.Run("Should return 400 when x-event-type is absent", func(t *testing.T) {
		verifier, err := verify.New(verify.Config{Strategy: "none"})
		require.NoError(t, err)
		svc := NewService(&fakeEventRepo{}, &fakeEnqueuer{}, &fakeAdmitter{allow: true}, nil)
		r := newTestRouter(t, svc, verifier)

		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{}`))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_RejectsBadSignature(t *testing.T) {
	t.Run("Should return 401 on signature verification failure", func(t *testing.T) {
		verifier, err := verify.New(verify.Config{Strategy: "hmac", Secret: "topsecret", Header: "X-Sig"})
		require.NoError(t, err)
		svc := NewService(&fakeEventRepo{}, &fakeEnqueuer{}, &fakeAdmitter{allow: true}, nil)
		r := newTestRouter(t, svc, verifier)

		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{"ref":"main"}`))
		req.Header.Set("x-event-type", "push")
		req.Header.Set("X-Sig", "deadbeef")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandler_ReturnsServerErrorWhenVerifierUnconfigured(t *testing.T) {
	t.Run("Should return 500 rather than accept an unverifiable request", func(t *testing.T) {
		svc := NewService(&fakeEventRepo{}, &fakeEnqueuer{}, &fakeAdmitter{allow: true}, nil)
		r := newTestRouter(t, svc, nil)

		req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(`{"ref":"main"}`))
		req.Header.Set("x-event-type", "push")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
