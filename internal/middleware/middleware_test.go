package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/medication-api/pkg/errors"
	"github.com/jwalitptl/medication-api/pkg/httputil"
)

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(handlers...)
	return r
}

func serve(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) httputil.Response {
	t.Helper()
	var resp httputil.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRecoveryRendersInternalError(t *testing.T) {
	r := newEngine(RequestID(), Recovery())
	r.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := serve(r, "/panic")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	resp := decode(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "internal server error", resp.Error.Message)
	assert.NotEmpty(t, resp.Error.TraceID)
	assert.Equal(t, w.Header().Get(HeaderXRequestID), resp.Error.TraceID)
}

func TestErrorHandlerMapsAppErrors(t *testing.T) {
	r := newEngine(ErrorHandler())
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(errors.NotFound("medication", nil))
	})
	r.GET("/ok", func(c *gin.Context) {
		httputil.RespondWithSuccess(c, "fine")
	})

	w := serve(r, "/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "medication not found", decode(t, w).Error.Message)

	w = serve(r, "/ok")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.001, Burst: 2})
	r := newEngine(rl.RateLimit())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, "/").Code)
	assert.Equal(t, http.StatusOK, serve(r, "/").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, "/").Code)
}

func TestTimeoutWritesGatewayTimeout(t *testing.T) {
	r := newEngine(Timeout(TimeoutConfig{Duration: 10 * time.Millisecond}))
	r.GET("/slow", func(c *gin.Context) {
		<-c.Request.Context().Done()
	})

	w := serve(r, "/slow")
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestRequestIDKeepsCallerValue(t *testing.T) {
	r := newEngine(RequestID())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(ContextRequestID))
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderXRequestID, "abc-123")
	r.ServeHTTP(w, req)

	assert.Equal(t, "abc-123", w.Body.String())
	assert.Equal(t, "abc-123", w.Header().Get(HeaderXRequestID))
}
